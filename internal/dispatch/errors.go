package dispatch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shehryarbajwa/texbridge/internal/compiler"
)

// Kind classifies a terminal dispatch failure
type Kind string

const (
	KindExtraction  Kind = "extraction"
	KindSync        Kind = "sync"
	KindUnavailable Kind = "unavailable"
	KindTransport   Kind = "transport"
	KindProtocol    Kind = "protocol"
	KindCompile     Kind = "compile"
	KindInvalidated Kind = "invalidated"
	KindBusy        Kind = "busy"
)

// Error is a terminal failure of one compile invocation
type Error struct {
	Kind  Kind
	State State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed in %s: %v", e.Kind, e.State, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UserMessage renders the failure for display
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindExtraction:
		return fmt.Sprintf("Could not read the project files: %v", e.Err)
	case KindSync:
		return fmt.Sprintf("Could not compute the project changes: %v", e.Err)
	case KindUnavailable:
		return fmt.Sprintf("No compile server is available (%v). Start the local server or configure a cloud server.", e.Err)
	case KindProtocol:
		return fmt.Sprintf("The server rejected the project state even after a full resync: %v", e.Err)
	case KindCompile:
		var ce *compiler.CompileError
		if errors.As(e.Err, &ce) && strings.TrimSpace(ce.Log) != "" {
			return fmt.Sprintf("%v\n\n%s", ce, ce.Log)
		}
		return e.Err.Error()
	case KindInvalidated:
		return "The agent was restarted while compiling. Reconnect and start a new compile instead of retrying."
	case KindBusy:
		return "A compile is already running for this project."
	default:
		return fmt.Sprintf("Could not reach the compile server: %v", e.Err)
	}
}
