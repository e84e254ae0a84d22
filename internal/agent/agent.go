// Package agent is the receiving end of the chunked transport. It runs
// compile actions against the server named in each message and returns the
// outcome as a reply code.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/semaphore"

	"github.com/shehryarbajwa/texbridge/internal/compiler"
	"github.com/shehryarbajwa/texbridge/internal/transport"
	"github.com/shehryarbajwa/texbridge/pkg/models"
)

// Actions understood by the agent
const (
	ActionCompileFull  = "compile-full"
	ActionCompileDelta = "compile-delta"
)

// Meta keys carried alongside a compile payload
const (
	MetaServer    = "server"
	MetaToken     = "token"
	MetaProjectID = "projectId"
	MetaEngine    = "engine"
	MetaMainFile  = "mainFile"
	MetaDeleted   = "deletedFiles"
	MetaLog       = "log"
)

// ErrBusy means another compile of the same project is in flight
var ErrBusy = errors.New("compile already in progress")

// Agent runs compile actions. At most one compile per project is in flight;
// a second request for the same project is rejected as busy.
type Agent struct {
	Logger *log.Logger

	mu       sync.Mutex
	guards   map[string]*semaphore.Weighted
	inFlight int
}

func New() *Agent {
	return &Agent{guards: make(map[string]*semaphore.Weighted)}
}

func (a *Agent) logger() *log.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return log.Default()
}

// acquire takes the project's compile slot
func (a *Agent) acquire(projectID string) bool {
	a.mu.Lock()
	sem, exists := a.guards[projectID]
	if !exists {
		sem = semaphore.NewWeighted(1)
		a.guards[projectID] = sem
	}
	a.mu.Unlock()

	if !sem.TryAcquire(1) {
		return false
	}
	a.mu.Lock()
	a.inFlight++
	a.mu.Unlock()
	return true
}

func (a *Agent) release(projectID string) {
	a.mu.Lock()
	sem := a.guards[projectID]
	a.inFlight--
	a.mu.Unlock()

	if sem != nil {
		sem.Release(1)
	}
}

// InFlight returns the number of projects with a compile running
func (a *Agent) InFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inFlight
}

// HandleAction implements transport.Handler
func (a *Agent) HandleAction(ctx context.Context, action string, payload []byte, meta map[string]string) transport.Reply {
	projectID := meta[MetaProjectID]
	if projectID == "" {
		return failure(errors.New("projectId is required"))
	}

	client, err := compiler.NewClient(meta[MetaServer], meta[MetaToken])
	if err != nil {
		return failure(err)
	}

	if !a.acquire(projectID) {
		return transport.Reply{
			Code:  string(models.OutcomeBusy),
			Error: fmt.Sprintf("a compile is already running for project %s", projectID),
		}
	}
	defer a.release(projectID)

	var pdf []byte
	switch action {
	case ActionCompileFull:
		var req models.CompileRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return failure(fmt.Errorf("invalid compile request: %w", err))
		}
		req.ProjectID = projectID
		a.logger().Printf("🔨 Full compile of %s on %s (%d files)", projectID, client.BaseURL(), len(req.Files)+len(req.BinaryFiles))
		pdf, err = client.Compile(ctx, req)

	case ActionCompileDelta:
		var deleted []string
		if raw := meta[MetaDeleted]; raw != "" {
			if err := json.Unmarshal([]byte(raw), &deleted); err != nil {
				return failure(fmt.Errorf("invalid deleted files list: %w", err))
			}
		}
		a.logger().Printf("🔨 Delta compile of %s on %s (%s archive, %d deleted)",
			projectID, client.BaseURL(), humanize.IBytes(uint64(len(payload))), len(deleted))
		pdf, err = client.CompileDelta(ctx, compiler.DeltaRequest{
			ProjectID: projectID,
			Engine:    meta[MetaEngine],
			MainFile:  meta[MetaMainFile],
			Archive:   payload,
			Deleted:   deleted,
		})

	default:
		return failure(fmt.Errorf("unknown action %q", action))
	}

	if err != nil {
		a.logger().Printf("❌ Compile of %s failed: %v", projectID, err)
		return failure(err)
	}
	a.logger().Printf("✅ Compiled %s (%s)", projectID, humanize.IBytes(uint64(len(pdf))))
	return transport.Reply{OK: true, Code: string(models.OutcomeOK), Data: pdf}
}

// failure encodes a compile error as a reply. Compile failures keep their
// server message and log so the sender can rebuild them.
func failure(err error) transport.Reply {
	reply := transport.Reply{Code: string(compiler.Outcome(err)), Error: err.Error()}
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		reply.Error = compileErr.Message
		reply.Meta = map[string]string{MetaLog: compileErr.Log}
	}
	return reply
}

// ReplyError turns a reply into the error the compile call produced,
// or nil for a successful reply.
func ReplyError(reply transport.Reply) error {
	if reply.OK {
		return nil
	}
	code := models.OutcomeCode(reply.Code)
	if code == models.OutcomeBusy {
		return fmt.Errorf("%w: %s", ErrBusy, reply.Error)
	}
	if code == "" {
		code = models.OutcomeError
	}
	return compiler.FromOutcome(code, reply.Error, reply.Meta[MetaLog])
}
