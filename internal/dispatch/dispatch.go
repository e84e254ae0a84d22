// Package dispatch runs one compile request end to end: extract the
// project, compute the delta, pick a server, send the request and recover
// from delta protocol failures with a single full compile.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/dustin/go-humanize"

	"github.com/shehryarbajwa/texbridge/internal/agent"
	"github.com/shehryarbajwa/texbridge/internal/compiler"
	"github.com/shehryarbajwa/texbridge/internal/delta"
	"github.com/shehryarbajwa/texbridge/internal/extract"
	"github.com/shehryarbajwa/texbridge/internal/selector"
	"github.com/shehryarbajwa/texbridge/internal/transport"
	"github.com/shehryarbajwa/texbridge/pkg/models"
)

// State is a step of one compile invocation
type State string

const (
	StateIdle         State = "IDLE"
	StateExtracting   State = "EXTRACTING"
	StateSyncing      State = "SYNCING"
	StateSelecting    State = "SELECTING_SERVER"
	StateTransporting State = "TRANSPORTING"
	StateAwaiting     State = "AWAITING_RESULT"
	StateRecovering   State = "RECOVERING"
	StateDone         State = "DONE"
	StateFailed       State = "FAILED"
)

// maxRecoveries bounds delta to full retries per invocation
const maxRecoveries = 1

// Config is read once at the start of every invocation
type Config struct {
	Policy selector.Policy
	Engine string
}

// Request names the project to compile
type Request struct {
	ProjectID string
	MainFile  string
	Engine    string
}

// Result is a successful compile
type Result struct {
	PDF        []byte
	ServerMode models.ServerMode
	ServerURL  string
	Fallback   bool
	Recovered  bool
	Changed    int
	Deleted    int
}

// Dispatcher wires the compile pipeline. Archive is used when set, Tree
// otherwise.
type Dispatcher struct {
	Archive  extract.Extractor
	Tree     extract.Extractor
	Sync     *delta.Synchronizer
	Selector *selector.Selector
	Sender   *transport.Sender
	Config   func() Config

	// OnState observes every transition
	OnState func(State)
	// OnNotice receives informational messages such as fallback and
	// recovery notices
	OnNotice func(string)
	Logger   *log.Logger
}

func (d *Dispatcher) logger() *log.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return log.Default()
}

func (d *Dispatcher) notice(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	d.logger().Print(msg)
	if d.OnNotice != nil {
		d.OnNotice(msg)
	}
}

func (d *Dispatcher) extractor() (extract.Extractor, error) {
	if d.Archive != nil {
		return d.Archive, nil
	}
	if d.Tree != nil {
		return d.Tree, nil
	}
	return nil, errors.New("no project extractor configured")
}

type attempt int

const (
	attemptDelta attempt = iota
	attemptFull
)

// invocation is the mutable state of one Compile call
type invocation struct {
	req        Request
	cfg        Config
	state      State
	mode       attempt
	recoveries int
	cleared    bool

	snap      *models.ProjectSnapshot
	payload   *models.DeltaPayload
	selection selector.Selection
	reply     transport.Reply
	sendErr   error
	result    *Result
}

// Compile runs one invocation. It is not reentrant for the same project;
// callers serialize compiles per project.
func (d *Dispatcher) Compile(ctx context.Context, req Request) (*Result, error) {
	inv := &invocation{req: req, state: StateIdle, mode: attemptDelta}
	if d.Config != nil {
		inv.cfg = d.Config()
	}
	if inv.req.Engine == "" {
		inv.req.Engine = inv.cfg.Engine
	}
	if inv.req.ProjectID == "" {
		return nil, &Error{Kind: KindExtraction, State: StateIdle, Err: errors.New("project id is required")}
	}

	d.transition(inv, StateExtracting)
	for {
		var err *Error
		switch inv.state {
		case StateExtracting:
			err = d.extract(ctx, inv)
		case StateSyncing:
			err = d.sync(inv)
		case StateSelecting:
			err = d.selectServer(ctx, inv)
		case StateTransporting:
			d.send(ctx, inv)
		case StateAwaiting:
			err = d.await(inv)
		case StateRecovering:
			err = d.recoverFull(inv)
		case StateDone:
			return inv.result, nil
		default:
			return nil, &Error{Kind: KindTransport, State: inv.state, Err: fmt.Errorf("unexpected state %s", inv.state)}
		}
		if err != nil {
			d.transition(inv, StateFailed)
			return nil, err
		}
	}
}

func (d *Dispatcher) transition(inv *invocation, next State) {
	inv.state = next
	if d.OnState != nil {
		d.OnState(next)
	}
}

func (d *Dispatcher) extract(ctx context.Context, inv *invocation) *Error {
	ex, err := d.extractor()
	if err == nil {
		inv.snap, err = ex.Extract(ctx, inv.req.ProjectID)
	}
	if err != nil {
		return &Error{Kind: KindExtraction, State: StateExtracting, Err: err}
	}
	d.transition(inv, StateSyncing)
	return nil
}

func (d *Dispatcher) sync(inv *invocation) *Error {
	payload, err := d.Sync.Sync(inv.snap)
	if err != nil {
		return &Error{Kind: KindSync, State: StateSyncing, Err: err}
	}
	inv.payload = payload
	if !payload.HasChanges {
		d.logger().Printf("No changes in %s, sending empty delta", inv.req.ProjectID)
	}
	d.transition(inv, StateSelecting)
	return nil
}

func (d *Dispatcher) selectServer(ctx context.Context, inv *invocation) *Error {
	sel, err := d.Selector.Select(ctx, inv.cfg.Policy)
	if err != nil {
		// The record already reflects a state the server never received.
		d.reset(inv)
		return &Error{Kind: KindUnavailable, State: StateSelecting, Err: err}
	}
	inv.selection = sel
	if sel.Notify {
		d.notice("☁️ Local server is offline, using cloud server %s", sel.Server.URL)
	}
	if !sel.Server.Supports(inv.req.Engine) {
		d.logger().Printf("⚠️ %s does not advertise %s, the server default will be used", sel.Server.URL, inv.req.Engine)
	}
	d.transition(inv, StateTransporting)
	return nil
}

func (d *Dispatcher) send(ctx context.Context, inv *invocation) {
	inv.reply, inv.sendErr = transport.Reply{}, nil

	action, payload, meta, err := d.buildMessage(inv)
	if err != nil {
		inv.sendErr = err
		d.transition(inv, StateAwaiting)
		return
	}

	d.logger().Printf("📤 Sending %s for %s to %s server (%s)",
		action, inv.req.ProjectID, inv.selection.Server.Mode, humanize.IBytes(uint64(len(payload))))
	inv.reply, inv.sendErr = d.Sender.Send(ctx, action, payload, meta)
	d.transition(inv, StateAwaiting)
}

func (d *Dispatcher) buildMessage(inv *invocation) (string, []byte, map[string]string, error) {
	server := inv.selection.Server
	meta := map[string]string{
		agent.MetaServer:    server.URL,
		agent.MetaProjectID: inv.req.ProjectID,
		agent.MetaEngine:    inv.req.Engine,
	}
	if server.AuthToken != "" {
		meta[agent.MetaToken] = server.AuthToken
	}
	if inv.req.MainFile != "" {
		meta[agent.MetaMainFile] = inv.req.MainFile
	}

	if inv.mode == attemptFull {
		body, err := json.Marshal(models.CompileRequest{
			Files:       inv.snap.Files,
			BinaryFiles: inv.snap.BinaryFiles,
			MainFile:    inv.req.MainFile,
			Engine:      inv.req.Engine,
			ProjectID:   inv.req.ProjectID,
		})
		return agent.ActionCompileFull, body, meta, err
	}

	archive, err := compiler.BuildDeltaArchive(inv.payload)
	if err != nil {
		return "", nil, nil, err
	}
	deleted, err := json.Marshal(inv.payload.DeletedFiles)
	if err != nil {
		return "", nil, nil, err
	}
	meta[agent.MetaDeleted] = string(deleted)
	return agent.ActionCompileDelta, archive, meta, nil
}

// await interprets the outcome of the last send and picks the next state
func (d *Dispatcher) await(inv *invocation) *Error {
	err := inv.sendErr
	if err == nil {
		err = agent.ReplyError(inv.reply)
	}

	if err == nil {
		if inv.mode == attemptFull {
			d.commit(inv)
		}
		inv.result = &Result{
			PDF:        inv.reply.Data,
			ServerMode: inv.selection.Server.Mode,
			ServerURL:  inv.selection.Server.URL,
			Fallback:   inv.selection.Fallback,
			Recovered:  inv.recoveries > 0,
		}
		if inv.mode == attemptFull {
			inv.result.Changed = inv.snap.Len()
		} else {
			inv.result.Changed = len(inv.payload.ChangedFiles) + len(inv.payload.ChangedBinary)
			inv.result.Deleted = len(inv.payload.DeletedFiles)
		}
		d.transition(inv, StateDone)
		return nil
	}

	var compileErr *compiler.CompileError
	switch {
	case errors.Is(err, transport.ErrContextInvalidated):
		d.reset(inv)
		return &Error{Kind: KindInvalidated, State: StateAwaiting, Err: err}
	case errors.Is(err, agent.ErrBusy):
		if inv.mode == attemptDelta {
			d.reset(inv)
		}
		return &Error{Kind: KindBusy, State: StateAwaiting, Err: err}
	case errors.As(err, &compileErr):
		// The server applied the files before compiling, so its state
		// matches the snapshot. Retrying would fail the same way.
		if inv.mode == attemptFull {
			d.commit(inv)
		}
		return &Error{Kind: KindCompile, State: StateAwaiting, Err: err}
	}

	if inv.mode == attemptDelta && inv.recoveries < maxRecoveries {
		inv.sendErr = err
		d.transition(inv, StateRecovering)
		return nil
	}

	d.reset(inv)
	kind := KindTransport
	if errors.Is(err, compiler.ErrCacheMiss) || errors.Is(err, compiler.ErrEndpointMissing) {
		kind = KindProtocol
	}
	return &Error{Kind: kind, State: StateAwaiting, Err: err}
}

func (d *Dispatcher) recoverFull(inv *invocation) *Error {
	cause := inv.sendErr
	inv.recoveries++
	inv.mode = attemptFull

	if err := d.Sync.Reset(inv.req.ProjectID); err != nil {
		return &Error{Kind: KindSync, State: StateRecovering, Err: err}
	}
	inv.cleared = true

	switch {
	case errors.Is(cause, compiler.ErrEndpointMissing):
		d.notice("ℹ️ Server does not support incremental compiles, sending the full project")
	case errors.Is(cause, compiler.ErrCacheMiss):
		d.notice("ℹ️ Server cache is empty for %s, sending the full project", inv.req.ProjectID)
	default:
		d.notice("ℹ️ Incremental compile failed (%v), retrying with the full project", cause)
	}
	d.transition(inv, StateTransporting)
	return nil
}

// commit records the full snapshot as the server's state. A failure only
// costs a larger delta next time.
func (d *Dispatcher) commit(inv *invocation) {
	if err := d.Sync.Commit(inv.snap); err != nil {
		d.logger().Printf("⚠️ Failed to record synced state for %s: %v", inv.req.ProjectID, err)
	}
	inv.cleared = false
}

func (d *Dispatcher) reset(inv *invocation) {
	if inv.cleared {
		return
	}
	if err := d.Sync.Reset(inv.req.ProjectID); err != nil {
		d.logger().Printf("⚠️ Failed to reset synced state for %s: %v", inv.req.ProjectID, err)
		return
	}
	inv.cleared = true
}
