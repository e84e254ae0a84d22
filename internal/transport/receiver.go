package transport

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// DefaultSessionTTL is how long an idle transfer is kept before it is swept
const DefaultSessionTTL = 5 * time.Minute

// Handler runs one action on the receiving side
type Handler interface {
	HandleAction(ctx context.Context, action string, payload []byte, meta map[string]string) Reply
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, action string, payload []byte, meta map[string]string) Reply

func (f HandlerFunc) HandleAction(ctx context.Context, action string, payload []byte, meta map[string]string) Reply {
	return f(ctx, action, payload, meta)
}

type transferSession struct {
	total   int
	chunks  map[int][]byte
	touched time.Time
}

// Receiver reassembles chunked transfers and dispatches actions
type Receiver struct {
	handler Handler
	ttl     time.Duration
	now     func() time.Time
	Logger  *log.Logger

	mu       sync.Mutex
	sessions map[string]*transferSession
}

func NewReceiver(handler Handler) *Receiver {
	return &Receiver{
		handler:  handler,
		ttl:      DefaultSessionTTL,
		now:      time.Now,
		sessions: make(map[string]*transferSession),
	}
}

func (r *Receiver) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Default()
}

// Handle processes one frame
func (r *Receiver) Handle(ctx context.Context, msg Message) Reply {
	r.sweep()

	switch msg.Type {
	case TypeAction:
		return r.handler.HandleAction(ctx, msg.Action, msg.Data, msg.Meta)
	case TypeChunkUpload:
		if err := r.store(msg); err != nil {
			r.discard(msg.TransferID)
			return Reply{Error: err.Error()}
		}
		return Reply{OK: true}
	case TypeChunkFinalize:
		payload, err := r.finalize(msg)
		if err != nil {
			return Reply{Error: err.Error()}
		}
		return r.handler.HandleAction(ctx, msg.Action, payload, msg.Meta)
	case TypeAbort:
		r.discard(msg.TransferID)
		return Reply{OK: true}
	default:
		return Reply{Error: fmt.Sprintf("unknown message type %q", msg.Type)}
	}
}

func (r *Receiver) store(msg Message) error {
	if msg.TransferID == "" {
		return fmt.Errorf("chunk without transfer id")
	}
	if msg.Total <= 0 || msg.Seq < 0 || msg.Seq >= msg.Total {
		return fmt.Errorf("chunk %d out of range for total %d", msg.Seq, msg.Total)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[msg.TransferID]
	if !ok {
		sess = &transferSession{total: msg.Total, chunks: make(map[int][]byte)}
		r.sessions[msg.TransferID] = sess
	}
	if sess.total != msg.Total {
		return fmt.Errorf("chunk total changed from %d to %d", sess.total, msg.Total)
	}
	data := make([]byte, len(msg.Data))
	copy(data, msg.Data)
	sess.chunks[msg.Seq] = data
	sess.touched = r.now()
	return nil
}

// finalize removes the session whatever the outcome
func (r *Receiver) finalize(msg Message) ([]byte, error) {
	r.mu.Lock()
	sess, ok := r.sessions[msg.TransferID]
	delete(r.sessions, msg.TransferID)
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransfer, msg.TransferID)
	}
	if msg.Total != 0 && msg.Total != sess.total {
		return nil, fmt.Errorf("finalize total %d does not match %d", msg.Total, sess.total)
	}
	return Join(sess.chunks, sess.total)
}

func (r *Receiver) discard(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *Receiver) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-r.ttl)
	for id, sess := range r.sessions {
		if sess.touched.Before(cutoff) {
			delete(r.sessions, id)
			r.logger().Printf("🧹 Dropped stale transfer %s (%d/%d chunks)", id, len(sess.chunks), sess.total)
		}
	}
}

// Pending returns the number of transfers awaiting finalize
func (r *Receiver) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
