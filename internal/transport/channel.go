package transport

import (
	"context"
	"fmt"
	"sync"
)

// Channel is a one-shot request/response boundary with a frame ceiling.
// Alive reports whether the other side can still be reached; once it
// returns false no further message may be sent.
type Channel interface {
	Send(ctx context.Context, msg Message) (Reply, error)
	Alive() bool
}

// LocalChannel delivers messages to an in-process Receiver, encoding every
// frame so the size ceiling is enforced exactly as on a real boundary.
type LocalChannel struct {
	receiver *Receiver
	maxFrame int

	mu     sync.RWMutex
	closed bool
}

func NewLocalChannel(receiver *Receiver, maxFrame int) *LocalChannel {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	return &LocalChannel{receiver: receiver, maxFrame: maxFrame}
}

func (c *LocalChannel) Send(ctx context.Context, msg Message) (Reply, error) {
	if !c.Alive() {
		return Reply{}, ErrContextInvalidated
	}

	frame, err := Encode(msg)
	if err != nil {
		return Reply{}, fmt.Errorf("encoding message: %w", err)
	}
	if len(frame) > c.maxFrame {
		return Reply{}, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, len(frame), c.maxFrame)
	}

	decoded, err := Decode(frame)
	if err != nil {
		return Reply{}, fmt.Errorf("decoding message: %w", err)
	}
	return c.receiver.Handle(ctx, decoded), nil
}

func (c *LocalChannel) Alive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// Close invalidates the channel, as when the receiving runtime reloads
func (c *LocalChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
