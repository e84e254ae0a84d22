package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// maxReplyFrame bounds replies, which carry whole rendered documents
const maxReplyFrame = 512 << 20

// WSChannel is a Channel over one websocket connection. Frames are CBOR in
// binary messages; each Send writes one message and reads one reply.
type WSChannel struct {
	conn     *websocket.Conn
	maxFrame int

	mu     sync.Mutex
	closed bool
}

// DialWS connects to a receiver served by ServeWS
func DialWS(ctx context.Context, url string, header http.Header) (*WSChannel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	conn.SetReadLimit(maxReplyFrame)
	return &WSChannel{conn: conn, maxFrame: DefaultMaxFrame}, nil
}

func (c *WSChannel) Send(ctx context.Context, msg Message) (Reply, error) {
	frame, err := Encode(msg)
	if err != nil {
		return Reply{}, fmt.Errorf("encoding message: %w", err)
	}
	if len(frame) > c.maxFrame {
		return Reply{}, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, len(frame), c.maxFrame)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Reply{}, ErrContextInvalidated
	}

	// A zero deadline clears any previous one.
	deadline, _ := ctx.Deadline()
	c.conn.SetWriteDeadline(deadline)
	c.conn.SetReadDeadline(deadline)

	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		c.fail()
		return Reply{}, fmt.Errorf("%w: %v", ErrChannelClosed, err)
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		c.fail()
		return Reply{}, fmt.Errorf("%w: %v", ErrChannelClosed, err)
	}
	reply, err := DecodeReply(data)
	if err != nil {
		return Reply{}, fmt.Errorf("decoding reply: %w", err)
	}
	return reply, nil
}

// fail marks the connection dead; callers hold mu
func (c *WSChannel) fail() {
	c.closed = true
	c.conn.Close()
}

func (c *WSChannel) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *WSChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS upgrades the request and feeds every frame to the receiver until
// the peer goes away. Frames over maxFrame close the connection.
func ServeWS(w http.ResponseWriter, r *http.Request, receiver *Receiver, maxFrame int) error {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}
	defer conn.Close()
	conn.SetReadLimit(int64(maxFrame))

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if kind != websocket.BinaryMessage {
			continue
		}

		var reply Reply
		msg, err := Decode(data)
		if err != nil {
			reply = Reply{Error: fmt.Sprintf("malformed frame: %v", err)}
		} else {
			reply = receiver.Handle(r.Context(), msg)
		}

		out, err := EncodeReply(reply)
		if err != nil {
			return fmt.Errorf("encoding reply: %w", err)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, out); err != nil {
			return err
		}
	}
}
