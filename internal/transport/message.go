// Package transport moves payloads of any size across a message channel
// that only accepts frames up to a fixed size. Payloads above the ceiling
// are split into chunks, uploaded in order and reassembled by the receiver
// before the original action runs.
package transport

import (
	"errors"

	"github.com/fxamacker/cbor/v2"
)

const (
	// DefaultCeiling is the largest payload sent as one message
	DefaultCeiling = 8 << 20

	// DefaultChunkSize is the payload carried by each chunk upload
	DefaultChunkSize = 4 << 20

	// frameHeadroom covers message fields around the payload
	frameHeadroom = 1 << 20

	// DefaultMaxFrame is the largest encoded frame a channel accepts
	DefaultMaxFrame = DefaultCeiling + frameHeadroom
)

var (
	ErrContextInvalidated = errors.New("extension context invalidated")
	ErrFrameTooLarge      = errors.New("message exceeds channel frame size")
	ErrMissingChunk       = errors.New("transfer is missing a chunk")
	ErrUnknownTransfer    = errors.New("unknown transfer")
	ErrChannelClosed      = errors.New("channel closed")
)

// MessageType tags a frame on the channel
type MessageType string

const (
	TypeAction        MessageType = "action"
	TypeChunkUpload   MessageType = "chunk_upload"
	TypeChunkFinalize MessageType = "chunk_finalize"
	TypeAbort         MessageType = "abort"
)

// Message is one frame sent to the receiving side
type Message struct {
	Type       MessageType       `cbor:"type"`
	Action     string            `cbor:"action,omitempty"`
	TransferID string            `cbor:"transferId,omitempty"`
	Seq        int               `cbor:"seq,omitempty"`
	Total      int               `cbor:"total,omitempty"`
	Data       []byte            `cbor:"data,omitempty"`
	Meta       map[string]string `cbor:"meta,omitempty"`
}

// Reply is the receiving side's answer to one Message
type Reply struct {
	OK    bool              `cbor:"ok"`
	Code  string            `cbor:"code,omitempty"`
	Error string            `cbor:"error,omitempty"`
	Meta  map[string]string `cbor:"meta,omitempty"`
	Data  []byte            `cbor:"data,omitempty"`
}

// Failure builds an error reply
func Failure(code string, err error) Reply {
	return Reply{Code: code, Error: err.Error()}
}

// estimateSize approximates the encoded size of a message carrying payload
// and meta, without encoding it.
func estimateSize(action string, payload []byte, meta map[string]string) int {
	n := 64 + len(action) + len(payload)
	for k, v := range meta {
		n += len(k) + len(v) + 8
	}
	return n
}

// Encode serializes a message for the wire
func Encode(m Message) ([]byte, error) {
	return cbor.Marshal(m)
}

// Decode parses a message frame
func Decode(data []byte) (Message, error) {
	var m Message
	err := cbor.Unmarshal(data, &m)
	return m, err
}

// EncodeReply serializes a reply for the wire
func EncodeReply(r Reply) ([]byte, error) {
	return cbor.Marshal(r)
}

// DecodeReply parses a reply frame
func DecodeReply(data []byte) (Reply, error) {
	var r Reply
	err := cbor.Unmarshal(data, &r)
	return r, err
}
