package transport

import (
	"context"
	"fmt"
	"log"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// TransferError reports a failed chunked upload. The receiver discards the
// partial transfer.
type TransferError struct {
	TransferID string
	Seq        int
	Err        error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s failed at chunk %d: %v", e.TransferID, e.Seq, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// Sender sends actions over a Channel, chunking payloads above Ceiling
type Sender struct {
	Channel   Channel
	Ceiling   int
	ChunkSize int
	Logger    *log.Logger
}

func NewSender(ch Channel) *Sender {
	return &Sender{
		Channel:   ch,
		Ceiling:   DefaultCeiling,
		ChunkSize: DefaultChunkSize,
	}
}

func (s *Sender) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

// Send runs action on the receiving side with payload and meta, and returns
// its reply. Channel failures are returned as errors; a reply with OK unset
// is the action's own failure and is returned as is.
func (s *Sender) Send(ctx context.Context, action string, payload []byte, meta map[string]string) (Reply, error) {
	if !s.Channel.Alive() {
		return Reply{}, ErrContextInvalidated
	}

	ceiling := s.Ceiling
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	if estimateSize(action, payload, meta) < ceiling {
		return s.Channel.Send(ctx, Message{
			Type:   TypeAction,
			Action: action,
			Data:   payload,
			Meta:   meta,
		})
	}
	return s.sendChunked(ctx, action, payload, meta)
}

func (s *Sender) sendChunked(ctx context.Context, action string, payload []byte, meta map[string]string) (Reply, error) {
	chunkSize := s.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	id := uuid.NewString()
	chunks := Split(payload, chunkSize)
	s.logger().Printf("📦 Chunking %s payload (%s) into %d parts [%s]",
		action, humanize.IBytes(uint64(len(payload))), len(chunks), id)

	for seq, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			s.abort(id)
			return Reply{}, &TransferError{TransferID: id, Seq: seq, Err: err}
		}
		// The channel can die between chunks.
		if !s.Channel.Alive() {
			return Reply{}, ErrContextInvalidated
		}

		reply, err := s.Channel.Send(ctx, Message{
			Type:       TypeChunkUpload,
			TransferID: id,
			Seq:        seq,
			Total:      len(chunks),
			Data:       chunk,
		})
		if err != nil {
			s.abort(id)
			return Reply{}, &TransferError{TransferID: id, Seq: seq, Err: err}
		}
		if !reply.OK {
			s.abort(id)
			return Reply{}, &TransferError{TransferID: id, Seq: seq, Err: fmt.Errorf("chunk rejected: %s", reply.Error)}
		}
	}

	if !s.Channel.Alive() {
		return Reply{}, ErrContextInvalidated
	}
	reply, err := s.Channel.Send(ctx, Message{
		Type:       TypeChunkFinalize,
		Action:     action,
		TransferID: id,
		Total:      len(chunks),
		Meta:       meta,
	})
	if err != nil {
		return Reply{}, &TransferError{TransferID: id, Seq: len(chunks), Err: err}
	}
	return reply, nil
}

// abort tells the receiver to drop a transfer. Errors are ignored: the
// receiver also sweeps stale sessions.
func (s *Sender) abort(id string) {
	if !s.Channel.Alive() {
		return
	}
	s.Channel.Send(context.Background(), Message{Type: TypeAbort, TransferID: id})
}

// Split cuts data into consecutive chunks of at most size bytes. Empty data
// yields one empty chunk so a transfer always has a part to finalize.
func Split(data []byte, size int) [][]byte {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if len(data) == 0 {
		return [][]byte{{}}
	}
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for start := 0; start < len(data); start += size {
		end := min(start+size, len(data))
		chunks = append(chunks, data[start:end])
	}
	return chunks
}

// Join reassembles chunks in index order. Every index in [0, total) must be
// present.
func Join(chunks map[int][]byte, total int) ([]byte, error) {
	size := 0
	for seq := 0; seq < total; seq++ {
		chunk, ok := chunks[seq]
		if !ok {
			return nil, fmt.Errorf("%w: %d of %d", ErrMissingChunk, seq, total)
		}
		size += len(chunk)
	}
	out := make([]byte, 0, size)
	for seq := 0; seq < total; seq++ {
		out = append(out, chunks[seq]...)
	}
	return out, nil
}
