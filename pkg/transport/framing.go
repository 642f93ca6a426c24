package transport

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/buttbee/buttbee-go/pkg/log"
)

// Framing constants.
const (
	// ReadChunkSize is the largest fragment a websocket channel surfaces.
	ReadChunkSize = 4096

	// DefaultMaxMessageSize is the default reassembly limit (1 MiB).
	DefaultMaxMessageSize = 1 << 20

	// MaxLogFrameDataSize is the maximum frame data size to include in
	// capture events.
	MaxLogFrameDataSize = 4096
)

// Framing errors.
var (
	ErrMessageTooLarge = errors.New("message too large")
	ErrInvalidUTF8     = errors.New("message is not valid UTF-8")
)

// Reassembler joins fragments into logical messages. It is not safe for
// concurrent use; one read loop owns it.
type Reassembler struct {
	maxSize    int
	buf        []byte
	discarding bool
}

// NewReassembler creates a reassembler. A maxSize of zero selects
// DefaultMaxMessageSize.
func NewReassembler(maxSize int) *Reassembler {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &Reassembler{maxSize: maxSize}
}

// Push adds a fragment. When f is the final fragment it returns the
// complete message and true. An oversized message is dropped up to and
// including its final fragment and reported once.
func (r *Reassembler) Push(f Frame) ([]byte, bool, error) {
	if r.discarding {
		if f.Final {
			r.discarding = false
		}
		return nil, false, nil
	}

	if len(r.buf)+len(f.Data) > r.maxSize {
		size := len(r.buf) + len(f.Data)
		r.buf = r.buf[:0]
		r.discarding = !f.Final
		return nil, false, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, size, r.maxSize)
	}

	r.buf = append(r.buf, f.Data...)
	if !f.Final {
		return nil, false, nil
	}

	msg := make([]byte, len(r.buf))
	copy(msg, r.buf)
	r.buf = r.buf[:0]

	if !utf8.Valid(msg) {
		return nil, false, ErrInvalidUTF8
	}
	return msg, true, nil
}

// Buffered returns the number of bytes held for an incomplete message.
func (r *Reassembler) Buffered() int {
	return len(r.buf)
}

// Reset drops any partial message.
func (r *Reassembler) Reset() {
	r.buf = r.buf[:0]
	r.discarding = false
}

// frameEvent creates a capture event for a fragment.
func frameEvent(connID string, direction log.Direction, data []byte, final bool) log.Event {
	frameData := data
	truncated := false
	if len(data) > MaxLogFrameDataSize {
		frameData = data[:MaxLogFrameDataSize]
		truncated = true
	}

	return log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Frame: &log.FrameEvent{
			Size:      len(data),
			Data:      frameData,
			Truncated: truncated,
			Final:     final,
		},
	}
}
