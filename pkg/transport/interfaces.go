package transport

import (
	"context"
	"errors"
)

// Channel errors.
var (
	// ErrChannelClosed is returned once the channel has been closed by
	// either side.
	ErrChannelClosed = errors.New("channel closed")
)

// FrameKind distinguishes data frames from the close signal.
type FrameKind uint8

const (
	FrameText FrameKind = iota
	FrameBinary
	FrameClose
)

// String returns the frame kind name.
func (k FrameKind) String() string {
	switch k {
	case FrameText:
		return "TEXT"
	case FrameBinary:
		return "BINARY"
	case FrameClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// Frame is one transport read unit, possibly a fragment of a larger
// logical message.
type Frame struct {
	Data  []byte
	Final bool
	Kind  FrameKind
}

// Channel is a bidirectional message transport.
type Channel interface {
	// Send writes one complete text message.
	Send(ctx context.Context, data []byte) error

	// Receive returns the next frame. A FrameClose frame or
	// ErrChannelClosed ends the stream.
	Receive(ctx context.Context) (Frame, error)

	// Close closes the channel. It is safe to call more than once.
	Close() error
}

// Dialer opens channels.
type Dialer interface {
	Dial(ctx context.Context, uri string) (Channel, error)
}

var (
	_ Channel = (*WebSocketChannel)(nil)
	_ Channel = (*PipeEnd)(nil)
	_ Dialer  = (*WebSocketDialer)(nil)
	_ Dialer  = (*PipeDialer)(nil)
)
