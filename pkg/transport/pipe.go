package transport

import (
	"context"
	"fmt"
	"sync"
)

// pipeBuffer is the per-direction frame queue depth.
const pipeBuffer = 64

type pipe struct {
	once sync.Once
	done chan struct{}
}

func (p *pipe) close() {
	p.once.Do(func() { close(p.done) })
}

// PipeEnd is one side of an in-memory channel pair. Closing either end
// closes both.
type PipeEnd struct {
	p   *pipe
	in  <-chan Frame
	out chan<- Frame
}

// NewPipe returns a connected pair of channels.
func NewPipe() (*PipeEnd, *PipeEnd) {
	p := &pipe{done: make(chan struct{})}
	aToB := make(chan Frame, pipeBuffer)
	bToA := make(chan Frame, pipeBuffer)
	return &PipeEnd{p: p, in: bToA, out: aToB}, &PipeEnd{p: p, in: aToB, out: bToA}
}

// Send delivers data to the peer as one final text frame.
func (e *PipeEnd) Send(ctx context.Context, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	return e.SendFrame(ctx, Frame{Data: buf, Final: true, Kind: FrameText})
}

// SendFragments delivers data to the peer split into fragments of at most
// size bytes.
func (e *PipeEnd) SendFragments(ctx context.Context, data []byte, size int) error {
	if size <= 0 {
		return fmt.Errorf("fragment size must be positive, got %d", size)
	}
	for off := 0; ; off += size {
		end := min(off+size, len(data))
		chunk := make([]byte, end-off)
		copy(chunk, data[off:end])
		final := end == len(data)
		if err := e.SendFrame(ctx, Frame{Data: chunk, Final: final, Kind: FrameText}); err != nil {
			return err
		}
		if final {
			return nil
		}
	}
}

// SendFrame delivers f to the peer unchanged.
func (e *PipeEnd) SendFrame(ctx context.Context, f Frame) error {
	select {
	case <-e.p.done:
		return ErrChannelClosed
	default:
	}

	select {
	case e.out <- f:
		return nil
	case <-e.p.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the next frame from the peer.
func (e *PipeEnd) Receive(ctx context.Context) (Frame, error) {
	select {
	case f := <-e.in:
		return f, nil
	case <-e.p.done:
		return Frame{}, ErrChannelClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Close closes both ends.
func (e *PipeEnd) Close() error {
	e.p.close()
	return nil
}

// Done is closed when the pipe is closed.
func (e *PipeEnd) Done() <-chan struct{} {
	return e.p.done
}

// PipeDialer hands out a pre-built channel on the first Dial.
type PipeDialer struct {
	mu   sync.Mutex
	end  Channel
	Err  error
	URIs []string
}

// NewPipeDialer returns a dialer that yields end.
func NewPipeDialer(end Channel) *PipeDialer {
	return &PipeDialer{end: end}
}

// Dial returns the configured channel, or Err if set.
func (d *PipeDialer) Dial(ctx context.Context, uri string) (Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.URIs = append(d.URIs, uri)
	if d.Err != nil {
		return nil, d.Err
	}
	if d.end == nil {
		return nil, fmt.Errorf("dial %s: %w", uri, ErrChannelClosed)
	}
	end := d.end
	d.end = nil
	return end, ctx.Err()
}
