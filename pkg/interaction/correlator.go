package interaction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/buttbee/buttbee-go/pkg/wire"
)

// Correlator errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrDuplicateID      = errors.New("duplicate message id")
)

// Call is the completion handle of one outstanding request.
type Call struct {
	id     uint32
	expect string
	done   chan result
	once   sync.Once
}

type result struct {
	env wire.Envelope
	err error
}

// ID returns the correlation id of the call.
func (c *Call) ID() uint32 { return c.id }

// Expect returns the reply name the call expects.
func (c *Call) Expect() string { return c.expect }

// settle delivers the outcome. Only the first settle has an effect.
func (c *Call) settle(r result) bool {
	settled := false
	c.once.Do(func() {
		c.done <- r
		settled = true
	})
	return settled
}

// Wait blocks until the call is settled or ctx is done.
// On ctx expiry the caller should Forget the id.
func (c *Call) Wait(ctx context.Context) (wire.Envelope, error) {
	select {
	case <-ctx.Done():
		return wire.Envelope{}, ctx.Err()
	case r := <-c.done:
		return r.env, r.err
	}
}

// Decode decodes a settled reply into into.
func (c *Call) Decode(env wire.Envelope, into wire.Message) error {
	if env.Name == "Error" && c.expect != "Error" {
		var e wire.Error
		if err := wire.Unmarshal(env.Body, &e); err != nil {
			return &ProtocolError{Code: wire.ErrorCodeShapeMismatch, Message: err.Error()}
		}
		return &ProtocolError{Code: e.ErrorCode, Message: e.ErrorMessage}
	}

	res, err := wire.DecodeReply(env, c.expect, into)
	if res != wire.DecodeOK {
		return &ProtocolError{Code: wire.ErrorCodeShapeMismatch, Message: err.Error()}
	}
	return nil
}

// Correlator allocates message ids and tracks pending calls.
type Correlator struct {
	logger *slog.Logger

	nextID atomic.Uint32

	mu      sync.Mutex
	pending map[uint32]*Call
	closed  error
}

// NewCorrelator creates a correlator. A nil logger discards output.
func NewCorrelator(logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Correlator{
		logger:  logger.With("component", "correlator"),
		pending: make(map[uint32]*Call),
	}
}

// Allocate returns the next message id. Zero is never returned.
func (c *Correlator) Allocate() uint32 {
	for {
		if id := c.nextID.Add(1); id != wire.EventID {
			return id
		}
	}
}

// Register creates a pending call for id expecting a reply named expect.
func (c *Correlator) Register(id uint32, expect string) (*Call, error) {
	if id == wire.EventID {
		return nil, fmt.Errorf("%w: id 0 is reserved for events", ErrUsage)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed != nil {
		return nil, c.closed
	}
	if _, exists := c.pending[id]; exists {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}

	call := &Call{id: id, expect: expect, done: make(chan result, 1)}
	c.pending[id] = call
	return call, nil
}

// Resolve settles the pending call matching env.ID. It reports false if no
// call was waiting for that id.
func (c *Correlator) Resolve(env wire.Envelope) bool {
	c.mu.Lock()
	call, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("dropping reply without pending call", "id", env.ID, "name", env.Name)
		return false
	}
	return call.settle(result{env: env})
}

// Forget removes a pending call the caller no longer waits for.
func (c *Correlator) Forget(id uint32) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// CloseAll settles every pending call with ErrConnectionClosed, wrapping
// cause when given, and rejects further registrations.
func (c *Correlator) CloseAll(cause error) {
	err := ErrConnectionClosed
	switch {
	case cause == nil:
	case errors.Is(cause, ErrConnectionClosed):
		err = cause
	default:
		err = fmt.Errorf("%w: %w", ErrConnectionClosed, cause)
	}

	c.mu.Lock()
	if c.closed == nil {
		c.closed = err
	}
	calls := c.pending
	c.pending = make(map[uint32]*Call)
	c.mu.Unlock()

	for _, call := range calls {
		call.settle(result{err: err})
	}
	if len(calls) > 0 {
		c.logger.Debug("swept pending calls", "count", len(calls))
	}
}

// Pending returns the number of outstanding calls.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
