// Package notify provides ordered observer registries and a single-goroutine
// delivery queue.
package notify

import (
	"io"
	"log/slog"
	"sync"
)

// Registry holds observers of T, called in registration order.
type Registry[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscriber[T]
}

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// Add registers fn and returns a function that removes it.
func (r *Registry[T]) Add(fn func(T)) (remove func()) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.subs = append(r.subs, subscriber[T]{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

func (r *Registry[T]) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.subs {
		if s.id == id {
			r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
			return
		}
	}
}

// Emit calls every observer with v on the calling goroutine. Observers added
// or removed during Emit take effect on the next Emit.
func (r *Registry[T]) Emit(v T) {
	r.mu.RLock()
	subs := r.subs
	r.mu.RUnlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// Len returns the number of observers.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Queue runs posted functions one at a time, in order, on its own
// goroutine. Posting never blocks.
type Queue struct {
	logger *slog.Logger

	mu     sync.Mutex
	items  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// NewQueue starts a queue. A nil logger discards output.
func NewQueue(logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	q := &Queue{
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

// Post enqueues fn. It reports false once the queue is closed.
func (q *Queue) Post(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Close stops accepting work. Already queued functions still run; Done is
// closed after the last one returns.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Done is closed when the queue has drained after Close.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Len returns the number of functions waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		items := q.items
		q.items = nil
		closed := q.closed
		q.mu.Unlock()

		for _, fn := range items {
			q.call(fn)
		}

		if len(items) == 0 {
			if closed {
				return
			}
			<-q.wake
		}
	}
}

func (q *Queue) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("observer panicked", "panic", r)
		}
	}()
	fn()
}
