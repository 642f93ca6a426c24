package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Manager errors.
var (
	ErrClosed         = errors.New("connection manager closed")
	ErrAlreadyRunning = errors.New("connection manager already running")
	ErrGaveUp         = errors.New("gave up reconnecting")
)

// DefaultAttemptTimeout bounds a single connection attempt.
const DefaultAttemptTimeout = 30 * time.Second

// State represents the manager state.
type State uint8

const (
	// StateDisconnected indicates Run has not been called.
	StateDisconnected State = iota

	// StateConnecting indicates a connection attempt is in progress.
	StateConnecting

	// StateConnected indicates a live session.
	StateConnected

	// StateReconnecting indicates the manager is waiting out a backoff.
	StateReconnecting

	// StateClosed indicates Run has returned.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Session is one connected period. Done is closed when it ends.
type Session interface {
	Done() <-chan struct{}
	Close() error
}

// ConnectFunc establishes a session.
type ConnectFunc func(ctx context.Context) (Session, error)

// Config configures a Manager.
type Config struct {
	Backoff BackoffConfig

	// MaxAttempts is the number of consecutive failed attempts after which
	// Run gives up. Zero retries forever.
	MaxAttempts int

	// AttemptTimeout bounds each call to the ConnectFunc.
	AttemptTimeout time.Duration

	Logger *slog.Logger
}

// Manager runs sessions back to back with backoff in between.
type Manager struct {
	mu sync.RWMutex

	state   State
	running bool

	backoff   *Backoff
	connectFn ConnectFunc
	config    Config
	logger    *slog.Logger

	// Callbacks
	onStateChange  func(oldState, newState State)
	onConnected    func()
	onDisconnected func()
	onReconnecting func(attempt int, delay time.Duration)
}

// NewManager creates a connection manager.
func NewManager(connectFn ConnectFunc, config Config) *Manager {
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = DefaultAttemptTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		state:     StateDisconnected,
		backoff:   NewBackoffWithConfig(config.Backoff),
		connectFn: connectFn,
		config:    config,
		logger:    logger.With("component", "reconnect"),
	}
}

// State returns the current manager state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected returns true while a session is live.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Run connects and keeps reconnecting until ctx is cancelled, which
// returns nil after closing the live session. It returns ErrGaveUp once
// MaxAttempts consecutive attempts failed. A Manager runs only once.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.mu.Unlock()

	defer m.setState(StateClosed)

	failures := 0
	for {
		m.setState(StateConnecting)
		session, err := m.attempt(ctx)
		switch {
		case ctx.Err() != nil:
			if session != nil {
				_ = session.Close()
			}
			return nil

		case err != nil:
			failures++
			m.logger.Warn("connect failed", "attempt", failures, "error", err)
			if m.config.MaxAttempts > 0 && failures >= m.config.MaxAttempts {
				return fmt.Errorf("%w after %d attempts: %w", ErrGaveUp, failures, err)
			}

		default:
			failures = 0
			m.backoff.Reset()
			m.setState(StateConnected)
			m.notify(m.callbacks().onConnected)

			select {
			case <-ctx.Done():
				_ = session.Close()
				return nil
			case <-session.Done():
			}
			m.logger.Warn("session ended")
			m.notify(m.callbacks().onDisconnected)
		}

		delay := m.backoff.Next()
		attempt := m.backoff.Attempts()
		m.setState(StateReconnecting)
		if fn := m.callbacks().onReconnecting; fn != nil {
			fn(attempt, delay)
		}
		m.logger.Info("reconnecting", "attempt", attempt, "delay", delay)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (m *Manager) attempt(ctx context.Context) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, m.config.AttemptTimeout)
	defer cancel()
	return m.connectFn(ctx)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	old := m.state
	m.state = s
	fn := m.onStateChange
	m.mu.Unlock()

	if old != s && fn != nil {
		fn(old, s)
	}
}

type callbacks struct {
	onConnected    func()
	onDisconnected func()
	onReconnecting func(attempt int, delay time.Duration)
}

func (m *Manager) callbacks() callbacks {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return callbacks{m.onConnected, m.onDisconnected, m.onReconnecting}
}

func (m *Manager) notify(fn func()) {
	if fn != nil {
		fn()
	}
}

// OnStateChange sets a callback for state changes.
func (m *Manager) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// OnConnected sets a callback for successful connections.
func (m *Manager) OnConnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = fn
}

// OnDisconnected sets a callback for ended sessions.
func (m *Manager) OnDisconnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnected = fn
}

// OnReconnecting sets a callback invoked before each backoff wait.
func (m *Manager) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnecting = fn
}

// BackoffAttempts returns the number of backoff waits since the last
// successful connection.
func (m *Manager) BackoffAttempts() int {
	return m.backoff.Attempts()
}
