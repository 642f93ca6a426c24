package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Keep-alive constants.
const (
	// MinPingInterval is the shortest interval between pings.
	MinPingInterval = 10 * time.Millisecond
)

// PingInterval returns the ping period for a server's MaxPingTime:
// a quarter of it, but at least MinPingInterval.
func PingInterval(maxPingTime time.Duration) time.Duration {
	return max(MinPingInterval, maxPingTime/4)
}

// KeepAliveConfig configures keep-alive behavior.
type KeepAliveConfig struct {
	// Interval is the time between pings.
	Interval time.Duration

	// Timeout bounds each ping round trip. Zero selects Interval.
	Timeout time.Duration
}

// KeepAlive sends periodic pings and reports the first failure.
type KeepAlive struct {
	config KeepAliveConfig

	ping      func(ctx context.Context) error
	onFailure func(err error)

	sent     atomic.Uint32
	lastPing time.Time
	latency  time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewKeepAlive creates a keep-alive scheduler. onFailure runs on the
// keep-alive goroutine after which the loop exits; it must not call Stop.
func NewKeepAlive(config KeepAliveConfig, ping func(ctx context.Context) error, onFailure func(err error)) *KeepAlive {
	if config.Interval < MinPingInterval {
		config.Interval = MinPingInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = config.Interval
	}

	return &KeepAlive{
		config:    config,
		ping:      ping,
		onFailure: onFailure,
	}
}

// Interval returns the configured ping period.
func (ka *KeepAlive) Interval() time.Duration {
	return ka.config.Interval
}

// Start begins pinging. Calling Start on a running scheduler is a no-op.
func (ka *KeepAlive) Start(ctx context.Context) {
	ka.mu.Lock()
	defer ka.mu.Unlock()

	if ka.running {
		return
	}
	ka.running = true

	loopCtx, cancel := context.WithCancel(ctx)
	ka.cancel = cancel
	ka.done = make(chan struct{})
	go ka.loop(loopCtx, ka.done)
}

// Stop stops pinging and waits for an in-flight ping to finish.
func (ka *KeepAlive) Stop() {
	ka.mu.Lock()
	if !ka.running {
		ka.mu.Unlock()
		return
	}
	ka.running = false
	cancel, done := ka.cancel, ka.done
	ka.mu.Unlock()

	cancel()
	<-done
}

// IsRunning returns true if pings are being scheduled.
func (ka *KeepAlive) IsRunning() bool {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.running
}

// KeepAliveStats contains keep-alive statistics.
type KeepAliveStats struct {
	Sent        uint32
	LastPing    time.Time
	LastLatency time.Duration
}

// Stats returns current keep-alive statistics.
func (ka *KeepAlive) Stats() KeepAliveStats {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return KeepAliveStats{
		Sent:        ka.sent.Load(),
		LastPing:    ka.lastPing,
		LastLatency: ka.latency,
	}
}

func (ka *KeepAlive) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(ka.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ka.tick(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				ka.mu.Lock()
				ka.running = false
				ka.mu.Unlock()
				if ka.onFailure != nil {
					ka.onFailure(err)
				}
				return
			}
		}
	}
}

func (ka *KeepAlive) tick(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, ka.config.Timeout)
	defer cancel()

	start := time.Now()
	ka.sent.Add(1)
	err := ka.ping(pingCtx)

	ka.mu.Lock()
	ka.lastPing = start
	if err == nil {
		ka.latency = time.Since(start)
	}
	ka.mu.Unlock()
	return err
}
