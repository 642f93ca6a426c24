package connection

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Backoff defaults.
const (
	InitialBackoff    = 1 * time.Second
	MaxBackoff        = 60 * time.Second
	BackoffMultiplier = 2.0

	// JitterFactor is the largest jitter, as a fraction of the base delay.
	JitterFactor = 0.25
)

// BackoffConfig customizes backoff parameters. Zero fields select the
// defaults; a negative Jitter disables jitter.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.Initial <= 0 {
		c.Initial = InitialBackoff
	}
	if c.Max <= 0 {
		c.Max = MaxBackoff
	}
	c.Max = max(c.Max, c.Initial)
	if c.Multiplier < 1 {
		c.Multiplier = BackoffMultiplier
	}
	switch {
	case c.Jitter == 0:
		c.Jitter = JitterFactor
	case c.Jitter < 0:
		c.Jitter = 0
	}
	return c
}

// Backoff hands out exponentially growing delays. The base delay of
// attempt n is Initial*Multiplier^n, capped at Max; jitter only ever
// lengthens it.
type Backoff struct {
	cfg BackoffConfig

	mu       sync.Mutex
	attempts int
}

// NewBackoff returns a backoff with default settings.
func NewBackoff() *Backoff {
	return NewBackoffWithConfig(BackoffConfig{})
}

// NewBackoffWithConfig returns a backoff with custom settings.
func NewBackoffWithConfig(cfg BackoffConfig) *Backoff {
	return &Backoff{cfg: cfg.withDefaults()}
}

// Next returns the delay for the current attempt and counts it.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	base := b.base(b.attempts)
	b.attempts++
	b.mu.Unlock()

	if b.cfg.Jitter == 0 {
		return base
	}
	return base + time.Duration(float64(base)*b.cfg.Jitter*rand.Float64())
}

// Reset starts over at the initial delay. Call it after a session came up.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.attempts = 0
	b.mu.Unlock()
}

// Attempts returns the number of delays handed out since the last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Current returns the base delay Next would use, without jitter.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.base(b.attempts)
}

func (b *Backoff) base(attempt int) time.Duration {
	d := float64(b.cfg.Initial) * math.Pow(b.cfg.Multiplier, float64(attempt))
	if d >= float64(b.cfg.Max) || math.IsInf(d, 1) {
		return b.cfg.Max
	}
	return time.Duration(d)
}
