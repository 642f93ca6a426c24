package device

import (
	"context"
	"sync/atomic"
	"time"
)

// pacer tracks the earliest time the next message may be sent. The stored
// time never moves backwards.
type pacer struct {
	next atomic.Int64 // unix nanos
}

// NextAt returns the next-allowed-send time.
func (p *pacer) NextAt() time.Time {
	return time.Unix(0, p.next.Load())
}

// reserve waits for the slot, then claims it for gap. It returns ctx.Err()
// without claiming if ctx ends first.
func (p *pacer) reserve(ctx context.Context, gap time.Duration) error {
	for {
		cur := p.next.Load()
		now := time.Now().UnixNano()
		if cur > now {
			if err := sleep(ctx, time.Duration(cur-now)); err != nil {
				return err
			}
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.next.CompareAndSwap(cur, now+int64(gap)) {
			return nil
		}
	}
}

// advance moves the slot to now+gap unless it is already later.
func (p *pacer) advance(gap time.Duration) {
	target := time.Now().Add(gap).UnixNano()
	for {
		cur := p.next.Load()
		if target <= cur || p.next.CompareAndSwap(cur, target) {
			return
		}
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// sleepUntil waits until at or until ctx is done.
func sleepUntil(ctx context.Context, at time.Time) error {
	return sleep(ctx, time.Until(at))
}
