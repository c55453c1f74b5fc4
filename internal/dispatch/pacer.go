package dispatch

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Clock is the engine's view of time.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	tmr := time.NewTimer(d)
	select {
	case <-ctx.Done():
		if !tmr.Stop() {
			<-tmr.C
		}
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}

// pacer keeps post issuances at least interval apart. It reserves from a
// burst-1 limiter against the engine clock so fake clocks drive it in tests.
type pacer struct {
	clock Clock
	lim   *rate.Limiter
}

func newPacer(clock Clock, interval time.Duration) *pacer {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &pacer{clock: clock, lim: rate.NewLimiter(limit, 1)}
}

// Wait blocks until the next issuance is allowed. When ctx ends first the
// reservation is returned and the issuance does not count.
func (p *pacer) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r := p.lim.ReserveN(p.clock.Now(), 1)
	if !r.OK() {
		return fmt.Errorf("pacer: reservation exceeds burst")
	}
	d := r.DelayFrom(p.clock.Now())
	if d <= 0 {
		return nil
	}
	if err := p.clock.Sleep(ctx, d); err != nil {
		r.CancelAt(p.clock.Now())
		return err
	}
	return nil
}
