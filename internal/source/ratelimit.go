package source

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer enforces the mandatory wait between two requests to the service.
// It is safe for concurrent use.
type Pacer struct {
	limiter  *rate.Limiter
	interval time.Duration
}

// NewPacer creates a pacer that lets one request through per interval.
// A non-positive interval disables pacing.
//
// The first request goes out at once; every later one waits until interval
// has passed since the previous slot. Two consecutive requests are therefore
// never closer than interval, the same guarantee as sleeping before each
// request, without delaying a process that sends a single request.
func NewPacer(interval time.Duration) *Pacer {
	if interval <= 0 {
		return &Pacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Pacer{
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		interval: interval,
	}
}

// Wait blocks until the next request may be sent or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// Ready reports whether a request could be sent now without waiting.
// It does not reserve the slot.
func (p *Pacer) Ready() bool {
	return p.limiter.Tokens() >= 1
}

// Interval returns the enforced spacing. Zero means no pacing.
func (p *Pacer) Interval() time.Duration {
	return p.interval
}
