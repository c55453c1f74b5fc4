package dispatch

import (
	"math"
	"time"
)

// Policy controls pacing and retries of a run.
type Policy struct {
	// MinInterval separates consecutive post issuances, whatever their outcome.
	MinInterval time.Duration

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// Jitter scales each backoff by a random factor in [1-Jitter, 1+Jitter].
	Jitter float64

	DryRun bool
	// SkipDelivered consults the ledger before posting.
	SkipDelivered bool
}

func DefaultPolicy() Policy {
	return Policy{
		MinInterval:   1500 * time.Millisecond,
		MaxRetries:    3,
		RetryBase:     2 * time.Second,
		RetryMaxDelay: time.Minute,
		Jitter:        0.2,
		SkipDelivered: true,
	}
}

func (p Policy) normalized() Policy {
	if p.MinInterval < 0 {
		p.MinInterval = 0
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.RetryBase <= 0 {
		p.RetryBase = time.Second
	}
	if p.RetryMaxDelay < p.RetryBase {
		p.RetryMaxDelay = p.RetryBase
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
	return p
}

// Backoff returns the delay before retry n (1-based). rnd yields values in
// [0,1); nil disables jitter.
func (p Policy) Backoff(n int, rnd func() float64) time.Duration {
	p = p.normalized()
	if n < 1 {
		n = 1
	}
	d := float64(p.RetryBase) * math.Pow(2, float64(n-1))
	if d > float64(p.RetryMaxDelay) {
		d = float64(p.RetryMaxDelay)
	}
	if p.Jitter > 0 && rnd != nil {
		d *= 1 - p.Jitter + 2*p.Jitter*rnd()
	}
	return time.Duration(d)
}
