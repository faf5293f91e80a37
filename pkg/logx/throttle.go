package logx

import (
	"golang.org/x/time/rate"
)

// Throttle gates repetitive log statements (e.g. a store failing on every
// write) to a bounded rate so broken dependencies don't flood the sinks.
//
// The zero value is not usable; construct with NewThrottle.
type Throttle struct {
	lim *rate.Limiter
}

// NewThrottle allows at most perSec events per second with the same burst.
func NewThrottle(perSec int) *Throttle {
	if perSec < 1 {
		perSec = 1
	}
	return &Throttle{lim: rate.NewLimiter(rate.Limit(perSec), perSec)}
}

// Allow reports whether the caller should log now.
func (t *Throttle) Allow() bool {
	if t == nil || t.lim == nil {
		return true
	}
	return t.lim.Allow()
}
