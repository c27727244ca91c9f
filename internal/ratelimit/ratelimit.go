// Package ratelimit limits the rate of incoming action calls.
package ratelimit

import (
	"sync"

	"github.com/golang/glog"
	"golang.org/x/time/rate"
)

const (
	DefaultRate  = 20 // per second
	DefaultBurst = 40
)

// Limiter implements the middleware's Limiter interface. The zero value
// allows DefaultRate calls per second with bursts of DefaultBurst.
type Limiter struct {
	Rate  rate.Limit
	Burst int

	once sync.Once
	l    *rate.Limiter
}

// Limit returns true when the call must be rejected.
func (l *Limiter) Limit() bool {
	l.once.Do(func() {
		r, b := l.Rate, l.Burst
		if r == 0 {
			r = DefaultRate
		}

		if b == 0 {
			b = DefaultBurst
		}

		l.l = rate.NewLimiter(r, b)
	})

	if !l.l.Allow() {
		glog.Warningf("ratelimit: call rejected")
		return true
	}

	return false
}
