package pipeline

import (
	"time"

	"golang.org/x/time/rate"
)

// Throttle runs a callback at most once per interval. The first call always
// runs. A zero interval disables throttling.
type Throttle struct {
	s rate.Sometimes
}

func NewThrottle(interval time.Duration) *Throttle {
	if interval <= 0 {
		return &Throttle{s: rate.Sometimes{Every: 1}}
	}
	return &Throttle{s: rate.Sometimes{Interval: interval}}
}

func (t *Throttle) Do(f func()) {
	t.s.Do(f)
}
