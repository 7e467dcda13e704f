package opgate

import (
	"sync"
	"time"
)

// countdown produces "time remaining until deadline" ticks at a fixed
// interval. The callback receives the remaining duration clamped at
// zero; after the zero tick the countdown stops itself. Stop is safe
// to call more than once and from the callback.
type countdown struct {
	stop chan struct{}
	once sync.Once
}

// startCountdown begins ticking immediately-ish: the first tick fires
// after one interval. remaining is computed from nowFunc so tests can
// pin the clock.
func startCountdown(deadline time.Time, interval time.Duration, nowFunc func() time.Time, fn func(remaining time.Duration)) *countdown {
	c := &countdown{stop: make(chan struct{})}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				remaining := deadline.Sub(nowFunc())
				if remaining <= 0 {
					fn(0)
					c.Stop()
					return
				}
				fn(remaining)
			}
		}
	}()

	return c
}

// Stop cancels the countdown. Ticks never fire after Stop returns the
// first time, except a tick already in flight.
func (c *countdown) Stop() {
	c.once.Do(func() { close(c.stop) })
}
