package engine

import "time"

// Scheduler abstracts timer creation so phase escalation is an explicit
// scheduled callback rather than a sleep chain, and so tests can drive
// expiry deterministically.
type Scheduler interface {
	// AfterFunc runs fn in its own goroutine after d. The returned cancel
	// reports whether the timer was stopped before firing.
	AfterFunc(d time.Duration, fn func()) (cancel func() bool)
}

// realScheduler delegates to time.AfterFunc.
type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, fn func()) func() bool {
	t := time.AfterFunc(d, fn)
	return t.Stop
}

// NewScheduler returns the production Scheduler.
func NewScheduler() Scheduler {
	return realScheduler{}
}

// phaseClock is the single per-auction timer. Rescheduling is
// cancel-and-reschedule: every arm bumps the generation, and a callback
// whose generation no longer matches is stale and must be ignored. The
// generation check happens under the engine's critical section, which is
// what keeps a timer firing from interleaving with a bid being accepted.
type phaseClock struct {
	sched    Scheduler
	gen      uint64
	cancel   func() bool
	deadline time.Time
}

// arm schedules fn to run after d, cancelling any pending callback. It
// returns the generation the callback must present to be considered live.
// Callers must hold the engine lock.
func (c *phaseClock) arm(d time.Duration, now time.Time, fn func(gen uint64)) uint64 {
	c.stop()
	c.gen++
	gen := c.gen
	c.deadline = now.Add(d)
	c.cancel = c.sched.AfterFunc(d, func() { fn(gen) })
	return gen
}

// stop cancels any pending callback and invalidates its generation. Callers
// must hold the engine lock.
func (c *phaseClock) stop() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
	c.deadline = time.Time{}
}

// live reports whether gen identifies the currently armed callback.
func (c *phaseClock) live(gen uint64) bool {
	return c.cancel != nil && gen == c.gen
}
