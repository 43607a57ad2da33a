package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPhaseClock_ArmTracksGeneration(t *testing.T) {
	sched := &fakeScheduler{}
	c := phaseClock{sched: sched}
	now := newTestClock().now()

	gen := c.arm(30*time.Second, now, func(uint64) {})

	assert.True(t, c.live(gen))
	assert.Equal(t, now.Add(30*time.Second), c.deadline)
}

func TestPhaseClock_RearmInvalidatesPrevious(t *testing.T) {
	sched := &fakeScheduler{}
	c := phaseClock{sched: sched}
	now := newTestClock().now()

	gen1 := c.arm(30*time.Second, now, func(uint64) {})
	gen2 := c.arm(10*time.Second, now, func(uint64) {})

	assert.False(t, c.live(gen1))
	assert.True(t, c.live(gen2))
	// The first timer was cancelled.
	sched.mu.Lock()
	defer sched.mu.Unlock()
	assert.True(t, sched.timers[0].stopped)
	assert.False(t, sched.timers[1].stopped)
}

func TestPhaseClock_StopInvalidatesEverything(t *testing.T) {
	sched := &fakeScheduler{}
	c := phaseClock{sched: sched}

	gen := c.arm(30*time.Second, newTestClock().now(), func(uint64) {})
	c.stop()

	assert.False(t, c.live(gen))
	assert.True(t, c.deadline.IsZero())
}

func TestPhaseClock_CallbackReceivesItsGeneration(t *testing.T) {
	sched := &fakeScheduler{}
	c := phaseClock{sched: sched}

	var got uint64
	want := c.arm(time.Second, newTestClock().now(), func(gen uint64) { got = gen })
	sched.fire(t)

	assert.Equal(t, want, got)
}
