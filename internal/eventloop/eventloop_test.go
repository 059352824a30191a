package eventloop

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// busyBlocker returns at once without real sleeping; the reordering tests
// drive tick with synthetic elapsed time, so they run in microseconds
// instead of actual milliseconds.
func busyBlocker(_ time.Duration) {}

func TestScheduleRunsInOrderOfDelay(t *testing.T) {
	loop := New(busyBlocker, nil)

	var mu sync.Mutex
	var order []string
	record := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	loop.ScheduleAfter(100*time.Millisecond, record("x"))
	loop.ScheduleAfter(10*time.Millisecond, record("y"))
	loop.ScheduleAfter(0, record("z"))

	// Drive ticks manually with synthetic elapsed time instead of
	// blocking on Run, which would require real wall-clock waits.
	loop.tick(0)
	loop.tick(10 * time.Millisecond)
	loop.tick(90 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"z", "y", "x"}, order)
}

func TestScheduleImmediateRunsAheadOfDelayed(t *testing.T) {
	loop := New(busyBlocker, nil)
	loop.ScheduleAfter(50*time.Millisecond, func() {})
	ran := false
	loop.Schedule(func() { ran = true })

	loop.tick(0)
	assert.True(t, ran)
}

func TestStopEndsRunAfterCurrentTask(t *testing.T) {
	loop := New(busyBlocker, nil)
	ticks := 0
	var task func()
	task = func() {
		ticks++
		if ticks >= 3 {
			loop.Stop()
			return
		}
		loop.Schedule(task)
	}
	loop.Schedule(task)

	done := make(chan struct{})
	go func() {
		loop.Run()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.Equal(t, 3, ticks)
}

func TestPanicInTaskDoesNotStopTheLoop(t *testing.T) {
	loop := New(busyBlocker, nil)
	ran := false
	loop.Schedule(func() { panic("boom") })
	loop.Schedule(func() { ran = true })

	loop.tick(0)
	assert.True(t, ran, "a task after a panicking one must still run")
}

func TestTaskScheduledDuringAnotherRunsBeforeNextBlock(t *testing.T) {
	loop := New(busyBlocker, nil)
	second := false
	loop.Schedule(func() {
		loop.Schedule(func() { second = true })
	})

	loop.tick(0)
	require.True(t, second, "a delay-0 task scheduled mid-tick must run before the loop blocks again")
}

func TestPendingReflectsQueueSize(t *testing.T) {
	loop := New(busyBlocker, nil)
	assert.Equal(t, 0, loop.Pending())
	loop.ScheduleAfter(time.Second, func() {})
	loop.ScheduleAfter(time.Millisecond, func() {})
	assert.Equal(t, 2, loop.Pending())
}
