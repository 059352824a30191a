// Package eventloop implements the broker's single-threaded cooperative
// scheduler: a delay-sorted task list plus a pluggable Blocker that waits
// for transport I/O or the next task's deadline, whichever comes first.
//
// The delta-encoded task list (each entry storing only the time since the
// previous entry's deadline, so firing a batch of expired entries is a
// single subtraction) is ported from original_source/sdk/src/event_loop.c.
// Go has no client-go import in this module (k8s.io/* was dropped
// entirely, see DESIGN.md), so this is a hand implementation in the
// teacher's idiom rather than a reused delayed-queue package; the shape
// of a type carrying its own "ready at" ordering is nonetheless the same
// idea multicluster/service-mirror/cluster_watcher.go leans on via
// client-go's workqueue.
package eventloop

import (
	"container/list"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Blocker waits up to timeout for transport I/O to become ready, running
// any immediate side effects (e.g. draining a socket read into pending
// requests) before returning. A zero timeout means "don't block, just
// poll." Implementations must not block longer than timeout.
type Blocker func(timeout time.Duration)

// task is one scheduled unit of work. delay is stored relative to the
// previous entry in the list, not as an absolute deadline: firing all due
// entries is then a single walk that subtracts elapsed time once and pops
// everything whose delay has reached zero.
type task struct {
	delay time.Duration
	fn    func()
}

// Loop is the single-threaded scheduler. All of its methods except Stop
// are meant to be called from the one goroutine running Run;
// Schedule/ScheduleAfter may also be called from task callbacks
// themselves (still the same goroutine) to chain follow-up work. Stop may
// be called from any goroutine.
type Loop struct {
	tasks   *list.List // of *task, delay-delta sorted ascending
	blocker Blocker
	log     *logrus.Entry
	stop    atomic.Bool
}

// New constructs a Loop that uses blocker to wait between ticks. If
// blocker is nil, Run sleeps until the next task is due instead.
func New(blocker Blocker, log *logrus.Entry) *Loop {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Loop{
		tasks:   list.New(),
		blocker: blocker,
		log:     log,
	}
}

// Schedule enqueues fn to run on the next tick, ahead of any pending
// delayed task.
func (l *Loop) Schedule(fn func()) {
	l.insert(0, fn)
}

// ScheduleAfter enqueues fn to run no earlier than delay from now.
func (l *Loop) ScheduleAfter(delay time.Duration, fn func()) {
	l.insert(delay, fn)
}

// insert walks the delta-encoded list from the head, subtracting each
// entry's delay from the remaining budget until it finds where the new
// entry belongs, then splits the following entry's delay so the total
// elapsed-to-deadline for every later entry is unchanged. This is the
// same technique original_source/sdk/src/event_loop.c uses for
// ds_schedule_delayed.
func (l *Loop) insert(delay time.Duration, fn func()) {
	remaining := delay
	for e := l.tasks.Front(); e != nil; e = e.Next() {
		t := e.Value.(*task)
		if remaining < t.delay {
			t.delay -= remaining
			l.tasks.InsertBefore(&task{delay: remaining, fn: fn}, e)
			return
		}
		remaining -= t.delay
	}
	l.tasks.PushBack(&task{delay: remaining, fn: fn})
}

// Stop requests Run to return once the current tick finishes.
func (l *Loop) Stop() {
	l.stop.Store(true)
}

// Run drives the loop until Stop is called. Each iteration: compute how
// long until the next task is due, block the blocker for that long (or
// until the blocker's own I/O wakes it early), subtract the elapsed time
// from the head of the list, then pop and run every task whose delay has
// reached zero.
func (l *Loop) Run() {
	last := time.Time{}
	for !l.stop.Load() {
		wait := l.nextDeadline()

		start := time.Now()
		if l.blocker != nil {
			l.blocker(wait)
		} else if wait > 0 {
			time.Sleep(wait)
		}
		elapsed := time.Since(start)
		if !last.IsZero() {
			elapsed = time.Since(last)
		}
		last = time.Now()

		l.tick(elapsed)
	}
}

// nextDeadline reports how long until the head of the task list is due,
// or a modest idle wait if the list is empty so the blocker still gets a
// chance to notice transport I/O.
func (l *Loop) nextDeadline() time.Duration {
	if front := l.tasks.Front(); front != nil {
		return front.Value.(*task).delay
	}
	return 100 * time.Millisecond
}

// tick subtracts elapsed from the head task's delay and runs every task
// that has now reached (or passed) zero, in order.
func (l *Loop) tick(elapsed time.Duration) {
	if front := l.tasks.Front(); front != nil {
		front.Value.(*task).delay -= elapsed
	}

	for {
		front := l.tasks.Front()
		if front == nil {
			return
		}
		t := front.Value.(*task)
		if t.delay > 0 {
			return
		}
		l.tasks.Remove(front)
		// Carry any overshoot (a negative delay) into the next entry's
		// delta so entries whose deadline also passed fire in this tick.
		if next := l.tasks.Front(); next != nil {
			next.Value.(*task).delay += t.delay
		}
		l.runTask(t)
	}
}

// runTask invokes fn, recovering a panic into a log line so one bad task
// can't take down the whole loop.
func (l *Loop) runTask(t *task) {
	defer func() {
		if r := recover(); r != nil {
			l.log.WithField("panic", r).Error("eventloop: task panicked")
		}
	}()
	t.fn()
}

// Pending reports the number of tasks still queued, for tests and
// metrics.
func (l *Loop) Pending() int {
	return l.tasks.Len()
}
