// Package deferred implements work that is requested from indication
// handlers and executed later on a worker goroutine.
package deferred

import (
	"context"
	"sync/atomic"
)

// Task is a unit of deferred work. At most one execution of a Task is ever
// pending; scheduling an already pending Task is a no-op.
//
// The zero value is not usable, create Tasks with [NewTask].
type Task struct {
	fn      func()
	pending atomic.Bool
	kick    chan struct{}
	runs    atomic.Uint64
}

// NewTask returns a Task that calls fn each time it runs.
func NewTask(fn func()) *Task {
	if fn == nil {
		panic("deferred: nil task func")
	}
	return &Task{fn: fn, kick: make(chan struct{}, 1)}
}

// Schedule marks the task pending and wakes the worker. It never blocks and
// is safe to call from indication handlers. It reports whether this call
// scheduled the task, false meaning it was already pending.
func (t *Task) Schedule() bool {
	if !t.pending.CompareAndSwap(false, true) {
		return false
	}
	select {
	case t.kick <- struct{}{}:
	default:
	}
	return true
}

// Pending reports whether the task is scheduled and has not started running.
func (t *Task) Pending() bool { return t.pending.Load() }

// Runs returns how many times the task function has been executed.
func (t *Task) Runs() uint64 { return t.runs.Load() }

// Run executes the task every time it is scheduled until ctx is cancelled.
// Cancellation is not reported as an error.
func (t *Task) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.kick:
			t.exec()
		}
	}
}

// Flush runs the task on the calling goroutine if it is pending and reports
// whether it did.
func (t *Task) Flush() bool {
	if !t.pending.Load() {
		return false
	}
	select {
	case <-t.kick:
	default:
	}
	t.exec()
	return true
}

func (t *Task) exec() {
	// Clear before running so work arriving mid-run schedules another pass.
	t.pending.Store(false)
	t.runs.Add(1)
	t.fn()
}
