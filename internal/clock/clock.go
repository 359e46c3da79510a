// Package clock provides the time source and cancellable scheduled tasks used
// by autosave debouncing and cache refetch coalescing.
//
// Production code uses Real. Tests use Fake, which only fires tasks when the
// test advances time, so debounce behaviour can be checked without sleeping.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Cancel stops a scheduled task. It reports whether the task was stopped
// before it ran. Calling it more than once is safe.
type Cancel func() bool

// Clock is a time source that can schedule work.
type Clock interface {
	Now() time.Time

	// AfterFunc runs f once d has elapsed. f runs on its own goroutine
	// for Real and on the advancing goroutine for Fake.
	AfterFunc(d time.Duration, f func()) Cancel
}

// Real is the wall clock.
type Real struct{}

// Now implements Clock.Now.
func (Real) Now() time.Time { return time.Now() }

// AfterFunc implements Clock.AfterFunc.
func (Real) AfterFunc(d time.Duration, f func()) Cancel {
	t := time.AfterFunc(d, f)
	return t.Stop
}

// Fake is a manually advanced clock.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	nextID int
	tasks  map[int]*fakeTask
}

type fakeTask struct {
	id  int
	at  time.Time
	run func()
}

// NewFake returns a Fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start, tasks: make(map[int]*fakeTask)}
}

// Now implements Clock.Now.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// AfterFunc implements Clock.AfterFunc.
func (f *Fake) AfterFunc(d time.Duration, fn func()) Cancel {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := f.nextID
	f.tasks[id] = &fakeTask{id: id, at: f.now.Add(d), run: fn}

	return func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.tasks[id]; !ok {
			return false
		}
		delete(f.tasks, id)
		return true
	}
}

// Advance moves time forward by d, running every task that comes due in
// schedule order. Tasks scheduled by running tasks also fire if they fall
// inside the window.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		next := f.nextDue(target)
		if next == nil {
			f.now = target
			f.mu.Unlock()
			return
		}
		delete(f.tasks, next.id)
		f.now = next.at
		f.mu.Unlock()

		next.run()
	}
}

// Pending returns how many tasks are scheduled and not yet run.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

// nextDue returns the earliest task due at or before target. Caller holds mu.
func (f *Fake) nextDue(target time.Time) *fakeTask {
	var due []*fakeTask
	for _, t := range f.tasks {
		if !t.at.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].id < due[j].id
		}
		return due[i].at.Before(due[j].at)
	})
	return due[0]
}
