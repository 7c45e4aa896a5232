package sched

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"nodestack-go/x/timex"
)

// Loop is the single consumer of a stack's work. Radio interrupts and other
// goroutines Post closures; timers are scheduled closures ordered by due
// time. All closures run on the goroutine driving the loop, one at a time.
//
// A loop runs either against the wall clock (Run) or against a
// timex.Virtual clock (RunFor, RunUntil), which jumps straight to the
// next due timer.
type Loop struct {
	clock   timex.Clock
	virtual *timex.Virtual

	mu      sync.Mutex
	posted  []func()
	maxPost int
	h       timerHeap
	seq     uint64
	dropped uint64

	wake chan struct{}
}

const defaultPostQueue = 64

// New returns a loop reading time from clock. postQueue bounds the number
// of posted closures waiting to run (0 picks a default).
func New(clock timex.Clock, postQueue int) *Loop {
	if clock == nil {
		clock = timex.System{}
	}
	if postQueue <= 0 {
		postQueue = defaultPostQueue
	}
	l := &Loop{
		clock:   clock,
		maxPost: postQueue,
		wake:    make(chan struct{}, 1),
	}
	l.virtual, _ = clock.(*timex.Virtual)
	return l
}

// NewVirtual is New with a fresh virtual clock.
func NewVirtual() *Loop { return New(timex.NewVirtual(time.Time{}), 0) }

func (l *Loop) Now() time.Time { return l.clock.Now() }

// Virtual reports whether the loop runs on simulated time.
func (l *Loop) Virtual() bool { return l.virtual != nil }

// Post queues fn to run on the loop. It never blocks and may be called from
// any goroutine; it returns false when the queue is full.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if len(l.posted) >= l.maxPost {
		l.dropped++
		n := l.dropped
		l.mu.Unlock()
		glog.Warningf("[sched] post queue full, dropped %d", n)
		return false
	}
	l.posted = append(l.posted, fn)
	l.mu.Unlock()
	l.kick()
	return true
}

// Dropped is the number of rejected posts.
func (l *Loop) Dropped() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

func (l *Loop) kick() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// ---- timers ----

// Timer is a scheduled closure. The zero value is not usable.
type Timer struct {
	loop  *Loop
	due   time.Time
	seq   uint64
	fn    func()
	index int
}

// After schedules fn to run d from now. Timers with equal due times fire in
// the order they were scheduled.
func (l *Loop) After(d time.Duration, fn func()) *Timer {
	if d < 0 {
		d = 0
	}
	return l.At(l.Now().Add(d), fn)
}

// AfterFunc is After without a handle, for callers that never cancel.
func (l *Loop) AfterFunc(d time.Duration, fn func()) { l.After(d, fn) }

// At schedules fn at an absolute time.
func (l *Loop) At(due time.Time, fn func()) *Timer {
	l.mu.Lock()
	l.seq++
	t := &Timer{loop: l, due: due, seq: l.seq, fn: fn, index: -1}
	heap.Push(&l.h, t)
	l.mu.Unlock()
	l.kick()
	return t
}

// Stop cancels the timer. It reports whether the timer was still pending.
// Stop on a nil timer is a no-op.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	l := t.loop
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.index < 0 {
		return false
	}
	heap.Remove(&l.h, t.index)
	return true
}

func (t *Timer) Due() time.Time { return t.due }

// Pending reports whether the timer has neither fired nor been stopped.
func (t *Timer) Pending() bool {
	if t == nil {
		return false
	}
	t.loop.mu.Lock()
	defer t.loop.mu.Unlock()
	return t.index >= 0
}

type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}
func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x any)   { t := x.(*Timer); t.index = len(*h); *h = append(*h, t) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// ---- execution ----

// runPosted runs everything posted so far, including closures posted by
// the closures themselves. It reports whether anything ran.
func (l *Loop) runPosted() bool {
	ran := false
	for {
		l.mu.Lock()
		batch := l.posted
		l.posted = nil
		l.mu.Unlock()
		if len(batch) == 0 {
			return ran
		}
		for _, fn := range batch {
			fn()
		}
		ran = true
	}
}

// popDue removes the earliest timer if it is due at or before limit.
func (l *Loop) popDue(limit time.Time) *Timer {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.h) == 0 || l.h[0].due.After(limit) {
		return nil
	}
	return heap.Pop(&l.h).(*Timer)
}

func (l *Loop) next() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.h) == 0 {
		return time.Time{}, false
	}
	return l.h[0].due, true
}

// Run drives the loop against its clock until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	drainTimer(timer)

	for {
		l.runPosted()
		if t := l.popDue(l.Now()); t != nil {
			t.fn()
			continue
		}

		due, ok := l.next()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.wake:
				continue
			}
		}
		timer.Reset(due.Sub(l.Now()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
			drainTimer(timer)
		case <-timer.C:
		}
	}
}

func drainTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// RunFor advances a virtual loop by d, running everything that falls due.
// The clock ends exactly d after it started.
func (l *Loop) RunFor(d time.Duration) {
	l.mustVirtual()
	end := l.Now().Add(d)
	l.runUntil(end, nil)
	l.virtual.Set(end)
}

// RunUntil advances a virtual loop until cond holds or max has elapsed.
// It reports whether cond was met. The clock stops at the event that
// satisfied cond.
func (l *Loop) RunUntil(cond func() bool, max time.Duration) bool {
	l.mustVirtual()
	end := l.Now().Add(max)
	if l.runUntil(end, cond) {
		return true
	}
	l.virtual.Set(end)
	return cond()
}

// RunUntilIdle runs a virtual loop until nothing is posted and no timer is
// pending, or maxSteps closures have fired. It reports whether the loop
// went idle. Periodic work (a duty-cycled radio) never goes idle.
func (l *Loop) RunUntilIdle(maxSteps int) bool {
	l.mustVirtual()
	for i := 0; i < maxSteps; i++ {
		l.runPosted()
		due, ok := l.next()
		if !ok {
			return true
		}
		if t := l.popDue(due); t != nil {
			l.virtual.Set(t.due)
			t.fn()
		}
	}
	return false
}

func (l *Loop) runUntil(end time.Time, cond func() bool) bool {
	for {
		l.runPosted()
		if cond != nil && cond() {
			return true
		}
		t := l.popDue(end)
		if t == nil {
			return false
		}
		l.virtual.Set(t.due)
		t.fn()
	}
}

func (l *Loop) mustVirtual() {
	if l.virtual == nil {
		panic("sched: virtual run on a wall-clock loop")
	}
}
