// Package sched provides cancellable timers behind a small interface so
// time-driven logic can be tested without wall-clock delays.
package sched

import (
	"sync"
	"time"
)

// Timer is a handle to a scheduled callback.
type Timer interface {
	// Stop cancels the timer. A stopped timer never fires again; a
	// callback already executing is not interrupted, which is why
	// callers guard callbacks with their own relevance checks.
	Stop()
}

// Scheduler schedules callbacks against some notion of time.
type Scheduler interface {
	// After runs fn once after d elapses.
	After(d time.Duration, fn func()) Timer

	// Every runs fn each time d elapses, until the timer is stopped.
	Every(d time.Duration, fn func()) Timer

	// Now returns the scheduler's current time.
	Now() time.Time
}

// Wall is the production scheduler backed by runtime timers.
type Wall struct{}

// NewWall returns the wall-clock scheduler.
func NewWall() Wall {
	return Wall{}
}

// After implements Scheduler.
func (Wall) After(d time.Duration, fn func()) Timer {
	return wallTimer{time.AfterFunc(d, fn)}
}

// Every implements Scheduler.
func (Wall) Every(d time.Duration, fn func()) Timer {
	ticker := time.NewTicker(d)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn()
			case <-done:
				return
			}
		}
	}()
	return &tickerTimer{done: done}
}

// Now implements Scheduler.
func (Wall) Now() time.Time {
	return time.Now()
}

type wallTimer struct {
	t *time.Timer
}

func (w wallTimer) Stop() {
	w.t.Stop()
}

type tickerTimer struct {
	once sync.Once
	done chan struct{}
}

func (t *tickerTimer) Stop() {
	t.once.Do(func() { close(t.done) })
}

var (
	_ Scheduler = Wall{}
	_ Scheduler = (*Manual)(nil)
)

// Manual is a deterministic scheduler driven entirely by Advance.
// Tests use it in place of Wall to simulate delays and intervals.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	entries []*manualEntry
}

type manualEntry struct {
	seq     int
	due     time.Time
	period  time.Duration // 0 means one-shot
	fn      func()
	stopped bool
}

// NewManual creates a manual scheduler starting at the given instant.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// After implements Scheduler.
func (m *Manual) After(d time.Duration, fn func()) Timer {
	return m.schedule(d, 0, fn)
}

// Every implements Scheduler.
func (m *Manual) Every(d time.Duration, fn func()) Timer {
	return m.schedule(d, d, fn)
}

// Now implements Scheduler.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) schedule(d, period time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &manualEntry{seq: m.seq, due: m.now.Add(d), period: period, fn: fn}
	m.seq++
	m.entries = append(m.entries, e)
	return manualTimer{m: m, e: e}
}

// Advance moves time forward by d, firing due callbacks in due order.
// Callbacks run without the scheduler lock, so they may schedule or stop
// timers themselves.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	for {
		e := m.nextDue(target)
		if e == nil {
			break
		}
		m.now = e.due
		if e.period > 0 {
			e.due = e.due.Add(e.period)
		} else {
			e.stopped = true
		}
		fn := e.fn
		m.mu.Unlock()
		fn()
		m.mu.Lock()
	}
	m.now = target
	m.compact()
	m.mu.Unlock()
}

// Pending returns the number of live scheduled entries.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if !e.stopped {
			n++
		}
	}
	return n
}

// nextDue returns the earliest live entry due at or before target,
// breaking ties by scheduling order. Caller holds the lock.
func (m *Manual) nextDue(target time.Time) *manualEntry {
	var best *manualEntry
	for _, e := range m.entries {
		if e.stopped || e.due.After(target) {
			continue
		}
		if best == nil || e.due.Before(best.due) || (e.due.Equal(best.due) && e.seq < best.seq) {
			best = e
		}
	}
	return best
}

// compact drops stopped entries. Caller holds the lock.
func (m *Manual) compact() {
	live := m.entries[:0]
	for _, e := range m.entries {
		if !e.stopped {
			live = append(live, e)
		}
	}
	m.entries = live
}

type manualTimer struct {
	m *Manual
	e *manualEntry
}

func (t manualTimer) Stop() {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.e.stopped = true
}
