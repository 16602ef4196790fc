// Package pollertest provides a manually driven clock and scheduler for
// poller tests.
package pollertest

import (
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/tour-checkout/internal/poller"
)

// Manual is a fake clock and scheduler. Callbacks run synchronously on the
// goroutine calling Advance or FireNext.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	nextID int
	timers []*manualTimer
}

type manualTimer struct {
	owner   *Manual
	id      int
	at      time.Time
	fn      func()
	stopped bool
}

// NewManual returns a Manual starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now implements poller.Clock.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AfterFunc implements poller.Scheduler.
func (m *Manual) AfterFunc(d time.Duration, f func()) poller.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	t := &manualTimer{owner: m, id: m.nextID, at: m.now.Add(d), fn: f}
	m.timers = append(m.timers, t)
	return t
}

// Stop implements poller.Timer.
func (t *manualTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	t.owner.removeLocked(t)
	return true
}

func (m *Manual) removeLocked(t *manualTimer) {
	for i, candidate := range m.timers {
		if candidate == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return
		}
	}
}

// Pending returns the number of timers not yet fired or stopped.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Advance moves the clock forward by d, firing due timers in order. Timers
// scheduled by fired callbacks also fire when they fall within the window.
func (m *Manual) Advance(d time.Duration) int {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	fired := 0
	for {
		t := m.popDue(target)
		if t == nil {
			break
		}
		t.fn()
		fired++
	}
	m.mu.Lock()
	if m.now.Before(target) {
		m.now = target
	}
	m.mu.Unlock()
	return fired
}

// FireNext jumps the clock to the earliest pending timer and fires it. It
// reports false when nothing is pending.
func (m *Manual) FireNext() bool {
	m.mu.Lock()
	if len(m.timers) == 0 {
		m.mu.Unlock()
		return false
	}
	m.sortLocked()
	at := m.timers[0].at
	m.mu.Unlock()
	t := m.popDue(at)
	if t == nil {
		return false
	}
	t.fn()
	return true
}

func (m *Manual) popDue(target time.Time) *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sortLocked()
	if len(m.timers) == 0 || m.timers[0].at.After(target) {
		return nil
	}
	t := m.timers[0]
	m.timers = m.timers[1:]
	t.stopped = true
	if t.at.After(m.now) {
		m.now = t.at
	}
	return t
}

func (m *Manual) sortLocked() {
	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].at.Equal(m.timers[j].at) {
			return m.timers[i].id < m.timers[j].id
		}
		return m.timers[i].at.Before(m.timers[j].at)
	})
}
