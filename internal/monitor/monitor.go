// Package monitor tracks whether named signals are fresh or stale.
package monitor

import (
	"math"
	"reflect"
	"sync/atomic"
	"time"

	"skstream/internal/delta"
)

// ChangeFunc reports whether next differs meaningfully from prev.
// It is only called once a previous value exists.
type ChangeFunc func(prev, next any) bool

// Tolerance treats numbers as changed when they move by more than tol
// and any other values when they are not deeply equal.
func Tolerance(tol float64) ChangeFunc {
	return func(prev, next any) bool {
		p, pok := delta.Float(prev)
		n, nok := delta.Float(next)
		if pok && nok {
			return math.Abs(n-p) > tol
		}
		return !reflect.DeepEqual(prev, next)
	}
}

// AnyArrival treats every observation as a change.
func AnyArrival(_, _ any) bool {
	return true
}

// Monitor is edge-triggered: the fresh flag moves only inside Update, Observe
// and CheckTimeout, and each of them reports whether it caused an edge.
//
// One goroutine drives it. Fresh, Name and LastUpdate may be read concurrently.
type Monitor struct {
	name    string
	timeout time.Duration
	changed ChangeFunc

	last       any
	hasLast    bool
	lastUpdate time.Time

	fresh          atomic.Bool
	lastUpdateNano atomic.Int64
}

// New returns a monitor that detects numeric changes beyond tolerance.
func New(name string, timeout time.Duration, tolerance float64) *Monitor {
	return NewWithChange(name, timeout, Tolerance(tolerance))
}

// NewHeartbeat returns a monitor that only cares that something arrived.
func NewHeartbeat(name string, timeout time.Duration) *Monitor {
	return NewWithChange(name, timeout, AnyArrival)
}

// NewWithChange returns a monitor with a custom change predicate.
func NewWithChange(name string, timeout time.Duration, changed ChangeFunc) *Monitor {
	if changed == nil {
		changed = AnyArrival
	}
	return &Monitor{name: name, timeout: timeout, changed: changed}
}

// Update records a new value. It returns true only when the monitor was
// stale and this value changed, making it fresh. An unchanged value does not
// refresh the timeout.
func (m *Monitor) Update(v any, now time.Time) bool {
	changed := !m.hasLast || m.changed(m.last, v)
	wasFresh := m.fresh.Load()
	if changed {
		m.last = v
		m.hasLast = true
		m.lastUpdate = now
		m.lastUpdateNano.Store(now.UnixNano())
		m.fresh.Store(true)
	}
	return !wasFresh && changed
}

// Observe records an arrival at now, regardless of content.
func (m *Monitor) Observe(now time.Time) bool {
	return m.Update(now, now)
}

// CheckTimeout marks the monitor stale once now is more than the timeout past
// the last change. It returns true only on the fresh to stale edge.
func (m *Monitor) CheckTimeout(now time.Time) bool {
	if !m.hasLast {
		return false
	}
	wasFresh := m.fresh.Load()
	if now.Sub(m.lastUpdate) > m.timeout {
		m.fresh.Store(false)
		return wasFresh
	}
	return false
}

// Reset forgets the last value and marks the monitor stale without reporting an edge.
func (m *Monitor) Reset() {
	m.last = nil
	m.hasLast = false
	m.lastUpdate = time.Time{}
	m.lastUpdateNano.Store(0)
	m.fresh.Store(false)
}

// Fresh reports the current flag.
func (m *Monitor) Fresh() bool {
	return m.fresh.Load()
}

// Name returns the monitored path.
func (m *Monitor) Name() string {
	return m.name
}

// Timeout returns the staleness threshold.
func (m *Monitor) Timeout() time.Duration {
	return m.timeout
}

// LastUpdate returns when the value last changed, or the zero time.
func (m *Monitor) LastUpdate() time.Time {
	n := m.lastUpdateNano.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
