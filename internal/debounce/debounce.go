// Package debounce turns flicker-prone per-tick perception signals into
// confirmed violations. Each (session, category) pair carries its own small
// state machine: a raw signal must persist past the category threshold before
// anything is emitted, and clearing before the threshold discards the pending
// state silently. Time is compared against an injected clock on every tick,
// so there are no real timers and the transitions are synchronously testable.
package debounce

import (
	"fmt"
	"sync"
	"time"

	"github.com/proctorwatch/backend/internal/metrics"
	"github.com/proctorwatch/backend/internal/session"
)

// Params fixes the debounce behaviour of one category.
type Params struct {
	// Threshold is how long the raw signal must persist before a violation
	// is confirmed. Zero means edge-triggered: the first active tick
	// confirms immediately.
	Threshold time.Duration

	// Cooldown is the minimum gap between repeated confirmations of an
	// edge-triggered category. Ignored for threshold > 0 categories, which
	// re-arm only once the signal clears.
	Cooldown time.Duration
}

// DefaultParams returns the declared category table.
func DefaultParams() map[session.EventType]Params {
	return map[session.EventType]Params{
		session.FaceNotDetected: {Threshold: 10 * time.Second},
		session.LookingAway:     {Threshold: 5 * time.Second},
		session.EyesClosed:      {Threshold: 30 * time.Second},
		session.PhoneDetected:   {Cooldown: 10 * time.Second},
		session.BookDetected:    {Cooldown: 10 * time.Second},
		session.DeviceDetected:  {Cooldown: 10 * time.Second},
		session.MultipleFaces:   {Cooldown: 10 * time.Second},
		session.AudioDetected:   {},
	}
}

// ParamsWithOverrides layers configured per-category thresholds and
// cooldowns (keyed by event type name) over the default table. Unknown
// category names are ignored.
func ParamsWithOverrides(thresholds, cooldowns map[string]time.Duration) map[session.EventType]Params {
	params := DefaultParams()
	for name, d := range thresholds {
		cat, ok := session.ParseEventType(name)
		if !ok {
			continue
		}
		if p, exists := params[cat]; exists {
			p.Threshold = d
			params[cat] = p
		}
	}
	for name, d := range cooldowns {
		cat, ok := session.ParseEventType(name)
		if !ok {
			continue
		}
		if p, exists := params[cat]; exists {
			p.Cooldown = d
			params[cat] = p
		}
	}
	return params
}

// Violation is a confirmed, duration-bearing violation ready to be appended.
type Violation struct {
	Category        session.EventType
	DurationSeconds float64
	Confidence      float64
	Description     string
	At              time.Time
}

type phase int

const (
	clear phase = iota
	pending
	suppressed
)

type categoryState struct {
	phase phase
	onset time.Time // valid while pending
	until time.Time // cooldown deadline for edge-triggered categories
}

// Machine debounces all categories of one session. Per-category state is
// ephemeral and dies with the machine; it never touches the event log.
type Machine struct {
	mu     sync.Mutex
	params map[session.EventType]Params
	cats   map[session.EventType]*categoryState
	now    func() time.Time
}

// NewMachine creates a machine with the given category table. A nil table
// means DefaultParams.
func NewMachine(params map[session.EventType]Params, now func() time.Time) *Machine {
	if params == nil {
		params = DefaultParams()
	}
	if now == nil {
		now = time.Now
	}
	return &Machine{
		params: params,
		cats:   make(map[session.EventType]*categoryState),
		now:    now,
	}
}

// Tick feeds one raw signal sample for a category. It returns a confirmed
// Violation and true when this tick crosses the category's threshold.
// Categories outside the table are ignored. Tick never blocks and never
// errors.
func (m *Machine) Tick(cat session.EventType, active bool, confidence float64) (Violation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.params[cat]
	if !ok {
		return Violation{}, false
	}

	st, ok := m.cats[cat]
	if !ok {
		st = &categoryState{}
		m.cats[cat] = st
	}

	now := m.now()
	edge := p.Threshold <= 0

	switch st.phase {
	case suppressed:
		if edge {
			// The cooldown window expires on the clock, signal or not:
			// a continuously visible object re-confirms each window.
			if now.Before(st.until) {
				return Violation{}, false
			}
			st.phase = clear
		} else {
			// Continuous categories re-arm only once the signal clears.
			if active {
				return Violation{}, false
			}
			st.phase = clear
			return Violation{}, false
		}
	case pending:
		if !active {
			// Cleared before the threshold: discard, emit nothing.
			st.phase = clear
			return Violation{}, false
		}
		if elapsed := now.Sub(st.onset); elapsed >= p.Threshold {
			st.phase = suppressed
			return m.confirm(cat, elapsed, confidence, now), true
		}
		return Violation{}, false
	}

	// clear
	if !active {
		return Violation{}, false
	}
	if edge {
		st.phase = suppressed
		st.until = now.Add(p.Cooldown)
		return m.confirm(cat, 0, confidence, now), true
	}
	st.phase = pending
	st.onset = now
	return Violation{}, false
}

func (m *Machine) confirm(cat session.EventType, elapsed time.Duration, confidence float64, now time.Time) Violation {
	metrics.ViolationsConfirmed.WithLabelValues(cat.String()).Inc()
	return Violation{
		Category:        cat,
		DurationSeconds: elapsed.Seconds(),
		Confidence:      confidence,
		Description:     fmt.Sprintf("%s confirmed after debounce", cat),
		At:              now,
	}
}

// Tracker owns one Machine per session and destroys it when the session
// ends. Different sessions and categories may tick concurrently; only ticks
// for the same session serialize on that machine's lock.
type Tracker struct {
	mu       sync.Mutex
	machines map[string]*Machine
	params   map[session.EventType]Params
	now      func() time.Time
}

// NewTracker creates a tracker. A nil params table means DefaultParams; a
// nil clock means time.Now.
func NewTracker(params map[session.EventType]Params, now func() time.Time) *Tracker {
	return &Tracker{
		machines: make(map[string]*Machine),
		params:   params,
		now:      now,
	}
}

// Tick routes one sample to the session's machine, creating it on first use.
func (t *Tracker) Tick(sessionID string, cat session.EventType, active bool, confidence float64) (Violation, bool) {
	t.mu.Lock()
	m, ok := t.machines[sessionID]
	if !ok {
		m = NewMachine(t.params, t.now)
		t.machines[sessionID] = m
	}
	t.mu.Unlock()

	return m.Tick(cat, active, confidence)
}

// Drop discards all debounce state for a session. Pending states vanish
// without emitting.
func (t *Tracker) Drop(sessionID string) {
	t.mu.Lock()
	delete(t.machines, sessionID)
	t.mu.Unlock()
}
