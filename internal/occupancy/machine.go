// Package occupancy derives a per-property occupancy signal from the
// synthesized calendar, coordinating with a calendar source that may not be
// loaded yet.
package occupancy

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rental-occupancy/backend/internal/backoff"
	"github.com/rental-occupancy/backend/internal/calendar"
	"github.com/rental-occupancy/backend/internal/storage/models"
)

// ErrDependencyUnavailable means the calendar source has not loaded yet.
var ErrDependencyUnavailable = errors.New("calendar source not yet available")

// Source is the calendar a machine reads from.
type Source interface {
	Ready() bool
	Events() []models.CalendarEvent
}

// RetryConfig controls startup retries while the source is not ready.
type RetryConfig struct {
	Backoff    backoff.Config `yaml:"backoff" toml:"backoff"`
	MaxRetries int            `yaml:"max_retries" toml:"max_retries"`
}

// DefaultRetryConfig waits 2s, 4s and 8s before giving up.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Backoff: backoff.Config{
			InitialDelay: 2 * time.Second,
			Multiplier:   2,
			MaxDelay:     30 * time.Second,
		},
		MaxRetries: 3,
	}
}

// ChangeFunc receives every state change. It runs outside the machine's
// lock but must not call back into Notify, Start or Stop.
type ChangeFunc func(prev, cur models.OccupancyState)

type trigger int

const (
	triggerStart trigger = iota
	triggerRetry
	triggerNotify
	triggerBoundary
	triggerEvaluate
)

func (t trigger) String() string {
	switch t {
	case triggerStart:
		return "start"
	case triggerRetry:
		return "retry"
	case triggerNotify:
		return "notify"
	case triggerBoundary:
		return "boundary"
	default:
		return "evaluate"
	}
}

// Machine is the occupancy state machine of one property:
//
//	Uninitialized -> Pending(n) -> Occupied | Unoccupied
//	Pending(MaxRetries) -> Unavailable -> (notify) -> Pending | resolved
//
// Retries are timer driven; Notify re-evaluates immediately and cancels any
// scheduled retry. Resolved states re-evaluate themselves at the next
// instant occupancy could change.
type Machine struct {
	propertyID string
	source     Source
	clock      Clock
	retry      RetryConfig
	rng        *rand.Rand
	onChange   ChangeFunc

	// emitMu keeps callbacks in transition order.
	emitMu sync.Mutex

	mu            sync.Mutex
	state         models.OccupancyState
	retryTimer    Timer
	boundaryTimer Timer
	gen           uint64
	started       bool
	stopped       bool
}

// NewMachine creates a machine in the Uninitialized state. clock defaults
// to RealClock and onChange may be nil.
func NewMachine(propertyID string, source Source, clock Clock, retry RetryConfig, onChange ChangeFunc) *Machine {
	if clock == nil {
		clock = RealClock()
	}
	if retry.MaxRetries <= 0 {
		retry.MaxRetries = DefaultRetryConfig().MaxRetries
	}
	return &Machine{
		propertyID: propertyID,
		source:     source,
		clock:      clock,
		retry:      retry,
		onChange:   onChange,
		state: models.OccupancyState{
			PropertyID: propertyID,
			Status:     models.OccupancyUninitialized,
		},
	}
}

// SetRand makes retry jitter deterministic.
func (m *Machine) SetRand(r *rand.Rand) {
	m.mu.Lock()
	m.rng = r
	m.mu.Unlock()
}

// State returns the current snapshot.
func (m *Machine) State() models.OccupancyState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start performs the first evaluation. Calling it twice is a no-op.
func (m *Machine) Start() {
	m.run(func() bool {
		if m.started || m.stopped {
			return false
		}
		m.started = true
		return true
	}, triggerStart)
}

// Notify re-evaluates immediately, e.g. after the source changed or became
// available. A pending retry is cancelled first.
func (m *Machine) Notify() {
	m.run(m.live, triggerNotify)
}

// Evaluate re-evaluates at the clock's current time and returns the
// resulting state. Unlike Notify it does not reset a running retry budget.
func (m *Machine) Evaluate() models.OccupancyState {
	m.run(m.live, triggerEvaluate)
	return m.State()
}

// Stop cancels every timer. Callbacks firing afterwards do nothing.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	m.gen++
	m.cancelRetry()
	m.cancelBoundary()
}

func (m *Machine) live() bool {
	return m.started && !m.stopped
}

// run evaluates under the lock when guard allows it, then emits the change
// outside the lock.
func (m *Machine) run(guard func() bool, t trigger) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	if !guard() {
		m.mu.Unlock()
		return
	}
	prev := m.state
	cur := m.transition(m.clock.Now(), t)
	m.mu.Unlock()

	if changed(prev, cur) {
		log.Debug().
			Str("property_id", m.propertyID).
			Str("trigger", t.String()).
			Str("from", string(prev.Status)).
			Str("to", string(cur.Status)).
			Int("retry_count", cur.RetryCount).
			Msg("occupancy state changed")
		if m.onChange != nil {
			m.onChange(prev, cur)
		}
	}
}

// transition computes and installs the next state. Callers hold m.mu.
func (m *Machine) transition(now time.Time, t trigger) models.OccupancyState {
	if m.source.Ready() {
		m.cancelRetry()
		m.resolve(now)
		return m.state
	}

	switch t {
	case triggerRetry:
		m.retryTimer = nil
		next := m.state.RetryCount + 1
		if next >= m.retry.MaxRetries {
			m.becomeUnavailable(now, next)
		} else {
			m.becomePending(now, next)
		}
	case triggerStart, triggerNotify:
		m.cancelRetry()
		m.becomePending(now, 0)
	default:
		// Boundary or explicit evaluation without data: a running retry
		// sequence keeps its budget; an idle machine starts one.
		if m.retryTimer == nil && m.state.Status != models.OccupancyUnavailable {
			m.becomePending(now, 0)
		}
	}
	return m.state
}

func (m *Machine) resolve(now time.Time) {
	events := m.source.Events()
	current, next := calendar.Select(events, now)

	st := models.OccupancyState{
		PropertyID:  m.propertyID,
		Status:      models.OccupancyUnoccupied,
		EvaluatedAt: now,
	}
	if current != nil {
		c := *current
		st.CurrentEvent = &c
		st.IsOccupied = true
		st.Status = models.OccupancyOccupied
	}
	if next != nil {
		n := *next
		st.NextEvent = &n
	}
	good := st
	st.LastKnownGood = &good
	m.state = st

	m.scheduleBoundary(now, current, next)
}

func (m *Machine) becomePending(now time.Time, retries int) {
	m.cancelBoundary()
	m.state = models.OccupancyState{
		PropertyID:    m.propertyID,
		Status:        models.OccupancyPending,
		RetryCount:    retries,
		LastKnownGood: m.state.LastKnownGood,
		EvaluatedAt:   now,
	}
	delay := backoff.NextDelay(m.retry.Backoff, retries+1, m.rng)
	gen := m.gen
	m.retryTimer = m.clock.AfterFunc(delay, func() { m.fire(gen, triggerRetry) })
}

func (m *Machine) becomeUnavailable(now time.Time, retries int) {
	m.cancelBoundary()
	m.state = models.OccupancyState{
		PropertyID:    m.propertyID,
		Status:        models.OccupancyUnavailable,
		RetryCount:    retries,
		LastKnownGood: m.state.LastKnownGood,
		EvaluatedAt:   now,
	}
	log.Warn().Str("property_id", m.propertyID).Int("retries", retries).Err(ErrDependencyUnavailable).Msg("occupancy unavailable")
}

// scheduleBoundary arms a timer for the next instant the answer can
// change: the next start, or just after the current event ends.
func (m *Machine) scheduleBoundary(now time.Time, current, next *models.CalendarEvent) {
	m.cancelBoundary()

	var at time.Time
	if next != nil {
		at = next.Start
	}
	if current != nil {
		end := current.End.Add(time.Nanosecond)
		if at.IsZero() || end.Before(at) {
			at = end
		}
	}
	if at.IsZero() {
		return
	}
	delay := at.Sub(now)
	if delay < 0 {
		delay = 0
	}
	gen := m.gen
	m.boundaryTimer = m.clock.AfterFunc(delay, func() { m.fire(gen, triggerBoundary) })
}

// fire runs a timer callback unless the machine was stopped or the timer
// was superseded.
func (m *Machine) fire(gen uint64, t trigger) {
	m.run(func() bool {
		return m.live() && gen == m.gen
	}, t)
}

func (m *Machine) cancelRetry() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
		m.gen++
	}
}

func (m *Machine) cancelBoundary() {
	if m.boundaryTimer != nil {
		m.boundaryTimer.Stop()
		m.boundaryTimer = nil
		m.gen++
	}
}

func changed(prev, cur models.OccupancyState) bool {
	if prev.Status != cur.Status || prev.RetryCount != cur.RetryCount || prev.IsOccupied != cur.IsOccupied {
		return true
	}
	return !sameEvent(prev.CurrentEvent, cur.CurrentEvent) || !sameEvent(prev.NextEvent, cur.NextEvent)
}

func sameEvent(a, b *models.CalendarEvent) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
