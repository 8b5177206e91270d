package occupancy

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rental-occupancy/backend/internal/calendar"
	"github.com/rental-occupancy/backend/internal/storage"
	"github.com/rental-occupancy/backend/internal/storage/models"
	"github.com/rental-occupancy/backend/internal/websocket"
)

// Publisher pushes occupancy and calendar state to the home automation host.
type Publisher interface {
	PublishOccupancy(ctx context.Context, p models.Property, st models.OccupancyState, attrs map[string]string) error
	PublishCalendar(ctx context.Context, p models.Property, current, next *models.CalendarEvent) error
}

const publishTimeout = 10 * time.Second

// publishJob is the latest state waiting to be pushed to the host.
type publishJob struct {
	property models.Property
	state    models.OccupancyState
	attrs    map[string]string
}

type entry struct {
	store   *calendar.Store
	machine *Machine
	cancel  func()
}

// Manager runs one machine per property store and fans its changes out to
// history, WebSocket clients and the host.
type Manager struct {
	registry    *calendar.Registry
	history     *storage.OccupancyRepository
	broadcaster *websocket.EventBroadcaster
	publisher   Publisher
	clock       Clock
	retry       RetryConfig
	fallback    *time.Location

	mu       sync.RWMutex
	machines map[string]*entry
	stopped  bool

	// Host publishing runs on its own goroutine; only the newest state per
	// property is queued.
	pubMu      sync.Mutex
	pending    map[string]publishJob
	order      []string
	wake       chan struct{}
	pubCtx     context.Context
	pubCancel  context.CancelFunc
	workerDone chan struct{}
}

// NewManager creates a manager. history, hub and publisher may be nil.
func NewManager(
	registry *calendar.Registry,
	history *storage.OccupancyRepository,
	hub *websocket.Hub,
	publisher Publisher,
	clock Clock,
	retry RetryConfig,
	fallback *time.Location,
) *Manager {
	var broadcaster *websocket.EventBroadcaster
	if hub != nil {
		broadcaster = websocket.NewEventBroadcaster(hub)
	}
	if fallback == nil {
		fallback = time.UTC
	}
	pubCtx, pubCancel := context.WithCancel(context.Background())
	return &Manager{
		registry:    registry,
		history:     history,
		broadcaster: broadcaster,
		publisher:   publisher,
		clock:       clock,
		retry:       retry,
		fallback:    fallback,
		machines:    make(map[string]*entry),
		pending:     make(map[string]publishJob),
		wake:        make(chan struct{}, 1),
		pubCtx:      pubCtx,
		pubCancel:   pubCancel,
	}
}

// Start attaches a machine to every existing store and to each store the
// registry creates later.
func (m *Manager) Start() {
	if m.publisher != nil {
		m.workerDone = make(chan struct{})
		go m.publishLoop()
	}
	m.registry.OnAdd(m.attach)
	for _, st := range m.registry.List() {
		m.attach(st)
	}
}

// Stop tears down every machine and subscription.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	entries := make([]*entry, 0, len(m.machines))
	for _, e := range m.machines {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	for _, e := range entries {
		e.cancel()
		e.machine.Stop()
	}

	m.pubCancel()
	if m.workerDone != nil {
		<-m.workerDone
	}
}

func (m *Manager) attach(st *calendar.Store) {
	id := st.PropertyID()
	machine := NewMachine(id, st, m.clock, m.retry, func(prev, cur models.OccupancyState) {
		m.handleChange(st, prev, cur)
	})
	e := &entry{store: st, machine: machine, cancel: st.Subscribe(machine.Notify)}

	m.mu.Lock()
	if _, ok := m.machines[id]; ok || m.stopped {
		m.mu.Unlock()
		e.cancel()
		return
	}
	m.machines[id] = e
	m.mu.Unlock()

	machine.Start()
}

// State returns the occupancy of one property.
func (m *Manager) State(propertyID string) (models.OccupancyState, bool) {
	m.mu.RLock()
	e, ok := m.machines[propertyID]
	m.mu.RUnlock()
	if !ok {
		return models.OccupancyState{}, false
	}
	return e.machine.State(), true
}

// Attributes returns the published attributes of one property.
func (m *Manager) Attributes(propertyID string) (map[string]string, bool) {
	m.mu.RLock()
	e, ok := m.machines[propertyID]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return Attributes(e.machine.State(), e.store.Property().Location(m.fallback)), true
}

// States returns every property's occupancy ordered by property id.
func (m *Manager) States() []models.OccupancyState {
	m.mu.RLock()
	out := make([]models.OccupancyState, 0, len(m.machines))
	for _, e := range m.machines {
		out = append(out, e.machine.State())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].PropertyID < out[j].PropertyID })
	return out
}

// Refresh re-evaluates every machine now.
func (m *Manager) Refresh() {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.machines))
	for _, e := range m.machines {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	for _, e := range entries {
		e.machine.Notify()
	}
}

func (m *Manager) handleChange(st *calendar.Store, prev, cur models.OccupancyState) {
	p := st.Property()
	attrs := Attributes(cur, p.Location(m.fallback))

	if prev.Status != cur.Status && m.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		t := &models.OccupancyTransition{
			PropertyID: cur.PropertyID,
			From:       prev.Status,
			To:         cur.Status,
			RetryCount: cur.RetryCount,
			At:         cur.EvaluatedAt,
		}
		if cur.CurrentEvent != nil {
			uid := cur.CurrentEvent.UID
			t.EventUID = &uid
		}
		if err := m.history.Record(ctx, t); err != nil {
			log.Warn().Err(err).Str("property_id", cur.PropertyID).Msg("recording occupancy transition")
		}
	}

	m.broadcaster.BroadcastOccupancyChanged(p.Name, prev, cur, attrs)

	if m.publisher != nil {
		m.enqueuePublish(publishJob{property: p, state: cur, attrs: attrs})
	}
}

func (m *Manager) enqueuePublish(job publishJob) {
	id := job.state.PropertyID
	m.pubMu.Lock()
	if _, queued := m.pending[id]; !queued {
		m.order = append(m.order, id)
	}
	m.pending[id] = job
	m.pubMu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) nextPublish() (publishJob, bool) {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()
	if len(m.order) == 0 {
		return publishJob{}, false
	}
	id := m.order[0]
	m.order = m.order[1:]
	job := m.pending[id]
	delete(m.pending, id)
	return job, true
}

func (m *Manager) publishLoop() {
	defer close(m.workerDone)
	for {
		select {
		case <-m.pubCtx.Done():
			return
		case <-m.wake:
			for {
				job, ok := m.nextPublish()
				if !ok {
					break
				}
				m.publish(job)
			}
		}
	}
}

func (m *Manager) publish(job publishJob) {
	ctx, cancel := context.WithTimeout(m.pubCtx, publishTimeout)
	defer cancel()

	cur := job.state
	if err := m.publisher.PublishOccupancy(ctx, job.property, cur, job.attrs); err != nil {
		log.Warn().Err(err).Str("property_id", cur.PropertyID).Msg("publishing occupancy")
	}
	if cur.Status.Resolved() {
		if err := m.publisher.PublishCalendar(ctx, job.property, cur.CurrentEvent, cur.NextEvent); err != nil {
			log.Warn().Err(err).Str("property_id", cur.PropertyID).Msg("publishing calendar")
		}
	}
}
