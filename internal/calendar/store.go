package calendar

import (
	"sort"
	"sync"
	"time"

	"github.com/rental-occupancy/backend/internal/storage/models"
)

// Select applies the occupancy selection rule. An event is current when
// start <= now <= end; among overlapping current events the one ending
// first wins (ties broken by uid). Next is the soonest event starting
// strictly after now.
func Select(events []models.CalendarEvent, now time.Time) (current, next *models.CalendarEvent) {
	for i := range events {
		ev := &events[i]
		if ev.IsActive(now) {
			if current == nil || ev.End.Before(current.End) || (ev.End.Equal(current.End) && ev.UID < current.UID) {
				current = ev
			}
			continue
		}
		if ev.Start.After(now) {
			if next == nil || ev.Start.Before(next.Start) || (ev.Start.Equal(next.Start) && ev.UID < next.UID) {
				next = ev
			}
		}
	}
	return current, next
}

// Store holds the synthesized events of one property and tells subscribers
// when they change. A store is not ready until its first successful load.
type Store struct {
	mu        sync.RWMutex
	property  models.Property
	events    []models.CalendarEvent
	ready     bool
	updatedAt time.Time

	subsMu  sync.Mutex
	subs    map[int]func()
	nextSub int
}

// NewStore creates an empty, not-yet-ready store for p.
func NewStore(p models.Property) *Store {
	return &Store{property: p, subs: make(map[int]func())}
}

// PropertyID returns the owning property's id.
func (s *Store) PropertyID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.property.ID
}

// Property returns the property snapshot the events were built from.
func (s *Store) Property() models.Property {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.property
}

// SetProperty replaces the property snapshot.
func (s *Store) SetProperty(p models.Property) {
	s.mu.Lock()
	s.property = p
	s.mu.Unlock()
}

// Ready reports whether events have been loaded at least once.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// UpdatedAt is when events were last replaced.
func (s *Store) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Events returns a copy of all events in start order.
func (s *Store) Events() []models.CalendarEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.CalendarEvent, len(s.events))
	copy(out, s.events)
	return out
}

// EventsBetween returns events overlapping [from, to].
func (s *Store) EventsBetween(from, to time.Time) []models.CalendarEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.CalendarEvent
	for _, ev := range s.events {
		if !ev.End.Before(from) && !ev.Start.After(to) {
			out = append(out, ev)
		}
	}
	return out
}

// Upcoming returns up to limit events that have not ended at now, current
// ones included. limit <= 0 returns all of them.
func (s *Store) Upcoming(now time.Time, limit int) []models.CalendarEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.CalendarEvent
	for _, ev := range s.events {
		if ev.End.Before(now) {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Active reports whether any event covers now.
func (s *Store) Active(now time.Time) bool {
	current, _ := s.CurrentAndNext(now)
	return current != nil
}

// CurrentAndNext applies Select to the stored events.
func (s *Store) CurrentAndNext(now time.Time) (current, next *models.CalendarEvent) {
	return Select(s.Events(), now)
}

// Replace swaps in a new event set and marks the store ready. Subscribers
// are notified when the set changed or the store just became ready.
func (s *Store) Replace(events []models.CalendarEvent, at time.Time) (added, removed int) {
	sorted := make([]models.CalendarEvent, len(events))
	copy(sorted, events)
	SortEvents(sorted)

	s.mu.Lock()
	added, removed = diffUIDs(s.events, sorted)
	changed := !s.ready || !sameEvents(s.events, sorted)
	s.events = sorted
	s.ready = true
	s.updatedAt = at
	s.mu.Unlock()

	if changed {
		s.notify()
	}
	return added, removed
}

// Subscribe registers fn to run after every change. The returned function
// removes the subscription.
func (s *Store) Subscribe(fn func()) (cancel func()) {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

func (s *Store) notify() {
	s.subsMu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subsMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func sameEvents(a, b []models.CalendarEvent) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func diffUIDs(old, cur []models.CalendarEvent) (added, removed int) {
	before := make(map[string]bool, len(old))
	for _, ev := range old {
		before[ev.UID] = true
	}
	after := make(map[string]bool, len(cur))
	for _, ev := range cur {
		after[ev.UID] = true
		if !before[ev.UID] {
			added++
		}
	}
	for uid := range before {
		if !after[uid] {
			removed++
		}
	}
	return added, removed
}

// Registry maps property ids to their stores.
type Registry struct {
	mu     sync.RWMutex
	stores map[string]*Store
	onAdd  []func(*Store)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{stores: make(map[string]*Store)}
}

// OnAdd registers fn to run whenever a new property store is created.
func (r *Registry) OnAdd(fn func(*Store)) {
	r.mu.Lock()
	r.onAdd = append(r.onAdd, fn)
	r.mu.Unlock()
}

// Ensure returns the store for p, creating it if needed. An existing store
// gets the new property snapshot.
func (r *Registry) Ensure(p models.Property) *Store {
	r.mu.Lock()
	if st, ok := r.stores[p.ID]; ok {
		r.mu.Unlock()
		st.SetProperty(p)
		return st
	}
	st := NewStore(p)
	r.stores[p.ID] = st
	hooks := append([]func(*Store){}, r.onAdd...)
	r.mu.Unlock()

	for _, fn := range hooks {
		fn(st)
	}
	return st
}

// Get returns the store for id, or nil.
func (r *Registry) Get(id string) *Store {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stores[id]
}

// List returns all stores ordered by property name, then id.
func (r *Registry) List() []*Store {
	r.mu.RLock()
	out := make([]*Store, 0, len(r.stores))
	for _, st := range r.stores {
		out = append(out, st)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		pi, pj := out[i].Property(), out[j].Property()
		if pi.Name != pj.Name {
			return pi.Name < pj.Name
		}
		return pi.ID < pj.ID
	})
	return out
}
