package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rental-occupancy/backend/internal/storage"
	"github.com/rental-occupancy/backend/internal/storage/models"
	"github.com/rental-occupancy/backend/internal/vacasa"
)

// Fetcher is the subset of the vendor client the sync needs.
type Fetcher interface {
	ListProperties(ctx context.Context) ([]models.Property, error)
	ListReservations(ctx context.Context, unitID string, from, to time.Time) (vacasa.ReservationPage, error)
}

// PropertyPublisher receives every property after a successful fetch.
type PropertyPublisher interface {
	PublishProperty(ctx context.Context, p models.Property) error
}

// Window bounds the reservation query relative to now.
type Window struct {
	PastDays   int
	FutureDays int
}

// DefaultWindow looks 30 days back and a year ahead.
func DefaultWindow() Window {
	return Window{PastDays: vacasa.DefaultPastDays, FutureDays: vacasa.DefaultFutureDays}
}

// Range returns the window's bounds around now in loc.
func (w Window) Range(now time.Time, loc *time.Location) (time.Time, time.Time) {
	local := now.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return day.AddDate(0, 0, -w.PastDays), day.AddDate(0, 0, w.FutureDays)
}

// SyncService refreshes each property's calendar from the vendor.
type SyncService struct {
	fetcher  Fetcher
	synth    *Synthesizer
	registry *Registry
	events   *storage.EventRepository
	syncRuns *storage.SyncRunRepository
	window   Window
	now      func() time.Time
	props    PropertyPublisher
}

// NewSyncService creates a sync service. The repositories may be nil, in
// which case snapshots and run history are not persisted.
func NewSyncService(
	fetcher Fetcher,
	synth *Synthesizer,
	registry *Registry,
	events *storage.EventRepository,
	syncRuns *storage.SyncRunRepository,
	window Window,
) *SyncService {
	return &SyncService{
		fetcher:  fetcher,
		synth:    synth,
		registry: registry,
		events:   events,
		syncRuns: syncRuns,
		window:   window,
		now:      time.Now,
	}
}

// SetClock overrides the time source.
func (s *SyncService) SetClock(now func() time.Time) {
	s.now = now
}

// SetPropertyPublisher makes every SyncAll push the fetched properties to
// pub once their calendars are refreshed.
func (s *SyncService) SetPropertyPublisher(pub PropertyPublisher) {
	s.props = pub
}

// Registry returns the stores the service populates.
func (s *SyncService) Registry() *Registry {
	return s.registry
}

// RestoreSnapshots loads the last persisted events of every known property
// so calendars survive restarts.
func (s *SyncService) RestoreSnapshots(ctx context.Context, props []models.Property) error {
	if s.events == nil {
		return nil
	}
	for _, p := range props {
		st := s.registry.Ensure(p)
		if st.Ready() {
			continue
		}
		events, savedAt, err := s.events.Load(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("loading snapshot for %s: %w", p.ID, err)
		}
		if savedAt.IsZero() {
			continue
		}
		st.Replace(events, savedAt)
		log.Info().Str("property_id", p.ID).Int("events", len(events)).Time("saved_at", savedAt).Msg("restored calendar snapshot")
	}
	return nil
}

// SyncAll refreshes every property. A failure to list properties aborts
// the run; per-property failures are reported in the results.
func (s *SyncService) SyncAll(ctx context.Context) ([]models.SyncResult, error) {
	props, err := s.fetcher.ListProperties(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing properties: %w", err)
	}

	results := make([]models.SyncResult, 0, len(props))
	for _, p := range props {
		result, err := s.SyncProperty(ctx, p)
		if err != nil {
			log.Error().Err(err).Str("property_id", p.ID).Msg("calendar sync failed")
		}
		results = append(results, *result)
		if errors.Is(err, context.Canceled) {
			return results, err
		}
	}

	if s.props != nil {
		for _, p := range props {
			if err := s.props.PublishProperty(ctx, p); err != nil {
				log.Warn().Err(err).Str("property_id", p.ID).Msg("publishing property sensors")
			}
		}
	}
	return results, nil
}

// SyncProperty refreshes one property's events. On any failure the store
// keeps its previous events.
func (s *SyncService) SyncProperty(ctx context.Context, p models.Property) (*models.SyncResult, error) {
	st := s.registry.Ensure(p)
	now := s.now()
	result := &models.SyncResult{
		ID:           storage.GenerateID(),
		PropertyID:   p.ID,
		PropertyName: p.Name,
		Status:       models.SyncStatusSyncing,
		SyncedAt:     now.UTC(),
	}

	from, to := s.window.Range(now, p.Location(s.synth.fallback))
	page, err := s.fetcher.ListReservations(ctx, p.ID, from, to)
	if err != nil {
		return s.finish(ctx, result, err), err
	}
	result.Reservations = len(page.Reservations)
	result.Skipped = page.Skipped

	events, errs := s.synth.SynthesizeAll(page.Reservations, p)
	for _, e := range errs {
		log.Warn().Err(e).Str("property_id", p.ID).Msg("skipping reservation")
	}
	result.Skipped += len(errs)

	result.EventsCreated, result.EventsRemoved = st.Replace(events, now)

	if s.events != nil {
		if err := s.events.Save(ctx, p.ID, events, now); err != nil {
			log.Warn().Err(err).Str("property_id", p.ID).Msg("saving calendar snapshot")
		}
	}
	return s.finish(ctx, result, nil), nil
}

func (s *SyncService) finish(ctx context.Context, result *models.SyncResult, err error) *models.SyncResult {
	if err != nil {
		result.Status = models.SyncStatusError
		result.Error = err
		result.ErrorMessage = err.Error()
	} else {
		result.Status = models.SyncStatusSuccess
	}
	if s.syncRuns != nil {
		if rerr := s.syncRuns.Record(ctx, result); rerr != nil {
			log.Warn().Err(rerr).Msg("recording sync run")
		}
	}
	return result
}
