package calendar

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/rental-occupancy/backend/internal/storage/models"
	"github.com/rental-occupancy/backend/internal/vacasa"
	"github.com/rental-occupancy/backend/internal/websocket"
)

// Job names.
const (
	JobRefresh      = "refresh"
	JobCacheCleanup = "cache_cleanup"
)

// Scheduler runs the periodic reservation refresh.
type Scheduler struct {
	cron        *cron.Cron
	syncService *SyncService
	broadcaster *websocket.EventBroadcaster
	cleanup     func(ctx context.Context) error

	// Track jobs by name
	jobs   map[string]cron.EntryID
	jobsMu sync.RWMutex

	// Manual and scheduled refreshes never overlap
	syncMu sync.Mutex

	interval time.Duration
	lastRun  []models.SyncResult
	lastMu   sync.RWMutex
}

// NewScheduler creates a scheduler refreshing every intervalHours hours
// (clamped to 1 to 24, default 8). cleanup, when non-nil, runs every 15
// minutes to purge expired cache rows.
func NewScheduler(
	syncService *SyncService,
	hub *websocket.Hub,
	intervalHours int,
	cleanup func(ctx context.Context) error,
) *Scheduler {
	var broadcaster *websocket.EventBroadcaster
	if hub != nil {
		broadcaster = websocket.NewEventBroadcaster(hub)
	}

	return &Scheduler{
		cron: cron.New(cron.WithSeconds(), cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
		)),
		syncService: syncService,
		broadcaster: broadcaster,
		cleanup:     cleanup,
		jobs:        make(map[string]cron.EntryID),
		interval:    time.Duration(ClampRefreshHours(intervalHours)) * time.Hour,
	}
}

// ClampRefreshHours keeps the refresh interval within 1 to 24 hours.
func ClampRefreshHours(h int) int {
	switch {
	case h <= 0:
		return 8
	case h > 24:
		return 24
	default:
		return h
	}
}

// Start schedules the jobs and kicks off an initial refresh in the
// background so startup is not blocked on the vendor. Every job runs on
// ctx, so cancelling it aborts in-flight logins and requests.
func (s *Scheduler) Start(ctx context.Context) error {
	log.Info().Dur("interval", s.interval).Msg("starting calendar refresh scheduler")

	if err := s.addJob(JobRefresh, everySpec(s.interval), func() {
		s.runSync(ctx)
	}); err != nil {
		return err
	}
	if s.cleanup != nil {
		if err := s.addJob(JobCacheCleanup, everySpec(15*time.Minute), func() {
			if err := s.cleanup(ctx); err != nil {
				log.Warn().Err(err).Msg("cache cleanup failed")
			}
		}); err != nil {
			return err
		}
	}

	s.cron.Start()
	go s.runSync(ctx)
	return nil
}

// Stop gracefully shuts down the scheduler, waiting for running jobs.
func (s *Scheduler) Stop() {
	log.Info().Msg("stopping calendar refresh scheduler")
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info().Msg("calendar refresh scheduler stopped")
}

// SyncNow refreshes immediately and returns the per-property results.
func (s *Scheduler) SyncNow(ctx context.Context) ([]models.SyncResult, error) {
	return s.runSync(ctx)
}

// LastResults returns the results of the most recent refresh.
func (s *Scheduler) LastResults() []models.SyncResult {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return append([]models.SyncResult(nil), s.lastRun...)
}

// NextRun returns the next scheduled run of the named job.
func (s *Scheduler) NextRun(job string) *time.Time {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	if entryID, exists := s.jobs[job]; exists {
		entry := s.cron.Entry(entryID)
		if !entry.Next.IsZero() {
			return &entry.Next
		}
	}
	return nil
}

// Interval returns the refresh interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

func (s *Scheduler) addJob(name, spec string, fn func()) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	if existing, ok := s.jobs[name]; ok {
		s.cron.Remove(existing)
		delete(s.jobs, name)
	}
	id, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		log.Error().Err(err).Str("job", name).Msg("failed to schedule job")
		return err
	}
	s.jobs[name] = id
	log.Info().Str("job", name).Str("spec", spec).Msg("scheduled job")
	return nil
}

func (s *Scheduler) runSync(ctx context.Context) ([]models.SyncResult, error) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	started := time.Now()
	results, err := s.syncService.SyncAll(ctx)
	if err != nil {
		log.Error().Err(err).Msg("calendar refresh failed")
		if vacasa.IsAuthentication(err) {
			s.broadcaster.BroadcastAuthFailed(err)
		} else {
			s.broadcaster.BroadcastSyncError("", "", err)
		}
		return results, err
	}

	s.lastMu.Lock()
	s.lastRun = results
	s.lastMu.Unlock()

	for _, r := range results {
		if r.Error != nil {
			s.broadcaster.BroadcastSyncError(r.PropertyID, r.PropertyName, r.Error)
		} else {
			s.broadcaster.BroadcastSyncCompleted(r)
		}
	}
	log.Info().Int("properties", len(results)).Dur("took", time.Since(started)).Msg("calendar refresh completed")
	return results, nil
}

// everySpec converts an interval to a cron spec.
func everySpec(d time.Duration) string {
	if d <= 0 {
		d = 8 * time.Hour
	}
	return "@every " + d.String()
}
