package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rental-occupancy/backend/internal/api/middleware"
	"github.com/rental-occupancy/backend/internal/calendar"
	"github.com/rental-occupancy/backend/internal/storage"
	"github.com/rental-occupancy/backend/internal/storage/models"
)

// Refresher runs a calendar refresh immediately.
type Refresher interface {
	SyncNow(ctx context.Context) ([]models.SyncResult, error)
}

// CacheClearer drops cached vendor data.
type CacheClearer interface {
	ClearCache(ctx context.Context) error
}

// TokenInvalidator forgets the current vendor token.
type TokenInvalidator interface {
	Invalidate()
}

// RefreshResponse reports a manual refresh.
type RefreshResponse struct {
	Results []models.SyncResult `json:"results"`
}

// RefreshData refreshes every property now and re-evaluates occupancy.
func RefreshData(refresher Refresher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results, err := refresher.SyncNow(r.Context())
		if err != nil {
			log.Warn().Err(err).Msg("manual refresh failed")
			writeVendorError(w, err)
			return
		}
		if results == nil {
			results = []models.SyncResult{}
		}
		writeJSON(w, http.StatusOK, RefreshResponse{Results: results})
	}
}

// ClearCacheRequest selects what to clear.
type ClearCacheRequest struct {
	// Token also discards the cached vendor token, forcing a new login.
	Token bool `json:"token"`
}

// ClearCache drops the cached property list and optionally the token.
func ClearCache(cache CacheClearer, session TokenInvalidator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ClearCacheRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
				return
			}
		}

		if err := cache.ClearCache(r.Context()); err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to clear cache")
			return
		}
		if req.Token && session != nil {
			session.Invalidate()
		}
		log.Info().Bool("token", req.Token).Msg("vendor cache cleared")
		w.WriteHeader(http.StatusNoContent)
	}
}

// ListSyncRuns returns recent refresh results (?property_id=, ?limit=).
func ListSyncRuns(runs *storage.SyncRunRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := intParam(r, "limit", 50, 500)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, err.Error())
			return
		}
		out, err := runs.List(r.Context(), r.URL.Query().Get("property_id"), limit)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query sync runs")
			return
		}
		if out == nil {
			out = []models.SyncResult{}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// SchedulerInfo exposes the refresh schedule.
type SchedulerInfo interface {
	Interval() time.Duration
	NextRun(job string) *time.Time
	LastResults() []models.SyncResult
}

// SchedulerResponse describes the refresh schedule and the last run.
type SchedulerResponse struct {
	IntervalHours float64             `json:"interval_hours"`
	NextRefresh   *time.Time          `json:"next_refresh,omitempty"`
	NextCleanup   *time.Time          `json:"next_cleanup,omitempty"`
	LastResults   []models.SyncResult `json:"last_results"`
}

// GetScheduler returns when the next refresh runs and how the last went.
func GetScheduler(s SchedulerInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		last := s.LastResults()
		if last == nil {
			last = []models.SyncResult{}
		}
		writeJSON(w, http.StatusOK, SchedulerResponse{
			IntervalHours: s.Interval().Hours(),
			NextRefresh:   s.NextRun(calendar.JobRefresh),
			NextCleanup:   s.NextRun(calendar.JobCacheCleanup),
			LastResults:   last,
		})
	}
}
