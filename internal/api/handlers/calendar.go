package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rental-occupancy/backend/internal/api/middleware"
	"github.com/rental-occupancy/backend/internal/calendar"
	"github.com/rental-occupancy/backend/internal/homeassistant"
	"github.com/rental-occupancy/backend/internal/storage/models"
)

const defaultEventSpan = 30 * 24 * time.Hour

// ListEvents returns events overlapping ?start=&end=. Bounds are dates in
// the property's timezone or RFC 3339 timestamps; the default is the next
// 30 days.
func ListEvents(registry *calendar.Registry, now func() time.Time, fallback *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := storeFor(w, r, registry)
		if st == nil {
			return
		}
		loc := st.Property().Location(fallback)

		from := now()
		to := from.Add(defaultEventSpan)
		var err error
		if raw := r.URL.Query().Get("start"); raw != "" {
			if from, err = parseBound(raw, loc); err != nil {
				middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "start must be YYYY-MM-DD or RFC 3339")
				return
			}
		}
		if raw := r.URL.Query().Get("end"); raw != "" {
			if to, err = parseBound(raw, loc); err != nil {
				middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "end must be YYYY-MM-DD or RFC 3339")
				return
			}
		}
		if to.Before(from) {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "end is before start")
			return
		}

		events := st.EventsBetween(from, to)
		if events == nil {
			events = []models.CalendarEvent{}
		}
		writeJSON(w, http.StatusOK, events)
	}
}

// CalendarResponse is the calendar entity view of a property.
type CalendarResponse struct {
	EntityID string                 `json:"entity_id"`
	Ready    bool                   `json:"ready"`
	Active   bool                   `json:"active"`
	Current  *models.CalendarEvent  `json:"current,omitempty"`
	Next     *models.CalendarEvent  `json:"next,omitempty"`
	Upcoming []models.CalendarEvent `json:"upcoming"`
}

// GetCalendar returns whether an event is active plus the upcoming events
// (?limit=, default 10).
func GetCalendar(registry *calendar.Registry, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := storeFor(w, r, registry)
		if st == nil {
			return
		}
		limit, err := intParam(r, "limit", 10, 100)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, err.Error())
			return
		}

		at := now()
		current, next := st.CurrentAndNext(at)
		upcoming := st.Upcoming(at, limit)
		if upcoming == nil {
			upcoming = []models.CalendarEvent{}
		}
		writeJSON(w, http.StatusOK, CalendarResponse{
			EntityID: homeassistant.CalendarEntityID(st.Property()),
			Ready:    st.Ready(),
			Active:   current != nil,
			Current:  current,
			Next:     next,
			Upcoming: upcoming,
		})
	}
}

// ExportICS serves the property's events as an iCalendar feed.
func ExportICS(registry *calendar.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := storeFor(w, r, registry)
		if st == nil {
			return
		}
		if !st.Ready() {
			middleware.WriteError(w, http.StatusServiceUnavailable, middleware.ErrUnavailable, "Calendar not loaded yet")
			return
		}

		p := st.Property()
		var buf bytes.Buffer
		if err := calendar.WriteICS(&buf, p.Name, st.Events(), st.UpdatedAt()); err != nil {
			log.Error().Err(err).Str("property_id", p.ID).Msg("rendering ics")
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to render calendar")
			return
		}

		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s.ics"`, homeassistant.Slug(p.Name)))
		w.Write(buf.Bytes())
	}
}
