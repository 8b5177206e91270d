package handlers

import (
	"net/http"
	"time"

	"github.com/rental-occupancy/backend/internal/calendar"
	"github.com/rental-occupancy/backend/internal/storage/models"
)

// OccupancyReader is the read side of the occupancy manager.
type OccupancyReader interface {
	State(propertyID string) (models.OccupancyState, bool)
	Attributes(propertyID string) (map[string]string, bool)
	States() []models.OccupancyState
}

// PropertyResponse is a property with its calendar and occupancy status.
type PropertyResponse struct {
	models.Property
	CalendarReady bool                   `json:"calendar_ready"`
	EventCount    int                    `json:"event_count"`
	UpdatedAt     *time.Time             `json:"calendar_updated_at,omitempty"`
	Occupancy     *models.OccupancyState `json:"occupancy,omitempty"`
}

func propertyResponse(st *calendar.Store, occ OccupancyReader) PropertyResponse {
	resp := PropertyResponse{
		Property:      st.Property(),
		CalendarReady: st.Ready(),
		EventCount:    len(st.Events()),
	}
	if at := st.UpdatedAt(); !at.IsZero() {
		resp.UpdatedAt = &at
	}
	if occ != nil {
		if state, ok := occ.State(resp.ID); ok {
			resp.Occupancy = &state
		}
	}
	return resp
}

// ListProperties returns every known property.
func ListProperties(registry *calendar.Registry, occ OccupancyReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stores := registry.List()
		out := make([]PropertyResponse, 0, len(stores))
		for _, st := range stores {
			out = append(out, propertyResponse(st, occ))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// GetProperty returns a single property by ID.
func GetProperty(registry *calendar.Registry, occ OccupancyReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := storeFor(w, r, registry)
		if st == nil {
			return
		}
		writeJSON(w, http.StatusOK, propertyResponse(st, occ))
	}
}
