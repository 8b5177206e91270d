package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/rental-occupancy/backend/internal/api/middleware"
	"github.com/rental-occupancy/backend/internal/storage"
	"github.com/rental-occupancy/backend/internal/storage/models"
)

// OccupancyResponse is the binary sensor view of a property.
type OccupancyResponse struct {
	models.OccupancyState
	Attributes map[string]string `json:"attributes"`
}

// GetOccupancy returns the occupancy state and attributes of a property.
func GetOccupancy(occ OccupancyReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		state, ok := occ.State(id)
		if !ok {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Property not found")
			return
		}
		attrs, _ := occ.Attributes(id)
		writeJSON(w, http.StatusOK, OccupancyResponse{OccupancyState: state, Attributes: attrs})
	}
}

// ListOccupancy returns the occupancy of every property.
func ListOccupancy(occ OccupancyReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, occ.States())
	}
}

// OccupancyHistory returns recent transitions of a property (?limit=,
// default 50).
func OccupancyHistory(history *storage.OccupancyRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := intParam(r, "limit", 50, 500)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, err.Error())
			return
		}
		transitions, err := history.ListByProperty(r.Context(), mux.Vars(r)["id"], limit)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query history")
			return
		}
		if transitions == nil {
			transitions = []models.OccupancyTransition{}
		}
		writeJSON(w, http.StatusOK, transitions)
	}
}
