// Package handlers provides HTTP request handlers for the API endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/rental-occupancy/backend/internal/api/middleware"
	"github.com/rental-occupancy/backend/internal/calendar"
	"github.com/rental-occupancy/backend/internal/vacasa"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	json.NewEncoder(w).Encode(v)
}

// writeVendorError maps the vendor error taxonomy to HTTP responses.
// Messages come from the typed errors, which never carry secrets.
func writeVendorError(w http.ResponseWriter, err error) {
	switch {
	case vacasa.IsAuthentication(err), errors.Is(err, vacasa.ErrInvalidCredentials):
		middleware.WriteError(w, http.StatusBadGateway, middleware.ErrAuthentication, err.Error())
	case vacasa.IsTransient(err):
		middleware.WriteError(w, http.StatusServiceUnavailable, middleware.ErrUnavailable, err.Error())
	case vacasa.IsDataParse(err):
		middleware.WriteError(w, http.StatusBadGateway, middleware.ErrUpstream, err.Error())
	default:
		middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, err.Error())
	}
}

// storeFor resolves the {id} route variable, writing a 404 when unknown.
func storeFor(w http.ResponseWriter, r *http.Request, registry *calendar.Registry) *calendar.Store {
	id := mux.Vars(r)["id"]
	st := registry.Get(id)
	if st == nil {
		middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Property not found")
	}
	return st
}

func intParam(r *http.Request, name string, def, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	if max > 0 && n > max {
		n = max
	}
	return n, nil
}

// parseBound accepts a date (midnight in loc) or an RFC 3339 timestamp.
func parseBound(raw string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02", raw, loc); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}
