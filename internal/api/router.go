// Package api provides HTTP routing and handlers for the REST API.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/rental-occupancy/backend/internal/api/handlers"
	"github.com/rental-occupancy/backend/internal/api/middleware"
	"github.com/rental-occupancy/backend/internal/calendar"
	"github.com/rental-occupancy/backend/internal/storage"
	"github.com/rental-occupancy/backend/internal/websocket"
)

// Services are the dependencies the routes are built from. Nil optional
// fields disable the routes that need them.
type Services struct {
	DB        *storage.DB
	Hub       *websocket.Hub
	Registry  *calendar.Registry
	Occupancy handlers.OccupancyReader
	Session   interface {
		handlers.SessionReporter
		handlers.TokenInvalidator
	}
	Cache         handlers.CacheClearer
	Refresher     handlers.Refresher
	Scheduler     handlers.SchedulerInfo
	History       *storage.OccupancyRepository
	SyncRuns      *storage.SyncRunRepository
	HomeAssistant handlers.ConnectionChecker

	// Fallback is the timezone of properties that report none.
	Fallback *time.Location
	Now      func() time.Time

	AuthUsername     string
	AuthPasswordHash string
	StaticDir        string
}

// NewRouter creates and configures the HTTP router with all API routes.
func NewRouter(s Services) *mux.Router {
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.Fallback == nil {
		s.Fallback = time.UTC
	}

	r := mux.NewRouter()

	r.Use(middleware.Logging)
	r.Use(middleware.ErrorRecovery)
	r.Use(middleware.BasicAuth(s.AuthUsername, s.AuthPasswordHash, "/api/health"))

	api := r.PathPrefix("/api").Subrouter()

	var reporter handlers.SessionReporter
	if s.Session != nil {
		reporter = s.Session
	}
	api.HandleFunc("/health", handlers.HealthCheck(s.DB, s.HomeAssistant, reporter, s.Hub)).Methods("GET")
	if s.Hub != nil {
		api.HandleFunc("/ws", handlers.WebSocketUpgrade(s.Hub)).Methods("GET")
	}
	if s.Session != nil {
		api.HandleFunc("/session", handlers.GetSession(s.Session)).Methods("GET")
	}

	// Property and calendar endpoints
	api.HandleFunc("/properties", handlers.ListProperties(s.Registry, s.Occupancy)).Methods("GET")
	api.HandleFunc("/properties/{id}", handlers.GetProperty(s.Registry, s.Occupancy)).Methods("GET")
	api.HandleFunc("/properties/{id}/events", handlers.ListEvents(s.Registry, s.Now, s.Fallback)).Methods("GET")
	api.HandleFunc("/properties/{id}/calendar", handlers.GetCalendar(s.Registry, s.Now)).Methods("GET")
	api.HandleFunc("/properties/{id}/calendar.ics", handlers.ExportICS(s.Registry)).Methods("GET")

	// Occupancy endpoints
	if s.Occupancy != nil {
		api.HandleFunc("/occupancy", handlers.ListOccupancy(s.Occupancy)).Methods("GET")
		api.HandleFunc("/properties/{id}/occupancy", handlers.GetOccupancy(s.Occupancy)).Methods("GET")
	}
	if s.History != nil {
		api.HandleFunc("/properties/{id}/occupancy/history", handlers.OccupancyHistory(s.History)).Methods("GET")
	}

	// Services
	if s.Refresher != nil {
		api.HandleFunc("/services/refresh_data", handlers.RefreshData(s.Refresher)).Methods("POST")
	}
	if s.Cache != nil {
		var invalidator handlers.TokenInvalidator
		if s.Session != nil {
			invalidator = s.Session
		}
		api.HandleFunc("/services/clear_cache", handlers.ClearCache(s.Cache, invalidator)).Methods("POST")
	}
	if s.Scheduler != nil {
		api.HandleFunc("/scheduler", handlers.GetScheduler(s.Scheduler)).Methods("GET")
	}
	if s.SyncRuns != nil {
		api.HandleFunc("/sync-runs", handlers.ListSyncRuns(s.SyncRuns)).Methods("GET")
	}

	if s.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.StaticDir)))
	}

	return r
}
