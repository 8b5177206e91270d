package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/rental-occupancy/backend/internal/storage"
	"github.com/rental-occupancy/backend/internal/websocket"
)

// ConnectionChecker reports whether a dependency is reachable.
type ConnectionChecker interface {
	CheckConnection(ctx context.Context) error
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status        string `json:"status"`
	DBConnected   bool   `json:"db_connected"`
	SchemaVersion string `json:"schema_version,omitempty"`
	SessionState  string `json:"session_state,omitempty"`
	AuthRejected  bool   `json:"auth_rejected"`
	HAEnabled     bool   `json:"ha_enabled"`
	HAConnected   bool   `json:"ha_connected"`
	Clients       int    `json:"websocket_clients"`
}

// HealthCheck reports database, vendor session and Home Assistant status.
// A rejected vendor login degrades the service since no calendar can
// refresh until the credentials change. ha and session may be nil.
func HealthCheck(db *storage.DB, ha ConnectionChecker, session SessionReporter, hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		resp := HealthResponse{Status: "healthy", HAEnabled: ha != nil}
		if db != nil && db.PingContext(ctx) == nil {
			resp.DBConnected = true
			resp.SchemaVersion, _ = db.SchemaVersion(ctx)
		}
		if session != nil {
			info := session.Info()
			resp.SessionState = info.State
			resp.AuthRejected = info.Rejected
		}
		if ha != nil {
			resp.HAConnected = ha.CheckConnection(ctx) == nil
		}
		if hub != nil {
			resp.Clients = hub.ClientCount()
		}

		status := http.StatusOK
		if !resp.DBConnected || (resp.HAEnabled && !resp.HAConnected) || resp.AuthRejected {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}
