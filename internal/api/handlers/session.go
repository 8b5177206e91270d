package handlers

import (
	"net/http"

	"github.com/rental-occupancy/backend/internal/vacasa"
)

// SessionReporter exposes a redacted view of the vendor session.
type SessionReporter interface {
	Info() vacasa.SessionInfo
}

// GetSession returns the session state. Only a token prefix is exposed.
func GetSession(session SessionReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, session.Info())
	}
}
