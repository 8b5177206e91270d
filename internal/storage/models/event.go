package models

import "time"

// CalendarEvent is a synthesized, timezone-aware event derived from one
// reservation. Regenerating it from the same inputs yields an identical value.
type CalendarEvent struct {
	UID           string    `json:"uid"`
	ReservationID string    `json:"reservation_id"`
	PropertyID    string    `json:"property_id"`
	Summary       string    `json:"summary"`
	Description   string    `json:"description"`
	Location      string    `json:"location,omitempty"`
	Category      Category  `json:"category"`
	GuestName     string    `json:"guest_name,omitempty"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
}

// IsActive reports whether the event covers the given instant. Both
// boundaries are inclusive.
func (e CalendarEvent) IsActive(at time.Time) bool {
	return !at.Before(e.Start) && !at.After(e.End)
}

// Equal compares two events including the instants' locations.
func (e CalendarEvent) Equal(o CalendarEvent) bool {
	return e.UID == o.UID &&
		e.ReservationID == o.ReservationID &&
		e.PropertyID == o.PropertyID &&
		e.Summary == o.Summary &&
		e.Description == o.Description &&
		e.Location == o.Location &&
		e.Category == o.Category &&
		e.GuestName == o.GuestName &&
		e.Start.Equal(o.Start) && e.Start.Location().String() == o.Start.Location().String() &&
		e.End.Equal(o.End) && e.End.Location().String() == o.End.Location().String()
}

// SyncStatus constants
const (
	SyncStatusPending = "pending"
	SyncStatusSyncing = "syncing"
	SyncStatusSuccess = "success"
	SyncStatusError   = "error"
)

// SyncResult contains the results of refreshing one property's calendar.
type SyncResult struct {
	ID            string    `json:"id"`
	PropertyID    string    `json:"property_id"`
	PropertyName  string    `json:"property_name"`
	Reservations  int       `json:"reservations"`
	EventsCreated int       `json:"events_created"`
	EventsRemoved int       `json:"events_removed"`
	Skipped       int       `json:"skipped"`
	Status        string    `json:"status"`
	Error         error     `json:"-"`
	ErrorMessage  string    `json:"error,omitempty"`
	SyncedAt      time.Time `json:"synced_at"`
}
