package models

import "time"

// OccupancyStatus is the state of a property's occupancy machine.
type OccupancyStatus string

// OccupancyStatus constants
const (
	OccupancyUninitialized OccupancyStatus = "uninitialized"
	OccupancyPending       OccupancyStatus = "pending"
	OccupancyOccupied      OccupancyStatus = "occupied"
	OccupancyUnoccupied    OccupancyStatus = "unoccupied"
	OccupancyUnavailable   OccupancyStatus = "unavailable"
)

// Resolved reports whether the status carries a trustworthy answer.
func (s OccupancyStatus) Resolved() bool {
	return s == OccupancyOccupied || s == OccupancyUnoccupied
}

// OccupancyState is the occupancy snapshot of one property.
type OccupancyState struct {
	PropertyID    string          `json:"property_id"`
	Status        OccupancyStatus `json:"status"`
	IsOccupied    bool            `json:"is_occupied"`
	CurrentEvent  *CalendarEvent  `json:"current_event,omitempty"`
	NextEvent     *CalendarEvent  `json:"next_event,omitempty"`
	RetryCount    int             `json:"retry_count"`
	LastKnownGood *OccupancyState `json:"last_known_good,omitempty"`
	EvaluatedAt   time.Time       `json:"evaluated_at"`
}

// OccupancyTransition is a recorded status change.
type OccupancyTransition struct {
	ID         string          `json:"id"`
	PropertyID string          `json:"property_id"`
	From       OccupancyStatus `json:"from"`
	To         OccupancyStatus `json:"to"`
	EventUID   *string         `json:"event_uid,omitempty"`
	RetryCount int             `json:"retry_count"`
	At         time.Time       `json:"at"`
}
