package websocket

import (
	"encoding/json"
	"time"
)

// MessageType identifies the type of WebSocket message.
type MessageType string

const (
	// Server -> Client event types
	TypeOccupancyChanged      MessageType = "occupancy.changed"
	TypeCalendarSyncCompleted MessageType = "calendar.sync_completed"
	TypeCalendarSyncError     MessageType = "calendar.sync_error"
	TypeSessionAuthFailed     MessageType = "session.auth_failed"
	TypeNotification          MessageType = "notification"

	// Client -> Server command types
	TypePing      MessageType = "ping"
	TypeSubscribe MessageType = "subscribe"

	// Server -> Client response types
	TypePong       MessageType = "pong"
	TypeSubscribed MessageType = "subscribed"
	TypeError      MessageType = "error"
)

// Message represents a WebSocket message envelope.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload"`
}

// NewMessage creates a new message with the current timestamp.
func NewMessage(msgType MessageType, payload any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// JSON serializes the message to JSON bytes.
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// OccupancyPayload is the payload for occupancy.changed events.
type OccupancyPayload struct {
	PropertyID     string            `json:"property_id"`
	PropertyName   string            `json:"property_name"`
	PreviousStatus string            `json:"previous_status"`
	Status         string            `json:"status"`
	IsOccupied     bool              `json:"is_occupied"`
	RetryCount     int               `json:"retry_count"`
	Attributes     map[string]string `json:"attributes,omitempty"`
}

// CalendarSyncPayload is the payload for calendar.sync_completed events.
type CalendarSyncPayload struct {
	PropertyID    string `json:"property_id"`
	PropertyName  string `json:"property_name"`
	Status        string `json:"status"`
	Reservations  int    `json:"reservations"`
	EventsCreated int    `json:"events_created"`
	EventsRemoved int    `json:"events_removed"`
	Skipped       int    `json:"skipped"`
}

// CalendarSyncErrorPayload is the payload for calendar.sync_error events.
type CalendarSyncErrorPayload struct {
	PropertyID   string `json:"property_id"`
	PropertyName string `json:"property_name"`
	Error        string `json:"error"`
	Message      string `json:"message"`
}

// SessionPayload is the payload for session.auth_failed events. Message
// never carries credentials.
type SessionPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NotificationPayload is the payload for notification events.
type NotificationPayload struct {
	Level       string `json:"level"` // info, warning, error, success
	Title       string `json:"title"`
	Message     string `json:"message"`
	Dismissible bool   `json:"dismissible"`
}

// ErrorPayload is the payload for error messages.
type ErrorPayload struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	OriginalType string `json:"original_type,omitempty"`
}

// SubscribePayload narrows a client to the listed properties. An empty
// list restores the full stream.
type SubscribePayload struct {
	PropertyIDs []string `json:"property_ids"`
}
