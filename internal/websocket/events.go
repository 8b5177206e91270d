package websocket

import (
	"github.com/rs/zerolog/log"

	"github.com/rental-occupancy/backend/internal/storage/models"
	"github.com/rental-occupancy/backend/internal/vacasa"
)

// EventBroadcaster handles broadcasting WebSocket events.
type EventBroadcaster struct {
	hub *Hub
}

// NewEventBroadcaster creates a new event broadcaster.
func NewEventBroadcaster(hub *Hub) *EventBroadcaster {
	return &EventBroadcaster{hub: hub}
}

// BroadcastSyncCompleted sends a calendar sync completed event.
func (b *EventBroadcaster) BroadcastSyncCompleted(result models.SyncResult) {
	payload := CalendarSyncPayload{
		PropertyID:    result.PropertyID,
		PropertyName:  result.PropertyName,
		Status:        string(result.Status),
		Reservations:  result.Reservations,
		EventsCreated: result.EventsCreated,
		EventsRemoved: result.EventsRemoved,
		Skipped:       result.Skipped,
	}
	b.broadcast(result.PropertyID, NewMessage(TypeCalendarSyncCompleted, payload))
}

// BroadcastSyncError sends a calendar sync error event. The error code
// follows the vendor error taxonomy.
func (b *EventBroadcaster) BroadcastSyncError(propertyID, propertyName string, err error) {
	payload := CalendarSyncErrorPayload{
		PropertyID:   propertyID,
		PropertyName: propertyName,
		Error:        errorCode(err),
		Message:      err.Error(),
	}
	b.broadcast(propertyID, NewMessage(TypeCalendarSyncError, payload))
}

// BroadcastOccupancyChanged sends an occupancy.changed event.
func (b *EventBroadcaster) BroadcastOccupancyChanged(propertyName string, prev, cur models.OccupancyState, attrs map[string]string) {
	payload := OccupancyPayload{
		PropertyID:     cur.PropertyID,
		PropertyName:   propertyName,
		PreviousStatus: string(prev.Status),
		Status:         string(cur.Status),
		IsOccupied:     cur.IsOccupied,
		RetryCount:     cur.RetryCount,
		Attributes:     attrs,
	}
	b.broadcast(cur.PropertyID, NewMessage(TypeOccupancyChanged, payload))
}

// BroadcastAuthFailed tells clients that the vendor rejected the stored
// credentials.
func (b *EventBroadcaster) BroadcastAuthFailed(err error) {
	b.broadcast("", NewMessage(TypeSessionAuthFailed, SessionPayload{Error: errorCode(err), Message: err.Error()}))
}

// BroadcastNotification sends a notification to all connected clients.
func (b *EventBroadcaster) BroadcastNotification(level, title, message string) {
	payload := NotificationPayload{
		Level:       level,
		Title:       title,
		Message:     message,
		Dismissible: true,
	}
	b.broadcast("", NewMessage(TypeNotification, payload))
}

// broadcast delivers msg to clients following propertyID, or to all of
// them when propertyID is empty.
func (b *EventBroadcaster) broadcast(propertyID string, msg Message) {
	if b == nil || b.hub == nil {
		return
	}
	data, err := msg.JSON()
	if err != nil {
		log.Error().Err(err).Str("type", string(msg.Type)).Msg("encoding websocket message")
		return
	}
	b.hub.BroadcastFor(propertyID, data)
}

func errorCode(err error) string {
	switch {
	case vacasa.IsAuthentication(err):
		return "authentication_error"
	case vacasa.IsTokenExpired(err):
		return "token_expired"
	case vacasa.IsTransient(err):
		return "transient_network_error"
	case vacasa.IsDataParse(err):
		return "data_parse_error"
	default:
		return "sync_error"
	}
}
