package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rental-occupancy/backend/internal/storage/models"
	"github.com/rental-occupancy/backend/internal/vacasa"
)

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data, ok := <-c.Send():
		if !ok {
			t.Fatalf("client channel closed")
		}
		var msg struct {
			Type    MessageType     `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return Message{Type: msg.Type, Payload: msg.Payload}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
	}
	return Message{}
}

func TestHubBroadcastsTypedEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)
	client := NewClient(hub)
	hub.Register(client)

	b := NewEventBroadcaster(hub)
	b.BroadcastSyncError("p1", "Cabin", &vacasa.DataParseError{Op: "reservations", Detail: "bad"})

	msg := receive(t, client)
	if msg.Type != TypeCalendarSyncError {
		t.Fatalf("type = %s", msg.Type)
	}
	var payload CalendarSyncErrorPayload
	if err := json.Unmarshal(msg.Payload.(json.RawMessage), &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.Error != "data_parse_error" || payload.PropertyID != "p1" {
		t.Fatalf("payload = %+v", payload)
	}

	b.BroadcastOccupancyChanged("Cabin",
		models.OccupancyState{Status: models.OccupancyPending},
		models.OccupancyState{PropertyID: "p1", Status: models.OccupancyOccupied, IsOccupied: true},
		map[string]string{"current_guest": "Ann"})
	if msg := receive(t, client); msg.Type != TypeOccupancyChanged {
		t.Fatalf("type = %s", msg.Type)
	}

	hub.Unregister(client)
	if _, ok := <-client.Send(); ok {
		t.Fatalf("expected closed channel after unregister")
	}
}

func TestErrorCode(t *testing.T) {
	cases := map[string]error{
		"authentication_error":    &vacasa.AuthenticationError{Reason: "rejected"},
		"transient_network_error": &vacasa.TransientNetworkError{Op: "get", StatusCode: 503},
		"sync_error":              errors.New("other"),
	}
	for want, err := range cases {
		if got := errorCode(err); got != want {
			t.Fatalf("errorCode(%v) = %s, want %s", err, got, want)
		}
	}
}

func TestNilBroadcasterIsNoop(t *testing.T) {
	var b *EventBroadcaster
	b.BroadcastNotification("info", "t", "m")
}

func TestClientFollowFiltersPropertyEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)
	all := NewClient(hub)
	cabin := NewClient(hub)
	cabin.Follow([]string{"p2", "p1"})
	hub.Register(all)
	hub.Register(cabin)

	if got := cabin.Following(); len(got) != 2 || got[0] != "p1" || got[1] != "p2" {
		t.Fatalf("following = %v", got)
	}

	b := NewEventBroadcaster(hub)
	b.BroadcastSyncCompleted(models.SyncResult{PropertyID: "p9", Status: models.SyncStatusSuccess})
	b.BroadcastSyncCompleted(models.SyncResult{PropertyID: "p1", Status: models.SyncStatusSuccess})
	b.BroadcastNotification("info", "Refresh", "done")

	for _, want := range []MessageType{TypeCalendarSyncCompleted, TypeCalendarSyncCompleted, TypeNotification} {
		if msg := receive(t, all); msg.Type != want {
			t.Fatalf("all: type = %s, want %s", msg.Type, want)
		}
	}
	// The p9 event never reaches the filtered client.
	for _, want := range []MessageType{TypeCalendarSyncCompleted, TypeNotification} {
		if msg := receive(t, cabin); msg.Type != want {
			t.Fatalf("cabin: type = %s, want %s", msg.Type, want)
		}
	}
	select {
	case data := <-cabin.Send():
		t.Fatalf("unexpected message %s", data)
	default:
	}

	cabin.Follow(nil)
	if !cabin.Wants("p9") || cabin.Following() != nil {
		t.Fatalf("empty follow should restore the full stream")
	}
}
