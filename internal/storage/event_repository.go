package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rental-occupancy/backend/internal/storage/models"
)

// EventRepository keeps the last synthesized calendar of each property so
// occupancy can be answered right after a restart.
type EventRepository struct {
	BaseRepository
}

// NewEventRepository creates a new event snapshot repository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Save stores events as the snapshot for propertyID.
func (r *EventRepository) Save(ctx context.Context, propertyID string, events []models.CalendarEvent, savedAt time.Time) error {
	if events == nil {
		events = []models.CalendarEvent{}
	}
	data, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("encoding events: %w", err)
	}

	_, err = r.DB().ExecContext(ctx, `
		INSERT INTO event_snapshots (property_id, event_count, events, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(property_id) DO UPDATE SET
			event_count = excluded.event_count,
			events = excluded.events,
			saved_at = excluded.saved_at
	`, propertyID, len(events), string(data), savedAt.UTC())
	if err != nil {
		return fmt.Errorf("saving event snapshot: %w", err)
	}
	return nil
}

// Load returns the snapshot for propertyID. savedAt is zero when none exists.
func (r *EventRepository) Load(ctx context.Context, propertyID string) ([]models.CalendarEvent, time.Time, error) {
	var (
		data    string
		savedAt time.Time
	)
	err := r.DB().QueryRowContext(ctx, `
		SELECT events, saved_at FROM event_snapshots WHERE property_id = ?
	`, propertyID).Scan(&data, &savedAt)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("querying event snapshot: %w", err)
	}

	var events []models.CalendarEvent
	if err := json.Unmarshal([]byte(data), &events); err != nil {
		return nil, time.Time{}, fmt.Errorf("decoding event snapshot: %w", err)
	}
	return events, savedAt, nil
}
