package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rental-occupancy/backend/internal/storage/models"
)

// OccupancyRepository records occupancy status transitions.
type OccupancyRepository struct {
	BaseRepository
}

// NewOccupancyRepository creates a new occupancy history repository.
func NewOccupancyRepository(db *DB) *OccupancyRepository {
	return &OccupancyRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Record inserts a transition, assigning its ID.
func (r *OccupancyRepository) Record(ctx context.Context, t *models.OccupancyTransition) error {
	t.ID = GenerateID()
	if t.At.IsZero() {
		t.At = r.Now()
	}

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO occupancy_transitions (
			id, property_id, from_status, to_status, event_uid, retry_count, at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.PropertyID, t.From, t.To, t.EventUID, t.RetryCount, t.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting occupancy transition: %w", err)
	}
	return nil
}

// ListByProperty returns the most recent transitions of a property, newest
// first. limit <= 0 defaults to 100.
func (r *OccupancyRepository) ListByProperty(ctx context.Context, propertyID string, limit int) ([]models.OccupancyTransition, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB().QueryContext(ctx, `
		SELECT id, property_id, from_status, to_status, event_uid, retry_count, at
		FROM occupancy_transitions
		WHERE property_id = ?
		ORDER BY at DESC, rowid DESC
		LIMIT ?
	`, propertyID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying occupancy transitions: %w", err)
	}
	defer rows.Close()

	var out []models.OccupancyTransition
	for rows.Next() {
		var t models.OccupancyTransition
		if err := rows.Scan(
			&t.ID, &t.PropertyID, &t.From, &t.To, &t.EventUID, &t.RetryCount, &t.At,
		); err != nil {
			return nil, fmt.Errorf("scanning occupancy transition: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Prune deletes transitions older than cutoff.
func (r *OccupancyRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB().ExecContext(ctx, `DELETE FROM occupancy_transitions WHERE at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning occupancy transitions: %w", err)
	}
	return res.RowsAffected()
}
