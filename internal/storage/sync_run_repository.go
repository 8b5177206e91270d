package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rental-occupancy/backend/internal/storage/models"
)

// SyncRunRepository records calendar refresh results.
type SyncRunRepository struct {
	BaseRepository
}

// NewSyncRunRepository creates a new sync run repository.
func NewSyncRunRepository(db *DB) *SyncRunRepository {
	return &SyncRunRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Record inserts a sync result. A missing ID is generated.
func (r *SyncRunRepository) Record(ctx context.Context, res *models.SyncResult) error {
	if res.ID == "" {
		res.ID = GenerateID()
	}
	if res.SyncedAt.IsZero() {
		res.SyncedAt = r.Now()
	}
	var errMsg *string
	if res.ErrorMessage != "" {
		errMsg = &res.ErrorMessage
	}

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO sync_runs (
			id, property_id, property_name, status, reservations,
			events_created, events_removed, skipped, error, synced_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		res.ID, res.PropertyID, res.PropertyName, res.Status, res.Reservations,
		res.EventsCreated, res.EventsRemoved, res.Skipped, errMsg, res.SyncedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting sync run: %w", err)
	}
	return nil
}

// List returns the most recent runs, newest first. An empty propertyID
// returns runs of every property.
func (r *SyncRunRepository) List(ctx context.Context, propertyID string, limit int) ([]models.SyncResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB().QueryContext(ctx, `
		SELECT id, property_id, property_name, status, reservations,
		       events_created, events_removed, skipped, error, synced_at
		FROM sync_runs
		WHERE ? = '' OR property_id = ?
		ORDER BY synced_at DESC, rowid DESC
		LIMIT ?
	`, propertyID, propertyID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sync runs: %w", err)
	}
	defer rows.Close()

	var out []models.SyncResult
	for rows.Next() {
		var (
			res    models.SyncResult
			errMsg sql.NullString
		)
		if err := rows.Scan(
			&res.ID, &res.PropertyID, &res.PropertyName, &res.Status, &res.Reservations,
			&res.EventsCreated, &res.EventsRemoved, &res.Skipped, &errMsg, &res.SyncedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning sync run: %w", err)
		}
		res.ErrorMessage = errMsg.String
		out = append(out, res)
	}
	return out, rows.Err()
}

// Prune deletes runs older than cutoff.
func (r *SyncRunRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB().ExecContext(ctx, `DELETE FROM sync_runs WHERE synced_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning sync runs: %w", err)
	}
	return res.RowsAffected()
}
