package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rental-occupancy/backend/internal/storage/models"
)

// PropertyRepository caches the vendor's property list between refreshes.
type PropertyRepository struct {
	BaseRepository
}

// NewPropertyRepository creates a new property repository.
func NewPropertyRepository(db *DB) *PropertyRepository {
	return &PropertyRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// CachedProperties returns the cached list and the oldest fetch time. The
// time is zero when nothing is cached.
func (r *PropertyRepository) CachedProperties(ctx context.Context) ([]models.Property, time.Time, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT data, fetched_at FROM property_cache ORDER BY name, id
	`)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("querying property cache: %w", err)
	}
	defer rows.Close()

	var (
		props  []models.Property
		oldest time.Time
	)
	for rows.Next() {
		var (
			data      string
			fetchedAt time.Time
		)
		if err := rows.Scan(&data, &fetchedAt); err != nil {
			return nil, time.Time{}, fmt.Errorf("scanning cached property: %w", err)
		}
		var p models.Property
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, time.Time{}, fmt.Errorf("decoding cached property: %w", err)
		}
		props = append(props, p)
		if oldest.IsZero() || fetchedAt.Before(oldest) {
			oldest = fetchedAt
		}
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, err
	}
	return props, oldest, nil
}

// StoreProperties replaces the cached list.
func (r *PropertyRepository) StoreProperties(ctx context.Context, props []models.Property, fetchedAt time.Time) error {
	return r.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM property_cache`); err != nil {
			return fmt.Errorf("clearing property cache: %w", err)
		}
		for _, p := range props {
			data, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("encoding property %s: %w", p.ID, err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO property_cache (id, name, timezone, data, fetched_at)
				VALUES (?, ?, ?, ?, ?)
			`, p.ID, p.Name, p.Timezone, string(data), fetchedAt.UTC()); err != nil {
				return fmt.Errorf("caching property %s: %w", p.ID, err)
			}
		}
		return nil
	})
}

// ClearProperties empties the cache.
func (r *PropertyRepository) ClearProperties(ctx context.Context) error {
	if _, err := r.DB().ExecContext(ctx, `DELETE FROM property_cache`); err != nil {
		return fmt.Errorf("clearing property cache: %w", err)
	}
	return nil
}

// DeleteExpired removes entries fetched before cutoff.
func (r *PropertyRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB().ExecContext(ctx, `DELETE FROM property_cache WHERE fetched_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired properties: %w", err)
	}
	return res.RowsAffected()
}
