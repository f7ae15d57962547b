package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// SweepStateRepository guards the throttled sweep behind a single shared
// row. Acquisition is an optimistic compare-and-swap on the last-run
// timestamp so two concurrent triggers cannot both proceed.
type SweepStateRepository struct {
	db *sqlx.DB
}

// NewSweepStateRepository constructs the repository.
func NewSweepStateRepository(db *sqlx.DB) *SweepStateRepository {
	return &SweepStateRepository{db: db}
}

// TryAcquire advances last_run_at when at least interval has elapsed.
// Returns false when another trigger already ran inside the interval.
func (r *SweepStateRepository) TryAcquire(ctx context.Context, name string, interval time.Duration, now time.Time) (bool, error) {
	const query = `UPDATE sweep_state
        SET last_run_at = $3
        WHERE name = $1 AND last_run_at <= $2`
	res, err := r.db.ExecContext(ctx, query, name, now.Add(-interval), now)
	if err != nil {
		return false, fmt.Errorf("acquire sweep gate: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire sweep gate: %w", err)
	}
	return affected == 1, nil
}

// Ensure creates the gate row if missing, with an epoch last-run so the
// first trigger always proceeds.
func (r *SweepStateRepository) Ensure(ctx context.Context, name string) error {
	const query = `INSERT INTO sweep_state (name, last_run_at)
        VALUES ($1, 'epoch'::timestamptz)
        ON CONFLICT (name) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, name); err != nil {
		return fmt.Errorf("ensure sweep gate: %w", err)
	}
	return nil
}
