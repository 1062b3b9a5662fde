package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresIdempotencyRepository struct {
	db *sql.DB
}

func NewPostgresIdempotencyRepository(db *sql.DB) *PostgresIdempotencyRepository {
	return &PostgresIdempotencyRepository{db: db}
}

// Claim atomically takes key until expiresAt. It reports false when a live
// claim already exists. An expired claim is taken over in the same statement.
func (r *PostgresIdempotencyRepository) Claim(ctx context.Context, key string, now, expiresAt time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const query = `
		INSERT INTO notification_idempotency_keys (key, created_at, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
			SET created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at
			WHERE notification_idempotency_keys.expires_at <= $2
		RETURNING key;
	`
	var claimed string
	err := r.db.QueryRowContext(ctx, query, key, now, expiresAt).Scan(&claimed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to claim idempotency key: %w", err)
	}
	return true, nil
}

func (r *PostgresIdempotencyRepository) Release(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM notification_idempotency_keys WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

// PurgeExpired deletes claims that expired before now.
func (r *PostgresIdempotencyRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM notification_idempotency_keys WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to purge idempotency keys: %w", err)
	}
	return res.RowsAffected()
}
