package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"shop-notification-service/internal/domain"
)

// Execer is satisfied by *sql.DB and *sql.Tx so intents can join the caller's transaction.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type PostgresOutboxRepository struct {
	db *sql.DB
}

func NewPostgresOutboxRepository(db *sql.DB) *PostgresOutboxRepository {
	return &PostgresOutboxRepository{db: db}
}

// Insert stores a pending intent through exec. A nil exec uses the repository's own pool.
func (r *PostgresOutboxRepository) Insert(ctx context.Context, exec Execer, rec domain.OutboxRecord) error {
	if exec == nil {
		exec = r.db
	}

	const query = `
		INSERT INTO notification_outbox (id, event_type, payload, status, attempts, next_attempt_at, created_at)
		VALUES ($1, $2, $3, 'pending', 0, $4, $4);
	`
	if _, err := exec.ExecContext(ctx, query, rec.ID, rec.EventType, []byte(rec.Payload), rec.NextAttemptAt); err != nil {
		return fmt.Errorf("failed to insert outbox record: %w", err)
	}
	return nil
}

// ClaimDue moves up to limit due rows to processing and returns them.
// Rows stuck in processing since before staleBefore are claimed again.
func (r *PostgresOutboxRepository) ClaimDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]domain.OutboxRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const query = `
		UPDATE notification_outbox
		SET status = 'processing', locked_at = $1, attempts = attempts + 1, updated_at = $1
		WHERE id IN (
			SELECT id FROM notification_outbox
			WHERE (status = 'pending' AND next_attempt_at <= $1)
			   OR (status = 'processing' AND locked_at < $2)
			ORDER BY next_attempt_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, event_type, payload, attempts, next_attempt_at, created_at;
	`
	rows, err := r.db.QueryContext(ctx, query, now, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox records: %w", err)
	}
	defer rows.Close()

	var claimed []domain.OutboxRecord
	for rows.Next() {
		var rec domain.OutboxRecord
		var payload []byte
		if err := rows.Scan(&rec.ID, &rec.EventType, &payload, &rec.Attempts, &rec.NextAttemptAt, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox record: %w", err)
		}
		rec.Payload = payload
		rec.Status = domain.OutboxProcessing
		claimed = append(claimed, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outbox records: %w", err)
	}
	return claimed, nil
}

func (r *PostgresOutboxRepository) MarkDone(ctx context.Context, id string) error {
	return r.setStatus(ctx, id, domain.OutboxDone, "", nil)
}

// MarkRetry puts the record back to pending until nextAttemptAt.
func (r *PostgresOutboxRepository) MarkRetry(ctx context.Context, id string, nextAttemptAt time.Time, lastErr string) error {
	return r.setStatus(ctx, id, domain.OutboxPending, lastErr, &nextAttemptAt)
}

func (r *PostgresOutboxRepository) MarkFailed(ctx context.Context, id string, lastErr string) error {
	return r.setStatus(ctx, id, domain.OutboxFailed, lastErr, nil)
}

func (r *PostgresOutboxRepository) setStatus(ctx context.Context, id string, status domain.OutboxStatus, lastErr string, next *time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const query = `
		UPDATE notification_outbox
		SET status = $2,
		    last_error = $3,
		    next_attempt_at = COALESCE($4, next_attempt_at),
		    locked_at = NULL,
		    updated_at = NOW()
		WHERE id = $1;
	`
	var nextArg interface{}
	if next != nil {
		nextArg = *next
	}
	if _, err := r.db.ExecContext(ctx, query, id, string(status), nullStringOrNil(lastErr), nextArg); err != nil {
		return fmt.Errorf("failed to mark outbox record %s as %s: %w", id, status, err)
	}
	return nil
}
