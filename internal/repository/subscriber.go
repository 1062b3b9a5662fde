package repository

import (
	"context"
	"database/sql"
	"fmt"

	"shop-notification-service/internal/domain"
)

type PostgresSubscriberRepository struct {
	db *sql.DB
}

func NewPostgresSubscriberRepository(db *sql.DB) *PostgresSubscriberRepository {
	return &PostgresSubscriberRepository{db: db}
}

// ListActive returns every active newsletter subscriber ordered by id.
func (r *PostgresSubscriberRepository) ListActive(ctx context.Context) ([]domain.Subscriber, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, email, COALESCE(name, ''), unsubscribe_token, active
		FROM newsletter_subscribers
		WHERE active = TRUE
		ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribers: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscriber
	for rows.Next() {
		var s domain.Subscriber
		if err := rows.Scan(&s.ID, &s.Email, &s.Name, &s.UnsubscribeToken, &s.Active); err != nil {
			return nil, fmt.Errorf("failed to scan subscriber: %w", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscribers: %w", err)
	}
	return subs, nil
}
