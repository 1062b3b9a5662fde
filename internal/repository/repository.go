package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"shop-notification-service/internal/domain"

	log "github.com/sirupsen/logrus"
)

const queryTimeout = 5 * time.Second

// ErrNotFound is returned when a keyed lookup matches no row.
var ErrNotFound = errors.New("not found")

// PostgresSettingsRepository reads and appends generic settings rows.
type PostgresSettingsRepository struct {
	db *sql.DB
}

func NewPostgresSettingsRepository(db *sql.DB) *PostgresSettingsRepository {
	return &PostgresSettingsRepository{db: db}
}

const settingColumns = `id, setting_type, setting_key, setting_value, COALESCE(description, ''), created_at, updated_at`

// ListByType returns every row of the given type in store order (oldest first).
func (r *PostgresSettingsRepository) ListByType(ctx context.Context, t domain.SettingType) ([]domain.SettingRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+settingColumns+` FROM settings WHERE setting_type = $1 ORDER BY created_at ASC, id ASC`,
		string(t))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s settings: %w", t, err)
	}
	return scanSettings(rows)
}

// ListRecentByType returns up to limit rows of the given type, newest first.
func (r *PostgresSettingsRepository) ListRecentByType(ctx context.Context, t domain.SettingType, limit int) ([]domain.SettingRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+settingColumns+` FROM settings WHERE setting_type = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		string(t), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent %s settings: %w", t, err)
	}
	return scanSettings(rows)
}

// Get returns the row identified by type and key, or ErrNotFound.
func (r *PostgresSettingsRepository) Get(ctx context.Context, t domain.SettingType, key string) (domain.SettingRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx,
		`SELECT `+settingColumns+` FROM settings WHERE setting_type = $1 AND setting_key = $2`,
		string(t), key)

	var rec domain.SettingRecord
	var typ string
	err := row.Scan(&rec.ID, &typ, &rec.Key, &rec.Value, &rec.Description, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("failed to get setting %s/%s: %w", t, key, err)
	}
	rec.Type = domain.SettingType(typ)
	return rec, nil
}

// Insert appends a new row. It never overwrites an existing key.
func (r *PostgresSettingsRepository) Insert(ctx context.Context, rec domain.SettingRecord) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const query = `
		INSERT INTO settings (setting_type, setting_key, setting_value, description)
		VALUES ($1, $2, $3, $4);
	`
	if _, err := r.db.ExecContext(ctx, query, string(rec.Type), rec.Key, rec.Value, nullStringOrNil(rec.Description)); err != nil {
		return fmt.Errorf("failed to insert setting %s/%s: %w", rec.Type, rec.Key, err)
	}
	return nil
}

// Upsert writes a row, replacing the value of an existing key.
func (r *PostgresSettingsRepository) Upsert(ctx context.Context, rec domain.SettingRecord) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	log.WithFields(log.Fields{
		"setting_type": rec.Type,
		"setting_key":  rec.Key,
	}).Debug("Upserting setting")

	const query = `
		INSERT INTO settings (setting_type, setting_key, setting_value, description)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (setting_type, setting_key)
		DO UPDATE SET setting_value = EXCLUDED.setting_value, updated_at = NOW();
	`
	if _, err := r.db.ExecContext(ctx, query, string(rec.Type), rec.Key, rec.Value, nullStringOrNil(rec.Description)); err != nil {
		return fmt.Errorf("failed to upsert setting %s/%s: %w", rec.Type, rec.Key, err)
	}
	return nil
}

// DeleteOlderThan removes rows of the given type created before cutoff.
func (r *PostgresSettingsRepository) DeleteOlderThan(ctx context.Context, t domain.SettingType, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM settings WHERE setting_type = $1 AND created_at < $2`, string(t), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune %s settings: %w", t, err)
	}
	return res.RowsAffected()
}

func (r *PostgresSettingsRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func scanSettings(rows *sql.Rows) ([]domain.SettingRecord, error) {
	defer rows.Close()

	var out []domain.SettingRecord
	for rows.Next() {
		var rec domain.SettingRecord
		var typ string
		if err := rows.Scan(&rec.ID, &typ, &rec.Key, &rec.Value, &rec.Description, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan setting row: %w", err)
		}
		rec.Type = domain.SettingType(typ)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate setting rows: %w", err)
	}
	return out, nil
}

func nullStringOrNil(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
