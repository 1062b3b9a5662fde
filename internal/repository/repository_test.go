package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"shop-notification-service/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var settingCols = []string{"id", "setting_type", "setting_key", "setting_value", "description", "created_at", "updated_at"}

func TestSettingsListByTypeKeepsStoreOrder(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresSettingsRepository(db)
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .* FROM settings WHERE setting_type = \$1 ORDER BY created_at ASC, id ASC`).
		WithArgs("email_template").
		WillReturnRows(sqlmock.NewRows(settingCols).
			AddRow(1, "email_template", "first", `{"type":"order_confirmation"}`, "", now, now).
			AddRow(2, "email_template", "second", `{"type":"order_confirmation"}`, "", now, now))

	recs, err := repo.ListByType(context.Background(), domain.SettingEmailTemplate)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "first", recs[0].Key)
	assert.Equal(t, domain.SettingEmailTemplate, recs[0].Type)
	assert.Equal(t, "second", recs[1].Key)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsListRecentByTypeUsesLimit(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresSettingsRepository(db)
	now := time.Now()

	mock.ExpectQuery(`ORDER BY created_at DESC, id DESC LIMIT \$2`).
		WithArgs("email_log", 50).
		WillReturnRows(sqlmock.NewRows(settingCols).
			AddRow(9, "email_log", "email_log_2", `{}`, "", now, now))

	recs, err := repo.ListRecentByType(context.Background(), domain.SettingEmailLog, 50)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsListByTypeWrapsQueryError(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresSettingsRepository(db)
	boom := errors.New("connection reset")

	mock.ExpectQuery(`FROM settings`).WillReturnError(boom)

	_, err := repo.ListByType(context.Background(), domain.SettingEmailTemplate)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestSettingsGetNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresSettingsRepository(db)

	mock.ExpectQuery(`WHERE setting_type = \$1 AND setting_key = \$2`).
		WithArgs("smtp_config", "default").
		WillReturnRows(sqlmock.NewRows(settingCols))

	_, err := repo.Get(context.Background(), domain.SettingSMTPConfig, "default")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSettingsGetFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresSettingsRepository(db)
	now := time.Now()

	mock.ExpectQuery(`WHERE setting_type = \$1 AND setting_key = \$2`).
		WithArgs("email_config", "signature").
		WillReturnRows(sqlmock.NewRows(settingCols).
			AddRow(3, "email_config", "signature", `{"enabled":true}`, "Signature", now, now))

	rec, err := repo.Get(context.Background(), domain.SettingEmailConfig, "signature")
	require.NoError(t, err)
	assert.Equal(t, `{"enabled":true}`, rec.Value)
	assert.Equal(t, "Signature", rec.Description)
}

func TestSettingsInsertAndUpsert(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresSettingsRepository(db)
	rec := domain.SettingRecord{Type: domain.SettingEmailLog, Key: "email_log_1", Value: `{}`}

	mock.ExpectExec(`INSERT INTO settings`).
		WithArgs("email_log", "email_log_1", `{}`, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`ON CONFLICT \(setting_type, setting_key\)`).
		WithArgs("email_log", "email_log_1", `{}`, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Insert(context.Background(), rec))
	require.NoError(t, repo.Upsert(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsDeleteOlderThan(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresSettingsRepository(db)
	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`DELETE FROM settings WHERE setting_type = \$1 AND created_at < \$2`).
		WithArgs("email_log", cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := repo.DeleteOlderThan(context.Background(), domain.SettingEmailLog, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestSubscribersListActive(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresSubscriberRepository(db)

	mock.ExpectQuery(`FROM newsletter_subscribers\s+WHERE active = TRUE`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "unsubscribe_token", "active"}).
			AddRow(1, "a@example.com", "Anna", "tok-a", true).
			AddRow(2, "b@example.com", "", "tok-b", true))

	subs, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "tok-b", subs[1].UnsubscribeToken)
}

func TestIdempotencyClaim(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresIdempotencyRepository(db)
	now := time.Now()
	exp := now.Add(5 * time.Minute)

	mock.ExpectQuery(`INSERT INTO notification_idempotency_keys`).
		WithArgs("k1", now, exp).
		WillReturnRows(sqlmock.NewRows([]string{"key"}).AddRow("k1"))
	mock.ExpectQuery(`INSERT INTO notification_idempotency_keys`).
		WithArgs("k1", now, exp).
		WillReturnRows(sqlmock.NewRows([]string{"key"}))

	ok, err := repo.Claim(context.Background(), "k1", now, exp)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Claim(context.Background(), "k1", now, exp)
	require.NoError(t, err)
	assert.False(t, ok, "live claim must not be taken twice")
}

func TestIdempotencyReleaseAndPurge(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresIdempotencyRepository(db)
	now := time.Now()

	mock.ExpectExec(`DELETE FROM notification_idempotency_keys WHERE key = \$1`).
		WithArgs("k1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM notification_idempotency_keys WHERE expires_at <= \$1`).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 4))

	require.NoError(t, repo.Release(context.Background(), "k1"))
	n, err := repo.PurgeExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestOutboxInsertUsesTransaction(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresOutboxRepository(db)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO notification_outbox`).
		WithArgs("id-1", "order_confirmation", []byte(`{"order_id":"1"}`), now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := db.Begin()
	require.NoError(t, err)
	err = repo.Insert(context.Background(), tx, domain.OutboxRecord{
		ID:            "id-1",
		EventType:     "order_confirmation",
		Payload:       []byte(`{"order_id":"1"}`),
		NextAttemptAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxClaimDue(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresOutboxRepository(db)
	now := time.Now()
	stale := now.Add(-5 * time.Minute)

	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(now, stale, 20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_type", "payload", "attempts", "next_attempt_at", "created_at"}).
			AddRow("id-1", "low_stock_alert", []byte(`{"product_id":"p1"}`), 1, now, now))

	recs, err := repo.ClaimDue(context.Background(), now, stale, 20)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.OutboxProcessing, recs[0].Status)
	assert.JSONEq(t, `{"product_id":"p1"}`, string(recs[0].Payload))
}

func TestOutboxStatusTransitions(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresOutboxRepository(db)
	next := time.Now().Add(time.Minute)

	mock.ExpectExec(`UPDATE notification_outbox`).
		WithArgs("id-1", "done", nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE notification_outbox`).
		WithArgs("id-2", "pending", "timeout", next).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE notification_outbox`).
		WithArgs("id-3", "failed", "transport error", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkDone(context.Background(), "id-1"))
	require.NoError(t, repo.MarkRetry(context.Background(), "id-2", next, "timeout"))
	require.NoError(t, repo.MarkFailed(context.Background(), "id-3", "transport error"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
