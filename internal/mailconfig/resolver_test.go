package mailconfig

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"shop-notification-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSettings struct {
	rows    []domain.SettingRecord
	upserts []domain.SettingRecord
	err     error
}

func (m *memSettings) ListByType(_ context.Context, t domain.SettingType) ([]domain.SettingRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.SettingRecord
	for _, r := range m.rows {
		if r.Type == t {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memSettings) Upsert(_ context.Context, rec domain.SettingRecord) error {
	m.upserts = append(m.upserts, rec)
	for i, r := range m.rows {
		if r.Type == rec.Type && r.Key == rec.Key {
			m.rows[i] = rec
			return nil
		}
	}
	m.rows = append(m.rows, rec)
	return nil
}

func modernRow(v string) domain.SettingRecord {
	return domain.SettingRecord{Type: domain.SettingSMTPConfig, Key: "default", Value: v}
}

func legacyRow(k, v string) domain.SettingRecord {
	return domain.SettingRecord{Type: domain.SettingSMTPLegacy, Key: k, Value: v}
}

func legacyRows() []domain.SettingRecord {
	return []domain.SettingRecord{
		legacyRow("smtp_host", `"mail.example.com"`),
		legacyRow("smtp_port", `587`),
		legacyRow("smtp_username", `"shop"`),
		legacyRow("smtp_password", `s3cret`),
		legacyRow("from_email", `"shop@example.com"`),
	}
}

func TestResolveModernBlob(t *testing.T) {
	store := &memSettings{rows: []domain.SettingRecord{modernRow(`{
		"smtp_host":"mail.example.com","smtp_port":"587","smtp_username":"shop",
		"smtp_password":"pw","from_email":"shop@example.com","from_name":"Buchladen","smtp_secure":false}`)}}

	cfg, err := NewResolver(store, "Shop").Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mail.example.com", cfg.Host)
	assert.Equal(t, 587, cfg.Port)
	assert.Equal(t, "Buchladen", cfg.FromName)
	assert.False(t, cfg.Secure)
	assert.Empty(t, store.upserts)
}

func TestResolveNormalizesAliases(t *testing.T) {
	store := &memSettings{rows: []domain.SettingRecord{modernRow(`{
		"host":"mail.example.com","port":25,"user":"shop","pass":"pw","fromEmail":"shop@example.com","secure":"true"}`)}}

	cfg, err := NewResolver(store, "Shop").Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "shop", cfg.Username)
	assert.Equal(t, "pw", cfg.Password)
	assert.Equal(t, "shop@example.com", cfg.FromEmail)
	assert.Equal(t, "Shop", cfg.FromName)
	assert.True(t, cfg.Secure)
}

func TestResolveAliasPrecedenceIsFixed(t *testing.T) {
	store := &memSettings{rows: []domain.SettingRecord{modernRow(`{
		"server":"b.example.com","smtp_host":"a.example.com","host":"c.example.com",
		"user":"legacy","smtp_username":"shop","port":"25","smtp_port":587,
		"smtp_password":"pw","from":"old@example.com","from_email":"shop@example.com"}`)}}
	r := NewResolver(store, "Shop")

	for i := 0; i < 20; i++ {
		cfg, err := r.Resolve(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "a.example.com", cfg.Host)
		assert.Equal(t, "shop", cfg.Username)
		assert.Equal(t, 587, cfg.Port)
		assert.Equal(t, "shop@example.com", cfg.FromEmail)
	}

	cfg := r.normalize(map[string]any{"server": "b.example.com", "host": "c.example.com"})
	assert.Equal(t, "c.example.com", cfg.Host)
}

func TestResolvePort465ForcesSecure(t *testing.T) {
	for _, secure := range []string{`false`, `true`, `null`} {
		store := &memSettings{rows: []domain.SettingRecord{modernRow(`{
			"smtp_host":"h","smtp_port":465,"smtp_username":"u","smtp_password":"p","from_email":"f@example.com","smtp_secure":` + secure + `}`)}}

		cfg, err := NewResolver(store, "Shop").Resolve(context.Background())
		require.NoError(t, err)
		assert.True(t, cfg.Secure, "stored smtp_secure=%s", secure)
	}
}

func TestResolveMissingPasswordIsIncomplete(t *testing.T) {
	store := &memSettings{rows: []domain.SettingRecord{modernRow(`{
		"smtp_host":"h","smtp_port":587,"smtp_username":"u","from_email":"f@example.com"}`)}}

	_, err := NewResolver(store, "Shop").Resolve(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfigIncomplete)
	assert.Contains(t, err.Error(), "smtp_password")
	assert.True(t, IsConfigError(err))
}

func TestResolveNothingStoredIsMissing(t *testing.T) {
	_, err := NewResolver(&memSettings{}, "Shop").Resolve(context.Background())
	assert.ErrorIs(t, err, domain.ErrConfigMissing)
}

func TestResolveLegacyMigratesOnce(t *testing.T) {
	store := &memSettings{rows: legacyRows()}
	r := NewResolver(store, "Shop")

	cfg, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mail.example.com", cfg.Host)
	assert.Equal(t, 587, cfg.Port)
	assert.Equal(t, "s3cret", cfg.Password)
	assert.Equal(t, "Shop", cfg.FromName)

	require.Len(t, store.upserts, 1)
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(store.upserts[0].Value), &doc))
	assert.EqualValues(t, 2, doc["version"])
	assert.Equal(t, "mail.example.com", doc["smtp_host"])

	again, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
	assert.Len(t, store.upserts, 1)
}

func TestResolveIncompleteModernFallsBackToLegacyWithoutOverwrite(t *testing.T) {
	rows := append(legacyRows(), modernRow(`{"smtp_host":"other.example.com"}`))
	store := &memSettings{rows: rows}

	cfg, err := NewResolver(store, "Shop").Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mail.example.com", cfg.Host)
	assert.Empty(t, store.upserts)
}

func TestResolveIncompleteLegacy(t *testing.T) {
	store := &memSettings{rows: []domain.SettingRecord{legacyRow("smtp_host", `"h"`)}}

	_, err := NewResolver(store, "Shop").Resolve(context.Background())
	assert.ErrorIs(t, err, domain.ErrConfigIncomplete)
	assert.Empty(t, store.upserts)
}

func TestResolveStoreErrorIsNotConfigError(t *testing.T) {
	_, err := NewResolver(&memSettings{err: errors.New("db down")}, "Shop").Resolve(context.Background())
	require.Error(t, err)
	assert.False(t, IsConfigError(err))
}
