package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"shop-notification-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLogs struct {
	entries []domain.DeliveryLogEntry
	err     error
	limit   int
}

func (s *stubLogs) Recent(_ context.Context, limit int) ([]domain.DeliveryLogEntry, error) {
	s.limit = limit
	return s.entries, s.err
}

type memKeys struct {
	claims   map[string]time.Time
	released []string
	err      error
}

func (m *memKeys) Claim(_ context.Context, key string, now, expiresAt time.Time) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if exp, ok := m.claims[key]; ok && exp.After(now) {
		return false, nil
	}
	m.claims[key] = expiresAt
	return true, nil
}

func (m *memKeys) Release(_ context.Context, key string) error {
	delete(m.claims, key)
	m.released = append(m.released, key)
	return nil
}

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newGuard(logs LogReader, keys KeyStore) *Guard {
	g := New(logs, keys, 5*time.Minute, 50)
	g.now = func() time.Time { return now }
	return g
}

func sent(tpl, to, order string, ago time.Duration) domain.DeliveryLogEntry {
	return domain.DeliveryLogEntry{TemplateKey: tpl, Recipient: to, OrderID: order, Status: domain.StatusSent, SentAt: now.Add(-ago)}
}

func TestIsDuplicateMatchesWithinWindow(t *testing.T) {
	logs := &stubLogs{entries: []domain.DeliveryLogEntry{sent("order_confirmation", "Max@Example.com", "BK-1", time.Minute)}}
	g := newGuard(logs, nil)

	assert.True(t, g.IsDuplicate(context.Background(), Query{TemplateKey: "order_confirmation", Recipient: "max@example.com", ReferenceID: "BK-1"}))
	assert.Equal(t, 50, logs.limit)
}

func TestIsDuplicateIgnoresOldFailedAndOtherReferences(t *testing.T) {
	failed := sent("order_confirmation", "max@example.com", "BK-1", time.Minute)
	failed.Status = domain.StatusFailed
	g := newGuard(&stubLogs{entries: []domain.DeliveryLogEntry{
		sent("order_confirmation", "max@example.com", "BK-1", 6*time.Minute),
		failed,
		sent("order_confirmation", "max@example.com", "BK-2", time.Minute),
		sent("shipping_notification", "max@example.com", "BK-1", time.Minute),
		sent("order_confirmation", "anna@example.com", "BK-1", time.Minute),
	}}, nil)

	assert.False(t, g.IsDuplicate(context.Background(), Query{TemplateKey: "order_confirmation", Recipient: "max@example.com", ReferenceID: "BK-1"}))
}

func TestIsDuplicateWithoutReferenceOnOneSide(t *testing.T) {
	g := newGuard(&stubLogs{entries: []domain.DeliveryLogEntry{sent("newsletter", "a@b.de", "", time.Minute)}}, nil)
	assert.True(t, g.IsDuplicate(context.Background(), Query{TemplateKey: "newsletter", Recipient: "a@b.de", ReferenceID: "camp-1"}))

	g = newGuard(&stubLogs{entries: []domain.DeliveryLogEntry{sent("newsletter", "a@b.de", "camp-1", time.Minute)}}, nil)
	assert.True(t, g.IsDuplicate(context.Background(), Query{TemplateKey: "newsletter", Recipient: "a@b.de"}))
}

func TestIsDuplicateFailsOpen(t *testing.T) {
	g := newGuard(&stubLogs{err: errors.New("db down")}, nil)
	assert.False(t, g.IsDuplicate(context.Background(), Query{TemplateKey: "x", Recipient: "a@b.de"}))
}

func TestReserveIsAtomicPerKey(t *testing.T) {
	keys := &memKeys{claims: map[string]time.Time{}}
	g := newGuard(&stubLogs{}, keys)
	q := Query{TemplateKey: "order_confirmation", Recipient: "max@example.com", ReferenceID: "BK-1"}

	require.True(t, g.Reserve(context.Background(), q))
	assert.False(t, g.Reserve(context.Background(), q))

	g.Release(context.Background(), q)
	assert.True(t, g.Reserve(context.Background(), q))
	assert.Equal(t, []string{q.Key()}, keys.released)
}

func TestReserveExpiresWithWindow(t *testing.T) {
	keys := &memKeys{claims: map[string]time.Time{}}
	g := newGuard(&stubLogs{}, keys)
	q := Query{TemplateKey: "t", Recipient: "a@b.de"}

	require.True(t, g.Reserve(context.Background(), q))
	g.now = func() time.Time { return now.Add(6 * time.Minute) }
	assert.True(t, g.Reserve(context.Background(), q))
}

func TestReserveFailsOpenAndWithoutStore(t *testing.T) {
	q := Query{TemplateKey: "t", Recipient: "a@b.de"}
	assert.True(t, newGuard(&stubLogs{}, &memKeys{err: errors.New("db down")}).Reserve(context.Background(), q))
	assert.True(t, newGuard(&stubLogs{}, nil).Reserve(context.Background(), q))
}

func TestKeyNormalizesRecipient(t *testing.T) {
	a := Query{TemplateKey: "t", Recipient: " Max@Example.com ", ReferenceID: "1"}
	b := Query{TemplateKey: "t", Recipient: "max@example.com", ReferenceID: "1"}
	c := Query{TemplateKey: "t", Recipient: "max@example.com", ReferenceID: "2"}
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, b.Key(), c.Key())
	assert.Len(t, a.Key(), 64)
}
