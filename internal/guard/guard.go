package guard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"shop-notification-service/internal/domain"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultWindow    = 5 * time.Minute
	DefaultScanLimit = 50
)

// LogReader defines read access to recent delivery logs, newest first.
type LogReader interface {
	Recent(ctx context.Context, limit int) ([]domain.DeliveryLogEntry, error)
}

// KeyStore holds idempotency claims with an expiry.
type KeyStore interface {
	Claim(ctx context.Context, key string, now, expiresAt time.Time) (bool, error)
	Release(ctx context.Context, key string) error
}

// Query identifies one logical notification.
type Query struct {
	TemplateKey string
	Recipient   string
	ReferenceID string
}

// Key returns the idempotency key of the query.
func (q Query) Key() string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		q.TemplateKey,
		strings.ToLower(strings.TrimSpace(q.Recipient)),
		q.ReferenceID,
	}, "|")))
	return hex.EncodeToString(sum[:])
}

// Guard suppresses repeats of the same notification within a window.
// Every lookup failure lets the notification through.
type Guard struct {
	logs      LogReader
	keys      KeyStore
	window    time.Duration
	scanLimit int
	now       func() time.Time
}

// New builds a guard. keys may be nil, in which case Reserve always succeeds.
func New(logs LogReader, keys KeyStore, window time.Duration, scanLimit int) *Guard {
	if window <= 0 {
		window = DefaultWindow
	}
	if scanLimit <= 0 {
		scanLimit = DefaultScanLimit
	}
	return &Guard{logs: logs, keys: keys, window: window, scanLimit: scanLimit, now: time.Now}
}

func (g *Guard) Window() time.Duration { return g.window }

// IsDuplicate reports whether a sent entry for the same template and recipient
// exists within the window among the newest scanLimit logs. Reference ids are
// compared only when both sides carry one.
func (g *Guard) IsDuplicate(ctx context.Context, q Query) bool {
	entries, err := g.logs.Recent(ctx, g.scanLimit)
	if err != nil {
		log.WithFields(log.Fields{
			"template":  q.TemplateKey,
			"recipient": q.Recipient,
			"error":     err,
		}).Warn("Duplicate check failed, allowing send")
		return false
	}

	cutoff := g.now().Add(-g.window)
	for _, e := range entries {
		if e.Status != domain.StatusSent {
			continue
		}
		if e.SentAt.Before(cutoff) {
			continue
		}
		if e.TemplateKey != q.TemplateKey || !strings.EqualFold(strings.TrimSpace(e.Recipient), strings.TrimSpace(q.Recipient)) {
			continue
		}
		if ref := e.Reference(); ref != "" && q.ReferenceID != "" && ref != q.ReferenceID {
			continue
		}
		return true
	}
	return false
}

// Reserve atomically claims the notification for the window. It returns false
// when another live claim exists.
func (g *Guard) Reserve(ctx context.Context, q Query) bool {
	if g.keys == nil {
		return true
	}
	now := g.now()
	ok, err := g.keys.Claim(ctx, q.Key(), now, now.Add(g.window))
	if err != nil {
		log.WithFields(log.Fields{
			"template":  q.TemplateKey,
			"recipient": q.Recipient,
			"error":     err,
		}).Warn("Idempotency claim failed, allowing send")
		return true
	}
	return ok
}

// Release drops a claim so that a retry after a failed attempt is not suppressed.
func (g *Guard) Release(ctx context.Context, q Query) {
	if g.keys == nil {
		return
	}
	if err := g.keys.Release(context.WithoutCancel(ctx), q.Key()); err != nil {
		log.WithFields(log.Fields{
			"template":  q.TemplateKey,
			"recipient": q.Recipient,
			"error":     err,
		}).Warn("Failed to release idempotency key")
	}
}
