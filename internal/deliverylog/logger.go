package deliverylog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"shop-notification-service/internal/domain"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	writeTimeout = 5 * time.Second
	DefaultLimit = 50
)

// SettingsStore defines the settings access the logger needs.
type SettingsStore interface {
	Insert(ctx context.Context, rec domain.SettingRecord) error
	ListRecentByType(ctx context.Context, t domain.SettingType, limit int) ([]domain.SettingRecord, error)
}

// Logger appends one email_log row per send attempt. Rows are never updated.
type Logger struct {
	settings SettingsStore
	now      func() time.Time
}

func NewLogger(settings SettingsStore) *Logger {
	return &Logger{settings: settings, now: time.Now}
}

// Record stores the entry. Failures are logged and never returned, and the
// write is not cancelled together with the caller.
func (l *Logger) Record(ctx context.Context, entry domain.DeliveryLogEntry) {
	now := l.now()
	if entry.SentAt.IsZero() {
		entry.SentAt = now.UTC()
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = entry.SentAt.UnixMilli()
	}
	if entry.Variables == nil {
		entry.Variables = map[string]string{}
	}

	fields := log.Fields{
		"template":  entry.TemplateKey,
		"recipient": entry.Recipient,
		"status":    entry.Status,
	}

	value, err := json.Marshal(entry)
	if err != nil {
		log.WithFields(fields).WithError(err).Error("Failed to encode delivery log entry")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	rec := domain.SettingRecord{
		Type:        domain.SettingEmailLog,
		Key:         fmt.Sprintf("email_log_%d_%s", entry.Timestamp, uuid.NewString()),
		Value:       string(value),
		Description: fmt.Sprintf("%s to %s", entry.TemplateKey, entry.Recipient),
	}
	if err := l.settings.Insert(ctx, rec); err != nil {
		log.WithFields(fields).WithError(err).Error("Failed to save delivery log")
		return
	}
	log.WithFields(fields).Debug("Delivery log saved")
}

// Recent returns up to limit entries, newest first. Malformed rows are skipped.
func (l *Logger) Recent(ctx context.Context, limit int) ([]domain.DeliveryLogEntry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := l.settings.ListRecentByType(ctx, domain.SettingEmailLog, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read delivery logs: %w", err)
	}

	entries := make([]domain.DeliveryLogEntry, 0, len(rows))
	for _, row := range rows {
		var entry domain.DeliveryLogEntry
		if err := json.Unmarshal([]byte(row.Value), &entry); err != nil {
			log.WithError(&domain.ParseError{SettingType: row.Type, SettingKey: row.Key, Err: err}).
				Warn("Skipping malformed delivery log")
			continue
		}
		if entry.SentAt.IsZero() && entry.Timestamp > 0 {
			entry.SentAt = time.UnixMilli(entry.Timestamp).UTC()
		}
		if entry.SentAt.IsZero() {
			entry.SentAt = row.CreatedAt
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
