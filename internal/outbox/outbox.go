package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"shop-notification-service/internal/domain"
	"shop-notification-service/internal/repository"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Store defines the outbox persistence used by the writer and the worker.
type Store interface {
	Insert(ctx context.Context, exec repository.Execer, rec domain.OutboxRecord) error
	ClaimDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]domain.OutboxRecord, error)
	MarkDone(ctx context.Context, id string) error
	MarkRetry(ctx context.Context, id string, nextAttemptAt time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id string, lastErr string) error
}

// EventDispatcher delivers one decoded event.
type EventDispatcher interface {
	HandleEvent(ctx context.Context, eventType string, payload []byte) (domain.DispatchResult, error)
}

// Observer receives outbox metrics.
type Observer interface {
	ObserveOutbox(state string)
}

// Writer records notification intents.
type Writer struct {
	store Store
	now   func() time.Time
}

func NewWriter(store Store) *Writer {
	return &Writer{store: store, now: time.Now}
}

// Enqueue stores an intent for eventType. Pass the business transaction as
// exec so the intent commits or rolls back with it.
func (w *Writer) Enqueue(ctx context.Context, exec repository.Execer, eventType string, payload any) (string, error) {
	if !domain.EventKey(eventType).Valid() {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownEvent, eventType)
	}

	var raw json.RawMessage
	switch p := payload.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("failed to encode %s payload: %w", eventType, err)
		}
		raw = b
	}
	if !json.Valid(raw) {
		return "", fmt.Errorf("payload for %s is not valid JSON", eventType)
	}

	rec := domain.OutboxRecord{
		ID:            uuid.NewString(),
		EventType:     eventType,
		Payload:       raw,
		Status:        domain.OutboxPending,
		NextAttemptAt: w.now().UTC(),
	}
	if err := w.store.Insert(ctx, exec, rec); err != nil {
		return "", err
	}
	log.WithFields(log.Fields{
		"outbox_id":  rec.ID,
		"event_type": eventType,
	}).Debug("Notification intent enqueued")
	return rec.ID, nil
}

// WorkerConfig bounds polling and retries.
type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	Backoff      time.Duration
	Lease        time.Duration
}

// Worker delivers pending intents with retry and doubling backoff.
type Worker struct {
	store      Store
	dispatcher EventDispatcher
	metrics    Observer
	cfg        WorkerConfig
	now        func() time.Time
}

func NewWorker(store Store, dispatcher EventDispatcher, metrics Observer, cfg WorkerConfig) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 30 * time.Second
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 5 * time.Minute
	}
	if metrics == nil {
		metrics = noopObserver{}
	}
	return &Worker{store: store, dispatcher: dispatcher, metrics: metrics, cfg: cfg, now: time.Now}
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	log.WithField("interval", w.cfg.PollInterval).Info("Outbox worker started")
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.ProcessBatch(ctx); err != nil {
			log.WithError(err).Error("Outbox batch failed")
		}
		select {
		case <-ctx.Done():
			log.Info("Outbox worker stopping due to context cancellation")
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessBatch claims and delivers one batch. It returns the number of records claimed.
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	if ctx.Err() != nil {
		return 0, nil
	}
	now := w.now()
	recs, err := w.store.ClaimDue(ctx, now, now.Add(-w.cfg.Lease), w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	for _, rec := range recs {
		if ctx.Err() != nil {
			// Unprocessed claims are picked up again once the lease expires.
			break
		}
		w.process(ctx, rec)
	}
	return len(recs), nil
}

func (w *Worker) process(ctx context.Context, rec domain.OutboxRecord) {
	fields := log.Fields{
		"outbox_id":  rec.ID,
		"event_type": rec.EventType,
		"attempt":    rec.Attempts,
	}

	res, err := w.dispatcher.HandleEvent(ctx, rec.EventType, rec.Payload)
	if ctx.Err() != nil {
		return
	}

	// Updates must land even if the worker is stopping.
	ctx = context.WithoutCancel(ctx)

	if err != nil {
		log.WithFields(fields).WithError(err).Error("Outbox record is undeliverable")
		w.markFailed(ctx, rec, err)
		return
	}
	if res.Err == nil || !res.Retryable() {
		if err := w.store.MarkDone(ctx, rec.ID); err != nil {
			log.WithFields(fields).WithError(err).Error("Failed to mark outbox record done")
			return
		}
		w.metrics.ObserveOutbox(string(domain.OutboxDone))
		log.WithFields(fields).WithFields(log.Fields{
			"delivered": res.Delivered,
			"reason":    res.Reason,
		}).Info("Outbox record processed")
		return
	}

	if rec.Attempts >= w.cfg.MaxAttempts {
		log.WithFields(fields).WithError(res.Err).Error("Outbox record exhausted its attempts")
		w.markFailed(ctx, rec, res.Err)
		return
	}

	next := w.now().Add(w.backoff(rec.Attempts))
	if err := w.store.MarkRetry(ctx, rec.ID, next, res.Err.Error()); err != nil {
		log.WithFields(fields).WithError(err).Error("Failed to reschedule outbox record")
		return
	}
	w.metrics.ObserveOutbox("retry")
	log.WithFields(fields).WithError(res.Err).WithField("next_attempt_at", next).Warn("Outbox delivery failed, retrying later")
}

func (w *Worker) markFailed(ctx context.Context, rec domain.OutboxRecord, cause error) {
	if err := w.store.MarkFailed(ctx, rec.ID, cause.Error()); err != nil {
		log.WithField("outbox_id", rec.ID).WithError(err).Error("Failed to mark outbox record failed")
		return
	}
	w.metrics.ObserveOutbox(string(domain.OutboxFailed))
}

// backoff doubles the base delay for every attempt already made.
func (w *Worker) backoff(attempts int) time.Duration {
	d := w.cfg.Backoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d > 24*time.Hour {
			return 24 * time.Hour
		}
	}
	return d
}

type noopObserver struct{}

func (noopObserver) ObserveOutbox(string) {}
