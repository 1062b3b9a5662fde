package maintenance

import (
	"context"
	"fmt"
	"time"

	"shop-notification-service/internal/domain"

	"github.com/go-co-op/gocron/v2"
	log "github.com/sirupsen/logrus"
)

const (
	keyPurgeInterval = 10 * time.Minute
	logPruneInterval = 24 * time.Hour
	jobTimeout       = time.Minute
)

type KeyPurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type LogPruner interface {
	DeleteOlderThan(ctx context.Context, t domain.SettingType, cutoff time.Time) (int64, error)
}

// Scheduler runs periodic housekeeping for idempotency keys and delivery logs.
type Scheduler struct {
	cron         gocron.Scheduler
	keys         KeyPurger
	logs         LogPruner
	logRetention time.Duration
	now          func() time.Time
}

// New registers the jobs. Log pruning is scheduled only when logRetention > 0.
func New(keys KeyPurger, logs LogPruner, logRetention time.Duration) (*Scheduler, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("creating gocron scheduler: %w", err)
	}
	s := &Scheduler{cron: cron, keys: keys, logs: logs, logRetention: logRetention, now: time.Now}

	if _, err := cron.NewJob(
		gocron.DurationJob(keyPurgeInterval),
		gocron.NewTask(func() { s.PurgeKeys(context.Background()) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return nil, fmt.Errorf("scheduling idempotency key purge: %w", err)
	}

	if logRetention > 0 {
		if _, err := cron.NewJob(
			gocron.DurationJob(logPruneInterval),
			gocron.NewTask(func() { s.PruneLogs(context.Background()) }),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return nil, fmt.Errorf("scheduling delivery log pruning: %w", err)
		}
	}
	return s, nil
}

// Run starts the jobs and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	log.WithField("jobs", len(s.cron.Jobs())).Info("Maintenance scheduler started")
	<-ctx.Done()
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("stopping maintenance scheduler: %w", err)
	}
	log.Info("Maintenance scheduler stopped")
	return nil
}

func (s *Scheduler) PurgeKeys(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	n, err := s.keys.PurgeExpired(ctx, s.now())
	if err != nil {
		log.WithError(err).Error("Failed to purge expired idempotency keys")
		return
	}
	if n > 0 {
		log.WithField("purged", n).Info("Purged expired idempotency keys")
	}
}

func (s *Scheduler) PruneLogs(ctx context.Context) {
	if s.logRetention <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	cutoff := s.now().Add(-s.logRetention)
	n, err := s.logs.DeleteOlderThan(ctx, domain.SettingEmailLog, cutoff)
	if err != nil {
		log.WithError(err).Error("Failed to prune delivery logs")
		return
	}
	log.WithFields(log.Fields{
		"deleted": n,
		"cutoff":  cutoff.Format(time.RFC3339),
	}).Info("Pruned delivery logs")
}
