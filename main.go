package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"shop-notification-service/internal/api"
	"shop-notification-service/internal/config"
	"shop-notification-service/internal/consumer"
	"shop-notification-service/internal/deliverylog"
	"shop-notification-service/internal/guard"
	"shop-notification-service/internal/handler"
	"shop-notification-service/internal/mailconfig"
	"shop-notification-service/internal/maintenance"
	"shop-notification-service/internal/metrics"
	"shop-notification-service/internal/outbox"
	"shop-notification-service/internal/render"
	"shop-notification-service/internal/repository"
	"shop-notification-service/internal/sender"
	"shop-notification-service/internal/service"
	"shop-notification-service/internal/templates"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	log.SetOutput(os.Stdout)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if err := run(); err != nil {
		log.WithError(err).Fatal("Notification service stopped with error")
	}
	log.Info("Notification service stopped")
}

// run wires the service and blocks until shutdown. Errors are returned so the
// deferred closers run before the process exits.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	setupLogger(cfg)
	log.Info("Starting notification service...")

	m, err := migrate.New(cfg.MigrationsPath, cfg.MigrationDatabaseURL())
	if err != nil {
		return fmt.Errorf("could not create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not apply migration: %w", err)
	}
	log.Info("Database migration successfully applied")

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("could not connect to database: %w", err)
	}
	defer db.Close()

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.WithError(err).WithField("timezone", cfg.Timezone).Warn("Unknown timezone, falling back to UTC")
		loc = time.UTC
	}

	settingsRepo := repository.NewPostgresSettingsRepository(db)
	keysRepo := repository.NewPostgresIdempotencyRepository(db)
	outboxRepo := repository.NewPostgresOutboxRepository(db)

	mtr := metrics.New(prometheus.DefaultRegisterer)
	templateStore := templates.NewStore(settingsRepo)
	deliveryLogs := deliverylog.NewLogger(settingsRepo)
	resolver := mailconfig.NewResolver(settingsRepo, cfg.DefaultFromName)

	dispatcher := service.NewDispatcher(service.Deps{
		Templates: templateStore,
		Guard:     guard.New(deliveryLogs, keysRepo, cfg.SuppressionWindow, cfg.DuplicateScanLimit),
		Transport: resolver,
		Sender: sender.NewSMTPEmailSender(sender.Timeouts{
			Connect:  cfg.SMTPConnectTimeout,
			Greeting: cfg.SMTPGreetingTimeout,
			Socket:   cfg.SMTPSocketTimeout,
			Send:     cfg.SMTPSendTimeout,
		}),
		Logs:        deliveryLogs,
		Subscribers: repository.NewPostgresSubscriberRepository(db),
		Settings:    settingsRepo,
		Renderer:    render.New(cfg.DateLayout, loc),
		Metrics:     mtr,
	}, service.Options{
		AdminEmail:         cfg.AdminEmail,
		ShopName:           cfg.ShopName,
		ShopURL:            cfg.ShopURL,
		UnsubscribeBaseURL: cfg.UnsubscribeBaseURL,
		NewsletterDelay:    cfg.NewsletterDelay,
		SendEnabled:        cfg.SendEnabled,
	})
	if !cfg.SendEnabled {
		log.Warn("SEND_ENABLED is false, notifications are logged as pending and not sent")
	}

	worker := outbox.NewWorker(outboxRepo, dispatcher, mtr, outbox.WorkerConfig{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
		MaxAttempts:  cfg.OutboxMaxAttempts,
		Backoff:      cfg.OutboxBackoff,
		Lease:        cfg.OutboxLease,
	})

	scheduler, err := maintenance.New(keysRepo, settingsRepo, cfg.LogRetention)
	if err != nil {
		return fmt.Errorf("failed to create maintenance scheduler: %w", err)
	}

	var kafkaConsumer *consumer.KafkaConsumer
	if servers := strings.Trim(cfg.KafkaBootstrapServers, "\""); servers != "" {
		log.WithField("kafka_servers", servers).Info("Connecting to Kafka")
		kc, err := kafka.NewConsumer(consumer.Config(servers, cfg.KafkaGroupID))
		if err != nil {
			return fmt.Errorf("failed to create kafka consumer: %w", err)
		}
		kafkaConsumer, err = consumer.NewKafkaConsumer(kc, cfg.KafkaTopic, handler.NewEventHandler(dispatcher))
		if err != nil {
			kc.Close()
			return fmt.Errorf("failed to subscribe to topic: %w", err)
		}
		defer kafkaConsumer.Close()
	} else {
		log.Warn("KAFKA_BOOTSTRAP_SERVERS is not set, event consumer disabled")
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.NewRouter(api.Deps{
			DB:         settingsRepo,
			Gatherer:   prometheus.DefaultGatherer,
			Debug:      cfg.DebugEndpoints,
			Settings:   settingsRepo,
			Templates:  templateStore,
			Logs:       deliveryLogs,
			Transport:  resolver,
			Dispatcher: dispatcher,
			Outbox:     outbox.NewWriter(outboxRepo),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithFields(log.Fields{
			"addr":  cfg.HTTPAddr,
			"debug": cfg.DebugEndpoints,
		}).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return worker.Run(ctx) })
	g.Go(func() error { return scheduler.Run(ctx) })
	if kafkaConsumer != nil {
		g.Go(func() error { return kafkaConsumer.Start(ctx) })
	}

	return g.Wait()
}

func setupLogger(cfg *config.Config) {
	if strings.EqualFold(cfg.LogFormat, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithField("log_level", cfg.LogLevel).Warn("Unknown log level, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
}
