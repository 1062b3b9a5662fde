package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL     string `env:"DATABASE_URL,required,notEmpty"`
	MigrationsPath  string `env:"MIGRATIONS_PATH" envDefault:"file://db/migrations"`
	MigrationsTable string `env:"MIGRATIONS_TABLE" envDefault:"notification_schema_migrations"`

	HTTPAddr       string `env:"HTTP_ADDR" envDefault:":8080"`
	DebugEndpoints bool   `env:"DEBUG_ENDPOINTS" envDefault:"false"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	KafkaBootstrapServers string `env:"KAFKA_BOOTSTRAP_SERVERS"`
	KafkaTopic            string `env:"KAFKA_TOPIC" envDefault:"shop_events"`
	KafkaGroupID          string `env:"KAFKA_GROUP_ID" envDefault:"notification_service_group"`

	SuppressionWindow  time.Duration `env:"SUPPRESSION_WINDOW" envDefault:"5m"`
	DuplicateScanLimit int           `env:"DUPLICATE_SCAN_LIMIT" envDefault:"50"`

	SMTPConnectTimeout  time.Duration `env:"SMTP_CONNECT_TIMEOUT" envDefault:"10s"`
	SMTPGreetingTimeout time.Duration `env:"SMTP_GREETING_TIMEOUT" envDefault:"5s"`
	SMTPSocketTimeout   time.Duration `env:"SMTP_SOCKET_TIMEOUT" envDefault:"10s"`
	SMTPSendTimeout     time.Duration `env:"SMTP_SEND_TIMEOUT" envDefault:"15s"`
	DefaultFromName     string        `env:"DEFAULT_FROM_NAME" envDefault:"Shop"`
	SendEnabled         bool          `env:"SEND_ENABLED" envDefault:"true"`

	AdminEmail         string `env:"ADMIN_EMAIL"`
	ShopName           string `env:"SHOP_NAME" envDefault:"Shop"`
	ShopURL            string `env:"SHOP_URL"`
	UnsubscribeBaseURL string `env:"UNSUBSCRIBE_BASE_URL"`
	Timezone           string `env:"TIMEZONE" envDefault:"Europe/Berlin"`
	DateLayout         string `env:"DATE_LAYOUT" envDefault:"02.01.2006"`

	NewsletterDelay time.Duration `env:"NEWSLETTER_DELAY" envDefault:"1s"`

	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"5s"`
	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"20"`
	OutboxMaxAttempts  int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"5"`
	OutboxBackoff      time.Duration `env:"OUTBOX_BACKOFF" envDefault:"30s"`
	OutboxLease        time.Duration `env:"OUTBOX_LEASE" envDefault:"5m"`

	// Zero keeps delivery logs forever.
	LogRetention time.Duration `env:"LOG_RETENTION" envDefault:"0"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	positive := []struct {
		name string
		d    time.Duration
	}{
		{"SUPPRESSION_WINDOW", c.SuppressionWindow},
		{"SMTP_CONNECT_TIMEOUT", c.SMTPConnectTimeout},
		{"SMTP_GREETING_TIMEOUT", c.SMTPGreetingTimeout},
		{"SMTP_SOCKET_TIMEOUT", c.SMTPSocketTimeout},
		{"SMTP_SEND_TIMEOUT", c.SMTPSendTimeout},
		{"OUTBOX_POLL_INTERVAL", c.OutboxPollInterval},
		{"OUTBOX_BACKOFF", c.OutboxBackoff},
		{"OUTBOX_LEASE", c.OutboxLease},
	}
	for _, p := range positive {
		if p.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", p.name, p.d))
		}
	}
	if c.NewsletterDelay < 0 {
		errs = append(errs, fmt.Errorf("NEWSLETTER_DELAY must not be negative, got %s", c.NewsletterDelay))
	}
	if c.LogRetention < 0 {
		errs = append(errs, fmt.Errorf("LOG_RETENTION must not be negative, got %s", c.LogRetention))
	}
	if c.DuplicateScanLimit <= 0 {
		errs = append(errs, fmt.Errorf("DUPLICATE_SCAN_LIMIT must be positive, got %d", c.DuplicateScanLimit))
	}
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("OUTBOX_BATCH_SIZE must be positive, got %d", c.OutboxBatchSize))
	}
	if c.OutboxMaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("OUTBOX_MAX_ATTEMPTS must be positive, got %d", c.OutboxMaxAttempts))
	}
	return errors.Join(errs...)
}

// MigrationDatabaseURL points golang-migrate at a dedicated bookkeeping table
// so it does not clash with other services sharing the database.
func (c Config) MigrationDatabaseURL() string {
	sep := "?"
	if strings.Contains(c.DatabaseURL, "?") {
		sep = "&"
	}
	return c.DatabaseURL + sep + "x-migrations-table=" + c.MigrationsTable
}
