package mailconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"shop-notification-service/internal/domain"

	log "github.com/sirupsen/logrus"
)

const (
	modernKey     = "default"
	schemaVersion = 2
	implicitTLS   = 465
)

// SettingsStore defines the settings access the resolver needs.
type SettingsStore interface {
	ListByType(ctx context.Context, t domain.SettingType) ([]domain.SettingRecord, error)
	Upsert(ctx context.Context, rec domain.SettingRecord) error
}

// Resolver produces the transport config from stored settings. The modern
// smtp_config row wins; legacy smtp rows are read only when it is absent or
// incomplete and are copied into a modern row the first time they are used.
type Resolver struct {
	settings        SettingsStore
	defaultFromName string
}

func NewResolver(settings SettingsStore, defaultFromName string) *Resolver {
	return &Resolver{settings: settings, defaultFromName: defaultFromName}
}

func (r *Resolver) Resolve(ctx context.Context) (domain.TransportConfig, error) {
	modernRows, err := r.settings.ListByType(ctx, domain.SettingSMTPConfig)
	if err != nil {
		return domain.TransportConfig{}, fmt.Errorf("failed to read smtp_config: %w", err)
	}

	modern, haveModern := r.modern(modernRows)
	if haveModern && modern.Complete() {
		return modern, nil
	}

	legacyRows, err := r.settings.ListByType(ctx, domain.SettingSMTPLegacy)
	if err != nil {
		return domain.TransportConfig{}, fmt.Errorf("failed to read legacy smtp settings: %w", err)
	}
	legacy, haveLegacy := r.legacy(legacyRows)
	if haveLegacy && legacy.Complete() {
		if len(modernRows) == 0 {
			r.migrate(ctx, legacy)
		} else {
			log.WithField("missing", modern.Missing()).Warn("smtp_config is incomplete, using legacy smtp settings")
		}
		return legacy, nil
	}

	switch {
	case haveModern:
		return domain.TransportConfig{}, incomplete(modern)
	case haveLegacy:
		return domain.TransportConfig{}, incomplete(legacy)
	default:
		return domain.TransportConfig{}, domain.ErrConfigMissing
	}
}

func incomplete(cfg domain.TransportConfig) error {
	return fmt.Errorf("%w: missing %s", domain.ErrConfigIncomplete, strings.Join(cfg.Missing(), ", "))
}

// modern uses the newest parseable smtp_config row.
func (r *Resolver) modern(rows []domain.SettingRecord) (domain.TransportConfig, bool) {
	for i := len(rows) - 1; i >= 0; i-- {
		var raw map[string]any
		if err := json.Unmarshal([]byte(rows[i].Value), &raw); err != nil {
			log.WithError(&domain.ParseError{SettingType: rows[i].Type, SettingKey: rows[i].Key, Err: err}).
				Warn("Ignoring malformed smtp_config")
			continue
		}
		return r.normalize(raw), true
	}
	return domain.TransportConfig{}, false
}

func (r *Resolver) legacy(rows []domain.SettingRecord) (domain.TransportConfig, bool) {
	if len(rows) == 0 {
		return domain.TransportConfig{}, false
	}
	raw := make(map[string]any, len(rows))
	for _, row := range rows {
		var v any
		if err := json.Unmarshal([]byte(row.Value), &v); err != nil {
			v = row.Value
		}
		raw[row.Key] = v
	}
	return r.normalize(raw), true
}

func (r *Resolver) migrate(ctx context.Context, cfg domain.TransportConfig) {
	doc := struct {
		Version int `json:"version"`
		domain.TransportConfig
	}{Version: schemaVersion, TransportConfig: cfg}

	value, err := json.Marshal(doc)
	if err != nil {
		log.WithError(err).Error("Failed to encode migrated smtp_config")
		return
	}
	err = r.settings.Upsert(ctx, domain.SettingRecord{
		Type:        domain.SettingSMTPConfig,
		Key:         modernKey,
		Value:       string(value),
		Description: "Migrated from legacy smtp settings",
	})
	if err != nil {
		log.WithError(err).Error("Failed to migrate legacy smtp settings")
		return
	}
	log.WithField("smtp_host", cfg.Host).Info("Migrated legacy smtp settings to smtp_config")
}

// fieldAliases lists the accepted names of each field, highest precedence first.
var fieldAliases = []struct {
	field string
	names []string
}{
	{"host", []string{"smtp_host", "host", "smtphost", "server"}},
	{"port", []string{"smtp_port", "port", "smtpport"}},
	{"username", []string{"smtp_username", "username", "smtp_user", "smtpusername", "smtpuser", "user"}},
	{"password", []string{"smtp_password", "password", "smtp_pass", "smtppassword", "pass"}},
	{"from_email", []string{"from_email", "fromemail", "smtp_from", "sender_email", "from"}},
	{"from_name", []string{"from_name", "fromname", "sender_name"}},
	{"secure", []string{"smtp_secure", "secure", "smtpsecure", "ssl", "tls"}},
}

func (r *Resolver) normalize(raw map[string]any) domain.TransportConfig {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Keys are matched case-insensitively; an exact lower-case key wins.
	lower := make(map[string]any, len(raw))
	for _, k := range keys {
		lk := strings.ToLower(k)
		if _, seen := lower[lk]; !seen || k == lk {
			lower[lk] = raw[k]
		}
	}

	fields := make(map[string]any, len(fieldAliases))
	for _, fa := range fieldAliases {
		for _, name := range fa.names {
			if v, ok := lower[name]; ok {
				fields[fa.field] = v
				break
			}
		}
	}

	cfg := domain.TransportConfig{
		Host:      strings.TrimSpace(asString(fields["host"])),
		Port:      asInt(fields["port"]),
		Username:  strings.TrimSpace(asString(fields["username"])),
		Password:  asString(fields["password"]),
		FromEmail: strings.TrimSpace(asString(fields["from_email"])),
		FromName:  strings.TrimSpace(asString(fields["from_name"])),
		Secure:    asBool(fields["secure"]),
	}
	if cfg.FromName == "" {
		cfg.FromName = r.defaultFromName
	}
	if cfg.Port == implicitTLS {
		cfg.Secure = true
	}
	return cfg
}

func asString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

func asInt(v any) int {
	switch val := v.(type) {
	case float64:
		return int(val)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

func asBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "1", "yes", "ssl", "tls":
			return true
		}
	}
	return false
}

// IsConfigError reports whether err means the transport is not usable.
func IsConfigError(err error) bool {
	return errors.Is(err, domain.ErrConfigMissing) || errors.Is(err, domain.ErrConfigIncomplete)
}
