package render

import (
	"context"
	"encoding/json"
	"errors"

	"shop-notification-service/internal/domain"
	"shop-notification-service/internal/repository"

	log "github.com/sirupsen/logrus"
)

const signatureKey = "signature"

// Signature is the global footer stored as email_config/signature.
type Signature struct {
	Enabled bool   `json:"enabled"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

func (s *Signature) active() bool {
	return s != nil && s.Enabled
}

// SettingGetter defines the keyed settings lookup used for the signature.
type SettingGetter interface {
	Get(ctx context.Context, t domain.SettingType, key string) (domain.SettingRecord, error)
}

// LoadSignature returns the configured signature, or nil when none is stored,
// it is disabled or it cannot be read.
func LoadSignature(ctx context.Context, settings SettingGetter) *Signature {
	rec, err := settings.Get(ctx, domain.SettingEmailConfig, signatureKey)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		log.WithError(err).Warn("Failed to load email signature, sending without it")
		return nil
	}

	var sig Signature
	if err := json.Unmarshal([]byte(rec.Value), &sig); err != nil {
		log.WithError(&domain.ParseError{SettingType: rec.Type, SettingKey: rec.Key, Err: err}).
			Warn("Ignoring malformed email signature")
		return nil
	}
	if !sig.Enabled {
		return nil
	}
	return &sig
}
