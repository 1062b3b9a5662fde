package templates

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"shop-notification-service/internal/domain"

	log "github.com/sirupsen/logrus"
)

var errMissingType = errors.New("template type is empty")

// SettingsReader defines the settings access the store needs.
type SettingsReader interface {
	ListByType(ctx context.Context, t domain.SettingType) ([]domain.SettingRecord, error)
}

// Store reads email templates from the settings store. It keeps no cache.
type Store struct {
	settings SettingsReader
}

func NewStore(settings SettingsReader) *Store {
	return &Store{settings: settings}
}

// LoadResult holds the parsed templates in store order and the rows that were rejected.
type LoadResult struct {
	Templates []domain.Template    `json:"templates"`
	Rejected  []*domain.ParseError `json:"rejected"`
}

func (s *Store) Load(ctx context.Context) (LoadResult, error) {
	var res LoadResult

	rows, err := s.settings.ListByType(ctx, domain.SettingEmailTemplate)
	if err != nil {
		return res, fmt.Errorf("failed to load templates: %w", err)
	}

	for _, row := range rows {
		tpl, err := ParseTemplate(row)
		if err != nil {
			perr := &domain.ParseError{SettingType: row.Type, SettingKey: row.Key, Err: err}
			log.WithFields(log.Fields{
				"setting_key": row.Key,
				"error":       err,
			}).Warn("Rejected malformed email template")
			res.Rejected = append(res.Rejected, perr)
			continue
		}
		res.Templates = append(res.Templates, tpl)
	}
	return res, nil
}

// LoadTemplatesByEventKind returns every valid template in store order.
func (s *Store) LoadTemplatesByEventKind(ctx context.Context) ([]domain.Template, error) {
	res, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return res.Templates, nil
}

// FindEligible returns the first template in store order that fires for key,
// or nil when none does. Precedence among several eligible templates is by
// store order only.
func (s *Store) FindEligible(ctx context.Context, key domain.EventKey) (*domain.Template, error) {
	tpls, err := s.LoadTemplatesByEventKind(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tpls {
		if tpls[i].Eligible(key) {
			return &tpls[i], nil
		}
	}
	return nil, nil
}

// FindByID returns the template stored under the given setting key.
func (s *Store) FindByID(ctx context.Context, id string) (*domain.Template, error) {
	tpls, err := s.LoadTemplatesByEventKind(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tpls {
		if tpls[i].ID == id {
			return &tpls[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrTemplateNotFound, id)
}

type templateDocument struct {
	Type        string              `json:"type"`
	Active      bool                `json:"active"`
	Subject     string              `json:"subject"`
	HTMLContent string              `json:"html_content"`
	TextContent string              `json:"text_content"`
	Triggers    map[string]bool     `json:"triggers"`
	Attachments []domain.Attachment `json:"attachments"`
}

// ParseTemplate decodes an email_template row and derives IsActive.
func ParseTemplate(rec domain.SettingRecord) (domain.Template, error) {
	var doc templateDocument
	dec := json.NewDecoder(bytes.NewReader([]byte(rec.Value)))
	if err := dec.Decode(&doc); err != nil {
		return domain.Template{}, fmt.Errorf("decode template: %w", err)
	}
	if strings.TrimSpace(doc.Type) == "" {
		return domain.Template{}, errMissingType
	}

	tpl := domain.Template{
		ID:          rec.Key,
		Type:        domain.EventKey(strings.TrimSpace(doc.Type)),
		Active:      doc.Active,
		Subject:     doc.Subject,
		HTMLContent: doc.HTMLContent,
		TextContent: doc.TextContent,
		Triggers:    make(map[domain.EventKey]bool, len(doc.Triggers)),
		Attachments: doc.Attachments,
	}
	for k, on := range doc.Triggers {
		tpl.Triggers[domain.EventKey(k)] = on
	}
	tpl.IsActive = tpl.Active && tpl.HasAnyTrigger()
	return tpl, nil
}
