package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// SettingType is the discriminator of a generic settings row.
type SettingType string

const (
	SettingEmailTemplate SettingType = "email_template"
	SettingSMTPConfig    SettingType = "smtp_config"
	SettingSMTPLegacy    SettingType = "smtp"
	SettingEmailLog      SettingType = "email_log"
	SettingEmailConfig   SettingType = "email_config"
)

// SettingRecord is one row of the settings store. Value holds raw JSON.
type SettingRecord struct {
	ID          int64       `json:"id"`
	Type        SettingType `json:"setting_type"`
	Key         string      `json:"setting_key"`
	Value       string      `json:"setting_value"`
	Description string      `json:"description,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// Template is a parsed email_template record.
type Template struct {
	ID          string            `json:"id"`
	Type        EventKey          `json:"type"`
	Active      bool              `json:"active"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"html_content"`
	TextContent string            `json:"text_content"`
	Triggers    map[EventKey]bool `json:"triggers"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	IsActive    bool              `json:"is_active"`
}

// HasAnyTrigger reports whether at least one trigger flag is set.
func (t Template) HasAnyTrigger() bool {
	for _, on := range t.Triggers {
		if on {
			return true
		}
	}
	return false
}

// Eligible reports whether the template fires for the given event key.
func (t Template) Eligible(key EventKey) bool {
	return t.Type == key && t.Active && t.Triggers[key]
}

// TransportConfig is the normalized outbound mail server configuration.
type TransportConfig struct {
	Host      string `json:"smtp_host"`
	Port      int    `json:"smtp_port"`
	Username  string `json:"smtp_username"`
	Password  string `json:"smtp_password"`
	FromEmail string `json:"from_email"`
	FromName  string `json:"from_name"`
	Secure    bool   `json:"smtp_secure"`
}

// Missing lists the required fields that are empty.
func (c TransportConfig) Missing() []string {
	var missing []string
	if strings.TrimSpace(c.Host) == "" {
		missing = append(missing, "smtp_host")
	}
	if c.Port <= 0 {
		missing = append(missing, "smtp_port")
	}
	if strings.TrimSpace(c.Username) == "" {
		missing = append(missing, "smtp_username")
	}
	if c.Password == "" {
		missing = append(missing, "smtp_password")
	}
	if strings.TrimSpace(c.FromEmail) == "" {
		missing = append(missing, "from_email")
	}
	return missing
}

func (c TransportConfig) Complete() bool {
	return len(c.Missing()) == 0
}

// Masked returns a copy safe for display.
func (c TransportConfig) Masked() TransportConfig {
	if c.Password != "" {
		c.Password = "********"
	}
	return c
}

type DeliveryStatus string

const (
	StatusSent    DeliveryStatus = "sent"
	StatusFailed  DeliveryStatus = "failed"
	StatusPending DeliveryStatus = "pending"
)

// DeliveryLogEntry records one send attempt. Entries are never updated.
type DeliveryLogEntry struct {
	TemplateKey string            `json:"template_key"`
	Recipient   string            `json:"recipient"`
	Subject     string            `json:"subject"`
	Status      DeliveryStatus    `json:"status"`
	MessageID   string            `json:"message_id,omitempty"`
	Error       string            `json:"error_message,omitempty"`
	OrderID     string            `json:"order_id,omitempty"`
	ReferenceID string            `json:"reference_id,omitempty"`
	Variables   map[string]string `json:"variables"`
	SentAt      time.Time         `json:"sent_at"`
	Timestamp   int64             `json:"timestamp"`
}

// Reference returns the business reference used for duplicate detection.
func (e DeliveryLogEntry) Reference() string {
	if e.ReferenceID != "" {
		return e.ReferenceID
	}
	return e.OrderID
}

type Subscriber struct {
	ID               int64  `json:"id"`
	Email            string `json:"email"`
	Name             string `json:"name"`
	UnsubscribeToken string `json:"unsubscribe_token"`
	Active           bool   `json:"active"`
}

// Dispatch reasons reported when nothing was delivered.
const (
	ReasonTemplateNotFound    = "template_not_found"
	ReasonTemplateInactive    = "template_inactive"
	ReasonDuplicateSuppressed = "duplicate_suppressed"
	ReasonInvalidRecipient    = "invalid_recipient"
	ReasonNoRecipient         = "no_recipient"
	ReasonInvalidPayload      = "invalid_payload"
	ReasonConfig              = "transport_config"
	ReasonTransport           = "transport_error"
	ReasonSendingDisabled     = "sending_disabled"
	ReasonStoreUnavailable    = "store_unavailable"
)

// DispatchResult is the outcome of one trigger for one recipient.
type DispatchResult struct {
	Delivered bool   `json:"delivered"`
	MessageID string `json:"message_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Err       error  `json:"-"`
}

func (r DispatchResult) MarshalJSON() ([]byte, error) {
	type alias DispatchResult
	out := struct {
		alias
		Error string `json:"error,omitempty"`
	}{alias: alias(r)}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// CancellationResult combines the customer and admin attempts of a cancellation.
type CancellationResult struct {
	Delivered bool           `json:"delivered"`
	Customer  DispatchResult `json:"customer"`
	Admin     DispatchResult `json:"admin"`
}

// BlastResult summarizes a newsletter blast.
type BlastResult struct {
	Delivered  bool   `json:"delivered"`
	Total      int    `json:"total"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
	Suppressed int    `json:"suppressed"`
	Reason     string `json:"reason,omitempty"`
	Err        error  `json:"-"`
}

// Retryable reports whether a later attempt could succeed.
func (r DispatchResult) Retryable() bool {
	switch r.Reason {
	case ReasonTransport, ReasonConfig, ReasonStoreUnavailable:
		return true
	}
	return false
}
