package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"shop-notification-service/internal/domain"
	"shop-notification-service/internal/guard"
	"shop-notification-service/internal/mailconfig"
	"shop-notification-service/internal/render"
	"shop-notification-service/internal/sender"
	"shop-notification-service/internal/validator"

	log "github.com/sirupsen/logrus"
)

// TemplateFinder defines the template lookups the dispatcher needs.
type TemplateFinder interface {
	FindEligible(ctx context.Context, key domain.EventKey) (*domain.Template, error)
	FindByID(ctx context.Context, id string) (*domain.Template, error)
}

// DuplicateGuard defines the suppression checks run before every send.
type DuplicateGuard interface {
	IsDuplicate(ctx context.Context, q guard.Query) bool
	Reserve(ctx context.Context, q guard.Query) bool
	Release(ctx context.Context, q guard.Query)
}

type ConfigResolver interface {
	Resolve(ctx context.Context) (domain.TransportConfig, error)
}

type MailSender interface {
	Send(ctx context.Context, cfg domain.TransportConfig, msg sender.Message) (string, error)
}

type DeliveryRecorder interface {
	Record(ctx context.Context, entry domain.DeliveryLogEntry)
}

type SubscriberLister interface {
	ListActive(ctx context.Context) ([]domain.Subscriber, error)
}

// Observer receives dispatch metrics.
type Observer interface {
	ObserveDispatch(event, outcome string)
	ObserveSend(d time.Duration, err error)
}

// Deps are the collaborators of a Dispatcher. Settings and Metrics may be nil.
type Deps struct {
	Templates   TemplateFinder
	Guard       DuplicateGuard
	Transport   ConfigResolver
	Sender      MailSender
	Logs        DeliveryRecorder
	Subscribers SubscriberLister
	Settings    render.SettingGetter
	Renderer    *render.Renderer
	Metrics     Observer
}

// Options carry the shop-wide values used while dispatching.
type Options struct {
	AdminEmail         string
	ShopName           string
	ShopURL            string
	UnsubscribeBaseURL string
	NewsletterDelay    time.Duration
	SendEnabled        bool
}

// Dispatcher turns business events into rendered, deduplicated, logged emails.
// Every trigger returns a result value; none of them fails the caller.
type Dispatcher struct {
	templates   TemplateFinder
	guard       DuplicateGuard
	transport   ConfigResolver
	sender      MailSender
	logs        DeliveryRecorder
	subscribers SubscriberLister
	settings    render.SettingGetter
	renderer    *render.Renderer
	metrics     Observer
	opts        Options

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(deps Deps, opts Options) *Dispatcher {
	d := &Dispatcher{
		templates:   deps.Templates,
		guard:       deps.Guard,
		transport:   deps.Transport,
		sender:      deps.Sender,
		logs:        deps.Logs,
		subscribers: deps.Subscribers,
		settings:    deps.Settings,
		renderer:    deps.Renderer,
		metrics:     deps.Metrics,
		opts:        opts,
		now:         time.Now,
		sleep:       sleepContext,
	}
	if d.metrics == nil {
		d.metrics = noopObserver{}
	}
	if d.renderer == nil {
		d.renderer = render.New("", nil)
	}
	return d
}

// request is one notification for one recipient.
type request struct {
	event       domain.EventKey
	template    *domain.Template
	recipient   string
	orderID     string
	referenceID string
	vars        map[string]any
	skipGuard   bool
}

func (d *Dispatcher) dispatch(ctx context.Context, req request) domain.DispatchResult {
	fields := log.Fields{
		"event":     req.event,
		"recipient": req.recipient,
		"order_id":  req.orderID,
	}

	tpl := req.template
	if tpl == nil {
		found, err := d.templates.FindEligible(ctx, req.event)
		if err != nil {
			log.WithFields(fields).WithError(err).Error("Failed to load templates")
			return d.finish(req.event, domain.DispatchResult{Reason: domain.ReasonStoreUnavailable, Err: err})
		}
		if found == nil {
			log.WithFields(fields).Info("No active template for event, skipping")
			return d.finish(req.event, domain.DispatchResult{Reason: domain.ReasonTemplateNotFound})
		}
		tpl = found
	}
	fields["template"] = tpl.ID

	if err := validator.ValidateEmail(req.recipient); err != nil {
		reason := domain.ReasonInvalidRecipient
		if errors.Is(err, validator.ErrEmptyEmail) {
			reason = domain.ReasonNoRecipient
		}
		log.WithFields(fields).WithError(err).Warn("Recipient rejected")
		return d.finish(req.event, domain.DispatchResult{
			Reason: reason,
			Err:    fmt.Errorf("%w: %v", domain.ErrInvalidRecipient, err),
		})
	}
	recipient := strings.TrimSpace(req.recipient)

	q := guard.Query{TemplateKey: string(req.event), Recipient: recipient, ReferenceID: req.referenceID}
	if !req.skipGuard {
		if d.guard.IsDuplicate(ctx, q) || !d.guard.Reserve(ctx, q) {
			log.WithFields(fields).Info("Duplicate notification suppressed")
			return d.finish(req.event, domain.DispatchResult{Reason: domain.ReasonDuplicateSuppressed})
		}
	}
	release := func() {
		if !req.skipGuard {
			d.guard.Release(ctx, q)
		}
	}

	vars := d.commonVars(recipient)
	for k, v := range req.vars {
		vars[k] = v
	}

	var sig *render.Signature
	if d.settings != nil {
		sig = render.LoadSignature(ctx, d.settings)
	}
	msg := sender.Message{
		To:          recipient,
		Subject:     d.renderer.Render(tpl.Subject, vars),
		HTML:        d.renderer.RenderHTML(tpl.HTMLContent, vars, sig),
		Text:        d.renderer.RenderText(tpl.TextContent, vars, sig),
		Attachments: tpl.Attachments,
	}
	entry := domain.DeliveryLogEntry{
		TemplateKey: string(req.event),
		Recipient:   recipient,
		Subject:     msg.Subject,
		OrderID:     req.orderID,
		ReferenceID: req.referenceID,
		Variables:   d.renderer.Strings(vars),
		SentAt:      d.now().UTC(),
	}

	if !d.opts.SendEnabled {
		release()
		entry.Status = domain.StatusPending
		d.logs.Record(ctx, entry)
		log.WithFields(fields).Info("Sending disabled, notification logged as pending")
		return d.finish(req.event, domain.DispatchResult{Reason: domain.ReasonSendingDisabled})
	}

	cfg, err := d.transport.Resolve(ctx)
	if err != nil {
		release()
		reason := domain.ReasonConfig
		if !mailconfig.IsConfigError(err) {
			reason = domain.ReasonStoreUnavailable
		}
		log.WithFields(fields).WithError(err).Error("Mail transport is not configured, notification not sent")
		return d.finish(req.event, domain.DispatchResult{Reason: reason, Err: err})
	}

	start := time.Now()
	messageID, err := d.sender.Send(ctx, cfg, msg)
	d.metrics.ObserveSend(time.Since(start), err)

	if err != nil {
		release()
		entry.Status = domain.StatusFailed
		entry.Error = err.Error()
		d.logs.Record(ctx, entry)
		log.WithFields(fields).WithError(err).Error("Failed to send notification")
		return d.finish(req.event, domain.DispatchResult{Reason: domain.ReasonTransport, Err: err})
	}

	entry.Status = domain.StatusSent
	entry.MessageID = messageID
	d.logs.Record(ctx, entry)
	log.WithFields(fields).WithField("message_id", messageID).Info("Notification sent")
	return d.finish(req.event, domain.DispatchResult{Delivered: true, MessageID: messageID})
}

func (d *Dispatcher) finish(event domain.EventKey, res domain.DispatchResult) domain.DispatchResult {
	outcome := res.Reason
	if res.Delivered {
		outcome = string(domain.StatusSent)
	} else if res.Reason == domain.ReasonTransport {
		outcome = string(domain.StatusFailed)
	}
	d.metrics.ObserveDispatch(string(event), outcome)
	return res
}

func (d *Dispatcher) commonVars(recipient string) map[string]any {
	now := d.now()
	return map[string]any{
		"shop_name":       d.opts.ShopName,
		"shop_url":        d.opts.ShopURL,
		"current_year":    now.Year(),
		"current_date":    now,
		"recipient_email": recipient,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type noopObserver struct{}

func (noopObserver) ObserveDispatch(string, string)   {}
func (noopObserver) ObserveSend(time.Duration, error) {}
