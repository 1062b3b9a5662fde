package service

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"shop-notification-service/internal/domain"
	"shop-notification-service/internal/validator"

	log "github.com/sirupsen/logrus"
)

// TriggerNewsletterBlast sends one template to every active subscriber, one
// at a time, waiting the configured delay between consecutive sends.
func (d *Dispatcher) TriggerNewsletterBlast(ctx context.Context, e domain.NewsletterBlast) domain.BlastResult {
	var res domain.BlastResult
	fields := log.Fields{"event": domain.EventNewsletter, "template": e.TemplateID, "campaign_id": e.CampaignID}

	if err := validator.ValidateNewsletterBlast(e); err != nil {
		log.WithFields(fields).WithError(err).Warn("Invalid newsletter blast")
		res.Reason = domain.ReasonInvalidPayload
		res.Err = err
		return res
	}

	tpl, err := d.templates.FindByID(ctx, e.TemplateID)
	switch {
	case errors.Is(err, domain.ErrTemplateNotFound):
		log.WithFields(fields).Info("Newsletter template not found, skipping blast")
		res.Reason = domain.ReasonTemplateNotFound
		return res
	case err != nil:
		log.WithFields(fields).WithError(err).Error("Failed to load newsletter template")
		res.Reason = domain.ReasonStoreUnavailable
		res.Err = err
		return res
	case !tpl.Active:
		log.WithFields(fields).Info("Newsletter template inactive, skipping blast")
		res.Reason = domain.ReasonTemplateInactive
		return res
	}

	subs, err := d.subscribers.ListActive(ctx)
	if err != nil {
		log.WithFields(fields).WithError(err).Error("Failed to load newsletter subscribers")
		res.Reason = domain.ReasonStoreUnavailable
		res.Err = err
		return res
	}

	ref := e.CampaignID
	if ref == "" {
		ref = tpl.ID
	}
	res.Total = len(subs)
	log.WithFields(fields).WithField("subscribers", res.Total).Info("Starting newsletter blast")

	for i, sub := range subs {
		if i > 0 {
			if err := d.sleep(ctx, d.opts.NewsletterDelay); err != nil {
				log.WithFields(fields).WithError(err).Warn("Newsletter blast interrupted")
				res.Err = err
				break
			}
		}

		r := d.dispatch(ctx, request{
			event:       domain.EventNewsletter,
			template:    tpl,
			recipient:   sub.Email,
			referenceID: ref,
			vars:        d.subscriberVars(sub, e),
		})
		switch {
		case r.Delivered:
			res.Sent++
		case r.Reason == domain.ReasonDuplicateSuppressed:
			res.Suppressed++
		default:
			res.Failed++
			if r.Err != nil {
				res.Err = r.Err
				res.Reason = r.Reason
			}
		}
	}

	res.Delivered = res.Sent > 0 && res.Failed == 0 && res.Sent+res.Suppressed == res.Total
	log.WithFields(fields).WithFields(log.Fields{
		"sent":       res.Sent,
		"failed":     res.Failed,
		"suppressed": res.Suppressed,
	}).Info("Newsletter blast finished")
	return res
}

func (d *Dispatcher) subscriberVars(sub domain.Subscriber, e domain.NewsletterBlast) map[string]any {
	vars := make(map[string]any, len(e.Variables)+5)
	for k, v := range e.Variables {
		vars[k] = v
	}
	vars["subscriber_name"] = sub.Name
	vars["customer_name"] = sub.Name
	vars["subscriber_email"] = sub.Email
	vars["campaign_id"] = e.CampaignID
	vars["unsubscribe_token"] = sub.UnsubscribeToken
	vars["unsubscribe_url"] = d.unsubscribeURL(sub.UnsubscribeToken)
	return vars
}

func (d *Dispatcher) unsubscribeURL(token string) string {
	base := strings.TrimSpace(d.opts.UnsubscribeBaseURL)
	if base == "" || token == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "token=" + url.QueryEscape(token)
}
