package service

import (
	"context"
	"encoding/json"
	"fmt"

	"shop-notification-service/internal/domain"
	"shop-notification-service/internal/validator"
)

// HandleEvent decodes a raw event payload and runs the matching trigger.
// The returned error covers payloads that can never be delivered; transport
// problems are reported through the result.
func (d *Dispatcher) HandleEvent(ctx context.Context, eventType string, payload []byte) (domain.DispatchResult, error) {
	switch domain.EventKey(eventType) {
	case domain.EventOrderConfirmation:
		var e domain.OrderConfirmation
		if err := decode(eventType, payload, &e, validator.ValidateOrderConfirmation); err != nil {
			return domain.DispatchResult{}, err
		}
		return d.TriggerOrderConfirmation(ctx, e), nil

	case domain.EventShippingNotification:
		var e domain.ShippingNotification
		if err := decode(eventType, payload, &e, validator.ValidateShippingNotification); err != nil {
			return domain.DispatchResult{}, err
		}
		return d.TriggerShippingNotification(ctx, e), nil

	case domain.EventOrderCancellation:
		var e domain.OrderCancellation
		if err := decode(eventType, payload, &e, validator.ValidateOrderCancellation); err != nil {
			return domain.DispatchResult{}, err
		}
		return summarizeCancellation(d.TriggerOrderCancellation(ctx, e)), nil

	case domain.EventAdminOrderCancellation:
		var e domain.OrderCancellation
		if err := decode(eventType, payload, &e, validator.ValidateOrderCancellation); err != nil {
			return domain.DispatchResult{}, err
		}
		return d.TriggerAdminOrderCancellation(ctx, e), nil

	case domain.EventLowStockAlert:
		var e domain.LowStockAlert
		if err := decode(eventType, payload, &e, validator.ValidateLowStockAlert); err != nil {
			return domain.DispatchResult{}, err
		}
		return d.TriggerLowStockAlert(ctx, e), nil

	case domain.EventOutOfStockAlert:
		var e domain.OutOfStockAlert
		if err := decode(eventType, payload, &e, validator.ValidateOutOfStockAlert); err != nil {
			return domain.DispatchResult{}, err
		}
		return d.TriggerOutOfStockAlert(ctx, e), nil

	case domain.EventNewsletter:
		var e domain.NewsletterBlast
		if err := decode(eventType, payload, &e, validator.ValidateNewsletterBlast); err != nil {
			return domain.DispatchResult{}, err
		}
		return summarizeBlast(d.TriggerNewsletterBlast(ctx, e)), nil

	case domain.EventLoyaltyPointsEarned:
		var e domain.LoyaltyPointsEarned
		if err := decode(eventType, payload, &e, validator.ValidateLoyaltyPointsEarned); err != nil {
			return domain.DispatchResult{}, err
		}
		return d.TriggerLoyaltyPointsEarned(ctx, e), nil

	case domain.EventLoyaltyPointsRedeemed:
		var e domain.LoyaltyPointsRedeemed
		if err := decode(eventType, payload, &e, validator.ValidateLoyaltyPointsRedeemed); err != nil {
			return domain.DispatchResult{}, err
		}
		return d.TriggerLoyaltyPointsRedeemed(ctx, e), nil

	case domain.EventLoyaltyTierUpgrade:
		var e domain.LoyaltyTierUpgrade
		if err := decode(eventType, payload, &e, validator.ValidateLoyaltyTierUpgrade); err != nil {
			return domain.DispatchResult{}, err
		}
		return d.TriggerLoyaltyTierUpgrade(ctx, e), nil

	case domain.EventLoyaltyPointsExpiring:
		var e domain.LoyaltyPointsExpiring
		if err := decode(eventType, payload, &e, validator.ValidateLoyaltyPointsExpiring); err != nil {
			return domain.DispatchResult{}, err
		}
		return d.TriggerLoyaltyPointsExpiring(ctx, e), nil
	}
	return domain.DispatchResult{}, fmt.Errorf("%w: %q", domain.ErrUnknownEvent, eventType)
}

func decode[T any](eventType string, payload []byte, into *T, validate func(T) error) error {
	if err := json.Unmarshal(payload, into); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", eventType, err)
	}
	if err := validate(*into); err != nil {
		return fmt.Errorf("invalid %s payload: %w", eventType, err)
	}
	return nil
}

// summarizeCancellation reports the side that needs attention: the one that
// failed with an error, else the customer side.
func summarizeCancellation(r domain.CancellationResult) domain.DispatchResult {
	out := domain.DispatchResult{Delivered: r.Delivered, MessageID: r.Customer.MessageID}
	if out.MessageID == "" {
		out.MessageID = r.Admin.MessageID
	}
	if r.Delivered {
		return out
	}
	failed := r.Customer
	if r.Customer.Delivered || (r.Customer.Err == nil && r.Admin.Err != nil) {
		failed = r.Admin
	}
	out.Reason = failed.Reason
	out.Err = failed.Err
	return out
}

func summarizeBlast(r domain.BlastResult) domain.DispatchResult {
	return domain.DispatchResult{Delivered: r.Delivered, Reason: r.Reason, Err: r.Err}
}
