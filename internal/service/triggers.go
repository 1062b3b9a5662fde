package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"

	"shop-notification-service/internal/domain"
	"shop-notification-service/internal/render"
	"shop-notification-service/internal/repository"

	log "github.com/sirupsen/logrus"
)

const adminSettingKey = "admin"

func (d *Dispatcher) TriggerOrderConfirmation(ctx context.Context, e domain.OrderConfirmation) domain.DispatchResult {
	vars := customerVars(e.Customer)
	vars["order_id"] = e.OrderID
	vars["order_number"] = e.OrderNumber
	vars["order_date"] = e.OrderDate
	vars["subtotal"] = render.Money(e.Subtotal)
	vars["shipping_cost"] = render.Money(e.ShippingCost)
	vars["tax_amount"] = render.Money(e.TaxAmount)
	vars["discount_amount"] = render.Money(e.DiscountAmount)
	vars["total_amount"] = render.Money(e.TotalAmount)
	vars["currency"] = e.Currency
	vars["payment_method"] = e.PaymentMethod
	vars["shipping_address"] = e.ShippingAddress
	vars["item_count"] = len(e.Items)
	vars["order_items"] = d.itemsText(e.Items)
	vars["order_items_html"] = d.itemsHTML(e.Items)

	return d.dispatch(ctx, request{
		event:       domain.EventOrderConfirmation,
		recipient:   e.Email,
		orderID:     e.OrderID,
		referenceID: e.OrderID,
		vars:        vars,
	})
}

func (d *Dispatcher) TriggerShippingNotification(ctx context.Context, e domain.ShippingNotification) domain.DispatchResult {
	vars := customerVars(e.Customer)
	vars["order_id"] = e.OrderID
	vars["order_number"] = e.OrderNumber
	vars["tracking_number"] = e.TrackingNumber
	vars["carrier"] = e.Carrier
	vars["tracking_url"] = e.TrackingURL
	vars["shipped_at"] = e.ShippedAt
	vars["estimated_delivery"] = e.EstimatedDelivery

	return d.dispatch(ctx, request{
		event:       domain.EventShippingNotification,
		recipient:   e.Email,
		orderID:     e.OrderID,
		referenceID: e.OrderID,
		vars:        vars,
	})
}

func (d *Dispatcher) TriggerCustomerOrderCancellation(ctx context.Context, e domain.OrderCancellation) domain.DispatchResult {
	return d.dispatch(ctx, request{
		event:       domain.EventOrderCancellation,
		recipient:   e.Email,
		orderID:     e.OrderID,
		referenceID: e.OrderID,
		vars:        cancellationVars(e),
	})
}

func (d *Dispatcher) TriggerAdminOrderCancellation(ctx context.Context, e domain.OrderCancellation) domain.DispatchResult {
	return d.dispatch(ctx, request{
		event:       domain.EventAdminOrderCancellation,
		recipient:   d.adminRecipient(ctx, e.AdminEmail),
		orderID:     e.OrderID,
		referenceID: e.OrderID,
		vars:        cancellationVars(e),
	})
}

// TriggerOrderCancellation notifies the customer and the admin. A missing admin
// template or address does not count against the result, and a side already
// sent within the suppression window counts as done. At least one side must
// have been delivered by this call.
func (d *Dispatcher) TriggerOrderCancellation(ctx context.Context, e domain.OrderCancellation) domain.CancellationResult {
	res := domain.CancellationResult{
		Customer: d.TriggerCustomerOrderCancellation(ctx, e),
		Admin:    d.TriggerAdminOrderCancellation(ctx, e),
	}
	customerOK := res.Customer.Delivered || res.Customer.Reason == domain.ReasonDuplicateSuppressed
	adminOK := res.Admin.Delivered ||
		res.Admin.Reason == domain.ReasonDuplicateSuppressed ||
		res.Admin.Reason == domain.ReasonTemplateNotFound ||
		res.Admin.Reason == domain.ReasonNoRecipient
	res.Delivered = customerOK && adminOK && (res.Customer.Delivered || res.Admin.Delivered)
	return res
}

func (d *Dispatcher) TriggerLowStockAlert(ctx context.Context, e domain.LowStockAlert) domain.DispatchResult {
	return d.dispatch(ctx, request{
		event:       domain.EventLowStockAlert,
		recipient:   d.adminRecipient(ctx, e.AdminEmail),
		referenceID: e.ProductID,
		vars: map[string]any{
			"product_id":    e.ProductID,
			"product_name":  e.ProductName,
			"sku":           e.SKU,
			"current_stock": e.CurrentStock,
			"threshold":     e.Threshold,
		},
	})
}

func (d *Dispatcher) TriggerOutOfStockAlert(ctx context.Context, e domain.OutOfStockAlert) domain.DispatchResult {
	return d.dispatch(ctx, request{
		event:       domain.EventOutOfStockAlert,
		recipient:   d.adminRecipient(ctx, e.AdminEmail),
		referenceID: e.ProductID,
		vars: map[string]any{
			"product_id":   e.ProductID,
			"product_name": e.ProductName,
			"sku":          e.SKU,
		},
	})
}

func (d *Dispatcher) TriggerLoyaltyPointsEarned(ctx context.Context, e domain.LoyaltyPointsEarned) domain.DispatchResult {
	vars := customerVars(e.Customer)
	vars["order_id"] = e.OrderID
	vars["order_number"] = e.OrderNumber
	vars["points_earned"] = e.PointsEarned
	vars["total_points"] = e.TotalPoints
	vars["tier"] = e.Tier

	return d.dispatch(ctx, request{
		event:       domain.EventLoyaltyPointsEarned,
		recipient:   e.Email,
		orderID:     e.OrderID,
		referenceID: e.OrderID,
		vars:        vars,
	})
}

func (d *Dispatcher) TriggerLoyaltyPointsRedeemed(ctx context.Context, e domain.LoyaltyPointsRedeemed) domain.DispatchResult {
	vars := customerVars(e.Customer)
	vars["order_id"] = e.OrderID
	vars["order_number"] = e.OrderNumber
	vars["points_redeemed"] = e.PointsRedeemed
	vars["remaining_points"] = e.RemainingPoints
	vars["discount_value"] = render.Money(e.DiscountValue)
	vars["reward"] = e.Reward

	return d.dispatch(ctx, request{
		event:       domain.EventLoyaltyPointsRedeemed,
		recipient:   e.Email,
		orderID:     e.OrderID,
		referenceID: e.OrderID,
		vars:        vars,
	})
}

func (d *Dispatcher) TriggerLoyaltyTierUpgrade(ctx context.Context, e domain.LoyaltyTierUpgrade) domain.DispatchResult {
	vars := customerVars(e.Customer)
	vars["previous_tier"] = e.PreviousTier
	vars["new_tier"] = e.NewTier
	vars["total_points"] = e.TotalPoints
	vars["tier_benefits"] = e.Benefits

	return d.dispatch(ctx, request{
		event:       domain.EventLoyaltyTierUpgrade,
		recipient:   e.Email,
		referenceID: e.NewTier,
		vars:        vars,
	})
}

func (d *Dispatcher) TriggerLoyaltyPointsExpiring(ctx context.Context, e domain.LoyaltyPointsExpiring) domain.DispatchResult {
	vars := customerVars(e.Customer)
	vars["expiring_points"] = e.ExpiringPoints
	vars["expiry_date"] = e.ExpiryDate
	vars["total_points"] = e.TotalPoints

	var ref string
	if !e.ExpiryDate.IsZero() {
		ref = e.ExpiryDate.UTC().Format("2006-01-02")
	}
	return d.dispatch(ctx, request{
		event:       domain.EventLoyaltyPointsExpiring,
		recipient:   e.Email,
		referenceID: ref,
		vars:        vars,
	})
}

// SendTemplate sends one template to recipient with sample data, bypassing
// trigger matching and duplicate suppression. The attempt is logged.
func (d *Dispatcher) SendTemplate(ctx context.Context, templateID, recipient string, overrides map[string]string) domain.DispatchResult {
	tpl, err := d.templates.FindByID(ctx, templateID)
	if err != nil {
		if errors.Is(err, domain.ErrTemplateNotFound) {
			return domain.DispatchResult{Reason: domain.ReasonTemplateNotFound, Err: err}
		}
		return domain.DispatchResult{Reason: domain.ReasonStoreUnavailable, Err: err}
	}

	vars := d.sampleVars()
	for k, v := range overrides {
		vars[k] = v
	}
	return d.dispatch(ctx, request{
		event:     tpl.Type,
		template:  tpl,
		recipient: recipient,
		vars:      vars,
		skipGuard: true,
	})
}

// adminRecipient picks the payload address, then the stored admin setting,
// then the configured fallback.
func (d *Dispatcher) adminRecipient(ctx context.Context, fromPayload string) string {
	if addr := strings.TrimSpace(fromPayload); addr != "" {
		return addr
	}
	if d.settings != nil {
		rec, err := d.settings.Get(ctx, domain.SettingEmailConfig, adminSettingKey)
		switch {
		case err == nil:
			var doc struct {
				AdminEmail string `json:"admin_email"`
			}
			if err := json.Unmarshal([]byte(rec.Value), &doc); err != nil {
				log.WithError(&domain.ParseError{SettingType: rec.Type, SettingKey: rec.Key, Err: err}).
					Warn("Ignoring malformed admin email setting")
			} else if addr := strings.TrimSpace(doc.AdminEmail); addr != "" {
				return addr
			}
		case !errors.Is(err, repository.ErrNotFound):
			log.WithError(err).Warn("Failed to read admin email setting")
		}
	}
	return strings.TrimSpace(d.opts.AdminEmail)
}

func customerVars(c domain.Customer) map[string]any {
	return map[string]any{
		"customer_name":  c.Name,
		"customer_email": c.Email,
	}
}

func cancellationVars(e domain.OrderCancellation) map[string]any {
	vars := customerVars(e.Customer)
	vars["order_id"] = e.OrderID
	vars["order_number"] = e.OrderNumber
	vars["cancellation_reason"] = e.Reason
	vars["cancelled_at"] = e.CancelledAt
	vars["cancelled_by"] = e.CancelledBy
	vars["total_amount"] = render.Money(e.TotalAmount)
	vars["refund_amount"] = render.Money(e.RefundAmount)
	return vars
}

func (d *Dispatcher) itemsText(items []domain.OrderItem) string {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, fmt.Sprintf("%d x %s (%s)",
			it.Quantity, it.Name, d.renderer.Format(render.Money(it.UnitPrice*float64(it.Quantity)))))
	}
	return strings.Join(lines, "\n")
}

func (d *Dispatcher) itemsHTML(items []domain.OrderItem) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("<ul>")
	for _, it := range items {
		fmt.Fprintf(&b, "<li>%d x %s (%s)</li>",
			it.Quantity, html.EscapeString(it.Name), d.renderer.Format(render.Money(it.UnitPrice*float64(it.Quantity))))
	}
	b.WriteString("</ul>")
	return b.String()
}

func (d *Dispatcher) sampleVars() map[string]any {
	now := d.now()
	return map[string]any{
		"customer_name":    "Max Mustermann",
		"customer_email":   "max.mustermann@example.com",
		"order_id":         "1001",
		"order_number":     "BK-2024-001",
		"order_date":       now,
		"total_amount":     render.Money(99.99),
		"subtotal":         render.Money(89.99),
		"shipping_cost":    render.Money(4.99),
		"tax_amount":       render.Money(5.01),
		"order_items":      "1 x Beispielprodukt (89.99)",
		"order_items_html": "<ul><li>1 x Beispielprodukt (89.99)</li></ul>",
		"tracking_number":  "00340434161234567890",
		"carrier":          "DHL",
		"product_name":     "Beispielprodukt",
		"current_stock":    3,
		"points_earned":    100,
		"total_points":     1250,
		"new_tier":         "Gold",
		"expiry_date":      now.AddDate(0, 1, 0),
	}
}
