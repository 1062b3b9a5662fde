package domain

import (
	"encoding/json"
	"time"
)

// EventKey is the logical notification type shared by templates and triggers.
type EventKey string

const (
	EventOrderConfirmation      EventKey = "order_confirmation"
	EventShippingNotification   EventKey = "shipping_notification"
	EventOrderCancellation      EventKey = "order_cancellation"
	EventAdminOrderCancellation EventKey = "admin_order_cancellation"
	EventLowStockAlert          EventKey = "low_stock_alert"
	EventOutOfStockAlert        EventKey = "out_of_stock_alert"
	EventNewsletter             EventKey = "newsletter"
	EventLoyaltyPointsEarned    EventKey = "loyalty_points_earned"
	EventLoyaltyPointsRedeemed  EventKey = "loyalty_points_redeemed"
	EventLoyaltyTierUpgrade     EventKey = "loyalty_tier_upgrade"
	EventLoyaltyPointsExpiring  EventKey = "loyalty_points_expiring"
)

// EventKeys lists every known event key.
var EventKeys = []EventKey{
	EventOrderConfirmation,
	EventShippingNotification,
	EventOrderCancellation,
	EventAdminOrderCancellation,
	EventLowStockAlert,
	EventOutOfStockAlert,
	EventNewsletter,
	EventLoyaltyPointsEarned,
	EventLoyaltyPointsRedeemed,
	EventLoyaltyTierUpgrade,
	EventLoyaltyPointsExpiring,
}

func (k EventKey) Valid() bool {
	for _, known := range EventKeys {
		if k == known {
			return true
		}
	}
	return false
}

// EventEnvelope is the wire format of business events on the bus and in the outbox.
type EventEnvelope struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

type Customer struct {
	Name  string `json:"customer_name"`
	Email string `json:"customer_email"`
}

type OrderItem struct {
	Name      string  `json:"name"`
	SKU       string  `json:"sku,omitempty"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

type OrderConfirmation struct {
	Customer
	OrderID         string      `json:"order_id"`
	OrderNumber     string      `json:"order_number"`
	OrderDate       time.Time   `json:"order_date"`
	Items           []OrderItem `json:"items"`
	Subtotal        float64     `json:"subtotal"`
	ShippingCost    float64     `json:"shipping_cost"`
	TaxAmount       float64     `json:"tax_amount"`
	DiscountAmount  float64     `json:"discount_amount"`
	TotalAmount     float64     `json:"total_amount"`
	Currency        string      `json:"currency,omitempty"`
	PaymentMethod   string      `json:"payment_method,omitempty"`
	ShippingAddress string      `json:"shipping_address,omitempty"`
}

type ShippingNotification struct {
	Customer
	OrderID           string    `json:"order_id"`
	OrderNumber       string    `json:"order_number"`
	TrackingNumber    string    `json:"tracking_number"`
	Carrier           string    `json:"carrier"`
	TrackingURL       string    `json:"tracking_url,omitempty"`
	ShippedAt         time.Time `json:"shipped_at"`
	EstimatedDelivery time.Time `json:"estimated_delivery"`
}

// OrderCancellation feeds both the customer and the admin cancellation notice.
type OrderCancellation struct {
	Customer
	OrderID      string    `json:"order_id"`
	OrderNumber  string    `json:"order_number"`
	Reason       string    `json:"cancellation_reason,omitempty"`
	CancelledAt  time.Time `json:"cancelled_at"`
	TotalAmount  float64   `json:"total_amount"`
	RefundAmount float64   `json:"refund_amount"`
	CancelledBy  string    `json:"cancelled_by,omitempty"`
	AdminEmail   string    `json:"admin_email,omitempty"`
}

type LowStockAlert struct {
	ProductID    string `json:"product_id"`
	ProductName  string `json:"product_name"`
	SKU          string `json:"sku,omitempty"`
	CurrentStock int    `json:"current_stock"`
	Threshold    int    `json:"threshold"`
	AdminEmail   string `json:"admin_email,omitempty"`
}

type OutOfStockAlert struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	SKU         string `json:"sku,omitempty"`
	AdminEmail  string `json:"admin_email,omitempty"`
}

// NewsletterBlast targets one template by id and every active subscriber.
type NewsletterBlast struct {
	TemplateID string            `json:"template_id"`
	CampaignID string            `json:"campaign_id,omitempty"`
	Variables  map[string]string `json:"variables,omitempty"`
}

type LoyaltyPointsEarned struct {
	Customer
	OrderID      string `json:"order_id,omitempty"`
	OrderNumber  string `json:"order_number,omitempty"`
	PointsEarned int    `json:"points_earned"`
	TotalPoints  int    `json:"total_points"`
	Tier         string `json:"tier,omitempty"`
}

type LoyaltyPointsRedeemed struct {
	Customer
	OrderID         string  `json:"order_id,omitempty"`
	OrderNumber     string  `json:"order_number,omitempty"`
	PointsRedeemed  int     `json:"points_redeemed"`
	RemainingPoints int     `json:"remaining_points"`
	DiscountValue   float64 `json:"discount_value"`
	Reward          string  `json:"reward,omitempty"`
}

type LoyaltyTierUpgrade struct {
	Customer
	PreviousTier string `json:"previous_tier"`
	NewTier      string `json:"new_tier"`
	TotalPoints  int    `json:"total_points"`
	Benefits     string `json:"tier_benefits,omitempty"`
}

type LoyaltyPointsExpiring struct {
	Customer
	ExpiringPoints int       `json:"expiring_points"`
	ExpiryDate     time.Time `json:"expiry_date"`
	TotalPoints    int       `json:"total_points"`
}
