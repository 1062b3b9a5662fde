package validator

import (
	"errors"
	"regexp"
	"strings"

	"shop-notification-service/internal/domain"
)

var (
	ErrEmptyEmail         = errors.New("email is empty")
	ErrInvalidEmailFormat = errors.New("invalid email format")
	ErrEmptyOrderID       = errors.New("order ID is empty")
	ErrEmptyProductID     = errors.New("product ID is empty")
	ErrEmptyTemplateID    = errors.New("template ID is empty")
	ErrNegativeAmount     = errors.New("amount must not be negative")
	ErrInvalidPoints      = errors.New("points must be greater than 0")
	ErrEmptyTier          = errors.New("tier is empty")
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func ValidateEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return ErrEmptyEmail
	}
	if !emailRegex.MatchString(strings.TrimSpace(email)) {
		return ErrInvalidEmailFormat
	}
	return nil
}

func ValidateOrderID(orderID string) error {
	if strings.TrimSpace(orderID) == "" {
		return ErrEmptyOrderID
	}
	return nil
}

func ValidateAmount(amount float64) error {
	if amount < 0 {
		return ErrNegativeAmount
	}
	return nil
}

func ValidatePoints(points int) error {
	if points <= 0 {
		return ErrInvalidPoints
	}
	return nil
}

func ValidateOrderConfirmation(e domain.OrderConfirmation) error {
	if err := ValidateOrderID(e.OrderID); err != nil {
		return err
	}
	return ValidateAmount(e.TotalAmount)
}

func ValidateShippingNotification(e domain.ShippingNotification) error {
	return ValidateOrderID(e.OrderID)
}

func ValidateOrderCancellation(e domain.OrderCancellation) error {
	if err := ValidateOrderID(e.OrderID); err != nil {
		return err
	}
	if err := ValidateAmount(e.TotalAmount); err != nil {
		return err
	}
	return ValidateAmount(e.RefundAmount)
}

func ValidateLowStockAlert(e domain.LowStockAlert) error {
	if strings.TrimSpace(e.ProductID) == "" {
		return ErrEmptyProductID
	}
	return nil
}

func ValidateOutOfStockAlert(e domain.OutOfStockAlert) error {
	if strings.TrimSpace(e.ProductID) == "" {
		return ErrEmptyProductID
	}
	return nil
}

func ValidateNewsletterBlast(e domain.NewsletterBlast) error {
	if strings.TrimSpace(e.TemplateID) == "" {
		return ErrEmptyTemplateID
	}
	return nil
}

func ValidateLoyaltyPointsEarned(e domain.LoyaltyPointsEarned) error {
	return ValidatePoints(e.PointsEarned)
}

func ValidateLoyaltyPointsRedeemed(e domain.LoyaltyPointsRedeemed) error {
	if err := ValidatePoints(e.PointsRedeemed); err != nil {
		return err
	}
	return ValidateAmount(e.DiscountValue)
}

func ValidateLoyaltyTierUpgrade(e domain.LoyaltyTierUpgrade) error {
	if strings.TrimSpace(e.NewTier) == "" {
		return ErrEmptyTier
	}
	return nil
}

func ValidateLoyaltyPointsExpiring(e domain.LoyaltyPointsExpiring) error {
	return ValidatePoints(e.ExpiringPoints)
}
