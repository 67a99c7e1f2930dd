package ledger

import (
	"strings"

	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/model"
)

// maxPercent is 100% in hundredths of a percent.
const maxPercent model.Money = 10000

// ParseDiscountType accepts percent/percentage and amount/fixed.
func ParseDiscountType(raw string) (model.DiscountType, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return model.DiscountNone, true
	case "percent", "percentage":
		return model.DiscountPercent, true
	case "amount", "fixed":
		return model.DiscountAmount, true
	default:
		return "", false
	}
}

// ValidateDiscount rejects a type without a value, a value without a type,
// negative values and percentages above 100.
func ValidateDiscount(typ model.DiscountType, value *model.Money) error {
	switch {
	case typ == model.DiscountNone && value == nil:
		return nil
	case typ == model.DiscountNone:
		return apperr.Field("discount_type", "is required when discount_value is set")
	case value == nil:
		return apperr.Field("discount_value", "is required when discount_type is set")
	case *value < 0:
		return apperr.Field("discount_value", "must not be negative")
	case typ == model.DiscountPercent && *value > maxPercent:
		return apperr.Field("discount_value", "must not exceed 100 percent")
	}
	return nil
}

// ComputeDiscount derives the discount amount for base. Percentages round
// half up to the cent; fixed amounts are capped at base.
func ComputeDiscount(base model.Money, typ model.DiscountType, value *model.Money) (model.Money, error) {
	if err := ValidateDiscount(typ, value); err != nil {
		return 0, err
	}
	if base < 0 {
		return 0, apperr.Field("amount", "must not be negative")
	}
	if typ == model.DiscountNone {
		return 0, nil
	}
	v := *value
	switch typ {
	case model.DiscountPercent:
		// Split base so base*v cannot overflow.
		return base/maxPercent*v + (base%maxPercent*v+maxPercent/2)/maxPercent, nil
	default:
		return min(v, base), nil
	}
}
