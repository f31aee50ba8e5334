package broker

import (
	"regexp"

	"github.com/This-HW/hantu-quant-sub002/internal/alert"
)

var codePattern = regexp.MustCompile(`^\d{6}$`)

// validateCode enforces the 6-decimal-digit KRX symbol format (spec.md §4.4).
func validateCode(code string) error {
	if !codePattern.MatchString(code) {
		return &alert.ValidationError{Field: "code", Msg: "must be exactly 6 decimal digits, got " + code}
	}
	return nil
}

func validatePeriodDays(days int) error {
	if days < 1 || days > 365 {
		return &alert.ValidationError{Field: "period_days", Msg: "must be in [1, 365]"}
	}
	return nil
}

func validateCount(count int) error {
	if count < 1 || count > 1000 {
		return &alert.ValidationError{Field: "count", Msg: "must be in [1, 1000]"}
	}
	return nil
}

func validateQuantity(qty int) error {
	if qty < 1 || qty > 10000 {
		return &alert.ValidationError{Field: "quantity", Msg: "must be in [1, 10000]"}
	}
	return nil
}

// validateOrder enforces spec.md §4.4's order-body rules: limit orders
// need a positive price, market orders must carry price == 0.
func validateOrder(o Order) error {
	if err := validateCode(o.Code); err != nil {
		return err
	}
	if err := validateQuantity(o.Quantity); err != nil {
		return err
	}
	switch o.Division {
	case OrderDivisionLimit:
		if o.Price <= 0 {
			return &alert.ValidationError{Field: "price", Msg: "limit orders require price > 0"}
		}
	case OrderDivisionMarket:
		if o.Price != 0 {
			return &alert.ValidationError{Field: "price", Msg: "market orders require price == 0"}
		}
	default:
		return &alert.ValidationError{Field: "division", Msg: "must be LIMIT or MARKET"}
	}
	return nil
}
