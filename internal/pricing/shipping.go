package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/forgeline/forgeline/internal/shared"
)

// ShippingMethod enumerates supported delivery options.
type ShippingMethod string

const (
	// ShippingStandard is free once the subtotal reaches the threshold.
	ShippingStandard ShippingMethod = "STANDARD"
	// ShippingPickup is collected at the warehouse and never charged.
	ShippingPickup ShippingMethod = "PICKUP"
	// ShippingCourier always costs the courier fee.
	ShippingCourier ShippingMethod = "COURIER"
)

// Valid reports whether m is a known method.
func (m ShippingMethod) Valid() bool {
	switch m {
	case ShippingStandard, ShippingPickup, ShippingCourier:
		return true
	}
	return false
}

// ShippingRules is the single home of shipping thresholds and fees.
type ShippingRules struct {
	FreeShippingThreshold decimal.Decimal
	StandardFee           decimal.Decimal
	CourierFee            decimal.Decimal
}

// DefaultShippingRules returns the rules used when configuration is absent.
func DefaultShippingRules() ShippingRules {
	return ShippingRules{
		FreeShippingThreshold: decimal.NewFromInt(1000),
		StandardFee:           decimal.NewFromInt(15),
		CourierFee:            decimal.NewFromInt(35),
	}
}

// ParseShippingRules builds rules from configuration strings.
func ParseShippingRules(threshold, standardFee, courierFee string) (ShippingRules, error) {
	var (
		rules ShippingRules
		err   error
	)
	if rules.FreeShippingThreshold, err = decimal.NewFromString(threshold); err != nil {
		return ShippingRules{}, shared.Validation("shipping threshold %q: %v", threshold, err)
	}
	if rules.StandardFee, err = decimal.NewFromString(standardFee); err != nil {
		return ShippingRules{}, shared.Validation("standard fee %q: %v", standardFee, err)
	}
	if rules.CourierFee, err = decimal.NewFromString(courierFee); err != nil {
		return ShippingRules{}, shared.Validation("courier fee %q: %v", courierFee, err)
	}
	if rules.FreeShippingThreshold.IsNegative() || rules.StandardFee.IsNegative() || rules.CourierFee.IsNegative() {
		return ShippingRules{}, shared.Validation("shipping amounts must not be negative")
	}
	return rules, nil
}

// Cost returns the shipping cost of method for an order subtotal.
func (r ShippingRules) Cost(method ShippingMethod, subtotal decimal.Decimal) (decimal.Decimal, error) {
	switch method {
	case ShippingPickup:
		return decimal.Zero, nil
	case ShippingCourier:
		return r.CourierFee, nil
	case ShippingStandard:
		if subtotal.GreaterThanOrEqual(r.FreeShippingThreshold) {
			return decimal.Zero, nil
		}
		return r.StandardFee, nil
	}
	return decimal.Zero, shared.Validation("unknown shipping method %q", method)
}
