// Package pricing computes order lines and totals. Every function here is
// pure: the catalog snapshot and the clock are inputs.
package pricing

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/forgeline/forgeline/internal/shared"
)

var hundred = decimal.NewFromInt(100)

// PriceSource records which tier produced a unit price.
type PriceSource string

const (
	SourceRetail    PriceSource = "RETAIL"
	SourceWholesale PriceSource = "WHOLESALE"
	SourcePromotion PriceSource = "PROMOTION"
)

// ProductPrice is the catalog snapshot the calculator prices against.
type ProductPrice struct {
	ProductID      int64
	SKU            string
	Name           string
	Unit           string
	BasePrice      decimal.Decimal
	WholesalePrice decimal.NullDecimal
	PromoPrice     decimal.NullDecimal
	PromoStartsAt  *time.Time
	PromoEndsAt    *time.Time
}

// PromotionActive reports whether the promotion window contains now. Both
// ends are inclusive; an unset end leaves that side open.
func (p ProductPrice) PromotionActive(now time.Time) bool {
	if !p.PromoPrice.Valid {
		return false
	}
	if p.PromoStartsAt == nil && p.PromoEndsAt == nil {
		return false
	}
	if p.PromoStartsAt != nil && now.Before(*p.PromoStartsAt) {
		return false
	}
	if p.PromoEndsAt != nil && now.After(*p.PromoEndsAt) {
		return false
	}
	return true
}

// UnitPrice selects the unit price for an actor type at now.
func UnitPrice(p ProductPrice, actorType shared.UserType, now time.Time) (decimal.Decimal, PriceSource) {
	if p.PromotionActive(now) {
		return p.PromoPrice.Decimal, SourcePromotion
	}
	if actorType == shared.UserTypeBusiness && p.WholesalePrice.Valid {
		return p.WholesalePrice.Decimal, SourceWholesale
	}
	return p.BasePrice, SourceRetail
}

// LineInput is one requested order line.
type LineInput struct {
	ProductID       int64
	Quantity        int64
	DiscountPercent decimal.Decimal
}

// Line is a priced order line, frozen into the order item snapshot.
type Line struct {
	ProductID       int64
	SKU             string
	Name            string
	Unit            string
	Quantity        int64
	UnitPrice       decimal.Decimal
	PriceSource     PriceSource
	DiscountPercent decimal.Decimal
	GrossAmount     decimal.Decimal
	DiscountAmount  decimal.Decimal
	LineTotal       decimal.Decimal
}

// Totals is the calculator output.
type Totals struct {
	Lines          []Line
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	ShippingCost   decimal.Decimal
	Total          decimal.Decimal
}

// Request carries everything Calculate needs.
type Request struct {
	Items     []LineInput
	Catalog   map[int64]ProductPrice
	ActorType shared.UserType
	Shipping  ShippingMethod
	Now       time.Time
}

// Calculator prices orders using centralised shipping rules.
type Calculator struct {
	rules ShippingRules
}

// NewCalculator builds a Calculator.
func NewCalculator(rules ShippingRules) *Calculator {
	return &Calculator{rules: rules}
}

// Rules exposes the configured shipping rules.
func (c *Calculator) Rules() ShippingRules {
	return c.rules
}

// Calculate prices every line and the order totals.
func (c *Calculator) Calculate(req Request) (Totals, error) {
	if len(req.Items) == 0 {
		return Totals{}, shared.Validation("at least one item is required")
	}
	if !req.Shipping.Valid() {
		return Totals{}, shared.Validation("unknown shipping method %q", req.Shipping)
	}
	totals := Totals{
		Lines:          make([]Line, 0, len(req.Items)),
		Subtotal:       decimal.Zero,
		DiscountAmount: decimal.Zero,
	}
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return Totals{}, shared.Validation("line %d: quantity must be greater than zero", i+1)
		}
		if item.DiscountPercent.IsNegative() || item.DiscountPercent.GreaterThan(hundred) {
			return Totals{}, shared.Validation("line %d: discount percent must be between 0 and 100", i+1)
		}
		product, ok := req.Catalog[item.ProductID]
		if !ok {
			return Totals{}, shared.NotFound("product", strconv.FormatInt(item.ProductID, 10))
		}
		unitPrice, source := UnitPrice(product, req.ActorType, req.Now)
		gross := unitPrice.Mul(decimal.NewFromInt(item.Quantity)).Round(2)
		discount := gross.Mul(item.DiscountPercent).Div(hundred).Round(2)
		line := Line{
			ProductID:       product.ProductID,
			SKU:             product.SKU,
			Name:            product.Name,
			Unit:            product.Unit,
			Quantity:        item.Quantity,
			UnitPrice:       unitPrice,
			PriceSource:     source,
			DiscountPercent: item.DiscountPercent,
			GrossAmount:     gross,
			DiscountAmount:  discount,
			LineTotal:       gross.Sub(discount),
		}
		totals.Lines = append(totals.Lines, line)
		totals.Subtotal = totals.Subtotal.Add(line.LineTotal)
		totals.DiscountAmount = totals.DiscountAmount.Add(discount)
	}
	shipping, err := c.rules.Cost(req.Shipping, totals.Subtotal)
	if err != nil {
		return Totals{}, err
	}
	totals.ShippingCost = shipping
	totals.Total = totals.Subtotal.Add(shipping)
	return totals, nil
}
