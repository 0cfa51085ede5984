package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/forgeline/forgeline/internal/shared"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Equal(t, want, got.StringFixed(2))
}

func testCatalog() map[int64]ProductPrice {
	return map[int64]ProductPrice{
		1: {ProductID: 1, SKU: "BLT-M8", Name: "Hex bolt M8", Unit: "box", BasePrice: dec("12.50")},
		2: {
			ProductID:      2,
			SKU:            "GLV-NIT",
			Name:           "Nitrile gloves",
			Unit:           "pack",
			BasePrice:      dec("20.00"),
			WholesalePrice: decimal.NewNullDecimal(dec("16.00")),
		},
	}
}

func TestRetailPricingWithDiscountAndShipping(t *testing.T) {
	calc := NewCalculator(DefaultShippingRules())
	totals, err := calc.Calculate(Request{
		Items: []LineInput{
			{ProductID: 1, Quantity: 4},
			{ProductID: 2, Quantity: 3, DiscountPercent: dec("10")},
		},
		Catalog:   testCatalog(),
		ActorType: shared.UserTypeIndividual,
		Shipping:  ShippingStandard,
		Now:       time.Now(),
	})
	require.NoError(t, err)
	require.Len(t, totals.Lines, 2)

	requireAmount(t, "50.00", totals.Lines[0].LineTotal)
	require.Equal(t, SourceRetail, totals.Lines[1].PriceSource)
	requireAmount(t, "60.00", totals.Lines[1].GrossAmount)
	requireAmount(t, "6.00", totals.Lines[1].DiscountAmount)
	requireAmount(t, "54.00", totals.Lines[1].LineTotal)

	requireAmount(t, "104.00", totals.Subtotal)
	requireAmount(t, "6.00", totals.DiscountAmount)
	requireAmount(t, "15.00", totals.ShippingCost)
	requireAmount(t, "119.00", totals.Total)
}

func TestBusinessActorGetsWholesalePrice(t *testing.T) {
	calc := NewCalculator(DefaultShippingRules())
	totals, err := calc.Calculate(Request{
		Items:     []LineInput{{ProductID: 2, Quantity: 2}, {ProductID: 1, Quantity: 1}},
		Catalog:   testCatalog(),
		ActorType: shared.UserTypeBusiness,
		Shipping:  ShippingPickup,
		Now:       time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, SourceWholesale, totals.Lines[0].PriceSource)
	requireAmount(t, "16.00", totals.Lines[0].UnitPrice)
	// No wholesale tier defined: business actors pay retail.
	require.Equal(t, SourceRetail, totals.Lines[1].PriceSource)
	requireAmount(t, "0.00", totals.ShippingCost)
	requireAmount(t, "44.50", totals.Total)
}

func TestPromotionWindowIsInclusive(t *testing.T) {
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 5, 31, 23, 59, 59, 0, time.UTC)
	p := ProductPrice{
		ProductID:      3,
		BasePrice:      dec("10.00"),
		WholesalePrice: decimal.NewNullDecimal(dec("9.00")),
		PromoPrice:     decimal.NewNullDecimal(dec("7.50")),
		PromoStartsAt:  &start,
		PromoEndsAt:    &end,
	}

	price, source := UnitPrice(p, shared.UserTypeBusiness, start)
	require.Equal(t, SourcePromotion, source)
	requireAmount(t, "7.50", price)

	_, source = UnitPrice(p, shared.UserTypeIndividual, end)
	require.Equal(t, SourcePromotion, source)

	price, source = UnitPrice(p, shared.UserTypeBusiness, end.Add(time.Second))
	require.Equal(t, SourceWholesale, source)
	requireAmount(t, "9.00", price)

	_, source = UnitPrice(p, shared.UserTypeIndividual, start.Add(-time.Second))
	require.Equal(t, SourceRetail, source)
}

func TestPromotionWithoutWindowIsIgnored(t *testing.T) {
	p := ProductPrice{BasePrice: dec("10.00"), PromoPrice: decimal.NewNullDecimal(dec("1.00"))}
	_, source := UnitPrice(p, shared.UserTypeIndividual, time.Now())
	require.Equal(t, SourceRetail, source)
}

func TestShippingRules(t *testing.T) {
	rules := DefaultShippingRules()

	cost, err := rules.Cost(ShippingStandard, dec("999.99"))
	require.NoError(t, err)
	requireAmount(t, "15.00", cost)

	cost, err = rules.Cost(ShippingStandard, dec("1000.00"))
	require.NoError(t, err)
	requireAmount(t, "0.00", cost)

	cost, err = rules.Cost(ShippingCourier, dec("50000"))
	require.NoError(t, err)
	requireAmount(t, "35.00", cost)

	cost, err = rules.Cost(ShippingPickup, dec("1"))
	require.NoError(t, err)
	requireAmount(t, "0.00", cost)

	_, err = rules.Cost("DRONE", dec("1"))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestParseShippingRules(t *testing.T) {
	rules, err := ParseShippingRules("750", "12.5", "40")
	require.NoError(t, err)
	requireAmount(t, "750.00", rules.FreeShippingThreshold)

	_, err = ParseShippingRules("abc", "1", "1")
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = ParseShippingRules("10", "-1", "1")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCalculateRejectsInvalidLines(t *testing.T) {
	calc := NewCalculator(DefaultShippingRules())
	base := Request{Catalog: testCatalog(), ActorType: shared.UserTypeIndividual, Shipping: ShippingStandard, Now: time.Now()}

	req := base
	_, err := calc.Calculate(req)
	require.ErrorIs(t, err, shared.ErrValidation)

	req.Items = []LineInput{{ProductID: 1, Quantity: 0}}
	_, err = calc.Calculate(req)
	require.ErrorIs(t, err, shared.ErrValidation)

	req.Items = []LineInput{{ProductID: 1, Quantity: 1, DiscountPercent: dec("100.01")}}
	_, err = calc.Calculate(req)
	require.ErrorIs(t, err, shared.ErrValidation)

	req.Items = []LineInput{{ProductID: 42, Quantity: 1}}
	_, err = calc.Calculate(req)
	require.ErrorIs(t, err, shared.ErrNotFound)

	req.Items = []LineInput{{ProductID: 1, Quantity: 1}}
	req.Shipping = "TELEPORT"
	_, err = calc.Calculate(req)
	require.ErrorIs(t, err, shared.ErrValidation)
}
