package catalog

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/forgeline/forgeline/internal/pricing"
	"github.com/forgeline/forgeline/internal/shared"
)

// ProductView is the product as shown to a given actor. Prices are hidden
// from customers that are not validated yet, wholesale prices from
// individual customers.
type ProductView struct {
	ID             int64            `json:"id"`
	SKU            string           `json:"sku"`
	Name           string           `json:"name"`
	Unit           string           `json:"unit"`
	CategoryID     *int64           `json:"category_id,omitempty"`
	Price          *decimal.Decimal `json:"price,omitempty"`
	PriceSource    string           `json:"price_source,omitempty"`
	BasePrice      *decimal.Decimal `json:"base_price,omitempty"`
	WholesalePrice *decimal.Decimal `json:"wholesale_price,omitempty"`
	PromoPrice     *decimal.Decimal `json:"promo_price,omitempty"`
	PromoStartsAt  *time.Time       `json:"promo_starts_at,omitempty"`
	PromoEndsAt    *time.Time       `json:"promo_ends_at,omitempty"`
	Stock          *int64           `json:"stock,omitempty"`
	InStock        bool             `json:"in_stock"`
	Active         bool             `json:"active"`
	Version        int64            `json:"version"`
}

// ViewFor renders p for actor at now.
func ViewFor(p Product, actor shared.Actor, now time.Time) ProductView {
	v := ProductView{
		ID:         p.ID,
		SKU:        p.SKU,
		Name:       p.Name,
		Unit:       p.Unit,
		CategoryID: p.CategoryID,
		InStock:    p.Stock > 0,
		Active:     p.Active,
		Version:    p.Version,
	}
	if actor.IsBackOffice() {
		base := p.BasePrice
		stock := p.Stock
		v.BasePrice = &base
		v.Stock = &stock
		if p.WholesalePrice.Valid {
			w := p.WholesalePrice.Decimal
			v.WholesalePrice = &w
		}
		if p.PromoPrice.Valid {
			pp := p.PromoPrice.Decimal
			v.PromoPrice = &pp
			v.PromoStartsAt, v.PromoEndsAt = p.PromoStartsAt, p.PromoEndsAt
		}
	}
	if actor.IsBackOffice() || actor.Validated {
		price, source := pricing.UnitPrice(p.Price(), actor.Type, now)
		v.Price = &price
		v.PriceSource = string(source)
	}
	return v
}
