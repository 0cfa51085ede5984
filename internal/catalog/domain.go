// Package catalog maintains products and categories: versioned descriptive
// edits, soft deletion with restore, and manual stock corrections.
package catalog

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/forgeline/forgeline/internal/pricing"
)

// Product is a sellable catalog entry.
type Product struct {
	ID             int64               `json:"id"`
	SKU            string              `json:"sku"`
	Name           string              `json:"name"`
	Unit           string              `json:"unit"`
	CategoryID     *int64              `json:"category_id,omitempty"`
	BasePrice      decimal.Decimal     `json:"base_price"`
	WholesalePrice decimal.NullDecimal `json:"wholesale_price"`
	PromoPrice     decimal.NullDecimal `json:"promo_price"`
	PromoStartsAt  *time.Time          `json:"promo_starts_at,omitempty"`
	PromoEndsAt    *time.Time          `json:"promo_ends_at,omitempty"`
	Stock          int64               `json:"stock"`
	Active         bool                `json:"active"`
	Version        int64               `json:"version"`
	DeletedAt      *time.Time          `json:"deleted_at,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// Price returns the pricing view of the product.
func (p Product) Price() pricing.ProductPrice {
	return pricing.ProductPrice{
		ProductID:      p.ID,
		SKU:            p.SKU,
		Name:           p.Name,
		Unit:           p.Unit,
		BasePrice:      p.BasePrice,
		WholesalePrice: p.WholesalePrice,
		PromoPrice:     p.PromoPrice,
		PromoStartsAt:  p.PromoStartsAt,
		PromoEndsAt:    p.PromoEndsAt,
	}
}

// Category groups products.
type Category struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Version   int64      `json:"version"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ProductFields are the descriptive and price attributes shared by create and
// update.
type ProductFields struct {
	Name           string              `json:"name" validate:"required,max=200"`
	Unit           string              `json:"unit" validate:"required,max=20"`
	CategoryID     *int64              `json:"category_id,omitempty" validate:"omitempty,gt=0"`
	BasePrice      decimal.Decimal     `json:"base_price"`
	WholesalePrice decimal.NullDecimal `json:"wholesale_price"`
	PromoPrice     decimal.NullDecimal `json:"promo_price"`
	PromoStartsAt  *time.Time          `json:"promo_starts_at,omitempty"`
	PromoEndsAt    *time.Time          `json:"promo_ends_at,omitempty"`
	Active         bool                `json:"active"`
}

// CreateProductInput adds a product. Initial stock is set here and changed
// afterwards only through orders and stock adjustments.
type CreateProductInput struct {
	SKU          string `json:"sku" validate:"required,max=64"`
	InitialStock int64  `json:"initial_stock" validate:"gte=0"`
	ProductFields
}

// UpdateProductInput replaces the descriptive and price attributes of the
// revision identified by Version.
type UpdateProductInput struct {
	ID      int64 `json:"-" validate:"required,gt=0"`
	Version int64 `json:"version" validate:"required,gt=0"`
	ProductFields
}

// AdjustStockInput is a manual stock correction.
type AdjustStockInput struct {
	ID     int64  `json:"-" validate:"required,gt=0"`
	Delta  int64  `json:"delta" validate:"required"`
	Reason string `json:"reason" validate:"required,max=500"`
}

// CreateCategoryInput adds a category.
type CreateCategoryInput struct {
	Name string `json:"name" validate:"required,max=120"`
}

// RenameCategoryInput renames the revision identified by Version.
type RenameCategoryInput struct {
	ID      int64  `json:"-" validate:"required,gt=0"`
	Version int64  `json:"version" validate:"required,gt=0"`
	Name    string `json:"name" validate:"required,max=120"`
}

// VersionedRef addresses one revision of a product or category.
type VersionedRef struct {
	ID      int64 `json:"-" validate:"required,gt=0"`
	Version int64 `json:"version" validate:"required,gt=0"`
}

// ListFilter pages products.
type ListFilter struct {
	CategoryID *int64
	ActiveOnly bool
	Page       int
	PerPage    int
}
