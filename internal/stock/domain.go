// Package stock validates availability and performs the conditional stock
// arithmetic that reserves and releases inventory inside an order
// transaction.
package stock

import (
	"context"

	"github.com/forgeline/forgeline/internal/pricing"
)

// Item is a product quantity taking part in a reservation.
type Item struct {
	ProductID int64
	Quantity  int64
}

// Product is the live product snapshot read for validation and pricing.
type Product struct {
	ID     int64
	SKU    string
	Name   string
	Unit   string
	Active bool
	Stock  int64
	Price  pricing.ProductPrice
}

// Reader loads live (not soft-deleted) products in one read.
type Reader interface {
	ProductsByIDs(ctx context.Context, ids []int64) ([]Product, error)
}

// Mutator applies conditional stock arithmetic. Decrement reports false when
// the product is missing, inactive, deleted or short of stock; Increment
// reports false when no row with the id exists.
type Mutator interface {
	Decrement(ctx context.Context, productID, qty int64) (bool, error)
	Increment(ctx context.Context, productID, qty int64) (bool, error)
}

// Store is the transaction-bound store the engine reserves against.
type Store interface {
	Reader
	Mutator
}
