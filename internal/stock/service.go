package stock

import (
	"context"
	"log/slog"
	"sort"
	"strconv"

	"github.com/forgeline/forgeline/internal/shared"
)

// Service validates, reserves and releases stock. It holds no state between
// calls; every method runs against the store of the caller's transaction.
type Service struct {
	logger *slog.Logger
}

// NewService builds a Service.
func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// Options tune Validate.
type Options struct {
	// SkipAvailability checks existence and activity only (quotes).
	SkipAvailability bool
}

// Validate loads every referenced product in one read and returns them keyed
// by id. It fails on the first missing or inactive product, then on the first
// product whose stock cannot cover the requested quantity.
func (s *Service) Validate(ctx context.Context, r Reader, items []Item, opts Options) (map[int64]Product, error) {
	totals, order, err := aggregate(items)
	if err != nil {
		return nil, err
	}
	products, err := r.ProductsByIDs(ctx, order)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	for _, id := range order {
		p, ok := byID[id]
		if !ok {
			return nil, shared.NotFound("product", strconv.FormatInt(id, 10))
		}
		if !p.Active {
			return nil, shared.BusinessRule("product", p.SKU, "is inactive and cannot be ordered")
		}
	}
	if opts.SkipAvailability {
		return byID, nil
	}
	for _, id := range order {
		p := byID[id]
		if p.Stock < totals[id] {
			return nil, insufficient(p.SKU, totals[id], p.Stock)
		}
	}
	return byID, nil
}

// Reserve decrements stock for every item. Products are touched in ascending
// id order so concurrent reservations lock rows consistently.
func (s *Service) Reserve(ctx context.Context, m Mutator, items []Item, skus map[int64]string) error {
	totals, order, err := aggregate(items)
	if err != nil {
		return err
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	for _, id := range order {
		ok, err := m.Decrement(ctx, id, totals[id])
		if err != nil {
			return err
		}
		if !ok {
			sku := skus[id]
			if sku == "" {
				sku = strconv.FormatInt(id, 10)
			}
			return shared.BusinessRule("product", sku, "insufficient stock for requested quantity %d", totals[id])
		}
	}
	return nil
}

// Release increments stock for every item. A product row that no longer
// exists is logged and skipped so the surrounding cancellation still
// succeeds. It returns the ids that were skipped.
func (s *Service) Release(ctx context.Context, m Mutator, items []Item) ([]int64, error) {
	totals, order, err := aggregate(items)
	if err != nil {
		return nil, err
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	var skipped []int64
	for _, id := range order {
		ok, err := m.Increment(ctx, id, totals[id])
		if err != nil {
			return nil, err
		}
		if !ok {
			s.logger.Warn("stock release skipped, product missing",
				slog.Int64("product_id", id),
				slog.Int64("qty", totals[id]))
			skipped = append(skipped, id)
		}
	}
	return skipped, nil
}

// aggregate sums quantities per product, keeping first-seen order.
func aggregate(items []Item) (map[int64]int64, []int64, error) {
	if len(items) == 0 {
		return nil, nil, shared.Validation("at least one item is required")
	}
	totals := make(map[int64]int64, len(items))
	order := make([]int64, 0, len(items))
	for i, item := range items {
		if item.ProductID <= 0 {
			return nil, nil, shared.Validation("line %d: product is required", i+1)
		}
		if item.Quantity <= 0 {
			return nil, nil, shared.Validation("line %d: quantity must be greater than zero", i+1)
		}
		if _, seen := totals[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		totals[item.ProductID] += item.Quantity
	}
	return totals, order, nil
}

func insufficient(sku string, requested, available int64) error {
	return shared.BusinessRule("product", sku, "insufficient stock: requested %d, available %d", requested, available)
}
