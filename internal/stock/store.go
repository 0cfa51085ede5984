package stock

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/forgeline/forgeline/internal/pricing"
	"github.com/forgeline/forgeline/internal/shared"
)

// PGStore implements Store on a pgx connection or transaction.
type PGStore struct {
	db shared.DBTX
}

// NewPGStore binds the store to db, normally the caller's pgx.Tx.
func NewPGStore(db shared.DBTX) *PGStore {
	return &PGStore{db: db}
}

// ProductsByIDs loads live products.
func (s *PGStore) ProductsByIDs(ctx context.Context, ids []int64) ([]Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, sku, name, unit, active, stock,
		       base_price, wholesale_price, promo_price, promo_starts_at, promo_ends_at
		FROM products
		WHERE id = ANY($1) AND deleted_at IS NULL`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var (
			p             Product
			base          decimal.Decimal
			wholesale     decimal.NullDecimal
			promo         decimal.NullDecimal
			promoStartsAt *time.Time
			promoEndsAt   *time.Time
		)
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Unit, &p.Active, &p.Stock,
			&base, &wholesale, &promo, &promoStartsAt, &promoEndsAt); err != nil {
			return nil, err
		}
		p.Price = pricing.ProductPrice{
			ProductID:      p.ID,
			SKU:            p.SKU,
			Name:           p.Name,
			Unit:           p.Unit,
			BasePrice:      base,
			WholesalePrice: wholesale,
			PromoPrice:     promo,
			PromoStartsAt:  promoStartsAt,
			PromoEndsAt:    promoEndsAt,
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// Decrement reserves qty units when enough stock remains.
func (s *PGStore) Decrement(ctx context.Context, productID, qty int64) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE products
		SET stock = stock - $2, updated_at = NOW()
		WHERE id = $1 AND active AND deleted_at IS NULL AND stock >= $2`, productID, qty)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Increment releases qty units back to the product, deleted or not.
func (s *PGStore) Increment(ctx context.Context, productID, qty int64) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = NOW()
		WHERE id = $1`, productID, qty)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Adjust applies a signed manual correction without letting stock drop below
// zero and returns the resulting stock.
func (s *PGStore) Adjust(ctx context.Context, productID, delta int64) (int64, error) {
	ref := strconv.FormatInt(productID, 10)
	var stock int64
	err := s.db.QueryRow(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL AND stock + $2 >= 0
		RETURNING stock`, productID, delta).Scan(&stock)
	if err == nil {
		return stock, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}
	var (
		current int64
		sku     string
	)
	err = s.db.QueryRow(ctx, `SELECT stock, sku FROM products WHERE id = $1 AND deleted_at IS NULL`, productID).Scan(&current, &sku)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, shared.NotFound("product", ref)
	}
	if err != nil {
		return 0, err
	}
	return 0, shared.BusinessRule("product", sku, "adjustment of %d would leave stock negative (current %d)", delta, current)
}
