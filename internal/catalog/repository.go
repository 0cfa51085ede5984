package catalog

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgeline/forgeline/internal/platform/db"
	"github.com/forgeline/forgeline/internal/shared"
	"github.com/forgeline/forgeline/internal/stock"
	"github.com/forgeline/forgeline/internal/versioning"
)

var (
	productsTable   = versioning.Table{Name: "products", Entity: "product"}
	categoriesTable = versioning.Table{Name: "categories", Entity: "category"}
)

// Lock modes accepted by TxRepository.LockCategory.
const (
	LockForUpdate = "UPDATE"
	LockForShare  = "SHARE"
)

// TxRepository is the transaction-bound catalog store.
type TxRepository interface {
	GetProduct(ctx context.Context, id int64, includeDeleted bool) (Product, error)
	InsertProduct(ctx context.Context, in CreateProductInput) (Product, error)
	UpdateProduct(ctx context.Context, in UpdateProductInput) (int64, error)
	SoftDeleteProduct(ctx context.Context, ref VersionedRef, at time.Time) (int64, error)
	RestoreProduct(ctx context.Context, ref VersionedRef) (int64, error)
	AdjustStock(ctx context.Context, id, delta int64) (int64, error)

	GetCategory(ctx context.Context, id int64, includeDeleted bool) (Category, error)
	LockCategory(ctx context.Context, id int64, mode string) (versioning.State, error)
	CountActiveProducts(ctx context.Context, categoryID int64) (int, error)
	InsertCategory(ctx context.Context, in CreateCategoryInput) (Category, error)
	RenameCategory(ctx context.Context, in RenameCategoryInput) (int64, error)
	SoftDeleteCategory(ctx context.Context, ref VersionedRef, at time.Time) (int64, error)
	RestoreCategory(ctx context.Context, ref VersionedRef) (int64, error)

	RecordAudit(ctx context.Context, log shared.AuditLog) error
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool  *pgxpool.Pool
	audit *shared.AuditLogger
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, audit: shared.NewAuditLogger()}
}

// WithTx runs fn at READ COMMITTED; category guards rely on explicit row
// locks rather than snapshot isolation.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithReadCommittedTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{db: tx, stock: stock.NewPGStore(tx), audit: r.audit})
	})
}

// GetProduct returns a live product.
func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	return getProduct(ctx, r.pool, id, false)
}

// ListProducts pages live products ordered by SKU.
func (r *Repository) ListProducts(ctx context.Context, f ListFilter) ([]Product, int, error) {
	where := `WHERE deleted_at IS NULL AND ($1::bigint IS NULL OR category_id = $1) AND (NOT $2 OR active)`
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products `+where, f.CategoryID, f.ActiveOnly).Scan(&total); err != nil {
		return nil, 0, err
	}
	page := shared.NewPagination(f.Page, f.PerPage, total)
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products `+where+` ORDER BY sku LIMIT $3 OFFSET $4`,
		f.CategoryID, f.ActiveOnly, page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, p)
	}
	return products, total, rows.Err()
}

type txRepo struct {
	db    shared.DBTX
	stock *stock.PGStore
	audit *shared.AuditLogger
}

const productColumns = `id, sku, name, unit, category_id, base_price, wholesale_price, promo_price,
	promo_starts_at, promo_ends_at, stock, active, version, deleted_at, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Unit, &p.CategoryID, &p.BasePrice, &p.WholesalePrice, &p.PromoPrice,
		&p.PromoStartsAt, &p.PromoEndsAt, &p.Stock, &p.Active, &p.Version, &p.DeletedAt, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func getProduct(ctx context.Context, q shared.DBTX, id int64, includeDeleted bool) (Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	p, err := scanProduct(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, shared.NotFound("product", strconv.FormatInt(id, 10))
	}
	return p, err
}

func (t *txRepo) GetProduct(ctx context.Context, id int64, includeDeleted bool) (Product, error) {
	return getProduct(ctx, t.db, id, includeDeleted)
}

func (t *txRepo) InsertProduct(ctx context.Context, in CreateProductInput) (Product, error) {
	return scanProduct(t.db.QueryRow(ctx, `
		INSERT INTO products (sku, name, unit, category_id, base_price, wholesale_price, promo_price,
			promo_starts_at, promo_ends_at, stock, active, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)
		RETURNING `+productColumns,
		in.SKU, in.Name, in.Unit, in.CategoryID, in.BasePrice, in.WholesalePrice, in.PromoPrice,
		in.PromoStartsAt, in.PromoEndsAt, in.InitialStock, in.Active))
}

func (t *txRepo) UpdateProduct(ctx context.Context, in UpdateProductInput) (int64, error) {
	return versioning.Update(ctx, t.db, productsTable, in.ID, in.Version,
		versioning.Set("name", in.Name),
		versioning.Set("unit", in.Unit),
		versioning.Set("category_id", in.CategoryID),
		versioning.Set("base_price", in.BasePrice),
		versioning.Set("wholesale_price", in.WholesalePrice),
		versioning.Set("promo_price", in.PromoPrice),
		versioning.Set("promo_starts_at", in.PromoStartsAt),
		versioning.Set("promo_ends_at", in.PromoEndsAt),
		versioning.Set("active", in.Active))
}

func (t *txRepo) SoftDeleteProduct(ctx context.Context, ref VersionedRef, at time.Time) (int64, error) {
	return versioning.SoftDelete(ctx, t.db, productsTable, ref.ID, ref.Version, at)
}

func (t *txRepo) RestoreProduct(ctx context.Context, ref VersionedRef) (int64, error) {
	return versioning.Restore(ctx, t.db, productsTable, ref.ID, ref.Version)
}

func (t *txRepo) AdjustStock(ctx context.Context, id, delta int64) (int64, error) {
	return t.stock.Adjust(ctx, id, delta)
}

const categoryColumns = `id, name, version, deleted_at, created_at, updated_at`

func scanCategory(row pgx.Row) (Category, error) {
	var c Category
	err := row.Scan(&c.ID, &c.Name, &c.Version, &c.DeletedAt, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (t *txRepo) GetCategory(ctx context.Context, id int64, includeDeleted bool) (Category, error) {
	query := `SELECT ` + categoryColumns + ` FROM categories WHERE id = $1`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	c, err := scanCategory(t.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Category{}, shared.NotFound("category", strconv.FormatInt(id, 10))
	}
	return c, err
}

func (t *txRepo) LockCategory(ctx context.Context, id int64, mode string) (versioning.State, error) {
	return versioning.Lock(ctx, t.db, categoriesTable, id, mode)
}

func (t *txRepo) CountActiveProducts(ctx context.Context, categoryID int64) (int, error) {
	var n int
	err := t.db.QueryRow(ctx, `SELECT COUNT(*) FROM products WHERE category_id = $1 AND active AND deleted_at IS NULL`, categoryID).Scan(&n)
	return n, err
}

func (t *txRepo) InsertCategory(ctx context.Context, in CreateCategoryInput) (Category, error) {
	return scanCategory(t.db.QueryRow(ctx, `INSERT INTO categories (name, version) VALUES ($1, 1) RETURNING `+categoryColumns, in.Name))
}

func (t *txRepo) RenameCategory(ctx context.Context, in RenameCategoryInput) (int64, error) {
	return versioning.Update(ctx, t.db, categoriesTable, in.ID, in.Version, versioning.Set("name", in.Name))
}

func (t *txRepo) SoftDeleteCategory(ctx context.Context, ref VersionedRef, at time.Time) (int64, error) {
	return versioning.SoftDelete(ctx, t.db, categoriesTable, ref.ID, ref.Version, at)
}

func (t *txRepo) RestoreCategory(ctx context.Context, ref VersionedRef) (int64, error) {
	return versioning.Restore(ctx, t.db, categoriesTable, ref.ID, ref.Version)
}

func (t *txRepo) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	return t.audit.Record(ctx, t.db, log)
}
