package orders

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

var ordersTable = versioning.Table{Name: "orders", Entity: "order"}

// TxRepository is everything an order transaction touches.
type TxRepository interface {
	stock.Store
	SequenceStore
	InsertOrder(ctx context.Context, o *Order) error
	GetOrderForUpdate(ctx context.Context, id int64) (Order, error)
	UpdateStatus(ctx context.Context, o Order) (int64, error)
	SoftDeleteOrder(ctx context.Context, ref VersionedRef, at time.Time) (int64, error)
	RestoreOrder(ctx context.Context, ref VersionedRef) (int64, error)
	AppendHistory(ctx context.Context, h History) (History, error)
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

// WithTx runs fn at READ COMMITTED so the conditional stock updates
// re-evaluate their predicate after waiting on a row lock.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithReadCommittedTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{PGStore: stock.NewPGStore(tx), db: tx, audit: r.audit})
	})
}

// GetOrder loads a live order with items and full history.
func (r *Repository) GetOrder(ctx context.Context, id int64) (Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, shared.NotFound("order", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return Order{}, err
	}
	if o.Items, err = loadItems(ctx, r.pool, id); err != nil {
		return Order{}, err
	}
	if o.History, err = loadHistory(ctx, r.pool, id); err != nil {
		return Order{}, err
	}
	return o, nil
}

// ListOrders pages live orders, newest first, without items or history.
func (r *Repository) ListOrders(ctx context.Context, f ListFilter) ([]Order, int, error) {
	where := `WHERE deleted_at IS NULL
		AND ($1::bigint IS NULL OR user_id = $1)
		AND ($2::text IS NULL OR status = $2)
		AND ($3::text IS NULL OR order_type = $3)`
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders `+where, f.UserID, f.Status, f.Type).Scan(&total); err != nil {
		return nil, 0, err
	}
	page := shared.NewPagination(f.Page, f.PerPage, total)
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders `+where+` ORDER BY created_at DESC, id DESC LIMIT $4 OFFSET $5`,
		f.UserID, f.Status, f.Type, page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	return out, total, rows.Err()
}

type txRepo struct {
	*stock.PGStore
	db    pgx.Tx
	audit *shared.AuditLogger
}

const orderColumns = `id, order_number, user_id, order_type, status, held_from_status,
	shipping_address, shipping_method, notes, subtotal, discount_amount, shipping_cost, total,
	cancellation_reason, processed_by, processed_at, shipped_at, tracking_number, delivered_at,
	cancelled_at, version, deleted_at, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.Number, &o.UserID, &o.Type, &o.Status, &o.HeldFromStatus,
		&o.ShippingAddress, &o.ShippingMethod, &o.Notes, &o.Subtotal, &o.DiscountAmount, &o.ShippingCost, &o.Total,
		&o.CancellationReason, &o.ProcessedBy, &o.ProcessedAt, &o.ShippedAt, &o.TrackingNumber, &o.DeliveredAt,
		&o.CancelledAt, &o.Version, &o.DeletedAt, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func loadItems(ctx context.Context, q shared.DBTX, orderID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, sku, name, unit, quantity, unit_price, price_source,
		       discount_percent, discount_amount, line_total
		FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.SKU, &it.Name, &it.Unit, &it.Quantity,
			&it.UnitPrice, &it.PriceSource, &it.DiscountPercent, &it.DiscountAmount, &it.LineTotal); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func loadHistory(ctx context.Context, q shared.DBTX, orderID int64) ([]History, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, from_status, to_status, changed_by, reason, notes, changed_at
		FROM order_status_history WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var history []History
	for rows.Next() {
		var h History
		if err := rows.Scan(&h.ID, &h.OrderID, &h.FromStatus, &h.ToStatus, &h.ChangedBy, &h.Reason, &h.Notes, &h.ChangedAt); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

func (t *txRepo) InsertOrder(ctx context.Context, o *Order) error {
	err := t.db.QueryRow(ctx, `
		INSERT INTO orders (order_number, user_id, order_type, status, shipping_address, shipping_method, notes,
			subtotal, discount_amount, shipping_cost, total, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1, $12, $12)
		RETURNING id, version`,
		o.Number, o.UserID, o.Type, o.Status, o.ShippingAddress, o.ShippingMethod, o.Notes,
		o.Subtotal, o.DiscountAmount, o.ShippingCost, o.Total, o.CreatedAt).Scan(&o.ID, &o.Version)
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for i := range o.Items {
		it := &o.Items[i]
		it.OrderID = o.ID
		batch.Queue(`
			INSERT INTO order_items (order_id, product_id, sku, name, unit, quantity, unit_price, price_source,
				discount_percent, discount_amount, line_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id`,
			it.OrderID, it.ProductID, it.SKU, it.Name, it.Unit, it.Quantity, it.UnitPrice, it.PriceSource,
			it.DiscountPercent, it.DiscountAmount, it.LineTotal).QueryRow(func(row pgx.Row) error {
			return row.Scan(&it.ID)
		})
	}
	return t.db.SendBatch(ctx, batch).Close()
}

func (t *txRepo) GetOrderForUpdate(ctx context.Context, id int64) (Order, error) {
	o, err := scanOrder(t.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, shared.NotFound("order", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return Order{}, err
	}
	if o.Items, err = loadItems(ctx, t.db, id); err != nil {
		return Order{}, err
	}
	if o.History, err = loadHistory(ctx, t.db, id); err != nil {
		return Order{}, err
	}
	return o, nil
}

// UpdateStatus writes the status fields of o conditional on o.Version.
func (t *txRepo) UpdateStatus(ctx context.Context, o Order) (int64, error) {
	return versioning.Update(ctx, t.db, ordersTable, o.ID, o.Version,
		versioning.Set("status", o.Status),
		versioning.Set("held_from_status", o.HeldFromStatus),
		versioning.Set("cancellation_reason", o.CancellationReason),
		versioning.Set("processed_by", o.ProcessedBy),
		versioning.Set("processed_at", o.ProcessedAt),
		versioning.Set("shipped_at", o.ShippedAt),
		versioning.Set("tracking_number", o.TrackingNumber),
		versioning.Set("delivered_at", o.DeliveredAt),
		versioning.Set("cancelled_at", o.CancelledAt))
}

func (t *txRepo) SoftDeleteOrder(ctx context.Context, ref VersionedRef, at time.Time) (int64, error) {
	return versioning.SoftDelete(ctx, t.db, ordersTable, ref.ID, ref.Version, at)
}

func (t *txRepo) RestoreOrder(ctx context.Context, ref VersionedRef) (int64, error) {
	return versioning.Restore(ctx, t.db, ordersTable, ref.ID, ref.Version)
}

func (t *txRepo) AppendHistory(ctx context.Context, h History) (History, error) {
	err := t.db.QueryRow(ctx, `
		INSERT INTO order_status_history (order_id, from_status, to_status, changed_by, reason, notes, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`, h.OrderID, h.FromStatus, h.ToStatus, h.ChangedBy, h.Reason, h.Notes, h.ChangedAt).Scan(&h.ID)
	return h, err
}

func (t *txRepo) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	return t.audit.Record(ctx, t.db, log)
}

func (t *txRepo) LockSequence(ctx context.Context, key string) (int64, bool, error) {
	var last int64
	err := t.db.QueryRow(ctx, `SELECT last_value FROM order_number_counters WHERE prefix = $1 FOR UPDATE`, key).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return last, true, nil
}

func (t *txRepo) HighestNumber(ctx context.Context, key string) (string, bool, error) {
	var number string
	err := t.db.QueryRow(ctx, `
		SELECT order_number FROM orders
		WHERE order_number LIKE $1 || '-%'
		ORDER BY length(order_number) DESC, order_number DESC
		LIMIT 1`, key).Scan(&number)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return number, true, nil
}

func (t *txRepo) InitSequence(ctx context.Context, key string, last int64) error {
	_, err := t.db.Exec(ctx, `INSERT INTO order_number_counters (prefix, last_value) VALUES ($1, $2) ON CONFLICT (prefix) DO NOTHING`, key, last)
	return err
}

func (t *txRepo) StoreSequence(ctx context.Context, key string, last int64) error {
	_, err := t.db.Exec(ctx, `UPDATE order_number_counters SET last_value = $2, updated_at = NOW() WHERE prefix = $1`, key, last)
	return err
}
