package orders

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/forgeline/forgeline/internal/shared"
	"github.com/forgeline/forgeline/internal/stock"
)

// memoryRepo is an in-memory RepositoryPort. Transactions are serialised
// and work on a copy of the state that replaces it only on success.
type memoryRepo struct {
	mu    sync.Mutex
	state *memoryState

	failHistory bool
}

type memoryState struct {
	products map[int64]stock.Product
	deleted  map[int64]bool
	orders   map[int64]Order
	counters map[string]int64
	audits   []shared.AuditLog
	nextID   int64
}

func newMemoryRepo(products ...stock.Product) *memoryRepo {
	st := &memoryState{
		products: map[int64]stock.Product{},
		deleted:  map[int64]bool{},
		orders:   map[int64]Order{},
		counters: map[string]int64{},
	}
	for _, p := range products {
		st.products[p.ID] = p
	}
	return &memoryRepo{state: st}
}

func cloneOrder(o Order) Order {
	o.Items = append([]Item(nil), o.Items...)
	o.History = append([]History(nil), o.History...)
	return o
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		products: make(map[int64]stock.Product, len(s.products)),
		deleted:  make(map[int64]bool, len(s.deleted)),
		orders:   make(map[int64]Order, len(s.orders)),
		counters: make(map[string]int64, len(s.counters)),
		audits:   append([]shared.AuditLog(nil), s.audits...),
		nextID:   s.nextID,
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.deleted {
		c.deleted[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = cloneOrder(v)
	}
	for k, v := range s.counters {
		c.counters[k] = v
	}
	return c
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{st: r.state.clone(), failHistory: r.failHistory}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.state = tx.st
	return nil
}

func (r *memoryRepo) GetOrder(ctx context.Context, id int64) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.state.orders[id]
	if !ok || o.DeletedAt != nil {
		return Order{}, shared.NotFound("order", strconv.FormatInt(id, 10))
	}
	return cloneOrder(o), nil
}

func (r *memoryRepo) ListOrders(ctx context.Context, f ListFilter) ([]Order, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Order
	for _, o := range r.state.orders {
		if o.DeletedAt != nil {
			continue
		}
		if f.UserID != nil && o.UserID != *f.UserID {
			continue
		}
		if f.Status != nil && o.Status != *f.Status {
			continue
		}
		if f.Type != nil && o.Type != *f.Type {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	return out, len(out), nil
}

// test helpers reading committed state

func (r *memoryRepo) stockOf(id int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.products[id].Stock
}

func (r *memoryRepo) audits() []shared.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]shared.AuditLog(nil), r.state.audits...)
}

func (r *memoryRepo) orderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state.orders)
}

func (r *memoryRepo) update(fn func(*memoryState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.state)
}

type memoryTx struct {
	st          *memoryState
	failHistory bool
}

func (tx *memoryTx) ProductsByIDs(ctx context.Context, ids []int64) ([]stock.Product, error) {
	var out []stock.Product
	for _, id := range ids {
		if p, ok := tx.st.products[id]; ok && !tx.st.deleted[id] {
			out = append(out, p)
		}
	}
	return out, nil
}

func (tx *memoryTx) Decrement(ctx context.Context, id, qty int64) (bool, error) {
	p, ok := tx.st.products[id]
	if !ok || tx.st.deleted[id] || !p.Active || p.Stock < qty {
		return false, nil
	}
	p.Stock -= qty
	tx.st.products[id] = p
	return true, nil
}

func (tx *memoryTx) Increment(ctx context.Context, id, qty int64) (bool, error) {
	p, ok := tx.st.products[id]
	if !ok {
		return false, nil
	}
	p.Stock += qty
	tx.st.products[id] = p
	return true, nil
}

func (tx *memoryTx) LockSequence(ctx context.Context, key string) (int64, bool, error) {
	v, ok := tx.st.counters[key]
	return v, ok, nil
}

func (tx *memoryTx) HighestNumber(ctx context.Context, key string) (string, bool, error) {
	var best string
	var bestSeq int64 = -1
	for _, o := range tx.st.orders {
		if !strings.HasPrefix(o.Number, key+"-") {
			continue
		}
		if seq, err := ParseSequence(key, o.Number); err == nil && seq > bestSeq {
			best, bestSeq = o.Number, seq
		}
	}
	return best, bestSeq >= 0, nil
}

func (tx *memoryTx) InitSequence(ctx context.Context, key string, last int64) error {
	if _, ok := tx.st.counters[key]; !ok {
		tx.st.counters[key] = last
	}
	return nil
}

func (tx *memoryTx) StoreSequence(ctx context.Context, key string, last int64) error {
	tx.st.counters[key] = last
	return nil
}

func (tx *memoryTx) InsertOrder(ctx context.Context, o *Order) error {
	for _, existing := range tx.st.orders {
		if existing.Number == o.Number {
			return errors.New("duplicate order number " + o.Number)
		}
	}
	tx.st.nextID++
	o.ID = tx.st.nextID
	o.Version = 1
	for i := range o.Items {
		tx.st.nextID++
		o.Items[i].ID = tx.st.nextID
		o.Items[i].OrderID = o.ID
	}
	tx.st.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (tx *memoryTx) GetOrderForUpdate(ctx context.Context, id int64) (Order, error) {
	o, ok := tx.st.orders[id]
	if !ok || o.DeletedAt != nil {
		return Order{}, shared.NotFound("order", strconv.FormatInt(id, 10))
	}
	return cloneOrder(o), nil
}

func (tx *memoryTx) UpdateStatus(ctx context.Context, o Order) (int64, error) {
	stored, ok := tx.st.orders[o.ID]
	if !ok {
		return 0, shared.NotFound("order", strconv.FormatInt(o.ID, 10))
	}
	if stored.Version != o.Version {
		return 0, shared.Conflict("order", strconv.FormatInt(o.ID, 10))
	}
	o.Version++
	o.Items = stored.Items
	o.History = stored.History
	tx.st.orders[o.ID] = cloneOrder(o)
	return o.Version, nil
}

// archive applies a version-checked tombstone change, mirroring versioning.
func (tx *memoryTx) archive(ref VersionedRef, at *time.Time) (int64, error) {
	id := strconv.FormatInt(ref.ID, 10)
	o, ok := tx.st.orders[ref.ID]
	wantDeleted := at == nil
	if !ok || (o.DeletedAt != nil && !wantDeleted) {
		return 0, shared.NotFound("order", id)
	}
	if o.Version != ref.Version {
		return 0, shared.Conflict("order", id)
	}
	if o.DeletedAt == nil && wantDeleted {
		return 0, shared.BusinessRule("order", id, "is not deleted")
	}
	o.Version++
	o.DeletedAt = at
	tx.st.orders[o.ID] = o
	return o.Version, nil
}

func (tx *memoryTx) SoftDeleteOrder(ctx context.Context, ref VersionedRef, at time.Time) (int64, error) {
	return tx.archive(ref, &at)
}

func (tx *memoryTx) RestoreOrder(ctx context.Context, ref VersionedRef) (int64, error) {
	return tx.archive(ref, nil)
}

func (tx *memoryTx) AppendHistory(ctx context.Context, h History) (History, error) {
	if tx.failHistory {
		return History{}, errors.New("history table unavailable")
	}
	o, ok := tx.st.orders[h.OrderID]
	if !ok {
		return History{}, errors.New("history for unknown order")
	}
	tx.st.nextID++
	h.ID = tx.st.nextID
	o.History = append(o.History, h)
	tx.st.orders[o.ID] = o
	return h, nil
}

func (tx *memoryTx) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return shared.ErrAuditIncomplete
	}
	tx.st.audits = append(tx.st.audits, log)
	return nil
}
