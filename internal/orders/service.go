package orders

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/forgeline/forgeline/internal/platform/db"
	"github.com/forgeline/forgeline/internal/pricing"
	"github.com/forgeline/forgeline/internal/shared"
	"github.com/forgeline/forgeline/internal/stock"
)

const (
	idempotencyModule = "orders.create"
	completeAttempts  = 3
)

// RepositoryPort defines data access for orders.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (Order, error)
	ListOrders(ctx context.Context, f ListFilter) ([]Order, int, error)
}

// Notifier receives committed status changes. Delivery is best effort.
type Notifier interface {
	OrderStatusChanged(ctx context.Context, change StatusChange) error
}

// Metrics observes engine outcomes.
type Metrics interface {
	OrderCreated(t Type)
	StatusChanged(to Status)
	Rejected(op string, kind shared.Kind)
}

// Service is the order lifecycle engine.
type Service struct {
	repo        RepositoryPort
	calc        *pricing.Calculator
	numbers     *Allocator
	stock       *stock.Service
	machine     *StateMachine
	idempotency *shared.IdempotencyStore
	notifier    Notifier
	metrics     Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// Option customises Service.
type Option func(*Service)

// WithNotifier sets the notification hand-off.
func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithIdempotency enables Idempotency-Key handling for CreateOrder.
func WithIdempotency(store *shared.IdempotencyStore) Option {
	return func(s *Service) { s.idempotency = store }
}

// WithClock overrides the engine clock.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService builds Service.
func NewService(repo RepositoryPort, calc *pricing.Calculator, numbers *Allocator, stockSvc *stock.Service, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:    repo,
		calc:    calc,
		numbers: numbers,
		stock:   stockSvc,
		machine: NewStateMachine(),
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder validates the cart, allocates a number, prices the lines,
// reserves stock for purchases and records the initial history entry, all
// in one transaction.
func (s *Service) CreateOrder(ctx context.Context, actor shared.Actor, cmd CreateOrderCommand) (Order, error) {
	order, err := s.createOrder(ctx, actor, cmd)
	if err != nil {
		return Order{}, s.reject("create order", 0, err)
	}
	return order, nil
}

func (s *Service) createOrder(ctx context.Context, actor shared.Actor, cmd CreateOrderCommand) (Order, error) {
	if !actor.Valid() {
		return Order{}, shared.Forbidden("unknown actor")
	}
	if !actor.IsBackOffice() && !actor.Validated {
		return Order{}, shared.BusinessRule("user", strconv.FormatInt(actor.UserID, 10), "is not validated for ordering")
	}
	if cmd.Type == "" {
		cmd.Type = TypePurchase
	}
	if err := shared.ValidateStruct(cmd); err != nil {
		return Order{}, err
	}
	for i, it := range cmd.Items {
		if !it.DiscountPercent.IsZero() && !actor.IsBackOffice() {
			return Order{}, shared.Forbidden("line %d: only staff may grant discounts", i+1)
		}
	}

	if cmd.IdempotencyKey != "" && s.idempotency != nil {
		return s.createIdempotent(ctx, actor, cmd)
	}
	return s.createInTx(ctx, actor, cmd)
}

// createIdempotent claims the key before creating. A replay of a completed
// key returns the order created the first time.
func (s *Service) createIdempotent(ctx context.Context, actor shared.Actor, cmd CreateOrderCommand) (Order, error) {
	key := strconv.FormatInt(actor.UserID, 10) + ":" + cmd.IdempotencyKey
	stored, claimed, err := s.idempotency.Begin(ctx, idempotencyModule, key)
	if errors.Is(err, shared.ErrIdempotencyInFlight) {
		return Order{}, shared.Conflict("order", cmd.IdempotencyKey)
	}
	if err != nil {
		return Order{}, shared.Storage("claim idempotency key", err)
	}
	if !claimed {
		id, err := strconv.ParseInt(stored, 10, 64)
		if err != nil {
			return Order{}, shared.Storage("read idempotency result", err)
		}
		return s.repo.GetOrder(ctx, id)
	}
	order, err := s.createInTx(ctx, actor, cmd)
	if err != nil {
		if relErr := s.idempotency.Release(ctx, idempotencyModule, key); relErr != nil {
			s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", relErr))
		}
		return Order{}, err
	}
	s.completeIdempotent(ctx, key, order.ID)
	return order, nil
}

// completeIdempotent records the created order id. The order is committed, so
// a failure is only logged; the pending claim then lapses after its short TTL.
func (s *Service) completeIdempotent(ctx context.Context, key string, orderID int64) {
	ctx = context.WithoutCancel(ctx)
	result := strconv.FormatInt(orderID, 10)
	var err error
	for attempt := 1; attempt <= completeAttempts; attempt++ {
		if err = s.idempotency.Complete(ctx, idempotencyModule, key, result); err == nil {
			return
		}
		s.logger.Warn("complete idempotency key", slog.String("key", key), slog.Int("attempt", attempt), slog.Any("error", err))
	}
	s.logger.Error("idempotency key left pending", slog.String("key", key), slog.Int64("order_id", orderID), slog.Any("error", err))
}

func (s *Service) createInTx(ctx context.Context, actor shared.Actor, cmd CreateOrderCommand) (Order, error) {
	now := s.now()
	items := make([]stock.Item, len(cmd.Items))
	lines := make([]pricing.LineInput, len(cmd.Items))
	for i, it := range cmd.Items {
		items[i] = stock.Item{ProductID: it.ProductID, Quantity: it.Quantity}
		lines[i] = pricing.LineInput{ProductID: it.ProductID, Quantity: it.Quantity, DiscountPercent: it.DiscountPercent}
	}

	var order Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		products, err := s.stock.Validate(ctx, tx, items, stock.Options{SkipAvailability: cmd.Type == TypeQuote})
		if err != nil {
			return err
		}
		catalog := make(map[int64]pricing.ProductPrice, len(products))
		skus := make(map[int64]string, len(products))
		for id, p := range products {
			catalog[id] = p.Price
			skus[id] = p.SKU
		}
		totals, err := s.calc.Calculate(pricing.Request{
			Items:     lines,
			Catalog:   catalog,
			ActorType: actor.Type,
			Shipping:  cmd.ShippingMethod,
			Now:       now,
		})
		if err != nil {
			return err
		}
		number, err := s.numbers.Next(ctx, tx, now)
		if err != nil {
			return err
		}
		if cmd.Type == TypePurchase {
			if err := s.stock.Reserve(ctx, tx, items, skus); err != nil {
				return err
			}
		}

		order = newOrder(number, actor, cmd, totals, now)
		if err := tx.InsertOrder(ctx, &order); err != nil {
			return err
		}
		h, err := tx.AppendHistory(ctx, History{
			OrderID:   order.ID,
			ToStatus:  order.Status,
			ChangedBy: actor.UserID,
			Notes:     cmd.Notes,
			ChangedAt: now,
		})
		if err != nil {
			return err
		}
		order.History = []History{h}
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actor.UserID,
			Action:   "order.create",
			Entity:   "order",
			EntityID: strconv.FormatInt(order.ID, 10),
			Meta: map[string]any{
				"order_number": order.Number,
				"type":         order.Type,
				"total":        order.Total.StringFixed(2),
				"items":        len(order.Items),
			},
			At: now,
		})
	})
	if err != nil {
		return Order{}, err
	}

	if s.metrics != nil {
		s.metrics.OrderCreated(order.Type)
	}
	s.notify(ctx, order, nil, actor, "", now)
	s.logger.Info("order created",
		slog.String("order_number", order.Number),
		slog.Int64("user_id", actor.UserID),
		slog.String("type", string(order.Type)),
		slog.String("total", order.Total.StringFixed(2)))
	return order, nil
}

func newOrder(number string, actor shared.Actor, cmd CreateOrderCommand, totals pricing.Totals, now time.Time) Order {
	o := Order{
		Number:          number,
		UserID:          actor.UserID,
		Type:            cmd.Type,
		Status:          InitialStatus(cmd.Type),
		ShippingAddress: cmd.ShippingAddress,
		ShippingMethod:  cmd.ShippingMethod,
		Notes:           cmd.Notes,
		Subtotal:        totals.Subtotal,
		DiscountAmount:  totals.DiscountAmount,
		ShippingCost:    totals.ShippingCost,
		Total:           totals.Total,
		CreatedAt:       now,
		UpdatedAt:       now,
		Items:           make([]Item, len(totals.Lines)),
	}
	for i, l := range totals.Lines {
		o.Items[i] = Item{
			ProductID:       l.ProductID,
			SKU:             l.SKU,
			Name:            l.Name,
			Unit:            l.Unit,
			Quantity:        l.Quantity,
			UnitPrice:       l.UnitPrice,
			PriceSource:     l.PriceSource,
			DiscountPercent: l.DiscountPercent,
			DiscountAmount:  l.DiscountAmount,
			LineTotal:       l.LineTotal,
		}
	}
	return o
}

// TransitionStatus moves an order along its transition table.
func (s *Service) TransitionStatus(ctx context.Context, actor shared.Actor, cmd TransitionStatusCommand) (Order, error) {
	if err := shared.ValidateStruct(cmd); err != nil {
		return Order{}, s.reject("transition order", cmd.OrderID, err)
	}
	order, err := s.transition(ctx, actor, transition{
		orderID:         cmd.OrderID,
		to:              cmd.To,
		reason:          cmd.Reason,
		notes:           cmd.Notes,
		trackingNumber:  cmd.TrackingNumber,
		shippedAt:       cmd.ShippedAt,
		expectedVersion: cmd.ExpectedVersion,
	})
	if err != nil {
		return Order{}, s.reject("transition order", cmd.OrderID, err)
	}
	return order, nil
}

// CancelOrder cancels an order that has not shipped, releasing the stock
// of purchase orders.
func (s *Service) CancelOrder(ctx context.Context, actor shared.Actor, cmd CancelOrderCommand) (Order, error) {
	if err := shared.ValidateStruct(cmd); err != nil {
		return Order{}, s.reject("cancel order", cmd.OrderID, err)
	}
	order, err := s.transition(ctx, actor, transition{
		orderID:         cmd.OrderID,
		to:              StatusCancelled,
		reason:          cmd.Reason,
		expectedVersion: cmd.ExpectedVersion,
		cancel:          true,
	})
	if err != nil {
		return Order{}, s.reject("cancel order", cmd.OrderID, err)
	}
	return order, nil
}

// DeleteOrder tombstones a finished order. Orders still holding or awaiting
// stock must be cancelled or rejected first.
func (s *Service) DeleteOrder(ctx context.Context, actor shared.Actor, ref VersionedRef) (Order, error) {
	order, err := s.archive(ctx, actor, ref, true)
	if err != nil {
		return Order{}, s.reject("delete order", ref.ID, err)
	}
	return order, nil
}

// RestoreOrder clears the tombstone of a deleted order.
func (s *Service) RestoreOrder(ctx context.Context, actor shared.Actor, ref VersionedRef) (Order, error) {
	order, err := s.archive(ctx, actor, ref, false)
	if err != nil {
		return Order{}, s.reject("restore order", ref.ID, err)
	}
	return order, nil
}

func (s *Service) archive(ctx context.Context, actor shared.Actor, ref VersionedRef, remove bool) (Order, error) {
	if err := shared.ValidateStruct(ref); err != nil {
		return Order{}, err
	}
	if !actor.IsBackOffice() {
		return Order{}, shared.Forbidden("order archiving requires staff or admin")
	}
	now := s.now()
	action := "order.restore"
	if remove {
		action = "order.delete"
	}
	var order Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var version int64
		if remove {
			o, err := tx.GetOrderForUpdate(ctx, ref.ID)
			if err != nil {
				return err
			}
			if !o.Status.Terminal() {
				return shared.BusinessRule("order", o.Number, "is %s; only delivered, cancelled or rejected orders can be deleted", o.Status)
			}
			if version, err = tx.SoftDeleteOrder(ctx, ref, now); err != nil {
				return err
			}
			o.Version, o.DeletedAt, o.UpdatedAt = version, &now, now
			order = o
		} else {
			var err error
			if version, err = tx.RestoreOrder(ctx, ref); err != nil {
				return err
			}
			if order, err = tx.GetOrderForUpdate(ctx, ref.ID); err != nil {
				return err
			}
		}
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actor.UserID,
			Action:   action,
			Entity:   "order",
			EntityID: strconv.FormatInt(ref.ID, 10),
			Meta: map[string]any{
				"order_number": order.Number,
				"from_version": ref.Version,
				"to_version":   version,
			},
			At: now,
		})
	})
	if err != nil {
		return Order{}, err
	}
	s.logger.Info(action,
		slog.String("order_number", order.Number),
		slog.Int64("actor_id", actor.UserID),
		slog.Int64("version", order.Version))
	return order, nil
}

type transition struct {
	orderID         int64
	to              Status
	reason          string
	notes           string
	trackingNumber  string
	shippedAt       *time.Time
	expectedVersion int64
	cancel          bool
}

func (s *Service) transition(ctx context.Context, actor shared.Actor, t transition) (Order, error) {
	if !actor.Valid() {
		return Order{}, shared.Forbidden("unknown actor")
	}
	if (t.to == StatusCancelled || t.to == StatusRejected || t.to == StatusOnHold) && t.reason == "" {
		return Order{}, shared.Validation("reason is required when moving to %s", t.to)
	}
	now := s.now()

	var (
		order Order
		from  Status
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := tx.GetOrderForUpdate(ctx, t.orderID)
		if err != nil {
			return err
		}
		if err := authorize(actor, o, t.to); err != nil {
			return err
		}
		if t.expectedVersion != 0 && t.expectedVersion != o.Version {
			return shared.Conflict("order", o.Number)
		}
		if t.cancel {
			if err := cancellable(o); err != nil {
				return err
			}
		}
		if err := s.machine.Check(o, t.to); err != nil {
			return err
		}

		from = o.Status
		apply(&o, t, actor, now)
		if releasesStock(o.Type, t.to) {
			skipped, err := s.stock.Release(ctx, tx, itemsOf(o))
			if err != nil {
				return err
			}
			if len(skipped) > 0 {
				s.logger.Warn("order stock partially restored",
					slog.String("order_number", o.Number),
					slog.Any("missing_products", skipped))
			}
		}
		version, err := tx.UpdateStatus(ctx, o)
		if err != nil {
			return err
		}
		o.Version = version
		o.UpdatedAt = now

		h, err := tx.AppendHistory(ctx, History{
			OrderID:    o.ID,
			FromStatus: &from,
			ToStatus:   t.to,
			ChangedBy:  actor.UserID,
			Reason:     t.reason,
			Notes:      t.notes,
			ChangedAt:  now,
		})
		if err != nil {
			return err
		}
		o.History = append(o.History, h)
		order = o
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actor.UserID,
			Action:   "order.status",
			Entity:   "order",
			EntityID: strconv.FormatInt(o.ID, 10),
			Meta: map[string]any{
				"order_number": o.Number,
				"from":         from,
				"to":           t.to,
				"reason":       t.reason,
				"version":      version,
			},
			At: now,
		})
	})
	if err != nil {
		return Order{}, err
	}

	if s.metrics != nil {
		s.metrics.StatusChanged(t.to)
	}
	s.notify(ctx, order, &from, actor, t.reason, now)
	s.logger.Info("order status changed",
		slog.String("order_number", order.Number),
		slog.String("from", string(from)),
		slog.String("to", string(t.to)),
		slog.Int64("actor_id", actor.UserID))
	return order, nil
}

// apply sets the status and the fields implied by reaching it.
func apply(o *Order, t transition, actor shared.Actor, now time.Time) {
	from := o.Status
	switch {
	case t.to == StatusOnHold:
		held := from
		o.HeldFromStatus = &held
	case from == StatusOnHold:
		o.HeldFromStatus = nil
	}
	switch t.to {
	case StatusApproved:
		if o.ProcessedAt == nil {
			by := actor.UserID
			o.ProcessedBy = &by
			o.ProcessedAt = &now
		}
	case StatusInTransit:
		if o.ShippedAt == nil {
			shipped := now
			if t.shippedAt != nil {
				shipped = *t.shippedAt
			}
			o.ShippedAt = &shipped
		}
		if t.trackingNumber != "" {
			tracking := t.trackingNumber
			o.TrackingNumber = &tracking
		}
	case StatusDelivered:
		o.DeliveredAt = &now
	case StatusCancelled:
		reason := t.reason
		o.CancellationReason = &reason
		o.CancelledAt = &now
	}
	o.Status = t.to
}

// cancellable enforces the cancellation path's own precondition: shipped or
// finished orders cannot be cancelled.
func cancellable(o Order) error {
	switch o.Status {
	case StatusInTransit, StatusDelivered:
		return shared.BusinessRule("order", o.Number, "has shipped and cannot be cancelled")
	case StatusCancelled:
		return shared.BusinessRule("order", o.Number, "is already cancelled")
	}
	return nil
}

// authorize checks the actor's privilege for moving o to to. Customers only
// see their own orders and may only cancel them before approval, or decline
// an approved quote.
func authorize(actor shared.Actor, o Order, to Status) error {
	if actor.IsBackOffice() {
		return nil
	}
	if o.UserID != actor.UserID {
		return shared.NotFound("order", strconv.FormatInt(o.ID, 10))
	}
	if to != StatusCancelled {
		return shared.Forbidden("customers may not move orders to %s", to)
	}
	switch o.Status {
	case StatusReceived, StatusValidating, StatusQuoteRequested:
		return nil
	case StatusApproved:
		if o.Type == TypeQuote {
			return nil
		}
	}
	if o.Status.Terminal() {
		return nil
	}
	return shared.Forbidden("order %s is %s; contact support to cancel", o.Number, o.Status)
}

func itemsOf(o Order) []stock.Item {
	items := make([]stock.Item, len(o.Items))
	for i, it := range o.Items {
		items[i] = stock.Item{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return items
}

// GetOrder returns the order aggregate with items and full history.
func (s *Service) GetOrder(ctx context.Context, actor shared.Actor, id int64) (Order, error) {
	if !actor.Valid() {
		return Order{}, shared.Forbidden("unknown actor")
	}
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return Order{}, s.reject("get order", id, err)
	}
	if !actor.IsBackOffice() && o.UserID != actor.UserID {
		return Order{}, shared.NotFound("order", strconv.FormatInt(id, 10))
	}
	return o, nil
}

// ListOrders pages orders; customers only see their own.
func (s *Service) ListOrders(ctx context.Context, actor shared.Actor, f ListFilter) ([]Order, shared.Pagination, error) {
	if !actor.Valid() {
		return nil, shared.Pagination{}, shared.Forbidden("unknown actor")
	}
	if !actor.IsBackOffice() {
		self := actor.UserID
		f.UserID = &self
	}
	if f.Status != nil && !f.Status.Valid() {
		return nil, shared.Pagination{}, shared.Validation("unknown status %q", *f.Status)
	}
	if f.Type != nil && !f.Type.Valid() {
		return nil, shared.Pagination{}, shared.Validation("unknown order type %q", *f.Type)
	}
	page := shared.NewPagination(f.Page, f.PerPage, 0)
	f.Page, f.PerPage = page.Page, page.PerPage
	out, total, err := s.repo.ListOrders(ctx, f)
	if err != nil {
		return nil, shared.Pagination{}, s.reject("list orders", 0, err)
	}
	return out, shared.NewPagination(f.Page, f.PerPage, total), nil
}

func (s *Service) notify(ctx context.Context, o Order, from *Status, actor shared.Actor, reason string, at time.Time) {
	if s.notifier == nil {
		return
	}
	change := StatusChange{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		UserID:      o.UserID,
		Type:        o.Type,
		From:        from,
		To:          o.Status,
		ChangedBy:   actor.UserID,
		Reason:      reason,
		At:          at,
	}
	if err := s.notifier.OrderStatusChanged(context.WithoutCancel(ctx), change); err != nil {
		s.logger.Warn("order notification not queued",
			slog.String("order_number", o.Number),
			slog.String("status", string(o.Status)),
			slog.Any("error", err))
	}
}

// reject classifies err, logs storage failures and counts the rejection.
func (s *Service) reject(op string, id int64, err error) error {
	err = db.Classify(op, "order", strconv.FormatInt(id, 10), err)
	kind := shared.KindOf(err)
	if kind == shared.KindStorage {
		s.logger.Error(op+" failed", slog.Int64("order_id", id), slog.Any("error", err))
	}
	if s.metrics != nil {
		s.metrics.Rejected(op, kind)
	}
	return err
}
