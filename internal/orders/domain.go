// Package orders is the order lifecycle engine: creation with stock
// reservation and price snapshots, bounded status transitions, and
// cancellation with compensating stock release. Every mutation writes its
// status history and audit entry in the same transaction.
package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/forgeline/forgeline/internal/pricing"
)

// Status is an order lifecycle state.
type Status string

const (
	StatusReceived       Status = "RECEIVED"
	StatusValidating     Status = "VALIDATING"
	StatusApproved       Status = "APPROVED"
	StatusPreparing      Status = "PREPARING"
	StatusReady          Status = "READY"
	StatusInTransit      Status = "IN_TRANSIT"
	StatusDelivered      Status = "DELIVERED"
	StatusQuoteRequested Status = "QUOTE_REQUESTED"
	StatusOnHold         Status = "ON_HOLD"
	StatusCancelled      Status = "CANCELLED"
	StatusRejected       Status = "REJECTED"
)

// Type distinguishes purchases, which reserve stock, from quotes.
type Type string

const (
	TypePurchase Type = "PURCHASE"
	TypeQuote    Type = "QUOTE"
)

// Order is the order aggregate.
type Order struct {
	ID                 int64                  `json:"id"`
	Number             string                 `json:"order_number"`
	UserID             int64                  `json:"user_id"`
	Type               Type                   `json:"type"`
	Status             Status                 `json:"status"`
	HeldFromStatus     *Status                `json:"held_from_status,omitempty"`
	ShippingAddress    string                 `json:"shipping_address"`
	ShippingMethod     pricing.ShippingMethod `json:"shipping_method"`
	Notes              string                 `json:"notes,omitempty"`
	Subtotal           decimal.Decimal        `json:"subtotal"`
	DiscountAmount     decimal.Decimal        `json:"discount_amount"`
	ShippingCost       decimal.Decimal        `json:"shipping_cost"`
	Total              decimal.Decimal        `json:"total"`
	CancellationReason *string                `json:"cancellation_reason,omitempty"`
	ProcessedBy        *int64                 `json:"processed_by,omitempty"`
	ProcessedAt        *time.Time             `json:"processed_at,omitempty"`
	ShippedAt          *time.Time             `json:"shipped_at,omitempty"`
	TrackingNumber     *string                `json:"tracking_number,omitempty"`
	DeliveredAt        *time.Time             `json:"delivered_at,omitempty"`
	CancelledAt        *time.Time             `json:"cancelled_at,omitempty"`
	Version            int64                  `json:"version"`
	DeletedAt          *time.Time             `json:"deleted_at,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
	Items              []Item                 `json:"items"`
	History            []History              `json:"history"`
}

// Item is an immutable order line. Product data is a snapshot taken at
// creation; only ProductID refers back to the catalog.
type Item struct {
	ID              int64               `json:"id"`
	OrderID         int64               `json:"order_id"`
	ProductID       int64               `json:"product_id"`
	SKU             string              `json:"sku"`
	Name            string              `json:"name"`
	Unit            string              `json:"unit"`
	Quantity        int64               `json:"quantity"`
	UnitPrice       decimal.Decimal     `json:"unit_price"`
	PriceSource     pricing.PriceSource `json:"price_source"`
	DiscountPercent decimal.Decimal     `json:"discount_percent"`
	DiscountAmount  decimal.Decimal     `json:"discount_amount"`
	LineTotal       decimal.Decimal     `json:"line_total"`
}

// History is one append-only status change.
type History struct {
	ID         int64     `json:"id"`
	OrderID    int64     `json:"order_id"`
	FromStatus *Status   `json:"from_status"`
	ToStatus   Status    `json:"to_status"`
	ChangedBy  int64     `json:"changed_by"`
	Reason     string    `json:"reason,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	ChangedAt  time.Time `json:"changed_at"`
}

// LatestHistory returns the most recent history entry.
func (o Order) LatestHistory() (History, bool) {
	if len(o.History) == 0 {
		return History{}, false
	}
	return o.History[len(o.History)-1], true
}

// ItemInput is one requested line of a new order.
type ItemInput struct {
	ProductID       int64           `json:"product_id" validate:"required,gt=0"`
	Quantity        int64           `json:"quantity" validate:"gt=0"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
}

// CreateOrderCommand turns a cart into an order.
type CreateOrderCommand struct {
	Type            Type                   `json:"type" validate:"omitempty,oneof=PURCHASE QUOTE"`
	Items           []ItemInput            `json:"items" validate:"required,min=1,max=200,dive"`
	ShippingAddress string                 `json:"shipping_address" validate:"required_unless=ShippingMethod PICKUP,max=500"`
	ShippingMethod  pricing.ShippingMethod `json:"shipping_method" validate:"required,oneof=STANDARD PICKUP COURIER"`
	Notes           string                 `json:"notes" validate:"max=1000"`
	IdempotencyKey  string                 `json:"-" validate:"max=128"`
}

// TransitionStatusCommand moves an order to another status. A non-zero
// ExpectedVersion must match the stored version.
type TransitionStatusCommand struct {
	OrderID         int64      `json:"-" validate:"required,gt=0"`
	To              Status     `json:"status" validate:"required"`
	Reason          string     `json:"reason" validate:"max=500"`
	Notes           string     `json:"notes" validate:"max=1000"`
	TrackingNumber  string     `json:"tracking_number" validate:"max=100"`
	ShippedAt       *time.Time `json:"shipped_at,omitempty"`
	ExpectedVersion int64      `json:"expected_version" validate:"gte=0"`
}

// CancelOrderCommand cancels an order and releases its stock.
type CancelOrderCommand struct {
	OrderID         int64  `json:"-" validate:"required,gt=0"`
	Reason          string `json:"reason" validate:"required,max=500"`
	ExpectedVersion int64  `json:"expected_version" validate:"gte=0"`
}

// VersionedRef names an order at the version the caller last read.
type VersionedRef struct {
	ID      int64 `json:"-" validate:"required,gt=0"`
	Version int64 `json:"version" validate:"required,gt=0"`
}

// ListFilter pages orders.
type ListFilter struct {
	UserID  *int64
	Status  *Status
	Type    *Type
	Page    int
	PerPage int
}

// StatusChange is handed to the notifier after a committed change.
type StatusChange struct {
	OrderID     int64     `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	UserID      int64     `json:"user_id"`
	Type        Type      `json:"type"`
	From        *Status   `json:"from,omitempty"`
	To          Status    `json:"to"`
	ChangedBy   int64     `json:"changed_by"`
	Reason      string    `json:"reason,omitempty"`
	At          time.Time `json:"at"`
}
