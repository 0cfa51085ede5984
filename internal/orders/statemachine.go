package orders

import (
	"slices"

	"github.com/forgeline/forgeline/internal/shared"
)

// StateMachine holds the allowed transitions per order type. ON_HOLD may
// also return to the status it was held from, which is resolved per order.
type StateMachine struct {
	transitions map[Type]map[Status][]Status
}

// NewStateMachine creates the order state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		transitions: map[Type]map[Status][]Status{
			TypePurchase: {
				StatusReceived:   {StatusValidating, StatusOnHold, StatusRejected, StatusCancelled},
				StatusValidating: {StatusApproved, StatusOnHold, StatusRejected, StatusCancelled},
				StatusApproved:   {StatusPreparing, StatusOnHold, StatusCancelled},
				StatusPreparing:  {StatusReady, StatusOnHold, StatusCancelled},
				StatusReady:      {StatusInTransit, StatusCancelled},
				StatusInTransit:  {StatusDelivered},
				StatusOnHold:     {StatusRejected, StatusCancelled},
				StatusDelivered:  {},
				StatusCancelled:  {},
				StatusRejected:   {},
			},
			TypeQuote: {
				StatusQuoteRequested: {StatusApproved, StatusOnHold, StatusRejected, StatusCancelled},
				StatusApproved:       {StatusCancelled},
				StatusOnHold:         {StatusRejected, StatusCancelled},
				StatusCancelled:      {},
				StatusRejected:       {},
			},
		},
	}
}

// InitialStatus is the status a new order of type t starts in.
func InitialStatus(t Type) Status {
	if t == TypeQuote {
		return StatusQuoteRequested
	}
	return StatusReceived
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusRejected
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusReceived, StatusValidating, StatusApproved, StatusPreparing, StatusReady,
		StatusInTransit, StatusDelivered, StatusQuoteRequested, StatusOnHold,
		StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// Valid reports whether t is a known order type.
func (t Type) Valid() bool {
	return t == TypePurchase || t == TypeQuote
}

// Allowed returns the statuses o may move to next.
func (sm *StateMachine) Allowed(o Order) []Status {
	allowed := slices.Clone(sm.transitions[o.Type][o.Status])
	if o.Status == StatusOnHold && o.HeldFromStatus != nil {
		allowed = append([]Status{*o.HeldFromStatus}, allowed...)
	}
	return allowed
}

// CanTransition checks if o may move to to.
func (sm *StateMachine) CanTransition(o Order, to Status) bool {
	return slices.Contains(sm.Allowed(o), to)
}

// Check returns a business rule error naming the order when the transition
// is not permitted.
func (sm *StateMachine) Check(o Order, to Status) error {
	if !to.Valid() {
		return shared.Validation("unknown status %q", to)
	}
	if o.Status.Terminal() {
		return shared.BusinessRule("order", o.Number, "is %s and can no longer change status", o.Status)
	}
	if !sm.CanTransition(o, to) {
		return shared.BusinessRule("order", o.Number, "cannot move from %s to %s", o.Status, to)
	}
	return nil
}

// releasesStock reports whether reaching to returns reserved stock.
func releasesStock(t Type, to Status) bool {
	return t == TypePurchase && (to == StatusCancelled || to == StatusRejected)
}
