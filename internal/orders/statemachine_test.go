package orders

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgeline/forgeline/internal/shared"
)

var allStatuses = []Status{
	StatusReceived, StatusValidating, StatusApproved, StatusPreparing, StatusReady,
	StatusInTransit, StatusDelivered, StatusQuoteRequested, StatusOnHold,
	StatusCancelled, StatusRejected,
}

func TestPurchaseTransitionTable(t *testing.T) {
	sm := NewStateMachine()
	want := map[Status][]Status{
		StatusReceived:   {StatusValidating, StatusOnHold, StatusRejected, StatusCancelled},
		StatusValidating: {StatusApproved, StatusOnHold, StatusRejected, StatusCancelled},
		StatusApproved:   {StatusPreparing, StatusOnHold, StatusCancelled},
		StatusPreparing:  {StatusReady, StatusOnHold, StatusCancelled},
		StatusReady:      {StatusInTransit, StatusCancelled},
		StatusInTransit:  {StatusDelivered},
	}
	for from, allowed := range want {
		for _, to := range allStatuses {
			o := Order{Type: TypePurchase, Status: from, Number: "ORD26-00001"}
			expected := false
			for _, a := range allowed {
				if a == to {
					expected = true
				}
			}
			require.Equal(t, expected, sm.CanTransition(o, to), "%s -> %s", from, to)
		}
	}
}

func TestQuoteTransitionTable(t *testing.T) {
	sm := NewStateMachine()
	quote := Order{Type: TypeQuote, Status: StatusQuoteRequested}
	require.ElementsMatch(t, []Status{StatusApproved, StatusOnHold, StatusRejected, StatusCancelled}, sm.Allowed(quote))

	quote.Status = StatusApproved
	require.Equal(t, []Status{StatusCancelled}, sm.Allowed(quote))

	for _, to := range []Status{StatusReceived, StatusPreparing, StatusInTransit, StatusDelivered} {
		require.False(t, sm.CanTransition(Order{Type: TypeQuote, Status: StatusQuoteRequested}, to), to)
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	sm := NewStateMachine()
	for _, typ := range []Type{TypePurchase, TypeQuote} {
		for _, from := range []Status{StatusDelivered, StatusCancelled, StatusRejected} {
			o := Order{Type: typ, Status: from, Number: "ORD26-00002"}
			require.True(t, from.Terminal())
			require.Empty(t, sm.Allowed(o))
			for _, to := range allStatuses {
				err := sm.Check(o, to)
				require.ErrorIs(t, err, shared.ErrBusinessRule, "%s %s -> %s", typ, from, to)
			}
		}
	}
}

func TestOnHoldReturnsOnlyToHeldStatus(t *testing.T) {
	sm := NewStateMachine()
	held := StatusPreparing
	o := Order{Type: TypePurchase, Status: StatusOnHold, HeldFromStatus: &held, Number: "ORD26-00003"}

	require.ElementsMatch(t, []Status{StatusPreparing, StatusRejected, StatusCancelled}, sm.Allowed(o))
	require.NoError(t, sm.Check(o, StatusPreparing))
	require.ErrorIs(t, sm.Check(o, StatusApproved), shared.ErrBusinessRule)

	o.HeldFromStatus = nil
	require.ElementsMatch(t, []Status{StatusRejected, StatusCancelled}, sm.Allowed(o))
}

func TestReceivedCannotJumpToDelivered(t *testing.T) {
	err := NewStateMachine().Check(Order{Type: TypePurchase, Status: StatusReceived, Number: "ORD26-00004"}, StatusDelivered)
	require.ErrorIs(t, err, shared.ErrBusinessRule)
	require.Contains(t, err.Error(), "order ORD26-00004: cannot move from RECEIVED to DELIVERED")
}

func TestCheckRejectsUnknownStatus(t *testing.T) {
	err := NewStateMachine().Check(Order{Type: TypePurchase, Status: StatusReceived}, Status("LOST"))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReleasesStock(t *testing.T) {
	require.True(t, releasesStock(TypePurchase, StatusCancelled))
	require.True(t, releasesStock(TypePurchase, StatusRejected))
	require.False(t, releasesStock(TypeQuote, StatusCancelled))
	require.False(t, releasesStock(TypePurchase, StatusDelivered))
	require.Equal(t, StatusQuoteRequested, InitialStatus(TypeQuote))
	require.Equal(t, StatusReceived, InitialStatus(TypePurchase))
}
