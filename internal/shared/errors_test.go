package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorKindsMatchSentinels(t *testing.T) {
	err := fmt.Errorf("create order: %w", BusinessRule("product", "BLT-M8", "insufficient stock: requested %d, available %d", 5, 3))
	require.ErrorIs(t, err, ErrBusinessRule)
	require.NotErrorIs(t, err, ErrConflict)
	require.Equal(t, KindBusinessRule, KindOf(err))
	require.Equal(t, "create order: product BLT-M8: insufficient stock: requested 5, available 3", err.Error())

	require.ErrorIs(t, Conflict("order", "9"), ErrConflict)
	require.ErrorIs(t, NotFound("user", "3"), ErrNotFound)
	require.ErrorIs(t, Validation("bad"), ErrValidation)
	require.ErrorIs(t, Forbidden("customers may not approve"), ErrForbidden)
}

func TestStorageWrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Storage("cancel order", cause)
	require.ErrorIs(t, err, ErrStorage)
	require.ErrorIs(t, err, cause)
	require.Equal(t, KindStorage, KindOf(errors.New("plain")))
	require.False(t, IsClassified(errors.New("plain")))
	require.True(t, IsClassified(err))
}

func TestActorValidity(t *testing.T) {
	require.True(t, Actor{UserID: 1, Type: UserTypeBusiness, Role: RoleCustomer}.Valid())
	require.False(t, Actor{UserID: 0, Type: UserTypeBusiness, Role: RoleCustomer}.Valid())
	require.False(t, Actor{UserID: 1, Type: "ROBOT", Role: RoleCustomer}.Valid())
	require.True(t, Actor{UserID: 1, Type: UserTypeIndividual, Role: RoleStaff}.IsBackOffice())
	require.False(t, Actor{UserID: 1, Type: UserTypeIndividual, Role: RoleCustomer}.IsBackOffice())
}

func TestValidateStructReportsFields(t *testing.T) {
	type line struct {
		ProductID int64 `validate:"required,gt=0"`
		Quantity  int64 `validate:"gt=0"`
	}
	type command struct {
		Method string `validate:"required,oneof=STANDARD PICKUP COURIER"`
		Lines  []line `validate:"required,min=1,dive"`
	}

	require.NoError(t, ValidateStruct(command{Method: "PICKUP", Lines: []line{{ProductID: 1, Quantity: 2}}}))

	err := ValidateStruct(command{Method: "DRONE", Lines: []line{{ProductID: 1, Quantity: 0}}})
	require.ErrorIs(t, err, ErrValidation)
	require.Contains(t, err.Error(), "Method must be one of")
	require.Contains(t, err.Error(), "Lines[0].Quantity must be greater than 0")
}
