package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidationErrorIsValidationKind(t *testing.T) {
	err := fmt.Errorf("create quotation: %w", FieldError("client_email", "client email is required"))
	require.True(t, errors.Is(err, ErrValidation))
	require.Equal(t, "client email is required", UserSafeMessage(err))
}

func TestValidationErrorJoinsFields(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"b": "second", "a": "first"}}
	require.Equal(t, "a: first; b: second", err.Error())
}

func TestUserSafeMessageHidesInternalErrors(t *testing.T) {
	require.Equal(t, "internal error, please retry later", UserSafeMessage(errors.New("pq: connection reset")))
	require.Equal(t, "state conflict", UserSafeMessage(fmt.Errorf("update: %w", ErrConflict)))
	require.True(t, errors.Is(ErrIdempotencyConflict, ErrConflict))
}

func TestUserSafeMessageDropsWrapContext(t *testing.T) {
	notApproved := Conflict("Quotation must be approved before conversion")
	err := fmt.Errorf("convert quotation %d: %w", 7, notApproved)

	require.Equal(t, "Quotation must be approved before conversion", UserSafeMessage(err))
	require.ErrorIs(t, err, ErrConflict)
	require.ErrorIs(t, err, notApproved)
}

func TestDomainErrorWithMessageKeepsCause(t *testing.T) {
	invalid := Conflict("Invalid status transition")
	err := fmt.Errorf("quotation 3: %w", invalid.WithMessage("Only sent quotations can be %s", "approved"))

	require.Equal(t, "Only sent quotations can be approved", UserSafeMessage(err))
	require.ErrorIs(t, err, invalid)
	require.ErrorIs(t, err, ErrConflict)
	require.False(t, errors.Is(err, ErrNotFound))
}

func TestIdentityScoping(t *testing.T) {
	clientID := int64(7)
	admin := &Identity{UserID: "a", Role: RoleAdmin}
	portal := &Identity{UserID: "c", Role: RoleClient, ClientID: &clientID}
	var anonymous *Identity

	require.True(t, admin.CanSeeClient(99))
	require.True(t, portal.CanSeeClient(7))
	require.False(t, portal.CanSeeClient(8))
	require.False(t, anonymous.CanSeeClient(7))
}
