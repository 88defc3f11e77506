package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	svc := NewJWTService("secret", 1)

	token, err := svc.Generate("ops-laptop", RoleOperator)
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	require.Equal(t, "ops-laptop", claims.Subject)
	require.Equal(t, RoleOperator, claims.Role)
	require.NotEmpty(t, claims.ID)

	role, err := svc.Role(token)
	require.NoError(t, err)
	require.Equal(t, RoleOperator, role)
}

func TestGenerateRejectsUnknownRole(t *testing.T) {
	_, err := NewJWTService("secret", 1).Generate("x", "admin")
	require.ErrorIs(t, err, ErrUnknownRole)
}

func TestValidateRejects(t *testing.T) {
	svc := NewJWTService("secret", 1)
	token, err := svc.Generate("x", RoleViewer)
	require.NoError(t, err)

	_, err = NewJWTService("other", 1).Validate(token)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Validate("not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = svc.Validate(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}
