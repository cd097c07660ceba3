package authpw

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"association/api/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	memory := store.NewMemoryStore()
	svc := NewService(memory)
	_, err := svc.CreateAccount(context.Background(), AccountRequest{
		Email:       "member@example.org",
		Password:    "password123",
		DisplayName: "Member",
		Role:        "member",
	})
	require.NoError(t, err)
	return svc, memory
}

func TestCreateAccount(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	t.Run("duplicate email", func(t *testing.T) {
		_, err := svc.CreateAccount(ctx, AccountRequest{Email: "MEMBER@example.org", Password: "password123"})
		assert.Error(t, err)
	})

	t.Run("short password", func(t *testing.T) {
		_, err := svc.CreateAccount(ctx, AccountRequest{Email: "new@example.org", Password: "short"})
		assert.Equal(t, ErrWeakPassword, err)
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := svc.CreateAccount(ctx, AccountRequest{})
		assert.Equal(t, ErrMissingFields, err)
	})

	t.Run("display name defaults to email", func(t *testing.T) {
		user, err := svc.CreateAccount(ctx, AccountRequest{Email: "plain@example.org", Password: "password123", Role: "member"})
		require.NoError(t, err)
		assert.Equal(t, "plain@example.org", user.DisplayName)
		assert.NotEqual(t, "password123", user.PasswordHash)
	})
}

func TestSignIn(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	user, err := svc.SignIn(ctx, "member@example.org", "password123")
	require.NoError(t, err)
	assert.Equal(t, "Member", user.DisplayName)

	_, err = svc.SignIn(ctx, "member@example.org", "wrongpassword")
	assert.Equal(t, ErrInvalidCredentials, err)

	_, err = svc.SignIn(ctx, "nobody@example.org", "password123")
	assert.Equal(t, ErrInvalidCredentials, err)

	_, err = svc.SignIn(ctx, "", "")
	assert.Equal(t, ErrMissingFields, err)
}

func TestPasswordReset(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	token, user, err := svc.RequestPasswordReset(ctx, "nobody@example.org")
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.Empty(t, user.ID)

	token, user, err = svc.RequestPasswordReset(ctx, "member@example.org")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Equal(t, "member@example.org", user.Email)

	assert.Equal(t, ErrWeakPassword, svc.ResetPassword(ctx, token, "short"))
	require.NoError(t, svc.ResetPassword(ctx, token, "newpassword123"))

	_, err = svc.SignIn(ctx, "member@example.org", "password123")
	assert.Error(t, err, "old password no longer works")
	_, err = svc.SignIn(ctx, "member@example.org", "newpassword123")
	assert.NoError(t, err)

	assert.Equal(t, ErrInvalidResetToken, svc.ResetPassword(ctx, token, "anotherpassword"), "tokens are single use")
	assert.Equal(t, ErrInvalidResetToken, svc.ResetPassword(ctx, "invalid-token", "newpassword123"))
}
