package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpreston/matchpoint/internal/store"
)

func TestRegisterLoginIdentify(t *testing.T) {
	ctx := context.Background()
	svc := New(store.NewMemory())

	user, token, err := svc.Register(ctx, "alice@example.com", "alice", "Alice A", "hunter22")
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.NotEmpty(t, token)
	assert.NotEqual(t, "hunter22", user.PasswordHash, "password must be hashed")

	got, err := svc.Identify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, loginToken, err := svc.Login(ctx, "alice", "hunter22")
	require.NoError(t, err)
	assert.NotEqual(t, token, loginToken)

	_, _, err = svc.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.Login(ctx, "nobody", "hunter22")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	svc := New(store.NewMemory())

	cases := []struct {
		name     string
		email    string
		username string
		fullName string
		password string
	}{
		{"missing email", "", "alice", "Alice A", "hunter22"},
		{"short username", "a@x.io", "al", "Alice A", "hunter22"},
		{"bad username chars", "a@x.io", "alice!", "Alice A", "hunter22"},
		{"short full name", "a@x.io", "alice", "A", "hunter22"},
		{"short password", "a@x.io", "alice", "Alice A", "12345"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := svc.Register(ctx, tc.email, tc.username, tc.fullName, tc.password)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	ctx := context.Background()
	svc := New(store.NewMemory())

	_, token, err := svc.Register(ctx, "a@x.io", "alice", "Alice A", "hunter22")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, token))
	_, err = svc.Identify(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
