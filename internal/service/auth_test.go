package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/tenant-accounts/internal/apperror"
	"github.com/sakif/tenant-accounts/internal/auth"
	"github.com/sakif/tenant-accounts/internal/model"
)

// newTestAuthService returns an AuthService over a fresh database.
// The TokenService uses a short-lived secret, suitable for tests only.
func newTestAuthService(t *testing.T) (*AuthService, *UserService, *auth.TokenService) {
	t.Helper()
	users, _ := newTestUserService(t, newTestStore(t))
	tokens, err := auth.NewTokenService("test-secret-that-is-at-least-32-bytes-long", time.Minute)
	require.NoError(t, err)
	return NewAuthService(users, tokens, discardLogger()), users, tokens
}

func TestRegister_IssuesTokenForNewUser(t *testing.T) {
	svc, users, tokens := newTestAuthService(t)
	ctx := context.Background()

	res, err := svc.Register(ctx, model.CreateUserInput{
		Email:    "new@example.com",
		Name:     "New",
		Password: "long enough",
	})
	require.NoError(t, err)
	assert.True(t, res.IsNewUser)
	assert.Empty(t, res.User.PasswordDigest)

	sub, err := tokens.Validate(res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, sub)

	role, err := users.GetRole(ctx, res.User.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, role)
}

func TestRegister_RequiresPassword(t *testing.T) {
	svc, _, _ := newTestAuthService(t)

	_, err := svc.Register(context.Background(), model.CreateUserInput{Email: "np@example.com"})
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc, _, _ := newTestAuthService(t)
	ctx := context.Background()
	in := model.CreateUserInput{Email: "dup@example.com", Password: "long enough"}

	_, err := svc.Register(ctx, in)
	require.NoError(t, err)

	in.Email = "DUP@example.com"
	_, err = svc.Register(ctx, in)
	assert.ErrorIs(t, err, apperror.ErrConflict)
}

func TestLogin(t *testing.T) {
	svc, _, tokens := newTestAuthService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, model.CreateUserInput{Email: "me@example.com", Password: "long enough"})
	require.NoError(t, err)

	tests := []struct {
		name     string
		email    string
		password string
		wantErr  error
	}{
		{"correct credentials", "ME@example.com", "long enough", nil},
		{"wrong password", "me@example.com", "not the one", apperror.ErrForbidden},
		{"unknown email", "you@example.com", "long enough", apperror.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.Login(ctx, tt.email, tt.password)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.False(t, res.IsNewUser)
			sub, err := tokens.Validate(res.Token)
			require.NoError(t, err)
			assert.Equal(t, reg.User.ID, sub)
		})
	}
}

func TestLoginWithIdentity_CreatesThenReuses(t *testing.T) {
	svc, _, _ := newTestAuthService(t)
	ctx := context.Background()
	id := &auth.ExternalIdentity{
		Email:  "octo@example.com",
		Name:   "Octo Cat",
		Avatar: "https://avatars.example.com/octo.png",
	}

	first, err := svc.LoginWithIdentity(ctx, id)
	require.NoError(t, err)
	assert.True(t, first.IsNewUser)
	assert.True(t, first.User.Verified)
	assert.Equal(t, "https://avatars.example.com/octo.png", first.User.Avatar)

	second, err := svc.LoginWithIdentity(ctx, id)
	require.NoError(t, err)
	assert.False(t, second.IsNewUser)
	assert.Equal(t, first.User.ID, second.User.ID)
}

func TestLoginWithIdentity_NilIdentity(t *testing.T) {
	svc, _, _ := newTestAuthService(t)

	_, err := svc.LoginWithIdentity(context.Background(), nil)
	assert.Error(t, err)
}
