package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/tenant-accounts/internal/apperror"
	"github.com/sakif/tenant-accounts/internal/auth"
	"github.com/sakif/tenant-accounts/internal/model"
)

// AuthService turns credentials into session tokens. Account rules live in
// UserService; this type only decides who the caller is.
//
//	AuthHandler (HTTP) → AuthService → UserService → Store
//	                              ↘ TokenService (JWT)
type AuthService struct {
	users  *UserService
	tokens *auth.TokenService
	logger *slog.Logger
}

func NewAuthService(users *UserService, tokens *auth.TokenService, logger *slog.Logger) *AuthService {
	return &AuthService{users: users, tokens: tokens, logger: logger}
}

// AuthResult bundles the signed-in user with their token so the handler can
// set the cookie and respond in one step.
type AuthResult struct {
	User      *model.User
	Token     string
	IsNewUser bool
}

// Register creates a password account and signs it in.
func (s *AuthService) Register(ctx context.Context, in model.CreateUserInput) (*AuthResult, error) {
	if in.Password == "" {
		return nil, apperror.ValidationFailed("password", "password is required")
	}
	id, err := s.users.Create(ctx, in, model.CreateOptions{})
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, id, true)
}

// Login checks email and password. Wrong email and wrong password give the
// same error so callers cannot probe which accounts exist.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	ok, err := s.users.ValidatePassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.Forbidden("invalid email or password")
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperror.Forbidden("invalid email or password")
	}
	return s.issue(ctx, u.ID, false)
}

// LoginWithIdentity signs in a person vouched for by an external identity
// provider, creating their account on first sign-in.
func (s *AuthService) LoginWithIdentity(ctx context.Context, id *auth.ExternalIdentity) (*AuthResult, error) {
	if id == nil {
		return nil, fmt.Errorf("service/auth: identity must not be nil")
	}

	res, err := s.users.FindOrCreate(ctx, model.CreateUserInput{
		Email:   id.Email,
		Name:    id.Name,
		Company: id.Company,
		Bio:     id.Bio,
	})
	if err != nil {
		return nil, err
	}

	if res.IsNewUser && id.Avatar != "" {
		avatar := id.Avatar
		if _, err := s.users.UpdateProfile(ctx, res.ID, model.ProfileUpdate{Avatar: &avatar}); err != nil {
			s.logger.Warn("could not store avatar",
				slog.String("userID", res.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("user authenticated via identity provider",
		slog.String("userID", res.ID),
		slog.Bool("newUser", res.IsNewUser),
	)
	return s.issue(ctx, res.ID, res.IsNewUser)
}

func (s *AuthService) issue(ctx context.Context, userID string, isNew bool) (*AuthResult, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperror.NotFound("user", userID)
	}

	token, err := s.tokens.Generate(userID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", userID, err)
	}
	return &AuthResult{User: u, Token: token, IsNewUser: isNew}, nil
}
