// Package service holds the account rules.
//
// UserService is the only way accounts and server roles change. It keeps
// two invariants under concurrent callers:
//
//   - one account per email address, compared case-insensitively
//   - at least one server administrator while any account exists
//
// Both are enforced twice: a friendly pre-check inside an immediate write
// transaction, and a storage constraint or conditional statement that
// makes the pre-check's answer binding.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/tenant-accounts/internal/apperror"
	"github.com/sakif/tenant-accounts/internal/auth"
	"github.com/sakif/tenant-accounts/internal/events"
	"github.com/sakif/tenant-accounts/internal/idgen"
	"github.com/sakif/tenant-accounts/internal/model"
	"github.com/sakif/tenant-accounts/internal/repository"
)

const (
	DefaultSearchLimit = 25
	MaxSearchLimit     = 100
	DefaultListLimit   = 10
	MaxListLimit       = 200

	// generatedPasswordLength is the length of the unusable password given
	// to accounts created from an external identity.
	generatedPasswordLength = 20
)

// RoleChange is the payload of a user.role-changed event.
type RoleChange struct {
	UserID string     `json:"userId"`
	From   model.Role `json:"from"`
	To     model.Role `json:"to"`
}

// UserService implements the account lifecycle.
type UserService struct {
	store     repository.Store
	passwords *auth.PasswordService
	events    events.Publisher
	guard     AdminQuorumGuard
	logger    *slog.Logger

	now   func() time.Time
	newID func() (string, error)
}

// NewUserService wires a UserService.
func NewUserService(
	store repository.Store,
	passwords *auth.PasswordService,
	publisher events.Publisher,
	logger *slog.Logger,
) *UserService {
	return &UserService{
		store:     store,
		passwords: passwords,
		events:    publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     idgen.UserID,
	}
}

// asInternal passes typed application errors through and wraps anything
// else as apperror.ErrInternal.
func asInternal(op string, err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperror.Internal(op, err)
}

// resolveRequestedRole returns the role a new user asked for, or "" when the
// request must be ignored: unknown roles, and Guest while guest mode is off.
func resolveRequestedRole(requested model.Role, guestModeEnabled bool) model.Role {
	if !requested.IsValid() {
		return ""
	}
	if requested == model.RoleGuest && !guestModeEnabled {
		return ""
	}
	return requested
}

// =========================================================================
// CREATE
// =========================================================================

// Create registers a new account and returns its id.
//
// The first account on the server becomes administrator regardless of the
// requested role. Later accounts get the requested role when it is valid
// (Guest only while guest mode is on) and Standard otherwise; an invalid
// request is downgraded, not rejected.
//
// Unless opts.SkipPropertyValidation is set, only email, password, name,
// company, bio and verified are taken from in.
func (s *UserService) Create(ctx context.Context, in model.CreateUserInput, opts model.CreateOptions) (string, error) {
	email := model.NormalizeEmail(in.Email)
	if email == "" {
		return "", apperror.ValidationFailed("email", "email is required")
	}
	if !opts.SkipPropertyValidation {
		in.Avatar = ""
		in.CreatedAt = time.Time{}
	}

	info, err := s.store.ServerConfig().GetServerInfo(ctx)
	if err != nil {
		return "", asInternal("reading server info", err)
	}
	requested := resolveRequestedRole(in.Role, info.GuestModeEnabled)
	if in.Role != "" && requested == "" {
		s.logger.Warn("requested role ignored",
			slog.String("email", email),
			slog.String("role", string(in.Role)),
		)
	}

	id, err := s.newID()
	if err != nil {
		return "", asInternal("generating user id", err)
	}

	user := &model.User{
		ID:        id,
		Email:     email,
		Name:      strings.TrimSpace(in.Name),
		Company:   strings.TrimSpace(in.Company),
		Bio:       strings.TrimSpace(in.Bio),
		Avatar:    in.Avatar,
		Verified:  in.Verified,
		CreatedAt: in.CreatedAt,
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}

	if in.Password != "" {
		digest, err := s.passwords.Hash(in.Password)
		if err != nil {
			return "", asInternal("hashing password", err)
		}
		user.PasswordDigest = digest
	}

	var granted model.Role
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		taken, err := tx.Users().EmailTaken(ctx, email)
		if err != nil {
			return err
		}
		if taken {
			return apperror.EmailTaken(email)
		}

		// The unique index still rejects a concurrent insert that got past
		// the check above.
		if err := tx.Users().InsertUser(ctx, user); err != nil {
			return err
		}

		admins, err := tx.Grants().CountByRole(ctx, model.RoleAdmin)
		if err != nil {
			return err
		}
		switch {
		case admins == 0:
			granted = model.RoleAdmin
		case requested != "":
			granted = requested
		default:
			granted = model.RoleUser
		}
		return tx.Grants().InsertGrant(ctx, id, granted)
	})
	if err != nil {
		if !errors.Is(err, apperror.ErrConflict) {
			s.logger.Error("failed to create user",
				slog.String("email", email),
				slog.String("error", err.Error()),
			)
		}
		return "", asInternal("creating user", err)
	}

	s.logger.Info("user created",
		slog.String("userID", id),
		slog.String("role", string(granted)),
	)
	s.events.Publish(ctx, events.New(events.UserCreated, user.Sanitized()))

	return id, nil
}

// FindOrCreate returns the account owning in.Email, creating a verified one
// with an unusable random password if none exists.
//
// A concurrent caller may create the same account between the lookup and the
// insert; the loser re-reads and returns the winner's account.
func (s *UserService) FindOrCreate(ctx context.Context, in model.CreateUserInput) (*model.FindOrCreateResult, error) {
	email := model.NormalizeEmail(in.Email)
	if email == "" {
		return nil, apperror.ValidationFailed("email", "email is required")
	}

	existing, err := s.store.Users().GetUserByEmail(ctx, email)
	if err == nil {
		return &model.FindOrCreateResult{ID: existing.ID, Email: existing.Email}, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, asInternal("looking up user by email", err)
	}

	password, err := idgen.String(max(generatedPasswordLength, s.passwords.MinLength()))
	if err != nil {
		return nil, asInternal("generating password", err)
	}
	in.Email = email
	in.Password = password
	in.Verified = true

	id, err := s.Create(ctx, in, model.CreateOptions{})
	if err != nil {
		if !errors.Is(err, apperror.ErrConflict) {
			return nil, err
		}
		existing, rerr := s.store.Users().GetUserByEmail(ctx, email)
		if rerr != nil {
			return nil, asInternal("re-reading user after conflict", rerr)
		}
		return &model.FindOrCreateResult{ID: existing.ID, Email: existing.Email}, nil
	}

	return &model.FindOrCreateResult{ID: id, Email: email, IsNewUser: true}, nil
}

// =========================================================================
// READS
// =========================================================================

// GetByID returns the account without its password digest, or nil if there
// is none.
func (s *UserService) GetByID(ctx context.Context, id string) (*model.User, error) {
	u, err := s.store.Users().GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, nil
		}
		return nil, asInternal("getting user", err)
	}
	return u.Sanitized(), nil
}

// GetByEmail matches case-insensitively and returns nil if there is no
// such account.
func (s *UserService) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := s.store.Users().GetUserByEmail(ctx, model.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, nil
		}
		return nil, asInternal("getting user by email", err)
	}
	return u.Sanitized(), nil
}

// GetRole returns "" for users without a grant.
func (s *UserService) GetRole(ctx context.Context, userID string) (model.Role, error) {
	role, err := s.store.Grants().GetRole(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return "", nil
		}
		return "", asInternal("getting role", err)
	}
	return role, nil
}

// Search is the restricted user search available to every authenticated
// user. It matches an exact email or part of a name and never exposes
// emails. Results are newest first; pass the returned cursor to get the
// next page.
func (s *UserService) Search(ctx context.Context, p model.SearchParams) (*model.SearchPage, error) {
	f, err := searchFilter(p)
	if err != nil {
		return nil, err
	}

	users, err := s.store.Users().SearchUsers(ctx, f)
	if err != nil {
		return nil, asInternal("searching users", err)
	}

	page := &model.SearchPage{Users: make([]model.LimitedUser, 0, len(users))}
	for i := range users {
		page.Users = append(page.Users, users[i].Limited())
	}
	if n := len(users); n > 0 {
		page.Cursor = users[n-1].CreatedAt.Format(time.RFC3339Nano)
	}
	return page, nil
}

// CountSearchUsers counts every match of the restricted search, ignoring
// limit and cursor.
func (s *UserService) CountSearchUsers(ctx context.Context, p model.SearchParams) (int, error) {
	p.Cursor = ""
	f, err := searchFilter(p)
	if err != nil {
		return 0, err
	}
	n, err := s.store.Users().CountSearchUsers(ctx, f)
	if err != nil {
		return 0, asInternal("counting search results", err)
	}
	return n, nil
}

func searchFilter(p model.SearchParams) (repository.SearchFilter, error) {
	q := strings.TrimSpace(p.Query)
	if q == "" {
		return repository.SearchFilter{}, apperror.ValidationFailed("query", "search query is required")
	}

	limit := p.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}

	f := repository.SearchFilter{
		Query:     q,
		Limit:     limit,
		Archived:  p.Archived,
		EmailOnly: p.EmailOnly,
	}
	if p.Cursor != "" {
		before, err := time.Parse(time.RFC3339Nano, p.Cursor)
		if err != nil {
			return repository.SearchFilter{}, apperror.ValidationFailed("cursor", "cursor must be an RFC 3339 timestamp")
		}
		f.Before = before
	}
	return f, nil
}

// List is the administrator listing: full records (minus digests) matching
// query in email, name or company, in storage order.
func (s *UserService) List(ctx context.Context, limit, offset int, query string) ([]model.User, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	users, err := s.store.Users().ListUsers(ctx, repository.ListOptions{
		Limit:  limit,
		Offset: offset,
		Query:  strings.TrimSpace(query),
	})
	if err != nil {
		return nil, asInternal("listing users", err)
	}
	for i := range users {
		users[i].PasswordDigest = ""
	}
	return users, nil
}

// CountUsers counts the accounts List would page through.
func (s *UserService) CountUsers(ctx context.Context, query string) (int, error) {
	n, err := s.store.Users().CountUsers(ctx, strings.TrimSpace(query))
	if err != nil {
		return 0, asInternal("counting users", err)
	}
	return n, nil
}

// =========================================================================
// CREDENTIALS AND PROFILE
// =========================================================================

// ChangePassword replaces the user's password after checking the policy.
func (s *UserService) ChangePassword(ctx context.Context, userID, newPassword string) error {
	digest, err := s.passwords.Hash(newPassword)
	if err != nil {
		return asInternal("hashing password", err)
	}
	if err := s.store.Users().UpdatePasswordDigest(ctx, userID, digest); err != nil {
		return asInternal("updating password", err)
	}
	s.logger.Info("password changed", slog.String("userID", userID))
	return nil
}

// ValidatePassword reports whether password is correct for the account
// owning email. Unknown accounts and accounts without a password are
// simply false.
func (s *UserService) ValidatePassword(ctx context.Context, email, password string) (bool, error) {
	u, err := s.store.Users().GetUserByEmail(ctx, model.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return false, nil
		}
		return false, asInternal("getting user by email", err)
	}

	if err := s.passwords.Verify(u.PasswordDigest, password); err != nil {
		if errors.Is(err, auth.ErrMismatch) {
			return false, nil
		}
		return false, asInternal("verifying password", err)
	}
	return true, nil
}

// UpdateProfile changes the non-nil profile fields and returns the result.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, update model.ProfileUpdate) (*model.User, error) {
	for _, f := range []*string{update.Name, update.Company, update.Bio} {
		if f != nil {
			*f = strings.TrimSpace(*f)
		}
	}

	if err := s.store.Users().UpdateProfile(ctx, userID, update); err != nil {
		return nil, asInternal("updating profile", err)
	}
	u, err := s.store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return nil, asInternal("reading updated profile", err)
	}

	sanitized := u.Sanitized()
	s.events.Publish(ctx, events.New(events.UserUpdated, sanitized))
	return sanitized, nil
}

// =========================================================================
// ROLES AND DELETION
// =========================================================================

// ChangeRole sets the user's server role.
//
// Guest is only assignable while guest mode is enabled. Any change away from
// Administrator is refused if the user is the last administrator. Setting
// the current role again is allowed and performs a redundant write.
func (s *UserService) ChangeRole(ctx context.Context, userID string, role model.Role, guestModeEnabled bool) error {
	if !role.IsValid() {
		return apperror.InvalidRole(string(role))
	}
	if role == model.RoleGuest && !guestModeEnabled {
		return apperror.GuestDisabled()
	}

	var previous model.Role
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		prev, err := tx.Grants().GetRole(ctx, userID)
		if err != nil {
			return err
		}
		previous = prev

		if role != model.RoleAdmin {
			if err := s.guard.EnsureQuorumSurvives(ctx, tx.Grants(), userID); err != nil {
				return err
			}
		}

		n, err := tx.Grants().UpdateRoleKeepingQuorum(ctx, userID, role)
		if err != nil {
			return err
		}
		if n == 0 {
			return apperror.LastAdmin(userID)
		}
		return nil
	})
	if err != nil {
		return asInternal("changing role", err)
	}

	s.logger.Info("user role changed",
		slog.String("userID", userID),
		slog.String("from", string(previous)),
		slog.String("to", string(role)),
	)
	s.events.Publish(ctx, events.New(events.UserRoleChanged, RoleChange{UserID: userID, From: previous, To: role}))
	return nil
}

// Delete removes the user and everything that only made sense with them:
// resources they owned alone and invites they sent or received by id.
// Their own grants go with the user row.
//
// All steps share one transaction. If a step fails nothing is removed and
// the error names the step. It returns the number of users removed (0 when
// there was no such user).
func (s *UserService) Delete(ctx context.Context, userID string) (int64, error) {
	var (
		removed   int64
		resources int
		invites   int64
	)
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		if err := s.guard.EnsureQuorumSurvives(ctx, tx.Grants(), userID); err != nil {
			return err
		}

		ids, err := tx.Resources().SoleOwnedResources(ctx, userID)
		if err != nil {
			return apperror.PartialDeletion(userID, "find sole-owned resources", err)
		}
		for _, id := range ids {
			if err := tx.Resources().DeleteResource(ctx, id); err != nil {
				return apperror.PartialDeletion(userID, fmt.Sprintf("delete resource %s", id), err)
			}
		}
		resources = len(ids)

		invites, err = tx.Invites().PurgeInvitesForUser(ctx, userID)
		if err != nil {
			return apperror.PartialDeletion(userID, "purge invites", err)
		}

		n, err := tx.Users().DeleteUserKeepingQuorum(ctx, userID)
		if err != nil {
			return apperror.PartialDeletion(userID, "delete user", err)
		}
		if n == 0 {
			_, err := tx.Users().GetUserByID(ctx, userID)
			switch {
			case err == nil:
				return apperror.LastAdmin(userID)
			case !errors.Is(err, apperror.ErrNotFound):
				return asInternal("re-reading user after delete", err)
			}
		}
		removed = n
		return nil
	})
	if err != nil {
		if errors.Is(err, apperror.ErrPartialDeletion) {
			s.logger.Error("user deletion rolled back",
				slog.String("userID", userID),
				slog.String("error", err.Error()),
			)
		}
		return 0, asInternal("deleting user", err)
	}

	if removed > 0 {
		s.logger.Info("user deleted",
			slog.String("userID", userID),
			slog.Int("resources", resources),
			slog.Int64("invites", invites),
		)
		s.events.Publish(ctx, events.New(events.UserDeleted, map[string]string{"id": userID}))
	}
	return removed, nil
}
