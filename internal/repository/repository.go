// Package repository declares the storage contracts used by the service layer.
//
// Every repository reports an absent row as apperror.ErrNotFound and a
// unique-constraint violation as apperror.ErrConflict. Mutations that guard
// the administrator quorum are expressed as single conditional statements
// and report how many rows they changed.
package repository

import (
	"context"
	"time"

	"github.com/sakif/tenant-accounts/internal/model"
)

// ListOptions drives the admin user listing.
type ListOptions struct {
	Limit  int
	Offset int
	Query  string // case-insensitive substring of email, name or company
}

// SearchFilter drives the restricted user search.
type SearchFilter struct {
	Query     string
	Limit     int
	Before    time.Time // zero means no cursor
	Archived  bool
	EmailOnly bool
}

// UserRepository stores accounts. Emails are matched case-insensitively.
type UserRepository interface {
	InsertUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	EmailTaken(ctx context.Context, email string) (bool, error)
	UpdatePasswordDigest(ctx context.Context, id, digest string) error
	UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate) error
	SearchUsers(ctx context.Context, f SearchFilter) ([]model.User, error)
	CountSearchUsers(ctx context.Context, f SearchFilter) (int, error)
	ListUsers(ctx context.Context, opts ListOptions) ([]model.User, error)
	CountUsers(ctx context.Context, query string) (int, error)

	// DeleteUserKeepingQuorum removes the user (and, through the foreign key,
	// their grant) unless they are the last administrator. It returns the
	// number of users removed.
	DeleteUserKeepingQuorum(ctx context.Context, id string) (int64, error)
}

// GrantRepository stores each user's single server role (server_acl).
type GrantRepository interface {
	InsertGrant(ctx context.Context, userID string, role model.Role) error
	GetRole(ctx context.Context, userID string) (model.Role, error)
	CountByRole(ctx context.Context, role model.Role) (int, error)

	// UpdateRoleKeepingQuorum overwrites the user's grant unless doing so
	// would demote the last administrator. It returns the rows changed.
	UpdateRoleKeepingQuorum(ctx context.Context, userID string, role model.Role) (int64, error)
}

// ResourceRepository stores shared resources and the per-user grants on them.
type ResourceRepository interface {
	CreateResource(ctx context.Context, resource *model.Resource) error
	GetResource(ctx context.Context, id string) (*model.Resource, error)
	GrantResource(ctx context.Context, resourceID, userID string, role model.ResourceRole) error

	// SoleOwnedResources returns ids of resources where userID holds the only
	// owner grant.
	SoleOwnedResources(ctx context.Context, userID string) ([]string, error)
	DeleteResource(ctx context.Context, id string) error
}

// InviteRepository stores pending server invitations.
type InviteRepository interface {
	CreateInvite(ctx context.Context, invite *model.Invite) error

	// PurgeInvitesForUser deletes invites sent by the user or addressed to
	// them by id, and returns how many were removed.
	PurgeInvitesForUser(ctx context.Context, userID string) (int64, error)
}

// ServerConfigRepository stores the single row of server-wide settings.
type ServerConfigRepository interface {
	GetServerInfo(ctx context.Context) (model.ServerInfo, error)
	UpdateServerInfo(ctx context.Context, info model.ServerInfo) error
}

// Store vends repositories bound to one connection or transaction.
type Store interface {
	Users() UserRepository
	Grants() GrantRepository
	Resources() ResourceRepository
	Invites() InviteRepository
	ServerConfig() ServerConfigRepository

	// WithTx runs fn inside a write transaction. The Store passed to fn binds
	// every repository to that transaction. fn's error rolls everything back;
	// a panic rolls back and is re-raised.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}
