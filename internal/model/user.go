// Package model defines the data structures used throughout the application.
package model

import (
	"strings"
	"time"
)

// User represents an account on the server.
//
// PasswordDigest is the bcrypt hash of the user's password. It is empty for
// accounts created through an external identity provider that never set one.
// The json:"-" tag keeps it out of every API response; the service layer also
// clears it on every read so it never leaves the storage boundary.
type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	Company        string    `json:"company"`
	Bio            string    `json:"bio"`
	Avatar         string    `json:"avatar,omitempty"`
	PasswordDigest string    `json:"-"`
	Verified       bool      `json:"verified"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Sanitized returns a copy of u without the password digest.
func (u *User) Sanitized() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.PasswordDigest = ""
	return &c
}

// Limited returns the restricted projection used by user search.
func (u *User) Limited() LimitedUser {
	return LimitedUser{
		ID:        u.ID,
		Name:      u.Name,
		Bio:       u.Bio,
		Company:   u.Company,
		Avatar:    u.Avatar,
		Verified:  u.Verified,
		CreatedAt: u.CreatedAt,
	}
}

// LimitedUser is what any authenticated caller may learn about another user.
// It deliberately has no email field.
type LimitedUser struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Bio       string    `json:"bio"`
	Company   string    `json:"company"`
	Avatar    string    `json:"avatar,omitempty"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"createdAt"`
}

// NormalizeEmail is the canonical form used for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUserInput is the caller-supplied data for a new account.
//
// Avatar and CreatedAt are only honoured when CreateOptions.SkipPropertyValidation
// is set; regular callers cannot choose them.
type CreateUserInput struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Company  string `json:"company"`
	Bio      string `json:"bio"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
	Verified bool   `json:"verified"`

	Avatar    string    `json:"-"`
	CreatedAt time.Time `json:"-"`
}

// CreateOptions tunes Create for internal callers such as fixtures.
type CreateOptions struct {
	SkipPropertyValidation bool
}

// FindOrCreateResult is returned by FindOrCreate.
type FindOrCreateResult struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	IsNewUser bool   `json:"isNewUser,omitempty"`
}

// ProfileUpdate carries the user-editable profile fields. Nil means unchanged.
type ProfileUpdate struct {
	Name    *string `json:"name"`
	Company *string `json:"company"`
	Bio     *string `json:"bio"`
	Avatar  *string `json:"avatar"`
}

// SearchParams drives the restricted user search.
//
// Cursor is the createdAt of the last row of the previous page, formatted
// as RFC 3339; the next page only contains strictly older users.
type SearchParams struct {
	Query     string
	Limit     int
	Cursor    string
	Archived  bool
	EmailOnly bool
}

// SearchPage is one page of restricted search results.
type SearchPage struct {
	Users  []LimitedUser `json:"items"`
	Cursor string        `json:"cursor,omitempty"`
}

// ServerInfo holds the server-wide settings the account rules depend on.
type ServerInfo struct {
	Name             string `json:"name"`
	GuestModeEnabled bool   `json:"guestModeEnabled"`
}
