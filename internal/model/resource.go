package model

import "time"

// Resource is a shared object (a stream) that users hold grants on.
// When its last owner is deleted, the resource is deleted with them.
type Resource struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// ResourceRole is a per-resource access level.
type ResourceRole string

const (
	ResourceOwner       ResourceRole = "stream:owner"
	ResourceContributor ResourceRole = "stream:contributor"
	ResourceReviewer    ResourceRole = "stream:reviewer"
)

func (r ResourceRole) IsValid() bool {
	switch r {
	case ResourceOwner, ResourceContributor, ResourceReviewer:
		return true
	}
	return false
}

// Invite is a pending invitation. Target is either an email address or
// "@" followed by a user id.
type Invite struct {
	ID        string    `json:"id"`
	InviterID string    `json:"inviterId"`
	Target    string    `json:"target"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserInviteTarget is the Target form used when inviting an existing user.
func UserInviteTarget(userID string) string {
	return "@" + userID
}
