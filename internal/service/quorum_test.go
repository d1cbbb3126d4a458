package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sakif/tenant-accounts/internal/apperror"
	"github.com/sakif/tenant-accounts/internal/model"
)

// fakeGrants is a map-backed GrantRepository for guard tests.
type fakeGrants struct {
	roles    map[string]model.Role
	countErr error
}

func (f *fakeGrants) InsertGrant(_ context.Context, userID string, role model.Role) error {
	f.roles[userID] = role
	return nil
}

func (f *fakeGrants) GetRole(_ context.Context, userID string) (model.Role, error) {
	role, ok := f.roles[userID]
	if !ok {
		return "", apperror.NotFound("grant", userID)
	}
	return role, nil
}

func (f *fakeGrants) CountByRole(_ context.Context, role model.Role) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	n := 0
	for _, r := range f.roles {
		if r == role {
			n++
		}
	}
	return n, nil
}

func (f *fakeGrants) UpdateRoleKeepingQuorum(_ context.Context, userID string, role model.Role) (int64, error) {
	f.roles[userID] = role
	return 1, nil
}

func TestEnsureQuorumSurvives(t *testing.T) {
	tests := []struct {
		name    string
		roles   map[string]model.Role
		userID  string
		wantErr error
	}{
		{
			name:    "sole admin is protected",
			roles:   map[string]model.Role{"a": model.RoleAdmin, "b": model.RoleUser},
			userID:  "a",
			wantErr: apperror.ErrInvariant,
		},
		{
			name:   "one of two admins may go",
			roles:  map[string]model.Role{"a": model.RoleAdmin, "b": model.RoleAdmin},
			userID: "a",
		},
		{
			name:   "non-admin may go",
			roles:  map[string]model.Role{"a": model.RoleAdmin, "b": model.RoleUser},
			userID: "b",
		},
		{
			name:   "user without grant passes",
			roles:  map[string]model.Role{"a": model.RoleAdmin},
			userID: "ghost",
		},
		{
			name:   "no admins at all passes",
			roles:  map[string]model.Role{"b": model.RoleUser},
			userID: "b",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := AdminQuorumGuard{}.EnsureQuorumSurvives(context.Background(), &fakeGrants{roles: tt.roles}, tt.userID)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEnsureQuorumSurvives_StorageFailureIsInternal(t *testing.T) {
	grants := &fakeGrants{roles: map[string]model.Role{}, countErr: errors.New("locked")}

	err := AdminQuorumGuard{}.EnsureQuorumSurvives(context.Background(), grants, "a")
	assert.ErrorIs(t, err, apperror.ErrInternal)
}
