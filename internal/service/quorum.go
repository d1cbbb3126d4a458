package service

import (
	"context"
	"errors"

	"github.com/sakif/tenant-accounts/internal/apperror"
	"github.com/sakif/tenant-accounts/internal/model"
	"github.com/sakif/tenant-accounts/internal/repository"
)

// AdminQuorumGuard refuses changes that would leave the server without an
// administrator.
//
// It must run inside the same write transaction as the mutation it
// protects. The storage statements it precedes are conditional as well, so
// the guard gives a precise error while storage guarantees the invariant.
type AdminQuorumGuard struct{}

// EnsureQuorumSurvives fails with apperror.ErrInvariant iff there is exactly
// one administrator and it is userID.
func (AdminQuorumGuard) EnsureQuorumSurvives(ctx context.Context, grants repository.GrantRepository, userID string) error {
	admins, err := grants.CountByRole(ctx, model.RoleAdmin)
	if err != nil {
		return apperror.Internal("counting administrators", err)
	}
	if admins != 1 {
		return nil
	}

	role, err := grants.GetRole(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil
		}
		return apperror.Internal("reading role", err)
	}
	if role == model.RoleAdmin {
		return apperror.LastAdmin(userID)
	}
	return nil
}
