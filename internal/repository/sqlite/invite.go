package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/tenant-accounts/internal/model"
	"github.com/sakif/tenant-accounts/internal/repository"
)

var _ repository.InviteRepository = (*DB)(nil)

func (db *DB) CreateInvite(ctx context.Context, invite *model.Invite) error {
	if invite.ID == "" {
		invite.ID = xid.New().String()
	}
	if invite.CreatedAt.IsZero() {
		invite.CreatedAt = time.Now().UTC()
	}

	_, err := db.q.ExecContext(ctx,
		`INSERT INTO server_invites (id, inviter_id, target, created_at) VALUES (?, ?, ?, ?)`,
		invite.ID, invite.InviterID, invite.Target, toMicros(invite.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating invite: %w", err)
	}
	return nil
}

// PurgeInvitesForUser deletes invites sent by the user and invites that
// target the user by id. Invites addressed to the user's email are left
// alone; they can still be accepted by whoever owns that address.
func (db *DB) PurgeInvitesForUser(ctx context.Context, userID string) (int64, error) {
	res, err := db.q.ExecContext(ctx,
		`DELETE FROM server_invites WHERE inviter_id = ? OR target = ?`,
		userID, model.UserInviteTarget(userID),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: purging invites of user %s: %w", userID, err)
	}
	return rowsAffected(res)
}
