package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sakif/tenant-accounts/internal/apperror"
	"github.com/sakif/tenant-accounts/internal/model"
	"github.com/sakif/tenant-accounts/internal/repository"
)

var _ repository.GrantRepository = (*DB)(nil)

// InsertGrant gives a user their server role. Each user has exactly one
// grant; a second insert is a Conflict.
func (db *DB) InsertGrant(ctx context.Context, userID string, role model.Role) error {
	_, err := db.q.ExecContext(ctx,
		`INSERT INTO server_acl (user_id, role) VALUES (?, ?)`,
		userID, string(role),
	)
	if err != nil {
		if isPrimaryKeyViolation(err) || isUniqueViolation(err) {
			return apperror.Conflict("server grant", userID)
		}
		return fmt.Errorf("sqlite: granting %s to user %s: %w", role, userID, err)
	}
	return nil
}

// GetRole returns apperror.ErrNotFound if the user holds no grant.
func (db *DB) GetRole(ctx context.Context, userID string) (model.Role, error) {
	var role string
	err := db.q.QueryRowContext(ctx,
		`SELECT role FROM server_acl WHERE user_id = ?`, userID,
	).Scan(&role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperror.NotFound("server grant", userID)
		}
		return "", fmt.Errorf("sqlite: getting role of user %s: %w", userID, err)
	}
	return model.Role(role), nil
}

func (db *DB) CountByRole(ctx context.Context, role model.Role) (int, error) {
	var n int
	if err := db.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM server_acl WHERE role = ?`, string(role),
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: counting %s grants: %w", role, err)
	}
	return n, nil
}

// UpdateRoleKeepingQuorum sets the user's role. Promotions always apply;
// any other change applies only if the user is not an administrator or
// another administrator remains. Zero rows means either no grant exists or
// the change would have removed the last administrator.
func (db *DB) UpdateRoleKeepingQuorum(ctx context.Context, userID string, role model.Role) (int64, error) {
	admin := string(model.RoleAdmin)
	res, err := db.q.ExecContext(ctx,
		`UPDATE server_acl SET role = ?
		 WHERE user_id = ?
		   AND (? = ?
		        OR role <> ?
		        OR (SELECT COUNT(*) FROM server_acl WHERE role = ?) > 1)`,
		string(role), userID, string(role), admin, admin, admin,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: changing role of user %s: %w", userID, err)
	}
	return rowsAffected(res)
}
