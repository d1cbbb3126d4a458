package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/tenant-accounts/internal/apperror"
	"github.com/sakif/tenant-accounts/internal/model"
	"github.com/sakif/tenant-accounts/internal/repository"
)

var _ repository.ResourceRepository = (*DB)(nil)

// CreateResource stores a resource, generating its id (an xid: 20 URL-safe
// characters, sortable by creation time) and creation time when unset.
func (db *DB) CreateResource(ctx context.Context, resource *model.Resource) error {
	if resource.ID == "" {
		resource.ID = xid.New().String()
	}
	if resource.CreatedAt.IsZero() {
		resource.CreatedAt = time.Now().UTC()
	}

	_, err := db.q.ExecContext(ctx,
		`INSERT INTO resources (id, name, created_at) VALUES (?, ?, ?)`,
		resource.ID, resource.Name, toMicros(resource.CreatedAt),
	)
	if err != nil {
		if isPrimaryKeyViolation(err) {
			return apperror.Conflict("resource", resource.ID)
		}
		return fmt.Errorf("sqlite: creating resource: %w", err)
	}
	return nil
}

func (db *DB) GetResource(ctx context.Context, id string) (*model.Resource, error) {
	var (
		r       model.Resource
		created int64
	)
	err := db.q.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM resources WHERE id = ?`, id,
	).Scan(&r.ID, &r.Name, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("resource", id)
		}
		return nil, fmt.Errorf("sqlite: getting resource %s: %w", id, err)
	}
	r.CreatedAt = fromMicros(created)
	return &r, nil
}

// GrantResource sets (or replaces) a user's role on a resource.
func (db *DB) GrantResource(ctx context.Context, resourceID, userID string, role model.ResourceRole) error {
	_, err := db.q.ExecContext(ctx,
		`INSERT INTO resource_acl (resource_id, user_id, role) VALUES (?, ?, ?)
		 ON CONFLICT (resource_id, user_id) DO UPDATE SET role = excluded.role`,
		resourceID, userID, string(role),
	)
	if err != nil {
		return fmt.Errorf("sqlite: granting %s on resource %s: %w", role, resourceID, err)
	}
	return nil
}

// SoleOwnedResources finds the resources the user owns alone: among the
// resources where the user has an owner grant, those with exactly one owner.
func (db *DB) SoleOwnedResources(ctx context.Context, userID string) ([]string, error) {
	owner := string(model.ResourceOwner)
	rows, err := db.q.QueryContext(ctx,
		`SELECT acl.resource_id
		 FROM resource_acl acl
		 WHERE acl.role = ?
		   AND acl.resource_id IN (
		       SELECT resource_id FROM resource_acl WHERE user_id = ? AND role = ?)
		 GROUP BY acl.resource_id
		 HAVING COUNT(*) = 1
		 ORDER BY acl.resource_id`,
		owner, userID, owner,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: finding resources solely owned by %s: %w", userID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scanning resource id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating resource ids: %w", err)
	}
	return ids, nil
}

// DeleteResource removes a resource; its ACL rows cascade.
func (db *DB) DeleteResource(ctx context.Context, id string) error {
	res, err := db.q.ExecContext(ctx, `DELETE FROM resources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting resource %s: %w", id, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperror.NotFound("resource", id)
	}
	return nil
}
