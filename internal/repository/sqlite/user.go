package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sakif/tenant-accounts/internal/apperror"
	"github.com/sakif/tenant-accounts/internal/model"
	"github.com/sakif/tenant-accounts/internal/repository"
)

var _ repository.UserRepository = (*DB)(nil)

const userColumns = `u.id, u.email, u.name, u.company, u.bio, u.avatar, u.password_digest, u.verified, u.created_at`

// Timestamps are stored as unix microseconds so that restricted-search
// cursors compare exactly.
func toMicros(t time.Time) int64 { return t.UnixMicro() }

func fromMicros(v int64) time.Time { return time.UnixMicro(v).UTC() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(s rowScanner) (*model.User, error) {
	var (
		u       model.User
		created int64
	)
	if err := s.Scan(
		&u.ID, &u.Email, &u.Name, &u.Company, &u.Bio, &u.Avatar,
		&u.PasswordDigest, &u.Verified, &created,
	); err != nil {
		return nil, err
	}
	u.CreatedAt = fromMicros(created)
	return &u, nil
}

func collectUsers(rows *sql.Rows, capacity int) ([]model.User, error) {
	defer rows.Close()

	users := make([]model.User, 0, capacity)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning user row: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating users: %w", err)
	}
	return users, nil
}

// InsertUser stores a new user. The caller sets ID and CreatedAt.
// A clash on the case-insensitive email index is reported as EmailTaken.
func (db *DB) InsertUser(ctx context.Context, user *model.User) error {
	_, err := db.q.ExecContext(ctx,
		`INSERT INTO users (id, email, name, company, bio, avatar, password_digest, verified, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		user.Name,
		user.Company,
		user.Bio,
		user.Avatar,
		user.PasswordDigest,
		user.Verified,
		toMicros(user.CreatedAt),
	)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return apperror.EmailTaken(user.Email)
		case isPrimaryKeyViolation(err):
			return apperror.Conflict("user", user.ID)
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", user.ID, err)
	}
	return nil
}

// GetUserByID returns apperror.ErrNotFound if no user has that id.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(db.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users u WHERE u.id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return u, nil
}

// GetUserByEmail matches case-insensitively.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(db.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users u WHERE lower(u.email) = lower(?)`, email,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return u, nil
}

func (db *DB) EmailTaken(ctx context.Context, email string) (bool, error) {
	var taken bool
	err := db.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE lower(email) = lower(?))`, email,
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking email: %w", err)
	}
	return taken, nil
}

func (db *DB) UpdatePasswordDigest(ctx context.Context, id, digest string) error {
	res, err := db.q.ExecContext(ctx,
		`UPDATE users SET password_digest = ? WHERE id = ?`, digest, id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating password for user %s: %w", id, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

// UpdateProfile writes only the non-nil fields.
func (db *DB) UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate) error {
	var (
		sets []string
		args []any
	)
	add := func(column string, v *string) {
		if v != nil {
			sets = append(sets, column+" = ?")
			args = append(args, *v)
		}
	}
	add("name", update.Name)
	add("company", update.Company)
	add("bio", update.Bio)
	add("avatar", update.Avatar)

	if len(sets) == 0 {
		// Nothing to change, but the caller still expects NotFound for a
		// missing user.
		_, err := db.GetUserByID(ctx, id)
		return err
	}

	args = append(args, id)
	res, err := db.q.ExecContext(ctx,
		`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating profile for user %s: %w", id, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

// searchWhere builds the restricted search predicate: an exact email match,
// or (unless EmailOnly) a Unicode case-insensitive partial name match; archived
// users are excluded unless requested; Before is a strict upper bound on
// created_at.
func searchWhere(f repository.SearchFilter) (string, []any) {
	var (
		b    strings.Builder
		args []any
	)
	b.WriteString(`WHERE (lower(u.email) = lower(?)`)
	args = append(args, f.Query)
	if !f.EmailOnly {
		b.WriteString(` OR casefold(u.name) LIKE ? ESCAPE '\'`)
		args = append(args, foldPattern(f.Query))
	}
	b.WriteString(`)`)
	if !f.Archived {
		b.WriteString(` AND a.role <> ?`)
		args = append(args, string(model.RoleArchivedUser))
	}
	if !f.Before.IsZero() {
		b.WriteString(` AND u.created_at < ?`)
		args = append(args, toMicros(f.Before))
	}
	return b.String(), args
}

// SearchUsers returns matches newest first, at most f.Limit rows.
func (db *DB) SearchUsers(ctx context.Context, f repository.SearchFilter) ([]model.User, error) {
	where, args := searchWhere(f)
	args = append(args, f.Limit)

	rows, err := db.q.QueryContext(ctx,
		`SELECT `+userColumns+`
		 FROM users u JOIN server_acl a ON a.user_id = u.id
		 `+where+`
		 ORDER BY u.created_at DESC
		 LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: searching users: %w", err)
	}
	return collectUsers(rows, f.Limit)
}

func (db *DB) CountSearchUsers(ctx context.Context, f repository.SearchFilter) (int, error) {
	where, args := searchWhere(f)

	var n int
	err := db.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users u JOIN server_acl a ON a.user_id = u.id `+where,
		args...,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting search results: %w", err)
	}
	return n, nil
}

// adminWhere matches query as a case-insensitive substring of email, name
// or company. An empty query matches everyone.
func adminWhere(query string) (string, []any) {
	if query == "" {
		return "", nil
	}
	pattern := foldPattern(query)
	return `WHERE casefold(u.email) LIKE ? ESCAPE '\'
	           OR casefold(u.name) LIKE ? ESCAPE '\'
	           OR casefold(u.company) LIKE ? ESCAPE '\'`,
		[]any{pattern, pattern, pattern}
}

// ListUsers pages through users in storage (insertion) order.
func (db *DB) ListUsers(ctx context.Context, opts repository.ListOptions) ([]model.User, error) {
	where, args := adminWhere(opts.Query)
	args = append(args, opts.Limit, opts.Offset)

	rows, err := db.q.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users u `+where+`
		 ORDER BY u.rowid
		 LIMIT ? OFFSET ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing users: %w", err)
	}
	return collectUsers(rows, opts.Limit)
}

func (db *DB) CountUsers(ctx context.Context, query string) (int, error) {
	where, args := adminWhere(query)

	var n int
	if err := db.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users u `+where, args...,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: counting users: %w", err)
	}
	return n, nil
}

// DeleteUserKeepingQuorum deletes the user only if they are not an
// administrator or another administrator exists. The check and the delete
// are one statement, so no concurrent writer can slip in between.
func (db *DB) DeleteUserKeepingQuorum(ctx context.Context, id string) (int64, error) {
	res, err := db.q.ExecContext(ctx,
		`DELETE FROM users
		 WHERE id = ?
		   AND (NOT EXISTS (SELECT 1 FROM server_acl WHERE user_id = ? AND role = ?)
		        OR (SELECT COUNT(*) FROM server_acl WHERE role = ?) > 1)`,
		id, id, string(model.RoleAdmin), string(model.RoleAdmin),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting user %s: %w", id, err)
	}
	return rowsAffected(res)
}
