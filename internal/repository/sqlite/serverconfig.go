package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sakif/tenant-accounts/internal/model"
	"github.com/sakif/tenant-accounts/internal/repository"
)

var _ repository.ServerConfigRepository = (*DB)(nil)

// EnsureServerInfo seeds the single server_config row. An existing row is
// left untouched so edits made by administrators survive restarts.
func (db *DB) EnsureServerInfo(ctx context.Context, defaults model.ServerInfo) error {
	_, err := db.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO server_config (id, name, guest_mode_enabled) VALUES (1, ?, ?)`,
		defaults.Name, defaults.GuestModeEnabled,
	)
	if err != nil {
		return fmt.Errorf("sqlite: seeding server config: %w", err)
	}
	return nil
}

// GetServerInfo returns the zero ServerInfo (guest mode off) before seeding.
func (db *DB) GetServerInfo(ctx context.Context) (model.ServerInfo, error) {
	var info model.ServerInfo
	err := db.q.QueryRowContext(ctx,
		`SELECT name, guest_mode_enabled FROM server_config WHERE id = 1`,
	).Scan(&info.Name, &info.GuestModeEnabled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ServerInfo{}, nil
		}
		return model.ServerInfo{}, fmt.Errorf("sqlite: reading server config: %w", err)
	}
	return info, nil
}

func (db *DB) UpdateServerInfo(ctx context.Context, info model.ServerInfo) error {
	_, err := db.q.ExecContext(ctx,
		`INSERT INTO server_config (id, name, guest_mode_enabled) VALUES (1, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, guest_mode_enabled = excluded.guest_mode_enabled`,
		info.Name, info.GuestModeEnabled,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating server config: %w", err)
	}
	return nil
}
