package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sakif/tenant-accounts/internal/model"
	"github.com/sakif/tenant-accounts/internal/repository"
)

// ServerInfoService reads and edits the server-wide settings.
type ServerInfoService struct {
	store  repository.Store
	logger *slog.Logger
}

func NewServerInfoService(store repository.Store, logger *slog.Logger) *ServerInfoService {
	return &ServerInfoService{store: store, logger: logger}
}

func (s *ServerInfoService) Get(ctx context.Context) (model.ServerInfo, error) {
	info, err := s.store.ServerConfig().GetServerInfo(ctx)
	if err != nil {
		return model.ServerInfo{}, asInternal("reading server info", err)
	}
	return info, nil
}

// Update replaces the settings. Turning guest mode off does not touch
// existing guests; it only stops new Guest grants.
func (s *ServerInfoService) Update(ctx context.Context, info model.ServerInfo) (model.ServerInfo, error) {
	info.Name = strings.TrimSpace(info.Name)
	if err := s.store.ServerConfig().UpdateServerInfo(ctx, info); err != nil {
		return model.ServerInfo{}, asInternal("updating server info", err)
	}
	s.logger.Info("server info updated",
		slog.String("name", info.Name),
		slog.Bool("guestModeEnabled", info.GuestModeEnabled),
	)
	return info, nil
}
