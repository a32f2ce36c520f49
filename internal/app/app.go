// Package app wires configuration, storage, the realtime hub and the engine
// into one process-level handle shared by the CLI and the server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"vfxhub/internal/config"
	"vfxhub/internal/db"
	"vfxhub/internal/domain"
	"vfxhub/internal/engine"
	"vfxhub/internal/migrate"
	"vfxhub/internal/realtime"
)

// Options tune Open.
type Options struct {
	Workspace string
	// AdminID, when set, is seeded as an admin profile on first start.
	AdminID string
	Logger  *slog.Logger
}

type App struct {
	Config *config.Config
	DB     *db.DB
	Hub    *realtime.Hub
	Engine engine.Engine
	Logger *slog.Logger
}

// Open loads the workspace config (defaults when absent), opens and
// migrates the database and builds the engine publishing into a fresh hub.
func Open(ctx context.Context, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	return OpenWithConfig(ctx, cfg, opts.Workspace, opts.AdminID, logger)
}

func OpenWithConfig(ctx context.Context, cfg *config.Config, workspace, adminID string, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	conn, err := db.Open(db.Config{Workspace: workspace, Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	hub := realtime.NewHub(cfg.Realtime.SubscriberBuffer, logger.With("component", "hub"))
	e := engine.New(conn, cfg, hub, logger.With("component", "engine"))
	if adminID != "" {
		if _, err := e.EnsureProfile(ctx, adminID, adminID, domain.RoleAdmin); err != nil {
			hub.Close()
			conn.Close()
			return nil, fmt.Errorf("seed admin: %w", err)
		}
	}
	return &App{Config: cfg, DB: conn, Hub: hub, Engine: e, Logger: logger}, nil
}

// Close stops the hub first so websocket clients see CLOSED before the
// database goes away.
func (a *App) Close() error {
	a.Hub.Close()
	return a.DB.Close()
}
