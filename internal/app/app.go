// Package app wires a workspace into a ready engine: database, migrations,
// config, notification dispatch and commission bootstrap.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"intakeline/internal/commission"
	"intakeline/internal/config"
	"intakeline/internal/db"
	"intakeline/internal/engine"
	"intakeline/internal/migrate"
	"intakeline/internal/notify"
	"intakeline/internal/repo"
)

// Options control how a workspace is opened.
type Options struct {
	Workspace string
	Logger    *slog.Logger
	// Registerer receives the engine metrics; nil disables them.
	Registerer prometheus.Registerer
	Now        func() time.Time
}

// App owns the resources behind one workspace.
type App struct {
	DB       *sql.DB
	Repo     repo.Repo
	Config   *config.Config
	Engine   engine.Engine
	Notifier *notify.Dispatcher
	Logger   *slog.Logger
}

// Open migrates the workspace database and builds the engine. The config
// falls back to defaults when intakeline.yml is absent.
func Open(ctx context.Context, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return Build(conn, cfg, opts, logger), nil
}

// Build wires an already migrated connection.
func Build(conn *sql.DB, cfg *config.Config, opts Options, logger *slog.Logger) *App {
	r := repo.Repo{DB: conn}
	st := repo.NewStore(conn)
	if opts.Now != nil {
		st.Events.Now = opts.Now
	}
	dispatcher := notify.NewDispatcher(r, cfg.Notifications.Webhooks, logger.With("component", "notify"))

	eng := engine.New(st, cfg)
	if opts.Now != nil {
		eng.Now = opts.Now
	}
	eng.Notifier = dispatcher
	eng.Commission = commission.Bootstrapper{Pools: r, Now: eng.Now, Logger: logger.With("component", "commission")}
	eng.Logger = logger.With("component", "engine")
	if opts.Registerer != nil {
		eng.Metrics = engine.NewMetrics(opts.Registerer)
	}
	return &App{
		DB:       conn,
		Repo:     r,
		Config:   cfg,
		Engine:   eng,
		Notifier: dispatcher,
		Logger:   logger,
	}
}

// Close drains pending webhook deliveries and closes the database.
func (a *App) Close() error {
	a.Notifier.Close()
	return a.DB.Close()
}
