package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"agencyline/internal/config"
	"agencyline/internal/db"
	"agencyline/internal/domain"
	"agencyline/internal/engine"
	"agencyline/internal/gsc"
	"agencyline/internal/metrics"
	"agencyline/internal/migrate"
	"agencyline/internal/scanner"
	"agencyline/internal/storage"
)

// AdminPasswordEnv seeds the first administrator on an empty database.
const AdminPasswordEnv = "AGENCYLINE_ADMIN_PASSWORD"

// App bundles the engine with the collaborators the HTTP server needs.
type App struct {
	Engine  engine.Engine
	Storage *storage.Disk
	Metrics *metrics.Collector
	conn    *sql.DB
}

func (a *App) Close() error {
	if a == nil || a.conn == nil {
		return nil
	}
	return a.conn.Close()
}

// ResolveConfig loads the config file. An explicit path must exist; the
// workspace default falls back to built-in defaults. The workspace flag wins
// over the file's database.workspace.
func ResolveConfig(workspace, path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadOptional(config.Path(workspace))
	}
	if err != nil {
		return nil, err
	}
	if workspace != "" {
		cfg.Database.Workspace = workspace
		if !filepath.IsAbs(cfg.Storage.UploadsDir) {
			cfg.Storage.UploadsDir = filepath.Join(workspace, cfg.Storage.UploadsDir)
		}
	}
	return cfg, nil
}

// OpenDB opens and migrates the configured database.
func OpenDB(ctx context.Context, cfg *config.Config) (*sql.DB, db.Dialect, error) {
	conn, dialect, err := db.Open(ctx, db.Config{
		Driver:         cfg.Database.Driver,
		DSN:            cfg.Database.DSN,
		Workspace:      cfg.Database.Workspace,
		MaxOpenConns:   cfg.Database.MaxOpenConns,
		MaxIdleConns:   cfg.Database.MaxIdleConns,
		ConnMaxLife:    cfg.Database.ConnMaxLife,
		ConnectTimeout: cfg.Database.ConnectTimeout,
	})
	if err != nil {
		return nil, "", err
	}
	if err := migrate.Migrate(conn, dialect); err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("migrate: %w", err)
	}
	return conn, dialect, nil
}

// Open wires the engine against a migrated database: attachment storage,
// the site scanner, Search Console stats and metrics. The bootstrap admin is
// created when none exists and the admin password is set in the environment.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	conn, dialect, err := OpenDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &App{conn: conn}
	fail := func(err error) (*App, error) {
		conn.Close()
		return nil, err
	}

	store, err := storage.NewDisk(cfg.Storage)
	if err != nil {
		return fail(fmt.Errorf("storage: %w", err))
	}
	collector, err := metrics.NewCollector()
	if err != nil {
		return fail(fmt.Errorf("metrics: %w", err))
	}
	stats, err := gsc.New(cfg.GSC)
	if err != nil {
		return fail(err)
	}

	e := engine.New(conn, dialect, cfg, logger)
	e.Files = store
	e.Scanner = scanner.New(cfg.Scanner, nil)
	e.Stats = stats
	e.Observer = collector
	a.Engine = e
	a.Storage = store
	a.Metrics = collector

	admin, created, err := e.EnsureAdmin(ctx, cfg.Auth.AdminName, cfg.Auth.AdminEmail, os.Getenv(AdminPasswordEnv))
	if err != nil {
		return fail(err)
	}
	if created {
		logger.InfoContext(ctx, "bootstrap admin created", "email", admin.Email)
	}
	return a, nil
}

// Admin returns the first administrator by name, used as the actor for CLI commands.
func (a *App) Admin(ctx context.Context) (domain.User, error) {
	admins, err := a.Engine.Repo.ListUsers(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.User{}, err
	}
	if len(admins) == 0 {
		return domain.User{}, fmt.Errorf("no admin account exists; set %s and retry", AdminPasswordEnv)
	}
	return admins[0], nil
}
