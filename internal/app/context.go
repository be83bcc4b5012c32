package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"buildline/internal/config"
	"buildline/internal/coord"
	"buildline/internal/db"
	"buildline/internal/engine"
	"buildline/internal/logging"
	"buildline/internal/migrate"
)

// Runtime is everything a command needs for one workspace.
type Runtime struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
	Logger    *slog.Logger

	closers []func() error
}

// Open loads buildline.yml, opens and migrates the workspace database, and
// wires the engine with the configured hold backend. Logs go to logOut.
func Open(ctx context.Context, workspace string, logOut io.Writer) (*Runtime, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	if logOut == nil {
		logOut = io.Discard
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, logOut)

	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	rt := &Runtime{Workspace: workspace, Config: cfg, DB: conn, Logger: logger}
	rt.closers = append(rt.closers, conn.Close)
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		rt.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	locker, err := rt.locker(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}
	e := engine.New(conn, cfg)
	e.Coord = coord.New(conn, locker, cfg.LockWaitDuration())
	e.Logger = logger
	rt.Engine = e
	return rt, nil
}

func (rt *Runtime) locker(ctx context.Context) (coord.Locker, error) {
	switch rt.Config.Inventory.LockBackend {
	case config.LockBackendRedis:
		client, err := coord.NewRedisClient(ctx, rt.Config.Redis)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, client.Close)
		rt.Logger.Info("resource holds use redis", "addr", rt.Config.Redis.Addr)
		locker := coord.NewRedisLocker(client, rt.Config.Redis.KeyPrefix)
		locker.Logger = rt.Logger
		return locker, nil
	default:
		return coord.NewKeyedMutex(), nil
	}
}

// Close releases connections in reverse order of opening.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
