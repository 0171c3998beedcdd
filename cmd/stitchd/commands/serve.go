package commands

import (
	"context"
	"database/sql"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/veyra/stitchd/auth"
	"github.com/veyra/stitchd/config"
	"github.com/veyra/stitchd/db"
	"github.com/veyra/stitchd/entity"
	"github.com/veyra/stitchd/errors"
	"github.com/veyra/stitchd/extension"
	"github.com/veyra/stitchd/gateway"
	"github.com/veyra/stitchd/logger"
	"github.com/veyra/stitchd/provider"
	"github.com/veyra/stitchd/providers/randomwalk"
	"github.com/veyra/stitchd/stitch"
)

// ServeCmd starts both stitchd listeners.
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the streaming and admin listeners",
	Long: `Start stitchd: the line-oriented streaming transport, the HTTP admin
transport with its WebSocket endpoint, the entity store, the provider
registry, and the foreign-runtime extension host.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.Logger

	database, err := db.OpenWithMigrations(cfg.Database.Path, cfg.Database.MaxConns, log)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := provider.NewRegistry()
	walk := randomwalk.New()
	registry.Register(walk.Name(), walk)

	host := extension.NewHost()
	host.AddSearchPaths(cfg.Extensions.BaseDirs...)
	defer host.Close(context.Background())

	var watcher *extension.ReloadWatcher
	if cfg.Extensions.Watch {
		watcher, err = extension.NewReloadWatcher(host, registry)
		if err != nil {
			return errors.Wrap(err, "failed to start extension watcher")
		}
		defer watcher.Close()
		watcher.Start(ctx)
	}

	engine := stitch.NewEngine(entity.NewStore(database), registry, log)
	authsvc := auth.NewService(auth.NewStore(database), cfg.Auth.Enabled)

	dispatcher := gateway.NewDispatcher(engine, registry, host, authsvc, watcher, log)
	stream := gateway.NewStreamServer(dispatcher)
	admin := gateway.NewAdminServer(dispatcher, authsvc)

	log.Infow("stitchd starting",
		"stream_addr", cfg.Server.StreamAddr,
		"admin_addr", cfg.Server.AdminAddr,
		"auth_enabled", cfg.Auth.Enabled,
		"providers", registry.List(),
	)

	err = gateway.Run(ctx, cfg.Server.StreamAddr, cfg.Server.AdminAddr, stream, admin)
	if err != nil && ctx.Err() == nil {
		return err
	}
	log.Infow("stitchd stopped")
	return nil
}

// loadConfig honors --config, falling back to the default search path.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// openDatabase opens the configured store without running migrations.
func openDatabase(cmd *cobra.Command) (*sql.DB, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	database, err := db.Open(cfg.Database.Path, cfg.Database.MaxConns, logger.Logger)
	if err != nil {
		return nil, nil, err
	}
	return database, cfg, nil
}
