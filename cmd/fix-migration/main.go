// Command fix-migration clears a dirty schema_migrations row left behind when a migration was
// interrupted, so the next server start can retry it. A clean database is left untouched.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/helpdesk-io/helpdesk/internal/config"
	"github.com/helpdesk-io/helpdesk/internal/db"
	"github.com/helpdesk-io/helpdesk/internal/telemetry"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	dbCfg := cfg.Database
	dbCfg.MaxConnections, dbCfg.MinIdleConnections = 1, 1
	database, err := db.Connect(context.Background(), dbCfg)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	before, err := db.Status(database)
	if err != nil {
		slog.Error("failed to check migration state", "error", err)
		os.Exit(1)
	}
	if !before.Dirty {
		slog.Info("migration state is clean", "version", before.Version)
		return
	}

	after, err := db.ClearDirty(database)
	if err != nil {
		slog.Error("failed to clear dirty migration", "version", before.Version, "error", err)
		os.Exit(1)
	}
	slog.Info("dirty migration cleared", "version", after.Version, "dirty", after.Dirty)
}
