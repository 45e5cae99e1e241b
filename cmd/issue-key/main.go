// Package main issues an app API key directly against the database, for bootstrapping an
// integration before any operator account exists. The plaintext key is printed once to
// stdout and cannot be recovered afterwards; only its bcrypt digest is stored.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/helpdesk-io/helpdesk/internal/auth"
	"github.com/helpdesk-io/helpdesk/internal/config"
	"github.com/helpdesk-io/helpdesk/internal/db"
	"github.com/helpdesk-io/helpdesk/internal/db/models"
	"github.com/helpdesk-io/helpdesk/internal/db/repositories"
	"github.com/helpdesk-io/helpdesk/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		slog.Error("failed to issue key", "error", err)
		os.Exit(1)
	}
}

func run() error {
	appID := flag.String("app", "", "ID of the app the key authenticates as")
	name := flag.String("name", "bootstrap", "operator label for the key")
	ttl := flag.Duration("ttl", 0, "key lifetime, e.g. 720h; zero means no expiry")
	flag.Parse()

	if *appID == "" {
		return fmt.Errorf("-app is required")
	}
	if *ttl < 0 {
		return fmt.Errorf("-ttl must not be negative")
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	ctx := context.Background()
	dbCfg := cfg.Database
	dbCfg.MaxConnections, dbCfg.MinIdleConnections, dbCfg.ConnectRetryFor = 1, 1, 0
	database, err := db.Connect(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	app, err := repositories.NewAppRepository(sqlx.NewDb(database, "postgres")).GetByID(ctx, *appID)
	if err != nil {
		return err
	}
	if app == nil {
		return fmt.Errorf("app %s not found", *appID)
	}
	if !app.Active {
		slog.Warn("app is disabled; the key will be rejected until it is re-enabled", "app_id", app.ID)
	}

	issued, err := auth.GenerateAPIKey(cfg.Auth.AppKeys.Tag, cfg.Auth.AppKeys.BcryptCost)
	if err != nil {
		return err
	}

	key := &models.AppAPIKey{
		AppID:     app.ID,
		Name:      *name,
		KeyHash:   issued.Hash,
		KeyPrefix: issued.DisplayPrefix,
	}
	if *ttl > 0 {
		expiresAt := time.Now().Add(*ttl)
		key.ExpiresAt = &expiresAt
	}

	if err := repositories.NewAppAPIKeyRepository(database).Create(ctx, key); err != nil {
		return err
	}

	slog.Info("key issued", "app_id", app.ID, "key_id", key.ID, "prefix", issued.DisplayPrefix)
	fmt.Println(issued.Plaintext)
	return nil
}
