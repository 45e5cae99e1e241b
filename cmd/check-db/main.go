// Package main is a diagnostic tool for database connectivity. It connects with the
// server's configuration, reports the migration state, prints a per-organization summary of
// apps, usable keys and whitelist entries, and exits non-zero on any failure so it can gate
// deployments.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/helpdesk-io/helpdesk/internal/config"
	"github.com/helpdesk-io/helpdesk/internal/db"
	"github.com/helpdesk-io/helpdesk/internal/db/repositories"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	dbCfg := cfg.Database
	dbCfg.MaxConnections, dbCfg.MinIdleConnections = 1, 1
	pool, err := db.Connect(ctx, dbCfg)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer pool.Close()

	state, err := db.Status(pool)
	if err != nil {
		log.Fatalf("Failed to read migration state: %v", err)
	}
	fmt.Printf("schema version %d (dirty=%t)\n", state.Version, state.Dirty)

	summaries, err := repositories.NewOrganizationRepository(sqlx.NewDb(pool, "postgres")).Summaries(ctx)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	fmt.Println("=== ORGANIZATIONS ===")
	for _, s := range summaries {
		fmt.Printf("%s: apps=%d (active %d) usable_keys=%d whitelist_entries=%d\n",
			s.Name, s.Apps, s.ActiveApps, s.UsableKeys, s.WhitelistEntries)
	}
	if len(summaries) == 0 {
		fmt.Println("No organizations found!")
	}
	if state.Dirty {
		os.Exit(1)
	}
}
