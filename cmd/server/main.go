// Package main is the entry point for the helpdesk server binary.
// It dispatches four subcommands (serve, migrate, create-operator and version) via a
// simple switch on os.Args so the binary's full CLI surface is readable in one place.
// The serve command runs auto-migration on startup so freshly deployed containers
// never need a separate migration step.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108 -- pprof is only served on the internal profiling port, never on the Gin listener.
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/helpdesk-io/helpdesk/internal/api"
	"github.com/helpdesk-io/helpdesk/internal/auth"
	"github.com/helpdesk-io/helpdesk/internal/config"
	"github.com/helpdesk-io/helpdesk/internal/db"
	"github.com/helpdesk-io/helpdesk/internal/db/models"
	"github.com/helpdesk-io/helpdesk/internal/db/repositories"
	"github.com/helpdesk-io/helpdesk/internal/telemetry"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	switch command {
	case "serve":
		return serve(cfg, configPath)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	case "create-operator":
		if len(os.Args) < 5 {
			return fmt.Errorf("usage: %s create-operator <organization> <email> <admin|agent|viewer>", os.Args[0])
		}
		return createOperator(cfg, os.Args[2], os.Args[3], os.Args[4])
	case "version":
		fmt.Printf("Helpdesk v%s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, create-operator, version", command)
	}
}

func serve(cfg *config.Config, configPath string) error {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := auth.InitSessionSecret(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	slog.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"user", cfg.Database.User,
		"dbname", cfg.Database.Name,
		"sslmode", cfg.Database.SSLMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	telemetry.StartDBStatsCollector(ctx, database)

	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if state, err := db.Status(database); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", state.Version, "dirty", state.Dirty)
	}

	var rdb redis.UniversalClient
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unreachable at startup, rate limiting will fail open until it recovers",
				"addr", cfg.Redis.Address, "error", err)
		}
		rdb = client
	}

	if configPath != "" {
		err := config.Watch(ctx, configPath, func(next *config.Config) {
			level := telemetry.SetLogLevel(next.Logging.Level)
			slog.Info("configuration reloaded", "log_level", level.String())
		})
		if err != nil {
			slog.Warn("config hot reload disabled", "error", err)
		}
	}

	if cfg.Telemetry.Metrics.Enabled {
		startSideServer("metrics", fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort), metricsMux(), 10*time.Second)
	}
	if cfg.Telemetry.Profiling.Enabled {
		// net/http/pprof registers its handlers on http.DefaultServeMux at init time.
		startSideServer("pprof", fmt.Sprintf(":%d", cfg.Telemetry.Profiling.Port), http.DefaultServeMux, 30*time.Second)
	}

	api.Version = version
	router, bgServices, err := api.NewRouter(cfg, database, rdb)
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", server.Addr, "base_url", cfg.Server.BaseURL, "tls", cfg.Security.TLS.Enabled)
		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		bgServices.Shutdown()
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	bgServices.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// startSideServer runs an internal listener that is never exposed through the API router.
func startSideServer(name, addr string, handler http.Handler, timeout time.Duration) {
	go func() {
		slog.Info("starting "+name+" server", "addr", addr)
		srv := &http.Server{ //nolint:gosec // internal-only port
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error(name+" server error", "error", err)
		}
	}()
}

func runMigrations(cfg *config.Config, direction string) error {
	database, err := db.Connect(context.Background(), cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	slog.Info("running migrations", "direction", direction)
	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	state, err := db.Status(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	slog.Info("migration completed", "version", state.Version, "dirty", state.Dirty)
	return nil
}

// createOperator bootstraps an operator account, creating its organization if needed.
// The password is read from HDK_OPERATOR_PASSWORD so it never appears in shell history.
func createOperator(cfg *config.Config, orgName, email, role string) error {
	switch role {
	case models.RoleAdmin, models.RoleAgent, models.RoleViewer:
	default:
		return fmt.Errorf("invalid role %q: must be admin, agent or viewer", role)
	}
	password := os.Getenv("HDK_OPERATOR_PASSWORD")
	if len(password) < 12 {
		return fmt.Errorf("HDK_OPERATOR_PASSWORD must be set to at least 12 characters")
	}

	ctx := context.Background()
	database, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	orgRepo := repositories.NewOrganizationRepository(sqlx.NewDb(database, "postgres"))
	userRepo := repositories.NewUserRepository(database)

	org, err := orgRepo.GetByName(ctx, orgName)
	if err != nil {
		return err
	}
	if org == nil {
		org = &models.Organization{Name: orgName, DisplayName: orgName}
		if err := orgRepo.Create(ctx, org); err != nil {
			return err
		}
		slog.Info("organization created", "organization_id", org.ID, "name", orgName)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		OrganizationID: org.ID,
		Email:          strings.ToLower(strings.TrimSpace(email)),
		Name:           email,
		Role:           role,
		PasswordHash:   string(hash),
		Active:         true,
	}
	if err := userRepo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return fmt.Errorf("an operator with email %s already exists", user.Email)
		}
		return err
	}
	slog.Info("operator created", "user_id", user.ID, "organization_id", org.ID, "role", role)
	return nil
}
