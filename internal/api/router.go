// Package api wires together all HTTP routes for the helpdesk backend.
//
// Route groups:
//   - /api/v1/auth/login is public and guarded only by the auth rate limiter.
//   - /api/v1/* requires an operator session (JWT) and the appropriate RBAC scope. Per-app
//     routes additionally check that the app belongs to the operator's organization.
//   - /api/external/v1/* is called by integrated apps and authenticates with app API keys.
//     Rate limiting runs before key verification so brute-force attempts are dropped before
//     any bcrypt work, and audit wraps authentication so denials are recorded.
package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/helpdesk-io/helpdesk/internal/api/admin"
	"github.com/helpdesk-io/helpdesk/internal/api/external"
	"github.com/helpdesk-io/helpdesk/internal/audit"
	"github.com/helpdesk-io/helpdesk/internal/auth"
	"github.com/helpdesk-io/helpdesk/internal/config"
	"github.com/helpdesk-io/helpdesk/internal/db/repositories"
	"github.com/helpdesk-io/helpdesk/internal/jobs"
	"github.com/helpdesk-io/helpdesk/internal/middleware"
	"github.com/helpdesk-io/helpdesk/internal/safego"
	"github.com/helpdesk-io/helpdesk/internal/services"
)

// Version is reported by GET /version. cmd/server overrides it at startup.
var Version = "0.1.0"

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	expiryNotifier *jobs.APIKeyExpiryNotifier
	auditRetention *jobs.AuditRetention
	rateLimiters   []*middleware.MemoryRateLimiter
	auditShipper   *audit.Fanout
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.expiryNotifier != nil {
		bg.expiryNotifier.Stop()
	}
	if bg.auditRetention != nil {
		bg.auditRetention.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.auditShipper != nil {
		if err := bg.auditShipper.Close(); err != nil {
			slog.Error("failed to close audit shippers", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router. rdb may be nil, in which case rate
// limits are kept in process memory.
func NewRouter(cfg *config.Config, db *sql.DB, rdb redis.UniversalClient) (*gin.Engine, *BackgroundServices, error) {
	router := gin.New()
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, nil, err
	}

	bg := &BackgroundServices{}

	// Repositories
	sqlxDB := sqlx.NewDb(db, "postgres")
	userRepo := repositories.NewUserRepository(db)
	appKeyRepo := repositories.NewAppAPIKeyRepository(db)
	auditRepo := repositories.NewAuditRepository(db)
	appRepo := repositories.NewAppRepository(sqlxDB)

	// Expiry notifier
	bg.expiryNotifier = jobs.NewAPIKeyExpiryNotifier(appKeyRepo, userRepo, &cfg.Notifications)
	safego.Go("key-expiry-notifier", func() { bg.expiryNotifier.Start(context.Background()) })

	// Audit retention runs whenever entries are stored, even if new writes are switched off.
	bg.auditRetention = jobs.NewAuditRetention(auditRepo, cfg.Audit.RetentionDays)
	safego.Go("audit-retention", func() { bg.auditRetention.Start(context.Background()) })

	// Audit shipping
	var shipper audit.Shipper
	if cfg.Audit.Enabled {
		ms, err := audit.NewFanout(&cfg.Audit)
		if err != nil {
			return nil, nil, err
		}
		if ms.Len() > 0 {
			bg.auditShipper = ms
			shipper = ms
		}
	}
	var auditMiddleware gin.HandlerFunc = passThrough
	if cfg.Audit.Enabled {
		auditMiddleware = middleware.AuditMiddlewareWithShipper(auditRepo, shipper, &cfg.Audit)
	}

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLoggerMiddleware())
	router.Use(CORSMiddleware(cfg.Security.CORS.AllowedOrigins))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.SecurityHeadersOptions{
		HSTS:    cfg.Security.TLS.Enabled,
		NoStore: true,
	}))

	router.GET("/health", healthCheckHandler(db))
	router.GET("/ready", readinessHandler(db, rdb))
	router.GET("/version", versionHandler())

	// Rate limiters
	newLimiter := func(rlc middleware.RateLimitConfig) middleware.Limiter {
		if rdb != nil {
			return middleware.NewRedisRateLimiter(rdb, rlc)
		}
		rl := middleware.NewMemoryRateLimiter(rlc)
		bg.rateLimiters = append(bg.rateLimiters, rl)
		return rl
	}
	rateLimit := func(rlc middleware.RateLimitConfig) gin.HandlerFunc {
		if !cfg.Security.RateLimiting.Enabled {
			return passThrough
		}
		return middleware.RateLimitMiddleware(newLimiter(rlc))
	}
	authRateLimit := rateLimit(middleware.LoginRateLimitConfig())
	generalRateLimit := rateLimit(middleware.APIRateLimitConfig(cfg.Security.RateLimiting))

	// Handlers
	authHandlers := admin.NewAuthHandlers(cfg, db)
	appHandlers := admin.NewAppHandlers(cfg, db)
	keyHandlers := admin.NewAppKeyHandlers(cfg, db)
	whitelistHandlers := admin.NewWhitelistHandlers(db)
	orgHandlers := admin.NewOrganizationHandlers(db)
	auditLogHandlers := admin.NewAuditLogHandlers(db)
	statsHandler := admin.NewStatsHandler(sqlxDB)

	apiV1 := router.Group("/api/v1")
	{
		authGroup := apiV1.Group("/auth")
		authGroup.Use(authRateLimit)
		{
			authGroup.POST("/login", authHandlers.LoginHandler())
		}

		authenticated := apiV1.Group("")
		authenticated.Use(middleware.AuthMiddleware(userRepo))
		authenticated.Use(generalRateLimit)
		authenticated.Use(auditMiddleware)
		{
			authenticated.POST("/auth/refresh", authHandlers.RefreshHandler())
			authenticated.GET("/auth/me", authHandlers.MeHandler())

			authenticated.GET("/admin/stats/dashboard",
				middleware.RequireScope(auth.ScopeAppsRead), statsHandler.GetDashboardStats)

			orgs := authenticated.Group("/organizations")
			{
				orgs.GET("", middleware.RequireScope(auth.ScopeAdmin), orgHandlers.ListOrganizationsHandler())
				orgs.GET("/:id", orgHandlers.GetOrganizationHandler())
				orgs.POST("", middleware.RequireScope(auth.ScopeOrganizationsWrite), orgHandlers.CreateOrganizationHandler())
				orgs.PATCH("/:id", middleware.RequireScope(auth.ScopeOrganizationsWrite), orgHandlers.UpdateOrganizationHandler())
			}

			auditLogs := authenticated.Group("/audit-logs", middleware.RequireScope(auth.ScopeAuditRead))
			{
				auditLogs.GET("", auditLogHandlers.ListAuditLogsHandler())
				auditLogs.GET("/:id", auditLogHandlers.GetAuditLogHandler())
			}

			apps := authenticated.Group("/apps")
			{
				apps.GET("", middleware.RequireScope(auth.ScopeAppsRead), appHandlers.ListAppsHandler())
				apps.POST("", middleware.RequireScope(auth.ScopeAppsWrite), appHandlers.CreateAppHandler())
			}

			app := authenticated.Group("/apps/:id", middleware.RequireAppInOrganization(appRepo))
			{
				read := middleware.RequireScope(auth.ScopeAppsRead)
				write := middleware.RequireScope(auth.ScopeAppsWrite)
				manageKeys := middleware.RequireScope(auth.ScopeAPIKeysManage)

				app.GET("", read, appHandlers.GetAppHandler())
				app.PUT("", write, appHandlers.UpdateAppHandler())
				app.POST("/activate", write, appHandlers.ActivateAppHandler())
				app.POST("/deactivate", write, appHandlers.DeactivateAppHandler())

				app.GET("/keys", read, keyHandlers.ListAppKeysHandler())
				app.POST("/keys", manageKeys, keyHandlers.CreateAppKeyHandler())
				app.DELETE("/keys/:key_id", manageKeys, keyHandlers.RevokeAppKeyHandler())

				app.GET("/whitelist", read, whitelistHandlers.ListWhitelistHandler())
				app.POST("/whitelist", write, whitelistHandlers.CreateWhitelistEntryHandler())
				app.PUT("/whitelist/:entry_id", write, whitelistHandlers.UpdateWhitelistEntryHandler())
				app.DELETE("/whitelist/:entry_id", write, whitelistHandlers.DeleteWhitelistEntryHandler())
			}
		}
	}

	authorizer := services.NewAppAuthorizer(appKeyRepo, services.AppAuthorizerOptions{
		PrefixLookup:     cfg.Auth.AppKeys.PrefixLookup,
		ClassifyFailures: cfg.Auth.AppKeys.ClassifyFailures,
		LastUsedTimeout:  cfg.Auth.AppKeys.LastUsedTimeout,
	})

	externalV1 := router.Group("/api/external/v1")
	externalV1.Use(generalRateLimit)
	externalV1.Use(auditMiddleware)
	externalV1.Use(middleware.AppAuthMiddleware(authorizer, cfg.Auth.AppKeys.Header))
	external.RegisterRoutes(externalV1)

	return router, bg, nil
}

func passThrough(c *gin.Context) { c.Next() }

// healthCheckHandler returns the liveness status of the service
// GET /health
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler returns whether the service can take traffic. Unlike /health it also
// pings Redis when a shared rate-limit store is configured.
// GET /ready
func readinessHandler(db *sql.DB, rdb redis.UniversalClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if rdb != nil {
			if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
				checks["redis"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "redis not ready",
				})
				return
			}
			checks["redis"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the service and API versions
// GET /version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
			"apis": gin.H{
				"admin":    "v1",
				"external": "v1",
			},
		})
	}
}
