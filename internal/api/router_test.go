package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/helpdesk-io/helpdesk/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---------------------------------------------------------------------------
// healthCheckHandler
// ---------------------------------------------------------------------------

func newHealthDB(t *testing.T, pingOK bool) *sql.DB {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if pingOK {
		mock.ExpectPing()
	} else {
		mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	}
	return db
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return body
}

// get serves a GET for path through a one-route engine.
func get(path string, h gin.HandlerFunc) *httptest.ResponseRecorder {
	r := gin.New()
	r.GET(path, h)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealthCheckHandler(t *testing.T) {
	for _, tc := range []struct {
		pingOK bool
		code   int
		status string
	}{
		{true, http.StatusOK, "healthy"},
		{false, http.StatusServiceUnavailable, "unhealthy"},
	} {
		w := get("/health", healthCheckHandler(newHealthDB(t, tc.pingOK)))
		if w.Code != tc.code {
			t.Errorf("ping ok=%v: code = %d, want %d", tc.pingOK, w.Code, tc.code)
		}
		if got := decode(t, w)["status"]; got != tc.status {
			t.Errorf("ping ok=%v: status = %v, want %s", tc.pingOK, got, tc.status)
		}
	}
}

// ---------------------------------------------------------------------------
// readinessHandler
// ---------------------------------------------------------------------------

func TestReadinessHandler(t *testing.T) {
	unreachable := func(t *testing.T) *redis.Client {
		rdb := redis.NewClient(&redis.Options{
			Addr:        "127.0.0.1:1",
			DialTimeout: 100 * time.Millisecond,
			MaxRetries:  -1,
		})
		t.Cleanup(func() { rdb.Close() })
		return rdb
	}

	tests := []struct {
		name      string
		dbUp      bool
		redis     func(*testing.T) *redis.Client
		wantCode  int
		wantRedis interface{}
	}{
		{name: "database only", dbUp: true, wantCode: http.StatusOK},
		{name: "database down", dbUp: false, wantCode: http.StatusServiceUnavailable},
		{name: "redis unreachable", dbUp: true, redis: unreachable, wantCode: http.StatusServiceUnavailable, wantRedis: "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rdb redis.UniversalClient
			if tt.redis != nil {
				rdb = tt.redis(t)
			}
			w := get("/ready", readinessHandler(newHealthDB(t, tt.dbUp), rdb))
			if w.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", w.Code, tt.wantCode)
			}
			checks, _ := decode(t, w)["checks"].(map[string]interface{})
			if checks["redis"] != tt.wantRedis {
				t.Errorf("checks[redis] = %v, want %v", checks["redis"], tt.wantRedis)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// versionHandler
// ---------------------------------------------------------------------------

func TestVersionHandler(t *testing.T) {
	body := decode(t, get("/version", versionHandler()))
	if body["version"] != Version {
		t.Errorf("version = %v, want %s", body["version"], Version)
	}
	apis, _ := body["apis"].(map[string]interface{})
	if apis["external"] != "v1" || apis["admin"] != "v1" {
		t.Errorf("apis = %v, want admin and external at v1", apis)
	}
}

// ---------------------------------------------------------------------------
// NewRouter
// ---------------------------------------------------------------------------

func newTestRouter(t *testing.T, mutate func(*config.Config)) *gin.Engine {
	t.Helper()
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{}
	cfg.Auth.AppKeys.Header = "X-API-Key"
	if mutate != nil {
		mutate(cfg)
	}

	r, bg, err := NewRouter(cfg, db, nil)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	t.Cleanup(bg.Shutdown)
	return r
}

func TestNewRouter_InvalidTrustedProxy(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	cfg := &config.Config{}
	cfg.Server.TrustedProxies = []string{"not-a-network"}

	if _, _, err := NewRouter(cfg, db, nil); err == nil {
		t.Error("NewRouter accepted an invalid trusted proxy")
	}
}

func TestNewRouter_RoutesRequireCredentials(t *testing.T) {
	r := newTestRouter(t, nil)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/apps"},
		{http.MethodPost, "/api/v1/apps/app-1/keys"},
		{http.MethodGet, "/api/v1/audit-logs"},
		{http.MethodGet, "/api/external/v1/me"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
		})
	}
}

func TestNewRouter_CommonResponseHeaders(t *testing.T) {
	r := newTestRouter(t, nil)

	for _, path := range []string{"/version", "/api/external/v1/me", "/no/such/route"} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

			if w.Header().Get("X-Request-ID") == "" {
				t.Error("X-Request-ID header missing")
			}
			if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
				t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
			}
			if got := w.Header().Get("Cache-Control"); got != "no-store" {
				t.Errorf("Cache-Control = %q, want no-store", got)
			}
		})
	}
}

func TestNewRouter_LoginRateLimited(t *testing.T) {
	r := newTestRouter(t, func(cfg *config.Config) {
		cfg.Security.RateLimiting.Enabled = true
	})

	// The login limiter allows a burst of 5; malformed bodies never reach the database.
	var last int
	for i := 0; i < 10; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
		req.RemoteAddr = "198.51.100.9:5000"
		r.ServeHTTP(w, req)
		last = w.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("status after 10 attempts = %d, want 429", last)
	}
}
