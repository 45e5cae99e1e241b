package admin

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"github.com/helpdesk-io/helpdesk/internal/config"
	"github.com/helpdesk-io/helpdesk/internal/db/repositories"
	"github.com/helpdesk-io/helpdesk/internal/middleware"
)

// ---------------------------------------------------------------------------
// Column definitions and row builders
// ---------------------------------------------------------------------------

var appKeyCols = []string{
	"id", "app_id", "name", "key_hash", "key_prefix", "is_active", "expires_at",
	"last_used_at", "last_used_ip", "expiry_notification_sent_at", "created_by", "created_at",
}

func appKeyRow(rows *sqlmock.Rows, id, appID string, active bool, expiresAt, lastUsed interface{}) *sqlmock.Rows {
	return rows.AddRow(id, appID, "sync", "$2a$04$digest", "hdk_abcdef", active, expiresAt,
		lastUsed, nil, nil, nil, time.Now())
}

// ---------------------------------------------------------------------------
// Router helper
// ---------------------------------------------------------------------------

func newAppKeyRouter(t *testing.T) (sqlmock.Sqlmock, *gin.Engine) {
	t.Helper()
	db, mock := newMockDB(t)

	cfg := &config.Config{}
	cfg.Auth.AppKeys.Tag = "hdk"
	cfg.Auth.AppKeys.BcryptCost = bcrypt.MinCost

	h := NewAppKeyHandlers(cfg, db)
	apps := repositories.NewAppRepository(sqlx.NewDb(db, "postgres"))

	r := gin.New()
	r.Use(withCaller("user-1", "org-1", "apps:write"))
	g := r.Group("/apps/:id", middleware.RequireAppInOrganization(apps))
	g.GET("/keys", h.ListAppKeysHandler())
	g.POST("/keys", h.CreateAppKeyHandler())
	g.DELETE("/keys/:key_id", h.RevokeAppKeyHandler())
	return mock, r
}

// ---------------------------------------------------------------------------
// ListAppKeysHandler
// ---------------------------------------------------------------------------

func TestListAppKeys_Statuses(t *testing.T) {
	mock, r := newAppKeyRouter(t)
	expectAppLookup(mock, "app-1", "org-1")

	past := time.Now().Add(-time.Hour)
	rows := sqlmock.NewRows(appKeyCols)
	appKeyRow(rows, "k-active", "app-1", true, nil, time.Now())
	appKeyRow(rows, "k-revoked", "app-1", false, nil, nil)
	appKeyRow(rows, "k-expired", "app-1", true, past, nil)
	mock.ExpectQuery("SELECT .+ FROM app_api_keys WHERE app_id").
		WithArgs("app-1").
		WillReturnRows(rows)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/apps/app-1/keys", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: body=%s", w.Code, w.Body.String())
	}
	keys, _ := getJSON(w)["keys"].([]interface{})
	if len(keys) != 3 {
		t.Fatalf("keys = %d, want 3", len(keys))
	}
	want := map[string]string{"k-active": "active", "k-revoked": "revoked", "k-expired": "expired"}
	for _, k := range keys {
		m := k.(map[string]interface{})
		id := m["id"].(string)
		if m["status"] != want[id] {
			t.Errorf("%s status = %v, want %s", id, m["status"], want[id])
		}
		if _, leaked := m["key_hash"]; leaked {
			t.Errorf("%s response contains key_hash", id)
		}
	}
	if strings.Contains(w.Body.String(), "$2a$") {
		t.Error("response leaks a bcrypt digest")
	}
}

func TestListAppKeys_DBError(t *testing.T) {
	mock, r := newAppKeyRouter(t)
	expectAppLookup(mock, "app-1", "org-1")
	mock.ExpectQuery("SELECT .+ FROM app_api_keys WHERE app_id").WillReturnError(errDB)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/apps/app-1/keys", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

// ---------------------------------------------------------------------------
// CreateAppKeyHandler
// ---------------------------------------------------------------------------

func TestCreateAppKey_Success(t *testing.T) {
	mock, r := newAppKeyRouter(t)
	expectAppLookup(mock, "app-1", "org-1")
	mock.ExpectExec("INSERT INTO app_api_keys").WillReturnResult(sqlmock.NewResult(1, 1))

	expires := time.Now().Add(30 * 24 * time.Hour).UTC().Format(time.RFC3339)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/apps/app-1/keys",
		jsonBody(map[string]string{"name": "Production sync", "expires_at": expires}))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: body=%s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}

	resp := getJSON(w)
	key, _ := resp["key"].(string)
	if !strings.HasPrefix(key, "hdk_") {
		t.Errorf("key = %q, want hdk_ prefix", key)
	}
	prefix, _ := resp["key_prefix"].(string)
	if !strings.HasPrefix(key, prefix) || len(prefix) != 10 {
		t.Errorf("key_prefix = %q, want the first 10 chars of the key", prefix)
	}
	if resp["app_id"] != "app-1" {
		t.Errorf("app_id = %v, want app-1", resp["app_id"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreateAppKey_PastExpiry(t *testing.T) {
	mock, r := newAppKeyRouter(t)
	expectAppLookup(mock, "app-1", "org-1")

	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/apps/app-1/keys",
		jsonBody(map[string]string{"name": "old", "expires_at": past}))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreateAppKey_InvalidExpiryFormat(t *testing.T) {
	mock, r := newAppKeyRouter(t)
	expectAppLookup(mock, "app-1", "org-1")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/apps/app-1/keys",
		jsonBody(map[string]string{"name": "k", "expires_at": "next tuesday"}))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreateAppKey_MissingName(t *testing.T) {
	mock, r := newAppKeyRouter(t)
	expectAppLookup(mock, "app-1", "org-1")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/apps/app-1/keys", jsonBody(map[string]string{}))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

// ---------------------------------------------------------------------------
// RevokeAppKeyHandler
// ---------------------------------------------------------------------------

func TestRevokeAppKey_Success(t *testing.T) {
	mock, r := newAppKeyRouter(t)
	expectAppLookup(mock, "app-1", "org-1")
	mock.ExpectQuery("SELECT .+ FROM app_api_keys WHERE id").
		WithArgs("k-1").
		WillReturnRows(appKeyRow(sqlmock.NewRows(appKeyCols), "k-1", "app-1", true, nil, nil))
	mock.ExpectExec("UPDATE app_api_keys SET is_active = false").
		WithArgs("k-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/apps/app-1/keys/k-1", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: body=%s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRevokeAppKey_KeyOfAnotherApp(t *testing.T) {
	mock, r := newAppKeyRouter(t)
	expectAppLookup(mock, "app-1", "org-1")
	mock.ExpectQuery("SELECT .+ FROM app_api_keys WHERE id").
		WithArgs("k-9").
		WillReturnRows(appKeyRow(sqlmock.NewRows(appKeyCols), "k-9", "app-2", true, nil, nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/apps/app-1/keys/k-9", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestRevokeAppKey_NotFound(t *testing.T) {
	mock, r := newAppKeyRouter(t)
	expectAppLookup(mock, "app-1", "org-1")
	mock.ExpectQuery("SELECT .+ FROM app_api_keys WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(appKeyCols))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/apps/app-1/keys/missing", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
