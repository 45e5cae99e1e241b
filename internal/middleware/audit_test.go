package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/helpdesk-io/helpdesk/internal/audit"
	"github.com/helpdesk-io/helpdesk/internal/config"
	"github.com/helpdesk-io/helpdesk/internal/db/models"
)

// captureShipper collects audit log entries via a buffered channel.
type captureShipper struct {
	ch chan *audit.Event
}

func newCaptureShipper(buf int) *captureShipper {
	return &captureShipper{ch: make(chan *audit.Event, buf)}
}

func (s *captureShipper) Ship(_ context.Context, e *audit.Event) error {
	s.ch <- e
	return nil
}

func (s *captureShipper) Close() error { return nil }

// waitForEntry blocks until an entry arrives or the timeout fires.
func (s *captureShipper) waitForEntry(t *testing.T, timeout time.Duration) *audit.Event {
	t.Helper()
	select {
	case e := <-s.ch:
		return e
	case <-time.After(timeout):
		t.Fatal("timed out waiting for audit log entry")
		return nil
	}
}

// expectNothing fails if an entry is shipped within a short grace period.
func (s *captureShipper) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case e := <-s.ch:
		t.Errorf("unexpected audit entry %q", e.Action)
	case <-time.After(100 * time.Millisecond):
	}
}

// recordingWriter captures the rows the middleware persists.
type recordingWriter struct {
	ch chan *models.AuditLog
}

func (w *recordingWriter) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	w.ch <- log
	return nil
}

// ---------------------------------------------------------------------------
// Skipped requests
// ---------------------------------------------------------------------------

func TestAuditMiddleware_Skipped(t *testing.T) {
	tests := []struct {
		name   string
		method string
		status int
		cfg    *config.AuditConfig
	}{
		{"preflight", http.MethodOptions, http.StatusOK, nil},
		{"read with default config", http.MethodGet, http.StatusOK, nil},
		{"failed write with default config", http.MethodPost, http.StatusBadRequest, nil},
		{"read with read logging off", http.MethodGet, http.StatusOK, &config.AuditConfig{Enabled: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := newCaptureShipper(1)
			r := gin.New()
			r.Use(AuditMiddlewareWithShipper(nil, cs, tt.cfg))
			r.Handle(tt.method, "/api/v1/apps", func(c *gin.Context) { c.Status(tt.status) })

			r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, "/api/v1/apps", nil))
			cs.expectNothing(t)
		})
	}
}

// ---------------------------------------------------------------------------
// AuditMiddlewareWithShipper: shipping path
// ---------------------------------------------------------------------------

func TestAuditMiddleware_SuccessfulWriteShipped(t *testing.T) {
	cs := newCaptureShipper(1)
	r := gin.New()
	r.Use(AuditMiddlewareWithShipper(nil, cs, nil))
	r.POST("/api/v1/apps", func(c *gin.Context) { c.Status(http.StatusCreated) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/apps", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	r.ServeHTTP(w, req)

	entry := cs.waitForEntry(t, 500*time.Millisecond)
	if entry.ResourceType != "app" {
		t.Errorf("ResourceType = %q, want app", entry.ResourceType)
	}
	if entry.Action != "app.created" {
		t.Errorf("Action = %q, want app.created", entry.Action)
	}
	if entry.ClientIP != "10.0.0.1" {
		t.Errorf("ClientIP = %q, want 10.0.0.1", entry.ClientIP)
	}
}

func TestAuditMiddleware_PersistsRowWithoutShipper(t *testing.T) {
	rw := &recordingWriter{ch: make(chan *models.AuditLog, 1)}
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user_id", "user-1")
		c.Set(RequestIDKey, "req-abc")
		c.Next()
	})
	r.Use(AuditMiddleware(rw))
	r.DELETE("/api/v1/apps/:id/whitelist/:entry_id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/apps/app-1/whitelist/wl-9", nil))

	var row *models.AuditLog
	select {
	case row = <-rw.ch:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for audit row")
	}
	if row.Action != "whitelist_entry.deleted" {
		t.Errorf("Action = %q, want whitelist_entry.deleted", row.Action)
	}
	if row.ResourceID == nil || *row.ResourceID != "wl-9" {
		t.Errorf("ResourceID = %v, want wl-9", row.ResourceID)
	}
	if row.UserID == nil || *row.UserID != "user-1" {
		t.Errorf("UserID = %v, want user-1", row.UserID)
	}
	if row.Metadata["request_id"] != "req-abc" {
		t.Errorf("metadata request_id = %v", row.Metadata["request_id"])
	}
}

func TestAuditMiddleware_CreatedResourceID(t *testing.T) {
	cs := newCaptureShipper(1)
	r := gin.New()
	r.Use(AuditMiddlewareWithShipper(nil, cs, nil))
	r.POST("/api/v1/apps/:id/keys", func(c *gin.Context) {
		c.Set(CreatedResourceKey, "key-new")
		c.Status(http.StatusCreated)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/apps/app-7/keys", nil))

	entry := cs.waitForEntry(t, 500*time.Millisecond)
	if entry.Action != "app_key.created" || entry.ResourceID != "key-new" {
		t.Errorf("Action/ResourceID = %q/%q, want app_key.created/key-new", entry.Action, entry.ResourceID)
	}
}

func TestAuditMiddleware_ResourceTypeDetection(t *testing.T) {
	paths := []struct {
		path    string
		wantRes string
	}{
		{"/api/v1/apps/a1", "app"},
		{"/api/v1/apps/a1/keys", "app_key"},
		{"/api/v1/apps/a1/whitelist/w1", "whitelist_entry"},
		{"/api/v1/organizations/x", "organization"},
		{"/api/v1/users/baz", "user"},
		{"/other/z", ""},
	}

	for _, tt := range paths {
		t.Run(tt.path, func(t *testing.T) {
			cs := newCaptureShipper(1)
			r := gin.New()
			r.Use(AuditMiddlewareWithShipper(nil, cs, nil))
			r.POST(tt.path, func(c *gin.Context) { c.Status(http.StatusOK) })

			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodPost, tt.path, nil)
			r.ServeHTTP(w, req)

			entry := cs.waitForEntry(t, 500*time.Millisecond)
			if entry.ResourceType != tt.wantRes {
				t.Errorf("path %q: ResourceType = %q, want %q", tt.path, entry.ResourceType, tt.wantRes)
			}
		})
	}
}

func TestAuditMiddleware_ContextValuesExtracted(t *testing.T) {
	cs := newCaptureShipper(1)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user_id", "user-42")
		c.Set("organization_id", "org-99")
		c.Set("auth_method", "jwt")
		c.Next()
	})
	r.Use(AuditMiddlewareWithShipper(nil, cs, nil))
	r.POST("/api/v1/apps/:id/keys", func(c *gin.Context) { c.Status(http.StatusCreated) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/apps/app-7/keys", nil)
	r.ServeHTTP(w, req)

	entry := cs.waitForEntry(t, 500*time.Millisecond)
	if entry.UserID != "user-42" {
		t.Errorf("UserID = %q, want user-42", entry.UserID)
	}
	if entry.OrganizationID != "org-99" {
		t.Errorf("OrganizationID = %q, want org-99", entry.OrganizationID)
	}
	if entry.AuthMethod != "jwt" {
		t.Errorf("AuthMethod = %q, want jwt", entry.AuthMethod)
	}
	if entry.ResourceID != "app-7" {
		t.Errorf("ResourceID = %q, want app-7", entry.ResourceID)
	}
}

// ---------------------------------------------------------------------------
// Denied app-key attempts
// ---------------------------------------------------------------------------

// denyingAuth mimics AppAuthMiddleware rejecting a request.
func denyingAuth(reason string, status int) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("auth_denied", reason)
		c.AbortWithStatusJSON(status, gin.H{"error": "denied"})
	}
}

func TestAuditMiddleware_DeniedAppKeyRecorded(t *testing.T) {
	cs := newCaptureShipper(1)
	r := gin.New()
	r.Use(AuditMiddlewareWithShipper(nil, cs, &config.AuditConfig{Enabled: true, LogFailedRequests: true}))
	r.Use(denyingAuth("network_not_allowed", http.StatusForbidden))
	r.GET("/api/external/v1/me", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/external/v1/me", nil)
	req.RemoteAddr = "198.51.100.4:5555"
	r.ServeHTTP(w, req)

	entry := cs.waitForEntry(t, 500*time.Millisecond)
	if entry.Action != "app_auth.denied" {
		t.Errorf("Action = %q, want app_auth.denied", entry.Action)
	}
	if entry.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want 403", entry.StatusCode)
	}
	if entry.Reason != "network_not_allowed" || entry.Outcome != audit.OutcomeDenied {
		t.Errorf("Reason/Outcome = %q/%q, want network_not_allowed/denied", entry.Reason, entry.Outcome)
	}
}

func TestAuditMiddleware_DeniedAppKeySkippedWhenFailuresNotLogged(t *testing.T) {
	cs := newCaptureShipper(1)
	r := gin.New()
	r.Use(AuditMiddlewareWithShipper(nil, cs, &config.AuditConfig{Enabled: true}))
	r.Use(denyingAuth("invalid_credential", http.StatusUnauthorized))
	r.GET("/api/external/v1/me", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/external/v1/me", nil))
	cs.expectNothing(t)
}

func TestAuditMiddleware_ReadOpsLoggedWhenConfigured(t *testing.T) {
	cs := newCaptureShipper(1)
	r := gin.New()
	r.Use(AuditMiddlewareWithShipper(nil, cs, &config.AuditConfig{Enabled: true, LogReadOperations: true}))
	r.GET("/api/v1/apps/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/apps/a1", nil)
	r.ServeHTTP(w, req)

	entry := cs.waitForEntry(t, 500*time.Millisecond)
	if entry.Action != "app.read" {
		t.Errorf("Action = %q, want app.read", entry.Action)
	}
}

func TestAuditMiddleware_KeyRevocation(t *testing.T) {
	cs := newCaptureShipper(1)
	r := gin.New()
	r.Use(AuditMiddlewareWithShipper(nil, cs, &config.AuditConfig{Enabled: true}))
	r.DELETE("/api/v1/apps/:id/keys/:key_id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/api/v1/apps/a1/keys/k1", nil))

	entry := cs.waitForEntry(t, 500*time.Millisecond)
	if entry.Action != "app_key.revoked" {
		t.Errorf("Action = %q, want app_key.revoked", entry.Action)
	}
	if entry.ResourceID != "k1" {
		t.Errorf("ResourceID = %q, want k1", entry.ResourceID)
	}
}

func TestActionFor(t *testing.T) {
	tests := []struct {
		method, path, resource, want string
	}{
		{http.MethodPost, "/api/v1/apps/a/activate", "app", "app.activated"},
		{http.MethodPost, "/api/v1/apps/a/deactivate", "app", "app.deactivated"},
		{http.MethodDelete, "/api/v1/apps/a/keys/k", "app_key", "app_key.revoked"},
		{http.MethodPost, "/api/v1/apps/a/keys", "app_key", "app_key.created"},
		{http.MethodPut, "/api/v1/apps/a/whitelist/w", "whitelist_entry", "whitelist_entry.updated"},
		{http.MethodDelete, "/api/v1/apps/a/whitelist/w", "whitelist_entry", "whitelist_entry.deleted"},
		{http.MethodPost, "/x", "", "POST /x"},
	}
	for _, tt := range tests {
		if got := actionFor(tt.method, tt.path, tt.resource); got != tt.want {
			t.Errorf("actionFor(%s, %s) = %q, want %q", tt.method, tt.path, got, tt.want)
		}
	}
}
