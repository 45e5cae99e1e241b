package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

// applySecurityHeaders runs a request through SecurityHeadersMiddleware, letting the
// handler choose the status, and returns the recorder.
func applySecurityHeaders(opts SecurityHeadersOptions, handler gin.HandlerFunc) *httptest.ResponseRecorder {
	r := gin.New()
	r.Use(SecurityHeadersMiddleware(opts))
	r.GET("/", handler)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	r.ServeHTTP(w, req)
	return w
}

func okHandler(c *gin.Context) { c.Status(http.StatusOK) }

func TestSecurityHeadersMiddleware_FixedHeaders(t *testing.T) {
	w := applySecurityHeaders(SecurityHeadersOptions{}, okHandler)

	want := map[string]string{
		"X-Content-Type-Options":            "nosniff",
		"X-Frame-Options":                   "DENY",
		"Content-Security-Policy":           "default-src 'none'; frame-ancestors 'none'",
		"Referrer-Policy":                   "no-referrer",
		"X-Permitted-Cross-Domain-Policies": "none",
		"Cross-Origin-Opener-Policy":        "same-origin",
		"Cross-Origin-Resource-Policy":      "same-origin",
	}
	for header, value := range want {
		if got := w.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
	if got := w.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("Strict-Transport-Security = %q, want unset without HSTS", got)
	}
	if got := w.Header().Get("Cache-Control"); got != "" {
		t.Errorf("Cache-Control = %q, want unset without NoStore", got)
	}
}

func TestSecurityHeadersMiddleware_HSTS(t *testing.T) {
	tests := []struct {
		name   string
		maxAge time.Duration
		want   string
	}{
		{"default max-age", 0, "max-age=31536000; includeSubDomains"},
		{"custom max-age", time.Hour, "max-age=3600; includeSubDomains"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := applySecurityHeaders(SecurityHeadersOptions{HSTS: true, HSTSMaxAge: tt.maxAge}, okHandler)
			if got := w.Header().Get("Strict-Transport-Security"); got != tt.want {
				t.Errorf("Strict-Transport-Security = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSecurityHeadersMiddleware_NoStore(t *testing.T) {
	w := applySecurityHeaders(SecurityHeadersOptions{NoStore: true}, okHandler)
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
}

func TestSecurityHeadersMiddleware_PresentOnAbortedRequests(t *testing.T) {
	w := applySecurityHeaders(SecurityHeadersOptions{NoStore: true}, func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" || w.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("headers missing on aborted response: %v", w.Header())
	}
}

func TestSecurityHeadersMiddleware_HandlerMayOverride(t *testing.T) {
	w := applySecurityHeaders(SecurityHeadersOptions{NoStore: true}, func(c *gin.Context) {
		c.Header("Cache-Control", "max-age=60")
		c.Status(http.StatusOK)
	})
	if got := w.Header().Get("Cache-Control"); got != "max-age=60" {
		t.Errorf("Cache-Control = %q, want handler override max-age=60", got)
	}
}
