// security.go provides Gin middleware that sets protective response headers for the
// JSON-only admin and external APIs.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// DefaultHSTSMaxAge is the HSTS max-age used when SecurityHeadersOptions.HSTSMaxAge is zero.
const DefaultHSTSMaxAge = 365 * 24 * time.Hour

// SecurityHeadersOptions selects the optional security headers.
type SecurityHeadersOptions struct {
	// HSTS sends Strict-Transport-Security. Enable it only when the server itself
	// terminates TLS; behind a TLS-terminating proxy the proxy should send it.
	HSTS       bool
	HSTSMaxAge time.Duration
	// NoStore marks every response uncacheable. Issued keys and session tokens are
	// returned in response bodies.
	NoStore bool
}

// securityHeaders builds the fixed header set for opts.
func securityHeaders(opts SecurityHeadersOptions) [][2]string {
	headers := [][2]string{
		{"X-Content-Type-Options", "nosniff"},
		{"X-Frame-Options", "DENY"},
		{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
		{"Referrer-Policy", "no-referrer"},
		{"X-Permitted-Cross-Domain-Policies", "none"},
		{"Cross-Origin-Opener-Policy", "same-origin"},
		{"Cross-Origin-Resource-Policy", "same-origin"},
	}
	if opts.HSTS {
		maxAge := opts.HSTSMaxAge
		if maxAge <= 0 {
			maxAge = DefaultHSTSMaxAge
		}
		headers = append(headers, [2]string{
			"Strict-Transport-Security",
			"max-age=" + strconv.FormatInt(int64(maxAge/time.Second), 10) + "; includeSubDomains",
		})
	}
	if opts.NoStore {
		headers = append(headers, [2]string{"Cache-Control", "no-store"})
	}
	return headers
}

// SecurityHeadersMiddleware sets the security headers on every response before the
// handler runs, so aborted requests carry them too.
func SecurityHeadersMiddleware(opts SecurityHeadersOptions) gin.HandlerFunc {
	headers := securityHeaders(opts)
	return func(c *gin.Context) {
		h := c.Writer.Header()
		for _, kv := range headers {
			h.Set(kv[0], kv[1])
		}
		c.Next()
	}
}
