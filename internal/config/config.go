// Package config loads and validates the helpdesk service configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the HDK_ prefix (e.g., HDK_DATABASE_HOST
// overrides database.host in the YAML), so the same binary runs with a config.yaml
// in local development and with pure environment variables in containers.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// EnvPrefix is prepended to every environment variable override.
const EnvPrefix = "HDK"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Security      SecurityConfig      `mapstructure:"security"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
	Audit         AuditConfig         `mapstructure:"audit"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// TrustedProxies lists the proxy addresses or CIDRs whose X-Forwarded-For header is
	// honoured when resolving the client address. Empty means the socket peer is used.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
	// ConnectRetryFor is how long startup keeps retrying an unreachable database.
	ConnectRetryFor time.Duration `mapstructure:"connect_retry_for"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	AppKeys AppKeyConfig `mapstructure:"app_keys"`
	JWT     JWTConfig    `mapstructure:"jwt"`
}

// AppKeyConfig holds App API-key issuance and verification settings
type AppKeyConfig struct {
	// Tag is the short prefix of issued keys, e.g. "hdk" yields "hdk_<random>".
	Tag string `mapstructure:"tag"`
	// BcryptCost is the work factor used when issuing new keys.
	BcryptCost int `mapstructure:"bcrypt_cost"`
	// Header is the request header carrying the key. Authorization: Bearer is always accepted.
	Header string `mapstructure:"header"`
	// PrefixLookup narrows the candidate load to keys sharing the presented display prefix.
	PrefixLookup bool `mapstructure:"prefix_lookup"`
	// ClassifyFailures records why an invalid credential was rejected (logs and metrics only).
	ClassifyFailures bool `mapstructure:"classify_failures"`
	// LastUsedTimeout bounds the best-effort last-used bookkeeping write.
	LastUsedTimeout time.Duration `mapstructure:"last_used_timeout"`
}

// JWTConfig holds operator session settings. The signing secret is read from HDK_JWT_SECRET.
type JWTConfig struct {
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	// AllowedOrigins are exact browser origins (scheme://host[:port]) or "*".
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// RedisConfig holds the optional Redis connection used to share rate limits across replicas.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled     bool            `mapstructure:"enabled"`
	ServiceName string          `mapstructure:"service_name"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	Profiling   ProfilingConfig `mapstructure:"profiling"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// ProfilingConfig holds profiling configuration
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// AuditConfig holds audit logging configuration
type AuditConfig struct {
	// Enabled determines if audit logging is active
	Enabled bool `mapstructure:"enabled"`
	// LogReadOperations determines if GET requests should be logged
	LogReadOperations bool `mapstructure:"log_read_operations"`
	// LogFailedRequests determines if failed requests (4xx/5xx) should be logged
	LogFailedRequests bool `mapstructure:"log_failed_requests"`
	// RetentionDays deletes stored entries older than this many days. Zero keeps them forever.
	RetentionDays int `mapstructure:"retention_days"`
	// Shippers configures external log shipping
	Shippers []AuditShipperConfig `mapstructure:"shippers"`
}

// AuditShipperConfig holds configuration for a single audit shipper
type AuditShipperConfig struct {
	Enabled bool                `mapstructure:"enabled"`
	Type    string              `mapstructure:"type"` // webhook, file
	Webhook *AuditWebhookConfig `mapstructure:"webhook"`
	File    *AuditFileConfig    `mapstructure:"file"`
}

// AuditWebhookConfig holds webhook shipper configuration. A BatchSize of zero posts every
// event on its own.
type AuditWebhookConfig struct {
	URL           string            `mapstructure:"url"`
	Headers       map[string]string `mapstructure:"headers"`
	Timeout       time.Duration     `mapstructure:"timeout"`
	BatchSize     int               `mapstructure:"batch_size"`
	FlushInterval time.Duration     `mapstructure:"flush_interval"`
}

// AuditFileConfig holds file shipper configuration. The file rotates once it grows past
// MaxSizeMB, keeping MaxBackups numbered copies.
type AuditFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// NotificationsConfig holds settings for outbound notification emails
type NotificationsConfig struct {
	// Enabled globally toggles all outbound notification emails. Requires SMTP to be configured.
	Enabled bool `mapstructure:"enabled"`
	// SMTP holds the outbound mail server settings
	SMTP SMTPConfig `mapstructure:"smtp"`
	// APIKeyExpiryWarningDays is how many days before expiry to send the warning email (default 7)
	APIKeyExpiryWarningDays int `mapstructure:"api_key_expiry_warning_days"`
	// APIKeyExpiryCheckIntervalHours determines how often the expiry check job runs (default 24)
	APIKeyExpiryCheckIntervalHours int `mapstructure:"api_key_expiry_check_interval_hours"`
}

// SMTPConfig holds outbound mail server configuration for notification emails
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	// UseTLS enables STARTTLS (port 587) or implicit TLS (port 465); false = plain SMTP
	UseTLS bool `mapstructure:"use_tls"`
}

// envKeys lists the dotted key of every scalar or string-slice leaf reachable from t through
// mapstructure tags. Viper's AutomaticEnv only consults keys it already knows about during
// Unmarshal, so each leaf is bound explicitly. Lists of structs and maps stay file-only.
func envKeys(t reflect.Type, prefix string) []string {
	var keys []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + tag
		switch f.Type.Kind() {
		case reflect.Struct:
			keys = append(keys, envKeys(f.Type, key+".")...)
		case reflect.Pointer, reflect.Map:
		case reflect.Slice:
			if f.Type.Elem().Kind() == reflect.String {
				keys = append(keys, key)
			}
		default:
			keys = append(keys, key)
		}
	}
	return keys
}

// defaults are applied beneath the config file and environment.
var defaults = map[string]any{
	"server.host":            "0.0.0.0",
	"server.port":            8080,
	"server.base_url":        "http://localhost:8080",
	"server.read_timeout":    "30s",
	"server.write_timeout":   "30s",
	"server.trusted_proxies": []string{},

	"database.host":                 "localhost",
	"database.port":                 5432,
	"database.name":                 "helpdesk",
	"database.user":                 "helpdesk",
	"database.ssl_mode":             "require",
	"database.max_connections":      25,
	"database.min_idle_connections": 5,
	"database.connect_retry_for":    "30s",

	"auth.app_keys.tag":               "hdk",
	"auth.app_keys.bcrypt_cost":       12,
	"auth.app_keys.header":            "X-API-Key",
	"auth.app_keys.prefix_lookup":     false,
	"auth.app_keys.classify_failures": false,
	"auth.app_keys.last_used_timeout": "2s",
	"auth.jwt.session_ttl":            "8h",

	"security.cors.allowed_origins":              []string{"*"},
	"security.rate_limiting.enabled":             true,
	"security.rate_limiting.requests_per_minute": 60,
	"security.rate_limiting.burst":               10,
	"security.tls.enabled":                       false,

	"redis.enabled": false,
	"redis.address": "localhost:6379",
	"redis.db":      0,

	"logging.level":  "info",
	"logging.format": "json",

	"telemetry.enabled":                 true,
	"telemetry.service_name":            "helpdesk",
	"telemetry.metrics.enabled":         true,
	"telemetry.metrics.prometheus_port": 9090,
	"telemetry.profiling.enabled":       false,
	"telemetry.profiling.port":          6060,

	"audit.enabled":             true,
	"audit.log_read_operations": false,
	"audit.log_failed_requests": true,
	"audit.retention_days":      0,

	"notifications.enabled":                             false,
	"notifications.smtp.port":                           587,
	"notifications.smtp.use_tls":                        true,
	"notifications.api_key_expiry_warning_days":         7,
	"notifications.api_key_expiry_check_interval_hours": 24,
}

// Load reads configuration from configPath, or from config.yaml in the working directory,
// ./config or /etc/helpdesk when configPath is empty. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if configPath == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, dir := range []string{".", "./config", "/etc/helpdesk"} {
			v.AddConfigPath(dir)
		}
	} else {
		v.SetConfigFile(configPath)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys(reflect.TypeOf(Config{}), "") {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env var for %q: %w", key, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Secrets may reference ${VAR} so they need not sit in the file.
	for _, secret := range []*string{
		&cfg.Database.Password,
		&cfg.Redis.Password,
		&cfg.Notifications.SMTP.Password,
	} {
		*secret = os.ExpandEnv(*secret)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

var (
	keyTagPattern = regexp.MustCompile(`^[a-z][a-z0-9]{1,15}$`)
	logLevels     = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	sslModes      = map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
)

// Validate reports the first problem found, checking one section at a time.
func (c *Config) Validate() error {
	for _, check := range []func() error{
		c.Server.validate,
		c.Database.validate,
		c.Auth.AppKeys.validate,
		c.Security.validate,
		c.validateRedis,
		c.validateLogging,
		c.Audit.validate,
		c.Notifications.validate,
	} {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (s *ServerConfig) validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", s.Port)
	}
	if s.BaseURL == "" {
		return errors.New("server.base_url is required")
	}
	return nil
}

func (d *DatabaseConfig) validate() error {
	switch {
	case d.Host == "":
		return errors.New("database.host is required")
	case d.Name == "":
		return errors.New("database.name is required")
	case d.User == "":
		return errors.New("database.user is required")
	case d.SSLMode != "" && !sslModes[d.SSLMode]:
		return fmt.Errorf("invalid database.ssl_mode: %q", d.SSLMode)
	}
	return nil
}

func (k *AppKeyConfig) validate() error {
	switch {
	case !keyTagPattern.MatchString(k.Tag):
		return fmt.Errorf("invalid auth.app_keys.tag: %q (2-16 lowercase alphanumerics, starting with a letter)", k.Tag)
	case k.BcryptCost < bcrypt.MinCost || k.BcryptCost > bcrypt.MaxCost:
		return fmt.Errorf("invalid auth.app_keys.bcrypt_cost: %d (must be %d-%d)", k.BcryptCost, bcrypt.MinCost, bcrypt.MaxCost)
	case k.Header == "":
		return errors.New("auth.app_keys.header is required")
	case k.LastUsedTimeout < 0:
		return errors.New("auth.app_keys.last_used_timeout must not be negative")
	}
	return nil
}

func (s *SecurityConfig) validate() error {
	for _, origin := range s.CORS.AllowedOrigins {
		if !validOrigin(origin) {
			return fmt.Errorf("invalid security.cors.allowed_origins entry %q (want scheme://host[:port] or *)", origin)
		}
	}
	if s.RateLimiting.Enabled && s.RateLimiting.RequestsPerMinute < 1 {
		return errors.New("security.rate_limiting.requests_per_minute must be positive when rate limiting is enabled")
	}
	if s.TLS.Enabled && (s.TLS.CertFile == "" || s.TLS.KeyFile == "") {
		return errors.New("security.tls.cert_file and security.tls.key_file are required when TLS is enabled")
	}
	return nil
}

func validOrigin(origin string) bool {
	if origin == "*" {
		return true
	}
	u, err := url.Parse(strings.TrimSuffix(origin, "/"))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" &&
		u.Path == "" && u.RawQuery == "" && u.Fragment == "" && u.User == nil
}

func (c *Config) validateRedis() error {
	if c.Redis.Enabled && c.Redis.Address == "" {
		return errors.New("redis.address is required when Redis is enabled")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !logLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	return nil
}

func (a *AuditConfig) validate() error {
	if a.RetentionDays < 0 {
		return errors.New("audit.retention_days must not be negative")
	}
	for i, sc := range a.Shippers {
		if !sc.Enabled {
			continue
		}
		switch sc.Type {
		case "webhook":
			if sc.Webhook == nil || sc.Webhook.URL == "" {
				return fmt.Errorf("audit.shippers[%d]: webhook.url is required", i)
			}
		case "file":
			if sc.File == nil || sc.File.Path == "" {
				return fmt.Errorf("audit.shippers[%d]: file.path is required", i)
			}
		default:
			return fmt.Errorf("audit.shippers[%d]: unknown type %q (must be webhook or file)", i, sc.Type)
		}
	}
	return nil
}

func (n *NotificationsConfig) validate() error {
	if !n.Enabled {
		return nil
	}
	if n.SMTP.Host == "" || n.SMTP.From == "" {
		return errors.New("notifications.smtp.host and notifications.smtp.from are required when notifications are enabled")
	}
	if n.APIKeyExpiryWarningDays < 1 || n.APIKeyExpiryCheckIntervalHours < 1 {
		return errors.New("notification expiry window and check interval must be positive")
	}
	return nil
}

// GetDSN returns the PostgreSQL keyword/value connection string. Values that are empty or
// contain spaces, quotes or backslashes are single-quoted.
func (d *DatabaseConfig) GetDSN() string {
	pairs := []struct{ k, v string }{
		{"host", d.Host},
		{"port", fmt.Sprint(d.Port)},
		{"user", d.User},
		{"password", d.Password},
		{"dbname", d.Name},
		{"sslmode", d.SSLMode},
	}
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.k + "=" + dsnValue(p.v)
	}
	return strings.Join(parts, " ")
}

func dsnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v) + "'"
}

// GetAddress returns the server address in host:port format
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
