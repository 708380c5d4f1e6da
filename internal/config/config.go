// Package config provides configuration management for reportd.
package config

import (
	"strconv"
	"time"
)

// Config is the root configuration structure for reportd.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Tickets   TicketsConfig   `mapstructure:"tickets"`
	Email     EmailConfig     `mapstructure:"email"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host to bind the server to
	Host string `mapstructure:"host"`

	// Port to listen on
	Port int `mapstructure:"port"`

	CORS CORSConfig `mapstructure:"cors"`

	// Request timeouts
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`

	// Maximum request body size in bytes
	MaxBodySize int64 `mapstructure:"max_body_size"`

	// Gzip responses when the client accepts it
	Compression bool `mapstructure:"compression"`

	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Allowed origins (use ["*"] for all)
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
	ExposedHeaders []string `mapstructure:"exposed_headers"`

	AllowCredentials bool `mapstructure:"allow_credentials"`

	// Max age for preflight cache
	MaxAge time.Duration `mapstructure:"max_age"`
}

// RateLimitConfig bounds request rates per client IP.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string `mapstructure:"path"`

	// Enable WAL mode (recommended)
	WALMode bool `mapstructure:"wal_mode"`

	// Cache size (negative for KB, positive for pages)
	CacheSize int `mapstructure:"cache_size"`

	BusyTimeout time.Duration `mapstructure:"busy_timeout"`

	ForeignKeys bool `mapstructure:"foreign_keys"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig controls the scheduler loop and its worker pool.
type SchedulerConfig struct {
	// Run the scheduler loop inside `serve`
	Enabled bool `mapstructure:"enabled"`

	// How often due schedules are scanned
	TickInterval time.Duration `mapstructure:"tick_interval"`

	// Number of concurrent report executions
	Workers int `mapstructure:"workers"`

	// Pending executions allowed before dispatch is deferred
	QueueSize int `mapstructure:"queue_size"`

	// Maximum due schedules fetched per tick
	BatchSize int `mapstructure:"batch_size"`

	// Time allowed for in-flight executions on shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// Execution history older than this is removed by `executions prune`
	HistoryRetention time.Duration `mapstructure:"history_retention"`
}

// TicketsConfig points at the ticket query service.
type TicketsConfig struct {
	BaseURL string `mapstructure:"base_url"`

	// Bearer token sent to the ticket service (optional)
	APIKey string `mapstructure:"api_key"`

	Timeout time.Duration `mapstructure:"timeout"`

	// Maximum tickets requested per report
	PageLimit int `mapstructure:"page_limit"`
}

// EmailConfig holds SMTP delivery settings.
type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	FromName string `mapstructure:"from_name"`

	Timeout time.Duration `mapstructure:"timeout"`

	// Outbound message rate limit
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`

	// Log messages instead of sending them
	DryRun bool `mapstructure:"dry_run"`

	// Glob patterns recipients must match (empty allows any address)
	AllowedRecipients []string `mapstructure:"allowed_recipients"`
}

// ArchiveConfig controls optional storage of rendered reports.
type ArchiveConfig struct {
	// none, filesystem or s3
	Type string `mapstructure:"type"`

	// Directory for the filesystem archive
	Path string `mapstructure:"path"`

	// none, gzip or zstd
	Compression string `mapstructure:"compression"`

	S3 *S3Config `mapstructure:"s3"`
}

// S3Config holds S3-compatible object storage settings.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	Prefix          string `mapstructure:"prefix"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// HMAC secret shared with the token issuer (min 32 chars)
	Secret string `mapstructure:"secret"`

	Issuer   string   `mapstructure:"issuer"`
	Audience []string `mapstructure:"audience"`
}

// RealtimeConfig configures the execution event stream.
type RealtimeConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Buffered events per subscriber before it is dropped
	SendBuffer int `mapstructure:"send_buffer"`

	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Log format (json, console)
	Format string `mapstructure:"format"`

	// Include caller info
	Caller bool `mapstructure:"caller"`

	// Include timestamp
	Timestamp bool `mapstructure:"timestamp"`
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// SMTPAddress returns the SMTP server address in host:port format.
func (e *EmailConfig) SMTPAddress() string {
	return e.Host + ":" + strconv.Itoa(e.Port)
}
