package config

import "time"

// Default configuration values.
const (
	// Server defaults.
	DefaultHost         = "localhost"
	DefaultPort         = 8080
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 30 * time.Second
	DefaultIdleTimeout  = 120 * time.Second
	DefaultMaxBodySize  = 1 * 1024 * 1024 // 1MB

	// Database defaults.
	DefaultDBPath       = "reportd.db"
	DefaultCacheSize    = -64000 // 64MB
	DefaultBusyTimeout  = 5 * time.Second
	DefaultMaxOpenConns = 1 // SQLite works best with single writer
	DefaultMaxIdleConns = 1

	// Scheduler defaults.
	DefaultTickInterval     = time.Minute
	DefaultWorkers          = 10
	DefaultQueueSize        = 100
	DefaultBatchSize        = 100
	DefaultShutdownTimeout  = 2 * time.Minute
	DefaultHistoryRetention = 90 * 24 * time.Hour

	// Collaborator defaults.
	DefaultTicketsTimeout = 30 * time.Second
	DefaultPageLimit      = 1000
	DefaultSMTPPort       = 587
	DefaultEmailTimeout   = 60 * time.Second
	DefaultEmailRate      = 5.0
	DefaultEmailBurst     = 10

	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         DefaultHost,
			Port:         DefaultPort,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
			MaxBodySize:  DefaultMaxBodySize,
			Compression:  true,
			CORS: CORSConfig{
				Enabled:          true,
				AllowedOrigins:   []string{"*"},
				AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
				ExposedHeaders:   []string{"X-Request-ID"},
				AllowCredentials: false,
				MaxAge:           12 * time.Hour,
			},
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerSecond: 20,
				Burst:             40,
			},
		},
		Database: DatabaseConfig{
			Path:         DefaultDBPath,
			WALMode:      true,
			CacheSize:    DefaultCacheSize,
			BusyTimeout:  DefaultBusyTimeout,
			ForeignKeys:  true,
			MaxOpenConns: DefaultMaxOpenConns,
			MaxIdleConns: DefaultMaxIdleConns,
		},
		Scheduler: SchedulerConfig{
			Enabled:          true,
			TickInterval:     DefaultTickInterval,
			Workers:          DefaultWorkers,
			QueueSize:        DefaultQueueSize,
			BatchSize:        DefaultBatchSize,
			ShutdownTimeout:  DefaultShutdownTimeout,
			HistoryRetention: DefaultHistoryRetention,
		},
		Tickets: TicketsConfig{
			BaseURL:   "http://localhost:8000",
			Timeout:   DefaultTicketsTimeout,
			PageLimit: DefaultPageLimit,
		},
		Email: EmailConfig{
			Host:          "localhost",
			Port:          DefaultSMTPPort,
			From:          "reports@localhost",
			FromName:      "Ticket Reports",
			Timeout:       DefaultEmailTimeout,
			RatePerSecond: DefaultEmailRate,
			Burst:         DefaultEmailBurst,
		},
		Archive: ArchiveConfig{
			Type:        "none",
			Path:        "archive",
			Compression: "gzip",
		},
		Auth: AuthConfig{
			Enabled: false,
		},
		Realtime: RealtimeConfig{
			Enabled:      true,
			SendBuffer:   64,
			WriteTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:     DefaultLogLevel,
			Format:    DefaultLogFormat,
			Caller:    false,
			Timestamp: true,
		},
	}
}
