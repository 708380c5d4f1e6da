package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gobwas/glob"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

func (e ValidationErrors) Unwrap() error {
	return ErrInvalidConfig
}

func Validate(cfg *Config) error {
	var errs ValidationErrors

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateDatabase(&cfg.Database)...)
	errs = append(errs, validateScheduler(&cfg.Scheduler)...)
	errs = append(errs, validateTickets(&cfg.Tickets)...)
	errs = append(errs, validateEmail(&cfg.Email)...)
	errs = append(errs, validateArchive(&cfg.Archive)...)
	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validateRealtime(&cfg.Realtime)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateServer(cfg *ServerConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: "must be between 1 and 65535",
		})
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.read_timeout",
			Message: "must be non-negative",
		})
	}

	if cfg.WriteTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.write_timeout",
			Message: "must be non-negative",
		})
	}

	if cfg.MaxBodySize < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.max_body_size",
			Message: "must be non-negative",
		})
	}

	if cfg.CORS.Enabled && cfg.CORS.AllowCredentials {
		for _, origin := range cfg.CORS.AllowedOrigins {
			if origin == "*" {
				errs = append(errs, ValidationError{
					Field:   "server.cors",
					Message: "security: allow_credentials=true with allowed_origins=[\"*\"] is insecure",
				})
				break
			}
		}
	}

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.RequestsPerSecond <= 0 {
			errs = append(errs, ValidationError{
				Field:   "server.rate_limit.requests_per_second",
				Message: "must be positive when rate limiting is enabled",
			})
		}
		if cfg.RateLimit.Burst < 1 {
			errs = append(errs, ValidationError{
				Field:   "server.rate_limit.burst",
				Message: "must be at least 1",
			})
		}
	}

	return errs
}

func validateDatabase(cfg *DatabaseConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "database.path",
			Message: "required",
		})
	}

	if cfg.MaxOpenConns < 0 {
		errs = append(errs, ValidationError{
			Field:   "database.max_open_conns",
			Message: "must be non-negative",
		})
	}

	return errs
}

func validateScheduler(cfg *SchedulerConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.TickInterval < time.Second {
		errs = append(errs, ValidationError{
			Field:   "scheduler.tick_interval",
			Message: "must be at least 1 second",
		})
	}

	if cfg.Workers < 1 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.workers",
			Message: "must be at least 1",
		})
	}

	if cfg.QueueSize < 1 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.queue_size",
			Message: "must be at least 1",
		})
	}

	if cfg.BatchSize < 1 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.batch_size",
			Message: "must be at least 1",
		})
	}

	if cfg.HistoryRetention < 0 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.history_retention",
			Message: "must be non-negative",
		})
	}

	return errs
}

func validateTickets(cfg *TicketsConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.BaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "tickets.base_url",
			Message: "required",
		})
	} else if u, err := url.Parse(cfg.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "tickets.base_url",
			Message: "must be an absolute URL",
		})
	}

	if cfg.Timeout < time.Second {
		errs = append(errs, ValidationError{
			Field:   "tickets.timeout",
			Message: "must be at least 1 second",
		})
	}

	if cfg.PageLimit < 1 {
		errs = append(errs, ValidationError{
			Field:   "tickets.page_limit",
			Message: "must be at least 1",
		})
	}

	return errs
}

func validateEmail(cfg *EmailConfig) ValidationErrors {
	var errs ValidationErrors

	if !cfg.DryRun && cfg.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "email.host",
			Message: "required unless dry_run is enabled",
		})
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "email.port",
			Message: "must be between 1 and 65535",
		})
	}

	if cfg.From == "" {
		errs = append(errs, ValidationError{
			Field:   "email.from",
			Message: "required",
		})
	}

	if cfg.Timeout < time.Second {
		errs = append(errs, ValidationError{
			Field:   "email.timeout",
			Message: "must be at least 1 second",
		})
	}

	if cfg.RatePerSecond < 0 {
		errs = append(errs, ValidationError{
			Field:   "email.rate_per_second",
			Message: "must be non-negative (0 disables limiting)",
		})
	}

	for i, pattern := range cfg.AllowedRecipients {
		if _, err := glob.Compile(pattern); err != nil {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("email.allowed_recipients[%d]", i),
				Message: fmt.Sprintf("invalid pattern: %v", err),
			})
		}
	}

	return errs
}

func validateArchive(cfg *ArchiveConfig) ValidationErrors {
	var errs ValidationErrors

	validCompression := map[string]bool{"": true, "none": true, "gzip": true, "zstd": true}
	if !validCompression[cfg.Compression] {
		errs = append(errs, ValidationError{
			Field:   "archive.compression",
			Message: "must be 'none', 'gzip' or 'zstd'",
		})
	}

	switch cfg.Type {
	case "", "none":
	case "filesystem":
		if cfg.Path == "" {
			errs = append(errs, ValidationError{
				Field:   "archive.path",
				Message: "required when type is 'filesystem'",
			})
		}
		if strings.Contains(cfg.Path, "..") {
			errs = append(errs, ValidationError{
				Field:   "archive.path",
				Message: "path traversal (..) not allowed",
			})
		}
	case "s3":
		if cfg.S3 == nil {
			errs = append(errs, ValidationError{
				Field:   "archive.s3",
				Message: "required when type is 's3'",
			})
			break
		}
		if cfg.S3.Bucket == "" {
			errs = append(errs, ValidationError{
				Field:   "archive.s3.bucket",
				Message: "required",
			})
		}
		if cfg.S3.Region == "" {
			errs = append(errs, ValidationError{
				Field:   "archive.s3.region",
				Message: "required",
			})
		}
		if cfg.S3.AccessKeyID == "" {
			errs = append(errs, ValidationError{
				Field:   "archive.s3.access_key_id",
				Message: "required",
			})
		}
		if cfg.S3.SecretAccessKey == "" {
			errs = append(errs, ValidationError{
				Field:   "archive.s3.secret_access_key",
				Message: "required",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "archive.type",
			Message: "must be 'none', 'filesystem' or 's3'",
		})
	}

	return errs
}

func validateAuth(cfg *AuthConfig) ValidationErrors {
	var errs ValidationErrors

	if !cfg.Enabled {
		return errs
	}

	var ve *ValidationError
	if err := ValidateJWTSecret(cfg.Secret); errors.As(err, &ve) {
		errs = append(errs, *ve)
	}

	return errs
}

func validateRealtime(cfg *RealtimeConfig) ValidationErrors {
	var errs ValidationErrors

	if !cfg.Enabled {
		return errs
	}

	if cfg.SendBuffer < 1 {
		errs = append(errs, ValidationError{
			Field:   "realtime.send_buffer",
			Message: "must be at least 1",
		})
	}

	if cfg.WriteTimeout < time.Second {
		errs = append(errs, ValidationError{
			Field:   "realtime.write_timeout",
			Message: "must be at least 1 second",
		})
	}

	return errs
}

func validateLogging(cfg *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[cfg.Level] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be one of: trace, debug, info, warn, error, fatal, panic",
		})
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Format] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be 'json' or 'console'",
		})
	}

	return errs
}

func ValidateJWTSecret(secret string) error {
	if secret == "" {
		return &ValidationError{
			Field:   "auth.secret",
			Message: "required when auth is enabled",
		}
	}
	if len(secret) < 32 {
		return &ValidationError{
			Field:   "auth.secret",
			Message: "must be at least 32 characters",
		}
	}
	return nil
}
