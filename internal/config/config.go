// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server, logging,
// storage, notification, scheduler, and observability settings.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Repository drivers accepted by REPOSITORY_DRIVER.
const (
	DriverCSV    = "csv"
	DriverSQLite = "sqlite"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "contest-notifier")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// StorageConfig selects and locates the subscription repository.
type StorageConfig struct {
	Driver  string // csv|sqlite
	CSVPath string // USERS_CSV_PATH
	DBPath  string // DB_PATH
}

// AuthConfig holds bearer token settings.
type AuthConfig struct {
	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int
}

// SMTPConfig holds outbound email settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string // EMAIL_ADDRESS, also the From address
	Password string // EMAIL_PASSWORD
}

// TwilioConfig holds voice call settings.
type TwilioConfig struct {
	AccountSID  string
	AuthToken   string
	PhoneNumber string
	VoiceURL    string
}

// NotifyConfig groups the delivery channel settings.
type NotifyConfig struct {
	DryRun        bool   // log instead of sending
	PublicBaseURL string // used for unsubscribe links
	SMTP          SMTPConfig
	Twilio        TwilioConfig
}

// SchedulerConfig tunes the firing loop and dispatch.
type SchedulerConfig struct {
	MissTolerance time.Duration
	Concurrency   int
	RatePerSecond float64 // 0 disables throttling
	RetryAttempts int
	ShutdownGrace time.Duration
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// App
	ContestsFile string // optional YAML catalog; empty uses built-in contests
	Storage      StorageConfig
	Auth         AuthConfig
	Notify       NotifyConfig
	Scheduler    SchedulerConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	emailAddr := getenv("EMAIL_ADDRESS", "")
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		ContestsFile: getenv("CONTESTS_FILE", ""),
		Storage: StorageConfig{
			Driver:  strings.ToLower(getenv("REPOSITORY_DRIVER", DriverCSV)),
			CSVPath: getenv("USERS_CSV_PATH", "users.csv"),
			DBPath:  getenv("DB_PATH", "app.db"),
		},
		Auth: AuthConfig{
			JWTSecret:  getenv("JWT_SECRET", ""),
			TokenTTL:   getdur("TOKEN_TTL", time.Hour),
			BcryptCost: getint("BCRYPT_COST", 10),
		},
		Notify: NotifyConfig{
			DryRun:        getbool("NOTIFY_DRY_RUN", false),
			PublicBaseURL: strings.TrimRight(getenv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
			SMTP: SMTPConfig{
				Host:     getenv("SMTP_HOST", "smtp.gmail.com"),
				Port:     getint("SMTP_PORT", 587),
				Username: emailAddr,
				Password: getenv("EMAIL_PASSWORD", ""),
			},
			Twilio: TwilioConfig{
				AccountSID:  getenv("TWILIO_ACCOUNT_SID", ""),
				AuthToken:   getenv("TWILIO_AUTH_TOKEN", ""),
				PhoneNumber: getenv("TWILIO_PHONE_NUMBER", ""),
				VoiceURL:    getenv("TWILIO_VOICE_URL", ""),
			},
		},
		Scheduler: SchedulerConfig{
			MissTolerance: getdur("MISS_TOLERANCE", time.Minute),
			Concurrency:   getint("DISPATCH_CONCURRENCY", 8),
			RatePerSecond: getfloat("DISPATCH_RPS", 0),
			RetryAttempts: getint("RETRY_ATTEMPTS", 3),
			ShutdownGrace: getdur("SHUTDOWN_GRACE", 30*time.Second),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "contest-notifier"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.Storage.Driver {
	case DriverCSV:
		if strings.TrimSpace(cfg.Storage.CSVPath) == "" {
			return cfg, errors.New("USERS_CSV_PATH must not be empty")
		}
	case DriverSQLite:
		if strings.TrimSpace(cfg.Storage.DBPath) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	default:
		return cfg, errors.New("REPOSITORY_DRIVER must be one of: csv, sqlite")
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return cfg, errors.New("JWT_SECRET must not be empty")
	}
	if cfg.Auth.TokenTTL <= 0 {
		return cfg, errors.New("TOKEN_TTL must be > 0")
	}
	if cfg.Auth.BcryptCost < 4 || cfg.Auth.BcryptCost > 31 {
		return cfg, errors.New("BCRYPT_COST must be between 4 and 31")
	}
	if !cfg.Notify.DryRun {
		if cfg.Notify.SMTP.Username == "" || cfg.Notify.SMTP.Password == "" {
			return cfg, errors.New("EMAIL_ADDRESS and EMAIL_PASSWORD are required unless NOTIFY_DRY_RUN is set")
		}
		if cfg.Notify.Twilio.AccountSID == "" || cfg.Notify.Twilio.AuthToken == "" || cfg.Notify.Twilio.PhoneNumber == "" {
			return cfg, errors.New("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_PHONE_NUMBER are required unless NOTIFY_DRY_RUN is set")
		}
	}
	if cfg.Notify.SMTP.Port <= 0 || cfg.Notify.SMTP.Port > 65535 {
		return cfg, errors.New("SMTP_PORT must be a valid port")
	}
	if cfg.Scheduler.MissTolerance < 0 {
		return cfg, errors.New("MISS_TOLERANCE must be >= 0")
	}
	if cfg.Scheduler.Concurrency < 1 {
		return cfg, errors.New("DISPATCH_CONCURRENCY must be >= 1")
	}
	if cfg.Scheduler.RatePerSecond < 0 {
		return cfg, errors.New("DISPATCH_RPS must be >= 0")
	}
	if cfg.Scheduler.RetryAttempts < 1 {
		return cfg, errors.New("RETRY_ATTEMPTS must be >= 1")
	}
	if cfg.Scheduler.ShutdownGrace <= 0 {
		return cfg, errors.New("SHUTDOWN_GRACE must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
