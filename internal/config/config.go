package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreMemory   = "memory"
)

// Config is the full runtime configuration. It is built once at startup and
// passed by value into the components that need it.
type Config struct {
	Port        string
	Environment string
	SentryDSN   string
	DatabaseURL string
	RedisURL    string

	DBMaxOpenConns int
	DBMaxIdleConns int

	// SessionStore selects the session registry backend. StoreMemory also
	// keeps users, attempts and reset tokens in process.
	SessionStore string

	JWTSecret     string
	SessionKey    string
	CookieSecure  bool
	SessionTTL    time.Duration
	TokenLeeway   time.Duration
	SweepInterval time.Duration

	MaxLoginAttempts  int
	LockDuration      time.Duration
	GenericLoginError bool

	ResetTokenTTL           time.Duration
	ResetInvalidatePrevious bool
	PasswordMinLength       int
	PasswordHashMethod      string

	BaseURL     string
	LandingPath string

	SMTP              SMTPConfig
	MailRatePerMinute int

	CronSecret            string
	LoginAttemptRetention time.Duration
	CleanupBatchSize      int

	AdminUsername string
	AdminPassword string
	AdminEmail    string

	RunMigrations bool
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.From != ""
}

// Load reads the configuration from the environment. When loadDotEnv is set a
// local .env file is applied first; a missing file is not an error.
func Load(loadDotEnv bool) (Config, error) {
	if loadDotEnv {
		_ = godotenv.Load()
	}

	cfg := Config{
		Port:        envOrDefault("PORT", "8080"),
		Environment: envOrDefault("APP_ENV", "development"),
		SentryDSN:   strings.TrimSpace(os.Getenv("SENTRY_DSN")),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:    envOrDefault("REDIS_URL", "redis://localhost:6379/0"),

		DBMaxOpenConns: envIntOrDefault("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns: envIntOrDefault("DB_MAX_IDLE_CONNS", 5),
		SessionStore:   strings.ToLower(envOrDefault("SESSION_STORE", StorePostgres)),

		CookieSecure:  EnvBoolOrDefault("COOKIE_SECURE", false),
		SessionTTL:    envHoursOrDefault("SESSION_TTL_HOURS", 24),
		TokenLeeway:   envSecondsOrDefault("TOKEN_LEEWAY_SECONDS", 10),
		SweepInterval: envMinutesOrDefault("SESSION_SWEEP_MINUTES", 10),

		MaxLoginAttempts:  envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
		LockDuration:      envMinutesOrDefault("LOGIN_LOCK_MINUTES", 5),
		GenericLoginError: EnvBoolOrDefault("LOGIN_GENERIC_ERRORS", false),

		ResetTokenTTL:           envMinutesOrDefault("RESET_TOKEN_TTL_MINUTES", 10),
		ResetInvalidatePrevious: EnvBoolOrDefault("RESET_INVALIDATE_PREVIOUS", true),
		PasswordMinLength:       envIntOrDefault("PASSWORD_MIN_LENGTH", 6),
		PasswordHashMethod:      strings.ToLower(envOrDefault("PASSWORD_HASH_METHOD", "scrypt")),

		BaseURL:     strings.TrimRight(strings.TrimSpace(os.Getenv("APP_BASE_URL")), "/"),
		LandingPath: envOrDefault("LANDING_PATH", "/dashboard_analytics"),

		SMTP: SMTPConfig{
			Host:     strings.TrimSpace(os.Getenv("SMTP_HOST")),
			Port:     envIntOrDefault("SMTP_PORT", 465),
			Username: strings.TrimSpace(os.Getenv("SMTP_USERNAME")),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     strings.TrimSpace(os.Getenv("SMTP_FROM")),
		},
		MailRatePerMinute: envIntOrDefault("MAIL_RATE_PER_MINUTE", 30),

		CronSecret:            strings.TrimSpace(os.Getenv("CRON_SECRET")),
		LoginAttemptRetention: envDaysOrDefault("AUTH_LOGIN_ATTEMPT_RETENTION_DAYS", 30),
		CleanupBatchSize:      envIntOrDefault("AUTH_CLEANUP_BATCH_SIZE", 500),

		AdminUsername: strings.TrimSpace(os.Getenv("ADMIN_USERNAME")),
		AdminPassword: strings.TrimSpace(os.Getenv("ADMIN_PASSWORD")),
		AdminEmail:    strings.TrimSpace(os.Getenv("ADMIN_EMAIL")),

		RunMigrations: EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", true),
	}

	var err error
	if cfg.JWTSecret, err = mustEnv("JWT_SECRET"); err != nil {
		return Config{}, err
	}
	if cfg.SessionKey, err = mustEnv("SESSION_KEY"); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	switch c.SessionStore {
	case StorePostgres, StoreRedis:
		if c.DatabaseURL == "" {
			return fmt.Errorf("missing required env: DATABASE_URL")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown SESSION_STORE %q", c.SessionStore)
	}

	switch c.PasswordHashMethod {
	case "scrypt", "pbkdf2", "bcrypt":
	default:
		return fmt.Errorf("unknown PASSWORD_HASH_METHOD %q", c.PasswordHashMethod)
	}

	if (c.AdminUsername == "") != (c.AdminPassword == "") {
		return fmt.Errorf("ADMIN_USERNAME and ADMIN_PASSWORD are required together")
	}

	return nil
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
