package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env      string
	HTTPPort string

	DBDriver    string
	DatabaseURL string
	RedisAddr   string

	QueueBackend string
	QueueKey     string

	JWTIssuer         string
	JWTSigningKey     string
	AdminTTL          time.Duration
	AdminUser         string
	AdminPassword     string
	AdminPasswordHash string
	SecureCookies     bool
	AllowedOrigins    []string

	ReaderBackend string
	SerialPort    string
	SerialBaud    int

	PollInterval    time.Duration
	DebounceWindow  time.Duration
	IdleStatusEvery time.Duration

	SectionsDir string
	ReportsDir  string
	Timezone    string

	RateLimitPerMin int
	LogLevel        string
	LogFormat       string
	ExportCron      string

	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	CloudinaryFolder    string
}

// Load returns application config populated from environment variables with sensible defaults.
// A .env file in the working directory is applied first when present.
func Load() App {
	if err := godotenv.Load(); err == nil {
		log.Debug(".env file loaded")
	}

	return App{
		Env:      getEnv("APP_ENV", "dev"),
		HTTPPort: getEnv("HTTP_PORT", "5000"),

		DBDriver:    getEnv("DB_DRIVER", "sqlite3"),
		DatabaseURL: getEnv("DATABASE_URL", "data/attendance.db"),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),

		QueueBackend: getEnv("QUEUE_BACKEND", "memory"),
		QueueKey:     getEnv("QUEUE_KEY", "tapattend:reports"),

		JWTIssuer:         getEnv("JWT_ISSUER", "tapattend"),
		JWTSigningKey:     getEnv("JWT_SIGNING_KEY", "dev-signing-secret-change"),
		AdminTTL:          durationEnv("ADMIN_TTL", 12*time.Hour),
		AdminUser:         getEnv("ADMIN_USER", "admin"),
		AdminPassword:     getEnv("ADMIN_PASSWORD", ""),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		SecureCookies:     boolEnv("SECURE_COOKIES", false),
		AllowedOrigins:    listEnv("CORS_ORIGINS"),

		ReaderBackend: getEnv("READER_BACKEND", "pcsc"),
		SerialPort:    getEnv("SERIAL_PORT", "/dev/ttyUSB0"),
		SerialBaud:    intEnv("SERIAL_BAUD", 9600),

		PollInterval:    durationEnv("POLL_INTERVAL", 500*time.Millisecond),
		DebounceWindow:  durationEnv("DEBOUNCE_WINDOW", 2*time.Second),
		IdleStatusEvery: durationEnv("IDLE_STATUS_EVERY", 5*time.Second),

		SectionsDir: getEnv("SECTIONS_DIR", "data/sections"),
		ReportsDir:  getEnv("REPORTS_DIR", "data/reports"),
		Timezone:    getEnv("TIMEZONE", "Asia/Kolkata"),

		RateLimitPerMin: intEnv("RATE_LIMIT_PER_MIN", 300),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "text"),
		ExportCron:      getEnv("EXPORT_CRON", "0 23 * * *"),

		CloudinaryCloudName: getEnv("CLOUDINARY_CLOUD_NAME", ""),
		CloudinaryAPIKey:    getEnv("CLOUDINARY_API_KEY", ""),
		CloudinaryAPISecret: getEnv("CLOUDINARY_API_SECRET", ""),
		CloudinaryFolder:    getEnv("CLOUDINARY_FOLDER", "tapattend-reports"),
	}
}

// Production reports whether the app runs with production settings.
func (a App) Production() bool {
	return a.Env == "production" || a.Env == "prod"
}

// Location resolves the configured timezone, falling back to UTC.
func (a App) Location() *time.Location {
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		log.Warnf("invalid timezone %q: %v, using UTC", a.Timezone, err)
		return time.UTC
	}
	return loc
}

// Validate rejects settings that would be unsafe to run with.
func (a App) Validate() error {
	if a.Production() {
		if a.JWTSigningKey == "dev-signing-secret-change" {
			return fmt.Errorf("JWT_SIGNING_KEY must be set in production")
		}
		if a.AdminPassword == "" && a.AdminPasswordHash == "" {
			return fmt.Errorf("ADMIN_PASSWORD or ADMIN_PASSWORD_HASH must be set in production")
		}
	}
	if a.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Warnf("invalid duration for %s: %v, using fallback %s", key, err, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if val == "1" || val == "true" || val == "TRUE" {
			return true
		}
		if val == "0" || val == "false" || val == "FALSE" {
			return false
		}
		log.Warnf("invalid bool for %s, using fallback %v", key, fallback)
	}
	return fallback
}

// listEnv splits a comma-separated variable, dropping blanks.
func listEnv(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		log.Warnf("invalid int for %s, using fallback %d", key, fallback)
	}
	return fallback
}
