// Package config loads service settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port   string
	DBPath string

	SchedulerEnabled     bool
	SchedulerInterval    time.Duration
	SchedulerConcurrency int

	// ArtifactDir is used when GCSBucket is empty.
	ArtifactDir string
	GCSBucket   string
	GCSPrefix   string

	// RedisAddr enables the distributed job lock and the stream dispatcher.
	// When empty, locking is in-process and deliveries are only logged.
	RedisAddr      string
	DeliveryStream string
	LockTTL        time.Duration

	RenderTimeout   time.Duration
	DispatchTimeout time.Duration

	LogLevel  string
	LogFormat string

	CORSAllowedOrigins []string

	// RateLimitPerMinute applies per client IP to manual generation and
	// statement upload.
	RateLimitPerMinute int
}

// Load reads an optional .env file, then the environment.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:   getEnv("PORT", "8080"),
		DBPath: getEnv("DB_PATH", "reports.db"),

		SchedulerEnabled:     getEnvBool("SCHEDULER_ENABLED", true),
		SchedulerInterval:    getEnvDuration("SCHEDULER_INTERVAL", time.Minute),
		SchedulerConcurrency: getEnvInt("SCHEDULER_CONCURRENCY", 4),

		ArtifactDir: getEnv("ARTIFACT_DIR", "./artifacts"),
		GCSBucket:   getEnv("GCS_BUCKET", ""),
		GCSPrefix:   getEnv("GCS_PREFIX", "reports"),

		RedisAddr:      getEnv("REDIS_ADDR", ""),
		DeliveryStream: getEnv("DELIVERY_STREAM", "report-deliveries"),
		LockTTL:        getEnvDuration("LOCK_TTL", 2*time.Minute),

		RenderTimeout:   getEnvDuration("RENDER_TIMEOUT", 30*time.Second),
		DispatchTimeout: getEnvDuration("DISPATCH_TIMEOUT", 30*time.Second),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		CORSAllowedOrigins: parseCORSOrigins(getEnv("CORS_ALLOWED_ORIGINS", "")),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
	}
}

// parseCORSOrigins splits a comma-separated list of origins and trims spaces. Empty strings are omitted.
func parseCORSOrigins(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if o := strings.TrimSpace(p); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
