package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	WorkerEnabled      bool
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Result store (Supabase-compatible object storage)
	StoreURL        string
	StoreServiceKey string
	StoreBucket     string

	// Remote render backend
	RenderEndpoint    string
	RenderAPIKey      string
	RenderEnabled     bool          // Feature flag: when false, every segment renders locally
	RenderTimeout     time.Duration // Per-call remote render timeout
	RenderMaxAttempts int           // Remote attempts per segment before local fallback

	// Acceptance
	AcceptThreshold float64 // Fraction of segments that must render for partial acceptance
	GapPolicy       string  // placeholder | skip

	// Local rendering
	TempDir          string
	LocalRenderSlots int // Concurrent local fallback renders (0 = number of CPUs)
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:            getEnv("API_PORT", "8080"),
		WorkerEnabled:      getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:      getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		StoreURL:           getEnv("STORE_URL", ""),
		StoreServiceKey:    getEnv("STORE_SERVICE_KEY", ""),
		StoreBucket:        getEnv("STORE_BUCKET", "burnline-videos"),
		RenderEndpoint:     getEnv("RENDER_ENDPOINT", ""),
		RenderAPIKey:       getEnv("RENDER_API_KEY", ""),
		RenderEnabled:      getEnvBool("RENDER_ENABLED", true),
		RenderTimeout:      getEnvDuration("RENDER_TIMEOUT", 3*time.Minute),
		RenderMaxAttempts:  getEnvInt("RENDER_MAX_ATTEMPTS", 3),
		AcceptThreshold:    getEnvFloat("ACCEPT_THRESHOLD", 0.6),
		GapPolicy:          getEnv("GAP_POLICY", "placeholder"),
		TempDir:            getEnv("TEMP_DIR", "/tmp/burnline"),
		LocalRenderSlots:   getEnvInt("LOCAL_RENDER_SLOTS", 0),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.StoreURL == "" || cfg.StoreServiceKey == "" {
		return nil, fmt.Errorf("STORE_URL and STORE_SERVICE_KEY are required")
	}

	if cfg.RenderEnabled && cfg.RenderEndpoint == "" {
		return nil, fmt.Errorf("RENDER_ENDPOINT is required when remote rendering is enabled")
	}

	if cfg.AcceptThreshold <= 0 || cfg.AcceptThreshold > 1 {
		return nil, fmt.Errorf("ACCEPT_THRESHOLD must be in (0, 1], got %v", cfg.AcceptThreshold)
	}

	if cfg.GapPolicy != "placeholder" && cfg.GapPolicy != "skip" {
		return nil, fmt.Errorf("GAP_POLICY must be placeholder or skip, got %q", cfg.GapPolicy)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
