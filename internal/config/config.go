package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ストレージバックエンドの種別
const (
	StorageBackendSupabase = "supabase"
	StorageBackendMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Auth
	JWTSecretKey string
	JWTTTL       time.Duration

	// Generation
	GeminiAPIKey      string
	GeminiModel       string
	GenerationTimeout time.Duration

	// Heading materialization
	HeadingMaxAttempts         int
	HeadingRetryInitialBackoff time.Duration
	HeadingRetryMaxBackoff     time.Duration
	HeadingDeadline            time.Duration
	HeadingConcurrency         int

	// Blob storage
	StorageBackend     string
	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseBucket     string
	BlobFetchTimeout   time.Duration
	BlobFetchMaxSize   int64

	// Worker
	CleanupInterval   time.Duration
	WorkerMetricsPort string // 空の場合はワーカーの/metricsを公開しない

	// Rate Limit（req/min）
	RateLimitGeneral    int
	RateLimitGeneration int

	// Logging
	LogLevel string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecretKey = os.Getenv("JWT_SECRET_KEY")
	if cfg.JWTSecretKey == "" {
		missing = append(missing, "JWT_SECRET_KEY")
	}

	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	if cfg.GeminiAPIKey == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}

	cfg.StorageBackend = strings.ToLower(getEnvString("STORAGE_BACKEND", StorageBackendSupabase))
	switch cfg.StorageBackend {
	case StorageBackendSupabase:
		cfg.SupabaseURL = os.Getenv("SUPABASE_URL")
		if cfg.SupabaseURL == "" {
			missing = append(missing, "SUPABASE_URL")
		}
		cfg.SupabaseServiceKey = os.Getenv("SUPABASE_SERVICE_KEY")
		if cfg.SupabaseServiceKey == "" {
			missing = append(missing, "SUPABASE_SERVICE_KEY")
		}
		cfg.SupabaseBucket = os.Getenv("SUPABASE_BUCKET")
		if cfg.SupabaseBucket == "" {
			missing = append(missing, "SUPABASE_BUCKET")
		}
	case StorageBackendMemory:
	default:
		return nil, fmt.Errorf("unsupported STORAGE_BACKEND: %s", cfg.StorageBackend)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.JWTTTL = getEnvDuration("JWT_TTL", 24*time.Hour)
	cfg.GeminiModel = getEnvString("GEMINI_MODEL", "gemini-1.5-flash")
	cfg.GenerationTimeout = getEnvDuration("GENERATION_TIMEOUT", 60*time.Second)
	cfg.HeadingMaxAttempts = getEnvInt("HEADING_MAX_ATTEMPTS", 5)
	cfg.HeadingRetryInitialBackoff = getEnvDuration("HEADING_RETRY_INITIAL_BACKOFF", 500*time.Millisecond)
	cfg.HeadingRetryMaxBackoff = getEnvDuration("HEADING_RETRY_MAX_BACKOFF", 8*time.Second)
	cfg.HeadingDeadline = getEnvDuration("HEADING_DEADLINE", 2*time.Minute)
	cfg.HeadingConcurrency = getEnvInt("HEADING_CONCURRENCY", 4)
	cfg.BlobFetchTimeout = getEnvDuration("BLOB_FETCH_TIMEOUT", 10*time.Second)
	cfg.BlobFetchMaxSize = getEnvInt64("BLOB_FETCH_MAX_SIZE", 10485760)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.WorkerMetricsPort = os.Getenv("WORKER_METRICS_PORT")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitGeneration = getEnvInt("RATE_LIMIT_GENERATION", 10)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "*")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
