// Package config loads evalcore settings from the process environment, with
// optional .env file support for local development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Settings carries every tunable the server and worker read.
type Settings struct {
	HTTPAddr    string
	StoreDriver string // postgres | sqlite | memory
	DatabaseURL string
	SQLitePath  string

	OpenAIAPIKey    string
	AnthropicAPIKey string
	GeminiAPIKey    string
	DefaultModel    string

	EvalConcurrencyLimit int
	EvalMaxRetries       int
	EvalTimeout          time.Duration
	PollInterval         time.Duration
	StaleRunThreshold    time.Duration // 0 disables stale-run requeue

	ArchiveDriver      string // memory | fs | s3; empty disables archiving
	ArchiveFSRoot      string
	ArchiveS3Bucket    string
	ArchiveS3Region    string
	ArchiveS3Endpoint  string
	ArchiveS3PathStyle bool
}

// Load reads settings from the environment. A .env file in the working
// directory is merged in first when present.
func Load() Settings {
	_ = godotenv.Load(".env")
	return Settings{
		HTTPAddr:    envString("EVALCORE_HTTP_ADDR", ":8080"),
		StoreDriver: envString("EVALCORE_STORE_DRIVER", "postgres"),
		DatabaseURL: envString("DATABASE_URL", ""),
		SQLitePath:  envString("EVALCORE_SQLITE_PATH", "./evalcore.db"),

		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		DefaultModel:    envString("DEFAULT_MODEL", "gpt-4o-mini"),

		EvalConcurrencyLimit: envInt("EVAL_CONCURRENCY_LIMIT", 10),
		EvalMaxRetries:       envInt("EVAL_MAX_RETRIES", 3),
		EvalTimeout:          time.Duration(envInt("EVAL_TIMEOUT_SECONDS", 120)) * time.Second,
		PollInterval:         time.Duration(envInt("EVAL_POLL_INTERVAL_SECONDS", 5)) * time.Second,
		StaleRunThreshold:    time.Duration(envInt("EVAL_STALE_RUN_THRESHOLD_MINUTES", 30)) * time.Minute,

		ArchiveDriver:      os.Getenv("EVALCORE_ARCHIVE_DRIVER"),
		ArchiveFSRoot:      envString("EVALCORE_ARCHIVE_FS_ROOT", "./reports"),
		ArchiveS3Bucket:    os.Getenv("EVALCORE_ARCHIVE_S3_BUCKET"),
		ArchiveS3Region:    os.Getenv("EVALCORE_ARCHIVE_S3_REGION"),
		ArchiveS3Endpoint:  os.Getenv("EVALCORE_ARCHIVE_S3_ENDPOINT"),
		ArchiveS3PathStyle: envBool("EVALCORE_ARCHIVE_S3_PATH_STYLE", false),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
