// package config loads application configuration from environment variables.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// telegram
	TGApiID       int
	TGApiHash     string
	TGSessionStr  string
	TGSessionFile string
	TGPhone       string
	TGRPS         float64

	// spool
	SpoolThresholdMB int
	SpoolDir         string

	// transfer
	RelayConcurrency     int
	CheckpointFile       string
	UploadPartKB         int
	UploadFallbackPartKB int
	UploadRetries        int
	FloodDefaultWaitSec  int

	// archive
	ExportDir          string
	ExportWorkers      int
	ImportDelaySeconds int

	// events
	NatsURL string

	// logging
	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is applied first when present;
// variables already set in the environment win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		TGApiID:              getEnvInt("TG_API_ID", 0),
		TGApiHash:            getEnv("TG_API_HASH", ""),
		TGSessionStr:         getEnv("TG_SESSION_STRING", ""),
		TGSessionFile:        getEnv("TG_SESSION_FILE", "./data/session.db"),
		TGPhone:              getEnv("TG_PHONE", ""),
		TGRPS:                getEnvFloat("TG_RPS", 2.0),
		SpoolThresholdMB:     getEnvInt("SPOOL_THRESHOLD_MB", 512),
		SpoolDir:             getEnv("SPOOL_DIR", ""),
		RelayConcurrency:     getEnvInt("RELAY_CONCURRENCY", 1),
		CheckpointFile:       getEnv("CHECKPOINT_FILE", "cli_checkpoint.json"),
		UploadPartKB:         getEnvInt("UPLOAD_PART_KB", 512),
		UploadFallbackPartKB: getEnvInt("UPLOAD_FALLBACK_PART_KB", 256),
		UploadRetries:        getEnvInt("UPLOAD_RETRIES", 1),
		FloodDefaultWaitSec:  getEnvInt("FLOOD_DEFAULT_WAIT_SECONDS", 60),
		ExportDir:            getEnv("EXPORT_DIR", "."),
		ExportWorkers:        getEnvInt("EXPORT_WORKERS", 5),
		ImportDelaySeconds:   getEnvInt("IMPORT_DELAY_SECONDS", 2),
		NatsURL:              getEnv("NATS_URL", ""),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFile:              getEnv("LOG_FILE", "./logs/teleclone.log"),
	}

	if cfg.RelayConcurrency < 1 {
		cfg.RelayConcurrency = 1
	}
	if cfg.ExportWorkers < 1 {
		cfg.ExportWorkers = 1
	}
	if cfg.UploadRetries < 0 {
		cfg.UploadRetries = 0
	}

	return cfg, nil
}

// SpoolThresholdBytes returns the spool spill threshold in bytes.
func (c *Config) SpoolThresholdBytes() int64 {
	return int64(c.SpoolThresholdMB) << 20
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
