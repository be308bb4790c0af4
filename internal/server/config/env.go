package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// envPrefix is prepended to every variable name read by parseEnv.
const envPrefix = "GOPHDROP_"

// loadDotEnv is a seam for tests; a missing .env file is not an error.
var loadDotEnv = func() { _ = godotenv.Load() }

// parseEnv overlays GOPHDROP_* environment variables onto config. A .env file
// in the working directory is loaded first and never overrides variables
// already present in the process environment.
//
// Durations accept Go syntax ("2h", "45s"). Malformed numbers and durations
// are ignored and the previous value is kept.
func parseEnv(config *Config) {
	loadDotEnv()

	setString(&config.EndpointAddrGRPC, "GRPC_ADDR")
	setString(&config.Registry, "REGISTRY")
	setString(&config.DatabaseDSN, "DATABASE_DSN")
	setString(&config.RedisAddr, "REDIS_ADDR")
	setString(&config.RedisPassword, "REDIS_PASSWORD")
	setInt(&config.RedisDB, "REDIS_DB")
	setString(&config.SecretKey, "SECRET_KEY")
	setString(&config.S3RootUser, "S3_ROOT_USER")
	setString(&config.S3RootPassword, "S3_ROOT_PASSWORD")
	setString(&config.S3Bucket, "S3_BUCKET")
	setString(&config.S3Region, "S3_REGION")
	setString(&config.S3BaseEndpoint, "S3_BASE_ENDPOINT")
	setBool(&config.S3UsePathStyle, "S3_USE_PATH_STYLE")
	setString(&config.S3KeyPrefix, "S3_KEY_PREFIX")
	setString(&config.PublicBaseURL, "PUBLIC_BASE_URL")
	setDuration(&config.SessionTTL, "SESSION_TTL")
	setDuration(&config.PartURLTTL, "PART_URL_TTL")
	setDuration(&config.DownloadURLTTL, "DOWNLOAD_URL_TTL")
	setDuration(&config.ReaperInterval, "REAPER_INTERVAL")
	setInt(&config.ReaperBatchSize, "REAPER_BATCH_SIZE")
	setDuration(&config.StaleUploadAge, "STALE_UPLOAD_AGE")
	setInt(&config.JanitorEvery, "JANITOR_EVERY")
	setString(&config.NotifyQueueURL, "NOTIFY_QUEUE_URL")
	setString(&config.LogLevel, "LOG_LEVEL")
	setString(&config.LogFormat, "LOG_FORMAT")
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func setString(dst *string, name string) {
	if v, ok := lookup(name); ok {
		*dst = v
	}
}

func setInt(dst *int, name string) {
	if v, ok := lookup(name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, name string) {
	if v, ok := lookup(name); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, name string) {
	if v, ok := lookup(name); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
