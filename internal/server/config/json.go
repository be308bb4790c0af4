package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/gophdrop/internal/flagx"
	"github.com/dmitrijs2005/gophdrop/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Every field is
// optional; pointer fields distinguish "absent" from a zero value so a
// partial file only overrides what it mentions.
type JsonConfig struct {
	EndpointAddrGRPC *string         `json:"endpoint_addr_grpc"`
	Registry         *string         `json:"registry"`
	DatabaseDSN      *string         `json:"database_dsn"`
	RedisAddr        *string         `json:"redis_addr"`
	RedisPassword    *string         `json:"redis_password"`
	RedisDB          *int            `json:"redis_db"`
	SecretKey        *string         `json:"secret_key"`
	S3RootUser       *string         `json:"s3_root_user"`
	S3RootPassword   *string         `json:"s3_root_password"`
	S3Bucket         *string         `json:"s3_bucket"`
	S3Region         *string         `json:"s3_region"`
	S3BaseEndpoint   *string         `json:"s3_base_endpoint"`
	S3UsePathStyle   *bool           `json:"s3_use_path_style"`
	S3KeyPrefix      *string         `json:"s3_key_prefix"`
	PublicBaseURL    *string         `json:"public_base_url"`
	SessionTTL       *timex.Duration `json:"session_ttl"`
	PartURLTTL       *timex.Duration `json:"part_url_ttl"`
	DownloadURLTTL   *timex.Duration `json:"download_url_ttl"`
	ReaperInterval   *timex.Duration `json:"reaper_interval"`
	ReaperBatchSize  *int            `json:"reaper_batch_size"`
	StaleUploadAge   *timex.Duration `json:"stale_upload_age"`
	JanitorEvery     *int            `json:"janitor_every"`
	NotifyQueueURL   *string         `json:"notify_queue_url"`
	LogLevel         *string         `json:"log_level"`
	LogFormat        *string         `json:"log_format"`
}

// parseJson loads configuration values from the JSON file named by -c/-config
// (or $GOPHDROP_CONFIG) into config. Nothing happens when no file is named.
// An unreadable file or invalid JSON panics: the process must not start with
// a half-applied configuration.
func parseJson(config *Config) {
	jsonConfigFile := flagx.ConfigFileFlag()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	str := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	num := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	dur := func(dst *time.Duration, v *timex.Duration) {
		if v != nil {
			*dst = v.Duration
		}
	}

	str(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	str(&config.Registry, c.Registry)
	str(&config.DatabaseDSN, c.DatabaseDSN)
	str(&config.RedisAddr, c.RedisAddr)
	str(&config.RedisPassword, c.RedisPassword)
	num(&config.RedisDB, c.RedisDB)
	str(&config.SecretKey, c.SecretKey)
	str(&config.S3RootUser, c.S3RootUser)
	str(&config.S3RootPassword, c.S3RootPassword)
	str(&config.S3Bucket, c.S3Bucket)
	str(&config.S3Region, c.S3Region)
	str(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	if c.S3UsePathStyle != nil {
		config.S3UsePathStyle = *c.S3UsePathStyle
	}
	str(&config.S3KeyPrefix, c.S3KeyPrefix)
	str(&config.PublicBaseURL, c.PublicBaseURL)
	dur(&config.SessionTTL, c.SessionTTL)
	dur(&config.PartURLTTL, c.PartURLTTL)
	dur(&config.DownloadURLTTL, c.DownloadURLTTL)
	dur(&config.ReaperInterval, c.ReaperInterval)
	num(&config.ReaperBatchSize, c.ReaperBatchSize)
	dur(&config.StaleUploadAge, c.StaleUploadAge)
	num(&config.JanitorEvery, c.JanitorEvery)
	str(&config.NotifyQueueURL, c.NotifyQueueURL)
	str(&config.LogLevel, c.LogLevel)
	str(&config.LogFormat, c.LogFormat)
}
