package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shilei2024/foodai/internal/flagx"
	"github.com/shilei2024/foodai/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Intervals
// use timex.Duration so they can be given as "3s" or integer nanoseconds.
// Pointer fields tell "absent" from "zero" so a partial file only
// overrides what it names.
type JsonConfig struct {
	Reconciler          *string         `json:"reconciler"`
	ServerEndpointAddr  *string         `json:"server_endpoint_addr"`
	ClientID            *string         `json:"client_id"`
	ClientSecret        *string         `json:"client_secret"`
	Collection          *string         `json:"collection"`
	OnlineCheckInterval *timex.Duration `json:"online_check_interval"`

	DataDir       *string `json:"data_dir"`
	DBFile        *string `json:"db_file"`
	MaxRecords    *int    `json:"max_records"`
	MaxQueueItems *int    `json:"max_queue_items"`

	SyncInterval  *timex.Duration `json:"sync_interval"`
	MaxRetries    *int            `json:"max_retries"`
	SyncRetention *timex.Duration `json:"sync_retention"`
	ApplyTimeout  *timex.Duration `json:"apply_timeout"`

	TokenRefreshMargin *timex.Duration `json:"token_refresh_margin"`
	TokenSafetyMargin  *timex.Duration `json:"token_safety_margin"`
	ResultCacheTTL     *timex.Duration `json:"result_cache_ttl"`
	ResultCacheSize    *int            `json:"result_cache_size"`

	S3Region    *string `json:"s3_region"`
	S3Endpoint  *string `json:"s3_endpoint"`
	S3AccessKey *string `json:"s3_access_key"`
	S3SecretKey *string `json:"s3_secret_key"`
	S3Bucket    *string `json:"s3_bucket"`
	S3Prefix    *string `json:"s3_prefix"`

	ProviderTokenURL     *string `json:"provider_token_url"`
	ProviderClientID     *string `json:"provider_client_id"`
	ProviderClientSecret *string `json:"provider_client_secret"`
	ProviderScope        *string `json:"provider_scope"`
	RecognizeURL         *string `json:"recognize_url"`

	LogLevel  *string `json:"log_level"`
	LogFormat *string `json:"log_format"`
}

// parseJson overlays Config with values loaded from the JSON file named
// by -c or -config. Without such a flag nothing is loaded.
func parseJson(cfg *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	jc.apply(cfg)
	return nil
}

func (jc *JsonConfig) apply(cfg *Config) {
	set(&cfg.Reconciler, jc.Reconciler)
	set(&cfg.ServerEndpointAddr, jc.ServerEndpointAddr)
	set(&cfg.ClientID, jc.ClientID)
	set(&cfg.ClientSecret, jc.ClientSecret)
	set(&cfg.Collection, jc.Collection)
	setDuration(&cfg.OnlineCheckInterval, jc.OnlineCheckInterval)

	set(&cfg.DataDir, jc.DataDir)
	set(&cfg.DBFile, jc.DBFile)
	set(&cfg.MaxRecords, jc.MaxRecords)
	set(&cfg.MaxQueueItems, jc.MaxQueueItems)

	setDuration(&cfg.SyncInterval, jc.SyncInterval)
	set(&cfg.MaxRetries, jc.MaxRetries)
	setDuration(&cfg.SyncRetention, jc.SyncRetention)
	setDuration(&cfg.ApplyTimeout, jc.ApplyTimeout)

	setDuration(&cfg.TokenRefreshMargin, jc.TokenRefreshMargin)
	setDuration(&cfg.TokenSafetyMargin, jc.TokenSafetyMargin)
	setDuration(&cfg.ResultCacheTTL, jc.ResultCacheTTL)
	set(&cfg.ResultCacheSize, jc.ResultCacheSize)

	set(&cfg.S3Region, jc.S3Region)
	set(&cfg.S3Endpoint, jc.S3Endpoint)
	set(&cfg.S3AccessKey, jc.S3AccessKey)
	set(&cfg.S3SecretKey, jc.S3SecretKey)
	set(&cfg.S3Bucket, jc.S3Bucket)
	set(&cfg.S3Prefix, jc.S3Prefix)

	set(&cfg.ProviderTokenURL, jc.ProviderTokenURL)
	set(&cfg.ProviderClientID, jc.ProviderClientID)
	set(&cfg.ProviderClientSecret, jc.ProviderClientSecret)
	set(&cfg.ProviderScope, jc.ProviderScope)
	set(&cfg.RecognizeURL, jc.RecognizeURL)

	set(&cfg.LogLevel, jc.LogLevel)
	set(&cfg.LogFormat, jc.LogFormat)
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
