package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/orgware/owconnect/internal/flagx"
	"github.com/orgware/owconnect/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations
// accept strings such as "1m" as well as integer nanoseconds. Absent
// fields leave the current value untouched.
type JsonConfig struct {
	HTTPAddr           *string         `json:"http_addr"`
	GRPCAddr           *string         `json:"grpc_addr"`
	StorageBackend     *string         `json:"storage_backend"`
	DatabaseDSN        *string         `json:"database_dsn"`
	ShutdownTimeout    *timex.Duration `json:"shutdown_timeout"`
	SystemAccountCode  *string         `json:"system_account_code"`
	AccessTokenPeriod  *timex.Duration `json:"access_token_period"`
	RefreshTokenPeriod *timex.Duration `json:"refresh_token_period"`
	AccessTokenSecret  *string         `json:"access_token_secret"`
	RefreshTokenSecret *string         `json:"refresh_token_secret"`
	AdminPassword      *string         `json:"admin_password"`
	BcryptCost         *int            `json:"bcrypt_cost"`
	EventQueueSize     *int            `json:"event_queue_size"`
	CacheSize          *int            `json:"cache_size"`
	LogFormat          *string         `json:"log_format"`
	LogLevel           *string         `json:"log_level"`
	S3AccessKey        *string         `json:"s3_access_key"`
	S3SecretKey        *string         `json:"s3_secret_key"`
	S3Bucket           *string         `json:"s3_bucket"`
	S3Region           *string         `json:"s3_region"`
	S3BaseEndpoint     *string         `json:"s3_base_endpoint"`
}

func jsonFile(args []string) string {
	return flagx.Lookup(args, "config", "c")
}

// parseJson overlays the JSON file at path onto config. An empty path loads nothing.
func parseJson(config *Config, path string) error {
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return err
	}

	set(&config.HTTPAddr, c.HTTPAddr)
	set(&config.GRPCAddr, c.GRPCAddr)
	set(&config.StorageBackend, c.StorageBackend)
	set(&config.DatabaseDSN, c.DatabaseDSN)
	setDuration(&config.ShutdownTimeout, c.ShutdownTimeout)
	set(&config.SystemAccountCode, c.SystemAccountCode)
	setDuration(&config.AccessTokenPeriod, c.AccessTokenPeriod)
	setDuration(&config.RefreshTokenPeriod, c.RefreshTokenPeriod)
	set(&config.AccessTokenSecret, c.AccessTokenSecret)
	set(&config.RefreshTokenSecret, c.RefreshTokenSecret)
	set(&config.AdminPassword, c.AdminPassword)
	set(&config.BcryptCost, c.BcryptCost)
	set(&config.EventQueueSize, c.EventQueueSize)
	set(&config.CacheSize, c.CacheSize)
	set(&config.LogFormat, c.LogFormat)
	set(&config.LogLevel, c.LogLevel)
	set(&config.S3AccessKey, c.S3AccessKey)
	set(&config.S3SecretKey, c.S3SecretKey)
	set(&config.S3Bucket, c.S3Bucket)
	set(&config.S3Region, c.S3Region)
	set(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = time.Duration(v.Duration)
	}
}
