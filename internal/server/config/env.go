package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/orgware/owconnect/internal/flagx"
)

const envPrefix = "OWCONNECT_"

func envFile(args []string) string {
	return flagx.Lookup(args, "env")
}

// parseEnv overlays OWCONNECT_* variables. When path is set the file must
// exist; otherwise a .env in the working directory is loaded if present.
// Variables already in the environment win over the file.
func parseEnv(cfg *Config, path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return err
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(name string, dst *int) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	str("HTTP_ADDR", &cfg.HTTPAddr)
	str("GRPC_ADDR", &cfg.GRPCAddr)
	str("STORAGE_BACKEND", &cfg.StorageBackend)
	str("DATABASE_DSN", &cfg.DatabaseDSN)
	dur("SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)
	str("SYSTEM_ACCOUNT_CODE", &cfg.SystemAccountCode)
	dur("ACCESS_TOKEN_PERIOD", &cfg.AccessTokenPeriod)
	dur("REFRESH_TOKEN_PERIOD", &cfg.RefreshTokenPeriod)
	str("ACCESS_TOKEN_SECRET", &cfg.AccessTokenSecret)
	str("REFRESH_TOKEN_SECRET", &cfg.RefreshTokenSecret)
	str("ADMIN_PASSWORD", &cfg.AdminPassword)
	num("BCRYPT_COST", &cfg.BcryptCost)
	num("EVENT_QUEUE_SIZE", &cfg.EventQueueSize)
	num("CACHE_SIZE", &cfg.CacheSize)
	str("LOG_FORMAT", &cfg.LogFormat)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("S3_ACCESS_KEY", &cfg.S3AccessKey)
	str("S3_SECRET_KEY", &cfg.S3SecretKey)
	str("S3_BUCKET", &cfg.S3Bucket)
	str("S3_REGION", &cfg.S3Region)
	str("S3_BASE_ENDPOINT", &cfg.S3BaseEndpoint)

	return errors.Join(errs...)
}
