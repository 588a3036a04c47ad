package config

import (
	"flag"
	"io"
	"time"

	"github.com/orgware/owconnect/internal/flagx"
)

var knownFlags = []string{
	"-a", "-grpc", "-storage", "-d", "-system",
	"-t", "-r", "-log-format", "-log-level",
	"-u", "-p", "-b", "-g", "-e",
}

// parseFlags overlays selected Config fields from command-line flags.
//
// Supported flags:
//
//	-a string          HTTP gateway address (e.g. ":9000")
//	-grpc string       gRPC address
//	-storage string    storage backend: postgres or memory
//	-d string          PostgreSQL DSN
//	-system string     system account employee code
//	-t int             default access token period, minutes
//	-r int             default refresh token period, minutes
//	-log-format string slog or zerolog
//	-log-level string  debug, info, warn or error
//	-u string          S3 access key
//	-p string          S3 secret key
//	-b string          S3 bucket
//	-g string          S3 region
//	-e string          S3 base endpoint
//
// Args are filtered with flagx.FilterArgs first so flags owned by other
// layers (-c, -env) do not collide.
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, knownFlags)

	fs := flag.NewFlagSet("owconnect", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "HTTP gateway address")
	fs.StringVar(&config.GRPCAddr, "grpc", config.GRPCAddr, "gRPC address")
	fs.StringVar(&config.StorageBackend, "storage", config.StorageBackend, "storage backend (postgres|memory)")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SystemAccountCode, "system", config.SystemAccountCode, "system account code")

	accessPeriod := fs.Int("t", int(config.AccessTokenPeriod.Minutes()), "access token period (in minutes)")
	refreshPeriod := fs.Int("r", int(config.RefreshTokenPeriod.Minutes()), "refresh token period (in minutes)")

	fs.StringVar(&config.LogFormat, "log-format", config.LogFormat, "log format (slog|zerolog)")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "log level")

	fs.StringVar(&config.S3AccessKey, "u", config.S3AccessKey, "S3 access key")
	fs.StringVar(&config.S3SecretKey, "p", config.S3SecretKey, "S3 secret key")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		return err
	}

	config.AccessTokenPeriod = time.Duration(*accessPeriod) * time.Minute
	config.RefreshTokenPeriod = time.Duration(*refreshPeriod) * time.Minute
	return nil
}
