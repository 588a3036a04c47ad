package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, ":9000", c.HTTPAddr)
	assert.Equal(t, BackendMemory, c.StorageBackend)
	assert.Equal(t, "0000000000", c.SystemAccountCode)
	assert.Equal(t, 500*time.Minute, c.AccessTokenPeriod)
	assert.Equal(t, 1000*time.Minute, c.RefreshTokenPeriod)
	assert.Equal(t, "redblod", c.AdminPassword)
	assert.NoError(t, c.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"postgres with dsn", func(c *Config) { c.StorageBackend = BackendPostgres }, true},
		{"postgres without dsn", func(c *Config) { c.StorageBackend = BackendPostgres; c.DatabaseDSN = "" }, false},
		{"unknown backend", func(c *Config) { c.StorageBackend = "mongo" }, false},
		{"zero period", func(c *Config) { c.AccessTokenPeriod = 0 }, false},
		{"empty secret", func(c *Config) { c.RefreshTokenSecret = "" }, false},
		{"zero cache", func(c *Config) { c.CacheSize = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Config
			c.LoadDefaults()
			tt.mutate(&c)
			if tt.ok {
				assert.NoError(t, c.Validate())
			} else {
				assert.Error(t, c.Validate())
			}
		})
	}
}

func TestLoad_LayerPrecedence(t *testing.T) {
	dir := t.TempDir()

	envPath := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envPath, []byte(
		"OWCONNECT_HTTP_ADDR=:7000\nOWCONNECT_CACHE_SIZE=32\nOWCONNECT_LOG_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("OWCONNECT_HTTP_ADDR")
		os.Unsetenv("OWCONNECT_CACHE_SIZE")
		os.Unsetenv("OWCONNECT_LOG_LEVEL")
	})

	jsonPath := writeTempJSON(t, dir, "cfg.json", map[string]any{
		"http_addr":           ":8000",
		"access_token_period": "30m",
	})

	cfg, err := load([]string{"-env", envPath, "-c", jsonPath, "-a", ":9100", "-r", "60"})
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.HTTPAddr, "flags win over json and env")
	assert.Equal(t, 30*time.Minute, cfg.AccessTokenPeriod, "json wins over defaults")
	assert.Equal(t, 60*time.Minute, cfg.RefreshTokenPeriod)
	assert.Equal(t, 32, cfg.CacheSize, "env wins over defaults")
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := load([]string{"-env", filepath.Join(dir, "missing.env")})
	assert.Error(t, err)

	_, err = load([]string{"-c", filepath.Join(dir, "missing.json")})
	assert.Error(t, err)

	_, err = load([]string{"-storage", "mongo"})
	assert.Error(t, err)
}

func TestParseEnv_BadNumber(t *testing.T) {
	t.Setenv("OWCONNECT_EVENT_QUEUE_SIZE", "many")
	t.Setenv("OWCONNECT_SHUTDOWN_TIMEOUT", "soon")

	var c Config
	c.LoadDefaults()
	err := parseEnv(&c, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OWCONNECT_EVENT_QUEUE_SIZE")
	assert.Contains(t, err.Error(), "OWCONNECT_SHUTDOWN_TIMEOUT")
}

func TestParseFlags(t *testing.T) {
	var c Config
	c.LoadDefaults()

	err := parseFlags(&c, []string{
		"-a", "127.0.0.1:9090", "-grpc", ":6000", "-storage", "postgres", "-d", "db",
		"-t", "1", "-r", "3", "-u", "user", "-p", "password", "-b", "bucket", "-g", "us-west-1", "-e", "http://endpoint",
		"-c", "ignored.json",
	})
	require.NoError(t, err)

	want := Config{}
	want.LoadDefaults()
	want.HTTPAddr = "127.0.0.1:9090"
	want.GRPCAddr = ":6000"
	want.StorageBackend = BackendPostgres
	want.DatabaseDSN = "db"
	want.AccessTokenPeriod = time.Minute
	want.RefreshTokenPeriod = 3 * time.Minute
	want.S3AccessKey = "user"
	want.S3SecretKey = "password"
	want.S3Bucket = "bucket"
	want.S3Region = "us-west-1"
	want.S3BaseEndpoint = "http://endpoint"

	assert.Empty(t, cmp.Diff(want, c))
}

func TestParseFlags_BadValue(t *testing.T) {
	var c Config
	c.LoadDefaults()
	assert.Error(t, parseFlags(&c, []string{"-t", "soon"}))
}
