// Package config loads SensApp's TOML configuration file and applies
// SENSAPP_-prefixed environment overrides. The file is optional: every
// field has a working default, so `sensapp` starts against a local
// PostgreSQL with no flags at all.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Database selects and configures the storage backend. The connection
// string's scheme picks the driver: postgres://, sqlite:, clickhouse://,
// duckdb:, bigquery://, rrdcached://.
type Database struct {
	ConnectionString string `toml:"connection_string"`
	MaxConnections   int    `toml:"max_connections"`
}

// HTTP configures the listening socket.
type HTTP struct {
	Endpoint string `toml:"endpoint"`
	Port     int    `toml:"port"`
}

// Ingest bounds the batching pipeline.
type Ingest struct {
	BatchSize          int `toml:"batch_size"`
	SyncTimeoutSeconds int `toml:"sync_timeout_seconds"`
}

// Cache bounds the dictionary interning caches.
type Cache struct {
	Size int `toml:"size"`
}

// Sentry carries an optional error-reporting DSN. Empty means disabled.
type Sentry struct {
	DSN string `toml:"dsn"`
}

// Config is the root of sensapp.toml.
type Config struct {
	Database Database `toml:"database"`
	HTTP     HTTP     `toml:"http"`
	Ingest   Ingest   `toml:"ingest"`
	Cache    Cache    `toml:"cache"`
	Sentry   Sentry   `toml:"sentry"`
}

// Default returns the configuration used when no file and no environment
// overrides are present.
func Default() Config {
	return Config{
		Database: Database{
			ConnectionString: "postgres://localhost/sensapp",
			MaxConnections:   16,
		},
		HTTP: HTTP{
			Endpoint: "127.0.0.1",
			Port:     3000,
		},
		Ingest: Ingest{
			BatchSize:          10000,
			SyncTimeoutSeconds: 15,
		},
		Cache: Cache{
			Size: 1_000_000,
		},
	}
}

// Load reads path (if non-empty), overlays it on Default, then overlays
// SENSAPP_ environment variables on top. A missing file is an error only
// when the caller named one explicitly.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: load %s: %w", path, err)
		}
	}
	applyEnv(&cfg, os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays SENSAPP_<SECTION>_<FIELD> variables. Unset variables
// leave the file/default value untouched; malformed integers are ignored
// rather than failing startup, matching the usual 12-factor override
// semantics.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	setString := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setString("SENSAPP_DATABASE_CONNECTION_STRING", &cfg.Database.ConnectionString)
	setInt("SENSAPP_DATABASE_MAX_CONNECTIONS", &cfg.Database.MaxConnections)
	setString("SENSAPP_HTTP_ENDPOINT", &cfg.HTTP.Endpoint)
	setInt("SENSAPP_HTTP_PORT", &cfg.HTTP.Port)
	setInt("SENSAPP_INGEST_BATCH_SIZE", &cfg.Ingest.BatchSize)
	setInt("SENSAPP_INGEST_SYNC_TIMEOUT_SECONDS", &cfg.Ingest.SyncTimeoutSeconds)
	setInt("SENSAPP_CACHE_SIZE", &cfg.Cache.Size)
	setString("SENSAPP_SENTRY_DSN", &cfg.Sentry.DSN)
}

// Validate rejects configurations that cannot possibly serve.
func (c Config) Validate() error {
	if c.Database.ConnectionString == "" {
		return fmt.Errorf("config: database.connection_string must not be empty")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("config: http.port %d out of range", c.HTTP.Port)
	}
	if c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("config: ingest.batch_size must be positive")
	}
	if c.Ingest.SyncTimeoutSeconds <= 0 {
		return fmt.Errorf("config: ingest.sync_timeout_seconds must be positive")
	}
	if c.Cache.Size <= 0 {
		return fmt.Errorf("config: cache.size must be positive")
	}
	if BackendScheme(c.Database.ConnectionString) == "" {
		return fmt.Errorf("config: database.connection_string %q has no scheme", c.Database.ConnectionString)
	}
	return nil
}

// ListenAddr joins endpoint and port into a net/http address.
func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Endpoint, c.HTTP.Port)
}

// BackendScheme extracts the driver-selecting scheme from a connection
// string: "postgres" from postgres://..., "sqlite" from sqlite:file.db.
// Returns "" when no scheme is present.
func BackendScheme(connString string) string {
	i := strings.Index(connString, ":")
	if i <= 0 {
		return ""
	}
	scheme := strings.ToLower(connString[:i])
	for _, r := range scheme {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '+' && r != '-' && r != '.' {
			return ""
		}
	}
	// postgresql:// is an accepted alias for postgres://.
	if scheme == "postgresql" {
		return "postgres"
	}
	return scheme
}
