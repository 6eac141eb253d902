package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sensapp.toml")
	body := `
[database]
connection_string = "sqlite:/tmp/sensapp.db"

[http]
endpoint = "0.0.0.0"
port = 8080

[ingest]
batch_size = 500
sync_timeout_seconds = 30

[cache]
size = 1000
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.ConnectionString != "sqlite:/tmp/sensapp.db" {
		t.Errorf("connection_string = %q", cfg.Database.ConnectionString)
	}
	if cfg.ListenAddr() != "0.0.0.0:8080" {
		t.Errorf("listen addr = %q", cfg.ListenAddr())
	}
	if cfg.Ingest.BatchSize != 500 || cfg.Ingest.SyncTimeoutSeconds != 30 {
		t.Errorf("ingest = %+v", cfg.Ingest)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Database.MaxConnections != 16 {
		t.Errorf("max_connections = %d, want default 16", cfg.Database.MaxConnections)
	}
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"SENSAPP_DATABASE_CONNECTION_STRING": "clickhouse://ch:9000/sensapp",
		"SENSAPP_HTTP_PORT":                  "9999",
		"SENSAPP_CACHE_SIZE":                 "42",
		"SENSAPP_INGEST_BATCH_SIZE":          "not-a-number",
	}
	cfg := Default()
	applyEnv(&cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	if cfg.Database.ConnectionString != "clickhouse://ch:9000/sensapp" {
		t.Errorf("connection_string = %q", cfg.Database.ConnectionString)
	}
	if cfg.HTTP.Port != 9999 {
		t.Errorf("port = %d", cfg.HTTP.Port)
	}
	if cfg.Cache.Size != 42 {
		t.Errorf("cache size = %d", cfg.Cache.Size)
	}
	if cfg.Ingest.BatchSize != Default().Ingest.BatchSize {
		t.Errorf("malformed env override changed batch_size to %d", cfg.Ingest.BatchSize)
	}
}

func TestBackendScheme(t *testing.T) {
	cases := []struct {
		conn, want string
	}{
		{"postgres://localhost/sensapp", "postgres"},
		{"postgresql://localhost/sensapp", "postgres"},
		{"sqlite:sensapp.db", "sqlite"},
		{"duckdb:analytics.db", "duckdb"},
		{"clickhouse://ch:9000/db", "clickhouse"},
		{"bigquery://project/dataset", "bigquery"},
		{"rrdcached://host:42217", "rrdcached"},
		{"no-scheme-here", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := BackendScheme(c.conn); got != c.want {
			t.Errorf("BackendScheme(%q) = %q, want %q", c.conn, got, c.want)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.Database.ConnectionString = "" },
		func(c *Config) { c.HTTP.Port = 0 },
		func(c *Config) { c.HTTP.Port = 70000 },
		func(c *Config) { c.Ingest.BatchSize = 0 },
		func(c *Config) { c.Ingest.SyncTimeoutSeconds = -1 },
		func(c *Config) { c.Cache.Size = 0 },
		func(c *Config) { c.Database.ConnectionString = "plainpath/without/scheme" },
	}
	for i, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %d: expected validation error, got nil", i)
		}
	}
}
