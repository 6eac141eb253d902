// Command sensapp runs the SensApp ingestion and query server against the
// backend selected by the configured connection string.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sensapp/sensapp/internal/api"
	"github.com/sensapp/sensapp/internal/config"
	"github.com/sensapp/sensapp/internal/intern"
	"github.com/sensapp/sensapp/internal/storage"
	"github.com/sensapp/sensapp/internal/storage/clickhouse"
	"github.com/sensapp/sensapp/internal/storage/postgres"
	"github.com/sensapp/sensapp/internal/storage/sqlite"
	"github.com/sensapp/sensapp/internal/storage/unsupported"
)

type options struct {
	configPath  string
	dbURL       string
	listen      string
	skipMigrate bool
	version     bool
}

const version = "1.0.0-dev"

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to sensapp.toml (optional)")
	flag.StringVar(&opts.dbURL, "db", "", "database connection string (overrides config)")
	flag.StringVar(&opts.listen, "listen", "", "listen address host:port (overrides config)")
	flag.BoolVar(&opts.skipMigrate, "skip-migrate", false, "do not run schema migrations on startup")
	flag.BoolVar(&opts.version, "version", false, "print version and exit")
	flag.Parse()
	return opts
}

func main() {
	opts := parseFlags()
	if opts.version {
		fmt.Println("sensapp", version)
		return
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		log.Fatalf("sensapp: %v", err)
	}
	if opts.dbURL != "" {
		cfg.Database.ConnectionString = opts.dbURL
	}
	addr := cfg.ListenAddr()
	if opts.listen != "" {
		addr = opts.listen
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("sensapp: open backend: %v", err)
	}
	defer backend.Close(context.Background())

	if !opts.skipMigrate {
		if err := backend.CreateOrMigrate(ctx); err != nil {
			log.Fatalf("sensapp: migrate: %v", err)
		}
	}

	log.Printf("sensapp: serving %s backend on %s", backend.Name(), addr)
	server := api.NewServer(backend, cfg)
	if err := server.Listen(ctx, addr); err != nil && err != context.Canceled {
		log.Fatalf("sensapp: serve: %v", err)
	}
}

// openBackend picks the storage driver from the connection string scheme.
func openBackend(ctx context.Context, cfg config.Config) (storage.Backend, error) {
	conn := cfg.Database.ConnectionString
	caches := intern.DictionaryCapacities{
		Units:             cfg.Cache.Size,
		LabelNames:        cfg.Cache.Size,
		LabelDescriptions: cfg.Cache.Size,
		StringValues:      cfg.Cache.Size,
	}

	switch scheme := config.BackendScheme(conn); scheme {
	case "postgres":
		return postgres.New(ctx, postgres.Config{
			ConnString: conn,
			MaxConns:   int32(cfg.Database.MaxConnections),
			Capacities: caches,
		})
	case "sqlite":
		return sqlite.New(ctx, sqlite.Config{Source: strings.TrimPrefix(conn, "sqlite:")})
	case "clickhouse":
		return clickhouse.New(ctx, clickhouse.Config{DSN: conn})
	case "duckdb", "bigquery", "rrdcached":
		return unsupported.New(scheme), nil
	default:
		return nil, fmt.Errorf("unknown backend scheme %q", scheme)
	}
}
