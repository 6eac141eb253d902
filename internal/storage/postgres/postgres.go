// Package postgres is the PostgreSQL reference storage.Backend: a
// dictionary-deduplicated schema with per-type sample tables, a
// transactional bulk write path, and cursor-paginated catalog reads.
// Migrations are embedded SQL files run forward by golang-migrate.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"log"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sensapp/sensapp/internal/intern"
	"github.com/sensapp/sensapp/internal/sensapperr"
	"github.com/sensapp/sensapp/internal/storage"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Config configures a Store's connection pool and dictionary cache sizes.
type Config struct {
	ConnString   string
	MaxConns     int32
	Capacities   intern.DictionaryCapacities
	RetryAttempt int // transient-error retries per publish, default 3
}

// Store is the PostgreSQL reference storage.Backend.
type Store struct {
	pool  *pgxpool.Pool
	dicts *intern.Dictionaries
	// sensors caches UUID string -> sensor_id outside dicts, since sensor
	// rows are created inside the publish transaction together with their
	// type and labels (see write.go's resolveSensorTx) rather than by a
	// standalone dictionary upsert.
	sensors *intern.Cache[string, int64]
	retry   int
}

var _ storage.Backend = (*Store)(nil)

// New opens a connection pool, checks the server timezone and constructs
// the dictionary caches wired to this pool's resolvers.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.ConnString == "" {
		return nil, sensapperr.New(sensapperr.KindValidation, "postgres.new", "connection string is empty")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, sensapperr.Wrap(sensapperr.KindValidation, "postgres.new", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, sensapperr.Wrap(sensapperr.KindBackendFatal, "postgres.new", err)
	}

	if err := ensureUTCTimezone(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	retry := cfg.RetryAttempt
	if retry <= 0 {
		retry = 3
	}

	s := &Store{pool: pool, retry: retry}

	dicts, err := intern.NewDictionaries(cfg.Capacities,
		s.resolveUnit, s.resolveLabelName, s.resolveLabelDescription, s.resolveStringValue)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.dicts = dicts

	sensors, err := intern.New("sensors", intern.DefaultCapacity, s.resolveSensorIDByUUID, nil)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.sensors = sensors

	return s, nil
}

// ensureUTCTimezone checks the database timezone. Diagnostic only: the
// schema is timezone-agnostic since timestamps are stored as microsecond
// integers.
func ensureUTCTimezone(ctx context.Context, pool *pgxpool.Pool) error {
	var tz string
	if err := pool.QueryRow(ctx, "SHOW timezone").Scan(&tz); err != nil {
		return sensapperr.Wrap(sensapperr.KindBackendFatal, "postgres.ensure_utc_timezone", err)
	}
	if tz != "UTC" && tz != "Etc/UTC" {
		log.Printf("postgres: WARNING: database timezone is %q; samples are stored as UTC microsecond integers regardless", tz)
	}
	return nil
}

func (s *Store) Name() string { return "postgres" }

// CreateOrMigrate runs the embedded migrations forward. Idempotent:
// golang-migrate no-ops if the schema is already current.
func (s *Store) CreateOrMigrate(ctx context.Context) error {
	d, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return sensapperr.Wrap(sensapperr.KindBackendFatal, "postgres.migrate", err)
	}

	// migrate picks its database driver by URL scheme; the pgx/v5 driver
	// registers as pgx5.
	dsn := s.pool.Config().ConnConfig.ConnString()
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, prefix) {
			dsn = "pgx5://" + strings.TrimPrefix(dsn, prefix)
			break
		}
	}
	m, err := migrate.NewWithSourceInstance("iofs", d, dsn)
	if err != nil {
		return sensapperr.Wrap(sensapperr.KindBackendFatal, "postgres.migrate", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return sensapperr.Wrap(sensapperr.KindBackendFatal, "postgres.migrate", err)
	}
	return nil
}

// Vacuum runs a manual VACUUM ANALYZE across the sample tables.
func (s *Store) Vacuum(ctx context.Context) error {
	for _, table := range []string{
		"integer_values", "numeric_values", "float_values", "string_values",
		"boolean_values", "location_values", "json_values", "blob_values",
	} {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf("VACUUM ANALYZE %s", table)); err != nil {
			return classifyPgError("postgres.vacuum", err)
		}
	}
	return nil
}

// Health reports liveness via a trivial round-trip query.
func (s *Store) Health(ctx context.Context) storage.Health {
	var one int
	if err := s.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return storage.Health{OK: false, Message: err.Error()}
	}
	return storage.Health{OK: true, Message: "ok"}
}

func (s *Store) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}
