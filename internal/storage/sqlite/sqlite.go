// Package sqlite implements storage.Backend for the sqlite: scheme,
// aimed at single-node/embedded deployments. It trades the PostgreSQL
// backend's dictionary-deduplicated, per-type-table schema for a single
// polymorphic table, since SQLite deployments are expected to be small
// enough that dictionary interning isn't worth the extra joins.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sensapp/sensapp/internal/batch"
	"github.com/sensapp/sensapp/internal/sample"
	"github.com/sensapp/sensapp/internal/sensapperr"
	"github.com/sensapp/sensapp/internal/storage"
	"github.com/sensapp/sensapp/internal/syncbarrier"
)

// Pragmas configures SQLite's cache and journal mode.
type Pragmas struct {
	CacheMB    int
	WAL        bool
	SyncOff    bool
	TempMemory bool
}

type Config struct {
	Source  string
	Pragmas Pragmas
}

type Store struct {
	db *sql.DB
}

var _ storage.Backend = (*Store)(nil)

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Source == "" {
		return nil, sensapperr.New(sensapperr.KindValidation, "sqlite.new", "database path is empty")
	}
	db, err := sql.Open("sqlite", cfg.Source)
	if err != nil {
		return nil, sensapperr.Wrap(sensapperr.KindBackendFatal, "sqlite.new", err)
	}
	if cfg.Source == ":memory:" {
		// Each pooled connection would otherwise get its own private
		// in-memory database.
		db.SetMaxOpenConns(1)
	}
	if err := applyPragmas(ctx, db, cfg.Pragmas); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func applyPragmas(ctx context.Context, db *sql.DB, p Pragmas) error {
	stmts := []string{}
	if p.CacheMB > 0 {
		stmts = append(stmts, fmt.Sprintf("PRAGMA cache_size=-%d", p.CacheMB*1024))
	}
	if p.WAL {
		stmts = append(stmts, "PRAGMA journal_mode=WAL")
	}
	if p.SyncOff {
		stmts = append(stmts, "PRAGMA synchronous=OFF")
	}
	if p.TempMemory {
		stmts = append(stmts, "PRAGMA temp_store=MEMORY")
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return sensapperr.Wrap(sensapperr.KindBackendFatal, "sqlite.apply_pragmas", err)
		}
	}
	return nil
}

func (s *Store) Name() string { return "sqlite" }

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sensors (
	sensor_id   INTEGER PRIMARY KEY AUTOINCREMENT,
	uuid        TEXT NOT NULL UNIQUE,
	name        TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	type        INTEGER NOT NULL,
	unit_name   TEXT
);
CREATE INDEX IF NOT EXISTS sensors_cursor_idx ON sensors (created_at, uuid);
CREATE TABLE IF NOT EXISTS labels (
	sensor_id   INTEGER NOT NULL REFERENCES sensors(sensor_id),
	name        TEXT NOT NULL,
	description TEXT,
	PRIMARY KEY (sensor_id, name)
);
CREATE TABLE IF NOT EXISTS samples (
	sensor_id    INTEGER NOT NULL REFERENCES sensors(sensor_id),
	timestamp_us INTEGER NOT NULL,
	value_json   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS samples_sensor_ts_idx ON samples (sensor_id, timestamp_us);
`

func (s *Store) CreateOrMigrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return sensapperr.Wrap(sensapperr.KindBackendFatal, "sqlite.migrate", err)
	}
	return nil
}

func (s *Store) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return sensapperr.Wrap(sensapperr.KindBackendTransient, "sqlite.vacuum", err)
	}
	return nil
}

func (s *Store) Sync(ctx context.Context, sync *syncbarrier.Sender) error {
	if sync != nil {
		sync.Broadcast()
	}
	return nil
}

func (s *Store) Health(ctx context.Context) storage.Health {
	if err := s.db.PingContext(ctx); err != nil {
		return storage.Health{OK: false, Message: err.Error()}
	}
	return storage.Health{OK: true, Message: "ok"}
}

func (s *Store) Close(ctx context.Context) error {
	return s.db.Close()
}

// Publish writes the batch inside a single sql.Tx so the all-or-nothing
// contract holds.
func (s *Store) Publish(ctx context.Context, b *batch.Batch, sync *syncbarrier.Sender) error {
	if b.Empty() {
		if sync != nil {
			sync.Broadcast()
		}
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return sensapperr.Wrap(sensapperr.KindBackendTransient, "sqlite.publish", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, group := range b.Groups() {
		sensorID, err := s.resolveSensorTx(ctx, tx, group.Sensor)
		if err != nil {
			return err
		}
		for _, smp := range group.Samples {
			raw, err := sample.EncodeJSON(smp.Value)
			if err != nil {
				return sensapperr.Wrap(sensapperr.KindValidation, "sqlite.publish", err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO samples (sensor_id, timestamp_us, value_json) VALUES (?, ?, ?)",
				sensorID, smp.TimestampUs, raw); err != nil {
				return sensapperr.Wrap(sensapperr.KindBackendTransient, "sqlite.publish", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return sensapperr.Wrap(sensapperr.KindBackendTransient, "sqlite.publish", err)
	}
	if sync != nil {
		sync.Broadcast()
	}
	return nil
}

func (s *Store) resolveSensorTx(ctx context.Context, tx *sql.Tx, sensor *sample.Sensor) (int64, error) {
	var sensorID int64
	err := tx.QueryRowContext(ctx, "SELECT sensor_id FROM sensors WHERE uuid = ?", sensor.UUID.String()).Scan(&sensorID)
	if err == nil {
		return sensorID, nil
	}
	if err != sql.ErrNoRows {
		return 0, sensapperr.Wrap(sensapperr.KindBackendTransient, "sqlite.resolve_sensor", err)
	}

	res, err := tx.ExecContext(ctx,
		"INSERT INTO sensors (uuid, name, created_at, type, unit_name) VALUES (?, ?, ?, ?, ?)",
		sensor.UUID.String(), sensor.Name, time.Now().UnixMicro(), int(sensor.Type), nullIfEmpty(sensor.UnitName))
	if err != nil {
		return 0, sensapperr.Wrap(sensapperr.KindBackendTransient, "sqlite.resolve_sensor", err)
	}
	sensorID, err = res.LastInsertId()
	if err != nil {
		return 0, sensapperr.Wrap(sensapperr.KindBackendTransient, "sqlite.resolve_sensor", err)
	}

	for _, label := range sensor.Labels {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO labels (sensor_id, name, description) VALUES (?, ?, ?)",
			sensorID, label.Name, nullIfEmpty(label.Description)); err != nil {
			return 0, sensapperr.Wrap(sensapperr.KindBackendTransient, "sqlite.resolve_sensor", err)
		}
	}
	return sensorID, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

