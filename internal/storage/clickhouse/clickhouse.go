// Package clickhouse implements storage.Backend for the clickhouse://
// scheme: a non-reference analytical backend using the same single
// polymorphic sample table as the sqlite backend. ClickHouse's columnar
// engine already compresses well without the dictionary scheme the
// postgres backend carries.
package clickhouse

import (
	"context"
	"encoding/json"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/sensapp/sensapp/internal/batch"
	"github.com/sensapp/sensapp/internal/sample"
	"github.com/sensapp/sensapp/internal/sensapperr"
	"github.com/sensapp/sensapp/internal/storage"
	"github.com/sensapp/sensapp/internal/syncbarrier"
)

type Config struct {
	DSN string
}

type Store struct {
	conn ch.Conn
}

var _ storage.Backend = (*Store)(nil)

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, sensapperr.New(sensapperr.KindValidation, "clickhouse.new", "dsn is empty")
	}
	opts, err := ch.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, sensapperr.Wrap(sensapperr.KindValidation, "clickhouse.new", err)
	}
	conn, err := ch.Open(opts)
	if err != nil {
		return nil, sensapperr.Wrap(sensapperr.KindBackendFatal, "clickhouse.new", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, sensapperr.Wrap(sensapperr.KindBackendFatal, "clickhouse.new", err)
	}
	return &Store{conn: conn}, nil
}

func (s *Store) Name() string { return "clickhouse" }

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sensors (
	sensor_id  UInt64,
	uuid       String,
	name       String,
	created_at DateTime64(6),
	type       UInt8,
	unit_name  String,
	labels     String
) ENGINE = MergeTree ORDER BY (created_at, uuid);

CREATE TABLE IF NOT EXISTS samples (
	sensor_id    UInt64,
	timestamp_us Int64,
	value_json   String
) ENGINE = MergeTree ORDER BY (sensor_id, timestamp_us);
`

func (s *Store) CreateOrMigrate(ctx context.Context) error {
	for _, stmt := range splitStatements(schemaSQL) {
		if err := s.conn.Exec(ctx, stmt); err != nil {
			return sensapperr.Wrap(sensapperr.KindBackendFatal, "clickhouse.migrate", err)
		}
	}
	return nil
}

func (s *Store) Vacuum(ctx context.Context) error {
	if err := s.conn.Exec(ctx, "OPTIMIZE TABLE samples FINAL"); err != nil {
		return sensapperr.Wrap(sensapperr.KindBackendTransient, "clickhouse.vacuum", err)
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
	if err := s.conn.Ping(ctx); err != nil {
		return storage.Health{OK: false, Message: err.Error()}
	}
	return storage.Health{OK: true, Message: "ok"}
}

func (s *Store) Close(ctx context.Context) error {
	return s.conn.Close()
}

// Publish inserts via PrepareBatch, ClickHouse's native bulk-insert
// mechanism (the columnar analogue of postgres's UNNEST, sqlite's
// per-row tx.Exec). ClickHouse has no transactions, and a Publish is not
// all-or-nothing: each sensor group is resolved and sent as its own insert,
// so sensor rows and groups written before a failing group remain stored;
// only the failing group's own column batch is not sent.
func (s *Store) Publish(ctx context.Context, b *batch.Batch, sync *syncbarrier.Sender) error {
	if b.Empty() {
		if sync != nil {
			sync.Broadcast()
		}
		return nil
	}

	for _, group := range b.Groups() {
		sensorID, err := s.resolveSensor(ctx, group.Sensor)
		if err != nil {
			return err
		}
		if err := s.insertSamples(ctx, sensorID, group); err != nil {
			return err
		}
	}

	if sync != nil {
		sync.Broadcast()
	}
	return nil
}

func (s *Store) resolveSensor(ctx context.Context, sensor *sample.Sensor) (uint64, error) {
	row := s.conn.QueryRow(ctx, "SELECT sensor_id FROM sensors WHERE uuid = ? LIMIT 1", sensor.UUID.String())
	var sensorID uint64
	if err := row.Scan(&sensorID); err == nil {
		return sensorID, nil
	}

	sensorID = uint64(time.Now().UnixNano())
	labelsJSON, err := json.Marshal(labelMap(sensor.Labels))
	if err != nil {
		return 0, sensapperr.Wrap(sensapperr.KindBackendFatal, "clickhouse.resolve_sensor", err)
	}
	err = s.conn.Exec(ctx,
		"INSERT INTO sensors (sensor_id, uuid, name, created_at, type, unit_name, labels) VALUES (?, ?, ?, now64(6), ?, ?, ?)",
		sensorID, sensor.UUID.String(), sensor.Name, uint8(sensor.Type), sensor.UnitName, string(labelsJSON))
	if err != nil {
		return 0, sensapperr.Wrap(sensapperr.KindBackendTransient, "clickhouse.resolve_sensor", err)
	}
	return sensorID, nil
}

func labelMap(labels []sample.Label) map[string]string {
	m := make(map[string]string, len(labels))
	for _, l := range labels {
		m[l.Name] = l.Description
	}
	return m
}

func (s *Store) insertSamples(ctx context.Context, sensorID uint64, group *batch.Group) error {
	batchWriter, err := s.conn.PrepareBatch(ctx, "INSERT INTO samples (sensor_id, timestamp_us, value_json)")
	if err != nil {
		return sensapperr.Wrap(sensapperr.KindBackendTransient, "clickhouse.insert_samples", err)
	}
	for _, smp := range group.Samples {
		raw, err := sample.EncodeJSON(smp.Value)
		if err != nil {
			return sensapperr.Wrap(sensapperr.KindValidation, "clickhouse.insert_samples", err)
		}
		if err := batchWriter.Append(sensorID, smp.TimestampUs, raw); err != nil {
			return sensapperr.Wrap(sensapperr.KindBackendTransient, "clickhouse.insert_samples", err)
		}
	}
	if err := batchWriter.Send(); err != nil {
		return sensapperr.Wrap(sensapperr.KindBackendTransient, "clickhouse.insert_samples", err)
	}
	return nil
}

func splitStatements(schema string) []string {
	var stmts []string
	var cur []byte
	for i := 0; i < len(schema); i++ {
		c := schema[i]
		cur = append(cur, c)
		if c == ';' {
			stmts = append(stmts, string(cur))
			cur = nil
		}
	}
	return stmts
}
