// Package unsupported stands in for connection-string schemes this repo
// does not ship a driver for (DuckDB, BigQuery, RRDCached). Store
// satisfies storage.Backend so callers can wire one of these schemes into
// config and get a well-typed unsupported error at every call site instead
// of a nil-pointer panic or a silent no-op.
package unsupported

import (
	"context"

	"github.com/sensapp/sensapp/internal/batch"
	"github.com/sensapp/sensapp/internal/sensapperr"
	"github.com/sensapp/sensapp/internal/storage"
	"github.com/sensapp/sensapp/internal/syncbarrier"
)

// Store is a contract stub: every method reports KindUnsupported
// except Name, Close and Health.
type Store struct {
	scheme string
}

var _ storage.Backend = (*Store)(nil)

// New returns a stub backend for scheme (e.g. "duckdb", "bigquery",
// "rrdcached"). It never fails to construct — the scheme is only
// rejected lazily, on first use, so config validation can surface a
// precise per-call error instead of refusing to start.
func New(scheme string) *Store {
	return &Store{scheme: scheme}
}

func (s *Store) Name() string { return s.scheme }

func (s *Store) unsupported(op string) error {
	return sensapperr.New(sensapperr.KindUnsupported, op, "%s backend is a stub: no driver is wired for this scheme", s.scheme)
}

func (s *Store) CreateOrMigrate(ctx context.Context) error { return s.unsupported("unsupported.create_or_migrate") }

func (s *Store) Publish(ctx context.Context, b *batch.Batch, sync *syncbarrier.Sender) error {
	return s.unsupported("unsupported.publish")
}

func (s *Store) Vacuum(ctx context.Context) error { return s.unsupported("unsupported.vacuum") }

func (s *Store) Sync(ctx context.Context, sync *syncbarrier.Sender) error {
	return s.unsupported("unsupported.sync")
}

func (s *Store) ListSensors(ctx context.Context, cursor *storage.Cursor, limit int) (storage.Page, error) {
	return storage.Page{}, s.unsupported("unsupported.list_sensors")
}

func (s *Store) GetSensorByUUID(ctx context.Context, id string) (storage.SensorCatalog, error) {
	return storage.SensorCatalog{}, s.unsupported("unsupported.get_sensor_by_uuid")
}

func (s *Store) GetSensorByName(ctx context.Context, name string) (storage.SensorCatalog, error) {
	return storage.SensorCatalog{}, s.unsupported("unsupported.get_sensor_by_name")
}

func (s *Store) QuerySeries(ctx context.Context, sensorID int64, tr storage.TimeRange, limit int) (storage.TypedSamples, error) {
	return storage.TypedSamples{}, s.unsupported("unsupported.query_series")
}

func (s *Store) PrometheusMatch(ctx context.Context, matchers []storage.Matcher, tr storage.TimeRange, handler storage.SeriesHandler) error {
	return s.unsupported("unsupported.prometheus_match")
}

func (s *Store) ListMetrics(ctx context.Context) ([]storage.MetricSummary, error) {
	return nil, s.unsupported("unsupported.list_metrics")
}

// Health always reports down: a stub backend is never ready to serve.
func (s *Store) Health(ctx context.Context) storage.Health {
	return storage.Health{OK: false, Message: s.scheme + " backend is not implemented"}
}

func (s *Store) Close(ctx context.Context) error { return nil }
