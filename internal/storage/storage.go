// Package storage defines the uniform contract every SensApp backend
// implements: a Publish/Vacuum/Sync write surface and a typed read surface
// over dictionary-deduplicated samples.
package storage

import (
	"context"
	"time"

	"github.com/sensapp/sensapp/internal/batch"
	"github.com/sensapp/sensapp/internal/sample"
	"github.com/sensapp/sensapp/internal/syncbarrier"
)

// TimeRange is a closed-open interval [StartUs, EndUs) in microseconds
// since the Unix epoch.
type TimeRange struct {
	StartUs int64
	EndUs   int64
}

// Contains reports whether tsUs falls within the range.
func (r TimeRange) Contains(tsUs int64) bool {
	return tsUs >= r.StartUs && tsUs < r.EndUs
}

// TypedSamples is the result of a series query: a sensor's samples over a
// TimeRange, ordered by timestamp ascending.
type TypedSamples struct {
	Sensor  *sample.Sensor
	Samples []sample.Sample
}

// SensorCatalog is one series catalog row: a sensor's identity plus
// denormalized label map, as returned by ListSensors and the per-sensor
// lookups.
type SensorCatalog struct {
	Sensor    *sample.Sensor
	CreatedAt time.Time
	Labels    map[string]string // label name -> description, denormalized
}

// Cursor is the opaque pagination token for ListSensors: a
// (created_at, uuid) tuple, chosen so pagination is stable independent of
// sensor_id assignment order.
type Cursor struct {
	CreatedAt time.Time
	UUID      string
}

// IsZero reports whether c is the zero (first page) cursor.
func (c Cursor) IsZero() bool {
	return c.CreatedAt.IsZero() && c.UUID == ""
}

// Page is one page of a cursor-paginated ListSensors call.
type Page struct {
	Sensors []SensorCatalog
	Next    *Cursor // nil if this was the last page
}

// MatchOp is a Prometheus-style label matcher operator.
type MatchOp int

const (
	MatchEqual MatchOp = iota
	MatchNotEqual
	MatchRegexp
	MatchNotRegexp
)

// Matcher is one label constraint in a Prometheus label-matcher set.
type Matcher struct {
	Name  string
	Value string
	Op    MatchOp
}

// MetricSummary is one metrics catalog row: sensors aggregated by name.
type MetricSummary struct {
	Name        string
	Type        sample.Type
	UnitName    string
	LabelKeys   []string
	SensorCount int
}

// Health is the result of a backend liveness/readiness probe.
type Health struct {
	OK      bool
	Message string
}

// SeriesMatch pairs a matched sensor with the samples streamed back for it
// by PrometheusMatch.
type SeriesMatch struct {
	Sensor  *sample.Sensor
	Samples []sample.Sample
}

// SeriesHandler is called once per matched series by PrometheusMatch,
// letting callers stream results without buffering the full match set in
// memory.
type SeriesHandler func(SeriesMatch) error

// Backend is the contract every storage driver implements.
// Implementations must make Publish all-or-nothing: either every sample in
// the batch becomes durable and visible to subsequent reads, or none does.
type Backend interface {
	// Name identifies the backend for logs and health reports (e.g.
	// "postgres", "sqlite").
	Name() string

	// CreateOrMigrate runs schema migrations forward. Idempotent: safe to
	// call on an already-current schema.
	CreateOrMigrate(ctx context.Context) error

	// Publish atomically persists every sample in b. On success it signals
	// sync before returning, so callers that need only "is it durable" can
	// await sync instead of Publish itself. Returns a Busy-kind error if
	// the backend's connection pool is saturated.
	Publish(ctx context.Context, b *batch.Batch, sync *syncbarrier.Sender) error

	// Vacuum performs backend-specific maintenance (compaction, reindex).
	Vacuum(ctx context.Context) error

	// Sync is an explicit flush for backends that buffer writes; it
	// signals sync once prior Publish calls are durable.
	Sync(ctx context.Context, sync *syncbarrier.Sender) error

	// ListSensors returns one page of the sensor catalog, ordered by
	// (created_at, uuid) ascending. A nil cursor starts from the
	// beginning; limit <= 0 means backend-default page size.
	ListSensors(ctx context.Context, cursor *Cursor, limit int) (Page, error)

	// GetSensorByUUID and GetSensorByName fetch one sensor's metadata,
	// returning a NotFound-kind error if absent.
	GetSensorByUUID(ctx context.Context, id string) (SensorCatalog, error)
	GetSensorByName(ctx context.Context, name string) (SensorCatalog, error)

	// QuerySeries reads tr (a [start, end) interval) for sensorID, ordered
	// by timestamp ascending, capped at limit samples (limit <= 0 means
	// unbounded).
	QuerySeries(ctx context.Context, sensorID int64, tr TimeRange, limit int) (TypedSamples, error)

	// PrometheusMatch resolves matchers to candidate sensors within tr and
	// invokes handler once per matched series.
	PrometheusMatch(ctx context.Context, matchers []Matcher, tr TimeRange, handler SeriesHandler) error

	// ListMetrics aggregates sensors by name for the DCAT metrics catalog.
	ListMetrics(ctx context.Context) ([]MetricSummary, error)

	// Health reports liveness/readiness.
	Health(ctx context.Context) Health

	// Close releases backend resources (connection pools, etc).
	Close(ctx context.Context) error
}
