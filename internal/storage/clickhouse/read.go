package clickhouse

import (
	"context"
	"encoding/json"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/sensapp/sensapp/internal/sample"
	"github.com/sensapp/sensapp/internal/sensapperr"
	"github.com/sensapp/sensapp/internal/storage"
)

func (s *Store) QuerySeries(ctx context.Context, sensorID int64, tr storage.TimeRange, limit int) (storage.TypedSamples, error) {
	sensor, err := s.loadSensor(ctx, "sensor_id = ?", uint64(sensorID))
	if err != nil {
		return storage.TypedSamples{}, err
	}

	query := "SELECT timestamp_us, value_json FROM samples WHERE sensor_id = ? AND timestamp_us >= ? AND timestamp_us < ? ORDER BY timestamp_us"
	args := []any{uint64(sensorID), tr.StartUs, tr.EndUs}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return storage.TypedSamples{}, sensapperr.Wrap(sensapperr.KindBackendTransient, "clickhouse.query_series", err)
	}
	defer rows.Close()

	var samples []sample.Sample
	for rows.Next() {
		var ts int64
		var raw string
		if err := rows.Scan(&ts, &raw); err != nil {
			return storage.TypedSamples{}, sensapperr.Wrap(sensapperr.KindBackendTransient, "clickhouse.query_series", err)
		}
		v, err := sample.DecodeJSON(raw, sensor.Type)
		if err != nil {
			return storage.TypedSamples{}, sensapperr.Wrap(sensapperr.KindBackendFatal, "clickhouse.query_series", err)
		}
		samples = append(samples, sample.NewSampleUs(ts, v))
	}
	return storage.TypedSamples{Sensor: sensor, Samples: samples}, rows.Err()
}

func (s *Store) loadSensor(ctx context.Context, where string, arg any) (*sample.Sensor, error) {
	row := s.conn.QueryRow(ctx, "SELECT sensor_id, uuid, name, type, unit_name FROM sensors WHERE "+where+" LIMIT 1", arg)
	var sensorID uint64
	var uuidStr, name, unitName string
	var typ uint8
	if err := row.Scan(&sensorID, &uuidStr, &name, &typ, &unitName); err != nil {
		return nil, sensapperr.Wrap(sensapperr.KindNotFound, "clickhouse.load_sensor", err)
	}
	id, err := uuid.Parse(uuidStr)
	if err != nil {
		return nil, sensapperr.Wrap(sensapperr.KindBackendFatal, "clickhouse.load_sensor", err)
	}
	return &sample.Sensor{UUID: id, SensorID: int64(sensorID), Name: name, Type: sample.Type(typ), UnitName: unitName}, nil
}

func (s *Store) GetSensorByUUID(ctx context.Context, id string) (storage.SensorCatalog, error) {
	return s.catalogEntry(ctx, "uuid = ?", id)
}

func (s *Store) GetSensorByName(ctx context.Context, name string) (storage.SensorCatalog, error) {
	return s.catalogEntry(ctx, "name = ?", name)
}

func (s *Store) catalogEntry(ctx context.Context, where string, arg any) (storage.SensorCatalog, error) {
	row := s.conn.QueryRow(ctx, "SELECT sensor_id, uuid, name, created_at, type, unit_name, labels FROM sensors WHERE "+where+" LIMIT 1", arg)
	var sensorID uint64
	var uuidStr, name, unitName, labelsJSON string
	var createdAt time.Time
	var typ uint8
	if err := row.Scan(&sensorID, &uuidStr, &name, &createdAt, &typ, &unitName, &labelsJSON); err != nil {
		return storage.SensorCatalog{}, sensapperr.Wrap(sensapperr.KindNotFound, "clickhouse.catalog_entry", err)
	}
	id, err := uuid.Parse(uuidStr)
	if err != nil {
		return storage.SensorCatalog{}, sensapperr.Wrap(sensapperr.KindBackendFatal, "clickhouse.catalog_entry", err)
	}
	labels := map[string]string{}
	if labelsJSON != "" {
		if err := json.Unmarshal([]byte(labelsJSON), &labels); err != nil {
			return storage.SensorCatalog{}, sensapperr.Wrap(sensapperr.KindBackendFatal, "clickhouse.catalog_entry", err)
		}
	}
	sensor := &sample.Sensor{UUID: id, SensorID: int64(sensorID), Name: name, Type: sample.Type(typ), UnitName: unitName}
	return storage.SensorCatalog{Sensor: sensor, CreatedAt: createdAt, Labels: labels}, nil
}

func (s *Store) ListSensors(ctx context.Context, cursor *storage.Cursor, limit int) (storage.Page, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := "SELECT sensor_id, uuid, name, created_at, type, unit_name, labels FROM sensors"
	args := []any{}
	if cursor != nil && !cursor.IsZero() {
		query += " WHERE (created_at, uuid) > (?, ?)"
		args = append(args, cursor.CreatedAt, cursor.UUID)
	}
	query += " ORDER BY created_at, uuid LIMIT ?"
	args = append(args, limit+1)

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return storage.Page{}, sensapperr.Wrap(sensapperr.KindBackendTransient, "clickhouse.list_sensors", err)
	}
	defer rows.Close()

	var entries []storage.SensorCatalog
	for rows.Next() {
		var sensorID uint64
		var uuidStr, name, unitName, labelsJSON string
		var createdAt time.Time
		var typ uint8
		if err := rows.Scan(&sensorID, &uuidStr, &name, &createdAt, &typ, &unitName, &labelsJSON); err != nil {
			return storage.Page{}, sensapperr.Wrap(sensapperr.KindBackendTransient, "clickhouse.list_sensors", err)
		}
		id, err := uuid.Parse(uuidStr)
		if err != nil {
			return storage.Page{}, sensapperr.Wrap(sensapperr.KindBackendFatal, "clickhouse.list_sensors", err)
		}
		labels := map[string]string{}
		if labelsJSON != "" {
			if err := json.Unmarshal([]byte(labelsJSON), &labels); err != nil {
				return storage.Page{}, sensapperr.Wrap(sensapperr.KindBackendFatal, "clickhouse.list_sensors", err)
			}
		}
		sensor := &sample.Sensor{UUID: id, SensorID: int64(sensorID), Name: name, Type: sample.Type(typ), UnitName: unitName}
		entries = append(entries, storage.SensorCatalog{Sensor: sensor, CreatedAt: createdAt, Labels: labels})
	}
	if err := rows.Err(); err != nil {
		return storage.Page{}, sensapperr.Wrap(sensapperr.KindBackendTransient, "clickhouse.list_sensors", err)
	}

	page := storage.Page{Sensors: entries}
	if len(entries) > limit {
		page.Sensors = entries[:limit]
		last := page.Sensors[limit-1]
		page.Next = &storage.Cursor{CreatedAt: last.CreatedAt, UUID: last.Sensor.UUID.String()}
	}
	return page, nil
}

func (s *Store) ListMetrics(ctx context.Context) ([]storage.MetricSummary, error) {
	rows, err := s.conn.Query(ctx, "SELECT name, type, unit_name, count() FROM sensors GROUP BY name, type, unit_name")
	if err != nil {
		return nil, sensapperr.Wrap(sensapperr.KindBackendTransient, "clickhouse.list_metrics", err)
	}
	defer rows.Close()

	var out []storage.MetricSummary
	for rows.Next() {
		var m storage.MetricSummary
		var typ uint8
		var count uint64
		if err := rows.Scan(&m.Name, &typ, &m.UnitName, &count); err != nil {
			return nil, sensapperr.Wrap(sensapperr.KindBackendTransient, "clickhouse.list_metrics", err)
		}
		m.Type = sample.Type(typ)
		m.SensorCount = int(count)
		out = append(out, m)
	}
	return out, rows.Err()
}

// PrometheusMatch filters in-process against the sensors.labels JSON column,
// the same approach as sqlite's read.go since neither non-reference backend
// carries postgres's label dictionary to push matching down into SQL.
func (s *Store) PrometheusMatch(ctx context.Context, matchers []storage.Matcher, tr storage.TimeRange, handler storage.SeriesHandler) error {
	rows, err := s.conn.Query(ctx, "SELECT sensor_id, labels FROM sensors")
	if err != nil {
		return sensapperr.Wrap(sensapperr.KindBackendTransient, "clickhouse.prometheus_match", err)
	}
	type candidate struct {
		id     uint64
		labels map[string]string
	}
	var candidates []candidate
	for rows.Next() {
		var id uint64
		var labelsJSON string
		if err := rows.Scan(&id, &labelsJSON); err != nil {
			rows.Close()
			return sensapperr.Wrap(sensapperr.KindBackendTransient, "clickhouse.prometheus_match", err)
		}
		labels := map[string]string{}
		if labelsJSON != "" {
			_ = json.Unmarshal([]byte(labelsJSON), &labels)
		}
		candidates = append(candidates, candidate{id: id, labels: labels})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return sensapperr.Wrap(sensapperr.KindBackendTransient, "clickhouse.prometheus_match", err)
	}

	for _, c := range candidates {
		if !matchesAll(matchers, c.labels) {
			continue
		}
		series, err := s.QuerySeries(ctx, int64(c.id), tr, 0)
		if err != nil {
			return err
		}
		if err := handler(storage.SeriesMatch{Sensor: series.Sensor, Samples: series.Samples}); err != nil {
			return err
		}
	}
	return nil
}

func matchesAll(matchers []storage.Matcher, labels map[string]string) bool {
	for _, m := range matchers {
		v, ok := labels[m.Name]
		switch m.Op {
		case storage.MatchEqual:
			if !ok || v != m.Value {
				return false
			}
		case storage.MatchNotEqual:
			if ok && v == m.Value {
				return false
			}
		case storage.MatchRegexp:
			matched, _ := regexp.MatchString(m.Value, v)
			if !ok || !matched {
				return false
			}
		case storage.MatchNotRegexp:
			matched, _ := regexp.MatchString(m.Value, v)
			if ok && matched {
				return false
			}
		}
	}
	return true
}
