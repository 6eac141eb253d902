package sqlite

import (
	"context"
	"database/sql"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/sensapp/sensapp/internal/sample"
	"github.com/sensapp/sensapp/internal/sensapperr"
	"github.com/sensapp/sensapp/internal/storage"
)

func (s *Store) QuerySeries(ctx context.Context, sensorID int64, tr storage.TimeRange, limit int) (storage.TypedSamples, error) {
	sensor, err := s.loadSensor(ctx, "sensor_id = ?", sensorID)
	if err != nil {
		return storage.TypedSamples{}, err
	}

	query := "SELECT timestamp_us, value_json FROM samples WHERE sensor_id = ? AND timestamp_us >= ? AND timestamp_us < ? ORDER BY timestamp_us"
	args := []any{sensorID, tr.StartUs, tr.EndUs}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return storage.TypedSamples{}, sensapperr.Wrap(sensapperr.KindBackendTransient, "sqlite.query_series", err)
	}
	defer rows.Close()

	var samples []sample.Sample
	for rows.Next() {
		var ts int64
		var raw string
		if err := rows.Scan(&ts, &raw); err != nil {
			return storage.TypedSamples{}, sensapperr.Wrap(sensapperr.KindBackendTransient, "sqlite.query_series", err)
		}
		v, err := sample.DecodeJSON(raw, sensor.Type)
		if err != nil {
			return storage.TypedSamples{}, sensapperr.Wrap(sensapperr.KindBackendFatal, "sqlite.query_series", err)
		}
		samples = append(samples, sample.NewSampleUs(ts, v))
	}
	return storage.TypedSamples{Sensor: sensor, Samples: samples}, rows.Err()
}

func (s *Store) loadSensor(ctx context.Context, where string, arg any) (*sample.Sensor, error) {
	row := s.db.QueryRowContext(ctx, "SELECT sensor_id, uuid, name, type, unit_name FROM sensors WHERE "+where, arg)
	var sensorID int64
	var uuidStr, name string
	var typ sample.Type
	var unitName sql.NullString
	if err := row.Scan(&sensorID, &uuidStr, &name, &typ, &unitName); err != nil {
		if err == sql.ErrNoRows {
			return nil, sensapperr.New(sensapperr.KindNotFound, "sqlite.load_sensor", "sensor not found")
		}
		return nil, sensapperr.Wrap(sensapperr.KindBackendTransient, "sqlite.load_sensor", err)
	}
	id, err := uuid.Parse(uuidStr)
	if err != nil {
		return nil, sensapperr.Wrap(sensapperr.KindBackendFatal, "sqlite.load_sensor", err)
	}
	sensor := &sample.Sensor{UUID: id, SensorID: sensorID, Name: name, Type: typ}
	if unitName.Valid {
		sensor.UnitName = unitName.String
	}
	return sensor, nil
}

func (s *Store) GetSensorByUUID(ctx context.Context, id string) (storage.SensorCatalog, error) {
	return s.catalogEntry(ctx, "uuid = ?", id)
}

func (s *Store) GetSensorByName(ctx context.Context, name string) (storage.SensorCatalog, error) {
	return s.catalogEntry(ctx, "name = ?", name)
}

func (s *Store) catalogEntry(ctx context.Context, where string, arg any) (storage.SensorCatalog, error) {
	row := s.db.QueryRowContext(ctx, "SELECT sensor_id, uuid, name, created_at, type, unit_name FROM sensors WHERE "+where, arg)
	var sensorID, createdUs int64
	var uuidStr, name string
	var typ sample.Type
	var unitName sql.NullString
	if err := row.Scan(&sensorID, &uuidStr, &name, &createdUs, &typ, &unitName); err != nil {
		if err == sql.ErrNoRows {
			return storage.SensorCatalog{}, sensapperr.New(sensapperr.KindNotFound, "sqlite.catalog_entry", "sensor not found")
		}
		return storage.SensorCatalog{}, sensapperr.Wrap(sensapperr.KindBackendTransient, "sqlite.catalog_entry", err)
	}
	id, err := uuid.Parse(uuidStr)
	if err != nil {
		return storage.SensorCatalog{}, sensapperr.Wrap(sensapperr.KindBackendFatal, "sqlite.catalog_entry", err)
	}
	sensor := &sample.Sensor{UUID: id, SensorID: sensorID, Name: name, Type: typ}
	if unitName.Valid {
		sensor.UnitName = unitName.String
	}

	labels, err := s.loadLabels(ctx, sensorID)
	if err != nil {
		return storage.SensorCatalog{}, err
	}
	return storage.SensorCatalog{Sensor: sensor, CreatedAt: time.UnixMicro(createdUs).UTC(), Labels: labels}, nil
}

func (s *Store) loadLabels(ctx context.Context, sensorID int64) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, description FROM labels WHERE sensor_id = ?", sensorID)
	if err != nil {
		return nil, sensapperr.Wrap(sensapperr.KindBackendTransient, "sqlite.load_labels", err)
	}
	defer rows.Close()
	labels := map[string]string{}
	for rows.Next() {
		var name string
		var desc sql.NullString
		if err := rows.Scan(&name, &desc); err != nil {
			return nil, sensapperr.Wrap(sensapperr.KindBackendTransient, "sqlite.load_labels", err)
		}
		labels[name] = desc.String
	}
	return labels, rows.Err()
}

func (s *Store) ListSensors(ctx context.Context, cursor *storage.Cursor, limit int) (storage.Page, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := "SELECT sensor_id, uuid, name, created_at, type, unit_name FROM sensors"
	args := []any{}
	if cursor != nil && !cursor.IsZero() {
		query += " WHERE (created_at, uuid) > (?, ?)"
		args = append(args, cursor.CreatedAt.UnixMicro(), cursor.UUID)
	}
	query += " ORDER BY created_at, uuid LIMIT ?"
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return storage.Page{}, sensapperr.Wrap(sensapperr.KindBackendTransient, "sqlite.list_sensors", err)
	}
	defer rows.Close()

	var entries []storage.SensorCatalog
	for rows.Next() {
		var sensorID, createdUs int64
		var uuidStr, name string
		var typ sample.Type
		var unitName sql.NullString
		if err := rows.Scan(&sensorID, &uuidStr, &name, &createdUs, &typ, &unitName); err != nil {
			return storage.Page{}, sensapperr.Wrap(sensapperr.KindBackendTransient, "sqlite.list_sensors", err)
		}
		id, err := uuid.Parse(uuidStr)
		if err != nil {
			return storage.Page{}, sensapperr.Wrap(sensapperr.KindBackendFatal, "sqlite.list_sensors", err)
		}
		sensor := &sample.Sensor{UUID: id, SensorID: sensorID, Name: name, Type: typ}
		if unitName.Valid {
			sensor.UnitName = unitName.String
		}
		labels, err := s.loadLabels(ctx, sensorID)
		if err != nil {
			return storage.Page{}, err
		}
		entries = append(entries, storage.SensorCatalog{Sensor: sensor, CreatedAt: time.UnixMicro(createdUs).UTC(), Labels: labels})
	}
	if err := rows.Err(); err != nil {
		return storage.Page{}, sensapperr.Wrap(sensapperr.KindBackendTransient, "sqlite.list_sensors", err)
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
	rows, err := s.db.QueryContext(ctx, "SELECT name, type, unit_name, COUNT(*) FROM sensors GROUP BY name, type, unit_name")
	if err != nil {
		return nil, sensapperr.Wrap(sensapperr.KindBackendTransient, "sqlite.list_metrics", err)
	}
	defer rows.Close()

	var out []storage.MetricSummary
	for rows.Next() {
		var m storage.MetricSummary
		var unitName sql.NullString
		if err := rows.Scan(&m.Name, &m.Type, &unitName, &m.SensorCount); err != nil {
			return nil, sensapperr.Wrap(sensapperr.KindBackendTransient, "sqlite.list_metrics", err)
		}
		if unitName.Valid {
			m.UnitName = unitName.String
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PrometheusMatch resolves matchers against the labels table in-process
// (no dictionary to push EXISTS subqueries into, unlike postgres's
// sensor_labels_view match.go), then streams each candidate's series.
func (s *Store) PrometheusMatch(ctx context.Context, matchers []storage.Matcher, tr storage.TimeRange, handler storage.SeriesHandler) error {
	rows, err := s.db.QueryContext(ctx, "SELECT sensor_id FROM sensors")
	if err != nil {
		return sensapperr.Wrap(sensapperr.KindBackendTransient, "sqlite.prometheus_match", err)
	}
	var sensorIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return sensapperr.Wrap(sensapperr.KindBackendTransient, "sqlite.prometheus_match", err)
		}
		sensorIDs = append(sensorIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return sensapperr.Wrap(sensapperr.KindBackendTransient, "sqlite.prometheus_match", err)
	}

	for _, id := range sensorIDs {
		labels, err := s.loadLabels(ctx, id)
		if err != nil {
			return err
		}
		if !matchesAll(matchers, labels) {
			continue
		}
		series, err := s.QuerySeries(ctx, id, tr, 0)
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
