package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sensapp/sensapp/internal/sample"
	"github.com/sensapp/sensapp/internal/sensapperr"
	"github.com/sensapp/sensapp/internal/storage"
)

// psql builds catalog queries with $n placeholders. The hot-path sample
// queries stay as hand-written SQL; squirrel is only worth it where the
// WHERE clause is assembled dynamically.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var catalogColumns = []string{"sensor_id", "uuid", "name", "created_at", "type", "unit_name", "labels"}

// valueTableFor maps a sample.Type to its table and the SQL expression that
// projects it into (timestamp_us, value) columns, joining the dictionary
// for String.
func valueTableFor(typ sample.Type) (table string, selectValue string, err error) {
	switch typ {
	case sample.TypeInteger:
		return "integer_values", "value", nil
	case sample.TypeNumeric:
		return "numeric_values", "value", nil
	case sample.TypeFloat:
		return "float_values", "value", nil
	case sample.TypeBoolean:
		return "boolean_values", "value", nil
	case sample.TypeJSON:
		return "json_values", "value", nil
	case sample.TypeBlob:
		return "blob_values", "value", nil
	case sample.TypeLocation:
		return "location_values", "latitude, longitude", nil
	case sample.TypeString:
		return "string_values JOIN strings_values_dictionary d ON d.id = string_values.string_id", "d.value", nil
	default:
		return "", "", sensapperr.New(sensapperr.KindValidation, "postgres.value_table_for", "unsupported type %v", typ)
	}
}

// QuerySeries reads one sensor's samples over a closed-open interval,
// ordered by timestamp, capped at limit.
func (s *Store) QuerySeries(ctx context.Context, sensorID int64, tr storage.TimeRange, limit int) (storage.TypedSamples, error) {
	var sensor sample.Sensor
	var unitName *string
	err := s.pool.QueryRow(ctx, `SELECT uuid, name, type, (SELECT name FROM units WHERE id = sensors.unit) FROM sensors WHERE sensor_id = $1`, sensorID).
		Scan(&sensor.UUID, &sensor.Name, &sensor.Type, &unitName)
	if err != nil {
		if err == pgx.ErrNoRows {
			return storage.TypedSamples{}, sensapperr.New(sensapperr.KindNotFound, "postgres.query_series", "sensor %d not found", sensorID)
		}
		return storage.TypedSamples{}, classifyPgError("postgres.query_series", err)
	}
	sensor.SensorID = sensorID
	if unitName != nil {
		sensor.UnitName = *unitName
	}

	table, selectValue, err := valueTableFor(sensor.Type)
	if err != nil {
		return storage.TypedSamples{}, err
	}

	limitClause := ""
	args := []any{sensorID, tr.StartUs, tr.EndUs}
	if limit > 0 {
		limitClause = " LIMIT $4"
		args = append(args, limit)
	}
	query := fmt.Sprintf(
		"SELECT timestamp_us, %s FROM %s WHERE sensor_id = $1 AND timestamp_us >= $2 AND timestamp_us < $3 ORDER BY timestamp_us%s",
		selectValue, table, limitClause)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return storage.TypedSamples{}, classifyPgError("postgres.query_series", err)
	}
	defer rows.Close()

	var samples []sample.Sample
	for rows.Next() {
		smp, err := scanSample(rows, sensor.Type)
		if err != nil {
			return storage.TypedSamples{}, err
		}
		samples = append(samples, smp)
	}
	if err := rows.Err(); err != nil {
		return storage.TypedSamples{}, classifyPgError("postgres.query_series", err)
	}

	return storage.TypedSamples{Sensor: &sensor, Samples: samples}, nil
}

func scanSample(rows pgx.Rows, typ sample.Type) (sample.Sample, error) {
	var ts int64
	switch typ {
	case sample.TypeInteger:
		var v int64
		if err := rows.Scan(&ts, &v); err != nil {
			return sample.Sample{}, classifyPgError("postgres.scan_sample", err)
		}
		return sample.NewSampleUs(ts, sample.IntegerValue(v)), nil
	case sample.TypeNumeric:
		var v sample.Decimal
		if err := rows.Scan(&ts, &v); err != nil {
			return sample.Sample{}, classifyPgError("postgres.scan_sample", err)
		}
		return sample.NewSampleUs(ts, sample.NumericValue(v)), nil
	case sample.TypeFloat:
		var v float64
		if err := rows.Scan(&ts, &v); err != nil {
			return sample.Sample{}, classifyPgError("postgres.scan_sample", err)
		}
		return sample.NewSampleUs(ts, sample.FloatValue(v)), nil
	case sample.TypeBoolean:
		var v bool
		if err := rows.Scan(&ts, &v); err != nil {
			return sample.Sample{}, classifyPgError("postgres.scan_sample", err)
		}
		return sample.NewSampleUs(ts, sample.BooleanValue(v)), nil
	case sample.TypeJSON:
		var v []byte
		if err := rows.Scan(&ts, &v); err != nil {
			return sample.Sample{}, classifyPgError("postgres.scan_sample", err)
		}
		return sample.NewSampleUs(ts, sample.JSONValue(v)), nil
	case sample.TypeBlob:
		var v []byte
		if err := rows.Scan(&ts, &v); err != nil {
			return sample.Sample{}, classifyPgError("postgres.scan_sample", err)
		}
		return sample.NewSampleUs(ts, sample.BlobValue(v)), nil
	case sample.TypeLocation:
		var lat, lng float64
		if err := rows.Scan(&ts, &lat, &lng); err != nil {
			return sample.Sample{}, classifyPgError("postgres.scan_sample", err)
		}
		return sample.NewSampleUs(ts, sample.LocationValue(lat, lng)), nil
	case sample.TypeString:
		var v string
		if err := rows.Scan(&ts, &v); err != nil {
			return sample.Sample{}, classifyPgError("postgres.scan_sample", err)
		}
		return sample.NewSampleUs(ts, sample.StringValue(v)), nil
	default:
		return sample.Sample{}, sensapperr.New(sensapperr.KindValidation, "postgres.scan_sample", "unsupported type %v", typ)
	}
}

// ListSensors pages through the catalog on a (created_at, uuid) cursor,
// stable independent of sensor_id assignment order.
func (s *Store) ListSensors(ctx context.Context, cursor *storage.Cursor, limit int) (storage.Page, error) {
	if limit <= 0 {
		limit = 1000
	}

	builder := psql.Select(catalogColumns...).
		From("sensor_catalog_view").
		OrderBy("created_at", "uuid").
		Limit(uint64(limit + 1))
	if cursor != nil && !cursor.IsZero() {
		builder = builder.Where(sq.Expr("(created_at, uuid) > (?, ?)", cursor.CreatedAt, cursor.UUID))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return storage.Page{}, sensapperr.Wrap(sensapperr.KindBackendFatal, "postgres.list_sensors", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return storage.Page{}, classifyPgError("postgres.list_sensors", err)
	}
	defer rows.Close()

	var entries []storage.SensorCatalog
	for rows.Next() {
		entry, err := scanCatalogRow(rows)
		if err != nil {
			return storage.Page{}, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return storage.Page{}, classifyPgError("postgres.list_sensors", err)
	}

	page := storage.Page{Sensors: entries}
	if len(entries) > limit {
		page.Sensors = entries[:limit]
		last := page.Sensors[limit-1]
		page.Next = &storage.Cursor{CreatedAt: last.CreatedAt, UUID: last.Sensor.UUID.String()}
	}
	return page, nil
}

func scanCatalogRow(rows pgx.Rows) (storage.SensorCatalog, error) {
	var (
		sensorID  int64
		id        uuid.UUID
		name      string
		createdAt time.Time
		typ       sample.Type
		unitName  *string
		labelsRaw []byte
	)
	if err := rows.Scan(&sensorID, &id, &name, &createdAt, &typ, &unitName, &labelsRaw); err != nil {
		return storage.SensorCatalog{}, classifyPgError("postgres.scan_catalog_row", err)
	}

	labels := map[string]string{}
	if len(labelsRaw) > 0 {
		if err := json.Unmarshal(labelsRaw, &labels); err != nil {
			return storage.SensorCatalog{}, sensapperr.Wrap(sensapperr.KindBackendFatal, "postgres.scan_catalog_row", err)
		}
	}

	sensor := &sample.Sensor{UUID: id, SensorID: sensorID, Name: name, Type: typ}
	if unitName != nil {
		sensor.UnitName = *unitName
	}
	return storage.SensorCatalog{Sensor: sensor, CreatedAt: createdAt, Labels: labels}, nil
}

func (s *Store) GetSensorByUUID(ctx context.Context, id string) (storage.SensorCatalog, error) {
	return s.getSensor(ctx, sq.Eq{"uuid": id})
}

func (s *Store) GetSensorByName(ctx context.Context, name string) (storage.SensorCatalog, error) {
	return s.getSensor(ctx, sq.Eq{"name": name})
}

func (s *Store) getSensor(ctx context.Context, where sq.Eq) (storage.SensorCatalog, error) {
	query, args, err := psql.Select(catalogColumns...).
		From("sensor_catalog_view").
		Where(where).
		ToSql()
	if err != nil {
		return storage.SensorCatalog{}, sensapperr.Wrap(sensapperr.KindBackendFatal, "postgres.get_sensor", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return storage.SensorCatalog{}, classifyPgError("postgres.get_sensor", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return storage.SensorCatalog{}, sensapperr.New(sensapperr.KindNotFound, "postgres.get_sensor", "sensor not found")
	}
	entry, err := scanCatalogRow(rows)
	if err != nil {
		return storage.SensorCatalog{}, err
	}
	return entry, rows.Err()
}

// ListMetrics aggregates sensors by name for the metrics catalog.
func (s *Store) ListMetrics(ctx context.Context) ([]storage.MetricSummary, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, type, unit_name, sensor_count, COALESCE(label_keys, '{}') FROM metrics_summary`)
	if err != nil {
		return nil, classifyPgError("postgres.list_metrics", err)
	}
	defer rows.Close()

	var out []storage.MetricSummary
	for rows.Next() {
		var m storage.MetricSummary
		var unitName *string
		var labelKeys []string
		if err := rows.Scan(&m.Name, &m.Type, &unitName, &m.SensorCount, &labelKeys); err != nil {
			return nil, classifyPgError("postgres.list_metrics", err)
		}
		if unitName != nil {
			m.UnitName = *unitName
		}
		m.LabelKeys = labelKeys
		out = append(out, m)
	}
	return out, rows.Err()
}
