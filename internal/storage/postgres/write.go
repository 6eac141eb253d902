package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sensapp/sensapp/internal/batch"
	"github.com/sensapp/sensapp/internal/sample"
	"github.com/sensapp/sensapp/internal/sensapperr"
	"github.com/sensapp/sensapp/internal/syncbarrier"
)

// Publish writes one transaction per batch: resolve sensor/unit/label
// dictionary ids through the interning caches, bulk-insert each typed
// group via UNNEST, commit. No partial effect is observable: any error
// aborts the transaction wholesale. Transient failures are retried with
// exponential backoff before surfacing.
func (s *Store) Publish(ctx context.Context, b *batch.Batch, sync *syncbarrier.Sender) error {
	if b.Empty() {
		if sync != nil {
			sync.Broadcast()
		}
		return nil
	}

	if st := s.pool.Stat(); st.AcquiredConns() >= st.MaxConns() {
		return sensapperr.New(sensapperr.KindBusy, "postgres.publish", "connection pool saturated (%d/%d)", st.AcquiredConns(), st.MaxConns())
	}

	var err error
	for attempt := 0; attempt <= s.retry; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * 100 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return sensapperr.New(sensapperr.KindCancelled, "postgres.publish", "caller cancelled during retry")
			}
		}
		err = s.publishOnce(ctx, b)
		if err == nil {
			if sync != nil {
				sync.Broadcast()
			}
			return nil
		}
		if !sensapperr.Retryable(err) {
			return err
		}
	}
	return err
}

func (s *Store) publishOnce(ctx context.Context, b *batch.Batch) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classifyPgError("postgres.publish.begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op once Commit succeeds

	for _, group := range b.Groups() {
		sensorID, err := s.resolveSensorTx(ctx, tx, group.Sensor)
		if err != nil {
			return err
		}
		if err := s.insertGroup(ctx, tx, sensorID, group); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyPgError("postgres.publish.commit", err)
	}
	return nil
}

// Sync flushes nothing (postgres has no write buffer of its own) but still
// participates in the sync-barrier protocol so HTTP handlers can await it
// uniformly across backends.
func (s *Store) Sync(ctx context.Context, sync *syncbarrier.Sender) error {
	if sync != nil {
		sync.Broadcast()
	}
	return nil
}

const upsertSensorSQL = `
INSERT INTO sensors (uuid, name, type, unit)
VALUES ($1, $2, $3, $4)
ON CONFLICT (uuid) DO UPDATE SET uuid = EXCLUDED.uuid
RETURNING sensor_id, type;
`

// resolveSensorTx resolves sensor.UUID to a sensor_id, creating the row (and
// its labels) on first sight. It runs inside the batch's transaction so a
// rolled-back batch never leaves an orphaned sensor behind, and it primes
// s.sensors so subsequent batches in this process skip the round-trip.
// Re-registering a known uuid with a different declared type is a conflict,
// not an update: one sensor has one type for its lifetime.
func (s *Store) resolveSensorTx(ctx context.Context, tx pgx.Tx, sensor *sample.Sensor) (int64, error) {
	if id, ok := s.sensors.Peek(sensor.UUID.String()); ok {
		return id, nil
	}

	unitID, err := s.resolveUnitTx(ctx, tx, sensor.UnitName)
	if err != nil {
		return 0, err
	}

	var sensorID int64
	var storedType int16
	err = tx.QueryRow(ctx, upsertSensorSQL, sensor.UUID, sensor.Name, int(sensor.Type), nullIfZero(unitID)).Scan(&sensorID, &storedType)
	if err != nil {
		return 0, classifyPgError("postgres.resolve_sensor_tx", err)
	}
	if sample.Type(storedType) != sensor.Type {
		return 0, sensapperr.New(sensapperr.KindConflict, "postgres.resolve_sensor_tx",
			"uuid %s is already registered as type %v, got %v", sensor.UUID, sample.Type(storedType), sensor.Type)
	}

	for _, label := range sensor.Labels {
		if err := s.upsertLabelTx(ctx, tx, sensorID, label); err != nil {
			return 0, err
		}
	}

	s.sensors.Put(sensor.UUID.String(), sensorID)
	return sensorID, nil
}

func (s *Store) resolveUnitTx(ctx context.Context, tx pgx.Tx, name string) (int64, error) {
	if name == "" {
		return 0, nil
	}
	if id, ok := s.dicts.Units.Peek(name); ok {
		return id, nil
	}
	var id int64
	if err := tx.QueryRow(ctx, upsertUnitSQL, name).Scan(&id); err != nil {
		return 0, classifyPgError("postgres.resolve_unit_tx", err)
	}
	s.dicts.Units.Put(name, id)
	return id, nil
}

const upsertLabelSQL = `
INSERT INTO labels (sensor_id, name_id, description_id)
VALUES ($1, $2, $3)
ON CONFLICT (sensor_id, name_id) DO UPDATE SET description_id = EXCLUDED.description_id;
`

func (s *Store) upsertLabelTx(ctx context.Context, tx pgx.Tx, sensorID int64, label sample.Label) error {
	nameID, err := s.resolveLabelNameTx(ctx, tx, label.Name)
	if err != nil {
		return err
	}

	var descID any
	if label.Description != "" {
		id, err := s.resolveLabelDescriptionTx(ctx, tx, label.Description)
		if err != nil {
			return err
		}
		descID = id
	}

	if _, err := tx.Exec(ctx, upsertLabelSQL, sensorID, nameID, descID); err != nil {
		return classifyPgError("postgres.upsert_label_tx", err)
	}
	return nil
}

func (s *Store) resolveLabelNameTx(ctx context.Context, tx pgx.Tx, name string) (int64, error) {
	if id, ok := s.dicts.LabelNames.Peek(name); ok {
		return id, nil
	}
	var id int64
	if err := tx.QueryRow(ctx, upsertLabelNameSQL, name).Scan(&id); err != nil {
		return 0, classifyPgError("postgres.resolve_label_name_tx", err)
	}
	s.dicts.LabelNames.Put(name, id)
	return id, nil
}

func (s *Store) resolveLabelDescriptionTx(ctx context.Context, tx pgx.Tx, description string) (int64, error) {
	if id, ok := s.dicts.LabelDescriptions.Peek(description); ok {
		return id, nil
	}
	var id int64
	if err := tx.QueryRow(ctx, upsertLabelDescriptionSQL, description).Scan(&id); err != nil {
		return 0, classifyPgError("postgres.resolve_label_description_tx", err)
	}
	s.dicts.LabelDescriptions.Put(description, id)
	return id, nil
}

func (s *Store) resolveStringValueTx(ctx context.Context, tx pgx.Tx, value string) (int64, error) {
	if id, ok := s.dicts.StringValues.Peek(value); ok {
		return id, nil
	}
	var id int64
	if err := tx.QueryRow(ctx, upsertStringValueSQL, value).Scan(&id); err != nil {
		return 0, classifyPgError("postgres.resolve_string_value_tx", err)
	}
	s.dicts.StringValues.Put(value, id)
	return id, nil
}

// insertGroup bulk-inserts group's samples into the sample table matching
// group.Sensor.Type, using UNNEST of parallel arrays so tens of thousands
// of samples land in one statement.
func (s *Store) insertGroup(ctx context.Context, tx pgx.Tx, sensorID int64, group *batch.Group) error {
	n := len(group.Samples)
	if n == 0 {
		return nil
	}

	sensorIDs := make([]int64, n)
	timestamps := make([]int64, n)
	for i, smp := range group.Samples {
		sensorIDs[i] = sensorID
		timestamps[i] = smp.TimestampUs
	}

	switch group.Sensor.Type {
	case sample.TypeInteger:
		values := make([]int64, n)
		for i, smp := range group.Samples {
			values[i] = smp.Value.Integer
		}
		return s.execUnnest(ctx, tx, `
			INSERT INTO integer_values (sensor_id, timestamp_us, value)
			SELECT * FROM UNNEST($1::bigint[], $2::bigint[], $3::bigint[])`,
			sensorIDs, timestamps, values)

	case sample.TypeNumeric:
		values := make([]string, n)
		for i, smp := range group.Samples {
			values[i] = smp.Value.Numeric.String()
		}
		return s.execUnnest(ctx, tx, `
			INSERT INTO numeric_values (sensor_id, timestamp_us, value)
			SELECT sensor_id, timestamp_us, value::numeric FROM UNNEST($1::bigint[], $2::bigint[], $3::text[]) AS t(sensor_id, timestamp_us, value)`,
			sensorIDs, timestamps, values)

	case sample.TypeFloat:
		values := make([]float64, n)
		for i, smp := range group.Samples {
			values[i] = smp.Value.Float
		}
		return s.execUnnest(ctx, tx, `
			INSERT INTO float_values (sensor_id, timestamp_us, value)
			SELECT * FROM UNNEST($1::bigint[], $2::bigint[], $3::double precision[])`,
			sensorIDs, timestamps, values)

	case sample.TypeBoolean:
		values := make([]bool, n)
		for i, smp := range group.Samples {
			values[i] = smp.Value.Boolean
		}
		return s.execUnnest(ctx, tx, `
			INSERT INTO boolean_values (sensor_id, timestamp_us, value)
			SELECT * FROM UNNEST($1::bigint[], $2::bigint[], $3::boolean[])`,
			sensorIDs, timestamps, values)

	case sample.TypeLocation:
		lats := make([]float64, n)
		lngs := make([]float64, n)
		for i, smp := range group.Samples {
			lats[i] = smp.Value.Location.Latitude
			lngs[i] = smp.Value.Location.Longitude
		}
		return s.execUnnest(ctx, tx, `
			INSERT INTO location_values (sensor_id, timestamp_us, latitude, longitude)
			SELECT * FROM UNNEST($1::bigint[], $2::bigint[], $3::double precision[], $4::double precision[])`,
			sensorIDs, timestamps, lats, lngs)

	case sample.TypeJSON:
		values := make([][]byte, n)
		for i, smp := range group.Samples {
			values[i] = smp.Value.JSON
		}
		return s.execUnnest(ctx, tx, `
			INSERT INTO json_values (sensor_id, timestamp_us, value)
			SELECT sensor_id, timestamp_us, value::jsonb FROM UNNEST($1::bigint[], $2::bigint[], $3::text[]) AS t(sensor_id, timestamp_us, value)`,
			sensorIDs, timestamps, bytesToStrings(values))

	case sample.TypeBlob:
		values := make([][]byte, n)
		for i, smp := range group.Samples {
			values[i] = smp.Value.Blob
		}
		return s.execUnnest(ctx, tx, `
			INSERT INTO blob_values (sensor_id, timestamp_us, value)
			SELECT * FROM UNNEST($1::bigint[], $2::bigint[], $3::bytea[])`,
			sensorIDs, timestamps, values)

	case sample.TypeString:
		// String-typed samples resolve through the dictionary first,
		// one-by-one since each may be a fresh value.
		stringIDs := make([]int64, n)
		for i, smp := range group.Samples {
			id, err := s.resolveStringValueTx(ctx, tx, smp.Value.String)
			if err != nil {
				return err
			}
			stringIDs[i] = id
		}
		return s.execUnnest(ctx, tx, `
			INSERT INTO string_values (sensor_id, timestamp_us, string_id)
			SELECT * FROM UNNEST($1::bigint[], $2::bigint[], $3::bigint[])`,
			sensorIDs, timestamps, stringIDs)

	default:
		return sensapperr.New(sensapperr.KindValidation, "postgres.insert_group", "sensor %q has undeclared type", group.Sensor.Name)
	}
}

func (s *Store) execUnnest(ctx context.Context, tx pgx.Tx, sql string, args ...any) error {
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return classifyPgError("postgres.insert_group", err)
	}
	return nil
}

func bytesToStrings(values [][]byte) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

func nullIfZero(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
