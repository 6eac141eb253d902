package postgres

import (
	"context"

	"github.com/sensapp/sensapp/internal/sensapperr"
)

// resolveUnit, resolveLabelName, resolveLabelDescription and
// resolveStringValue implement intern.Resolver for each dictionary table.
// ON CONFLICT DO UPDATE forces RETURNING to fire even when the row already
// exists, so a single statement handles both "insert new" and "look up
// existing" without a race between a SELECT and a failed INSERT.

const upsertUnitSQL = `
INSERT INTO units (name) VALUES ($1)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id;
`

func (s *Store) resolveUnit(ctx context.Context, name string) (int64, error) {
	var id int64
	if err := s.pool.QueryRow(ctx, upsertUnitSQL, name).Scan(&id); err != nil {
		return 0, classifyPgError("postgres.resolve_unit", err)
	}
	return id, nil
}

const upsertLabelNameSQL = `
INSERT INTO labels_name_dictionary (name) VALUES ($1)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id;
`

func (s *Store) resolveLabelName(ctx context.Context, name string) (int64, error) {
	var id int64
	if err := s.pool.QueryRow(ctx, upsertLabelNameSQL, name).Scan(&id); err != nil {
		return 0, classifyPgError("postgres.resolve_label_name", err)
	}
	return id, nil
}

const upsertLabelDescriptionSQL = `
INSERT INTO labels_description_dictionary (description) VALUES ($1)
ON CONFLICT (description) DO UPDATE SET description = EXCLUDED.description
RETURNING id;
`

func (s *Store) resolveLabelDescription(ctx context.Context, description string) (int64, error) {
	var id int64
	if err := s.pool.QueryRow(ctx, upsertLabelDescriptionSQL, description).Scan(&id); err != nil {
		return 0, classifyPgError("postgres.resolve_label_description", err)
	}
	return id, nil
}

const upsertStringValueSQL = `
INSERT INTO strings_values_dictionary (value) VALUES ($1)
ON CONFLICT (value) DO UPDATE SET value = EXCLUDED.value
RETURNING id;
`

func (s *Store) resolveStringValue(ctx context.Context, value string) (int64, error) {
	var id int64
	if err := s.pool.QueryRow(ctx, upsertStringValueSQL, value).Scan(&id); err != nil {
		return 0, classifyPgError("postgres.resolve_string_value", err)
	}
	return id, nil
}

// resolveSensorIDByUUID is the sensors dictionary's Resolver, keyed by UUID
// string. It does not create rows — sensor creation is transactional and
// type-carrying (see write.go's resolveSensorTx), so a cache miss here means
// "not yet published in this process" rather than "create a bare sensor".
func (s *Store) resolveSensorIDByUUID(ctx context.Context, uuidStr string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `SELECT sensor_id FROM sensors WHERE uuid = $1`, uuidStr).Scan(&id)
	if err != nil {
		return 0, sensapperr.Wrap(sensapperr.KindNotFound, "postgres.resolve_sensor", err)
	}
	return id, nil
}
