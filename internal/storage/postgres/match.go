package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/sensapp/sensapp/internal/sample"
	"github.com/sensapp/sensapp/internal/storage"
)

// PrometheusMatch resolves a label-matcher set to candidate sensors: one
// EXISTS/NOT EXISTS subquery per matcher, ANDed together. The planner
// handles that shape far better than one large multi-way join.
func (s *Store) PrometheusMatch(ctx context.Context, matchers []storage.Matcher, tr storage.TimeRange, handler storage.SeriesHandler) error {
	where := make([]string, 0, len(matchers)+1)
	args := make([]any, 0, len(matchers)*2)
	argPos := 1

	for _, m := range matchers {
		clause, clauseArgs, newPos := matcherClause(m, argPos)
		where = append(where, clause)
		args = append(args, clauseArgs...)
		argPos = newPos
	}

	query := "SELECT DISTINCT s.sensor_id, s.uuid, s.name, s.type FROM sensors s"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return classifyPgError("postgres.prometheus_match", err)
	}
	defer rows.Close()

	type candidate struct {
		sensorID int64
		sensor   *sample.Sensor
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		c.sensor = &sample.Sensor{}
		if err := rows.Scan(&c.sensorID, &c.sensor.UUID, &c.sensor.Name, &c.sensor.Type); err != nil {
			return classifyPgError("postgres.prometheus_match", err)
		}
		c.sensor.SensorID = c.sensorID
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return classifyPgError("postgres.prometheus_match", err)
	}

	for _, c := range candidates {
		if err := s.loadLabels(ctx, c.sensorID, c.sensor); err != nil {
			return err
		}
		series, err := s.QuerySeries(ctx, c.sensorID, tr, 0)
		if err != nil {
			return err
		}
		if err := handler(storage.SeriesMatch{Sensor: c.sensor, Samples: series.Samples}); err != nil {
			return err
		}
	}
	return nil
}

// loadLabels fills sensor.Labels from the denormalized label view, so
// matched series carry their full label set back to the caller.
func (s *Store) loadLabels(ctx context.Context, sensorID int64, sensor *sample.Sensor) error {
	rows, err := s.pool.Query(ctx,
		`SELECT label_name, COALESCE(label_description, '') FROM sensor_labels_view WHERE sensor_id = $1 ORDER BY label_name`,
		sensorID)
	if err != nil {
		return classifyPgError("postgres.load_labels", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l sample.Label
		if err := rows.Scan(&l.Name, &l.Description); err != nil {
			return classifyPgError("postgres.load_labels", err)
		}
		sensor.Labels = append(sensor.Labels, l)
	}
	return rows.Err()
}

// matcherClause translates one matcher into an EXISTS/NOT EXISTS subquery
// against sensor_labels_view, and returns the next free placeholder
// position.
func matcherClause(m storage.Matcher, argPos int) (clause string, args []any, nextPos int) {
	// The metric-name pseudo-label matches sensors.name directly rather
	// than a labels row.
	if m.Name == "__name__" {
		value := m.Value
		if m.Op == storage.MatchRegexp || m.Op == storage.MatchNotRegexp {
			value = anchorValue(value)
		}
		c := fmt.Sprintf("s.name %s $%d", compareOp(m.Op), argPos)
		if m.Op == storage.MatchNotEqual || m.Op == storage.MatchNotRegexp {
			c = "NOT (" + c + ")"
		}
		return c, []any{value}, argPos + 1
	}

	exists := fmt.Sprintf(
		`EXISTS (SELECT 1 FROM sensor_labels_view lv WHERE lv.sensor_id = s.sensor_id AND lv.label_name = $%d AND lv.label_description %s $%d)`,
		argPos, compareOp(m.Op), argPos+1)
	notExists := "NOT " + exists

	value := m.Value
	if m.Op == storage.MatchRegexp || m.Op == storage.MatchNotRegexp {
		value = anchorValue(value)
	}

	switch m.Op {
	case storage.MatchEqual, storage.MatchRegexp:
		return exists, []any{m.Name, value}, argPos + 2
	case storage.MatchNotEqual, storage.MatchNotRegexp:
		return notExists, []any{m.Name, value}, argPos + 2
	default:
		return exists, []any{m.Name, value}, argPos + 2
	}
}

func compareOp(op storage.MatchOp) string {
	switch op {
	case storage.MatchRegexp, storage.MatchNotRegexp:
		return "~"
	default:
		return "="
	}
}

// anchorValue anchors a regex matcher the way Prometheus itself does
// (^(?:...)$), so "foo|bar" matches a whole label value rather than a
// substring.
func anchorValue(re string) string {
	if strings.HasPrefix(re, "^") && strings.HasSuffix(re, "$") {
		return re
	}
	return "^(?:" + re + ")$"
}
