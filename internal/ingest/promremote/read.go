package promremote

import (
	"context"

	"github.com/golang/snappy"
	"github.com/prometheus/common/model"
	"github.com/prometheus/prometheus/prompb"

	"github.com/sensapp/sensapp/internal/sample"
	"github.com/sensapp/sensapp/internal/sensapperr"
	"github.com/sensapp/sensapp/internal/storage"
)

// HandleRead decodes a snappy-compressed prompb.ReadRequest, resolves each
// query's matchers against the backend, and returns the snappy-compressed
// prompb.ReadResponse. Only Float series participate: Prometheus has no
// notion of the other sample types.
func HandleRead(ctx context.Context, backend storage.Backend, compressed []byte) ([]byte, error) {
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, sensapperr.Wrap(sensapperr.KindParse, "promremote.handle_read", err)
	}

	var req prompb.ReadRequest
	if err := req.Unmarshal(raw); err != nil {
		return nil, sensapperr.Wrap(sensapperr.KindParse, "promremote.handle_read", err)
	}

	resp := prompb.ReadResponse{Results: make([]*prompb.QueryResult, 0, len(req.Queries))}
	for _, q := range req.Queries {
		result, err := runQuery(ctx, backend, q)
		if err != nil {
			return nil, err
		}
		resp.Results = append(resp.Results, result)
	}

	out, err := resp.Marshal()
	if err != nil {
		return nil, sensapperr.Wrap(sensapperr.KindBackendFatal, "promremote.handle_read", err)
	}
	return snappy.Encode(nil, out), nil
}

func runQuery(ctx context.Context, backend storage.Backend, q *prompb.Query) (*prompb.QueryResult, error) {
	matchers, err := convertMatchers(q.Matchers)
	if err != nil {
		return nil, err
	}
	tr := storage.TimeRange{
		StartUs: q.StartTimestampMs * 1000,
		EndUs:   q.EndTimestampMs*1000 + 1000, // remote-read ranges are inclusive of the end millisecond
	}

	result := &prompb.QueryResult{}
	err = backend.PrometheusMatch(ctx, matchers, tr, func(m storage.SeriesMatch) error {
		if m.Sensor.Type != sample.TypeFloat {
			return nil
		}
		result.Timeseries = append(result.Timeseries, toTimeseries(m))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func convertMatchers(in []*prompb.LabelMatcher) ([]storage.Matcher, error) {
	out := make([]storage.Matcher, 0, len(in))
	for _, m := range in {
		var op storage.MatchOp
		switch m.Type {
		case prompb.LabelMatcher_EQ:
			op = storage.MatchEqual
		case prompb.LabelMatcher_NEQ:
			op = storage.MatchNotEqual
		case prompb.LabelMatcher_RE:
			op = storage.MatchRegexp
		case prompb.LabelMatcher_NRE:
			op = storage.MatchNotRegexp
		default:
			return nil, sensapperr.New(sensapperr.KindParse, "promremote.convert_matchers", "unknown matcher type %v", m.Type)
		}
		out = append(out, storage.Matcher{Name: m.Name, Value: m.Value, Op: op})
	}
	return out, nil
}

func toTimeseries(m storage.SeriesMatch) *prompb.TimeSeries {
	ts := &prompb.TimeSeries{
		Labels: make([]prompb.Label, 0, len(m.Sensor.Labels)+1),
	}
	ts.Labels = append(ts.Labels, prompb.Label{Name: model.MetricNameLabel, Value: m.Sensor.Name})
	for _, l := range m.Sensor.Labels {
		ts.Labels = append(ts.Labels, prompb.Label{Name: l.Name, Value: l.Description})
	}
	for _, s := range m.Samples {
		ts.Samples = append(ts.Samples, prompb.Sample{
			Timestamp: s.TimestampUs / 1000,
			Value:     s.Value.Float,
		})
	}
	return ts
}
