package promremote

import (
	"context"
	"testing"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"

	"github.com/sensapp/sensapp/internal/batch"
	"github.com/sensapp/sensapp/internal/sample"
	"github.com/sensapp/sensapp/internal/sensapperr"
	"github.com/sensapp/sensapp/internal/storage"
	"github.com/sensapp/sensapp/internal/storage/unsupported"
)

func compress(t *testing.T, req *prompb.WriteRequest) []byte {
	t.Helper()
	raw, err := req.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	return snappy.Encode(nil, raw)
}

func TestParseWrite(t *testing.T) {
	req := &prompb.WriteRequest{
		Timeseries: []prompb.TimeSeries{{
			Labels: []prompb.Label{
				{Name: "__name__", Value: "up"},
				{Name: "job", Value: "prometheus"},
				{Name: "instance", Value: "h1"},
			},
			Samples: []prompb.Sample{
				{Timestamp: 1000, Value: 1},
				{Timestamp: 2000, Value: 1},
			},
		}},
	}

	b := batch.New()
	if err := ParseWrite(compress(t, req), b); err != nil {
		t.Fatalf("parse: %v", err)
	}

	groups := b.Groups()
	if len(groups) != 1 {
		t.Fatalf("got %d groups", len(groups))
	}
	g := groups[0]
	if g.Sensor.Name != "up" {
		t.Errorf("name = %q", g.Sensor.Name)
	}
	if g.Sensor.Type != sample.TypeFloat {
		t.Errorf("type = %v", g.Sensor.Type)
	}
	if len(g.Samples) != 2 {
		t.Fatalf("got %d samples", len(g.Samples))
	}
	if g.Samples[0].TimestampUs != 1_000_000 || g.Samples[1].TimestampUs != 2_000_000 {
		t.Errorf("timestamps = %d, %d", g.Samples[0].TimestampUs, g.Samples[1].TimestampUs)
	}
	// __name__ is identity, not a label.
	for _, l := range g.Sensor.Labels {
		if l.Name == "__name__" {
			t.Error("__name__ leaked into sensor labels")
		}
	}
}

func TestParseWriteConvergentIdentity(t *testing.T) {
	// Same series, labels in different wire order: must resolve to one
	// sensor identity.
	mk := func(labels []prompb.Label) *sample.Sensor {
		req := &prompb.WriteRequest{Timeseries: []prompb.TimeSeries{{
			Labels:  labels,
			Samples: []prompb.Sample{{Timestamp: 1, Value: 1}},
		}}}
		b := batch.New()
		if err := ParseWrite(compress(t, req), b); err != nil {
			t.Fatal(err)
		}
		return b.Groups()[0].Sensor
	}
	s1 := mk([]prompb.Label{
		{Name: "__name__", Value: "up"},
		{Name: "job", Value: "prometheus"},
		{Name: "instance", Value: "h1"},
	})
	s2 := mk([]prompb.Label{
		{Name: "instance", Value: "h1"},
		{Name: "__name__", Value: "up"},
		{Name: "job", Value: "prometheus"},
	})
	if s1.UUID != s2.UUID {
		t.Error("label order changed sensor identity")
	}
}

func TestParseWriteErrors(t *testing.T) {
	cases := []struct {
		name string
		body []byte
	}{
		{"notSnappy", []byte{0xff, 0xfe, 0xfd}},
		{"notProto", snappy.Encode(nil, []byte("genuinely not protobuf"))},
		{"empty", func() []byte {
			raw, _ := (&prompb.WriteRequest{}).Marshal()
			return snappy.Encode(nil, raw)
		}()},
	}
	for _, c := range cases {
		b := batch.New()
		err := ParseWrite(c.body, b)
		if err == nil {
			t.Errorf("%s: expected error", c.name)
			continue
		}
		if kind := sensapperr.KindOf(err); kind != sensapperr.KindParse {
			t.Errorf("%s: kind = %v, want parse", c.name, kind)
		}
	}

	noName := &prompb.WriteRequest{Timeseries: []prompb.TimeSeries{{
		Labels:  []prompb.Label{{Name: "job", Value: "x"}},
		Samples: []prompb.Sample{{Timestamp: 1, Value: 1}},
	}}}
	if err := ParseWrite(compress(t, noName), batch.New()); err == nil {
		t.Error("series without __name__ must be rejected")
	}
}

// fakeBackend serves canned series for HandleRead tests.
type fakeBackend struct {
	*unsupported.Store
	series   []storage.SeriesMatch
	matchers []storage.Matcher
	tr       storage.TimeRange
}

func (f *fakeBackend) PrometheusMatch(ctx context.Context, matchers []storage.Matcher, tr storage.TimeRange, handler storage.SeriesHandler) error {
	f.matchers = matchers
	f.tr = tr
	for _, s := range f.series {
		if err := handler(s); err != nil {
			return err
		}
	}
	return nil
}

func TestHandleRead(t *testing.T) {
	sensor, err := sample.NewWithUUID(sample.DeterministicUUID("cpu", map[string]string{"host": "h1"}),
		"cpu", sample.TypeFloat, "", []sample.Label{{Name: "host", Description: "h1"}})
	if err != nil {
		t.Fatal(err)
	}
	backend := &fakeBackend{
		Store: unsupported.New("fake"),
		series: []storage.SeriesMatch{{
			Sensor: sensor,
			Samples: []sample.Sample{
				sample.NewSampleUs(1_000_000, sample.FloatValue(0.5)),
				sample.NewSampleUs(2_000_000, sample.FloatValue(1.5)),
			},
		}},
	}

	req := &prompb.ReadRequest{Queries: []*prompb.Query{{
		StartTimestampMs: 0,
		EndTimestampMs:   3000,
		Matchers: []*prompb.LabelMatcher{
			{Type: prompb.LabelMatcher_EQ, Name: "__name__", Value: "cpu"},
			{Type: prompb.LabelMatcher_RE, Name: "host", Value: "h.*"},
		},
	}}}
	raw, err := req.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	out, err := HandleRead(context.Background(), backend, snappy.Encode(nil, raw))
	if err != nil {
		t.Fatalf("handle read: %v", err)
	}

	decoded, err := snappy.Decode(nil, out)
	if err != nil {
		t.Fatal(err)
	}
	var resp prompb.ReadResponse
	if err := resp.Unmarshal(decoded); err != nil {
		t.Fatal(err)
	}

	if len(resp.Results) != 1 || len(resp.Results[0].Timeseries) != 1 {
		t.Fatalf("results = %+v", resp.Results)
	}
	ts := resp.Results[0].Timeseries[0]
	if len(ts.Samples) != 2 || ts.Samples[0].Value != 0.5 || ts.Samples[1].Timestamp != 2000 {
		t.Errorf("samples = %+v", ts.Samples)
	}

	var gotName string
	for _, l := range ts.Labels {
		if l.Name == "__name__" {
			gotName = l.Value
		}
	}
	if gotName != "cpu" {
		t.Errorf("__name__ = %q", gotName)
	}

	if len(backend.matchers) != 2 {
		t.Fatalf("matchers = %+v", backend.matchers)
	}
	if backend.matchers[1].Op != storage.MatchRegexp {
		t.Errorf("matcher op = %v", backend.matchers[1].Op)
	}
	if backend.tr.StartUs != 0 || backend.tr.EndUs != 3_001_000 {
		t.Errorf("time range = %+v", backend.tr)
	}
}
