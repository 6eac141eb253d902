package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"

	"github.com/sensapp/sensapp/internal/batch"
	"github.com/sensapp/sensapp/internal/config"
	"github.com/sensapp/sensapp/internal/sample"
	"github.com/sensapp/sensapp/internal/sensapperr"
	"github.com/sensapp/sensapp/internal/storage"
	"github.com/sensapp/sensapp/internal/storage/unsupported"
	"github.com/sensapp/sensapp/internal/syncbarrier"
)

// memBackend keeps published batches in memory and serves them back.
type memBackend struct {
	*unsupported.Store
	byUUID    map[string]storage.SensorCatalog
	series    map[int64]storage.TypedSamples
	nextID    int64
	busy      bool
	healthy   bool
	published int
}

func newMemBackend() *memBackend {
	return &memBackend{
		Store:   unsupported.New("mem"),
		byUUID:  map[string]storage.SensorCatalog{},
		series:  map[int64]storage.TypedSamples{},
		nextID:  1,
		healthy: true,
	}
}

func (m *memBackend) Publish(ctx context.Context, b *batch.Batch, sync *syncbarrier.Sender) error {
	if m.busy {
		return sensapperr.New(sensapperr.KindBusy, "mem.publish", "pool saturated")
	}
	for _, g := range b.Groups() {
		key := g.Sensor.UUID.String()
		entry, ok := m.byUUID[key]
		if !ok {
			g.Sensor.SensorID = m.nextID
			m.nextID++
			entry = storage.SensorCatalog{Sensor: g.Sensor, Labels: map[string]string{}}
			m.byUUID[key] = entry
			m.series[g.Sensor.SensorID] = storage.TypedSamples{Sensor: g.Sensor}
		}
		ts := m.series[entry.Sensor.SensorID]
		ts.Samples = append(ts.Samples, g.Samples...)
		m.series[entry.Sensor.SensorID] = ts
	}
	m.published++
	if sync != nil {
		sync.Broadcast()
	}
	return nil
}

func (m *memBackend) GetSensorByUUID(ctx context.Context, id string) (storage.SensorCatalog, error) {
	entry, ok := m.byUUID[id]
	if !ok {
		return storage.SensorCatalog{}, sensapperr.New(sensapperr.KindNotFound, "mem.get_sensor", "sensor %s not found", id)
	}
	return entry, nil
}

func (m *memBackend) QuerySeries(ctx context.Context, sensorID int64, tr storage.TimeRange, limit int) (storage.TypedSamples, error) {
	ts, ok := m.series[sensorID]
	if !ok {
		return storage.TypedSamples{}, sensapperr.New(sensapperr.KindNotFound, "mem.query_series", "sensor %d not found", sensorID)
	}
	out := storage.TypedSamples{Sensor: ts.Sensor}
	for _, s := range ts.Samples {
		if tr.Contains(s.TimestampUs) {
			out.Samples = append(out.Samples, s)
			if limit > 0 && len(out.Samples) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memBackend) Health(ctx context.Context) storage.Health {
	if !m.healthy {
		return storage.Health{OK: false, Message: "down"}
	}
	return storage.Health{OK: true, Message: "ok"}
}

func newTestServer(t *testing.T) (*Server, *memBackend) {
	t.Helper()
	backend := newMemBackend()
	cfg := config.Default()
	cfg.Ingest.BatchSize = 100
	return NewServer(backend, cfg), backend
}

func TestPublishSenMLThenExportJSONL(t *testing.T) {
	srv, backend := newTestServer(t)

	body := `[{"bn":"cpu","v":0.5,"t":1},{"n":"","v":1.5,"t":2}]`
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/publish/senml", strings.NewReader(body)))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("publish: %d %s", rec.Code, rec.Body.String())
	}
	if backend.published != 1 {
		t.Fatalf("published = %d", backend.published)
	}

	id := sample.DeterministicUUID("cpu", nil).String()
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/series/"+id+"?start=0&end=3000000&format=jsonl", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("export: %d %s", rec.Code, rec.Body.String())
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %v", lines)
	}
	if !strings.Contains(lines[0], "0.5") || !strings.Contains(lines[1], "1.5") {
		t.Errorf("values out of order: %v", lines)
	}
}

func TestPublishParseErrorIs400(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/publish/senml", strings.NewReader("not json")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("code = %d", rec.Code)
	}
}

func TestPublishBusyIs503WithRetryAfter(t *testing.T) {
	srv, backend := newTestServer(t)
	backend.busy = true
	body := `[{"bn":"cpu","v":0.5,"t":1}]`
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/publish/senml", strings.NewReader(body)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}

func TestPublishTooLargeIs413(t *testing.T) {
	backend := newMemBackend()
	cfg := config.Default()
	cfg.Ingest.BatchSize = 1
	srv := NewServer(backend, cfg)

	body := `[{"bn":"cpu","v":0.5,"t":1},{"n":"","v":1.5,"t":2}]`
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/publish/senml", strings.NewReader(body)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("code = %d", rec.Code)
	}
}

func TestPublishInflux(t *testing.T) {
	srv, backend := newTestServer(t)
	body := "cpu,host=h1 usage=0.5 1700000000000000000\n"
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/publish/influx?org=o&bucket=b", strings.NewReader(body)))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("publish: %d %s", rec.Code, rec.Body.String())
	}
	if backend.published != 1 {
		t.Errorf("published = %d", backend.published)
	}
}

func TestRemoteWrite(t *testing.T) {
	srv, backend := newTestServer(t)
	req := &prompb.WriteRequest{Timeseries: []prompb.TimeSeries{{
		Labels:  []prompb.Label{{Name: "__name__", Value: "up"}, {Name: "job", Value: "p"}},
		Samples: []prompb.Sample{{Timestamp: 1000, Value: 1}},
	}}}
	raw, err := req.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/write", bytes.NewReader(snappy.Encode(nil, raw))))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("write: %d %s", rec.Code, rec.Body.String())
	}
	if backend.published != 1 {
		t.Errorf("published = %d", backend.published)
	}
}

func TestSeriesUnknownUUIDIs404(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/series/00000000-0000-0000-0000-000000000000", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("code = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	srv, backend := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("live = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("ready = %d", rec.Code)
	}

	backend.healthy = false
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready while down = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "failing") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/publish/senml", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("code = %d", rec.Code)
	}
}

func TestKindStatusMapping(t *testing.T) {
	srv, _ := newTestServer(t)
	cases := []struct {
		kind sensapperr.Kind
		want int
	}{
		{sensapperr.KindParse, http.StatusBadRequest},
		{sensapperr.KindValidation, http.StatusBadRequest},
		{sensapperr.KindNotFound, http.StatusNotFound},
		{sensapperr.KindConflict, http.StatusConflict},
		{sensapperr.KindBusy, http.StatusServiceUnavailable},
		{sensapperr.KindBackendTransient, http.StatusServiceUnavailable},
		{sensapperr.KindTimeout, http.StatusServiceUnavailable},
		{sensapperr.KindUnsupported, http.StatusNotImplemented},
		{sensapperr.KindBackendFatal, http.StatusInternalServerError},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		srv.writeKindError(rec, sensapperr.New(c.kind, "test", "boom"))
		if rec.Code != c.want {
			t.Errorf("kind %v: status = %d, want %d", c.kind, rec.Code, c.want)
		}
	}
}

func TestCursorRoundTrip(t *testing.T) {
	c, err := parseCursor(encodeCursor(&storage.Cursor{UUID: "abc"}))
	if err != nil {
		t.Fatal(err)
	}
	if c.UUID != "abc" {
		t.Errorf("uuid = %q", c.UUID)
	}
	if _, err := parseCursor("garbage-no-separator"); err == nil {
		t.Error("expected error for bad cursor")
	}
}
