// Package api exposes SensApp's HTTP surface: the ingest endpoints, the
// DCAT catalogs, series export and health probes. Handlers stay thin —
// parse, hand to the batch pipeline or the backend, map error kinds to
// status codes.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/prometheus/model/labels"
	"github.com/prometheus/prometheus/promql/parser"

	"github.com/sensapp/sensapp/internal/batch"
	"github.com/sensapp/sensapp/internal/catalog"
	"github.com/sensapp/sensapp/internal/config"
	"github.com/sensapp/sensapp/internal/ingest"
	csvingest "github.com/sensapp/sensapp/internal/ingest/csv"
	"github.com/sensapp/sensapp/internal/ingest/influx"
	"github.com/sensapp/sensapp/internal/ingest/promremote"
	"github.com/sensapp/sensapp/internal/ingest/senml"
	"github.com/sensapp/sensapp/internal/sensapperr"
	"github.com/sensapp/sensapp/internal/storage"
	"github.com/sensapp/sensapp/internal/syncbarrier"
)

// Server routes SensApp's HTTP API onto one storage backend.
type Server struct {
	backend     storage.Backend
	mux         *http.ServeMux
	maxBatch    int
	syncTimeout time.Duration
}

// NewServer wires the routes. cfg bounds batch size and the sync-barrier
// timeout.
func NewServer(backend storage.Backend, cfg config.Config) *Server {
	s := &Server{
		backend:     backend,
		mux:         http.NewServeMux(),
		maxBatch:    cfg.Ingest.BatchSize,
		syncTimeout: time.Duration(cfg.Ingest.SyncTimeoutSeconds) * time.Second,
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Listen starts the server and blocks until ctx is cancelled.
func (s *Server) Listen(ctx context.Context, addr string) error {
	server := &http.Server{Addr: addr, Handler: s.mux}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) routes() {
	s.mux.HandleFunc("/publish/senml", s.post(s.handlePublishSenML))
	s.mux.HandleFunc("/publish/csv", s.post(s.handlePublishCSV))
	s.mux.HandleFunc("/publish/influx", s.post(s.handlePublishInflux))
	s.mux.HandleFunc("/api/v1/write", s.post(s.handleRemoteWrite))
	s.mux.HandleFunc("/api/v1/read", s.post(s.handleRemoteRead))
	s.mux.HandleFunc("/metrics", s.get(s.handleMetrics))
	s.mux.HandleFunc("/series", s.get(s.handleSeriesCatalog))
	s.mux.HandleFunc("/series/", s.get(s.handleSeriesData))
	s.mux.HandleFunc("/health/live", s.get(s.handleLive))
	s.mux.HandleFunc("/health/ready", s.get(s.handleReady))
}

func (s *Server) post(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func (s *Server) get(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

// publishBatch runs the publish-and-await-durability cycle shared by every
// ingest endpoint: the handler only responds once the backend has
// confirmed persistence through the sync barrier, or after the configured
// timeout with 503.
func (s *Server) publishBatch(w http.ResponseWriter, r *http.Request, b *batch.Batch) {
	if b.Len() > s.maxBatch {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Errorf("batch of %d samples exceeds limit %d", b.Len(), s.maxBatch))
		return
	}

	sender, receiver := syncbarrier.New()
	if err := s.backend.Publish(r.Context(), b, sender); err != nil {
		s.writeKindError(w, err)
		return
	}

	awaitCtx, cancel := context.WithTimeout(r.Context(), s.syncTimeout)
	defer cancel()
	if err := receiver.Await(awaitCtx); err != nil {
		s.writeKindError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePublishSenML(w http.ResponseWriter, r *http.Request) {
	b := batch.New()
	if err := senml.Parse(r.Body, b); err != nil {
		s.writeKindError(w, err)
		return
	}
	s.publishBatch(w, r, b)
}

func (s *Server) handlePublishCSV(w http.ResponseWriter, r *http.Request) {
	opts := csvingest.Options{
		TimestampColumn: r.Header.Get("X-SensApp-Timestamp-Column"),
	}
	if sep := r.Header.Get("X-SensApp-Separator"); sep != "" {
		opts.Comma = rune(sep[0])
	}
	b := batch.New()
	if err := csvingest.Parse(r.Body, opts, b); err != nil {
		s.writeKindError(w, err)
		return
	}
	s.publishBatch(w, r, b)
}

func (s *Server) handlePublishInflux(w http.ResponseWriter, r *http.Request) {
	// org and bucket are accepted for InfluxDB v2 client compatibility but
	// carry no meaning here: series identity comes from measurements and
	// tags.
	precision := influx.Precision(r.URL.Query().Get("precision"))
	b := batch.New()
	if err := influx.Parse(r.Body, precision, b); err != nil {
		s.writeKindError(w, err)
		return
	}
	s.publishBatch(w, r, b)
}

func (s *Server) handleRemoteWrite(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	b := batch.New()
	if err := promremote.ParseWrite(body, b); err != nil {
		s.writeKindError(w, err)
		return
	}
	s.publishBatch(w, r, b)
}

func (s *Server) handleRemoteRead(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := promremote.HandleRead(r.Context(), s.backend, body)
	if err != nil {
		s.writeKindError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	w.Header().Set("Content-Encoding", "snappy")
	_, _ = w.Write(resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	cat, err := catalog.Metrics(r.Context(), s.backend)
	if err != nil {
		s.writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cat)
}

func (s *Server) handleSeriesCatalog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("bad limit %q", v))
			return
		}
		limit = n
	}

	if match := q.Get("match"); match != "" {
		s.handleSeriesMatch(w, r, match, limit)
		return
	}

	cursor, err := parseCursor(q.Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cat, next, err := catalog.Series(r.Context(), s.backend, cursor, limit)
	if err != nil {
		s.writeKindError(w, err)
		return
	}
	if next != nil {
		w.Header().Set("X-SensApp-Next-Cursor", encodeCursor(next))
	}
	writeJSON(w, http.StatusOK, cat)
}

// handleSeriesMatch filters the series catalog by a Prometheus selector
// such as `cpu{instance=~"h.*"}`.
func (s *Server) handleSeriesMatch(w http.ResponseWriter, r *http.Request, match string, limit int) {
	sel, err := parser.ParseMetricSelector(match)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("bad match selector: %w", err))
		return
	}
	matchers := convertSelector(sel)

	// Matching is a metadata query: sensor selection does not depend on the
	// time range, and the empty range [0, 0) makes every matched series come
	// back without samples.
	tr := storage.TimeRange{StartUs: 0, EndUs: 0}

	var datasets []catalog.Dataset
	err = s.backend.PrometheusMatch(r.Context(), matchers, tr, func(m storage.SeriesMatch) error {
		if limit > 0 && len(datasets) >= limit {
			return nil
		}
		labelMap := map[string]string{}
		for _, l := range m.Sensor.Labels {
			labelMap[l.Name] = l.Description
		}
		datasets = append(datasets, catalog.Dataset{
			Type:        "dcat:Dataset",
			Identifier:  m.Sensor.UUID.String(),
			Title:       m.Sensor.Name,
			Description: catalog.PrometheusID(m.Sensor.Name, labelMap),
			SensorType:  m.Sensor.Type.String(),
			Unit:        m.Sensor.UnitName,
		})
		return nil
	})
	if err != nil {
		s.writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, catalog.Catalog{
		Context:  "https://www.w3.org/ns/dcat2.jsonld",
		Type:     "dcat:Catalog",
		Title:    "SensApp series",
		Datasets: datasets,
	})
}

func convertSelector(sel []*labels.Matcher) []storage.Matcher {
	out := make([]storage.Matcher, 0, len(sel))
	for _, m := range sel {
		var op storage.MatchOp
		switch m.Type {
		case labels.MatchEqual:
			op = storage.MatchEqual
		case labels.MatchNotEqual:
			op = storage.MatchNotEqual
		case labels.MatchRegexp:
			op = storage.MatchRegexp
		case labels.MatchNotRegexp:
			op = storage.MatchNotRegexp
		}
		out = append(out, storage.Matcher{Name: m.Name, Value: m.Value, Op: op})
	}
	return out
}

func (s *Server) handleSeriesData(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/series/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	tr := storage.TimeRange{StartUs: 0, EndUs: int64(1) << 62}
	if v := q.Get("start"); v != "" {
		ts, err := ingest.ParseTimestamp(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		tr.StartUs = ts
	}
	if v := q.Get("end"); v != "" {
		ts, err := ingest.ParseTimestamp(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		tr.EndUs = ts
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("bad limit %q", v))
			return
		}
		limit = n
	}
	format, err := catalog.ParseFormat(q.Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	entry, err := s.backend.GetSensorByUUID(r.Context(), id)
	if err != nil {
		s.writeKindError(w, err)
		return
	}
	series, err := s.backend.QuerySeries(r.Context(), entry.Sensor.SensorID, tr, limit)
	if err != nil {
		s.writeKindError(w, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	if err := catalog.Export(w, format, series); err != nil {
		// Headers are gone; all we can do is log and cut the stream.
		log.Printf("api: series export %s: %v", id, err)
	}
}

type healthResponse struct {
	Status   string            `json:"status"`
	Backends map[string]string `json:"backends"`
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Backends: map[string]string{s.backend.Name(): "ok"},
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	h := s.backend.Health(r.Context())
	resp := healthResponse{Status: "ok", Backends: map[string]string{}}
	code := http.StatusOK
	if h.OK {
		resp.Backends[s.backend.Name()] = "ok"
	} else {
		resp.Status = "failing"
		resp.Backends[s.backend.Name()] = "failing"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// parseCursor decodes the opaque "<rfc3339nano>|<uuid>" pagination token.
func parseCursor(raw string) (*storage.Cursor, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.SplitN(raw, "|", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("bad cursor %q", raw)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return nil, fmt.Errorf("bad cursor %q: %w", raw, err)
	}
	return &storage.Cursor{CreatedAt: createdAt, UUID: parts[1]}, nil
}

func encodeCursor(c *storage.Cursor) string {
	return c.CreatedAt.Format(time.RFC3339Nano) + "|" + c.UUID
}

// writeKindError maps an error's kind to the HTTP status it documents.
func (s *Server) writeKindError(w http.ResponseWriter, err error) {
	switch sensapperr.KindOf(err) {
	case sensapperr.KindParse, sensapperr.KindValidation:
		writeError(w, http.StatusBadRequest, err)
	case sensapperr.KindNotFound:
		writeError(w, http.StatusNotFound, err)
	case sensapperr.KindConflict:
		writeError(w, http.StatusConflict, err)
	case sensapperr.KindBusy:
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, err)
	case sensapperr.KindBackendTransient, sensapperr.KindTimeout:
		writeError(w, http.StatusServiceUnavailable, err)
	case sensapperr.KindCancelled:
		// Caller is gone; there is nobody to respond to.
	case sensapperr.KindUnsupported:
		writeError(w, http.StatusNotImplemented, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}
