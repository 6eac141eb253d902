package unsupported

import (
	"context"
	"testing"

	"github.com/sensapp/sensapp/internal/sensapperr"
	"github.com/sensapp/sensapp/internal/storage"
)

func TestQuerySeriesReportsUnsupported(t *testing.T) {
	s := New("duckdb")
	_, err := s.QuerySeries(context.Background(), 1, storage.TimeRange{}, 0)
	if sensapperr.KindOf(err) != sensapperr.KindUnsupported {
		t.Fatalf("got kind %v, want KindUnsupported", sensapperr.KindOf(err))
	}
}

func TestHealthReportsDown(t *testing.T) {
	s := New("bigquery")
	h := s.Health(context.Background())
	if h.OK {
		t.Fatal("expected stub backend to report unhealthy")
	}
}

func TestNameReflectsScheme(t *testing.T) {
	if got := New("rrdcached").Name(); got != "rrdcached" {
		t.Fatalf("Name() = %q, want rrdcached", got)
	}
}
