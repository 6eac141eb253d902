package clickhouse

import (
	"context"
	"testing"

	"github.com/sensapp/sensapp/internal/sample"
	"github.com/sensapp/sensapp/internal/sensapperr"
)

func TestNewRejectsEmptyDSN(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for empty dsn")
	} else if sensapperr.KindOf(err) != sensapperr.KindValidation {
		t.Fatalf("got kind %v, want KindValidation", sensapperr.KindOf(err))
	}
}

func TestSplitStatementsSplitsOnSemicolon(t *testing.T) {
	stmts := splitStatements("CREATE TABLE a (x Int8);\nCREATE TABLE b (y Int8);\n")
	if len(stmts) != 2 {
		t.Fatalf("got %d statements, want 2", len(stmts))
	}
}

func TestLabelMapFlattensLabels(t *testing.T) {
	labels := labelMap(nil)
	if len(labels) != 0 {
		t.Fatalf("expected empty map for nil labels, got %#v", labels)
	}
	labels = labelMap([]sample.Label{{Name: "host", Description: "h1"}, {Name: "job", Description: "p"}})
	if len(labels) != 2 || labels["host"] != "h1" || labels["job"] != "p" {
		t.Fatalf("labelMap = %#v, want host=h1 job=p", labels)
	}
}
