package clickhouse

import (
	"testing"

	"github.com/sensapp/sensapp/internal/storage"
)

func TestMatchesAllEquality(t *testing.T) {
	labels := map[string]string{"host": "h1"}
	if !matchesAll([]storage.Matcher{{Name: "host", Value: "h1", Op: storage.MatchEqual}}, labels) {
		t.Fatal("expected equality matcher to match")
	}
	if matchesAll([]storage.Matcher{{Name: "host", Value: "h2", Op: storage.MatchEqual}}, labels) {
		t.Fatal("expected equality matcher to reject mismatched value")
	}
}

func TestMatchesAllMissingLabel(t *testing.T) {
	labels := map[string]string{}
	if matchesAll([]storage.Matcher{{Name: "host", Value: "h1", Op: storage.MatchEqual}}, labels) {
		t.Fatal("expected missing label to fail equality match")
	}
	if !matchesAll([]storage.Matcher{{Name: "host", Value: "h1", Op: storage.MatchNotEqual}}, labels) {
		t.Fatal("expected missing label to satisfy not-equal")
	}
}

func TestMatchesAllRegexp(t *testing.T) {
	labels := map[string]string{"host": "db-01"}
	if !matchesAll([]storage.Matcher{{Name: "host", Value: "db-.*", Op: storage.MatchRegexp}}, labels) {
		t.Fatal("expected regexp matcher to match")
	}
	if !matchesAll([]storage.Matcher{{Name: "host", Value: "web-.*", Op: storage.MatchNotRegexp}}, labels) {
		t.Fatal("expected not-regexp matcher to allow unmatched value")
	}
}
