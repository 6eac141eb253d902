package postgres

import (
	"context"
	"strings"
	"testing"

	"github.com/sensapp/sensapp/internal/sample"
	"github.com/sensapp/sensapp/internal/sensapperr"
	"github.com/sensapp/sensapp/internal/storage"
)

func TestNewRejectsEmptyConnString(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatal("expected error on empty connection string")
	} else if sensapperr.KindOf(err) != sensapperr.KindValidation {
		t.Fatalf("got kind %v, want KindValidation", sensapperr.KindOf(err))
	}
}

func TestAnchorValueAnchorsUnanchoredRegex(t *testing.T) {
	cases := map[string]string{
		"foo|bar":  "^(?:foo|bar)$",
		"^foo$":    "^foo$",
		"^foo.*":   "^(?:^foo.*)$",
		"a.*$":     "^(?:a.*$)$",
	}
	for in, want := range cases {
		if got := anchorValue(in); got != want {
			t.Errorf("anchorValue(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMatcherClauseEqualityUsesEquals(t *testing.T) {
	clause, args, next := matcherClause(storage.Matcher{Name: "job", Value: "prometheus", Op: storage.MatchEqual}, 1)
	if next != 3 {
		t.Fatalf("next placeholder = %d, want 3", next)
	}
	if len(args) != 2 || args[0] != "job" || args[1] != "prometheus" {
		t.Fatalf("args = %#v", args)
	}
	if strings.Contains(clause, "NOT EXISTS") {
		t.Fatalf("equality matcher should not produce NOT EXISTS: %s", clause)
	}
}

func TestMatcherClauseNegationUsesNotExists(t *testing.T) {
	clause, _, _ := matcherClause(storage.Matcher{Name: "job", Value: "prometheus", Op: storage.MatchNotEqual}, 1)
	if !strings.Contains(clause, "NOT EXISTS") {
		t.Fatalf("negated matcher should produce NOT EXISTS: %s", clause)
	}
}

func TestValueTableForKnownTypes(t *testing.T) {
	for _, typ := range []sample.Type{
		sample.TypeInteger, sample.TypeNumeric, sample.TypeFloat, sample.TypeBoolean,
		sample.TypeJSON, sample.TypeBlob, sample.TypeLocation, sample.TypeString,
	} {
		if _, _, err := valueTableFor(typ); err != nil {
			t.Errorf("valueTableFor(%v) unexpected error: %v", typ, err)
		}
	}
}

func TestValueTableForUnknownType(t *testing.T) {
	if _, _, err := valueTableFor(sample.TypeUnknown); err == nil {
		t.Fatal("expected error for TypeUnknown")
	}
}
