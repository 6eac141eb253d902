package sample

import (
	"testing"
	"time"
)

func TestValidateName(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"cpu", true},
		{"room/temp", true},
		{"a-b_c:d.e[0]", true},
		{"", false},
		{"has space", false},
		{"emoji😀", false},
	}
	for _, c := range cases {
		err := ValidateName(c.name)
		if (err == nil) != c.ok {
			t.Errorf("ValidateName(%q) = %v, want ok=%v", c.name, err, c.ok)
		}
	}
}

func TestNewWithoutUUIDIsV7(t *testing.T) {
	s, err := NewWithoutUUID("cpu", TypeFloat, "", nil)
	if err != nil {
		t.Fatalf("NewWithoutUUID: %v", err)
	}
	if s.UUID.Version() != 7 {
		t.Fatalf("got uuid version %d, want 7", s.UUID.Version())
	}
}

func TestNewWithoutUUIDRejectsUnknownType(t *testing.T) {
	if _, err := NewWithoutUUID("cpu", TypeUnknown, "", nil); err == nil {
		t.Fatal("expected error for TypeUnknown")
	}
}

func TestDeterministicUUIDStable(t *testing.T) {
	labels := map[string]string{"job": "prometheus", "instance": "h1"}
	a := DeterministicUUID("up", labels)
	b := DeterministicUUID("up", map[string]string{"instance": "h1", "job": "prometheus"})
	if a != b {
		t.Fatalf("DeterministicUUID not stable under label order: %s != %s", a, b)
	}
	c := DeterministicUUID("up", map[string]string{"job": "prometheus", "instance": "h2"})
	if a == c {
		t.Fatalf("DeterministicUUID collided for different labels")
	}
	if a.Version() != 5 {
		t.Fatalf("got uuid version %d, want 5", a.Version())
	}
}

func TestNewSampleTimestamp(t *testing.T) {
	ts := time.UnixMicro(1_700_000_000_000_000)
	s := NewSample(ts, Value{Float: 21.3})
	if s.TimestampUs != 1_700_000_000_000_000 {
		t.Fatalf("got %d", s.TimestampUs)
	}
}

func TestParseType(t *testing.T) {
	for typ := TypeInteger; typ <= TypeBlob; typ++ {
		got, ok := ParseType(typ.String())
		if !ok || got != typ {
			t.Errorf("ParseType(%q) = %v,%v want %v,true", typ.String(), got, ok, typ)
		}
	}
	if _, ok := ParseType("nonsense"); ok {
		t.Error("ParseType(\"nonsense\") should fail")
	}
}

func TestStableHashDeterministic(t *testing.T) {
	if StableHash("cpu") != StableHash("cpu") {
		t.Fatal("StableHash is not deterministic")
	}
}
