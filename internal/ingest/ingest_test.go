package ingest

import "testing"

func TestNormalizeEpochInt(t *testing.T) {
	cases := []struct {
		in, want int64
	}{
		{1700000000, 1700000000_000000},             // seconds
		{1700000000_000, 1700000000_000000},         // milliseconds
		{1700000000_000000, 1700000000_000000},      // microseconds
		{1700000000_000000_000, 1700000000_000000},  // nanoseconds
		{0, 0},
		{-1700000000, -1700000000_000000},
	}
	for _, c := range cases {
		if got := NormalizeEpochInt(c.in); got != c.want {
			t.Errorf("NormalizeEpochInt(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestNormalizeEpochFractional(t *testing.T) {
	// SenML-style fractional seconds keep microsecond precision.
	if got := NormalizeEpoch(1700000000.5); got != 1700000000_500000 {
		t.Errorf("NormalizeEpoch(1700000000.5) = %d", got)
	}
}

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"1700000000", 1700000000_000000, true},
		{"1700000000000", 1700000000_000000, true},
		{"2023-11-14T22:13:20Z", 1700000000_000000, true},
		{"2023-11-14T22:13:20.5Z", 1700000000_500000, true},
		{"1970-01-01", 0, true},
		{"not a time", 0, false},
		{"", 0, false},
	}
	for _, c := range cases {
		got, err := ParseTimestamp(c.in)
		if c.ok != (err == nil) {
			t.Errorf("ParseTimestamp(%q) err = %v", c.in, err)
			continue
		}
		if c.ok && got != c.want {
			t.Errorf("ParseTimestamp(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}
