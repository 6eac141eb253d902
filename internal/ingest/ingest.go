// Package ingest holds the piece shared by the wire-format adapters and the
// HTTP query parameters: timestamp normalization to epoch microseconds,
// from either a bare epoch number of any unit or an ISO-8601 string.
package ingest

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sensapp/sensapp/internal/sensapperr"
)

// Epoch magnitude cut-offs for auto-detecting the unit of a bare numeric
// timestamp. A value below ~3e10 is seconds (covers dates through year
// 2920), below ~3e13 milliseconds, below ~3e16 microseconds, else
// nanoseconds.
const (
	maxEpochSeconds = 30_000_000_000
	maxEpochMillis  = 30_000_000_000_000
	maxEpochMicros  = 30_000_000_000_000_000
)

// NormalizeEpoch converts a bare epoch number of unknown unit into
// microseconds, detecting seconds/ms/us/ns by magnitude. Fractional input
// (e.g. SenML's fractional seconds) is preserved to microsecond precision.
func NormalizeEpoch(v float64) int64 {
	av := math.Abs(v)
	switch {
	case av < maxEpochSeconds:
		return int64(math.Round(v * 1e6))
	case av < maxEpochMillis:
		return int64(math.Round(v * 1e3))
	case av < maxEpochMicros:
		return int64(math.Round(v))
	default:
		return int64(math.Round(v / 1e3))
	}
}

// NormalizeEpochInt is NormalizeEpoch for integer input, avoiding the
// float64 precision loss that matters at nanosecond magnitudes.
func NormalizeEpochInt(v int64) int64 {
	av := v
	if av < 0 {
		av = -av
	}
	switch {
	case av < maxEpochSeconds:
		return v * 1_000_000
	case av < maxEpochMillis:
		return v * 1_000
	case av < maxEpochMicros:
		return v
	default:
		return v / 1_000
	}
}

// ParseTimestamp accepts either an ISO-8601 string or a bare epoch number
// (unit auto-detected) and returns epoch microseconds.
func ParseTimestamp(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, sensapperr.New(sensapperr.KindParse, "ingest.parse_timestamp", "empty timestamp")
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return NormalizeEpochInt(n), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return NormalizeEpoch(f), nil
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMicro(), nil
		}
	}
	return 0, sensapperr.New(sensapperr.KindParse, "ingest.parse_timestamp", "unrecognized timestamp %q", s)
}
