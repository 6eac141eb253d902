// Package csv turns tabular sensor dumps into sample batches: one sensor
// per column, with per-column type inference and latitude/longitude pairs
// folded into a single Location sensor.
package csv

import (
	stdcsv "encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/sensapp/sensapp/internal/batch"
	"github.com/sensapp/sensapp/internal/ingest"
	"github.com/sensapp/sensapp/internal/sample"
	"github.com/sensapp/sensapp/internal/sensapperr"
)

// Options carries the ingest hints the HTTP layer extracts from headers.
// Zero values auto-detect.
type Options struct {
	// Comma overrides the field separator (default ',').
	Comma rune
	// TimestampColumn names the time column; empty auto-detects among
	// the usual suspects (time, timestamp, ts, date).
	TimestampColumn string
	// LocationSensor names the sensor produced by a folded lat/lon pair
	// (default "location").
	LocationSensor string
}

var timestampAliases = map[string]bool{
	"time": true, "timestamp": true, "ts": true, "date": true, "datetime": true,
}

var latitudeAliases = map[string]bool{"lat": true, "latitude": true}
var longitudeAliases = map[string]bool{"lon": true, "lng": true, "long": true, "longitude": true}

// Parse reads a CSV document with a header row from r and pushes one
// sample per (row, value column) into b. Column types are inferred by
// scanning the whole column: integer ⊂ float ⊂ string, with boolean
// detected before string.
func Parse(r io.Reader, opts Options, b *batch.Batch) error {
	reader := stdcsv.NewReader(r)
	if opts.Comma != 0 {
		reader.Comma = opts.Comma
	}
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return sensapperr.Wrap(sensapperr.KindParse, "csv.parse", err)
	}
	if len(rows) < 2 {
		return sensapperr.New(sensapperr.KindParse, "csv.parse", "need a header row and at least one data row")
	}

	header := rows[0]
	data := rows[1:]

	tsCol, err := findTimestampColumn(header, opts.TimestampColumn)
	if err != nil {
		return err
	}

	timestamps := make([]int64, len(data))
	for i, row := range data {
		if len(row) != len(header) {
			return sensapperr.New(sensapperr.KindParse, "csv.parse", "row %d has %d fields, header has %d", i+2, len(row), len(header))
		}
		ts, err := ingest.ParseTimestamp(row[tsCol])
		if err != nil {
			return sensapperr.New(sensapperr.KindParse, "csv.parse", "row %d: bad timestamp %q", i+2, row[tsCol])
		}
		timestamps[i] = ts
	}

	latCol, lonCol := -1, -1
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if latitudeAliases[key] {
			latCol = i
		}
		if longitudeAliases[key] {
			lonCol = i
		}
	}
	foldLocation := latCol >= 0 && lonCol >= 0

	for col, name := range header {
		if col == tsCol {
			continue
		}
		if foldLocation && (col == latCol || col == lonCol) {
			continue
		}
		if err := pushColumn(b, strings.TrimSpace(name), col, data, timestamps); err != nil {
			return err
		}
	}

	if foldLocation {
		if err := pushLocation(b, opts, latCol, lonCol, data, timestamps); err != nil {
			return err
		}
	}
	return nil
}

func findTimestampColumn(header []string, hint string) (int, error) {
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if hint != "" {
			if key == strings.ToLower(hint) {
				return i, nil
			}
			continue
		}
		if timestampAliases[key] {
			return i, nil
		}
	}
	if hint != "" {
		return 0, sensapperr.New(sensapperr.KindParse, "csv.parse", "timestamp column %q not found", hint)
	}
	return 0, sensapperr.New(sensapperr.KindParse, "csv.parse", "no timestamp column found")
}

// inferType scans every cell of a column and returns the narrowest type
// that fits all of them.
func inferType(cells []string) sample.Type {
	isInt, isFloat, isBool := true, true, true
	for _, c := range cells {
		c = strings.TrimSpace(c)
		if _, err := strconv.ParseInt(c, 10, 64); err != nil {
			isInt = false
		}
		if _, err := strconv.ParseFloat(c, 64); err != nil {
			isFloat = false
		}
		lc := strings.ToLower(c)
		if lc != "true" && lc != "false" {
			isBool = false
		}
	}
	switch {
	case isInt:
		return sample.TypeInteger
	case isFloat:
		return sample.TypeFloat
	case isBool:
		return sample.TypeBoolean
	default:
		return sample.TypeString
	}
}

func pushColumn(b *batch.Batch, name string, col int, data [][]string, timestamps []int64) error {
	cells := make([]string, len(data))
	for i, row := range data {
		cells[i] = row[col]
	}
	typ := inferType(cells)

	sensor, err := sample.NewWithUUID(sample.DeterministicUUID(name, nil), name, typ, "", nil)
	if err != nil {
		return sensapperr.Wrap(sensapperr.KindValidation, "csv.parse", err)
	}

	for i, cell := range cells {
		cell = strings.TrimSpace(cell)
		var v sample.Value
		switch typ {
		case sample.TypeInteger:
			n, _ := strconv.ParseInt(cell, 10, 64)
			v = sample.IntegerValue(n)
		case sample.TypeFloat:
			f, _ := strconv.ParseFloat(cell, 64)
			v = sample.FloatValue(f)
		case sample.TypeBoolean:
			v = sample.BooleanValue(strings.EqualFold(cell, "true"))
		default:
			v = sample.StringValue(cell)
		}
		if err := b.Push(sensor, sample.NewSampleUs(timestamps[i], v)); err != nil {
			return err
		}
	}
	return nil
}

func pushLocation(b *batch.Batch, opts Options, latCol, lonCol int, data [][]string, timestamps []int64) error {
	name := opts.LocationSensor
	if name == "" {
		name = "location"
	}
	sensor, err := sample.NewWithUUID(sample.DeterministicUUID(name, nil), name, sample.TypeLocation, "", nil)
	if err != nil {
		return sensapperr.Wrap(sensapperr.KindValidation, "csv.parse", err)
	}

	for i, row := range data {
		lat, err := strconv.ParseFloat(strings.TrimSpace(row[latCol]), 64)
		if err != nil {
			return sensapperr.New(sensapperr.KindParse, "csv.parse", "row %d: bad latitude %q", i+2, row[latCol])
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(row[lonCol]), 64)
		if err != nil {
			return sensapperr.New(sensapperr.KindParse, "csv.parse", "row %d: bad longitude %q", i+2, row[lonCol])
		}
		if err := b.Push(sensor, sample.NewSampleUs(timestamps[i], sample.LocationValue(lat, lon))); err != nil {
			return err
		}
	}
	return nil
}
