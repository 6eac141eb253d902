package catalog

import (
	"bufio"
	"encoding/base64"
	stdcsv "encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/sensapp/sensapp/internal/sample"
	"github.com/sensapp/sensapp/internal/sensapperr"
	"github.com/sensapp/sensapp/internal/storage"
)

// Format selects a series export encoding.
type Format string

const (
	FormatSenML Format = "senml"
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
	FormatArrow Format = "arrow"
)

// ParseFormat maps the ?format= query value to a Format (default senml).
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatSenML:
		return FormatSenML, nil
	case FormatCSV:
		return FormatCSV, nil
	case FormatJSONL:
		return FormatJSONL, nil
	case FormatArrow:
		return FormatArrow, nil
	default:
		return "", sensapperr.New(sensapperr.KindParse, "catalog.parse_format", "unknown format %q", s)
	}
}

// ContentType returns the response media type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatJSONL:
		return "application/x-ndjson"
	case FormatArrow:
		return "application/vnd.apache.arrow.stream"
	default:
		return "application/json"
	}
}

// Export writes ts to w in the given format. JSON-based formats (senml,
// jsonl) encode NaN and ±Inf floats as null, since JSON has no literal for
// them; Arrow preserves the exact bit pattern.
func Export(w io.Writer, f Format, ts storage.TypedSamples) error {
	switch f {
	case FormatSenML:
		return exportSenML(w, ts)
	case FormatCSV:
		return exportCSV(w, ts)
	case FormatJSONL:
		return exportJSONL(w, ts)
	case FormatArrow:
		return exportArrow(w, ts)
	default:
		return sensapperr.New(sensapperr.KindParse, "catalog.export", "unknown format %q", string(f))
	}
}

// jsonValue renders a sample value as a JSON-encodable Go value, mapping
// non-finite floats to nil.
func jsonValue(v sample.Value) (any, error) {
	switch v.Type {
	case sample.TypeInteger:
		return v.Integer, nil
	case sample.TypeNumeric:
		return json.RawMessage(v.Numeric.String()), nil
	case sample.TypeFloat:
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
			return nil, nil
		}
		return v.Float, nil
	case sample.TypeString:
		return v.String, nil
	case sample.TypeBoolean:
		return v.Boolean, nil
	case sample.TypeLocation:
		return map[string]float64{"latitude": v.Location.Latitude, "longitude": v.Location.Longitude}, nil
	case sample.TypeJSON:
		return json.RawMessage(v.JSON), nil
	case sample.TypeBlob:
		return v.Blob, nil // base64 via encoding/json
	default:
		return nil, sensapperr.New(sensapperr.KindValidation, "catalog.export", "unsupported type %v", v.Type)
	}
}

type jsonlRow struct {
	TimestampUs int64 `json:"timestamp_us"`
	Value       any   `json:"value"`
}

func exportJSONL(w io.Writer, ts storage.TypedSamples) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, s := range ts.Samples {
		v, err := jsonValue(s.Value)
		if err != nil {
			return err
		}
		if err := enc.Encode(jsonlRow{TimestampUs: s.TimestampUs, Value: v}); err != nil {
			return sensapperr.Wrap(sensapperr.KindBackendFatal, "catalog.export_jsonl", err)
		}
	}
	return bw.Flush()
}

func exportCSV(w io.Writer, ts storage.TypedSamples) error {
	cw := stdcsv.NewWriter(w)

	header := []string{"timestamp_us", "value"}
	if ts.Sensor.Type == sample.TypeLocation {
		header = []string{"timestamp_us", "latitude", "longitude"}
	}
	if err := cw.Write(header); err != nil {
		return sensapperr.Wrap(sensapperr.KindBackendFatal, "catalog.export_csv", err)
	}

	for _, s := range ts.Samples {
		row, err := csvRow(s)
		if err != nil {
			return err
		}
		if err := cw.Write(row); err != nil {
			return sensapperr.Wrap(sensapperr.KindBackendFatal, "catalog.export_csv", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(s sample.Sample) ([]string, error) {
	tsField := strconv.FormatInt(s.TimestampUs, 10)
	v := s.Value
	switch v.Type {
	case sample.TypeInteger:
		return []string{tsField, strconv.FormatInt(v.Integer, 10)}, nil
	case sample.TypeNumeric:
		return []string{tsField, v.Numeric.String()}, nil
	case sample.TypeFloat:
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
			return []string{tsField, ""}, nil
		}
		return []string{tsField, strconv.FormatFloat(v.Float, 'g', -1, 64)}, nil
	case sample.TypeString:
		return []string{tsField, v.String}, nil
	case sample.TypeBoolean:
		return []string{tsField, strconv.FormatBool(v.Boolean)}, nil
	case sample.TypeLocation:
		return []string{
			tsField,
			strconv.FormatFloat(v.Location.Latitude, 'g', -1, 64),
			strconv.FormatFloat(v.Location.Longitude, 'g', -1, 64),
		}, nil
	case sample.TypeJSON:
		return []string{tsField, string(v.JSON)}, nil
	case sample.TypeBlob:
		return []string{tsField, fmt.Sprintf("%x", v.Blob)}, nil
	default:
		return nil, sensapperr.New(sensapperr.KindValidation, "catalog.export_csv", "unsupported type %v", v.Type)
	}
}

// senmlRecord mirrors the subset of RFC 8428 fields SensApp emits. Only
// one value field is set per record.
type senmlRecord struct {
	BaseName string  `json:"bn,omitempty"`
	BaseUnit string  `json:"bu,omitempty"`
	Time     float64 `json:"t"`
	Value    any     `json:"v,omitempty"` // float64, or JSON null for NaN/±Inf
	StrV     *string `json:"vs,omitempty"`
	BoolV    *bool   `json:"vb,omitempty"`
	DataV    *string `json:"vd,omitempty"`
}

func exportSenML(w io.Writer, ts storage.TypedSamples) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("["); err != nil {
		return err
	}

	for i, s := range ts.Samples {
		rec, err := senmlFor(ts.Sensor, s, i == 0)
		if err != nil {
			return err
		}
		if i > 0 {
			if _, err := bw.WriteString(","); err != nil {
				return err
			}
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return sensapperr.Wrap(sensapperr.KindBackendFatal, "catalog.export_senml", err)
		}
		if _, err := bw.Write(raw); err != nil {
			return err
		}
	}
	if _, err := bw.WriteString("]\n"); err != nil {
		return err
	}
	return bw.Flush()
}

// senmlFor renders one sample. The first record carries the base name and
// unit; times are absolute seconds.
func senmlFor(sensor *sample.Sensor, s sample.Sample, first bool) (senmlRecord, error) {
	rec := senmlRecord{Time: float64(s.TimestampUs) / 1e6}
	if first {
		rec.BaseName = sensor.Name
		rec.BaseUnit = sensor.UnitName
	}

	v := s.Value
	switch v.Type {
	case sample.TypeFloat:
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
			rec.Value = json.RawMessage("null")
		} else {
			rec.Value = v.Float
		}
	case sample.TypeInteger:
		rec.Value = float64(v.Integer)
	case sample.TypeNumeric:
		f, _ := v.Numeric.Float64()
		rec.Value = f
	case sample.TypeBoolean:
		b := v.Boolean
		rec.BoolV = &b
	case sample.TypeString:
		str := v.String
		rec.StrV = &str
	case sample.TypeJSON:
		str := string(v.JSON)
		rec.StrV = &str
	case sample.TypeBlob:
		d := base64.StdEncoding.EncodeToString(v.Blob)
		rec.DataV = &d
	case sample.TypeLocation:
		// SenML has no composite value; emit "lat,lon" as a string record.
		str := fmt.Sprintf("%g,%g", v.Location.Latitude, v.Location.Longitude)
		rec.StrV = &str
	default:
		return senmlRecord{}, sensapperr.New(sensapperr.KindValidation, "catalog.export_senml", "unsupported type %v", v.Type)
	}
	return rec, nil
}
