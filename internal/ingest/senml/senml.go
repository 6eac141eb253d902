// Package senml decodes SenML JSON arrays (RFC 8428) into sample batches.
// Base fields (bn, bt, bu, bv) carry forward across records per the RFC's
// resolution rules; each resolved record becomes one sample for the sensor
// named by baseName+name.
package senml

import (
	"encoding/base64"
	"encoding/json"
	"io"

	"github.com/google/uuid"

	"github.com/sensapp/sensapp/internal/batch"
	"github.com/sensapp/sensapp/internal/ingest"
	"github.com/sensapp/sensapp/internal/sample"
	"github.com/sensapp/sensapp/internal/sensapperr"
)

// record is one raw SenML pack entry. Pointers distinguish "absent" from
// zero for the value fields.
type record struct {
	BaseName string   `json:"bn,omitempty"`
	BaseTime float64  `json:"bt,omitempty"`
	BaseUnit string   `json:"bu,omitempty"`
	BaseVal  *float64 `json:"bv,omitempty"`

	Name  string   `json:"n,omitempty"`
	Unit  string   `json:"u,omitempty"`
	Time  float64  `json:"t,omitempty"`
	Value *float64 `json:"v,omitempty"`
	StrV  *string  `json:"vs,omitempty"`
	BoolV *bool    `json:"vb,omitempty"`
	DataV *string  `json:"vd,omitempty"`
}

// Parse decodes a SenML JSON array from r and pushes every resolved record
// into b. Sensor identity is deterministic in the resolved name, so
// re-posting the same pack resolves to the same sensors.
func Parse(r io.Reader, b *batch.Batch) error {
	var records []record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return sensapperr.Wrap(sensapperr.KindParse, "senml.parse", err)
	}
	if len(records) == 0 {
		return sensapperr.New(sensapperr.KindParse, "senml.parse", "empty SenML pack")
	}

	sensors := map[string]*sample.Sensor{}
	var baseName, baseUnit string
	var baseTime float64
	var baseVal float64
	var haveBaseVal bool

	for i, rec := range records {
		if rec.BaseName != "" {
			baseName = rec.BaseName
		}
		if rec.BaseTime != 0 {
			baseTime = rec.BaseTime
		}
		if rec.BaseUnit != "" {
			baseUnit = rec.BaseUnit
		}
		if rec.BaseVal != nil {
			baseVal = *rec.BaseVal
			haveBaseVal = true
		}

		name := baseName + rec.Name
		if name == "" {
			return sensapperr.New(sensapperr.KindParse, "senml.parse", "record %d has no name", i)
		}
		unit := rec.Unit
		if unit == "" {
			unit = baseUnit
		}
		tsUs := ingest.NormalizeEpoch(baseTime + rec.Time)

		value, typ, err := resolveValue(rec, baseVal, haveBaseVal)
		if err != nil {
			return sensapperr.New(sensapperr.KindParse, "senml.parse", "record %d (%s): %v", i, name, err)
		}

		sensor, ok := sensors[name]
		if !ok {
			sensor, err = sample.NewWithUUID(sample.DeterministicUUID(name, nil), name, typ, unit, nil)
			if err != nil {
				return sensapperr.Wrap(sensapperr.KindValidation, "senml.parse", err)
			}
			sensors[name] = sensor
		}

		if err := b.Push(sensor, sample.NewSampleUs(tsUs, value)); err != nil {
			return err
		}
	}
	return nil
}

// resolveValue picks the record's value field per RFC 8428 §4.3: exactly
// one of v/vs/vb/vd, with bv added to numeric values.
func resolveValue(rec record, baseVal float64, haveBaseVal bool) (sample.Value, sample.Type, error) {
	switch {
	case rec.Value != nil:
		v := *rec.Value
		if haveBaseVal {
			v += baseVal
		}
		return sample.FloatValue(v), sample.TypeFloat, nil
	case rec.StrV != nil:
		return sample.StringValue(*rec.StrV), sample.TypeString, nil
	case rec.BoolV != nil:
		return sample.BooleanValue(*rec.BoolV), sample.TypeBoolean, nil
	case rec.DataV != nil:
		raw, err := base64.StdEncoding.DecodeString(*rec.DataV)
		if err != nil {
			return sample.Value{}, sample.TypeUnknown, err
		}
		return sample.BlobValue(raw), sample.TypeBlob, nil
	case haveBaseVal:
		return sample.FloatValue(baseVal), sample.TypeFloat, nil
	default:
		return sample.Value{}, sample.TypeUnknown, errNoValue
	}
}

var errNoValue = sensapperr.New(sensapperr.KindParse, "senml.resolve_value", "record carries no value field")

// SensorUUID returns the deterministic identity Parse assigns to a
// resolved SenML name, for callers that need to locate the series after a
// publish.
func SensorUUID(resolvedName string) uuid.UUID {
	return sample.DeterministicUUID(resolvedName, nil)
}
