// Package influx decodes InfluxDB line protocol into sample batches: one
// sensor per (measurement, field), tags carried as sensor labels.
package influx

import (
	"fmt"
	"io"
	"time"

	lineprotocol "github.com/influxdata/line-protocol/v2/lineprotocol"

	"github.com/sensapp/sensapp/internal/batch"
	"github.com/sensapp/sensapp/internal/sample"
	"github.com/sensapp/sensapp/internal/sensapperr"
)

// Precision is the timestamp unit declared by the client (InfluxDB v2's
// `precision` query parameter). Defaults to nanoseconds, like InfluxDB.
type Precision string

const (
	Nanosecond  Precision = "ns"
	Microsecond Precision = "us"
	Millisecond Precision = "ms"
	Second      Precision = "s"
)

func (p Precision) lineprotocol() (lineprotocol.Precision, error) {
	switch p {
	case "", Nanosecond:
		return lineprotocol.Nanosecond, nil
	case Microsecond:
		return lineprotocol.Microsecond, nil
	case Millisecond:
		return lineprotocol.Millisecond, nil
	case Second:
		return lineprotocol.Second, nil
	default:
		return 0, sensapperr.New(sensapperr.KindParse, "influx.precision", "unknown precision %q", string(p))
	}
}

// Parse decodes line protocol from r and pushes one sample per field into
// b. Points with no timestamp get now (InfluxDB's server-side-time rule).
func Parse(r io.Reader, precision Precision, b *batch.Batch) error {
	prec, err := precision.lineprotocol()
	if err != nil {
		return err
	}

	dec := lineprotocol.NewDecoder(r)
	sensors := map[string]*sample.Sensor{}

	for dec.Next() {
		measurement, err := dec.Measurement()
		if err != nil {
			return sensapperr.Wrap(sensapperr.KindParse, "influx.parse", err)
		}

		tags := map[string]string{}
		var labels []sample.Label
		for {
			key, value, err := dec.NextTag()
			if err != nil {
				return sensapperr.Wrap(sensapperr.KindParse, "influx.parse", err)
			}
			if key == nil {
				break
			}
			tags[string(key)] = string(value)
			labels = append(labels, sample.Label{Name: string(key), Description: string(value)})
		}

		type fieldSample struct {
			name  string
			value sample.Value
			typ   sample.Type
		}
		var fields []fieldSample
		for {
			key, value, err := dec.NextField()
			if err != nil {
				return sensapperr.Wrap(sensapperr.KindParse, "influx.parse", err)
			}
			if key == nil {
				break
			}
			v, typ, err := convertField(value)
			if err != nil {
				return err
			}
			fields = append(fields, fieldSample{name: string(key), value: v, typ: typ})
		}

		ts, err := dec.Time(prec, time.Now())
		if err != nil {
			return sensapperr.Wrap(sensapperr.KindParse, "influx.parse", err)
		}
		tsUs := ts.UnixMicro()

		for _, f := range fields {
			name := fmt.Sprintf("%s_%s", measurement, f.name)
			// Keyed by identity, not name: the same (measurement, field)
			// with different tag sets is a different sensor.
			id := sample.DeterministicUUID(name, tags)
			sensor, ok := sensors[id.String()]
			if !ok {
				sensor, err = sample.NewWithUUID(id, name, f.typ, "", labels)
				if err != nil {
					return sensapperr.Wrap(sensapperr.KindValidation, "influx.parse", err)
				}
				sensors[id.String()] = sensor
			}
			if err := b.Push(sensor, sample.NewSampleUs(tsUs, f.value)); err != nil {
				return err
			}
		}
	}
	if err := dec.Err(); err != nil {
		return sensapperr.Wrap(sensapperr.KindParse, "influx.parse", err)
	}
	if b.Empty() {
		return sensapperr.New(sensapperr.KindParse, "influx.parse", "no points in body")
	}
	return nil
}

func convertField(v lineprotocol.Value) (sample.Value, sample.Type, error) {
	switch v.Kind() {
	case lineprotocol.Int:
		return sample.IntegerValue(v.IntV()), sample.TypeInteger, nil
	case lineprotocol.Uint:
		u := v.UintV()
		return sample.IntegerValue(int64(u)), sample.TypeInteger, nil
	case lineprotocol.Float:
		return sample.FloatValue(v.FloatV()), sample.TypeFloat, nil
	case lineprotocol.Bool:
		return sample.BooleanValue(v.BoolV()), sample.TypeBoolean, nil
	case lineprotocol.String:
		return sample.StringValue(v.StringV()), sample.TypeString, nil
	default:
		return sample.Value{}, sample.TypeUnknown, sensapperr.New(sensapperr.KindParse, "influx.parse", "unsupported field kind %v", v.Kind())
	}
}
