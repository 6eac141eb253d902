// Package promremote implements the Prometheus remote-write and
// remote-read wire endpoints: snappy-compressed protobuf WriteRequest in,
// snappy-compressed protobuf ReadResponse out.
package promremote

import (
	"sort"

	"github.com/golang/snappy"
	"github.com/prometheus/common/model"
	"github.com/prometheus/prometheus/prompb"

	"github.com/sensapp/sensapp/internal/batch"
	"github.com/sensapp/sensapp/internal/sample"
	"github.com/sensapp/sensapp/internal/sensapperr"
)

// ParseWrite decodes a snappy-compressed prompb.WriteRequest and pushes
// one Float sample per (series, sample) into b. The metric name label
// becomes the sensor name, the remaining labels the sensor's label set;
// identity is deterministic in (name, labels), so concurrent writers for
// the same series converge on one sensor.
func ParseWrite(compressed []byte, b *batch.Batch) error {
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return sensapperr.Wrap(sensapperr.KindParse, "promremote.parse_write", err)
	}

	var req prompb.WriteRequest
	if err := req.Unmarshal(raw); err != nil {
		return sensapperr.Wrap(sensapperr.KindParse, "promremote.parse_write", err)
	}
	if len(req.Timeseries) == 0 {
		return sensapperr.New(sensapperr.KindParse, "promremote.parse_write", "empty WriteRequest")
	}

	for i, ts := range req.Timeseries {
		sensor, err := sensorForSeries(ts.Labels)
		if err != nil {
			return sensapperr.New(sensapperr.KindParse, "promremote.parse_write", "timeseries %d: %v", i, err)
		}
		for _, smp := range ts.Samples {
			s := sample.NewSampleUs(smp.Timestamp*1000, sample.FloatValue(smp.Value))
			if err := b.Push(sensor, s); err != nil {
				return err
			}
		}
	}
	return nil
}

// sensorForSeries derives the sensor identity from a Prometheus label set:
// __name__ is the sensor name, everything else a label, sorted so the
// deterministic UUID is stable regardless of wire order.
func sensorForSeries(labels []prompb.Label) (*sample.Sensor, error) {
	var name string
	tags := make(map[string]string, len(labels))
	for _, l := range labels {
		if l.Name == model.MetricNameLabel {
			name = l.Value
			continue
		}
		tags[l.Name] = l.Value
	}
	if name == "" {
		return nil, sensapperr.New(sensapperr.KindParse, "promremote.sensor_for_series", "series has no %s label", model.MetricNameLabel)
	}

	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	sensorLabels := make([]sample.Label, 0, len(keys))
	for _, k := range keys {
		sensorLabels = append(sensorLabels, sample.Label{Name: k, Description: tags[k]})
	}

	return sample.NewWithUUID(sample.DeterministicUUID(name, tags), name, sample.TypeFloat, "", sensorLabels)
}
