// Package batch groups samples from many sensors into the ordered,
// per-type bags a storage backend publishes atomically.
package batch

import (
	"fmt"

	"github.com/sensapp/sensapp/internal/sample"
	"github.com/sensapp/sensapp/internal/sensapperr"
)

// Group is one sensor's samples within a Batch. All Samples in a Group
// share Sensor.Type (enforced by Batch.Push).
type Group struct {
	Sensor  *sample.Sensor
	Samples []sample.Sample
}

// Batch is an ordered sequence of (Sensor, Samples) groups that share one
// durability fate.
//
// A Batch is built by a single ingest task and then handed to
// storage.Backend's Publish. It is never shared across goroutines, so no
// synchronization is needed here.
type Batch struct {
	groups    []*Group
	bySensor  map[string]*Group // keyed by sensor UUID string
	sampleCnt int
}

// New returns an empty Batch.
func New() *Batch {
	return &Batch{bySensor: make(map[string]*Group)}
}

// Push appends one sample for sensor, failing with a validation-kind
// error if the sample's populated Value field doesn't match sensor.Type.
func (b *Batch) Push(sensor *sample.Sensor, s sample.Sample) error {
	if sensor == nil {
		return fmt.Errorf("batch: push: sensor must not be nil")
	}
	if err := validateValue(sensor.Type, s.Value); err != nil {
		return sensapperr.Wrap(sensapperr.KindValidation, "batch.push",
			fmt.Errorf("sensor %q: %w", sensor.Name, err))
	}

	key := sensor.UUID.String()
	g, ok := b.bySensor[key]
	if !ok {
		g = &Group{Sensor: sensor}
		b.bySensor[key] = g
		b.groups = append(b.groups, g)
	}
	g.Samples = append(g.Samples, s)
	b.sampleCnt++
	return nil
}

// PushAll pushes every sample in ss for sensor, stopping at the first
// validation failure.
func (b *Batch) PushAll(sensor *sample.Sensor, ss []sample.Sample) error {
	for _, s := range ss {
		if err := b.Push(sensor, s); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the total number of samples across all groups.
func (b *Batch) Len() int { return b.sampleCnt }

// Empty reports whether the batch has no samples.
func (b *Batch) Empty() bool { return b.sampleCnt == 0 }

// Groups returns the batch's groups in insertion order, for backend
// dispatchers to iterate.
func (b *Batch) Groups() []*Group { return b.groups }

// Drain returns the batch's groups and resets the batch to empty, for
// callers that consume a batch into publish and keep building.
func (b *Batch) Drain() []*Group {
	groups := b.groups
	b.groups = nil
	b.bySensor = make(map[string]*Group)
	b.sampleCnt = 0
	return groups
}

// validateValue rejects a sample variant that does not match its sensor's
// declared type.
func validateValue(typ sample.Type, v sample.Value) error {
	if typ == sample.TypeUnknown {
		return fmt.Errorf("sensor has undeclared type")
	}
	if v.Type != typ {
		return fmt.Errorf("sample type %v does not match sensor type %v", v.Type, typ)
	}
	return nil
}
