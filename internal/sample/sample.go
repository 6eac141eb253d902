// Package sample implements SensApp's typed in-memory data model: sensors,
// units, labels and the tagged sample value union. A sensor carries a UUID
// (time-ordered v7, or deterministic v5 for ingest-derived identity), a
// backend-assigned integer id and a declared sample Type; every sample
// that flows through the system is tagged with the type it claims to be.
package sample

import (
	"crypto/sha1" //nolint:gosec // used only as uuid.NewSHA1's hash, not for security
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/go-faster/city"
	"github.com/google/uuid"
)

// Type identifies a sensor's sample variant. A sensor has exactly one Type
// for its lifetime; mixed series are rejected at batch time.
type Type int

const (
	TypeUnknown Type = iota
	TypeInteger
	TypeNumeric
	TypeFloat
	TypeString
	TypeBoolean
	TypeLocation
	TypeJSON
	TypeBlob
)

func (t Type) String() string {
	switch t {
	case TypeInteger:
		return "integer"
	case TypeNumeric:
		return "numeric"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeBoolean:
		return "boolean"
	case TypeLocation:
		return "location"
	case TypeJSON:
		return "json"
	case TypeBlob:
		return "blob"
	default:
		return "unknown"
	}
}

// ParseType maps the wire/storage name back to a Type.
func ParseType(s string) (Type, bool) {
	for t := TypeInteger; t <= TypeBlob; t++ {
		if t.String() == s {
			return t, true
		}
	}
	return TypeUnknown, false
}

// nameRE is the conservative sensor-name identifier pattern:
// letters/digits/-_:./[]
var nameRE = regexp.MustCompile(`^[A-Za-z0-9\-_:./\[\]]+$`)

// ValidateName reports whether name is an acceptable sensor name.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("sensor name must not be empty")
	}
	if !nameRE.MatchString(name) {
		return fmt.Errorf("sensor name %q contains characters outside [A-Za-z0-9-_:./[]]", name)
	}
	return nil
}

// Label is one (name, description?) pair attached to a sensor. Labels form
// an ordered multimap: order is preserved only so hashing/serialization is
// stable, not because it carries semantic weight.
type Label struct {
	Name        string
	Description string
}

// Sensor is a single typed time series: identity, name, declared Type,
// optional unit and labels.
type Sensor struct {
	UUID     uuid.UUID
	SensorID int64 // 0 until the backend has assigned one
	Name     string
	Type     Type
	UnitName string // "" if none
	Labels   []Label
}

// NewWithUUID constructs a Sensor with a caller-supplied UUID. name is
// validated; labels are copied so the caller's slice can be reused.
func NewWithUUID(id uuid.UUID, name string, typ Type, unit string, labels []Label) (*Sensor, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if typ == TypeUnknown {
		return nil, fmt.Errorf("sensor %q: type must be declared", name)
	}
	return &Sensor{
		UUID:     id,
		Name:     name,
		Type:     typ,
		UnitName: unit,
		Labels:   append([]Label(nil), labels...),
	}, nil
}

// NewWithoutUUID derives a v7 (time-ordered) UUID from the current time
// and entropy.
func NewWithoutUUID(name string, typ Type, unit string, labels []Label) (*Sensor, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("sensor %q: generate uuid v7: %w", name, err)
	}
	return NewWithUUID(id, name, typ, unit, labels)
}

// sensapsNamespace is SensApp's fixed namespace for deterministic (v5)
// sensor identity: a real RFC 4122 UUID, so content-addressed sensors fit
// the same `sensors.uuid` column as time-ordered ones.
var sensapsNamespace = uuid.MustParse("6c1b1a3e-9e3f-4a8a-8e8f-2a2d6a8f6b10")

// DeterministicUUID derives a stable, content-addressed sensor UUID from a
// name and label set, used by ingest adapters (Prometheus, InfluxDB) where
// re-ingesting the same identity must resolve to the same sensor without a
// round-trip.
func DeterministicUUID(name string, labels map[string]string) uuid.UUID {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha1.New() //nolint:gosec // uuid.NewSHA1 requires this exact hash
	h.Write([]byte(name))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(labels[k]))
	}
	return uuid.NewSHA1(sensapsNamespace, h.Sum(nil))
}

// StableHash is a cheap, non-cryptographic identity hash for sharding and
// log correlation.
func StableHash(name string) int64 {
	return int64(city.Hash64([]byte(name)))
}

// Value is SensApp's tagged sample-value union. Type selects which of the
// remaining fields is meaningful; Go has no sum types, so the tag travels
// with the value instead of being inferred from the sensor alone, which is
// what lets Batch.Push check the type match without reflection.
type Value struct {
	Type     Type
	Integer  int64
	Numeric  Decimal // see decimal.go
	Float    float64
	String   string
	Boolean  bool
	Location LatLng
	JSON     []byte // raw JSON document bytes
	Blob     []byte
}

// LatLng is the Location sample variant: two IEEE-754 binary64 values.
type LatLng struct {
	Latitude  float64
	Longitude float64
}

func IntegerValue(v int64) Value  { return Value{Type: TypeInteger, Integer: v} }
func NumericValue(v Decimal) Value { return Value{Type: TypeNumeric, Numeric: v} }
func FloatValue(v float64) Value  { return Value{Type: TypeFloat, Float: v} }
func StringValue(v string) Value  { return Value{Type: TypeString, String: v} }
func BooleanValue(v bool) Value   { return Value{Type: TypeBoolean, Boolean: v} }
func LocationValue(lat, lng float64) Value {
	return Value{Type: TypeLocation, Location: LatLng{Latitude: lat, Longitude: lng}}
}
func JSONValue(v []byte) Value { return Value{Type: TypeJSON, JSON: v} }
func BlobValue(v []byte) Value { return Value{Type: TypeBlob, Blob: v} }

// Sample is one (timestamp, value) observation for a Sensor.
type Sample struct {
	TimestampUs int64 // microseconds since Unix epoch
	Value       Value
}

// NewSample constructs a Sample from an already-tagged Value (built via one
// of IntegerValue/FloatValue/... above). Whether Value.Type matches the
// owning sensor is checked at Batch.Push.
func NewSample(ts time.Time, v Value) Sample {
	return Sample{TimestampUs: ts.UnixMicro(), Value: v}
}

// NewSampleUs is NewSample taking a raw microsecond timestamp, used by
// ingest adapters that already normalized to microseconds.
func NewSampleUs(tsUs int64, v Value) Sample {
	return Sample{TimestampUs: tsUs, Value: v}
}
