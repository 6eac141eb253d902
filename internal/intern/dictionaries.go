package intern

import "context"

// Dictionaries bundles the process-wide string-keyed caches: unit,
// label-name, label-description and string-value. Each backend constructs
// one Dictionaries at startup, wiring its own Resolver funcs (typically
// "INSERT ... ON CONFLICT DO UPDATE ... RETURNING id" against its
// dictionary tables).
type Dictionaries struct {
	Units             *Cache[string, int64]
	LabelNames        *Cache[string, int64]
	LabelDescriptions *Cache[string, int64]
	StringValues      *Cache[string, int64]
}

// DictionaryCapacities configures the LRU size of each dictionary cache.
// Zero fields fall back to DefaultCapacity.
type DictionaryCapacities struct {
	Units             int
	LabelNames        int
	LabelDescriptions int
	StringValues      int
}

// DefaultCapacity bounds each dictionary cache at ~1M entries.
const DefaultCapacity = 1_000_000

func capOrDefault(n int) int {
	if n <= 0 {
		return DefaultCapacity
	}
	return n
}

// NewDictionaries builds the four string-keyed dictionary caches from their
// Resolver functions. Sensor ids are not part of Dictionaries: a backend
// that caches them keeps its own UUID-keyed cache (the postgres backend
// does), since sensor rows are created inside the publish transaction
// together with their type and labels.
func NewDictionaries(caps DictionaryCapacities, units, labelNames, labelDescriptions, stringValues Resolver[string, int64]) (*Dictionaries, error) {
	u, err := New("units", capOrDefault(caps.Units), units, nil)
	if err != nil {
		return nil, err
	}
	ln, err := New("label_names", capOrDefault(caps.LabelNames), labelNames, nil)
	if err != nil {
		return nil, err
	}
	ld, err := New("label_descriptions", capOrDefault(caps.LabelDescriptions), labelDescriptions, nil)
	if err != nil {
		return nil, err
	}
	sv, err := New("string_values", capOrDefault(caps.StringValues), stringValues, nil)
	if err != nil {
		return nil, err
	}
	return &Dictionaries{Units: u, LabelNames: ln, LabelDescriptions: ld, StringValues: sv}, nil
}

// ResolveUnit is a convenience wrapper; returns 0, nil if name is empty,
// since sensors are not required to declare a unit.
func (d *Dictionaries) ResolveUnit(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, nil
	}
	return d.Units.Get(ctx, name)
}
