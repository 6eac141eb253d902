package sample

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// wireValue is the JSON-on-disk encoding of Value used by backends that
// store samples as one polymorphic column rather than per-type tables
// (sqlite, clickhouse).
type wireValue struct {
	Type    Type    `json:"type"`
	Integer int64   `json:"integer,omitempty"`
	Numeric string  `json:"numeric,omitempty"`
	Float   float64 `json:"float,omitempty"`
	String  string  `json:"string,omitempty"`
	Boolean bool    `json:"boolean,omitempty"`
	Lat     float64 `json:"lat,omitempty"`
	Lng     float64 `json:"lng,omitempty"`
	JSONDoc string  `json:"json_doc,omitempty"`
	BlobHex string  `json:"blob_hex,omitempty"`
}

// EncodeJSON serializes v into the wire encoding used by polymorphic-column
// backends.
func EncodeJSON(v Value) (string, error) {
	w := wireValue{Type: v.Type}
	switch v.Type {
	case TypeInteger:
		w.Integer = v.Integer
	case TypeNumeric:
		w.Numeric = v.Numeric.String()
	case TypeFloat:
		w.Float = v.Float
	case TypeString:
		w.String = v.String
	case TypeBoolean:
		w.Boolean = v.Boolean
	case TypeLocation:
		w.Lat, w.Lng = v.Location.Latitude, v.Location.Longitude
	case TypeJSON:
		w.JSONDoc = string(v.JSON)
	case TypeBlob:
		w.BlobHex = hex.EncodeToString(v.Blob)
	default:
		return "", fmt.Errorf("sample: encode json: unsupported type %v", v.Type)
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecodeJSON parses raw (as produced by EncodeJSON) back into a Value of
// the given Type.
func DecodeJSON(raw string, typ Type) (Value, error) {
	var w wireValue
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return Value{}, err
	}
	switch typ {
	case TypeInteger:
		return IntegerValue(w.Integer), nil
	case TypeNumeric:
		d, err := ParseDecimal(w.Numeric)
		if err != nil {
			return Value{}, err
		}
		return NumericValue(d), nil
	case TypeFloat:
		return FloatValue(w.Float), nil
	case TypeString:
		return StringValue(w.String), nil
	case TypeBoolean:
		return BooleanValue(w.Boolean), nil
	case TypeLocation:
		return LocationValue(w.Lat, w.Lng), nil
	case TypeJSON:
		return JSONValue([]byte(w.JSONDoc)), nil
	case TypeBlob:
		blob, err := hex.DecodeString(w.BlobHex)
		if err != nil {
			return Value{}, err
		}
		return BlobValue(blob), nil
	default:
		return Value{}, fmt.Errorf("sample: decode json: unsupported type %v", typ)
	}
}
