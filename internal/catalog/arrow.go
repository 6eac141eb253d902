package catalog

import (
	"io"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/ipc"
	"github.com/apache/arrow/go/v15/arrow/memory"

	"github.com/sensapp/sensapp/internal/sample"
	"github.com/sensapp/sensapp/internal/sensapperr"
	"github.com/sensapp/sensapp/internal/storage"
)

// arrowSchemaFor maps a sensor type to the exported record schema. Every
// schema leads with timestamp_us; Location widens into two columns.
func arrowSchemaFor(typ sample.Type) (*arrow.Schema, error) {
	tsField := arrow.Field{Name: "timestamp_us", Type: arrow.PrimitiveTypes.Int64}
	var valueFields []arrow.Field
	switch typ {
	case sample.TypeInteger:
		valueFields = []arrow.Field{{Name: "value", Type: arrow.PrimitiveTypes.Int64}}
	case sample.TypeFloat:
		valueFields = []arrow.Field{{Name: "value", Type: arrow.PrimitiveTypes.Float64}}
	case sample.TypeNumeric:
		// Exact decimals travel as strings so precision survives values
		// wider than decimal128.
		valueFields = []arrow.Field{{Name: "value", Type: arrow.BinaryTypes.String}}
	case sample.TypeString, sample.TypeJSON:
		valueFields = []arrow.Field{{Name: "value", Type: arrow.BinaryTypes.String}}
	case sample.TypeBoolean:
		valueFields = []arrow.Field{{Name: "value", Type: arrow.FixedWidthTypes.Boolean}}
	case sample.TypeBlob:
		valueFields = []arrow.Field{{Name: "value", Type: arrow.BinaryTypes.Binary}}
	case sample.TypeLocation:
		valueFields = []arrow.Field{
			{Name: "latitude", Type: arrow.PrimitiveTypes.Float64},
			{Name: "longitude", Type: arrow.PrimitiveTypes.Float64},
		}
	default:
		return nil, sensapperr.New(sensapperr.KindValidation, "catalog.export_arrow", "unsupported type %v", typ)
	}
	return arrow.NewSchema(append([]arrow.Field{tsField}, valueFields...), nil), nil
}

// exportArrow writes ts as an Arrow IPC stream. Unlike the JSON formats,
// float NaN/Inf round-trip bit-exact here.
func exportArrow(w io.Writer, ts storage.TypedSamples) error {
	schema, err := arrowSchemaFor(ts.Sensor.Type)
	if err != nil {
		return err
	}

	mem := memory.NewGoAllocator()
	builder := array.NewRecordBuilder(mem, schema)
	defer builder.Release()

	tsBuilder := builder.Field(0).(*array.Int64Builder)
	for _, s := range ts.Samples {
		tsBuilder.Append(s.TimestampUs)
		if err := appendArrowValue(builder, ts.Sensor.Type, s.Value); err != nil {
			return err
		}
	}

	rec := builder.NewRecord()
	defer rec.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err := writer.Write(rec); err != nil {
		writer.Close()
		return sensapperr.Wrap(sensapperr.KindBackendFatal, "catalog.export_arrow", err)
	}
	if err := writer.Close(); err != nil {
		return sensapperr.Wrap(sensapperr.KindBackendFatal, "catalog.export_arrow", err)
	}
	return nil
}

func appendArrowValue(builder *array.RecordBuilder, typ sample.Type, v sample.Value) error {
	switch typ {
	case sample.TypeInteger:
		builder.Field(1).(*array.Int64Builder).Append(v.Integer)
	case sample.TypeFloat:
		builder.Field(1).(*array.Float64Builder).Append(v.Float)
	case sample.TypeNumeric:
		builder.Field(1).(*array.StringBuilder).Append(v.Numeric.String())
	case sample.TypeString:
		builder.Field(1).(*array.StringBuilder).Append(v.String)
	case sample.TypeJSON:
		builder.Field(1).(*array.StringBuilder).Append(string(v.JSON))
	case sample.TypeBoolean:
		builder.Field(1).(*array.BooleanBuilder).Append(v.Boolean)
	case sample.TypeBlob:
		builder.Field(1).(*array.BinaryBuilder).Append(v.Blob)
	case sample.TypeLocation:
		builder.Field(1).(*array.Float64Builder).Append(v.Location.Latitude)
		builder.Field(2).(*array.Float64Builder).Append(v.Location.Longitude)
	default:
		return sensapperr.New(sensapperr.KindValidation, "catalog.export_arrow", "unsupported type %v", typ)
	}
	return nil
}
