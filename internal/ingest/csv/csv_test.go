package csv

import (
	"strings"
	"testing"

	"github.com/sensapp/sensapp/internal/batch"
	"github.com/sensapp/sensapp/internal/sample"
	"github.com/sensapp/sensapp/internal/sensapperr"
)

func parseAll(t *testing.T, body string, opts Options) map[string]*batch.Group {
	t.Helper()
	b := batch.New()
	if err := Parse(strings.NewReader(body), opts, b); err != nil {
		t.Fatalf("parse: %v", err)
	}
	out := map[string]*batch.Group{}
	for _, g := range b.Groups() {
		out[g.Sensor.Name] = g
	}
	return out
}

func TestParseTypeInference(t *testing.T) {
	body := `time,count,temp,state,mode
1700000000,1,20.5,true,auto
1700000001,2,21.0,false,manual
`
	groups := parseAll(t, body, Options{})

	want := map[string]sample.Type{
		"count": sample.TypeInteger,
		"temp":  sample.TypeFloat,
		"state": sample.TypeBoolean,
		"mode":  sample.TypeString,
	}
	for name, typ := range want {
		g, ok := groups[name]
		if !ok {
			t.Fatalf("missing sensor %q", name)
		}
		if g.Sensor.Type != typ {
			t.Errorf("%s: type = %v, want %v", name, g.Sensor.Type, typ)
		}
		if len(g.Samples) != 2 {
			t.Errorf("%s: %d samples", name, len(g.Samples))
		}
	}

	if groups["count"].Samples[1].Value.Integer != 2 {
		t.Errorf("count[1] = %d", groups["count"].Samples[1].Value.Integer)
	}
	if groups["temp"].Samples[0].Value.Float != 20.5 {
		t.Errorf("temp[0] = %v", groups["temp"].Samples[0].Value.Float)
	}
	if groups["temp"].Samples[0].TimestampUs != 1700000000_000000 {
		t.Errorf("ts = %d", groups["temp"].Samples[0].TimestampUs)
	}
}

func TestParseLocationFolding(t *testing.T) {
	body := `time,lat,lon,speed
1700000000,59.91,10.75,4.2
`
	groups := parseAll(t, body, Options{})

	loc, ok := groups["location"]
	if !ok {
		t.Fatal("lat/lon pair was not folded into a location sensor")
	}
	if loc.Sensor.Type != sample.TypeLocation {
		t.Errorf("type = %v", loc.Sensor.Type)
	}
	got := loc.Samples[0].Value.Location
	if got.Latitude != 59.91 || got.Longitude != 10.75 {
		t.Errorf("location = %+v", got)
	}
	if _, ok := groups["lat"]; ok {
		t.Error("lat column leaked out as its own sensor")
	}
	if _, ok := groups["speed"]; !ok {
		t.Error("non-location columns must survive folding")
	}
}

func TestParseTimestampHintAndSeparator(t *testing.T) {
	body := "when;v\n2023-11-14T22:13:20Z;1\n"
	groups := parseAll(t, body, Options{Comma: ';', TimestampColumn: "when"})
	g, ok := groups["v"]
	if !ok {
		t.Fatal("missing sensor v")
	}
	if g.Samples[0].TimestampUs != 1700000000_000000 {
		t.Errorf("ts = %d", g.Samples[0].TimestampUs)
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
		opts Options
	}{
		{"headerOnly", "time,v\n", Options{}},
		{"noTimestampColumn", "a,b\n1,2\n", Options{}},
		{"missingHintColumn", "time,v\n1,2\n", Options{TimestampColumn: "when"}},
		{"badTimestamp", "time,v\nnope,2\n", Options{}},
	}
	for _, c := range cases {
		b := batch.New()
		err := Parse(strings.NewReader(c.body), c.opts, b)
		if err == nil {
			t.Errorf("%s: expected error", c.name)
			continue
		}
		if kind := sensapperr.KindOf(err); kind != sensapperr.KindParse {
			t.Errorf("%s: kind = %v, want parse", c.name, kind)
		}
	}
}
