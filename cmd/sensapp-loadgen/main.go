// Command sensapp-loadgen synthesizes sensor traffic in SensApp's ingest
// formats (senml, csv, influx) and either writes it to stdout or posts it
// to a running server. The generation scenario is a small YAML file so
// load shapes are reproducible.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// scenario is the YAML description of one load shape. Step is a Go
// duration string ("1s", "500ms").
type scenario struct {
	Sensors    int       `yaml:"sensors"`
	Samples    int       `yaml:"samples"`
	Start      time.Time `yaml:"start"`
	StepRaw    string    `yaml:"step"`
	Format     string    `yaml:"format"`
	NamePrefix string    `yaml:"name_prefix"`
	URL        string    `yaml:"url"`

	Step time.Duration `yaml:"-"`
}

func defaultScenario() scenario {
	return scenario{
		Sensors:    10,
		Samples:    100,
		Start:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		StepRaw:    "1s",
		Format:     "senml",
		NamePrefix: "bench/",
	}
}

type options struct {
	scenarioPath string
	seed         int64
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.scenarioPath, "scenario", "", "path to scenario YAML (defaults embedded)")
	flag.Int64Var(&opts.seed, "seed", 1, "PRNG seed")
	flag.Parse()
	return opts
}

func main() {
	opts := parseFlags()

	sc := defaultScenario()
	if opts.scenarioPath != "" {
		raw, err := os.ReadFile(opts.scenarioPath)
		if err != nil {
			log.Fatalf("loadgen: %v", err)
		}
		if err := yaml.Unmarshal(raw, &sc); err != nil {
			log.Fatalf("loadgen: parse scenario: %v", err)
		}
	}
	step, err := time.ParseDuration(sc.StepRaw)
	if err != nil {
		log.Fatalf("loadgen: bad step %q: %v", sc.StepRaw, err)
	}
	sc.Step = step
	if sc.Sensors <= 0 || sc.Samples <= 0 || sc.Step <= 0 {
		log.Fatalf("loadgen: sensors, samples and step must be positive")
	}

	rng := rand.New(rand.NewSource(opts.seed))
	var buf bytes.Buffer
	switch sc.Format {
	case "senml":
		err = writeSenML(&buf, sc, rng)
	case "csv":
		err = writeCSV(&buf, sc, rng)
	case "influx":
		err = writeInflux(&buf, sc, rng)
	default:
		log.Fatalf("loadgen: unknown format %q", sc.Format)
	}
	if err != nil {
		log.Fatalf("loadgen: generate: %v", err)
	}

	if sc.URL == "" {
		if _, err := io.Copy(os.Stdout, &buf); err != nil {
			log.Fatalf("loadgen: %v", err)
		}
		return
	}
	if err := post(sc, &buf); err != nil {
		log.Fatalf("loadgen: %v", err)
	}
	log.Printf("loadgen: posted %d sensors x %d samples as %s", sc.Sensors, sc.Samples, sc.Format)
}

// wave produces a smooth, per-sensor-distinct value series so generated
// data compresses and plots like real telemetry instead of white noise.
func wave(rng *rand.Rand) func(step int) float64 {
	amplitude := 2 + rng.Float64()*8
	period := 30 + rng.Float64()*90
	phase := rng.Float64() * 2 * math.Pi
	base := rng.Float64() * 100
	return func(step int) float64 {
		return base + amplitude*math.Sin(phase+2*math.Pi*float64(step)/period)
	}
}

func writeSenML(w io.Writer, sc scenario, rng *rand.Rand) error {
	if _, err := fmt.Fprint(w, "["); err != nil {
		return err
	}
	first := true
	for i := 0; i < sc.Sensors; i++ {
		gen := wave(rng)
		name := fmt.Sprintf("%ssensor-%03d", sc.NamePrefix, i)
		for j := 0; j < sc.Samples; j++ {
			ts := sc.Start.Add(time.Duration(j) * sc.Step)
			if !first {
				if _, err := fmt.Fprint(w, ","); err != nil {
					return err
				}
			}
			first = false
			if _, err := fmt.Fprintf(w, `{"n":%q,"v":%g,"t":%d}`, name, gen(j), ts.Unix()); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintln(w, "]")
	return err
}

func writeCSV(w io.Writer, sc scenario, rng *rand.Rand) error {
	names := make([]string, sc.Sensors)
	gens := make([]func(int) float64, sc.Sensors)
	for i := range names {
		names[i] = fmt.Sprintf("%ssensor-%03d", sc.NamePrefix, i)
		gens[i] = wave(rng)
	}
	if _, err := fmt.Fprintf(w, "time,%s\n", strings.Join(names, ",")); err != nil {
		return err
	}
	for j := 0; j < sc.Samples; j++ {
		ts := sc.Start.Add(time.Duration(j) * sc.Step)
		row := make([]string, 0, sc.Sensors+1)
		row = append(row, fmt.Sprintf("%d", ts.Unix()))
		for i := range names {
			row = append(row, fmt.Sprintf("%g", gens[i](j)))
		}
		if _, err := fmt.Fprintln(w, strings.Join(row, ",")); err != nil {
			return err
		}
	}
	return nil
}

func writeInflux(w io.Writer, sc scenario, rng *rand.Rand) error {
	for i := 0; i < sc.Sensors; i++ {
		gen := wave(rng)
		measurement := fmt.Sprintf("%ssensor-%03d", sc.NamePrefix, i)
		measurement = strings.ReplaceAll(measurement, "/", "_")
		for j := 0; j < sc.Samples; j++ {
			ts := sc.Start.Add(time.Duration(j) * sc.Step)
			if _, err := fmt.Fprintf(w, "%s,source=loadgen value=%g %d\n", measurement, gen(j), ts.UnixNano()); err != nil {
				return err
			}
		}
	}
	return nil
}

func post(sc scenario, body io.Reader) error {
	endpoint := strings.TrimSuffix(sc.URL, "/") + "/publish/" + sc.Format
	resp, err := http.Post(endpoint, contentType(sc.Format), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s: %s", endpoint, resp.Status, raw)
	}
	return nil
}

func contentType(format string) string {
	switch format {
	case "senml":
		return "application/json"
	case "csv":
		return "text/csv"
	default:
		return "text/plain"
	}
}
