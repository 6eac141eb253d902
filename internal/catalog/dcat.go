// Package catalog renders the DCAT JSON catalogs (metrics, series) and
// exports series data in SenML, CSV, JSON-Lines and Arrow IPC.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sensapp/sensapp/internal/storage"
)

const dcatContext = "https://www.w3.org/ns/dcat2.jsonld"

// Catalog is the DCAT envelope returned by /metrics and /series.
type Catalog struct {
	Context  string    `json:"@context"`
	Type     string    `json:"@type"`
	Title    string    `json:"dct:title"`
	Datasets []Dataset `json:"dcat:dataset"`
}

// Dataset is one DCAT dataset: a metric (aggregated by name) or a single
// sensor series.
type Dataset struct {
	Type        string   `json:"@type"`
	Identifier  string   `json:"dct:identifier"`
	Title       string   `json:"dct:title"`
	Description string   `json:"dct:description,omitempty"`
	Keywords    []string `json:"dcat:keyword,omitempty"`

	SensorType  string `json:"sensapp:type,omitempty"`
	Unit        string `json:"sensapp:unit,omitempty"`
	SensorCount int    `json:"sensapp:sensorCount,omitempty"`
}

// Metrics builds the /metrics catalog: one dataset per metric name.
func Metrics(ctx context.Context, backend storage.Backend) (Catalog, error) {
	summaries, err := backend.ListMetrics(ctx)
	if err != nil {
		return Catalog{}, err
	}

	datasets := make([]Dataset, 0, len(summaries))
	for _, m := range summaries {
		keys := append([]string(nil), m.LabelKeys...)
		sort.Strings(keys)
		datasets = append(datasets, Dataset{
			Type:        "dcat:Dataset",
			Identifier:  m.Name,
			Title:       m.Name,
			Keywords:    keys,
			SensorType:  m.Type.String(),
			Unit:        m.UnitName,
			SensorCount: m.SensorCount,
		})
	}
	return Catalog{
		Context:  dcatContext,
		Type:     "dcat:Catalog",
		Title:    "SensApp metrics",
		Datasets: datasets,
	}, nil
}

// Series builds the /series catalog: one dataset per sensor, paginated by
// the backend's (created_at, uuid) cursor. The dataset description is the
// Prometheus-style series id (metric plus sorted labels).
func Series(ctx context.Context, backend storage.Backend, cursor *storage.Cursor, limit int) (Catalog, *storage.Cursor, error) {
	page, err := backend.ListSensors(ctx, cursor, limit)
	if err != nil {
		return Catalog{}, nil, err
	}

	datasets := make([]Dataset, 0, len(page.Sensors))
	for _, entry := range page.Sensors {
		datasets = append(datasets, Dataset{
			Type:        "dcat:Dataset",
			Identifier:  entry.Sensor.UUID.String(),
			Title:       entry.Sensor.Name,
			Description: PrometheusID(entry.Sensor.Name, entry.Labels),
			SensorType:  entry.Sensor.Type.String(),
			Unit:        entry.Sensor.UnitName,
		})
	}
	return Catalog{
		Context:  dcatContext,
		Type:     "dcat:Catalog",
		Title:    "SensApp series",
		Datasets: datasets,
	}, page.Next, nil
}

// PrometheusID renders the conventional series identity: name{k="v",...}
// with label names sorted. A label-free sensor is just its name.
func PrometheusID(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%s=%q", k, labels[k])
	}
	sb.WriteByte('}')
	return sb.String()
}
