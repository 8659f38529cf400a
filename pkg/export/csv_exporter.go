package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// Dataset holds tabular content to export. Rows are keyed by header so
// callers never have to care about column order.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

// records flattens the dataset into ordered rows matching Headers. Missing
// cells come out as empty strings.
func (d Dataset) records() [][]string {
	out := make([][]string, 0, len(d.Rows))
	for _, row := range d.Rows {
		rec := make([]string, len(d.Headers))
		for i, h := range d.Headers {
			rec[i] = row[h]
		}
		out = append(out, rec)
	}
	return out
}

// CSVExporter renders a Dataset as RFC 4180 CSV.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render encodes the dataset, headers first.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("csv export needs at least one column")
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(data.Headers); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range data.records() {
		if err := w.Write(rec); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
