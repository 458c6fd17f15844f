package export

import (
	"fmt"
	"strings"
)

// Dataset defines tabular export content in display order.
type Dataset struct {
	Headers []string
	Rows    [][]string
}

// CSVExporter renders datasets as csv text with every field quoted.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render produces CSV encoded bytes for the dataset.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}
	return []byte(WriteCSV(data.Headers, data.Rows)), nil
}

// WriteCSV joins headers and rows with "," and "\n". Fields are always wrapped in
// double quotes and embedded quotes are doubled. There is no trailing newline.
func WriteCSV(headers []string, rows [][]string) string {
	var b strings.Builder
	writeLine(&b, headers)
	for _, row := range rows {
		b.WriteByte('\n')
		writeLine(&b, row)
	}
	return b.String()
}

func writeLine(b *strings.Builder, fields []string) {
	for i, field := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(field, `"`, `""`))
		b.WriteByte('"')
	}
}
