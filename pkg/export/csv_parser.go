package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrEmptyCSV is returned when the upload has no header line.
var ErrEmptyCSV = errors.New("csv has no header line")

// Table is a parsed csv document.
type Table struct {
	Headers []string
	Rows    [][]string
}

// ParseCSV reads a csv document whose first line is the header. Quoted fields may
// contain separators, escaped quotes and newlines. A UTF-8 byte order mark is dropped,
// fields are trimmed, and fully blank lines are skipped.
func ParseCSV(r io.Reader) (*Table, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	reader := csv.NewReader(decoded)
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyCSV
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}
	if allBlank(headers) {
		return nil, ErrEmptyCSV
	}

	table := &Table{Headers: headers}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		if allBlank(record) {
			continue
		}
		for i := range record {
			record[i] = strings.TrimSpace(record[i])
		}
		table.Rows = append(table.Rows, record)
	}
	return table, nil
}

func allBlank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
