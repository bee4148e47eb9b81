package source

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// RawRow is one source row keyed by normalized (lower-cased, trimmed) header.
// Processors disagree on column names, so everything stays loosely typed
// until the transformer builds a canonical entry.
type RawRow map[string]string

// ParseRows decodes a fetched payload into raw rows. XLSX is the primary
// format; CSV is attempted only when the XLSX parser fails, never based on
// content inspection.
func ParseRows(data []byte) ([]RawRow, error) {
	rows, xlsxErr := parseXLSX(data)
	if xlsxErr == nil {
		return rows, nil
	}
	rows, csvErr := parseCSV(data)
	if csvErr != nil {
		return nil, fmt.Errorf("xlsx: %v; csv fallback: %w", xlsxErr, csvErr)
	}
	return rows, nil
}

func parseXLSX(data []byte) ([]RawRow, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	cells, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}
	return tableToRows(cells), nil
}

func parseCSV(data []byte) ([]RawRow, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	return tableToRows(records), nil
}

// tableToRows treats the first non-empty record as the header row and maps
// each following record onto it. Blank rows and short trailing cells are
// tolerated; footer rows survive here and are dropped later by the
// transformer when they carry no identifier.
func tableToRows(records [][]string) []RawRow {
	var header []string
	rows := make([]RawRow, 0, len(records))
	for _, record := range records {
		if isEmptyRecord(record) {
			continue
		}
		if header == nil {
			header = make([]string, len(record))
			for i, cell := range record {
				header[i] = normalizeHeader(cell)
			}
			continue
		}
		row := make(RawRow, len(header))
		for i, key := range header {
			if key == "" {
				continue
			}
			if i < len(record) {
				row[key] = strings.TrimSpace(record[i])
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func isEmptyRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func normalizeHeader(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
