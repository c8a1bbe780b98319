// Package codes extracts HCPCS codes from uploaded files.
//
// Accepted inputs are a CSV with a header row naming the code column, or a
// plain list with one code per line. Cells are returned trimmed but otherwise
// raw; normalization happens in the validation run.
package codes

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNoCodes is returned when a file holds no non-blank code.
var ErrNoCodes = errors.New("no codes found in input")

// headerNames are recognized code column names, compared case-insensitively.
var headerNames = []string{"hcpcs", "hcpcs code", "hcpcs_code", "cpt", "cpt code", "code"}

// ReadCodes reads codes from r.
//
// If column is set, the first row must be a header containing it. Otherwise
// the first row is checked against the known code column names; when none
// matches, the first column of every row, header row included, is used.
func ReadCodes(r io.Reader, column string) ([]string, error) {
	cr := csv.NewReader(NewCleanReader(r))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true

	first, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoCodes
	}
	if err != nil {
		return nil, fmt.Errorf("invalid csv: %w", err)
	}

	idx, isHeader := findColumn(first, column)
	if idx < 0 {
		return nil, fmt.Errorf("column not found: %q", column)
	}

	var out []string
	if !isHeader {
		out = appendCell(out, first, idx)
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid csv: %w", err)
		}
		out = appendCell(out, rec, idx)
	}

	if len(out) == 0 {
		return nil, ErrNoCodes
	}
	return out, nil
}

// findColumn returns the code column index and whether row is a header.
// It returns -1 when an explicit column is missing.
func findColumn(row []string, column string) (int, bool) {
	if column != "" {
		for i, cell := range row {
			if strings.EqualFold(strings.TrimSpace(cell), strings.TrimSpace(column)) {
				return i, true
			}
		}
		return -1, false
	}

	for i, cell := range row {
		name := strings.ToLower(strings.TrimSpace(cell))
		for _, h := range headerNames {
			if name == h {
				return i, true
			}
		}
	}
	return 0, false
}

func appendCell(out []string, rec []string, idx int) []string {
	if idx >= len(rec) {
		return out
	}
	if v := strings.TrimSpace(rec[idx]); v != "" {
		out = append(out, v)
	}
	return out
}
