// Package sheet reads uploaded spreadsheets (xlsx, legacy xls, delimited
// text) into plain string grids.
package sheet

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/greenlog/reconciler/internal/normalize"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrNoSheet           = errors.New("workbook has no readable sheet")
)

type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
	FormatCSV  Format = "csv"
)

var (
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte("\xD0\xCF\x11\xE0\xA1\xB1\x1A\xE1")
)

// Options describe how to read one file. Zero values mean "detect".
type Options struct {
	Format     Format
	SheetHints []string
	Delimiter  rune
}

// Table is the first selected sheet of a file, cells as text. Spreadsheet
// numbers and dates are kept raw (serials, unformatted decimals).
type Table struct {
	Sheet    string
	Format   Format
	Encoding string
	Rows     [][]string
}

// Cell returns the trimmed cell text, or "" when out of range.
func (t *Table) Cell(row, col int) string {
	if row < 0 || row >= len(t.Rows) || col < 0 || col >= len(t.Rows[row]) {
		return ""
	}
	return strings.TrimSpace(t.Rows[row][col])
}

// Width is the widest row length.
func (t *Table) Width() int {
	w := 0
	for _, r := range t.Rows {
		if len(r) > w {
			w = len(r)
		}
	}
	return w
}

// Read sniffs the format of data and returns the selected sheet.
func Read(data []byte, opts Options) (*Table, error) {
	format := opts.Format
	if format == "" {
		format = Detect(data)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrUnsupportedFormat)
	}
	switch format {
	case FormatXLSX:
		return readXLSX(data, opts.SheetHints)
	case FormatXLS:
		return readXLS(data, opts.SheetHints)
	case FormatCSV:
		return readCSV(data, opts.Delimiter)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// Detect guesses the format from the leading bytes.
func Detect(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, zipMagic):
		return FormatXLSX
	case bytes.HasPrefix(data, oleMagic):
		return FormatXLS
	default:
		return FormatCSV
	}
}

// sheetStrategy picks a sheet from the workbook's names.
type sheetStrategy func(names, hints []string) (string, bool)

// sheetStrategies run in order; the first hit wins.
var sheetStrategies = []sheetStrategy{
	func(names, hints []string) (string, bool) {
		for _, h := range hints {
			for _, n := range names {
				if n == h {
					return n, true
				}
			}
		}
		return "", false
	},
	func(names, hints []string) (string, bool) {
		for _, h := range hints {
			for _, n := range names {
				if normalize.Header(n) == normalize.Header(h) {
					return n, true
				}
			}
		}
		return "", false
	},
	func(names, _ []string) (string, bool) {
		if len(names) == 0 {
			return "", false
		}
		return names[0], true
	},
}

func pickSheet(names, hints []string) (string, bool) {
	for _, s := range sheetStrategies {
		if name, ok := s(names, hints); ok {
			return name, true
		}
	}
	return "", false
}

// Column declares the accepted header labels of one logical field, most
// specific first.
type Column struct {
	Field    string   `yaml:"field" json:"field"`
	Synonyms []string `yaml:"synonyms" json:"synonyms"`
}

// ResolveColumns maps fields to header positions. An exact match on the
// folded label is preferred over a "contains" match, and a column is never
// assigned to two fields. Fields without a column are absent from the map.
func ResolveColumns(header []string, columns []Column) map[string]int {
	folded := make([]string, len(header))
	for i, h := range header {
		folded[i] = normalize.Header(h)
	}
	taken := make(map[int]bool)
	out := make(map[string]int)

	for _, c := range columns {
		for _, syn := range c.Synonyms {
			if i := indexOf(folded, normalize.Header(syn), taken, false); i >= 0 {
				out[c.Field] = i
				taken[i] = true
				break
			}
		}
	}
	for _, c := range columns {
		if _, ok := out[c.Field]; ok {
			continue
		}
		for _, syn := range c.Synonyms {
			if i := indexOf(folded, normalize.Header(syn), taken, true); i >= 0 {
				out[c.Field] = i
				taken[i] = true
				break
			}
		}
	}
	return out
}

func indexOf(folded []string, want string, taken map[int]bool, contains bool) int {
	if want == "" {
		return -1
	}
	for i, h := range folded {
		if taken[i] || h == "" {
			continue
		}
		if h == want || (contains && strings.Contains(h, want)) {
			return i
		}
	}
	return -1
}
