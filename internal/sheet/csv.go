package sheet

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var utf8BOM = []byte("\xEF\xBB\xBF")

// decoder turns raw bytes into UTF-8 text, or reports it cannot.
type decoder struct {
	name   string
	decode func([]byte) (string, bool)
}

// decoders run in order. Windows-1252 accepts nearly any byte sequence, so
// it comes after strict UTF-8; Latin-1 is kept last for the bytes it maps
// differently.
var decoders = []decoder{
	{"utf-8", func(b []byte) (string, bool) {
		b = bytes.TrimPrefix(b, utf8BOM)
		if !utf8.Valid(b) {
			return "", false
		}
		return string(b), true
	}},
	{"windows-1252", func(b []byte) (string, bool) {
		out, err := charmap.Windows1252.NewDecoder().Bytes(b)
		if err != nil {
			return "", false
		}
		return string(out), true
	}},
	{"iso-8859-1", func(b []byte) (string, bool) {
		out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
		if err != nil {
			return "", false
		}
		return string(out), true
	}},
}

var delimiters = []rune{';', ',', '\t', '|'}

func readCSV(data []byte, delim rune) (*Table, error) {
	if bytes.IndexByte(data, 0) >= 0 {
		return nil, fmt.Errorf("%w: binary content", ErrUnsupportedFormat)
	}

	var text, encoding string
	for _, d := range decoders {
		if s, ok := d.decode(data); ok {
			text, encoding = s, d.name
			break
		}
	}
	if encoding == "" {
		return nil, fmt.Errorf("%w: unknown text encoding", ErrUnsupportedFormat)
	}

	if delim == 0 {
		delim = sniffDelimiter(text)
	}
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	return &Table{Format: FormatCSV, Encoding: encoding, Rows: rows}, nil
}

// sniffDelimiter picks the candidate occurring most in the first non-blank
// line; ties keep the earlier candidate.
func sniffDelimiter(text string) rune {
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		best, bestN := ',', 0
		for _, d := range delimiters {
			if n := strings.Count(line, string(d)); n > bestN {
				best, bestN = d, n
			}
		}
		return best
	}
	return ','
}
