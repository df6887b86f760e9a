package ingestion

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownCarrier   = errors.New("unknown carrier")
	ErrNoInvoices       = errors.New("no invoice files")
	ErrNoParsedInvoices = errors.New("no invoice could be parsed")
	ErrUndatedReference = errors.New("reference export has no usable dates")
)

// MissingColumnsError reports a file whose header lacks required fields. It
// aborts that file only.
type MissingColumnsError struct {
	File   string
	Fields []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("%s: missing required columns: %s", e.File, strings.Join(e.Fields, ", "))
}

