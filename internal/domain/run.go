package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Run is the persisted headline of one reconciliation. The full result
// lives in the run cache and, once a period is known, in the archive.
type Run struct {
	ID        string          `json:"id"`
	Carrier   string          `json:"carrier"`
	Period    *Period         `json:"period,omitempty"`
	FileCount int             `json:"file_count"`
	LineCount int             `json:"line_count"`
	Matched   int             `json:"matched"`
	Unmatched int             `json:"unmatched"`
	ToRecover decimal.Decimal `json:"to_recover"`
	Degraded  bool            `json:"degraded"`
	CreatedAt time.Time       `json:"created_at"`
}

// InvoiceFile records an ingested invoice by content hash so the same file
// is not billed twice.
type InvoiceFile struct {
	Hash       string    `json:"hash"`
	RunID      string    `json:"run_id"`
	Carrier    string    `json:"carrier"`
	Name       string    `json:"name"`
	Shipments  int       `json:"shipments"`
	IngestedAt time.Time `json:"ingested_at"`
}
