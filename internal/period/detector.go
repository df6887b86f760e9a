// Package period works out which calendar month a batch belongs to.
package period

import (
	"errors"
	"sort"
	"time"

	"github.com/greenlog/reconciler/internal/domain"
)

var ErrNoAnchorDates = errors.New("no anchor dates to detect a period from")

type Source string

const (
	SourceOrderDate   Source = "order_date"
	SourceInvoiceDate Source = "invoice_date"
	SourceFileDate    Source = "file_date"
)

// Detection is the winning month plus the evidence behind it.
type Detection struct {
	Period     domain.Period `json:"period"`
	Source     Source        `json:"source"`
	Votes      int           `json:"votes"`
	Considered int           `json:"considered"`
	From       time.Time     `json:"from"`
	To         time.Time     `json:"to"`
}

// Detector votes over the anchor dates found in a trailing window.
type Detector struct {
	// WindowMonths is the length of the window ending at the latest anchor.
	WindowMonths int
	// MinOrderDates is how many order dates are needed before invoice
	// dates stop being used as the fallback pool.
	MinOrderDates int
}

func NewDetector(windowMonths int) *Detector {
	return &Detector{WindowMonths: windowMonths, MinOrderDates: 1}
}

// Detect prefers the order dates of matched lines and falls back to invoice
// dates when too few lines carry one.
func (d *Detector) Detect(lines []domain.EnrichedLine) (Detection, error) {
	var orders, invoices []time.Time
	for i := range lines {
		if od := lines[i].Match.OrderDate; od != nil {
			orders = append(orders, *od)
		}
		if id := lines[i].Shipment.InvoiceDate; id != nil {
			invoices = append(invoices, *id)
		}
	}

	need := d.MinOrderDates
	if need < 1 {
		need = 1
	}
	if len(orders) >= need {
		return d.vote(orders, SourceOrderDate)
	}
	if len(invoices) > 0 {
		return d.vote(invoices, SourceInvoiceDate)
	}
	if len(orders) > 0 {
		return d.vote(orders, SourceOrderDate)
	}
	return Detection{}, ErrNoAnchorDates
}

// DetectDates votes over a plain pool, such as the dates of a reference
// export.
func (d *Detector) DetectDates(dates []time.Time) (Detection, error) {
	if len(dates) == 0 {
		return Detection{}, ErrNoAnchorDates
	}
	return d.vote(dates, SourceFileDate)
}

func (d *Detector) vote(dates []time.Time, src Source) (Detection, error) {
	latest := dates[0]
	for _, t := range dates[1:] {
		if t.After(latest) {
			latest = t
		}
	}
	cutoff := latest.AddDate(0, -d.WindowMonths, 0)

	counts := make(map[domain.Period]int)
	det := Detection{Source: src, To: latest}
	for _, t := range dates {
		if t.Before(cutoff) {
			continue
		}
		counts[domain.PeriodOf(t)]++
		det.Considered++
		if det.From.IsZero() || t.Before(det.From) {
			det.From = t
		}
	}

	periods := make([]domain.Period, 0, len(counts))
	for p := range counts {
		periods = append(periods, p)
	}
	// most votes first; ties go to the later month
	sort.Slice(periods, func(i, j int) bool {
		if counts[periods[i]] != counts[periods[j]] {
			return counts[periods[i]] > counts[periods[j]]
		}
		return periods[j].Before(periods[i])
	})
	det.Period = periods[0]
	det.Votes = counts[det.Period]
	return det, nil
}
