package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PartnerSummary aggregates enriched lines per partner. It is derived and
// recomputed on every run.
type PartnerSummary struct {
	PartnerName      string          `json:"partner_name"`
	ShipmentCount    int             `json:"shipment_count"`
	BilledTotal      decimal.Decimal `json:"billed_total"`
	TheoreticalTotal decimal.Decimal `json:"theoretical_total"`
	PriceDeltaTotal  decimal.Decimal `json:"price_delta_total"`
	OverchargeCount  int             `json:"overcharge_count"`
	OverchargeTotal  decimal.Decimal `json:"overcharge_total"`
	SurchargeCount   int             `json:"surcharge_count"`
	SurchargeTotal   decimal.Decimal `json:"surcharge_total"`
	ToRecover        decimal.Decimal `json:"to_recover"`
}

// Period is the calendar month a batch is archived under.
type Period struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
}

func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// Key renders the period as YYYY_MM, the storage key suffix.
func (p Period) Key() string {
	return fmt.Sprintf("%04d_%02d", p.Year, int(p.Month))
}

// ParsePeriodKey is the inverse of Key.
func ParsePeriodKey(key string) (Period, error) {
	var p Period
	var m int
	if _, err := fmt.Sscanf(key, "%04d_%02d", &p.Year, &m); err != nil {
		return Period{}, fmt.Errorf("invalid period key %q: %w", key, err)
	}
	if m < 1 || m > 12 {
		return Period{}, fmt.Errorf("invalid period key %q: month out of range", key)
	}
	p.Month = time.Month(m)
	if p.Key() != key {
		return Period{}, fmt.Errorf("invalid period key %q: want YYYY_MM", key)
	}
	return p, nil
}

// Before reports whether p is an earlier month than o.
func (p Period) Before(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Month < o.Month
}

func (p Period) String() string {
	return fmt.Sprintf("%02d/%04d", int(p.Month), p.Year)
}
