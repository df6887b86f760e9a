package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Unmatched is the partner name given to shipments no tier could resolve.
const Unmatched = "UNMATCHED"

type MatchMethod string

const (
	MatchExactTracking   MatchMethod = "EXACT_TRACKING"
	MatchPartialTracking MatchMethod = "PARTIAL_TRACKING"
	MatchPostalDate      MatchMethod = "POSTAL_DATE"
	MatchNone            MatchMethod = "NONE"
)

// MatchResult is the outcome of identity matching for one shipment.
// Method is MatchNone iff PartnerName is Unmatched.
type MatchResult struct {
	PartnerName      string      `json:"partner_name"`
	OriginOrderID    string      `json:"origin_order_id,omitempty"`
	PartnerOrderID   string      `json:"partner_order_id,omitempty"`
	OutboundTracking string      `json:"outbound_tracking,omitempty"`
	OrderDate        *time.Time  `json:"order_date,omitempty"`
	Method           MatchMethod `json:"match_method"`

	// Reference points at the matched record; nil when unmatched.
	Reference *PartnerReferenceRecord `json:"-"`
}

func NoMatch() MatchResult {
	return MatchResult{PartnerName: Unmatched, Method: MatchNone}
}

func (m MatchResult) Matched() bool {
	return m.Method != MatchNone
}

// EnrichedLine is a shipment joined with its match and computed financials.
// Nullable amounts stay null in detail output and count as zero in sums.
type EnrichedLine struct {
	Shipment          ShipmentRecord      `json:"shipment"`
	Match             MatchResult         `json:"match"`
	Country           string              `json:"country,omitempty"`
	ReferenceWeightKg *float64            `json:"reference_weight_kg,omitempty"`
	TheoreticalPrice  decimal.NullDecimal `json:"theoretical_price"`
	PriceDelta        decimal.NullDecimal `json:"price_delta"`
	WeightDelta       *float64            `json:"weight_delta,omitempty"`
	Surcharges        []SurchargeLine     `json:"surcharges,omitempty"`
	ToRecover         decimal.Decimal     `json:"to_recover"`
}

// Overcharge returns the positive part of the price delta.
func (l *EnrichedLine) Overcharge() decimal.Decimal {
	if !l.PriceDelta.Valid || !l.PriceDelta.Decimal.IsPositive() {
		return decimal.Zero
	}
	return l.PriceDelta.Decimal
}

func (l *EnrichedLine) SurchargeTotal() decimal.Decimal {
	total := decimal.Zero
	for _, s := range l.Surcharges {
		total = total.Add(s.Amount)
	}
	return total
}

// SurchargeDetail is a surcharge line resolved to a partner for reporting.
type SurchargeDetail struct {
	SurchargeLine
	PartnerName   string      `json:"partner_name"`
	OriginOrderID string      `json:"origin_order_id,omitempty"`
	Method        MatchMethod `json:"match_method"`
}
