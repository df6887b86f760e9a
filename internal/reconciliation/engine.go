package reconciliation

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/greenlog/reconciler/internal/domain"
	"github.com/greenlog/reconciler/internal/logger"
	"github.com/greenlog/reconciler/internal/matching"
	"github.com/greenlog/reconciler/internal/normalize"
)

// Pricer returns the theoretical price of a parcel, if the grid covers it.
type Pricer interface {
	Lookup(weightKg float64, country string) (decimal.Decimal, bool)
}

// Stats are the headline figures of a run.
type Stats struct {
	Lines            int                        `json:"lines"`
	Matched          int                        `json:"matched"`
	Unmatched        int                        `json:"unmatched"`
	ByMethod         map[domain.MatchMethod]int `json:"by_method"`
	Priced           int                        `json:"priced"`
	OverchargeCount  int                        `json:"overcharge_count"`
	OverchargeTotal  decimal.Decimal            `json:"overcharge_total"`
	SurchargeCount   int                        `json:"surcharge_count"`
	SurchargeTotal   decimal.Decimal            `json:"surcharge_total"`
	OrphanSurcharges int                        `json:"orphan_surcharges"`
	ToRecover        decimal.Decimal            `json:"to_recover"`
	ReferenceRecords int                        `json:"reference_records"`
	Degraded         bool                       `json:"degraded"`
}

// Result is the immutable outcome of one reconciliation.
type Result struct {
	Lines      []domain.EnrichedLine    `json:"lines"`
	Summaries  []domain.PartnerSummary  `json:"summaries"`
	Surcharges []domain.SurchargeDetail `json:"surcharges"`
	Stats      Stats                    `json:"stats"`
}

// Engine joins shipments to the reference set and computes what to recover.
type Engine struct {
	Pricer Pricer
}

func NewEngine(p Pricer) *Engine {
	return &Engine{Pricer: p}
}

// Reconcile is pure: identical inputs give identical results. An empty
// reference set runs in degraded mode with every shipment unmatched.
func (e *Engine) Reconcile(shipments []domain.ShipmentRecord, surcharges []domain.SurchargeLine, refs []domain.PartnerReferenceRecord) *Result {
	m := matching.New(refs)
	res := &Result{
		Lines: make([]domain.EnrichedLine, 0, len(shipments)),
		Stats: Stats{
			ByMethod:         make(map[domain.MatchMethod]int),
			ReferenceRecords: len(refs),
			Degraded:         len(refs) == 0,
		},
	}

	byTracking := make(map[string][]int)
	for i, s := range surcharges {
		key := normalize.MatchKey(s.TrackingID)
		byTracking[key] = append(byTracking[key], i)
	}

	agg := newAggregator()
	claimed := make(map[string]bool)
	owner := make([]domain.MatchResult, len(surcharges))
	attached := make([]bool, len(surcharges))

	for _, s := range shipments {
		line := e.enrich(s, m.Match(s))

		key := normalize.MatchKey(s.TrackingID)
		if !claimed[key] {
			claimed[key] = true
			for _, i := range byTracking[key] {
				line.Surcharges = append(line.Surcharges, surcharges[i])
				owner[i] = line.Match
				attached[i] = true
			}
		}
		line.ToRecover = line.Overcharge().Add(line.SurchargeTotal())

		res.Stats.ByMethod[line.Match.Method]++
		if line.TheoreticalPrice.Valid {
			res.Stats.Priced++
		}
		agg.addLine(&line)
		res.Lines = append(res.Lines, line)
	}

	// Surcharges on trackings absent from the shipment list still belong to
	// a partner; they are matched on their own.
	for i, s := range surcharges {
		if attached[i] {
			continue
		}
		owner[i] = m.Match(domain.ShipmentRecord{TrackingID: s.TrackingID, InvoiceDate: s.Date})
		agg.addOrphan(owner[i].PartnerName, s.Amount)
		res.Stats.OrphanSurcharges++
	}

	res.Surcharges = make([]domain.SurchargeDetail, len(surcharges))
	for i, s := range surcharges {
		res.Surcharges[i] = domain.SurchargeDetail{
			SurchargeLine: s,
			PartnerName:   owner[i].PartnerName,
			OriginOrderID: owner[i].OriginOrderID,
			Method:        owner[i].Method,
		}
	}

	res.Summaries = agg.summaries()
	res.Stats.Lines = len(res.Lines)
	res.Stats.Unmatched = res.Stats.ByMethod[domain.MatchNone]
	res.Stats.Matched = res.Stats.Lines - res.Stats.Unmatched
	res.Stats.OverchargeCount, res.Stats.OverchargeTotal = agg.overcharges()
	res.Stats.SurchargeCount = len(surcharges)
	res.Stats.SurchargeTotal = sumSurcharges(surcharges)
	res.Stats.ToRecover = agg.toRecover()

	logger.Component("reconciliation").Info("reconciliation complete",
		"lines", res.Stats.Lines,
		"matched", res.Stats.Matched,
		"unmatched", res.Stats.Unmatched,
		"orphan_surcharges", res.Stats.OrphanSurcharges,
		"to_recover", res.Stats.ToRecover.StringFixed(2),
		"degraded", res.Stats.Degraded,
	)
	return res
}

// enrich computes the financial columns of one shipment. Shipment weight and
// country win over the reference ones; the reference fills the gaps.
func (e *Engine) enrich(s domain.ShipmentRecord, match domain.MatchResult) domain.EnrichedLine {
	line := domain.EnrichedLine{Shipment: s, Match: match, Country: s.DestinationCountry}

	weight := s.WeightKg
	if ref := match.Reference; ref != nil {
		line.ReferenceWeightKg = ref.ShippedWeightKg
		if line.Country == "" {
			line.Country = ref.DestinationCountry
		}
		if weight == nil {
			weight = ref.ShippedWeightKg
		}
	}

	if weight != nil && line.Country != "" && e.Pricer != nil {
		if p, ok := e.Pricer.Lookup(*weight, line.Country); ok {
			line.TheoreticalPrice = decimal.NewNullDecimal(p)
		}
	}
	if s.BilledPrice.Valid && line.TheoreticalPrice.Valid {
		line.PriceDelta = decimal.NewNullDecimal(s.BilledPrice.Decimal.Sub(line.TheoreticalPrice.Decimal))
	}
	if s.WeightKg != nil && line.ReferenceWeightKg != nil {
		d := math.Round((*s.WeightKg-*line.ReferenceWeightKg)*1000) / 1000
		line.WeightDelta = &d
	}
	return line
}

func sumSurcharges(lines []domain.SurchargeLine) decimal.Decimal {
	total := decimal.Zero
	for _, s := range lines {
		total = total.Add(s.Amount)
	}
	return total
}

// aggregator groups lines per partner, keeping first-seen order for the
// stable sort.
type aggregator struct {
	order []string
	byKey map[string]*domain.PartnerSummary
}

func newAggregator() *aggregator {
	return &aggregator{byKey: make(map[string]*domain.PartnerSummary)}
}

func (a *aggregator) get(partner string) *domain.PartnerSummary {
	if s, ok := a.byKey[partner]; ok {
		return s
	}
	s := &domain.PartnerSummary{
		PartnerName:      partner,
		BilledTotal:      decimal.Zero,
		TheoreticalTotal: decimal.Zero,
		PriceDeltaTotal:  decimal.Zero,
		OverchargeTotal:  decimal.Zero,
		SurchargeTotal:   decimal.Zero,
		ToRecover:        decimal.Zero,
	}
	a.byKey[partner] = s
	a.order = append(a.order, partner)
	return s
}

func (a *aggregator) addLine(l *domain.EnrichedLine) {
	s := a.get(l.Match.PartnerName)
	s.ShipmentCount++
	if l.Shipment.BilledPrice.Valid {
		s.BilledTotal = s.BilledTotal.Add(l.Shipment.BilledPrice.Decimal)
	}
	if l.TheoreticalPrice.Valid {
		s.TheoreticalTotal = s.TheoreticalTotal.Add(l.TheoreticalPrice.Decimal)
	}
	if l.PriceDelta.Valid {
		s.PriceDeltaTotal = s.PriceDeltaTotal.Add(l.PriceDelta.Decimal)
	}
	if over := l.Overcharge(); over.IsPositive() {
		s.OverchargeCount++
		s.OverchargeTotal = s.OverchargeTotal.Add(over)
	}
	s.SurchargeCount += len(l.Surcharges)
	s.SurchargeTotal = s.SurchargeTotal.Add(l.SurchargeTotal())
	s.ToRecover = s.ToRecover.Add(l.ToRecover)
}

func (a *aggregator) addOrphan(partner string, amount decimal.Decimal) {
	s := a.get(partner)
	s.SurchargeCount++
	s.SurchargeTotal = s.SurchargeTotal.Add(amount)
	s.ToRecover = s.ToRecover.Add(amount)
}

// summaries sorts by amount to recover, highest first, then by name.
func (a *aggregator) summaries() []domain.PartnerSummary {
	out := make([]domain.PartnerSummary, 0, len(a.order))
	for _, p := range a.order {
		out = append(out, *a.byKey[p])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].ToRecover.Cmp(out[j].ToRecover); c != 0 {
			return c > 0
		}
		return out[i].PartnerName < out[j].PartnerName
	})
	return out
}

func (a *aggregator) overcharges() (int, decimal.Decimal) {
	n, total := 0, decimal.Zero
	for _, s := range a.byKey {
		n += s.OverchargeCount
		total = total.Add(s.OverchargeTotal)
	}
	return n, total
}

func (a *aggregator) toRecover() decimal.Decimal {
	total := decimal.Zero
	for _, p := range a.order {
		total = total.Add(a.byKey[p].ToRecover)
	}
	return total
}
