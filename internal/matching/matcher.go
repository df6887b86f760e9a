// Package matching resolves invoice shipments to partner reference records.
package matching

import (
	"strings"

	"github.com/greenlog/reconciler/internal/domain"
	"github.com/greenlog/reconciler/internal/normalize"
)

// MinDigitRun is the shortest numeric core used for partial tracking
// matches.
const MinDigitRun = 8

// Matcher holds the indexes over one reference set. It never mutates the
// records it was built from.
type Matcher struct {
	refs     []domain.PartnerReferenceRecord
	keys     []string
	exact    map[string]int
	alias    map[string]int
	byPostal map[string][]int
}

// New indexes refs. Indexes keep the first record per key so ingestion
// order decides collisions.
func New(refs []domain.PartnerReferenceRecord) *Matcher {
	m := &Matcher{
		refs:     refs,
		keys:     make([]string, len(refs)),
		exact:    make(map[string]int, len(refs)),
		alias:    make(map[string]int),
		byPostal: make(map[string][]int),
	}
	for i := range refs {
		r := &refs[i]
		key := normalize.MatchKey(r.TrackingID)
		m.keys[i] = key
		if _, ok := m.exact[key]; !ok && key != "" {
			m.exact[key] = i
		}
		if p := normalize.MatchKey(r.ParcelNumber); p != "" {
			if _, ok := m.alias[p]; !ok {
				m.alias[p] = i
			}
		}
		if pc := postalKey(r.DestinationPostalCode); pc != "" {
			m.byPostal[pc] = append(m.byPostal[pc], i)
		}
	}
	return m
}

// Len is the size of the reference set.
func (m *Matcher) Len() int {
	return len(m.refs)
}

// Match runs the tiers in strict order and stops at the first hit.
func (m *Matcher) Match(s domain.ShipmentRecord) domain.MatchResult {
	if i, ok := m.exactMatch(s); ok {
		return m.result(i, domain.MatchExactTracking)
	}
	if i, ok := m.partialMatch(s.TrackingID); ok {
		return m.result(i, domain.MatchPartialTracking)
	}
	if i, ok := m.postalDateMatch(s); ok {
		return m.result(i, domain.MatchPostalDate)
	}
	return domain.NoMatch()
}

// exactMatch tries the tracking id, then the shipment's secondary keys,
// each against tracking ids first and parcel numbers second.
func (m *Matcher) exactMatch(s domain.ShipmentRecord) (int, bool) {
	candidates := append([]string{s.TrackingID}, s.AltKeys...)
	for _, c := range candidates {
		key := normalize.MatchKey(c)
		if key == "" {
			continue
		}
		if i, ok := m.exact[key]; ok {
			return i, true
		}
		if i, ok := m.alias[key]; ok {
			return i, true
		}
	}
	return 0, false
}

// partialMatch looks for the longest digit run of the tracking id inside
// reference tracking ids. The first record in ingestion order wins.
func (m *Matcher) partialMatch(tracking string) (int, bool) {
	run := normalize.LongestDigitRun(tracking, MinDigitRun)
	if run == "" {
		return 0, false
	}
	for i, key := range m.keys {
		if strings.Contains(key, run) {
			return i, true
		}
	}
	return 0, false
}

// postalDateMatch picks, among records sharing the postal code, the one
// anchored most recently before the shipment date. The anchor must fall on
// an earlier calendar day; equal anchors keep ingestion order.
func (m *Matcher) postalDateMatch(s domain.ShipmentRecord) (int, bool) {
	pc := postalKey(s.DestinationPostalCode)
	if pc == "" || s.InvoiceDate == nil {
		return 0, false
	}
	day := normalize.Day(*s.InvoiceDate)

	best := -1
	for _, i := range m.byPostal[pc] {
		anchor := m.refs[i].AnchorDate()
		if anchor == nil || !normalize.Day(*anchor).Before(day) {
			continue
		}
		if best < 0 || anchor.After(*m.refs[best].AnchorDate()) {
			best = i
		}
	}
	return best, best >= 0
}

func (m *Matcher) result(i int, method domain.MatchMethod) domain.MatchResult {
	r := &m.refs[i]
	return domain.MatchResult{
		PartnerName:      r.PartnerName,
		OriginOrderID:    r.OriginOrderID,
		PartnerOrderID:   r.PartnerOrderID,
		OutboundTracking: r.TrackingID,
		OrderDate:        r.AnchorDate(),
		Method:           method,
		Reference:        r,
	}
}

func postalKey(pc string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(pc)), " ", "")
}

// Stats counts results per method.
type Stats struct {
	Total    int                        `json:"total"`
	ByMethod map[domain.MatchMethod]int `json:"by_method"`
}

func (s Stats) Matched() int {
	return s.Total - s.ByMethod[domain.MatchNone]
}

// MatchAll matches every shipment, in order.
func (m *Matcher) MatchAll(shipments []domain.ShipmentRecord) ([]domain.MatchResult, Stats) {
	out := make([]domain.MatchResult, len(shipments))
	stats := Stats{Total: len(shipments), ByMethod: make(map[domain.MatchMethod]int)}
	for i, s := range shipments {
		out[i] = m.Match(s)
		stats.ByMethod[out[i].Method]++
	}
	return out, stats
}
