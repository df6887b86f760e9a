package library

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/greenlog/reconciler/internal/domain"
)

// ConsolidatedPartner is what one partner owes across every carrier for a
// period.
type ConsolidatedPartner struct {
	PartnerName    string                     `json:"partner_name"`
	ShipmentCount  int                        `json:"shipment_count"`
	SurchargeTotal decimal.Decimal            `json:"surcharge_total"`
	ByCarrier      map[string]decimal.Decimal `json:"by_carrier"`
	ToRecover      decimal.Decimal            `json:"to_recover"`
}

// Consolidation is the cross-carrier rebilling view of one period, built
// from the latest archived run of each carrier.
type Consolidation struct {
	Period    domain.Period              `json:"period"`
	Carriers  []string                   `json:"carriers"`
	RunIDs    map[string]string          `json:"run_ids"`
	Partners  []ConsolidatedPartner      `json:"partners"`
	ByCarrier map[string]decimal.Decimal `json:"by_carrier"`
	Unmatched decimal.Decimal            `json:"unmatched"`
	Total     decimal.Decimal            `json:"total"`
}

// Consolidate sums the partner summaries of the latest run per carrier for
// p. Amounts left on UNMATCHED cannot be rebilled and are reported apart.
func (a *Archive) Consolidate(p domain.Period) (*Consolidation, error) {
	keys, err := a.store.Keys(archivePrefix)
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}

	c := &Consolidation{
		Period:    p,
		RunIDs:    make(map[string]string),
		ByCarrier: make(map[string]decimal.Decimal),
		Unmatched: decimal.Zero,
		Total:     decimal.Zero,
	}
	byName := make(map[string]*ConsolidatedPartner)

	suffix := "/" + p.Key()
	for _, key := range keys {
		if !strings.HasSuffix(key, suffix) {
			continue
		}
		carrier := strings.TrimSuffix(strings.TrimPrefix(key, archivePrefix), suffix)
		if carrier == "" || strings.Contains(carrier, "/") {
			continue
		}
		runs, err := a.load(key)
		if err != nil {
			return nil, err
		}
		if len(runs) == 0 {
			continue
		}
		latest := runs[0]
		c.Carriers = append(c.Carriers, carrier)
		c.RunIDs[carrier] = latest.RunID

		carrierTotal := decimal.Zero
		for _, s := range latest.Summaries {
			if s.PartnerName == domain.Unmatched {
				c.Unmatched = c.Unmatched.Add(s.ToRecover)
				continue
			}
			cp, ok := byName[s.PartnerName]
			if !ok {
				cp = &ConsolidatedPartner{
					PartnerName:    s.PartnerName,
					SurchargeTotal: decimal.Zero,
					ByCarrier:      make(map[string]decimal.Decimal),
					ToRecover:      decimal.Zero,
				}
				byName[s.PartnerName] = cp
			}
			cp.ShipmentCount += s.ShipmentCount
			cp.SurchargeTotal = cp.SurchargeTotal.Add(s.SurchargeTotal)
			cp.ByCarrier[carrier] = cp.ByCarrier[carrier].Add(s.ToRecover)
			cp.ToRecover = cp.ToRecover.Add(s.ToRecover)
			carrierTotal = carrierTotal.Add(s.ToRecover)
		}
		c.ByCarrier[carrier] = carrierTotal
		c.Total = c.Total.Add(carrierTotal)
	}
	if len(c.Carriers) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrArchiveNotFound, p.Key())
	}

	sort.Strings(c.Carriers)
	for _, cp := range byName {
		c.Partners = append(c.Partners, *cp)
	}
	sort.Slice(c.Partners, func(i, j int) bool {
		if cmp := c.Partners[i].ToRecover.Cmp(c.Partners[j].ToRecover); cmp != 0 {
			return cmp > 0
		}
		return c.Partners[i].PartnerName < c.Partners[j].PartnerName
	})
	return c, nil
}
