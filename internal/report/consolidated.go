package report

import (
	"io"

	"github.com/shopspring/decimal"

	"github.com/greenlog/reconciler/internal/library"
)

const SheetRebilling = "Refacturation"

// ConsolidatedTable lays out one row per partner with a column per carrier,
// closed by a grand total row.
func ConsolidatedTable(c *library.Consolidation) Table {
	t := Table{Name: SheetRebilling, Header: []string{"Partenaire", "Envois"}}
	for _, carrier := range c.Carriers {
		t.Header = append(t.Header, carrier+" (€)")
	}
	t.Header = append(t.Header, "Dont surcoûts (€)", "Total à refacturer (€)")

	shipments, surcharges := 0, decimal.Zero
	for _, p := range c.Partners {
		row := []any{p.PartnerName, p.ShipmentCount}
		for _, carrier := range c.Carriers {
			row = append(row, money(p.ByCarrier[carrier]))
		}
		t.Rows = append(t.Rows, append(row, money(p.SurchargeTotal), money(p.ToRecover)))
		shipments += p.ShipmentCount
		surcharges = surcharges.Add(p.SurchargeTotal)
	}

	total := []any{"TOTAL", shipments}
	for _, carrier := range c.Carriers {
		total = append(total, money(c.ByCarrier[carrier]))
	}
	t.Rows = append(t.Rows, append(total, money(surcharges), money(c.Total)))
	return t
}

// WriteConsolidatedXLSX writes the rebilling sheet of one period.
func WriteConsolidatedXLSX(c *library.Consolidation, w io.Writer) error {
	return writeWorkbook([]Table{ConsolidatedTable(c)}, w)
}
