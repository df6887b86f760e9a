// Package report flattens a reconciliation into plain tables and writes
// them as an unstyled workbook.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/greenlog/reconciler/internal/reconciliation"
)

const (
	SheetSummary    = "Synthèse"
	SheetDetail     = "Détail"
	SheetSurcharges = "Surcoûts"
)

const dateLayout = "02/01/2006"

// Table is a header row plus data rows. Cells are string, int, float64 or
// nil for an empty cell.
type Table struct {
	Name   string
	Header []string
	Rows   [][]any
}

// Options narrow the detail and surcharge tables. The summary is never
// filtered.
type Options struct {
	Partner         string
	OverchargedOnly bool
}

// Tables returns the summary, line detail and surcharge detail, in that
// order.
func Tables(res *reconciliation.Result, opts Options) []Table {
	return []Table{summaryTable(res), detailTable(res, opts), surchargeTable(res, opts)}
}

func summaryTable(res *reconciliation.Result) Table {
	t := Table{
		Name: SheetSummary,
		Header: []string{
			"Partenaire", "Envois", "Facturé HT (€)", "Théorique HT (€)", "Écart Prix (€)",
			"Envois surfacturés", "Surfacturation (€)", "Surcoûts", "Surcoûts (€)", "À récupérer (€)",
		},
	}
	for _, s := range res.Summaries {
		t.Rows = append(t.Rows, []any{
			s.PartnerName, s.ShipmentCount, money(s.BilledTotal), money(s.TheoreticalTotal), money(s.PriceDeltaTotal),
			s.OverchargeCount, money(s.OverchargeTotal), s.SurchargeCount, money(s.SurchargeTotal), money(s.ToRecover),
		})
	}
	return t
}

func detailTable(res *reconciliation.Result, opts Options) Table {
	t := Table{
		Name: SheetDetail,
		Header: []string{
			"Date", "Partenaire", "Tracking", "N° Commande", "Méthode", "Pays",
			"Poids Log. (kg)", "Poids Facturé (kg)", "Écart Poids (kg)",
			"Prix Théo. (€)", "Prix Facturé (€)", "Écart Prix (€)", "Surcoûts (€)", "À récupérer (€)",
			"Fichier", "Ligne",
		},
	}
	for i := range res.Lines {
		l := &res.Lines[i]
		if opts.Partner != "" && l.Match.PartnerName != opts.Partner {
			continue
		}
		if opts.OverchargedOnly && !l.ToRecover.IsPositive() {
			continue
		}
		t.Rows = append(t.Rows, []any{
			date(l.Shipment.InvoiceDate), l.Match.PartnerName, l.Shipment.TrackingID, l.Match.OriginOrderID,
			string(l.Match.Method), l.Country,
			weight(l.ReferenceWeightKg), weight(l.Shipment.WeightKg), weight(l.WeightDelta),
			nullMoney(l.TheoreticalPrice), nullMoney(l.Shipment.BilledPrice), nullMoney(l.PriceDelta),
			money(l.SurchargeTotal()), money(l.ToRecover),
			l.Shipment.SourceFile, l.Shipment.SourceRow,
		})
	}
	return t
}

func surchargeTable(res *reconciliation.Result, opts Options) Table {
	t := Table{
		Name: SheetSurcharges,
		Header: []string{
			"Date", "Partenaire", "Tracking", "N° Commande", "Type", "Libellé", "Montant (€)", "Fichier", "Ligne",
		},
	}
	for _, s := range res.Surcharges {
		if opts.Partner != "" && s.PartnerName != opts.Partner {
			continue
		}
		t.Rows = append(t.Rows, []any{
			date(s.Date), s.PartnerName, s.TrackingID, s.OriginOrderID, string(s.Type), s.Label,
			money(s.Amount), s.SourceFile, s.SourceRow,
		})
	}
	return t
}

// WriteXLSX writes the tables to one sheet each.
func WriteXLSX(res *reconciliation.Result, opts Options, w io.Writer) error {
	return writeWorkbook(Tables(res, opts), w)
}

func writeWorkbook(tables []Table, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	for i, t := range tables {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", t.Name); err != nil {
				return fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(t.Name); err != nil {
			return fmt.Errorf("add sheet %s: %w", t.Name, err)
		}
		if err := writeTable(f, t); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeTable(f *excelize.File, t Table) error {
	header := make([]any, len(t.Header))
	for i, h := range t.Header {
		header[i] = h
	}
	rows := append([][]any{header}, t.Rows...)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := row
		if err := f.SetSheetRow(t.Name, cell, &values); err != nil {
			return fmt.Errorf("%s row %d: %w", t.Name, i+1, err)
		}
	}
	return nil
}

func money(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}

func nullMoney(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return money(d.Decimal)
}

func weight(w *float64) any {
	if w == nil {
		return nil
	}
	return *w
}

func date(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(dateLayout)
}
