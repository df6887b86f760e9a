package main

import (
	"encoding/csv"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/greenlog/reconciler/internal/tariff"
)

// order is one shipment as the logistics partner recorded it.
type order struct {
	tracking  string
	partner   string
	originID  string
	partnerID string
	orderedAt time.Time
	shippedAt time.Time
	postal    string
	country   string
	weightKg  float64
}

var partners = []string{"Maison Lune", "Atelier Sauvage", "Bocal & Co", "Les Petits Pots", "Terre Mère"}

var destinations = []struct {
	country string
	postal  func(*rand.Rand) string
}{
	{"FR", func(r *rand.Rand) string { return fmt.Sprintf("%05d", 1000+r.Intn(94000)) }},
	{"FR", func(r *rand.Rand) string { return fmt.Sprintf("%05d", 1000+r.Intn(94000)) }},
	{"FR", func(r *rand.Rand) string { return fmt.Sprintf("%05d", 1000+r.Intn(94000)) }},
	{"BE", func(r *rand.Rand) string { return fmt.Sprintf("%04d", 1000+r.Intn(8999)) }},
	{"DE", func(r *rand.Rand) string { return fmt.Sprintf("%05d", 10000+r.Intn(89999)) }},
	{"ES", func(r *rand.Rand) string { return fmt.Sprintf("%05d", 1000+r.Intn(51000)) }},
}

func main() {
	rng := rand.New(rand.NewSource(42))
	baseDir := findTestdataDir()
	grid := tariff.Default()

	for _, dir := range []string{"references", "invoices"} {
		if err := os.MkdirAll(filepath.Join(baseDir, dir), 0o755); err != nil {
			panic(err)
		}
	}

	months := []time.Time{
		time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	var all []order
	for _, m := range months {
		orders := generateOrders(rng, m, 120)
		all = append(all, orders...)

		name := fmt.Sprintf("export_%s.xlsx", m.Format("2006_01"))
		writeReference(filepath.Join(baseDir, "references", name), orders, rng)
		fmt.Printf("Generated %d orders -> references/%s\n", len(orders), name)
	}

	january := all[len(all)/2:]
	generateChronopost(rng, grid, january, filepath.Join(baseDir, "invoices", "chronopost_2024_01.xlsx"))
	generateColissimo(rng, grid, january, filepath.Join(baseDir, "invoices", "colissimo_2024_01.csv"))

	fmt.Println("Test data generation complete.")
}

func generateOrders(rng *rand.Rand, month time.Time, n int) []order {
	days := month.AddDate(0, 1, 0).Sub(month).Hours() / 24
	out := make([]order, n)
	for i := range out {
		d := destinations[rng.Intn(len(destinations))]
		ordered := month.Add(time.Duration(rng.Intn(int(days)*24)) * time.Hour)
		out[i] = order{
			tracking:  fmt.Sprintf("XR%011d", rng.Int63n(1e11)),
			partner:   partners[rng.Intn(len(partners))],
			originID:  fmt.Sprintf("#%d", 10000+rng.Intn(90000)),
			partnerID: fmt.Sprintf("P-%s-%04d", month.Format("0601"), i+1),
			orderedAt: ordered,
			shippedAt: ordered.Add(time.Duration(12+rng.Intn(36)) * time.Hour),
			postal:    d.postal(rng),
			country:   d.country,
			weightKg:  math.Round((0.1+rng.Float64()*rng.Float64()*12)*1000) / 1000,
		}
	}
	return out
}

func writeReference(path string, orders []order, rng *rand.Rand) {
	const sheet = "Facturation préparation"
	rows := [][]any{{
		"Numéro de tracking", "Nom du partenaire", "Numéro de commande d'origine", "Numéro de commande partenaire",
		"Date de la commande", "Date d'expédition", "Code postal destination", "Pays destination",
		"Poids expédition", "Transporteur",
	}}
	for _, o := range orders {
		carrier := "Chronopost"
		if rng.Float64() < 0.3 {
			carrier = "Colissimo"
		}
		rows = append(rows, []any{
			o.tracking, o.partner, o.originID, o.partnerID,
			o.orderedAt.Format("02/01/2006 15:04"), o.shippedAt.Format("02/01/2006 15:04"),
			o.postal, o.country, int(o.weightKg * 1000), carrier,
		})
	}
	writeXLSX(path, sheet, rows)
}

// generateChronopost writes a sectioned invoice: a header block repeated
// every page, trackings drifting one column, and free-text surcharge rows.
func generateChronopost(rng *rand.Rand, grid *tariff.Grid, orders []order, path string) {
	header := []any{"", "Date", "", "N° objet", "", "Poids", "Montant HT", "Obs"}
	rows := [][]any{{"FACTURE CHRONOPOST", "", "", "", "", "", "Janvier 2024"}}

	var unknown, overcharged, surcharged int
	for i, o := range orders {
		if i%40 == 0 {
			rows = append(rows, header, []any{"", "", "", "(réf. client)"}, []any{"", "", "", "", "", "kg", "EUR"})
		}

		tracking := o.tracking
		roll := rng.Float64()
		switch {
		case roll < 0.05:
			tracking = fmt.Sprintf("XT%011d", rng.Int63n(1e11))
			unknown++
		case roll < 0.10:
			// carrier prefix rewritten, numeric core intact
			tracking = "XA" + o.tracking[2:]
		}

		price, ok := grid.Lookup(o.weightKg, o.country)
		if !ok {
			continue
		}
		if rng.Float64() < 0.08 {
			price = price.Add(price.Mul(priceBump(rng))).Round(2)
			overcharged++
		}

		col := 3
		row := []any{"", excelSerial(o.shippedAt.AddDate(0, 0, 1)), "", "", "", o.weightKg, price.InexactFloat64()}
		if rng.Float64() < 0.15 {
			col = 4
		}
		row[col] = tracking
		rows = append(rows, row)

		if rng.Float64() < 0.06 {
			label, amount := chronopostSurcharge(rng)
			rows = append(rows, []any{"", "", "", "", label, "", amount})
			surcharged++
		}
	}
	rows = append(rows, []any{"Total", "", "", "", "", "", ""})

	writeXLSX(path, "Table 1", rows)
	fmt.Printf("Generated %d Chronopost lines (%d unknown, %d overcharged, %d surcharges) -> %s\n",
		len(orders), unknown, overcharged, surcharged, filepath.Base(path))
}

func chronopostSurcharge(rng *rand.Rand) (string, float64) {
	switch rng.Intn(4) {
	case 0:
		return "Frais de correction d'adresse", 9.5
	case 1:
		return "Retour expéditeur", 20
	case 2:
		return "HORS NORME manutention", 18.5
	default:
		return "Supplément Zone Corse", 12
	}
}

// generateColissimo writes a semicolon CSV with comma decimals and a mix of
// product codes; only 8R lines are billed returns.
func generateColissimo(rng *rand.Rand, grid *tariff.Grid, orders []order, path string) {
	f, err := os.Create(path)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = ';'
	defer w.Flush()

	w.Write([]string{"Tracking", "Date PCH", "Code Postal", "Pays", "Poids facturé", "Prix HT", "Majoration service", "Code produit"})

	count := 0
	for _, o := range orders {
		if rng.Float64() < 0.7 {
			continue
		}
		code := "8R"
		if rng.Float64() < 0.2 {
			code = "6A"
		}
		price, ok := grid.Lookup(o.weightKg, o.country)
		if !ok {
			continue
		}
		fee := ""
		if rng.Float64() < 0.1 {
			fee = "2,00"
		}
		w.Write([]string{
			o.tracking,
			o.shippedAt.AddDate(0, 0, 2).Format("02/01/2006"),
			o.postal,
			o.country,
			commaDecimal(o.weightKg, 3),
			commaDecimal(price.InexactFloat64(), 2),
			fee,
			code,
		})
		count++
	}

	fmt.Printf("Generated %d Colissimo lines -> %s\n", count, filepath.Base(path))
}

func priceBump(rng *rand.Rand) decimal.Decimal {
	return decimal.NewFromFloat(0.1 + rng.Float64()*0.4).Round(2)
}

func writeXLSX(path, sheet string, rows [][]any) {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		panic(err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			panic(err)
		}
		values := row
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			panic(err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		panic(err)
	}
}

// excelSerial renders t as an Excel day number, the way invoice exports
// store dates.
func excelSerial(t time.Time) int {
	epoch := time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)
	return int(t.Sub(epoch).Hours() / 24)
}

func commaDecimal(v float64, places int) string {
	return strings.Replace(fmt.Sprintf("%.*f", places, v), ".", ",", 1)
}

func findTestdataDir() string {
	// Look for the testdata directory relative to common locations.
	candidates := []string{
		"testdata",
		"./testdata",
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && info.IsDir() {
			return c
		}
	}
	// Fallback.
	return "testdata"
}
