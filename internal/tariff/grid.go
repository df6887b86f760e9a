// Package tariff holds banded carrier price grids.
package tariff

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// DomesticBand prices every shipment inside the home country whose weight
// falls in (From, To].
type DomesticBand struct {
	From  float64
	To    float64
	Price decimal.Decimal
}

// InternationalBand prices shipments abroad per destination country. Bands
// are coarser than domestic ones and a country may be absent from a band.
type InternationalBand struct {
	From   float64
	To     float64
	Prices map[string]decimal.Decimal
}

// Grid is a carrier tariff. Domestic and international bands are kept as two
// separate tables because their boundaries differ.
type Grid struct {
	Home          string
	domestic      []DomesticBand
	international []InternationalBand
}

// NewGrid validates that both tables are ascending and contiguous.
func NewGrid(home string, domestic []DomesticBand, international []InternationalBand) (*Grid, error) {
	if err := checkBands(len(domestic), func(i int) (float64, float64) { return domestic[i].From, domestic[i].To }); err != nil {
		return nil, fmt.Errorf("domestic: %w", err)
	}
	if err := checkBands(len(international), func(i int) (float64, float64) { return international[i].From, international[i].To }); err != nil {
		return nil, fmt.Errorf("international: %w", err)
	}
	return &Grid{
		Home:          strings.ToUpper(home),
		domestic:      domestic,
		international: international,
	}, nil
}

func checkBands(n int, at func(int) (float64, float64)) error {
	prev := 0.0
	for i := 0; i < n; i++ {
		from, to := at(i)
		if from != prev || to <= from {
			return fmt.Errorf("band %d (%.2f, %.2f] is not contiguous", i, from, to)
		}
		prev = to
	}
	return nil
}

// Lookup returns the theoretical price of a parcel. The boolean is false when
// the weight or country is outside the grid: a missing rate is not an error.
func (g *Grid) Lookup(weightKg float64, country string) (decimal.Decimal, bool) {
	country = strings.ToUpper(strings.TrimSpace(country))
	if country == "" || !(weightKg > 0) || math.IsInf(weightKg, 1) {
		return decimal.Decimal{}, false
	}
	if country == g.Home {
		for _, b := range g.domestic {
			if weightKg > b.From && weightKg <= b.To {
				return b.Price, true
			}
		}
		return decimal.Decimal{}, false
	}
	for _, b := range g.international {
		if weightKg > b.From && weightKg <= b.To {
			p, ok := b.Prices[country]
			return p, ok
		}
	}
	return decimal.Decimal{}, false
}

// Band names the weight band a parcel falls in, e.g. "1.00 - 2.00".
func (g *Grid) Band(weightKg float64, country string) (string, bool) {
	country = strings.ToUpper(strings.TrimSpace(country))
	if country == "" || !(weightKg > 0) {
		return "", false
	}
	if country == g.Home {
		for _, b := range g.domestic {
			if weightKg > b.From && weightKg <= b.To {
				return bandLabel(b.From, b.To), true
			}
		}
		return "", false
	}
	for _, b := range g.international {
		if weightKg > b.From && weightKg <= b.To {
			return bandLabel(b.From, b.To), true
		}
	}
	return "", false
}

// Countries lists the destinations priced abroad in the first band.
func (g *Grid) Countries() []string {
	if len(g.international) == 0 {
		return nil
	}
	out := make([]string, 0, len(g.international[0].Prices))
	for c := range g.international[0].Prices {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func bandLabel(from, to float64) string {
	return fmt.Sprintf("%.2f - %.2f", from, to)
}
