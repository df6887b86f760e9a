package tariff

import "github.com/shopspring/decimal"

var domesticRates = []struct {
	to    float64
	price string
}{
	{0.5, "2.45"}, {1, "2.54"}, {2, "2.87"}, {3, "3.30"}, {4, "3.80"},
	{5, "4.25"}, {6, "4.70"}, {7, "5.20"}, {8, "5.60"}, {9, "7.26"},
	{10, "6.55"}, {11, "7.00"}, {12, "7.50"}, {13, "7.95"}, {14, "8.40"},
	{15, "8.85"}, {16, "9.35"}, {17, "9.80"}, {18, "10.25"}, {19, "10.75"},
	{20, "11.20"},
}

// europe is the column order of internationalRates.
var europe = []string{
	"AT", "BE", "BG", "CH", "CZ", "DE", "DK", "EE", "ES", "FI", "HR", "HU",
	"IE", "IT", "LT", "LU", "LV", "NL", "PL", "PT", "RO", "SE", "SI", "SK",
}

var internationalRates = []struct {
	from, to float64
	prices   []string
}{
	{0, 0.5, []string{"9.00", "3.68", "8.72", "9.00", "8.72", "4.45", "8.72", "8.72", "6.01", "8.72", "8.72", "8.72", "8.72", "6.01", "8.72", "4.45", "8.72", "4.45", "8.72", "8.72", "8.72", "9.89", "9.00", "9.00"}},
	{0.5, 1, []string{"9.23", "3.80", "9.00", "9.23", "9.00", "4.75", "9.00", "9.00", "6.36", "9.00", "9.00", "9.00", "9.00", "6.36", "9.00", "4.75", "9.00", "4.75", "9.00", "9.00", "9.00", "10.12", "9.23", "9.23"}},
	{1, 2, []string{"9.58", "4.15", "10.00", "10.23", "10.00", "5.50", "10.00", "10.00", "8.97", "10.00", "10.00", "10.00", "10.00", "8.97", "10.00", "5.50", "10.00", "5.50", "10.00", "10.00", "10.00", "10.47", "9.58", "9.58"}},
	{2, 3, []string{"12.19", "6.88", "11.70", "12.00", "11.70", "7.36", "11.70", "11.70", "9.66", "11.70", "11.70", "11.70", "11.70", "9.66", "11.70", "8.05", "11.70", "7.36", "11.70", "11.70", "11.70", "13.08", "12.19", "12.19"}},
	{3, 5, []string{"12.88", "7.57", "14.40", "15.00", "14.40", "8.74", "14.40", "14.40", "10.35", "14.40", "14.40", "14.40", "14.40", "10.35", "14.40", "9.43", "14.40", "8.74", "14.40", "14.40", "14.40", "13.77", "12.88", "12.88"}},
	{5, 7, []string{"14.95", "9.64", "17.15", "18.00", "17.15", "10.12", "17.15", "17.15", "11.73", "17.15", "17.15", "17.15", "17.15", "11.73", "17.15", "11.50", "17.15", "10.12", "17.15", "17.15", "17.15", "15.84", "14.95", "14.95"}},
	{7, 10, []string{"16.33", "11.02", "21.25", "22.50", "21.25", "11.50", "21.25", "21.25", "13.11", "21.25", "21.25", "21.25", "21.25", "13.11", "21.25", "13.88", "21.25", "11.50", "21.25", "21.25", "21.25", "17.22", "16.33", "16.33"}},
	{10, 15, []string{"20.47", "15.16", "26.75", "28.50", "26.75", "16.33", "26.75", "26.75", "17.94", "26.75", "26.75", "26.75", "26.75", "17.94", "26.75", "20.16", "26.75", "16.33", "26.75", "26.75", "26.75", "21.36", "20.47", "20.47"}},
}

// Default returns the Chronopost grid with France as the home country.
func Default() *Grid {
	domestic := make([]DomesticBand, len(domesticRates))
	from := 0.0
	for i, r := range domesticRates {
		domestic[i] = DomesticBand{From: from, To: r.to, Price: decimal.RequireFromString(r.price)}
		from = r.to
	}

	international := make([]InternationalBand, len(internationalRates))
	for i, r := range internationalRates {
		prices := make(map[string]decimal.Decimal, len(europe))
		for j, c := range europe {
			prices[c] = decimal.RequireFromString(r.prices[j])
		}
		international[i] = InternationalBand{From: r.from, To: r.to, Prices: prices}
	}

	g, err := NewGrid("FR", domestic, international)
	if err != nil {
		panic(err)
	}
	return g
}
