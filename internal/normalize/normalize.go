// Package normalize holds the cleaning rules shared by invoice and reference
// parsing: numbers with locale noise, identifiers that went through numeric
// spreadsheet columns, and dates in whatever shape the exporter produced.
package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	floatArtifact = regexp.MustCompile(`^(\d+)\.0+$`)
	sciNotation   = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?[eE]\+?[0-9]+$`)
	amountNoise   = strings.NewReplacer("€", "", "EUR", "", "eur", "", "$", "", " ", "", " ", "", " ", "", "'", "")
	keyNoise      = strings.NewReplacer(" ", "", "-", "", " ", "")
)

// Numeric converts a cell into a decimal. The result is invalid when the
// cell is empty or not a number; callers treat that as null.
func Numeric(v any) decimal.NullDecimal {
	switch x := v.(type) {
	case nil:
		return decimal.NullDecimal{}
	case decimal.Decimal:
		return decimal.NewNullDecimal(x)
	case decimal.NullDecimal:
		return x
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.NullDecimal{}
		}
		return decimal.NewNullDecimal(decimal.NewFromFloat(x))
	case float32:
		return Numeric(float64(x))
	case int:
		return decimal.NewNullDecimal(decimal.NewFromInt(int64(x)))
	case int64:
		return decimal.NewNullDecimal(decimal.NewFromInt(x))
	case string:
		return numericString(x)
	default:
		return decimal.NullDecimal{}
	}
}

func numericString(s string) decimal.NullDecimal {
	s = amountNoise.Replace(strings.TrimSpace(s))
	if s == "" {
		return decimal.NullDecimal{}
	}
	comma := strings.LastIndex(s, ",")
	dot := strings.LastIndex(s, ".")
	switch {
	case comma >= 0 && dot >= 0:
		// The right-most separator is the decimal one.
		if comma > dot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case comma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// Float is Numeric for measures that do not need exact arithmetic.
func Float(v any) *float64 {
	n := Numeric(v)
	if !n.Valid {
		return nil
	}
	f := n.Decimal.InexactFloat64()
	return &f
}

// Tracking stringifies an identifier cell and removes the artifacts left by
// numeric spreadsheet columns: a trailing ".0" and integral scientific
// notation.
func Tracking(v any) string {
	var s string
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		s = x
	case float64:
		if x == math.Trunc(x) && !math.IsInf(x, 0) {
			return strconv.FormatFloat(x, 'f', 0, 64)
		}
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return ""
	}
	s = strings.TrimSpace(s)
	if m := floatArtifact.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	if sciNotation.MatchString(s) {
		if d, err := decimal.NewFromString(s); err == nil && d.Equal(d.Truncate(0)) {
			return d.StringFixed(0)
		}
	}
	return s
}

// MatchKey is the form a tracking id takes in join indexes.
func MatchKey(v string) string {
	return strings.ToUpper(keyNoise.Replace(Tracking(v)))
}

// PostalCode cleans a postal code cell. Leading zeros lost by a numeric
// column are not restored: the country is not always known.
func PostalCode(v any) string {
	return strings.ToUpper(strings.TrimSpace(Tracking(v)))
}

// Country returns an upper-cased ISO code, or "" for blank cells.
func Country(v any) string {
	s, _ := v.(string)
	return strings.ToUpper(strings.TrimSpace(s))
}

// Fold upper-cases s and strips diacritics, so "Étiquette" and "ETIQUETTE"
// compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToUpper(out)
}

var quotes = strings.NewReplacer("’", "'", "`", "'", " ", " ")

// Header folds a column label for comparison: no accents, lower case, single
// spaces.
func Header(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(Fold(quotes.Replace(s))), " "))
}

// LongestDigitRun returns the longest run of consecutive digits in s when it
// is at least min long. Ties keep the left-most run.
func LongestDigitRun(s string, min int) string {
	best, start := "", -1
	flush := func(end int) {
		if start >= 0 && end-start > len(best) {
			best = s[start:end]
		}
		start = -1
	}
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(s))
	if len(best) < min {
		return ""
	}
	return best
}
