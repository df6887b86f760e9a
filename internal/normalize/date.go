package normalize

import (
	"math"
	"strings"
	"time"
)

// excelEpoch is day zero of the 1900 date system as spreadsheet tools count
// it, leap-year bug included.
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// DateLayouts are tried in order. Day-first layouts come before month-first
// ones: every exporter in use is French or German.
var DateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"02.01.2006 15:04",
	"02.01.2006",
	"02/01/06",
	"20060102",
}

// Date coerces a cell to a UTC time. Unparseable values yield nil.
func Date(v any) *time.Time {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		if x.IsZero() {
			return nil
		}
		t := x.UTC()
		return &t
	case *time.Time:
		if x == nil {
			return nil
		}
		return Date(*x)
	case float64:
		return fromSerial(x)
	case int:
		return fromSerial(float64(x))
	case string:
		return dateString(x)
	}
	return nil
}

func dateString(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range DateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t = t.UTC()
			return &t
		}
	}
	if n := Numeric(s); n.Valid {
		return fromSerial(n.Decimal.InexactFloat64())
	}
	return nil
}

// fromSerial accepts serials from 1900-01-01 to 9999-12-31.
func fromSerial(f float64) *time.Time {
	if math.IsNaN(f) || f < 1 || f > 2958465 {
		return nil
	}
	days := math.Floor(f)
	secs := math.Round((f - days) * 86400)
	t := excelEpoch.AddDate(0, 0, int(days)).Add(time.Duration(secs) * time.Second)
	return &t
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
