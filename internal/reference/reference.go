// Package reference loads logistics-partner exports and merges them into
// one de-duplicated reference set.
package reference

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/greenlog/reconciler/internal/domain"
	"github.com/greenlog/reconciler/internal/normalize"
	"github.com/greenlog/reconciler/internal/sheet"
)

var (
	ErrNoReferenceFiles    = errors.New("no reference files")
	ErrNoReadableReference = errors.New("no readable reference file")
	ErrMissingColumns      = errors.New("missing required columns")
)

const (
	fieldTracking     = "tracking"
	fieldPartner      = "partner"
	fieldOriginOrder  = "origin_order"
	fieldPartnerOrder = "partner_order"
	fieldOrderDate    = "order_date"
	fieldShippedAt    = "shipped_at"
	fieldPostalCode   = "postal_code"
	fieldCountry      = "country"
	fieldWeight       = "weight"
	fieldCarrier      = "carrier"
	fieldParcelNumber = "parcel_number"
)

const headerSearchRows = 20

// Schema describes a partner export. Weights are exported in grams.
type Schema struct {
	Sheets     []string
	Columns    []sheet.Column
	Required   []string
	WeightUnit float64
}

// DefaultSchema is the "Facturation préparation" export of the logistics
// partner.
func DefaultSchema() Schema {
	return Schema{
		Sheets: []string{"Facturation préparation"},
		Columns: []sheet.Column{
			{Field: fieldTracking, Synonyms: []string{"Numéro de tracking", "Tracking"}},
			{Field: fieldPartner, Synonyms: []string{"Nom du partenaire", "Partenaire"}},
			{Field: fieldOriginOrder, Synonyms: []string{"Numéro de commande d'origine"}},
			{Field: fieldPartnerOrder, Synonyms: []string{"Numéro de commande partenaire"}},
			{Field: fieldOrderDate, Synonyms: []string{"Date de la commande", "Date commande"}},
			{Field: fieldShippedAt, Synonyms: []string{"Date d'expédition", "Date expédition"}},
			{Field: fieldPostalCode, Synonyms: []string{"Code postal destination", "Code postal"}},
			{Field: fieldCountry, Synonyms: []string{"Pays destination", "Pays"}},
			{Field: fieldWeight, Synonyms: []string{"Poids expédition", "Poids"}},
			{Field: fieldCarrier, Synonyms: []string{"Transporteur"}},
			{Field: fieldParcelNumber, Synonyms: []string{"Numéro de colis"}},
		},
		Required:   []string{fieldTracking, fieldPartner},
		WeightUnit: 0.001,
	}
}

// Options narrow a merge.
type Options struct {
	// Carrier keeps only rows whose carrier column mentions it. Rows are
	// kept as-is when the export has no carrier column.
	Carrier string
}

// FileReport is the per-file outcome of a merge.
type FileReport struct {
	Name       string `json:"name"`
	Rows       int    `json:"rows"`
	Kept       int    `json:"kept"`
	NoTracking int    `json:"no_tracking"`
	Filtered   int    `json:"filtered"`
	Err        string `json:"error,omitempty"`
}

// MergeResult is the merged reference set in upload order.
type MergeResult struct {
	Records    []domain.PartnerReferenceRecord `json:"-"`
	Files      []FileReport                    `json:"files"`
	Duplicates int                             `json:"duplicates"`
	Warnings   []string                        `json:"warnings,omitempty"`
}

// Readable counts the files that loaded without error.
func (m *MergeResult) Readable() int {
	n := 0
	for _, f := range m.Files {
		if f.Err == "" {
			n++
		}
	}
	return n
}

// Merge concatenates the files in order and de-duplicates by tracking id,
// keeping the first occurrence. Unreadable files are reported and skipped;
// the merge fails only when none is readable. The result is never nil.
func Merge(files []domain.File, opts Options) (*MergeResult, error) {
	res := &MergeResult{}
	if len(files) == 0 {
		return res, ErrNoReferenceFiles
	}

	schema := DefaultSchema()
	seen := make(map[string]bool)
	for _, f := range files {
		recs, rep, err := load(f, schema, opts)
		if err != nil {
			rep.Err = err.Error()
			res.Files = append(res.Files, rep)
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", f.Name, err))
			continue
		}
		for _, r := range recs {
			key := normalize.MatchKey(r.TrackingID)
			if seen[key] {
				res.Duplicates++
				continue
			}
			seen[key] = true
			res.Records = append(res.Records, r)
			rep.Kept++
		}
		res.Files = append(res.Files, rep)
	}

	if res.Readable() == 0 {
		return res, ErrNoReadableReference
	}
	return res, nil
}

// Load reads a single export without de-duplication.
func Load(f domain.File) ([]domain.PartnerReferenceRecord, error) {
	recs, _, err := load(f, DefaultSchema(), Options{})
	return recs, err
}

// AnchorDates returns the order dates of a file, or ship dates for rows
// without one. It is used to date an uploaded export.
func AnchorDates(f domain.File) ([]time.Time, error) {
	recs, err := Load(f)
	if err != nil {
		return nil, err
	}
	var out []time.Time
	for i := range recs {
		if d := recs[i].AnchorDate(); d != nil {
			out = append(out, *d)
		}
	}
	return out, nil
}

func load(f domain.File, schema Schema, opts Options) ([]domain.PartnerReferenceRecord, FileReport, error) {
	rep := FileReport{Name: f.Name}
	tbl, err := sheet.Read(f.Data, sheet.Options{SheetHints: schema.Sheets})
	if err != nil {
		return nil, rep, err
	}

	headerRow, cols := -1, map[string]int(nil)
	var missing []string
	for i := 0; i < len(tbl.Rows) && i < headerSearchRows; i++ {
		found := sheet.ResolveColumns(tbl.Rows[i], schema.Columns)
		m := missingFields(found, schema.Required)
		if len(m) == 0 {
			headerRow, cols = i, found
			break
		}
		if missing == nil || len(m) < len(missing) {
			missing = m
		}
	}
	if headerRow < 0 {
		return nil, rep, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	carrier := normalize.Fold(strings.TrimSpace(opts.Carrier))
	carrierCol, hasCarrier := cols[fieldCarrier]

	cell := func(row int, field string) string {
		c, ok := cols[field]
		if !ok {
			return ""
		}
		return tbl.Cell(row, c)
	}

	var recs []domain.PartnerReferenceRecord
	for i := headerRow + 1; i < len(tbl.Rows); i++ {
		if blank(tbl.Rows[i]) {
			continue
		}
		rep.Rows++

		tracking := normalize.Tracking(cell(i, fieldTracking))
		if tracking == "" {
			rep.NoTracking++
			continue
		}
		if carrier != "" && hasCarrier && !strings.Contains(normalize.Fold(tbl.Cell(i, carrierCol)), carrier) {
			rep.Filtered++
			continue
		}

		r := domain.PartnerReferenceRecord{
			TrackingID:            tracking,
			PartnerName:           strings.TrimSpace(cell(i, fieldPartner)),
			OriginOrderID:         normalize.Tracking(cell(i, fieldOriginOrder)),
			PartnerOrderID:        normalize.Tracking(cell(i, fieldPartnerOrder)),
			OrderDate:             normalize.Date(cell(i, fieldOrderDate)),
			ShippedAt:             normalize.Date(cell(i, fieldShippedAt)),
			DestinationPostalCode: normalize.PostalCode(cell(i, fieldPostalCode)),
			DestinationCountry:    normalize.Country(cell(i, fieldCountry)),
			Carrier:               strings.TrimSpace(cell(i, fieldCarrier)),
			ParcelNumber:          normalize.Tracking(cell(i, fieldParcelNumber)),
			SourceFile:            f.Name,
			SourceRow:             i + 1,
		}
		if r.PartnerName == "" {
			r.PartnerName = domain.Unassigned
		}
		if w := normalize.Float(cell(i, fieldWeight)); w != nil {
			kg := *w * schema.WeightUnit
			r.ShippedWeightKg = &kg
		}
		recs = append(recs, r)
	}
	return recs, rep, nil
}

func missingFields(found map[string]int, required []string) []string {
	var out []string
	for _, f := range required {
		if _, ok := found[f]; !ok {
			out = append(out, f)
		}
	}
	return out
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
