package ingestion

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/greenlog/reconciler/internal/domain"
	"github.com/greenlog/reconciler/internal/sheet"
)

// Logical fields every schema may map.
const (
	FieldTracking    = "tracking"
	FieldAltKey      = "alt_key"
	FieldDate        = "date"
	FieldWeight      = "weight"
	FieldCountry     = "country"
	FieldPostalCode  = "postal_code"
	FieldPrice       = "price"
	FieldObservation = "observation"
)

type Layout string

const (
	// LayoutTable is one header row followed by data rows.
	LayoutTable Layout = "table"
	// LayoutSections repeats a header block once per sub-invoice inside a
	// single sheet.
	LayoutSections Layout = "sections"
)

// Sections configures header detection for LayoutSections. A header row
// holds a cell equal to one of DateLabels and a cell containing one of
// TrackingLabels within its first ScanWidth cells.
type Sections struct {
	DateLabels          []string `yaml:"date_labels"`
	TrackingLabels      []string `yaml:"tracking_labels"`
	ScanWidth           int      `yaml:"scan_width"`
	DataOffset          int      `yaml:"data_offset"`
	DateFallbackColumns []int    `yaml:"date_fallback_columns"`
}

// Filter keeps rows whose field equals one of the values (folded compare).
type Filter struct {
	Field  string   `yaml:"field"`
	Equals []string `yaml:"equals"`
}

// SurchargeColumn turns a numeric column into a surcharge line.
type SurchargeColumn struct {
	Field string               `yaml:"field"`
	Type  domain.SurchargeType `yaml:"type"`
	Label string               `yaml:"label"`
}

// ChargePair is a (label, amount) column pair whose label is classified by
// text, as in DHL's XC1..XC5 extra charges.
type ChargePair struct {
	Label  string `yaml:"label"`
	Amount string `yaml:"amount"`
}

// Schema declares how one carrier's invoice is laid out. The generic parser
// consumes it; carriers differ only by data.
type Schema struct {
	Carrier           string            `yaml:"carrier"`
	Sheets            []string          `yaml:"sheets"`
	Delimiter         string            `yaml:"delimiter"`
	Layout            Layout            `yaml:"layout"`
	Columns           []sheet.Column    `yaml:"columns"`
	Required          []string          `yaml:"required"`
	TrackingPrefixes  []string          `yaml:"tracking_prefixes"`
	MinTrackingLength int               `yaml:"min_tracking_length"`
	TrackingPattern   string            `yaml:"tracking_pattern"`
	ColumnOffsets     []int             `yaml:"column_offsets"`
	Sections          *Sections         `yaml:"sections"`
	RequireDate       bool              `yaml:"require_date"`
	Filter            *Filter           `yaml:"filter"`
	DedupeBy          string            `yaml:"dedupe_by"`
	WeightUnit        string            `yaml:"weight_unit"`
	SurchargeColumns  []SurchargeColumn `yaml:"surcharge_columns"`
	ChargePairs       []ChargePair      `yaml:"charge_pairs"`
	IgnoreCharges     []string          `yaml:"ignore_charges"`
	ScanText          bool              `yaml:"scan_text"`

	// ReferenceCarrier keeps only reference rows shipped with this carrier.
	ReferenceCarrier string `yaml:"reference_carrier"`
}

// Validate checks the schema is usable by the parser.
func (s *Schema) Validate() error {
	if s.Carrier == "" {
		return fmt.Errorf("schema: carrier is required")
	}
	switch s.Layout {
	case LayoutTable:
		if !s.hasColumn(FieldTracking) {
			return fmt.Errorf("schema %s: no %q column", s.Carrier, FieldTracking)
		}
	case LayoutSections:
		if s.Sections == nil || len(s.Sections.DateLabels) == 0 || len(s.Sections.TrackingLabels) == 0 {
			return fmt.Errorf("schema %s: sections layout needs date and tracking labels", s.Carrier)
		}
	default:
		return fmt.Errorf("schema %s: unknown layout %q", s.Carrier, s.Layout)
	}
	if _, err := s.trackingPattern(); err != nil {
		return fmt.Errorf("schema %s: %w", s.Carrier, err)
	}
	if len([]rune(s.Delimiter)) > 1 {
		return fmt.Errorf("schema %s: delimiter must be one character", s.Carrier)
	}
	for _, sc := range s.SurchargeColumns {
		if !s.hasColumn(sc.Field) {
			return fmt.Errorf("schema %s: surcharge column %q is not declared", s.Carrier, sc.Field)
		}
	}
	return nil
}

func (s *Schema) hasColumn(field string) bool {
	for _, c := range s.Columns {
		if c.Field == field {
			return true
		}
	}
	return false
}

// defaultTrackingPattern rejects labels such as a "Total" footer: a tracking
// id holds at least one digit.
const defaultTrackingPattern = `[0-9]`

// trackingPattern compiles the pattern a tracking match key must satisfy.
func (s *Schema) trackingPattern() (*regexp.Regexp, error) {
	expr := s.TrackingPattern
	if expr == "" {
		expr = defaultTrackingPattern
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("tracking pattern %q: %w", expr, err)
	}
	return re, nil
}

func (s *Schema) delimiter() rune {
	if s.Delimiter == "" {
		return 0
	}
	return []rune(s.Delimiter)[0]
}

func (s *Schema) weightFactor() float64 {
	switch strings.ToLower(s.WeightUnit) {
	case "g", "gram", "grams":
		return 0.001
	default:
		return 1
	}
}

var chronopostPrefixes = []string{"XR", "XA", "XT", "2L", "6A", "LD", "MH"}

// Builtin returns the schemas of the supported carriers, keyed by name.
func Builtin() map[string]Schema {
	return map[string]Schema{
		"chronopost": {
			Carrier: "chronopost",
			Sheets:  []string{"Table 1"},
			Layout:  LayoutSections,
			Sections: &Sections{
				DateLabels:          []string{"date"},
				TrackingLabels:      []string{"objet"},
				ScanWidth:           10,
				DataOffset:          3,
				DateFallbackColumns: []int{1, 2},
			},
			Columns: []sheet.Column{
				{Field: FieldWeight, Synonyms: []string{"poids"}},
				{Field: FieldPrice, Synonyms: []string{"montant"}},
				{Field: FieldObservation, Synonyms: []string{"obs"}},
			},
			TrackingPrefixes:  chronopostPrefixes,
			MinTrackingLength: 10,
			ColumnOffsets:     []int{0, 1, 2, -1, -2},
			RequireDate:       true,
			ScanText:          true,
		},
		"colissimo": {
			Carrier:   "colissimo",
			Delimiter: ";",
			Layout:    LayoutTable,
			Columns: []sheet.Column{
				{Field: FieldTracking, Synonyms: []string{"Tracking", "Numéro de colis"}},
				{Field: FieldDate, Synonyms: []string{"Date PCH", "Date"}},
				{Field: FieldPostalCode, Synonyms: []string{"Code Postal", "CP"}},
				{Field: FieldCountry, Synonyms: []string{"Pays"}},
				{Field: FieldWeight, Synonyms: []string{"Poids facturé", "Poids"}},
				{Field: FieldPrice, Synonyms: []string{"Prix", "Prix HT"}},
				{Field: "service_fee", Synonyms: []string{"Majoration service", "Majoration"}},
				{Field: "product_code", Synonyms: []string{"Code produit"}},
			},
			Required:         []string{FieldTracking, "product_code"},
			TrackingPattern:  `^[0-9A-Z]{2}[0-9]{11}$`,
			Filter:           &Filter{Field: "product_code", Equals: []string{"8R"}},
			SurchargeColumns: []SurchargeColumn{{Field: "service_fee", Type: domain.SurchargeReturnProcessing, Label: "Majoration service"}},
		},
		"mondial_relay": {
			Carrier:   "mondial_relay",
			Delimiter: ";",
			Layout:    LayoutTable,
			Columns: []sheet.Column{
				{Field: FieldTracking, Synonyms: []string{"Tracking", "Numéro d'expédition", "Reférence client", "Référence client"}},
				{Field: FieldAltKey, Synonyms: []string{"Reférence client", "Référence client"}},
				{Field: FieldDate, Synonyms: []string{"Date PCH", "Date"}},
				{Field: FieldPostalCode, Synonyms: []string{"Code Postal", "CP"}},
				{Field: FieldWeight, Synonyms: []string{"Poids facturé", "Poids"}},
				{Field: FieldPrice, Synonyms: []string{"Prix"}},
				{Field: "service_fee", Synonyms: []string{"Majoration de service", "Majoration service", "Majoration"}},
			},
			Required:         []string{FieldTracking, FieldPrice},
			TrackingPattern:  `^[0-9]{8,12}$`,
			DedupeBy:         FieldAltKey,
			SurchargeColumns: []SurchargeColumn{{Field: "service_fee", Type: domain.SurchargeReturnProcessing, Label: "Majoration de service"}},
		},
		"dpd": {
			Carrier:          "dpd",
			Layout:           LayoutTable,
			ReferenceCarrier: "DPD",
			Columns: []sheet.Column{
				{Field: FieldTracking, Synonyms: []string{"DPD ID", "Parcel number"}},
				{Field: FieldDate, Synonyms: []string{"Date expédition", "Date"}},
				{Field: FieldPostalCode, Synonyms: []string{"CP destinataire", "Code postal"}},
				{Field: FieldCountry, Synonyms: []string{"Code pays destinataire", "Pays"}},
				{Field: FieldWeight, Synonyms: []string{"Poids", "Poids (kg)"}},
				{Field: FieldPrice, Synonyms: []string{"Prix transport", "Montant HT"}},
				{Field: "island_mountain", Synonyms: []string{"Supplément île et montagne"}},
				{Field: "return_shipping", Synonyms: []string{"Fact. Retour expédition"}},
			},
			Required:        []string{FieldTracking},
			TrackingPattern: `^[0-9]{13,14}$`,
			SurchargeColumns: []SurchargeColumn{
				{Field: "island_mountain", Type: domain.SurchargeRemoteArea, Label: "Supplément île et montagne"},
				{Field: "return_shipping", Type: domain.SurchargeSenderReturn, Label: "Retour expédition"},
			},
		},
		"dhl": {
			Carrier:   "dhl",
			Delimiter: ",",
			Layout:    LayoutTable,
			Columns: append([]sheet.Column{
				{Field: "line_type", Synonyms: []string{"Line Type"}},
				{Field: FieldTracking, Synonyms: []string{"Shipment Number"}},
				{Field: FieldDate, Synonyms: []string{"Shipment Date"}},
				{Field: FieldWeight, Synonyms: []string{"Weight (kg)"}},
				{Field: FieldCountry, Synonyms: []string{"Dest Country Code"}},
				{Field: FieldPostalCode, Synonyms: []string{"Dest Postcode", "Dest Post Code"}},
				{Field: FieldPrice, Synonyms: []string{"Weight Charge"}},
			}, dhlExtraCharges()...),
			Required:        []string{FieldTracking, "line_type"},
			TrackingPattern: `^[0-9]{10}$`,
			Filter:          &Filter{Field: "line_type", Equals: []string{"S"}},
			ChargePairs:     dhlChargePairs(),
			IgnoreCharges:   []string{"FUEL", "GOGREEN", "GO GREEN", "DEMAND", "CARBURANT", "EMERGENCY"},
		},
		"colis_prive": {
			Carrier:   "colis_prive",
			Delimiter: ";",
			Layout:    LayoutTable,
			Columns: []sheet.Column{
				{Field: FieldTracking, Synonyms: []string{"Tracking", "Numéro de colis"}},
				{Field: FieldDate, Synonyms: []string{"Date", "Date PCH"}},
				{Field: FieldPostalCode, Synonyms: []string{"Code Postal", "CP"}},
				{Field: FieldWeight, Synonyms: []string{"Poids facturé", "Poids"}},
				{Field: FieldPrice, Synonyms: []string{"Prix", "Montant HT"}},
				{Field: "service_fee", Synonyms: []string{"Majoration service"}},
			},
			Required:         []string{FieldTracking},
			TrackingPattern:  `^[A-Z]{0,2}[0-9]{10,}$`,
			SurchargeColumns: []SurchargeColumn{{Field: "service_fee", Type: domain.SurchargeReturnProcessing, Label: "Majoration service"}},
		},
	}
}

func dhlExtraCharges() []sheet.Column {
	var cols []sheet.Column
	for i := 1; i <= 5; i++ {
		cols = append(cols,
			sheet.Column{Field: fmt.Sprintf("xc%d_name", i), Synonyms: []string{fmt.Sprintf("XC%d Name", i)}},
			sheet.Column{Field: fmt.Sprintf("xc%d_charge", i), Synonyms: []string{fmt.Sprintf("XC%d Charge", i)}},
		)
	}
	return cols
}

func dhlChargePairs() []ChargePair {
	pairs := make([]ChargePair, 0, 5)
	for i := 1; i <= 5; i++ {
		pairs = append(pairs, ChargePair{Label: fmt.Sprintf("xc%d_name", i), Amount: fmt.Sprintf("xc%d_charge", i)})
	}
	return pairs
}

// Registry resolves carrier names to schemas.
type Registry struct {
	schemas map[string]Schema
}

// NewRegistry starts from the built-in schemas.
func NewRegistry() *Registry {
	return &Registry{schemas: Builtin()}
}

// LoadSchemas reads YAML overrides from path and merges them over the
// built-ins. A schema in the file replaces the built-in of the same carrier.
func LoadSchemas(path string) (*Registry, error) {
	reg := NewRegistry()
	if path == "" {
		return reg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schemas: %w", err)
	}
	var file struct {
		Carriers []Schema `yaml:"carriers"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse schemas: %w", err)
	}
	for _, s := range file.Carriers {
		if err := reg.Register(s); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (r *Registry) Register(s Schema) error {
	s.Carrier = strings.ToLower(strings.TrimSpace(s.Carrier))
	if err := s.Validate(); err != nil {
		return err
	}
	r.schemas[s.Carrier] = s
	return nil
}

func (r *Registry) Get(carrier string) (Schema, error) {
	s, ok := r.schemas[strings.ToLower(strings.TrimSpace(carrier))]
	if !ok {
		return Schema{}, fmt.Errorf("%w: %s", ErrUnknownCarrier, carrier)
	}
	return s, nil
}

// Carriers lists registered carrier names alphabetically.
func (r *Registry) Carriers() []string {
	out := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
