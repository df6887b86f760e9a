package ingestion

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/greenlog/reconciler/internal/domain"
	"github.com/greenlog/reconciler/internal/normalize"
	"github.com/greenlog/reconciler/internal/sheet"
)

// headerSearchRows bounds how far down a table-layout file the header row
// may sit.
const headerSearchRows = 20

// ParseResult is the outcome of parsing one invoice file.
type ParseResult struct {
	File         string                  `json:"file"`
	Carrier      string                  `json:"carrier"`
	Sheet        string                  `json:"sheet,omitempty"`
	Shipments    []domain.ShipmentRecord `json:"shipments"`
	Surcharges   []domain.SurchargeLine  `json:"surcharges"`
	RowsRead     int                     `json:"rows_read"`
	RowsSkipped  int                     `json:"rows_skipped"`
	RowsFiltered int                     `json:"rows_filtered"`
	Duplicates   int                     `json:"duplicates"`
	Warnings     []string                `json:"warnings,omitempty"`
}

// Parser turns carrier invoices into shipment records following a Schema.
type Parser struct {
	Rules []Rule
}

func NewParser() *Parser {
	return &Parser{Rules: DefaultRules}
}

// Parse reads one invoice. Rows without a recognizable tracking id are
// dropped and counted; only a structurally unusable file returns an error.
func (p *Parser) Parse(data []byte, schema Schema, file string) (*ParseResult, error) {
	pattern, err := schema.trackingPattern()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	tbl, err := sheet.Read(data, sheet.Options{SheetHints: schema.Sheets, Delimiter: schema.delimiter()})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}

	run := &parseRun{
		schema:     schema,
		classifier: &Classifier{Rules: p.Rules, Ignore: NewClassifier(schema.IgnoreCharges).Ignore},
		pattern:    pattern,
		tbl:        tbl,
		res:        &ParseResult{File: file, Carrier: schema.Carrier, Sheet: tbl.Sheet},
		seen:       make(map[string]bool),
	}
	switch schema.Layout {
	case LayoutSections:
		err = run.sections()
	default:
		err = run.table()
	}
	if err != nil {
		return nil, err
	}
	return run.res, nil
}

type parseRun struct {
	schema     Schema
	classifier *Classifier
	pattern    *regexp.Regexp
	tbl        *sheet.Table
	res        *ParseResult
	seen       map[string]bool
	current    string
}

// rowContext is where the interesting fields of one block sit.
type rowContext struct {
	cols     map[string]int
	trackCol int
	dateCol  int
	fallback []int
}

func (c rowContext) col(field string) (int, bool) {
	i, ok := c.cols[field]
	return i, ok
}

func (r *parseRun) table() error {
	required := r.schema.Required
	if len(required) == 0 {
		required = []string{FieldTracking}
	}

	headerRow, cols, missing := -1, map[string]int(nil), required
	for i := 0; i < len(r.tbl.Rows) && i < headerSearchRows; i++ {
		found := sheet.ResolveColumns(r.tbl.Rows[i], r.schema.Columns)
		m := missingFields(found, required)
		if len(m) == 0 {
			headerRow, cols = i, found
			break
		}
		if len(m) < len(missing) {
			missing = m
		}
	}
	if headerRow < 0 {
		return &MissingColumnsError{File: r.res.File, Fields: missing}
	}
	for _, f := range []string{FieldPrice, FieldWeight, FieldDate} {
		if _, ok := cols[f]; !ok && r.schema.hasColumn(f) {
			r.res.Warnings = append(r.res.Warnings, fmt.Sprintf("no %s column, values left empty", f))
		}
	}

	ctx := rowContext{cols: cols, trackCol: cols[FieldTracking], dateCol: -1}
	if i, ok := cols[FieldDate]; ok {
		ctx.dateCol = i
	}
	for i := headerRow + 1; i < len(r.tbl.Rows); i++ {
		r.row(i, ctx)
	}
	return nil
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

func (r *parseRun) sections() error {
	sec := r.schema.Sections
	width := sec.ScanWidth
	if width <= 0 {
		width = 10
	}

	var headers []int
	for i := range r.tbl.Rows {
		if _, _, ok := r.sectionHeader(i, width); ok {
			headers = append(headers, i)
		}
	}
	if len(headers) == 0 {
		return &MissingColumnsError{File: r.res.File, Fields: []string{FieldDate, FieldTracking}}
	}

	for n, h := range headers {
		end := len(r.tbl.Rows)
		if n+1 < len(headers) {
			end = headers[n+1]
		}
		dateCol, trackCol, _ := r.sectionHeader(h, width)
		ctx := rowContext{
			cols:     sheet.ResolveColumns(r.tbl.Rows[h], r.schema.Columns),
			trackCol: trackCol,
			dateCol:  dateCol,
			fallback: sec.DateFallbackColumns,
		}
		for i := h + sec.DataOffset; i < end; i++ {
			if i <= h {
				continue
			}
			r.row(i, ctx)
		}
	}
	return nil
}

// sectionHeader reports whether row i opens a section, with the date and
// tracking column positions.
func (r *parseRun) sectionHeader(i, width int) (dateCol, trackCol int, ok bool) {
	dateCol, trackCol = -1, -1
	row := r.tbl.Rows[i]
	for j := 0; j < len(row) && j < width; j++ {
		label := normalize.Header(row[j])
		if label == "" {
			continue
		}
		if dateCol < 0 && containsFolded(r.schema.Sections.DateLabels, label, false) {
			dateCol = j
		}
		if trackCol < 0 && containsFolded(r.schema.Sections.TrackingLabels, label, true) {
			trackCol = j
		}
	}
	return dateCol, trackCol, dateCol >= 0 && trackCol >= 0
}

func containsFolded(labels []string, label string, substring bool) bool {
	for _, l := range labels {
		want := normalize.Header(l)
		if label == want || (substring && strings.Contains(label, want)) {
			return true
		}
	}
	return false
}

// row turns one data row into a shipment, a surcharge line, or nothing.
func (r *parseRun) row(i int, ctx rowContext) {
	cells := r.tbl.Rows[i]
	if blank(cells) {
		return
	}
	r.res.RowsRead++

	if f := r.schema.Filter; f != nil {
		col, ok := ctx.col(f.Field)
		if !ok || !equalsFolded(f.Equals, r.tbl.Cell(i, col)) {
			r.res.RowsFiltered++
			return
		}
	}

	tracking, trackCol := r.trackingAt(i, ctx.trackCol)
	if tracking == "" {
		if !r.scanSurcharge(i, ctx, -1, r.current, nil) {
			r.res.RowsSkipped++
		}
		return
	}

	date := r.dateAt(i, ctx)
	if r.schema.RequireDate && date == nil {
		r.res.RowsSkipped++
		return
	}

	altKey := ""
	if col, ok := ctx.col(FieldAltKey); ok {
		altKey = normalize.Tracking(r.tbl.Cell(i, col))
	}
	if r.schema.DedupeBy != "" {
		key := normalize.MatchKey(tracking)
		if r.schema.DedupeBy == FieldAltKey && altKey != "" {
			key = normalize.MatchKey(altKey)
		}
		if r.seen[key] {
			r.res.Duplicates++
			return
		}
		r.seen[key] = true
	}
	r.current = tracking

	rec := domain.ShipmentRecord{
		Carrier:     r.schema.Carrier,
		TrackingID:  tracking,
		InvoiceDate: date,
		SourceFile:  r.res.File,
		SourceRow:   i + 1,
	}
	if altKey != "" && normalize.MatchKey(altKey) != normalize.MatchKey(tracking) {
		rec.AltKeys = []string{altKey}
	}
	if col, ok := ctx.col(FieldWeight); ok {
		if w := normalize.Float(r.tbl.Cell(i, col)); w != nil {
			kg := *w * r.schema.weightFactor()
			rec.WeightKg = &kg
		}
	}
	if col, ok := ctx.col(FieldCountry); ok {
		rec.DestinationCountry = normalize.Country(r.tbl.Cell(i, col))
	}
	if col, ok := ctx.col(FieldPostalCode); ok {
		rec.DestinationPostalCode = normalize.PostalCode(r.tbl.Cell(i, col))
	}
	if col, ok := ctx.col(FieldPrice); ok {
		rec.BilledPrice = normalize.Numeric(r.tbl.Cell(i, col))
	}
	rec.RawFields = r.rawFields(i, ctx)
	r.res.Shipments = append(r.res.Shipments, rec)

	r.columnSurcharges(i, ctx, tracking, date)
	r.chargePairs(i, ctx, tracking, date)
	exclude := map[int]bool{trackCol: true}
	if col, ok := ctx.col(FieldPrice); ok {
		exclude[col] = true
	}
	r.scanSurcharge(i, ctx, trackCol, tracking, exclude)
}

// trackingAt looks for an acceptable tracking id at col, then at the
// configured neighbouring offsets.
func (r *parseRun) trackingAt(i, col int) (string, int) {
	if col < 0 {
		return "", -1
	}
	offsets := r.schema.ColumnOffsets
	if len(offsets) == 0 {
		offsets = []int{0}
	}
	for _, off := range offsets {
		c := col + off
		if c < 0 {
			continue
		}
		v := normalize.Tracking(r.tbl.Cell(i, c))
		if r.acceptTracking(v) {
			return v, c
		}
	}
	return "", -1
}

func (r *parseRun) acceptTracking(v string) bool {
	if v == "" {
		return false
	}
	if r.schema.MinTrackingLength > 0 && len(v) <= r.schema.MinTrackingLength {
		return false
	}
	if !r.pattern.MatchString(normalize.MatchKey(v)) {
		return false
	}
	if len(r.schema.TrackingPrefixes) == 0 {
		return true
	}
	up := strings.ToUpper(v)
	for _, p := range r.schema.TrackingPrefixes {
		if strings.HasPrefix(up, strings.ToUpper(p)) {
			return true
		}
	}
	return false
}

func (r *parseRun) dateAt(i int, ctx rowContext) *time.Time {
	if ctx.dateCol >= 0 {
		if v := r.tbl.Cell(i, ctx.dateCol); v != "" {
			return normalize.Date(v)
		}
	}
	for _, c := range ctx.fallback {
		if v := r.tbl.Cell(i, c); v != "" {
			return normalize.Date(v)
		}
	}
	return nil
}

var coreFields = map[string]bool{
	FieldTracking: true, FieldAltKey: true, FieldDate: true, FieldWeight: true,
	FieldCountry: true, FieldPostalCode: true, FieldPrice: true,
}

func (r *parseRun) rawFields(i int, ctx rowContext) map[string]string {
	var raw map[string]string
	for field, col := range ctx.cols {
		if coreFields[field] {
			continue
		}
		if v := r.tbl.Cell(i, col); v != "" {
			if raw == nil {
				raw = make(map[string]string)
			}
			raw[field] = v
		}
	}
	return raw
}

func (r *parseRun) columnSurcharges(i int, ctx rowContext, tracking string, date *time.Time) {
	for _, sc := range r.schema.SurchargeColumns {
		col, ok := ctx.col(sc.Field)
		if !ok {
			continue
		}
		amt := normalize.Numeric(r.tbl.Cell(i, col))
		if !amt.Valid || !amt.Decimal.IsPositive() {
			continue
		}
		r.addSurcharge(i, tracking, sc.Type, sc.Label, amt.Decimal, date)
	}
}

func (r *parseRun) chargePairs(i int, ctx rowContext, tracking string, date *time.Time) {
	for _, cp := range r.schema.ChargePairs {
		lcol, lok := ctx.col(cp.Label)
		acol, aok := ctx.col(cp.Amount)
		if !lok || !aok {
			continue
		}
		amt := normalize.Numeric(r.tbl.Cell(i, acol))
		if !amt.Valid || !amt.Decimal.IsPositive() {
			continue
		}
		label := r.tbl.Cell(i, lcol)
		t, ok := r.classifier.ClassifyCharge(label)
		if !ok {
			continue
		}
		r.addSurcharge(i, tracking, t, label, amt.Decimal, date)
	}
}

// scanSurcharge classifies the free text of a row. The amount is the first
// plausible numeric cell outside the identifying columns. It reports whether
// a surcharge line was recorded.
func (r *parseRun) scanSurcharge(i int, ctx rowContext, trackCol int, owner string, exclude map[int]bool) bool {
	if !r.schema.ScanText || owner == "" {
		return false
	}
	cells := r.tbl.Rows[i]
	skip := map[int]bool{trackCol: true, ctx.dateCol: true}
	if col, ok := ctx.col(FieldWeight); ok {
		skip[col] = true
	}
	for c := range exclude {
		skip[c] = true
	}

	var words []string
	var values []decimal.Decimal
	var floats []float64
	for c, v := range cells {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		n := normalize.Numeric(v)
		if !n.Valid {
			words = append(words, v)
			continue
		}
		if skip[c] {
			continue
		}
		values = append(values, n.Decimal)
		floats = append(floats, n.Decimal.InexactFloat64())
	}
	if len(words) == 0 {
		return false
	}

	label := strings.Join(words, " ")
	t, ok := r.classifier.Classify(label, floats)
	if !ok {
		return false
	}
	amount, ok := firstAmount(values)
	if !ok {
		return false
	}
	r.addSurcharge(i, owner, t, label, amount, r.dateAt(i, ctx))
	return true
}

func (r *parseRun) addSurcharge(i int, tracking string, t domain.SurchargeType, label string, amount decimal.Decimal, date *time.Time) {
	r.res.Surcharges = append(r.res.Surcharges, domain.SurchargeLine{
		TrackingID: tracking,
		Type:       t,
		Label:      label,
		Amount:     amount,
		Date:       date,
		SourceFile: r.res.File,
		SourceRow:  i + 1,
	})
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func equalsFolded(values []string, cell string) bool {
	got := normalize.Fold(strings.TrimSpace(cell))
	for _, v := range values {
		if normalize.Fold(v) == got {
			return true
		}
	}
	return false
}
