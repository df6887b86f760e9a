package ingestion

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/greenlog/reconciler/internal/domain"
	"github.com/greenlog/reconciler/internal/library"
	"github.com/greenlog/reconciler/internal/logger"
	"github.com/greenlog/reconciler/internal/period"
	"github.com/greenlog/reconciler/internal/reconciliation"
	"github.com/greenlog/reconciler/internal/reference"
)

// ReferenceLibrary supplies the stored partner exports.
type ReferenceLibrary interface {
	LoadRecent(n int) ([]domain.File, error)
	Save(name string, content []byte, p domain.Period) (*library.ReferenceEntry, error)
}

// RunStore persists run headlines and remembers ingested invoices.
type RunStore interface {
	FileExistsByHash(hash string) (bool, error)
	Insert(run *domain.Run, files []domain.InvoiceFile) error
}

type Archiver interface {
	Save(run library.ArchivedRun) (*library.ArchivedRun, error)
}

// InvoiceReport is the per-file outcome of a run.
type InvoiceReport struct {
	Name                 string   `json:"name"`
	Hash                 string   `json:"hash"`
	Sheet                string   `json:"sheet,omitempty"`
	Shipments            int      `json:"shipments"`
	Surcharges           int      `json:"surcharges"`
	RowsRead             int      `json:"rows_read"`
	RowsSkipped          int      `json:"rows_skipped"`
	RowsFiltered         int      `json:"rows_filtered"`
	Duplicates           int      `json:"duplicates"`
	PreviouslyReconciled bool     `json:"previously_reconciled"`
	SkippedDuplicate     bool     `json:"skipped_duplicate"`
	Warnings             []string `json:"warnings,omitempty"`
	Err                  string   `json:"error,omitempty"`
}

// RunResult is everything one reconciliation produced. It is returned even
// when later stages fail; their failures are recorded on it.
type RunResult struct {
	ID        string                 `json:"id"`
	Carrier   string                 `json:"carrier"`
	CreatedAt time.Time              `json:"created_at"`
	Invoices  []InvoiceReport        `json:"invoices"`
	Reference *reference.MergeResult `json:"reference"`
	Result    *reconciliation.Result `json:"result"`
	Detection *period.Detection      `json:"detection,omitempty"`
	PeriodErr string                 `json:"period_error,omitempty"`
	Archive   *library.ArchivedRun   `json:"archive,omitempty"`
	Warnings  []string               `json:"warnings,omitempty"`
}

// Period is the detected period, if any.
func (r *RunResult) Period() *domain.Period {
	if r.Detection == nil {
		return nil
	}
	p := r.Detection.Period
	return &p
}

// Options tune a Service. Zero values fall back to the defaults.
type Options struct {
	ReferenceWindow             int
	PeriodWindowMonths          int
	ReferencePeriodWindowMonths int
	// LookupWindow is how many reference periods a tracking lookup searches.
	LookupWindow int
}

// Service orchestrates a reconciliation run: parse, merge references,
// reconcile, detect the period, archive.
type Service struct {
	registry     *Registry
	parser       *Parser
	engine       *reconciliation.Engine
	refs         ReferenceLibrary
	runs         RunStore
	archive      Archiver
	window       int
	lookupWindow int
	runDetect    *period.Detector
	refDetect    *period.Detector
	now          func() time.Time
}

func NewService(
	registry *Registry,
	engine *reconciliation.Engine,
	refs ReferenceLibrary,
	runs RunStore,
	archive Archiver,
	opts Options,
) *Service {
	if opts.ReferenceWindow <= 0 {
		opts.ReferenceWindow = 3
	}
	if opts.PeriodWindowMonths <= 0 {
		opts.PeriodWindowMonths = 3
	}
	if opts.ReferencePeriodWindowMonths <= 0 {
		opts.ReferencePeriodWindowMonths = 2
	}
	if opts.LookupWindow <= 0 {
		opts.LookupWindow = 6
	}
	return &Service{
		registry:     registry,
		parser:       NewParser(),
		engine:       engine,
		refs:         refs,
		runs:         runs,
		archive:      archive,
		window:       opts.ReferenceWindow,
		lookupWindow: opts.LookupWindow,
		runDetect:    period.NewDetector(opts.PeriodWindowMonths),
		refDetect:    period.NewDetector(opts.ReferencePeriodWindowMonths),
		now:          time.Now,
	}
}

func (s *Service) Carriers() []string {
	return s.registry.Carriers()
}

// Reconcile runs the invoices of one carrier against the most recent
// reference exports. A file that fails to parse is reported and skipped;
// the run fails only when no invoice parsed at all.
func (s *Service) Reconcile(carrier string, invoices []domain.File) (*RunResult, error) {
	log := logger.Component("ingestion")

	if len(invoices) == 0 {
		return nil, ErrNoInvoices
	}
	schema, err := s.registry.Get(carrier)
	if err != nil {
		return nil, err
	}

	res := &RunResult{
		ID:        uuid.NewString(),
		Carrier:   schema.Carrier,
		CreatedAt: s.now().UTC(),
	}

	var shipments []domain.ShipmentRecord
	var surcharges []domain.SurchargeLine
	var ingested []domain.InvoiceFile
	batch := make(map[string]bool)

	for _, f := range invoices {
		rep := InvoiceReport{Name: f.Name, Hash: fmt.Sprintf("%x", sha256.Sum256(f.Data))}

		if batch[rep.Hash] {
			rep.SkippedDuplicate = true
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: same content uploaded twice, skipped", f.Name))
			res.Invoices = append(res.Invoices, rep)
			continue
		}
		batch[rep.Hash] = true

		if s.runs != nil {
			seen, err := s.runs.FileExistsByHash(rep.Hash)
			if err != nil {
				log.Warn("hash lookup failed", "file", f.Name, "error", err)
			}
			rep.PreviouslyReconciled = seen
		}

		parsed, err := s.parser.Parse(f.Data, schema, f.Name)
		if err != nil {
			log.Warn("invoice rejected", "file", f.Name, "error", err)
			rep.Err = err.Error()
			res.Invoices = append(res.Invoices, rep)
			continue
		}

		rep.Sheet = parsed.Sheet
		rep.Shipments = len(parsed.Shipments)
		rep.Surcharges = len(parsed.Surcharges)
		rep.RowsRead = parsed.RowsRead
		rep.RowsSkipped = parsed.RowsSkipped
		rep.RowsFiltered = parsed.RowsFiltered
		rep.Duplicates = parsed.Duplicates
		rep.Warnings = parsed.Warnings
		res.Invoices = append(res.Invoices, rep)

		shipments = append(shipments, parsed.Shipments...)
		surcharges = append(surcharges, parsed.Surcharges...)
		ingested = append(ingested, domain.InvoiceFile{
			Hash:       rep.Hash,
			Carrier:    schema.Carrier,
			Name:       f.Name,
			Shipments:  rep.Shipments,
			IngestedAt: res.CreatedAt,
		})
	}

	if len(ingested) == 0 {
		return res, ErrNoParsedInvoices
	}

	refs := s.loadReferences(res, schema)
	res.Result = s.engine.Reconcile(shipments, surcharges, refs)

	det, err := s.runDetect.Detect(res.Result.Lines)
	if err != nil {
		res.PeriodErr = err.Error()
		log.Warn("period detection failed", "run", res.ID, "error", err)
	} else {
		res.Detection = &det
		s.archiveRun(res)
	}

	s.recordRun(res, ingested)

	log.Info("run complete",
		"run", res.ID,
		"carrier", res.Carrier,
		"files", len(invoices),
		"shipments", len(shipments),
		"surcharges", len(surcharges),
		"period", periodKey(res.Period()),
	)
	return res, nil
}

// loadReferences merges the reference window. Any failure leaves the run in
// degraded mode with an empty set.
func (s *Service) loadReferences(res *RunResult, schema Schema) []domain.PartnerReferenceRecord {
	log := logger.Component("ingestion")

	if s.refs == nil {
		res.Warnings = append(res.Warnings, "no reference library configured, running degraded")
		return nil
	}
	files, err := s.refs.LoadRecent(s.window)
	if err != nil {
		log.Error("loading reference library failed", "error", err)
		res.Warnings = append(res.Warnings, fmt.Sprintf("reference library: %v", err))
		return nil
	}

	merged, err := reference.Merge(files, reference.Options{Carrier: schema.ReferenceCarrier})
	res.Reference = merged
	res.Warnings = append(res.Warnings, merged.Warnings...)
	switch {
	case errors.Is(err, reference.ErrNoReferenceFiles), errors.Is(err, reference.ErrNoReadableReference):
		log.Warn("no usable reference, running degraded", "error", err)
		res.Warnings = append(res.Warnings, "no usable reference export, every shipment is unmatched")
		return nil
	case err != nil:
		log.Error("reference merge failed", "error", err)
		res.Warnings = append(res.Warnings, fmt.Sprintf("reference merge: %v", err))
		return nil
	}
	return merged.Records
}

func (s *Service) archiveRun(res *RunResult) {
	if s.archive == nil {
		return
	}
	st := res.Result.Stats
	rate := 0.0
	if st.Lines > 0 {
		rate = float64(st.Matched) / float64(st.Lines) * 100
	}
	saved, err := s.archive.Save(library.ArchivedRun{
		RunID:     res.ID,
		Carrier:   res.Carrier,
		Period:    res.Detection.Period,
		Rows:      st.Lines,
		From:      res.Detection.From,
		To:        res.Detection.To,
		MatchRate: rate,
		ToRecover: st.ToRecover,
		Summaries: res.Result.Summaries,
	})
	if err != nil {
		logger.Component("ingestion").Warn("archiving failed", "run", res.ID, "error", err)
		res.Warnings = append(res.Warnings, fmt.Sprintf("archive: %v", err))
		return
	}
	res.Archive = saved
}

func (s *Service) recordRun(res *RunResult, files []domain.InvoiceFile) {
	if s.runs == nil {
		return
	}
	st := res.Result.Stats
	run := &domain.Run{
		ID:        res.ID,
		Carrier:   res.Carrier,
		Period:    res.Period(),
		FileCount: len(files),
		LineCount: st.Lines,
		Matched:   st.Matched,
		Unmatched: st.Unmatched,
		ToRecover: st.ToRecover,
		Degraded:  st.Degraded,
		CreatedAt: res.CreatedAt,
	}
	if err := s.runs.Insert(run, files); err != nil {
		logger.Component("ingestion").Warn("recording run failed", "run", res.ID, "error", err)
		res.Warnings = append(res.Warnings, fmt.Sprintf("run history: %v", err))
	}
}

// AddReference stores a partner export under its detected month, or under
// override when given.
func (s *Service) AddReference(f domain.File, override *domain.Period) (*library.ReferenceEntry, *period.Detection, error) {
	if s.refs == nil {
		return nil, nil, errors.New("no reference library configured")
	}

	var det *period.Detection
	p := override
	if p == nil {
		dates, err := reference.AnchorDates(f)
		if err != nil {
			return nil, nil, err
		}
		d, err := s.refDetect.DetectDates(dates)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", f.Name, ErrUndatedReference)
		}
		det = &d
		p = &d.Period
	}

	entry, err := s.refs.Save(f.Name, f.Data, *p)
	if err != nil {
		return nil, det, err
	}
	return entry, det, nil
}

func periodKey(p *domain.Period) string {
	if p == nil {
		return ""
	}
	return p.Key()
}
