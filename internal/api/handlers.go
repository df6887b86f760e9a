package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/patrickmn/go-cache"

	"github.com/greenlog/reconciler/internal/domain"
	"github.com/greenlog/reconciler/internal/ingestion"
	"github.com/greenlog/reconciler/internal/library"
	"github.com/greenlog/reconciler/internal/logger"
	"github.com/greenlog/reconciler/internal/reference"
	"github.com/greenlog/reconciler/internal/report"
	"github.com/greenlog/reconciler/internal/repository"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	svc       *ingestion.Service
	refs      *library.ReferenceLibrary
	archive   *library.Archive
	runs      *repository.RunRepo
	results   *cache.Cache
	maxUpload int64
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Component("api").Error("encode error", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse("2006-01-02", s)
		if err != nil {
			return nil
		}
	}
	return &t
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return def
	}
	return v
}

func readUpload(fh *multipart.FileHeader) (domain.File, error) {
	f, err := fh.Open()
	if err != nil {
		return domain.File{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return domain.File{}, err
	}
	return domain.File{Name: fh.Filename, Data: data}, nil
}

func (h *Handlers) cachedRun(id string) (*ingestion.RunResult, bool) {
	v, ok := h.results.Get(id)
	if !ok {
		return nil, false
	}
	res, ok := v.(*ingestion.RunResult)
	return res, ok
}

// --- carriers ---

func (h *Handlers) ListCarriers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"carriers": h.svc.Carriers()})
}

// --- Reconcile ---

func (h *Handlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	var invoices []domain.File
	for _, fh := range r.MultipartForm.File["files"] {
		f, err := readUpload(fh)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "read file: "+err.Error())
			return
		}
		invoices = append(invoices, f)
	}

	res, err := h.svc.Reconcile(chi.URLParam(r, "carrier"), invoices)
	switch {
	case errors.Is(err, ingestion.ErrUnknownCarrier):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, ingestion.ErrNoInvoices):
		writeError(w, http.StatusBadRequest, "files field is required")
		return
	case errors.Is(err, ingestion.ErrNoParsedInvoices):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":    err.Error(),
			"invoices": res.Invoices,
		})
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.results.Set(res.ID, res, cache.DefaultExpiration)
	writeJSON(w, http.StatusOK, res)
}

// --- runs ---

func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.RunFilter{
		Carrier: q.Get("carrier"),
		Period:  q.Get("period"),
		From:    parseTime(q.Get("from")),
		To:      parseTime(q.Get("to")),
		Page:    parseIntDefault(q.Get("page"), 1),
		Limit:   parseIntDefault(q.Get("limit"), 50),
	}

	runs, total, err := h.runs.List(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"total": total,
		"page":  filter.Page,
		"limit": filter.Limit,
	})
}

// GetRun serves the full result while it is cached, and the stored headline
// afterwards.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if res, ok := h.cachedRun(id); ok {
		writeJSON(w, http.StatusOK, res)
		return
	}

	run, err := h.runs.GetByID(id)
	if errors.Is(err, repository.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	files, err := h.runs.Files(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run":            run,
		"files":          files,
		"detail_expired": true,
	})
}

func (h *Handlers) ExportRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, ok := h.cachedRun(id)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found or expired")
		return
	}

	q := r.URL.Query()
	opts := report.Options{Partner: q.Get("partner")}
	opts.OverchargedOnly, _ = strconv.ParseBool(q.Get("overcharged"))

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="reconciliation_%s_%s.xlsx"`, res.Carrier, res.CreatedAt.Format("20060102_150405")))
	if err := report.WriteXLSX(res.Result, opts, w); err != nil {
		logger.Component("api").Error("export failed", "run", id, "error", err)
	}
}

// --- references ---

func (h *Handlers) UploadReference(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	fhs := r.MultipartForm.File["file"]
	if len(fhs) == 0 {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	f, err := readUpload(fhs[0])
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read file: "+err.Error())
		return
	}

	var override *domain.Period
	if v := r.FormValue("period"); v != "" {
		p, err := domain.ParsePeriodKey(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		override = &p
	}

	entry, det, err := h.svc.AddReference(f, override)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"reference": entry,
		"detection": det,
	})
}

func (h *Handlers) ListReferences(w http.ResponseWriter, r *http.Request) {
	entries, err := h.refs.Periods()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"references": entries})
}

func (h *Handlers) DeleteReference(w http.ResponseWriter, r *http.Request) {
	p, err := domain.ParsePeriodKey(chi.URLParam(r, "period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = h.refs.Delete(p)
	if errors.Is(err, library.ErrPeriodNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- archives ---

func (h *Handlers) ListArchives(w http.ResponseWriter, r *http.Request) {
	list, err := h.archive.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": list})
}

func (h *Handlers) GetArchive(w http.ResponseWriter, r *http.Request) {
	p, err := domain.ParsePeriodKey(chi.URLParam(r, "period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := h.archive.Get(chi.URLParam(r, "carrier"), p)
	if errors.Is(err, library.ErrArchiveNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *Handlers) DeleteArchive(w http.ResponseWriter, r *http.Request) {
	p, err := domain.ParsePeriodKey(chi.URLParam(r, "period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = h.archive.Delete(chi.URLParam(r, "carrier"), p)
	if errors.Is(err, library.ErrArchiveNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) consolidation(w http.ResponseWriter, r *http.Request) (*library.Consolidation, bool) {
	p, err := domain.ParsePeriodKey(chi.URLParam(r, "period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	c, err := h.archive.Consolidate(p)
	if errors.Is(err, library.ErrArchiveNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return c, true
}

// GetConsolidated is the cross-carrier rebilling view of one period.
func (h *Handlers) GetConsolidated(w http.ResponseWriter, r *http.Request) {
	if c, ok := h.consolidation(w, r); ok {
		writeJSON(w, http.StatusOK, c)
	}
}

func (h *Handlers) ExportConsolidated(w http.ResponseWriter, r *http.Request) {
	c, ok := h.consolidation(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="refacturation_%s.xlsx"`, c.Period.Key()))
	if err := report.WriteConsolidatedXLSX(c, w); err != nil {
		logger.Component("api").Error("consolidated export failed", "period", c.Period.Key(), "error", err)
	}
}

// --- tracking ---

func (h *Handlers) LookupTracking(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.LookupTracking(chi.URLParam(r, "tracking"))
	switch {
	case errors.Is(err, ingestion.ErrTrackingNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, reference.ErrNoReferenceFiles), errors.Is(err, reference.ErrNoReadableReference):
		writeError(w, http.StatusNotFound, "no reference export available: "+err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}
