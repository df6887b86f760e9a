package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/patrickmn/go-cache"

	"github.com/greenlog/reconciler/internal/ingestion"
	"github.com/greenlog/reconciler/internal/library"
	"github.com/greenlog/reconciler/internal/repository"
)

// Deps are the services the HTTP layer sits on.
type Deps struct {
	Service    *ingestion.Service
	References *library.ReferenceLibrary
	Archive    *library.Archive
	Runs       *repository.RunRepo
	MaxUpload  int64
	CacheTTL   time.Duration
}

// NewRouter creates the Chi router with all API routes mounted.
func NewRouter(d Deps) http.Handler {
	if d.MaxUpload <= 0 {
		d.MaxUpload = 32 << 20
	}
	if d.CacheTTL <= 0 {
		d.CacheTTL = 15 * time.Minute
	}
	h := &Handlers{
		svc:       d.Service,
		refs:      d.References,
		archive:   d.Archive,
		runs:      d.Runs,
		results:   cache.New(d.CacheTTL, 2*d.CacheTTL),
		maxUpload: d.MaxUpload,
	}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	r.Route("/api/v1", func(r chi.Router) {
		// Carriers and reconciliation.
		r.Get("/carriers", h.ListCarriers)
		r.Post("/carriers/{carrier}/reconcile", h.Reconcile)

		// Runs.
		r.Get("/runs", h.ListRuns)
		r.Get("/runs/{id}", h.GetRun)
		r.Get("/runs/{id}/export", h.ExportRun)

		// Reference library.
		r.Post("/references", h.UploadReference)
		r.Get("/references", h.ListReferences)
		r.Delete("/references/{period}", h.DeleteReference)

		// Archive.
		r.Get("/archives", h.ListArchives)
		r.Get("/archives/{carrier}/{period}", h.GetArchive)
		r.Delete("/archives/{carrier}/{period}", h.DeleteArchive)
		r.Get("/consolidated/{period}", h.GetConsolidated)
		r.Get("/consolidated/{period}/export", h.ExportConsolidated)

		// Compensation claims.
		r.Get("/tracking/{tracking}", h.LookupTracking)
	})

	return r
}
