package main

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/greenlog/reconciler/internal/api"
	"github.com/greenlog/reconciler/internal/config"
	"github.com/greenlog/reconciler/internal/domain"
	"github.com/greenlog/reconciler/internal/ingestion"
	"github.com/greenlog/reconciler/internal/library"
	"github.com/greenlog/reconciler/internal/logger"
	"github.com/greenlog/reconciler/internal/reconciliation"
	"github.com/greenlog/reconciler/internal/repository"
	"github.com/greenlog/reconciler/internal/tariff"
)

func main() {
	cfg := config.LoadConfig()
	logger.InitLogger(cfg.LogLevel)
	log := logger.L

	log.Info("Initializing database", "path", cfg.DatabasePath)
	db, err := repository.InitDB(cfg.DatabasePath)
	if err != nil {
		log.Error("Failed to init DB", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Create repositories.
	blobs := repository.NewBlobRepo(db)
	runs := repository.NewRunRepo(db)
	refs := library.NewReferenceLibrary(blobs)
	archive := library.NewArchive(blobs)

	registry, err := ingestion.LoadSchemas(cfg.SchemaPath)
	if err != nil {
		log.Error("Failed to load carrier schemas", "path", cfg.SchemaPath, "error", err)
		os.Exit(1)
	}

	grid := tariff.Default()
	grid.Home = strings.ToUpper(cfg.HomeCountry)

	// Create services.
	svc := ingestion.NewService(registry, reconciliation.NewEngine(grid), refs, runs, archive, ingestion.Options{
		ReferenceWindow:             cfg.ReferenceWindow,
		PeriodWindowMonths:          cfg.PeriodWindowMonths,
		ReferencePeriodWindowMonths: cfg.ReferencePeriodWindowMonths,
		LookupWindow:                cfg.LookupWindow,
	})

	// Seed the reference library if it is empty.
	periods, err := refs.Periods()
	if err != nil {
		log.Error("Failed to list reference library", "error", err)
		os.Exit(1)
	}
	if len(periods) == 0 {
		log.Info("Reference library is empty, seeding from directory", "dir", cfg.SeedDir)
		if err := seedReferences(svc, cfg.SeedDir); err != nil {
			log.Warn("Failed to seed references", "error", err)
		}
	} else {
		log.Info("Reference library already populated, skipping seed", "periods", len(periods))
	}

	// Create router.
	router := api.NewRouter(api.Deps{
		Service:    svc,
		References: refs,
		Archive:    archive,
		Runs:       runs,
		MaxUpload:  cfg.MaxUploadSizeBytes,
		CacheTTL:   cfg.ResultCacheTTL,
	})

	log.Info("Carrier invoice reconciler",
		"addr", "http://localhost:"+cfg.Port,
		"api", "http://localhost:"+cfg.Port+"/api/v1",
		"carriers", registry.Carriers(),
	)

	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		log.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func seedReferences(svc *ingestion.Service, dir string) error {
	// Try the directory as given, then relative to the executable.
	candidates := []string{dir}
	if exe, err := os.Executable(); err == nil && !filepath.IsAbs(dir) {
		base := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(base, dir),
			filepath.Join(base, "..", "..", dir),
		)
	}

	var matches []string
	for _, c := range candidates {
		matches, _ = filepath.Glob(filepath.Join(c, "*.xls*"))
		if len(matches) > 0 {
			break
		}
	}
	if len(matches) == 0 {
		return errors.New("no reference exports found in " + dir)
	}

	seeded := 0
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.L.Warn("Skipping seed file", "path", path, "error", err)
			continue
		}
		entry, _, err := svc.AddReference(domain.File{Name: filepath.Base(path), Data: data}, nil)
		if err != nil {
			logger.L.Warn("Skipping seed file", "path", path, "error", err)
			continue
		}
		logger.L.Info("Seeded reference", "file", entry.Filename, "period", entry.Period.Key())
		seeded++
	}

	logger.L.Info("Seeded reference library", "files", seeded, "found", len(matches))
	return nil
}
