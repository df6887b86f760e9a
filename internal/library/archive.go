package library

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/greenlog/reconciler/internal/domain"
	"github.com/greenlog/reconciler/internal/logger"
	"github.com/greenlog/reconciler/internal/repository"
)

const archivePrefix = "archive/"

// MaxArchivedRuns is how many runs are kept per carrier and period.
const MaxArchivedRuns = 3

// maxPartners caps the partner names kept on an archived run.
const maxPartners = 10

var ErrArchiveNotFound = errors.New("archive not found")

// ArchivedRun is a snapshot of a reconciliation, filed under the detected
// period.
type ArchivedRun struct {
	ID         string                  `json:"id"`
	RunID      string                  `json:"run_id"`
	Carrier    string                  `json:"carrier"`
	Period     domain.Period           `json:"period"`
	AnalyzedAt time.Time               `json:"analyzed_at"`
	Rows       int                     `json:"rows"`
	Partners   []string                `json:"partners"`
	From       time.Time               `json:"from"`
	To         time.Time               `json:"to"`
	MatchRate  float64                 `json:"match_rate"`
	ToRecover  decimal.Decimal         `json:"to_recover"`
	Summaries  []domain.PartnerSummary `json:"summaries"`
}

// ArchiveSummary is one carrier/period slot of the archive.
type ArchiveSummary struct {
	Carrier string        `json:"carrier"`
	Period  domain.Period `json:"period"`
	Runs    int           `json:"runs"`
	Latest  time.Time     `json:"latest"`
}

type Archive struct {
	store repository.Store
	now   func() time.Time
}

func NewArchive(store repository.Store) *Archive {
	return &Archive{store: store, now: time.Now}
}

func archiveKey(carrier string, p domain.Period) string {
	return archivePrefix + strings.ToLower(carrier) + "/" + p.Key()
}

// Save files run first in its slot and keeps the MaxArchivedRuns most
// recent ones. It fills ID, AnalyzedAt and Partners when unset.
func (a *Archive) Save(run ArchivedRun) (*ArchivedRun, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.AnalyzedAt.IsZero() {
		run.AnalyzedAt = a.now().UTC()
	}
	run.Carrier = strings.ToLower(run.Carrier)
	if run.Partners == nil {
		run.Partners = partnersOf(run.Summaries)
	}

	key := archiveKey(run.Carrier, run.Period)
	runs, err := a.load(key)
	if err != nil {
		return nil, err
	}
	runs = append([]ArchivedRun{run}, runs...)
	if len(runs) > MaxArchivedRuns {
		runs = runs[:MaxArchivedRuns]
	}

	raw, err := json.Marshal(runs)
	if err != nil {
		return nil, fmt.Errorf("encode archive %s: %w", key, err)
	}
	if err := a.store.Put(key, raw); err != nil {
		return nil, fmt.Errorf("store archive %s: %w", key, err)
	}

	logger.Component("library").Info("run archived", "carrier", run.Carrier, "period", run.Period.Key(), "id", run.ID)
	return &run, nil
}

// Get returns the runs of one slot, newest first.
func (a *Archive) Get(carrier string, p domain.Period) ([]ArchivedRun, error) {
	runs, err := a.load(archiveKey(carrier, p))
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrArchiveNotFound, carrier, p.Key())
	}
	return runs, nil
}

// List summarises every slot, newest period first, then by carrier.
func (a *Archive) List() ([]ArchiveSummary, error) {
	keys, err := a.store.Keys(archivePrefix)
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}

	var out []ArchiveSummary
	for _, key := range keys {
		parts := strings.Split(strings.TrimPrefix(key, archivePrefix), "/")
		if len(parts) != 2 {
			continue
		}
		p, err := domain.ParsePeriodKey(parts[1])
		if err != nil {
			continue
		}
		runs, err := a.load(key)
		if err != nil {
			logger.Component("library").Warn("skipping unreadable archive", "key", key, "error", err)
			continue
		}
		if len(runs) == 0 {
			continue
		}
		out = append(out, ArchiveSummary{Carrier: parts[0], Period: p, Runs: len(runs), Latest: runs[0].AnalyzedAt})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Period != out[j].Period {
			return out[j].Period.Before(out[i].Period)
		}
		return out[i].Carrier < out[j].Carrier
	})
	return out, nil
}

func (a *Archive) Delete(carrier string, p domain.Period) error {
	existed, err := a.store.Delete(archiveKey(carrier, p))
	if err != nil {
		return fmt.Errorf("delete archive: %w", err)
	}
	if !existed {
		return fmt.Errorf("%w: %s %s", ErrArchiveNotFound, carrier, p.Key())
	}
	return nil
}

func (a *Archive) load(key string) ([]ArchivedRun, error) {
	raw, ok, err := a.store.Get(key)
	if err != nil {
		return nil, fmt.Errorf("read archive %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	var runs []ArchivedRun
	if err := json.Unmarshal(raw, &runs); err != nil {
		return nil, fmt.Errorf("decode archive %s: %w", key, err)
	}
	return runs, nil
}

func partnersOf(summaries []domain.PartnerSummary) []string {
	var out []string
	for _, s := range summaries {
		if s.PartnerName == domain.Unmatched {
			continue
		}
		out = append(out, s.PartnerName)
		if len(out) == maxPartners {
			break
		}
	}
	return out
}
