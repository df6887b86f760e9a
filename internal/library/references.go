// Package library keeps uploaded partner exports and archived runs in a
// key-value store, one reference export per calendar month.
package library

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/greenlog/reconciler/internal/domain"
	"github.com/greenlog/reconciler/internal/logger"
	"github.com/greenlog/reconciler/internal/repository"
)

const referencePrefix = "reference/"

var ErrPeriodNotFound = errors.New("period not found")

type storedReference struct {
	Filename   string    `json:"filename"`
	Content    []byte    `json:"content"`
	Size       int       `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
	Year       int       `json:"year"`
	Month      int       `json:"month"`
}

// ReferenceEntry describes a stored export without its content.
type ReferenceEntry struct {
	Key        string        `json:"key"`
	Period     domain.Period `json:"period"`
	Label      string        `json:"label"`
	Filename   string        `json:"filename"`
	Size       int           `json:"size"`
	SizeHuman  string        `json:"size_human"`
	UploadedAt time.Time     `json:"uploaded_at"`
	Uploaded   string        `json:"uploaded"`
}

type ReferenceLibrary struct {
	store repository.Store
	now   func() time.Time
}

func NewReferenceLibrary(store repository.Store) *ReferenceLibrary {
	return &ReferenceLibrary{store: store, now: time.Now}
}

func referenceKey(p domain.Period) string {
	return referencePrefix + p.Key()
}

// Save stores content as the export of period, replacing any previous one.
func (l *ReferenceLibrary) Save(name string, content []byte, period domain.Period) (*ReferenceEntry, error) {
	rec := storedReference{
		Filename:   name,
		Content:    content,
		Size:       len(content),
		UploadedAt: l.now().UTC(),
		Year:       period.Year,
		Month:      int(period.Month),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode reference %s: %w", name, err)
	}
	if err := l.store.Put(referenceKey(period), raw); err != nil {
		return nil, fmt.Errorf("store reference %s: %w", name, err)
	}

	logger.Component("library").Info("reference saved",
		"file", name, "period", period.Key(), "size", humanize.Bytes(uint64(rec.Size)))
	return l.entry(referenceKey(period), rec), nil
}

// Periods lists stored exports, newest month first.
func (l *ReferenceLibrary) Periods() ([]ReferenceEntry, error) {
	recs, err := l.all()
	if err != nil {
		return nil, err
	}
	out := make([]ReferenceEntry, 0, len(recs))
	for key, rec := range recs {
		out = append(out, *l.entry(key, rec))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[j].Period.Before(out[i].Period)
	})
	return out, nil
}

// LoadRecent returns the n most recent exports, newest first. This is the
// reference window of a reconciliation.
func (l *ReferenceLibrary) LoadRecent(n int) ([]domain.File, error) {
	entries, err := l.Periods()
	if err != nil {
		return nil, err
	}
	if n >= 0 && len(entries) > n {
		entries = entries[:n]
	}

	files := make([]domain.File, 0, len(entries))
	for _, e := range entries {
		rec, ok, err := l.get(e.Key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		files = append(files, domain.File{Name: rec.Filename, Data: rec.Content})
	}
	return files, nil
}

func (l *ReferenceLibrary) Delete(period domain.Period) error {
	existed, err := l.store.Delete(referenceKey(period))
	if err != nil {
		return fmt.Errorf("delete reference %s: %w", period.Key(), err)
	}
	if !existed {
		return fmt.Errorf("%w: %s", ErrPeriodNotFound, period.Key())
	}
	return nil
}

func (l *ReferenceLibrary) all() (map[string]storedReference, error) {
	keys, err := l.store.Keys(referencePrefix)
	if err != nil {
		return nil, fmt.Errorf("list references: %w", err)
	}
	out := make(map[string]storedReference, len(keys))
	for _, key := range keys {
		rec, ok, err := l.get(key)
		if err != nil {
			// one corrupt entry must not hide the others
			logger.Component("library").Warn("skipping unreadable reference", "key", key, "error", err)
			continue
		}
		if ok {
			out[key] = rec
		}
	}
	return out, nil
}

func (l *ReferenceLibrary) get(key string) (storedReference, bool, error) {
	raw, ok, err := l.store.Get(key)
	if err != nil || !ok {
		return storedReference{}, ok, err
	}
	var rec storedReference
	if err := json.Unmarshal(raw, &rec); err != nil {
		return storedReference{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return rec, true, nil
}

func (l *ReferenceLibrary) entry(key string, rec storedReference) *ReferenceEntry {
	p := domain.Period{Year: rec.Year, Month: time.Month(rec.Month)}
	if parsed, err := domain.ParsePeriodKey(strings.TrimPrefix(key, referencePrefix)); err == nil {
		p = parsed
	}
	return &ReferenceEntry{
		Key:        key,
		Period:     p,
		Label:      monthLabel(p),
		Filename:   rec.Filename,
		Size:       rec.Size,
		SizeHuman:  humanize.Bytes(uint64(rec.Size)),
		UploadedAt: rec.UploadedAt,
		Uploaded:   humanize.RelTime(rec.UploadedAt, l.now(), "ago", "from now"),
	}
}

var monthNames = [...]string{
	"Janvier", "Février", "Mars", "Avril", "Mai", "Juin",
	"Juillet", "Août", "Septembre", "Octobre", "Novembre", "Décembre",
}

func monthLabel(p domain.Period) string {
	if p.Month < time.January || p.Month > time.December {
		return p.Key()
	}
	return fmt.Sprintf("%s %d", monthNames[p.Month-1], p.Year)
}
