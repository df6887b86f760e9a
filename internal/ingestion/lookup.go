package ingestion

import (
	"errors"
	"fmt"

	"github.com/greenlog/reconciler/internal/domain"
	"github.com/greenlog/reconciler/internal/logger"
	"github.com/greenlog/reconciler/internal/matching"
	"github.com/greenlog/reconciler/internal/normalize"
	"github.com/greenlog/reconciler/internal/reference"
)

var ErrTrackingNotFound = errors.New("tracking not found in the reference library")

// TrackingLookup identifies the partner order behind a tracking id, as
// needed to file or forward a carrier compensation claim.
type TrackingLookup struct {
	Tracking  string                         `json:"tracking"`
	Match     domain.MatchResult             `json:"match"`
	Reference *domain.PartnerReferenceRecord `json:"reference"`
	Files     int                            `json:"searched_files"`
}

// LookupTracking searches the lookup window of reference exports for one
// tracking id. Only the tracking tiers apply: there is no postal code or
// invoice date to go on.
func (s *Service) LookupTracking(tracking string) (*TrackingLookup, error) {
	key := normalize.Tracking(tracking)
	if key == "" {
		return nil, fmt.Errorf("%w: empty tracking", ErrTrackingNotFound)
	}
	if s.refs == nil {
		return nil, errors.New("no reference library configured")
	}

	files, err := s.refs.LoadRecent(s.lookupWindow)
	if err != nil {
		return nil, fmt.Errorf("load references: %w", err)
	}
	merged, err := reference.Merge(files, reference.Options{})
	if err != nil {
		return nil, err
	}

	m := matching.New(merged.Records).Match(domain.ShipmentRecord{TrackingID: key})
	if !m.Matched() {
		return nil, fmt.Errorf("%w: %s", ErrTrackingNotFound, key)
	}

	logger.Component("ingestion").Info("tracking lookup", "tracking", key, "partner", m.PartnerName, "method", m.Method)
	return &TrackingLookup{Tracking: key, Match: m, Reference: m.Reference, Files: len(files)}, nil
}
