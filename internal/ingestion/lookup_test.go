package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenlog/reconciler/internal/domain"
	"github.com/greenlog/reconciler/internal/reference"
)

func TestLookupTracking(t *testing.T) {
	lib := &memLibrary{files: []domain.File{referenceExport(t)}}
	svc := newTestService(lib, nil, nil)

	got, err := svc.LookupTracking(" cp00000000099 ")
	require.NoError(t, err)
	assert.Equal(t, 6, lib.asked)
	assert.Equal(t, "cp00000000099", got.Tracking)
	assert.Equal(t, "Beta", got.Match.PartnerName)
	assert.Equal(t, "ORD-2", got.Match.OriginOrderID)
	assert.Equal(t, domain.MatchExactTracking, got.Match.Method)
	require.NotNil(t, got.Reference)
	assert.Equal(t, "69001", got.Reference.DestinationPostalCode)
	assert.Equal(t, 1, got.Files)

	got, err = svc.LookupTracking("XA00000000099")
	require.NoError(t, err)
	assert.Equal(t, "Beta", got.Match.PartnerName)
	assert.Equal(t, domain.MatchPartialTracking, got.Match.Method)
}

func TestLookupTrackingNotFound(t *testing.T) {
	svc := newTestService(&memLibrary{files: []domain.File{referenceExport(t)}}, nil, nil)

	_, err := svc.LookupTracking("CP77777777777")
	assert.ErrorIs(t, err, ErrTrackingNotFound)

	_, err = svc.LookupTracking("  ")
	assert.ErrorIs(t, err, ErrTrackingNotFound)

	_, err = newTestService(&memLibrary{}, nil, nil).LookupTracking("CP00000000001")
	assert.ErrorIs(t, err, reference.ErrNoReferenceFiles)
}

func TestLookupTrackingWindow(t *testing.T) {
	lib := &memLibrary{files: []domain.File{referenceExport(t)}}
	svc := NewService(NewRegistry(), nil, lib, nil, nil, Options{LookupWindow: 2})

	_, err := svc.LookupTracking("CP00000000001")
	require.NoError(t, err)
	assert.Equal(t, 2, lib.asked)
}
