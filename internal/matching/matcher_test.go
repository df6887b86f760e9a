package matching

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenlog/reconciler/internal/domain"
)

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func ref(tracking, partner, postal string, orderDate *time.Time) domain.PartnerReferenceRecord {
	return domain.PartnerReferenceRecord{
		TrackingID:            tracking,
		PartnerName:           partner,
		OriginOrderID:         "ORD-" + tracking,
		DestinationPostalCode: postal,
		OrderDate:             orderDate,
	}
}

func TestExactBeatsPostalDate(t *testing.T) {
	m := New([]domain.PartnerReferenceRecord{
		ref("OTHER0000001", "Beta", "75001", day(2024, 1, 9)),
		ref("XR12345678901", "Alpha", "13001", day(2024, 1, 2)),
	})

	got := m.Match(domain.ShipmentRecord{
		TrackingID:            " xr12345678901 ",
		DestinationPostalCode: "75001",
		InvoiceDate:           day(2024, 1, 10),
	})

	assert.Equal(t, domain.MatchExactTracking, got.Method)
	assert.Equal(t, "Alpha", got.PartnerName)
	assert.Equal(t, "ORD-XR12345678901", got.OriginOrderID)
	assert.Equal(t, "XR12345678901", got.OutboundTracking)
	require.NotNil(t, got.Reference)
}

func TestExactViaAltKeyAndParcelNumber(t *testing.T) {
	r := ref("XR00000000001", "Alpha", "", nil)
	r.ParcelNumber = "CMD-77"
	m := New([]domain.PartnerReferenceRecord{r})

	got := m.Match(domain.ShipmentRecord{TrackingID: "MR999", AltKeys: []string{"cmd 77"}})
	assert.Equal(t, domain.MatchExactTracking, got.Method)
	assert.Equal(t, "Alpha", got.PartnerName)
}

func TestPartialTrackingFirstInOrder(t *testing.T) {
	m := New([]domain.PartnerReferenceRecord{
		ref("AB11112222", "Noise", "", nil),
		ref("XR000999888777", "First", "", nil),
		ref("6A000999888777FR", "Second", "", nil),
	})

	got := m.Match(domain.ShipmentRecord{TrackingID: "RT000999888777"})
	assert.Equal(t, domain.MatchPartialTracking, got.Method)
	assert.Equal(t, "First", got.PartnerName)

	// runs shorter than eight digits never match partially
	got = m.Match(domain.ShipmentRecord{TrackingID: "RT1111222"})
	assert.Equal(t, domain.MatchNone, got.Method)
}

func TestPostalDatePicksMostRecentEarlier(t *testing.T) {
	m := New([]domain.PartnerReferenceRecord{
		ref("T1", "Old", "75001", day(2024, 1, 5)),
		ref("T2", "Recent", "75001", day(2024, 1, 8)),
		ref("T3", "Tied", "75001", day(2024, 1, 8)),
		ref("T4", "SameDay", "75001", day(2024, 1, 10)),
		ref("T5", "Later", "75001", day(2024, 1, 12)),
		ref("T6", "OtherCode", "75002", day(2024, 1, 9)),
	})

	got := m.Match(domain.ShipmentRecord{
		TrackingID:            "ZZ-NOPE",
		DestinationPostalCode: "75001",
		InvoiceDate:           day(2024, 1, 10),
	})
	assert.Equal(t, domain.MatchPostalDate, got.Method)
	assert.Equal(t, "Recent", got.PartnerName)
	assert.Equal(t, day(2024, 1, 8), got.OrderDate)
}

func TestPostalDateFallsBackToShipDate(t *testing.T) {
	r := ref("T1", "Shipped", "69001", nil)
	r.ShippedAt = day(2024, 2, 1)
	m := New([]domain.PartnerReferenceRecord{r})

	got := m.Match(domain.ShipmentRecord{TrackingID: "X", DestinationPostalCode: "69001", InvoiceDate: day(2024, 2, 3)})
	assert.Equal(t, domain.MatchPostalDate, got.Method)
}

func TestPostalDateNeedsBothInputs(t *testing.T) {
	m := New([]domain.PartnerReferenceRecord{ref("T1", "Alpha", "75001", day(2024, 1, 5))})

	assert.Equal(t, domain.MatchNone, m.Match(domain.ShipmentRecord{TrackingID: "X", DestinationPostalCode: "75001"}).Method)
	assert.Equal(t, domain.MatchNone, m.Match(domain.ShipmentRecord{TrackingID: "X", InvoiceDate: day(2024, 1, 9)}).Method)
}

func TestUnmatchedAndStats(t *testing.T) {
	m := New([]domain.PartnerReferenceRecord{ref("XR12345678901", "Alpha", "", nil)})

	results, stats := m.MatchAll([]domain.ShipmentRecord{
		{TrackingID: "XR12345678901"},
		{TrackingID: "UNKNOWN001"},
		{TrackingID: "UNKNOWN002"},
	})

	require.Len(t, results, 3)
	assert.Equal(t, domain.Unmatched, results[1].PartnerName)
	assert.False(t, results[1].Matched())
	assert.Nil(t, results[1].Reference)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Matched())
	assert.Equal(t, 2, stats.ByMethod[domain.MatchNone])
}

func TestEmptyReferenceSet(t *testing.T) {
	m := New(nil)
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, domain.NoMatch(), m.Match(domain.ShipmentRecord{TrackingID: "XR12345678901"}))
}

func TestMatchIsDeterministic(t *testing.T) {
	refs := []domain.PartnerReferenceRecord{
		ref("A00011112222", "A", "75001", day(2024, 1, 3)),
		ref("B00011112222", "B", "75001", day(2024, 1, 3)),
	}
	s := domain.ShipmentRecord{TrackingID: "R00011112222", DestinationPostalCode: "75001", InvoiceDate: day(2024, 1, 4)}

	first := New(refs).Match(s)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first.PartnerName, New(refs).Match(s).PartnerName)
	}
	assert.Equal(t, "A", first.PartnerName)
}
