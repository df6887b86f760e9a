package domain

import "time"

// PartnerReferenceRecord is one row of a logistics-partner export: the ground
// truth of which retail partner shipped under which tracking id.
type PartnerReferenceRecord struct {
	TrackingID            string     `json:"tracking_id"`
	PartnerName           string     `json:"partner_name"`
	OriginOrderID         string     `json:"origin_order_id,omitempty"`
	PartnerOrderID        string     `json:"partner_order_id,omitempty"`
	OrderDate             *time.Time `json:"order_date,omitempty"`
	ShippedAt             *time.Time `json:"shipped_at,omitempty"`
	DestinationPostalCode string     `json:"destination_postal_code,omitempty"`
	DestinationCountry    string     `json:"destination_country,omitempty"`
	ShippedWeightKg       *float64   `json:"shipped_weight_kg,omitempty"`
	Carrier               string     `json:"carrier,omitempty"`
	ParcelNumber          string     `json:"parcel_number,omitempty"`
	SourceFile            string     `json:"source_file,omitempty"`
	SourceRow             int        `json:"source_row"`
}

// AnchorDate is the date used for postal-code proximity matching: the order
// date, or the ship date when the export carries no order date.
func (r *PartnerReferenceRecord) AnchorDate() *time.Time {
	if r.OrderDate != nil {
		return r.OrderDate
	}
	return r.ShippedAt
}

// Unassigned names the partner of reference rows exported without one.
const Unassigned = "UNASSIGNED"

// File is an uploaded document: its original name and content.
type File struct {
	Name string
	Data []byte
}
