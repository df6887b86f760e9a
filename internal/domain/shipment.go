package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ShipmentRecord is one parcel movement extracted from a carrier invoice or
// export. Records are immutable once parsed.
type ShipmentRecord struct {
	Carrier               string              `json:"carrier"`
	TrackingID            string              `json:"tracking_id"`
	AltKeys               []string            `json:"alt_keys,omitempty"`
	InvoiceDate           *time.Time          `json:"invoice_date,omitempty"`
	WeightKg              *float64            `json:"weight_kg,omitempty"`
	DestinationCountry    string              `json:"destination_country,omitempty"`
	DestinationPostalCode string              `json:"destination_postal_code,omitempty"`
	BilledPrice           decimal.NullDecimal `json:"billed_price"`
	RawFields             map[string]string   `json:"raw_fields,omitempty"`
	SourceFile            string              `json:"source_file,omitempty"`
	SourceRow             int                 `json:"source_row"`
}

type SurchargeType string

const (
	SurchargeMislabeled        SurchargeType = "mislabeled-package"
	SurchargeAddressCorrection SurchargeType = "address-correction"
	SurchargeRemoteArea        SurchargeType = "remote-area"
	SurchargeOversize          SurchargeType = "oversize"
	SurchargeHandling          SurchargeType = "handling"
	SurchargeSenderReturn      SurchargeType = "sender-return"
	SurchargeReturnProcessing  SurchargeType = "return-processing"
	SurchargeOther             SurchargeType = "other"
)

// SurchargeLine is an ancillary fee detected on an invoice. Several lines may
// carry the same tracking id.
type SurchargeLine struct {
	TrackingID string          `json:"tracking_id"`
	Type       SurchargeType   `json:"type"`
	Label      string          `json:"label,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Date       *time.Time      `json:"date,omitempty"`
	SourceFile string          `json:"source_file,omitempty"`
	SourceRow  int             `json:"source_row"`
}
