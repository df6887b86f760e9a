package ingestion

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/greenlog/reconciler/internal/domain"
	"github.com/greenlog/reconciler/internal/sheet"
)

func schemaFor(t *testing.T, carrier string) Schema {
	t.Helper()
	s, err := NewRegistry().Get(carrier)
	require.NoError(t, err)
	return s
}

func xlsxFile(t *testing.T, sheetName string, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetName("Sheet1", sheetName))
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		values := row
		require.NoError(t, f.SetSheetRow(sheetName, cell, &values))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestParseChronopostSections(t *testing.T) {
	header := []any{"", "Date", "", "N° objet", "", "Poids", "Montant HT", "Obs"}
	data := xlsxFile(t, "Table 1", [][]any{
		{"FACTURE CHRONOPOST"},
		header,
		{"", "", "", "(ref)"},
		{"", "", "", "", "", "kg", "EUR"},
		{"", "45306", "", "XR12345678901", "", "1.4", "3.5", ""},
		{"", "45307", "", "", "XT98765432101", "0.8", "2.9"},
		{"", "", "", "", "Supplément manutention", "", "18.5"},
		{"Total", "", "", "", "", "", "6.4"},
		header,
		{},
		{},
		{"", "", "", "XA11122233344", "", "2.2", "4.1"},
		{"", "15/02/2024", "", "6A55566677788", "", "3", "4.5", "HORS NORME", "70"},
		{"", "45338", "", "ZZ123"},
	})

	res, err := NewParser().Parse(data, schemaFor(t, "chronopost"), "chrono.xlsx")
	require.NoError(t, err)

	require.Len(t, res.Shipments, 3)
	first := res.Shipments[0]
	assert.Equal(t, "XR12345678901", first.TrackingID)
	assert.Equal(t, "chronopost", first.Carrier)
	require.NotNil(t, first.InvoiceDate)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), *first.InvoiceDate)
	require.NotNil(t, first.WeightKg)
	assert.InDelta(t, 1.4, *first.WeightKg, 1e-9)
	assert.True(t, first.BilledPrice.Decimal.Equal(dec("3.5")))
	assert.Equal(t, 5, first.SourceRow)

	// tracking one column to the right of its header
	assert.Equal(t, "XT98765432101", res.Shipments[1].TrackingID)
	assert.Equal(t, "6A55566677788", res.Shipments[2].TrackingID)

	require.Len(t, res.Surcharges, 2)
	assert.Equal(t, "XT98765432101", res.Surcharges[0].TrackingID)
	assert.Equal(t, domain.SurchargeHandling, res.Surcharges[0].Type)
	assert.True(t, res.Surcharges[0].Amount.Equal(dec("18.5")))
	assert.Equal(t, "6A55566677788", res.Surcharges[1].TrackingID)
	assert.Equal(t, domain.SurchargeOversize, res.Surcharges[1].Type)
	assert.True(t, res.Surcharges[1].Amount.Equal(dec("70")))

	assert.Equal(t, 7, res.RowsRead)
	assert.Equal(t, 3, res.RowsSkipped)
}

func TestParseChronopostWithoutHeader(t *testing.T) {
	data := xlsxFile(t, "Table 1", [][]any{{"nothing", "here"}})

	_, err := NewParser().Parse(data, schemaFor(t, "chronopost"), "empty.xlsx")
	var mc *MissingColumnsError
	require.True(t, errors.As(err, &mc))
	assert.Equal(t, "empty.xlsx", mc.File)
	assert.Equal(t, []string{FieldDate, FieldTracking}, mc.Fields)
}

func TestParseColissimoFiltersProductCode(t *testing.T) {
	data := []byte("Tracking;Date PCH;Code Postal;Prix;Majoration service;Code produit\n" +
		"6A11111111111;15/01/2024;75001;4,90;1,20;8R\n" +
		"6A22222222222;16/01/2024;69001;5,10;;DOM\n" +
		";17/01/2024;13001;5,00;;8R\n" +
		"6A33333333333;18/01/2024;33000;4,50;0;8R\n")

	res, err := NewParser().Parse(data, schemaFor(t, "colissimo"), "colissimo.csv")
	require.NoError(t, err)

	require.Len(t, res.Shipments, 2)
	assert.Equal(t, "75001", res.Shipments[0].DestinationPostalCode)
	assert.True(t, res.Shipments[0].BilledPrice.Decimal.Equal(dec("4.90")))
	assert.Equal(t, "8R", res.Shipments[0].RawFields["product_code"])
	assert.Equal(t, 1, res.RowsFiltered)
	assert.Equal(t, 1, res.RowsSkipped)

	require.Len(t, res.Surcharges, 1)
	assert.Equal(t, domain.SurchargeReturnProcessing, res.Surcharges[0].Type)
	assert.True(t, res.Surcharges[0].Amount.Equal(dec("1.20")))
	assert.Equal(t, "6A11111111111", res.Surcharges[0].TrackingID)
}

func TestParseMissingRequiredColumn(t *testing.T) {
	data := []byte("Tracking;Date PCH;Prix\n6A11111111111;15/01/2024;4,90\n")

	_, err := NewParser().Parse(data, schemaFor(t, "colissimo"), "bad.csv")
	var mc *MissingColumnsError
	require.True(t, errors.As(err, &mc))
	assert.Equal(t, []string{"product_code"}, mc.Fields)
	assert.Contains(t, err.Error(), "bad.csv")
}

func TestParseMondialRelayDedupesOnCustomerReference(t *testing.T) {
	data := []byte("Tracking;Reférence client;Prix;Poids facturé;Date PCH;Majoration\n" +
		"30012345;CMD-1;4,90;0,5;15/01/2024;0,30\n" +
		"30012346;CMD-1;4,90;0,5;15/01/2024;0,30\n" +
		"30012347;CMD-2.0;5,20;1,5;16/01/2024;\n")

	res, err := NewParser().Parse(data, schemaFor(t, "mondial_relay"), "mr.csv")
	require.NoError(t, err)

	require.Len(t, res.Shipments, 2)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, []string{"CMD-1"}, res.Shipments[0].AltKeys)
	assert.Equal(t, []string{"CMD-2.0"}, res.Shipments[1].AltKeys)
	require.Len(t, res.Surcharges, 1)
	assert.True(t, res.Surcharges[0].Amount.Equal(dec("0.30")))
}

func TestParseDHLChargePairs(t *testing.T) {
	data := []byte("Line Type,Shipment Number,Shipment Date,Weight (kg),Dest Country Code,Weight Charge,XC1 Name,XC1 Charge,XC2 Name,XC2 Charge\n" +
		"S,1234567890,2024-01-15,2.5,de,12.00,FUEL SURCHARGE,1.50,REMOTE AREA DELIVERY,18.00\n" +
		"I,1234567890,2024-01-15,,,,,,,\n" +
		"S,9876543210,2024-01-16,1,BE,8.00,OVERWEIGHT PIECE,25.00,PREMIUM 12:00,9.00\n")

	res, err := NewParser().Parse(data, schemaFor(t, "dhl"), "dhl.csv")
	require.NoError(t, err)

	require.Len(t, res.Shipments, 2)
	assert.Equal(t, "DE", res.Shipments[0].DestinationCountry)
	assert.Equal(t, 1, res.RowsFiltered)

	require.Len(t, res.Surcharges, 3)
	assert.Equal(t, domain.SurchargeRemoteArea, res.Surcharges[0].Type)
	assert.Equal(t, "REMOTE AREA DELIVERY", res.Surcharges[0].Label)
	assert.Equal(t, domain.SurchargeOversize, res.Surcharges[1].Type)
	assert.Equal(t, domain.SurchargeOther, res.Surcharges[2].Type)
	assert.True(t, res.Surcharges[2].Amount.Equal(dec("9")))
}

func TestParseDPDSurchargeColumns(t *testing.T) {
	data := xlsxFile(t, "Export", [][]any{
		{"DPD ID", "Date expédition", "CP destinataire", "Code pays destinataire", "Poids", "Prix transport", "Supplément île et montagne", "Fact. Retour expédition"},
		{"1234567890123.0", "15/01/2024", "20000", "FR", "1.2", "6.10", "3.50", ""},
		{"1234567890124", "15/01/2024", "75011", "FR", "0.4", "5.20", "", "5.20"},
	})

	res, err := NewParser().Parse(data, schemaFor(t, "dpd"), "dpd.xlsx")
	require.NoError(t, err)

	require.Len(t, res.Shipments, 2)
	assert.Equal(t, "1234567890123", res.Shipments[0].TrackingID)
	require.Len(t, res.Surcharges, 2)
	assert.Equal(t, domain.SurchargeRemoteArea, res.Surcharges[0].Type)
	assert.Equal(t, domain.SurchargeSenderReturn, res.Surcharges[1].Type)
	assert.Equal(t, "1234567890124", res.Surcharges[1].TrackingID)
}

func TestParseDPDSkipsFooterRows(t *testing.T) {
	data := xlsxFile(t, "Export", [][]any{
		{"DPD ID", "Date expédition", "CP destinataire", "Code pays destinataire", "Poids", "Prix transport"},
		{"1234567890123", "15/01/2024", "20000", "FR", "1.2", "6.10"},
		{"Total", "", "", "", "", "6.10"},
		{"Nombre de colis : 1"},
	})

	res, err := NewParser().Parse(data, schemaFor(t, "dpd"), "dpd.xlsx")
	require.NoError(t, err)

	require.Len(t, res.Shipments, 1)
	assert.Equal(t, "1234567890123", res.Shipments[0].TrackingID)
	assert.Equal(t, 3, res.RowsRead)
	assert.Equal(t, 2, res.RowsSkipped)
}

func TestParseDefaultTrackingPatternNeedsADigit(t *testing.T) {
	schema := Schema{
		Carrier: "gls",
		Layout:  LayoutTable,
		Columns: []sheet.Column{
			{Field: FieldTracking, Synonyms: []string{"Parcel"}},
			{Field: FieldPrice, Synonyms: []string{"Amount"}},
		},
	}
	data := []byte("Parcel;Amount\nGLS-0042;3,10\nSous-total;3,10\n")

	res, err := NewParser().Parse(data, schema, "gls.csv")
	require.NoError(t, err)

	require.Len(t, res.Shipments, 1)
	assert.Equal(t, "GLS-0042", res.Shipments[0].TrackingID)
	assert.Equal(t, 1, res.RowsSkipped)
}

func TestParseRejectsInvalidTrackingPattern(t *testing.T) {
	schema := schemaFor(t, "dpd")
	schema.TrackingPattern = "^[0-9"

	_, err := NewParser().Parse([]byte("DPD ID\n1234567890123\n"), schema, "dpd.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tracking pattern")
	assert.Error(t, schema.Validate())
}

func TestParseChronopostDropsSurchargeBeforeFirstShipment(t *testing.T) {
	data := xlsxFile(t, "Table 1", [][]any{
		{"", "Date", "", "N° objet", "", "Poids", "Montant HT"},
		{"", "", "", "(ref)"},
		{"", "", "", "", "", "kg", "EUR"},
		{"", "", "", "", "Supplément manutention", "", "18.5"},
		{"", "45306", "", "XR12345678901", "", "1.4", "3.5"},
		{"", "", "", "", "Supplément manutention", "", "12"},
	})

	res, err := NewParser().Parse(data, schemaFor(t, "chronopost"), "chrono.xlsx")
	require.NoError(t, err)

	require.Len(t, res.Shipments, 1)
	require.Len(t, res.Surcharges, 1)
	assert.Equal(t, "XR12345678901", res.Surcharges[0].TrackingID)
	assert.True(t, res.Surcharges[0].Amount.Equal(dec("12")))
	assert.Equal(t, 3, res.RowsRead)
	assert.Equal(t, 1, res.RowsSkipped)
}
