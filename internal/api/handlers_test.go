package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/greenlog/reconciler/internal/ingestion"
	"github.com/greenlog/reconciler/internal/library"
	"github.com/greenlog/reconciler/internal/reconciliation"
	"github.com/greenlog/reconciler/internal/repository"
	"github.com/greenlog/reconciler/internal/tariff"
)

const invoiceCSV = "Tracking;Date;Code Postal;Poids facturé;Prix;Majoration service\n" +
	"CP00000000001;15/01/2024;75001;1,4;3,50;\n" +
	"CP00000000002;16/01/2024;;0,5;2,00;1,20\n"

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	db, err := repository.InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	blobs := repository.NewBlobRepo(db)
	refs := library.NewReferenceLibrary(blobs)
	archive := library.NewArchive(blobs)
	runs := repository.NewRunRepo(db)
	svc := ingestion.NewService(
		ingestion.NewRegistry(),
		reconciliation.NewEngine(tariff.Default()),
		refs, runs, archive,
		ingestion.Options{},
	)
	return NewRouter(Deps{Service: svc, References: refs, Archive: archive, Runs: runs})
}

func referenceXLSX(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	const sheet = "Facturation préparation"
	require.NoError(t, f.SetSheetName("Sheet1", sheet))
	rows := [][]any{
		{"Numéro de tracking", "Nom du partenaire", "Numéro de commande d'origine", "Date de la commande", "Code postal destination", "Pays destination", "Poids expédition"},
		{"CP00000000001", "Alpha", "ORD-1", "10/01/2024", "75001", "FR", "1400"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		values := row
		require.NoError(t, f.SetSheetRow(sheet, cell, &values))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

type upload struct {
	field, name string
	data        []byte
}

func multipartRequest(t *testing.T, method, url string, fields map[string]string, files ...upload) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		part, err := mw.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(method, url, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestReconciliationFlow(t *testing.T) {
	srv := newTestServer(t)

	rec := do(srv, multipartRequest(t, http.MethodPost, "/api/v1/references", nil,
		upload{"file", "export_janvier.xlsx", referenceXLSX(t)}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "export_janvier.xlsx", body["reference"].(map[string]any)["filename"])

	rec = do(srv, httptest.NewRequest(http.MethodGet, "/api/v1/references", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["references"], 1)

	rec = do(srv, multipartRequest(t, http.MethodPost, "/api/v1/carriers/colis_prive/reconcile", nil,
		upload{"files", "janvier.csv", []byte(invoiceCSV)}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decode(t, rec)
	id := run["id"].(string)
	stats := run["result"].(map[string]any)["stats"].(map[string]any)
	assert.Equal(t, "1.83", stats["to_recover"])
	assert.Equal(t, float64(1), stats["matched"])

	rec = do(srv, httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decode(t, rec)["id"])

	rec = do(srv, httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+id+"/export?overcharged=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "spreadsheetml")
	wb, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer wb.Close()
	rows, err := wb.GetRows("Détail")
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	rec = do(srv, httptest.NewRequest(http.MethodGet, "/api/v1/runs?carrier=colis_prive", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["total"])

	rec = do(srv, httptest.NewRequest(http.MethodGet, "/api/v1/archives", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	archives := decode(t, rec)["archives"].([]any)
	require.Len(t, archives, 1)
	assert.Equal(t, "colis_prive", archives[0].(map[string]any)["carrier"])

	rec = do(srv, httptest.NewRequest(http.MethodGet, "/api/v1/archives/colis_prive/2024_01", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(srv, httptest.NewRequest(http.MethodGet, "/api/v1/consolidated/2024_01", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	consolidated := decode(t, rec)
	assert.Equal(t, "0.63", consolidated["total"])
	partners := consolidated["partners"].([]any)
	require.Len(t, partners, 1)
	assert.Equal(t, "Alpha", partners[0].(map[string]any)["partner_name"])

	rec = do(srv, httptest.NewRequest(http.MethodGet, "/api/v1/consolidated/2024_01/export", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "refacturation_2024_01.xlsx")
	rebill, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer rebill.Close()
	rows, err = rebill.GetRows("Refacturation")
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	rec = do(srv, httptest.NewRequest(http.MethodGet, "/api/v1/tracking/CP00000000001", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	match := decode(t, rec)["match"].(map[string]any)
	assert.Equal(t, "Alpha", match["partner_name"])
	assert.Equal(t, "ORD-1", match["origin_order_id"])

	rec = do(srv, httptest.NewRequest(http.MethodGet, "/api/v1/tracking/CP99999999999", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(srv, httptest.NewRequest(http.MethodDelete, "/api/v1/archives/colis_prive/2024_01", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(srv, httptest.NewRequest(http.MethodDelete, "/api/v1/archives/colis_prive/2024_01", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(srv, httptest.NewRequest(http.MethodGet, "/api/v1/consolidated/2024_01", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(srv, httptest.NewRequest(http.MethodDelete, "/api/v1/references/2024_01", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(srv, httptest.NewRequest(http.MethodDelete, "/api/v1/references/2024_01", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReconcileErrors(t *testing.T) {
	srv := newTestServer(t)

	rec := do(srv, multipartRequest(t, http.MethodPost, "/api/v1/carriers/pigeon/reconcile", nil,
		upload{"files", "a.csv", []byte(invoiceCSV)}))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(srv, multipartRequest(t, http.MethodPost, "/api/v1/carriers/dpd/reconcile", map[string]string{"note": "x"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(srv, multipartRequest(t, http.MethodPost, "/api/v1/carriers/colis_prive/reconcile", nil,
		upload{"files", "broken.csv", []byte("foo;bar\n")}))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Len(t, decode(t, rec)["invoices"], 1)

	rec = do(srv, httptest.NewRequest(http.MethodGet, "/api/v1/runs/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(srv, httptest.NewRequest(http.MethodGet, "/api/v1/runs/unknown/export", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(srv, httptest.NewRequest(http.MethodDelete, "/api/v1/references/janvier", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(srv, httptest.NewRequest(http.MethodDelete, "/api/v1/archives/dpd/2024_011", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(srv, httptest.NewRequest(http.MethodGet, "/api/v1/tracking/CP00000000001", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListCarriers(t *testing.T) {
	rec := do(newTestServer(t), httptest.NewRequest(http.MethodGet, "/api/v1/carriers", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	carriers := decode(t, rec)["carriers"].([]any)
	assert.Contains(t, carriers, "chronopost")
	assert.Contains(t, carriers, "dhl")
}
