//go:build !integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/scopezero/internal/config"
	"github.com/sells-group/scopezero/internal/factors"
	"github.com/sells-group/scopezero/internal/lock"
	"github.com/sells-group/scopezero/internal/pipeline"
	"github.com/sells-group/scopezero/internal/store"
)

const shipmentsCSV = `Date,Supplier,Material,Weight (kg),Distance (km),Transport Mode,Region
2024-01-10,Alpha Metals,Aluminum,1500,800,Cargo Ship,EU
2024-01-11,Beta Steel,Steel,3000,1200,Heavy Duty Truck,NA
2024-01-12,Gamma Polymers,Plastic,800,2400,Air Cargo,APAC
`

func newTestRouter(t *testing.T, c *config.Config, opts routerOptions) http.Handler {
	t.Helper()
	if c == nil {
		c = &config.Config{}
	}
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "serve.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	p, err := pipeline.New(c, st, lock.NewLocal(), factors.Default())
	require.NoError(t, err)
	return buildRouter(p, opts)
}

func uploadRequest(t *testing.T, filename, body string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestHealth(t *testing.T) {
	h := newTestRouter(t, nil, routerOptions{})

	rec := do(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHealth_StoreUnavailable(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "down.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	p, err := pipeline.New(&config.Config{}, st, lock.NewLocal(), factors.Default())
	require.NoError(t, err)
	h := buildRouter(p, routerOptions{})

	require.NoError(t, st.Close())

	rec := do(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable"}`, rec.Body.String())
}

func TestUpload_CSV(t *testing.T) {
	h := newTestRouter(t, nil, routerOptions{})

	rec := do(h, uploadRequest(t, "shipments.csv", shipmentsCSV))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var summary pipeline.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, pipeline.UploadMessage, summary.Message)
	assert.Equal(t, 3, summary.RecordsProcessed)
	assert.Equal(t, 3, summary.SuppliersDetected)
	assert.Equal(t, 3, summary.MaterialsDetected)

	rec = do(h, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var dash pipeline.Dashboard
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dash))
	assert.InDelta(t, 1559100.0, dash.TotalEmissions, 0.05)
	assert.Len(t, dash.Suppliers, 3)

	rec = do(h, httptest.NewRequest(http.MethodGet, "/api/recommendations", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var recs []pipeline.Recommendation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recs))
	require.Len(t, recs, 3)
	assert.Equal(t, 1, recs[0].PriorityRank)

	rec = do(h, httptest.NewRequest(http.MethodGet, "/api/audit", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var audit pipeline.Audit
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &audit))
	assert.Equal(t, 3, audit.TotalRecords)
	assert.Equal(t, 1, audit.DatasetsCount)

	rec = do(h, httptest.NewRequest(http.MethodGet, "/api/datasets", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var ds []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ds))
	require.Len(t, ds, 1)
	assert.Equal(t, "shipments.csv", ds[0]["filename"])
	assert.EqualValues(t, 3, ds[0]["record_count"])
}

func TestUpload_UnsupportedType(t *testing.T) {
	h := newTestRouter(t, nil, routerOptions{})

	rec := do(h, uploadRequest(t, "notes.txt", shipmentsCSV))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Only CSV and XLSX files are supported", decodeError(t, rec))
}

func TestUpload_MissingFile(t *testing.T) {
	h := newTestRouter(t, nil, routerOptions{})

	req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("nothing"))
	req.Header.Set("Content-Type", "text/plain")
	rec := do(h, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec), "file")
}

func TestUpload_TooLarge(t *testing.T) {
	h := newTestRouter(t, nil, routerOptions{MaxUploadBytes: 64})

	rec := do(h, uploadRequest(t, "big.csv", shipmentsCSV+strings.Repeat("x", 1024)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestUpload_StrictModeRejectsBadRow(t *testing.T) {
	c := &config.Config{Ingest: config.IngestConfig{Strict: true}}
	h := newTestRouter(t, c, routerOptions{})

	rec := do(h, uploadRequest(t, "bad.csv", "Supplier,Material,Weight\nAcme,Steel,100\nAcme,Steel,abc\n"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decodeError(t, rec), "line 3")

	rec = do(h, httptest.NewRequest(http.MethodGet, "/api/datasets", nil))
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestUpload_RateLimited(t *testing.T) {
	h := newTestRouter(t, nil, routerOptions{UploadLimiter: rate.NewLimiter(rate.Every(time.Hour), 1)})

	rec := do(h, uploadRequest(t, "a.csv", shipmentsCSV))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(h, uploadRequest(t, "b.csv", shipmentsCSV))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, decodeError(t, rec), "rate limit")
}

func TestDashboard_Empty(t *testing.T) {
	h := newTestRouter(t, nil, routerOptions{})

	rec := do(h, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 0, body["total_emissions"])
	assert.Equal(t, []any{}, body["suppliers"])
	assert.Nil(t, body["dataset_timestamp"])
}

func TestRecords_Limit(t *testing.T) {
	h := newTestRouter(t, nil, routerOptions{})
	require.Equal(t, http.StatusOK, do(h, uploadRequest(t, "shipments.csv", shipmentsCSV)).Code)

	rec := do(h, httptest.NewRequest(http.MethodGet, "/api/records?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var records []pipeline.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "INV-3", records[0].InvoiceID)

	for _, bad := range []string{"0", "-1", "abc"} {
		rec = do(h, httptest.NewRequest(http.MethodGet, "/api/records?limit="+bad, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestEmissionFactors(t *testing.T) {
	h := newTestRouter(t, nil, routerOptions{})

	rec := do(h, httptest.NewRequest(http.MethodGet, "/api/emission-factors", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var fs pipeline.Factors
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fs))
	assert.Len(t, fs.Materials, 9)
	assert.Len(t, fs.Transport, 7)
}

func TestEmissions_GroupAndFilter(t *testing.T) {
	h := newTestRouter(t, nil, routerOptions{})
	require.Equal(t, http.StatusOK, do(h, uploadRequest(t, "shipments.csv", shipmentsCSV)).Code)

	rec := do(h, httptest.NewRequest(http.MethodGet, "/api/emissions?group_by=region&metric=material_emission", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sums []store.GroupSum
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sums))
	require.Len(t, sums, 3)
	assert.Equal(t, "EU", sums[0].Keys[store.DimRegion])
	assert.InDelta(t, 18750.0, sums[0].Sum, 1e-9)

	rec = do(h, httptest.NewRequest(http.MethodGet, "/api/emissions?region=NA", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sums))
	require.Len(t, sums, 1)
	assert.InDelta(t, 365550.0, sums[0].Sum, 1e-9)
}

func TestEmissions_BadQuery(t *testing.T) {
	h := newTestRouter(t, nil, routerOptions{})

	for _, qs := range []string{"metric=weight", "group_by=color", "group_by=region,region"} {
		rec := do(h, httptest.NewRequest(http.MethodGet, "/api/emissions?"+qs, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, qs)
		assert.NotEmpty(t, decodeError(t, rec), qs)
	}
}

func TestCORS_AllowsAnyOrigin(t *testing.T) {
	h := newTestRouter(t, nil, routerOptions{})

	req := httptest.NewRequest(http.MethodGet, "/api/audit", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := do(h, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
