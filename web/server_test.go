package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"property-scraper/config"
	"property-scraper/db"
	"property-scraper/models"
	"property-scraper/sheets"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	results     []models.AddressResult
	instruments []models.Instrument
	meta        sheets.Metadata
	err         error
}

func (f *fakePublisher) CreateSheetAndWriteResults(ctx context.Context, sheetName string, results []models.AddressResult, meta sheets.Metadata) (string, int64, error) {
	f.results, f.meta = results, meta
	return "Addresses tab", 9, f.err
}

func (f *fakePublisher) CreateSheetAndWriteInstruments(ctx context.Context, sheetName string, instruments []models.Instrument, meta sheets.Metadata) (string, int64, error) {
	f.instruments, f.meta = instruments, meta
	return "Instruments tab", 8, f.err
}

func newTestServer(t *testing.T, opts Options) (*Server, db.Store) {
	t.Helper()
	st, err := db.NewSQLite(filepath.Join(t.TempDir(), "web.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	catalog, err := config.ParseInstrumentTypes([]byte("Deed: D\nLien: L\n"))
	require.NoError(t, err)

	srv, err := NewServer(st, catalog, opts)
	require.NoError(t, err)
	return srv, st
}

func do(t *testing.T, h http.Handler, method, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func finishedInstrumentsRun(t *testing.T, st db.Store) *models.Run {
	t.Helper()
	ctx := context.Background()
	run := &models.Run{Kind: models.RunKindInstruments, InstrumentTypes: []string{"Deed"}, StartDate: "09/01/2025", EndDate: "09/10/2025"}
	require.NoError(t, st.CreateRun(ctx, run))
	require.NoError(t, st.SaveInstruments(ctx, run.ID, []models.Instrument{
		{FileNo: "RP-1", FileDate: "09/02/2025", DocType: "D", Grantees: "SMITH JANE", InstrumentType: "Deed"},
	}))
	require.NoError(t, st.CompleteRun(ctx, run.ID, models.RunStatusDone, ""))
	return run
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	rec := do(t, srv, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestIndex(t *testing.T) {
	srv, st := newTestServer(t, Options{})
	finishedInstrumentsRun(t, st)

	rec := do(t, srv, "GET", "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `value="Deed"`)
	assert.Contains(t, body, `value="Lien"`)
	assert.Contains(t, body, `value="2025-09-01"`)
	assert.Contains(t, body, `value="2025-09-10"`)
	assert.Contains(t, body, "09/01/2025 - 09/10/2025")
}

func TestCreateRun(t *testing.T) {
	srv, st := newTestServer(t, Options{})

	rec := do(t, srv, "POST", "/runs", url.Values{
		"instrument_types": {"Deed", "Lien"},
		"start_date":       {"2025-09-01"},
		"end_date":         {"2025-09-10"},
	})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	loc := rec.Header().Get("Location")
	require.True(t, strings.HasPrefix(loc, "/runs/"))

	run, err := st.GetRun(context.Background(), strings.TrimPrefix(loc, "/runs/"))
	require.NoError(t, err)
	assert.Equal(t, models.RunKindInstruments, run.Kind)
	assert.Equal(t, models.RunStatusCreated, run.Status)
	assert.Equal(t, []string{"Deed", "Lien"}, run.InstrumentTypes)
	assert.Equal(t, "09/01/2025", run.StartDate)
	assert.Equal(t, "09/10/2025", run.EndDate)
}

func TestCreateRun_Validation(t *testing.T) {
	srv, st := newTestServer(t, Options{})

	tests := []struct {
		name string
		form url.Values
		want string
	}{
		{"no types", url.Values{"start_date": {"2025-09-01"}, "end_date": {"2025-09-10"}}, "select at least one instrument type"},
		{"unknown type", url.Values{"instrument_types": {"Bogus"}, "start_date": {"2025-09-01"}, "end_date": {"2025-09-10"}}, "Unknown instrument type"},
		{"reversed dates", url.Values{"instrument_types": {"Deed"}, "start_date": {"2025-09-10"}, "end_date": {"2025-09-01"}}, "Start date must be before end date"},
		{"bad date", url.Values{"instrument_types": {"Deed"}, "start_date": {"soon"}, "end_date": {"2025-09-01"}}, "Invalid start date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, "POST", "/runs", tt.form)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
		})
	}

	runs, err := st.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRunPage(t *testing.T) {
	srv, st := newTestServer(t, Options{})
	run := finishedInstrumentsRun(t, st)

	rec := do(t, srv, "GET", "/runs/"+run.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "SMITH JANE")
	assert.Contains(t, body, "Resolve addresses")
	assert.NotContains(t, body, "http-equiv=\"refresh\"")
	assert.NotContains(t, body, "Send to Google Sheets")

	rec = do(t, srv, "GET", "/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunPage_ActiveRunRefreshes(t *testing.T) {
	srv, st := newTestServer(t, Options{RefreshSecs: 3})
	run := &models.Run{Kind: models.RunKindInstruments, InstrumentTypes: []string{"Deed"}}
	require.NoError(t, st.CreateRun(context.Background(), run))

	rec := do(t, srv, "GET", "/runs/"+run.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `content="3"`)
	assert.NotContains(t, rec.Body.String(), "Resolve addresses")
}

func TestResolveAddresses(t *testing.T) {
	srv, st := newTestServer(t, Options{})
	source := finishedInstrumentsRun(t, st)

	rec := do(t, srv, "POST", "/runs/"+source.ID+"/addresses", url.Values{})
	require.Equal(t, http.StatusSeeOther, rec.Code)

	run, err := st.GetRun(context.Background(), strings.TrimPrefix(rec.Header().Get("Location"), "/runs/"))
	require.NoError(t, err)
	assert.Equal(t, models.RunKindAddresses, run.Kind)
	assert.Equal(t, source.ID, run.SourceRunID)
	assert.Equal(t, source.InstrumentTypes, run.InstrumentTypes)

	// An address run cannot feed another one.
	rec = do(t, srv, "POST", "/runs/"+run.ID+"/addresses", url.Values{})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestExport(t *testing.T) {
	srv, st := newTestServer(t, Options{})
	ctx := context.Background()
	source := finishedInstrumentsRun(t, st)

	rec := do(t, srv, "GET", "/runs/"+source.ID+"/export.csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="instrument_data_09-01-2025_09-10-2025.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Contains(t, rec.Body.String(), "RP-1,09/02/2025,D")

	run := &models.Run{Kind: models.RunKindAddresses, SourceRunID: source.ID, StartDate: "09/01/2025", EndDate: "09/10/2025"}
	require.NoError(t, st.CreateRun(ctx, run))
	require.NoError(t, st.SaveResults(ctx, run.ID, []models.AddressResult{{FileNo: "RP-1", PropertyAddress: "1 MAIN ST", Source: models.SourceHCAD}}))

	rec = do(t, srv, "GET", "/runs/"+run.ID+"/export.csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Property Address")
	assert.Contains(t, rec.Body.String(), "1 MAIN ST")

	rec = do(t, srv, "GET", "/runs/"+run.ID+"/export.xlsx", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "address_results_09-01-2025_09-10-2025.xlsx")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "PK"))
}

func TestSheets(t *testing.T) {
	publisher := &fakePublisher{}
	srv, st := newTestServer(t, Options{Sheets: publisher})
	source := finishedInstrumentsRun(t, st)

	rec := do(t, srv, "POST", "/runs/"+source.ID+"/sheets", url.Values{})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Len(t, publisher.instruments, 1)
	assert.Equal(t, "09/01/2025 - 09/10/2025", publisher.meta.DateRange)

	got, err := st.GetRun(context.Background(), source.ID)
	require.NoError(t, err)
	assert.Equal(t, "Instruments tab", got.SheetName)
}

func TestSheets_NotConfigured(t *testing.T) {
	srv, st := newTestServer(t, Options{})
	source := finishedInstrumentsRun(t, st)

	rec := do(t, srv, "POST", "/runs/"+source.ID+"/sheets", url.Values{})
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestDelete(t *testing.T) {
	srv, st := newTestServer(t, Options{})
	run := finishedInstrumentsRun(t, st)

	rec := do(t, srv, "POST", "/runs/"+run.ID+"/delete", url.Values{})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	_, err := st.GetRun(context.Background(), run.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)

	rec = do(t, srv, "POST", "/runs/"+run.ID+"/delete", url.Values{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
