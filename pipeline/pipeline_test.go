package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"property-scraper/appraisal"
	"property-scraper/config"
	"property-scraper/db"
	"property-scraper/fetcher"
	"property-scraper/models"
	"property-scraper/parser"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	pages map[string]string // code -> results page
	errs  map[string]error
	calls []string
}

func (f *fakeSource) Search(ctx context.Context, code, startDate, endDate string) (string, error) {
	f.calls = append(f.calls, fmt.Sprintf("%s %s-%s", code, startDate, endDate))
	if err := f.errs[code]; err != nil {
		return "", err
	}
	return f.pages[code], nil
}

type memRecorder struct {
	mu      sync.Mutex
	updates []db.Progress
}

func (m *memRecorder) UpdateRunProgress(ctx context.Context, runID string, p db.Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, p)
	return nil
}

func (m *memRecorder) last() db.Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates[len(m.updates)-1]
}

func resultsPage(fileNos ...string) string {
	page := "<table>"
	for _, no := range fileNos {
		page += fmt.Sprintf(`<tr class="odd"><td></td><td>%s</td><td>09/02/2025</td><td>D</td><td></td><td></td><td>1</td><td></td></tr>`, no)
	}
	return page + "</table>"
}

func testCatalog(t *testing.T) *config.Catalog {
	t.Helper()
	catalog, err := config.ParseInstrumentTypes([]byte("Deed: D\nWarranty Deed: D\nLien: L\n"))
	require.NoError(t, err)
	return catalog
}

func TestInstrumentJob_GroupsCodes(t *testing.T) {
	source := &fakeSource{pages: map[string]string{
		"D": resultsPage("RP-1", "RP-2"),
		"L": resultsPage("RP-3"),
	}}
	recorder := &memRecorder{}
	job := NewInstrumentJob(source, parser.NewParser(), testCatalog(t), recorder, 0)

	run := &models.Run{ID: "r1", InstrumentTypes: []string{"Deed", "Lien", "Warranty Deed"}, StartDate: "2025-09-01", EndDate: "2025-09-10"}
	instruments, err := job.Run(context.Background(), run)
	require.NoError(t, err)

	assert.Equal(t, []string{"D 09/01/2025-09/10/2025", "L 09/01/2025-09/10/2025"}, source.calls)
	require.Len(t, instruments, 3)
	assert.Equal(t, "Deed, Warranty Deed", instruments[0].InstrumentType)
	assert.Equal(t, "Lien", instruments[2].InstrumentType)

	require.Len(t, recorder.updates, 2)
	assert.Equal(t, db.Progress{Stage: StageInstruments, Message: "Found 1 Lien records for 09/01/2025-09/10/2025", Processed: 2, Found: 3, Total: 2}, recorder.last())
}

func TestInstrumentJob_Windows(t *testing.T) {
	source := &fakeSource{pages: map[string]string{"L": resultsPage()}}
	job := NewInstrumentJob(source, parser.NewParser(), testCatalog(t), nil, 5)

	_, err := job.Run(context.Background(), &models.Run{InstrumentTypes: []string{"Lien"}, StartDate: "09/01/2025", EndDate: "09/10/2025"})
	require.NoError(t, err)
	assert.Equal(t, []string{"L 09/01/2025-09/05/2025", "L 09/06/2025-09/10/2025"}, source.calls)
}

func TestInstrumentJob_Validation(t *testing.T) {
	job := NewInstrumentJob(&fakeSource{}, parser.NewParser(), testCatalog(t), nil, 0)
	ctx := context.Background()

	_, err := job.Run(ctx, &models.Run{InstrumentTypes: []string{"Deed"}, StartDate: "2025-09-10", EndDate: "2025-09-01"})
	assert.ErrorIs(t, err, ErrInvalidDateRange)

	_, err = job.Run(ctx, &models.Run{StartDate: "2025-09-01", EndDate: "2025-09-10"})
	assert.ErrorIs(t, err, ErrNoInstrumentTypes)

	_, err = job.Run(ctx, &models.Run{InstrumentTypes: []string{"Bogus"}, StartDate: "2025-09-01", EndDate: "2025-09-10"})
	assert.Error(t, err)

	_, err = job.Run(ctx, &models.Run{InstrumentTypes: []string{"Deed"}, StartDate: "soon", EndDate: "2025-09-10"})
	assert.Error(t, err)
}

func TestInstrumentJob_PartialFailure(t *testing.T) {
	source := &fakeSource{
		pages: map[string]string{"L": resultsPage("RP-3")},
		errs:  map[string]error{"D": errors.New("clerk: request timeout")},
	}
	job := NewInstrumentJob(source, parser.NewParser(), testCatalog(t), nil, 0)

	instruments, err := job.Run(context.Background(), &models.Run{InstrumentTypes: []string{"Deed", "Lien"}, StartDate: "2025-09-01", EndDate: "2025-09-10"})
	require.NoError(t, err)
	assert.Len(t, instruments, 1)
}

func TestInstrumentJob_LoginFailureAborts(t *testing.T) {
	source := &fakeSource{errs: map[string]error{"D": fetcher.ErrLoginFailed}, pages: map[string]string{"L": resultsPage("RP-3")}}
	job := NewInstrumentJob(source, parser.NewParser(), testCatalog(t), nil, 0)

	_, err := job.Run(context.Background(), &models.Run{InstrumentTypes: []string{"Deed", "Lien"}, StartDate: "2025-09-01", EndDate: "2025-09-10"})
	assert.ErrorIs(t, err, fetcher.ErrLoginFailed)
	assert.Len(t, source.calls, 1)
}

func TestInstrumentJob_AllSearchesFail(t *testing.T) {
	source := &fakeSource{errs: map[string]error{"L": errors.New("boom")}}
	job := NewInstrumentJob(source, parser.NewParser(), testCatalog(t), nil, 0)

	_, err := job.Run(context.Background(), &models.Run{InstrumentTypes: []string{"Lien"}, StartDate: "2025-09-01", EndDate: "2025-09-10"})
	assert.Error(t, err)
}

type fakeDocuments struct {
	addresses map[string]string
	seen      []string
}

func (f *fakeDocuments) Resolve(ctx context.Context, inst models.Instrument) (models.AddressResult, error) {
	f.seen = append(f.seen, inst.FileNo)
	res := models.NewAddressResult(inst)
	if addr, ok := f.addresses[inst.FileNo]; ok {
		res.PropertyAddress = addr
		res.Source = models.SourcePDF
		return res, nil
	}
	res.Source = "No address in PDF"
	return res, nil
}

type fakeAppraisal struct {
	addresses map[string]string
	seen      []string
	err       error
}

func (f *fakeAppraisal) Run(ctx context.Context, instruments []models.Instrument, progress appraisal.Progress) ([]models.AddressResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	var results []models.AddressResult
	found := 0
	for i, inst := range instruments {
		f.seen = append(f.seen, inst.FileNo)
		res := models.NewAddressResult(inst)
		res.Source = models.SourceNotFound
		if addr, ok := f.addresses[inst.FileNo]; ok {
			res.PropertyAddress = addr
			res.Source = models.SourceHCAD
			found++
		}
		results = append(results, res)
		if progress != nil {
			progress(i+1, found, len(instruments))
		}
	}
	return results, nil
}

func TestAddressJob_PDFThenAppraisal(t *testing.T) {
	instruments := []models.Instrument{
		{FileNo: "1", PdfURL: "u1"},
		{FileNo: "2", PdfURL: "u2"},
		{FileNo: "3"},
		{FileNo: "4"},
	}
	documents := &fakeDocuments{addresses: map[string]string{"1": "1 PDF ST"}}
	hcad := &fakeAppraisal{addresses: map[string]string{"2": "2 HCAD ST", "3": "3 HCAD ST"}}
	recorder := &memRecorder{}

	results, err := NewAddressJob(documents, hcad, recorder).Run(context.Background(), &models.Run{ID: "r2"}, instruments)
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2"}, documents.seen)
	assert.Equal(t, []string{"2", "3", "4"}, hcad.seen)

	require.Len(t, results, 3)
	assert.Equal(t, "1", results[0].FileNo)
	assert.Equal(t, models.SourcePDF, results[0].Source)
	assert.Equal(t, "2 HCAD ST", results[1].PropertyAddress)
	assert.Equal(t, "3", results[2].FileNo)

	final := recorder.last()
	assert.Equal(t, StageComplete, final.Stage)
	assert.Equal(t, 4, final.Processed)
	assert.Equal(t, 3, final.Found)
	assert.InDelta(t, 75.0, final.SuccessRate(), 0.001)
}

func TestAddressJob_NoDocuments(t *testing.T) {
	instruments := []models.Instrument{{FileNo: "1", PdfURL: "u1"}, {FileNo: "2"}}
	hcad := &fakeAppraisal{addresses: map[string]string{"1": "1 MAIN ST"}}

	results, err := NewAddressJob(nil, hcad, nil).Run(context.Background(), &models.Run{}, instruments)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, hcad.seen)
	require.Len(t, results, 1)
	assert.Equal(t, models.SourceHCAD, results[0].Source)
}

func TestAddressJob_AppraisalFailure(t *testing.T) {
	hcad := &fakeAppraisal{err: errors.New("appraisal: launch browser")}

	_, err := NewAddressJob(nil, hcad, nil).Run(context.Background(), &models.Run{}, []models.Instrument{{FileNo: "1"}})
	assert.Error(t, err)
}
