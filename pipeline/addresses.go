package pipeline

import (
	"context"
	"fmt"
	"strings"

	"property-scraper/appraisal"
	"property-scraper/db"
	"property-scraper/filter"
	"property-scraper/models"

	"go.uber.org/zap"
)

// DocumentResolver finds an address in an instrument's own document
type DocumentResolver interface {
	Resolve(ctx context.Context, inst models.Instrument) (models.AddressResult, error)
}

// AppraisalRunner resolves addresses on the appraisal district site
type AppraisalRunner interface {
	Run(ctx context.Context, instruments []models.Instrument, progress appraisal.Progress) ([]models.AddressResult, error)
}

// AddressJob is Step 2: resolve a property address for each instrument
type AddressJob struct {
	documents DocumentResolver
	appraisal AppraisalRunner
	recorder  ProgressRecorder
}

// NewAddressJob creates an AddressJob. A nil documents resolver skips PDF extraction.
func NewAddressJob(documents DocumentResolver, runner AppraisalRunner, recorder ProgressRecorder) *AddressJob {
	return &AddressJob{documents: documents, appraisal: runner, recorder: recorder}
}

// Run tries each instrument's PDF first when enabled, then searches the
// appraisal site for whatever is still missing an address. Only results with
// an address are returned, one per FileNo, PDF results first.
func (j *AddressJob) Run(ctx context.Context, run *models.Run, instruments []models.Instrument) ([]models.AddressResult, error) {
	total := len(instruments)

	pdfResults, err := j.resolveDocuments(ctx, run, instruments)
	if err != nil {
		return nil, err
	}

	pending := filter.NeedsAppraisal(instruments, pdfResults)
	pdfFound := total - len(pending)
	zap.L().Info("searching appraisal district",
		zap.String("run_id", run.ID),
		zap.Int("records", len(pending)),
		zap.Int("resolved_from_pdf", pdfFound),
	)

	record(ctx, j.recorder, run.ID, db.Progress{
		Stage:     StageHCAD,
		Message:   fmt.Sprintf("Searching HCAD for %d records", len(pending)),
		Processed: pdfFound,
		Found:     pdfFound,
		Total:     total,
	})

	hcadResults, err := j.appraisal.Run(ctx, pending, func(processed, found, _ int) {
		record(ctx, j.recorder, run.ID, db.Progress{
			Stage:     StageHCAD,
			Message:   fmt.Sprintf("Processed %d/%d HCAD searches", processed, len(pending)),
			Processed: pdfFound + processed,
			Found:     pdfFound + found,
			Total:     total,
		})
	})
	if err != nil {
		return nil, err
	}

	combined := make([]models.AddressResult, 0, len(pdfResults)+len(hcadResults))
	combined = append(combined, pdfResults...)
	combined = append(combined, hcadResults...)
	results := filter.Dedupe(filter.WithAddress(combined))

	record(ctx, j.recorder, run.ID, db.Progress{
		Stage:     StageComplete,
		Message:   fmt.Sprintf("Found addresses for %d of %d records", len(results), total),
		Processed: total,
		Found:     len(results),
		Total:     total,
	})

	zap.L().Info("address resolution completed",
		zap.String("run_id", run.ID),
		zap.Int("records", total),
		zap.Int("found", len(results)),
	)
	return results, nil
}

func (j *AddressJob) resolveDocuments(ctx context.Context, run *models.Run, instruments []models.Instrument) ([]models.AddressResult, error) {
	if j.documents == nil {
		return nil, nil
	}

	var withPDF []models.Instrument
	for _, inst := range instruments {
		if inst.PdfURL != "" {
			withPDF = append(withPDF, inst)
		}
	}

	var results []models.AddressResult
	found := 0
	for i, inst := range withPDF {
		res, err := j.documents.Resolve(ctx, inst)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(res.PropertyAddress) != "" {
			found++
		}
		results = append(results, res)

		record(ctx, j.recorder, run.ID, db.Progress{
			Stage:     StagePDF,
			Message:   fmt.Sprintf("Processed PDF %d/%d: %s (%s)", i+1, len(withPDF), inst.FileNo, res.Source),
			Processed: i + 1,
			Found:     found,
			Total:     len(instruments),
		})
	}
	return results, nil
}
