package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"property-scraper/config"
	"property-scraper/daterange"
	"property-scraper/db"
	"property-scraper/fetcher"
	"property-scraper/filter"
	"property-scraper/models"
	"property-scraper/parser"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Stages recorded in the process log
const (
	StageInstruments = "instruments"
	StagePDF         = "pdf"
	StageHCAD        = "hcad"
	StageComplete    = "complete"
)

// ErrInvalidDateRange is returned when the start date falls after the end date
var ErrInvalidDateRange = daterange.ErrInvalidRange

// ErrNoInstrumentTypes is returned when a run requests no instrument types
var ErrNoInstrumentTypes = eris.New("pipeline: select at least one instrument type")

// ProgressRecorder persists progress updates for a run
type ProgressRecorder interface {
	UpdateRunProgress(ctx context.Context, runID string, progress db.Progress) error
}

// record saves a progress update; failures are logged and never stop a job
func record(ctx context.Context, recorder ProgressRecorder, runID string, p db.Progress) {
	if recorder == nil {
		return
	}
	if err := recorder.UpdateRunProgress(ctx, runID, p); err != nil {
		zap.L().Warn("failed to record progress", zap.String("run_id", runID), zap.Error(err))
	}
}

// InstrumentJob is Step 1: search the clerk portal and collect instrument rows
type InstrumentJob struct {
	source     fetcher.RecordSource
	parser     *parser.Parser
	catalog    *config.Catalog
	recorder   ProgressRecorder
	windowDays int
}

// NewInstrumentJob creates an InstrumentJob. windowDays > 0 splits long date
// ranges into several searches.
func NewInstrumentJob(source fetcher.RecordSource, p *parser.Parser, catalog *config.Catalog, recorder ProgressRecorder, windowDays int) *InstrumentJob {
	return &InstrumentJob{
		source:     source,
		parser:     p,
		catalog:    catalog,
		recorder:   recorder,
		windowDays: windowDays,
	}
}

// Run searches every requested instrument type over the run's date range.
// Types sharing a clerk code are searched once and labelled with all their names.
func (j *InstrumentJob) Run(ctx context.Context, run *models.Run) ([]models.Instrument, error) {
	start, err := daterange.Parse(run.StartDate)
	if err != nil {
		return nil, err
	}
	end, err := daterange.Parse(run.EndDate)
	if err != nil {
		return nil, err
	}
	windows, err := daterange.Split(start, end, j.windowDays)
	if err != nil {
		return nil, err
	}

	if len(run.InstrumentTypes) == 0 {
		return nil, ErrNoInstrumentTypes
	}
	groups, err := j.catalog.GroupByCode(run.InstrumentTypes)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: group instrument types")
	}

	total := len(groups) * len(windows)
	step := 0
	var (
		instruments []models.Instrument
		failures    []error
	)

	for _, group := range groups {
		label := strings.Join(group.Names, ", ")

		for _, w := range windows {
			step++
			zap.L().Info("searching instrument type",
				zap.String("run_id", run.ID),
				zap.String("code", group.Code),
				zap.String("types", label),
				zap.String("window", w.Label),
			)

			rows, err := j.search(ctx, group.Code, w)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, fetcher.ErrLoginFailed) {
					return nil, err
				}
				zap.L().Error("instrument search failed",
					zap.String("code", group.Code),
					zap.String("window", w.Label),
					zap.Error(err),
				)
				failures = append(failures, err)
				record(ctx, j.recorder, run.ID, db.Progress{
					Stage:     StageInstruments,
					Message:   fmt.Sprintf("Search for %s (%s) failed: %v", label, w.Label, err),
					Processed: step,
					Found:     len(instruments),
					Total:     total,
				})
				continue
			}

			for i := range rows {
				rows[i].InstrumentType = label
			}
			instruments = append(instruments, rows...)

			record(ctx, j.recorder, run.ID, db.Progress{
				Stage:     StageInstruments,
				Message:   fmt.Sprintf("Found %d %s records for %s", len(rows), label, w.Label),
				Processed: step,
				Found:     len(instruments),
				Total:     total,
			})
		}
	}

	if len(failures) == total {
		return nil, eris.Wrap(failures[0], "pipeline: every instrument search failed")
	}

	instruments = filter.DedupeInstruments(instruments)
	zap.L().Info("instrument scrape completed",
		zap.String("run_id", run.ID),
		zap.Int("records", len(instruments)),
		zap.Int("failed_searches", len(failures)),
	)
	return instruments, nil
}

func (j *InstrumentJob) search(ctx context.Context, code string, w daterange.Window) ([]models.Instrument, error) {
	html, err := j.source.Search(ctx, code, w.ClerkStart(), w.ClerkEnd())
	if err != nil {
		return nil, err
	}
	rows, err := j.parser.ParseResults(html)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: parse results for %s", code)
	}
	return rows, nil
}
