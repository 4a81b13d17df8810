package main

import (
	"context"
	"fmt"
	"os"

	"property-scraper/appraisal"
	"property-scraper/config"
	"property-scraper/db"
	"property-scraper/extract"
	"property-scraper/fetcher"
	"property-scraper/models"
	"property-scraper/parser"
	"property-scraper/pipeline"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// environment holds the long-lived clients both jobs share
type environment struct {
	catalog *config.Catalog
	clerk   *fetcher.ClerkClient
	browser *appraisal.LazyBrowser
}

func initEnvironment() (*environment, error) {
	catalog, err := config.LoadInstrumentTypes(cfg.InstrumentTypesFile)
	if err != nil {
		return nil, eris.Wrap(err, "load instrument types")
	}

	clerk, err := fetcher.NewClerkClient(cfg.Clerk)
	if err != nil {
		return nil, err
	}

	return &environment{
		catalog: catalog,
		clerk:   clerk,
		browser: appraisal.NewLazyBrowser(cfg.HCAD),
	}, nil
}

func (e *environment) Close() {
	if err := e.browser.Close(); err != nil {
		zap.L().Warn("failed to close browser", zap.Error(err))
	}
}

func (e *environment) instrumentJob(recorder pipeline.ProgressRecorder) *pipeline.InstrumentJob {
	return pipeline.NewInstrumentJob(
		e.clerk,
		parser.NewParserWithBaseURL(cfg.Clerk.BaseURL),
		e.catalog,
		recorder,
		cfg.Clerk.WindowDays,
	)
}

func (e *environment) addressJob(recorder pipeline.ProgressRecorder) *pipeline.AddressJob {
	limiter := appraisal.NewLimiter(cfg.HCAD.SearchesPerSecond, cfg.HCAD.Tabs)
	pool := appraisal.NewPool(e.browser, appraisal.NewResolver(e.catalog, limiter), cfg.HCAD.Tabs)
	runner := &onDemandBrowser{pool: pool, browser: e.browser}

	var documents pipeline.DocumentResolver
	switch {
	case !cfg.Extract.Enabled:
	case cfg.Extract.AnthropicKey == "":
		zap.L().Warn("PDF extraction enabled but no Anthropic API key is configured; using HCAD only")
	default:
		client := extract.NewAnthropicClient(cfg.Extract.AnthropicKey, cfg.Extract.Model)
		text, err := extract.NewTextExtractor(cfg.Extract, client)
		if err != nil {
			zap.L().Warn("PDF extraction disabled; using HCAD only", zap.Error(err))
			break
		}
		documents = extract.NewPDFResolver(
			e.clerk,
			text,
			extract.NewAddressExtractor(client),
			e.catalog,
			cfg.Extract.WorkDir,
		)
	}

	return pipeline.NewAddressJob(documents, runner, recorder)
}

// onDemandBrowser closes Chromium after every address run so an idle
// server holds no browser.
type onDemandBrowser struct {
	pool    *appraisal.Pool
	browser *appraisal.LazyBrowser
}

func (o *onDemandBrowser) Run(ctx context.Context, instruments []models.Instrument, progress appraisal.Progress) ([]models.AddressResult, error) {
	defer func() {
		if err := o.browser.Close(); err != nil {
			zap.L().Warn("failed to close browser", zap.Error(err))
		}
	}()
	return o.pool.Run(ctx, instruments, progress)
}

// consoleRecorder prints job progress for the one-shot commands
type consoleRecorder struct{}

func (consoleRecorder) UpdateRunProgress(ctx context.Context, runID string, p db.Progress) error {
	fmt.Fprintf(os.Stderr, "[%5.1f%%] %s\n", p.Percentage(), p.Message)
	return nil
}
