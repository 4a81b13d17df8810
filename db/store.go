package db

import (
	"context"

	"property-scraper/config"
	"property-scraper/models"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned when a run does not exist
var ErrNotFound = eris.New("db: not found")

// Store persists run history, progress logs and the records each run produced.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, runID string) (*models.Run, error)
	GetNextCreatedRun(ctx context.Context) (*models.Run, error)
	ListRuns(ctx context.Context, limit int) ([]models.Run, error)
	ListActiveRuns(ctx context.Context) ([]models.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status models.RunStatus) error
	UpdateRunProgress(ctx context.Context, runID string, progress Progress) error
	UpdateRunSheetName(ctx context.Context, runID, sheetName string) error
	CompleteRun(ctx context.Context, runID string, status models.RunStatus, errMsg string) error
	DeleteRun(ctx context.Context, runID string) error

	// Progress log
	GetProcessLogs(ctx context.Context, runID string) ([]models.ProcessLog, error)

	// Records
	SaveInstruments(ctx context.Context, runID string, instruments []models.Instrument) error
	GetInstruments(ctx context.Context, runID string) ([]models.Instrument, error)
	SaveResults(ctx context.Context, runID string, results []models.AddressResult) error
	GetResults(ctx context.Context, runID string) ([]models.AddressResult, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Progress is one progress update for a running job
type Progress struct {
	Stage     string
	Message   string
	Processed int
	Found     int
	Total     int
}

// Percentage is processed/total*100, or 0 without a total
func (p Progress) Percentage() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Processed) / float64(p.Total) * 100
}

// SuccessRate is found/processed*100, or 0 before anything is processed
func (p Progress) SuccessRate() float64 {
	if p.Processed <= 0 {
		return 0
	}
	return float64(p.Found) / float64(p.Processed) * 100
}

// Open connects to the configured database and applies the schema
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		st  *DB
		err error
	)

	switch cfg.Driver {
	case "sqlite", "":
		st, err = NewSQLite(cfg.DSN)
	case "postgres":
		st, err = NewPostgres(cfg.DSN)
	default:
		return nil, eris.Errorf("db: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}
