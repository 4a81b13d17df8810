package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"property-scraper/db"
	"property-scraper/models"
	"property-scraper/notify"
	"property-scraper/pipeline"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrNoInstruments is returned for an address run whose source run saved nothing
var ErrNoInstruments = eris.New("scheduler: source run has no instruments")

// notifyTimeout bounds a finished-run notification
const notifyTimeout = 15 * time.Second

// InstrumentRunner runs Step 1
type InstrumentRunner interface {
	Run(ctx context.Context, run *models.Run) ([]models.Instrument, error)
}

// AddressRunner runs Step 2
type AddressRunner interface {
	Run(ctx context.Context, run *models.Run, instruments []models.Instrument) ([]models.AddressResult, error)
}

// Scheduler processes queued runs from the database, one at a time
type Scheduler struct {
	store       db.Store
	instruments InstrumentRunner
	addresses   AddressRunner
	notifier    notify.Notifier
	interval    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new scheduler polling every interval
func NewScheduler(store db.Store, instruments InstrumentRunner, addresses AddressRunner, notifier notify.Notifier, interval time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}

	return &Scheduler{
		store:       store,
		instruments: instruments,
		addresses:   addresses,
		notifier:    notifier,
		interval:    interval,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the scheduler in a goroutine
func (s *Scheduler) Start() {
	if err := s.RecoverInterrupted(s.ctx); err != nil {
		zap.L().Warn("failed to recover interrupted runs", zap.Error(err))
	}

	s.wg.Add(1)
	go s.run()
}

// Stop cancels the current run and waits for the loop to exit
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	zap.L().Info("scheduler stopped")
}

// run is the main scheduler loop
func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			// Drain the queue before waiting for the next tick.
			for s.ctx.Err() == nil {
				processed, err := s.ProcessNext(s.ctx)
				if err != nil {
					zap.L().Error("failed to process run", zap.Error(err))
					break
				}
				if !processed {
					break
				}
			}
		}
	}
}

// RecoverInterrupted fails runs left in progress by a previous process
func (s *Scheduler) RecoverInterrupted(ctx context.Context) error {
	active, err := s.store.ListActiveRuns(ctx)
	if err != nil {
		return err
	}
	for _, run := range active {
		if run.Status != models.RunStatusInProgress {
			continue
		}
		zap.L().Warn("marking interrupted run as failed", zap.String("run_id", run.ID))
		if err := s.store.CompleteRun(ctx, run.ID, models.RunStatusFailed, "interrupted by restart"); err != nil {
			return err
		}
	}
	return nil
}

// ProcessNext runs the oldest created run. It reports whether a run was found;
// a failing job marks the run failed and is not returned as an error.
func (s *Scheduler) ProcessNext(ctx context.Context) (bool, error) {
	run, err := s.store.GetNextCreatedRun(ctx)
	if err != nil {
		return false, err
	}
	if run == nil {
		return false, nil
	}

	logger := zap.L().With(zap.String("run_id", run.ID), zap.String("kind", string(run.Kind)))
	logger.Info("processing run")

	if err := s.store.UpdateRunStatus(ctx, run.ID, models.RunStatusInProgress); err != nil {
		return true, err
	}

	jobErr := s.execute(ctx, run)

	// Record the outcome even when ctx was cancelled mid-run.
	finishCtx := context.WithoutCancel(ctx)
	status, errMsg := models.RunStatusDone, ""
	if jobErr != nil {
		status, errMsg = models.RunStatusFailed, jobErr.Error()
		logger.Error("run failed", zap.Error(jobErr))
	} else {
		logger.Info("run completed")
	}

	if err := s.store.CompleteRun(finishCtx, run.ID, status, errMsg); err != nil {
		return true, err
	}

	finished, err := s.store.GetRun(finishCtx, run.ID)
	if err != nil {
		return true, err
	}
	notifyCtx, cancel := context.WithTimeout(finishCtx, notifyTimeout)
	defer cancel()
	if err := s.notifier.RunFinished(notifyCtx, *finished); err != nil {
		logger.Warn("failed to send notification", zap.Error(err))
	}
	return true, nil
}

func (s *Scheduler) execute(ctx context.Context, run *models.Run) error {
	switch run.Kind {
	case models.RunKindInstruments:
		return s.executeInstruments(ctx, run)
	case models.RunKindAddresses:
		return s.executeAddresses(ctx, run)
	default:
		return eris.Errorf("scheduler: unknown run kind %q", run.Kind)
	}
}

func (s *Scheduler) executeInstruments(ctx context.Context, run *models.Run) error {
	instruments, err := s.instruments.Run(ctx, run)
	if err != nil {
		return err
	}
	if err := s.store.SaveInstruments(ctx, run.ID, instruments); err != nil {
		return err
	}

	n := len(instruments)
	return s.store.UpdateRunProgress(ctx, run.ID, db.Progress{
		Stage:     pipeline.StageComplete,
		Message:   fmt.Sprintf("Saved %d instruments", n),
		Processed: n,
		Found:     n,
		Total:     n,
	})
}

func (s *Scheduler) executeAddresses(ctx context.Context, run *models.Run) error {
	if run.SourceRunID == "" {
		return eris.New("scheduler: address run has no source run")
	}
	instruments, err := s.store.GetInstruments(ctx, run.SourceRunID)
	if err != nil {
		return err
	}
	if len(instruments) == 0 {
		return ErrNoInstruments
	}

	results, err := s.addresses.Run(ctx, run, instruments)
	if err != nil {
		return err
	}
	return s.store.SaveResults(ctx, run.ID, results)
}
