package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"property-scraper/models"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

const runColumns = `id, kind, status, source_run_id, instrument_types, start_date, end_date,
	total_records, records_processed, addresses_found, success_rate, error_message, sheet_name,
	started_at, finished_at, created_at`

// CreateRun inserts a new run in the created state and fills in its ID and timestamps
func (db *DB) CreateRun(ctx context.Context, run *models.Run) error {
	types, err := json.Marshal(run.InstrumentTypes)
	if err != nil {
		return eris.Wrap(err, "db: marshal instrument types")
	}

	now := time.Now().UTC()
	run.ID = uuid.New().String()
	run.Status = models.RunStatusCreated
	run.CreatedAt = now

	_, err = db.conn.ExecContext(ctx, db.rebind(`
		INSERT INTO runs (id, kind, status, source_run_id, instrument_types, start_date, end_date, total_records, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), run.ID, string(run.Kind), string(run.Status), run.SourceRunID, string(types),
		run.StartDate, run.EndDate, run.TotalRecords, now, now)
	if err != nil {
		return eris.Wrap(err, "db: insert run")
	}
	return nil
}

// GetRun retrieves a run by ID
func (db *DB) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	row := db.conn.QueryRowContext(ctx, db.rebind(`SELECT `+runColumns+` FROM runs WHERE id = ?`), runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "db: get run %s", runID)
	}
	return run, nil
}

// GetNextCreatedRun gets the oldest run waiting to be processed, or nil when there is none
func (db *DB) GetNextCreatedRun(ctx context.Context) (*models.Run, error) {
	row := db.conn.QueryRowContext(ctx, db.rebind(`
		SELECT `+runColumns+`
		FROM runs
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT 1
	`), string(models.RunStatusCreated))

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "db: get next created run")
	}
	return run, nil
}

// ListRuns returns the most recent runs first
func (db *DB) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	return db.queryRuns(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
}

// ListActiveRuns returns runs that are queued or executing, oldest first
func (db *DB) ListActiveRuns(ctx context.Context) ([]models.Run, error) {
	return db.queryRuns(ctx, `SELECT `+runColumns+` FROM runs WHERE status IN (?, ?) ORDER BY created_at ASC`,
		string(models.RunStatusCreated), string(models.RunStatusInProgress))
}

func (db *DB) queryRuns(ctx context.Context, query string, args ...any) ([]models.Run, error) {
	rows, err := db.conn.QueryContext(ctx, db.rebind(query), args...)
	if err != nil {
		return nil, eris.Wrap(err, "db: list runs")
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "db: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "db: list runs iterate")
}

// UpdateRunStatus updates the status of a run, stamping the start time when it begins executing
func (db *DB) UpdateRunStatus(ctx context.Context, runID string, status models.RunStatus) error {
	now := time.Now().UTC()

	query := `UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`
	args := []any{string(status), now, runID}
	if status == models.RunStatusInProgress {
		query = `UPDATE runs SET status = ?, started_at = ?, updated_at = ? WHERE id = ?`
		args = []any{string(status), now, now, runID}
	}

	res, err := db.conn.ExecContext(ctx, db.rebind(query), args...)
	if err != nil {
		return eris.Wrapf(err, "db: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

// UpdateRunProgress updates a run's counters and appends a process log entry
func (db *DB) UpdateRunProgress(ctx context.Context, runID string, p Progress) error {
	now := time.Now().UTC()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "db: begin progress update")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, db.rebind(`
		UPDATE runs
		SET total_records = ?, records_processed = ?, addresses_found = ?, success_rate = ?, updated_at = ?
		WHERE id = ?
	`), p.Total, p.Processed, p.Found, p.SuccessRate(), now, runID)
	if err != nil {
		return eris.Wrapf(err, "db: update run progress %s", runID)
	}
	if err := checkRowsAffected(res, "run", runID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, db.rebind(`
		INSERT INTO process_logs (run_id, timestamp, stage, message, records_processed, addresses_found, progress_percentage)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), runID, now, p.Stage, p.Message, p.Processed, p.Found, p.Percentage())
	if err != nil {
		return eris.Wrapf(err, "db: insert process log %s", runID)
	}

	return eris.Wrap(tx.Commit(), "db: commit progress update")
}

// UpdateRunSheetName records the Google Sheets tab a run was exported to
func (db *DB) UpdateRunSheetName(ctx context.Context, runID, sheetName string) error {
	res, err := db.conn.ExecContext(ctx, db.rebind(`
		UPDATE runs SET sheet_name = ?, updated_at = ? WHERE id = ?
	`), sheetName, time.Now().UTC(), runID)
	if err != nil {
		return eris.Wrapf(err, "db: update sheet name %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

// CompleteRun moves a run to a terminal status
func (db *DB) CompleteRun(ctx context.Context, runID string, status models.RunStatus, errMsg string) error {
	now := time.Now().UTC()
	res, err := db.conn.ExecContext(ctx, db.rebind(`
		UPDATE runs SET status = ?, error_message = ?, finished_at = ?, updated_at = ? WHERE id = ?
	`), string(status), errMsg, now, now, runID)
	if err != nil {
		return eris.Wrapf(err, "db: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

// DeleteRun removes a run along with its logs and records
func (db *DB) DeleteRun(ctx context.Context, runID string) error {
	res, err := db.conn.ExecContext(ctx, db.rebind(`DELETE FROM runs WHERE id = ?`), runID)
	if err != nil {
		return eris.Wrapf(err, "db: delete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

// GetProcessLogs returns a run's progress entries in the order they were written
func (db *DB) GetProcessLogs(ctx context.Context, runID string) ([]models.ProcessLog, error) {
	rows, err := db.conn.QueryContext(ctx, db.rebind(`
		SELECT run_id, timestamp, stage, message, records_processed, addresses_found, progress_percentage
		FROM process_logs
		WHERE run_id = ?
		ORDER BY id ASC
	`), runID)
	if err != nil {
		return nil, eris.Wrapf(err, "db: get process logs %s", runID)
	}
	defer rows.Close()

	var logs []models.ProcessLog
	for rows.Next() {
		var l models.ProcessLog
		if err := rows.Scan(&l.RunID, &l.Timestamp, &l.Stage, &l.Message,
			&l.RecordsProcessed, &l.AddressesFound, &l.ProgressPercentage); err != nil {
			return nil, eris.Wrap(err, "db: scan process log")
		}
		logs = append(logs, l)
	}
	return logs, eris.Wrap(rows.Err(), "db: process logs iterate")
}

func scanRun(row scannable) (*models.Run, error) {
	var r models.Run
	var kind, status, types string
	var startedAt, finishedAt sql.NullTime

	err := row.Scan(&r.ID, &kind, &status, &r.SourceRunID, &types, &r.StartDate, &r.EndDate,
		&r.TotalRecords, &r.RecordsProcessed, &r.AddressesFound, &r.SuccessRate, &r.ErrorMessage, &r.SheetName,
		&startedAt, &finishedAt, &r.CreatedAt)
	if err != nil {
		return nil, err
	}

	r.Kind = models.RunKind(kind)
	r.Status = models.RunStatus(status)
	if startedAt.Valid {
		r.StartedAt = startedAt.Time
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		r.FinishedAt = &t
	}
	if err := json.Unmarshal([]byte(types), &r.InstrumentTypes); err != nil {
		return nil, eris.Wrap(err, "db: unmarshal instrument types")
	}
	return &r, nil
}
