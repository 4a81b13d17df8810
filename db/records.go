package db

import (
	"context"

	"property-scraper/models"

	"github.com/rotisserie/eris"
)

// SaveInstruments replaces the instruments stored for a run
func (db *DB) SaveInstruments(ctx context.Context, runID string, instruments []models.Instrument) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "db: begin save instruments")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, db.rebind(`DELETE FROM instruments WHERE run_id = ?`), runID); err != nil {
		return eris.Wrapf(err, "db: clear instruments %s", runID)
	}

	stmt, err := tx.PrepareContext(ctx, db.rebind(`
		INSERT INTO instruments (run_id, position, file_no, file_date, doc_type, film_code, grantors, grantees,
			legal_description, pages, pdf_url, instrument_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return eris.Wrap(err, "db: prepare instrument insert")
	}
	defer stmt.Close()

	for i, inst := range instruments {
		if _, err := stmt.ExecContext(ctx, runID, i, inst.FileNo, inst.FileDate, inst.DocType, inst.FilmCode,
			inst.Grantors, inst.Grantees, inst.LegalDescription, inst.Pages, inst.PdfURL, inst.InstrumentType); err != nil {
			return eris.Wrapf(err, "db: insert instrument %s", inst.FileNo)
		}
	}

	return eris.Wrap(tx.Commit(), "db: commit instruments")
}

// GetInstruments returns a run's instruments in the order they were scraped
func (db *DB) GetInstruments(ctx context.Context, runID string) ([]models.Instrument, error) {
	rows, err := db.conn.QueryContext(ctx, db.rebind(`
		SELECT file_no, file_date, doc_type, film_code, grantors, grantees, legal_description, pages, pdf_url, instrument_type
		FROM instruments
		WHERE run_id = ?
		ORDER BY position ASC
	`), runID)
	if err != nil {
		return nil, eris.Wrapf(err, "db: get instruments %s", runID)
	}
	defer rows.Close()

	var instruments []models.Instrument
	for rows.Next() {
		var inst models.Instrument
		if err := rows.Scan(&inst.FileNo, &inst.FileDate, &inst.DocType, &inst.FilmCode, &inst.Grantors,
			&inst.Grantees, &inst.LegalDescription, &inst.Pages, &inst.PdfURL, &inst.InstrumentType); err != nil {
			return nil, eris.Wrap(err, "db: scan instrument")
		}
		instruments = append(instruments, inst)
	}
	return instruments, eris.Wrap(rows.Err(), "db: instruments iterate")
}

// SaveResults replaces the address results stored for a run
func (db *DB) SaveResults(ctx context.Context, runID string, results []models.AddressResult) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "db: begin save results")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, db.rebind(`DELETE FROM results WHERE run_id = ?`), runID); err != nil {
		return eris.Wrapf(err, "db: clear results %s", runID)
	}

	stmt, err := tx.PrepareContext(ctx, db.rebind(`
		INSERT INTO results (run_id, position, file_no, grantor, grantee, instrument_type, recording_date, film_code,
			legal_description, legal_desc_clean, property_address, source, search_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return eris.Wrap(err, "db: prepare result insert")
	}
	defer stmt.Close()

	for i, r := range results {
		if _, err := stmt.ExecContext(ctx, runID, i, r.FileNo, r.Grantor, r.Grantee, r.InstrumentType, r.RecordingDate,
			r.FilmCode, r.LegalDescription, r.LegalDescClean, r.PropertyAddress, r.Source, r.SearchName); err != nil {
			return eris.Wrapf(err, "db: insert result %s", r.FileNo)
		}
	}

	return eris.Wrap(tx.Commit(), "db: commit results")
}

// GetResults returns a run's address results in order
func (db *DB) GetResults(ctx context.Context, runID string) ([]models.AddressResult, error) {
	rows, err := db.conn.QueryContext(ctx, db.rebind(`
		SELECT file_no, grantor, grantee, instrument_type, recording_date, film_code, legal_description,
			legal_desc_clean, property_address, source, search_name
		FROM results
		WHERE run_id = ?
		ORDER BY position ASC
	`), runID)
	if err != nil {
		return nil, eris.Wrapf(err, "db: get results %s", runID)
	}
	defer rows.Close()

	var results []models.AddressResult
	for rows.Next() {
		var r models.AddressResult
		if err := rows.Scan(&r.FileNo, &r.Grantor, &r.Grantee, &r.InstrumentType, &r.RecordingDate, &r.FilmCode,
			&r.LegalDescription, &r.LegalDescClean, &r.PropertyAddress, &r.Source, &r.SearchName); err != nil {
			return nil, eris.Wrap(err, "db: scan result")
		}
		results = append(results, r)
	}
	return results, eris.Wrap(rows.Err(), "db: results iterate")
}
