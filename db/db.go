package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// DB implements Store on database/sql for both SQLite and Postgres
type DB struct {
	conn    *sql.DB
	dialect dialect
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer; WAL lets the web UI read while a job writes.
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &DB{conn: conn, dialect: dialectSQLite}, nil
}

// NewPostgres opens a Postgres connection. An empty DSN is built from
// DATABASE_URL or the DB_* environment variables.
func NewPostgres(dsn string) (*DB, error) {
	if dsn == "" {
		dsn = postgresDSNFromEnv()
	}

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: open")
	}

	if err := conn.Ping(); err != nil {
		conn.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "postgres: ping")
	}

	return &DB{conn: conn, dialect: dialectPostgres}, nil
}

func postgresDSNFromEnv() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		getEnvOrDefault("DB_HOST", "localhost"),
		getEnvOrDefault("DB_PORT", "5432"),
		getEnvOrDefault("DB_USER", "property_scraper"),
		getEnvOrDefault("DB_PASSWORD", ""),
		getEnvOrDefault("DB_NAME", "property_scraper"),
		getEnvOrDefault("DB_SSLMODE", "disable"),
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id                TEXT PRIMARY KEY,
	kind              TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'created',
	source_run_id     TEXT NOT NULL DEFAULT '',
	instrument_types  TEXT NOT NULL DEFAULT '[]',
	start_date        TEXT NOT NULL DEFAULT '',
	end_date          TEXT NOT NULL DEFAULT '',
	total_records     INTEGER NOT NULL DEFAULT 0,
	records_processed INTEGER NOT NULL DEFAULT 0,
	addresses_found   INTEGER NOT NULL DEFAULT 0,
	success_rate      REAL NOT NULL DEFAULT 0,
	error_message     TEXT NOT NULL DEFAULT '',
	sheet_name        TEXT NOT NULL DEFAULT '',
	started_at        DATETIME,
	finished_at       DATETIME,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL,
	CONSTRAINT valid_status CHECK (status IN ('created', 'in_progress', 'done', 'failed'))
);

CREATE TABLE IF NOT EXISTS process_logs (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id              TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	timestamp           DATETIME NOT NULL,
	stage               TEXT NOT NULL,
	message             TEXT NOT NULL,
	records_processed   INTEGER NOT NULL DEFAULT 0,
	addresses_found     INTEGER NOT NULL DEFAULT 0,
	progress_percentage REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS instruments (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id            TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position          INTEGER NOT NULL,
	file_no           TEXT NOT NULL,
	file_date         TEXT NOT NULL,
	doc_type          TEXT NOT NULL,
	film_code         TEXT NOT NULL,
	grantors          TEXT NOT NULL,
	grantees          TEXT NOT NULL,
	legal_description TEXT NOT NULL,
	pages             TEXT NOT NULL,
	pdf_url           TEXT NOT NULL,
	instrument_type   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS results (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id            TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position          INTEGER NOT NULL,
	file_no           TEXT NOT NULL,
	grantor           TEXT NOT NULL,
	grantee           TEXT NOT NULL,
	instrument_type   TEXT NOT NULL,
	recording_date    TEXT NOT NULL,
	film_code         TEXT NOT NULL,
	legal_description TEXT NOT NULL,
	legal_desc_clean  TEXT NOT NULL,
	property_address  TEXT NOT NULL,
	source            TEXT NOT NULL,
	search_name       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_process_logs_run_id ON process_logs(run_id);
CREATE INDEX IF NOT EXISTS idx_instruments_run_id ON instruments(run_id);
CREATE INDEX IF NOT EXISTS idx_results_run_id ON results(run_id);
`

// The Postgres schema differs only in column types.
var postgresSchema = strings.NewReplacer(
	"INTEGER PRIMARY KEY AUTOINCREMENT", "SERIAL PRIMARY KEY",
	"DATETIME", "TIMESTAMPTZ",
	"REAL", "DOUBLE PRECISION",
).Replace(sqliteSchema)

// Migrate creates the tables if they don't exist
func (db *DB) Migrate(ctx context.Context) error {
	schema := sqliteSchema
	if db.dialect == dialectPostgres {
		schema = postgresSchema
	}

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return eris.Wrap(err, "db: migrate")
	}

	zap.L().Debug("database schema initialized")
	return nil
}

// rebind rewrites ? placeholders to $1, $2, ... for Postgres
func (db *DB) rebind(query string) string {
	if db.dialect != dialectPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "db: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}
