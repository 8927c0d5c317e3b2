package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"farescope/pkg/amadeus"
)

// DB is the run ledger: which queries each invocation executed, how they
// ended and where the raw payloads went. It records, it never feeds results
// back into later searches.
type DB struct {
	sql  *sql.DB
	lock *flock.Flock
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS runs (
  id          INTEGER PRIMARY KEY,
  started_at  DATETIME NOT NULL,
  mode        TEXT NOT NULL,
  executed    INTEGER NOT NULL,
  failed      INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS run_queries (
  id              INTEGER PRIMARY KEY,
  run_id          INTEGER NOT NULL REFERENCES runs(id),
  origin          TEXT NOT NULL,
  destination     TEXT NOT NULL,
  departure_date  TEXT NOT NULL,
  return_date     TEXT,
  offers          INTEGER NOT NULL DEFAULT 0,
  status          TEXT NOT NULL,
  output_file     TEXT
);
CREATE INDEX IF NOT EXISTS idx_run_queries_run ON run_queries(run_id);
    `); err != nil {
		return nil, err
	}
	return &DB{sql: db, lock: flock.New(path + ".lock")}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// QueryRecord is one executed query's ledger row.
type QueryRecord struct {
	Origin        string
	Destination   string
	DepartureDate string
	ReturnDate    string
	Offers        int
	Status        string
	OutputFile    string
}

// Run is one ledger entry as read back for display.
type Run struct {
	ID        int64
	StartedAt time.Time
	Mode      string
	Executed  int
	Failed    int
}

// StatusOf maps an outcome error onto the ledger's status column.
func StatusOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case err == amadeus.ErrRateLimited:
		return "rate_limited"
	default:
		return err.Error()
	}
}

// RecordRun writes one run and its per-query outcomes in a single
// transaction. An advisory file lock serializes writers, concurrent
// invocations wait instead of tripping over each other.
func (d *DB) RecordRun(ctx context.Context, mode string, startedAt time.Time, records []QueryRecord) (int64, error) {
	if err := d.acquireLock(); err != nil {
		return 0, err
	}
	defer d.lock.Unlock()

	failed := 0
	for _, r := range records {
		if r.Status != "ok" {
			failed++
		}
	}

	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (started_at, mode, executed, failed) VALUES (?, ?, ?, ?)`,
		startedAt.UTC().Format(time.RFC3339), mode, len(records), failed)
	if err != nil {
		return 0, err
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, r := range records {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO run_queries (run_id, origin, destination, departure_date, return_date, offers, status, output_file)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, r.Origin, r.Destination, r.DepartureDate, r.ReturnDate, r.Offers, r.Status, r.OutputFile); err != nil {
			return 0, err
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return runID, nil
}

// RecentRuns returns the newest runs first, at most limit of them.
func (d *DB) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := d.sql.QueryContext(ctx,
		`SELECT id, started_at, mode, executed, failed FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started string
		if err := rows.Scan(&r.ID, &started, &r.Mode, &r.Executed, &r.Failed); err != nil {
			return nil, err
		}
		r.StartedAt, err = time.Parse(time.RFC3339, started)
		if err != nil {
			return nil, fmt.Errorf("bad started_at %q: %w", started, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunQueries returns the per-query rows of one run, in execution order.
func (d *DB) RunQueries(ctx context.Context, runID int64) ([]QueryRecord, error) {
	rows, err := d.sql.QueryContext(ctx,
		`SELECT origin, destination, departure_date, return_date, offers, status, output_file
		 FROM run_queries WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []QueryRecord
	for rows.Next() {
		var r QueryRecord
		var ret, file sql.NullString
		if err := rows.Scan(&r.Origin, &r.Destination, &r.DepartureDate, &ret, &r.Offers, &r.Status, &file); err != nil {
			return nil, err
		}
		r.ReturnDate = ret.String
		r.OutputFile = file.String
		records = append(records, r)
	}
	return records, rows.Err()
}

func (d *DB) acquireLock() error {
	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire ledger lock: %w", err)
	}
	if !locked {
		fmt.Fprintln(os.Stderr, "Another farescope process is writing to the run ledger, waiting for it to finish...")
		if err := d.lock.Lock(); err != nil {
			return fmt.Errorf("failed to acquire ledger lock after waiting: %w", err)
		}
	}
	return nil
}
