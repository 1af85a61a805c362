package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cognicore/sheetclass/pkg/sheetclass/store"
)

// sqliteStore implements the Store interface using SQLite
type sqliteStore struct {
	db *sql.DB
}

// OpenSQLite opens a SQLite database with WAL mode enabled.
func OpenSQLite(ctx context.Context, path string) (store.Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, err
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteStore{db: db}, nil
}

// Close closes the database connection
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS training_runs (
	id TEXT PRIMARY KEY,
	worker_id TEXT NOT NULL,
	address TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	rows_fetched INTEGER NOT NULL DEFAULT 0,
	categories TEXT,
	documents INTEGER NOT NULL DEFAULT 0,
	fetch_ns INTEGER NOT NULL DEFAULT 0,
	build_ns INTEGER NOT NULL DEFAULT 0,
	train_ns INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	error TEXT
);

CREATE INDEX IF NOT EXISTS idx_training_runs_started ON training_runs(started_at);

CREATE TABLE IF NOT EXISTS results (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id TEXT UNIQUE NOT NULL,
	request_id TEXT,
	worker_id TEXT,
	text TEXT,
	keywords TEXT,
	category TEXT,
	probability REAL,
	classified_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_request ON results(request_id);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// RecordTraining inserts or replaces a training run.
func (s *sqliteStore) RecordTraining(ctx context.Context, run store.TrainingRun) error {
	catsJSON, err := json.Marshal(run.Categories)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO training_runs (id, worker_id, address, started_at, finished_at, rows_fetched, categories, documents, fetch_ns, build_ns, train_ns, status, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	finished_at=excluded.finished_at,
	rows_fetched=excluded.rows_fetched,
	categories=excluded.categories,
	documents=excluded.documents,
	fetch_ns=excluded.fetch_ns,
	build_ns=excluded.build_ns,
	train_ns=excluded.train_ns,
	status=excluded.status,
	error=excluded.error;
`, run.ID, run.WorkerID, run.Address, run.StartedAt.UnixNano(), run.FinishedAt.UnixNano(),
		run.Rows, string(catsJSON), run.Documents,
		int64(run.FetchDuration), int64(run.BuildDuration), int64(run.TrainDuration),
		run.Status, run.Error)
	return err
}

// ListTrainings returns up to limit runs, newest first.
func (s *sqliteStore) ListTrainings(ctx context.Context, limit int) ([]store.TrainingRun, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, worker_id, address, started_at, finished_at, rows_fetched, categories, documents, fetch_ns, build_ns, train_ns, status, COALESCE(error, '')
FROM training_runs
ORDER BY started_at DESC, id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.TrainingRun
	for rows.Next() {
		var (
			run                    store.TrainingRun
			started, finished      int64
			catsJSON               sql.NullString
			fetchNS, buildNS, trNS int64
		)
		if err := rows.Scan(&run.ID, &run.WorkerID, &run.Address, &started, &finished, &run.Rows,
			&catsJSON, &run.Documents, &fetchNS, &buildNS, &trNS, &run.Status, &run.Error); err != nil {
			return nil, err
		}
		run.StartedAt = time.Unix(0, started)
		run.FinishedAt = time.Unix(0, finished)
		run.FetchDuration = time.Duration(fetchNS)
		run.BuildDuration = time.Duration(buildNS)
		run.TrainDuration = time.Duration(trNS)
		if catsJSON.Valid && catsJSON.String != "" {
			if err := json.Unmarshal([]byte(catsJSON.String), &run.Categories); err != nil {
				return nil, err
			}
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// RecordResult journals a classification. Document IDs are unique.
func (s *sqliteStore) RecordResult(ctx context.Context, r store.ResultRecord) error {
	kwJSON, err := json.Marshal(r.Keywords)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO results (document_id, request_id, worker_id, text, keywords, category, probability, classified_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(document_id) DO NOTHING;
`, r.DocumentID, r.RequestID, r.WorkerID, r.Text, string(kwJSON), r.Category, r.Probability, r.ClassifiedAt.UnixNano())
	return err
}

const resultColumns = `document_id, COALESCE(request_id, ''), COALESCE(worker_id, ''), COALESCE(text, ''), keywords, COALESCE(category, ''), COALESCE(probability, 0), classified_at`

// GetResult returns the latest result recorded for requestID.
func (s *sqliteStore) GetResult(ctx context.Context, requestID string) (store.ResultRecord, bool, error) {
	if requestID == "" {
		return store.ResultRecord{}, false, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM results WHERE request_id = ? ORDER BY seq DESC LIMIT 1`, requestID)
	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ResultRecord{}, false, nil
	}
	if err != nil {
		return store.ResultRecord{}, false, err
	}
	return r, true, nil
}

// RecentResults returns up to limit results, newest first.
func (s *sqliteStore) RecentResults(ctx context.Context, limit int) ([]store.ResultRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+resultColumns+` FROM results ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ResultRecord
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(sc scanner) (store.ResultRecord, error) {
	var (
		r      store.ResultRecord
		kwJSON sql.NullString
		at     int64
	)
	if err := sc.Scan(&r.DocumentID, &r.RequestID, &r.WorkerID, &r.Text, &kwJSON, &r.Category, &r.Probability, &at); err != nil {
		return store.ResultRecord{}, err
	}
	if kwJSON.Valid && kwJSON.String != "" && kwJSON.String != "null" {
		if err := json.Unmarshal([]byte(kwJSON.String), &r.Keywords); err != nil {
			return store.ResultRecord{}, err
		}
	}
	r.ClassifiedAt = time.Unix(0, at)
	return r, nil
}
