package db

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	apperrors "github.com/rearc-quest/dataquest/pkg/errors"
)

// Repository provides journal operations for pipeline runs
type Repository struct {
	db *sql.DB
}

// NewRepository opens the journal database and ensures the schema exists
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("journal_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("journal_open_failed", "db_path", dbPath, "error", err)
		return nil, apperrors.Wrap(err, "failed to open journal database")
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("journal_schema_failed", "db_path", dbPath, "error", err)
		return nil, apperrors.Wrap(err, "failed to create journal schema")
	}

	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// Create inserts a new run row at the start of an invocation
func (r *Repository) Create(run *Run) error {
	query := `
		INSERT INTO runs (classification, detail, fingerprint, raw_key, analysis_status, output_key, published_key, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.Exec(query,
		run.Classification, run.Detail, run.Fingerprint, run.RawKey,
		run.AnalysisStatus, run.OutputKey, run.PublishedKey, run.ErrorMessage)
	if err != nil {
		slog.Error("journal_insert_failed", "error", err)
		return apperrors.Wrap(err, "failed to insert run")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return apperrors.Wrap(err, "failed to get last insert id")
	}
	run.ID = id

	slog.Info("journal_run_created", "run_id", run.ID)
	return nil
}

// Finish records a run's terminal verdict
func (r *Repository) Finish(run *Run) error {
	query := `
		UPDATE runs
		SET finished_at = CURRENT_TIMESTAMP, classification = ?, detail = ?,
		    fingerprint = ?, raw_key = ?, analysis_status = ?, output_key = ?,
		    published_key = ?, error_message = ?
		WHERE id = ?
	`
	result, err := r.db.Exec(query,
		run.Classification, run.Detail, run.Fingerprint, run.RawKey,
		run.AnalysisStatus, run.OutputKey, run.PublishedKey, run.ErrorMessage, run.ID)
	if err != nil {
		slog.Error("journal_update_failed", "run_id", run.ID, "error", err)
		return apperrors.Wrap(err, "failed to update run")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return fmt.Errorf("run not found: id=%d", run.ID)
	}

	slog.Info("journal_run_finished", "run_id", run.ID, "classification", run.Classification)
	return nil
}

const runColumns = `id, started_at, COALESCE(finished_at, ''), classification,
       COALESCE(detail, ''), COALESCE(fingerprint, ''), COALESCE(raw_key, ''),
       COALESCE(analysis_status, ''), COALESCE(output_key, ''),
       COALESCE(published_key, ''), COALESCE(error_message, '')`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var run Run
	err := row.Scan(
		&run.ID, &run.StartedAt, &run.FinishedAt, &run.Classification,
		&run.Detail, &run.Fingerprint, &run.RawKey,
		&run.AnalysisStatus, &run.OutputKey, &run.PublishedKey, &run.ErrorMessage)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// LatestByFingerprint returns the most recent run for a fingerprint, or nil
// if none exists.
func (r *Repository) LatestByFingerprint(fingerprint string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE fingerprint = ? ORDER BY id DESC LIMIT 1`

	run, err := scanRun(r.db.QueryRow(query, fingerprint))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("journal_query_failed", "fingerprint", fingerprint, "error", err)
		return nil, apperrors.Wrap(err, "failed to query run")
	}
	return run, nil
}

// List retrieves all runs, newest first
func (r *Repository) List() ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY id DESC`

	rows, err := r.db.Query(query)
	if err != nil {
		slog.Error("journal_list_failed", "error", err)
		return nil, apperrors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan row")
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "rows error")
	}

	slog.Info("journal_list_complete", "run_count", len(runs))
	return runs, nil
}

// Prune deletes journal rows older than the newest keep rows.
func (r *Repository) Prune(keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	query := `DELETE FROM runs WHERE id NOT IN (SELECT id FROM runs ORDER BY id DESC LIMIT ?)`
	result, err := r.db.Exec(query, keep)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to prune runs")
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to get rows affected")
	}

	slog.Info("journal_pruned", "deleted", deleted, "kept", keep)
	return deleted, nil
}
