package db

// Schema defines the SQLite schema for the run journal. One row per daily
// invocation; the analysis/publish columns let a later run detect a
// succeeded analysis that was never published and retry the publish step.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    finished_at TIMESTAMP,
    classification TEXT NOT NULL DEFAULT 'pending',
    detail TEXT,
    fingerprint TEXT,
    raw_key TEXT,
    analysis_status TEXT,
    output_key TEXT,
    published_key TEXT,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_fingerprint ON runs(fingerprint);
CREATE INDEX IF NOT EXISTS idx_runs_classification ON runs(classification);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Run is one journal row.
type Run struct {
	ID             int64
	StartedAt      string
	FinishedAt     string
	Classification string
	Detail         string
	Fingerprint    string
	RawKey         string
	AnalysisStatus string
	OutputKey      string
	PublishedKey   string
	ErrorMessage   string
}
