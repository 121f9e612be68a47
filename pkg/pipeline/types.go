package pipeline

import "time"

// Classification is the orchestrator's final verdict for a daily invocation.
type Classification string

const (
	ClassNoChange       Classification = "no_change"
	ClassUpdated        Classification = "updated"
	ClassFetchFailed    Classification = "fetch_failed"
	ClassStoreFailed    Classification = "store_failed"
	ClassAnalysisFailed Classification = "analysis_failed"
	ClassPublishFailed  Classification = "publish_failed"
)

// Failed reports whether the classification is a failure terminal.
func (c Classification) Failed() bool {
	switch c {
	case ClassFetchFailed, ClassStoreFailed, ClassAnalysisFailed, ClassPublishFailed:
		return true
	}
	return false
}

// RunRequest is the FSM input
type RunRequest struct {
	SourceURI   string
	NotebookKey string
}

// RunResponse is the FSM output (accumulated across transitions)
type RunResponse struct {
	// From Fetch
	RunID       int64
	Fingerprint string
	FetchedAt   time.Time
	RawSize     int

	// From Classify
	RetryPublish bool

	// From Commit
	RawKey string

	// From Analyze
	AnalysisStatus string
	OutputKey      string

	// From Publish
	PublishedKey string

	// Terminal verdict. Once Done is set, remaining states pass through
	// untouched (except Notify, which always runs).
	Classification Classification
	Detail         string
	Done           bool
	Notified       bool
}

// State names
const (
	StateFetch    = "fetch"
	StateClassify = "classify"
	StateCommit   = "commit"
	StateAnalyze  = "analyze"
	StatePublish  = "publish"
	StateNotify   = "notify"
	StateFailed   = "failed"
)
