package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/superfly/fsm"

	"github.com/rearc-quest/dataquest/pkg/analysis"
	"github.com/rearc-quest/dataquest/pkg/db"
	"github.com/rearc-quest/dataquest/pkg/detect"
	"github.com/rearc-quest/dataquest/pkg/fetch"
	"github.com/rearc-quest/dataquest/pkg/notify"
	"github.com/rearc-quest/dataquest/pkg/storage"
)

// Fetcher retrieves the provider dataset.
type Fetcher interface {
	Fetch(ctx context.Context, sourceURI string) (*fetch.Snapshot, error)
}

// Store is the durable-storage surface the pipeline needs.
type Store interface {
	storage.BlobStore
	LoadState(ctx context.Context, stateKey string) (*storage.StoredState, error)
}

// Detector classifies a snapshot against prior state.
type Detector interface {
	Classify(snap *fetch.Snapshot, prior *storage.StoredState) (detect.Classification, error)
}

// AnalysisTrigger executes the notebook procedure.
type AnalysisTrigger interface {
	RunAnalysis(ctx context.Context, notebookKey string, input analysis.InputReference) *analysis.Run
}

// Publisher moves analysis output to the published location.
type Publisher interface {
	Publish(ctx context.Context, outputKey string) (string, error)
}

// Notifier reports the terminal outcome.
type Notifier interface {
	Notify(ctx context.Context, outcome *notify.Outcome) error
}

// Journal persists run verdicts across invocations.
type Journal interface {
	Create(run *db.Run) error
	Finish(run *db.Run) error
	LatestByFingerprint(fingerprint string) (*db.Run, error)
}

// Machine holds dependencies for FSM transitions. A Machine serves exactly
// one run at a time (the scheduler guarantees single-flight), so run-local
// data that is too large for the persisted response lives on the struct.
type Machine struct {
	fetcher    Fetcher
	detector   Detector
	store      Store
	trigger    AnalysisTrigger
	publisher  Publisher
	notifier   Notifier
	journal    Journal
	rawPrefix  string
	stateKey   string
	maxRetries int

	// Run-local, reset by handleFetch.
	snap *fetch.Snapshot
}

// NewMachine creates a new FSM machine with dependencies
func NewMachine(
	fetcher Fetcher,
	detector Detector,
	store Store,
	trigger AnalysisTrigger,
	publisher Publisher,
	notifier Notifier,
	journal Journal,
	rawPrefix string,
	stateKey string,
	maxRetries int,
) *Machine {
	return &Machine{
		fetcher:    fetcher,
		detector:   detector,
		store:      store,
		trigger:    trigger,
		publisher:  publisher,
		notifier:   notifier,
		journal:    journal,
		rawPrefix:  rawPrefix,
		stateKey:   stateKey,
		maxRetries: maxRetries,
	}
}

func (m *Machine) checkRetries(ctx context.Context, state string) error {
	if retryCount := fsm.RetryFromContext(ctx); retryCount >= uint64(m.maxRetries) {
		slog.Error("max_retries_exceeded", "state", state, "max_retries", m.maxRetries)
		return fmt.Errorf("max retries (%d) exceeded in state %s", m.maxRetries, state)
	}
	return nil
}

// handleFetch opens the journal row and retrieves the dataset. Fetch failures
// are already retried inside the fetcher; when they escalate here the run is
// decided as fetch_failed and the remaining states pass through to notify.
func (m *Machine) handleFetch(ctx context.Context, req *fsm.Request[RunRequest, RunResponse]) (*fsm.Response[RunResponse], error) {
	slog.Info("pipeline_state_fetch", "source_uri", req.Msg.SourceURI)

	if err := m.checkRetries(ctx, StateFetch); err != nil {
		return nil, fsm.Abort(err)
	}

	resp := req.W.Msg
	if resp == nil {
		resp = &RunResponse{}
	}

	if resp.RunID == 0 {
		row := &db.Run{Classification: "pending"}
		if err := m.journal.Create(row); err != nil {
			return nil, fsm.Abort(err)
		}
		resp.RunID = row.ID
	}

	snap, err := m.fetcher.Fetch(ctx, req.Msg.SourceURI)
	if err != nil {
		m.decide(resp, ClassFetchFailed, err.Error())
		return fsm.NewResponse(resp), nil
	}

	m.snap = snap
	resp.Fingerprint = snap.Fingerprint
	resp.FetchedAt = snap.FetchedAt
	resp.RawSize = len(snap.RawContent)

	if prof, perr := detect.ParseProfile(snap.RawContent); perr == nil {
		slog.Info("dataset_profile",
			"records", prof.Records,
			"first_year", prof.FirstYear,
			"last_year", prof.LastYear,
			"latest_population", prof.LatestPopulation,
		)
	}

	return fsm.NewResponse(resp), nil
}

// handleClassify compares the snapshot against stored state and decides
// whether the run commits, no-ops, or recovers an unpublished analysis.
func (m *Machine) handleClassify(ctx context.Context, req *fsm.Request[RunRequest, RunResponse]) (*fsm.Response[RunResponse], error) {
	slog.Info("pipeline_state_classify")

	if err := m.checkRetries(ctx, StateClassify); err != nil {
		return nil, fsm.Abort(err)
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}
	if resp.Done {
		return fsm.NewResponse(resp), nil
	}

	prior, err := m.store.LoadState(ctx, m.stateKey)
	if err != nil {
		m.decide(resp, ClassStoreFailed, "failed to load stored state: "+err.Error())
		return fsm.NewResponse(resp), nil
	}

	class, verr := m.detector.Classify(m.snap, prior)
	switch class {
	case detect.Invalid:
		// Never overwrites good stored state; folded into no_change with a
		// distinct detail so the notification is unambiguous.
		m.decide(resp, ClassNoChange, "invalid_payload: "+verr.Error())
	case detect.Unchanged:
		if prev, jerr := m.journal.LatestByFingerprint(prior.Fingerprint); jerr == nil &&
			prev != nil && prev.AnalysisStatus == string(analysis.StatusSucceeded) &&
			prev.OutputKey != "" && prev.PublishedKey == "" {
			// A previous run analyzed this dataset but never published.
			slog.Info("publish_recovery_detected", "output_key", prev.OutputKey, "previous_run_id", prev.ID)
			resp.RetryPublish = true
			resp.OutputKey = prev.OutputKey
			resp.AnalysisStatus = prev.AnalysisStatus
		} else {
			m.decide(resp, ClassNoChange, "dataset unchanged since last run")
		}
	case detect.New:
		// Run continues into commit.
	}

	return fsm.NewResponse(resp), nil
}

// handleCommit persists the raw payload and the state record, in that order.
func (m *Machine) handleCommit(ctx context.Context, req *fsm.Request[RunRequest, RunResponse]) (*fsm.Response[RunResponse], error) {
	slog.Info("pipeline_state_commit")

	if err := m.checkRetries(ctx, StateCommit); err != nil {
		return nil, fsm.Abort(err)
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}
	if resp.Done || resp.RetryPublish {
		return fsm.NewResponse(resp), nil
	}

	state, err := storage.CommitSnapshot(ctx, m.store, m.snap, m.rawPrefix, m.stateKey)
	if err != nil {
		m.decide(resp, ClassStoreFailed, err.Error())
		return fsm.NewResponse(resp), nil
	}
	resp.RawKey = state.StorageKey

	return fsm.NewResponse(resp), nil
}

// handleAnalyze runs the notebook against the committed dataset. A failed
// analysis does not roll back the committed state: the data is legitimately
// new, and the next run will classify it unchanged.
func (m *Machine) handleAnalyze(ctx context.Context, req *fsm.Request[RunRequest, RunResponse]) (*fsm.Response[RunResponse], error) {
	slog.Info("pipeline_state_analyze")

	if err := m.checkRetries(ctx, StateAnalyze); err != nil {
		return nil, fsm.Abort(err)
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}
	if resp.Done || resp.RetryPublish {
		return fsm.NewResponse(resp), nil
	}

	run := m.trigger.RunAnalysis(ctx, req.Msg.NotebookKey, analysis.InputReference{
		StorageKey:  resp.RawKey,
		Fingerprint: resp.Fingerprint,
	})
	resp.AnalysisStatus = string(run.Status)

	if run.Status != analysis.StatusSucceeded {
		m.decide(resp, ClassAnalysisFailed, run.ErrorDetail)
		return fsm.NewResponse(resp), nil
	}
	resp.OutputKey = run.OutputKey

	return fsm.NewResponse(resp), nil
}

// handlePublish copies the analysis output to the published location, both
// for fresh runs and for publish recovery of a previous run's output.
func (m *Machine) handlePublish(ctx context.Context, req *fsm.Request[RunRequest, RunResponse]) (*fsm.Response[RunResponse], error) {
	slog.Info("pipeline_state_publish")

	if err := m.checkRetries(ctx, StatePublish); err != nil {
		return nil, fsm.Abort(err)
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}
	if resp.Done || resp.OutputKey == "" {
		return fsm.NewResponse(resp), nil
	}

	publishedKey, err := m.publisher.Publish(ctx, resp.OutputKey)
	if err != nil {
		m.decide(resp, ClassPublishFailed, err.Error())
		return fsm.NewResponse(resp), nil
	}
	resp.PublishedKey = publishedKey

	if resp.RetryPublish {
		m.decide(resp, ClassNoChange, "dataset unchanged; published output of previous analysis")
	} else {
		m.decide(resp, ClassUpdated, "new dataset committed, analyzed, and published")
	}

	return fsm.NewResponse(resp), nil
}

// handleNotify runs on every terminal path: it emits exactly one outcome
// message and closes the journal row.
func (m *Machine) handleNotify(ctx context.Context, req *fsm.Request[RunRequest, RunResponse]) (*fsm.Response[RunResponse], error) {
	slog.Info("pipeline_state_notify")

	if err := m.checkRetries(ctx, StateNotify); err != nil {
		return nil, fsm.Abort(err)
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}

	outcome := &notify.Outcome{
		Classification: string(resp.Classification),
		Detail:         resp.Detail,
		Timestamp:      time.Now().UTC(),
		Fingerprint:    resp.Fingerprint,
		RawKey:         resp.RawKey,
		OutputKey:      resp.PublishedKey,
	}
	if err := m.notifier.Notify(ctx, outcome); err != nil {
		// The verdict stands even if the observability channel is down.
		slog.Error("outcome_notification_failed", "error", err)
	} else {
		resp.Notified = true
	}

	if err := m.journal.Finish(&db.Run{
		ID:             resp.RunID,
		Classification: string(resp.Classification),
		Detail:         resp.Detail,
		Fingerprint:    resp.Fingerprint,
		RawKey:         resp.RawKey,
		AnalysisStatus: resp.AnalysisStatus,
		OutputKey:      resp.OutputKey,
		PublishedKey:   resp.PublishedKey,
		ErrorMessage:   errorDetail(resp),
	}); err != nil {
		slog.Error("journal_finish_failed", "run_id", resp.RunID, "error", err)
	}

	slog.Info("pipeline_complete",
		"classification", string(resp.Classification),
		"detail", resp.Detail,
		"notified", resp.Notified,
	)

	return fsm.NewResponse(resp), nil
}

// decide records the run's terminal verdict; later states pass through.
func (m *Machine) decide(resp *RunResponse, class Classification, detail string) {
	resp.Classification = class
	resp.Detail = detail
	resp.Done = true
	slog.Info("run_decided", "classification", string(class), "detail", detail)
}

func errorDetail(resp *RunResponse) string {
	if resp.Classification.Failed() {
		return resp.Detail
	}
	return ""
}
