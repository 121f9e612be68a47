// Package analysis triggers the pre-authored notebook against newly stored
// data. The notebook is an opaque executable artifact: it is staged from S3,
// handed to an Executor with the input reference as parameters, and its
// executed copy is uploaded back. Execution gets its own timeout, distinct
// from (and typically much longer than) any other step in the run.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/rearc-quest/dataquest/pkg/errors"
)

// Status of one analysis run. Transitions Pending -> Succeeded or
// Pending -> Failed exactly once; never re-entered.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// InputReference points at the dataset that triggered the analysis.
type InputReference struct {
	StorageKey  string
	Fingerprint string
}

// Run is one invocation of the notebook procedure.
type Run struct {
	Input       InputReference
	Status      Status
	OutputKey   string
	ErrorDetail string
}

// Executor runs a staged notebook and writes the executed copy to outputPath.
type Executor interface {
	Execute(ctx context.Context, notebookPath, outputPath string, params map[string]string) error
}

// PapermillExecutor shells out to the papermill CLI.
type PapermillExecutor struct {
	Binary string
}

// Execute runs papermill with each param passed as -p key value.
func (e *PapermillExecutor) Execute(ctx context.Context, notebookPath, outputPath string, params map[string]string) error {
	bin := e.Binary
	if bin == "" {
		bin = "papermill"
	}

	args := []string{notebookPath, outputPath}
	for k, v := range params {
		args = append(args, "-p", k, v)
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		tail := string(out)
		if len(tail) > 2048 {
			tail = tail[len(tail)-2048:]
		}
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(tail))
	}
	return nil
}

// ObjectStore is the storage surface the trigger needs.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, body []byte, contentType string) error
}

// Trigger stages, executes, and collects notebook runs.
type Trigger struct {
	notebooks ObjectStore
	outputs   ObjectStore
	executor  Executor
	workDir   string
	timeout   time.Duration
}

// NewTrigger wires the trigger. notebooks holds the artifact; outputs
// receives the executed copy. The two may be the same store.
func NewTrigger(notebooks, outputs ObjectStore, executor Executor, workDir string, timeout time.Duration) *Trigger {
	return &Trigger{
		notebooks: notebooks,
		outputs:   outputs,
		executor:  executor,
		workDir:   workDir,
		timeout:   timeout,
	}
}

// RunAnalysis executes the notebook at notebookKey against input. Failures
// of any kind (artifact missing, non-zero exit, timeout) yield a Failed run
// rather than an error: the caller maps that to its own failure taxonomy, and
// the already-committed stored state is deliberately not rolled back.
func (t *Trigger) RunAnalysis(ctx context.Context, notebookKey string, input InputReference) *Run {
	run := &Run{Input: input, Status: StatusPending}

	slog.Info("analysis_start",
		"notebook_key", notebookKey,
		"input_key", input.StorageKey,
		"timeout", t.timeout.String(),
	)

	notebookPath, outputPath, err := t.stage(ctx, notebookKey)
	if err != nil {
		return t.fail(run, err)
	}

	params := map[string]string{
		"input_key":         input.StorageKey,
		"input_fingerprint": input.Fingerprint,
	}

	execCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if err := t.executor.Execute(execCtx, notebookPath, outputPath, params); err != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			// No cancellation signal reaches the external execution beyond
			// process kill; the run is simply recorded as failed.
			err = fmt.Errorf("analysis timed out after %s: %w", t.timeout, err)
		}
		return t.fail(run, err)
	}

	executed, err := os.ReadFile(outputPath)
	if err != nil {
		return t.fail(run, apperrors.Wrap(err, "failed to read executed notebook"))
	}

	outputKey := fmt.Sprintf("analysis/%s_%s.ipynb",
		strings.TrimSuffix(filepath.Base(notebookKey), ".ipynb"),
		time.Now().UTC().Format("20060102_150405"))
	if err := t.outputs.Upload(ctx, outputKey, executed, "application/x-ipynb+json"); err != nil {
		return t.fail(run, apperrors.Wrap(err, "failed to upload executed notebook"))
	}

	run.Status = StatusSucceeded
	run.OutputKey = outputKey

	slog.Info("analysis_complete", "output_key", outputKey, "input_key", input.StorageKey)
	return run
}

// stage downloads the notebook artifact into the work directory and returns
// the local input and output paths for the executor.
func (t *Trigger) stage(ctx context.Context, notebookKey string) (string, string, error) {
	notebook, err := t.notebooks.Get(ctx, notebookKey)
	if err != nil {
		return "", "", apperrors.Wrap(err, "failed to fetch notebook artifact")
	}
	if notebook == nil {
		return "", "", fmt.Errorf("notebook artifact not found: %s", notebookKey)
	}

	dir := filepath.Join(t.workDir, "notebooks")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", apperrors.Wrap(err, "failed to create notebook dir")
	}

	base := filepath.Base(notebookKey)
	notebookPath := filepath.Join(dir, base)
	if err := os.WriteFile(notebookPath, notebook, 0644); err != nil {
		return "", "", apperrors.Wrap(err, "failed to stage notebook")
	}

	outputPath := filepath.Join(dir, strings.TrimSuffix(base, ".ipynb")+"_executed.ipynb")
	return notebookPath, outputPath, nil
}

func (t *Trigger) fail(run *Run, err error) *Run {
	run.Status = StatusFailed
	run.ErrorDetail = err.Error()
	slog.Error("analysis_failed", "input_key", run.Input.StorageKey, "error", err)
	return run
}
