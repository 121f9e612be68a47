package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/superfly/fsm"

	"github.com/rearc-quest/dataquest/internal/config"
	"github.com/rearc-quest/dataquest/pkg/analysis"
	"github.com/rearc-quest/dataquest/pkg/db"
	"github.com/rearc-quest/dataquest/pkg/detect"
	apperrors "github.com/rearc-quest/dataquest/pkg/errors"
	"github.com/rearc-quest/dataquest/pkg/fetch"
	"github.com/rearc-quest/dataquest/pkg/notify"
	"github.com/rearc-quest/dataquest/pkg/pipeline"
	"github.com/rearc-quest/dataquest/pkg/publish"
	"github.com/rearc-quest/dataquest/pkg/storage"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one daily ingestion run",
	Long: `Fetches the provider dataset, classifies it against stored state, and on a
genuine change commits the raw payload, runs the analysis notebook, and
publishes its output. Every run emits exactly one outcome notification.`,
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return apperrors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return apperrors.Wrap(err, "config invalid")
	}

	if err := ensureDirectories(cfg.SQLitePath, cfg.FSMDBPath, cfg.WorkDir); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return apperrors.Wrap(err, "journal init failed")
	}
	defer repo.Close()

	store, err := storage.NewClient(ctx, cfg.StorageBucket, cfg.S3Region)
	if err != nil {
		return apperrors.Wrap(err, "S3 client failed")
	}

	notebooks := store
	if cfg.NotebookBucket != cfg.StorageBucket {
		notebooks, err = storage.NewClient(ctx, cfg.NotebookBucket, cfg.S3Region)
		if err != nil {
			return apperrors.Wrap(err, "notebook S3 client failed")
		}
	}

	fetcher, err := fetch.NewFetcher(cfg.ProviderContact, cfg.FetchMaxRetries, 60*time.Second)
	if err != nil {
		return apperrors.Wrap(err, "fetcher init failed")
	}

	trigger := analysis.NewTrigger(notebooks, store, &analysis.PapermillExecutor{}, cfg.WorkDir, cfg.AnalysisTimeout)
	publisher := publish.NewPublisher(store, cfg.PublishedPrefix)

	notifier, err := notify.NewNotifier(ctx, cfg.NotificationQueue, cfg.S3Region)
	if err != nil {
		return apperrors.Wrap(err, "notifier init failed")
	}

	manager, err := fsm.New(fsm.Config{DBPath: cfg.FSMDBPath})
	if err != nil {
		return apperrors.Wrap(err, "FSM manager failed")
	}
	defer manager.Shutdown(10 * time.Second)

	machine := pipeline.NewMachine(
		fetcher, detect.NewDetector(cfg.MaxPayloadSize), store, trigger,
		publisher, notifier, repo, cfg.RawPrefix, cfg.StateKey, cfg.FSMMaxRetries)
	start, _, err := machine.Register(ctx, manager)
	if err != nil {
		return apperrors.Wrap(err, "FSM register failed")
	}

	req := &pipeline.RunRequest{
		SourceURI:   cfg.ProviderURL,
		NotebookKey: cfg.NotebookKey,
	}
	resp := &pipeline.RunResponse{}
	runKey := "run-" + time.Now().UTC().Format("20060102T150405Z")

	version, err := start(ctx, runKey, fsm.NewRequest(req, resp))
	if err != nil {
		return apperrors.Wrap(err, "FSM start failed")
	}

	slog.Info("pipeline_started", "run_key", runKey, "version", version)

	if err := manager.Wait(ctx, version); err != nil {
		// The machine aborted before reaching the notify state; the
		// run must still report a terminal outcome.
		if !resp.Notified {
			notifyAbort(ctx, notifier, resp, err)
		}
		return apperrors.Wrap(err, "FSM execution failed")
	}

	slog.Info("run_finished",
		"classification", string(resp.Classification),
		"detail", resp.Detail,
		"raw_key", resp.RawKey,
		"published_key", resp.PublishedKey,
	)

	if resp.Classification.Failed() {
		return fmt.Errorf("run failed: %s (%s)", resp.Classification, resp.Detail)
	}
	return nil
}

// notifyAbort emits the one-per-run outcome message when the FSM aborted
// before its notify state could run.
func notifyAbort(ctx context.Context, notifier *notify.Notifier, resp *pipeline.RunResponse, cause error) {
	classification := resp.Classification
	if classification == "" {
		classification = pipeline.ClassFetchFailed
	}
	outcome := &notify.Outcome{
		Classification: string(classification),
		Detail:         "run aborted: " + cause.Error(),
		Timestamp:      time.Now().UTC(),
		Fingerprint:    resp.Fingerprint,
		RawKey:         resp.RawKey,
	}
	if err := notifier.Notify(ctx, outcome); err != nil {
		slog.Error("abort_notification_failed", "error", err)
	}
}
