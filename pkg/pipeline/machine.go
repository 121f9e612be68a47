// Package pipeline implements the daily ingestion finite state machine.
// It sequences fetch, change classification, commit, notebook analysis, and
// publication using the superfly/fsm library, and reports every terminal
// outcome through the notifier exactly once.
package pipeline

import (
	"context"

	"github.com/superfly/fsm"

	apperrors "github.com/rearc-quest/dataquest/pkg/errors"
)

// Register registers the daily ingestion FSM
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[RunRequest, RunResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[RunRequest, RunResponse](manager, "daily-run").
		Start(StateFetch, m.handleFetch).
		To(StateClassify, m.handleClassify).
		To(StateCommit, m.handleCommit).
		To(StateAnalyze, m.handleAnalyze).
		To(StatePublish, m.handlePublish).
		To(StateNotify, m.handleNotify).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, apperrors.Wrap(err, "failed to register FSM")
	}

	return start, resume, nil
}
