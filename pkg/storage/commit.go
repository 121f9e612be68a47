package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/rearc-quest/dataquest/pkg/errors"
	"github.com/rearc-quest/dataquest/pkg/fetch"
)

// BlobStore is the subset of Client used by CommitSnapshot.
type BlobStore interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) error
}

// RawKey builds the timestamped object key for a snapshot's raw content.
func RawKey(rawPrefix string, fetchedAt time.Time) string {
	return fmt.Sprintf("%spopulation_data_%s.json", rawPrefix, fetchedAt.UTC().Format("20060102_150405"))
}

// CommitSnapshot persists a snapshot: raw content first, then the state
// record that references it. The ordering is the whole point: if the record
// write fails (or the process dies between the two), the previous state
// record still points at previous, valid content. Called only on a New
// classification.
func CommitSnapshot(ctx context.Context, store BlobStore, snap *fetch.Snapshot, rawPrefix, stateKey string) (*StoredState, error) {
	rawKey := RawKey(rawPrefix, snap.FetchedAt)

	slog.Info("commit_start", "raw_key", rawKey, "state_key", stateKey, "size_bytes", len(snap.RawContent))

	if err := store.Upload(ctx, rawKey, snap.RawContent, "application/json"); err != nil {
		return nil, apperrors.Wrap(err, "failed to write raw content")
	}

	state := &StoredState{
		Fingerprint: snap.Fingerprint,
		StorageKey:  rawKey,
		UpdatedAt:   snap.FetchedAt.UTC(),
	}
	body, err := json.Marshal(state)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to marshal state record")
	}
	if err := store.Upload(ctx, stateKey, body, "application/json"); err != nil {
		return nil, apperrors.Wrap(err, "failed to write state record")
	}

	slog.Info("commit_complete", "raw_key", rawKey, "fingerprint", state.Fingerprint[:16]+"...")
	return state, nil
}
