package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rearc-quest/dataquest/pkg/fetch"
)

// fakeStore records uploads in order and can fail on a chosen key.
type fakeStore struct {
	uploads []string
	objects map[string][]byte
	failOn  string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (f *fakeStore) Upload(ctx context.Context, key string, body []byte, contentType string) error {
	if f.failOn != "" && strings.Contains(key, f.failOn) {
		return fmt.Errorf("simulated write failure for %s", key)
	}
	f.uploads = append(f.uploads, key)
	f.objects[key] = body
	return nil
}

func TestCommitSnapshotOrdering(t *testing.T) {
	store := newFakeStore()
	fetchedAt := time.Date(2026, 8, 25, 6, 0, 0, 0, time.UTC)
	snap := fetch.NewSnapshot("uri", []byte(`{"data":[]}`), fetchedAt)

	state, err := CommitSnapshot(context.Background(), store, snap, "population_data/", "state/latest.json")
	if err != nil {
		t.Fatalf("CommitSnapshot: %v", err)
	}

	wantRawKey := "population_data/population_data_20260825_060000.json"
	if state.StorageKey != wantRawKey {
		t.Errorf("StorageKey = %s, want %s", state.StorageKey, wantRawKey)
	}
	if len(store.uploads) != 2 {
		t.Fatalf("uploads = %d, want 2", len(store.uploads))
	}
	// Raw content must be durably written before the record describing it.
	if store.uploads[0] != wantRawKey || store.uploads[1] != "state/latest.json" {
		t.Errorf("upload order = %v, want raw content before state record", store.uploads)
	}

	var persisted StoredState
	if err := json.Unmarshal(store.objects["state/latest.json"], &persisted); err != nil {
		t.Fatalf("state record not valid JSON: %v", err)
	}
	if persisted.Fingerprint != snap.Fingerprint {
		t.Errorf("persisted fingerprint = %s, want %s", persisted.Fingerprint, snap.Fingerprint)
	}
}

func TestCommitSnapshotRecordWriteFailureLeavesNoRecord(t *testing.T) {
	store := newFakeStore()
	store.failOn = "state/"
	snap := fetch.NewSnapshot("uri", []byte(`{"data":[]}`), time.Now())

	if _, err := CommitSnapshot(context.Background(), store, snap, "population_data/", "state/latest.json"); err == nil {
		t.Fatal("expected error when state record write fails")
	}
	// The raw object may exist, but no new state record was written: a
	// subsequent run still reads the previous record.
	if _, ok := store.objects["state/latest.json"]; ok {
		t.Error("state record must not be written when its upload fails")
	}
}

func TestCommitSnapshotContentWriteFailureWritesNothing(t *testing.T) {
	store := newFakeStore()
	store.failOn = "population_data/"
	snap := fetch.NewSnapshot("uri", []byte(`{"data":[]}`), time.Now())

	if _, err := CommitSnapshot(context.Background(), store, snap, "population_data/", "state/latest.json"); err == nil {
		t.Fatal("expected error when content write fails")
	}
	if len(store.uploads) != 0 {
		t.Errorf("uploads = %v, want none", store.uploads)
	}
}
