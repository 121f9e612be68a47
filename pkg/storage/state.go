package storage

import "time"

// StoredState is the durable record of the last known-good snapshot. The
// fingerprint always matches the content at StorageKey: the raw object is
// written and acknowledged before this record is updated, so a crash between
// the two leaves the previous record (and its still-valid content) visible.
type StoredState struct {
	Fingerprint string    `json:"fingerprint"`
	StorageKey  string    `json:"storage_key"`
	UpdatedAt   time.Time `json:"updated_at"`
}
