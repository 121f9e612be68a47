// Package detect classifies a fetched snapshot against the last stored state.
// Comparison is byte-exact over the raw payload: semantically identical but
// differently encoded payloads classify as New. That is the chosen policy, not
// a bug; cosmetic provider-side re-encoding re-triggers analysis.
package detect

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/rearc-quest/dataquest/pkg/fetch"
	"github.com/rearc-quest/dataquest/pkg/storage"
)

// Classification is the change detector's verdict for one snapshot.
type Classification string

const (
	// New: no prior state exists, or the fingerprint differs from it.
	New Classification = "new"
	// Unchanged: fingerprint matches the prior state byte-for-byte.
	Unchanged Classification = "unchanged"
	// Invalid: the payload is empty, oversized, or structurally broken.
	// Distinguished from Unchanged so that a provider returning garbage
	// never silently overwrites good stored state.
	Invalid Classification = "invalid"
)

// Detector validates payload structure and compares fingerprints.
type Detector struct {
	maxPayloadSize int64
}

// NewDetector creates a detector with the given payload size cap.
func NewDetector(maxPayloadSize int64) *Detector {
	return &Detector{maxPayloadSize: maxPayloadSize}
}

// Classify is a pure function of the snapshot and the prior state. A nil
// prior means first-run bootstrap and always classifies a valid payload New.
func (d *Detector) Classify(snap *fetch.Snapshot, prior *storage.StoredState) (Classification, error) {
	if err := d.Validate(snap.RawContent); err != nil {
		slog.Warn("snapshot_invalid", "source_uri", snap.SourceURI, "error", err)
		return Invalid, err
	}
	if prior == nil {
		slog.Info("snapshot_new", "source_uri", snap.SourceURI, "reason", "no_prior_state")
		return New, nil
	}
	if snap.Fingerprint != prior.Fingerprint {
		slog.Info("snapshot_new", "source_uri", snap.SourceURI, "reason", "fingerprint_changed",
			"prior_key", prior.StorageKey)
		return New, nil
	}
	slog.Info("snapshot_unchanged", "source_uri", snap.SourceURI, "prior_key", prior.StorageKey)
	return Unchanged, nil
}

// payload is the expected provider data shape.
type payload struct {
	Data []map[string]any `json:"data"`
}

// Validate runs the structural sanity check for the expected format.
func (d *Detector) Validate(raw []byte) error {
	if len(raw) == 0 {
		return fmt.Errorf("payload is empty")
	}
	if d.maxPayloadSize > 0 && int64(len(raw)) > d.maxPayloadSize {
		return fmt.Errorf("payload size %d exceeds max %d", len(raw), d.maxPayloadSize)
	}
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	if p.Data == nil {
		return fmt.Errorf("payload is missing the data array")
	}
	return nil
}

// Profile summarizes a valid payload for observability: record count, year
// span, and the most recent population figure.
type Profile struct {
	Records          int
	FirstYear        int
	LastYear         int
	LatestPopulation int64
}

// ParseProfile extracts a Profile from a raw payload. Records with
// unparseable Year fields are counted but excluded from the year span.
func ParseProfile(raw []byte) (*Profile, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}

	prof := &Profile{Records: len(p.Data)}
	for _, rec := range p.Data {
		year, ok := asInt(rec["Year"])
		if !ok {
			continue
		}
		if prof.FirstYear == 0 || year < prof.FirstYear {
			prof.FirstYear = year
		}
		if year > prof.LastYear {
			prof.LastYear = year
			if pop, ok := asInt64(rec["Population"]); ok {
				prof.LatestPopulation = pop
			}
		}
	}
	return prof, nil
}

func asInt(v any) (int, bool) {
	n, ok := asInt64(v)
	return int(n), ok
}

// asInt64 tolerates the provider emitting numbers as JSON numbers or strings.
func asInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
