// Package fetch retrieves the provider dataset over HTTP. Transient failures
// (network errors, 5xx responses) are retried with exponential backoff up to a
// bounded count; client errors (4xx) are never retried.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	apperrors "github.com/rearc-quest/dataquest/pkg/errors"
)

// Reason classifies a terminal fetch failure.
type Reason string

const (
	ReasonNetwork          Reason = "network"
	ReasonProviderRejected Reason = "provider_rejected"
	ReasonTimeout          Reason = "timeout"
)

// FetchError is the terminal error returned after retries are exhausted or a
// non-retryable response is received.
type FetchError struct {
	Reason     Reason
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch failed (%s, status %d): %v", e.Reason, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch failed (%s): %v", e.Reason, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Snapshot is one fetch attempt's materialized result. Immutable once created;
// the fingerprint is a SHA-256 digest of the raw bytes.
type Snapshot struct {
	SourceURI   string
	RawContent  []byte
	Fingerprint string
	FetchedAt   time.Time
}

// NewSnapshot builds a snapshot and computes its content fingerprint.
func NewSnapshot(sourceURI string, raw []byte, fetchedAt time.Time) *Snapshot {
	sum := sha256.Sum256(raw)
	return &Snapshot{
		SourceURI:   sourceURI,
		RawContent:  raw,
		Fingerprint: hex.EncodeToString(sum[:]),
		FetchedAt:   fetchedAt,
	}
}

// Fetcher retrieves datasets from the provider API.
type Fetcher struct {
	client     *http.Client
	contact    string
	maxRetries int

	// newBackOff is replaceable in tests to avoid real backoff delays.
	newBackOff func() backoff.BackOff
}

// NewFetcher creates a fetcher. The contact string identifies this consumer to
// the provider (etiquette policy) and must be non-empty.
func NewFetcher(contact string, maxRetries int, timeout time.Duration) (*Fetcher, error) {
	if contact == "" {
		return nil, fmt.Errorf("provider contact must not be empty")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Fetcher{
		client:     &http.Client{Timeout: timeout},
		contact:    contact,
		maxRetries: maxRetries,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}, nil
}

// Fetch performs the GET against sourceURI, retrying transient failures.
// On success the returned snapshot carries the raw bytes and their fingerprint.
func (f *Fetcher) Fetch(ctx context.Context, sourceURI string) (*Snapshot, error) {
	slog.Info("fetch_start", "source_uri", sourceURI, "max_retries", f.maxRetries)

	var body []byte
	attempt := 0

	operation := func() error {
		attempt++
		raw, err := f.doFetch(ctx, sourceURI)
		if err != nil {
			var fe *FetchError
			if errors.As(err, &fe) && fe.Reason == ReasonProviderRejected {
				// 4xx means the request itself is wrong; retrying cannot help.
				return backoff.Permanent(err)
			}
			slog.Warn("fetch_attempt_failed", "source_uri", sourceURI, "attempt", attempt, "error", err)
			return err
		}
		body = raw
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(f.newBackOff(), uint64(f.maxRetries)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		var fe *FetchError
		if !errors.As(err, &fe) {
			fe = &FetchError{Reason: ReasonNetwork, Err: err}
		}
		slog.Error("fetch_failed", "source_uri", sourceURI, "attempts", attempt, "reason", string(fe.Reason), "error", err)
		return nil, fe
	}

	snap := NewSnapshot(sourceURI, body, time.Now().UTC())
	slog.Info("fetch_complete",
		"source_uri", sourceURI,
		"attempts", attempt,
		"size_bytes", len(body),
		"fingerprint", shortFingerprint(snap.Fingerprint),
	)
	return snap, nil
}

// doFetch performs one request and classifies any failure.
func (f *Fetcher) doFetch(ctx context.Context, sourceURI string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURI, nil)
	if err != nil {
		return nil, &FetchError{Reason: ReasonNetwork, Err: err}
	}
	req.Header.Set("User-Agent", "dataquest/1.0 ("+f.contact+")")
	req.Header.Set("From", f.contact)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		reason := ReasonNetwork
		if errors.Is(err, context.DeadlineExceeded) {
			reason = ReasonTimeout
		}
		return nil, &FetchError{Reason: reason, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, &FetchError{
			Reason:     ReasonNetwork,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("server error: %s", resp.Status),
		}
	case resp.StatusCode >= 400:
		return nil, &FetchError{
			Reason:     ReasonProviderRejected,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("client error: %s", resp.Status),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Reason: ReasonNetwork, Err: apperrors.Wrap(err, "failed to read response body")}
	}
	return body, nil
}

func shortFingerprint(fp string) string {
	if len(fp) > 16 {
		return fp[:16] + "..."
	}
	return fp
}
