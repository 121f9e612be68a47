package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func newTestFetcher(t *testing.T, maxRetries int) *Fetcher {
	t.Helper()
	f, err := NewFetcher("data-team@example.com", maxRetries, 5*time.Second)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	// No real delays in tests.
	f.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return f
}

func TestNewFetcherRequiresContact(t *testing.T) {
	if _, err := NewFetcher("", 3, time.Second); err == nil {
		t.Fatal("expected error for empty contact")
	}
}

func TestFetchSendsIdentificationHeaders(t *testing.T) {
	var gotUA, gotFrom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotFrom = r.Header.Get("From")
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	f := newTestFetcher(t, 3)
	if _, err := f.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotFrom != "data-team@example.com" {
		t.Errorf("From header = %q, want contact string", gotFrom)
	}
	if gotUA == "" {
		t.Error("User-Agent header not set")
	}
}

func TestFetchRetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"data":[{"Year":2023}]}`))
	}))
	defer srv.Close()

	f := newTestFetcher(t, 3)
	snap, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch after transient 503s: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server calls = %d, want 3", got)
	}
	if snap.Fingerprint == "" {
		t.Error("snapshot fingerprint not computed")
	}
}

func TestFetchExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := newTestFetcher(t, 2)
	_, err := f.Fetch(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error type = %T, want *FetchError", err)
	}
	if fe.Reason != ReasonNetwork {
		t.Errorf("reason = %s, want %s", fe.Reason, ReasonNetwork)
	}
	// Initial attempt plus two retries, never more.
	if got := calls.Load(); got != 3 {
		t.Errorf("server calls = %d, want 3", got)
	}
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := newTestFetcher(t, 5)
	_, err := f.Fetch(context.Background(), srv.URL)
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error type = %T, want *FetchError", err)
	}
	if fe.Reason != ReasonProviderRejected {
		t.Errorf("reason = %s, want %s", fe.Reason, ReasonProviderRejected)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server calls = %d, want 1 (no retry on 4xx)", got)
	}
}

func TestSnapshotFingerprintIsByteExact(t *testing.T) {
	a := NewSnapshot("uri", []byte(`{"data":[1]}`), time.Now())
	b := NewSnapshot("uri", []byte(`{"data":[1]}`), time.Now())
	c := NewSnapshot("uri", []byte(`{"data": [1]}`), time.Now())

	if a.Fingerprint != b.Fingerprint {
		t.Error("identical bytes must produce identical fingerprints")
	}
	// Cosmetic whitespace differences are deliberately treated as change.
	if a.Fingerprint == c.Fingerprint {
		t.Error("different bytes must produce different fingerprints")
	}
}
