// Package sync mirrors an upstream open-data directory listing into the
// bucket: new and size-changed files are uploaded, files that disappeared
// upstream are deleted. Comparison is by filename and byte size, matching
// what the upstream listing exposes cheaply via HEAD.
package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"time"

	apperrors "github.com/rearc-quest/dataquest/pkg/errors"
	"github.com/rearc-quest/dataquest/pkg/storage"
)

// Store is the storage surface the syncer needs.
type Store interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	ListObjects(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
}

// Result summarizes one mirror pass.
type Result struct {
	Uploaded int
	Deleted  int
	InSync   int
}

// Syncer mirrors one upstream listing into one bucket prefix.
type Syncer struct {
	client  *http.Client
	store   Store
	baseURL string
	prefix  string
	contact string
}

// NewSyncer creates a syncer. contact is sent as identification on every
// upstream request (same etiquette policy as the dataset fetcher).
func NewSyncer(store Store, baseURL, prefix, contact string) *Syncer {
	return &Syncer{
		client:  &http.Client{Timeout: 2 * time.Minute},
		store:   store,
		baseURL: baseURL,
		prefix:  prefix,
		contact: contact,
	}
}

// Sync performs one mirror pass and reports what changed.
func (s *Syncer) Sync(ctx context.Context) (*Result, error) {
	slog.Info("sync_start", "base_url", s.baseURL, "prefix", s.prefix)

	remote, err := s.remoteFiles(ctx)
	if err != nil {
		return nil, err
	}
	if len(remote) == 0 {
		// An empty listing is treated like an invalid payload: never a
		// reason to delete the whole mirror.
		return nil, fmt.Errorf("upstream listing is empty; refusing to sync")
	}

	objects, err := s.store.ListObjects(ctx, s.prefix)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list mirrored objects")
	}
	mirrored := map[string]int64{}
	for _, obj := range objects {
		mirrored[path.Base(obj.Key)] = obj.Size
	}

	result := &Result{}

	for _, file := range remote {
		size, have := mirrored[file.Name]
		if have && size == file.Size {
			result.InSync++
			continue
		}
		action := "new_file"
		if have {
			action = "modified_file"
		}
		slog.Info("sync_upload", "action", action, "name", file.Name, "size_bytes", file.Size)

		body, err := s.download(ctx, file.URL)
		if err != nil {
			slog.Error("sync_download_failed", "name", file.Name, "error", err)
			continue
		}
		if err := s.store.Upload(ctx, s.prefix+file.Name, body, "application/octet-stream"); err != nil {
			slog.Error("sync_upload_failed", "name", file.Name, "error", err)
			continue
		}
		result.Uploaded++
	}

	remoteNames := map[string]bool{}
	for _, file := range remote {
		remoteNames[file.Name] = true
	}
	for name := range mirrored {
		if remoteNames[name] {
			continue
		}
		slog.Info("sync_delete", "name", name, "reason", "removed_upstream")
		if err := s.store.Delete(ctx, s.prefix+name); err != nil {
			slog.Error("sync_delete_failed", "name", name, "error", err)
			continue
		}
		result.Deleted++
	}

	slog.Info("sync_complete",
		"uploaded", result.Uploaded,
		"deleted", result.Deleted,
		"in_sync", result.InSync,
	)
	return result, nil
}

// remoteFiles fetches the listing and resolves each file's size via HEAD.
func (s *Syncer) remoteFiles(ctx context.Context) ([]RemoteFile, error) {
	resp, err := s.do(ctx, http.MethodGet, s.baseURL)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to fetch listing")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing request failed: %s", resp.Status)
	}

	files, err := ParseListing(s.baseURL, resp.Body)
	if err != nil {
		return nil, err
	}

	for i := range files {
		head, err := s.do(ctx, http.MethodHead, files[i].URL)
		if err != nil {
			slog.Warn("sync_head_failed", "name", files[i].Name, "error", err)
			continue
		}
		head.Body.Close()
		if head.StatusCode == http.StatusOK {
			if n, err := strconv.ParseInt(head.Header.Get("Content-Length"), 10, 64); err == nil {
				files[i].Size = n
			}
		}
	}

	slog.Info("sync_listing_parsed", "file_count", len(files))
	return files, nil
}

func (s *Syncer) download(ctx context.Context, fileURL string) ([]byte, error) {
	resp, err := s.do(ctx, http.MethodGet, fileURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func (s *Syncer) do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "dataquest/1.0 ("+s.contact+")")
	req.Header.Set("From", s.contact)
	return s.client.Do(req)
}
