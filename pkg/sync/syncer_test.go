package sync

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rearc-quest/dataquest/pkg/storage"
)

type fakeStore struct {
	objects map[string][]byte
	deleted []string
}

func newFakeStore() *fakeStore { return &fakeStore{objects: map[string][]byte{}} }

func (f *fakeStore) Upload(ctx context.Context, key string, body []byte, contentType string) error {
	f.objects[key] = body
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, key string) error {
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeStore) ListObjects(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var infos []storage.ObjectInfo
	for key, body := range f.objects {
		if strings.HasPrefix(key, prefix) {
			infos = append(infos, storage.ObjectInfo{Key: key, Size: int64(len(body))})
		}
	}
	return infos, nil
}

// upstream serves a directory listing plus the files it names.
func upstream(t *testing.T, files map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/pub/data/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/pub/data/" {
			var b strings.Builder
			b.WriteString(`<html><body><a href="/pub/">Parent</a>`)
			for name := range files {
				fmt.Fprintf(&b, `<a href="/pub/data/%s">%s</a>`, name, name)
			}
			b.WriteString(`</body></html>`)
			w.Write([]byte(b.String()))
			return
		}
		name := strings.TrimPrefix(r.URL.Path, "/pub/data/")
		body, ok := files[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(body)))
		if r.Method == http.MethodHead {
			return
		}
		w.Write([]byte(body))
	})
	return httptest.NewServer(mux)
}

func TestParseListing(t *testing.T) {
	html := `<html><body>
		<a href="/pub/">[To Parent Directory]</a>
		<a href="/pub/data/pr.data.0.Current">pr.data.0.Current</a>
		<a href="/pub/data/pr.series">pr.series</a>
		<a href="https://elsewhere.example/file">offsite</a>
		<a href="/pub/data/sub/">subdir</a>
	</body></html>`

	files, err := ParseListing("https://host.example/pub/data/", strings.NewReader(html))
	if err != nil {
		t.Fatalf("ParseListing: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("files = %+v, want the 2 in-scope files", files)
	}
	if files[0].Name != "pr.data.0.Current" || files[1].Name != "pr.series" {
		t.Errorf("names = %s, %s", files[0].Name, files[1].Name)
	}
}

func TestSyncUploadsNewAndModified(t *testing.T) {
	srv := upstream(t, map[string]string{
		"pr.data.0.Current": "rows rows rows",
		"pr.series":         "series data",
	})
	defer srv.Close()

	store := newFakeStore()
	store.objects["bls_data/pr.series"] = []byte("old") // size differs upstream

	s := NewSyncer(store, srv.URL+"/pub/data/", "bls_data/", "data-team@example.com")
	result, err := s.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if result.Uploaded != 2 {
		t.Errorf("Uploaded = %d, want 2 (one new, one modified)", result.Uploaded)
	}
	if string(store.objects["bls_data/pr.data.0.Current"]) != "rows rows rows" {
		t.Error("new file not mirrored")
	}
	if string(store.objects["bls_data/pr.series"]) != "series data" {
		t.Error("modified file not refreshed")
	}
}

func TestSyncDeletesRemovedFiles(t *testing.T) {
	srv := upstream(t, map[string]string{"pr.series": "series data"})
	defer srv.Close()

	store := newFakeStore()
	store.objects["bls_data/pr.series"] = []byte("series data")
	store.objects["bls_data/pr.retired"] = []byte("gone upstream")

	s := NewSyncer(store, srv.URL+"/pub/data/", "bls_data/", "data-team@example.com")
	result, err := s.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if result.Deleted != 1 || len(store.deleted) != 1 || store.deleted[0] != "bls_data/pr.retired" {
		t.Errorf("deleted = %v, want bls_data/pr.retired", store.deleted)
	}
	if result.InSync != 1 {
		t.Errorf("InSync = %d, want 1", result.InSync)
	}
}

func TestSyncRefusesEmptyListing(t *testing.T) {
	srv := upstream(t, map[string]string{})
	defer srv.Close()

	store := newFakeStore()
	store.objects["bls_data/pr.series"] = []byte("keep me")

	s := NewSyncer(store, srv.URL+"/pub/data/", "bls_data/", "data-team@example.com")
	if _, err := s.Sync(context.Background()); err == nil {
		t.Fatal("expected refusal on empty listing")
	}
	if _, ok := store.objects["bls_data/pr.series"]; !ok {
		t.Error("mirror must be untouched when listing is empty")
	}
}
