package sync

import (
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	apperrors "github.com/rearc-quest/dataquest/pkg/errors"
)

// RemoteFile is one downloadable file discovered in the directory listing.
type RemoteFile struct {
	Name string
	URL  string
	Size int64
}

// ParseListing extracts file links from an HTML directory listing. Only
// links that resolve under baseURL and do not end in "/" are kept, so
// parent-directory and off-site links are ignored.
func ParseListing(baseURL string, r io.Reader) ([]RemoteFile, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, apperrors.Wrap(err, "invalid base URL")
	}

	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to parse listing HTML")
	}

	var files []RemoteFile
	seen := map[string]bool{}

	doc.Find("a").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		full := resolved.String()
		if !strings.HasPrefix(full, baseURL) || strings.HasSuffix(full, "/") {
			return
		}
		name := path.Base(resolved.Path)
		if name == "" || name == "." || seen[name] {
			return
		}
		seen[name] = true
		files = append(files, RemoteFile{Name: name, URL: full})
	})

	return files, nil
}
