// Package report turns the checker's report link into a downloadable
// artifact. The link the bot hands out points at the interactive
// report page; the export endpoint next to it serves the file
// directly once the query is rewritten.
package report

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Resolver materializes a report URL into a local file and returns
// its path.
type Resolver interface {
	Resolve(ctx context.Context, reportURL, filename string) (string, error)
}

// ExportURL rewrites a report page link into the export endpoint:
// /apiCorp/<id>?... becomes /apicorp/export/<id>?short=False&v=1&
// userId=5&c=0 plus whatever trailed the original userId parameter.
func ExportURL(reportURL string) (string, error) {
	base, rest, ok := strings.Cut(reportURL, "/apiCorp")
	if !ok {
		return "", fmt.Errorf("report: unrecognized link %q", reportURL)
	}
	path, query, ok := strings.Cut(rest, "?")
	if !ok {
		return "", fmt.Errorf("report: link %q has no query", reportURL)
	}
	tail := query
	if i := strings.LastIndex(query, "userId=5"); i >= 0 {
		tail = query[i+len("userId=5"):]
	}
	return base + "/apicorp/export" + path + "?short=False&v=1&userId=5&c=0" + tail, nil
}

// HTTPResolver fetches the export endpoint over plain HTTP.
type HTTPResolver struct {
	Client *http.Client
	// Dir receives downloaded artifacts.
	Dir string
}

func NewHTTPResolver(client *http.Client, dir string) *HTTPResolver {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &HTTPResolver{Client: client, Dir: dir}
}

// Resolve downloads the exported report and stores it under Dir with
// the original document's filename, so the editor sees which file the
// report belongs to. The write is finalized with a temp-file rename.
func (r *HTTPResolver) Resolve(ctx context.Context, reportURL, filename string) (string, error) {
	exportURL, err := ExportURL(reportURL)
	if err != nil {
		return "", err
	}
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." {
		return "", fmt.Errorf("report: empty target filename")
	}
	if err := os.MkdirAll(r.Dir, 0o700); err != nil {
		return "", fmt.Errorf("report: downloads dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, exportURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("report: export http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	dst := filepath.Join(r.Dir, filename)
	tmp := dst + ".temp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", err
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("report: download: %w", err)
	}
	if n == 0 {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("report: export returned an empty artifact")
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return dst, nil
}
