package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/chrischoy/MediaWhisperer/config"
)

// FetchedPDF is a remote PDF downloaded to a temporary file. The caller
// owns the file and must call Cleanup.
type FetchedPDF struct {
	URL      string
	Filename string
	TempPath string
}

func (f *FetchedPDF) Cleanup() {
	if f.TempPath != "" {
		os.Remove(f.TempPath)
	}
}

// Fetcher downloads PDFs referenced by URL.
type Fetcher struct {
	client  *http.Client
	tempDir string
	maxSize int64
}

func NewFetcher(fetch *config.FetchConfig, storage *config.StorageConfig) *Fetcher {
	return &Fetcher{
		client:  &http.Client{Timeout: fetch.Timeout},
		tempDir: storage.TempDir,
		maxSize: storage.MaxUploadSize,
	}
}

// NormalizeURL validates raw and rewrites arXiv abstract links to the PDF
// they describe.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: malformed URL %q", ErrInvalidInput, raw)
	}

	if isArxiv(u) && !strings.HasSuffix(strings.ToLower(u.Path), ".pdf") {
		switch {
		case strings.Contains(u.Path, "/pdf/"):
			u.Path += ".pdf"
		case strings.Contains(u.Path, "/abs/"):
			id := u.Path[strings.Index(u.Path, "/abs/")+len("/abs/"):]
			id = strings.TrimSuffix(id, "/")
			if id != "" {
				return "https://arxiv.org/pdf/" + id + ".pdf", nil
			}
		}
	}
	return u.String(), nil
}

func isArxiv(u *url.URL) bool {
	return strings.Contains(strings.ToLower(u.Host), "arxiv.org")
}

// IsArxivURL reports whether raw points at arxiv.org.
func IsArxivURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && isArxiv(u)
}

// Fetch downloads the PDF at raw. Network failures and non-2xx responses
// are ErrUpstreamFetch; content that is not a PDF is ErrInvalidInput.
func (f *Fetcher) Fetch(ctx context.Context, raw string) (*FetchedPDF, error) {
	target, err := NormalizeURL(raw)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	req.Header.Set("Accept", "application/pdf,*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned %s", ErrUpstreamFetch, target, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	urlPath := resp.Request.URL.Path
	if !strings.Contains(strings.ToLower(contentType), "application/pdf") &&
		!strings.HasSuffix(strings.ToLower(urlPath), ".pdf") {
		return nil, fmt.Errorf("%w: the URL does not point to a PDF file, content-type %q", ErrInvalidInput, contentType)
	}

	if err := os.MkdirAll(f.tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	tmp, err := os.CreateTemp(f.tempDir, "fetch-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	fetched := &FetchedPDF{URL: target, Filename: urlFilename(urlPath), TempPath: tmp.Name()}

	var body io.Reader = resp.Body
	if f.maxSize > 0 {
		body = io.LimitReader(resp.Body, f.maxSize+1)
	}
	n, err := io.Copy(tmp, body)
	closeErr := tmp.Close()
	switch {
	case err != nil:
		fetched.Cleanup()
		return nil, fmt.Errorf("%w: %v", ErrUpstreamFetch, err)
	case closeErr != nil:
		fetched.Cleanup()
		return nil, fmt.Errorf("close temp file: %w", closeErr)
	case f.maxSize > 0 && n > f.maxSize:
		fetched.Cleanup()
		return nil, fmt.Errorf("%w: PDF exceeds %d bytes", ErrInvalidInput, f.maxSize)
	}

	slog.Info("remote pdf downloaded", "url", target, "bytes", n)
	return fetched, nil
}

// urlFilename is the last path segment with a .pdf suffix.
func urlFilename(p string) string {
	name := path.Base(p)
	if name == "." || name == "/" {
		return ""
	}
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	return name
}

// titleFromURL derives a title for a URL-ingested document when the caller
// gave none: the filename stem, or "PDF from <parent segment>" when the stem
// is too short or numeric.
func titleFromURL(rawURL, filename string, fallbackN int64) string {
	stem := strings.TrimSuffix(filename, path.Ext(filename))
	if len(stem) >= 3 && !isDigits(stem) {
		return stem
	}

	u, err := url.Parse(rawURL)
	if err == nil {
		var parts []string
		for _, p := range strings.Split(u.Path, "/") {
			if p != "" {
				parts = append(parts, p)
			}
		}
		parts = append([]string{u.Host}, parts...)
		if len(parts) >= 2 {
			return "PDF from " + parts[len(parts)-2]
		}
	}
	return fmt.Sprintf("PDF from URL %d", fallbackN)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
