// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package fetch downloads regulatory order PDFs and creates metadata records.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/deltaloop/pan-extract/internal/httputil"
	"github.com/deltaloop/pan-extract/pkg/types"
)

const (
	rawDir      = "raw"
	metadataDir = "metadata"
)

// BatchResult holds the outcome of a batch fetch run.
type BatchResult struct {
	Downloaded int
	Skipped    int
	Failed     int
	Documents  []*types.Document
}

// Total returns the total number of URLs processed.
func (r BatchResult) Total() int {
	return r.Downloaded + r.Skipped + r.Failed
}

// HasFailures reports whether any documents failed.
func (r BatchResult) HasFailures() bool {
	return r.Failed > 0
}

var slugCleaner = regexp.MustCompile(`[^a-z0-9]+`)

// Slug derives a filesystem-safe document ID from a source URL, based on
// the final path element with its extension removed.
func Slug(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing URL %q: %w", rawURL, err)
	}
	base := path.Base(u.Path)
	base = strings.TrimSuffix(base, path.Ext(base))
	slug := slugCleaner.ReplaceAllString(strings.ToLower(base), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "", fmt.Errorf("cannot derive document ID from URL %q", rawURL)
	}
	return slug, nil
}

// FetchDocument downloads a single order PDF and writes its metadata
// record. If the PDF already exists on disk, the download is skipped; the
// skipped return value reports which happened.
func FetchDocument(ctx context.Context, client *http.Client, rawURL string, cfg types.FetchConfig, w io.Writer) (doc *types.Document, skipped bool, err error) {
	slug, err := Slug(rawURL)
	if err != nil {
		return nil, false, err
	}

	pdfPath := filepath.Join(cfg.DocumentsDir, rawDir, slug+".pdf")
	metaPath := filepath.Join(cfg.DocumentsDir, metadataDir, slug+".yaml")

	if _, err := os.Stat(pdfPath); err == nil {
		fmt.Fprintf(w, "skipped: %s (already exists)\n", slug)
		d, readErr := readMetadata(metaPath)
		if readErr != nil {
			d = &types.Document{ID: slug, PDFPath: pdfPath}
		}
		return d, true, nil
	}

	for _, dir := range []string{
		filepath.Join(cfg.DocumentsDir, rawDir),
		filepath.Join(cfg.DocumentsDir, metadataDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, false, fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	fmt.Fprintf(w, "downloading: %s\n", slug)

	if err := downloadFile(ctx, client, rawURL, pdfPath, cfg); err != nil {
		return nil, false, fmt.Errorf("downloading %s: %w", slug, err)
	}

	d := &types.Document{
		ID:         slug,
		SourceURL:  rawURL,
		PDFPath:    pdfPath,
		Fetched:    time.Now().UTC(),
		TextStatus: types.TextNone,
	}

	if err := writeMetadata(d, metaPath); err != nil {
		return nil, false, fmt.Errorf("writing metadata for %s: %w", slug, err)
	}

	return d, false, nil
}

// FetchBatch processes multiple URLs, printing per-item status and
// returning a summary. It continues after individual failures and applies
// a delay between consecutive downloads.
func FetchBatch(ctx context.Context, client *http.Client, urls []string, cfg types.FetchConfig, w io.Writer) BatchResult {
	var result BatchResult
	for i, u := range urls {
		if i > 0 && cfg.DownloadDelay > 0 {
			select {
			case <-ctx.Done():
				fmt.Fprintf(w, "cancelled after %d of %d\n", i, len(urls))
				result.Failed += len(urls) - i
				return result
			case <-time.After(cfg.DownloadDelay):
			}
		}
		doc, wasSkipped, err := FetchDocument(ctx, client, u, cfg, w)
		if err != nil {
			fmt.Fprintf(w, "failed:  %s (%v)\n", u, err)
			result.Failed++
			continue
		}
		if wasSkipped {
			result.Skipped++
		} else {
			result.Downloaded++
		}
		result.Documents = append(result.Documents, doc)
	}
	fmt.Fprintf(w, "\nBatch summary: %d downloaded, %d skipped, %d failed (total: %d)\n",
		result.Downloaded, result.Skipped, result.Failed, result.Total())
	return result
}

// downloadFile fetches url to destPath using a temporary file, renamed on
// success so partial downloads never land under raw/. Rate-limited
// responses are retried with backoff.
func downloadFile(ctx context.Context, client *http.Client, rawURL, destPath string, cfg types.FetchConfig) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", cfg.UserAgent)
	req.Header.Set("Accept", "application/pdf")

	resp, err := httputil.DoWithRetry(ctx, client, req, 0)
	if err != nil {
		return fmt.Errorf("HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".fetch-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	_, copyErr := io.Copy(tmpFile, resp.Body)
	closeErr := tmpFile.Close()
	if copyErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing download: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// writeMetadata marshals the Document record to a YAML file.
func writeMetadata(d *types.Document, metaPath string) error {
	data, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	return os.WriteFile(metaPath, data, 0o644)
}

// readMetadata loads a Document record from a YAML file.
func readMetadata(metaPath string) (*types.Document, error) {
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, err
	}
	var d types.Document
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing metadata %s: %w", metaPath, err)
	}
	return &d, nil
}
