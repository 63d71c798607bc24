// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pdftext implements PDF-to-text conversion with pluggable backends.
// The output format is plain text with an HTML comment marker before each
// page, which downstream chunking uses for page provenance.
package pdftext

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/deltaloop/pan-extract/pkg/types"
)

const (
	// textDir is the subdirectory under the documents base for text output.
	textDir = "text"
	// rawDir is the subdirectory under the documents base for raw PDFs.
	rawDir = "raw"
	// metadataDir is the subdirectory holding per-document metadata records.
	metadataDir = "metadata"
)

// Extractor pulls plain text out of a PDF file. Different backends
// (native Go reader, external tools) implement this interface.
type Extractor interface {
	// Extract reads the PDF at pdfPath and returns one string per page.
	// Pages without recoverable text are returned as empty strings.
	Extract(pdfPath string) ([]string, error)
}

// BatchResult holds the outcome of a batch text-extraction run.
type BatchResult struct {
	Extracted int
	Skipped   int
	Failed    int
}

// Total returns the total number of documents processed.
func (r BatchResult) Total() int {
	return r.Extracted + r.Skipped + r.Failed
}

// HasFailures reports whether any documents failed.
func (r BatchResult) HasFailures() bool {
	return r.Failed > 0
}

// PageMarker returns the marker line inserted before each page's text.
func PageMarker(page int) string {
	return fmt.Sprintf("<!-- page %d -->", page)
}

// JoinPages assembles per-page text into a single document, prefixing each
// non-empty page with its marker. Pages are 1-based. Returns an empty
// string when no page carries any text.
func JoinPages(pages []string) string {
	var b strings.Builder
	for i, page := range pages {
		if strings.TrimSpace(page) == "" {
			continue
		}
		b.WriteString(PageMarker(i + 1))
		b.WriteString("\n")
		b.WriteString(strings.TrimRight(page, "\n"))
		b.WriteString("\n\n")
	}
	return b.String()
}

// ExtractDocument converts a single PDF to text, writing the result to
// documentsDir/text/. If the text output already exists, the conversion is
// skipped and the skipped return value is true; the status then reflects the
// existing output rather than a fresh conversion. Image-only PDFs, where no
// page yields text, are reported as failed. The document's metadata record,
// when present, is updated with the outcome.
func ExtractDocument(e Extractor, doc types.Document, documentsDir string, w io.Writer) (status types.TextStatus, skipped bool) {
	outDir := filepath.Join(documentsDir, textDir)
	base := strings.TrimSuffix(filepath.Base(doc.PDFPath), filepath.Ext(doc.PDFPath))
	txtPath := filepath.Join(outDir, base+".txt")

	if _, err := os.Stat(txtPath); err == nil {
		fmt.Fprintf(w, "skipped: %s (already exists)\n", base)
		recordOutcome(documentsDir, base, w, func(d *types.Document) {
			d.TextStatus = types.TextExtracted
			d.TextPath = txtPath
		})
		return types.TextExtracted, true
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return failDocument(documentsDir, base, w, err.Error())
	}

	pages, err := e.Extract(doc.PDFPath)
	if err != nil {
		return failDocument(documentsDir, base, w, err.Error())
	}

	content := JoinPages(pages)
	if content == "" {
		return failDocument(documentsDir, base, w, "no text extracted, PDF may be image-only")
	}

	if err := os.WriteFile(txtPath, []byte(content), 0o644); err != nil {
		return failDocument(documentsDir, base, w, err.Error())
	}

	fmt.Fprintf(w, "extracted: %s (%d pages)\n", base, len(pages))
	recordOutcome(documentsDir, base, w, func(d *types.Document) {
		d.TextStatus = types.TextExtracted
		d.TextPath = txtPath
		d.Pages = len(pages)
	})
	return types.TextExtracted, false
}

// failDocument reports a conversion failure and marks the metadata record.
func failDocument(documentsDir, base string, w io.Writer, reason string) (types.TextStatus, bool) {
	fmt.Fprintf(w, "failed:  %s (%s)\n", base, reason)
	recordOutcome(documentsDir, base, w, func(d *types.Document) {
		d.TextStatus = types.TextFailed
	})
	return types.TextFailed, false
}

// recordOutcome applies mutate to the document's metadata record and writes
// it back. Documents without a metadata record, such as PDFs dropped straight
// into documents/raw/, are left alone.
func recordOutcome(documentsDir, base string, w io.Writer, mutate func(*types.Document)) {
	metaPath := filepath.Join(documentsDir, metadataDir, base+".yaml")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return
	}
	var d types.Document
	if err := yaml.Unmarshal(data, &d); err != nil {
		fmt.Fprintf(w, "warning: metadata for %s not updated: %v\n", base, err)
		return
	}
	mutate(&d)
	out, err := yaml.Marshal(&d)
	if err != nil {
		fmt.Fprintf(w, "warning: metadata for %s not updated: %v\n", base, err)
		return
	}
	if err := os.WriteFile(metaPath, out, 0o644); err != nil {
		fmt.Fprintf(w, "warning: metadata for %s not updated: %v\n", base, err)
	}
}

// ExtractBatch processes a list of documents through the extractor, printing
// per-file status to w and returning a summary.
func ExtractBatch(e Extractor, docs []types.Document, documentsDir string, w io.Writer) BatchResult {
	var result BatchResult
	for _, d := range docs {
		status, skipped := ExtractDocument(e, d, documentsDir, w)
		switch {
		case skipped:
			result.Skipped++
		case status == types.TextExtracted:
			result.Extracted++
		default:
			result.Failed++
		}
	}
	fmt.Fprintf(w, "\nBatch summary: %d extracted, %d skipped, %d failed (total: %d)\n",
		result.Extracted, result.Skipped, result.Failed, result.Total())
	return result
}

// ExtractPaths builds Document records from raw PDF paths and delegates to
// ExtractBatch. Each path is turned into a minimal Document with ID derived
// from the filename.
func ExtractPaths(e Extractor, pdfPaths []string, documentsDir string, w io.Writer) BatchResult {
	docs := make([]types.Document, len(pdfPaths))
	for i, p := range pdfPaths {
		base := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		docs[i] = types.Document{
			ID:      base,
			PDFPath: p,
		}
	}
	return ExtractBatch(e, docs, documentsDir, w)
}

// RawPDFs lists the PDF files under documentsDir/raw/ for batch mode.
func RawPDFs(documentsDir string) ([]string, error) {
	dir := filepath.Join(documentsDir, rawDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading raw directory %s: %w", dir, err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	return paths, nil
}
