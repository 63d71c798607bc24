// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pdftext

import (
	"fmt"

	"github.com/ledongthuc/pdf"
)

// NativeExtractor reads PDFs with the pure-Go ledongthuc/pdf library.
// It requires no external tools, at the cost of weaker text recovery on
// scanned or unusually encoded documents.
type NativeExtractor struct{}

// Extract reads the PDF at pdfPath and returns its plain text, one string
// per page. Pages that fail individually are returned empty rather than
// aborting the document.
func (NativeExtractor) Extract(pdfPath string) ([]string, error) {
	f, r, err := pdf.Open(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("opening PDF %s: %w", pdfPath, err)
	}
	defer f.Close()

	n := r.NumPage()
	pages := make([]string, n)
	for i := 1; i <= n; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Keep going; a single undecodable page should not sink the document.
			continue
		}
		pages[i-1] = text
	}
	return pages, nil
}
