// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// TextStatus indicates the state of PDF-to-text conversion for a document.
type TextStatus string

const (
	TextNone      TextStatus = "none"
	TextExtracted TextStatus = "extracted"
	TextFailed    TextStatus = "failed"
)

// Document holds metadata and file paths for a regulatory order.
type Document struct {
	// ID is a slug derived from the source filename or URL
	// (e.g. "adjudication-order-mfsl-2024").
	ID string `json:"id" yaml:"id"`

	// SourceURL is the URL from which the document was downloaded.
	SourceURL string `json:"source_url" yaml:"source_url"`

	// PDFPath is the local filesystem path to the PDF.
	PDFPath string `json:"pdf_path" yaml:"pdf_path"`

	// TextPath is the local filesystem path to the extracted text.
	TextPath string `json:"text_path,omitempty" yaml:"text_path,omitempty"`

	// Title is the order title, when known.
	Title string `json:"title,omitempty" yaml:"title,omitempty"`

	// Fetched is the time the PDF was downloaded.
	Fetched time.Time `json:"fetched,omitempty" yaml:"fetched,omitempty"`

	// Pages is the page count reported by the PDF reader.
	Pages int `json:"pages,omitempty" yaml:"pages,omitempty"`

	// TextStatus tracks whether the PDF has been converted to text.
	TextStatus TextStatus `json:"text_status" yaml:"text_status"`
}
