// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// RelationPANOf is the only relation the pipeline extracts: the link
// between a PAN and the person or organisation it belongs to.
const RelationPANOf = "PAN_Of"

// PANRecord is a single extracted PAN-to-entity pair with provenance.
type PANRecord struct {
	// ID is a stable identifier for this record, consistent across
	// re-extractions of unchanged content.
	ID string `json:"id" yaml:"id"`

	// PAN is the 10-character Permanent Account Number
	// (5 letters, 4 digits, 1 letter, e.g. "AAUFM6247N").
	PAN string `json:"pan" yaml:"pan"`

	// Entity is the person or organisation name exactly as it appears
	// in the source document.
	Entity string `json:"entity" yaml:"entity"`

	// Relation is always RelationPANOf.
	Relation string `json:"relation" yaml:"relation"`

	// DocumentID matches the Document record the pair was found in.
	DocumentID string `json:"document_id" yaml:"document_id"`

	// Page is the page number where the pair's chunk begins (0 if unknown).
	Page int `json:"page" yaml:"page"`

	// Model is the model identifier that produced the record.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`
}

// ExtractionResult holds the output of extracting PAN records from a
// single document.
type ExtractionResult struct {
	// DocumentID identifies the source document.
	DocumentID string `json:"document_id" yaml:"document_id"`

	// Records contains the extracted PAN-entity pairs.
	Records []PANRecord `json:"records" yaml:"records"`

	// Error records an extraction failure message. Empty on success.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}
