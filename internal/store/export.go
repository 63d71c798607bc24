// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"

	"github.com/deltaloop/pan-extract/internal/extract"
	"github.com/deltaloop/pan-extract/pkg/types"
)

// ExportEntry holds a PAN record with document metadata for export.
type ExportEntry struct {
	ID         string          `json:"id" yaml:"id"`
	PAN        string          `json:"pan" yaml:"pan"`
	Entity     string          `json:"entity" yaml:"entity"`
	Relation   string          `json:"relation" yaml:"relation"`
	DocumentID string          `json:"document_id" yaml:"document_id"`
	Page       int             `json:"page,omitempty" yaml:"page,omitempty"`
	Model      string          `json:"model,omitempty" yaml:"model,omitempty"`
	Document   *ExportDocument `json:"document,omitempty" yaml:"document,omitempty"`
}

// ExportDocument holds the document-level fields included in each export entry.
type ExportDocument struct {
	Title     string `json:"title,omitempty" yaml:"title,omitempty"`
	SourceURL string `json:"source_url,omitempty" yaml:"source_url,omitempty"`
}

const exportLimit = 100000

// ExportYAML writes the records index to records/index/export.yaml.
// It supports the same filters as Retrieve.
func (s *Store) ExportYAML(ctx context.Context, opts QueryOptions) error {
	entries, err := s.exportEntries(ctx, opts)
	if err != nil {
		return err
	}

	path := filepath.Join(s.recordsDir, indexDir, "export.yaml")
	data, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshaling YAML: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ExportJSON writes the records index to records/index/export.json.
// It supports the same filters as Retrieve.
func (s *Store) ExportJSON(ctx context.Context, opts QueryOptions) error {
	entries, err := s.exportEntries(ctx, opts)
	if err != nil {
		return err
	}

	path := filepath.Join(s.recordsDir, indexDir, "export.json")
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ExportCSV writes matching records to path in the standard three-column
// layout. An empty path defaults to records/index/export.csv.
func (s *Store) ExportCSV(ctx context.Context, opts QueryOptions, path string) error {
	if opts.MaxResults <= 0 {
		opts.MaxResults = exportLimit
	}
	results, err := s.Retrieve(ctx, opts)
	if err != nil {
		return fmt.Errorf("querying for export: %w", err)
	}

	if path == "" {
		path = filepath.Join(s.recordsDir, indexDir, "export.csv")
	}

	records := make([]types.PANRecord, len(results))
	for i, r := range results {
		records[i] = r.PANRecord
	}
	return extract.WriteCSV(path, records)
}

func (s *Store) exportEntries(ctx context.Context, opts QueryOptions) ([]ExportEntry, error) {
	if opts.MaxResults <= 0 {
		opts.MaxResults = exportLimit
	}
	results, err := s.Retrieve(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("querying for export: %w", err)
	}

	entries := make([]ExportEntry, len(results))
	for i, r := range results {
		entries[i] = ExportEntry{
			ID:         r.ID,
			PAN:        r.PAN,
			Entity:     r.Entity,
			Relation:   r.Relation,
			DocumentID: r.DocumentID,
			Page:       r.Page,
			Model:      r.Model,
		}
		if r.DocumentTitle != "" || r.SourceURL != "" {
			entries[i].Document = &ExportDocument{
				Title:     r.DocumentTitle,
				SourceURL: r.SourceURL,
			}
		}
	}

	return entries, nil
}
