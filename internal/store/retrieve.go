// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/deltaloop/pan-extract/pkg/types"
)

// QueryOptions holds parameters for record queries.
type QueryOptions struct {
	// Entity is the FTS5 full-text search string matched against entity names.
	Entity string

	// PAN filters to an exact PAN. Matching is case-insensitive.
	PAN string

	// DocumentID filters by source document.
	DocumentID string

	// MaxResults limits result count. Zero uses the store default.
	MaxResults int
}

// IsEmpty reports whether the query has no search terms or filters.
func (q QueryOptions) IsEmpty() bool {
	return q.Entity == "" && q.PAN == "" && q.DocumentID == ""
}

// QueryResult is a PANRecord with associated document metadata.
type QueryResult struct {
	types.PANRecord
	DocumentTitle string `json:"document_title" yaml:"document_title"`
	SourceURL     string `json:"source_url" yaml:"source_url"`
}

// Retrieve queries the records index with optional full-text entity
// search and structured filters. Results are ranked by relevance for
// entity queries or sorted by document, PAN for structured-only queries.
func (s *Store) Retrieve(ctx context.Context, opts QueryOptions) ([]QueryResult, error) {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = s.maxResults
	}

	var (
		qb     strings.Builder
		args   []any
		useFTS = opts.Entity != ""
	)

	if useFTS {
		qb.WriteString(
			`SELECT r.id, r.pan, r.entity, r.relation, r.document_id, r.page, r.model,
				d.title, d.source_url, records_fts.rank
			FROM records_fts
			JOIN records r ON r.rowid = records_fts.rowid
			LEFT JOIN documents d ON r.document_id = d.id
			WHERE records_fts MATCH ?`)
		args = append(args, opts.Entity)
	} else {
		qb.WriteString(
			`SELECT r.id, r.pan, r.entity, r.relation, r.document_id, r.page, r.model,
				d.title, d.source_url, 0 AS rank
			FROM records r
			LEFT JOIN documents d ON r.document_id = d.id
			WHERE 1=1`)
	}

	if opts.PAN != "" {
		qb.WriteString(` AND r.pan = ?`)
		args = append(args, strings.ToUpper(strings.TrimSpace(opts.PAN)))
	}

	if opts.DocumentID != "" {
		qb.WriteString(` AND r.document_id = ?`)
		args = append(args, opts.DocumentID)
	}

	if useFTS {
		qb.WriteString(` ORDER BY records_fts.rank`)
	} else {
		qb.WriteString(` ORDER BY r.document_id, r.pan`)
	}

	qb.WriteString(` LIMIT ?`)
	args = append(args, maxResults)

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var results []QueryResult
	for rows.Next() {
		var (
			qr       QueryResult
			docTitle sql.NullString
			srcURL   sql.NullString
			rank     float64
		)

		if err := rows.Scan(
			&qr.ID, &qr.PAN, &qr.Entity, &qr.Relation,
			&qr.DocumentID, &qr.Page, &qr.Model,
			&docTitle, &srcURL, &rank,
		); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		if docTitle.Valid {
			qr.DocumentTitle = docTitle.String
		}
		if srcURL.Valid {
			qr.SourceURL = srcURL.String
		}

		results = append(results, qr)
	}

	return results, rows.Err()
}
