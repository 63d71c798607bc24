// Package extract identifies PAN-entity pairs within converted document text.
// It chunks the text, prompts a Generative AI backend per chunk with retry
// and model rotation, validates the response, and writes per-document
// result files.
package extract

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/deltaloop/pan-extract/pkg/types"
)

const (
	textDir      = "text"
	extractedDir = "extracted"

	// defaultMaxChunkChars keeps a chunk within the request budget of the
	// free-tier models.
	defaultMaxChunkChars = 120000
)

// panPattern is the regulatory PAN format: 5 letters, 4 digits, 1 letter.
var panPattern = regexp.MustCompile(`^[A-Z]{5}[0-9]{4}[A-Z]$`)

// ValidPAN reports whether s is a well-formed PAN.
func ValidPAN(s string) bool {
	return panPattern.MatchString(s)
}

// chunk is a slice of document text small enough for one model request.
type chunk struct {
	text string
	page int // page in effect where the chunk starts
}

// chunkText splits document text on blank-line boundaries into chunks of at
// most maxChars characters. A single oversized paragraph becomes its own
// chunk. Page markers emitted by the text stage (<!-- page N -->) are
// stripped from the output and used to attribute a start page to each chunk.
func chunkText(content string, maxChars int) []chunk {
	if maxChars <= 0 {
		maxChars = defaultMaxChunkChars
	}

	var chunks []chunk
	var cur strings.Builder
	curPage := 1
	page := 1

	flush := func() {
		text := strings.TrimSpace(cur.String())
		if text != "" {
			chunks = append(chunks, chunk{text: text, page: curPage})
		}
		cur.Reset()
	}

	for _, section := range strings.Split(content, "\n\n") {
		body, startPage, endPage := sectionPages(section, page)
		page = endPage
		if strings.TrimSpace(body) == "" {
			continue
		}

		if cur.Len() > 0 && cur.Len()+len(body) > maxChars {
			flush()
		}
		if cur.Len() == 0 {
			curPage = startPage
		}
		cur.WriteString(body)
		cur.WriteString("\n\n")
	}
	flush()

	return chunks
}

// sectionPages strips page marker lines from one section, returning the
// remaining body, the page the section starts on, and the page in effect
// after it. Markers before any text advance the start page; markers after
// text only affect what follows.
func sectionPages(section string, current int) (body string, startPage, endPage int) {
	startPage = current
	endPage = current
	seenText := false
	var lines []string

	for _, line := range strings.Split(section, "\n") {
		if p, ok := parsePageMarker(strings.TrimSpace(line)); ok {
			endPage = p
			if !seenText {
				startPage = p
			}
			continue
		}
		if strings.TrimSpace(line) != "" {
			seenText = true
		}
		lines = append(lines, line)
	}

	return strings.Join(lines, "\n"), startPage, endPage
}

// parsePageMarker extracts the page number from a marker like <!-- page 3 -->.
func parsePageMarker(line string) (int, bool) {
	if !strings.HasPrefix(line, "<!-- page ") || !strings.HasSuffix(line, " -->") {
		return 0, false
	}
	inner := strings.TrimPrefix(line, "<!-- page ")
	inner = strings.TrimSuffix(inner, " -->")
	var page int
	if _, err := fmt.Sscanf(inner, "%d", &page); err != nil {
		return 0, false
	}
	return page, true
}

// Backoff bases for retry waits. Tests override these to avoid real sleeps.
var (
	backoffBase   = time.Second
	rateLimitBase = 16 * time.Second
)

// callWithRetry calls the AI backend with exponential backoff. Ordinary
// failures (malformed output, transport errors) back off from backoffBase;
// rate limits wait on the much longer rateLimitBase schedule against the
// same model. A backend that can rotate models gets advanced once the
// current model's retry budget is spent on a rate limit, and the fresh
// model starts with a full budget; ErrModelsExhausted surfaces when none
// remain.
func callWithRetry(ctx context.Context, backend AIBackend, text string, maxRetries int) (AIResponse, error) {
	var lastErr error
	attempt := 0 // attempts against the current model

	for {
		resp, err := backend.Extract(ctx, text)
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, ErrModelsExhausted) {
			return AIResponse{}, err
		}
		lastErr = err
		attempt++

		if attempt > maxRetries {
			if IsRateLimit(err) {
				if adv, ok := backend.(modelAdvancer); ok {
					if !adv.Advance() {
						return AIResponse{}, fmt.Errorf("%w: %v", ErrModelsExhausted, lastErr)
					}
					attempt = 0
					continue
				}
			}
			return AIResponse{}, fmt.Errorf("after %d retries: %w", maxRetries, lastErr)
		}

		base := backoffBase
		if IsRateLimit(err) {
			base = rateLimitBase
		}
		backoff := time.Duration(math.Pow(2, float64(attempt-1))) * base
		select {
		case <-ctx.Done():
			return AIResponse{}, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// validRecords converts model output into PANRecords, dropping items whose
// PAN is malformed or whose entity is empty. The relation is normalized to
// RelationPANOf regardless of what the model answered.
func validRecords(resp AIResponse, docID string, page int) []types.PANRecord {
	var records []types.PANRecord
	for _, item := range resp.Records {
		pan := strings.ToUpper(strings.TrimSpace(item.PAN))
		entity := strings.TrimSpace(item.Entity)
		if !ValidPAN(pan) || entity == "" {
			continue
		}
		records = append(records, types.PANRecord{
			ID:         stableID(docID, pan, entity),
			PAN:        pan,
			Entity:     entity,
			Relation:   types.RelationPANOf,
			DocumentID: docID,
			Page:       page,
			Model:      resp.Model,
		})
	}
	return records
}

// stableID generates a deterministic ID from document ID, PAN, and entity.
// The ID is the first 12 hex characters of SHA-256 over the three fields.
func stableID(docID, pan, entity string) string {
	h := sha256.New()
	h.Write([]byte(docID))
	h.Write([]byte(pan))
	h.Write([]byte(entity))
	return fmt.Sprintf("%x", h.Sum(nil))[:12]
}

// ExtractDocument extracts PAN records from a single document's text file.
// Chunks whose retries exhaust on malformed output contribute no records
// but do not abort the document; the failure is noted on the result. Rate
// limit exhaustion across every model aborts, since no later chunk can
// succeed either.
func ExtractDocument(ctx context.Context, backend AIBackend, docID, txtPath string, cfg types.ExtractionConfig) (*types.ExtractionResult, error) {
	content, err := os.ReadFile(txtPath)
	if err != nil {
		return nil, fmt.Errorf("reading text %s: %w", txtPath, err)
	}

	chunks := chunkText(string(content), cfg.MaxChunkChars)

	result := &types.ExtractionResult{DocumentID: docID}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	seen := make(map[string]bool)
	for i, ch := range chunks {
		resp, err := callWithRetry(ctx, backend, ch.text, maxRetries)
		if err != nil {
			if errors.Is(err, ErrModelsExhausted) || ctx.Err() != nil {
				return nil, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
			}
			result.Error = fmt.Sprintf("chunk %d/%d: %v", i+1, len(chunks), err)
			continue
		}

		for _, rec := range validRecords(resp, docID, ch.page) {
			key := rec.PAN + "\x00" + rec.Entity
			if seen[key] {
				continue
			}
			seen[key] = true
			result.Records = append(result.Records, rec)
		}
	}

	return result, nil
}

// BatchSummary holds counts and accumulated records from a batch run.
type BatchSummary struct {
	Extracted int
	Skipped   int
	Failed    int

	// Records collects every record produced during the run, in document
	// order, for direct CSV output.
	Records []types.PANRecord
}

// Total returns the number of documents processed.
func (s BatchSummary) Total() int {
	return s.Extracted + s.Skipped + s.Failed
}

// HasFailures reports whether any documents failed.
func (s BatchSummary) HasFailures() bool {
	return s.Failed > 0
}

// ExtractAll processes all text files in documentsDir/text/, extracts PAN
// records via the AI backend, and writes results to recordsDir/extracted/.
// Unchanged documents are skipped and changed ones re-extracted, based on
// file modification times.
func ExtractAll(ctx context.Context, backend AIBackend, cfg types.ExtractionConfig, w io.Writer) (BatchSummary, error) {
	txtDir := filepath.Join(cfg.DocumentsDir, textDir)

	entries, err := os.ReadDir(txtDir)
	if err != nil {
		return BatchSummary{}, fmt.Errorf("reading text directory %s: %w", txtDir, err)
	}

	var docIDs []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		docIDs = append(docIDs, strings.TrimSuffix(entry.Name(), ".txt"))
	}

	return ExtractDocs(ctx, backend, docIDs, cfg, w)
}

// ExtractDocs processes the named documents, applying the same
// skip-if-unchanged logic as ExtractAll.
func ExtractDocs(ctx context.Context, backend AIBackend, docIDs []string, cfg types.ExtractionConfig, w io.Writer) (BatchSummary, error) {
	txtDir := filepath.Join(cfg.DocumentsDir, textDir)
	outDir := filepath.Join(cfg.RecordsDir, extractedDir)

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return BatchSummary{}, fmt.Errorf("creating output directory: %w", err)
	}

	var summary BatchSummary

	for _, docID := range docIDs {
		txtPath := filepath.Join(txtDir, docID+".txt")
		outPath := filepath.Join(outDir, docID+"-records.yaml")

		changed, err := hasChanged(txtPath, outPath)
		if err != nil {
			fmt.Fprintf(w, "failed  %s: %v\n", docID, err)
			summary.Failed++
			continue
		}
		if !changed {
			fmt.Fprintf(w, "skipped %s\n", docID)
			summary.Skipped++
			continue
		}

		fmt.Fprintf(w, "extracting %s\n", docID)

		result, err := ExtractDocument(ctx, backend, docID, txtPath, cfg)
		if err != nil {
			fmt.Fprintf(w, "failed  %s: %v\n", docID, err)
			summary.Failed++
			if errors.Is(err, ErrModelsExhausted) || ctx.Err() != nil {
				return summary, err
			}
			continue
		}

		if err := writeResult(outPath, result); err != nil {
			fmt.Fprintf(w, "failed  %s: write error: %v\n", docID, err)
			summary.Failed++
			continue
		}

		fmt.Fprintf(w, "extracted %s (%d records)\n", docID, len(result.Records))
		summary.Extracted++
		summary.Records = append(summary.Records, result.Records...)
	}

	return summary, nil
}

// hasChanged reports whether the text file is newer than the output file.
// Returns true if the output does not exist or the text is more recent.
func hasChanged(txtPath, outPath string) (bool, error) {
	txtInfo, err := os.Stat(txtPath)
	if err != nil {
		return false, fmt.Errorf("stat text %s: %w", txtPath, err)
	}

	outInfo, err := os.Stat(outPath)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, fmt.Errorf("stat output %s: %w", outPath, err)
	}

	return txtInfo.ModTime().After(outInfo.ModTime()), nil
}

// writeResult marshals the ExtractionResult to a YAML file.
func writeResult(path string, result *types.ExtractionResult) error {
	data, err := yaml.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// csvHeader is the column layout consumers of the CSV output expect.
var csvHeader = []string{"Entity (PAN)", "Relation", "Entity (Person)"}

// WriteCSV writes records to a CSV file with the standard three columns.
func WriteCSV(path string, records []types.PANRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating CSV %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		f.Close()
		return fmt.Errorf("writing CSV header: %w", err)
	}
	for _, r := range records {
		if err := w.Write([]string{r.PAN, r.Relation, r.Entity}); err != nil {
			f.Close()
			return fmt.Errorf("writing CSV row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flushing CSV: %w", err)
	}
	return f.Close()
}
