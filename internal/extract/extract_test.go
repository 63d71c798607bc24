package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/deltaloop/pan-extract/pkg/types"
)

// --- mock backends ---

// backendFunc adapts a function to the AIBackend interface.
type backendFunc func(ctx context.Context, chunk string) (AIResponse, error)

func (f backendFunc) Extract(ctx context.Context, chunk string) (AIResponse, error) {
	return f(ctx, chunk)
}

// staticBackend returns the same response for every chunk.
func staticBackend(records ...AIRecord) AIBackend {
	return backendFunc(func(_ context.Context, _ string) (AIResponse, error) {
		return AIResponse{Model: "test-model", Records: records}, nil
	})
}

// failNTimesBackend fails the first N calls, then succeeds.
type failNTimesBackend struct {
	failures  int
	rateLimit bool
	callCount int
	response  AIResponse
}

func (f *failNTimesBackend) Extract(_ context.Context, _ string) (AIResponse, error) {
	f.callCount++
	if f.callCount <= f.failures {
		if f.rateLimit {
			return AIResponse{}, &RateLimitError{Model: "test-model", Err: fmt.Errorf("quota exceeded (call %d)", f.callCount)}
		}
		return AIResponse{}, fmt.Errorf("transient error (call %d)", f.callCount)
	}
	return f.response, nil
}

func TestMain(m *testing.M) {
	// Override backoff bases to avoid real sleeps in retry tests.
	backoffBase = time.Millisecond
	rateLimitBase = time.Millisecond
	os.Exit(m.Run())
}

func testConfig(documentsDir, recordsDir string) types.ExtractionConfig {
	return types.ExtractionConfig{
		AIConfig: types.AIConfig{
			Provider:   "gemini",
			Models:     []string{"test-model"},
			MaxRetries: 3,
		},
		DocumentsDir: documentsDir,
		RecordsDir:   recordsDir,
	}
}

// --- chunkText ---

func TestChunkText(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		maxChars  int
		wantLen   int
		wantPages []int
	}{
		{
			name:      "single small chunk",
			content:   "Noticee table.\n\nMore text.",
			maxChars:  1000,
			wantLen:   1,
			wantPages: []int{1},
		},
		{
			name:      "split at paragraph boundary",
			content:   strings.Repeat("a", 60) + "\n\n" + strings.Repeat("b", 60),
			maxChars:  80,
			wantLen:   2,
			wantPages: []int{1, 1},
		},
		{
			name:      "oversized paragraph becomes its own chunk",
			content:   strings.Repeat("a", 200) + "\n\nshort tail",
			maxChars:  80,
			wantLen:   2,
			wantPages: []int{1, 1},
		},
		{
			name:      "page markers tracked and stripped",
			content:   "<!-- page 1 -->\nFirst page.\n\n<!-- page 2 -->\nSecond page.",
			maxChars:  20,
			wantLen:   2,
			wantPages: []int{1, 2},
		},
		{
			name:     "empty content",
			content:  "",
			maxChars: 1000,
			wantLen:  0,
		},
		{
			name:     "markers only",
			content:  "<!-- page 1 -->\n\n<!-- page 2 -->",
			maxChars: 1000,
			wantLen:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := chunkText(tt.content, tt.maxChars)
			if len(chunks) != tt.wantLen {
				t.Errorf("got %d chunks, want %d", len(chunks), tt.wantLen)
				for i, c := range chunks {
					t.Logf("  chunk[%d]: page=%d text=%q", i, c.page, c.text)
				}
				return
			}
			for i, wantPage := range tt.wantPages {
				if chunks[i].page != wantPage {
					t.Errorf("chunk[%d].page = %d, want %d", i, chunks[i].page, wantPage)
				}
			}
			for i, c := range chunks {
				if strings.Contains(c.text, "<!-- page") {
					t.Errorf("chunk[%d] still contains a page marker: %q", i, c.text)
				}
			}
		})
	}
}

func TestParsePageMarker(t *testing.T) {
	tests := []struct {
		line string
		page int
		ok   bool
	}{
		{"<!-- page 3 -->", 3, true},
		{"<!-- page 12 -->", 12, true},
		{"<!-- page -->", 0, false},
		{"not a marker", 0, false},
		{"<!-- page abc -->", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			page, ok := parsePageMarker(tt.line)
			if ok != tt.ok || page != tt.page {
				t.Errorf("parsePageMarker(%q) = (%d, %v), want (%d, %v)", tt.line, page, ok, tt.page, tt.ok)
			}
		})
	}
}

// --- ValidPAN ---

func TestValidPAN(t *testing.T) {
	tests := []struct {
		pan  string
		want bool
	}{
		{"AAUFM6247N", true},
		{"AAACM9185B", true},
		{"AAUFM6247", false},   // too short
		{"AAUFM6247NN", false}, // too long
		{"AAUF16247N", false},  // digit in letter block
		{"AAUFMA247N", false},  // letter in digit block
		{"aaufm6247n", false},  // lowercase
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.pan, func(t *testing.T) {
			if got := ValidPAN(tt.pan); got != tt.want {
				t.Errorf("ValidPAN(%q) = %v, want %v", tt.pan, got, tt.want)
			}
		})
	}
}

// --- stableID ---

func TestStableID(t *testing.T) {
	id1 := stableID("order-1", "AAUFM6247N", "Mr. Agarwal")
	id2 := stableID("order-1", "AAUFM6247N", "Mr. Agarwal")
	id3 := stableID("order-1", "AAUFM6247N", "Mrs. Agarwal")

	if id1 != id2 {
		t.Errorf("same inputs produced different IDs: %s vs %s", id1, id2)
	}
	if id1 == id3 {
		t.Errorf("different inputs produced the same ID: %s", id1)
	}
	if len(id1) != 12 {
		t.Errorf("ID length = %d, want 12", len(id1))
	}
}

// --- validRecords ---

func TestValidRecords(t *testing.T) {
	tests := []struct {
		name      string
		records   []AIRecord
		wantCount int
	}{
		{
			name: "valid pairs",
			records: []AIRecord{
				{PAN: "AAUFM6247N", Relation: "PAN_Of", Entity: "Mr. Agarwal"},
				{PAN: "AAACM9185B", Relation: "PAN_Of", Entity: "MAHESHWARI FINANCIAL SERVICES PVT. LTD."},
			},
			wantCount: 2,
		},
		{
			name: "malformed PAN rejected",
			records: []AIRecord{
				{PAN: "NOTAPAN123", Relation: "PAN_Of", Entity: "Someone"},
			},
			wantCount: 0,
		},
		{
			name: "empty entity rejected",
			records: []AIRecord{
				{PAN: "AAUFM6247N", Relation: "PAN_Of", Entity: "   "},
			},
			wantCount: 0,
		},
		{
			name: "PAN normalized to upper case",
			records: []AIRecord{
				{PAN: " aaufm6247n ", Relation: "PAN_Of", Entity: "Mr. Agarwal"},
			},
			wantCount: 1,
		},
		{
			name: "relation normalized regardless of model output",
			records: []AIRecord{
				{PAN: "AAUFM6247N", Relation: "belongs_to", Entity: "Mr. Agarwal"},
			},
			wantCount: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := AIResponse{Model: "test-model", Records: tt.records}
			got := validRecords(resp, "order-1", 4)
			if len(got) != tt.wantCount {
				t.Fatalf("got %d records, want %d: %+v", len(got), tt.wantCount, got)
			}
			for _, r := range got {
				if r.ID == "" {
					t.Error("record has empty ID")
				}
				if r.Relation != types.RelationPANOf {
					t.Errorf("Relation = %q, want %q", r.Relation, types.RelationPANOf)
				}
				if r.PAN != strings.ToUpper(r.PAN) {
					t.Errorf("PAN not normalized: %q", r.PAN)
				}
				if r.DocumentID != "order-1" || r.Page != 4 || r.Model != "test-model" {
					t.Errorf("provenance mismatch: %+v", r)
				}
			}
		})
	}
}

// --- callWithRetry ---

func TestCallWithRetry(t *testing.T) {
	tests := []struct {
		name       string
		failures   int
		rateLimit  bool
		maxRetries int
		wantErr    bool
		wantCalls  int
	}{
		{"succeeds first try", 0, false, 3, false, 1},
		{"succeeds after 2 failures", 2, false, 3, false, 3},
		{"fails after exhausting retries", 5, false, 3, true, 4},
		{"succeeds on last retry", 3, false, 3, false, 4},
		{"rate limits retried too", 2, true, 3, false, 3},
		{"rate limits exhaust without a rotator", 5, true, 3, true, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &failNTimesBackend{
				failures:  tt.failures,
				rateLimit: tt.rateLimit,
				response: AIResponse{Model: "test-model", Records: []AIRecord{
					{PAN: "AAUFM6247N", Relation: "PAN_Of", Entity: "Mr. Agarwal"},
				}},
			}

			_, err := callWithRetry(context.Background(), backend, "chunk", tt.maxRetries)

			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if backend.callCount != tt.wantCalls {
				t.Errorf("callCount = %d, want %d", backend.callCount, tt.wantCalls)
			}
		})
	}
}

func TestCallWithRetryStopsOnModelsExhausted(t *testing.T) {
	calls := 0
	backend := backendFunc(func(_ context.Context, _ string) (AIResponse, error) {
		calls++
		return AIResponse{}, ErrModelsExhausted
	})

	_, err := callWithRetry(context.Background(), backend, "chunk", 3)
	if err == nil || !strings.Contains(err.Error(), "all models exhausted") {
		t.Fatalf("err = %v, want models exhausted", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries once every model is gone)", calls)
	}
}

// --- ModelRotator ---

// rateLimitedBackend always answers 429 and counts its calls.
type rateLimitedBackend struct {
	model string
	calls int
}

func (b *rateLimitedBackend) Extract(_ context.Context, _ string) (AIResponse, error) {
	b.calls++
	return AIResponse{}, &RateLimitError{Model: b.model, Err: fmt.Errorf("quota")}
}

func TestModelRotatorSurfacesRateLimit(t *testing.T) {
	limited := &rateLimitedBackend{model: "gemini-2.0-flash"}
	healthy := staticBackend(AIRecord{PAN: "AAUFM6247N", Relation: "PAN_Of", Entity: "Mr. Agarwal"})

	r := NewModelRotator(limited, healthy)

	// The rotator stays on a rate-limited model; the retry layer decides
	// when to give up on it.
	_, err := r.Extract(context.Background(), "chunk")
	if !IsRateLimit(err) {
		t.Fatalf("err = %v, want a rate limit error", err)
	}
	if r.current != 0 {
		t.Errorf("rotator advanced before Advance was called: current = %d", r.current)
	}

	if !r.Advance() {
		t.Fatal("Advance = false with a model remaining")
	}
	resp, err := r.Extract(context.Background(), "chunk")
	if err != nil {
		t.Fatalf("Extract after Advance: %v", err)
	}
	if len(resp.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(resp.Records))
	}
}

func TestModelRotatorStaysOnNonRateLimitError(t *testing.T) {
	failing := backendFunc(func(_ context.Context, _ string) (AIResponse, error) {
		return AIResponse{}, fmt.Errorf("malformed output")
	})
	healthy := staticBackend()

	r := NewModelRotator(failing, healthy)

	_, err := r.Extract(context.Background(), "chunk")
	if err == nil || strings.Contains(err.Error(), "exhausted") {
		t.Fatalf("err = %v, want the backend's own error", err)
	}
	if r.current != 0 {
		t.Errorf("rotator advanced on a non-rate-limit error: current = %d", r.current)
	}
}

func TestModelRotatorExhaustsAllModels(t *testing.T) {
	r := NewModelRotator(&rateLimitedBackend{model: "a"})

	if r.Advance() {
		t.Fatal("Advance = true past the last model")
	}
	_, err := r.Extract(context.Background(), "chunk")
	if err != ErrModelsExhausted {
		t.Fatalf("err = %v, want ErrModelsExhausted", err)
	}
}

func TestCallWithRetryRotatesAfterRateLimitBudget(t *testing.T) {
	limited := &rateLimitedBackend{model: "gemini-2.0-flash"}
	healthyCalls := 0
	healthy := backendFunc(func(_ context.Context, _ string) (AIResponse, error) {
		healthyCalls++
		return AIResponse{Model: "gemini-2.5-flash", Records: []AIRecord{
			{PAN: "AAUFM6247N", Relation: "PAN_Of", Entity: "Mr. Agarwal"},
		}}, nil
	})

	r := NewModelRotator(limited, healthy)

	resp, err := callWithRetry(context.Background(), r, "chunk", 2)
	if err != nil {
		t.Fatalf("callWithRetry: %v", err)
	}
	// The rate-limited model keeps its full retry budget before rotation.
	if limited.calls != 3 {
		t.Errorf("limited.calls = %d, want 3 (initial attempt + 2 retries)", limited.calls)
	}
	if healthyCalls != 1 {
		t.Errorf("healthyCalls = %d, want 1", healthyCalls)
	}
	if resp.Model != "gemini-2.5-flash" {
		t.Errorf("Model = %q, want the fallback model", resp.Model)
	}
}

func TestCallWithRetryExhaustsEveryModelBudget(t *testing.T) {
	a := &rateLimitedBackend{model: "a"}
	b := &rateLimitedBackend{model: "b"}

	r := NewModelRotator(a, b)

	_, err := callWithRetry(context.Background(), r, "chunk", 2)
	if !errors.Is(err, ErrModelsExhausted) {
		t.Fatalf("err = %v, want ErrModelsExhausted", err)
	}
	// Every model sees its full budget before the run gives up.
	if a.calls != 3 || b.calls != 3 {
		t.Errorf("calls = %d/%d, want 3/3", a.calls, b.calls)
	}
}

// --- ExtractDocument ---

func writeTextFile(t *testing.T, documentsDir, name, content string) string {
	t.Helper()
	dir := filepath.Join(documentsDir, textDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExtractDocument(t *testing.T) {
	tmpDir := t.TempDir()
	txt := "<!-- page 1 -->\nAdjudication order.\n\n<!-- page 3 -->\nNoticee: Mr. Agarwal, PAN AAUFM6247N.\n"
	txtPath := writeTextFile(t, filepath.Join(tmpDir, "documents"), "order-1.txt", txt)

	backend := staticBackend(AIRecord{PAN: "AAUFM6247N", Relation: "PAN_Of", Entity: "Mr. Agarwal"})

	cfg := testConfig(filepath.Join(tmpDir, "documents"), filepath.Join(tmpDir, "records"))

	result, err := ExtractDocument(context.Background(), backend, "order-1", txtPath, cfg)
	if err != nil {
		t.Fatalf("ExtractDocument: %v", err)
	}

	if result.DocumentID != "order-1" {
		t.Errorf("DocumentID = %q, want %q", result.DocumentID, "order-1")
	}
	if len(result.Records) != 1 {
		t.Fatalf("got %d records, want 1: %+v", len(result.Records), result.Records)
	}
	rec := result.Records[0]
	if rec.PAN != "AAUFM6247N" || rec.Entity != "Mr. Agarwal" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.Page != 1 {
		t.Errorf("Page = %d, want 1 (single chunk starting on page 1)", rec.Page)
	}
}

func TestExtractDocumentChunkFailureContinues(t *testing.T) {
	tmpDir := t.TempDir()
	// Two paragraphs, small max chunk size, so two chunks.
	txt := strings.Repeat("a", 50) + "\n\nNoticee: Mr. Agarwal, PAN AAUFM6247N."
	txtPath := writeTextFile(t, filepath.Join(tmpDir, "documents"), "order-2.txt", txt)

	calls := 0
	backend := backendFunc(func(_ context.Context, _ string) (AIResponse, error) {
		calls++
		// Every call for the first chunk fails; the second chunk succeeds.
		if calls <= 4 {
			return AIResponse{}, fmt.Errorf("malformed output")
		}
		return AIResponse{Model: "test-model", Records: []AIRecord{
			{PAN: "AAUFM6247N", Relation: "PAN_Of", Entity: "Mr. Agarwal"},
		}}, nil
	})

	cfg := testConfig(filepath.Join(tmpDir, "documents"), filepath.Join(tmpDir, "records"))
	cfg.MaxChunkChars = 60

	result, err := ExtractDocument(context.Background(), backend, "order-2", txtPath, cfg)
	if err != nil {
		t.Fatalf("ExtractDocument: %v", err)
	}
	if result.Error == "" {
		t.Error("result.Error should note the failed chunk")
	}
	if len(result.Records) != 1 {
		t.Errorf("got %d records, want 1 from the surviving chunk", len(result.Records))
	}
}

func TestExtractDocumentAbortsWhenModelsExhausted(t *testing.T) {
	tmpDir := t.TempDir()
	txtPath := writeTextFile(t, filepath.Join(tmpDir, "documents"), "order-3.txt", "Some text.")

	r := NewModelRotator() // no backends at all

	cfg := testConfig(filepath.Join(tmpDir, "documents"), filepath.Join(tmpDir, "records"))

	_, err := ExtractDocument(context.Background(), r, "order-3", txtPath, cfg)
	if err == nil || !strings.Contains(err.Error(), "all models exhausted") {
		t.Fatalf("err = %v, want models exhausted", err)
	}
}

// --- ExtractAll ---

func TestExtractAll(t *testing.T) {
	tmpDir := t.TempDir()
	documentsDir := filepath.Join(tmpDir, "documents")
	recordsDir := filepath.Join(tmpDir, "records")

	writeTextFile(t, documentsDir, "order-1.txt", "Noticee: Mr. Agarwal, PAN AAUFM6247N.")
	writeTextFile(t, documentsDir, "order-2.txt", "Noticee: MFSL, PAN AAACM9185B.")

	backend := backendFunc(func(_ context.Context, chunk string) (AIResponse, error) {
		if strings.Contains(chunk, "AAUFM6247N") {
			return AIResponse{Model: "test-model", Records: []AIRecord{
				{PAN: "AAUFM6247N", Relation: "PAN_Of", Entity: "Mr. Agarwal"},
			}}, nil
		}
		return AIResponse{Model: "test-model", Records: []AIRecord{
			{PAN: "AAACM9185B", Relation: "PAN_Of", Entity: "MFSL"},
		}}, nil
	})

	cfg := testConfig(documentsDir, recordsDir)

	var buf strings.Builder
	summary, err := ExtractAll(context.Background(), backend, cfg, &buf)
	if err != nil {
		t.Fatalf("ExtractAll: %v", err)
	}

	if summary.Extracted != 2 || summary.Skipped != 0 || summary.Failed != 0 {
		t.Errorf("summary = %+v, want 2 extracted", summary)
	}
	if len(summary.Records) != 2 {
		t.Errorf("got %d accumulated records, want 2", len(summary.Records))
	}

	// Verify YAML result files.
	for _, name := range []string{"order-1-records.yaml", "order-2-records.yaml"} {
		data, err := os.ReadFile(filepath.Join(recordsDir, extractedDir, name))
		if err != nil {
			t.Errorf("reading %s: %v", name, err)
			continue
		}
		var result types.ExtractionResult
		if err := yaml.Unmarshal(data, &result); err != nil {
			t.Errorf("unmarshaling %s: %v", name, err)
			continue
		}
		if len(result.Records) != 1 {
			t.Errorf("%s: got %d records, want 1", name, len(result.Records))
		}
	}
}

func TestExtractDocsSubset(t *testing.T) {
	tmpDir := t.TempDir()
	documentsDir := filepath.Join(tmpDir, "documents")
	recordsDir := filepath.Join(tmpDir, "records")

	writeTextFile(t, documentsDir, "order-1.txt", "Noticee: Mr. Agarwal, PAN AAUFM6247N.")
	writeTextFile(t, documentsDir, "order-2.txt", "Noticee: MFSL, PAN AAACM9185B.")

	backend := staticBackend(AIRecord{PAN: "AAUFM6247N", Relation: "PAN_Of", Entity: "Mr. Agarwal"})

	cfg := testConfig(documentsDir, recordsDir)

	var buf strings.Builder
	summary, err := ExtractDocs(context.Background(), backend, []string{"order-1"}, cfg, &buf)
	if err != nil {
		t.Fatalf("ExtractDocs: %v", err)
	}

	if summary.Extracted != 1 {
		t.Errorf("summary = %+v, want 1 extracted", summary)
	}
	if _, err := os.Stat(filepath.Join(recordsDir, extractedDir, "order-1-records.yaml")); err != nil {
		t.Errorf("order-1 result missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(recordsDir, extractedDir, "order-2-records.yaml")); !os.IsNotExist(err) {
		t.Error("order-2 should not have been processed")
	}
}

func TestExtractDocsMissingText(t *testing.T) {
	tmpDir := t.TempDir()
	documentsDir := filepath.Join(tmpDir, "documents")
	recordsDir := filepath.Join(tmpDir, "records")

	writeTextFile(t, documentsDir, "order-1.txt", "Noticee: Mr. Agarwal, PAN AAUFM6247N.")

	backend := staticBackend(AIRecord{PAN: "AAUFM6247N", Relation: "PAN_Of", Entity: "Mr. Agarwal"})

	cfg := testConfig(documentsDir, recordsDir)

	var buf strings.Builder
	summary, err := ExtractDocs(context.Background(), backend, []string{"no-such-order"}, cfg, &buf)
	if err != nil {
		t.Fatalf("ExtractDocs: %v", err)
	}
	if summary.Failed != 1 {
		t.Errorf("summary = %+v, want 1 failed", summary)
	}
}

func TestExtractAllSkipsUnchanged(t *testing.T) {
	tmpDir := t.TempDir()
	documentsDir := filepath.Join(tmpDir, "documents")
	recordsDir := filepath.Join(tmpDir, "records")
	outDir := filepath.Join(recordsDir, extractedDir)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatal(err)
	}

	writeTextFile(t, documentsDir, "order-1.txt", "Text.")

	// Create output file with a future modification time so the text
	// appears unchanged.
	result := &types.ExtractionResult{DocumentID: "order-1"}
	data, _ := yaml.Marshal(result)
	outPath := filepath.Join(outDir, "order-1-records.yaml")
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(outPath, future, future); err != nil {
		t.Fatal(err)
	}

	calls := 0
	backend := backendFunc(func(_ context.Context, _ string) (AIResponse, error) {
		calls++
		return AIResponse{}, nil
	})

	cfg := testConfig(documentsDir, recordsDir)
	var buf strings.Builder
	summary, err := ExtractAll(context.Background(), backend, cfg, &buf)
	if err != nil {
		t.Fatalf("ExtractAll: %v", err)
	}

	if summary.Skipped != 1 || summary.Extracted != 0 {
		t.Errorf("summary = %+v, want 1 skipped", summary)
	}
	if calls != 0 {
		t.Errorf("backend called %d times for a skipped document, want 0", calls)
	}
}

func TestExtractAllReextractsChanged(t *testing.T) {
	tmpDir := t.TempDir()
	documentsDir := filepath.Join(tmpDir, "documents")
	recordsDir := filepath.Join(tmpDir, "records")
	outDir := filepath.Join(recordsDir, extractedDir)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatal(err)
	}

	// Old output, then a newer text file.
	outPath := filepath.Join(outDir, "order-1-records.yaml")
	oldData, _ := yaml.Marshal(&types.ExtractionResult{DocumentID: "order-1"})
	if err := os.WriteFile(outPath, oldData, 0o644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(outPath, past, past); err != nil {
		t.Fatal(err)
	}

	writeTextFile(t, documentsDir, "order-1.txt", "Noticee: Mr. Agarwal, PAN AAUFM6247N.")

	backend := staticBackend(AIRecord{PAN: "AAUFM6247N", Relation: "PAN_Of", Entity: "Mr. Agarwal"})

	cfg := testConfig(documentsDir, recordsDir)
	var buf strings.Builder
	summary, err := ExtractAll(context.Background(), backend, cfg, &buf)
	if err != nil {
		t.Fatalf("ExtractAll: %v", err)
	}
	if summary.Extracted != 1 {
		t.Errorf("Extracted = %d, want 1", summary.Extracted)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	var newResult types.ExtractionResult
	if err := yaml.Unmarshal(data, &newResult); err != nil {
		t.Fatal(err)
	}
	if len(newResult.Records) != 1 || newResult.Records[0].Entity != "Mr. Agarwal" {
		t.Errorf("output not replaced: %+v", newResult)
	}
}

func TestExtractAllAbortsOnModelExhaustion(t *testing.T) {
	tmpDir := t.TempDir()
	documentsDir := filepath.Join(tmpDir, "documents")
	recordsDir := filepath.Join(tmpDir, "records")

	writeTextFile(t, documentsDir, "order-1.txt", "Text one.")
	writeTextFile(t, documentsDir, "order-2.txt", "Text two.")

	r := NewModelRotator(backendFunc(func(_ context.Context, _ string) (AIResponse, error) {
		return AIResponse{}, &RateLimitError{Model: "test-model", Err: fmt.Errorf("quota")}
	}))

	cfg := testConfig(documentsDir, recordsDir)
	var buf strings.Builder
	summary, err := ExtractAll(context.Background(), r, cfg, &buf)
	if err == nil {
		t.Fatal("expected error once every model is exhausted")
	}
	// The batch stops at the first document; the second is never attempted.
	if summary.Failed != 1 {
		t.Errorf("Failed = %d, want 1", summary.Failed)
	}
}

// --- BatchSummary ---

func TestBatchSummary(t *testing.T) {
	s := BatchSummary{Extracted: 3, Skipped: 2, Failed: 1}
	if s.Total() != 6 {
		t.Errorf("Total() = %d, want 6", s.Total())
	}
	if !s.HasFailures() {
		t.Error("HasFailures() should return true")
	}

	s2 := BatchSummary{Extracted: 5}
	if s2.HasFailures() {
		t.Error("HasFailures() should return false")
	}
}

// --- WriteCSV ---

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.csv")
	records := []types.PANRecord{
		{PAN: "AAUFM6247N", Relation: "PAN_Of", Entity: "Mr. Agarwal"},
		{PAN: "AAACM9185B", Relation: "PAN_Of", Entity: "MAHESHWARI FINANCIAL SERVICES PVT. LTD."},
	}

	if err := WriteCSV(path, records); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3 (header + 2 rows):\n%s", len(lines), data)
	}
	if lines[0] != "Entity (PAN),Relation,Entity (Person)" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "AAUFM6247N,PAN_Of,Mr. Agarwal" {
		t.Errorf("row 1 = %q", lines[1])
	}
}
