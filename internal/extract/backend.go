// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"context"
	"errors"
	"fmt"
)

// AIBackend abstracts the Generative AI API so tests can supply a mock.
// Each implementation handles a single chunk of document text and returns
// the parsed response.
type AIBackend interface {
	Extract(ctx context.Context, chunk string) (AIResponse, error)
}

// AIResponse is the structured response from the AI backend for one chunk.
type AIResponse struct {
	// Model is the model identifier that produced the response.
	Model string `json:"model" yaml:"model"`

	// Records are the PAN-entity pairs as returned by the model, prior
	// to validation.
	Records []AIRecord `json:"records" yaml:"records"`
}

// AIRecord is a single pair as returned by the model.
type AIRecord struct {
	PAN      string `json:"pan" yaml:"pan"`
	Relation string `json:"relation" yaml:"relation"`
	Entity   string `json:"entity" yaml:"entity"`
}

// RateLimitError marks a backend failure caused by API quota or rate
// limiting. The retry layer uses a longer backoff schedule for these, and
// the model rotator advances past the affected model.
type RateLimitError struct {
	Model string
	Err   error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("model %s rate limited: %v", e.Model, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// IsRateLimit reports whether err is, or wraps, a RateLimitError.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// ErrModelsExhausted is returned once every configured model has spent
// its rate-limit budget. Further retries cannot succeed.
var ErrModelsExhausted = errors.New("all models exhausted")

// modelAdvancer is implemented by backends that can fall back to another
// model. The retry layer calls Advance once the current model's retry
// budget is spent on rate limits.
type modelAdvancer interface {
	Advance() bool
}

// ModelRotator tries backends in preference order. Errors, rate limits
// included, pass through to the retry layer so it can back off against
// the same model; the model is abandoned for the rest of the run only
// when the retry layer calls Advance.
type ModelRotator struct {
	backends []AIBackend
	current  int
}

// NewModelRotator builds a rotator over the given backends, tried in order.
func NewModelRotator(backends ...AIBackend) *ModelRotator {
	return &ModelRotator{backends: backends}
}

// Extract delegates to the current backend. It returns ErrModelsExhausted
// when no backend remains.
func (r *ModelRotator) Extract(ctx context.Context, chunk string) (AIResponse, error) {
	if r.current >= len(r.backends) {
		return AIResponse{}, ErrModelsExhausted
	}
	return r.backends[r.current].Extract(ctx, chunk)
}

// Advance abandons the current model for the rest of the run and reports
// whether another model remains.
func (r *ModelRotator) Advance() bool {
	r.current++
	return r.current < len(r.backends)
}
