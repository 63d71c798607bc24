// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	genai "google.golang.org/genai"
)

// GeminiBackend calls the Gemini API via the official SDK to extract PAN
// records from a chunk of document text.
type GeminiBackend struct {
	client *genai.Client
	model  string
}

// NewGeminiBackend builds a Gemini backend for a single model identifier.
// Rotation across models is handled by ModelRotator, one backend per model.
func NewGeminiBackend(ctx context.Context, apiKey, model string) (*GeminiBackend, error) {
	if apiKey == "" {
		return nil, errors.New("missing Google API key")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}
	return &GeminiBackend{client: c, model: model}, nil
}

// Model returns the model identifier this backend targets.
func (g *GeminiBackend) Model() string { return g.model }

// Extract calls the Gemini API with the extraction prompt for one chunk.
func (g *GeminiBackend) Extract(ctx context.Context, chunk string) (AIResponse, error) {
	prompt, err := renderPrompt(chunk)
	if err != nil {
		return AIResponse{}, fmt.Errorf("rendering prompt: %w", err)
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0.1),
		MaxOutputTokens: 8192,
	}
	res, err := g.client.Models.GenerateContent(ctx, g.model, []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}, cfg)
	if err != nil {
		if isQuotaError(err) {
			return AIResponse{}, &RateLimitError{Model: g.model, Err: err}
		}
		return AIResponse{}, fmt.Errorf("Gemini API call failed: %w", err)
	}

	return parseResponse(res.Text(), g.model)
}

// isQuotaError recognizes quota and rate-limit failures from the Gemini
// API. The SDK surfaces these as generic errors, so match on the status
// code and the standard gRPC status name.
func isQuotaError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(strings.ToLower(msg), "quota")
}
