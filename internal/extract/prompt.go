// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"text/template"
)

// extractionPromptTmpl is the prompt sent to the model for each chunk of
// document text. It instructs the model to extract PAN-entity pairs from
// SEBI order text and answer with a bare JSON array.
var extractionPromptTmpl = template.Must(template.New("extraction").Parse(`From the provided text extracted from a PDF document, identify and extract entities and their relationships as specified.

Entities to extract:
1. Organisation: the name of a company or organization.
2. Name: the name of a person.
3. PAN: the 10-character alphanumeric Permanent Account Number (format: 5 letters + 4 digits + 1 letter, e.g. AAUFM6247N).

Relation to extract:
- PAN_Of: the relationship between a PAN and the entity (Person or Organisation) it belongs to.

Instructions:
- Carefully analyze the text, focusing on tables that list noticees or names alongside their corresponding PANs.
- For every PAN and Name/Organisation pair you find, create a JSON object with three keys: "pan", "relation", and "entity".
- The value for "relation" is always the string "PAN_Of".
- Extracted PANs and entity names must appear exactly as in the text.
- Only include entries where both the PAN and the entity name are clearly identifiable.
- The final output must be ONLY a JSON array of these objects: no markdown formatting, no code fences, no explanations.

Example output:
[
  {"pan": "AAUFM6247N", "relation": "PAN_Of", "entity": "Mr. Agarwal"},
  {"pan": "AAACM9185B", "relation": "PAN_Of", "entity": "MAHESHWARI FINANCIAL SERVICES PVT. LTD."}
]

If no PAN-entity pairs are found, return: []

Document text:
{{.Chunk}}
`))

// renderPrompt executes the extraction prompt template with the given chunk.
func renderPrompt(chunk string) (string, error) {
	var buf bytes.Buffer
	if err := extractionPromptTmpl.Execute(&buf, struct{ Chunk string }{Chunk: chunk}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// claudeAPIURL is the Claude API endpoint. Package-level var for test substitution.
var claudeAPIURL = "https://api.anthropic.com/v1/messages"

// ClaudeBackend calls the Claude Messages API to extract PAN records from
// a chunk of document text.
type ClaudeBackend struct {
	APIKey string
	Model  string
	Client *http.Client
}

// claudeRequest is the request body for the Claude Messages API.
type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	Messages  []claudeMessage `json:"messages"`
}

// claudeMessage is a single message in the Claude API conversation.
type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// claudeResponse is the response body from the Claude Messages API.
type claudeResponse struct {
	Content []claudeContent `json:"content"`
}

// claudeContent is a content block in the Claude API response.
type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Extract calls the Claude API with the extraction prompt for one chunk.
func (c *ClaudeBackend) Extract(ctx context.Context, chunk string) (AIResponse, error) {
	prompt, err := renderPrompt(chunk)
	if err != nil {
		return AIResponse{}, fmt.Errorf("rendering prompt: %w", err)
	}

	reqBody := claudeRequest{
		Model:     c.Model,
		MaxTokens: 8192,
		Messages: []claudeMessage{
			{Role: "user", Content: prompt},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return AIResponse{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, claudeAPIURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return AIResponse{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return AIResponse{}, fmt.Errorf("calling Claude API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		body, _ := io.ReadAll(resp.Body)
		return AIResponse{}, &RateLimitError{
			Model: c.Model,
			Err:   fmt.Errorf("Claude API returned 429: %s", string(body)),
		}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return AIResponse{}, fmt.Errorf("Claude API returned %d: %s", resp.StatusCode, string(body))
	}

	var cResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cResp); err != nil {
		return AIResponse{}, fmt.Errorf("decoding Claude response: %w", err)
	}

	for _, block := range cResp.Content {
		if block.Type != "text" {
			continue
		}
		return parseResponse(block.Text, c.Model)
	}

	return AIResponse{}, fmt.Errorf("no text content in Claude API response")
}
