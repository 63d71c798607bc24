package types

import "time"

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "pan-extract/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// FetchConfig holds settings for the document download stage.
type FetchConfig struct {
	HTTPConfig `yaml:",inline"`

	// DownloadDelay is the delay between consecutive downloads (default 1s).
	DownloadDelay time.Duration `json:"download_delay" yaml:"download_delay"`

	// DocumentsDir is the base directory for documents (contains raw/, metadata/, text/).
	DocumentsDir string `json:"documents_dir" yaml:"documents_dir"`
}

// TextConfig holds settings for the PDF-to-text stage.
type TextConfig struct {
	// DocumentsDir is the base directory for documents (contains raw/, metadata/, text/).
	DocumentsDir string `json:"documents_dir" yaml:"documents_dir"`
}

// AIConfig holds shared settings for stages that call a Generative AI API.
type AIConfig struct {
	// Provider selects the AI backend: "gemini" or "claude".
	Provider string `json:"provider" yaml:"provider"`

	// Models is the ordered preference list of model identifiers. The
	// extraction stage rotates to the next model when the current one is
	// rate limited past its retry budget.
	Models []string `json:"models" yaml:"models"`

	// APIKey is the authentication key for the AI API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// MaxRetries is the number of retry attempts for failed API calls (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// ExtractionConfig holds settings for the PAN extraction stage.
type ExtractionConfig struct {
	AIConfig `yaml:",inline"`

	// MaxChunkChars is the maximum chunk size sent to the model in one
	// request (default 120000 characters).
	MaxChunkChars int `json:"max_chunk_chars" yaml:"max_chunk_chars"`

	// DocumentsDir is the base directory for documents (contains text/).
	DocumentsDir string `json:"documents_dir" yaml:"documents_dir"`

	// RecordsDir is the base directory for extraction output (contains extracted/).
	RecordsDir string `json:"records_dir" yaml:"records_dir"`
}

// StoreConfig holds settings for the records index.
type StoreConfig struct {
	// RecordsDir is the base directory for records (contains extracted/, index/).
	RecordsDir string `json:"records_dir" yaml:"records_dir"`

	// MaxResults is the default maximum number of query results (default 20).
	MaxResults int `json:"max_results" yaml:"max_results"`
}

// PipelineConfig groups all stage configurations for the pipeline.
type PipelineConfig struct {
	Fetch      FetchConfig      `json:"fetch" yaml:"fetch"`
	Text       TextConfig       `json:"text" yaml:"text"`
	Extraction ExtractionConfig `json:"extraction" yaml:"extraction"`
	Store      StoreConfig      `json:"store" yaml:"store"`
}
