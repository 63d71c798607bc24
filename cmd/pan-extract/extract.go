package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/deltaloop/pan-extract/internal/extract"
	"github.com/deltaloop/pan-extract/internal/secrets"
	"github.com/deltaloop/pan-extract/pkg/types"
)

// defaultModels is the rotation order when no --model flags are given.
// When the current model is rate limited past its retry budget the
// extractor moves to the next one.
var defaultModels = []string{
	"gemini-2.0-flash",
	"gemini-2.5-flash",
	"gemini-2.5-pro",
}

var extractCmd = &cobra.Command{
	Use:   "extract [documents...]",
	Short: "Extract PAN records from converted order text",
	Long: `Extract reads plain text from documents/text/ and produces PAN-entity
records via a generative AI model, writing one YAML file per document to
records/extracted/. With document IDs as arguments only those documents
are processed; with no arguments (or --batch) every document is.
Documents whose text is unchanged since the last run are skipped.

The API key is read from .secrets/ (google-api-key or anthropic-api-key)
or the GOOGLE_API_KEY / ANTHROPIC_API_KEY environment variable.`,
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().String("provider", "gemini", "AI provider: gemini or claude")
	extractCmd.Flags().StringSlice("model", nil, "model identifiers in rotation order (repeatable)")
	extractCmd.Flags().String("documents-dir", "documents", "base directory for documents (contains text/)")
	extractCmd.Flags().String("records-dir", "records", "base directory for extraction output (contains extracted/)")
	extractCmd.Flags().Int("max-retries", 3, "retry attempts per chunk before giving up")
	extractCmd.Flags().Int("max-chunk-chars", 0, "maximum characters per model request (default 120000)")
	extractCmd.Flags().Bool("batch", false, "process every document under documents/text/")
	extractCmd.Flags().String("csv", "", "also write all extracted records to a CSV file")
	extractCmd.Flags().Lookup("csv").NoOptDefVal = "result.csv"

	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	provider, _ := cmd.Flags().GetString("provider")
	models, _ := cmd.Flags().GetStringSlice("model")
	documentsDir, _ := cmd.Flags().GetString("documents-dir")
	recordsDir, _ := cmd.Flags().GetString("records-dir")
	maxRetries, _ := cmd.Flags().GetInt("max-retries")
	maxChunkChars, _ := cmd.Flags().GetInt("max-chunk-chars")
	batch, _ := cmd.Flags().GetBool("batch")
	csvPath, _ := cmd.Flags().GetString("csv")

	if len(models) == 0 {
		models = viper.GetStringSlice("models")
	}
	if len(models) == 0 {
		models = defaultModels
	}

	apiKey, err := resolveAPIKey(provider)
	if err != nil {
		return err
	}

	cfg := types.ExtractionConfig{
		AIConfig: types.AIConfig{
			Provider:   provider,
			Models:     models,
			APIKey:     apiKey,
			MaxRetries: maxRetries,
		},
		MaxChunkChars: maxChunkChars,
		DocumentsDir:  documentsDir,
		RecordsDir:    recordsDir,
	}

	backend, err := buildBackend(cmd, cfg.AIConfig)
	if err != nil {
		return err
	}

	var summary extract.BatchSummary
	if len(args) > 0 && !batch {
		summary, err = extract.ExtractDocs(cmd.Context(), backend, args, cfg, os.Stdout)
	} else {
		summary, err = extract.ExtractAll(cmd.Context(), backend, cfg, os.Stdout)
	}

	fmt.Printf("\nextracted: %d, skipped: %d, failed: %d (records: %d)\n",
		summary.Extracted, summary.Skipped, summary.Failed, len(summary.Records))

	if csvPath != "" && len(summary.Records) > 0 {
		if csvErr := extract.WriteCSV(csvPath, summary.Records); csvErr != nil {
			return csvErr
		}
		fmt.Println("Wrote", csvPath)
	}

	if err != nil {
		return err
	}
	if summary.HasFailures() {
		return fmt.Errorf("%d document(s) failed extraction", summary.Failed)
	}
	return nil
}

// resolveAPIKey finds the provider's API key from viper config, the
// .secrets/ directory, or the conventional environment variable.
func resolveAPIKey(provider string) (string, error) {
	var secretKey, envVar string
	switch provider {
	case "gemini":
		secretKey, envVar = secrets.KeyGoogle, "GOOGLE_API_KEY"
	case "claude":
		secretKey, envVar = secrets.KeyAnthropic, "ANTHROPIC_API_KEY"
	default:
		return "", fmt.Errorf("unsupported provider %q: use gemini or claude", provider)
	}

	apiKey := secretDefault(secretKey, viper.GetString("api_key"))
	if apiKey == "" {
		apiKey = os.Getenv(envVar)
	}
	if apiKey == "" {
		return "", fmt.Errorf("no API key: add .secrets/%s or set %s", secretKey, envVar)
	}
	return apiKey, nil
}

// buildBackend constructs one backend per configured model and wraps them
// in a rotator that advances on rate limit exhaustion.
func buildBackend(cmd *cobra.Command, cfg types.AIConfig) (extract.AIBackend, error) {
	backends := make([]extract.AIBackend, 0, len(cfg.Models))

	switch cfg.Provider {
	case "gemini":
		for _, model := range cfg.Models {
			b, err := extract.NewGeminiBackend(cmd.Context(), cfg.APIKey, model)
			if err != nil {
				return nil, fmt.Errorf("creating Gemini backend for %s: %w", model, err)
			}
			backends = append(backends, b)
		}
	case "claude":
		client := &http.Client{Timeout: defaultTimeout}
		for _, model := range cfg.Models {
			backends = append(backends, &extract.ClaudeBackend{
				APIKey: cfg.APIKey,
				Model:  model,
				Client: client,
			})
		}
	default:
		return nil, fmt.Errorf("unsupported provider %q: use gemini or claude", cfg.Provider)
	}

	return extract.NewModelRotator(backends...), nil
}
