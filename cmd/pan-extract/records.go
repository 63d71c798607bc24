// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/deltaloop/pan-extract/internal/store"
	"github.com/deltaloop/pan-extract/pkg/types"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Manage the PAN records index (store, retrieve, export)",
	Long: `Records manages a local SQLite index built from extracted PAN records.
Use subcommands to index records, query them, or export.`,
}

// --- store subcommand ---

var recordsStoreCmd = &cobra.Command{
	Use:   "store",
	Short: "Ingest extracted PAN records into the index",
	Long: `Store reads extraction YAML files from records/extracted/ and ingests
them into a SQLite database with FTS5 indexing over entity names.
Unchanged documents are skipped on subsequent runs.`,
	RunE: runRecordsStore,
}

func runRecordsStore(cmd *cobra.Command, args []string) error {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	summary, err := s.Ingest(cmd.Context(), os.Stdout)
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d document(s) failed indexing", summary.Failed)
	}
	return nil
}

// --- retrieve subcommand ---

var recordsRetrieveCmd = &cobra.Command{
	Use:   "retrieve [entity query]",
	Short: "Query the records index by entity name, PAN, or document",
	Long: `Retrieve searches the records index using FTS5 full-text search over
entity names, an exact PAN lookup, a document filter, or a combination.
Results include the source document's title and URL.`,
	RunE: runRecordsRetrieve,
}

func runRecordsRetrieve(cmd *cobra.Command, args []string) error {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	opts := queryOptsFromFlags(cmd, args)
	if opts.IsEmpty() {
		return fmt.Errorf("query or filter required: provide an entity query, --pan, or --document")
	}

	results, err := s.Retrieve(cmd.Context(), opts)
	if err != nil {
		return err
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	return formatRetrieveOutput(results, jsonOutput)
}

func formatRetrieveOutput(results []store.QueryResult, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-4s  %-10s  %-40s  %-30s  %s\n",
		"Rank", "PAN", "Entity", "Document", "Page")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 95))

	for i, r := range results {
		entity := r.Entity
		if len(entity) > 40 {
			entity = entity[:37] + "..."
		}
		doc := r.DocumentID
		if len(doc) > 30 {
			doc = doc[:27] + "..."
		}
		fmt.Fprintf(os.Stdout, "%-4d  %-10s  %-40s  %-30s  %d\n",
			i+1, r.PAN, entity, doc, r.Page)
	}

	fmt.Fprintf(os.Stdout, "\n%d results\n", len(results))
	return nil
}

// --- export subcommand ---

var recordsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the records index to CSV, YAML, or JSON",
	Long: `Export writes the full records index (or a filtered subset) to
records/index/export.csv, export.yaml, or export.json. Supports the same
filter flags as retrieve for partial exports.`,
	RunE: runRecordsExport,
}

func runRecordsExport(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	output, _ := cmd.Flags().GetString("output")

	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	opts := queryOptsFromFlags(cmd, args)
	recordsDir, _ := cmd.Flags().GetString("records-dir")

	switch format {
	case "csv", "":
		if err := s.ExportCSV(cmd.Context(), opts, output); err != nil {
			return err
		}
		if output == "" {
			output = recordsDir + "/index/export.csv"
		}
		fmt.Println("Exported to", output)
	case "yaml":
		if err := s.ExportYAML(cmd.Context(), opts); err != nil {
			return err
		}
		fmt.Println("Exported to", recordsDir+"/index/export.yaml")
	case "json":
		if err := s.ExportJSON(cmd.Context(), opts); err != nil {
			return err
		}
		fmt.Println("Exported to", recordsDir+"/index/export.json")
	default:
		return fmt.Errorf("unsupported format %q: use csv, yaml, or json", format)
	}

	return nil
}

// --- shared helpers ---

func openStore(cmd *cobra.Command) (*store.Store, error) {
	recordsDir, _ := cmd.Flags().GetString("records-dir")
	if recordsDir == "" {
		recordsDir = "records"
	}
	documentsDir, _ := cmd.Flags().GetString("documents-dir")
	if documentsDir == "" {
		documentsDir = "documents"
	}
	maxResults, _ := cmd.Flags().GetInt("max-results")

	cfg := types.StoreConfig{
		RecordsDir: recordsDir,
		MaxResults: maxResults,
	}
	return store.NewStore(cfg, documentsDir)
}

func queryOptsFromFlags(cmd *cobra.Command, args []string) store.QueryOptions {
	entity, _ := cmd.Flags().GetString("entity")
	if entity == "" && len(args) > 0 {
		entity = strings.Join(args, " ")
	}

	pan, _ := cmd.Flags().GetString("pan")
	documentID, _ := cmd.Flags().GetString("document")
	limit, _ := cmd.Flags().GetInt("limit")

	return store.QueryOptions{
		Entity:     entity,
		PAN:        pan,
		DocumentID: documentID,
		MaxResults: limit,
	}
}

func init() {
	// Shared flags on the parent command, inherited by subcommands.
	recordsCmd.PersistentFlags().String("records-dir", "records", "base directory for records (contains extracted/, index/)")
	recordsCmd.PersistentFlags().String("documents-dir", "documents", "base directory for documents (contains metadata/)")
	recordsCmd.PersistentFlags().Int("max-results", 20, "maximum number of query results")

	// Retrieve flags.
	recordsRetrieveCmd.Flags().String("entity", "", "full-text search query over entity names")
	recordsRetrieveCmd.Flags().String("pan", "", "exact PAN to look up")
	recordsRetrieveCmd.Flags().String("document", "", "filter by document ID")
	recordsRetrieveCmd.Flags().Int("limit", 0, "maximum results (0 = use default)")
	recordsRetrieveCmd.Flags().Bool("json", false, "output results as JSON")

	// Export flags.
	recordsExportCmd.Flags().String("format", "csv", "export format: csv, yaml, or json")
	recordsExportCmd.Flags().String("output", "", "output path for CSV export (default records/index/export.csv)")
	recordsExportCmd.Flags().String("entity", "", "full-text search filter for partial export")
	recordsExportCmd.Flags().String("pan", "", "exact PAN filter for partial export")
	recordsExportCmd.Flags().String("document", "", "document ID filter for partial export")
	recordsExportCmd.Flags().Int("limit", 0, "maximum records to export (0 = all)")

	// Wire subcommands.
	recordsCmd.AddCommand(recordsStoreCmd)
	recordsCmd.AddCommand(recordsRetrieveCmd)
	recordsCmd.AddCommand(recordsExportCmd)

	rootCmd.AddCommand(recordsCmd)
}
