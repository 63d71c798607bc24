package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/deltaloop/pan-extract/internal/pdftext"
)

var textCmd = &cobra.Command{
	Use:   "text [pdfs...]",
	Short: "Convert downloaded PDFs to plain text",
	Long: `Text converts order PDFs to plain text with page markers, writing
one .txt file per document to documents/text/. With no arguments every
PDF under documents/raw/ is processed; documents that already have text
are skipped.`,
	RunE: runText,
}

func init() {
	textCmd.Flags().String("documents-dir", "documents", "base directory for documents (contains raw/, text/)")

	rootCmd.AddCommand(textCmd)
}

func runText(cmd *cobra.Command, args []string) error {
	documentsDir, _ := cmd.Flags().GetString("documents-dir")

	pdfPaths := args
	if len(pdfPaths) == 0 {
		var err error
		pdfPaths, err = pdftext.RawPDFs(documentsDir)
		if err != nil {
			return err
		}
		if len(pdfPaths) == 0 {
			fmt.Println("No PDFs found under", documentsDir)
			return nil
		}
	}

	result := pdftext.ExtractPaths(pdftext.NativeExtractor{}, pdfPaths, documentsDir, os.Stdout)
	if result.HasFailures() {
		return fmt.Errorf("%d document(s) failed text extraction", result.Failed)
	}
	return nil
}
