//go:build mage

package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/magefile/mage/mg"
)

// run executes the built CLI binary with the given arguments.
func run(args ...string) error {
	bin := filepath.Join(binDir, binName)
	cmd := exec.Command(bin, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// Text converts every downloaded PDF under documents/raw/ to plain text.
func Text() error {
	mg.Deps(Build)
	return run("text")
}

// Extract runs PAN extraction over all converted documents and writes
// result.csv alongside the per-document YAML output.
func Extract() error {
	mg.Deps(Build)
	return run("extract", "--csv", "result.csv")
}

// Index ingests extracted records into the SQLite index.
func Index() error {
	mg.Deps(Build)
	return run("records", "store")
}

// Pipeline runs text conversion, extraction, and indexing in order.
func Pipeline() error {
	mg.SerialDeps(Text, Extract, Index)
	fmt.Println("Pipeline complete.")
	return nil
}
