package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// memoryCmd groups the memory maintenance subcommands
var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and migrate the Hindsight memory store",
}

var memoryExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export every memory fragment to a file",
	Long: `Serializes the full fragment set into checksummed envelopes, one JSON
document per line. The export is portable across storage adapters.

Example:
  forge memory export fragments.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: memoryExport,
}

var memoryImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import memory fragments from an export file",
	Long: `Reads envelopes produced by export and stores the valid ones. Corrupt
or tampered envelopes are skipped, not fatal.

Example:
  forge memory import fragments.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: memoryImport,
}

func init() {
	memoryCmd.AddCommand(memoryExportCmd)
	memoryCmd.AddCommand(memoryImportCmd)
}

func memoryExport(cmd *cobra.Command, args []string) error {
	storage, err := openMemoryStorage(cfg)
	if err != nil {
		return err
	}
	defer storage.Close()

	docs, err := storage.ExportAll(context.Background())
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}

	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, doc := range docs {
		if _, err := w.Write(doc); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("Exported %d fragment(s) to %s\n", len(docs), args[0])
	return nil
}

func memoryImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	var docs [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		doc := make([]byte, len(line))
		copy(doc, line)
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	storage, err := openMemoryStorage(cfg)
	if err != nil {
		return err
	}
	defer storage.Close()

	imported, err := storage.ImportAll(context.Background(), docs)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}

	fmt.Printf("Imported %d of %d fragment(s)\n", imported, len(docs))
	skipped := len(docs) - imported
	if skipped > 0 {
		fmt.Printf("Skipped %d invalid envelope(s)\n", skipped)
	}
	return nil
}
