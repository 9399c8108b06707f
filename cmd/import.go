package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/telhawk-systems/homehawk/internal/eventfile"
	"github.com/telhawk-systems/homehawk/internal/importer"
	"github.com/telhawk-systems/homehawk/internal/logging"
	"github.com/telhawk-systems/homehawk/internal/output"
	"github.com/telhawk-systems/homehawk/internal/registry"
	"github.com/telhawk-systems/homehawk/internal/storage"
	"github.com/telhawk-systems/homehawk/internal/transform"
)

var importCmd = &cobra.Command{
	Use:   "import [pattern]",
	Short: "Import historical event files",
	Long: `Import every event file matching pattern, one bulk request per file.

The default pattern matches all dated event files in data.dir. Patterns may
use ** to match nested directories. Malformed lines are skipped and counted;
the command only fails when OpenSearch cannot be reached.`,
	Example: `  homehawk import
  homehawk import 'data/events-2025-01-*.ndjson'
  homehawk import 'archive/**/*.ndjson' --output json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := logger.WithContext(ctx)
	p := printer(cmd)

	pattern := eventfile.DefaultPattern(cfg.Data.Dir, cfg.Data.FilePrefix)
	if len(args) == 1 {
		pattern = args[0]
	}

	store, err := storage.Connect(ctx, cfg.OpenSearch, storage.WithErrorSampleSize(cfg.Importer.ErrorSampleSize))
	if err != nil {
		return fmt.Errorf("connect to opensearch: %w", err)
	}

	q, err := openDLQ()
	if err != nil {
		return err
	}

	reg := registry.LoadOrEmpty(cfg.Data.RegistryPath(), log)
	imp := importer.New(store, transform.New(reg, log), cfg.OpenSearch.IndexPrefix,
		importer.WithLogger(log),
		importer.WithDLQ(q),
		importer.WithMaxLineBytes(cfg.Importer.MaxLineBytes))

	summary, runErr := imp.Run(ctx, pattern)
	if jsonOutput(cmd) {
		if summary != nil {
			if err := p.JSON(summary); err != nil {
				return err
			}
		}
		if runErr != nil {
			logger.ErrorContext(ctx, "import aborted", logging.Error(runErr))
			return fmt.Errorf("import aborted: %w", runErr)
		}
		return nil
	}

	if summary != nil {
		renderSummary(cmd, summary)
	}
	if runErr != nil {
		logger.ErrorContext(ctx, "import aborted", logging.Error(runErr))
		return fmt.Errorf("import aborted: %w", runErr)
	}

	if len(summary.Files) == 0 {
		p.Warn("No files matched %s", pattern)
		return nil
	}
	if summary.Rejected > 0 || summary.Failed > 0 {
		p.Warn("%d lines skipped, %d documents failed", summary.Rejected, summary.Failed)
	}
	p.Success("Imported %d documents from %d files", summary.Indexed, len(summary.Files))
	return nil
}

func renderSummary(cmd *cobra.Command, summary *importer.Summary) {
	if len(summary.Files) == 0 {
		return
	}
	table := output.NewTable("FILE", "INDEX", "PARSED", "SKIPPED", "INDEXED", "FAILED")
	for _, f := range summary.Files {
		table.AddRow(f.Path, f.Index,
			strconv.Itoa(f.Parsed),
			strconv.Itoa(f.Rejected),
			strconv.Itoa(f.Indexed),
			strconv.Itoa(f.Failed))
	}
	table.Render(printer(cmd))
}
