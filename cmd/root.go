package cmd

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/telhawk-systems/homehawk/internal/config"
	"github.com/telhawk-systems/homehawk/internal/dlq"
	"github.com/telhawk-systems/homehawk/internal/logging"
	"github.com/telhawk-systems/homehawk/internal/output"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "homehawk",
	Short: "Smart home event ingestion",
	Long: `homehawk loads smart home controller events into OpenSearch.

Import historical NDJSON event files, follow the current day's file as it
grows, and provision the ingest pipeline, index template and dashboards.`,
	Version:           "0.1.0",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRun,
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		printer(rootCmd).Error("%v", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or /etc/homehawk/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error (overrides logging.level)")
	rootCmd.PersistentFlags().String("log-format", "", "log format: json, text (overrides logging.format)")
	rootCmd.PersistentFlags().String("output", "table", "output format: table, json")
}

// initRun loads configuration and sets up logging for every command. Logs go
// to stderr so stdout stays clean for results.
func initRun(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if format, _ := cmd.Flags().GetString("log-format"); format != "" {
		cfg.Logging.Format = format
	}

	logger = logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format, cmd.ErrOrStderr()).
		With(slog.String("command", cmd.Name()))
	logging.SetDefault(logger)

	ctx := logging.ContextWithRunID(cmd.Context(), uuid.NewString())
	cmd.SetContext(ctx)
	logger.DebugContext(ctx, "configuration loaded",
		slog.String("config_file", cfgFile),
		slog.String("opensearch", cfg.OpenSearch.URL))
	return nil
}

func printer(cmd *cobra.Command) *output.Printer {
	return output.New(cmd.OutOrStdout(), cmd.ErrOrStderr())
}

func jsonOutput(cmd *cobra.Command) bool {
	format, _ := cmd.Flags().GetString("output")
	return format == "json"
}

// openDLQ returns nil when dead-lettering is disabled.
func openDLQ() (*dlq.Queue, error) {
	if !cfg.DLQ.Enabled {
		return nil, nil
	}
	q, err := dlq.NewQueue(cfg.DLQ.Dir)
	if err != nil {
		return nil, fmt.Errorf("open dead-letter directory: %w", err)
	}
	return q, nil
}
