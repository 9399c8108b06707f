package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/telhawk-systems/homehawk/internal/dashboards"
	"github.com/telhawk-systems/homehawk/internal/indexmgr"
	"github.com/telhawk-systems/homehawk/internal/logging"
	"github.com/telhawk-systems/homehawk/internal/output"
	"github.com/telhawk-systems/homehawk/internal/provision"
	"github.com/telhawk-systems/homehawk/internal/storage"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Provision OpenSearch and dashboards",
	Long: `Create or replace the ingest pipeline and the index template, then import
the dashboard template renamed for this deployment when dashboards.url is set.

Each step is retried. Pipeline or template failures fail the command; a
dashboard import failure is reported but does not.`,
	Args: cobra.NoArgs,
	RunE: runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := logger.WithContext(ctx)
	p := printer(cmd)

	// No ping here; the step retries cover a cluster that is still starting.
	store, err := storage.NewClient(cfg.OpenSearch)
	if err != nil {
		return err
	}

	var dash provision.DashboardImporter
	if cfg.Dashboards.Enabled() {
		dash = dashboards.New(cfg.Dashboards)
	}

	prov := provision.New(provision.Config{
		Prefix:          cfg.OpenSearch.IndexPrefix,
		TemplateFile:    cfg.Dashboards.TemplateFile,
		MaxRetries:      cfg.Provision.MaxRetries,
		InitialInterval: cfg.Provision.InitialInterval,
	}, indexmgr.NewIndexManager(store, cfg.OpenSearch), dash, log)

	res, runErr := prov.Run(ctx)

	if jsonOutput(cmd) {
		if err := p.JSON(res); err != nil {
			return err
		}
	} else {
		table := output.NewTable("STEP", "STATUS", "ATTEMPTS", "ERROR")
		for _, s := range res.Steps {
			status := "ok"
			switch {
			case s.Skipped:
				status = "skipped"
			case s.Error != "":
				status = "failed"
			}
			table.AddRow(s.Name, status, strconv.Itoa(s.Attempts), s.Error)
		}
		table.Render(p)
	}

	if runErr != nil {
		logger.ErrorContext(ctx, "provisioning failed", logging.Error(runErr))
		return fmt.Errorf("setup failed: %w", runErr)
	}
	if !jsonOutput(cmd) {
		p.Success("Provisioned %s-* on %s", cfg.OpenSearch.IndexPrefix, cfg.OpenSearch.URL)
	}
	return nil
}
