package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/telhawk-systems/homehawk/internal/dashboards"
	"github.com/telhawk-systems/homehawk/internal/savedobjects"
)

var savedObjectsCmd = &cobra.Command{
	Use:     "savedobjects",
	Aliases: []string{"so"},
	Short:   "Dashboard saved-object tools",
}

var savedObjectsRewriteCmd = &cobra.Command{
	Use:   "rewrite",
	Short: "Rename a saved-object export for a deployment",
	Long: `Prefix every object id and reference in an NDJSON export, title dashboards
with the prefix and point index patterns at <prefix>-*. The export metadata
line is kept as the last line.`,
	Example: `  homehawk savedobjects rewrite --prefix dev
  homehawk savedobjects rewrite --prefix prod --in assets/dashboard.ndjson --out prod.ndjson`,
	Args: cobra.NoArgs,
	RunE: runSavedObjectsRewrite,
}

var savedObjectsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export dashboards from OpenSearch Dashboards",
	Long: `Find dashboards whose title contains --title and export them together with
everything they reference. The default output refreshes the dashboard
template file.`,
	Example: `  homehawk savedobjects export --title "Smart Home"
  homehawk savedobjects export --title Home --out -`,
	Args: cobra.NoArgs,
	RunE: runSavedObjectsExport,
}

func init() {
	rootCmd.AddCommand(savedObjectsCmd)
	savedObjectsCmd.AddCommand(savedObjectsRewriteCmd)
	savedObjectsCmd.AddCommand(savedObjectsExportCmd)

	savedObjectsRewriteCmd.Flags().String("prefix", "", "deployment prefix (required)")
	savedObjectsRewriteCmd.Flags().String("in", "", "input export (default: dashboards.template_file, - for stdin)")
	savedObjectsRewriteCmd.Flags().String("out", "-", "output file (- for stdout)")
	_ = savedObjectsRewriteCmd.MarkFlagRequired("prefix")

	savedObjectsExportCmd.Flags().String("title", "", "dashboard title substring (required)")
	savedObjectsExportCmd.Flags().String("out", "", "output file (default: dashboards.template_file, - for stdout)")
	_ = savedObjectsExportCmd.MarkFlagRequired("title")
}

func runSavedObjectsRewrite(cmd *cobra.Command, args []string) error {
	prefix, _ := cmd.Flags().GetString("prefix")
	in, _ := cmd.Flags().GetString("in")
	out, _ := cmd.Flags().GetString("out")
	if in == "" {
		in = cfg.Dashboards.TemplateFile
	}

	var r io.Reader = cmd.InOrStdin()
	if in != "-" {
		f, err := os.Open(in)
		if err != nil {
			return fmt.Errorf("open export: %w", err)
		}
		defer f.Close()
		r = f
	}

	graph, err := savedobjects.Decode(r)
	if err != nil {
		return err
	}
	rewritten := savedobjects.Rewrite(graph, prefix)

	data, err := rewritten.Bytes()
	if err != nil {
		return err
	}
	if err := writeOutput(cmd, out, data); err != nil {
		return err
	}

	if out != "-" {
		printer(cmd).Success("Rewrote %d objects with prefix %q into %s", len(rewritten.Objects), prefix, out)
	}
	return nil
}

func runSavedObjectsExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	title, _ := cmd.Flags().GetString("title")
	out, _ := cmd.Flags().GetString("out")
	if out == "" {
		out = cfg.Dashboards.TemplateFile
	}

	if !cfg.Dashboards.Enabled() {
		return fmt.Errorf("dashboards.url is not configured")
	}
	client := dashboards.New(cfg.Dashboards)

	found, err := client.Find(ctx, savedobjects.TypeDashboard, title)
	if err != nil {
		return fmt.Errorf("find dashboards: %w", err)
	}
	if len(found) == 0 {
		return fmt.Errorf("no dashboard title contains %q", title)
	}

	refs := make([]dashboards.ObjectRef, 0, len(found))
	for _, obj := range found {
		refs = append(refs, dashboards.ObjectRef{Type: obj.Type, ID: obj.ID})
	}

	data, err := client.Export(ctx, refs, true)
	if err != nil {
		return fmt.Errorf("export dashboards: %w", err)
	}

	graph, err := savedobjects.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("export returned an unreadable graph: %w", err)
	}
	if err := writeOutput(cmd, out, data); err != nil {
		return err
	}

	if out != "-" {
		printer(cmd).Success("Exported %d dashboards (%d objects) to %s", len(found), len(graph.Objects), out)
	}
	return nil
}

func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if path == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
