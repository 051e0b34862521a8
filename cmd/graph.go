package cmd

import (
	"fmt"

	"conclave/internal/cli"
	"conclave/internal/config"
	"conclave/internal/report"
	"conclave/pkg/feature"
	"conclave/pkg/scheduler"

	"github.com/spf13/cobra"
)

func newGraphCmd() *cobra.Command {
	var flags cli.CommandFlags
	cmd := &cobra.Command{
		Use:   "graph [paths...]",
		Short: "Print the task dependency graph as mermaid",
		Long: `Graph prints the dependency graph of the tasks as a mermaid flowchart,
the same graph rendered into dependency_output.html by run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, &flags, args, config.Overrides{})
			if err != nil {
				return err
			}
			features, err := loadFeatures(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			g := scheduler.BuildGraph(features, feature.TagFilter(cfg.Tags))
			_, err = fmt.Fprint(cmd.OutOrStdout(), report.Mermaid(g, nil))
			return err
		},
	}
	cli.RegisterCommonFlags(cmd, &flags)
	return cmd
}
