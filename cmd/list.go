package cmd

import (
	"strings"

	"conclave/internal/cli"
	"conclave/internal/config"
	"conclave/pkg/feature"
	"conclave/pkg/scheduler"

	"github.com/spf13/cobra"
)

// taskView is the listing representation of a scheduled task.
type taskView struct {
	Phase         scheduler.Phase `json:"phase"`
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Feature       string          `json:"feature"`
	Group         string          `json:"group,omitempty"`
	Depends       []string        `json:"depends,omitempty"`
	DependsGroups []string        `json:"dependsGroups,omitempty"`
	Flags         []string        `json:"flags,omitempty"`
}

func newTaskView(t *scheduler.Task) taskView {
	v := taskView{
		Phase:         t.Phase(),
		ID:            t.ID,
		Name:          t.Name,
		Feature:       t.FeatureName(),
		Group:         t.Group,
		Depends:       t.Depends,
		DependsGroups: t.DependsGroups,
	}
	switch {
	case t.Parallel:
		v.Flags = append(v.Flags, "parallel")
	case t.Concurrent:
		v.Flags = append(v.Flags, "concurrent")
	default:
		v.Flags = append(v.Flags, "sequential")
	}
	if t.RunAlways {
		v.Flags = append(v.Flags, "runAlways")
	}
	return v
}

func newListCmd() *cobra.Command {
	var flags cli.CommandFlags
	cmd := &cobra.Command{
		Use:   "list [paths...]",
		Short: "List the tasks a run would schedule",
		Long: `List parses the feature files and prints every task in the order of its
phase, with its id, dependencies, group, and execution mode.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := flags.Format()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd, &flags, args, config.Overrides{})
			if err != nil {
				return err
			}
			features, err := loadFeatures(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			g := scheduler.BuildGraph(features, feature.TagFilter(cfg.Tags))
			views := make([]taskView, 0, g.Len())
			for _, t := range g.Tasks() {
				views = append(views, newTaskView(t))
			}

			if format != cli.OutputFormatTable {
				return cli.Print(cmd.OutOrStdout(), format, views)
			}
			tbl := cli.NewPlainTable(cmd.OutOrStdout(), flags.NoHeaders,
				"phase", "id", "name", "feature", "group", "depends", "mode")
			for _, v := range views {
				deps := append(append([]string{}, v.Depends...), groupRefs(v.DependsGroups)...)
				tbl.AppendRow(string(v.Phase), v.ID, v.Name, v.Feature, v.Group,
					strings.Join(deps, ","), strings.Join(v.Flags, ","))
			}
			tbl.Render()
			return nil
		},
	}
	cli.RegisterCommonFlags(cmd, &flags)
	cli.RegisterOutputFlags(cmd, &flags)
	return cmd
}

// groupRefs marks group dependencies so they can be told apart from ids.
func groupRefs(groups []string) []string {
	refs := make([]string, len(groups))
	for i, g := range groups {
		refs[i] = "group:" + g
	}
	return refs
}
