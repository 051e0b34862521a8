package cmd

import (
	"conclave/internal/worker"

	"github.com/spf13/cobra"
)

// newWorkerCmd creates the hidden command run serves in its worker processes.
// It re-enters the embedding binary, so workers see the same step registrations.
func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "worker",
		Short:  "Serve scenarios to a parent run over stdio",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return worker.Main(cmd.Context(), registry, activeLevel)
		},
	}
}
