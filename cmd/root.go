package cmd

import (
	"errors"
	"fmt"
	"os"

	"conclave/internal/cli"
	"conclave/pkg/logging"
	"conclave/pkg/step"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates failed scenarios or a general error.
	ExitCodeError = 1
)

var (
	logLevel string
	// activeLevel is the level resolved by initLogging, passed on to workers.
	activeLevel = logging.LevelInfo

	// registry resolves steps for run and for worker processes.
	registry = step.Default
)

// rootCmd represents the base command for the conclave application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "conclave",
	Short: "Run Gherkin features with dependency-aware scheduling",
	Long: `conclave runs Gherkin feature files against the step handlers registered
by the embedding program.

Scenarios are scheduled as tasks. Tags control how each task runs:
  @setup, @teardown             run before or after every other task
  @id_<id>, @depends_<id>       declare and depend on other tasks
  @group_<name>                 join a group
  @dependsGroups_<name>         wait for every member of a group
  @runAlways                    run even when dependencies failed
  @concurrent                   run on a goroutine of this process
  @parallel                     run in a separate worker process

Untagged tasks run sequentially in declaration order.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initLogging,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// SetRegistry replaces the step registry used by run and worker. The default
// is step.Default.
func SetRegistry(r *step.Registry) {
	registry = r
}

// Execute is the main entry point for the CLI application.
// Programs embedding conclave register their steps and then call Execute.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "conclave version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) || exitErr.Err != nil {
			fmt.Fprintln(os.Stderr, cli.FormatError(err))
		}
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
func getExitCode(err error) int {
	var exitErr *cli.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCodeError
}

// initLogging configures logging from --log-level. A command's --debug flag
// raises the level to debug.
func initLogging(cmd *cobra.Command, _ []string) error {
	level, err := logging.ParseLogLevel(logLevel)
	if err != nil {
		return err
	}
	if f := cmd.Flags().Lookup("debug"); f != nil && f.Value.String() == "true" {
		level = logging.LevelDebug
	}
	activeLevel = level
	logging.InitForCLI(level, cmd.ErrOrStderr())
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newGraphCmd())
	rootCmd.AddCommand(newWorkerCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
}
