package cli

import (
	"github.com/spf13/cobra"
)

// DefaultConfigFile is looked up in the working directory when --config is not set.
const DefaultConfigFile = "conclave.yaml"

// CommandFlags holds the flag values shared by the commands that load features.
type CommandFlags struct {
	// ConfigPath points at a conclave.yaml file
	ConfigPath string
	// Tags restricts the run to scenarios carrying at least one of them
	Tags []string
	// OutputFormat specifies the desired output format (table, json, yaml)
	OutputFormat string
	// NoHeaders suppresses the header row in table output
	NoHeaders bool
	// Quiet suppresses progress indicators and non-essential output
	Quiet bool
	// Debug enables verbose scheduler logging
	Debug bool
}

// RegisterCommonFlags registers the flags used by every feature-loading command.
//
// The registered flags are:
//   - --config/-c: Configuration file, default: conclave.yaml
//   - --tags/-t: Tags to select, comma separated or repeated
//   - --quiet/-q: Suppress non-essential output
//   - --debug: Enable debug logging
func RegisterCommonFlags(cmd *cobra.Command, flags *CommandFlags) {
	cmd.Flags().StringVarP(&flags.ConfigPath, "config", "c", DefaultConfigFile, "Configuration file")
	cmd.Flags().StringSliceVarP(&flags.Tags, "tags", "t", nil, "Only run scenarios carrying one of these tags")
	cmd.Flags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Suppress non-essential output")
	cmd.Flags().BoolVar(&flags.Debug, "debug", false, "Enable debug logging of scheduling decisions")
}

// RegisterOutputFlags registers the flags controlling listing output.
//
// The registered flags are:
//   - --output/-o: Output format (table, json, yaml), default: "table"
//   - --no-headers: Suppress header row in table output
func RegisterOutputFlags(cmd *cobra.Command, flags *CommandFlags) {
	cmd.Flags().StringVarP(&flags.OutputFormat, "output", "o", string(OutputFormatTable), "Output format (table, json, yaml)")
	cmd.Flags().BoolVar(&flags.NoHeaders, "no-headers", false, "Suppress header row in table output")
}

// Format returns the validated output format.
func (f *CommandFlags) Format() (OutputFormat, error) {
	return ParseOutputFormat(f.OutputFormat)
}
