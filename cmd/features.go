package cmd

import (
	"context"
	"fmt"

	"conclave/internal/cli"
	"conclave/internal/config"
	"conclave/pkg/feature"

	"github.com/spf13/cobra"
)

// loadConfig reads the configuration file and applies command line overrides.
// Positional arguments replace the configured feature paths.
func loadConfig(cmd *cobra.Command, flags *cli.CommandFlags, args []string, overrides config.Overrides) (config.ConclaveConfig, error) {
	mustExist := cmd.Flags().Changed("config")
	cfg, err := config.LoadConfig(flags.ConfigPath, mustExist)
	if err != nil {
		return config.ConclaveConfig{}, err
	}

	if len(args) > 0 {
		overrides.Features = args
	}
	overrides.Tags = flags.Tags
	overrides.Apply(&cfg)

	if err := config.ValidateConfiguration(&cfg); err != nil {
		return config.ConclaveConfig{}, err
	}
	return cfg, nil
}

// loadFeatures parses every feature file selected by cfg.
func loadFeatures(ctx context.Context, cfg config.ConclaveConfig) ([]*feature.Feature, error) {
	features, err := feature.NewLoader().Load(ctx, cfg.Features)
	if err != nil {
		return nil, fmt.Errorf("failed to load features: %w", err)
	}
	return features, nil
}
