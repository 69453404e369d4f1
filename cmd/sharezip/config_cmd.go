package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/sharezip/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
		Long: `Inspect sharezip configuration. Subcommands show the effective settings
after the config file, .env file and environment overrides are applied.`,
		Example: `  sharezip config show`,
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the effective configuration in YAML format. Secrets are masked.
Validation problems are printed after the configuration.`,
		Example: `  sharezip config show
  sharezip config show --config /etc/sharezip/sharezip.yaml`,
		RunE: configShowRun,
	}

	return cmd
}

func configShowRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	log.Debug("showing configuration")

	data, err := yaml.Marshal(redacted(globalCfg))
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	fmt.Println("Current Configuration:")
	fmt.Println("======================")
	fmt.Println(string(data))

	if err := globalCfg.Validate(); err != nil {
		fmt.Printf("WARNING: %v\n", err)
	}

	return nil
}

// redacted returns a copy of cfg with credentials masked.
func redacted(cfg *config.Config) *config.Config {
	out := *cfg
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	out.Remote.AzureFile.AccountKey = mask(out.Remote.AzureFile.AccountKey)
	out.Remote.S3.SecretAccessKey = mask(out.Remote.S3.SecretAccessKey)
	return &out
}
