package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/mcpagent/internal/config"
)

var configValidate bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration",
	Long: `Print the configuration after applying the config file, .env and environment
overrides. Secrets are masked.`,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configValidate, "validate", false, "also validate the configuration and print warnings")
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, cfg.String())

	if !configValidate {
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	for _, warning := range config.NewValidator().ValidateConfig(cfg) {
		fmt.Fprintf(out, "warning: %s\n", warning)
	}
	fmt.Fprintln(out, "configuration is valid")
	return nil
}
