package cmd

import (
	"fmt"

	"github.com/aelpxy/vaultkeep/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long:  "Print every resolved setting after defaults, the config file and VAULTKEEP_* environment overrides. Secrets are masked.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		loader := config.NewLoader()
		if _, err := loader.Load(configPath); err != nil {
			fatal("invalid configuration", err)
		}

		source := loader.Source()
		if source == "" {
			source = "defaults and environment only"
		}
		fmt.Println(titleStyle.Render("==> effective configuration"))
		fmt.Println(dimStyle.Render("  source: " + source))
		fmt.Println()

		settings := loader.Effective()
		rows := make([][]string, 0, len(settings))
		for _, s := range settings {
			rows = append(rows, []string{s.Key, s.Value})
		}
		fmt.Println(newTable(rows, "key", "value"))
		fmt.Println()
	},
}

func loadConfig() (*config.Config, error) {
	return config.NewLoader().Load(configPath)
}

func init() {
	rootCmd.AddCommand(configCmd)
}
