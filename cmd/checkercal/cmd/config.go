package cmd

import (
	"fmt"

	"github.com/MeKo-Tech/checkercal/internal/config"
	"github.com/spf13/cobra"
)

// configCmd groups the configuration helpers.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [file]",
	Short: "Write the default configuration to a new file",
	Long: `Write the default configuration to file (checkercal.yaml when omitted).
An existing file is never overwritten.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file := config.ConfigFileName + ".yaml"
		if len(args) == 1 {
			file = args[0]
		}
		if err := config.GenerateDefaultConfigFile(file); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", file)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration",
	Long: `Print the configuration after applying defaults, the config file and
CHECKERCAL_* environment variables. With --info the file and search paths
are listed first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		if info, _ := cmd.Flags().GetBool("info"); info {
			configLoader.PrintConfigInfo(out)
			_, _ = fmt.Fprintln(out)
		}
		return config.WriteConfig(out, GetConfig())
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd)
	configShowCmd.Flags().Bool("info", false, "also print where the configuration was loaded from")
}
