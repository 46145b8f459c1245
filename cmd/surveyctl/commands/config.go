package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quantai/surveyflow/internal/cli"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cli.InitConfig(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		path, err := cli.GetConfigPath()
		if err != nil {
			return err
		}
		if !quiet {
			fmt.Printf("Config written to %s\n", path)
		}
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := cli.GetConfigPath()
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}
