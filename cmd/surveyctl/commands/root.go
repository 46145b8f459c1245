package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	baseURL string
	apiKey  string
	env     string
	format  string
	quiet   bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "surveyctl",
	Short: "CLI tool for operating the survey flow service",
	Long: `Surveyctl is a command-line tool for operating the surveyflow service.

It provides commands for inspecting survey structures, checking respondent
eligibility, dry-running next-question resolution, and managing quotas.

Examples:
  surveyctl quota list 42 --env prod
  surveyctl quota set 42 --country US --limit 500 --on-full BLOCK
  surveyctl eligibility 42 resp-123 --env prod
  surveyctl resolve 42 --question 7 --options opt_a --env prod
  surveyctl structure 42 --format json`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Base URL of the surveyflow API")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for authentication")
	rootCmd.PersistentFlags().StringVar(&env, "env", "", "Environment (dev, staging, prod)")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress output")
}
