package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/quantai/surveyflow/internal/cli"
	"github.com/quantai/surveyflow/internal/client"
)

var eligibilityCmd = &cobra.Command{
	Use:   "eligibility <survey-id> <respondent-id>",
	Short: "Check whether a respondent can access a survey",
	Long: `Run the eligibility gate for a respondent without changing any state.

Examples:
  surveyctl eligibility 42 resp-123 --env prod
  surveyctl eligibility 42 resp-123 --format json`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		surveyID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid survey id: %w", err)
		}

		envCfg, _, err := cli.GetEnvConfig(env, baseURL, apiKey)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		c := client.NewClient(envCfg.BaseURL, envCfg.APIKey)
		decision, err := c.CheckEligibility(context.Background(), surveyID, args[1])
		if err != nil {
			return fmt.Errorf("eligibility check failed: %w", err)
		}

		if quiet {
			return nil
		}
		if format == string(cli.FormatJSON) || format == string(cli.FormatYAML) {
			return cli.PrintJSON(decision)
		}
		verdict := "BLOCKED"
		if decision.Allowed {
			verdict = "ALLOWED"
		}
		fmt.Printf("%s (%s): %s\n", verdict, decision.Reason, decision.Message)
		for _, f := range decision.FailedFilters {
			fmt.Printf("  failed filter: %s\n", f)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eligibilityCmd)
}
