package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/quantai/surveyflow/internal/cli"
	"github.com/quantai/surveyflow/internal/client"
	"github.com/quantai/surveyflow/internal/quota"
)

var (
	quotaCountry string
	quotaLimit   int
	quotaOnFull  string
	quotaStatus  string
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Manage per-country survey quotas",
}

var quotaListCmd = &cobra.Command{
	Use:   "list <survey-id>",
	Short: "List quotas for a survey",
	Long: `List the per-country quotas configured for a survey.

Examples:
  surveyctl quota list 42 --env prod
  surveyctl quota list 42 --format json`,
	Args: cobra.ExactArgs(1),
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
		quotas, err := c.ListQuotas(context.Background(), surveyID)
		if err != nil {
			return fmt.Errorf("failed to list quotas: %w", err)
		}

		if !quiet {
			if len(quotas) == 0 {
				fmt.Println("No quotas configured")
				return nil
			}
			return cli.PrintQuotas(quotas, cli.OutputFormat(format))
		}
		return nil
	},
}

var quotaSetCmd = &cobra.Command{
	Use:   "set <survey-id>",
	Short: "Create or update a quota",
	Long: `Create or update the quota for one country of a survey.

Examples:
  surveyctl quota set 42 --country US --limit 500 --on-full BLOCK
  surveyctl quota set 42 --country DE --limit 200 --on-full CLOSE
  surveyctl quota set 42 --country US --limit 500 --on-full BLOCK --status PAUSED`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		surveyID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid survey id: %w", err)
		}
		if quotaCountry == "" {
			return fmt.Errorf("--country is required")
		}
		if quotaLimit <= 0 {
			return fmt.Errorf("--limit must be positive")
		}

		envCfg, _, err := cli.GetEnvConfig(env, baseURL, apiKey)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		c := client.NewClient(envCfg.BaseURL, envCfg.APIKey)
		params := client.UpsertQuotaParams{
			Country:      quotaCountry,
			Limit:        quotaLimit,
			ActionOnFull: quota.ActionOnFull(quotaOnFull),
			Status:       quota.Status(quotaStatus),
		}
		if err := c.UpsertQuota(context.Background(), surveyID, params); err != nil {
			return fmt.Errorf("failed to set quota: %w", err)
		}

		if !quiet {
			fmt.Printf("Quota for %s set: limit=%d on-full=%s\n", quotaCountry, quotaLimit, quotaOnFull)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(quotaCmd)
	quotaCmd.AddCommand(quotaListCmd)
	quotaCmd.AddCommand(quotaSetCmd)

	quotaSetCmd.Flags().StringVar(&quotaCountry, "country", "", "Country code the quota applies to")
	quotaSetCmd.Flags().IntVar(&quotaLimit, "limit", 0, "Maximum number of completions")
	quotaSetCmd.Flags().StringVar(&quotaOnFull, "on-full", "BLOCK", "Action when the quota fills (BLOCK or CLOSE)")
	quotaSetCmd.Flags().StringVar(&quotaStatus, "status", "", "Quota status (ACTIVE or PAUSED)")
}
