package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/quantai/surveyflow/internal/cli"
	"github.com/quantai/surveyflow/internal/client"
)

var (
	resolveQuestion   int64
	resolveRespondent string
	resolveOptions    []string
	resolveInput      string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <survey-id>",
	Short: "Dry-run next-question resolution for a hypothetical answer",
	Long: `Compute which question would come next for a hypothetical answer,
without recording anything.

Examples:
  surveyctl resolve 42 --question 7 --options opt_a
  surveyctl resolve 42 --question 7 --input '"35"' --respondent resp-123`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		surveyID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid survey id: %w", err)
		}
		if resolveQuestion == 0 {
			return fmt.Errorf("--question is required")
		}

		envCfg, _, err := cli.GetEnvConfig(env, baseURL, apiKey)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		c := client.NewClient(envCfg.BaseURL, envCfg.APIKey)
		params := client.ResolveParams{
			QuestionID:   resolveQuestion,
			RespondentID: resolveRespondent,
			OptionIDs:    resolveOptions,
		}
		if resolveInput != "" {
			params.Input = json.RawMessage(resolveInput)
		}

		res, err := c.Resolve(context.Background(), surveyID, params)
		if err != nil {
			return fmt.Errorf("resolve failed: %w", err)
		}

		if quiet {
			return nil
		}
		if format == string(cli.FormatJSON) || format == string(cli.FormatYAML) {
			return cli.PrintJSON(res)
		}
		fmt.Printf("action: %s\n", res.Action)
		if res.NextQuestionID != 0 {
			fmt.Printf("next question: %d\n", res.NextQuestionID)
		}
		if len(res.MaskedOptionIDs) > 0 {
			fmt.Printf("masked options: %v\n", res.MaskedOptionIDs)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)

	resolveCmd.Flags().Int64Var(&resolveQuestion, "question", 0, "Question being answered")
	resolveCmd.Flags().StringVar(&resolveRespondent, "respondent", "", "Respondent id (for prior-answer lookups)")
	resolveCmd.Flags().StringSliceVar(&resolveOptions, "options", nil, "Selected option ids")
	resolveCmd.Flags().StringVar(&resolveInput, "input", "", "Free-form answer input (JSON)")
}
