package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/quantai/surveyflow/internal/cli"
	"github.com/quantai/surveyflow/internal/client"
)

var structureCmd = &cobra.Command{
	Use:   "structure <survey-id>",
	Short: "Show a survey's questions and branching rules",
	Long: `Fetch the full structure of a survey: questions in display order with
their options and branching nodes.

Examples:
  surveyctl structure 42
  surveyctl structure 42 --format json`,
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
		snap, err := c.GetStructure(context.Background(), surveyID)
		if err != nil {
			return fmt.Errorf("failed to fetch structure: %w", err)
		}

		if quiet {
			return nil
		}
		if format != string(cli.FormatTable) {
			return cli.PrintJSON(snap)
		}
		st := snap.Structure
		fmt.Printf("%s (%s), %d questions, etag %s\n", st.Survey.Title, st.Survey.Code, len(st.Questions), snap.ETag)
		for _, q := range st.Questions {
			fmt.Printf("  [%d] %s (%s, %d options, %d nodes)\n", q.DisplayIndex, q.Variable, q.Type, len(q.Options), len(q.Nodes))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(structureCmd)
}
