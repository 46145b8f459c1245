package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/quantai/surveyflow/internal/quota"
)

// OutputFormat specifies the output format for CLI commands
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// PrintQuotas outputs quotas in the specified format
func PrintQuotas(quotas []quota.Quota, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(map[string][]quota.Quota{"quotas": quotas})
	case FormatYAML:
		return printYAML(quotas)
	case FormatTable:
		return printQuotaTable(quotas)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintJSON outputs any value as indented JSON
func PrintJSON(data any) error {
	return printJSON(data)
}

func printJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func printYAML(data any) error {
	encoder := yaml.NewEncoder(os.Stdout)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(data)
}

func printQuotaTable(quotas []quota.Quota) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Survey", "Country", "Used", "Limit", "On Full", "Status"})

	for _, q := range quotas {
		table.Append([]string{
			fmt.Sprintf("%d", q.ID),
			fmt.Sprintf("%d", q.SurveyID),
			q.Country,
			fmt.Sprintf("%d", q.CurrentCount),
			fmt.Sprintf("%d", q.Limit),
			string(q.ActionOnFull),
			string(q.Status),
		})
	}

	table.Render()
	return nil
}
