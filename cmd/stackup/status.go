package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/cuemby/stackup/pkg/provision"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the outcome of the last run",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		p := provision.New(nil, nil, provisionOptions(cmd, provision.Options{}))
		report, instances, err := p.Status()
		if err != nil {
			return err
		}

		if output == "json" {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]interface{}{
				"report":    report,
				"instances": instances,
			})
		}
		printStatus(cmd.OutOrStdout(), report, instances)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringP("output", "o", "text", "Output format (text, json)")
}
