package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cuemby/stackup/pkg/provision"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the start order of the topology without provisioning",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		p := provision.New(nil, nil, provisionOptions(cmd, provision.Options{}))
		topo, reg, err := p.Plan()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if output == "json" {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]interface{}{
				"project": topo.Project,
				"layers":  reg.Layers(),
			})
		}

		fmt.Fprintf(out, "Project: %s\n\n", topo.Project)
		tw := tabwriter.NewWriter(out, 0, 1, 2, ' ', 0)
		fmt.Fprintln(tw, "LAYER\tSERVICE\tIMAGE\tDEPENDS ON\tREADINESS\tTRUST")
		for i, layer := range reg.Layers() {
			for _, id := range layer {
				spec, _ := reg.Get(id)
				deps := "-"
				if len(spec.DependsOn) > 0 {
					deps = strings.Join(spec.DependsOn, ",")
				}
				trust := "-"
				if spec.RequiresTrustBootstrap {
					trust = spec.Trust.Alias
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", i, id, spec.Image, deps, spec.Readiness.Type, trust)
			}
		}
		tw.Flush()

		if pb := topo.PostBootstrap; pb != nil {
			fmt.Fprintf(out, "\nPost-bootstrap after %s: %d projects on %s\n", pb.After, len(pb.Projects), pb.Client.BaseURL)
		}
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the topology file",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := provision.New(nil, nil, provisionOptions(cmd, provision.Options{}))
		topo, reg, err := p.Plan()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: %d services in %d layers\n", topo.Project, len(reg.List()), len(reg.Layers()))
		return nil
	},
}

func init() {
	planCmd.Flags().StringP("output", "o", "text", "Output format (text, json)")
}
