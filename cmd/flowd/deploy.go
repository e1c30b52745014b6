package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/flowd/internal/model"
	"github.com/alfredjeanlab/flowd/internal/ui"
)

var deployCmd = &cobra.Command{
	Use:     "deploy <graph> <version>",
	Short:   "Deploy a registered graph version",
	GroupID: "graphs",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tags, _ := cmd.Flags().GetStringToString("tag")
		overridesPath, _ := cmd.Flags().GetString("overrides")

		dep := &model.GraphDeployment{GraphName: args[0], Version: args[1], Tags: tags}
		if overridesPath != "" {
			data, err := os.ReadFile(overridesPath)
			if err != nil {
				return fmt.Errorf("reading overrides: %w", err)
			}
			if err := json.Unmarshal(data, &dep.Overrides); err != nil {
				return fmt.Errorf("parsing overrides: %w", err)
			}
		}

		res, err := flowClient.Deploy(context.Background(), dep)
		if err != nil {
			return fmt.Errorf("deploying %s %s: %w", args[0], args[1], err)
		}
		if jsonOutput {
			return printJSON(res)
		}
		fmt.Printf("Deployed %s %s\n", ui.RenderAccent(res.Graph), res.Version)
		if len(res.Deployed) > 0 {
			fmt.Printf("  started: %s\n", strings.Join(res.Deployed, ", "))
		}
		if len(res.Skipped) > 0 {
			fmt.Printf("  already live: %s\n", ui.RenderMuted(strings.Join(res.Skipped, ", ")))
		}
		failed := make([]string, 0, len(res.Failed))
		for name := range res.Failed {
			failed = append(failed, name)
		}
		sort.Strings(failed)
		for _, name := range failed {
			fmt.Printf("  %s %s: %s\n", ui.RenderState("failed"), name, res.Failed[name])
		}
		if len(failed) > 0 {
			return fmt.Errorf("%d adapters failed to deploy", len(failed))
		}
		return nil
	},
}

var teardownCmd = &cobra.Command{
	Use:     "teardown <graph> [version]",
	Short:   "Tear down a live graph",
	GroupID: "graphs",
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		version := ""
		if len(args) == 2 {
			version = args[1]
		}
		if err := flowClient.Teardown(context.Background(), args[0], version); err != nil {
			return fmt.Errorf("tearing down %s: %w", args[0], err)
		}
		if jsonOutput {
			return printJSON(map[string]string{"status": "torn_down", "graph": args[0]})
		}
		fmt.Printf("Tore down %s\n", ui.RenderAccent(args[0]))
		return nil
	},
}

var adaptersCmd = &cobra.Command{
	Use:     "adapters [graph]",
	Short:   "List live deployments, or the adapters of one",
	GroupID: "graphs",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		if len(args) == 0 {
			deps, err := flowClient.ListDeployments(ctx)
			if err != nil {
				return fmt.Errorf("listing deployments: %w", err)
			}
			if jsonOutput {
				return printJSON(deps)
			}
			if len(deps) == 0 {
				fmt.Println("no graphs deployed")
				return nil
			}
			printDeploymentTable(cmd.OutOrStdout(), deps)
			return nil
		}

		d, err := flowClient.GetDeployment(ctx, args[0])
		if err != nil {
			return fmt.Errorf("getting deployment: %w", err)
		}
		if jsonOutput {
			return printJSON(d)
		}
		fmt.Printf("%s %s\n\n", ui.RenderAccent(d.Graph), d.Version)
		printAdapterTable(cmd.OutOrStdout(), d.Adapters)
		return nil
	},
}

func init() {
	deployCmd.Flags().StringToString("tag", nil, "deployment tag (key=value, repeatable)")
	deployCmd.Flags().String("overrides", "", "JSON file of per-adapter setting overrides")
}
