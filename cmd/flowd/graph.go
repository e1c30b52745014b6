package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/flowd/internal/ui"
)

var graphCmd = &cobra.Command{
	Use:     "graph",
	Short:   "Register and inspect graph definitions",
	GroupID: "graphs",
}

var graphRegisterCmd = &cobra.Command{
	Use:   "register [file]",
	Short: "Register a graph from a YAML or JSON file (stdin when omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		doc, err := readInput(path)
		if err != nil {
			return fmt.Errorf("reading graph: %w", err)
		}
		g, err := flowClient.RegisterGraph(context.Background(), doc)
		if err != nil {
			return fmt.Errorf("registering graph: %w", err)
		}
		if jsonOutput {
			return printJSON(g)
		}
		fmt.Printf("Registered %s %s with %d adapters\n", ui.RenderAccent(g.Name), g.Version, len(g.Adapters))
		return nil
	},
}

var graphListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered graphs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		graphs, err := flowClient.ListGraphs(context.Background())
		if err != nil {
			return fmt.Errorf("listing graphs: %w", err)
		}
		if jsonOutput {
			return printJSON(graphs)
		}
		if len(graphs) == 0 {
			fmt.Println("no graphs registered")
			return nil
		}
		printGraphListTable(cmd.OutOrStdout(), graphs)
		return nil
	},
}

var graphShowCmd = &cobra.Command{
	Use:   "show <name> <version>",
	Short: "Show a registered graph",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := flowClient.GetGraph(context.Background(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("getting graph: %w", err)
		}
		if jsonOutput {
			return printJSON(g)
		}
		printGraph(cmd.OutOrStdout(), g)
		return nil
	},
}

func init() {
	graphCmd.AddCommand(graphRegisterCmd)
	graphCmd.AddCommand(graphListCmd)
	graphCmd.AddCommand(graphShowCmd)
}
