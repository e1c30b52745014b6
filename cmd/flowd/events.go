package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/flowd/internal/client"
)

var eventsCmd = &cobra.Command{
	Use:     "events",
	Short:   "Query flow events",
	GroupID: "flow",
}

var eventsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one flow event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ev, err := flowClient.GetFlowEvent(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("getting flow event: %w", err)
		}
		if jsonOutput {
			return printJSON(ev)
		}
		printFlowEvent(cmd.OutOrStdout(), ev)
		return nil
	},
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List flow events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &client.ListFlowEventsRequest{}
		req.BatchID, _ = cmd.Flags().GetString("batch")
		req.AdapterID, _ = cmd.Flags().GetString("adapter")
		req.Graph, _ = cmd.Flags().GetString("graph")
		req.Limit, _ = cmd.Flags().GetInt("limit")
		if since, _ := cmd.Flags().GetDuration("since"); since > 0 {
			t := time.Now().Add(-since)
			req.Since = &t
		}

		evs, err := flowClient.ListFlowEvents(context.Background(), req)
		if err != nil {
			return fmt.Errorf("listing flow events: %w", err)
		}
		if jsonOutput {
			return printJSON(evs)
		}
		printFlowEventListTable(cmd.OutOrStdout(), evs)
		return nil
	},
}

func init() {
	eventsListCmd.Flags().String("batch", "", "filter by batch id")
	eventsListCmd.Flags().String("adapter", "", "filter by adapter id")
	eventsListCmd.Flags().String("graph", "", "filter by graph name")
	eventsListCmd.Flags().Duration("since", 0, "only events completed within this window (e.g. 1h)")
	eventsListCmd.Flags().Int("limit", 100, "maximum events to return")

	eventsCmd.AddCommand(eventsShowCmd)
	eventsCmd.AddCommand(eventsListCmd)
}
