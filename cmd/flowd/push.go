package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/flowd/internal/model"
	"github.com/alfredjeanlab/flowd/internal/ui"
)

var pushCmd = &cobra.Command{
	Use:     "push <graph> <adapter> [payload]",
	Short:   "Push a JSON payload into a push adapter (stdin when omitted)",
	GroupID: "flow",
	Args:    cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload []byte
		if len(args) == 3 {
			payload = []byte(args[2])
		} else {
			file, _ := cmd.Flags().GetString("file")
			data, err := readInput(file)
			if err != nil {
				return fmt.Errorf("reading payload: %w", err)
			}
			payload = data
		}

		ev, err := flowClient.Push(context.Background(), args[0], args[1], payload)
		if err != nil {
			return fmt.Errorf("pushing to %s/%s: %w", args[0], args[1], err)
		}
		if jsonOutput {
			return printJSON(ev)
		}
		fmt.Printf("Accepted %s (batch %s)\n", ui.RenderAccent(ev.ID), ev.BatchID)
		return nil
	},
}

var backPressureCmd = &cobra.Command{
	Use:     "backpressure <graph> <adapter>",
	Aliases: []string{"bp"},
	Short:   "Show an adapter's back-pressure reading",
	GroupID: "flow",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		bp, err := flowClient.BackPressure(context.Background(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("reading back-pressure: %w", err)
		}
		if jsonOutput {
			return printJSON(bp)
		}
		fmt.Printf("Queued:      %d\n", bp.Ingress.QueuedRecords)
		fmt.Printf("Rate/min:    %d\n", bp.Ingress.QueueRatePerMinute)
		if bp.Egress != nil {
			fmt.Printf("Open:        %d / %d\n", bp.Egress.CurrentOpenMessages, bp.Egress.MaxOpenMessages)
		}
		return nil
	},
}

var queueCmd = &cobra.Command{
	Use:     "queue",
	Short:   "Read from a queue adapter",
	GroupID: "flow",
}

var queuePeekCmd = &cobra.Command{
	Use:   "peek <graph> <adapter>",
	Short: "Show the oldest queued payload without removing it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		read, err := flowClient.Peek(context.Background(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("peeking queue: %w", err)
		}
		return printQueueRead(cmd, read)
	},
}

var queuePopCmd = &cobra.Command{
	Use:   "pop <graph> <adapter>",
	Short: "Remove and show the oldest queued payload",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		read, err := flowClient.Pop(context.Background(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("popping queue: %w", err)
		}
		return printQueueRead(cmd, read)
	},
}

func printQueueRead(cmd *cobra.Command, read *model.QueueRead) error {
	if jsonOutput {
		return printJSON(read)
	}
	if read.Message == nil {
		fmt.Printf("queue empty\n")
		return nil
	}
	fmt.Printf("Message:     %s\n", read.Message.ID)
	fmt.Printf("From:        %s\n", read.Message.SourceAdapterName)
	fmt.Printf("Payload:     %s\n", clip(string(read.Message.Payload), 13))
	fmt.Printf("Remaining:   %d\n", read.QueuedRecords)
	if read.FlowEvent != nil {
		fmt.Println()
		printFlowEvent(cmd.OutOrStdout(), read.FlowEvent)
	}
	return nil
}

func init() {
	pushCmd.Flags().StringP("file", "f", "", "read the payload from a file")

	queueCmd.AddCommand(queuePeekCmd)
	queueCmd.AddCommand(queuePopCmd)
}
