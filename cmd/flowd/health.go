package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Report whether the flowd server is up",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetDuration("wait")
		status, err := pollHealth(cmd.Context(), wait, time.Second)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]string{"status": status})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Health: %s\n", status)
		return nil
	},
}

// pollHealth asks the server for its status until it answers "ok" or wait
// runs out. A zero wait makes a single attempt.
func pollHealth(ctx context.Context, wait, every time.Duration) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	deadline := time.Now().Add(wait)
	for {
		status, err := flowClient.Health(ctx)
		if err == nil && status == "ok" {
			return status, nil
		}
		if time.Now().Add(every).After(deadline) {
			if err != nil {
				return "", fmt.Errorf("checking health: %w", err)
			}
			return status, errors.New("unhealthy: " + status)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(every):
		}
	}
}

func init() {
	healthCmd.Flags().Duration("wait", 0, "keep polling until healthy or this long has passed")
}
