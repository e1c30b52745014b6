package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/flowd/internal/client"
	"github.com/alfredjeanlab/flowd/internal/model"
	"github.com/alfredjeanlab/flowd/internal/ui"
)

const timeLayout = "2006-01-02 15:04:05"

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func printGraphListTable(w io.Writer, graphs []*model.GraphSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tADAPTERS\tCREATED")
	for _, g := range graphs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", g.Name, g.Version, g.Adapters, g.CreatedAt.Format(timeLayout))
	}
	tw.Flush()
}

func printGraph(w io.Writer, g *model.Graph) {
	fmt.Fprintf(w, "Name:        %s\n", g.Name)
	fmt.Fprintf(w, "Version:     %s\n", g.Version)
	if g.Description != "" {
		fmt.Fprintf(w, "Description: %s\n", g.Description)
	}
	if !g.CreatedAt.IsZero() {
		fmt.Fprintf(w, "Created At:  %s\n", g.CreatedAt.Format(timeLayout))
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADAPTER\tTYPE\tID\tDOWNSTREAM")
	for _, a := range g.Adapters {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.Name, a.Type, ui.RenderMuted(a.ID), strings.Join(a.Downstream, ", "))
	}
	tw.Flush()
}

func printAdapterTable(w io.Writer, adapters []model.AdapterStatus) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tSTATE\tQUEUED\tENDPOINT")
	for _, a := range adapters {
		queued := "-"
		if a.BackPressure != nil {
			queued = fmt.Sprint(a.BackPressure.Ingress.QueuedRecords)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.Name, a.Type, ui.RenderState(a.State), queued, a.Endpoint)
	}
	tw.Flush()
}

func printDeploymentTable(w io.Writer, deps []*client.Deployment) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "GRAPH\tVERSION")
	for _, d := range deps {
		fmt.Fprintf(tw, "%s\t%s\n", d.Graph, d.Version)
	}
	tw.Flush()
}

func printFlowEventListTable(w io.Writer, evs []*model.FlowEvent) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tBATCH\tGRAPH\tADAPTER\tCODE\tCOMPLETED")
	for _, ev := range evs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			ev.ID,
			ev.BatchID,
			ev.GraphName,
			ev.AdapterName,
			ui.RenderStatusCode(ev.HTTPResponseCode),
			formatTime(ev.Times.EventComplete),
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d flow events\n", len(evs))
}

func printFlowEvent(w io.Writer, ev *model.FlowEvent) {
	fmt.Fprintf(w, "ID:          %s\n", ev.ID)
	fmt.Fprintf(w, "Batch:       %s\n", ev.BatchID)
	fmt.Fprintf(w, "Graph:       %s\n", ev.GraphName)
	fmt.Fprintf(w, "Adapter:     %s (%s)\n", ev.AdapterName, ui.RenderMuted(ev.AdapterID))
	if ev.HTTPResponseCode != 0 {
		fmt.Fprintf(w, "Response:    %s\n", ui.RenderStatusCode(ev.HTTPResponseCode))
	}
	stages := []struct {
		label string
		at    *time.Time
	}{
		{"Started", ev.Times.EventStart},
		{"Polled", ev.Times.PollStarted},
		{"Sent", ev.Times.PayloadSent},
		{"Responded", ev.Times.TargetResponse},
		{"Outboxed", ev.Times.SentToOutbox},
		{"Egressed", ev.Times.PayloadEgressed},
		{"Completed", ev.Times.EventComplete},
	}
	for _, s := range stages {
		if s.at != nil {
			fmt.Fprintf(w, "%-12s %s\n", s.label+":", s.at.Format(time.RFC3339Nano))
		}
	}
	for _, st := range ev.InputStamps {
		fmt.Fprintf(w, "Input stamp: %s=%s\n", st.Key, st.Value)
	}
	for _, st := range ev.OutputStamps {
		fmt.Fprintf(w, "Output stamp: %s=%s\n", st.Key, st.Value)
	}
	if len(ev.MessageIDs) > 0 {
		fmt.Fprintf(w, "Messages:    %s\n", strings.Join(ev.MessageIDs, ", "))
	}
	if len(ev.InputPayload) > 0 {
		fmt.Fprintf(w, "Input:       %s\n", clip(string(ev.InputPayload), 13))
	}
	if len(ev.OutputPayload) > 0 {
		fmt.Fprintf(w, "Output:      %s\n", clip(string(ev.OutputPayload), 13))
	}
}

// clip shortens s to fit the terminal after a label of indent columns.
func clip(s string, indent int) string {
	limit := ui.Width(120) - indent
	if limit < 20 || len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ui.RenderMuted("pending")
	}
	return t.Local().Format(timeLayout)
}

// readInput returns the named file, or stdin when path is "-" or empty and
// stdin is not a terminal.
func readInput(path string) ([]byte, error) {
	if path != "" && path != "-" {
		return os.ReadFile(path)
	}
	if path == "" && ui.IsTerminal(os.Stdin) {
		return nil, fmt.Errorf("no input: pass a file or pipe data on stdin")
	}
	return io.ReadAll(os.Stdin)
}
