package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alfredjeanlab/flowd/internal/model"
)

// Source is the part of the store an export reads.
type Source interface {
	ListGraphs(ctx context.Context) ([]*model.GraphSummary, error)
	ListFlowEvents(ctx context.Context, filter model.FlowEventFilter) ([]*model.FlowEvent, error)
}

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version    string    `json:"version"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	Graphs     int       `json:"graphs"`
	FlowEvents int       `json:"flow_events"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes the graph catalogue and every completed flow event as
// JSONL to w. Incomplete events are still in flight and are left out.
func ExportJSONL(ctx context.Context, src Source, w io.Writer) error {
	graphs, err := src.ListGraphs(ctx)
	if err != nil {
		return fmt.Errorf("list graphs: %w", err)
	}
	var epoch time.Time
	evs, err := src.ListFlowEvents(ctx, model.FlowEventFilter{Since: &epoch})
	if err != nil {
		return fmt.Errorf("list flow events: %w", err)
	}
	sort.Slice(evs, func(i, j int) bool { return evs[i].ID < evs[j].ID })

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(header{
		Version:    "1",
		Type:       "header",
		Timestamp:  time.Now().UTC(),
		Graphs:     len(graphs),
		FlowEvents: len(evs),
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	for _, g := range graphs {
		if err := enc.Encode(record{Type: "graph", Data: g}); err != nil {
			return fmt.Errorf("encode graph %s@%s: %w", g.Name, g.Version, err)
		}
	}
	for _, ev := range evs {
		if err := enc.Encode(record{Type: "flow_event", Data: ev}); err != nil {
			return fmt.Errorf("encode flow event %s: %w", ev.ID, err)
		}
	}
	return nil
}
