package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/flowd/internal/model"
	"github.com/alfredjeanlab/flowd/internal/store/memory"
)

func seed(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	g := &model.Graph{
		Name:      "orders",
		Version:   "1.0.0",
		Adapters:  []*model.AdapterDecl{{ID: "ad-1", Name: "intake", Type: model.AdapterPush}},
		CreatedAt: time.Now().UTC(),
	}
	if err := st.CreateGraph(ctx, g); err != nil {
		t.Fatalf("CreateGraph: %v", err)
	}
	now := time.Now().UTC()
	for _, ev := range []*model.FlowEvent{
		{ID: "fe-zzz", BatchID: "b1", GraphName: "orders", AdapterID: "ad-1", Times: model.FlowEventTimes{EventStart: &now, EventComplete: &now}},
		{ID: "fe-aaa", BatchID: "b2", GraphName: "orders", AdapterID: "ad-1", Times: model.FlowEventTimes{EventStart: &now, EventComplete: &now}},
		{ID: "fe-open", BatchID: "b3", GraphName: "orders", AdapterID: "ad-1", Times: model.FlowEventTimes{EventStart: &now}},
	} {
		if _, err := st.CreateFlowEvent(ctx, ev); err != nil {
			t.Fatalf("CreateFlowEvent: %v", err)
		}
	}
	return st
}

func TestExportJSONL_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := ExportJSONL(context.Background(), memory.New(), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := nonEmptyLines(buf.String())
	if len(lines) != 1 {
		t.Fatalf("expected 1 line (header only), got %d", len(lines))
	}
	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if h.Version != "1" || h.Type != "header" || h.Graphs != 0 || h.FlowEvents != 0 {
		t.Fatalf("unexpected header: %+v", h)
	}
}

func TestExportJSONL_CompletedEventsOnly(t *testing.T) {
	var buf bytes.Buffer
	if err := ExportJSONL(context.Background(), seed(t), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := nonEmptyLines(buf.String())
	// 1 header + 1 graph + 2 completed events
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d:\n%s", len(lines), buf.String())
	}
	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if h.Graphs != 1 || h.FlowEvents != 2 {
		t.Fatalf("header counts: graphs=%d flow_events=%d", h.Graphs, h.FlowEvents)
	}

	var ids []string
	for i, line := range lines[1:] {
		var rec struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("unmarshal line %d: %v", i+1, err)
		}
		if rec.Type != "flow_event" {
			continue
		}
		var ev model.FlowEvent
		if err := json.Unmarshal(rec.Data, &ev); err != nil {
			t.Fatalf("unmarshal flow event: %v", err)
		}
		ids = append(ids, ev.ID)
	}
	if len(ids) != 2 || ids[0] != "fe-aaa" || ids[1] != "fe-zzz" {
		t.Fatalf("flow events = %v, want [fe-aaa fe-zzz]", ids)
	}
}

func nonEmptyLines(s string) []string {
	var result []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			result = append(result, line)
		}
	}
	return result
}
