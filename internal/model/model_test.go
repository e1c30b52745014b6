package model

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestAdapterType_IsValid(t *testing.T) {
	for _, tc := range []struct {
		t    AdapterType
		want bool
	}{
		{AdapterPush, true},
		{AdapterPoll, true},
		{AdapterQueue, true},
		{AdapterSubscribe, true},
		{AdapterMerge, true},
		{AdapterEgress, true},
		{AdapterHidden, true},
		{"", false},
		{"Push", false},
	} {
		if got := tc.t.IsValid(); got != tc.want {
			t.Errorf("AdapterType(%q).IsValid() = %v, want %v", tc.t, got, tc.want)
		}
	}
}

func TestAdapterType_Capabilities(t *testing.T) {
	for _, tc := range []struct {
		t                      AdapterType
		inbox, terminal, calls bool
	}{
		{AdapterPush, false, false, true},
		{AdapterPoll, false, false, true},
		{AdapterSubscribe, false, false, true},
		{AdapterQueue, true, true, false},
		{AdapterMerge, true, false, true},
		{AdapterEgress, true, true, true},
		{AdapterHidden, true, false, true},
	} {
		if tc.t.HasInbox() != tc.inbox || tc.t.IsTerminal() != tc.terminal || tc.t.CallsTarget() != tc.calls {
			t.Errorf("%s: inbox=%v terminal=%v calls=%v", tc.t, tc.t.HasInbox(), tc.t.IsTerminal(), tc.t.CallsTarget())
		}
	}
}

func TestSettings_WithDefaults(t *testing.T) {
	s := Settings{InboxPollFrequencyMs: 250}.WithDefaults()
	if s.InboxPollFrequency() != 250*time.Millisecond {
		t.Errorf("InboxPollFrequency = %v, want 250ms", s.InboxPollFrequency())
	}
	if s.StimulateFrequency() != 5*time.Second {
		t.Errorf("StimulateFrequency = %v, want 5s", s.StimulateFrequency())
	}
	if s.BackPressurePollFrequency() != 5*time.Second {
		t.Errorf("BackPressurePollFrequency = %v, want 5s", s.BackPressurePollFrequency())
	}
}

func TestEgressSettings_WithDefaults(t *testing.T) {
	got := EgressSettings{Method: "put"}.WithDefaults()
	want := EgressSettings{Type: EgressSync, Method: "PUT", Concurrency: DefaultEgressConcurrency}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("WithDefaults mismatch (-want +got):\n%s", diff)
	}
}

func TestSettingsOverride_Apply(t *testing.T) {
	endpoint := "http://override:9000/"
	validate := true
	page := 3
	async := EgressAsync
	decl := AdapterDecl{
		Name:     "billing",
		Type:     AdapterHidden,
		Endpoint: "http://billing/",
		Settings: Settings{PersistInputPayload: true, InboxPageSize: 10},
	}
	got := SettingsOverride{
		Endpoint:             &endpoint,
		ValidateInputPayload: &validate,
		InboxPageSize:        &page,
		EgressType:           &async,
	}.Apply(decl)

	want := decl
	want.Endpoint = endpoint
	want.Settings.ValidateInputPayload = true
	want.Settings.InboxPageSize = 3
	want.Egress.Type = EgressAsync
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Apply mismatch (-want +got):\n%s", diff)
	}
	if decl.Endpoint != "http://billing/" {
		t.Error("Apply modified the original declaration")
	}
}

func TestLink(t *testing.T) {
	g := &Graph{
		Name:    "fanin",
		Version: "1.0.0",
		Adapters: []*AdapterDecl{
			{Name: "a", Type: AdapterPush},
			{Name: "b", Type: AdapterPush},
			{Name: "m", Type: AdapterMerge},
			{Name: "out", Type: AdapterEgress},
		},
		Edges: []Edge{
			{Left: "a", Right: []string{"m"}},
			{Left: "b", Right: []string{"m"}},
			{Left: "m", Right: []string{"out"}},
			{Left: "a", Right: []string{"m"}},
		},
	}
	n := 0
	err := Link(g, func() (string, error) {
		n++
		return fmt.Sprintf("ad-%d", n), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, tc := range []struct {
		name             string
		id               string
		upstream, downst []string
	}{
		{"a", "ad-1", nil, []string{"ad-3"}},
		{"b", "ad-2", nil, []string{"ad-3"}},
		{"m", "ad-3", []string{"ad-1", "ad-2"}, []string{"ad-4"}},
		{"out", "ad-4", []string{"ad-3"}, nil},
	} {
		a := g.Adapter(tc.name)
		if a.ID != tc.id {
			t.Errorf("%s: id = %q, want %q", tc.name, a.ID, tc.id)
		}
		if diff := cmp.Diff(tc.upstream, a.Upstream); diff != "" {
			t.Errorf("%s upstream (-want +got):\n%s", tc.name, diff)
		}
		if diff := cmp.Diff(tc.downst, a.Downstream); diff != "" {
			t.Errorf("%s downstream (-want +got):\n%s", tc.name, diff)
		}
	}
	if g.AdapterByID("ad-3").Name != "m" {
		t.Error("AdapterByID(ad-3) did not return m")
	}
}

func TestLink_KeepsExistingIDs(t *testing.T) {
	g := &Graph{Adapters: []*AdapterDecl{{ID: "ad-fixed", Name: "a", Type: AdapterPush}}}
	if err := Link(g, func() (string, error) { return "ad-new", nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Adapters[0].ID != "ad-fixed" {
		t.Errorf("ID = %q, want ad-fixed", g.Adapters[0].ID)
	}
}

func TestParseGraph_YAML(t *testing.T) {
	data := []byte(`
name: orders
version: 1.2.0
schema:
  definitions:
    Order:
      type: object
      required: [id]
adapters:
  - name: intake
    type: push
    endpoint: http://intake:8000/
    settings:
      validate_input_payload: true
      inbox_poll_frequency_ms: 200
    input_sub_schemas: [Order]
  - name: sink
    type: egress
    endpoint: http://sink:8000/
    egress:
      method: put
edges:
  - left: intake
    right: [sink]
`)
	g, err := ParseGraph(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Name != "orders" || g.Version != "1.2.0" {
		t.Errorf("got name=%q version=%q", g.Name, g.Version)
	}
	if len(g.Adapters) != 2 || g.Adapters[0].Settings.InboxPollFrequencyMs != 200 || !g.Adapters[0].Settings.ValidateInputPayload {
		t.Errorf("adapters decoded incorrectly: %+v", g.Adapters[0])
	}
	if g.Adapters[1].Egress.Method != "put" {
		t.Errorf("egress method = %q", g.Adapters[1].Egress.Method)
	}
	if err := ValidateGraph(g); err != nil {
		t.Fatalf("parsed graph should validate: %v", err)
	}
}

func TestParseGraph_JSON(t *testing.T) {
	g, err := ParseGraph([]byte(`  {"name":"g","version":"1.0.0","adapters":[{"name":"a","type":"push"}]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Adapter("a") == nil {
		t.Fatal("adapter a not decoded")
	}
}

func TestParseGraph_Errors(t *testing.T) {
	for _, data := range []string{"", "   ", "{not json", "name: [unterminated"} {
		if _, err := ParseGraph([]byte(data)); err == nil {
			t.Errorf("ParseGraph(%q): expected error", data)
		}
	}
}
