package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/alfredjeanlab/flowd/internal/events"
	"github.com/alfredjeanlab/flowd/internal/model"
)

type fakeSubscriber struct {
	mu        sync.Mutex
	chans     map[string]chan []byte
	cancelled []string
}

var _ events.Subscriber = (*fakeSubscriber)(nil)

func (s *fakeSubscriber) Subscribe(topic string) (<-chan []byte, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chans == nil {
		s.chans = make(map[string]chan []byte)
	}
	ch := make(chan []byte, 8)
	s.chans[topic] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			s.cancelled = append(s.cancelled, topic)
			s.mu.Unlock()
			close(ch)
		})
	}, nil
}

func (s *fakeSubscriber) Close() error { return nil }

func (s *fakeSubscriber) send(topic string, data string) {
	s.mu.Lock()
	ch := s.chans[topic]
	s.mu.Unlock()
	ch <- []byte(data)
}

func TestSubscribe_IngestsBrokerMessages(t *testing.T) {
	sub := &fakeSubscriber{}
	h := newHarness(t, func(o *Options) { o.Subscriber = sub })
	tg := newTarget(t, http.StatusOK)
	d := decl("feed", model.AdapterSubscribe, tg.srv.URL)
	d.Broker = &model.BrokerSettings{Topic: "orders.created"}
	h.register(t, &model.Graph{Name: "g", Version: "1.0.0", Adapters: []*model.AdapterDecl{d}})
	h.deploy(t, "g", "1.0.0")

	sub.send("orders.created", `{"order":42}`)
	waitFor(t, "broker message dispatched", func() bool { return len(tg.calls()) == 1 })
	if got := tg.calls()[0]; got != `{"order":42}` {
		t.Errorf("target received %s", got)
	}

	a := h.adapter(t, "g", "feed")
	if err := h.mgr.Teardown(context.Background(), "g", ""); err != nil {
		t.Fatal(err)
	}
	a.Wait()
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.cancelled) != 1 || sub.cancelled[0] != "orders.created" {
		t.Errorf("subscription not cancelled on teardown: %v", sub.cancelled)
	}
}

func TestSubscribe_EmbeddedBroker(t *testing.T) {
	broker, err := events.StartEmbeddedBroker("127.0.0.1")
	if err != nil {
		t.Fatalf("starting broker: %v", err)
	}
	t.Cleanup(func() { broker.Close() })
	sub, err := events.NewNATSSubscriber(broker.URL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sub.Close() })
	pub, err := events.NewNATSPublisher(broker.URL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pub.Close() })

	h := newHarness(t, func(o *Options) { o.Subscriber = sub })
	tg := newTarget(t, http.StatusOK)
	d := decl("feed", model.AdapterSubscribe, tg.srv.URL)
	d.Broker = &model.BrokerSettings{Topic: "orders.created"}
	h.register(t, &model.Graph{Name: "g", Version: "1.0.0", Adapters: []*model.AdapterDecl{d}})
	h.deploy(t, "g", "1.0.0")

	// Republish until the broker has processed the subscription.
	waitFor(t, "broker message dispatched", func() bool {
		if len(tg.calls()) > 0 {
			return true
		}
		_ = pub.Publish(context.Background(), "orders.created", map[string]int{"order": 7})
		return false
	})
	if got := tg.calls()[0]; got != `{"order":7}` {
		t.Errorf("target received %s", got)
	}
}

func TestPoll_IngestsExternalPayloads(t *testing.T) {
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("poll used %s", r.Method)
		}
		_, _ = w.Write([]byte(`{"polled":true}`))
	}))
	defer source.Close()

	h := newHarness(t)
	tg := newTarget(t, http.StatusOK)
	d := decl("poller", model.AdapterPoll, tg.srv.URL)
	d.Poll = &model.PollSettings{Endpoint: source.URL, FrequencyMs: 10}
	h.register(t, &model.Graph{Name: "g", Version: "1.0.0", Adapters: []*model.AdapterDecl{d}})
	h.deploy(t, "g", "1.0.0")

	waitFor(t, "polled payload dispatched", func() bool { return len(tg.calls()) > 0 })
	if got := tg.calls()[0]; got != `{"polled":true}` {
		t.Errorf("target received %s", got)
	}
	a := h.adapter(t, "g", "poller")
	evs, err := h.store.ListFlowEvents(context.Background(), model.FlowEventFilter{AdapterID: a.ID(), Limit: 1})
	if err != nil || len(evs) == 0 {
		t.Fatalf("no flow events: %v", err)
	}
	if evs[0].Times.PollStarted == nil {
		t.Error("polled flow event has no poll_started time")
	}
}

func TestPoll_RequiresEndpoint(t *testing.T) {
	h := newHarness(t)
	d := decl("poller", model.AdapterPoll, "http://127.0.0.1:1")
	h.register(t, &model.Graph{Name: "g", Version: "1.0.0", Adapters: []*model.AdapterDecl{d}})
	res, err := h.mgr.Deploy(context.Background(), model.GraphDeployment{GraphName: "g", Version: "1.0.0"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.Failed["poller"]; !ok {
		t.Errorf("poll adapter without poll endpoint deployed: %+v", res)
	}
}

func TestStimulation_InjectsSchemaPayloads(t *testing.T) {
	h := newHarness(t)
	tg := newTarget(t, http.StatusOK)
	d := decl("probe", model.AdapterPush, tg.srv.URL)
	d.InputSubSchemas = []string{"Ping"}
	d.Settings.StimulateInputPayload = true
	d.Settings.ValidateInputPayload = true
	d.Settings.StimulateFrequencyMs = 10
	h.register(t, &model.Graph{
		Name:     "g",
		Version:  "1.0.0",
		Schema:   json.RawMessage(`{"definitions":{"Ping":{"type":"object","required":["seq"],"properties":{"seq":{"type":"integer","minimum":1}}}}}`),
		Adapters: []*model.AdapterDecl{d},
	})
	h.deploy(t, "g", "1.0.0")

	waitFor(t, "stimulus dispatched", func() bool { return len(tg.calls()) > 0 })
	var got struct {
		Seq int `json:"seq"`
	}
	if err := json.Unmarshal([]byte(tg.calls()[0]), &got); err != nil || got.Seq < 1 {
		t.Errorf("stimulus %s does not match its schema: %v", tg.calls()[0], err)
	}
}
