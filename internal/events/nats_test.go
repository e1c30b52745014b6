package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/flowd/internal/model"
)

// startTestNATS starts an embedded broker and returns its client URL.
func startTestNATS(t *testing.T) string {
	t.Helper()
	b, err := StartEmbeddedBroker("127.0.0.1")
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b.URL()
}

// newPair returns a publisher and subscriber connected to a fresh broker.
func newPair(t *testing.T, opts ...nats.Option) (*NATSPublisher, *NATSSubscriber) {
	t.Helper()
	url := startTestNATS(t)
	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	t.Cleanup(func() { pub.Close() })
	sub, err := NewNATSSubscriber(url, opts...)
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	t.Cleanup(func() { sub.Close() })
	return pub, sub
}

func TestNATS_PublishSubscribe(t *testing.T) {
	pub, sub := newPair(t)
	ch, cancel, err := sub.Subscribe(TopicFlowEventCompleted)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	event := FlowEventCompleted{FlowEvent: &model.FlowEvent{ID: "fe-pub1", AdapterName: "intake"}}
	if err := pub.Publish(context.Background(), TopicFlowEventCompleted, event); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var got FlowEventCompleted
	if err := json.Unmarshal(receive(t, ch), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.FlowEvent.ID != "fe-pub1" {
		t.Errorf("flow event id = %q, want fe-pub1", got.FlowEvent.ID)
	}
}

func TestNATS_Wildcard(t *testing.T) {
	pub, sub := newPair(t)
	ch, cancel, err := sub.Subscribe("flow.>")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	published := map[string]any{
		TopicGraphRegistered:   GraphRegistered{Name: "orders", Version: "1.0.0"},
		TopicGraphDeployed:     GraphDeployed{Name: "orders", Version: "1.0.0", Adapters: []string{"intake"}},
		TopicAdapterTornDown:   AdapterLifecycle{Graph: "orders", ID: "ad-1", Name: "intake"},
		TopicFlowEventRejected: FlowEventRejected{Reason: "invalid"},
	}
	for topic, ev := range published {
		if err := pub.Publish(context.Background(), topic, ev); err != nil {
			t.Fatalf("Publish(%s): %v", topic, err)
		}
	}
	for range published {
		receive(t, ch)
	}
}

func TestNATS_PublishHonoursContext(t *testing.T) {
	pub, _ := newPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pub.Publish(ctx, TopicGraphTornDown, GraphTornDown{}); err == nil {
		t.Error("expected error publishing with a cancelled context")
	}
}

func TestNATS_PublishAfterClose(t *testing.T) {
	pub, _ := newPair(t)
	if err := pub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := pub.Publish(context.Background(), TopicGraphTornDown, GraphTornDown{}); err == nil {
		t.Error("expected error publishing after close")
	}
}

func TestNATSSubscriber_Cancel(t *testing.T) {
	pub, sub := newPair(t)
	ch, cancel, err := sub.Subscribe("flow.>")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// Keep messages flowing while cancelling; cancel must not block or
	// panic, and must leave the channel closed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_ = pub.Publish(context.Background(), TopicFlowEventCompleted, FlowEventCompleted{})
		}
	}()
	cancel()
	cancel()
	<-done

	for range ch {
		t.Fatal("received on a cancelled subscription")
	}
}

func TestNATSSubscriber_Options(t *testing.T) {
	reconnected := make(chan struct{}, 1)
	_, sub := newPair(t, nats.ReconnectHandler(func(*nats.Conn) {
		select {
		case reconnected <- struct{}{}:
		default:
		}
	}))
	if !sub.conn.IsConnected() {
		t.Fatal("expected subscriber to be connected")
	}
	if got := sub.conn.Opts.Name; got != "flowd-subscriber" {
		t.Errorf("connection name = %q", got)
	}
}

func TestEmbeddedBroker_Close(t *testing.T) {
	b, err := StartEmbeddedBroker("127.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	url := b.URL()
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := NewNATSPublisher(url, nats.MaxReconnects(0)); err == nil {
		t.Error("expected connect error after the broker shut down")
	}
}
