package engine

import (
	"context"
	"fmt"
)

// subscribe attaches the adapter to its broker topic. Each delivery starts a
// new batch.
func (a *Adapter) subscribe() error {
	if a.rt.subscriber == nil {
		return &ConfigError{Adapter: a.Name(), Err: fmt.Errorf("no message broker configured")}
	}
	if a.decl.Broker == nil || a.decl.Broker.Topic == "" {
		return &ConfigError{Adapter: a.Name(), Err: fmt.Errorf("subscribe adapter has no broker topic")}
	}
	topic := a.decl.Broker.Topic
	ch, cancel, err := a.rt.subscriber.Subscribe(topic)
	if err != nil {
		return &ConfigError{Adapter: a.Name(), Err: err}
	}
	a.unsubscribe = cancel

	a.inflight.Add(1)
	go func() {
		defer a.inflight.Done()
		for data := range ch {
			if _, err := a.Ingest(context.Background(), asJSON(data), nil); err != nil {
				a.logger.Warn("ingesting broker message", "topic", topic, "err", err)
			}
		}
	}()
	a.logger.Info("subscribed to broker topic", "topic", topic)
	return nil
}
