package events

import (
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// EmbeddedBroker is an in-process NATS server, used when no external
// broker is configured so subscribe adapters still have a bus.
type EmbeddedBroker struct {
	srv *natsserver.Server
}

// StartEmbeddedBroker starts a NATS server on host at a random port and
// waits until it accepts connections.
func StartEmbeddedBroker(host string) (*EmbeddedBroker, error) {
	srv, err := natsserver.NewServer(&natsserver.Options{Host: host, Port: -1, NoSigs: true})
	if err != nil {
		return nil, fmt.Errorf("creating embedded NATS: %w", err)
	}
	srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		srv.Shutdown()
		return nil, fmt.Errorf("embedded NATS not ready")
	}
	return &EmbeddedBroker{srv: srv}, nil
}

// URL is the client URL to connect publishers and subscribers to.
func (b *EmbeddedBroker) URL() string { return b.srv.ClientURL() }

func (b *EmbeddedBroker) Close() error {
	b.srv.Shutdown()
	b.srv.WaitForShutdown()
	return nil
}
