package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/flowd/internal/client"
	"github.com/alfredjeanlab/flowd/internal/events"
	"github.com/alfredjeanlab/flowd/internal/model"
	"github.com/alfredjeanlab/flowd/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Stream flow and lifecycle events as they happen",
	GroupID: "flow",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		topics, _ := cmd.Flags().GetStringSlice("topic")
		graph, _ := cmd.Flags().GetString("graph")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		w := &eventPrinter{out: cmd.OutOrStdout(), graph: graph}

		natsURL := os.Getenv("FLOWD_NATS_URL")
		if natsURL == "" {
			natsURL = activeRemoteNATSURL()
		}
		if natsURL != "" {
			return watchNATS(ctx, natsURL, topics, w)
		}
		return flowClient.Stream(ctx, topics, func(ev client.StreamEvent) error {
			w.print(ev.Topic, ev.Data)
			return nil
		})
	},
}

// watchNATS reads the bus directly, one subscription per topic pattern.
func watchNATS(ctx context.Context, natsURL string, topics []string, w *eventPrinter) error {
	sub, err := events.NewNATSSubscriber(natsURL,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats: disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("nats: reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer sub.Close()

	if len(topics) == 0 {
		topics = []string{"flow.>"}
	}
	type labeled struct {
		topic string
		data  []byte
	}
	merged := make(chan labeled)
	for _, topic := range topics {
		ch, cancel, err := sub.Subscribe(topic)
		if err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		defer cancel()
		go func() {
			for data := range ch {
				select {
				case merged <- labeled{topic: topic, data: data}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-merged:
			w.print(m.topic, m.data)
		}
	}
}

// eventPrinter writes one line per event, or the raw payload with --json.
type eventPrinter struct {
	out   io.Writer
	graph string
}

// watchedEvent is the union of the fields the bus events carry.
type watchedEvent struct {
	FlowEvent *model.FlowEvent `json:"flow_event"`
	Reason    string           `json:"reason"`
	Name      string           `json:"name"`
	Graph     string           `json:"graph"`
	Version   string           `json:"version"`
	Type      string           `json:"type"`
	Adapters  []string         `json:"adapters"`
}

func (p *eventPrinter) print(topic string, data []byte) {
	var ev watchedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		fmt.Fprintf(p.out, "%s %s\n", ui.RenderAccent(topic), data)
		return
	}
	if p.graph != "" && !strings.EqualFold(ev.graphName(), p.graph) {
		return
	}
	if jsonOutput {
		fmt.Fprintf(p.out, "%s\n", data)
		return
	}
	fmt.Fprintf(p.out, "%s %s %s\n", ui.RenderMuted(time.Now().Format("15:04:05")), ui.RenderAccent(topic), ev.summary())
}

func (e watchedEvent) graphName() string {
	switch {
	case e.FlowEvent != nil:
		return e.FlowEvent.GraphName
	case e.Graph != "":
		return e.Graph
	default:
		return e.Name
	}
}

func (e watchedEvent) summary() string {
	switch {
	case e.FlowEvent != nil:
		fe := e.FlowEvent
		s := fmt.Sprintf("%s/%s %s", fe.GraphName, fe.AdapterName, fe.ID)
		if fe.HTTPResponseCode != 0 {
			s += " " + ui.RenderStatusCode(fe.HTTPResponseCode)
		}
		if e.Reason != "" {
			s += ": " + e.Reason
		}
		return s
	case e.Graph != "":
		return fmt.Sprintf("%s/%s (%s) %s", e.Graph, e.Name, e.Type, e.Version)
	case len(e.Adapters) > 0:
		return fmt.Sprintf("%s %s [%s]", e.Name, e.Version, strings.Join(e.Adapters, ", "))
	default:
		return fmt.Sprintf("%s %s", e.Name, e.Version)
	}
}

func init() {
	watchCmd.Flags().StringSlice("topic", nil, "topic patterns to follow (default all flow.* topics)")
	watchCmd.Flags().String("graph", "", "only show events for this graph")
}
