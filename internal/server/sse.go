package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// sseReplayLimit is the minimum number of recent events kept for clients
	// reconnecting with Last-Event-ID.
	sseReplayLimit = 1000

	sseClientBuffer      = 64
	sseKeepaliveInterval = 15 * time.Second
)

var errHubClosed = errors.New("event stream closed")

type streamEvent struct {
	ID    uint64
	Topic string
	Data  []byte
}

// topicFilter holds NATS-style subject patterns. An empty filter matches
// every topic.
type topicFilter []string

func parseTopicFilter(s string) topicFilter {
	var f topicFilter
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			f = append(f, t)
		}
	}
	return f
}

func (f topicFilter) match(topic string) bool {
	if len(f) == 0 {
		return true
	}
	return slices.ContainsFunc(f, func(pattern string) bool {
		return matchTopicPattern(pattern, topic)
	})
}

// matchTopicPattern matches dot-separated topics. "*" matches exactly one
// segment and a trailing ">" matches one or more.
func matchTopicPattern(pattern, topic string) bool {
	for {
		p, pRest, pMore := strings.Cut(pattern, ".")
		t, tRest, tMore := strings.Cut(topic, ".")
		switch {
		case p == ">":
			return !pMore && t != ""
		case p != "*" && p != t:
			return false
		case !pMore || !tMore:
			return pMore == tMore
		}
		pattern, topic = pRest, tRest
	}
}

type streamClient struct {
	filter topicFilter
	ch     chan streamEvent
}

// SSEHub fans published events out to event stream clients and keeps a
// backlog for replay. It implements events.Publisher.
type SSEHub struct {
	mu      sync.Mutex
	seq     uint64
	backlog []streamEvent
	clients map[*streamClient]struct{}
	closed  bool
}

// NewSSEHub returns a hub with no clients.
func NewSSEHub() *SSEHub {
	return &SSEHub{clients: make(map[*streamClient]struct{})}
}

func (h *SSEHub) broadcast(topic string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.seq++
	ev := streamEvent{ID: h.seq, Topic: topic, Data: data}
	h.backlog = append(h.backlog, ev)
	if len(h.backlog) > 2*sseReplayLimit {
		h.backlog = slices.Clone(h.backlog[len(h.backlog)-sseReplayLimit:])
	}
	for c := range h.clients {
		if !c.filter.match(topic) {
			continue
		}
		select {
		case c.ch <- ev:
		default:
			// Slow clients drop events.
		}
	}
}

// attach registers a client. When replay is set it also returns the
// backlogged events after lastID that pass the filter; attaching and
// reading the backlog happen under one lock so nothing is missed or sent
// twice.
func (h *SSEHub) attach(filter topicFilter, lastID uint64, replay bool) (*streamClient, []streamEvent) {
	c := &streamClient{filter: filter, ch: make(chan streamEvent, sseClientBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(c.ch)
		return c, nil
	}
	h.clients[c] = struct{}{}
	if !replay {
		return c, nil
	}
	var missed []streamEvent
	for _, ev := range h.backlog {
		if ev.ID > lastID && filter.match(ev.Topic) {
			missed = append(missed, ev)
		}
	}
	return c, missed
}

func (h *SSEHub) detach(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.ch)
	}
}

// Publish encodes event and broadcasts it to stream clients.
func (h *SSEHub) Publish(_ context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling %s event for stream: %w", topic, err)
	}
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return errHubClosed
	}
	h.broadcast(topic, data)
	return nil
}

// Close ends every open stream. Later publishes fail with errHubClosed.
func (h *SSEHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.ch)
	}
	return nil
}

// lastEventID reads the replay position from the Last-Event-ID header, or
// the last_event_id query parameter for clients that cannot set headers.
func lastEventID(r *http.Request) (uint64, bool) {
	v := r.Header.Get("Last-Event-ID")
	if v == "" {
		v = r.URL.Query().Get("last_event_id")
	}
	if v == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(v, 10, 64)
	return id, err == nil
}

// handleEventStream serves GET /v1/events/stream as server-sent events.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	lastID, replay := lastEventID(r)
	c, missed := s.hub.attach(parseTopicFilter(r.URL.Query().Get("topics")), lastID, replay)
	defer s.hub.detach(c)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	for _, ev := range missed {
		writeSSEEvent(w, ev)
	}
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-c.ch:
			if !ok {
				return
			}
			writeSSEEvent(w, ev)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev streamEvent) {
	fmt.Fprintf(w, "id:%d\nevent:%s\ndata:%s\n\n", ev.ID, ev.Topic, ev.Data)
}
