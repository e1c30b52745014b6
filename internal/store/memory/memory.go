// Package memory implements store.Store in process memory. It backs local
// development (no database configured) and the engine tests.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/flowd/internal/model"
	"github.com/alfredjeanlab/flowd/internal/store"
)

type graphKey struct{ name, version string }

type pairKey struct{ flowEventID, targetAdapterID string }

type queued struct {
	msg *model.InboxMessage
	seq uint64
}

// Store is an in-memory store.Store. Records are deep-copied on the way in
// and out so callers never share state with the store.
type Store struct {
	mu       sync.Mutex
	seq      uint64
	graphs   map[graphKey]*model.Graph
	events   map[string]*model.FlowEvent
	messages map[string]*queued
	pairs    map[pairKey]string
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		graphs:   make(map[graphKey]*model.Graph),
		events:   make(map[string]*model.FlowEvent),
		messages: make(map[string]*queued),
		pairs:    make(map[pairKey]string),
	}
}

func (s *Store) CreateGraph(_ context.Context, g *model.Graph) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := graphKey{g.Name, g.Version}
	if _, ok := s.graphs[k]; ok {
		return fmt.Errorf("graph %s@%s: %w", g.Name, g.Version, store.ErrConflict)
	}
	c, err := clone(g)
	if err != nil {
		return err
	}
	s.graphs[k] = c
	return nil
}

func (s *Store) GetGraph(_ context.Context, name, version string) (*model.Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.graphs[graphKey{name, version}]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return clone(g)
}

func (s *Store) ListGraphs(_ context.Context) ([]*model.GraphSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.GraphSummary, 0, len(s.graphs))
	for _, g := range s.graphs {
		out = append(out, &model.GraphSummary{
			Name:      g.Name,
			Version:   g.Version,
			Adapters:  len(g.Adapters),
			CreatedAt: g.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) CreateFlowEvent(_ context.Context, ev *model.FlowEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[ev.ID]; ok {
		return false, nil
	}
	c, err := clone(ev)
	if err != nil {
		return false, err
	}
	s.events[ev.ID] = c
	return true, nil
}

func (s *Store) UpdateFlowEvent(_ context.Context, ev *model.FlowEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[ev.ID]; !ok {
		return sql.ErrNoRows
	}
	c, err := clone(ev)
	if err != nil {
		return err
	}
	s.events[ev.ID] = c
	return nil
}

func (s *Store) GetFlowEvent(_ context.Context, id string) (*model.FlowEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return clone(ev)
}

func (s *Store) ListFlowEvents(_ context.Context, filter model.FlowEventFilter) ([]*model.FlowEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.FlowEvent
	for _, ev := range s.events {
		if filter.BatchID != "" && ev.BatchID != filter.BatchID {
			continue
		}
		if filter.AdapterID != "" && ev.AdapterID != filter.AdapterID {
			continue
		}
		if filter.GraphName != "" && ev.GraphName != filter.GraphName {
			continue
		}
		if filter.Since != nil && (ev.Times.EventComplete == nil || !ev.Times.EventComplete.After(*filter.Since)) {
			continue
		}
		c, err := clone(ev)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := startOf(out[i]), startOf(out[j])
		if !a.Equal(b) {
			return a.Before(b)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func startOf(ev *model.FlowEvent) time.Time {
	if ev.Times.EventStart == nil {
		return time.Time{}
	}
	return *ev.Times.EventStart
}

func (s *Store) Enqueue(_ context.Context, msg *model.InboxMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey{msg.FlowEventID, msg.TargetAdapterID}
	if _, ok := s.pairs[k]; ok {
		return false, nil
	}
	if _, ok := s.messages[msg.ID]; ok {
		return false, fmt.Errorf("message %s: %w", msg.ID, store.ErrConflict)
	}
	c, err := clone(msg)
	if err != nil {
		return false, err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.seq++
	s.messages[msg.ID] = &queued{msg: c, seq: s.seq}
	s.pairs[k] = msg.ID
	return true, nil
}

// pendingLocked returns the messages for target matching keep, oldest first.
func (s *Store) pendingLocked(target string, keep func(*model.InboxMessage) bool) []*queued {
	var out []*queued
	for _, q := range s.messages {
		if q.msg.TargetAdapterID == target && keep(q.msg) {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].msg.CreatedAt, out[j].msg.CreatedAt
		if !a.Equal(b) {
			return a.Before(b)
		}
		return out[i].seq < out[j].seq
	})
	return out
}

func (s *Store) QueryPending(_ context.Context, targetAdapterID string, limit int) ([]*model.InboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.pendingLocked(targetAdapterID, func(*model.InboxMessage) bool { return true })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return copyMessages(pending)
}

func (s *Store) QueryPendingByBatch(_ context.Context, targetAdapterID, batchID string) ([]*model.InboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.pendingLocked(targetAdapterID, func(m *model.InboxMessage) bool { return m.BatchID == batchID })
	return copyMessages(pending)
}

func (s *Store) QueryReadyBatches(_ context.Context, targetAdapterID string, sources, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.pendingLocked(targetAdapterID, func(*model.InboxMessage) bool { return true })
	bySource := make(map[string]map[string]bool)
	var order []string
	for _, q := range pending {
		b := q.msg.BatchID
		if bySource[b] == nil {
			bySource[b] = make(map[string]bool)
			order = append(order, b)
		}
		bySource[b][q.msg.SourceAdapterID] = true
	}
	var out []string
	for _, b := range order {
		if len(bySource[b]) < sources {
			continue
		}
		out = append(out, b)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func copyMessages(qs []*queued) ([]*model.InboxMessage, error) {
	out := make([]*model.InboxMessage, 0, len(qs))
	for _, q := range qs {
		c, err := clone(q.msg)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) CountPending(_ context.Context, targetAdapterID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, q := range s.messages {
		if q.msg.TargetAdapterID == targetAdapterID {
			n++
		}
	}
	return n, nil
}

func (s *Store) RecordAttempt(_ context.Context, messageID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.messages[messageID]
	if !ok {
		return 0, sql.ErrNoRows
	}
	q.msg.Attempts++
	return q.msg.Attempts, nil
}

func (s *Store) DeleteMessage(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.messages[messageID]
	if !ok {
		return sql.ErrNoRows
	}
	delete(s.messages, messageID)
	delete(s.pairs, pairKey{q.msg.FlowEventID, q.msg.TargetAdapterID})
	return nil
}

// RunInTransaction runs fn against the store itself. Operations inside fn
// are applied immediately; a failing fn does not roll them back.
func (s *Store) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

func (s *Store) Close() error {
	return nil
}

func clone[T any](v *T) (*T, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("copy record: %w", err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("copy record: %w", err)
	}
	return &out, nil
}
