package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/alfredjeanlab/flowd/internal/idgen"
	"github.com/alfredjeanlab/flowd/internal/model"
)

// MergeCoordinator joins one message per upstream adapter of a batch into a
// single payload keyed by source adapter name.
type MergeCoordinator struct {
	rt *Runtime
}

// Poll handles one inbox cycle. Batches that already hold a message from
// every upstream adapter are merged first, so batches still waiting on an
// upstream never hold back complete ones. The rest of the page is then
// visited batch by batch to clear late and duplicate messages.
func (m *MergeCoordinator) Poll(ctx context.Context, a *Adapter, page []*model.InboxMessage) {
	handled := make(map[string]bool)
	ready, err := m.rt.store.QueryReadyBatches(ctx, a.ID(), len(a.upstream), m.rt.inbox.pageSize(a))
	if err != nil {
		a.logger.Error("failed to query ready batches", "err", err)
	}
	for _, batch := range ready {
		handled[batch] = true
		m.Process(ctx, a, batch)
	}
	for _, msg := range page {
		if handled[msg.BatchID] {
			continue
		}
		handled[msg.BatchID] = true
		m.Process(ctx, a, msg.BatchID)
	}
}

// Process handles one batch. Until every upstream adapter has delivered,
// the batch waits in the inbox. The merged event's id is derived from the
// adapter and batch, so a batch is forwarded at most once.
func (m *MergeCoordinator) Process(ctx context.Context, a *Adapter, batch string) {
	st := m.rt.store
	logger := a.logger.With("batch", batch)

	msgs, err := st.QueryPendingByBatch(ctx, a.ID(), batch)
	if err != nil {
		logger.Error("failed to load batch messages", "err", err)
		return
	}
	for _, msg := range msgs {
		if a.isClaimed(msg.ID) {
			return
		}
	}

	eventID := idgen.Derive(idgen.FlowEventPrefix, a.ID(), "merge", batch)
	ev, err := st.GetFlowEvent(ctx, eventID)
	switch {
	case err == nil && ev.IsComplete():
		logger.Error("batch already merged, discarding late messages", "flow_event", eventID, "messages", len(msgs))
		for _, msg := range msgs {
			a.deleteMessage(ctx, msg)
		}
		return
	case errors.Is(err, sql.ErrNoRows):
		ev = nil
	case err != nil:
		logger.Error("failed to load merge event", "flow_event", eventID, "err", err)
		return
	}

	bySource := make(map[string]*model.InboxMessage, len(a.upstream))
	seen := make(map[string]bool, len(msgs))
	var extras []*model.InboxMessage
	for _, msg := range msgs {
		if seen[msg.ID] {
			continue
		}
		seen[msg.ID] = true
		_, known := a.upstream[msg.SourceAdapterID]
		if _, dup := bySource[msg.SourceAdapterID]; dup || !known {
			extras = append(extras, msg)
			continue
		}
		bySource[msg.SourceAdapterID] = msg
	}
	if len(extras) > 0 {
		logger.Error("batch has more messages than upstream adapters",
			"messages", len(seen), "upstream", len(a.upstream), "extras", len(extras))
		for _, msg := range extras {
			a.deleteMessage(ctx, msg)
		}
	}
	if len(bySource) < len(a.upstream) {
		logger.Debug("waiting for upstream adapters", "received", len(bySource), "upstream", len(a.upstream))
		return
	}

	merged := make(map[string]json.RawMessage, len(bySource))
	for id, msg := range bySource {
		merged[a.upstream[id]] = asJSON(msg.Payload)
	}
	payload, err := json.Marshal(merged)
	if err != nil {
		logger.Error("failed to encode merged payload", "err", err)
		return
	}
	consumed := make([]*model.InboxMessage, 0, len(bySource))
	ids := make([]string, 0, len(bySource))
	for _, msg := range msgs {
		if bySource[msg.SourceAdapterID] == msg {
			consumed = append(consumed, msg)
			ids = append(ids, msg.ID)
		}
	}
	if !a.claim(ids...) {
		return
	}
	handedOff := false
	defer func() {
		if !handedOff {
			a.release(ids...)
		}
	}()

	if ev == nil {
		ev = a.newFlowEvent(eventID, batch, now())
		if err := a.admit(ctx, ev, payload); err != nil {
			for _, msg := range consumed {
				a.deleteMessage(ctx, msg)
			}
			return
		}
		if _, err := st.CreateFlowEvent(ctx, ev); err != nil {
			logger.Error("failed to record merge event", "err", err)
			return
		}
		a.rt.metrics.eventStarted(a)
	}

	// Attempts are counted on the batch's oldest message.
	first := consumed[0]
	handedOff = true
	_ = m.rt.dispatcher.Forward(ctx, a, ev, payload, func(ctx context.Context, err error) {
		defer a.release(ids...)
		if err != nil {
			attempts, aerr := st.RecordAttempt(ctx, first.ID)
			if aerr != nil {
				logger.Error("failed to record delivery attempt", "message", first.ID, "err", aerr)
				return
			}
			if attempts < m.rt.limits.MaxDeliveryAttempts {
				logger.Warn("merge delivery failed, will retry", "attempts", attempts, "err", err)
				return
			}
			logger.Error("dropping batch after repeated delivery failures", "attempts", attempts, "err", err)
			a.rt.metrics.eventFinished(a, outcomeDropped)
		}
		for _, msg := range consumed {
			a.deleteMessage(ctx, msg)
		}
	})
}
