package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alfredjeanlab/flowd/internal/events"
	"github.com/alfredjeanlab/flowd/internal/idgen"
	"github.com/alfredjeanlab/flowd/internal/model"
)

// Peek returns the oldest pending message without consuming it.
func (a *Adapter) Peek(ctx context.Context) (*model.QueueRead, error) {
	msgs, err := a.rt.store.QueryPending(ctx, a.ID(), 1)
	if err != nil {
		return nil, fmt.Errorf("reading queue: %w", err)
	}
	count, err := a.rt.store.CountPending(ctx, a.ID())
	if err != nil {
		return nil, fmt.Errorf("counting queue: %w", err)
	}
	read := &model.QueueRead{QueuedRecords: count}
	if len(msgs) > 0 {
		read.Message = msgs[0]
	}
	return read, nil
}

// Pop consumes the oldest pending message. The consumer taking it is the
// final hop, so the flow event is recorded egressed and complete. An output
// validation failure drops the message and is returned as the error.
func (a *Adapter) Pop(ctx context.Context) (*model.QueueRead, error) {
	a.popMu.Lock()
	defer a.popMu.Unlock()

	st := a.rt.store
	msgs, err := st.QueryPending(ctx, a.ID(), 1)
	if err != nil {
		return nil, fmt.Errorf("reading queue: %w", err)
	}
	if len(msgs) == 0 {
		return &model.QueueRead{}, nil
	}
	msg := msgs[0]

	start := now()
	ev := a.newFlowEvent(idgen.Derive(idgen.FlowEventPrefix, a.ID(), msg.ID), msg.BatchID, start)
	if a.decl.Settings.PersistInputPayload {
		ev.InputPayload = json.RawMessage(msg.Payload)
	}
	err = a.rt.gate.ValidateOutput(msg.Payload, a.target)
	if err == nil {
		err = a.rt.gate.StampOutputs(ev, msg.Payload, a.target)
	}
	if err != nil {
		a.reject(ctx, ev, err)
		a.deleteMessage(ctx, msg)
		return nil, err
	}
	if a.decl.Settings.PersistOutputPayload {
		ev.OutputPayload = json.RawMessage(msg.Payload)
	}
	ev.Times.PayloadEgressed = &start
	ev.Times.EventComplete = &start

	if _, err := st.CreateFlowEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("recording flow event: %w", err)
	}
	if err := st.DeleteMessage(ctx, msg.ID); err != nil {
		return nil, fmt.Errorf("removing message %s: %w", msg.ID, err)
	}
	count, err := st.CountPending(ctx, a.ID())
	if err != nil {
		a.logger.Warn("failed to count queue after pop", "err", err)
	}
	a.rt.metrics.eventStarted(a)
	a.rt.metrics.eventFinished(a, outcomeDelivered)
	a.rt.publish(ctx, events.TopicFlowEventCompleted, events.FlowEventCompleted{FlowEvent: ev})
	return &model.QueueRead{FlowEvent: ev, Message: msg, QueuedRecords: count}, nil
}
