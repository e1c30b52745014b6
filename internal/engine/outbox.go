package engine

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/alfredjeanlab/flowd/internal/events"
	"github.com/alfredjeanlab/flowd/internal/idgen"
	"github.com/alfredjeanlab/flowd/internal/model"
	"github.com/alfredjeanlab/flowd/internal/store"
)

func now() time.Time {
	return time.Now().UTC()
}

// Outbox fans a finished hop out to the adapter's downstream inboxes.
type Outbox struct {
	rt *Runtime
}

// Publish enqueues payload for every downstream adapter and completes ev.
// Each message id is derived from the event and target, and is recorded on
// the event in the same transaction that enqueues it, so publishing the
// same event again never enqueues a target twice.
func (o *Outbox) Publish(ctx context.Context, a *Adapter, ev *model.FlowEvent, payload []byte) error {
	if len(a.decl.Downstream) == 0 {
		if a.Type() == model.AdapterEgress {
			t := now()
			ev.Times.PayloadEgressed = &t
		}
		return o.rt.complete(ctx, a, ev)
	}

	for _, target := range a.decl.Downstream {
		msgID := idgen.Derive(idgen.MessagePrefix, ev.ID, target)
		if slices.Contains(ev.MessageIDs, msgID) {
			continue
		}
		msg := &model.InboxMessage{
			ID:                msgID,
			FlowEventID:       ev.ID,
			BatchID:           ev.BatchID,
			SourceAdapterID:   a.ID(),
			SourceAdapterName: a.Name(),
			TargetAdapterID:   target,
			Payload:           payload,
			CreatedAt:         now(),
		}
		ids := append(slices.Clone(ev.MessageIDs), msgID)
		err := o.rt.store.RunInTransaction(ctx, func(tx store.Store) error {
			created, err := tx.Enqueue(ctx, msg)
			if err != nil {
				return err
			}
			if !created {
				a.logger.Debug("message already queued", "message", msgID, "target", target)
			}
			next := *ev
			next.MessageIDs = ids
			return tx.UpdateFlowEvent(ctx, &next)
		})
		if err != nil {
			a.logger.Error("failed to publish to outbox", "flow_event", ev.ID, "target", target, "err", err)
			return fmt.Errorf("publishing %s to %s: %w", ev.ID, target, err)
		}
		ev.MessageIDs = ids
	}

	t := now()
	ev.Times.SentToOutbox = &t
	return o.rt.complete(ctx, a, ev)
}

// complete stamps ev complete, persists it and announces it.
func (rt *Runtime) complete(ctx context.Context, a *Adapter, ev *model.FlowEvent) error {
	t := now()
	ev.Times.EventComplete = &t
	if err := rt.store.UpdateFlowEvent(ctx, ev); err != nil {
		a.logger.Error("failed to complete flow event", "flow_event", ev.ID, "err", err)
		return fmt.Errorf("completing flow event %s: %w", ev.ID, err)
	}
	outcome := outcomeDelivered
	if ev.HTTPResponseCode != 0 && (ev.HTTPResponseCode < 200 || ev.HTTPResponseCode > 299) {
		outcome = outcomeFailed
	}
	rt.metrics.eventFinished(a, outcome)
	rt.publish(ctx, events.TopicFlowEventCompleted, events.FlowEventCompleted{FlowEvent: ev})
	return nil
}
