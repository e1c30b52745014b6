package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alfredjeanlab/flowd/internal/idgen"
	"github.com/alfredjeanlab/flowd/internal/model"
	"github.com/alfredjeanlab/flowd/internal/store"
)

// Inbox reads pending messages for an adapter, oldest first.
type Inbox struct {
	store  store.Store
	limits Limits
	logger *slog.Logger
}

// Poll returns up to one page of pending messages for a, skipping messages
// whose delivery is still in flight. Store failures are logged and yield an
// empty page; the next cycle retries.
func (in *Inbox) Poll(ctx context.Context, a *Adapter) []*model.InboxMessage {
	limit := in.pageSize(a)
	if limit <= 0 {
		return nil
	}
	msgs, err := in.store.QueryPending(ctx, a.ID(), limit+a.claimCount())
	if err != nil {
		a.logger.Error("failed to query inbox", "err", err)
		return nil
	}
	page := msgs[:0]
	for _, m := range msgs {
		if a.isClaimed(m.ID) {
			continue
		}
		page = append(page, m)
		if len(page) == limit {
			break
		}
	}
	return page
}

func (in *Inbox) pageSize(a *Adapter) int {
	base := a.decl.Settings.InboxPageSize
	if base <= 0 {
		base = in.limits.DefaultPageSize
	}
	openSlots := -1
	if a.asyncEgress() {
		openSlots = a.decl.Egress.Concurrency - int(a.open.Load())
	}
	newest, previous, n := a.history.snapshot()
	return pageSize(base, in.limits.MaxPageSize, newest, previous, n, openSlots)
}

// pollInbox is the adapter's inbox task.
func (a *Adapter) pollInbox(ctx context.Context) {
	if a.saturated() {
		a.logger.Debug("egress saturated, skipping inbox poll", "open", a.open.Load())
		return
	}
	msgs := a.rt.inbox.Poll(ctx, a)
	if len(msgs) == 0 {
		return
	}
	a.logger.Debug("processing inbox page", "messages", len(msgs))

	if a.Type() == model.AdapterMerge {
		a.rt.merger.Poll(ctx, a, msgs)
		return
	}
	for _, m := range msgs {
		a.processMessage(ctx, m)
	}
}

// processMessage carries one inbox message through this adapter. The flow
// event id is derived from the message id, so a redelivered message lands on
// the event its first delivery created. The message leaves the inbox only
// once the hop has settled, which for asynchronous egress happens after
// this returns.
func (a *Adapter) processMessage(ctx context.Context, msg *model.InboxMessage) {
	if !a.claim(msg.ID) {
		return
	}
	handedOff := false
	defer func() {
		if !handedOff {
			a.release(msg.ID)
		}
	}()

	st := a.rt.store
	logger := a.logger.With("message", msg.ID, "batch", msg.BatchID)

	eventID := idgen.Derive(idgen.FlowEventPrefix, a.ID(), msg.ID)
	ev, err := st.GetFlowEvent(ctx, eventID)
	switch {
	case err == nil && ev.IsComplete():
		logger.Debug("message already processed", "flow_event", eventID)
		a.deleteMessage(ctx, msg)
		return
	case err == nil && ev.HTTPResponseCode == http.StatusUnprocessableEntity:
		logger.Debug("message already rejected", "flow_event", eventID)
		a.deleteMessage(ctx, msg)
		return
	case err == nil:
		logger.Info("resuming delivery", "flow_event", eventID, "attempts", msg.Attempts)
	case errors.Is(err, sql.ErrNoRows):
		ev = a.newFlowEvent(eventID, msg.BatchID, now())
		if err := a.admit(ctx, ev, msg.Payload); err != nil {
			a.deleteMessage(ctx, msg)
			return
		}
		if _, err := st.CreateFlowEvent(ctx, ev); err != nil {
			logger.Error("failed to record flow event", "err", err)
			return
		}
		a.rt.metrics.eventStarted(a)
	default:
		logger.Error("failed to load flow event", "flow_event", eventID, "err", err)
		return
	}

	handedOff = true
	_ = a.rt.dispatcher.Forward(ctx, a, ev, msg.Payload, func(ctx context.Context, err error) {
		defer a.release(msg.ID)
		if err != nil {
			a.retryLater(ctx, msg, err)
			return
		}
		a.deleteMessage(ctx, msg)
	})
}

// claim marks ids as in delivery. It claims nothing and returns false when
// any of them is already claimed.
func (a *Adapter) claim(ids ...string) bool {
	a.claimMu.Lock()
	defer a.claimMu.Unlock()
	for _, id := range ids {
		if _, ok := a.claimed[id]; ok {
			return false
		}
	}
	for _, id := range ids {
		a.claimed[id] = struct{}{}
	}
	return true
}

func (a *Adapter) release(ids ...string) {
	a.claimMu.Lock()
	defer a.claimMu.Unlock()
	for _, id := range ids {
		delete(a.claimed, id)
	}
}

func (a *Adapter) isClaimed(id string) bool {
	a.claimMu.Lock()
	defer a.claimMu.Unlock()
	_, ok := a.claimed[id]
	return ok
}

func (a *Adapter) claimCount() int {
	a.claimMu.Lock()
	defer a.claimMu.Unlock()
	return len(a.claimed)
}

// retryLater counts a failed delivery. The message stays in the inbox until
// it has failed MaxDeliveryAttempts times, then it is dropped.
func (a *Adapter) retryLater(ctx context.Context, msg *model.InboxMessage, cause error) {
	attempts, err := a.rt.store.RecordAttempt(ctx, msg.ID)
	if err != nil {
		a.logger.Error("failed to record delivery attempt", "message", msg.ID, "err", err)
		return
	}
	if attempts >= a.rt.limits.MaxDeliveryAttempts {
		a.logger.Error("dropping message after repeated delivery failures",
			"message", msg.ID, "batch", msg.BatchID, "attempts", attempts, "err", cause)
		a.rt.metrics.eventFinished(a, outcomeDropped)
		a.deleteMessage(ctx, msg)
		return
	}
	a.logger.Warn("delivery failed, will retry", "message", msg.ID, "attempts", attempts, "err", cause)
}

func (a *Adapter) deleteMessage(ctx context.Context, msg *model.InboxMessage) {
	if err := a.rt.store.DeleteMessage(ctx, msg.ID); err != nil && !errors.Is(err, sql.ErrNoRows) {
		a.logger.Error("failed to delete inbox message", "message", msg.ID, "err", err)
	}
}

// sampleBackPressure is the adapter's back-pressure task.
func (a *Adapter) sampleBackPressure(ctx context.Context) {
	depth, err := a.rt.store.CountPending(ctx, a.ID())
	if err != nil {
		a.logger.Warn("failed to sample inbox depth", "err", err)
		return
	}
	a.history.push(depth)
	a.rt.metrics.queueDepth(a, depth)
}

// BackPressure returns the adapter's current back-pressure reading.
func (a *Adapter) BackPressure() model.BackPressure {
	newest, previous, n := a.history.snapshot()
	bp := model.BackPressure{
		Ingress: model.IngressPressure{
			QueuedRecords:      newest,
			QueueRatePerMinute: queueRate(newest, previous, n, a.decl.Settings.BackPressurePollFrequency()),
		},
	}
	if a.Type().CallsTarget() && !a.decl.Settings.Passthrough {
		bp.Egress = &model.EgressPressure{
			CurrentOpenMessages: a.open.Load(),
			MaxOpenMessages:     int64(a.decl.Egress.Concurrency),
		}
	}
	return bp
}
