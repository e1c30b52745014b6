package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/alfredjeanlab/flowd/internal/model"
)

// maxResponseBytes bounds how much of a target response is read.
const maxResponseBytes = 10 << 20

// Dispatcher sends payloads to the adapter's target component and
// reconciles the response into the flow event.
type Dispatcher struct {
	rt *Runtime
}

// Forward moves payload through the adapter. Passthrough adapters and
// adapters without a target go straight to the outbox. Asynchronous
// adapters return as soon as the request is started; the returned error
// only reflects synchronous work.
//
// settle, when non-nil, is called once with the outcome of the whole hop:
// before Forward returns for synchronous work, from the background leg
// otherwise. A caller that passes settle owns retrying a failed hop. Without
// one, a failed asynchronous hop is completed with a 500.
func (d *Dispatcher) Forward(ctx context.Context, a *Adapter, ev *model.FlowEvent, payload []byte, settle func(context.Context, error)) error {
	done := settle
	if done == nil {
		done = func(context.Context, error) {}
	}
	if a.decl.Settings.Passthrough || !a.Type().CallsTarget() {
		err := d.rt.outbox.Publish(ctx, a, ev, payload)
		done(ctx, err)
		return err
	}

	if a.asyncEgress() {
		// The caller keeps ev; the background leg works on its own copy.
		cp := *ev
		ev := &cp
		a.open.Add(1)
		a.inflight.Add(1)
		d.rt.metrics.openMessages(a)
		go func() {
			defer a.inflight.Done()
			defer func() {
				a.open.Add(-1)
				d.rt.metrics.openMessages(a)
			}()
			bg := context.WithoutCancel(ctx)
			code, body := d.send(bg, a, ev, payload)
			err := d.reconcile(bg, a, ev, code, body)
			if err != nil {
				a.logger.Error("asynchronous dispatch failed", "flow_event", ev.ID, "err", err)
				if settle == nil && !ev.IsComplete() {
					if ev.HTTPResponseCode >= 200 && ev.HTTPResponseCode <= 299 {
						ev.HTTPResponseCode = http.StatusInternalServerError
					}
					_ = d.rt.complete(bg, a, ev)
				}
			}
			done(bg, err)
		}()
		return nil
	}

	code, body := d.send(ctx, a, ev, payload)
	err := d.reconcile(ctx, a, ev, code, body)
	done(ctx, err)
	return err
}

// send performs the HTTP call. Transport failures are reported as 502, or
// 504 when the call timed out.
func (d *Dispatcher) send(ctx context.Context, a *Adapter, ev *model.FlowEvent, payload []byte) (int, []byte) {
	ctx, cancel := context.WithTimeout(ctx, d.rt.limits.DispatchTimeout)
	defer cancel()

	sent := now()
	ev.Times.PayloadSent = &sent
	defer func() {
		t := now()
		ev.Times.TargetResponse = &t
	}()

	req, err := http.NewRequestWithContext(ctx, a.decl.Egress.Method, a.endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return http.StatusBadGateway, errorBody(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Flow-Event-Id", ev.ID)
	req.Header.Set("X-Flow-Batch-Id", ev.BatchID)
	req.Header.Set("X-Flow-Adapter", a.Name())

	start := time.Now()
	resp, err := d.rt.client.Do(req)
	if err != nil {
		code := http.StatusBadGateway
		if isTimeout(err) {
			code = http.StatusGatewayTimeout
		}
		d.rt.metrics.dispatchObserved(a, code, time.Since(start))
		a.logger.Warn("dispatch failed", "flow_event", ev.ID, "endpoint", a.endpoint.String(), "code", code, "err", err)
		return code, errorBody(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	d.rt.metrics.dispatchObserved(a, resp.StatusCode, time.Since(start))
	if err != nil {
		a.logger.Warn("reading target response", "flow_event", ev.ID, "err", err)
		code := http.StatusBadGateway
		if isTimeout(err) {
			code = http.StatusGatewayTimeout
		}
		return code, errorBody(err)
	}
	return resp.StatusCode, body
}

// reconcile records the target's answer on ev. A non-2xx answer completes
// the event without fan-out. A 2xx answer is validated, stamped and handed
// to the outbox; a 2xx answer that fails output validation is recorded but
// neither completed nor forwarded.
func (d *Dispatcher) reconcile(ctx context.Context, a *Adapter, ev *model.FlowEvent, code int, body []byte) error {
	ev.HTTPResponseCode = code
	if code < 200 || code > 299 {
		a.logger.Warn("target returned non-success status", "flow_event", ev.ID, "code", code)
		if a.decl.Settings.PersistOutputPayload && len(body) > 0 {
			ev.OutputPayload = asJSON(body)
		}
		return d.rt.complete(ctx, a, ev)
	}

	out := asJSON(body)
	err := d.rt.gate.ValidateOutput(out, a.target)
	if err == nil {
		err = d.rt.gate.StampOutputs(ev, out, a.target)
	}
	if a.decl.Settings.PersistOutputPayload {
		ev.OutputPayload = out
	}
	if err != nil {
		a.logger.Warn("target response rejected", "flow_event", ev.ID, "err", err)
		d.rt.metrics.eventFinished(a, outcomeRejected)
		if uerr := d.rt.store.UpdateFlowEvent(ctx, ev); uerr != nil {
			return fmt.Errorf("recording rejected response for %s: %w", ev.ID, uerr)
		}
		return nil
	}
	return d.rt.outbox.Publish(ctx, a, ev, out)
}

// asJSON returns body unchanged when it is JSON, otherwise encodes it as a
// JSON string. An empty body becomes null.
func asJSON(body []byte) json.RawMessage {
	if len(bytes.TrimSpace(body)) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	data, _ := json.Marshal(string(body))
	return data
}

func errorBody(err error) []byte {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return data
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
