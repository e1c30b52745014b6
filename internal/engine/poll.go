package engine

import (
	"context"
	"io"
	"net/http"
)

// pollExternal is the poll adapter's task: GET the poll endpoint and ingest
// whatever it returns as a new batch. Failures are logged and the next tick
// tries again.
func (a *Adapter) pollExternal(ctx context.Context) {
	started := now()
	reqCtx, cancel := context.WithTimeout(ctx, a.rt.limits.DispatchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, a.decl.Poll.Endpoint, nil)
	if err != nil {
		a.logger.Error("building poll request", "err", err)
		return
	}
	req.Header.Set("Accept", "application/json")
	resp, err := a.rt.client.Do(req)
	if err != nil {
		a.logger.Warn("poll request failed", "endpoint", a.decl.Poll.Endpoint, "err", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		a.logger.Warn("poll endpoint returned non-success status", "endpoint", a.decl.Poll.Endpoint, "code", resp.StatusCode)
		return
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		a.logger.Warn("reading poll response", "err", err)
		return
	}
	if len(body) == 0 {
		return
	}
	if _, err := a.Ingest(ctx, asJSON(body), &started); err != nil {
		a.logger.Warn("ingesting polled payload", "err", err)
	}
}
