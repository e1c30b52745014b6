package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/alfredjeanlab/flowd/internal/gate"
)

// maxPushBytes bounds a pushed payload.
const maxPushBytes = 10 << 20

func (a *Adapter) handleBackPressure(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.BackPressure())
}

// handlePush accepts a payload for a new batch and answers 202 with the
// flow event once it has been forwarded.
func (a *Adapter) handlePush(w http.ResponseWriter, r *http.Request) {
	if a.limiter != nil && !a.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "push rate limit exceeded")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPushBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body: "+err.Error())
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "payload is not valid JSON")
		return
	}

	// The hop finishes even if the caller goes away.
	ev, err := a.Ingest(context.WithoutCancel(r.Context()), body, nil)
	if err != nil {
		var ve *gate.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, ev)
}

func (a *Adapter) handlePeek(w http.ResponseWriter, r *http.Request) {
	read, err := a.Peek(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, read)
}

func (a *Adapter) handlePop(w http.ResponseWriter, r *http.Request) {
	read, err := a.Pop(context.WithoutCancel(r.Context()))
	if err != nil {
		var ve *gate.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusUnprocessableEntity, ve.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, read)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
