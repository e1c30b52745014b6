package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alfredjeanlab/flowd/internal/engine"
	"github.com/alfredjeanlab/flowd/internal/events"
	"github.com/alfredjeanlab/flowd/internal/idgen"
	"github.com/alfredjeanlab/flowd/internal/model"
	"github.com/alfredjeanlab/flowd/internal/store"
)

// maxGraphBytes bounds a graph document upload.
const maxGraphBytes = 4 << 20

// NewHTTPHandler returns the API handler, wrapped in logging, panic recovery
// and, when authToken is set, bearer authentication.
func (s *Server) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/graphs", s.handleRegisterGraph)
	mux.HandleFunc("GET /v1/graphs", s.handleListGraphs)
	mux.HandleFunc("GET /v1/graphs/{name}/{version}", s.handleGetGraph)
	mux.HandleFunc("POST /v1/deployments", s.handleDeploy)
	mux.HandleFunc("DELETE /v1/deployments", s.handleTeardown)
	mux.HandleFunc("GET /v1/deployments", s.handleListDeployments)
	mux.HandleFunc("GET /v1/deployments/{graph}", s.handleGetDeployment)
	mux.HandleFunc("GET /v1/flow-events", s.handleListFlowEvents)
	mux.HandleFunc("GET /v1/flow-events/{id}", s.handleGetFlowEvent)
	mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	mux.Handle("/", s.router)
	return LoggingMiddleware(RecoveryMiddleware(AuthMiddleware(authToken, mux)))
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"graphs": len(s.manager.LiveGraphs()),
	})
}

// handleRegisterGraph handles POST /v1/graphs. The body is a graph document
// in JSON or YAML.
func (s *Server) handleRegisterGraph(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxGraphBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body: "+err.Error())
		return
	}
	g, err := model.ParseGraph(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := model.ValidateGraph(g); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := model.Link(g, idgen.Adapter); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	g.CreatedAt = time.Now().UTC()

	if err := s.store.CreateGraph(r.Context(), g); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusConflict, "graph "+g.Name+"@"+g.Version+" is already registered")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to register graph: "+err.Error())
		return
	}
	s.publish(r.Context(), events.TopicGraphRegistered, events.GraphRegistered{Name: g.Name, Version: g.Version})
	writeJSON(w, http.StatusCreated, g)
}

// handleListGraphs handles GET /v1/graphs.
func (s *Server) handleListGraphs(w http.ResponseWriter, r *http.Request) {
	graphs, err := s.store.ListGraphs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list graphs: "+err.Error())
		return
	}
	if graphs == nil {
		graphs = []*model.GraphSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"graphs": graphs})
}

// handleGetGraph handles GET /v1/graphs/{name}/{version}.
func (s *Server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	g, err := s.store.GetGraph(r.Context(), r.PathValue("name"), r.PathValue("version"))
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "graph not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get graph: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// handleDeploy handles POST /v1/deployments.
func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var dep model.GraphDeployment
	if err := json.NewDecoder(r.Body).Decode(&dep); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if dep.GraphName == "" || dep.Version == "" {
		writeError(w, http.StatusBadRequest, "graph_name and version are required")
		return
	}
	res, err := s.manager.Deploy(r.Context(), dep)
	if err != nil {
		writeError(w, deploymentStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleTeardown handles DELETE /v1/deployments. The graph is named in the
// body or by the graph and version query parameters.
func (s *Server) handleTeardown(w http.ResponseWriter, r *http.Request) {
	dep := model.GraphDeployment{
		GraphName: r.URL.Query().Get("graph"),
		Version:   r.URL.Query().Get("version"),
	}
	if dep.GraphName == "" {
		if err := json.NewDecoder(r.Body).Decode(&dep); err != nil {
			writeError(w, http.StatusBadRequest, "graph is required")
			return
		}
	}
	if dep.GraphName == "" {
		writeError(w, http.StatusBadRequest, "graph is required")
		return
	}
	if err := s.manager.Teardown(r.Context(), dep.GraphName, dep.Version); err != nil {
		writeError(w, deploymentStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "torn_down", "graph": dep.GraphName})
}

type deploymentView struct {
	Graph    string                `json:"graph"`
	Version  string                `json:"version"`
	Adapters []model.AdapterStatus `json:"adapters,omitempty"`
}

// handleListDeployments handles GET /v1/deployments.
func (s *Server) handleListDeployments(w http.ResponseWriter, _ *http.Request) {
	out := []deploymentView{}
	for _, name := range s.manager.LiveGraphs() {
		version, _ := s.manager.LiveVersion(name)
		out = append(out, deploymentView{Graph: name, Version: version})
	}
	writeJSON(w, http.StatusOK, map[string]any{"deployments": out})
}

// handleGetDeployment handles GET /v1/deployments/{graph}.
func (s *Server) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("graph")
	version, ok := s.manager.LiveVersion(name)
	if !ok {
		writeError(w, http.StatusNotFound, "graph "+name+" is not deployed")
		return
	}
	writeJSON(w, http.StatusOK, deploymentView{Graph: name, Version: version, Adapters: s.manager.Adapters(name)})
}

// handleGetFlowEvent handles GET /v1/flow-events/{id}.
func (s *Server) handleGetFlowEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.store.GetFlowEvent(r.Context(), r.PathValue("id"))
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "flow event not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get flow event: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// handleListFlowEvents handles GET /v1/flow-events.
func (s *Server) handleListFlowEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFlowEventFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	evs, err := s.store.ListFlowEvents(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list flow events: "+err.Error())
		return
	}
	if evs == nil {
		evs = []*model.FlowEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"flow_events": evs})
}

func parseFlowEventFilter(r *http.Request) (model.FlowEventFilter, error) {
	q := r.URL.Query()
	filter := model.FlowEventFilter{
		BatchID:   q.Get("batch_id"),
		AdapterID: q.Get("adapter_id"),
		GraphName: q.Get("graph"),
		Limit:     100,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return filter, inputError("limit must be a positive integer")
		}
		filter.Limit = n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, inputError("since must be an RFC 3339 timestamp")
		}
		filter.Since = &t
	}
	return filter, nil
}

func deploymentStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrGraphNotFound), errors.Is(err, engine.ErrNotDeployed):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrVersionConflict):
		return http.StatusConflict
	}
	return http.StatusBadRequest
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
