package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/flowd/internal/model"
)

// HTTPClient implements FlowClient over the flowd HTTP/JSON API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ FlowClient = (*HTTPClient)(nil)

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Graph catalogue ---

// RegisterGraph uploads a JSON or YAML graph document.
func (c *HTTPClient) RegisterGraph(ctx context.Context, document []byte) (*model.Graph, error) {
	var g model.Graph
	if err := c.do(ctx, http.MethodPost, "/v1/graphs", "application/yaml", bytes.NewReader(document), &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (c *HTTPClient) ListGraphs(ctx context.Context) ([]*model.GraphSummary, error) {
	var resp struct {
		Graphs []*model.GraphSummary `json:"graphs"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/graphs", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Graphs, nil
}

func (c *HTTPClient) GetGraph(ctx context.Context, name, version string) (*model.Graph, error) {
	var g model.Graph
	if err := c.doJSON(ctx, http.MethodGet, "/v1/graphs/"+url.PathEscape(name)+"/"+url.PathEscape(version), nil, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// --- Deployments ---

func (c *HTTPClient) Deploy(ctx context.Context, dep *model.GraphDeployment) (*DeployResult, error) {
	var res DeployResult
	if err := c.doJSON(ctx, http.MethodPost, "/v1/deployments", dep, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Teardown stops a deployed graph. An empty version tears down whatever
// version is live.
func (c *HTTPClient) Teardown(ctx context.Context, graph, version string) error {
	q := url.Values{"graph": {graph}}
	if version != "" {
		q.Set("version", version)
	}
	return c.doJSON(ctx, http.MethodDelete, "/v1/deployments?"+q.Encode(), nil, nil)
}

func (c *HTTPClient) ListDeployments(ctx context.Context) ([]*Deployment, error) {
	var resp struct {
		Deployments []*Deployment `json:"deployments"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/deployments", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Deployments, nil
}

func (c *HTTPClient) GetDeployment(ctx context.Context, graph string) (*Deployment, error) {
	var d Deployment
	if err := c.doJSON(ctx, http.MethodGet, "/v1/deployments/"+url.PathEscape(graph), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// --- Adapter endpoints ---

// adapterPath mirrors the server's lower-cased adapter route layout.
func adapterPath(graph, adapter, suffix string) string {
	return "/" + url.PathEscape(strings.ToLower(graph)) + "/adapter/" + url.PathEscape(strings.ToLower(adapter)) + "/" + suffix
}

func (c *HTTPClient) Push(ctx context.Context, graph, adapter string, payload []byte) (*model.FlowEvent, error) {
	var ev model.FlowEvent
	if err := c.do(ctx, http.MethodPost, adapterPath(graph, adapter, "push"), "application/json", bytes.NewReader(payload), &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (c *HTTPClient) BackPressure(ctx context.Context, graph, adapter string) (*model.BackPressure, error) {
	var bp model.BackPressure
	if err := c.doJSON(ctx, http.MethodGet, adapterPath(graph, adapter, "back-pressure"), nil, &bp); err != nil {
		return nil, err
	}
	return &bp, nil
}

func (c *HTTPClient) Peek(ctx context.Context, graph, adapter string) (*model.QueueRead, error) {
	var read model.QueueRead
	if err := c.doJSON(ctx, http.MethodGet, adapterPath(graph, adapter, "queue/peek"), nil, &read); err != nil {
		return nil, err
	}
	return &read, nil
}

func (c *HTTPClient) Pop(ctx context.Context, graph, adapter string) (*model.QueueRead, error) {
	var read model.QueueRead
	if err := c.doJSON(ctx, http.MethodGet, adapterPath(graph, adapter, "queue/pop"), nil, &read); err != nil {
		return nil, err
	}
	return &read, nil
}

// --- Flow events ---

func (c *HTTPClient) GetFlowEvent(ctx context.Context, id string) (*model.FlowEvent, error) {
	var ev model.FlowEvent
	if err := c.doJSON(ctx, http.MethodGet, "/v1/flow-events/"+url.PathEscape(id), nil, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (c *HTTPClient) ListFlowEvents(ctx context.Context, req *ListFlowEventsRequest) ([]*model.FlowEvent, error) {
	q := url.Values{}
	if req.BatchID != "" {
		q.Set("batch_id", req.BatchID)
	}
	if req.AdapterID != "" {
		q.Set("adapter_id", req.AdapterID)
	}
	if req.Graph != "" {
		q.Set("graph", req.Graph)
	}
	if req.Since != nil {
		q.Set("since", req.Since.UTC().Format(time.RFC3339))
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}

	path := "/v1/flow-events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp struct {
		FlowEvents []*model.FlowEvent `json:"flow_events"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.FlowEvents, nil
}

// --- Event stream ---

// Stream reads the server-sent event stream and calls fn for each event
// until ctx is done, the server closes the stream, or fn returns an error.
func (c *HTTPClient) Stream(ctx context.Context, topics []string, fn func(StreamEvent) error) error {
	path := "/v1/events/stream"
	if len(topics) > 0 {
		path += "?" + url.Values{"topics": {strings.Join(topics, ",")}}.Encode()
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return apiError(resp.StatusCode, resp.Body)
	}

	var ev StreamEvent
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if ev.Topic != "" || len(ev.Data) > 0 {
				if err := fn(ev); err != nil {
					return err
				}
			}
			ev = StreamEvent{}
		case strings.HasPrefix(line, ":"):
			// keepalive
		case strings.HasPrefix(line, "id:"):
			ev.ID = strings.TrimPrefix(line, "id:")
		case strings.HasPrefix(line, "event:"):
			ev.Topic = strings.TrimPrefix(line, "event:")
		case strings.HasPrefix(line, "data:"):
			ev.Data = append(ev.Data, strings.TrimPrefix(line, "data:")...)
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("reading event stream: %w", err)
	}
	return nil
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// --- internal helpers ---

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func apiError(code int, body io.Reader) error {
	data, _ := io.ReadAll(body)
	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
		return &APIError{StatusCode: code, Message: errResp.Error}
	}
	return &APIError{StatusCode: code, Message: strings.TrimSpace(string(data))}
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	if body == nil {
		return c.do(ctx, method, path, "", nil, result)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request body: %w", err)
	}
	return c.do(ctx, method, path, "application/json", bytes.NewReader(data), result)
}

func (c *HTTPClient) do(ctx context.Context, method, path, contentType string, body io.Reader, result any) error {
	req, err := c.newRequest(ctx, method, path, contentType, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if resp.StatusCode >= 400 {
		return apiError(resp.StatusCode, resp.Body)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
