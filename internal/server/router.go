package server

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// DynamicRouter is the route table adapters register on while their graph
// is deployed. Paths are matched case-insensitively.
type DynamicRouter struct {
	mu     sync.RWMutex
	routes map[string]map[string]http.Handler // path -> method -> handler
}

func NewDynamicRouter() *DynamicRouter {
	return &DynamicRouter{routes: make(map[string]map[string]http.Handler)}
}

// Register adds a route. Registering a method and path twice is an error.
func (r *DynamicRouter) Register(method, path string, h http.Handler) error {
	path = strings.ToLower(path)
	method = strings.ToUpper(method)
	r.mu.Lock()
	defer r.mu.Unlock()
	methods, ok := r.routes[path]
	if !ok {
		methods = make(map[string]http.Handler)
		r.routes[path] = methods
	}
	if _, dup := methods[method]; dup {
		return fmt.Errorf("route %s %s is already registered", method, path)
	}
	methods[method] = h
	return nil
}

// Deregister removes a route. Removing an unknown route is a no-op.
func (r *DynamicRouter) Deregister(method, path string) {
	path = strings.ToLower(path)
	r.mu.Lock()
	defer r.mu.Unlock()
	methods, ok := r.routes[path]
	if !ok {
		return
	}
	delete(methods, strings.ToUpper(method))
	if len(methods) == 0 {
		delete(r.routes, path)
	}
}

// Routes lists registered routes as "METHOD path", sorted.
func (r *DynamicRouter) Routes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for path, methods := range r.routes {
		for method := range methods {
			out = append(out, method+" "+path)
		}
	}
	sort.Strings(out)
	return out
}

func (r *DynamicRouter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	path := strings.ToLower(strings.TrimSuffix(req.URL.Path, "/"))
	r.mu.RLock()
	methods, ok := r.routes[path]
	var h http.Handler
	var allowed []string
	if ok {
		h = methods[req.Method]
		for m := range methods {
			allowed = append(allowed, m)
		}
	}
	r.mu.RUnlock()

	switch {
	case !ok:
		writeError(w, http.StatusNotFound, "no route for "+req.URL.Path)
	case h == nil:
		sort.Strings(allowed)
		w.Header().Set("Allow", strings.Join(allowed, ", "))
		writeError(w, http.StatusMethodNotAllowed, "method "+req.Method+" not allowed")
	default:
		h.ServeHTTP(w, req)
	}
}
