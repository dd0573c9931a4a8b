// Package pathstoretest provides an in-memory pathstore server for tests.
package pathstoretest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Server is an in-memory pathstore reachable over HTTP.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	nodes    map[string]json.RawMessage
	links    []map[string]any
	failPuts int // status returned for PUT /kv when non-zero
}

// NewServer starts a server. Callers must Close it.
func NewServer() *Server {
	s := &Server{nodes: make(map[string]json.RawMessage)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// FailPuts makes every node write answer with status (0 restores success).
func (s *Server) FailPuts(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPuts = status
}

// Keys returns the stored keys in order.
func (s *Server) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.nodes))
	for k := range s.nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Links returns the number of links written.
func (s *Server) Links() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.URL.Path == "/links" && r.Method == http.MethodPut {
		var link map[string]any
		if err := json.NewDecoder(r.Body).Decode(&link); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.links = append(s.links, link)
		w.WriteHeader(http.StatusCreated)
		return
	}

	key, ok := strings.CutPrefix(r.URL.Path, "/kv/")
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodPut:
		if s.failPuts != 0 {
			http.Error(w, "write failed", s.failPuts)
			return
		}
		var req struct {
			Value json.RawMessage `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.nodes[key] = req.Value
		w.WriteHeader(http.StatusOK)

	case http.MethodGet:
		if prefix, ok := strings.CutSuffix(key, "/*"); ok {
			s.list(w, r, prefix)
			return
		}
		v, ok := s.nodes[key]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, map[string]any{"key_path": key, "value": v})

	case http.MethodDelete:
		_, ok := s.nodes[key]
		delete(s.nodes, key)
		if r.URL.Query().Get("children") == "true" {
			for k := range s.nodes {
				if strings.HasPrefix(k, key+"/") {
					delete(s.nodes, k)
					ok = true
				}
			}
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, prefix string) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	keys := make([]string, 0)
	for k := range s.nodes {
		if strings.HasPrefix(k, prefix+"/") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	nodes := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		nodes = append(nodes, map[string]any{"key_path": k, "value": s.nodes[k]})
	}
	writeJSON(w, map[string]any{"nodes": nodes})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
