package api

import (
	"encoding/json"
	"net/http"
)

func (s *Server) handleScorerStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		jsonError(w, "scorer stats unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"kind":        s.cfg.Scorer.Kind,
		"properties":  s.orchestrator.Scorer().Properties(),
		"queue_depth": s.orchestrator.QueueDepth(),
		"stats":       s.stats.Snapshot(),
	})
}
