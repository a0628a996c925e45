package handlers

import "net/http"

// handleHealth reports liveness plus the current queue depth, which is the
// one number an operator wants when the pipeline feels slow.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"queue_depth": s.dispatcher.QueueDepth(),
	})
}
