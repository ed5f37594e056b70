package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// handleSessionStream sends the full session view on every change and
// again on each heartbeat tick.
func (s *Server) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	changes, cancel, err := s.manager.Subscribe(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer cancel()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var lastVersion uint64
	send := func(force bool) bool {
		view, err := s.manager.Session(id)
		if err != nil {
			// session deleted
			_, _ = fmt.Fprint(w, "event: deleted\ndata: {}\n\n")
			flusher.Flush()
			return false
		}
		if !force && view.State.Version == lastVersion {
			return true
		}
		lastVersion = view.State.Version

		payload, err := json.Marshal(view)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "event: session\ndata: %s\n\n", payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(true) {
		return
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case _, open := <-changes:
			if !open {
				return
			}
			if !send(false) {
				return
			}
		case <-ticker.C:
			if !send(true) {
				return
			}
		}
	}
}
