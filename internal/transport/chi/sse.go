package chi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// keepaliveInterval is how often an SSE comment line is sent to detect
// dead connections through proxies.
const keepaliveInterval = 15 * time.Second

// JobEvents handles GET /api/v1/jobs/{jobID}/events. It streams progress as
// server-sent events: the last-known snapshot first, then live updates. The
// stream ends when the job reaches a terminal status or the client leaves.
func (s *Server) JobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if _, err := s.jobs.Status(r.Context(), jobID); err != nil {
		s.handleDomainError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, CodeInternalError, "streaming unsupported")
		return
	}

	events, cancel := s.jobs.Events(jobID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case p, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(p)
			if err != nil {
				s.logger.Error("Marshal progress event failed",
					zap.String("job_id", jobID), zap.Error(err))
				return
			}
			fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
			flusher.Flush()
			if p.Status.Terminal() {
				return
			}
		}
	}
}
