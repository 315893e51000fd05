package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/MimeLyc/srt-translator/internal/jobs"
)

// handleEvents streams queue events. A reconnecting client sends
// Last-Event-ID (or ?since=) and receives the buffered events it missed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, http.StatusNotImplemented, "event bus is not configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	lastSeq := parseSeq(r.Header.Get("Last-Event-ID"))
	if since := r.URL.Query().Get("since"); since != "" {
		lastSeq = parseSeq(since)
	}

	events, unsubscribe := s.bus.Subscribe(256)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	send := func(event jobs.Event) bool {
		if event.Seq <= lastSeq {
			return true
		}
		payload, err := json.Marshal(event)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.Seq, event.Type, payload); err != nil {
			return false
		}
		lastSeq = event.Seq
		flusher.Flush()
		return true
	}

	for _, event := range s.bus.Since(lastSeq) {
		if !send(event) {
			return
		}
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if !send(event) {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func parseSeq(raw string) int64 {
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seq < 0 {
		return 0
	}
	return seq
}
