package transport

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sbp-dev/blackboard/internal/sbplog"
)

// handleSSE opens an event stream for the caller's session. Requires
// an Accept header naming text/event-stream; otherwise responds 406.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		w.WriteHeader(http.StatusNotAcceptable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sessionID, _ := s.sessionIDFor(r)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Sbp-Session-Id", sessionID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.hub.Connect(sessionID)
	defer s.hub.Disconnect(sub)

	if lastEventID := parseLastEventID(r); lastEventID > 0 {
		for _, rec := range s.hub.Replay(lastEventID) {
			if !writeSSEEvent(w, rec) {
				return
			}
		}
		flusher.Flush()
	}

	keepalive := time.NewTicker(s.cfg.KeepaliveEvery)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.done:
			return
		case rec := <-sub.events:
			if !writeSSEEvent(w, rec) {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				sbplog.Debugf("transport", "keepalive write failed for session=%s: %v", sessionID, err)
				return
			}
			flusher.Flush()
		}
	}
}

// parseLastEventID reads the Last-Event-ID header, used on SSE
// reconnect to request replay of missed events.
func parseLastEventID(r *http.Request) int64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// writeSSEEvent writes one framed event, or the bye comment for a
// pre-formatted shutdown frame (ID < 0). Returns false on write error.
func writeSSEEvent(w http.ResponseWriter, rec EventRecord) bool {
	if rec.ID < 0 {
		_, err := w.Write(rec.Data)
		return err == nil
	}
	_, err := fmt.Fprintf(w, "event: message\nid: %d\ndata: %s\n\n", rec.ID, rec.Data)
	return err == nil
}
