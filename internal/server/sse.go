package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/yabot-dev/yabot/internal/event"
	"github.com/yabot-dev/yabot/pkg/types"
)

// SSEHeartbeatInterval is the interval for SSE heartbeats.
const SSEHeartbeatInterval = 30 * time.Second

// sseWriter wraps http.ResponseWriter for SSE.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	return &sseWriter{w: w, flusher: flusher, rc: http.NewResponseController(w)}, nil
}

// writeEvent writes one SSE event and flushes it.
func (s *sseWriter) writeEvent(eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, jsonData); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil {
		s.flusher.Flush()
	}
	return nil
}

func (s *sseWriter) writeHeartbeat() {
	fmt.Fprintf(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}

// events handles GET /events: every conversation event published on the
// bus, optionally limited to one conversation with ?conv_id=.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "event stream disabled")
		return
	}
	var filter event.Filter
	if convID := r.URL.Query().Get("conv_id"); convID != "" {
		filter = event.ForConversation(convID)
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, types.CodeInternal, err.Error())
		return
	}

	sub, err := s.bus.Subscribe(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	if err := sse.writeEvent("connected", map[string]any{}); err != nil {
		return
	}

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := sse.writeEvent(string(ev.Type), ev); err != nil {
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}
