// Package eventstream renders pipeline events onto the two transports
// the intake API exposes: Server-Sent Events and WebSocket. Both
// encoders share the same JSON event shape; only the framing differs.
package eventstream

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/knoguchi/agentic-rag/internal/ragmodel"
)

// SSEWriter renders events as `event: <type>\ndata: <json>\n\n` frames
// and flushes after every write so the client sees them immediately.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter prepares the response for event-stream output. It
// returns an error if the underlying ResponseWriter can't flush
// incrementally.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSEWriter{w: w, flusher: flusher}, nil
}

// Write encodes and flushes one event.
func (s *SSEWriter) Write(ev ragmodel.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.EventType, body); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	s.flusher.Flush()
	return nil
}
