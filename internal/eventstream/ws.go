package eventstream

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/knoguchi/agentic-rag/internal/ragmodel"
)

// WSWriter renders events as individual WebSocket text frames.
type WSWriter struct {
	conn net.Conn
}

// UpgradeWS performs the WebSocket handshake directly against the
// http.ResponseWriter/Request pair, avoiding a dependency on
// net/http's hijack semantics beyond what gobwas/ws already handles.
func UpgradeWS(w http.ResponseWriter, r *http.Request) (*WSWriter, error) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade: %w", err)
	}
	return &WSWriter{conn: conn}, nil
}

// Write sends one event as a text frame.
func (s *WSWriter) Write(ev ragmodel.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := wsutil.WriteServerMessage(s.conn, ws.OpText, body); err != nil {
		return fmt.Errorf("write websocket frame: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (s *WSWriter) Close() error {
	return s.conn.Close()
}

// WatchClose runs until the client sends a close frame or the
// connection errors, then invokes onClose. Callers use this to cancel
// the request context when a WebSocket client disconnects mid-stream.
func (s *WSWriter) WatchClose(onClose func()) {
	go func() {
		defer onClose()
		for {
			_, opCode, err := wsutil.ReadClientData(s.conn)
			if err != nil {
				return
			}
			if opCode == ws.OpClose {
				return
			}
		}
	}()
}
