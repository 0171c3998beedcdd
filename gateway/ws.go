package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/veyra/stitchd/errors"
)

// WebSocket timeout constants following Gorilla best practices
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = maxLineBytes
)

// pingPeriod must be shorter than pongWait. A var so tests can tighten it.
var pingPeriod = 54 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The gateway is token-gated per request, not per origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS speaks the streaming envelope over WebSocket: one request per
// text message, one response per text message, in order. It shares the
// dispatcher with the TCP transport, so auth and routing are identical.
func (s *AdminServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.dispatcher.log.Warnw("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Gorilla allows at most one concurrent writer per connection, and the
	// keepalive goroutine and the response loop both write. Every write
	// (pings included) takes writeMu.
	var writeMu sync.Mutex

	// Keepalive pings; the read loop below is the session's lifetime
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				writeMu.Lock()
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.dispatcher.log.Warnw("WebSocket read error", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		// Same contract as the TCP transport: a malformed message fails
		// that request only
		var resp Envelope
		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			resp = Fail("", errors.NewValidation("invalid json: %v", err))
		} else {
			resp = s.dispatcher.Handle(ctx, req)
		}

		writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		err = conn.WriteJSON(resp)
		writeMu.Unlock()
		if err != nil {
			return
		}
	}
}
