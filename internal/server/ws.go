package server

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsChannel adapts a server-side websocket connection to the client channel
// contract. Writes are serialized: the relay pump and the control-frame
// reply path share the connection.
type wsChannel struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newWSChannel(conn *websocket.Conn) *wsChannel {
	return &wsChannel{conn: conn}
}

// Send writes one text frame to the client.
func (c *wsChannel) Send(text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// Close shuts the client connection down. Safe to call multiple times.
func (c *wsChannel) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	return nil
}

// upgrader builds the websocket upgrader honoring the configured origin.
// The browser extension connects with a chrome-extension:// origin, so the
// default configuration allows any origin.
func (h *HTTPServer) upgrader() websocket.Upgrader {
	allowed := h.config.Server.AllowedOrigin
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowed == "" || allowed == "*" {
				return true
			}
			return r.Header.Get("Origin") == allowed
		},
	}
}

// handleClientWS implements GET /ws/client/{id}: the duplex client channel
// for one session.
func (h *HTTPServer) handleClientWS(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/ws/client/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}

	if _, err := h.store.Get(id); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Client websocket upgrade failed",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
		return
	}

	ch := newWSChannel(conn)
	if err := h.coordinator.AttachClient(id, ch); err != nil {
		// Session deleted between the existence check and the upgrade.
		_ = ch.Close()
		return
	}

	h.logger.Info("Client channel connected", slog.String("session_id", id))

	defer func() {
		h.coordinator.DetachClient(id, ch)
		_ = ch.Close()
		h.logger.Info("Client channel disconnected", slog.String("session_id", id))
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("Client channel read ended",
					slog.String("session_id", id),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		h.coordinator.HandleClientFrame(id, data, ch)
	}
}

// handleScrapeWS implements GET /ws/scrape: the fire-and-forget scrape
// ingress. It is not bound to a session; updates route to the most recently
// connected upstream.
func (h *HTTPServer) handleScrapeWS(w http.ResponseWriter, r *http.Request) {
	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Scrape websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	h.logger.Info("Scrape ingress connected")

	defer func() {
		_ = conn.Close()
		h.logger.Info("Scrape ingress disconnected")
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("Scrape ingress read ended", slog.String("error", err.Error()))
			}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		h.coordinator.HandleScrapeFrame(data)
	}
}
