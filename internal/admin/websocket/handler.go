package websocket

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/maumercado/accel-dispatch/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades GET /ws requests into dashboard connections.
type Handler struct {
	hub *Hub
}

// NewHandler constructs a Handler serving hub.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// ServeWS handles the WebSocket upgrade.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("admin: failed to upgrade websocket connection")
		return
	}

	client := NewClient(h.hub, conn)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()

	logger.Info().Str("client_id", client.ID).Str("remote_addr", r.RemoteAddr).Msg("admin: websocket client connected")
}
