package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"sentinal-realtime/internal/domain"
	"sentinal-realtime/internal/transport/httpdto"
	sentinal_errors "sentinal-realtime/pkg/errors"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// IdentityBinder resolves the verified principal of a handshake request.
type IdentityBinder interface {
	Bind(r *http.Request) (domain.Principal, error)
}

// WebSocketHandler handles WebSocket connections
type WebSocketHandler struct {
	hub    *Hub
	binder IdentityBinder
	logger *WebSocketLogger
}

func NewWebSocketHandler(hub *Hub, binder IdentityBinder, logger *WebSocketLogger) *WebSocketHandler {
	if logger == nil {
		logger = NewWebSocketLogger(nil)
	}
	return &WebSocketHandler{
		hub:    hub,
		binder: binder,
		logger: logger,
	}
}

// Handle binds the principal, then upgrades HTTP to WebSocket. An
// unauthenticated request is refused before the upgrade.
func (h *WebSocketHandler) Handle(c *gin.Context) {
	principal, err := h.binder.Bind(c.Request)
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse(sentinal_errors.ErrUnauthorized))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", principal.ID, "", err)
		return
	}

	client := NewClient(h.hub, conn, principal, uuid.NewString(), h.logger)
	if err := h.hub.register(client); err != nil {
		h.logger.Error("client registration failed", principal.ID, client.clientID, err)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "unavailable"))
		conn.Close()
	}
}
