package handler

import (
	"fmt"
	"net/http"

	"heartlink/backend/internal/chathub"
	"heartlink/backend/internal/pairing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWebSocket opens the live telemetry channel for one of the caller's devices.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	me := currentParticipant(c)
	endpointID := c.Param("endpoint_id")

	device, err := h.Storage.GetDeviceByID(c.Request.Context(), endpointID)
	if err != nil {
		respondError(c, err)
		return
	}
	if device.OwnerID != me {
		respondError(c, fmt.Errorf("%w: endpoint %s is not yours", pairing.ErrUnauthorized, endpointID))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		return
	}

	client := chathub.NewWebSocketClient(conn, h.Hub, h.Dispatcher, device.ID, me, h.SendBuffer)
	if !h.Hub.Connect(client) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}
	client.Run()
}
