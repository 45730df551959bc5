package handler

import (
	"errors"
	"log"
	"net/http"
	"time"

	"heartlink/backend/internal/chathub"
	"heartlink/backend/internal/pairing"
	"heartlink/backend/internal/storage"

	"github.com/gin-gonic/gin"
)

// Handler holds everything the HTTP and websocket endpoints need.
type Handler struct {
	Pairing    *pairing.Service
	Storage    storage.Storage
	Presence   storage.Presence
	Hub        *chathub.ManagerService
	Dispatcher *chathub.Dispatcher

	JWTSecret  []byte
	SendBuffer int
}

func NewHandler(p *pairing.Service, s storage.Storage, presence storage.Presence, hub *chathub.ManagerService, d *chathub.Dispatcher, jwtSecret string, sendBuffer int) *Handler {
	return &Handler{
		Pairing:    p,
		Storage:    s,
		Presence:   presence,
		Hub:        hub,
		Dispatcher: d,
		JWTSecret:  []byte(jwtSecret),
		SendBuffer: sendBuffer,
	}
}

// RegisterRoutes mounts every route on r.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().UTC()})
	})

	api := r.Group("/api", h.Authenticate())
	{
		api.POST("/pairing/match", h.CreatePairing)
		api.POST("/pairing/queue/join", h.JoinQueue)
		api.POST("/pairing/queue/leave", h.LeaveQueue)

		api.GET("/sessions", h.ListSessions)
		api.GET("/sessions/with/:participant_id", h.FindSession)
		api.POST("/sessions/:id/check-expiry", h.CheckExpiry)

		api.GET("/invitations", h.ListInvitations)
		api.POST("/invitations/:id/respond", h.RespondInvitation)

		api.GET("/relationships", h.ListRelationships)

		api.POST("/devices/bind", h.BindDevice)
		api.GET("/devices", h.ListDevices)
		api.GET("/devices/:id/status", h.DeviceStatus)
	}

	r.GET("/ws/:endpoint_id", h.Authenticate(), h.ServeWebSocket)
}

// respondError maps domain error kinds onto HTTP status codes.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pairing.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pairing.ErrConflict), errors.Is(err, storage.ErrDeviceBound):
		status = http.StatusConflict
	case errors.Is(err, pairing.ErrInvalidState):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, pairing.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, pairing.ErrInvalidInput):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		log.Printf("ERROR: %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
