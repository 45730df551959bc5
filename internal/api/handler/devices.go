package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"heartlink/backend/internal/models"
	"heartlink/backend/internal/pairing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type bindDeviceRequest struct {
	DeviceUID string   `json:"device_uid" binding:"required"`
	Name      string   `json:"name"`
	Sensors   []string `json:"sensors"`
}

type deviceStatusResponse struct {
	DeviceID        string     `json:"device_id"`
	Online          bool       `json:"online"`
	Connected       bool       `json:"connected"`
	LastActive      *time.Time `json:"last_active,omitempty"`
	LastBPM         *int       `json:"last_bpm,omitempty"`
	LastTemperature *float64   `json:"last_temperature,omitempty"`
}

// BindDevice attaches a device uid to the caller. Rebinding your own device updates it.
func (h *Handler) BindDevice(c *gin.Context) {
	var req bindDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	device, err := h.Storage.BindDevice(c.Request.Context(), &models.Device{
		ID:        uuid.NewString(),
		DeviceUID: req.DeviceUID,
		OwnerID:   currentParticipant(c),
		Name:      req.Name,
		Sensors:   req.Sensors,
		CreatedAt: time.Now(),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	h.Hub.CacheOwner(device.ID, device.OwnerID)
	c.JSON(http.StatusCreated, device)
}

func (h *Handler) ListDevices(c *gin.Context) {
	devices, err := h.Storage.ListDevicesByOwner(c.Request.Context(), currentParticipant(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if devices == nil {
		devices = []models.Device{}
	}
	c.JSON(http.StatusOK, devices)
}

// DeviceStatus reports liveness and the last heartbeat of a device. The owner
// and anyone sharing an active session or a relationship with the owner may read it.
func (h *Handler) DeviceStatus(c *gin.Context) {
	ctx := c.Request.Context()
	device, err := h.Storage.GetDeviceByID(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.canSee(ctx, currentParticipant(c), device.OwnerID); err != nil {
		respondError(c, err)
		return
	}

	out := deviceStatusResponse{
		DeviceID:   device.ID,
		Connected:  h.Hub.IsConnected(device.ID),
		LastActive: device.LastActive,
	}
	if h.Presence != nil {
		online, err := h.Presence.IsOnline(ctx, device.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		out.Online = online
	}
	last, err := h.Storage.LastHeartbeat(ctx, device.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	if last != nil {
		out.LastBPM = &last.BPM
		out.LastTemperature = &last.Temperature
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) canSee(ctx context.Context, viewer, owner string) error {
	if viewer == owner {
		return nil
	}
	rel, err := h.Storage.FindRelationship(ctx, viewer, owner)
	if err != nil {
		return err
	}
	if rel != nil {
		return nil
	}
	sess, err := h.Storage.FindActiveSession(ctx, viewer, owner)
	if err != nil {
		return err
	}
	if sess != nil {
		return nil
	}
	return fmt.Errorf("%w: device belongs to %s", pairing.ErrUnauthorized, owner)
}
