package handler

import (
	"net/http"

	"heartlink/backend/internal/models"

	"github.com/gin-gonic/gin"
)

type expiryResponse struct {
	Expired           bool   `json:"expired"`
	InvitationCreated bool   `json:"invitation_created"`
	InvitationID      string `json:"invitation_id,omitempty"`
}

func (h *Handler) ListSessions(c *gin.Context) {
	sessions, err := h.Pairing.ListSessions(c.Request.Context(), currentParticipant(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if sessions == nil {
		sessions = []models.Session{}
	}
	c.JSON(http.StatusOK, sessions)
}

// FindSession returns the active session between the caller and :participant_id.
func (h *Handler) FindSession(c *gin.Context) {
	sess, err := h.Pairing.FindSession(c.Request.Context(), currentParticipant(c), c.Param("participant_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// CheckExpiry evaluates the session deadline on behalf of the caller.
func (h *Handler) CheckExpiry(c *gin.Context) {
	res, err := h.Pairing.CheckExpiry(c.Request.Context(), currentParticipant(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	out := expiryResponse{Expired: res.Expired, InvitationCreated: res.InvitationCreated}
	if res.Invitation != nil {
		out.InvitationID = res.Invitation.ID
	}
	c.JSON(http.StatusOK, out)
}
