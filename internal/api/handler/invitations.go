package handler

import (
	"net/http"

	"heartlink/backend/internal/models"

	"github.com/gin-gonic/gin"
)

type respondRequest struct {
	Decision models.Decision `json:"decision" binding:"required"`
}

type respondResponse struct {
	Status             models.InvitationStatus `json:"status"`
	BecameRelationship bool                    `json:"became_relationship"`
	RelationshipID     string                  `json:"relationship_id,omitempty"`
}

func (h *Handler) ListInvitations(c *gin.Context) {
	invitations, err := h.Pairing.ListInvitations(c.Request.Context(), currentParticipant(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if invitations == nil {
		invitations = []models.Invitation{}
	}
	c.JSON(http.StatusOK, invitations)
}

func (h *Handler) RespondInvitation(c *gin.Context) {
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.Pairing.Respond(c.Request.Context(), c.Param("id"), currentParticipant(c), req.Decision)
	if err != nil {
		respondError(c, err)
		return
	}
	out := respondResponse{Status: res.Invitation.Status, BecameRelationship: res.BecameRelationship}
	if res.Relationship != nil {
		out.RelationshipID = res.Relationship.ID
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) ListRelationships(c *gin.Context) {
	rels, err := h.Pairing.ListRelationships(c.Request.Context(), currentParticipant(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if rels == nil {
		rels = []models.Relationship{}
	}
	c.JSON(http.StatusOK, rels)
}
