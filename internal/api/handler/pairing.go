package handler

import (
	"errors"
	"io"
	"net/http"

	"heartlink/backend/internal/models"
	"heartlink/backend/internal/pairing"

	"github.com/gin-gonic/gin"
)

type createPairingRequest struct {
	TargetParticipant string `json:"target_participant"`
}

type matchResponse struct {
	Matched bool            `json:"matched"`
	Pairing *models.Pairing `json:"pairing,omitempty"`
	Session *models.Session `json:"session,omitempty"`
}

// CreatePairing pairs the caller with target_participant, or with a random
// eligible participant when the target is omitted.
func (h *Handler) CreatePairing(c *gin.Context) {
	var req createPairingRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	me := currentParticipant(c)
	var (
		res *pairing.MatchResult
		err error
	)
	if req.TargetParticipant == "" {
		res, err = h.Pairing.PairRandom(c.Request.Context(), me)
	} else {
		res, err = h.Pairing.PairWith(c.Request.Context(), me, req.TargetParticipant)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, matchResponse{Matched: true, Pairing: res.Pairing, Session: res.Session})
}

func (h *Handler) JoinQueue(c *gin.Context) {
	res, err := h.Pairing.Join(c.Request.Context(), currentParticipant(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, matchResponse{Matched: res.Matched, Pairing: res.Pairing, Session: res.Session})
}

func (h *Handler) LeaveQueue(c *gin.Context) {
	if err := h.Pairing.Leave(c.Request.Context(), currentParticipant(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "left"})
}
