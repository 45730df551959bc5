package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	participantKey = "participant_id"
	tokenIssuer    = "heartlink-backend"
)

// IssueToken signs an HS256 token whose subject is the participant id.
// Identity is normally issued elsewhere; the admin CLI uses this for development.
func IssueToken(secret []byte, participantID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   participantID,
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken validates tokenString and returns the participant id it carries.
func ParseToken(secret []byte, tokenString string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	// Browsers cannot set headers on websocket upgrades.
	return c.Query("token")
}

// Authenticate resolves the current participant from the bearer token and
// makes sure the participant row exists.
func (h *Handler) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization token missing"})
			return
		}
		participantID, err := ParseToken(h.JWTSecret, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token or expired"})
			return
		}
		if _, err := h.Storage.SaveUserIfNotExists(c.Request.Context(), participantID); err != nil {
			respondError(c, fmt.Errorf("register participant: %w", err))
			c.Abort()
			return
		}
		c.Set(participantKey, participantID)
		c.Next()
	}
}

func currentParticipant(c *gin.Context) string {
	return c.GetString(participantKey)
}
