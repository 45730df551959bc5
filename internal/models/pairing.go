package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PairingStatus string

const (
	PairingPending  PairingStatus = "pending"
	PairingActive   PairingStatus = "active"
	PairingRejected PairingStatus = "rejected"
)

type SessionKind string

const (
	SessionTemporary SessionKind = "temporary"
	SessionPermanent SessionKind = "permanent"
)

type InvitationStatus string

const (
	InvitationPending      InvitationStatus = "pending"
	InvitationBothAccepted InvitationStatus = "both_accepted"
	InvitationRejected     InvitationStatus = "rejected"
)

type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// Valid reports whether d is one of the two accepted decisions.
func (d Decision) Valid() bool {
	return d == DecisionAccept || d == DecisionReject
}

// PairKey is the canonical key of an unordered participant pair.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// QueueEntry marks a participant waiting for a random partner.
type QueueEntry struct {
	UserID     string    `gorm:"primaryKey" json:"participant_id"`
	EnqueuedAt time.Time `gorm:"index" json:"enqueued_at"`
}

// Pairing is a committed match between two participants. Rows are never deleted.
type Pairing struct {
	ID           string        `gorm:"primaryKey" json:"id"`
	ParticipantA string        `gorm:"index;not null" json:"participant_a"`
	ParticipantB string        `gorm:"index;not null" json:"participant_b"`
	PairKey      string        `gorm:"index;not null" json:"-"`
	Status       PairingStatus `gorm:"type:text;not null" json:"status"`
	MatchedAt    time.Time     `json:"matched_at"`
}

func (p *Pairing) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return
}

// Has reports whether participant is one side of the pairing.
func (p *Pairing) Has(participant string) bool {
	return p.ParticipantA == participant || p.ParticipantB == participant
}

// Session is the chat room attached to a pairing. Temporary sessions carry a deadline.
type Session struct {
	ID           string      `gorm:"primaryKey" json:"id"`
	PairingID    string      `gorm:"index" json:"pairing_id,omitempty"`
	ParticipantA string      `gorm:"index;not null" json:"participant_a"`
	ParticipantB string      `gorm:"index;not null" json:"participant_b"`
	Kind         SessionKind `gorm:"type:text;not null" json:"kind"`
	IsActive     bool        `gorm:"index" json:"active"`
	ExpiresAt    *time.Time  `json:"expires_at"`
	CreatedAt    time.Time   `json:"created_at"`
}

func (s *Session) BeforeCreate(tx *gorm.DB) (err error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return
}

func (s *Session) Has(participant string) bool {
	return s.ParticipantA == participant || s.ParticipantB == participant
}

// Peer returns the other participant of the session.
func (s *Session) Peer(participant string) string {
	if s.ParticipantA == participant {
		return s.ParticipantB
	}
	return s.ParticipantA
}

// Invitation is the two-party consensus on turning a session into a relationship.
type Invitation struct {
	ID           string           `gorm:"primaryKey" json:"id"`
	SessionID    string           `gorm:"uniqueIndex;not null" json:"session_id"`
	ParticipantA string           `gorm:"index;not null" json:"participant_a"`
	ParticipantB string           `gorm:"index;not null" json:"participant_b"`
	ResponseA    *Decision        `gorm:"type:text" json:"response_a"`
	ResponseB    *Decision        `gorm:"type:text" json:"response_b"`
	Status       InvitationStatus `gorm:"type:text;not null" json:"status"`
	ExpiresAt    time.Time        `json:"expires_at"`
	CreatedAt    time.Time        `json:"created_at"`
}

func (i *Invitation) BeforeCreate(tx *gorm.DB) (err error) {
	if i.ID == "" {
		i.ID = uuid.New().String()
	}
	return
}

func (i *Invitation) Has(participant string) bool {
	return i.ParticipantA == participant || i.ParticipantB == participant
}

// Relationship is a durable friendship. At most one row exists per PairKey.
type Relationship struct {
	ID           string    `gorm:"primaryKey" json:"id"`
	ParticipantA string    `gorm:"index;not null" json:"participant_a"`
	ParticipantB string    `gorm:"index;not null" json:"participant_b"`
	PairKey      string    `gorm:"uniqueIndex;not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

func (r *Relationship) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return
}

// Peer returns the other participant of the relationship.
func (r *Relationship) Peer(participant string) string {
	if r.ParticipantA == participant {
		return r.ParticipantB
	}
	return r.ParticipantA
}
