package pairing

import (
	"context"

	"heartlink/backend/internal/models"
)

type EventKind string

const (
	EventPairingCreated      EventKind = "pairing_created"
	EventInvitationCreated   EventKind = "invitation_created"
	EventRelationshipCreated EventKind = "relationship_created"
	EventPairingRejected     EventKind = "pairing_rejected"
)

// Event describes a committed lifecycle transition. Fields irrelevant to the kind are nil.
type Event struct {
	Kind         EventKind
	Pairing      *models.Pairing
	Session      *models.Session
	Invitation   *models.Invitation
	Relationship *models.Relationship
}

// Participants returns the two parties the event is about.
func (e Event) Participants() (string, string) {
	switch {
	case e.Relationship != nil:
		return e.Relationship.ParticipantA, e.Relationship.ParticipantB
	case e.Invitation != nil:
		return e.Invitation.ParticipantA, e.Invitation.ParticipantB
	case e.Pairing != nil:
		return e.Pairing.ParticipantA, e.Pairing.ParticipantB
	case e.Session != nil:
		return e.Session.ParticipantA, e.Session.ParticipantB
	}
	return "", ""
}

// Listener receives events after the atomic unit that produced them has committed.
// Implementations must return quickly.
type Listener interface {
	HandlePairingEvent(ctx context.Context, ev Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, ev Event)

func (f ListenerFunc) HandlePairingEvent(ctx context.Context, ev Event) { f(ctx, ev) }
