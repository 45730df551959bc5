package pairing

import (
	"context"
	"errors"
	"fmt"
	"log"

	"heartlink/backend/internal/models"
	"heartlink/backend/internal/storage"
)

// RespondResult is the outcome of Respond.
type RespondResult struct {
	Invitation         *models.Invitation
	BecameRelationship bool
	Relationship       *models.Relationship
}

// Respond records participant's decision on an invitation and evaluates it once
// both slots are filled. A participant may overwrite their own answer while the
// invitation is still pending, including switching between accept and reject.
func (s *Service) Respond(ctx context.Context, invitationID, participant string, decision models.Decision) (*RespondResult, error) {
	if !decision.Valid() {
		return nil, fmt.Errorf("%w: decision must be %q or %q", ErrInvalidInput, models.DecisionAccept, models.DecisionReject)
	}

	now := s.Now()
	var (
		result  RespondResult
		events  []Event
		expired bool
	)
	err := s.Storage.Atomic(ctx, func(repo storage.Repository) error {
		inv, err := repo.GetInvitationByID(ctx, invitationID)
		if err != nil {
			return lookupErr(err, "invitation", invitationID)
		}
		if !inv.Has(participant) {
			return fmt.Errorf("%w: %s is not invited to %s", ErrUnauthorized, participant, invitationID)
		}
		if inv.Status != models.InvitationPending {
			return fmt.Errorf("%w: invitation %s is %s", ErrInvalidState, invitationID, inv.Status)
		}
		if now.After(inv.ExpiresAt) {
			// Commit the pairing closure; the caller still gets InvalidState.
			expired = true
			ev, err := s.closePairing(ctx, repo, inv)
			if err != nil {
				return err
			}
			if ev != nil {
				events = append(events, *ev)
			}
			return nil
		}

		d := decision
		if participant == inv.ParticipantA {
			inv.ResponseA = &d
		} else {
			inv.ResponseB = &d
		}

		if inv.ResponseA != nil && inv.ResponseB != nil {
			if *inv.ResponseA == models.DecisionAccept && *inv.ResponseB == models.DecisionAccept {
				inv.Status = models.InvitationBothAccepted
				rel, sess, created, err := s.createRelationship(ctx, repo, inv.ParticipantA, inv.ParticipantB, inv.SessionID)
				if err != nil {
					return err
				}
				result.BecameRelationship = true
				result.Relationship = rel
				if created {
					events = append(events, Event{Kind: EventRelationshipCreated, Relationship: rel, Session: sess, Invitation: inv})
				}
			} else {
				inv.Status = models.InvitationRejected
				ev, err := s.closePairing(ctx, repo, inv)
				if err != nil {
					return err
				}
				if ev != nil {
					events = append(events, *ev)
				}
			}
		}

		if err := repo.SaveInvitation(ctx, inv); err != nil {
			return fmt.Errorf("save invitation: %w", err)
		}
		result.Invitation = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		s.emit(ctx, events)
		return nil, fmt.Errorf("%w: invitation %s expired", ErrInvalidState, invitationID)
	}
	if result.Invitation.Status != models.InvitationPending {
		log.Printf("Invitation %s resolved: %s", invitationID, result.Invitation.Status)
	}
	s.emit(ctx, events)
	return &result, nil
}

// closePairing marks the pairing behind a rejected or lapsed invitation as
// rejected so the pair becomes eligible for matchmaking again.
func (s *Service) closePairing(ctx context.Context, repo storage.Repository, inv *models.Invitation) (*Event, error) {
	sess, err := repo.GetSessionByID(ctx, inv.SessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if sess.PairingID == "" {
		return nil, nil
	}
	p, err := repo.GetPairingByID(ctx, sess.PairingID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if p.Status != models.PairingActive {
		return nil, nil
	}
	p.Status = models.PairingRejected
	if err := repo.SavePairing(ctx, p); err != nil {
		return nil, fmt.Errorf("close pairing: %w", err)
	}
	return &Event{Kind: EventPairingRejected, Pairing: p, Session: sess, Invitation: inv}, nil
}

// ListInvitations returns the participant's pending, unexpired invitations.
func (s *Service) ListInvitations(ctx context.Context, participant string) ([]models.Invitation, error) {
	return s.Storage.ListPendingInvitations(ctx, participant, s.Now())
}
