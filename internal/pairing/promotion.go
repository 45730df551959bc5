package pairing

import (
	"context"
	"errors"
	"fmt"

	"heartlink/backend/internal/models"
	"heartlink/backend/internal/storage"

	"github.com/google/uuid"
)

// CreateRelationship creates the relationship for a and b and promotes the
// originating session to permanent. An existing relationship is returned as is.
func (s *Service) CreateRelationship(ctx context.Context, a, b, sessionID string) (*models.Relationship, error) {
	var (
		rel    *models.Relationship
		events []Event
	)
	err := s.Storage.Atomic(ctx, func(repo storage.Repository) error {
		r, sess, created, err := s.createRelationship(ctx, repo, a, b, sessionID)
		if err != nil {
			return err
		}
		rel = r
		if created {
			events = append(events, Event{Kind: EventRelationshipCreated, Relationship: r, Session: sess})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events)
	return rel, nil
}

func (s *Service) createRelationship(ctx context.Context, repo storage.Repository, a, b, sessionID string) (*models.Relationship, *models.Session, bool, error) {
	existing, err := repo.FindRelationship(ctx, a, b)
	if err != nil {
		return nil, nil, false, err
	}
	if existing != nil {
		return existing, nil, false, nil
	}

	now := s.Now()
	rel := &models.Relationship{
		ID:           uuid.NewString(),
		ParticipantA: a,
		ParticipantB: b,
		CreatedAt:    now,
	}
	if err := repo.SaveRelationship(ctx, rel); err != nil {
		return nil, nil, false, fmt.Errorf("save relationship: %w", err)
	}

	sess, err := repo.GetSessionByID(ctx, sessionID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		sess = &models.Session{
			ID:           uuid.NewString(),
			ParticipantA: a,
			ParticipantB: b,
			Kind:         models.SessionPermanent,
			IsActive:     true,
			CreatedAt:    now,
		}
		if p, err := repo.FindActivePairing(ctx, a, b); err == nil && p != nil {
			sess.PairingID = p.ID
		}
	case err != nil:
		return nil, nil, false, err
	default:
		if err := promote(sess); err != nil {
			return nil, nil, false, err
		}
	}
	if err := repo.SaveSession(ctx, sess); err != nil {
		return nil, nil, false, fmt.Errorf("save permanent session: %w", err)
	}
	return rel, sess, true, nil
}

// promote turns a temporary session into a permanent one in place.
func promote(sess *models.Session) error {
	if sess.Kind == models.SessionPermanent {
		return fmt.Errorf("%w: session %s is already permanent", ErrInvalidState, sess.ID)
	}
	sess.Kind = models.SessionPermanent
	sess.IsActive = true
	sess.ExpiresAt = nil
	return nil
}

// ListRelationships returns every relationship the participant is part of.
func (s *Service) ListRelationships(ctx context.Context, participant string) ([]models.Relationship, error) {
	return s.Storage.ListRelationships(ctx, participant)
}
