package pairing

import (
	"context"
	"fmt"
	"log"

	"heartlink/backend/internal/config"
	"heartlink/backend/internal/models"
	"heartlink/backend/internal/storage"

	"github.com/google/uuid"
)

// ExpiryResult is the outcome of CheckExpiry.
type ExpiryResult struct {
	Expired           bool
	InvitationCreated bool
	Invitation        *models.Invitation
}

// CreatePairing commits an active pairing and its temporary session for a and b.
// If the pair already has an active pairing it is returned unchanged.
func (s *Service) CreatePairing(ctx context.Context, a, b string) (*models.Pairing, *models.Session, error) {
	var (
		pairing *models.Pairing
		session *models.Session
		events  []Event
	)
	err := s.Storage.Atomic(ctx, func(repo storage.Repository) error {
		p, sess, evs, err := s.createPairing(ctx, repo, a, b)
		if err != nil {
			return err
		}
		pairing, session, events = p, sess, evs
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	s.emit(ctx, events)
	return pairing, session, nil
}

// createPairing returns the pair's live pairing or commits a new one. The events
// cover a lapsed pairing closed on the way and the new pairing, in that order.
func (s *Service) createPairing(ctx context.Context, repo storage.Repository, a, b string) (*models.Pairing, *models.Session, []Event, error) {
	existing, events, err := s.findLivePairing(ctx, repo, a, b)
	if err != nil {
		return nil, nil, nil, err
	}
	if existing != nil {
		sess, err := repo.FindActiveSession(ctx, a, b)
		if err != nil {
			return nil, nil, nil, err
		}
		return existing, sess, nil, nil
	}

	now := s.Now()
	pairing := &models.Pairing{
		ID:           uuid.NewString(),
		ParticipantA: a,
		ParticipantB: b,
		Status:       models.PairingActive,
		MatchedAt:    now,
	}
	if err := repo.SavePairing(ctx, pairing); err != nil {
		return nil, nil, nil, fmt.Errorf("save pairing: %w", err)
	}

	expiresAt := now.Add(s.SessionTTL)
	session := &models.Session{
		ID:           uuid.NewString(),
		PairingID:    pairing.ID,
		ParticipantA: a,
		ParticipantB: b,
		Kind:         models.SessionTemporary,
		IsActive:     true,
		ExpiresAt:    &expiresAt,
		CreatedAt:    now,
	}
	if err := repo.SaveSession(ctx, session); err != nil {
		return nil, nil, nil, fmt.Errorf("save session: %w", err)
	}
	events = append(events, Event{Kind: EventPairingCreated, Pairing: pairing, Session: session})
	return pairing, session, events, nil
}

// findLivePairing returns the active pairing of a and b. A pairing whose
// invitation ran out unanswered is closed here and reported as absent.
func (s *Service) findLivePairing(ctx context.Context, repo storage.Repository, a, b string) (*models.Pairing, []Event, error) {
	p, err := repo.FindActivePairing(ctx, a, b)
	if err != nil || p == nil {
		return nil, nil, err
	}
	sess, err := repo.FindSessionByPairing(ctx, p.ID)
	if err != nil {
		return nil, nil, err
	}
	if sess == nil || sess.IsActive {
		return p, nil, nil
	}
	inv, err := repo.FindInvitationBySession(ctx, sess.ID)
	if err != nil {
		return nil, nil, err
	}
	if inv == nil || !s.lapsed(inv) {
		return p, nil, nil
	}

	ev, err := s.closePairing(ctx, repo, inv)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("Pairing %s closed: invitation %s expired unanswered", p.ID, inv.ID)
	if ev == nil {
		return nil, nil, nil
	}
	return nil, []Event{*ev}, nil
}

// lapsed reports whether a pending invitation is past its deadline.
func (s *Service) lapsed(inv *models.Invitation) bool {
	return inv.Status == models.InvitationPending && s.Now().After(inv.ExpiresAt)
}

// CheckExpiry evaluates a session's deadline on access. Nothing happens before
// the deadline. After it, the first call deactivates the temporary session and
// creates its invitation; later calls return that same invitation.
// An empty caller means the system itself is checking.
func (s *Service) CheckExpiry(ctx context.Context, caller, sessionID string) (*ExpiryResult, error) {
	now := s.Now()
	var (
		result ExpiryResult
		events []Event
	)
	err := s.Storage.Atomic(ctx, func(repo storage.Repository) error {
		sess, err := repo.GetSessionByID(ctx, sessionID)
		if err != nil {
			return lookupErr(err, "session", sessionID)
		}
		if caller != "" && !sess.Has(caller) {
			return fmt.Errorf("%w: %s is not part of session %s", ErrUnauthorized, caller, sessionID)
		}
		if sess.Kind != models.SessionTemporary || sess.ExpiresAt == nil || now.Before(*sess.ExpiresAt) {
			return nil
		}
		result.Expired = true

		existing, err := repo.FindInvitationBySession(ctx, sess.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			result.Invitation = existing
			return nil
		}

		inv := &models.Invitation{
			ID:           uuid.NewString(),
			SessionID:    sess.ID,
			ParticipantA: sess.ParticipantA,
			ParticipantB: sess.ParticipantB,
			Status:       models.InvitationPending,
			ExpiresAt:    now.Add(config.InvitationTTL),
			CreatedAt:    now,
		}
		if err := repo.SaveInvitation(ctx, inv); err != nil {
			return fmt.Errorf("save invitation: %w", err)
		}
		sess.IsActive = false
		if err := repo.SaveSession(ctx, sess); err != nil {
			return fmt.Errorf("deactivate session: %w", err)
		}

		result.InvitationCreated = true
		result.Invitation = inv
		events = append(events, Event{Kind: EventInvitationCreated, Session: sess, Invitation: inv})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.InvitationCreated {
		log.Printf("Session %s expired, invitation %s created", sessionID, result.Invitation.ID)
	}
	s.emit(ctx, events)
	return &result, nil
}

// SweepExpired runs CheckExpiry for every active temporary session past its deadline
// and returns how many invitations were created.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	sessions, err := s.Storage.ListExpiredTemporarySessions(ctx, s.Now())
	if err != nil {
		return 0, err
	}
	created := 0
	for _, sess := range sessions {
		res, err := s.CheckExpiry(ctx, "", sess.ID)
		if err != nil {
			log.Printf("ERROR: expiry check for session %s failed: %v", sess.ID, err)
			continue
		}
		if res.InvitationCreated {
			created++
		}
	}
	return created, nil
}

// ListSessions returns the participant's active sessions, temporary and permanent.
func (s *Service) ListSessions(ctx context.Context, participant string) ([]models.Session, error) {
	return s.Storage.ListActiveSessions(ctx, participant)
}

// FindSession returns the active session shared by a and b.
func (s *Service) FindSession(ctx context.Context, a, b string) (*models.Session, error) {
	sess, err := s.Storage.FindActiveSession(ctx, a, b)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: no active session between %s and %s", ErrNotFound, a, b)
	}
	return sess, nil
}
