package pairing

import (
	"context"
	"fmt"
	"log"

	"heartlink/backend/internal/config"
	"heartlink/backend/internal/models"
	"heartlink/backend/internal/storage"
)

// MatchResult is returned by Join and AttemptMatch.
type MatchResult struct {
	Matched bool
	Pairing *models.Pairing
	Session *models.Session
}

// Join puts participant in the random-partner queue and tries to match it right away.
// Entries older than config.QueueTimeout are purged first. Joining twice does not
// duplicate the entry; it only retries matching.
func (s *Service) Join(ctx context.Context, participant string) (*MatchResult, error) {
	if participant == "" {
		return nil, fmt.Errorf("%w: participant is required", ErrInvalidInput)
	}

	now := s.Now()
	var (
		result MatchResult
		events []Event
	)
	err := s.Storage.Atomic(ctx, func(repo storage.Repository) error {
		if _, err := repo.PurgeQueueBefore(ctx, now.Add(-config.QueueTimeout)); err != nil {
			return fmt.Errorf("purge queue: %w", err)
		}

		existing, err := repo.FindQueueEntry(ctx, participant)
		if err != nil {
			return err
		}

		res, evs, err := s.attemptMatch(ctx, repo, participant)
		if err != nil {
			return err
		}
		events = evs
		if res.Matched {
			result = *res
			return nil
		}

		if existing == nil {
			return repo.SaveQueueEntry(ctx, &models.QueueEntry{UserID: participant, EnqueuedAt: now})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Matched {
		log.Printf("Match found: %s and %s (pairing %s)", result.Pairing.ParticipantA, result.Pairing.ParticipantB, result.Pairing.ID)
	} else {
		log.Printf("Participant %s waiting in queue", participant)
	}
	s.emit(ctx, events)
	return &result, nil
}

// AttemptMatch retries matching for participant without enqueueing it.
func (s *Service) AttemptMatch(ctx context.Context, participant string) (*MatchResult, error) {
	var (
		result MatchResult
		events []Event
	)
	err := s.Storage.Atomic(ctx, func(repo storage.Repository) error {
		res, evs, err := s.attemptMatch(ctx, repo, participant)
		if err != nil {
			return err
		}
		result, events = *res, evs
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events)
	return &result, nil
}

// Leave removes participant from the queue. Leaving while not queued is not an error.
func (s *Service) Leave(ctx context.Context, participant string) error {
	return s.Storage.Atomic(ctx, func(repo storage.Repository) error {
		return repo.DeleteQueueEntries(ctx, participant)
	})
}

// Queue lists the current queue, oldest first.
func (s *Service) Queue(ctx context.Context) ([]models.QueueEntry, error) {
	return s.Storage.ListQueueEntries(ctx)
}

// attemptMatch scans the queue, picks one eligible candidate uniformly at random,
// removes both entries and commits the pairing. Must run inside Atomic.
func (s *Service) attemptMatch(ctx context.Context, repo storage.Repository, participant string) (*MatchResult, []Event, error) {
	entries, err := repo.ListQueueEntries(ctx)
	if err != nil {
		return nil, nil, err
	}

	var (
		candidates = make([]string, 0, len(entries))
		events     []Event
	)
	for _, e := range entries {
		ok, evs, err := s.eligible(ctx, repo, participant, e.UserID)
		if err != nil {
			return nil, nil, err
		}
		events = append(events, evs...)
		if ok {
			candidates = append(candidates, e.UserID)
		}
	}
	if len(candidates) == 0 {
		return &MatchResult{}, events, nil
	}

	partner := candidates[s.Pick(len(candidates))]
	if err := repo.DeleteQueueEntries(ctx, participant, partner); err != nil {
		return nil, nil, err
	}

	p, sess, evs, err := s.createPairing(ctx, repo, participant, partner)
	if err != nil {
		return nil, nil, err
	}
	events = append(events, evs...)
	return &MatchResult{Matched: true, Pairing: p, Session: sess}, events, nil
}

// eligible excludes self, existing relationships and live active pairings. A
// pairing whose invitation lapsed is closed first, and its event is returned.
func (s *Service) eligible(ctx context.Context, repo storage.Repository, participant, candidate string) (bool, []Event, error) {
	if candidate == participant {
		return false, nil, nil
	}
	rel, err := repo.FindRelationship(ctx, participant, candidate)
	if err != nil {
		return false, nil, err
	}
	if rel != nil {
		return false, nil, nil
	}
	active, events, err := s.findLivePairing(ctx, repo, participant, candidate)
	if err != nil {
		return false, nil, err
	}
	return active == nil, events, nil
}

// PairRandom pairs participant directly with a uniformly chosen eligible participant
// from everyone known to the backend, without going through the queue.
func (s *Service) PairRandom(ctx context.Context, participant string) (*MatchResult, error) {
	var (
		result MatchResult
		events []Event
	)
	err := s.Storage.Atomic(ctx, func(repo storage.Repository) error {
		ids, err := repo.ListUserIDs(ctx)
		if err != nil {
			return err
		}
		var candidates []string
		for _, id := range ids {
			ok, evs, err := s.eligible(ctx, repo, participant, id)
			if err != nil {
				return err
			}
			events = append(events, evs...)
			if ok {
				candidates = append(candidates, id)
			}
		}
		if len(candidates) == 0 {
			return fmt.Errorf("%w: no participant available for pairing", ErrNotFound)
		}

		partner := candidates[s.Pick(len(candidates))]
		p, sess, evs, err := s.createPairing(ctx, repo, participant, partner)
		if err != nil {
			return err
		}
		events = append(events, evs...)
		result = MatchResult{Matched: true, Pairing: p, Session: sess}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events)
	return &result, nil
}

// PairWith pairs requester with a chosen target. An existing active pairing is returned unchanged.
func (s *Service) PairWith(ctx context.Context, requester, target string) (*MatchResult, error) {
	if target == "" || requester == "" {
		return nil, fmt.Errorf("%w: both participants are required", ErrInvalidInput)
	}
	if target == requester {
		return nil, fmt.Errorf("%w: cannot pair with yourself", ErrInvalidInput)
	}

	var (
		result MatchResult
		events []Event
	)
	err := s.Storage.Atomic(ctx, func(repo storage.Repository) error {
		if _, err := repo.GetUserByID(ctx, target); err != nil {
			return lookupErr(err, "participant", target)
		}
		rel, err := repo.FindRelationship(ctx, requester, target)
		if err != nil {
			return err
		}
		if rel != nil {
			return fmt.Errorf("%w: %s and %s are already related", ErrConflict, requester, target)
		}

		p, sess, evs, err := s.createPairing(ctx, repo, requester, target)
		if err != nil {
			return err
		}
		events = append(events, evs...)
		result = MatchResult{Matched: true, Pairing: p, Session: sess}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events)
	return &result, nil
}
