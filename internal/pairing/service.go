// Package pairing implements matchmaking, the temporary session lifecycle,
// invitation consensus and promotion to a durable relationship.
//
// Every operation that reads and then writes more than one record runs inside
// a single storage.Storage.Atomic unit, so concurrent joins can never commit
// two active pairings for the same pair.
package pairing

import (
	"context"
	"math/rand/v2"
	"time"

	"heartlink/backend/internal/storage"
)

// Service is the matchmaking and session lifecycle manager.
type Service struct {
	Storage    storage.Storage
	SessionTTL time.Duration

	// Now and Pick are replaceable for tests. Pick returns an index in [0, n).
	Now  func() time.Time
	Pick func(n int) int

	listeners []Listener
}

// NewService creates a Service with the given temporary session TTL.
func NewService(s storage.Storage, sessionTTL time.Duration) *Service {
	return &Service{
		Storage:    s,
		SessionTTL: sessionTTL,
		Now:        time.Now,
		Pick:       rand.IntN,
	}
}

// Subscribe registers a listener. Call it during wiring, before serving requests.
func (s *Service) Subscribe(l Listener) {
	s.listeners = append(s.listeners, l)
}

func (s *Service) emit(ctx context.Context, events []Event) {
	for _, ev := range events {
		for _, l := range s.listeners {
			l.HandlePairingEvent(ctx, ev)
		}
	}
}
