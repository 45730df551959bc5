package pairing_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"heartlink/backend/internal/pairing"
	"heartlink/backend/internal/storage"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []pairing.Event
}

func (r *recorder) HandlePairingEvent(ctx context.Context, ev pairing.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) Kinds() []pairing.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]pairing.EventKind, 0, len(r.events))
	for _, ev := range r.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

type fixture struct {
	store  *storage.MemoryStore
	svc    *pairing.Service
	clock  *clock
	events *recorder
}

func newFixture(t *testing.T, users ...string) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	for _, u := range users {
		_, err := store.SaveUserIfNotExists(context.Background(), u)
		require.NoError(t, err)
	}
	c := &clock{now: t0}
	svc := pairing.NewService(store, 5*time.Minute)
	svc.Now = c.Now
	svc.Pick = func(n int) int { return 0 }
	rec := &recorder{}
	svc.Subscribe(rec)
	return &fixture{store: store, svc: svc, clock: c, events: rec}
}

// expiredSession pairs a and b and moves the clock past the session deadline.
func (f *fixture) expiredSession(t *testing.T, a, b string) string {
	t.Helper()
	_, sess, err := f.svc.CreatePairing(context.Background(), a, b)
	require.NoError(t, err)
	f.clock.Advance(6 * time.Minute)
	return sess.ID
}

// pendingInvitation returns the invitation created by expiring a fresh session for a and b.
func (f *fixture) pendingInvitation(t *testing.T, a, b string) (string, string) {
	t.Helper()
	sessionID := f.expiredSession(t, a, b)
	res, err := f.svc.CheckExpiry(context.Background(), a, sessionID)
	require.NoError(t, err)
	require.True(t, res.InvitationCreated)
	return res.Invitation.ID, sessionID
}
