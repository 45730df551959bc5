package pairing_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"heartlink/backend/internal/models"
	"heartlink/backend/internal/pairing"
	"heartlink/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoin_SecondJoinerMatchesFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice", "bob")

	res, err := f.svc.Join(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, res.Matched)

	f.clock.Advance(time.Second)
	res, err = f.svc.Join(ctx, "bob")
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.Equal(t, "bob", res.Pairing.ParticipantA)
	assert.Equal(t, "alice", res.Pairing.ParticipantB)
	assert.Equal(t, models.PairingActive, res.Pairing.Status)

	queue, err := f.svc.Queue(ctx)
	require.NoError(t, err)
	assert.Empty(t, queue, "both queue entries must be removed after a match")

	sess, err := f.svc.FindSession(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, models.SessionTemporary, sess.Kind)
	require.NotNil(t, sess.ExpiresAt)
	assert.Equal(t, t0.Add(time.Second+5*time.Minute), *sess.ExpiresAt)
	assert.Equal(t, res.Pairing.ID, sess.PairingID)

	assert.Equal(t, []pairing.EventKind{pairing.EventPairingCreated}, f.events.Kinds())
}

func TestJoin_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice")

	_, err := f.svc.Join(ctx, "alice")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.svc.Join(ctx, "alice")
	require.NoError(t, err)

	queue, err := f.svc.Queue(ctx)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, t0, queue[0].EnqueuedAt, "rejoining must not refresh the entry")
}

func TestJoin_PurgesStaleEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice", "bob")

	_, err := f.svc.Join(ctx, "alice")
	require.NoError(t, err)

	f.clock.Advance(6 * time.Minute)
	res, err := f.svc.Join(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, res.Matched, "alice's entry timed out")

	queue, err := f.svc.Queue(ctx)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, "bob", queue[0].UserID)
}

func TestJoin_ExcludesRelatedAndActivelyPaired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice", "bob", "carol")

	_, err := f.svc.CreateRelationship(ctx, "alice", "bob", "missing")
	require.NoError(t, err)
	_, _, err = f.svc.CreatePairing(ctx, "alice", "carol")
	require.NoError(t, err)

	for _, u := range []string{"bob", "carol"} {
		require.NoError(t, f.store.SaveQueueEntry(ctx, &models.QueueEntry{UserID: u, EnqueuedAt: t0}))
	}

	res, err := f.svc.Join(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, res.Matched)

	queue, err := f.svc.Queue(ctx)
	require.NoError(t, err)
	assert.Len(t, queue, 3, "alice waits next to both excluded candidates")
}

func TestJoin_RematchesAfterInvitationLapses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice", "bob")
	f.pendingInvitation(t, "alice", "bob")
	old, err := f.store.FindActivePairing(ctx, "alice", "bob")
	require.NoError(t, err)
	require.NotNil(t, old)

	_, err = f.svc.Join(ctx, "alice")
	require.NoError(t, err)
	res, err := f.svc.Join(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, res.Matched, "the pair still awaits its invitation")
	require.NoError(t, f.svc.Leave(ctx, "alice"))
	require.NoError(t, f.svc.Leave(ctx, "bob"))

	f.clock.Advance(25 * time.Hour)
	_, err = f.svc.Join(ctx, "alice")
	require.NoError(t, err)
	res, err = f.svc.Join(ctx, "bob")
	require.NoError(t, err)
	require.True(t, res.Matched, "an unanswered invitation that ran out frees the pair")
	assert.NotEqual(t, old.ID, res.Pairing.ID)
	require.NotNil(t, res.Session)
	assert.True(t, res.Session.IsActive)
	assert.Equal(t, models.SessionTemporary, res.Session.Kind)

	closed, err := f.store.GetPairingByID(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PairingRejected, closed.Status)

	kinds := f.events.Kinds()
	require.GreaterOrEqual(t, len(kinds), 2)
	assert.Equal(t, []pairing.EventKind{pairing.EventPairingRejected, pairing.EventPairingCreated}, kinds[len(kinds)-2:])
}

func TestJoin_PicksAmongEligibleCandidates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	var seen int
	f.svc.Pick = func(n int) int {
		seen = n
		return n - 1
	}

	for _, u := range []string{"u1", "u2", "u3"} {
		require.NoError(t, f.store.SaveQueueEntry(ctx, &models.QueueEntry{UserID: u, EnqueuedAt: t0}))
	}

	res, err := f.svc.Join(ctx, "me")
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.Equal(t, 3, seen)
	assert.Equal(t, "u3", res.Pairing.ParticipantB)

	queue, err := f.svc.Queue(ctx)
	require.NoError(t, err)
	assert.Len(t, queue, 2)
}

func TestLeave(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.svc.Leave(ctx, "ghost"), "leaving while not queued is fine")

	_, err := f.svc.Join(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, f.svc.Leave(ctx, "alice"))

	queue, err := f.svc.Queue(ctx)
	require.NoError(t, err)
	assert.Empty(t, queue)
}

// countingStore counts atomic units run against the wrapped store.
type countingStore struct {
	*storage.MemoryStore
	atomics atomic.Int32
}

func (c *countingStore) Atomic(ctx context.Context, fn func(repo storage.Repository) error) error {
	c.atomics.Add(1)
	return c.MemoryStore.Atomic(ctx, fn)
}

func TestLeave_RunsInsideAtomicUnit(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{MemoryStore: storage.NewMemoryStore()}
	svc := pairing.NewService(store, 5*time.Minute)

	_, err := svc.Join(ctx, "alice")
	require.NoError(t, err)
	before := store.atomics.Load()

	require.NoError(t, svc.Leave(ctx, "alice"))
	assert.Equal(t, before+1, store.atomics.Load())

	queue, err := svc.Queue(ctx)
	require.NoError(t, err)
	assert.Empty(t, queue)
}

func TestJoin_RejectsEmptyParticipant(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Join(context.Background(), "")
	assert.ErrorIs(t, err, pairing.ErrInvalidInput)
}

func TestJoin_ConcurrentJoinsNeverDoublePair(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.svc.Pick = func(n int) int { return n / 2 }

	const n = 40
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.svc.Join(ctx, id)
			assert.NoError(t, err)
		}(fmt.Sprintf("user-%02d", i))
	}
	wg.Wait()

	perPair := map[string]int{}
	perParticipant := map[string]int{}
	for _, p := range f.store.Pairings() {
		if p.Status != models.PairingActive {
			continue
		}
		perPair[p.PairKey]++
		perParticipant[p.ParticipantA]++
		perParticipant[p.ParticipantB]++
	}
	for key, count := range perPair {
		assert.Equal(t, 1, count, "pair %s", key)
	}
	for id, count := range perParticipant {
		assert.Equal(t, 1, count, "participant %s", id)
	}

	queue, err := f.svc.Queue(ctx)
	require.NoError(t, err)
	for _, e := range queue {
		assert.Zero(t, perParticipant[e.UserID], "%s is both queued and paired", e.UserID)
	}
	assert.Equal(t, n, 2*len(perPair)+len(queue))
}

func TestPairWith(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice", "bob")

	_, err := f.svc.PairWith(ctx, "alice", "alice")
	assert.ErrorIs(t, err, pairing.ErrInvalidInput)

	_, err = f.svc.PairWith(ctx, "alice", "nobody")
	assert.ErrorIs(t, err, pairing.ErrNotFound)

	first, err := f.svc.PairWith(ctx, "alice", "bob")
	require.NoError(t, err)
	second, err := f.svc.PairWith(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, first.Pairing.ID, second.Pairing.ID, "existing active pairing is returned unchanged")
	assert.Equal(t, first.Session.ID, second.Session.ID)
	assert.Len(t, f.events.Kinds(), 1)

	_, err = f.svc.CreateRelationship(ctx, "alice", "bob", first.Session.ID)
	require.NoError(t, err)
	_, err = f.svc.PairWith(ctx, "alice", "bob")
	assert.ErrorIs(t, err, pairing.ErrConflict)
}

func TestPairRandom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice", "bob")

	res, err := f.svc.PairRandom(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.True(t, res.Pairing.Has("bob"))

	_, err = f.svc.PairRandom(ctx, "alice")
	assert.ErrorIs(t, err, pairing.ErrNotFound, "bob is already actively paired with alice")
}

func TestPairWith_AfterInvitationLapses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice", "bob")
	f.pendingInvitation(t, "alice", "bob")

	waiting, err := f.svc.PairWith(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Nil(t, waiting.Session, "no session while the invitation is open")

	f.clock.Advance(25 * time.Hour)
	res, err := f.svc.PairWith(ctx, "alice", "bob")
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.NotEqual(t, waiting.Pairing.ID, res.Pairing.ID)
	assert.Equal(t, models.PairingActive, res.Pairing.Status)
	require.NotNil(t, res.Session)
	assert.Equal(t, res.Pairing.ID, res.Session.PairingID)
	assert.True(t, res.Session.IsActive)
}
