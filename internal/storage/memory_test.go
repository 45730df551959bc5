package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"heartlink/backend/internal/models"
	"heartlink/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_AtomicRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	require.NoError(t, s.SaveQueueEntry(ctx, &models.QueueEntry{UserID: "a", EnqueuedAt: time.Now()}))

	boom := errors.New("boom")
	err := s.Atomic(ctx, func(repo storage.Repository) error {
		require.NoError(t, repo.DeleteQueueEntries(ctx, "a"))
		require.NoError(t, repo.SavePairing(ctx, &models.Pairing{ParticipantA: "a", ParticipantB: "b", Status: models.PairingActive}))
		return boom
	})

	assert.ErrorIs(t, err, boom)
	entry, err := s.FindQueueEntry(ctx, "a")
	require.NoError(t, err)
	assert.NotNil(t, entry, "queue entry should be restored")
	assert.Empty(t, s.Pairings(), "pairing should be rolled back")
}

func TestMemoryStore_PairLookupsAreUnordered(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()

	require.NoError(t, s.SavePairing(ctx, &models.Pairing{ParticipantA: "a", ParticipantB: "b", Status: models.PairingActive}))
	require.NoError(t, s.SaveRelationship(ctx, &models.Relationship{ParticipantA: "b", ParticipantB: "a"}))

	p, err := s.FindActivePairing(ctx, "b", "a")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "a:b", p.PairKey)

	r, err := s.FindRelationship(ctx, "a", "b")
	require.NoError(t, err)
	require.NotNil(t, r)
}

func TestMemoryStore_PurgeQueueBefore(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	now := time.Now()

	require.NoError(t, s.SaveQueueEntry(ctx, &models.QueueEntry{UserID: "old", EnqueuedAt: now.Add(-10 * time.Minute)}))
	require.NoError(t, s.SaveQueueEntry(ctx, &models.QueueEntry{UserID: "new", EnqueuedAt: now}))

	n, err := s.PurgeQueueBefore(ctx, now.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entries, err := s.ListQueueEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].UserID)
}

func TestMemoryStore_BindDevice(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()

	d, err := s.BindDevice(ctx, &models.Device{DeviceUID: "esp-1", OwnerID: "a", Name: "band"})
	require.NoError(t, err)
	assert.NotEmpty(t, d.ID)

	again, err := s.BindDevice(ctx, &models.Device{DeviceUID: "esp-1", OwnerID: "a", Name: "renamed"})
	require.NoError(t, err)
	assert.Equal(t, d.ID, again.ID)
	assert.Equal(t, "renamed", again.Name)

	_, err = s.BindDevice(ctx, &models.Device{DeviceUID: "esp-1", OwnerID: "b"})
	assert.ErrorIs(t, err, storage.ErrDeviceBound)
}

func TestMemoryStore_InvitationCopiesResponses(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	accept := models.DecisionAccept

	inv := &models.Invitation{SessionID: "s1", ParticipantA: "a", ParticipantB: "b", ResponseA: &accept, Status: models.InvitationPending}
	require.NoError(t, s.SaveInvitation(ctx, inv))

	*inv.ResponseA = models.DecisionReject

	stored, err := s.GetInvitationByID(ctx, inv.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ResponseA)
	assert.Equal(t, models.DecisionAccept, *stored.ResponseA)
}

func TestMemoryPresence_Window(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	p := storage.NewMemoryPresence(15 * time.Second)
	p.Now = func() time.Time { return now }

	online, err := p.IsOnline(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, online)

	require.NoError(t, p.MarkSeen(ctx, "d1", now.Add(-10*time.Second)))
	online, _ = p.IsOnline(ctx, "d1")
	assert.True(t, online)

	require.NoError(t, p.MarkSeen(ctx, "d1", now.Add(-20*time.Second)))
	online, _ = p.IsOnline(ctx, "d1")
	assert.False(t, online)
}

func TestMemoryStore_FindSessionByPairing(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveSession(ctx, &models.Session{ID: "s1", PairingID: "p1", ParticipantA: "a", ParticipantB: "b", IsActive: false, CreatedAt: t0}))
	require.NoError(t, s.SaveSession(ctx, &models.Session{ID: "s2", PairingID: "p1", ParticipantA: "a", ParticipantB: "b", IsActive: false, CreatedAt: t0.Add(time.Minute)}))
	require.NoError(t, s.SaveSession(ctx, &models.Session{ID: "s3", ParticipantA: "a", ParticipantB: "b", IsActive: true, CreatedAt: t0.Add(2 * time.Minute)}))

	found, err := s.FindSessionByPairing(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "s2", found.ID, "newest session of the pairing, active or not")

	missing, err := s.FindSessionByPairing(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, missing, "sessions without a pairing never match")
}
