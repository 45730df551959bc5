package pairing_test

import (
	"context"
	"testing"
	"time"

	"heartlink/backend/internal/models"
	"heartlink/backend/internal/pairing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePairing_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	p1, s1, err := f.svc.CreatePairing(ctx, "alice", "bob")
	require.NoError(t, err)
	p2, s2, err := f.svc.CreatePairing(ctx, "bob", "alice")
	require.NoError(t, err)

	assert.Equal(t, p1.ID, p2.ID)
	assert.Equal(t, s1.ID, s2.ID)
	assert.Len(t, f.store.Pairings(), 1)
}

func TestCheckExpiry_BeforeDeadlineHasNoSideEffect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, sess, err := f.svc.CreatePairing(ctx, "alice", "bob")
	require.NoError(t, err)

	f.clock.Advance(4 * time.Minute)
	res, err := f.svc.CheckExpiry(ctx, "alice", sess.ID)
	require.NoError(t, err)
	assert.False(t, res.Expired)
	assert.False(t, res.InvitationCreated)
	assert.Nil(t, res.Invitation)

	inv, err := f.store.FindInvitationBySession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, inv)

	found, err := f.svc.FindSession(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, found.IsActive)
}

func TestCheckExpiry_CreatesInvitationOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sessionID := f.expiredSession(t, "alice", "bob")

	first, err := f.svc.CheckExpiry(ctx, "alice", sessionID)
	require.NoError(t, err)
	assert.True(t, first.Expired)
	assert.True(t, first.InvitationCreated)
	require.NotNil(t, first.Invitation)
	assert.Equal(t, models.InvitationPending, first.Invitation.Status)
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), first.Invitation.ExpiresAt)

	second, err := f.svc.CheckExpiry(ctx, "bob", sessionID)
	require.NoError(t, err)
	assert.True(t, second.Expired)
	assert.False(t, second.InvitationCreated)
	assert.Equal(t, first.Invitation.ID, second.Invitation.ID)

	_, err = f.svc.FindSession(ctx, "alice", "bob")
	assert.ErrorIs(t, err, pairing.ErrNotFound, "temporary session is deactivated")

	assert.Equal(t, []pairing.EventKind{pairing.EventPairingCreated, pairing.EventInvitationCreated}, f.events.Kinds())
}

func TestCheckExpiry_AtDeadlineIsExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, sess, err := f.svc.CreatePairing(ctx, "alice", "bob")
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	res, err := f.svc.CheckExpiry(ctx, "", sess.ID)
	require.NoError(t, err)
	assert.True(t, res.Expired)
}

func TestCheckExpiry_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sessionID := f.expiredSession(t, "alice", "bob")

	_, err := f.svc.CheckExpiry(ctx, "alice", "missing")
	assert.ErrorIs(t, err, pairing.ErrNotFound)

	_, err = f.svc.CheckExpiry(ctx, "mallory", sessionID)
	assert.ErrorIs(t, err, pairing.ErrUnauthorized)

	inv, err := f.store.FindInvitationBySession(ctx, sessionID)
	require.NoError(t, err)
	assert.Nil(t, inv, "unauthorized check must not create an invitation")
}

func TestCheckExpiry_PermanentSessionNeverExpires(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, sess, err := f.svc.CreatePairing(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = f.svc.CreateRelationship(ctx, "alice", "bob", sess.ID)
	require.NoError(t, err)

	f.clock.Advance(48 * time.Hour)
	res, err := f.svc.CheckExpiry(ctx, "alice", sess.ID)
	require.NoError(t, err)
	assert.False(t, res.Expired)
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, _, err := f.svc.CreatePairing(ctx, "alice", "bob")
	require.NoError(t, err)
	f.clock.Advance(3 * time.Minute)
	_, _, err = f.svc.CreatePairing(ctx, "carol", "dave")
	require.NoError(t, err)

	f.clock.Advance(3 * time.Minute)
	n, err := f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only alice and bob are past their deadline")

	n, err = f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, _, err := f.svc.CreatePairing(ctx, "alice", "bob")
	require.NoError(t, err)
	_, _, err = f.svc.CreatePairing(ctx, "carol", "alice")
	require.NoError(t, err)
	_, _, err = f.svc.CreatePairing(ctx, "carol", "dave")
	require.NoError(t, err)

	sessions, err := f.svc.ListSessions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "bob", sessions[0].Peer("alice"))
	assert.Equal(t, "carol", sessions[1].Peer("alice"))
}
