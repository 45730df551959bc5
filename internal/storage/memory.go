package storage

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"heartlink/backend/internal/models"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Storage used by STORAGE_DRIVER=memory and by tests.
// Records are kept by value so callers never share memory with the store.
type MemoryStore struct {
	atomicMu sync.Mutex
	mu       sync.RWMutex

	users         map[string]models.User
	devices       map[string]models.Device
	heartbeats    []models.HeartbeatLog
	interactions  []models.Interaction
	queue         map[string]models.QueueEntry
	pairings      map[string]models.Pairing
	sessions      map[string]models.Session
	invitations   map[string]models.Invitation
	relationships map[string]models.Relationship

	seq   int64
	order map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]models.User),
		devices:       make(map[string]models.Device),
		queue:         make(map[string]models.QueueEntry),
		pairings:      make(map[string]models.Pairing),
		sessions:      make(map[string]models.Session),
		invitations:   make(map[string]models.Invitation),
		relationships: make(map[string]models.Relationship),
		order:         make(map[string]int64),
	}
}

type memorySnapshot struct {
	queue         map[string]models.QueueEntry
	pairings      map[string]models.Pairing
	sessions      map[string]models.Session
	invitations   map[string]models.Invitation
	relationships map[string]models.Relationship
}

// Atomic serializes fn against every other Atomic call. When fn fails, the
// matchmaking records (queue, pairings, sessions, invitations, relationships)
// are restored to their state before fn ran.
func (m *MemoryStore) Atomic(ctx context.Context, fn func(repo Repository) error) error {
	m.atomicMu.Lock()
	defer m.atomicMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	snap := memorySnapshot{
		queue:         maps.Clone(m.queue),
		pairings:      maps.Clone(m.pairings),
		sessions:      maps.Clone(m.sessions),
		invitations:   maps.Clone(m.invitations),
		relationships: maps.Clone(m.relationships),
	}
	m.mu.RUnlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.queue = snap.queue
		m.pairings = snap.pairings
		m.sessions = snap.sessions
		m.invitations = snap.invitations
		m.relationships = snap.relationships
		m.mu.Unlock()
		return err
	}
	return nil
}

// track records insertion order so equal timestamps still sort deterministically.
func (m *MemoryStore) track(kind, id string) int64 {
	key := kind + ":" + id
	if n, ok := m.order[key]; ok {
		return n
	}
	m.seq++
	m.order[key] = m.seq
	return m.seq
}

func (m *MemoryStore) before(kind string, aID string, aAt time.Time, bID string, bAt time.Time) bool {
	if !aAt.Equal(bAt) {
		return aAt.Before(bAt)
	}
	return m.order[kind+":"+aID] < m.order[kind+":"+bID]
}

func isPair(a, b, x, y string) bool {
	return (a == x && b == y) || (a == y && b == x)
}

// --- Participants ---

func (m *MemoryStore) SaveUserIfNotExists(ctx context.Context, userID string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		user = models.User{ID: userID, CreatedAt: time.Now()}
		m.users[userID] = user
		m.track("user", userID)
	}
	return &user, nil
}

func (m *MemoryStore) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &user, nil
}

func (m *MemoryStore) ListUserIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.users))
	for id := range m.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return m.order["user:"+ids[i]] < m.order["user:"+ids[j]]
	})
	return ids, nil
}

func (m *MemoryStore) SetTelegramChatID(ctx context.Context, userID string, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	user.TelegramChatID = chatID
	m.users[userID] = user
	return nil
}

// --- Devices ---

func (m *MemoryStore) BindDevice(ctx context.Context, device *models.Device) (*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.devices {
		if existing.DeviceUID != device.DeviceUID {
			continue
		}
		if existing.OwnerID != "" && existing.OwnerID != device.OwnerID {
			return nil, ErrDeviceBound
		}
		existing.OwnerID = device.OwnerID
		if device.Name != "" {
			existing.Name = device.Name
		}
		if len(device.Sensors) > 0 {
			existing.Sensors = device.Sensors
		}
		m.devices[id] = existing
		return &existing, nil
	}
	bound := *device
	if bound.ID == "" {
		bound.ID = uuid.NewString()
	}
	if bound.CreatedAt.IsZero() {
		bound.CreatedAt = time.Now()
	}
	m.devices[bound.ID] = bound
	m.track("device", bound.ID)
	return &bound, nil
}

func (m *MemoryStore) GetDeviceByID(ctx context.Context, deviceID string) (*models.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	device, ok := m.devices[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	return &device, nil
}

func (m *MemoryStore) ListDevicesByOwner(ctx context.Context, ownerID string) ([]models.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var devices []models.Device
	for _, d := range m.devices {
		if d.OwnerID == ownerID {
			devices = append(devices, d)
		}
	}
	sort.Slice(devices, func(i, j int) bool {
		return m.before("device", devices[i].ID, devices[i].CreatedAt, devices[j].ID, devices[j].CreatedAt)
	})
	return devices, nil
}

func (m *MemoryStore) SetDeviceOnline(ctx context.Context, deviceID string, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	device, ok := m.devices[deviceID]
	if !ok {
		return nil
	}
	device.IsOnline = online
	m.devices[deviceID] = device
	return nil
}

func (m *MemoryStore) TouchDevice(ctx context.Context, deviceID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	device, ok := m.devices[deviceID]
	if !ok {
		return nil
	}
	device.LastActive = &at
	m.devices[deviceID] = device
	return nil
}

func (m *MemoryStore) LastHeartbeat(ctx context.Context, deviceID string) (*models.HeartbeatLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last *models.HeartbeatLog
	for i := range m.heartbeats {
		hb := m.heartbeats[i]
		if hb.DeviceID != deviceID {
			continue
		}
		if last == nil || !hb.LoggedAt.Before(last.LoggedAt) {
			last = &hb
		}
	}
	return last, nil
}

// --- Telemetry ---

func (m *MemoryStore) SaveHeartbeat(ctx context.Context, hb *models.HeartbeatLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	hb.ID = uint(len(m.heartbeats) + 1)
	m.heartbeats = append(m.heartbeats, *hb)
	return nil
}

func (m *MemoryStore) SaveInteraction(ctx context.Context, interaction *models.Interaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	interaction.ID = uint(len(m.interactions) + 1)
	m.interactions = append(m.interactions, *interaction)
	return nil
}

// Heartbeats returns a copy of every stored heartbeat.
func (m *MemoryStore) Heartbeats() []models.HeartbeatLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.HeartbeatLog(nil), m.heartbeats...)
}

// Interactions returns a copy of every stored pressure interaction.
func (m *MemoryStore) Interactions() []models.Interaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Interaction(nil), m.interactions...)
}

// --- Queue ---

func (m *MemoryStore) PurgeQueueBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.queue {
		if e.EnqueuedAt.Before(cutoff) {
			delete(m.queue, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) FindQueueEntry(ctx context.Context, userID string) (*models.QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.queue[userID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *MemoryStore) ListQueueEntries(ctx context.Context) ([]models.QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]models.QueueEntry, 0, len(m.queue))
	for _, e := range m.queue {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return m.before("queue", entries[i].UserID, entries[i].EnqueuedAt, entries[j].UserID, entries[j].EnqueuedAt)
	})
	return entries, nil
}

func (m *MemoryStore) SaveQueueEntry(ctx context.Context, entry *models.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue[entry.UserID] = *entry
	m.track("queue", entry.UserID)
	return nil
}

func (m *MemoryStore) DeleteQueueEntries(ctx context.Context, userIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range userIDs {
		delete(m.queue, id)
		delete(m.order, "queue:"+id)
	}
	return nil
}

// --- Pairings ---

func (m *MemoryStore) SavePairing(ctx context.Context, pairing *models.Pairing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pairing.ID == "" {
		pairing.ID = uuid.NewString()
	}
	pairing.PairKey = models.PairKey(pairing.ParticipantA, pairing.ParticipantB)
	m.pairings[pairing.ID] = *pairing
	m.track("pairing", pairing.ID)
	return nil
}

func (m *MemoryStore) GetPairingByID(ctx context.Context, pairingID string) (*models.Pairing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pairings[pairingID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryStore) FindActivePairing(ctx context.Context, a, b string) (*models.Pairing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := models.PairKey(a, b)
	for _, p := range m.pairings {
		if p.PairKey == key && p.Status == models.PairingActive {
			return &p, nil
		}
	}
	return nil, nil
}

// Pairings returns a copy of every pairing ever stored.
func (m *MemoryStore) Pairings() []models.Pairing {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Pairing, 0, len(m.pairings))
	for _, p := range m.pairings {
		out = append(out, p)
	}
	return out
}

// --- Sessions ---

func (m *MemoryStore) SaveSession(ctx context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	m.sessions[session.ID] = *session
	m.track("session", session.ID)
	return nil
}

func (m *MemoryStore) GetSessionByID(ctx context.Context, sessionID string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *MemoryStore) FindActiveSession(ctx context.Context, a, b string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *models.Session
	for _, s := range m.sessions {
		if !s.IsActive || !isPair(s.ParticipantA, s.ParticipantB, a, b) {
			continue
		}
		if found == nil || m.before("session", found.ID, found.CreatedAt, s.ID, s.CreatedAt) {
			s := s
			found = &s
		}
	}
	return found, nil
}

func (m *MemoryStore) FindSessionByPairing(ctx context.Context, pairingID string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *models.Session
	for _, s := range m.sessions {
		if pairingID == "" || s.PairingID != pairingID {
			continue
		}
		if found == nil || m.before("session", found.ID, found.CreatedAt, s.ID, s.CreatedAt) {
			s := s
			found = &s
		}
	}
	return found, nil
}

func (m *MemoryStore) ListActiveSessions(ctx context.Context, userID string) ([]models.Session, error) {
	return m.filterSessions(func(s models.Session) bool {
		return s.IsActive && s.Has(userID)
	}), nil
}

func (m *MemoryStore) ListAllActiveSessions(ctx context.Context) ([]models.Session, error) {
	return m.filterSessions(func(s models.Session) bool { return s.IsActive }), nil
}

func (m *MemoryStore) ListExpiredTemporarySessions(ctx context.Context, now time.Time) ([]models.Session, error) {
	return m.filterSessions(func(s models.Session) bool {
		return s.IsActive && s.Kind == models.SessionTemporary && s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
	}), nil
}

func (m *MemoryStore) filterSessions(keep func(models.Session) bool) []models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Session
	for _, s := range m.sessions {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return m.before("session", out[i].ID, out[i].CreatedAt, out[j].ID, out[j].CreatedAt)
	})
	return out
}

// DeleteSession removes a session outright. Only tests and operators use it.
func (m *MemoryStore) DeleteSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// --- Invitations ---

func (m *MemoryStore) SaveInvitation(ctx context.Context, invitation *models.Invitation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if invitation.ID == "" {
		invitation.ID = uuid.NewString()
	}
	inv := *invitation
	inv.ResponseA = copyDecision(invitation.ResponseA)
	inv.ResponseB = copyDecision(invitation.ResponseB)
	m.invitations[inv.ID] = inv
	m.track("invitation", inv.ID)
	return nil
}

func copyDecision(d *models.Decision) *models.Decision {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

func (m *MemoryStore) GetInvitationByID(ctx context.Context, invitationID string) (*models.Invitation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.invitations[invitationID]
	if !ok {
		return nil, ErrNotFound
	}
	inv.ResponseA = copyDecision(inv.ResponseA)
	inv.ResponseB = copyDecision(inv.ResponseB)
	return &inv, nil
}

func (m *MemoryStore) FindInvitationBySession(ctx context.Context, sessionID string) (*models.Invitation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, inv := range m.invitations {
		if inv.SessionID == sessionID {
			inv.ResponseA = copyDecision(inv.ResponseA)
			inv.ResponseB = copyDecision(inv.ResponseB)
			return &inv, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ListPendingInvitations(ctx context.Context, userID string, now time.Time) ([]models.Invitation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Invitation
	for _, inv := range m.invitations {
		if inv.Has(userID) && inv.Status == models.InvitationPending && inv.ExpiresAt.After(now) {
			inv.ResponseA = copyDecision(inv.ResponseA)
			inv.ResponseB = copyDecision(inv.ResponseB)
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return m.before("invitation", out[i].ID, out[i].CreatedAt, out[j].ID, out[j].CreatedAt)
	})
	return out, nil
}

// --- Relationships ---

func (m *MemoryStore) SaveRelationship(ctx context.Context, rel *models.Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rel.ID == "" {
		rel.ID = uuid.NewString()
	}
	rel.PairKey = models.PairKey(rel.ParticipantA, rel.ParticipantB)
	m.relationships[rel.ID] = *rel
	m.track("relationship", rel.ID)
	return nil
}

func (m *MemoryStore) FindRelationship(ctx context.Context, a, b string) (*models.Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := models.PairKey(a, b)
	for _, r := range m.relationships {
		if r.PairKey == key {
			return &r, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ListRelationships(ctx context.Context, userID string) ([]models.Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Relationship
	for _, r := range m.relationships {
		if r.ParticipantA == userID || r.ParticipantB == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return m.before("relationship", out[i].ID, out[i].CreatedAt, out[j].ID, out[j].CreatedAt)
	})
	return out, nil
}

var _ Storage = (*MemoryStore)(nil)
