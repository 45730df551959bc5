package chathub

import (
	"context"
	"log"
	"sync"

	"heartlink/backend/internal/models"
	"heartlink/backend/internal/pairing"
)

// relayLink is the canonical edge between two linked participants, a < b.
type relayLink struct {
	a, b string
}

func newRelayLink(x, y string) relayLink {
	if y < x {
		x, y = y, x
	}
	return relayLink{a: x, b: y}
}

func (l relayLink) peer(participant string) string {
	if l.a == participant {
		return l.b
	}
	return l.a
}

// SessionLister is what the registry reads from storage to rebuild relay links.
type SessionLister interface {
	ListAllActiveSessions(ctx context.Context) ([]models.Session, error)
	ListActiveSessions(ctx context.Context, userID string) ([]models.Session, error)
}

// ManagerService is the connection registry. It owns the endpoint -> live
// channel map, the endpoint -> owner cache and the relay links between
// participants. All state sits behind mu.
type ManagerService struct {
	mu      sync.RWMutex
	clients map[string]Client
	owners  map[string]string

	links  map[string]relayLink // key: models.PairKey(a, b)
	linkOf map[string]string    // participant -> key into links

	// Sessions is used for recovery and for re-linking after a link is cleared.
	Sessions SessionLister

	// Канали для підключення та відключення клієнтів, обробляються в Run
	RegisterCh   chan Client
	UnregisterCh chan Client

	// OnConnect / OnDisconnect викликаються з Run після зміни реєстру
	OnConnect    func(endpointID string)
	OnDisconnect func(endpointID string)

	done chan struct{}
}

func NewManagerService() *ManagerService {
	return &ManagerService{
		clients:      make(map[string]Client),
		owners:       make(map[string]string),
		links:        make(map[string]relayLink),
		linkOf:       make(map[string]string),
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		done:         make(chan struct{}),
	}
}

// Run обробляє реєстрацію та відключення клієнтів, доки ctx не завершиться.
// Call it once.
func (m *ManagerService) Run(ctx context.Context) {
	defer close(m.done)
	log.Println("Hub started.")
	for {
		select {
		case c := <-m.RegisterCh:
			m.Register(c)
			if m.OnConnect != nil {
				m.OnConnect(c.GetEndpointID())
			}

		case c := <-m.UnregisterCh:
			// Тільки актуальний канал знімає endpoint з реєстру
			if m.Unregister(c) && m.OnDisconnect != nil {
				m.OnDisconnect(c.GetEndpointID())
			}

		case <-ctx.Done():
			log.Println("Hub stopped.")
			return
		}
	}
}

// Done is closed when Run returns.
func (m *ManagerService) Done() <-chan struct{} { return m.done }

// Connect hands c to the Run loop. It reports false once the hub has stopped.
func (m *ManagerService) Connect(c Client) bool {
	select {
	case m.RegisterCh <- c:
		return true
	case <-m.done:
		return false
	}
}

// Disconnect hands c to the Run loop for removal. It reports false once the hub has stopped.
func (m *ManagerService) Disconnect(c Client) bool {
	select {
	case m.UnregisterCh <- c:
		return true
	case <-m.done:
		return false
	}
}

// --- Connections ---

// Register attaches c under its endpoint id. A previous channel for the same
// endpoint is replaced and closed.
func (m *ManagerService) Register(c Client) {
	m.mu.Lock()
	old, replaced := m.clients[c.GetEndpointID()]
	m.clients[c.GetEndpointID()] = c
	if owner := c.GetOwnerID(); owner != "" {
		m.owners[c.GetEndpointID()] = owner
	}
	if replaced && old != c {
		old.Close()
	}
	m.mu.Unlock()

	if replaced {
		log.Printf("INFO: Endpoint %s reconnected, previous channel closed", c.GetEndpointID())
	} else {
		log.Printf("INFO: Endpoint %s connected (owner %s)", c.GetEndpointID(), c.GetOwnerID())
	}
}

// Unregister removes c if it is still the channel registered for its endpoint
// and reports whether it did. Relay links are left untouched.
func (m *ManagerService) Unregister(c Client) bool {
	m.mu.Lock()
	current, ok := m.clients[c.GetEndpointID()]
	if !ok || current != c {
		m.mu.Unlock()
		return false
	}
	delete(m.clients, c.GetEndpointID())
	c.Close()
	m.mu.Unlock()

	log.Printf("INFO: Endpoint %s disconnected", c.GetEndpointID())
	return true
}

// IsConnected reports whether the endpoint has a live channel.
func (m *ManagerService) IsConnected(endpointID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.clients[endpointID]
	return ok
}

// ConnectedEndpoints returns the connected endpoints owned by participant.
func (m *ManagerService) ConnectedEndpoints(participant string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, c := range m.clients {
		if c.GetOwnerID() == participant {
			ids = append(ids, id)
		}
	}
	return ids
}

// OwnerOf returns the cached owner of an endpoint. Entries survive disconnects.
func (m *ManagerService) OwnerOf(endpointID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	owner, ok := m.owners[endpointID]
	return owner, ok
}

// CacheOwner records the owner of an endpoint resolved elsewhere.
func (m *ManagerService) CacheOwner(endpointID, owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[endpointID] = owner
}

// Send pushes ev to the endpoint without blocking. It returns false when the
// endpoint is not connected or its buffer is full.
func (m *ManagerService) Send(endpointID string, ev models.TelemetryEvent) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[endpointID]
	if !ok {
		return false
	}
	select {
	case c.GetSendChannel() <- ev:
		return true
	default:
		log.Printf("WARNING: Send buffer full for endpoint %s, dropping %s", endpointID, ev.Type)
		return false
	}
}

// --- Relay links ---

// SetRelayLink links a and b. Any link either side had before is dropped first,
// so each participant relays to at most one partner.
func (m *ManagerService) SetRelayLink(a, b string) {
	if a == "" || b == "" || a == b {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(a, b)
}

func (m *ManagerService) setLocked(a, b string) {
	m.clearLocked(a)
	m.clearLocked(b)
	key := models.PairKey(a, b)
	m.links[key] = newRelayLink(a, b)
	m.linkOf[a] = key
	m.linkOf[b] = key
}

// ClearRelayLink removes the participant's link on both sides.
func (m *ManagerService) ClearRelayLink(participant string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked(participant)
}

// ClearRelayLinkBetween removes the link only if it joins exactly a and b.
func (m *ManagerService) ClearRelayLinkBetween(a, b string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.linkOf[a] == models.PairKey(a, b) {
		m.clearLocked(a)
	}
}

func (m *ManagerService) clearLocked(participant string) {
	key, ok := m.linkOf[participant]
	if !ok {
		return
	}
	link := m.links[key]
	delete(m.links, key)
	delete(m.linkOf, link.a)
	delete(m.linkOf, link.b)
}

// Partner returns the participant linked to participant.
func (m *ManagerService) Partner(participant string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.linkOf[participant]
	if !ok {
		return "", false
	}
	return m.links[key].peer(participant), true
}

// HandlePairingEvent keeps relay links in step with the session lifecycle.
// When a link is cleared, each side falls back to its newest remaining session.
func (m *ManagerService) HandlePairingEvent(ctx context.Context, ev pairing.Event) {
	a, b := ev.Participants()
	switch ev.Kind {
	case pairing.EventPairingCreated, pairing.EventRelationshipCreated:
		m.SetRelayLink(a, b)
	case pairing.EventInvitationCreated, pairing.EventPairingRejected:
		m.ClearRelayLinkBetween(a, b)
		m.relink(ctx, a)
		m.relink(ctx, b)
	}
}

// relink points an unlinked participant at the peer of its newest active
// session whose peer is not linked to someone else.
func (m *ManagerService) relink(ctx context.Context, participant string) {
	if m.Sessions == nil || participant == "" {
		return
	}
	if _, ok := m.Partner(participant); ok {
		return
	}
	sessions, err := m.Sessions.ListActiveSessions(ctx, participant)
	if err != nil {
		log.Printf("ERROR: Failed to list sessions to relink %s: %v", participant, err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.linkOf[participant]; ok {
		return
	}
	// Сесії відсортовані від найстаршої, тому йдемо з кінця
	for i := len(sessions) - 1; i >= 0; i-- {
		peer := sessions[i].Peer(participant)
		if peer == participant {
			continue
		}
		if _, busy := m.linkOf[peer]; busy {
			continue
		}
		m.setLocked(participant, peer)
		log.Printf("INFO: Relay link %s <-> %s restored from session %s", participant, peer, sessions[i].ID)
		return
	}
}

// RecoverRelayLinks rebuilds relay links from the active sessions in storage.
// Sessions are applied oldest first, so the newest one wins for a participant.
func (m *ManagerService) RecoverRelayLinks(ctx context.Context) error {
	log.Println("Starting relay link recovery process...")
	if m.Sessions == nil {
		log.Println("WARNING: no session source configured, skipping recovery")
		return nil
	}

	// 1. Отримуємо всі активні сесії
	active, err := m.Sessions.ListAllActiveSessions(ctx)
	if err != nil {
		log.Printf("ERROR: Failed to retrieve active sessions from storage: %v", err)
		return err
	}
	// 2. Відновлюємо зв'язки
	for _, s := range active {
		m.SetRelayLink(s.ParticipantA, s.ParticipantB)
	}

	log.Printf("Recovery complete. Restored relay links from %d active sessions.", len(active))
	return nil
}
