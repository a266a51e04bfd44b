package chathub

import (
	"context"
	"sparkchat/backend/internal/conversation"
	"sparkchat/backend/internal/metrics"
	"sync"

	"github.com/rs/zerolog/log"
)

// ManagerService keeps the registry of live clients. Registration goes through
// the channels and is applied by Run; lookups read the registry directly.
type ManagerService struct {
	RegisterCh   chan Client
	UnregisterCh chan Client

	mu      sync.RWMutex
	clients map[string]map[Client]struct{}

	done chan struct{}
}

func NewManagerService() *ManagerService {
	return &ManagerService{
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		clients:      make(map[string]map[Client]struct{}),
		done:         make(chan struct{}),
	}
}

// Run applies registrations until ctx is done, then closes every client.
func (m *ManagerService) Run(ctx context.Context) {
	log.Info().Msg("chat hub started")
	defer close(m.done)

	for {
		select {
		case c := <-m.RegisterCh:
			m.register(c)
		case c := <-m.UnregisterCh:
			m.unregister(c)
		case <-ctx.Done():
			m.closeAll()
			log.Info().Msg("chat hub stopped")
			return
		}
	}
}

// Register hands c to Run. It does not block once the hub has stopped.
func (m *ManagerService) Register(c Client) bool {
	select {
	case m.RegisterCh <- c:
		return true
	case <-m.done:
		return false
	}
}

// Unregister hands c to Run for removal. It does not block once the hub has stopped.
func (m *ManagerService) Unregister(c Client) {
	select {
	case m.UnregisterCh <- c:
	case <-m.done:
	}
}

// Done is closed when Run has returned.
func (m *ManagerService) Done() <-chan struct{} { return m.done }

func (m *ManagerService) register(c Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.clients[c.GetUserID()]
	if !ok {
		set = make(map[Client]struct{})
		m.clients[c.GetUserID()] = set
	}
	if _, dup := set[c]; dup {
		return
	}
	set[c] = struct{}{}
	metrics.ActiveSessions.Inc()
	log.Info().Str("user", c.GetUserID()).Int("connections", len(set)).Msg("client registered")
}

func (m *ManagerService) unregister(c Client) {
	m.mu.Lock()
	set := m.clients[c.GetUserID()]
	_, ok := set[c]
	if ok {
		delete(set, c)
		if len(set) == 0 {
			delete(m.clients, c.GetUserID())
		}
		metrics.ActiveSessions.Dec()
	}
	m.mu.Unlock()

	if ok {
		c.Close()
		log.Info().Str("user", c.GetUserID()).Msg("client unregistered")
	}
}

func (m *ManagerService) closeAll() {
	m.mu.Lock()
	var all []Client
	for _, set := range m.clients {
		for c := range set {
			all = append(all, c)
			metrics.ActiveSessions.Dec()
		}
	}
	m.clients = make(map[string]map[Client]struct{})
	m.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
}

// IsOnline reports whether the user has at least one live connection.
func (m *ManagerService) IsOnline(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients[userID]) > 0
}

// Count returns the number of live connections.
func (m *ManagerService) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, set := range m.clients {
		n += len(set)
	}
	return n
}

// FindSession returns a live session of userID that has the thread with peerID open.
func (m *ManagerService) FindSession(userID, peerID string) (*conversation.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for c := range m.clients[userID] {
		s := c.Session()
		if s != nil && s.PeerID() == peerID && s.IsOpen() {
			return s, true
		}
	}
	return nil, false
}
