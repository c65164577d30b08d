package gameserver

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/udisondev/warband/internal/protocol"
)

// ClientManager tracks connected clients and their session membership.
// Thread-safe for concurrent access; it is the server's implementation of
// the coordinator's Broadcaster.
type ClientManager struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client             // key: userID
	members map[string]map[string]struct{} // sessionID -> userIDs
}

// NewClientManager creates an empty manager.
func NewClientManager(log *slog.Logger) *ClientManager {
	return &ClientManager{
		log:     log,
		clients: make(map[string]*Client, 256),
		members: make(map[string]map[string]struct{}, 64),
	}
}

// Register adds a client, superseding any previous connection of the same
// user. The old connection, if any, is returned so the caller can close it
// outside the lock.
func (cm *ClientManager) Register(c *Client) *Client {
	cm.mu.Lock()
	old := cm.clients[c.UserID()]
	cm.clients[c.UserID()] = c
	cm.mu.Unlock()

	if old != nil {
		old.Close(websocket.StatusPolicyViolation, protocol.CloseSuperseded)
	}
	return old
}

// Unregister removes a client, but only if it is still the user's current
// connection. A superseded connection unregistering must not evict its
// replacement.
func (cm *ClientManager) Unregister(c *Client) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.clients[c.UserID()] != c {
		return false
	}
	delete(cm.clients, c.UserID())
	return true
}

// Get returns the user's current connection, or nil.
func (cm *ClientManager) Get(userID string) *Client {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.clients[userID]
}

// Count returns the number of connected clients.
func (cm *ClientManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.clients)
}

// Send delivers a push to one user if connected. Implements Broadcaster.
func (cm *ClientManager) Send(userID string, msg protocol.Push) {
	cm.mu.RLock()
	c := cm.clients[userID]
	cm.mu.RUnlock()
	if c == nil {
		return
	}
	c.SendPush(msg)
}

// Broadcast fans a push out to every member of a session, encoding once.
// Implements Broadcaster.
func (cm *ClientManager) Broadcast(sessionID string, msg protocol.Push, excludeUserID string) {
	data, err := json.Marshal(msg)
	if err != nil {
		cm.log.Error("encoding broadcast", "type", msg.Type, "error", err)
		return
	}

	cm.mu.RLock()
	targets := make([]*Client, 0, len(cm.members[sessionID]))
	for uid := range cm.members[sessionID] {
		if uid == excludeUserID {
			continue
		}
		if c := cm.clients[uid]; c != nil {
			targets = append(targets, c)
		}
	}
	cm.mu.RUnlock()

	for _, c := range targets {
		c.Send(data)
	}
}

// AddToSession records session membership. Implements Broadcaster.
func (cm *ClientManager) AddToSession(sessionID, userID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	set, ok := cm.members[sessionID]
	if !ok {
		set = make(map[string]struct{}, 8)
		cm.members[sessionID] = set
	}
	set[userID] = struct{}{}
}

// RemoveFromSession drops one membership. Implements Broadcaster.
func (cm *ClientManager) RemoveFromSession(sessionID, userID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if set, ok := cm.members[sessionID]; ok {
		delete(set, userID)
		if len(set) == 0 {
			delete(cm.members, sessionID)
		}
	}
}

// CloseSession disconnects every member of an ended session, carrying the
// session's close reason to the wire, and forgets the member set. Implements
// Broadcaster.
func (cm *ClientManager) CloseSession(sessionID string, reason string) {
	cm.mu.Lock()
	targets := make([]*Client, 0, len(cm.members[sessionID]))
	for uid := range cm.members[sessionID] {
		if c := cm.clients[uid]; c != nil {
			targets = append(targets, c)
		}
	}
	delete(cm.members, sessionID)
	cm.mu.Unlock()

	for _, c := range targets {
		c.Close(websocket.StatusGoingAway, reason)
	}
}

// CloseAll disconnects every client, used on shutdown.
func (cm *ClientManager) CloseAll(reason string) {
	cm.mu.Lock()
	clients := make([]*Client, 0, len(cm.clients))
	for _, c := range cm.clients {
		clients = append(clients, c)
	}
	cm.clients = make(map[string]*Client)
	cm.members = make(map[string]map[string]struct{})
	cm.mu.Unlock()

	for _, c := range clients {
		c.Close(websocket.StatusGoingAway, reason)
	}
}
