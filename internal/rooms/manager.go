// Package rooms scopes event fan-out to the live connections currently
// inside a conversation. Membership here is a projection of who is looking
// at a chat right now; the authoritative participant list lives in the
// chat store and is consulted on every join.
package rooms

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"chat-core/internal/errs"
	"chat-core/internal/models"
	"chat-core/internal/socket"
	"chat-core/internal/store"
)

type Manager struct {
	store store.ChatStore

	mu sync.RWMutex
	// chatID -> connID -> conn
	rooms map[string]map[string]socket.Conn
	// connID -> set of joined chatIDs, for disconnect cleanup
	joined map[string]map[string]struct{}
}

func NewManager(chatStore store.ChatStore) *Manager {
	return &Manager{
		store:  chatStore,
		rooms:  make(map[string]map[string]socket.Conn),
		joined: make(map[string]map[string]struct{}),
	}
}

// Join verifies the caller is a durable participant of the chat before
// creating the membership, then announces the join to the rest of the
// room. A non-participant gets an error and no membership.
func (m *Manager) Join(ctx context.Context, c socket.Conn, chatID string) error {
	participants, err := m.store.ListParticipants(ctx, chatID)
	if err != nil {
		return err
	}
	ident := c.Identity()
	member := false
	for _, id := range participants {
		if id == ident.ID {
			member = true
			break
		}
	}
	if !member {
		return errs.Forbidden("not a participant of this chat")
	}

	m.mu.Lock()
	if _, ok := m.rooms[chatID]; !ok {
		m.rooms[chatID] = make(map[string]socket.Conn)
	}
	m.rooms[chatID][c.ID()] = c
	if _, ok := m.joined[c.ID()]; !ok {
		m.joined[c.ID()] = make(map[string]struct{})
	}
	m.joined[c.ID()][chatID] = struct{}{}
	m.mu.Unlock()

	m.Broadcast(chatID, models.NewEvent(models.EventUserJoined, chatID, models.RoomEventPayload{
		UserID:   ident.ID,
		Username: ident.Username,
	}), c.ID())
	return nil
}

// Leave drops the membership and tells the remaining room members.
func (m *Manager) Leave(c socket.Conn, chatID string) {
	m.mu.Lock()
	removed := false
	if conns, ok := m.rooms[chatID]; ok {
		if _, ok := conns[c.ID()]; ok {
			delete(conns, c.ID())
			removed = true
			if len(conns) == 0 {
				delete(m.rooms, chatID)
			}
		}
	}
	if chats, ok := m.joined[c.ID()]; ok {
		delete(chats, chatID)
		if len(chats) == 0 {
			delete(m.joined, c.ID())
		}
	}
	m.mu.Unlock()

	if removed {
		ident := c.Identity()
		m.Broadcast(chatID, models.NewEvent(models.EventUserLeft, chatID, models.RoomEventPayload{
			UserID:   ident.ID,
			Username: ident.Username,
		}), c.ID())
	}
}

// LeaveAll removes a disconnecting connection from every room it joined
// and returns the chat ids it was in.
func (m *Manager) LeaveAll(c socket.Conn) []string {
	m.mu.Lock()
	var chatIDs []string
	for chatID := range m.joined[c.ID()] {
		chatIDs = append(chatIDs, chatID)
		if conns, ok := m.rooms[chatID]; ok {
			delete(conns, c.ID())
			if len(conns) == 0 {
				delete(m.rooms, chatID)
			}
		}
	}
	delete(m.joined, c.ID())
	m.mu.Unlock()

	ident := c.Identity()
	for _, chatID := range chatIDs {
		m.Broadcast(chatID, models.NewEvent(models.EventUserLeft, chatID, models.RoomEventPayload{
			UserID:   ident.ID,
			Username: ident.Username,
		}), c.ID())
	}
	return chatIDs
}

// Broadcast delivers an event to every connection in the room except the
// optionally excluded one. Delivery is best effort: a failed write is
// logged and never surfaced to the sender, the durable copy is
// authoritative and the recipient catches up on reconnect.
func (m *Manager) Broadcast(chatID string, ev models.Event, excludeConnID string) {
	m.mu.RLock()
	var targets []socket.Conn
	for id, c := range m.rooms[chatID] {
		if id == excludeConnID {
			continue
		}
		targets = append(targets, c)
	}
	m.mu.RUnlock()

	for _, c := range targets {
		if err := c.Send(ev); err != nil {
			log.Debug().Err(err).Str("event", ev.Name).Str("chat_id", chatID).
				Str("conn", c.ID()).Msg("room delivery failed")
		}
	}
}

// IsUserInRoom reports whether any of the user's connections is currently
// inside the room.
func (m *Manager) IsUserInRoom(userID, chatID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.rooms[chatID] {
		if c.Identity().ID == userID {
			return true
		}
	}
	return false
}

// InRoom reports whether a specific connection holds a membership.
func (m *Manager) InRoom(connID, chatID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[chatID][connID]
	return ok
}
