// Package presence tracks which users are live on this process and fans
// presence transitions out to every other connection. The registry is an
// injected dependency, never a package-level singleton, so handlers can be
// torn down cleanly and tests can run several instances side by side.
package presence

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"chat-core/internal/models"
	"chat-core/internal/socket"
)

type entry struct {
	ident      models.Identity
	conns      map[string]socket.Conn
	status     models.PresenceStatus
	lastSeen   time.Time
	graceTimer *time.Timer
}

type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	grace   time.Duration
	stopped bool
}

// NewRegistry builds a registry whose disconnect announcements are delayed
// by grace: a reconnect inside that window is invisible to everyone else.
func NewRegistry(grace time.Duration) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		grace:   grace,
	}
}

// RegisterConnection attaches a connection to its user's presence entry and
// reports whether the user just became visible (first connection, and not a
// reconnect within the grace window). Only that transition is announced.
func (r *Registry) RegisterConnection(c socket.Conn) bool {
	ident := c.Identity()

	r.mu.Lock()
	e, ok := r.entries[ident.ID]
	cameOnline := !ok
	if !ok {
		e = &entry{
			ident: ident,
			conns: make(map[string]socket.Conn),
		}
		r.entries[ident.ID] = e
	}
	if e.graceTimer != nil {
		// Reconnected before the offline announcement fired.
		e.graceTimer.Stop()
		e.graceTimer = nil
	}
	e.conns[c.ID()] = c
	e.status = models.StatusOnline
	e.lastSeen = time.Now()
	var targets []socket.Conn
	if cameOnline {
		targets = r.connsExceptLocked(ident.ID)
	}
	r.mu.Unlock()

	if cameOnline {
		deliver(targets, models.NewEvent(models.EventUserOnline, "", models.PresenceInfo{
			UserID:   ident.ID,
			Username: ident.Username,
			Status:   models.StatusOnline,
		}))
	}
	return cameOnline
}

// DeregisterConnection removes one connection. When it was the user's last,
// the offline announcement is deferred by the grace window so a quick
// reconnect never flaps the user's presence.
func (r *Registry) DeregisterConnection(userID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userID]
	if !ok {
		return
	}
	delete(e.conns, connID)
	if len(e.conns) > 0 {
		return
	}
	e.lastSeen = time.Now()
	if r.stopped {
		delete(r.entries, userID)
		return
	}
	if e.graceTimer != nil {
		e.graceTimer.Stop()
	}
	e.graceTimer = time.AfterFunc(r.grace, func() {
		r.expire(userID)
	})
}

// expire finalizes a disconnect after the grace window: the entry is
// removed and user_offline goes out with the last-seen timestamp.
func (r *Registry) expire(userID string) {
	r.mu.Lock()
	e, ok := r.entries[userID]
	if !ok || len(e.conns) > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.entries, userID)
	targets := r.connsExceptLocked(userID)
	info := models.PresenceInfo{
		UserID:   e.ident.ID,
		Username: e.ident.Username,
		Status:   models.StatusOffline,
		LastSeen: e.lastSeen,
	}
	r.mu.Unlock()

	deliver(targets, models.NewEvent(models.EventUserOffline, "", info))
}

// UpdateStatus records a status change and announces it to everyone else.
func (r *Registry) UpdateStatus(userID string, status models.PresenceStatus) {
	r.mu.Lock()
	e, ok := r.entries[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.status = status
	e.lastSeen = time.Now()
	info := models.PresenceInfo{
		UserID:   e.ident.ID,
		Username: e.ident.Username,
		Status:   status,
		LastSeen: e.lastSeen,
	}
	targets := r.connsExceptLocked(userID)
	r.mu.Unlock()

	deliver(targets, models.NewEvent(models.EventStatusUpdate, "", info))
}

// SendToUser delivers an event to every live connection of one user. This
// is the personal notification channel used for out-of-room participants.
func (r *Registry) SendToUser(userID string, ev models.Event) {
	r.mu.RLock()
	var targets []socket.Conn
	if e, ok := r.entries[userID]; ok {
		for _, c := range e.conns {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()
	deliver(targets, ev)
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[userID]
	return ok && len(e.conns) > 0
}

// Info returns the visible presence of a user, offline when unknown.
func (r *Registry) Info(userID string) models.PresenceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[userID]
	if !ok {
		return models.PresenceInfo{UserID: userID, Status: models.StatusOffline}
	}
	return models.PresenceInfo{
		UserID:   e.ident.ID,
		Username: e.ident.Username,
		Status:   e.status,
		LastSeen: e.lastSeen,
	}
}

// Snapshot lists the presence of every known user.
func (r *Registry) Snapshot() []models.PresenceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.PresenceInfo, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, models.PresenceInfo{
			UserID:   e.ident.ID,
			Username: e.ident.Username,
			Status:   e.status,
			LastSeen: e.lastSeen,
		})
	}
	return out
}

// Stop cancels pending grace timers. Entries for still-open connections
// are kept; subsequent disconnects are dropped silently.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	for _, e := range r.entries {
		if e.graceTimer != nil {
			e.graceTimer.Stop()
			e.graceTimer = nil
		}
	}
}

// connsExceptLocked collects every connection not owned by userID. Caller
// holds the lock.
func (r *Registry) connsExceptLocked(userID string) []socket.Conn {
	var targets []socket.Conn
	for uid, e := range r.entries {
		if uid == userID {
			continue
		}
		for _, c := range e.conns {
			targets = append(targets, c)
		}
	}
	return targets
}

func deliver(targets []socket.Conn, ev models.Event) {
	for _, c := range targets {
		if err := c.Send(ev); err != nil {
			log.Debug().Err(err).Str("event", ev.Name).Str("conn", c.ID()).
				Msg("presence delivery failed")
		}
	}
}
