package models

import "time"

// Identity is the authenticated user behind a connection, resolved once at
// connect time from the bearer token.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusBusy    PresenceStatus = "busy"
	StatusOffline PresenceStatus = "offline"
)

// Valid reports whether s is one of the recognized presence statuses.
func (s PresenceStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return true
	}
	return false
}

// PresenceInfo is the externally visible presence of a user.
type PresenceInfo struct {
	UserID   string         `json:"user_id"`
	Username string         `json:"username"`
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"last_seen"`
}
