package models

import "time"

type ChatType string

const (
	ChatDirect ChatType = "direct"
	ChatGroup  ChatType = "group"
)

// Chat is the authoritative conversation document: participant list plus
// the denormalized last-message summary used for conversation lists.
type Chat struct {
	ID           string              `json:"id"`
	Type         ChatType            `json:"type"`
	Participants []string            `json:"participants"`
	LastMessage  *LastMessageSummary `json:"last_message,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
}

// LastMessageSummary mirrors the most recent non-deleted message of a chat.
// It is a derived cache, always recomputed from the message itself. Seq is
// the mirrored message's sequence number; stores use it to reject stale
// writes when summary updates race.
type LastMessageSummary struct {
	MessageID  string      `json:"message_id"`
	Seq        int64       `json:"seq"`
	SenderID   string      `json:"sender_id"`
	SenderName string      `json:"sender_name"`
	Preview    string      `json:"preview"`
	Type       MessageType `json:"type"`
	SentAt     time.Time   `json:"sent_at"`
}

// IsParticipant reports whether userID is on the chat's participant list.
func (c *Chat) IsParticipant(userID string) bool {
	for _, id := range c.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

// ChatListItem is the conversation-list row returned by the REST API.
type ChatListItem struct {
	ID          string              `json:"id"`
	Type        ChatType            `json:"type"`
	LastMessage *LastMessageSummary `json:"last_message,omitempty"`
	OtherUser   *PresenceInfo       `json:"other_user,omitempty"`
}
