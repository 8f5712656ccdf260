package models

import "time"

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageVoice  MessageType = "voice"
	MessageEmoji  MessageType = "emoji"
	MessageSystem MessageType = "system"
)

// Message is a single entry in a chat's timeline. Messages are never
// physically removed: deletion only flips the Deleted flag.
type Message struct {
	ID         string      `json:"id"`
	ChatID     string      `json:"chat_id"`
	Seq        int64       `json:"seq"`
	SenderID   string      `json:"sender_id"`
	SenderName string      `json:"sender_name"`
	Type       MessageType `json:"type"`
	Content    *string     `json:"content,omitempty"`
	Media      *string     `json:"media,omitempty"`
	Voice      *string     `json:"voice,omitempty"`
	ReplyToID  *string     `json:"reply_to_id,omitempty"`
	Reactions  []Reaction  `json:"reactions,omitempty"`
	Reads      []ReadMark  `json:"reads,omitempty"`
	Edited     bool        `json:"edited,omitempty"`
	EditedAt   *time.Time  `json:"edited_at,omitempty"`
	Deleted    bool        `json:"deleted,omitempty"`
	DeletedAt  *time.Time  `json:"deleted_at,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Summary derives the last-message cache entry for this message.
func (m *Message) Summary() *LastMessageSummary {
	preview := ""
	if m.Content != nil {
		preview = *m.Content
	}
	return &LastMessageSummary{
		MessageID:  m.ID,
		Seq:        m.Seq,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Preview:    preview,
		Type:       m.Type,
		SentAt:     m.CreatedAt,
	}
}

// Masked returns a copy safe to hand to clients: a deleted message keeps
// its place in the timeline but loses its content, media and voice.
func (m *Message) Masked() Message {
	out := *m
	if out.Deleted {
		out.Content = nil
		out.Media = nil
		out.Voice = nil
		out.Reactions = nil
	}
	return out
}

// Reaction is a per-user emoji on a message. At most one per (message, user):
// a new reaction from the same user replaces the old one.
type Reaction struct {
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// ReadMark records that a user has read a message. Idempotent: at most one
// per (message, user).
type ReadMark struct {
	UserID string    `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

// TypingState is the ephemeral "user is typing" record for one chat.
// Entries older than the typing TTL are logically expired regardless of
// whether the sweeper has removed them yet.
type TypingState struct {
	UserID     string    `json:"user_id"`
	LastTyping time.Time `json:"last_typing"`
}

func (t TypingState) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(t.LastTyping) > ttl
}
