// Package store defines the persistence contracts the chat core consumes.
// The durable document operations and the ephemeral typing operations are
// split so they can be backed independently (postgres and redis in
// production, in-memory in tests).
package store

import (
	"context"
	"time"

	"chat-core/internal/models"
)

// ChatStore is the durable side: chats, messages, reactions, read marks.
// AppendMessage must be atomic with respect to concurrent appends to the
// same chat; implementations may not do read-modify-write of the whole
// conversation.
type ChatStore interface {
	FindChatByID(ctx context.Context, chatID string) (*models.Chat, error)

	// GetOrCreateDirectChat returns the unique 1:1 chat for the pair,
	// creating it if absent. The bool reports whether it was created.
	GetOrCreateDirectChat(ctx context.Context, userA, userB string) (*models.Chat, bool, error)

	ListChatsForUser(ctx context.Context, userID string) ([]models.Chat, error)
	ListParticipants(ctx context.Context, chatID string) ([]string, error)

	// AppendMessage assigns ID, Seq and CreatedAt and persists the message
	// at the tail of the chat's timeline.
	AppendMessage(ctx context.Context, chatID string, msg *models.Message) (*models.Message, error)

	GetMessage(ctx context.Context, chatID, messageID string) (*models.Message, error)

	// ListRecentMessages returns the newest limit messages in append order
	// (oldest of the window first).
	ListRecentMessages(ctx context.Context, chatID string, limit int) ([]models.Message, error)

	// LatestMessage returns the most recently appended non-deleted message,
	// or nil when the chat has none.
	LatestMessage(ctx context.Context, chatID string) (*models.Message, error)

	// UpdateLastMessageSummary replaces the chat's cached summary, but only
	// when the cache does not already mirror a message newer than basedOnSeq.
	// Concurrent writers may apply their updates in any order; the newest
	// message wins regardless.
	UpdateLastMessageSummary(ctx context.Context, chatID string, summary *models.LastMessageSummary, basedOnSeq int64) error

	// EditMessage replaces the content of a message owned by userID.
	EditMessage(ctx context.Context, chatID, messageID, userID, content string) (*models.Message, error)

	// DeleteMessage soft-deletes a message owned by userID.
	DeleteMessage(ctx context.Context, chatID, messageID, userID string) (*models.Message, error)

	// UpsertReaction replaces any prior reaction by userID on the message.
	UpsertReaction(ctx context.Context, chatID, messageID, userID, emoji string) error
	RemoveReaction(ctx context.Context, chatID, messageID, userID string) error

	// UpsertReadMark records the read. The bool is false when the message
	// was already marked read by this user (the call is then a no-op).
	UpsertReadMark(ctx context.Context, chatID, messageID, userID string) (models.ReadMark, bool, error)
}

// TypingStore is the ephemeral side. Callers must apply the TTL on read;
// PurgeTypingOlderThan is only garbage collection.
type TypingStore interface {
	UpsertTypingState(ctx context.Context, chatID, userID string, at time.Time) error
	ClearTypingState(ctx context.Context, chatID, userID string) error

	// ListTyping returns the user ids with a non-expired typing entry.
	ListTyping(ctx context.Context, chatID string, ttl time.Duration) ([]string, error)

	// PurgeTypingOlderThan removes entries older than ttl across all chats
	// and returns how many were dropped.
	PurgeTypingOlderThan(ctx context.Context, ttl time.Duration) (int, error)
}
