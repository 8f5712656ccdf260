package store

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"chat-core/internal/errs"
	"chat-core/internal/models"
)

// BreakerStore wraps a ChatStore with a circuit breaker. When the backing
// store keeps failing, calls fail fast with the store-unavailable error
// instead of piling up on a dead database. Domain errors (not found,
// forbidden, validation) do not count as failures.
type BreakerStore struct {
	inner ChatStore
	cb    *gobreaker.CircuitBreaker
}

func WithBreaker(inner ChatStore) *BreakerStore {
	settings := gobreaker.Settings{
		Name:    "chat-store",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errs.CodeOf(err) != errs.CodeStoreUnavailable
		},
	}
	return &BreakerStore{inner: inner, cb: gobreaker.NewCircuitBreaker(settings)}
}

func execute[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	res, err := cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, errs.Wrap(errs.CodeStoreUnavailable, "chat store unavailable", err)
		}
		return zero, err
	}
	return res.(T), nil
}

func (b *BreakerStore) FindChatByID(ctx context.Context, chatID string) (*models.Chat, error) {
	return execute(b.cb, func() (*models.Chat, error) {
		return b.inner.FindChatByID(ctx, chatID)
	})
}

func (b *BreakerStore) GetOrCreateDirectChat(ctx context.Context, userA, userB string) (*models.Chat, bool, error) {
	type result struct {
		chat    *models.Chat
		created bool
	}
	res, err := execute(b.cb, func() (result, error) {
		chat, created, err := b.inner.GetOrCreateDirectChat(ctx, userA, userB)
		return result{chat, created}, err
	})
	return res.chat, res.created, err
}

func (b *BreakerStore) ListChatsForUser(ctx context.Context, userID string) ([]models.Chat, error) {
	return execute(b.cb, func() ([]models.Chat, error) {
		return b.inner.ListChatsForUser(ctx, userID)
	})
}

func (b *BreakerStore) ListParticipants(ctx context.Context, chatID string) ([]string, error) {
	return execute(b.cb, func() ([]string, error) {
		return b.inner.ListParticipants(ctx, chatID)
	})
}

func (b *BreakerStore) AppendMessage(ctx context.Context, chatID string, msg *models.Message) (*models.Message, error) {
	return execute(b.cb, func() (*models.Message, error) {
		return b.inner.AppendMessage(ctx, chatID, msg)
	})
}

func (b *BreakerStore) GetMessage(ctx context.Context, chatID, messageID string) (*models.Message, error) {
	return execute(b.cb, func() (*models.Message, error) {
		return b.inner.GetMessage(ctx, chatID, messageID)
	})
}

func (b *BreakerStore) ListRecentMessages(ctx context.Context, chatID string, limit int) ([]models.Message, error) {
	return execute(b.cb, func() ([]models.Message, error) {
		return b.inner.ListRecentMessages(ctx, chatID, limit)
	})
}

func (b *BreakerStore) LatestMessage(ctx context.Context, chatID string) (*models.Message, error) {
	return execute(b.cb, func() (*models.Message, error) {
		return b.inner.LatestMessage(ctx, chatID)
	})
}

func (b *BreakerStore) UpdateLastMessageSummary(ctx context.Context, chatID string, summary *models.LastMessageSummary, basedOnSeq int64) error {
	_, err := execute(b.cb, func() (struct{}, error) {
		return struct{}{}, b.inner.UpdateLastMessageSummary(ctx, chatID, summary, basedOnSeq)
	})
	return err
}

func (b *BreakerStore) EditMessage(ctx context.Context, chatID, messageID, userID, content string) (*models.Message, error) {
	return execute(b.cb, func() (*models.Message, error) {
		return b.inner.EditMessage(ctx, chatID, messageID, userID, content)
	})
}

func (b *BreakerStore) DeleteMessage(ctx context.Context, chatID, messageID, userID string) (*models.Message, error) {
	return execute(b.cb, func() (*models.Message, error) {
		return b.inner.DeleteMessage(ctx, chatID, messageID, userID)
	})
}

func (b *BreakerStore) UpsertReaction(ctx context.Context, chatID, messageID, userID, emoji string) error {
	_, err := execute(b.cb, func() (struct{}, error) {
		return struct{}{}, b.inner.UpsertReaction(ctx, chatID, messageID, userID, emoji)
	})
	return err
}

func (b *BreakerStore) RemoveReaction(ctx context.Context, chatID, messageID, userID string) error {
	_, err := execute(b.cb, func() (struct{}, error) {
		return struct{}{}, b.inner.RemoveReaction(ctx, chatID, messageID, userID)
	})
	return err
}

func (b *BreakerStore) UpsertReadMark(ctx context.Context, chatID, messageID, userID string) (models.ReadMark, bool, error) {
	type result struct {
		mark  models.ReadMark
		fresh bool
	}
	res, err := execute(b.cb, func() (result, error) {
		mark, fresh, err := b.inner.UpsertReadMark(ctx, chatID, messageID, userID)
		return result{mark, fresh}, err
	})
	return res.mark, res.fresh, err
}
