// Package redis implements store.TypingStore on a redis hash per chat.
// Typing state is throwaway: every key carries an expiry of twice the
// typing TTL so even an unswept chat cannot leak entries forever.
package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const typingKeyPrefix = "typing:" // typing:{chatID} -> hash of userID -> unix ms

type TypingStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewTypingStore(rdb *redis.Client, ttl time.Duration) *TypingStore {
	return &TypingStore{rdb: rdb, ttl: ttl}
}

func (s *TypingStore) UpsertTypingState(ctx context.Context, chatID, userID string, at time.Time) error {
	key := typingKeyPrefix + chatID
	if err := s.rdb.HSet(ctx, key, userID, at.UnixMilli()).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, key, 2*s.ttl).Err()
}

func (s *TypingStore) ClearTypingState(ctx context.Context, chatID, userID string) error {
	return s.rdb.HDel(ctx, typingKeyPrefix+chatID, userID).Err()
}

func (s *TypingStore) ListTyping(ctx context.Context, chatID string, ttl time.Duration) ([]string, error) {
	entries, err := s.rdb.HGetAll(ctx, typingKeyPrefix+chatID).Result()
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-ttl).UnixMilli()
	var users []string
	for userID, raw := range entries {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms < cutoff {
			continue
		}
		users = append(users, userID)
	}
	return users, nil
}

func (s *TypingStore) PurgeTypingOlderThan(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().Add(-ttl).UnixMilli()
	purged := 0

	iter := s.rdb.Scan(ctx, 0, typingKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		entries, err := s.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return purged, err
		}
		var stale []string
		for userID, raw := range entries {
			ms, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || ms < cutoff {
				stale = append(stale, userID)
			}
		}
		if len(stale) > 0 {
			if err := s.rdb.HDel(ctx, key, stale...).Err(); err != nil {
				return purged, err
			}
			purged += len(stale)
		}
	}
	return purged, iter.Err()
}
