package chat

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"chat-core/internal/store"
)

// Sweeper is the physical garbage collector for typing state. Correctness
// never depends on it: readers apply the TTL themselves. The sweep
// interval is therefore allowed to lag the TTL, but defaults to half of it
// so stale entries rarely outlive one extra window.
type Sweeper struct {
	typing   store.TypingStore
	ttl      time.Duration
	interval time.Duration
}

func NewSweeper(typing store.TypingStore, ttl, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = ttl / 2
	}
	return &Sweeper{typing: typing, ttl: ttl, interval: interval}
}

// Run blocks, purging on every tick until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := s.typing.PurgeTypingOlderThan(ctx, s.ttl)
			if err != nil {
				log.Warn().Err(err).Msg("typing sweep failed")
				continue
			}
			if purged > 0 {
				log.Debug().Int("purged", purged).Msg("typing sweep")
			}
		}
	}
}
