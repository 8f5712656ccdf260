package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-core/internal/store/memory"
)

func TestSweeperPurgesOnlyStaleEntries(t *testing.T) {
	typing := memory.NewTypingStore()
	ctx := context.Background()

	require.NoError(t, typing.UpsertTypingState(ctx, "c1", "stale", time.Now().Add(-10*time.Minute)))
	require.NoError(t, typing.UpsertTypingState(ctx, "c1", "fresh", time.Now()))
	require.NoError(t, typing.UpsertTypingState(ctx, "c2", "stale2", time.Now().Add(-time.Hour)))

	sweeper := NewSweeper(typing, 5*time.Minute, 10*time.Millisecond)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		sweeper.Run(runCtx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return typing.Count() == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done

	users, err := typing.ListTyping(ctx, "c1", 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, []string{"fresh"}, users)
}

func TestSweeperDefaultsToHalfTTL(t *testing.T) {
	s := NewSweeper(memory.NewTypingStore(), 5*time.Minute, 0)
	require.Equal(t, 150*time.Second, s.interval)
}
