package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"chat-core/internal/errs"
	"chat-core/internal/models"
)

func TestGetOrCreateDirectChatSamePairBothOrders(t *testing.T) {
	s := NewChatStore()
	ctx := context.Background()

	chat, created, err := s.GetOrCreateDirectChat(ctx, "u1", "u2")
	require.NoError(t, err)
	require.True(t, created)

	again, created, err := s.GetOrCreateDirectChat(ctx, "u2", "u1")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, chat.ID, again.ID)
}

func TestAppendMessageAssignsMonotonicSeq(t *testing.T) {
	s := NewChatStore()
	ctx := context.Background()
	chat, _, err := s.GetOrCreateDirectChat(ctx, "u1", "u2")
	require.NoError(t, err)

	var prev int64
	for i := 0; i < 5; i++ {
		content := "hello"
		m, err := s.AppendMessage(ctx, chat.ID, &models.Message{
			SenderID: "u1",
			Type:     models.MessageText,
			Content:  &content,
		})
		require.NoError(t, err)
		require.Greater(t, m.Seq, prev)
		prev = m.Seq
	}

	msgs, err := s.ListRecentMessages(ctx, chat.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	for i := 1; i < len(msgs); i++ {
		require.Greater(t, msgs[i].Seq, msgs[i-1].Seq)
	}
}

func TestSummaryUpdateIgnoresStaleWrites(t *testing.T) {
	s := NewChatStore()
	ctx := context.Background()
	chat, _, err := s.GetOrCreateDirectChat(ctx, "u1", "u2")
	require.NoError(t, err)

	older := "older"
	newer := "newer"
	m1, err := s.AppendMessage(ctx, chat.ID, &models.Message{SenderID: "u1", Type: models.MessageText, Content: &older})
	require.NoError(t, err)
	m2, err := s.AppendMessage(ctx, chat.ID, &models.Message{SenderID: "u2", Type: models.MessageText, Content: &newer})
	require.NoError(t, err)

	// Updates land out of order; the one for the newer message must win.
	require.NoError(t, s.UpdateLastMessageSummary(ctx, chat.ID, m2.Summary(), m2.Seq))
	require.NoError(t, s.UpdateLastMessageSummary(ctx, chat.ID, m1.Summary(), m1.Seq))

	got, err := s.FindChatByID(ctx, chat.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastMessage)
	require.Equal(t, m2.ID, got.LastMessage.MessageID)

	// A clear based on the newest seq still applies.
	require.NoError(t, s.UpdateLastMessageSummary(ctx, chat.ID, nil, m2.Seq))
	got, err = s.FindChatByID(ctx, chat.ID)
	require.NoError(t, err)
	require.Nil(t, got.LastMessage)
}

func TestLatestMessageSkipsDeleted(t *testing.T) {
	s := NewChatStore()
	ctx := context.Background()
	chat, _, err := s.GetOrCreateDirectChat(ctx, "u1", "u2")
	require.NoError(t, err)

	first := "first"
	second := "second"
	_, err = s.AppendMessage(ctx, chat.ID, &models.Message{SenderID: "u1", Type: models.MessageText, Content: &first})
	require.NoError(t, err)
	m2, err := s.AppendMessage(ctx, chat.ID, &models.Message{SenderID: "u1", Type: models.MessageText, Content: &second})
	require.NoError(t, err)

	_, err = s.DeleteMessage(ctx, chat.ID, m2.ID, "u1")
	require.NoError(t, err)

	latest, err := s.LatestMessage(ctx, chat.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, "first", *latest.Content)
}

func TestEditMessageBySenderOnly(t *testing.T) {
	s := NewChatStore()
	ctx := context.Background()
	chat, _, err := s.GetOrCreateDirectChat(ctx, "u1", "u2")
	require.NoError(t, err)

	content := "original"
	m, err := s.AppendMessage(ctx, chat.ID, &models.Message{SenderID: "u1", Type: models.MessageText, Content: &content})
	require.NoError(t, err)

	_, err = s.EditMessage(ctx, chat.ID, m.ID, "u2", "hijacked")
	require.Equal(t, errs.CodeForbidden, errs.CodeOf(err))

	edited, err := s.EditMessage(ctx, chat.ID, m.ID, "u1", "fixed")
	require.NoError(t, err)
	require.True(t, edited.Edited)
	require.Equal(t, "fixed", *edited.Content)
}

func TestUpsertReactionReplacesPrevious(t *testing.T) {
	s := NewChatStore()
	ctx := context.Background()
	chat, _, err := s.GetOrCreateDirectChat(ctx, "u1", "u2")
	require.NoError(t, err)

	content := "hi"
	m, err := s.AppendMessage(ctx, chat.ID, &models.Message{SenderID: "u1", Type: models.MessageText, Content: &content})
	require.NoError(t, err)

	require.NoError(t, s.UpsertReaction(ctx, chat.ID, m.ID, "u2", "👍"))
	require.NoError(t, s.UpsertReaction(ctx, chat.ID, m.ID, "u2", "❤️"))

	got, err := s.GetMessage(ctx, chat.ID, m.ID)
	require.NoError(t, err)
	require.Len(t, got.Reactions, 1)
	require.Equal(t, "❤️", got.Reactions[0].Emoji)
}

func TestUpsertReadMarkIdempotent(t *testing.T) {
	s := NewChatStore()
	ctx := context.Background()
	chat, _, err := s.GetOrCreateDirectChat(ctx, "u1", "u2")
	require.NoError(t, err)

	content := "hi"
	m, err := s.AppendMessage(ctx, chat.ID, &models.Message{SenderID: "u1", Type: models.MessageText, Content: &content})
	require.NoError(t, err)

	first, fresh, err := s.UpsertReadMark(ctx, chat.ID, m.ID, "u2")
	require.NoError(t, err)
	require.True(t, fresh)

	second, fresh, err := s.UpsertReadMark(ctx, chat.ID, m.ID, "u2")
	require.NoError(t, err)
	require.False(t, fresh)
	require.Equal(t, first.ReadAt, second.ReadAt)
}
