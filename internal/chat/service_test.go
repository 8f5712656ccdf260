package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-core/internal/auth"
	"chat-core/internal/errs"
	"chat-core/internal/models"
	"chat-core/internal/presence"
	"chat-core/internal/rooms"
	"chat-core/internal/socket/sockettest"
	"chat-core/internal/store/memory"
)

func testDirectory() auth.StaticDirectory {
	return auth.StaticDirectory{
		"u1": {ID: "u1", Username: "alice"},
		"u2": {ID: "u2", Username: "bob"},
		"u3": {ID: "u3", Username: "carol"},
	}
}

type fixture struct {
	store    *memory.ChatStore
	typing   *memory.TypingStore
	rooms    *rooms.Manager
	presence *presence.Registry
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.NewChatStore()
	ty := memory.NewTypingStore()
	reg := presence.NewRegistry(50 * time.Millisecond)
	t.Cleanup(reg.Stop)
	mgr := rooms.NewManager(st)
	svc := NewService(st, ty, mgr, reg, testDirectory(), Config{
		MaxContentLength: 1000,
		HistoryLimit:     50,
		TypingTTL:        5 * time.Minute,
	})
	return &fixture{store: st, typing: ty, rooms: mgr, presence: reg, svc: svc}
}

func (f *fixture) seedChat(id string, participants ...string) {
	f.store.Seed(models.Chat{ID: id, Type: models.ChatGroup, Participants: participants})
}

// connect registers presence and joins the chat, returning the fake conn.
func (f *fixture) connect(t *testing.T, userID, username, chatID string) *sockettest.Conn {
	t.Helper()
	c := sockettest.New(userID+"-conn", models.Identity{ID: userID, Username: username})
	f.presence.RegisterConnection(c)
	if chatID != "" {
		require.NoError(t, f.svc.JoinChat(context.Background(), c, chatID))
	}
	return c
}

func TestSendMessageRequiresBody(t *testing.T) {
	f := newFixture(t)
	f.seedChat("c1", "u1", "u2")
	a := f.connect(t, "u1", "alice", "c1")

	_, err := f.svc.SendMessage(context.Background(), a, "c1", models.SendMessageRequest{})
	require.Error(t, err)
	require.Equal(t, errs.CodeValidation, errs.CodeOf(err))

	msgs, err := f.store.ListRecentMessages(context.Background(), "c1", 10)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestSendMessageContentTooLong(t *testing.T) {
	f := newFixture(t)
	f.seedChat("c1", "u1", "u2")
	a := f.connect(t, "u1", "alice", "c1")

	long := make([]rune, 1001)
	for i := range long {
		long[i] = 'x'
	}
	_, err := f.svc.SendMessage(context.Background(), a, "c1", models.SendMessageRequest{Content: string(long)})
	require.Equal(t, errs.CodeValidation, errs.CodeOf(err))
}

func TestSendMessageNonParticipantRejected(t *testing.T) {
	f := newFixture(t)
	f.seedChat("c1", "u1", "u2")
	x := sockettest.New("x-conn", models.Identity{ID: "u9", Username: "mallory"})
	f.presence.RegisterConnection(x)

	_, err := f.svc.SendMessage(context.Background(), x, "c1", models.SendMessageRequest{Content: "hi"})
	require.Equal(t, errs.CodeForbidden, errs.CodeOf(err))
}

func TestSendMessageFansOutToOthersOnly(t *testing.T) {
	f := newFixture(t)
	f.seedChat("c1", "u1", "u2")
	a := f.connect(t, "u1", "alice", "c1")
	b := f.connect(t, "u2", "bob", "c1")

	msg, err := f.svc.SendMessage(context.Background(), a, "c1", models.SendMessageRequest{Content: "hi"})
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)

	got := b.EventsNamed(models.EventNewMessage)
	require.Len(t, got, 1)
	payload := got[0].Payload.(models.MessagePayload)
	require.Equal(t, "u1", payload.Message.SenderID)
	require.Equal(t, "hi", *payload.Message.Content)

	require.Empty(t, a.EventsNamed(models.EventNewMessage), "sender must not receive its own message")
}

func TestSendMessageUpdatesSummary(t *testing.T) {
	f := newFixture(t)
	f.seedChat("c1", "u1", "u2")
	a := f.connect(t, "u1", "alice", "c1")

	_, err := f.svc.SendMessage(context.Background(), a, "c1", models.SendMessageRequest{Content: "first"})
	require.NoError(t, err)
	second, err := f.svc.SendMessage(context.Background(), a, "c1", models.SendMessageRequest{Content: "second"})
	require.NoError(t, err)

	chat, err := f.store.FindChatByID(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, chat.LastMessage)
	require.Equal(t, second.ID, chat.LastMessage.MessageID)
	require.Equal(t, "second", chat.LastMessage.Preview)
}

func TestDeleteRecomputesSummary(t *testing.T) {
	f := newFixture(t)
	f.seedChat("c1", "u1", "u2")
	a := f.connect(t, "u1", "alice", "c1")

	first, err := f.svc.SendMessage(context.Background(), a, "c1", models.SendMessageRequest{Content: "first"})
	require.NoError(t, err)
	second, err := f.svc.SendMessage(context.Background(), a, "c1", models.SendMessageRequest{Content: "second"})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteMessage(context.Background(), a, "c1", second.ID))
	chat, err := f.store.FindChatByID(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, chat.LastMessage)
	require.Equal(t, first.ID, chat.LastMessage.MessageID)

	require.NoError(t, f.svc.DeleteMessage(context.Background(), a, "c1", first.ID))
	chat, err = f.store.FindChatByID(context.Background(), "c1")
	require.NoError(t, err)
	require.Nil(t, chat.LastMessage)
}

func TestEditLatestRefreshesSummary(t *testing.T) {
	f := newFixture(t)
	f.seedChat("c1", "u1", "u2")
	a := f.connect(t, "u1", "alice", "c1")

	first, err := f.svc.SendMessage(context.Background(), a, "c1", models.SendMessageRequest{Content: "first"})
	require.NoError(t, err)
	second, err := f.svc.SendMessage(context.Background(), a, "c1", models.SendMessageRequest{Content: "second"})
	require.NoError(t, err)

	// Editing an older message must not touch the summary.
	_, err = f.svc.EditMessage(context.Background(), a, "c1", models.EditMessageRequest{
		MessageID: first.ID, Content: "first, edited",
	})
	require.NoError(t, err)
	chat, _ := f.store.FindChatByID(context.Background(), "c1")
	require.Equal(t, "second", chat.LastMessage.Preview)

	// Editing the latest one must.
	_, err = f.svc.EditMessage(context.Background(), a, "c1", models.EditMessageRequest{
		MessageID: second.ID, Content: "second, edited",
	})
	require.NoError(t, err)
	chat, _ = f.store.FindChatByID(context.Background(), "c1")
	require.Equal(t, "second, edited", chat.LastMessage.Preview)
}

func TestEditForeignMessageForbidden(t *testing.T) {
	f := newFixture(t)
	f.seedChat("c1", "u1", "u2")
	a := f.connect(t, "u1", "alice", "c1")
	b := f.connect(t, "u2", "bob", "c1")

	msg, err := f.svc.SendMessage(context.Background(), a, "c1", models.SendMessageRequest{Content: "mine"})
	require.NoError(t, err)

	_, err = f.svc.EditMessage(context.Background(), b, "c1", models.EditMessageRequest{
		MessageID: msg.ID, Content: "hijack",
	})
	require.Equal(t, errs.CodeForbidden, errs.CodeOf(err))
}

func TestReactionReplacesNotDuplicates(t *testing.T) {
	f := newFixture(t)
	f.seedChat("c1", "u1", "u2")
	a := f.connect(t, "u1", "alice", "c1")
	b := f.connect(t, "u2", "bob", "c1")

	msg, err := f.svc.SendMessage(context.Background(), a, "c1", models.SendMessageRequest{Content: "hi"})
	require.NoError(t, err)

	require.NoError(t, f.svc.React(context.Background(), b, "c1", models.ReactionRequest{MessageID: msg.ID, Emoji: "👍"}))
	require.NoError(t, f.svc.React(context.Background(), b, "c1", models.ReactionRequest{MessageID: msg.ID, Emoji: "❤️"}))

	stored, err := f.store.GetMessage(context.Background(), "c1", msg.ID)
	require.NoError(t, err)
	require.Len(t, stored.Reactions, 1)
	require.Equal(t, "❤️", stored.Reactions[0].Emoji)

	// Both reaction changes were broadcast to the room.
	require.Len(t, a.EventsNamed(models.EventReaction), 2)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedChat("c1", "u1", "u2")
	a := f.connect(t, "u1", "alice", "c1")
	b := f.connect(t, "u2", "bob", "c1")

	msg, err := f.svc.SendMessage(context.Background(), a, "c1", models.SendMessageRequest{Content: "hi"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.svc.MarkRead(context.Background(), b, "c1", msg.ID))
	}

	stored, err := f.store.GetMessage(context.Background(), "c1", msg.ID)
	require.NoError(t, err)
	require.Len(t, stored.Reads, 1)

	// Only the first call produced a receipt.
	require.Len(t, a.EventsNamed(models.EventReadReceipt), 1)
}

func TestTypingBroadcastExcludesTypist(t *testing.T) {
	f := newFixture(t)
	f.seedChat("c1", "u1", "u2")
	a := f.connect(t, "u1", "alice", "c1")
	b := f.connect(t, "u2", "bob", "c1")

	require.NoError(t, f.svc.TypingStart(context.Background(), a, "c1"))
	got := b.EventsNamed(models.EventUserTyping)
	require.Len(t, got, 1)
	payload := got[0].Payload.(models.TypingPayload)
	require.True(t, payload.IsTyping)
	require.Equal(t, "u1", payload.UserID)
	require.Empty(t, a.EventsNamed(models.EventUserTyping))

	require.NoError(t, f.svc.TypingStop(context.Background(), a, "c1"))
	got = b.EventsNamed(models.EventUserTyping)
	require.Len(t, got, 2)
	require.False(t, got[1].Payload.(models.TypingPayload).IsTyping)
}

func TestTypingExpiresLogicallyWithoutSweep(t *testing.T) {
	f := newFixture(t)
	f.seedChat("c1", "u1", "u2")

	// Entry older than the TTL, never swept.
	require.NoError(t, f.typing.UpsertTypingState(context.Background(), "c1", "u1", time.Now().Add(-6*time.Minute)))
	require.NoError(t, f.typing.UpsertTypingState(context.Background(), "c1", "u2", time.Now()))

	_, typing, err := f.svc.History(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, []string{"u2"}, typing)
}

func TestOutOfRoomParticipantGetsNotification(t *testing.T) {
	f := newFixture(t)
	f.seedChat("c1", "u1", "u2")
	a := f.connect(t, "u1", "alice", "c1")
	// u2 is online but has not joined the room.
	b := f.connect(t, "u2", "bob", "")

	_, err := f.svc.SendMessage(context.Background(), a, "c1", models.SendMessageRequest{Content: "ping"})
	require.NoError(t, err)

	got := b.EventsNamed(models.EventNewMessage)
	require.Len(t, got, 1)
	require.Equal(t, "c1", got[0].ChatID)
}

func TestInRoomParticipantNotDoubleNotified(t *testing.T) {
	f := newFixture(t)
	f.seedChat("c1", "u1", "u2")
	a := f.connect(t, "u1", "alice", "c1")
	b := f.connect(t, "u2", "bob", "c1")

	_, err := f.svc.SendMessage(context.Background(), a, "c1", models.SendMessageRequest{Content: "ping"})
	require.NoError(t, err)

	require.Len(t, b.EventsNamed(models.EventNewMessage), 1)
}

func TestHistoryMasksDeletedMessages(t *testing.T) {
	f := newFixture(t)
	f.seedChat("c1", "u1", "u2")
	a := f.connect(t, "u1", "alice", "c1")

	msg, err := f.svc.SendMessage(context.Background(), a, "c1", models.SendMessageRequest{Content: "secret"})
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteMessage(context.Background(), a, "c1", msg.ID))

	messages, _, err := f.svc.History(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.True(t, messages[0].Deleted)
	require.Nil(t, messages[0].Content)
}

func TestSendMessageFailedRecipientDoesNotFailSend(t *testing.T) {
	f := newFixture(t)
	f.seedChat("c1", "u1", "u2")
	a := f.connect(t, "u1", "alice", "c1")
	b := f.connect(t, "u2", "bob", "c1")
	b.Fail()

	_, err := f.svc.SendMessage(context.Background(), a, "c1", models.SendMessageRequest{Content: "hi"})
	require.NoError(t, err, "delivery is best effort once the message is durable")
}

func TestHistoryForRequiresParticipant(t *testing.T) {
	f := newFixture(t)
	f.seedChat("c1", "u1", "u2")

	_, _, err := f.svc.HistoryFor(context.Background(), "u9", "c1")
	require.Equal(t, errs.CodeForbidden, errs.CodeOf(err))
}

func TestDirectChatUnknownRecipient(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.svc.DirectChat(context.Background(), "u1", "ghost")
	require.Equal(t, errs.CodeNotFound, errs.CodeOf(err))

	chats, err := f.store.ListChatsForUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Empty(t, chats, "no chat may be created against an unknown recipient")
}

func TestDirectChatKnownRecipient(t *testing.T) {
	f := newFixture(t)

	chat, created, err := f.svc.DirectChat(context.Background(), "u1", "u2")
	require.NoError(t, err)
	require.True(t, created)
	require.ElementsMatch(t, []string{"u1", "u2"}, chat.Participants)
}

// stallSummaryStore parks the first summary write until released, so a
// test can interleave a second send while the first sender's derived-cache
// update is still in flight.
type stallSummaryStore struct {
	*memory.ChatStore
	mu      sync.Mutex
	stalled bool
	entered chan struct{}
	release chan struct{}
}

func (s *stallSummaryStore) UpdateLastMessageSummary(ctx context.Context, chatID string, summary *models.LastMessageSummary, basedOnSeq int64) error {
	s.mu.Lock()
	first := !s.stalled
	s.stalled = true
	s.mu.Unlock()
	if first {
		close(s.entered)
		<-s.release
	}
	return s.ChatStore.UpdateLastMessageSummary(ctx, chatID, summary, basedOnSeq)
}

func TestConcurrentSendersKeepNewestSummary(t *testing.T) {
	inner := memory.NewChatStore()
	st := &stallSummaryStore{
		ChatStore: inner,
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	reg := presence.NewRegistry(50 * time.Millisecond)
	t.Cleanup(reg.Stop)
	mgr := rooms.NewManager(st)
	svc := NewService(st, memory.NewTypingStore(), mgr, reg, testDirectory(), Config{})

	inner.Seed(models.Chat{ID: "c1", Type: models.ChatGroup, Participants: []string{"u1", "u2"}})
	a := sockettest.New("a-conn", models.Identity{ID: "u1", Username: "alice"})
	b := sockettest.New("b-conn", models.Identity{ID: "u2", Username: "bob"})
	reg.RegisterConnection(a)
	reg.RegisterConnection(b)
	require.NoError(t, svc.JoinChat(context.Background(), a, "c1"))
	require.NoError(t, svc.JoinChat(context.Background(), b, "c1"))

	done := make(chan error, 1)
	go func() {
		_, err := svc.SendMessage(context.Background(), a, "c1", models.SendMessageRequest{Content: "older"})
		done <- err
	}()
	<-st.entered // first sender is parked inside its summary write

	newer, err := svc.SendMessage(context.Background(), b, "c1", models.SendMessageRequest{Content: "newer"})
	require.NoError(t, err)

	close(st.release)
	require.NoError(t, <-done)

	chat, err := inner.FindChatByID(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, chat.LastMessage)
	require.Equal(t, newer.ID, chat.LastMessage.MessageID)
	require.Equal(t, "newer", chat.LastMessage.Preview)
}
