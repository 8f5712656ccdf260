package rooms

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"chat-core/internal/errs"
	"chat-core/internal/models"
	"chat-core/internal/socket/sockettest"
	"chat-core/internal/store/memory"
)

func seededManager() *Manager {
	st := memory.NewChatStore()
	st.Seed(models.Chat{ID: "c1", Type: models.ChatGroup, Participants: []string{"u1", "u2"}})
	st.Seed(models.Chat{ID: "c2", Type: models.ChatGroup, Participants: []string{"u2", "u3"}})
	return NewManager(st)
}

func conn(connID, userID string) *sockettest.Conn {
	return sockettest.New(connID, models.Identity{ID: userID, Username: userID})
}

func TestJoinNotifiesOtherMembers(t *testing.T) {
	m := seededManager()
	a := conn("a1", "u1")
	b := conn("b1", "u2")

	require.NoError(t, m.Join(context.Background(), a, "c1"))
	require.NoError(t, m.Join(context.Background(), b, "c1"))

	got := a.EventsNamed(models.EventUserJoined)
	require.Len(t, got, 1)
	require.Equal(t, "u2", got[0].Payload.(models.RoomEventPayload).UserID)
	require.Empty(t, b.EventsNamed(models.EventUserJoined), "joiner is excluded")
}

func TestJoinNonParticipantRejected(t *testing.T) {
	m := seededManager()
	a := conn("a1", "u1")

	err := m.Join(context.Background(), a, "c2")
	require.Equal(t, errs.CodeForbidden, errs.CodeOf(err))
	require.False(t, m.InRoom("a1", "c2"), "no membership on failed join")

	// Broadcasts to c2 never reach the rejected connection.
	m.Broadcast("c2", models.NewEvent(models.EventNewMessage, "c2", nil), "")
	require.Empty(t, a.EventsNamed(models.EventNewMessage))
}

func TestJoinUnknownChat(t *testing.T) {
	m := seededManager()
	a := conn("a1", "u1")
	err := m.Join(context.Background(), a, "nope")
	require.Equal(t, errs.CodeNotFound, errs.CodeOf(err))
}

func TestBroadcastExcludesConnection(t *testing.T) {
	m := seededManager()
	a := conn("a1", "u1")
	b := conn("b1", "u2")
	require.NoError(t, m.Join(context.Background(), a, "c1"))
	require.NoError(t, m.Join(context.Background(), b, "c1"))

	m.Broadcast("c1", models.NewEvent(models.EventNewMessage, "c1", nil), "a1")
	require.Empty(t, a.EventsNamed(models.EventNewMessage))
	require.Len(t, b.EventsNamed(models.EventNewMessage), 1)
}

func TestBroadcastSurvivesDeadConnection(t *testing.T) {
	m := seededManager()
	a := conn("a1", "u1")
	b := conn("b1", "u2")
	require.NoError(t, m.Join(context.Background(), a, "c1"))
	require.NoError(t, m.Join(context.Background(), b, "c1"))
	b.Fail()

	// Must not panic or error; the healthy member still gets the event.
	m.Broadcast("c1", models.NewEvent(models.EventNewMessage, "c1", nil), "")
	require.Len(t, a.EventsNamed(models.EventNewMessage), 1)
}

func TestLeaveNotifiesRoom(t *testing.T) {
	m := seededManager()
	a := conn("a1", "u1")
	b := conn("b1", "u2")
	require.NoError(t, m.Join(context.Background(), a, "c1"))
	require.NoError(t, m.Join(context.Background(), b, "c1"))

	m.Leave(a, "c1")
	got := b.EventsNamed(models.EventUserLeft)
	require.Len(t, got, 1)
	require.Equal(t, "u1", got[0].Payload.(models.RoomEventPayload).UserID)
	require.False(t, m.InRoom("a1", "c1"))
}

func TestLeaveAllCleansEveryMembership(t *testing.T) {
	m := seededManager()
	b := conn("b1", "u2")
	require.NoError(t, m.Join(context.Background(), b, "c1"))
	require.NoError(t, m.Join(context.Background(), b, "c2"))

	chats := m.LeaveAll(b)
	require.ElementsMatch(t, []string{"c1", "c2"}, chats)
	require.False(t, m.InRoom("b1", "c1"))
	require.False(t, m.InRoom("b1", "c2"))
	require.False(t, m.IsUserInRoom("u2", "c1"))
}

func TestIsUserInRoomSeesAnyConnection(t *testing.T) {
	m := seededManager()
	b1 := conn("b1", "u2")
	require.NoError(t, m.Join(context.Background(), b1, "c1"))

	require.True(t, m.IsUserInRoom("u2", "c1"))
	require.False(t, m.IsUserInRoom("u1", "c1"))
}
