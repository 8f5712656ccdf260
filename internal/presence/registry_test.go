package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-core/internal/models"
	"chat-core/internal/socket/sockettest"
)

func ident(id string) models.Identity {
	return models.Identity{ID: id, Username: id}
}

func TestRegisterBroadcastsOnlineToOthers(t *testing.T) {
	r := NewRegistry(time.Minute)
	defer r.Stop()

	a := sockettest.New("a1", ident("ua"))
	require.True(t, r.RegisterConnection(a))

	b := sockettest.New("b1", ident("ub"))
	require.True(t, r.RegisterConnection(b))

	got := a.EventsNamed(models.EventUserOnline)
	require.Len(t, got, 1)
	require.Equal(t, "ub", got[0].Payload.(models.PresenceInfo).UserID)
	require.Empty(t, b.EventsNamed(models.EventUserOnline), "no self notification")
}

func TestSecondConnectionIsNotAnOnlineTransition(t *testing.T) {
	r := NewRegistry(time.Minute)
	defer r.Stop()

	other := sockettest.New("o1", ident("uo"))
	r.RegisterConnection(other)

	first := sockettest.New("a1", ident("ua"))
	require.True(t, r.RegisterConnection(first))
	second := sockettest.New("a2", ident("ua"))
	require.False(t, r.RegisterConnection(second))

	require.Len(t, other.EventsNamed(models.EventUserOnline), 1)
}

func TestOfflineDeferredByGraceWindow(t *testing.T) {
	r := NewRegistry(40 * time.Millisecond)
	defer r.Stop()

	watcher := sockettest.New("w1", ident("uw"))
	r.RegisterConnection(watcher)
	a := sockettest.New("a1", ident("ua"))
	r.RegisterConnection(a)

	r.DeregisterConnection("ua", "a1")
	require.Empty(t, watcher.EventsNamed(models.EventUserOffline),
		"no offline broadcast before the grace window expires")
	require.False(t, r.IsOnline("ua"))

	require.Eventually(t, func() bool {
		return len(watcher.EventsNamed(models.EventUserOffline)) == 1
	}, time.Second, 5*time.Millisecond)

	got := watcher.EventsNamed(models.EventUserOffline)
	info := got[0].Payload.(models.PresenceInfo)
	require.Equal(t, "ua", info.UserID)
	require.False(t, info.LastSeen.IsZero())
}

func TestReconnectWithinGraceSuppressesOffline(t *testing.T) {
	r := NewRegistry(60 * time.Millisecond)
	defer r.Stop()

	watcher := sockettest.New("w1", ident("uw"))
	r.RegisterConnection(watcher)
	a := sockettest.New("a1", ident("ua"))
	r.RegisterConnection(a)
	onlineBefore := len(watcher.EventsNamed(models.EventUserOnline))

	r.DeregisterConnection("ua", "a1")
	time.Sleep(20 * time.Millisecond)

	a2 := sockettest.New("a2", ident("ua"))
	cameOnline := r.RegisterConnection(a2)
	require.False(t, cameOnline, "reconnect inside the grace window is invisible")

	time.Sleep(100 * time.Millisecond)
	require.Empty(t, watcher.EventsNamed(models.EventUserOffline))
	require.Len(t, watcher.EventsNamed(models.EventUserOnline), onlineBefore,
		"no duplicate online broadcast either")
	require.True(t, r.IsOnline("ua"))
}

func TestUpdateStatusBroadcasts(t *testing.T) {
	r := NewRegistry(time.Minute)
	defer r.Stop()

	watcher := sockettest.New("w1", ident("uw"))
	r.RegisterConnection(watcher)
	a := sockettest.New("a1", ident("ua"))
	r.RegisterConnection(a)

	r.UpdateStatus("ua", models.StatusAway)

	got := watcher.EventsNamed(models.EventStatusUpdate)
	require.Len(t, got, 1)
	info := got[0].Payload.(models.PresenceInfo)
	require.Equal(t, models.StatusAway, info.Status)
	require.Empty(t, a.EventsNamed(models.EventStatusUpdate))
	require.Equal(t, models.StatusAway, r.Info("ua").Status)
}

func TestSendToUserReachesAllConnections(t *testing.T) {
	r := NewRegistry(time.Minute)
	defer r.Stop()

	a1 := sockettest.New("a1", ident("ua"))
	a2 := sockettest.New("a2", ident("ua"))
	r.RegisterConnection(a1)
	r.RegisterConnection(a2)

	r.SendToUser("ua", models.NewEvent(models.EventNewMessage, "c1", nil))
	require.Len(t, a1.EventsNamed(models.EventNewMessage), 1)
	require.Len(t, a2.EventsNamed(models.EventNewMessage), 1)
}
