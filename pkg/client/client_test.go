package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fourducktion/party-lobby/internal/directory"
	"github.com/fourducktion/party-lobby/internal/httpapi"
	"github.com/fourducktion/party-lobby/internal/hub"
	"github.com/fourducktion/party-lobby/internal/lobby"
	"github.com/fourducktion/party-lobby/pkg/replica"
	"github.com/fourducktion/party-lobby/pkg/types"
)

const within = 2 * time.Second

func newTestServer(t *testing.T) (*hub.Hub, *httptest.Server) {
	t.Helper()
	log := zap.NewNop()
	cfg := lobby.DefaultConfig()
	cfg.CutsceneDuration = 20 * time.Millisecond
	cfg.Destinations = []lobby.Destination{{Cutscene: "Planet_A", Minigame: "Minigame_A"}}
	reg := directory.NewRegistry(directory.NewMemoryStore(), log)

	ctx, cancel := context.WithCancel(context.Background())
	h := hub.NewHub(ctx, log, cfg, lobby.WithDirectory(reg))
	srv := httptest.NewServer(httpapi.SetupRoutes(httpapi.Deps{Hub: h, Directory: reg, Log: log}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-h.Done()
	})
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server, name, token string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()
	c, err := Dial(ctx, srv.URL, "ABC123", name, token, WithAutoAck())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestWSURL(t *testing.T) {
	u, err := wsURL("https://example.com/game/", "ABC123", "Ann", "tok")
	require.NoError(t, err)
	assert.Equal(t, "wss://example.com/game/ws?code=ABC123&name=Ann&token=tok", u)

	u, err = wsURL("http://localhost:8080", "ABC123", "", "")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws?code=ABC123", u)
}

func TestListEvent(t *testing.T) {
	entry := types.RosterEntry{ID: 2, Ready: true}
	ev := listEvent(types.RosterChange{Op: "set", Index: 1, Entry: &entry})
	assert.Equal(t, replica.ListEvent[types.RosterEntry]{Op: replica.OpSet, Index: 1, Value: entry}, ev)

	ev = listEvent(types.RosterChange{Op: "reset"})
	assert.Equal(t, []types.RosterEntry{}, ev.Items)
}

func TestDial_UnknownLobby(t *testing.T) {
	_, srv := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()

	_, err := Dial(ctx, srv.URL, "NOPE00", "Ann", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestClient_SessionRoundTrip(t *testing.T) {
	h, srv := newTestServer(t)
	_, err := h.Create("ABC123", "tok")
	require.NoError(t, err)
	ctx := context.Background()

	host := dial(t, srv, "Ann", "tok")
	require.True(t, host.Host)
	assert.True(t, host.Gate.Get(), "a host alone may start")

	bob := dial(t, srv, "Bob", "")
	require.False(t, bob.Host)
	assert.Equal(t, types.Position{X: -1}, bob.Position.Get())
	assert.Equal(t, []types.RosterEntry{{ID: bob.You}}, bob.Roster.Items())

	require.Eventually(t, func() bool {
		return host.Roster.Len() == 1 && !host.Gate.Get()
	}, within, 5*time.Millisecond)

	require.NoError(t, bob.SetReady(ctx, true))
	require.Eventually(t, host.Gate.Get, within, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		items := bob.Roster.Items()
		return len(items) == 1 && items[0].Ready
	}, within, 5*time.Millisecond)

	require.NoError(t, host.BeginSession(ctx))
	require.Eventually(t, func() bool {
		return bob.Context.Get() == "Minigame_A" && host.Phase.Get() == "transitioning"
	}, within, 5*time.Millisecond)

	// Votes are refused until both have finished loading the minigame.
	require.Eventually(t, func() bool {
		_ = bob.ReturnVote(ctx)
		time.Sleep(10 * time.Millisecond)
		return host.ReturnGate.Get()
	}, within, 20*time.Millisecond)

	require.NoError(t, host.ReturnToLobby(ctx))
	require.Eventually(t, func() bool {
		return bob.Context.Get() == "LobbyScene" && bob.Phase.Get() == "awaiting_ready"
	}, within, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		return !host.Gate.Get() && !host.ReturnGate.Get() && host.Phase.Get() == "awaiting_ready"
	}, within, 5*time.Millisecond)
	assert.Equal(t, []types.RosterEntry{{ID: bob.You}}, host.Roster.Items())
	assert.Equal(t, types.Position{X: -1}, bob.Position.Get())
}

func TestClient_HostLeaving_ClosesClient(t *testing.T) {
	h, srv := newTestServer(t)
	_, err := h.Create("ABC123", "tok")
	require.NoError(t, err)

	host := dial(t, srv, "Ann", "tok")
	bob := dial(t, srv, "Bob", "")

	require.NoError(t, host.Close())

	var last types.ServerMessage
	for ev := range bob.Events() {
		last = ev
	}
	assert.Equal(t, types.MsgClosed, last.Type)
	assert.NoError(t, bob.Err())
}
