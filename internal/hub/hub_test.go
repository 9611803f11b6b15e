package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fourducktion/party-lobby/internal/lobby"
	"github.com/fourducktion/party-lobby/pkg/types"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub(ctx, zap.NewNop(), lobby.DefaultConfig())
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return h
}

func joinHost(t *testing.T, lb *lobby.Lobby, token string) chan types.ServerMessage {
	t.Helper()
	out := make(chan types.ServerMessage, 16)
	reply := make(chan lobby.JoinResult, 1)
	require.True(t, lb.Send(lobby.Join{Name: "Ann", Token: token, Outbox: out, Reply: reply}))
	res := <-reply
	require.NoError(t, res.Err)
	require.True(t, res.Host)
	return out
}

func TestHub_Create_Get_SamePointer(t *testing.T) {
	h := newTestHub(t)

	lb1, err := h.Create("ZED123", "tok")
	require.NoError(t, err)

	lb2 := h.Get("ZED123")
	require.NotNil(t, lb2)
	assert.Same(t, lb1, lb2)
	assert.Equal(t, "ZED123", lb2.Code())
	assert.Nil(t, h.Get("NOPE00"))
}

func TestHub_CreateTakenCode(t *testing.T) {
	h := newTestHub(t)

	_, err := h.Create("ZED123", "tok")
	require.NoError(t, err)
	_, err = h.Create("ZED123", "other")
	assert.ErrorIs(t, err, ErrCodeTaken)
	assert.Equal(t, 1, h.Count())
}

func TestHub_HostTokenIsPerLobby(t *testing.T) {
	h := newTestHub(t)

	lb, err := h.Create("ZED123", "tok")
	require.NoError(t, err)

	reply := make(chan lobby.JoinResult, 1)
	lb.Send(lobby.Join{Token: "wrong", Outbox: make(chan types.ServerMessage, 4), Reply: reply})
	assert.ErrorIs(t, (<-reply).Err, lobby.ErrHostAbsent)

	joinHost(t, lb, "tok")
}

func TestHub_ClosedLobbyIsRemoved(t *testing.T) {
	h := newTestHub(t)

	lb, err := h.Create("ZED123", "tok")
	require.NoError(t, err)
	require.NoError(t, lb.Close(context.Background()))

	assert.Eventually(t, func() bool { return h.Count() == 0 }, time.Second, 5*time.Millisecond)
	assert.Nil(t, h.Get("ZED123"))

	// The code is free again.
	lb2, err := h.Create("ZED123", "tok2")
	require.NoError(t, err)
	assert.NotSame(t, lb, lb2)
}

func TestHub_Shutdown(t *testing.T) {
	h := newTestHub(t)

	var outs []chan types.ServerMessage
	for _, code := range []string{"AAA111", "BBB222", "CCC333"} {
		lb, err := h.Create(code, "tok")
		require.NoError(t, err)
		outs = append(outs, joinHost(t, lb, "tok"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
	for _, out := range outs {
		var last types.ServerMessage
		for msg := range out {
			last = msg
		}
		assert.Equal(t, types.MsgClosed, last.Type)
	}

	_, err := h.Create("DDD444", "tok")
	assert.ErrorIs(t, err, ErrShuttingDown)
	assert.Nil(t, h.Get("AAA111"))
}
