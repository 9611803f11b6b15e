package directory

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) *HTTPClient {
	t.Helper()
	reg, _ := newTestRegistry(t)
	r := chi.NewRouter()
	NewHandler(reg, zap.NewNop()).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL, srv.Client())
}

func TestHTTPClient_RoundTrip(t *testing.T) {
	c := newTestServer(t)
	ctx := context.Background()

	a, err := c.Create(ctx, "Dana's Game", 4, CreateOptions{Data: map[string]Field{
		KeyJoinCode:       Public("XYZ789"),
		KeyCurrentPlayers: Public("1"),
	}})
	require.NoError(t, err)
	require.NotEmpty(t, a.ID)

	require.NoError(t, c.Heartbeat(ctx, a.ID))

	private := true
	updated, err := c.Update(ctx, a.ID, UpdateOptions{Private: &private})
	require.NoError(t, err)
	assert.True(t, updated.Private)

	listed, err := c.Query(ctx, QueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, listed, "private adverts are not listed")

	private = false
	_, err = c.Update(ctx, a.ID, UpdateOptions{Private: &private})
	require.NoError(t, err)

	listed, err = c.Query(ctx, QueryOptions{MinAvailableSlots: 3, Limit: 5})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	code, _ := listed[0].Value(KeyJoinCode)
	assert.Equal(t, "XYZ789", code)

	require.NoError(t, c.Delete(ctx, a.ID))
	assert.ErrorIs(t, c.Delete(ctx, a.ID), ErrNotFound)
	assert.ErrorIs(t, c.Heartbeat(ctx, a.ID), ErrNotFound)
}

func TestHTTPClient_InvalidCreate(t *testing.T) {
	c := newTestServer(t)
	_, err := c.Create(context.Background(), "", 4, CreateOptions{})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}
