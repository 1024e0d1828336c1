package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wg-tunnels/internal/core"
	"wg-tunnels/internal/defaults"
	"wg-tunnels/internal/manager"
	"wg-tunnels/internal/recents"
	"wg-tunnels/internal/service"
	"wg-tunnels/internal/store"
	"wg-tunnels/internal/vpn"
)

const testConf = `[Interface]
PrivateKey = YWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWE=
Address = 10.0.0.2/32

[Peer]
PublicKey = YmJiYmJiYmJiYmJiYmJiYmJiYmJiYmJiYmJiYmJiYmI=
Endpoint = 192.0.2.1:51820
AllowedIPs = 10.0.0.0/24
`

func newDaemon(t *testing.T) *Client {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mgr, err := manager.Create(context.Background(), manager.Options{
		Store:     store.NewMemory(),
		Backend:   vpn.NewMemory(),
		Recents:   recents.New(defaults.NewMemory()),
		OpTimeout: time.Second,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(service.New(service.Config{Manager: mgr, Version: "test"}).Handler())
	t.Cleanup(func() {
		srv.Close()
		mgr.Close()
	})
	return New(srv.URL)
}

func TestRoundTrip(t *testing.T) {
	c := newDaemon(t)
	ctx := context.Background()

	_, err := c.Add(ctx, "home", testConf, nil)
	require.NoError(t, err)
	_, err = c.Add(ctx, "office", testConf, &core.OnDemandRules{Option: core.OnDemandAnyInterface})
	require.NoError(t, err)

	list, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[1].OnDemandEnabled)

	tn, err := c.Activate(ctx, "home", true)
	require.NoError(t, err)
	assert.Equal(t, core.StatusActive, tn.Status)

	_, err = c.Activate(ctx, "office", true)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "anotherTunnelIsOperational", apiErr.Kind)

	recent, err := c.Recents(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"home"}, recent)

	order, err := c.Move(ctx, "office", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"office", "home"}, order)

	res, err := c.RemoveMultiple(ctx, []string{"office", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed)
	assert.Contains(t, res.Errors, "ghost")

	_, err = c.Get(ctx, "office")
	assert.True(t, IsNotFound(err))

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "home", st.Operational)
}

func TestEvents(t *testing.T) {
	c := newDaemon(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	events, err := c.Events(ctx, core.EventTunnelAdded)
	require.NoError(t, err)

	_, err = c.Add(ctx, "home", testConf, nil)
	require.NoError(t, err)

	select {
	case e := <-events:
		assert.Equal(t, core.EventTunnelAdded, e.Type)
		var p core.ListPayload
		require.NoError(t, json.Unmarshal(e.Payload, &p))
		assert.Equal(t, core.ListPayload{Index: 0, Tunnel: "home"}, p)
	case <-ctx.Done():
		t.Fatal("no event received")
	}
}

func TestUnreachableDaemon(t *testing.T) {
	c := New("127.0.0.1:1")
	c.Timeout = time.Second
	_, err := c.Status(context.Background())
	assert.ErrorContains(t, err, "is the daemon running")
}
