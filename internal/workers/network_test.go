package workers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btcdash/aggregator/internal/cache"
	"github.com/btcdash/aggregator/internal/keys"
	"github.com/btcdash/aggregator/internal/nodes"
	"github.com/btcdash/aggregator/internal/views"
)

func TestNetworkWorker_TickPublishesDynamicView(t *testing.T) {
	srv := rpcTestServer(t, map[string]interface{}{
		"getnetworkinfo": nodes.NetworkInfo{Version: 250000, Subversion: "/Satoshi:25.0.0/", Connections: 12, ConnectionsIn: 5, ConnectionsOut: 7},
	})
	defer srv.Close()

	rpc := nodes.NewClient(srv.URL, "u", "p", nodes.RoleUnknown, time.Second)
	c := cache.NewMemoryCache()
	w := NewNetworkWorker(rpc, c, nil)

	require.NoError(t, w.tick(context.Background()))

	raw, ok, err := c.Get(keys.NetworkDynamic())
	require.NoError(t, err)
	require.True(t, ok)
	var dyn views.NetworkDynamic
	require.NoError(t, json.Unmarshal(raw, &dyn))
	assert.Equal(t, int64(12), dyn.Connections)
	assert.Equal(t, int64(5), dyn.ConnIn)
	assert.Equal(t, int64(7), dyn.ConnOut)
	assert.Equal(t, "/Satoshi:25.0.0/", dyn.Subversion)

	_, ok, err = c.Get(keys.NetworkInfoRaw())
	require.NoError(t, err)
	assert.True(t, ok)
}
