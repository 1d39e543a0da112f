package nodes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rpcServer(t *testing.T, handler func(method string, params []interface{}) interface{}) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "u", user)
		assert.Equal(t, "p", pass)

		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		result := handler(req.Method, req.Params)
		resultRaw, err := json.Marshal(result)
		require.NoError(t, err)
		resp := rpcResponse{Result: resultRaw, ID: req.ID}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestClient_GetBlockchainInfo(t *testing.T) {
	srv := rpcServer(t, func(method string, params []interface{}) interface{} {
		assert.Equal(t, "getblockchaininfo", method)
		return BlockchainInfo{Chain: "main", Blocks: 857500, Pruned: false}
	})
	defer srv.Close()

	c := NewClient(srv.URL, "u", "p", RoleUnknown, time.Second)
	info, err := c.GetBlockchainInfo(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 857500, info.Blocks)
	assert.False(t, info.Pruned)
}

func TestClient_AssertRole_MismatchErrors(t *testing.T) {
	srv := rpcServer(t, func(method string, params []interface{}) interface{} {
		return BlockchainInfo{Chain: "main", Pruned: true}
	})
	defer srv.Close()

	c := NewClient(srv.URL, "u", "p", RoleFull, time.Second)
	err := c.AssertRole(context.Background())
	require.Error(t, err)
	var roleErr *RoleError
	require.ErrorAs(t, err, &roleErr)
	assert.Equal(t, RoleFull, roleErr.Required)
	assert.Equal(t, RolePruned, roleErr.Got)
}

func TestClient_AssertRole_Matches(t *testing.T) {
	srv := rpcServer(t, func(method string, params []interface{}) interface{} {
		return BlockchainInfo{Chain: "main", Pruned: false}
	})
	defer srv.Close()

	c := NewClient(srv.URL, "u", "p", RoleFull, time.Second)
	require.NoError(t, c.AssertRole(context.Background()))
}

func TestClient_RPCErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := rpcResponse{Error: &rpcError{Code: -1, Message: "boom"}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "u", "p", RoleUnknown, time.Second)
	_, err := c.GetBlockchainInfo(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestClient_RawTransactionTotalOutputValue(t *testing.T) {
	srv := rpcServer(t, func(method string, params []interface{}) interface{} {
		assert.Equal(t, "getrawtransaction", method)
		return RawTransaction{
			TxID: "abc",
			Vout: []RawTransactionVout{{Value: 1.5, N: 0}, {Value: 2.25, N: 1}},
		}
	})
	defer srv.Close()

	c := NewClient(srv.URL, "u", "p", RoleUnknown, time.Second)
	tx, err := c.GetRawTransactionVerbose(context.Background(), "abc")
	require.NoError(t, err)
	assert.InDelta(t, 3.75, tx.TotalOutputValue(), 1e-9)
}

func TestConvertStringToRole(t *testing.T) {
	assert.Equal(t, RoleFull, ConvertStringToRole("full"))
	assert.Equal(t, RolePruned, ConvertStringToRole("PRUNED"))
	assert.Equal(t, RoleUnknown, ConvertStringToRole("bogus"))
}
