package electrumx

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer accepts connections in a loop, decodes every newline-delimited
// request on each, and replies via respond per request, in order received.
// CallBatch dials a fresh connection per call, so anything exercising two
// sequential round trips (e.g. a transaction lookup followed by prevout
// resolution) needs more than the single Accept a one-shot server allows.
func fakeServer(t *testing.T, respond func(req request) interface{}) (addr string, stop func()) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				scanner := bufio.NewScanner(conn)
				for scanner.Scan() {
					var req request
					if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
						return
					}
					result := respond(req)
					raw, _ := json.Marshal(result)
					resp := response{ID: req.ID, Result: raw}
					out, _ := json.Marshal(resp)
					conn.Write(append(out, '\n'))
				}
			}(conn)
		}
	}()

	return ln.Addr().String(), func() { ln.Close() }
}

func hostPort(t *testing.T, addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestClient_ServerVersion(t *testing.T) {
	addr, stop := fakeServer(t, func(req request) interface{} {
		assert.Equal(t, "server.version", req.Method)
		return []string{"ElectrumX 1.16", "1.4"}
	})
	defer stop()

	host, port := hostPort(t, addr)
	c := NewClient(host, port, 2*time.Second)
	v, err := c.ServerVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ElectrumX 1.16", v)
}

func TestClient_GetAddressOverview_BatchesThreeCalls(t *testing.T) {
	var methods []string
	addr, stop := fakeServer(t, func(req request) interface{} {
		methods = append(methods, req.Method)
		switch req.Method {
		case "blockchain.scripthash.get_balance":
			return Balance{Confirmed: 100, Unconfirmed: 0}
		case "blockchain.scripthash.listunspent":
			return []UnspentOutput{{TxHash: "abc", TxPos: 0, Value: 100}}
		case "blockchain.scripthash.get_history":
			return []HistoryEntry{{TxHash: "abc", Height: 800000}}
		}
		return nil
	})
	defer stop()

	host, port := hostPort(t, addr)
	c := NewClient(host, port, 2*time.Second)
	overview, err := c.GetAddressOverview(context.Background(), "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa")
	require.NoError(t, err)
	assert.Len(t, methods, 3)
	assert.EqualValues(t, 100, overview.Balance.Confirmed)
	assert.Len(t, overview.UTXOs, 1)
	assert.Len(t, overview.History, 1)
	assert.NotEmpty(t, overview.Scripthash)
}

func TestClient_GetAddressOverview_RejectsInvalidAddress(t *testing.T) {
	c := NewClient("127.0.0.1", 1, time.Second)
	_, err := c.GetAddressOverview(context.Background(), "not-an-address")
	assert.Error(t, err)
}

func TestClient_GetTransactionWithFee_ResolvesInputs(t *testing.T) {
	addr, stop := fakeServer(t, func(req request) interface{} {
		assert.Equal(t, "blockchain.transaction.get", req.Method)
		txid, _ := req.Params[0].(string)
		switch txid {
		case "txA":
			return Transaction{
				TxID: "txA",
				Vin: []TransactionVin{
					{TxID: "prevA", Vout: 0},
					{TxID: "prevB", Vout: 1},
				},
				Vout: []TransactionVout{
					{Value: 0.7, N: 0},
					{Value: 0.05, N: 1},
				},
			}
		case "prevA":
			return Transaction{TxID: "prevA", Vout: []TransactionVout{{Value: 0.5, N: 0}}}
		case "prevB":
			return Transaction{TxID: "prevB", Vout: []TransactionVout{{Value: 0.1, N: 0}, {Value: 0.3, N: 1}}}
		}
		return nil
	})
	defer stop()

	host, port := hostPort(t, addr)
	c := NewClient(host, port, 2*time.Second)
	tx, err := c.GetTransactionWithFee(context.Background(), "txA")
	require.NoError(t, err)
	// fee = (0.5 + 0.3) input total - (0.7 + 0.05) output total
	assert.InDelta(t, 0.05, tx.FeeBTC, 1e-9)
}

func TestClient_GetTransactionWithFee_CoinbaseHasNoFee(t *testing.T) {
	addr, stop := fakeServer(t, func(req request) interface{} {
		return Transaction{
			TxID: "coinbaseTx",
			Vin:  []TransactionVin{{Coinbase: "03abcdef"}},
			Vout: []TransactionVout{{Value: 6.25, N: 0}},
		}
	})
	defer stop()

	host, port := hostPort(t, addr)
	c := NewClient(host, port, 2*time.Second)
	tx, err := c.GetTransactionWithFee(context.Background(), "coinbaseTx")
	require.NoError(t, err)
	assert.Zero(t, tx.FeeBTC)
}
