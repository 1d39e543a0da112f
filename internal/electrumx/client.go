package electrumx

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/btcdash/aggregator/internal/log"
)

var logger = log.NewModuleLogger(log.ElectrumX)

// Client is an ElectrumX TCP JSON-lines client: one JSON object per line,
// newline-terminated (spec.md §6). One Client per configured endpoint;
// each call opens and closes its own connection, matching the upstream
// protocol's lack of a persistent session handshake requirement.
type Client struct {
	addr    string
	timeout time.Duration
}

// NewClient builds a Client dialing host:port with the given per-call
// deadline.
func NewClient(host string, port int, timeout time.Duration) *Client {
	return &Client{addr: fmt.Sprintf("%s:%d", host, port), timeout: timeout}
}

type request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type response struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// Call issues one JSON-RPC request and unmarshals its result into out.
func (c *Client) Call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	results, err := c.CallBatch(ctx, []Call{{Method: method, Params: params}})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(results[0], out)
}

// Call is one method+params pair for CallBatch.
type Call struct {
	Method string
	Params []interface{}
}

// CallBatch sends multiple JSON-RPC requests over one TCP connection,
// matching responses by id and returning raw results in request order
// (spec.md §6: "multiple JSON objects on separate lines in one TCP
// connection; responses are matched by id").
func (c *Client) CallBatch(ctx context.Context, calls []Call) ([]json.RawMessage, error) {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, errors.Wrap(err, "electrumx: dial")
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if c.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.timeout))
	}

	writer := bufio.NewWriter(conn)
	for i, call := range calls {
		req := request{JSONRPC: "2.0", ID: i + 1, Method: call.Method, Params: call.Params}
		raw, err := json.Marshal(req)
		if err != nil {
			return nil, errors.Wrap(err, "electrumx: marshal request")
		}
		if _, err := writer.Write(raw); err != nil {
			return nil, errors.Wrap(err, "electrumx: write request")
		}
		if err := writer.WriteByte('\n'); err != nil {
			return nil, errors.Wrap(err, "electrumx: write request")
		}
	}
	if err := writer.Flush(); err != nil {
		return nil, errors.Wrap(err, "electrumx: flush request")
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	byID := make(map[int]json.RawMessage, len(calls))
	for i := 0; i < len(calls); i++ {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return nil, errors.Wrap(err, "electrumx: read response")
			}
			return nil, errors.New("electrumx: connection closed before all responses received")
		}
		var resp response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			return nil, errors.Wrap(err, "electrumx: decode response")
		}
		if len(resp.Error) > 0 && string(resp.Error) != "null" {
			return nil, errors.Errorf("electrumx error on id %d: %s", resp.ID, resp.Error)
		}
		byID[resp.ID] = resp.Result
	}

	out := make([]json.RawMessage, len(calls))
	for i := range calls {
		result, ok := byID[i+1]
		if !ok {
			return nil, errors.Errorf("electrumx: missing response for request id %d", i+1)
		}
		out[i] = result
	}
	return out, nil
}

// ServerVersion calls server.version, identifying this client.
func (c *Client) ServerVersion(ctx context.Context) (string, error) {
	var result []string
	if err := c.Call(ctx, "server.version", []interface{}{"btcdash-aggregator", "1.4"}, &result); err != nil {
		return "", err
	}
	if len(result) == 0 {
		return "", nil
	}
	return result[0], nil
}

// Balance is blockchain.scripthash.get_balance's result, in satoshis.
type Balance struct {
	Confirmed   int64 `json:"confirmed"`
	Unconfirmed int64 `json:"unconfirmed"`
}

// UnspentOutput is one entry of blockchain.scripthash.listunspent.
type UnspentOutput struct {
	TxHash string `json:"tx_hash"`
	TxPos  int    `json:"tx_pos"`
	Height int64  `json:"height"`
	Value  int64  `json:"value"`
}

// HistoryEntry is one entry of blockchain.scripthash.get_history.
type HistoryEntry struct {
	TxHash string `json:"tx_hash"`
	Height int64  `json:"height"`
}

// AddressOverview bundles balance, UTXOs, and history for one address,
// fetched in a single batched round trip (spec.md §4.5-adjacent lookup
// pattern used by the address-on-demand API endpoint).
type AddressOverview struct {
	Address     string          `json:"address"`
	Scripthash  string          `json:"scripthash"`
	Balance     Balance         `json:"balance"`
	UTXOs       []UnspentOutput `json:"utxos"`
	History     []HistoryEntry  `json:"history"`
}

// GetAddressOverview converts address to a scripthash and fetches its
// balance, UTXOs, and history in one batched TCP round trip.
func (c *Client) GetAddressOverview(ctx context.Context, address string) (*AddressOverview, error) {
	scripthash, err := AddressToScripthash(address)
	if err != nil {
		return nil, errors.Wrap(err, "electrumx: address to scripthash")
	}

	results, err := c.CallBatch(ctx, []Call{
		{Method: "blockchain.scripthash.get_balance", Params: []interface{}{scripthash}},
		{Method: "blockchain.scripthash.listunspent", Params: []interface{}{scripthash}},
		{Method: "blockchain.scripthash.get_history", Params: []interface{}{scripthash}},
	})
	if err != nil {
		return nil, err
	}

	overview := &AddressOverview{Address: address, Scripthash: scripthash}
	if err := json.Unmarshal(results[0], &overview.Balance); err != nil {
		return nil, errors.Wrap(err, "electrumx: decode balance")
	}
	if err := json.Unmarshal(results[1], &overview.UTXOs); err != nil {
		return nil, errors.Wrap(err, "electrumx: decode utxos")
	}
	if err := json.Unmarshal(results[2], &overview.History); err != nil {
		return nil, errors.Wrap(err, "electrumx: decode history")
	}
	return overview, nil
}

// GetTransaction calls blockchain.transaction.get for one txid.
func (c *Client) GetTransaction(ctx context.Context, txid string, verbose bool) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.Call(ctx, "blockchain.transaction.get", []interface{}{txid, verbose}, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Transaction is blockchain.transaction.get's verbose result, trimmed to
// the fields the fee-derivation and lookup endpoints need.
type Transaction struct {
	TxID string            `json:"txid"`
	Vin  []TransactionVin  `json:"vin"`
	Vout []TransactionVout `json:"vout"`
}

// TransactionVin is one input: either a coinbase (Coinbase non-empty) or a
// reference to a previous transaction's output (TxID/Vout).
type TransactionVin struct {
	TxID     string `json:"txid"`
	Vout     int    `json:"vout"`
	Coinbase string `json:"coinbase,omitempty"`
}

// TransactionVout is one output, denominated in BTC like the rest of
// ElectrumX's decoded-transaction format.
type TransactionVout struct {
	Value float64 `json:"value"`
	N     int     `json:"n"`
}

// TransactionWithFee bundles the decoded transaction with its derived
// network fee.
type TransactionWithFee struct {
	Transaction
	FeeBTC float64 `json:"fee_btc"`
}

// GetTransactionWithFee fetches txid verbose and derives its fee by
// walking every input once: fee = sum(input values) - sum(output values)
// (spec.md §4.3). Coinbase transactions create coins rather than spend
// them, so they pay no fee. Every non-coinbase input's prevout value is
// resolved in one additional batched round trip rather than one per
// input.
func (c *Client) GetTransactionWithFee(ctx context.Context, txid string) (*TransactionWithFee, error) {
	var tx Transaction
	if err := c.Call(ctx, "blockchain.transaction.get", []interface{}{txid, true}, &tx); err != nil {
		return nil, errors.Wrap(err, "electrumx: get transaction")
	}

	result := &TransactionWithFee{Transaction: tx}

	if len(tx.Vin) == 0 {
		return result, nil
	}
	if tx.Vin[0].Coinbase != "" {
		return result, nil
	}

	var outputTotal float64
	for _, out := range tx.Vout {
		outputTotal += out.Value
	}

	calls := make([]Call, len(tx.Vin))
	for i, vin := range tx.Vin {
		calls[i] = Call{Method: "blockchain.transaction.get", Params: []interface{}{vin.TxID, true}}
	}
	prevouts, err := c.CallBatch(ctx, calls)
	if err != nil {
		return nil, errors.Wrap(err, "electrumx: resolve prevouts")
	}

	var inputTotal float64
	for i, vin := range tx.Vin {
		var prev Transaction
		if err := json.Unmarshal(prevouts[i], &prev); err != nil {
			return nil, errors.Wrapf(err, "electrumx: decode prevout for input %d", i)
		}
		if vin.Vout < 0 || vin.Vout >= len(prev.Vout) {
			return nil, errors.Errorf("electrumx: prevout index %d out of range for tx %s", vin.Vout, vin.TxID)
		}
		inputTotal += prev.Vout[vin.Vout].Value
	}

	result.FeeBTC = inputTotal - outputTotal
	return result, nil
}
