package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/btcdash/aggregator/internal/log"
)

var logger = log.NewModuleLogger(log.Nodes)

// Client is a Bitcoin Core JSON-RPC 1.0 client over HTTP basic auth
// (spec.md §6). One Client per configured node endpoint.
type Client struct {
	endpoint string
	user     string
	pass     string
	role     Role
	httpc    *http.Client
}

// NewClient builds a Client for one Bitcoin node endpoint. timeout bounds
// every call (spec.md §5: "every upstream call carries a deadline, 5-10s").
func NewClient(endpoint, user, pass string, role Role, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		user:     user,
		pass:     pass,
		role:     role,
		httpc:    &http.Client{Timeout: timeout},
	}
}

// Role returns the configured/asserted node role.
func (c *Client) Role() Role { return c.role }

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("bitcoin rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	ID     int             `json:"id"`
}

// call issues one JSON-RPC 1.0 request and unmarshals the result into out
// (a pointer), or returns an error for a transport failure, non-2xx HTTP
// status, or an RPC-level error field.
func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	req := rpcRequest{JSONRPC: "1.0", ID: 1, Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "marshal rpc request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build rpc request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.user, c.pass)

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return errors.Wrapf(err, "rpc call %s transport failure", method)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return errors.Wrapf(err, "rpc call %s malformed response (status %d)", method, resp.StatusCode)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if resp.StatusCode >= 400 {
		return errors.Errorf("rpc call %s: http status %d", method, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return errors.Wrapf(err, "rpc call %s: decode result", method)
	}
	return nil
}

// BlockchainInfo is the subset of getblockchaininfo the workers consume.
type BlockchainInfo struct {
	Chain                string  `json:"chain"`
	Blocks               int64   `json:"blocks"`
	Headers              int64   `json:"headers"`
	BestBlockHash        string  `json:"bestblockhash"`
	Difficulty           float64 `json:"difficulty"`
	Pruned               bool    `json:"pruned"`
	VerificationProgress float64 `json:"verificationprogress"`
}

func (c *Client) GetBlockchainInfo(ctx context.Context) (*BlockchainInfo, error) {
	var info BlockchainInfo
	if err := c.call(ctx, "getblockchaininfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Block is the subset of verbose getblock the aggregation fabric consumes.
type Block struct {
	Hash              string   `json:"hash"`
	Height            int64    `json:"height"`
	Time              int64    `json:"time"`
	Difficulty        float64  `json:"difficulty"`
	NTx               int      `json:"nTx"`
	Size              int64    `json:"size"`
	Weight            int64    `json:"weight"`
	Tx                []string `json:"tx"`
	PreviousBlockHash string   `json:"previousblockhash"`
}

func (c *Client) GetBlock(ctx context.Context, hash string) (*Block, error) {
	var b Block
	if err := c.call(ctx, "getblock", []interface{}{hash}, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// MempoolInfo is getmempoolinfo's result.
type MempoolInfo struct {
	Size          int64   `json:"size"`
	Bytes         int64   `json:"bytes"`
	Usage         int64   `json:"usage"`
	TotalFee      float64 `json:"total_fee"`
	MinFee        float64 `json:"mempoolminfee"`
}

func (c *Client) GetMempoolInfo(ctx context.Context) (*MempoolInfo, error) {
	var info MempoolInfo
	if err := c.call(ctx, "getmempoolinfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// NetworkInfo is getnetworkinfo's result, trimmed to what the dashboard
// publishes.
type NetworkInfo struct {
	Version         int64    `json:"version"`
	Subversion      string   `json:"subversion"`
	Connections     int64    `json:"connections"`
	ConnectionsIn   int64    `json:"connections_in"`
	ConnectionsOut  int64    `json:"connections_out"`
	NetworkActive   bool     `json:"networkactive"`
}

func (c *Client) GetNetworkInfo(ctx context.Context) (*NetworkInfo, error) {
	var info NetworkInfo
	if err := c.call(ctx, "getnetworkinfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// RawMempoolEntry is one txid's entry in getrawmempool(verbose=true)'s
// txid -> entry map.
type RawMempoolEntry struct {
	VSize  int64   `json:"vsize"`
	Weight int64   `json:"weight"`
	Fees   struct {
		Base float64 `json:"base"`
	} `json:"fees"`
	Time int64 `json:"time"`
}

func (c *Client) GetRawMempoolVerbose(ctx context.Context) (map[string]RawMempoolEntry, error) {
	var out map[string]RawMempoolEntry
	if err := c.call(ctx, "getrawmempool", []interface{}{true}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RawTransactionVout is one output of a verbose raw transaction.
type RawTransactionVout struct {
	Value float64 `json:"value"`
	N     int     `json:"n"`
}

// RawTransaction is the subset of getrawtransaction(verbose=true) the
// Top-N tracker and explorer endpoint consume.
type RawTransaction struct {
	TxID string               `json:"txid"`
	Size int64                `json:"size"`
	Vout []RawTransactionVout `json:"vout"`
}

// TotalOutputValue sums every vout's value, used by the Top-N tracker as
// a transaction's BTC value (spec.md §4.5 step 3).
func (tx *RawTransaction) TotalOutputValue() float64 {
	var total float64
	for _, out := range tx.Vout {
		total += out.Value
	}
	return total
}

func (c *Client) GetRawTransactionVerbose(ctx context.Context, txid string) (*RawTransaction, error) {
	var tx RawTransaction
	if err := c.call(ctx, "getrawtransaction", []interface{}{txid, true}, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// AssertRole fetches getblockchaininfo and compares its pruned flag
// against the configured role, failing fast at worker startup if they
// disagree (spec.md §6 "workers assert node role at startup").
func (c *Client) AssertRole(ctx context.Context) error {
	info, err := c.GetBlockchainInfo(ctx)
	if err != nil {
		return errors.Wrap(err, "assert node role")
	}
	actual := RoleFromBlockchainInfo(info.Pruned)
	if c.role != RoleUnknown && actual != c.role {
		return &RoleError{Required: c.role, Got: actual}
	}
	c.role = actual
	logger.Info("asserted node role", "role", actual.String(), "chain", info.Chain)
	return nil
}
