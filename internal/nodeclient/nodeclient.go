// Package nodeclient is the node RPC client (C4): a typed wrapper over the
// BSV node's JSON-RPC/1.0 interface, exposing only the two methods this
// system consumes.
package nodeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bsv-watch/address-tracker/internal/errs"
)

// Client is a JSON-RPC/1.0 client authenticated with HTTP Basic, per
// spec.md §6 ("Node must have txindex=1").
type Client struct {
	endpoint string
	user     string
	password string
	timeout  time.Duration
	http     *http.Client
	log      *logrus.Logger
}

// New constructs a Client against host:port, wrapped with a dedicated
// http.Client carrying the given per-call timeout.
func New(host string, port int, user, password string, timeout time.Duration, log *logrus.Logger) *Client {
	return &Client{
		endpoint: fmt.Sprintf("http://%s:%d/", host, port),
		user:     user,
		password: password,
		timeout:  timeout,
		http:     &http.Client{Timeout: timeout},
		log:      log,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcErrorBody   `json:"error"`
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(rpcRequest{JSONRPC: "1.0", ID: "bsv-watch", Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("%w: marshal request", errs.ErrRpcUnavailable)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request", errs.ErrRpcUnavailable)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.user, c.password)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errs.ErrRpcTimeout
		}
		return errs.ErrRpcUnavailable
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.ErrRpcUnavailable
	}

	if resp.StatusCode >= 500 {
		return errs.ErrRpcUnavailable
	}

	var rr rpcResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return fmt.Errorf("%w: decode response", errs.ErrRpcUnavailable)
	}
	if rr.Error != nil {
		return &errs.RpcError{Code: rr.Error.Code, Message: rr.Error.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rr.Result, out); err != nil {
		return fmt.Errorf("%w: decode result", errs.ErrRpcUnavailable)
	}
	return nil
}

// GetBlockCount returns the node's current tip height.
func (c *Client) GetBlockCount(ctx context.Context) (int64, error) {
	var height int64
	if err := c.call(ctx, "getblockcount", nil, &height); err != nil {
		return 0, err
	}
	return height, nil
}

// RawTransaction is the subset of getrawtransaction's verbose response
// this system consumes.
type RawTransaction struct {
	Hex           string `json:"hex"`
	BlockHash     string `json:"blockhash"`
	BlockHeight   *int64 `json:"blockheight"`
	BlockTime     *int64 `json:"blocktime"`
	Confirmations int64  `json:"confirmations"`
}

// GetRawTransaction fetches a transaction's current on-chain status in
// verbose mode. A transaction with no confirming block has an empty
// BlockHash and zero Confirmations.
func (c *Client) GetRawTransaction(ctx context.Context, txid string) (*RawTransaction, error) {
	var raw RawTransaction
	if err := c.call(ctx, "getrawtransaction", []any{txid, true}, &raw); err != nil {
		return nil, err
	}
	return &raw, nil
}
