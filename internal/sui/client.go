// Package sui is a thin JSON-RPC client for the Sui fullnode. Transaction
// semantics live on the node side; this package only shuttles bytes.
package sui

import (
	"context"
	"encoding/json"
	"strings"

	agerr "github.com/dmarzzo/defi-agent/internal/errors"
	"github.com/dmarzzo/defi-agent/internal/httpx"
)

type Client struct {
	http     *httpx.Client
	rpcURL   string
	explorer string
}

func New(httpClient *httpx.Client, rpcURL, explorerURL string) *Client {
	return &Client{
		http:     httpClient,
		rpcURL:   strings.TrimSpace(rpcURL),
		explorer: strings.TrimRight(strings.TrimSpace(explorerURL), "/"),
	}
}

func (c *Client) Configured() bool   { return c != nil && c.rpcURL != "" }
func (c *Client) ExplorerURL() string { return c.explorer }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	if !c.Configured() {
		return agerr.New(agerr.CodeNotConfigured, "sui rpc not configured")
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return agerr.Wrap(agerr.CodeInternal, "encode sui rpc request", err)
	}
	var resp rpcResponse
	if _, err := httpx.DoBodyJSON(ctx, c.http, "POST", c.rpcURL, body, nil, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return agerr.New(agerr.CodeUnavailable, "sui rpc error: "+resp.Error.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return agerr.Wrap(agerr.CodeUnavailable, "decode sui rpc result", err)
	}
	return nil
}

// Balance is one coin-type balance held by an address. TotalBalance stays a
// string: Sui balances exceed float precision.
type Balance struct {
	CoinType     string `json:"coinType"`
	TotalBalance string `json:"totalBalance"`
}

// Symbol derives a display symbol from the coin type's last path segment.
func (b Balance) Symbol() string {
	parts := strings.Split(b.CoinType, "::")
	if len(parts) == 0 || parts[len(parts)-1] == "" {
		return "unknown"
	}
	return parts[len(parts)-1]
}

func (c *Client) GetBalance(ctx context.Context, owner string) (Balance, error) {
	var out Balance
	err := c.call(ctx, "suix_getBalance", []any{owner}, &out)
	return out, err
}

func (c *Client) GetAllBalances(ctx context.Context, owner string) ([]Balance, error) {
	var out []Balance
	err := c.call(ctx, "suix_getAllBalances", []any{owner}, &out)
	return out, err
}

type executeResult struct {
	Digest  string `json:"digest"`
	Effects struct {
		Status struct {
			Status string `json:"status"`
		} `json:"status"`
	} `json:"effects"`
}

// ExecuteTransactionBlock submits a signed transaction and returns its digest
// and effect status.
func (c *Client) ExecuteTransactionBlock(ctx context.Context, txBytesB64, signatureB64 string) (digest, status string, err error) {
	var out executeResult
	params := []any{
		txBytesB64,
		[]string{signatureB64},
		map[string]bool{"showEffects": true},
		"WaitForLocalExecution",
	}
	if err := c.call(ctx, "sui_executeTransactionBlock", params, &out); err != nil {
		return "", "", err
	}
	status = out.Effects.Status.Status
	if status == "" {
		status = "success"
	}
	return out.Digest, status, nil
}
