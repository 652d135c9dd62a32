// Package custody talks to the wallet-custody directory (Privy). The provider
// owns key material and raw signing; this client only reads the user's linked
// wallets and requests signatures over prepared payloads.
package custody

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	agerr "github.com/dmarzzo/defi-agent/internal/errors"
	"github.com/dmarzzo/defi-agent/internal/httpx"
	"github.com/dmarzzo/defi-agent/internal/wallet"
)

const defaultBaseURL = "https://api.privy.io"

type Client struct {
	http      *httpx.Client
	baseURL   string
	appID     string
	appSecret string
}

func New(httpClient *httpx.Client, appID, appSecret string) *Client {
	return &Client{
		http:      httpClient,
		baseURL:   defaultBaseURL,
		appID:     strings.TrimSpace(appID),
		appSecret: strings.TrimSpace(appSecret),
	}
}

// NewWithBaseURL exists for tests against a local directory stub.
func NewWithBaseURL(httpClient *httpx.Client, baseURL, appID, appSecret string) *Client {
	c := New(httpClient, appID, appSecret)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

func (c *Client) Configured() bool { return c != nil && c.appID != "" && c.appSecret != "" }

func (c *Client) headers() map[string]string {
	token := base64.StdEncoding.EncodeToString([]byte(c.appID + ":" + c.appSecret))
	return map[string]string{
		"Authorization": "Basic " + token,
		"privy-app-id":  c.appID,
	}
}

type linkedAccount struct {
	Type             string `json:"type"`
	ChainType        string `json:"chain_type"`
	Address          string `json:"address"`
	WalletClientType string `json:"wallet_client_type"`
	WalletClient     string `json:"wallet_client"`
	ConnectorType    string `json:"connector_type"`
	ID               string `json:"id"`
	PublicKey        string `json:"public_key"`
}

type userResponse struct {
	ID             string          `json:"id"`
	LinkedAccounts []linkedAccount `json:"linked_accounts"`
}

// ResolveByTelegramID fetches the directory record for a platform user and
// selects its wallets: the embedded custodial wallet is preferred over other
// linked wallets of the same chain kind. A user with no wallets yields an
// empty record, not an error.
func (c *Client) ResolveByTelegramID(ctx context.Context, telegramUserID string) (wallet.Record, error) {
	if !c.Configured() {
		return wallet.Record{}, agerr.New(agerr.CodeNotConfigured, "custody provider not configured")
	}
	endpoint := fmt.Sprintf("%s/v1/users/telegram/%s", c.baseURL, url.PathEscape(telegramUserID))
	var user userResponse
	if _, err := httpx.DoBodyJSON(ctx, c.http, "GET", endpoint, nil, c.headers(), &user); err != nil {
		return wallet.Record{}, err
	}

	var rec wallet.Record
	if evm := pickWallet(user.LinkedAccounts, "ethereum"); evm != nil {
		rec.Address = evm.Address
	}
	if sui := pickWallet(user.LinkedAccounts, "sui"); sui != nil {
		rec.SuiAddress = sui.Address
		rec.SuiWalletID = sui.ID
		rec.SuiWalletPublicKey = sui.PublicKey
	}
	return rec, nil
}

// pickWallet prefers the provider's embedded wallet, then falls back to the
// first linked wallet of the requested chain kind.
func pickWallet(accounts []linkedAccount, chainType string) *linkedAccount {
	var first *linkedAccount
	for i := range accounts {
		acc := &accounts[i]
		if acc.Type != "wallet" || acc.ChainType != chainType || acc.Address == "" {
			continue
		}
		if acc.WalletClientType == "privy" || acc.WalletClient == "privy" || acc.ConnectorType == "embedded" {
			return acc
		}
		if first == nil {
			first = acc
		}
	}
	return first
}

type rawSignRequest struct {
	Params rawSignParams `json:"params"`
}

type rawSignParams struct {
	Bytes        string `json:"bytes"`
	Encoding     string `json:"encoding"`
	HashFunction string `json:"hash_function"`
}

type rawSignResponse struct {
	Signature string `json:"signature"`
	Data      struct {
		Signature string `json:"signature"`
	} `json:"data"`
}

// RawSign asks the custody provider to blake2b-256 hash and sign the payload
// with the named wallet's key. The payload is hex without a 0x prefix; the
// returned signature is raw bytes.
func (c *Client) RawSign(ctx context.Context, walletID, payloadHex string) ([]byte, error) {
	if !c.Configured() {
		return nil, agerr.New(agerr.CodeNotConfigured, "custody provider not configured")
	}
	body, err := json.Marshal(rawSignRequest{Params: rawSignParams{
		Bytes:        payloadHex,
		Encoding:     "hex",
		HashFunction: "blake2b256",
	}})
	if err != nil {
		return nil, agerr.Wrap(agerr.CodeInternal, "encode raw sign request", err)
	}
	endpoint := fmt.Sprintf("%s/v1/wallets/%s/raw_sign", c.baseURL, url.PathEscape(walletID))
	var out rawSignResponse
	if _, err := httpx.DoBodyJSON(ctx, c.http, "POST", endpoint, body, c.headers(), &out); err != nil {
		return nil, err
	}
	sig := out.Data.Signature
	if sig == "" {
		sig = out.Signature
	}
	sig = strings.TrimPrefix(strings.TrimSpace(sig), "0x")
	if sig == "" {
		return nil, agerr.New(agerr.CodeUnavailable, "custody provider returned empty signature")
	}
	if len(sig)%2 != 0 {
		sig = "0" + sig
	}
	raw, err := hex.DecodeString(sig)
	if err != nil {
		return nil, agerr.Wrap(agerr.CodeUnavailable, "decode custody signature", err)
	}
	return raw, nil
}

// WaitBudget bounds a custody call when the surrounding operation carries no
// deadline of its own.
func WaitBudget(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 30*time.Second)
}
