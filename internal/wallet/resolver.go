// Package wallet resolves a peer's custody-held addresses from the backend
// wallet directory.
package wallet

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/dmarzzo/defi-agent/internal/httpx"
	"go.uber.org/zap"
)

// Record holds a peer's addresses and signing handles. Every field is
// nullable: a peer that never completed setup resolves to an all-empty record.
type Record struct {
	Address            string `json:"address"`
	SuiAddress         string `json:"suiAddress"`
	SuiWalletID        string `json:"suiWalletId"`
	SuiWalletPublicKey string `json:"suiWalletPublicKey"`
}

func (r Record) HasEVM() bool { return r.Address != "" }
func (r Record) HasSui() bool { return r.SuiAddress != "" }
func (r Record) Empty() bool  { return !r.HasEVM() && !r.HasSui() }

// Resolver fetches wallet records from the backend directory. Records are
// never cached: every resolution is a live lookup that may fail independently
// of prior reads.
type Resolver struct {
	http       *httpx.Client
	backendURL string
	log        *zap.Logger
}

func NewResolver(httpClient *httpx.Client, backendURL string, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		http:       httpClient,
		backendURL: strings.TrimRight(strings.TrimSpace(backendURL), "/"),
		log:        log,
	}
}

func (r *Resolver) Configured() bool { return r.backendURL != "" }

// Resolve looks up the record for a peer. Transport failures and non-success
// responses degrade to an empty record so tool operations can present a
// uniform "no wallet" outcome instead of a hard failure.
func (r *Resolver) Resolve(ctx context.Context, peerID string) Record {
	if !r.Configured() {
		r.log.Warn("wallet lookup skipped: backend url not set", zap.String("peer_id", peerID))
		return Record{}
	}
	endpoint := fmt.Sprintf("%s/api/wallet/%s", r.backendURL, url.PathEscape(peerID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Record{}
	}
	var out Record
	if _, err := r.http.DoJSON(ctx, req, &out); err != nil {
		r.log.Warn("wallet lookup failed", zap.String("peer_id", peerID), zap.Error(err))
		return Record{}
	}
	return out
}
