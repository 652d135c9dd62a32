package tool

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/dmarzzo/defi-agent/internal/amount"
	"github.com/dmarzzo/defi-agent/internal/chains"
	"github.com/dmarzzo/defi-agent/internal/custody"
	agerr "github.com/dmarzzo/defi-agent/internal/errors"
	"github.com/dmarzzo/defi-agent/internal/session"
	"github.com/dmarzzo/defi-agent/internal/strategy"
)

func (r *Registry) handleGetWallet(ctx context.Context, sess session.Context, _ json.RawMessage) (any, error) {
	rec, err := r.resolveWallet(ctx, sess)
	if err != nil {
		return nil, err
	}
	out := map[string]any{"address": nil, "suiAddress": nil}
	if rec.HasEVM() {
		out["address"] = rec.Address
	}
	if rec.HasSui() {
		out["suiAddress"] = rec.SuiAddress
	}
	return out, nil
}

func (r *Registry) handleGetBalance(ctx context.Context, sess session.Context, params json.RawMessage) (any, error) {
	var p struct {
		ChainID any `json:"chainId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, agerr.Wrap(agerr.CodeUsage, "invalid params", err)
	}
	rec, err := r.resolveWallet(ctx, sess)
	if err != nil {
		return nil, err
	}
	if !rec.HasEVM() {
		return nil, agerr.New(agerr.CodeUsage, "no EVM wallet for this user")
	}
	cfg, err := r.evmChain(p.ChainID)
	if err != nil {
		return nil, err
	}
	if r.deps.Portfolio == nil {
		return nil, agerr.New(agerr.CodeNotConfigured, "portfolio reader not configured")
	}
	balance, err := r.deps.Portfolio.NativeBalance(ctx, cfg, rec.Address)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"address": rec.Address,
		"chainId": cfg.ID,
		"chain":   cfg.Name,
		"symbol":  cfg.NativeSymbol,
		"balance": balance,
	}, nil
}

func (r *Registry) handleGetSuiBalance(ctx context.Context, sess session.Context, _ json.RawMessage) (any, error) {
	rec, err := r.resolveWallet(ctx, sess)
	if err != nil {
		return nil, err
	}
	if !rec.HasSui() {
		return nil, agerr.New(agerr.CodeUsage, "no Sui wallet for this user")
	}
	if r.deps.Sui == nil || !r.deps.Sui.Configured() {
		return nil, agerr.New(agerr.CodeNotConfigured, "sui rpc not configured")
	}
	bal, err := r.deps.Sui.GetBalance(ctx, rec.SuiAddress)
	if err != nil {
		return nil, err
	}
	raw, err := amount.Parse(bal.TotalBalance)
	if err != nil {
		return nil, agerr.Wrap(agerr.CodeUnavailable, "parse sui balance", err)
	}
	return map[string]any{
		"address":    rec.SuiAddress,
		"symbol":     "SUI",
		"balance":    amount.FormatUnits(raw, 9),
		"rawBalance": bal.TotalBalance,
	}, nil
}

func (r *Registry) handleSendSuiTransaction(ctx context.Context, sess session.Context, params json.RawMessage) (any, error) {
	var p struct {
		TxBytes   string `json:"txBytes"`
		PublicKey string `json:"publicKey"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, agerr.Wrap(agerr.CodeUsage, "invalid params", err)
	}
	if strings.TrimSpace(p.TxBytes) == "" {
		return nil, agerr.New(agerr.CodeUsage, "txBytes is required")
	}
	rec, err := r.resolveWallet(ctx, sess)
	if err != nil {
		return nil, err
	}
	if r.deps.Sui == nil || !r.deps.Sui.Configured() {
		return nil, agerr.New(agerr.CodeNotConfigured, "sui rpc not configured")
	}
	if r.deps.Custody == nil || !r.deps.Custody.Configured() {
		return nil, agerr.New(agerr.CodeNotConfigured, "custody provider not configured")
	}
	signCtx, cancel := custody.WaitBudget(ctx)
	defer cancel()
	return r.deps.Sui.SignAndExecute(signCtx, r.deps.Custody, rec, p.TxBytes, p.PublicKey)
}

func (r *Registry) handleGetPortfolio(ctx context.Context, sess session.Context, _ json.RawMessage) (any, error) {
	rec, err := r.resolveWallet(ctx, sess)
	if err != nil {
		return nil, err
	}
	if r.deps.Portfolio == nil {
		return nil, agerr.New(agerr.CodeNotConfigured, "portfolio reader not configured")
	}
	return r.deps.Portfolio.Get(ctx, rec)
}

func (r *Registry) handleGetStrategy(_ context.Context, sess session.Context, _ json.RawMessage) (any, error) {
	if r.deps.Strategies == nil {
		return nil, agerr.New(agerr.CodeNotConfigured, "strategy store not configured")
	}
	doc, err := r.deps.Strategies.Get(sess.PeerID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"strategy": doc}, nil
}

func (r *Registry) handleSetStrategy(_ context.Context, sess session.Context, params json.RawMessage) (any, error) {
	if r.deps.Strategies == nil {
		return nil, agerr.New(agerr.CodeNotConfigured, "strategy store not configured")
	}
	var raw strategy.Document
	if err := json.Unmarshal(params, &raw); err != nil {
		return nil, agerr.Wrap(agerr.CodeUsage, "invalid params", err)
	}
	// Accept both a bare document and a {"strategy": {...}} wrapper.
	partial := raw
	if wrapped, ok := raw["strategy"].(map[string]any); ok && len(raw) == 1 {
		partial = wrapped
	}
	if len(partial) == 0 {
		return nil, agerr.New(agerr.CodeUsage, "no strategy fields to update")
	}
	doc, err := r.deps.Strategies.Set(sess.PeerID, partial)
	if err != nil {
		return nil, err
	}
	return map[string]any{"strategy": doc}, nil
}

// evmChain resolves an optional chainId param, falling back to the first
// configured EVM chain.
func (r *Registry) evmChain(chainID any) (chains.Config, error) {
	if chainID == nil {
		cfg, ok := r.deps.Registry.First()
		if !ok {
			return chains.Config{}, agerr.New(agerr.CodeNotConfigured, "no EVM chains configured")
		}
		return cfg, nil
	}
	id, err := amount.Parse(chainID)
	if err != nil {
		return chains.Config{}, agerr.Wrap(agerr.CodeUsage, "invalid chainId", err)
	}
	cfg, ok := r.deps.Registry.Get(id.Int64())
	if !ok {
		return chains.Config{}, agerr.New(agerr.CodeUsage, "unknown chain "+id.String())
	}
	if cfg.Kind != chains.KindEVM {
		return chains.Config{}, agerr.New(agerr.CodeUsage, "chain "+id.String()+" is not an EVM chain")
	}
	return cfg, nil
}
