package tool

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dmarzzo/defi-agent/internal/amount"
	"github.com/dmarzzo/defi-agent/internal/delegate"
	agerr "github.com/dmarzzo/defi-agent/internal/errors"
	"github.com/dmarzzo/defi-agent/internal/session"
)

func (r *Registry) handleApprove(ctx context.Context, sess session.Context, params json.RawMessage) (any, error) {
	var p struct {
		Token   string `json:"token"`
		Spender string `json:"spender"`
		Amount  any    `json:"amount"`
		ChainID any    `json:"chainId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, agerr.Wrap(agerr.CodeUsage, "invalid params", err)
	}
	token, err := parseAddress(p.Token, "token")
	if err != nil {
		return nil, err
	}
	spender, err := parseAddress(p.Spender, "spender")
	if err != nil {
		return nil, err
	}
	// Omitted amount means unlimited approval.
	amt, err := amount.ParseOrDefault(p.Amount, amount.MaxUint256)
	if err != nil {
		return nil, agerr.Wrap(agerr.CodeUsage, "invalid amount", err)
	}

	approveData, err := delegate.EncodeApprove(spender, amt)
	if err != nil {
		return nil, err
	}
	calldata, err := delegate.EncodeExecute(token, nil, approveData)
	if err != nil {
		return nil, err
	}
	return r.submitDelegated(ctx, sess, p.ChainID, calldata, delegate.GasSingle, nil)
}

func (r *Registry) handleApproveAndSend(ctx context.Context, sess session.Context, params json.RawMessage) (any, error) {
	var p struct {
		Token   string `json:"token"`
		Spender string `json:"spender"`
		Amount  any    `json:"amount"`
		To      string `json:"to"`
		Value   any    `json:"value"`
		Data    string `json:"data"`
		ChainID any    `json:"chainId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, agerr.Wrap(agerr.CodeUsage, "invalid params", err)
	}
	token, err := parseAddress(p.Token, "token")
	if err != nil {
		return nil, err
	}
	spender, err := parseAddress(p.Spender, "spender")
	if err != nil {
		return nil, err
	}
	to, err := parseAddress(p.To, "to")
	if err != nil {
		return nil, err
	}
	amt, err := amount.ParseOrDefault(p.Amount, amount.MaxUint256)
	if err != nil {
		return nil, agerr.Wrap(agerr.CodeUsage, "invalid amount", err)
	}
	value, err := amount.ParseOrDefault(p.Value, nil)
	if err != nil {
		return nil, agerr.Wrap(agerr.CodeUsage, "invalid value", err)
	}
	data, err := decodeHexData(p.Data)
	if err != nil {
		return nil, err
	}

	approveData, err := delegate.EncodeApprove(spender, amt)
	if err != nil {
		return nil, err
	}
	// Approval first, target call second: the batch reverts atomically if
	// either leg fails.
	calldata, err := delegate.EncodeExecuteBatch([]delegate.Call{
		{Target: token, Data: approveData},
		{Target: to, Value: value, Data: data},
	})
	if err != nil {
		return nil, err
	}
	return r.submitDelegated(ctx, sess, p.ChainID, calldata, delegate.GasBatch, nil)
}

func (r *Registry) handleExecute(ctx context.Context, sess session.Context, params json.RawMessage) (any, error) {
	var p struct {
		To      string `json:"to"`
		Value   any    `json:"value"`
		Data    string `json:"data"`
		ChainID any    `json:"chainId"`
		Gas     any    `json:"gas"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, agerr.Wrap(agerr.CodeUsage, "invalid params", err)
	}
	to, err := parseAddress(p.To, "to")
	if err != nil {
		return nil, err
	}
	value, err := amount.ParseOrDefault(p.Value, nil)
	if err != nil {
		return nil, agerr.Wrap(agerr.CodeUsage, "invalid value", err)
	}
	data, err := decodeHexData(p.Data)
	if err != nil {
		return nil, err
	}
	calldata, err := delegate.EncodeExecute(to, value, data)
	if err != nil {
		return nil, err
	}
	return r.submitDelegated(ctx, sess, p.ChainID, calldata, delegate.GasSingle, p.Gas)
}

func (r *Registry) handleExecuteBatch(ctx context.Context, sess session.Context, params json.RawMessage) (any, error) {
	var p struct {
		Calls []struct {
			To     string `json:"to"`
			Target string `json:"target"`
			Value  any    `json:"value"`
			Data   string `json:"data"`
		} `json:"calls"`
		ChainID any `json:"chainId"`
		Gas     any `json:"gas"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, agerr.Wrap(agerr.CodeUsage, "invalid params", err)
	}
	if len(p.Calls) == 0 {
		return nil, agerr.New(agerr.CodeUsage, "calls is required")
	}
	calls := make([]delegate.Call, len(p.Calls))
	for i, c := range p.Calls {
		target := c.To
		if target == "" {
			target = c.Target
		}
		addr, err := parseAddress(target, "calls[].to")
		if err != nil {
			return nil, err
		}
		value, err := amount.ParseOrDefault(c.Value, nil)
		if err != nil {
			return nil, agerr.Wrap(agerr.CodeUsage, "invalid call value", err)
		}
		data, err := decodeHexData(c.Data)
		if err != nil {
			return nil, err
		}
		calls[i] = delegate.Call{Target: addr, Value: value, Data: data}
	}
	calldata, err := delegate.EncodeExecuteBatch(calls)
	if err != nil {
		return nil, err
	}
	return r.submitDelegated(ctx, sess, p.ChainID, calldata, delegate.GasBatch, p.Gas)
}

func (r *Registry) handleSendTransaction(ctx context.Context, sess session.Context, params json.RawMessage) (any, error) {
	var p struct {
		To      string `json:"to"`
		Amount  any    `json:"amount"`
		ChainID any    `json:"chainId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, agerr.Wrap(agerr.CodeUsage, "invalid params", err)
	}
	to, err := parseAddress(p.To, "to")
	if err != nil {
		return nil, err
	}
	value, err := amount.Parse(p.Amount)
	if err != nil {
		return nil, agerr.Wrap(agerr.CodeUsage, "invalid amount", err)
	}
	if value.Sign() <= 0 {
		return nil, agerr.New(agerr.CodeUsage, "amount must be positive")
	}
	calldata, err := delegate.EncodeExecute(to, value, nil)
	if err != nil {
		return nil, err
	}
	return r.submitDelegated(ctx, sess, p.ChainID, calldata, delegate.GasSingle, nil)
}

func (r *Registry) handleCheckDelegation(ctx context.Context, sess session.Context, params json.RawMessage) (any, error) {
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
	if r.deps.Operator == nil {
		return nil, agerr.New(agerr.CodeNotConfigured, "operator not configured")
	}
	d, err := r.deps.Operator.CheckDelegation(ctx, cfg.ID, common.HexToAddress(rec.Address))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"address":         rec.Address,
		"chainId":         cfg.ID,
		"isDelegated":     d.IsDelegated,
		"delegateAddress": d.DelegateAddress,
	}, nil
}

func (r *Registry) handleTxStatus(ctx context.Context, _ session.Context, params json.RawMessage) (any, error) {
	var p struct {
		TxHash  string `json:"txHash"`
		ChainID any    `json:"chainId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, agerr.Wrap(agerr.CodeUsage, "invalid params", err)
	}
	hash := strings.TrimSpace(p.TxHash)
	if hash == "" {
		return nil, agerr.New(agerr.CodeUsage, "txHash is required")
	}
	cfg, err := r.evmChain(p.ChainID)
	if err != nil {
		return nil, err
	}
	if r.deps.Operator == nil {
		return nil, agerr.New(agerr.CodeNotConfigured, "operator not configured")
	}
	status, err := r.deps.Operator.TxStatus(ctx, cfg.ID, common.HexToHash(hash))
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"txHash":  hash,
		"chainId": cfg.ID,
		"status":  status,
	}
	if cfg.ExplorerURL != "" {
		out["explorer"] = cfg.ExplorerURL + "/tx/" + hash
	}
	if entry, ok, _ := r.deps.Operator.Journal().Get(hash); ok {
		out["kind"] = entry.Kind
		out["submittedAt"] = entry.CreatedAt
	}
	return out, nil
}

// submitDelegated is the common tail of every write tool: resolve the wallet,
// verify delegation support, submit through the operator.
func (r *Registry) submitDelegated(ctx context.Context, sess session.Context, chainID any, calldata []byte, defaultGas uint64, gasOverride any) (any, error) {
	rec, err := r.resolveWallet(ctx, sess)
	if err != nil {
		return nil, err
	}
	if !rec.HasEVM() {
		return nil, agerr.New(agerr.CodeUsage, "no EVM wallet for this user")
	}
	cfg, err := r.evmChain(chainID)
	if err != nil {
		return nil, err
	}
	if r.deps.Operator == nil || !r.deps.Operator.Configured() {
		return nil, agerr.New(agerr.CodeNotConfigured, "operator key not configured")
	}
	gas := defaultGas
	if gasOverride != nil {
		g, err := amount.Parse(gasOverride)
		if err != nil || !g.IsUint64() || g.Uint64() == 0 {
			return nil, agerr.New(agerr.CodeUsage, "invalid gas")
		}
		gas = g.Uint64()
	}
	hash, err := r.deps.Operator.SendDelegated(ctx, cfg.ID, common.HexToAddress(rec.Address), calldata, gas)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"txHash":  hash.Hex(),
		"chainId": cfg.ID,
		"status":  "submitted",
	}
	if cfg.ExplorerURL != "" {
		out["explorer"] = cfg.ExplorerURL + "/tx/" + hash.Hex()
	}
	return out, nil
}

func parseAddress(raw, field string) (common.Address, error) {
	if !common.IsHexAddress(strings.TrimSpace(raw)) {
		return common.Address{}, agerr.New(agerr.CodeUsage, "invalid "+field+" address")
	}
	return common.HexToAddress(strings.TrimSpace(raw)), nil
}

func decodeHexData(raw string) ([]byte, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if clean == "" {
		return nil, nil
	}
	if len(clean)%2 != 0 {
		clean = "0" + clean
	}
	buf, err := hex.DecodeString(clean)
	if err != nil {
		return nil, agerr.Wrap(agerr.CodeUsage, "invalid hex data", err)
	}
	return buf, nil
}
