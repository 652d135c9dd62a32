// Package relay turns user-signed EIP-7702 authorizations into on-chain
// delegations. The user signs off-chain on the setup page; the relay wraps
// each authorization in a set-code transaction paid by the operator, so the
// user's wallet needs no gas to activate.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/dmarzzo/defi-agent/internal/delegate"
	agerr "github.com/dmarzzo/defi-agent/internal/errors"
	"github.com/dmarzzo/defi-agent/internal/operator"
)

// ActivationGas covers the set-code designation plus the initializeOperator
// call. Estimation is not possible before the delegation exists.
const ActivationGas uint64 = 200000

// YParity is the signature parity bit, accepted as a JSON number or a
// hex/decimal string.
type YParity uint8

func (y *YParity) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*y = 0
		return nil
	}
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return fmt.Errorf("invalid yParity %q: %w", s, err)
	}
	if v > 1 {
		return fmt.Errorf("invalid yParity %d", v)
	}
	*y = YParity(v)
	return nil
}

func (y YParity) MarshalJSON() ([]byte, error) {
	return json.Marshal(uint8(y))
}

// Authorization is one user-signed EIP-7702 authorization as received from
// the setup page. R and S are hex quantities.
type Authorization struct {
	ChainID         int64   `json:"chainId"`
	ContractAddress string  `json:"contractAddress"`
	Nonce           uint64  `json:"nonce"`
	R               string  `json:"r"`
	S               string  `json:"s"`
	YParity         YParity `json:"yParity"`
}

// ChainResult reports one chain's activation outcome. Status is "success",
// "already_active", or "error".
type ChainResult struct {
	ChainID int64  `json:"chainId"`
	Status  string `json:"status"`
	TxHash  string `json:"txHash,omitempty"`
	Error   string `json:"error,omitempty"`
}

const (
	StatusSuccess       = "success"
	StatusAlreadyActive = "already_active"
	StatusError         = "error"
)

type Relay struct {
	op             *operator.Operator
	log            *zap.Logger
	dial           operator.Dialer
	pollInterval   time.Duration
	receiptTimeout time.Duration
}

func New(op *operator.Operator, log *zap.Logger) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{
		op:             op,
		log:            log,
		dial:           operator.DialEthclient,
		pollInterval:   2 * time.Second,
		receiptTimeout: 90 * time.Second,
	}
}

// WithDialer replaces the RPC dialer, for tests.
func (r *Relay) WithDialer(dial operator.Dialer) *Relay {
	r.dial = dial
	return r
}

// Activate processes each authorization concurrently and independently: one
// chain failing, or panicking, never affects another. Results come back in
// input order, exactly one per authorization.
func (r *Relay) Activate(ctx context.Context, wallet common.Address, auths []Authorization) []ChainResult {
	results := make([]ChainResult, len(auths))
	var wg sync.WaitGroup
	for i := range auths {
		wg.Add(1)
		go func(i int, auth Authorization) {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					r.log.Error("activation panicked", zap.Int64("chain_id", auth.ChainID), zap.Any("panic", p))
					results[i] = ChainResult{ChainID: auth.ChainID, Status: StatusError, Error: fmt.Sprintf("internal error: %v", p)}
				}
			}()
			results[i] = r.activateOne(ctx, wallet, auth)
		}(i, auths[i])
	}
	wg.Wait()
	return results
}

func (r *Relay) activateOne(ctx context.Context, wallet common.Address, auth Authorization) ChainResult {
	res := ChainResult{ChainID: auth.ChainID}
	cfg, ok := r.op.Registry().Get(auth.ChainID)
	if !ok {
		res.Status = StatusError
		res.Error = "Unknown chain"
		return res
	}
	if !r.op.Configured() {
		res.Status = StatusError
		res.Error = "operator key not configured"
		return res
	}

	setCodeAuth, err := toSetCodeAuthorization(auth)
	if err != nil {
		res.Status = StatusError
		res.Error = err.Error()
		return res
	}
	calldata, err := delegate.EncodeInitializeOperator(r.op.Address())
	if err != nil {
		res.Status = StatusError
		res.Error = err.Error()
		return res
	}

	client, err := r.dial(ctx, cfg.RPCURL)
	if err != nil {
		res.Status = StatusError
		res.Error = err.Error()
		return res
	}
	defer client.Close()

	tipCap, feeCap, err := operator.SuggestFees(ctx, client)
	if err != nil {
		res.Status = StatusError
		res.Error = err.Error()
		return res
	}
	nonce, err := client.PendingNonceAt(ctx, r.op.Address())
	if err != nil {
		res.Status = StatusError
		res.Error = "fetch operator nonce: " + err.Error()
		return res
	}

	chainID := uint256.NewInt(uint64(auth.ChainID))
	tx := types.NewTx(&types.SetCodeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: uint256.MustFromBig(tipCap),
		GasFeeCap: uint256.MustFromBig(feeCap),
		Gas:       ActivationGas,
		To:        wallet,
		Value:     uint256.NewInt(0),
		Data:      calldata,
		AuthList:  []types.SetCodeAuthorization{setCodeAuth},
	})
	signed, err := r.op.Signer().SignTx(chainID.ToBig(), tx)
	if err != nil {
		res.Status = StatusError
		res.Error = "sign activation: " + err.Error()
		return res
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		res.Status = classifyActivationError(err)
		if res.Status == StatusError {
			res.Error = err.Error()
		}
		return res
	}
	res.TxHash = signed.Hash().Hex()
	if err := r.op.Journal().Record(operator.Entry{
		TxHash:        res.TxHash,
		ChainID:       auth.ChainID,
		Kind:          "delegation_activation",
		WalletAddress: wallet.Hex(),
		Status:        operator.EntryStatusSubmitted,
	}); err != nil {
		r.log.Warn("journal write failed", zap.String("tx_hash", res.TxHash), zap.Error(err))
	}

	receipt, err := r.waitReceipt(ctx, client, signed.Hash())
	if err != nil {
		res.Status = StatusError
		res.Error = err.Error()
		return res
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		res.Status = StatusSuccess
		_ = r.op.Journal().UpdateStatus(res.TxHash, operator.EntryStatusSuccess)
	} else {
		// A reverted activation almost always means initializeOperator hit a
		// wallet that is already initialized.
		res.Status = StatusAlreadyActive
		_ = r.op.Journal().UpdateStatus(res.TxHash, operator.EntryStatusReverted)
	}
	r.log.Info("activation settled",
		zap.Int64("chain_id", auth.ChainID),
		zap.String("wallet", wallet.Hex()),
		zap.String("status", res.Status))
	return res
}

func (r *Relay) waitReceipt(ctx context.Context, client operator.ChainClient, hash common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, r.receiptTimeout)
	defer cancel()
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := client.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-waitCtx.Done():
			return nil, agerr.Wrap(agerr.CodeUnavailable, "timed out waiting for activation receipt", waitCtx.Err())
		case <-ticker.C:
		}
	}
}

// classifyActivationError maps a submission failure onto a result status.
// Heuristic: node error text is not standardized, but an AlreadyInitialized
// custom error or a generic revert during submission means the wallet already
// carries an active delegation.
func classifyActivationError(err error) string {
	msg := err.Error()
	if strings.Contains(msg, "AlreadyInitialized") || strings.Contains(strings.ToLower(msg), "revert") {
		return StatusAlreadyActive
	}
	return StatusError
}

func toSetCodeAuthorization(auth Authorization) (types.SetCodeAuthorization, error) {
	if !common.IsHexAddress(auth.ContractAddress) {
		return types.SetCodeAuthorization{}, agerr.New(agerr.CodeUsage, "invalid delegate contract address")
	}
	r, err := parseQuantity(auth.R)
	if err != nil {
		return types.SetCodeAuthorization{}, agerr.Wrap(agerr.CodeUsage, "parse authorization r", err)
	}
	s, err := parseQuantity(auth.S)
	if err != nil {
		return types.SetCodeAuthorization{}, agerr.Wrap(agerr.CodeUsage, "parse authorization s", err)
	}
	return types.SetCodeAuthorization{
		ChainID: *uint256.NewInt(uint64(auth.ChainID)),
		Address: common.HexToAddress(auth.ContractAddress),
		Nonce:   auth.Nonce,
		V:       uint8(auth.YParity),
		R:       *r,
		S:       *s,
	}, nil
}

// parseQuantity accepts hex with or without the 0x prefix, tolerating the
// leading zeros wallet libraries emit in signature halves.
func parseQuantity(v string) (*uint256.Int, error) {
	clean := strings.TrimSpace(v)
	clean = strings.TrimPrefix(strings.TrimPrefix(clean, "0x"), "0X")
	if clean == "" {
		return nil, fmt.Errorf("empty quantity")
	}
	bi, ok := new(big.Int).SetString(clean, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex quantity %q", v)
	}
	u, overflow := uint256.FromBig(bi)
	if overflow {
		return nil, fmt.Errorf("quantity overflows 256 bits")
	}
	return u, nil
}
