// Package operator submits transactions from the service's own key. Delegated
// calls are sent to the user's wallet address, where the installed delegate
// contract checks the operator allowlist and forwards them.
package operator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/dmarzzo/defi-agent/internal/chains"
	agerr "github.com/dmarzzo/defi-agent/internal/errors"
)

// ChainClient is the subset of ethclient used by the operator. Tests inject
// fakes; production dials the chain's RPC endpoint.
type ChainClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Dialer opens a ChainClient for an RPC URL.
type Dialer func(ctx context.Context, rpcURL string) (ChainClient, error)

// DialEthclient is the production dialer.
func DialEthclient(ctx context.Context, rpcURL string) (ChainClient, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, agerr.Wrap(agerr.CodeUnavailable, "connect rpc", err)
	}
	return client, nil
}

// delegationPrefix marks an EIP-7702 delegation designation in account code.
var delegationPrefix = []byte{0xef, 0x01, 0x00}

const delegationCodeLen = 23

type Operator struct {
	signer  Signer
	reg     chains.Registry
	journal *Journal
	log     *zap.Logger
	dial    Dialer
}

func New(signer Signer, reg chains.Registry, journal *Journal, log *zap.Logger) *Operator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Operator{signer: signer, reg: reg, journal: journal, log: log, dial: DialEthclient}
}

// WithDialer replaces the RPC dialer, for tests.
func (o *Operator) WithDialer(dial Dialer) *Operator {
	o.dial = dial
	return o
}

func (o *Operator) Configured() bool { return o != nil && o.signer != nil }

func (o *Operator) Address() common.Address {
	if o == nil || o.signer == nil {
		return common.Address{}
	}
	return o.signer.Address()
}

func (o *Operator) Signer() Signer { return o.signer }

func (o *Operator) Registry() chains.Registry { return o.reg }

func (o *Operator) Journal() *Journal { return o.journal }

func (o *Operator) evmChain(chainID int64) (chains.Config, error) {
	cfg, ok := o.reg.Get(chainID)
	if !ok {
		return chains.Config{}, agerr.New(agerr.CodeUsage, fmt.Sprintf("unknown chain %d", chainID))
	}
	if cfg.Kind != chains.KindEVM {
		return chains.Config{}, agerr.New(agerr.CodeUsage, fmt.Sprintf("chain %d is not an EVM chain", chainID))
	}
	return cfg, nil
}

// SuggestFees resolves EIP-1559 fee caps from the chain head: suggested tip
// with a 2 gwei fallback, fee cap of twice the base fee plus the tip.
func SuggestFees(ctx context.Context, client ChainClient) (tipCap, feeCap *big.Int, err error) {
	tipCap, err = client.SuggestGasTipCap(ctx)
	if err != nil || tipCap == nil || tipCap.Sign() == 0 {
		tipCap = big.NewInt(2_000_000_000)
	}
	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, agerr.Wrap(agerr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap = new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)
	return tipCap, feeCap, nil
}

// SendDelegated signs and broadcasts calldata to the user's own wallet
// address. The submission is journaled; journal failures are logged, never
// fatal.
func (o *Operator) SendDelegated(ctx context.Context, chainID int64, userAddr common.Address, calldata []byte, gasLimit uint64) (common.Hash, error) {
	if !o.Configured() {
		return common.Hash{}, agerr.New(agerr.CodeNotConfigured, "operator key not configured")
	}
	cfg, err := o.evmChain(chainID)
	if err != nil {
		return common.Hash{}, err
	}
	client, err := o.dial(ctx, cfg.RPCURL)
	if err != nil {
		return common.Hash{}, err
	}
	defer client.Close()

	tipCap, feeCap, err := SuggestFees(ctx, client)
	if err != nil {
		return common.Hash{}, err
	}
	nonce, err := client.PendingNonceAt(ctx, o.signer.Address())
	if err != nil {
		return common.Hash{}, agerr.Wrap(agerr.CodeUnavailable, "fetch operator nonce", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(chainID),
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &userAddr,
		Value:     big.NewInt(0),
		Data:      calldata,
	})
	signed, err := o.signer.SignTx(big.NewInt(chainID), tx)
	if err != nil {
		return common.Hash{}, agerr.Wrap(agerr.CodeSigner, "sign delegated call", err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, agerr.Wrap(agerr.CodeUnavailable, "broadcast delegated call", err)
	}

	hash := signed.Hash()
	if err := o.journal.Record(Entry{
		TxHash:        hash.Hex(),
		ChainID:       chainID,
		Kind:          "delegated_call",
		WalletAddress: userAddr.Hex(),
		Status:        EntryStatusSubmitted,
	}); err != nil {
		o.log.Warn("journal write failed", zap.String("tx_hash", hash.Hex()), zap.Error(err))
	}
	o.log.Info("delegated call submitted",
		zap.Int64("chain_id", chainID),
		zap.String("wallet", userAddr.Hex()),
		zap.String("tx_hash", hash.Hex()))
	return hash, nil
}

// TxStatus values.
const (
	StatusPending  = "pending"
	StatusSuccess  = "success"
	StatusReverted = "reverted"
	StatusNotFound = "not_found"
)

// TxStatus reports a transaction's current state and folds confirmations back
// into the journal.
func (o *Operator) TxStatus(ctx context.Context, chainID int64, txHash common.Hash) (string, error) {
	cfg, err := o.evmChain(chainID)
	if err != nil {
		return "", err
	}
	client, err := o.dial(ctx, cfg.RPCURL)
	if err != nil {
		return "", err
	}
	defer client.Close()

	receipt, err := client.TransactionReceipt(ctx, txHash)
	if err == nil && receipt != nil {
		status := StatusSuccess
		journalStatus := EntryStatusSuccess
		if receipt.Status != types.ReceiptStatusSuccessful {
			status = StatusReverted
			journalStatus = EntryStatusReverted
		}
		if err := o.journal.UpdateStatus(txHash.Hex(), journalStatus); err != nil {
			o.log.Warn("journal update failed", zap.String("tx_hash", txHash.Hex()), zap.Error(err))
		}
		return status, nil
	}
	if err != nil && !errors.Is(err, ethereum.NotFound) {
		return "", agerr.Wrap(agerr.CodeUnavailable, "fetch receipt", err)
	}

	if _, _, err := client.TransactionByHash(ctx, txHash); err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return StatusNotFound, nil
		}
		return "", agerr.Wrap(agerr.CodeUnavailable, "fetch transaction", err)
	}
	return StatusPending, nil
}

// Delegation reports whether a wallet carries a delegation designation and,
// when it does, the delegate contract it points at.
type Delegation struct {
	IsDelegated     bool   `json:"isDelegated"`
	DelegateAddress string `json:"delegateAddress,omitempty"`
}

// CheckDelegation reads the wallet's account code and parses the EIP-7702
// designation: 0xef0100 followed by the 20-byte delegate address.
func (o *Operator) CheckDelegation(ctx context.Context, chainID int64, wallet common.Address) (Delegation, error) {
	cfg, err := o.evmChain(chainID)
	if err != nil {
		return Delegation{}, err
	}
	client, err := o.dial(ctx, cfg.RPCURL)
	if err != nil {
		return Delegation{}, err
	}
	defer client.Close()

	code, err := client.CodeAt(ctx, wallet, nil)
	if err != nil {
		return Delegation{}, agerr.Wrap(agerr.CodeUnavailable, "read wallet code", err)
	}
	if len(code) != delegationCodeLen || !bytes.HasPrefix(code, delegationPrefix) {
		return Delegation{}, nil
	}
	return Delegation{
		IsDelegated:     true,
		DelegateAddress: common.BytesToAddress(code[len(delegationPrefix):]).Hex(),
	}, nil
}

// Nonces reads the wallet's pending nonce on every requested chain. A chain
// that is not configured, or whose read fails, reports 0 so clients can still
// build authorizations for fresh accounts.
func (o *Operator) Nonces(ctx context.Context, wallet common.Address, chainIDs []int64) map[string]uint64 {
	out := make(map[string]uint64, len(chainIDs))
	for _, id := range chainIDs {
		key := strconv.FormatInt(id, 10)
		out[key] = 0
		cfg, ok := o.reg.Get(id)
		if !ok || cfg.Kind != chains.KindEVM {
			continue
		}
		nonce, err := o.readNonce(ctx, cfg, wallet)
		if err != nil {
			o.log.Warn("nonce read failed", zap.Int64("chain_id", id), zap.Error(err))
			continue
		}
		out[key] = nonce
	}
	return out
}

func (o *Operator) readNonce(ctx context.Context, cfg chains.Config, wallet common.Address) (uint64, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := o.dial(dialCtx, cfg.RPCURL)
	if err != nil {
		return 0, err
	}
	defer client.Close()
	return client.PendingNonceAt(dialCtx, wallet)
}
