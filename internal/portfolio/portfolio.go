// Package portfolio aggregates balances across every configured chain. Reads
// are best effort: a chain that cannot answer is dropped from the result
// rather than failing the whole view.
package portfolio

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/dmarzzo/defi-agent/internal/amount"
	"github.com/dmarzzo/defi-agent/internal/chains"
	"github.com/dmarzzo/defi-agent/internal/delegate"
	agerr "github.com/dmarzzo/defi-agent/internal/errors"
	"github.com/dmarzzo/defi-agent/internal/sui"
	"github.com/dmarzzo/defi-agent/internal/wallet"
)

// multicall3Address is the canonical deployment, identical on every chain in
// the registry.
var multicall3Address = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")

const multicall3ABIJSON = `[
	{"name":"aggregate3","type":"function","stateMutability":"payable","inputs":[{"name":"calls","type":"tuple[]","components":[{"name":"target","type":"address"},{"name":"allowFailure","type":"bool"},{"name":"callData","type":"bytes"}]}],"outputs":[{"name":"returnData","type":"tuple[]","components":[{"name":"success","type":"bool"},{"name":"returnData","type":"bytes"}]}]}
]`

var multicall3ABI = mustABI(multicall3ABIJSON)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

type TokenBalance struct {
	Symbol  string `json:"symbol"`
	Address string `json:"address"`
	Balance string `json:"balance"`
}

type ChainBalance struct {
	ChainID       int64          `json:"chainId"`
	Name          string         `json:"name"`
	NativeSymbol  string         `json:"nativeSymbol"`
	NativeBalance string         `json:"nativeBalance"`
	Tokens        []TokenBalance `json:"tokens"`

	nativeWei string
}

type SuiCoin struct {
	CoinType string `json:"coinType"`
	Symbol   string `json:"symbol"`
	Balance  string `json:"balance"`
}

type SuiSection struct {
	Address string    `json:"address"`
	Coins   []SuiCoin `json:"coins"`
}

type Portfolio struct {
	Address            string         `json:"address,omitempty"`
	SuiAddress         string         `json:"suiAddress,omitempty"`
	Chains             []ChainBalance `json:"chains"`
	Sui                *SuiSection    `json:"sui,omitempty"`
	TotalNativeBalance string         `json:"totalNativeBalance"`
}

// evmClient is the read-only slice of ethclient the aggregator uses.
type evmClient interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

type dialer func(ctx context.Context, rpcURL string) (evmClient, error)

func dialEthclient(ctx context.Context, rpcURL string) (evmClient, error) {
	return ethclient.DialContext(ctx, rpcURL)
}

type suiReader interface {
	GetAllBalances(ctx context.Context, owner string) ([]sui.Balance, error)
	Configured() bool
}

type Aggregator struct {
	reg     chains.Registry
	sui     suiReader
	log     *zap.Logger
	dial    dialer
	timeout time.Duration
}

func New(reg chains.Registry, suiClient *sui.Client, log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{
		reg:     reg,
		sui:     suiClient,
		log:     log,
		dial:    dialEthclient,
		timeout: 15 * time.Second,
	}
}

// Get fans out to every portfolio chain concurrently. A chain is included
// only when it holds value: positive native balance or at least one nonzero
// token balance.
func (a *Aggregator) Get(ctx context.Context, rec wallet.Record) (Portfolio, error) {
	if rec.Empty() {
		return Portfolio{}, agerr.New(agerr.CodeUsage, "no wallet address to aggregate")
	}
	out := Portfolio{
		Address:    rec.Address,
		SuiAddress: rec.SuiAddress,
		Chains:     []ChainBalance{},
	}
	totalWei := new(big.Int)

	if rec.HasEVM() {
		owner := common.HexToAddress(rec.Address)
		evmChains := a.reg.Portfolio()
		balances := make([]*ChainBalance, len(evmChains))
		var wg sync.WaitGroup
		for i, cfg := range evmChains {
			wg.Add(1)
			go func(i int, cfg chains.Config) {
				defer wg.Done()
				cb, err := a.queryChain(ctx, cfg, owner)
				if err != nil {
					a.log.Warn("chain query failed, dropping from portfolio",
						zap.Int64("chain_id", cfg.ID), zap.Error(err))
					return
				}
				balances[i] = cb
			}(i, cfg)
		}
		wg.Wait()

		for _, cb := range balances {
			if cb == nil {
				continue
			}
			native, _ := new(big.Int).SetString(cb.nativeWei, 10)
			if native != nil {
				totalWei.Add(totalWei, native)
			}
			if native != nil && native.Sign() > 0 || len(cb.Tokens) > 0 {
				out.Chains = append(out.Chains, *cb)
			}
		}
	}

	if rec.HasSui() && a.sui != nil && a.sui.Configured() {
		section, err := a.querySui(ctx, rec.SuiAddress)
		if err != nil {
			a.log.Warn("sui query failed, omitting from portfolio", zap.Error(err))
		} else {
			out.Sui = section
		}
	}

	out.TotalNativeBalance = amount.FormatUnits(totalWei, 18)
	return out, nil
}

// NativeBalance reads one chain's native balance, formatted at 18 decimals.
func (a *Aggregator) NativeBalance(ctx context.Context, cfg chains.Config, address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", agerr.New(agerr.CodeUsage, "invalid address")
	}
	queryCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	client, err := a.dial(queryCtx, cfg.RPCURL)
	if err != nil {
		return "", err
	}
	defer client.Close()
	native, err := client.BalanceAt(queryCtx, common.HexToAddress(address), nil)
	if err != nil {
		return "", agerr.Wrap(agerr.CodeUnavailable, "read native balance", err)
	}
	return amount.FormatUnits(native, 18), nil
}

func (a *Aggregator) queryChain(ctx context.Context, cfg chains.Config, owner common.Address) (*ChainBalance, error) {
	queryCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	client, err := a.dial(queryCtx, cfg.RPCURL)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	native, err := client.BalanceAt(queryCtx, owner, nil)
	if err != nil {
		return nil, err
	}

	cb := &ChainBalance{
		ChainID:       cfg.ID,
		Name:          cfg.Name,
		NativeSymbol:  cfg.NativeSymbol,
		NativeBalance: amount.FormatUnits(native, 18),
		Tokens:        []TokenBalance{},
		nativeWei:     native.String(),
	}

	tokens := chains.KnownTokens(cfg.ID)
	if len(tokens) == 0 {
		return cb, nil
	}
	balances, err := a.batchTokenBalances(queryCtx, client, owner, tokens)
	if err != nil {
		a.log.Debug("multicall failed, falling back to per-token calls",
			zap.Int64("chain_id", cfg.ID), zap.Error(err))
		balances = a.singleTokenBalances(queryCtx, client, owner, tokens)
	}
	for i, tok := range tokens {
		bal := balances[i]
		if bal == nil || bal.Sign() == 0 {
			continue
		}
		cb.Tokens = append(cb.Tokens, TokenBalance{
			Symbol:  tok.Symbol,
			Address: tok.Address,
			Balance: amount.FormatUnits(bal, tok.Decimals),
		})
	}
	return cb, nil
}

// batchTokenBalances reads every token in one Multicall3 aggregate3 call.
// Individual entries may fail without failing the batch.
func (a *Aggregator) batchTokenBalances(ctx context.Context, client evmClient, owner common.Address, tokens []chains.Token) ([]*big.Int, error) {
	type call struct {
		Target       common.Address `abi:"target"`
		AllowFailure bool           `abi:"allowFailure"`
		CallData     []byte         `abi:"callData"`
	}
	calls := make([]call, len(tokens))
	for i, tok := range tokens {
		data, err := delegate.EncodeBalanceOf(owner)
		if err != nil {
			return nil, err
		}
		calls[i] = call{Target: common.HexToAddress(tok.Address), AllowFailure: true, CallData: data}
	}
	input, err := multicall3ABI.Pack("aggregate3", calls)
	if err != nil {
		return nil, err
	}
	output, err := client.CallContract(ctx, ethereum.CallMsg{To: &multicall3Address, Data: input}, nil)
	if err != nil {
		return nil, err
	}
	unpacked, err := multicall3ABI.Unpack("aggregate3", output)
	if err != nil || len(unpacked) != 1 {
		return nil, agerr.Wrap(agerr.CodeUnavailable, "decode multicall result", err)
	}
	results, ok := unpacked[0].([]struct {
		Success    bool   `json:"success"`
		ReturnData []byte `json:"returnData"`
	})
	if !ok || len(results) != len(tokens) {
		return nil, agerr.New(agerr.CodeUnavailable, "unexpected multicall result shape")
	}

	out := make([]*big.Int, len(tokens))
	for i, res := range results {
		if !res.Success {
			continue
		}
		bal, err := delegate.UnpackBalanceOf(res.ReturnData)
		if err != nil {
			continue
		}
		out[i] = bal
	}
	return out, nil
}

// singleTokenBalances is the fallback path: one balanceOf per token, failed
// reads silently skipped.
func (a *Aggregator) singleTokenBalances(ctx context.Context, client evmClient, owner common.Address, tokens []chains.Token) []*big.Int {
	out := make([]*big.Int, len(tokens))
	for i, tok := range tokens {
		data, err := delegate.EncodeBalanceOf(owner)
		if err != nil {
			continue
		}
		target := common.HexToAddress(tok.Address)
		raw, err := client.CallContract(ctx, ethereum.CallMsg{To: &target, Data: data}, nil)
		if err != nil {
			continue
		}
		bal, err := delegate.UnpackBalanceOf(raw)
		if err != nil {
			continue
		}
		out[i] = bal
	}
	return out
}

func (a *Aggregator) querySui(ctx context.Context, address string) (*SuiSection, error) {
	queryCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	balances, err := a.sui.GetAllBalances(queryCtx, address)
	if err != nil {
		return nil, err
	}
	section := &SuiSection{Address: address, Coins: []SuiCoin{}}
	for _, b := range balances {
		section.Coins = append(section.Coins, SuiCoin{
			CoinType: b.CoinType,
			Symbol:   b.Symbol(),
			Balance:  b.TotalBalance,
		})
	}
	return section, nil
}
