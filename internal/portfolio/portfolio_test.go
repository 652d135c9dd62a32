package portfolio

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/dmarzzo/defi-agent/internal/chains"
	"github.com/dmarzzo/defi-agent/internal/sui"
	"github.com/dmarzzo/defi-agent/internal/wallet"
)

type mcResult struct {
	Success    bool   `json:"success"`
	ReturnData []byte `json:"returnData"`
}

func packBalances(t *testing.T, balances []*big.Int) []byte {
	t.Helper()
	results := make([]mcResult, len(balances))
	for i, b := range balances {
		if b == nil {
			results[i] = mcResult{Success: false}
			continue
		}
		word := make([]byte, 32)
		b.FillBytes(word)
		results[i] = mcResult{Success: true, ReturnData: word}
	}
	out, err := multicall3ABI.Methods["aggregate3"].Outputs.Pack(results)
	if err != nil {
		t.Fatalf("pack multicall output: %v", err)
	}
	return out
}

type fakeEVM struct {
	native     *big.Int
	nativeErr  error
	multicall  []byte
	callErr    error
	singleResp map[common.Address]*big.Int
}

func (f *fakeEVM) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return f.native, f.nativeErr
}

func (f *fakeEVM) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if msg.To != nil && *msg.To == multicall3Address {
		if f.callErr != nil {
			return nil, f.callErr
		}
		return f.multicall, nil
	}
	if f.singleResp == nil {
		return nil, errors.New("no single-call response configured")
	}
	bal, ok := f.singleResp[*msg.To]
	if !ok {
		return nil, errors.New("token read failed")
	}
	word := make([]byte, 32)
	bal.FillBytes(word)
	return word, nil
}

func (f *fakeEVM) Close() {}

// singleChainRegistry keeps fan-out deterministic: mainnet only.
func singleChainRegistry() chains.Registry {
	return chains.Resolve(map[string]chains.RawConfig{
		"1": {RPCURL: "https://example.invalid/eth"},
	}, func(string) string { return "" })
}

func testAggregator(reg chains.Registry, clients map[string]*fakeEVM) *Aggregator {
	a := New(reg, nil, zap.NewNop())
	a.dial = func(_ context.Context, rpcURL string) (evmClient, error) {
		c, ok := clients[rpcURL]
		if !ok {
			return nil, errors.New("dial failed")
		}
		return c, nil
	}
	return a
}

func TestGetRequiresSomeAddress(t *testing.T) {
	a := testAggregator(singleChainRegistry(), nil)
	if _, err := a.Get(context.Background(), wallet.Record{}); err == nil {
		t.Fatal("expected error for empty record")
	}
}

func TestChainIncludedWithOnlyTokenBalance(t *testing.T) {
	tokens := chains.KnownTokens(1)
	balances := make([]*big.Int, len(tokens))
	balances[0] = big.NewInt(5_000_000) // 5 USDC

	client := &fakeEVM{native: big.NewInt(0)}
	a := testAggregator(singleChainRegistry(), map[string]*fakeEVM{"https://example.invalid/eth": client})
	client.multicall = packBalances(t, balances)

	p, err := a.Get(context.Background(), wallet.Record{Address: "0x1111111111111111111111111111111111111111"})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(p.Chains) != 1 {
		t.Fatalf("zero-native chain with a token balance must be included: %+v", p.Chains)
	}
	got := p.Chains[0]
	if len(got.Tokens) != 1 || got.Tokens[0].Symbol != "USDC" || got.Tokens[0].Balance != "5" {
		t.Fatalf("unexpected tokens: %+v", got.Tokens)
	}
}

func TestChainExcludedWhenAllZero(t *testing.T) {
	tokens := chains.KnownTokens(1)
	client := &fakeEVM{native: big.NewInt(0)}
	a := testAggregator(singleChainRegistry(), map[string]*fakeEVM{"https://example.invalid/eth": client})
	client.multicall = packBalances(t, make([]*big.Int, len(tokens)))

	p, err := a.Get(context.Background(), wallet.Record{Address: "0x1111111111111111111111111111111111111111"})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(p.Chains) != 0 {
		t.Fatalf("all-zero chain must be excluded: %+v", p.Chains)
	}
	if p.TotalNativeBalance != "0" {
		t.Fatalf("unexpected total: %s", p.TotalNativeBalance)
	}
}

func TestFailedChainDropped(t *testing.T) {
	client := &fakeEVM{nativeErr: errors.New("rpc down")}
	a := testAggregator(singleChainRegistry(), map[string]*fakeEVM{"https://example.invalid/eth": client})

	p, err := a.Get(context.Background(), wallet.Record{Address: "0x1111111111111111111111111111111111111111"})
	if err != nil {
		t.Fatalf("a failing chain must not fail the portfolio: %v", err)
	}
	if len(p.Chains) != 0 {
		t.Fatalf("failed chain must be dropped: %+v", p.Chains)
	}
}

func TestMulticallFallbackToSingleCalls(t *testing.T) {
	tokens := chains.KnownTokens(1)
	client := &fakeEVM{
		native:  big.NewInt(2_000_000_000_000_000_000), // 2 ETH
		callErr: errors.New("multicall not deployed"),
		singleResp: map[common.Address]*big.Int{
			common.HexToAddress(tokens[0].Address): big.NewInt(7_000_000),
		},
	}
	a := testAggregator(singleChainRegistry(), map[string]*fakeEVM{"https://example.invalid/eth": client})

	p, err := a.Get(context.Background(), wallet.Record{Address: "0x1111111111111111111111111111111111111111"})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(p.Chains) != 1 {
		t.Fatalf("expected one chain, got %+v", p.Chains)
	}
	got := p.Chains[0]
	if got.NativeBalance != "2" {
		t.Fatalf("unexpected native balance: %s", got.NativeBalance)
	}
	// Only the token whose individual read succeeded survives the fallback.
	if len(got.Tokens) != 1 || got.Tokens[0].Symbol != tokens[0].Symbol {
		t.Fatalf("unexpected tokens after fallback: %+v", got.Tokens)
	}
	if p.TotalNativeBalance != "2" {
		t.Fatalf("unexpected total: %s", p.TotalNativeBalance)
	}
}

func TestMulticallPartialFailureTolerated(t *testing.T) {
	tokens := chains.KnownTokens(1)
	balances := make([]*big.Int, len(tokens))
	balances[1] = big.NewInt(1_000_000)

	client := &fakeEVM{native: big.NewInt(0)}
	a := testAggregator(singleChainRegistry(), map[string]*fakeEVM{"https://example.invalid/eth": client})
	client.multicall = packBalances(t, balances)

	p, err := a.Get(context.Background(), wallet.Record{Address: "0x1111111111111111111111111111111111111111"})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(p.Chains) != 1 || len(p.Chains[0].Tokens) != 1 {
		t.Fatalf("expected exactly the one successful token: %+v", p.Chains)
	}
	if p.Chains[0].Tokens[0].Symbol != tokens[1].Symbol {
		t.Fatalf("wrong token survived: %+v", p.Chains[0].Tokens[0])
	}
}

type fakeSui struct {
	balances []sui.Balance
	err      error
}

func (f *fakeSui) GetAllBalances(context.Context, string) ([]sui.Balance, error) {
	return f.balances, f.err
}

func (f *fakeSui) Configured() bool { return true }

func TestSuiSectionAppended(t *testing.T) {
	a := testAggregator(singleChainRegistry(), nil)
	a.sui = &fakeSui{balances: []sui.Balance{
		{CoinType: "0x2::sui::SUI", TotalBalance: "1230000000"},
	}}

	p, err := a.Get(context.Background(), wallet.Record{SuiAddress: "0xsui"})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if p.Sui == nil || len(p.Sui.Coins) != 1 {
		t.Fatalf("expected sui section: %+v", p.Sui)
	}
	if p.Sui.Coins[0].Symbol != "SUI" || p.Sui.Coins[0].Balance != "1230000000" {
		t.Fatalf("unexpected sui coin: %+v", p.Sui.Coins[0])
	}
}

func TestSuiFailureOmitsSection(t *testing.T) {
	a := testAggregator(singleChainRegistry(), nil)
	a.sui = &fakeSui{err: errors.New("fullnode down")}

	p, err := a.Get(context.Background(), wallet.Record{SuiAddress: "0xsui"})
	if err != nil {
		t.Fatalf("sui failure must not fail the portfolio: %v", err)
	}
	if p.Sui != nil {
		t.Fatalf("expected sui section omitted, got %+v", p.Sui)
	}
}
