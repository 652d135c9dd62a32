package chains

import "testing"

func lookupFrom(env map[string]string) func(string) string {
	return func(name string) string { return env[name] }
}

func TestSubstituteEnv(t *testing.T) {
	lookup := lookupFrom(map[string]string{"BASE_RPC_URL": "https://base.example"})
	if got := SubstituteEnv("${BASE_RPC_URL}", lookup); got != "https://base.example" {
		t.Fatalf("unexpected substitution: %q", got)
	}
	if got := SubstituteEnv("${MISSING_VAR}", lookup); got != "" {
		t.Fatalf("missing var should substitute to empty, got %q", got)
	}
	if got := SubstituteEnv("https://static.example", lookup); got != "https://static.example" {
		t.Fatalf("literal URL changed: %q", got)
	}
}

func TestResolveFallsBackToDefaults(t *testing.T) {
	raw := map[string]RawConfig{
		"1":    {RPCURL: "${ETH_RPC_URL}"},
		"8453": {RPCURL: "https://base.example", ExplorerURL: "https://basescan.example"},
	}
	reg := Resolve(raw, lookupFrom(nil))

	eth, ok := reg.Get(1)
	if !ok {
		t.Fatal("chain 1 missing")
	}
	if eth.RPCURL != "https://eth.llamarpc.com" {
		t.Fatalf("expected default RPC for chain 1, got %q", eth.RPCURL)
	}

	base, ok := reg.Get(8453)
	if !ok {
		t.Fatal("chain 8453 missing")
	}
	if base.RPCURL != "https://base.example" || base.ExplorerURL != "https://basescan.example" {
		t.Fatalf("explicit config not honored: %+v", base)
	}
}

func TestResolveOmitsUnknownUnconfiguredChain(t *testing.T) {
	raw := map[string]RawConfig{
		"999999": {RPCURL: "${NOPE}"},
	}
	reg := Resolve(raw, lookupFrom(nil))
	if _, ok := reg.Get(999999); ok {
		t.Fatal("chain without RPC or default should be omitted")
	}
	if reg.Len() != 0 {
		t.Fatalf("expected empty registry, got %d chains", reg.Len())
	}
}

func TestEVMSetIncludesSepoliaExcludesSui(t *testing.T) {
	reg := Defaults()
	sawSepolia := false
	for _, cfg := range reg.EVM() {
		if cfg.ID == SuiChainID {
			t.Fatalf("EVM set must not include the Sui pseudo chain")
		}
		if cfg.ID == SepoliaChainID {
			sawSepolia = true
		}
	}
	if !sawSepolia {
		t.Fatal("EVM set must include Sepolia so setup can fetch its nonce")
	}
}

func TestPortfolioSetExcludesSuiAndTestnet(t *testing.T) {
	reg := Defaults()
	for _, cfg := range reg.Portfolio() {
		if cfg.ID == SuiChainID || cfg.ID == SepoliaChainID {
			t.Fatalf("portfolio set must not include chain %d", cfg.ID)
		}
	}
	if len(reg.Portfolio()) == 0 {
		t.Fatal("expected mainnet EVM chains")
	}
}

func TestFirstSkipsSui(t *testing.T) {
	raw := map[string]RawConfig{
		"9270000000000000": {RPCURL: "https://fullnode.example"},
		"42161":            {RPCURL: "https://arb.example"},
	}
	reg := Resolve(raw, lookupFrom(nil))
	first, ok := reg.First()
	if !ok {
		t.Fatal("expected a fallback chain")
	}
	if first.ID != 42161 {
		t.Fatalf("First() should return an EVM chain, got %d", first.ID)
	}
}

func TestKnownTokensCoverage(t *testing.T) {
	if len(KnownTokens(1)) == 0 || len(KnownTokens(8453)) == 0 {
		t.Fatal("mainnet token tables missing")
	}
	if KnownTokens(SepoliaChainID) != nil {
		t.Fatal("testnet must have no token table")
	}
	if KnownTokens(SuiChainID) != nil {
		t.Fatal("sui must have no ERC-20 token table")
	}
}
