// Package chains resolves chain configuration into an immutable registry built
// once at startup. A chain whose RPC URL cannot be resolved is omitted, never
// an error: callers degrade by skipping it or falling back to the first
// available chain.
package chains

import (
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// SuiChainID is the reserved pseudo chain ID for the Sui network. It is not an
// EVM chain ID; it exists so Sui can share the registry and tool parameters.
const SuiChainID int64 = 9270000000000000

// SepoliaChainID is skipped by portfolio aggregation along with Sui.
const SepoliaChainID int64 = 11155111

type Kind string

const (
	KindEVM Kind = "evm"
	KindSui Kind = "sui"
)

type Config struct {
	ID           int64
	Name         string
	Kind         Kind
	RPCURL       string
	ExplorerURL  string
	NativeSymbol string
}

// RawConfig is a chain entry as it appears in the config file. URLs may
// reference environment variables as ${VAR_NAME}.
type RawConfig struct {
	RPCURL      string `yaml:"rpc_url"`
	ExplorerURL string `yaml:"explorer_url"`
}

type Registry struct {
	byID  map[int64]Config
	order []int64
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_]+)\}`)

// SubstituteEnv replaces ${VAR_NAME} references so RPC URLs can live in .env.
func SubstituteEnv(s string, lookup func(string) string) string {
	return envPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := m[2 : len(m)-1]
		return lookup(name)
	})
}

// Resolve builds the registry from raw entries. An entry whose RPC URL is
// empty after substitution falls back to the built-in default for that chain
// ID when one exists; otherwise the chain is dropped.
func Resolve(raw map[string]RawConfig, lookup func(string) string) Registry {
	if lookup == nil {
		lookup = os.Getenv
	}
	reg := Registry{byID: make(map[int64]Config)}
	for key, rc := range raw {
		id, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil {
			continue
		}
		rpcURL := strings.TrimSpace(SubstituteEnv(rc.RPCURL, lookup))
		explorer := strings.TrimSpace(SubstituteEnv(rc.ExplorerURL, lookup))
		def, hasDefault := defaultChains[id]
		if rpcURL == "" {
			if !hasDefault {
				continue
			}
			rpcURL = def.RPCURL
			if explorer == "" {
				explorer = def.ExplorerURL
			}
		}
		cfg := Config{
			ID:           id,
			Name:         chainName(id),
			Kind:         kindOf(id),
			RPCURL:       rpcURL,
			ExplorerURL:  explorer,
			NativeSymbol: nativeSymbol(id),
		}
		reg.byID[id] = cfg
	}
	reg.reindex()
	return reg
}

// Defaults returns a registry holding every built-in chain.
func Defaults() Registry {
	reg := Registry{byID: make(map[int64]Config)}
	for id, def := range defaultChains {
		reg.byID[id] = Config{
			ID:           id,
			Name:         chainName(id),
			Kind:         kindOf(id),
			RPCURL:       def.RPCURL,
			ExplorerURL:  def.ExplorerURL,
			NativeSymbol: nativeSymbol(id),
		}
	}
	reg.reindex()
	return reg
}

func (r *Registry) reindex() {
	r.order = r.order[:0]
	for id := range r.byID {
		r.order = append(r.order, id)
	}
	sort.Slice(r.order, func(i, j int) bool { return r.order[i] < r.order[j] })
}

func (r Registry) Get(id int64) (Config, bool) {
	cfg, ok := r.byID[id]
	return cfg, ok
}

// First returns the lowest-ID EVM chain, used as a generic fallback for
// single-chain operations that carry no explicit chain argument.
func (r Registry) First() (Config, bool) {
	for _, id := range r.order {
		if r.byID[id].Kind == KindEVM {
			return r.byID[id], true
		}
	}
	return Config{}, false
}

// EVM returns every configured EVM chain in ID order, Sepolia included.
// Nonce discovery and activation cover testnets too.
func (r Registry) EVM() []Config {
	out := make([]Config, 0, len(r.order))
	for _, id := range r.order {
		cfg := r.byID[id]
		if cfg.Kind != KindEVM {
			continue
		}
		out = append(out, cfg)
	}
	return out
}

// Portfolio returns the EVM chains aggregated into portfolio balances,
// which skip the Sepolia testnet.
func (r Registry) Portfolio() []Config {
	out := make([]Config, 0, len(r.order))
	for _, cfg := range r.EVM() {
		if cfg.ID == SepoliaChainID {
			continue
		}
		out = append(out, cfg)
	}
	return out
}

// All returns every configured chain in ID order.
func (r Registry) All() []Config {
	out := make([]Config, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

func (r Registry) Len() int { return len(r.byID) }

func kindOf(id int64) Kind {
	if id == SuiChainID {
		return KindSui
	}
	return KindEVM
}

type defaultChain struct {
	RPCURL      string
	ExplorerURL string
}

var defaultChains = map[int64]defaultChain{
	1:             {RPCURL: "https://eth.llamarpc.com", ExplorerURL: "https://etherscan.io"},
	10:            {RPCURL: "https://mainnet.optimism.io", ExplorerURL: "https://optimistic.etherscan.io"},
	137:           {RPCURL: "https://polygon.llamarpc.com", ExplorerURL: "https://polygonscan.com"},
	8453:          {RPCURL: "https://mainnet.base.org", ExplorerURL: "https://basescan.org"},
	42161:         {RPCURL: "https://arb1.arbitrum.io/rpc", ExplorerURL: "https://arbiscan.io"},
	SepoliaChainID: {RPCURL: "https://rpc.sepolia.org", ExplorerURL: "https://sepolia.etherscan.io"},
	SuiChainID:    {RPCURL: "https://fullnode.mainnet.sui.io:443", ExplorerURL: "https://suiscan.xyz"},
}

var chainNames = map[int64]string{
	1:             "Ethereum",
	10:            "Optimism",
	137:           "Polygon",
	8453:          "Base",
	42161:         "Arbitrum",
	SepoliaChainID: "Sepolia",
	SuiChainID:    "Sui",
}

var nativeSymbols = map[int64]string{
	1:             "ETH",
	10:            "ETH",
	137:           "POL",
	8453:          "ETH",
	42161:         "ETH",
	SepoliaChainID: "ETH",
	SuiChainID:    "SUI",
}

func chainName(id int64) string {
	if name, ok := chainNames[id]; ok {
		return name
	}
	return "Chain " + strconv.FormatInt(id, 10)
}

func nativeSymbol(id int64) string {
	if sym, ok := nativeSymbols[id]; ok {
		return sym
	}
	return "ETH"
}
