// Package registry resolves per-chain RPC endpoints and AMM contract
// addresses. Lookups are pure and side-effect-free; the built-in table can
// be extended or overridden with a YAML buffer supplied by the host.
package registry

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ittarek/swap-engine/swaperr"
)

// ChainConfig is everything the engine needs to talk to one chain: a
// JSON-RPC endpoint plus the Uniswap V3 quoter and router deployments.
type ChainConfig struct {
	ChainID  int64
	Name     string
	Endpoint string
	QuoterV2 common.Address
	Router   common.Address
}

// defaultChains carries the canonical Uniswap V3 deployments. The router is
// the deadline-bearing SwapRouter; QuoterV2 serves read-only quoting. Both
// live at the same address on every chain listed here.
var defaultChains = map[int64]ChainConfig{
	1: {
		ChainID:  1,
		Name:     "ethereum",
		Endpoint: "https://eth.llamarpc.com",
		QuoterV2: common.HexToAddress("0x61fFE014bA17989E743c5F6cB21bF9697530B21e"),
		Router:   common.HexToAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564"),
	},
	10: {
		ChainID:  10,
		Name:     "optimism",
		Endpoint: "https://mainnet.optimism.io",
		QuoterV2: common.HexToAddress("0x61fFE014bA17989E743c5F6cB21bF9697530B21e"),
		Router:   common.HexToAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564"),
	},
	137: {
		ChainID:  137,
		Name:     "polygon",
		Endpoint: "https://polygon-rpc.com",
		QuoterV2: common.HexToAddress("0x61fFE014bA17989E743c5F6cB21bF9697530B21e"),
		Router:   common.HexToAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564"),
	},
	42161: {
		ChainID:  42161,
		Name:     "arbitrum",
		Endpoint: "https://arb1.arbitrum.io/rpc",
		QuoterV2: common.HexToAddress("0x61fFE014bA17989E743c5F6cB21bF9697530B21e"),
		Router:   common.HexToAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564"),
	},
}

// Registry resolves chain ids to endpoint and contract configuration.
type Registry struct {
	chains map[int64]ChainConfig
}

// New returns a registry with the built-in chain table.
func New() *Registry {
	chains := make(map[int64]ChainConfig, len(defaultChains))
	for id, cfg := range defaultChains {
		chains[id] = cfg
	}
	return &Registry{chains: chains}
}

// Resolve returns the configuration for a chain id.
func (r *Registry) Resolve(chainID int64) (ChainConfig, error) {
	cfg, ok := r.chains[chainID]
	if !ok {
		return ChainConfig{}, swaperr.New(swaperr.CodeUnsupportedChain,
			fmt.Sprintf("chain id %d is not configured", chainID))
	}
	return cfg, nil
}

// Supports reports whether the chain id is configured.
func (r *Registry) Supports(chainID int64) bool {
	_, ok := r.chains[chainID]
	return ok
}

// Chains returns all configured chains ordered by chain id.
func (r *Registry) Chains() []ChainConfig {
	out := make([]ChainConfig, 0, len(r.chains))
	for _, cfg := range r.chains {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}
