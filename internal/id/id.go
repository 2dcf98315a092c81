package id

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	clierr "github.com/ggonzalez94/xroute/internal/errors"
	"github.com/samber/lo"
)

var (
	eip155ChainPattern = regexp.MustCompile(`^eip155:[0-9]+$`)
	evmAddressPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// Chain is a supported EVM network. Name is the canonical upper-case
// identifier used on the wire (for example "BASE").
type Chain struct {
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	CAIP2        string `json:"caip2"`
	EVMChainID   int64  `json:"chain_id"`
	NativeSymbol string `json:"native_symbol"`
}

// TokenRef identifies one token deployment. Values are immutable once loaded.
type TokenRef struct {
	ChainName string `json:"chainName"`
	Symbol    string `json:"symbol"`
	Address   string `json:"address"`
	Decimals  int    `json:"decimals"`
	ChainID   int64  `json:"chainId"`
}

// AssetID renders the CAIP-19 identifier of the token.
func (t TokenRef) AssetID() string {
	return fmt.Sprintf("eip155:%d/erc20:%s", t.ChainID, strings.ToLower(t.Address))
}

func (t TokenRef) IsZero() bool { return t.Address == "" }

type token struct {
	Symbol   string
	Address  string
	Decimals int
}

var chains = []Chain{
	{Name: "ETHEREUM", Slug: "ethereum", CAIP2: "eip155:1", EVMChainID: 1, NativeSymbol: "ETH"},
	{Name: "OPTIMISM", Slug: "optimism", CAIP2: "eip155:10", EVMChainID: 10, NativeSymbol: "ETH"},
	{Name: "POLYGON", Slug: "polygon", CAIP2: "eip155:137", EVMChainID: 137, NativeSymbol: "MATIC"},
	{Name: "BASE", Slug: "base", CAIP2: "eip155:8453", EVMChainID: 8453, NativeSymbol: "ETH"},
	{Name: "ARBITRUM", Slug: "arbitrum", CAIP2: "eip155:42161", EVMChainID: 42161, NativeSymbol: "ETH"},
	{Name: "AVALANCHE", Slug: "avalanche", CAIP2: "eip155:43114", EVMChainID: 43114, NativeSymbol: "AVAX"},
}

var chainAliases = map[string]string{
	"eth":     "ethereum",
	"mainnet": "ethereum",
	"op":      "optimism",
	"matic":   "polygon",
	"pol":     "polygon",
	"arb":     "arbitrum",
	"avax":    "avalanche",
}

var chainBySlug = lo.KeyBy(chains, func(c Chain) string { return c.Slug })

var chainByID = lo.KeyBy(chains, func(c Chain) int64 { return c.EVMChainID })

var tokenRegistry = map[int64][]token{
	1: {
		{Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
		{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
		{Symbol: "USDT", Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: 6},
	},
	10: {
		{Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
		{Symbol: "USDC", Address: "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85", Decimals: 6},
		{Symbol: "USDT", Address: "0x94b008aA00579c1307B0EF2c499aD98a8ce58e58", Decimals: 6},
	},
	137: {
		{Symbol: "WETH", Address: "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619", Decimals: 18},
		{Symbol: "USDC", Address: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", Decimals: 6},
		{Symbol: "USDT", Address: "0xc2132D05D31c914a87C6611C10748AEb04B58e8F", Decimals: 6},
	},
	8453: {
		{Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
		{Symbol: "USDC", Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6},
		{Symbol: "USDT", Address: "0x4D15a3A2286D883AF0AA1B3f21367843FAc63E07", Decimals: 6},
	},
	42161: {
		{Symbol: "WETH", Address: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", Decimals: 18},
		{Symbol: "USDC", Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Decimals: 6},
		{Symbol: "USDT", Address: "0xFd086bC7CD5C481DCC9C85ebe478A1C0b69FCbb9", Decimals: 6},
	},
	43114: {
		{Symbol: "WETH", Address: "0x49D5c2BdFfac6CE2BFdB6640F4F80f226bc10bAB", Decimals: 18},
		{Symbol: "USDC", Address: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E", Decimals: 6},
		{Symbol: "USDT", Address: "0x9702230A8Ea53601f5cD2dc00fDBc13d4dF4A8c7", Decimals: 6},
	},
}

// ParseChain resolves a chain name, alias, numeric id, or CAIP-2 string.
// Matching is case-insensitive.
func ParseChain(input string) (Chain, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Chain{}, clierr.New(clierr.CodeUsage, "chain is required")
	}
	norm := strings.ToLower(raw)
	if alias, ok := chainAliases[norm]; ok {
		norm = alias
	}
	if chain, ok := chainBySlug[norm]; ok {
		return chain, nil
	}

	numeric := norm
	if eip155ChainPattern.MatchString(norm) {
		numeric = strings.TrimPrefix(norm, "eip155:")
	}
	if chainID, err := strconv.ParseInt(numeric, 10, 64); err == nil {
		if chain, ok := chainByID[chainID]; ok {
			return chain, nil
		}
	}
	return Chain{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("unsupported chain: %s", input))
}

// Lookup returns the registry entry for symbol on chain.
func Lookup(chainName, symbol string) (TokenRef, error) {
	chain, err := ParseChain(chainName)
	if err != nil {
		return TokenRef{}, err
	}
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" {
		return TokenRef{}, clierr.New(clierr.CodeUsage, "token symbol is required")
	}
	t, ok := lo.Find(tokenRegistry[chain.EVMChainID], func(t token) bool {
		return strings.EqualFold(t.Symbol, sym)
	})
	if !ok {
		return TokenRef{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("token %s not found on chain %s", sym, chain.Name))
	}
	return toRef(chain, t), nil
}

// LookupByAddress finds a registry entry by contract address on chain.
func LookupByAddress(chainName, address string) (TokenRef, bool) {
	chain, err := ParseChain(chainName)
	if err != nil {
		return TokenRef{}, false
	}
	t, ok := lo.Find(tokenRegistry[chain.EVMChainID], func(t token) bool {
		return strings.EqualFold(t.Address, strings.TrimSpace(address))
	})
	if !ok {
		return TokenRef{}, false
	}
	return toRef(chain, t), true
}

// Resolve accepts either a registry symbol or a 0x address known to the
// registry on chain.
func Resolve(chainName, input string) (TokenRef, error) {
	raw := strings.TrimSpace(input)
	if IsAddress(raw) {
		if ref, ok := LookupByAddress(chainName, raw); ok {
			return ref, nil
		}
		return TokenRef{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("token address %s not found on chain %s", raw, chainName))
	}
	return Lookup(chainName, raw)
}

// Chains lists supported chains ordered by chain id.
func Chains() []Chain {
	out := append([]Chain(nil), chains...)
	sort.Slice(out, func(i, j int) bool { return out[i].EVMChainID < out[j].EVMChainID })
	return out
}

// Tokens lists the registry entries for a chain in symbol order.
func Tokens(chainName string) ([]TokenRef, error) {
	chain, err := ParseChain(chainName)
	if err != nil {
		return nil, err
	}
	out := lo.Map(tokenRegistry[chain.EVMChainID], func(t token, _ int) TokenRef {
		return toRef(chain, t)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func IsAddress(v string) bool {
	return evmAddressPattern.MatchString(strings.TrimSpace(v))
}

// SameAddress compares two EVM addresses ignoring checksum casing.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func toRef(chain Chain, t token) TokenRef {
	return TokenRef{
		ChainName: chain.Name,
		Symbol:    strings.ToUpper(t.Symbol),
		Address:   t.Address,
		Decimals:  t.Decimals,
		ChainID:   chain.EVMChainID,
	}
}
