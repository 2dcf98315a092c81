package registry

import "strings"

// CoinGecko ids for token and native gas symbols. Chain names map to the
// asset their gas is paid in.
var coinGeckoIDs = map[string]string{
	"USDC":      "usd-coin",
	"USDT":      "tether",
	"WETH":      "weth",
	"ETH":       "ethereum",
	"ETHEREUM":  "ethereum",
	"MATIC":     "matic-network",
	"POL":       "matic-network",
	"POLYGON":   "matic-network",
	"BNB":       "binancecoin",
	"AVAX":      "avalanche-2",
	"AVALANCHE": "avalanche-2",
	"FTM":       "fantom",
	"FANTOM":    "fantom",
	"ARBITRUM":  "ethereum",
	"OPTIMISM":  "ethereum",
	"BASE":      "ethereum",
}

// ReferencePriceSymbol is the widely tracked asset used when a symbol has no
// price of its own.
const ReferencePriceSymbol = "ETH"

func CoinGeckoID(symbol string) (string, bool) {
	value, ok := coinGeckoIDs[strings.ToUpper(strings.TrimSpace(symbol))]
	return value, ok
}
