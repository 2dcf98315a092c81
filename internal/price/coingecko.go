package price

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	clierr "github.com/ggonzalez94/xroute/internal/errors"
	"github.com/ggonzalez94/xroute/internal/httpx"
	"github.com/ggonzalez94/xroute/internal/registry"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Source fetches a live USD spot price for a symbol.
type Source interface {
	FetchUSD(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// CoinGecko reads spot prices from the public simple/price endpoint.
type CoinGecko struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
	limiter *rate.Limiter
}

// NewCoinGecko builds a source limited to rps requests per second. rps <= 0
// disables limiting.
func NewCoinGecko(httpClient *httpx.Client, apiKey string, rps float64) *CoinGecko {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &CoinGecko{
		http:    httpClient,
		baseURL: registry.CoinGeckoBaseURL,
		apiKey:  strings.TrimSpace(apiKey),
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (c *CoinGecko) FetchUSD(ctx context.Context, symbol string) (decimal.Decimal, error) {
	coinID, ok := registry.CoinGeckoID(symbol)
	if !ok {
		return decimal.Zero, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("no price mapping for %s", symbol))
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return decimal.Zero, clierr.Wrap(clierr.CodeRateLimited, "price source limiter", err)
	}

	vals := url.Values{}
	vals.Set("ids", coinID)
	vals.Set("vs_currencies", "usd")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/simple/price?"+vals.Encode(), nil)
	if err != nil {
		return decimal.Zero, clierr.Wrap(clierr.CodeInternal, "build coingecko request", err)
	}
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	var out map[string]map[string]decimal.Decimal
	if _, err := c.http.DoJSON(ctx, req, &out); err != nil {
		return decimal.Zero, err
	}
	price, ok := out[coinID]["usd"]
	if !ok || !price.IsPositive() {
		return decimal.Zero, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("coingecko returned no usd price for %s", coinID))
	}
	return price, nil
}
