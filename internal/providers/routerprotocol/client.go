package routerprotocol

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/xroute/internal/errors"
	"github.com/ggonzalez94/xroute/internal/httpx"
	"github.com/ggonzalez94/xroute/internal/id"
	"github.com/ggonzalez94/xroute/internal/model"
	"github.com/ggonzalez94/xroute/internal/providers"
	"github.com/ggonzalez94/xroute/internal/registry"
	"github.com/shopspring/decimal"
)

// Client quotes direct bridges through Router Protocol's Pathfinder API.
type Client struct {
	http      *httpx.Client
	oracle    providers.PriceOracle
	baseURL   string
	partnerID string
}

func New(httpClient *httpx.Client, oracle providers.PriceOracle, partnerID string) *Client {
	if strings.TrimSpace(partnerID) == "" {
		partnerID = registry.RouterDefaultPartnerID
	}
	return &Client{
		http:      httpClient,
		oracle:    oracle,
		baseURL:   registry.RouterPathfinderBaseURL,
		partnerID: partnerID,
	}
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:        "routerprotocol",
		Type:        "bridge",
		Protocol:    model.ProtocolRouter,
		RequiresKey: false,
		Capabilities: []string{
			"bridge.quote",
			"bridge.build",
		},
	}
}

type quoteAsset struct {
	Symbol   string                 `json:"symbol"`
	Decimals providers.NumberString `json:"decimals"`
}

type quoteResponse struct {
	Source struct {
		Asset       quoteAsset             `json:"asset"`
		TokenAmount providers.NumberString `json:"tokenAmount"`
	} `json:"source"`
	Destination struct {
		Asset       quoteAsset             `json:"asset"`
		TokenAmount providers.NumberString `json:"tokenAmount"`
	} `json:"destination"`
	BridgeFee *struct {
		Amount   providers.NumberString `json:"amount"`
		Decimals providers.NumberString `json:"decimals"`
		Symbol   string                 `json:"symbol"`
	} `json:"bridgeFee"`
	SameChainSwapFee providers.NumberString `json:"sameChainSwapFee"`
}

func (c *Client) QuoteBridge(ctx context.Context, req providers.QuoteRequest) (model.FeeEstimation, error) {
	if _, err := req.Amount(); err != nil {
		return model.FeeEstimation{}, err
	}
	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.quoteURL(req, false), nil)
	if err != nil {
		return model.FeeEstimation{}, clierr.Wrap(clierr.CodeInternal, "build router quote request", err)
	}
	var resp quoteResponse
	if _, err := c.http.DoJSON(ctx, hReq, &resp); err != nil {
		return model.FeeEstimation{}, err
	}
	return c.normalize(ctx, req, resp)
}

// normalize converts Pathfinder fee fields from their own decimals into
// destination-token base units and USD.
func (c *Client) normalize(ctx context.Context, req providers.QuoteRequest, resp quoteResponse) (model.FeeEstimation, error) {
	sourceDecimals := resp.Source.Asset.Decimals.Int(req.FromToken.Decimals)
	destDecimals := resp.Destination.Asset.Decimals.Int(req.ToToken.Decimals)

	output, ok := new(big.Int).SetString(resp.Destination.TokenAmount.String(), 10)
	if !ok || output.Sign() <= 0 {
		return model.FeeEstimation{}, clierr.New(clierr.CodeUnavailable, "router quote missing destination amount")
	}

	bridgeFeeRaw := "0"
	bridgeFeeDecimals := destDecimals
	bridgeFeeSymbol := resp.Destination.Asset.Symbol
	if resp.BridgeFee != nil {
		if v := resp.BridgeFee.Amount.String(); v != "" {
			bridgeFeeRaw = v
		}
		bridgeFeeDecimals = resp.BridgeFee.Decimals.Int(destDecimals)
		if strings.TrimSpace(resp.BridgeFee.Symbol) != "" {
			bridgeFeeSymbol = resp.BridgeFee.Symbol
		}
	}
	if bridgeFeeSymbol == "" {
		bridgeFeeSymbol = req.ToToken.Symbol
	}
	lpFeeRaw := resp.SameChainSwapFee.String()
	if lpFeeRaw == "" {
		lpFeeRaw = "0"
	}

	bridgeFee := id.ParseDecimalBaseUnits(bridgeFeeRaw, bridgeFeeDecimals)
	lpFee := id.ParseDecimalBaseUnits(lpFeeRaw, sourceDecimals)
	outputHuman := id.ToDecimal(output, destDecimals)

	gasFeeUSD := c.oracle.TokenAmountToUSD(ctx, bridgeFeeRaw, bridgeFeeDecimals, bridgeFeeSymbol)
	lpFeeUSD := decimal.Zero
	if lpFee.IsPositive() {
		lpFeeUSD = c.oracle.TokenAmountToUSD(ctx, lpFeeRaw, sourceDecimals, req.FromToken.Symbol)
	}

	gasFee := toBaseUnits(bridgeFee, destDecimals)
	lpFeeBase := toBaseUnits(lpFee, destDecimals)
	return model.FeeEstimation{
		OutputAmount:         output.String(),
		GasFee:               gasFee.String(),
		GasFeeUSD:            providers.FormatUSD(gasFeeUSD),
		LiquidityProviderFee: lpFeeBase.String(),
		TotalFee:             new(big.Int).Add(gasFee, lpFeeBase).String(),
		TotalFeeUSD:          providers.FormatUSD(gasFeeUSD.Add(lpFeeUSD)),
		FeePercentage:        providers.FormatPercent(providers.Percent(bridgeFee, outputHuman)),
	}, nil
}

// BuildBridgeQuote returns the raw Pathfinder quote, including the fields a
// wallet needs to execute the bridge.
func (c *Client) BuildBridgeQuote(ctx context.Context, req providers.QuoteRequest) (json.RawMessage, error) {
	if _, err := req.Amount(); err != nil {
		return nil, err
	}
	for _, addr := range []string{req.Sender, req.Receiver} {
		if addr != "" && !common.IsHexAddress(addr) {
			return nil, clierr.New(clierr.CodeUsage, "router build addresses must be valid EVM addresses")
		}
	}
	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.quoteURL(req, true), nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "build router quote request", err)
	}
	var payload json.RawMessage
	if _, err := c.http.DoJSON(ctx, hReq, &payload); err != nil {
		return nil, err
	}
	if strings.TrimSpace(string(payload)) == "null" {
		return nil, clierr.New(clierr.CodeUnavailable, "no quote data received from router protocol")
	}
	return payload, nil
}

func (c *Client) quoteURL(req providers.QuoteRequest, withAddresses bool) string {
	vals := url.Values{}
	vals.Set("fromTokenAddress", req.FromToken.Address)
	vals.Set("toTokenAddress", req.ToToken.Address)
	vals.Set("amount", req.AmountBaseUnits)
	vals.Set("fromTokenChainId", strconv.FormatInt(req.FromToken.ChainID, 10))
	vals.Set("toTokenChainId", strconv.FormatInt(req.ToToken.ChainID, 10))
	vals.Set("partnerId", c.partnerID)
	if withAddresses {
		if req.Sender != "" {
			vals.Set("userAddress", req.Sender)
		}
		if req.Receiver != "" {
			vals.Set("recipient", req.Receiver)
		}
	}
	return c.baseURL + "/v2/quote?" + vals.Encode()
}

func toBaseUnits(v decimal.Decimal, decimals int) *big.Int {
	return v.Shift(int32(decimals)).Truncate(0).BigInt()
}
