package lifi

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
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

const (
	integrator      = "xroute"
	defaultSlippage = 0.005
)

type Client struct {
	http    *httpx.Client
	oracle  providers.PriceOracle
	baseURL string
	apiKey  string
}

func New(httpClient *httpx.Client, oracle providers.PriceOracle, apiKey string) *Client {
	return &Client{
		http:    httpClient,
		oracle:  oracle,
		baseURL: registry.LiFiBaseURL,
		apiKey:  strings.TrimSpace(apiKey),
	}
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:          "lifi",
		Type:          "bridge-aggregator",
		Protocol:      model.ProtocolLiFi,
		RequiresKey:   false,
		Capabilities:  []string{"bridge.quote"},
		KeyEnvVarName: "XROUTE_LIFI_API_KEY",
	}
}

type routesRequest struct {
	FromChainID      int64         `json:"fromChainId"`
	ToChainID        int64         `json:"toChainId"`
	FromTokenAddress string        `json:"fromTokenAddress"`
	ToTokenAddress   string        `json:"toTokenAddress"`
	FromAmount       string        `json:"fromAmount"`
	FromAddress      string        `json:"fromAddress,omitempty"`
	ToAddress        string        `json:"toAddress,omitempty"`
	Options          routesOptions `json:"options"`
}

type routesOptions struct {
	Integrator string  `json:"integrator"`
	Slippage   float64 `json:"slippage"`
	Order      string  `json:"order"`
}

type costItem struct {
	Amount    providers.NumberString `json:"amount"`
	AmountUSD providers.NumberString `json:"amountUSD"`
}

type routesResponse struct {
	Routes []struct {
		ID            string                 `json:"id"`
		FromAmountUSD providers.NumberString `json:"fromAmountUSD"`
		ToAmount      providers.NumberString `json:"toAmount"`
		GasCostUSD    providers.NumberString `json:"gasCostUSD"`
		Steps         []struct {
			Tool     string `json:"tool"`
			Estimate struct {
				GasCosts []costItem `json:"gasCosts"`
				FeeCosts []costItem `json:"feeCosts"`
			} `json:"estimate"`
		} `json:"steps"`
	} `json:"routes"`
}

func (c *Client) QuoteBridge(ctx context.Context, req providers.QuoteRequest) (model.FeeEstimation, error) {
	if _, err := req.Amount(); err != nil {
		return model.FeeEstimation{}, err
	}
	fromChain, err := id.ParseChain(req.FromToken.ChainName)
	if err != nil {
		return model.FeeEstimation{}, err
	}

	body := routesRequest{
		FromChainID:      req.FromToken.ChainID,
		ToChainID:        req.ToToken.ChainID,
		FromTokenAddress: req.FromToken.Address,
		ToTokenAddress:   req.ToToken.Address,
		FromAmount:       req.AmountBaseUnits,
		Options: routesOptions{
			Integrator: integrator,
			Slippage:   defaultSlippage,
			Order:      "CHEAPEST",
		},
	}
	if common.IsHexAddress(req.Sender) {
		body.FromAddress = common.HexToAddress(req.Sender).Hex()
	}
	if common.IsHexAddress(req.Receiver) {
		body.ToAddress = common.HexToAddress(req.Receiver).Hex()
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return model.FeeEstimation{}, clierr.Wrap(clierr.CodeInternal, "encode lifi routes request", err)
	}
	headers := map[string]string{}
	if c.apiKey != "" {
		headers["x-lifi-api-key"] = c.apiKey
	}

	var resp routesResponse
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, c.baseURL+"/advanced/routes", raw, headers, &resp); err != nil {
		return model.FeeEstimation{}, err
	}
	return c.normalize(ctx, fromChain, resp)
}

// normalize reduces the first (best) route to a fee estimation. Gas and fee
// costs are summed across every step.
func (c *Client) normalize(ctx context.Context, fromChain id.Chain, resp routesResponse) (model.FeeEstimation, error) {
	if len(resp.Routes) == 0 {
		return model.FeeEstimation{}, clierr.New(clierr.CodeUnavailable, "lifi returned no routes")
	}
	best := resp.Routes[0]
	output, ok := new(big.Int).SetString(best.ToAmount.String(), 10)
	if !ok || output.Sign() <= 0 {
		return model.FeeEstimation{}, clierr.New(clierr.CodeUnavailable, "lifi route missing output amount")
	}

	gasTotal := new(big.Int)
	feeTotal := new(big.Int)
	gasUSD := decimal.Zero
	feeUSD := decimal.Zero
	gasUSDComplete := true
	for _, step := range best.Steps {
		for _, gas := range step.Estimate.GasCosts {
			addBaseUnits(gasTotal, gas.Amount)
			if gas.AmountUSD == "" {
				gasUSDComplete = false
			}
			gasUSD = gasUSD.Add(gas.AmountUSD.Decimal())
		}
		for _, fee := range step.Estimate.FeeCosts {
			addBaseUnits(feeTotal, fee.Amount)
			feeUSD = feeUSD.Add(fee.AmountUSD.Decimal())
		}
	}

	if best.GasCostUSD != "" {
		gasUSD = best.GasCostUSD.Decimal()
	} else if !gasUSDComplete {
		gasUSD = c.oracle.GasToUSD(ctx, gasTotal.String(), fromChain.NativeSymbol)
	}

	totalUSD := gasUSD.Add(feeUSD)
	return model.FeeEstimation{
		OutputAmount:         output.String(),
		GasFee:               gasTotal.String(),
		GasFeeUSD:            providers.FormatUSD(gasUSD),
		LiquidityProviderFee: feeTotal.String(),
		TotalFee:             new(big.Int).Add(gasTotal, feeTotal).String(),
		TotalFeeUSD:          providers.FormatUSD(totalUSD),
		FeePercentage:        providers.FormatPercent(providers.Percent(totalUSD, best.FromAmountUSD.Decimal())),
	}, nil
}

func addBaseUnits(total *big.Int, v providers.NumberString) {
	n, ok := new(big.Int).SetString(v.String(), 10)
	if !ok || n.Sign() < 0 {
		return
	}
	total.Add(total, n)
}
