package uniswap

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	clierr "github.com/ggonzalez94/xroute/internal/errors"
	"github.com/ggonzalez94/xroute/internal/execution"
	"github.com/ggonzalez94/xroute/internal/id"
	"github.com/ggonzalez94/xroute/internal/model"
	"github.com/ggonzalez94/xroute/internal/providers"
	"github.com/ggonzalez94/xroute/internal/registry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// FeeTier is the 0.3% pool, the only tier quoted.
	FeeTier = 3000
	// SwapGasLimit approximates a single-pool exactInputSingle.
	SwapGasLimit = 200_000

	feeTierDenominator = 1_000_000
	defaultSlippageBps = 50
	defaultDeadline    = 20 * time.Minute
)

var (
	quoterABI = mustABI(registry.UniswapV3QuoterV2ABI)
	erc20ABI  = mustABI(registry.ERC20MinimalABI)
	routerABI = mustABI(registry.UniswapV3RouterABI)
)

type Client struct {
	oracle  providers.PriceOracle
	rpcURLs map[int64]string
	logger  *zap.Logger
	now     func() time.Time
}

type Option func(*Client)

// WithRPCURLs overrides the default JSON-RPC endpoint per EVM chain id.
func WithRPCURLs(urls map[int64]string) Option {
	return func(c *Client) {
		for chainID, u := range urls {
			if strings.TrimSpace(u) != "" {
				c.rpcURLs[chainID] = strings.TrimSpace(u)
			}
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func New(oracle providers.PriceOracle, opts ...Option) *Client {
	c := &Client{
		oracle:  oracle,
		rpcURLs: map[int64]string{},
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:        "uniswap",
		Type:        "swap",
		Protocol:    model.ProtocolUniswap,
		RequiresKey: false,
		Capabilities: []string{
			"swap.quote",
			"swap.build",
		},
	}
}

type quoteExactInputSingleParams struct {
	TokenIn           common.Address `abi:"tokenIn"`
	TokenOut          common.Address `abi:"tokenOut"`
	AmountIn          *big.Int       `abi:"amountIn"`
	Fee               *big.Int       `abi:"fee"`
	SqrtPriceLimitX96 *big.Int       `abi:"sqrtPriceLimitX96"`
}

type exactInputSingleParams struct {
	TokenIn           common.Address `abi:"tokenIn"`
	TokenOut          common.Address `abi:"tokenOut"`
	Fee               *big.Int       `abi:"fee"`
	Recipient         common.Address `abi:"recipient"`
	AmountIn          *big.Int       `abi:"amountIn"`
	AmountOutMinimum  *big.Int       `abi:"amountOutMinimum"`
	SqrtPriceLimitX96 *big.Int       `abi:"sqrtPriceLimitX96"`
}

// QuoteSwap never fails on chain errors: an unreachable RPC or a missing
// pool yields a zeroed, degraded estimate so the route stays rankable.
func (c *Client) QuoteSwap(ctx context.Context, req providers.QuoteRequest) (model.FeeEstimation, error) {
	if req.FromToken.ChainID != req.ToToken.ChainID {
		return model.FeeEstimation{}, clierr.New(clierr.CodeUnsupported, "uniswap swaps must stay on one chain")
	}
	if id.SameAddress(req.FromToken.Address, req.ToToken.Address) {
		return model.FeeEstimation{}, clierr.New(clierr.CodeUnsupported, "uniswap swap needs two distinct tokens")
	}
	amountIn, err := req.Amount()
	if err != nil {
		return model.FeeEstimation{}, err
	}
	chain, err := id.ParseChain(req.FromToken.ChainName)
	if err != nil {
		return model.FeeEstimation{}, err
	}
	rpcURL, quoter, _, err := c.chainConfig(chain)
	if err != nil {
		return model.FeeEstimation{}, err
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return c.degraded(chain, "connect rpc", err), nil
	}
	defer client.Close()

	tokenIn := common.HexToAddress(req.FromToken.Address)
	tokenOut := common.HexToAddress(req.ToToken.Address)
	amountOut, err := quoteExactInput(ctx, client, quoter, tokenIn, tokenOut, amountIn)
	if err != nil {
		return c.degraded(chain, "quote", err), nil
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return c.degraded(chain, "gas price", err), nil
	}

	gasFee := new(big.Int).Mul(gasPrice, big.NewInt(SwapGasLimit))
	gasFeeUSD := c.oracle.GasToUSD(ctx, gasFee.String(), chain.NativeSymbol)

	lpFee := new(big.Int).Mul(amountIn, big.NewInt(FeeTier))
	lpFee.Div(lpFee, big.NewInt(feeTierDenominator))
	lpFeeUSD := c.oracle.TokenAmountToUSD(ctx, lpFee.String(), req.FromToken.Decimals, req.FromToken.Symbol)

	return model.FeeEstimation{
		OutputAmount:         amountOut.String(),
		GasFee:               gasFee.String(),
		GasFeeUSD:            providers.FormatUSD(gasFeeUSD),
		LiquidityProviderFee: lpFee.String(),
		TotalFee:             new(big.Int).Add(gasFee, lpFee).String(),
		TotalFeeUSD:          providers.FormatUSD(gasFeeUSD.Add(lpFeeUSD)),
		FeePercentage:        providers.FormatPercent(providers.Percent(decimal.NewFromBigInt(lpFee, 0), decimal.NewFromBigInt(amountIn, 0))),
		PoolFee:              FeeTier,
	}, nil
}

func (c *Client) degraded(chain id.Chain, stage string, err error) model.FeeEstimation {
	c.logger.Warn("uniswap quote degraded",
		zap.String("chain", chain.Name),
		zap.String("stage", stage),
		zap.Error(err),
	)
	return model.ZeroFeeEstimation(FeeTier)
}

// BuildSwap plans an approve step followed by a deadline-guarded
// exactInputSingle through SwapRouter02. The quote sets amountOutMinimum.
func (c *Client) BuildSwap(ctx context.Context, req providers.SwapBuildRequest) (execution.Action, error) {
	recipient := strings.TrimSpace(req.Recipient)
	if !common.IsHexAddress(recipient) {
		return execution.Action{}, clierr.New(clierr.CodeUsage, "swap recipient must be a valid EVM address")
	}
	if req.TokenIn.ChainID != req.Chain.EVMChainID || req.TokenOut.ChainID != req.Chain.EVMChainID {
		return execution.Action{}, clierr.New(clierr.CodeUsage, "swap tokens must belong to the requested chain")
	}
	if id.SameAddress(req.TokenIn.Address, req.TokenOut.Address) {
		return execution.Action{}, clierr.New(clierr.CodeUsage, "swap needs two distinct tokens")
	}
	amountIn, err := id.ParseBaseUnits(req.AmountBaseUnits)
	if err != nil {
		return execution.Action{}, err
	}
	if amountIn.Sign() == 0 {
		return execution.Action{}, clierr.New(clierr.CodeUsage, "swap amount must be greater than zero")
	}
	slippage := req.SlippageBps
	if slippage <= 0 {
		slippage = defaultSlippageBps
	}
	if slippage >= 10_000 {
		return execution.Action{}, clierr.New(clierr.CodeUsage, "slippage bps must be less than 10000")
	}
	deadline := req.Deadline
	if deadline <= 0 {
		deadline = c.now().Add(defaultDeadline).Unix()
	}

	rpcURL, quoter, router, err := c.chainConfig(req.Chain)
	if err != nil {
		return execution.Action{}, err
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return execution.Action{}, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	defer client.Close()

	tokenIn := common.HexToAddress(req.TokenIn.Address)
	tokenOut := common.HexToAddress(req.TokenOut.Address)
	recipientAddr := common.HexToAddress(recipient)
	quotedOut, err := quoteExactInput(ctx, client, quoter, tokenIn, tokenOut, amountIn)
	if err != nil {
		return execution.Action{}, err
	}
	amountOutMin := new(big.Int).Mul(quotedOut, big.NewInt(10_000-slippage))
	amountOutMin.Div(amountOutMin, big.NewInt(10_000))

	action := execution.NewAction(execution.NewActionID(), "swap", req.Chain.CAIP2, execution.Constraints{
		SlippageBps: slippage,
		Deadline:    time.Unix(deadline, 0).UTC().Format(time.RFC3339),
	})
	action.Provider = "uniswap"
	action.ToAddress = recipientAddr.Hex()
	action.InputAmount = amountIn.String()
	action.Metadata = map[string]any{
		"token_in":       tokenIn.Hex(),
		"token_out":      tokenOut.Hex(),
		"fee":            FeeTier,
		"quoted_amount":  quotedOut.String(),
		"amount_out_min": amountOutMin.String(),
	}

	approveData, err := erc20ABI.Pack("approve", router, amountIn)
	if err != nil {
		return execution.Action{}, clierr.Wrap(clierr.CodeInternal, "pack approve calldata", err)
	}
	action.Steps = append(action.Steps, execution.ActionStep{
		StepID:      "approve-token-in",
		Type:        execution.StepTypeApproval,
		Status:      execution.StepStatusPending,
		ChainID:     req.Chain.CAIP2,
		RPCURL:      rpcURL,
		Description: fmt.Sprintf("Approve %s spending for swap router", req.TokenIn.Symbol),
		Target:      tokenIn.Hex(),
		Data:        "0x" + common.Bytes2Hex(approveData),
		Value:       "0",
	})

	swapData, err := routerABI.Pack("exactInputSingle", exactInputSingleParams{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		Fee:               big.NewInt(FeeTier),
		Recipient:         recipientAddr,
		AmountIn:          amountIn,
		AmountOutMinimum:  amountOutMin,
		SqrtPriceLimitX96: big.NewInt(0),
	})
	if err != nil {
		return execution.Action{}, clierr.Wrap(clierr.CodeInternal, "pack swap calldata", err)
	}
	multicallData, err := routerABI.Pack("multicall", big.NewInt(deadline), [][]byte{swapData})
	if err != nil {
		return execution.Action{}, clierr.Wrap(clierr.CodeInternal, "pack multicall calldata", err)
	}
	action.Steps = append(action.Steps, execution.ActionStep{
		StepID:      "swap-exact-input-single",
		Type:        execution.StepTypeSwap,
		Status:      execution.StepStatusPending,
		ChainID:     req.Chain.CAIP2,
		RPCURL:      rpcURL,
		Description: fmt.Sprintf("Swap %s for %s via Uniswap V3", req.TokenIn.Symbol, req.TokenOut.Symbol),
		Target:      router.Hex(),
		Data:        "0x" + common.Bytes2Hex(multicallData),
		Value:       "0",
		ExpectedOutputs: map[string]string{
			"amount_out_min": amountOutMin.String(),
		},
	})
	if err := action.Validate(); err != nil {
		return execution.Action{}, err
	}
	return action, nil
}

func (c *Client) chainConfig(chain id.Chain) (rpc string, quoter common.Address, router common.Address, err error) {
	quoterRaw, routerRaw, ok := registry.UniswapV3Contracts(chain.EVMChainID)
	if !ok {
		return "", common.Address{}, common.Address{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("uniswap v3 is not deployed on %s", chain.Name))
	}
	rpc, err = registry.ResolveRPCURL(c.rpcURLs[chain.EVMChainID], chain.EVMChainID)
	if err != nil {
		return "", common.Address{}, common.Address{}, clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}
	return rpc, common.HexToAddress(quoterRaw), common.HexToAddress(routerRaw), nil
}

func quoteExactInput(ctx context.Context, client *ethclient.Client, quoter, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	callData, err := quoterABI.Pack("quoteExactInputSingle", quoteExactInputSingleParams{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		AmountIn:          amountIn,
		Fee:               big.NewInt(FeeTier),
		SqrtPriceLimitX96: big.NewInt(0),
	})
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack quoter calldata", err)
	}
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &quoter, Data: callData}, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "call uniswap quoter", err)
	}
	decoded, err := quoterABI.Unpack("quoteExactInputSingle", out)
	if err != nil || len(decoded) == 0 {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "decode uniswap quote", err)
	}
	amountOut, ok := decoded[0].(*big.Int)
	if !ok || amountOut == nil || amountOut.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeUnavailable, "uniswap quote unavailable for token pair")
	}
	return amountOut, nil
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
