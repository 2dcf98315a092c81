package providers

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ggonzalez94/xroute/internal/execution"
	"github.com/ggonzalez94/xroute/internal/id"
	"github.com/ggonzalez94/xroute/internal/model"
	"github.com/shopspring/decimal"
)

type Provider interface {
	Info() model.ProviderInfo
}

// PriceOracle is the subset of the price oracle adapters depend on. All
// conversions degrade instead of failing.
type PriceOracle interface {
	PriceUSD(ctx context.Context, symbol string) decimal.Decimal
	GasToUSD(ctx context.Context, amountBaseUnits string, symbol string) decimal.Decimal
	TokenAmountToUSD(ctx context.Context, amountBaseUnits string, decimals int, symbol string) decimal.Decimal
	GasCostToUSD(ctx context.Context, gasUnits, gasPriceWei *big.Int, symbol string) decimal.Decimal
}

// QuoteRequest is a single-hop transfer or swap. Amounts are source-token
// base units.
type QuoteRequest struct {
	FromToken       id.TokenRef
	ToToken         id.TokenRef
	AmountBaseUnits string
	Sender          string
	Receiver        string
}

func (r QuoteRequest) Amount() (*big.Int, error) {
	return id.ParseBaseUnits(r.AmountBaseUnits)
}

// BridgeQuoter moves value between chains. Any error means the path is
// unavailable for this request and the caller drops it.
type BridgeQuoter interface {
	Provider
	QuoteBridge(ctx context.Context, req QuoteRequest) (model.FeeEstimation, error)
}

// SwapQuoter swaps on a single chain. On-chain failures yield a zeroed,
// degraded estimate with a nil error; an error is returned only when the
// request itself cannot be quoted (unknown chain, identical tokens, bad amount).
type SwapQuoter interface {
	Provider
	QuoteSwap(ctx context.Context, req QuoteRequest) (model.FeeEstimation, error)
}

// BridgeQuoteBuilder returns the upstream's raw quote payload, including the
// transaction data a wallet needs to execute it.
type BridgeQuoteBuilder interface {
	Provider
	BuildBridgeQuote(ctx context.Context, req QuoteRequest) (json.RawMessage, error)
}

type SwapBuildRequest struct {
	Chain           id.Chain
	TokenIn         id.TokenRef
	TokenOut        id.TokenRef
	AmountBaseUnits string
	Recipient       string
	SlippageBps     int64
	Deadline        int64
}

type SwapBuilder interface {
	Provider
	BuildSwap(ctx context.Context, req SwapBuildRequest) (execution.Action, error)
}

// TransferBuildRequest moves Amount (a decimal string) to To. A zero Token
// means the chain's native asset.
type TransferBuildRequest struct {
	Chain  id.Chain
	To     string
	Amount string
	Token  id.TokenRef
}

type TransferBuilder interface {
	Provider
	BuildTransfer(ctx context.Context, req TransferBuildRequest) (model.TransactionRequest, error)
}
