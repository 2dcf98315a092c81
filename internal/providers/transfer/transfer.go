package transfer

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/xroute/internal/errors"
	"github.com/ggonzalez94/xroute/internal/id"
	"github.com/ggonzalez94/xroute/internal/model"
	"github.com/ggonzalez94/xroute/internal/providers"
	"github.com/ggonzalez94/xroute/internal/registry"
)

// Nominal cost of the final same-chain hop to the receiver.
const (
	GasUnits      = "21000"
	GasFeeUSD     = "1"
	FeePercentage = "0.1"
)

var erc20ABI = mustABI(registry.ERC20MinimalABI)

type Client struct{}

func New() *Client {
	return &Client{}
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:        "transfer",
		Type:        "transfer",
		Protocol:    model.ProtocolNative,
		RequiresKey: false,
		Capabilities: []string{
			"transfer.estimate",
			"transfer.build",
		},
	}
}

// Estimate returns the flat fee of a same-chain transfer. The amount passes
// through unchanged.
func (c *Client) Estimate(amountBaseUnits string) model.FeeEstimation {
	return model.FeeEstimation{
		OutputAmount:         amountBaseUnits,
		GasFee:               GasUnits,
		GasFeeUSD:            GasFeeUSD,
		LiquidityProviderFee: "0",
		TotalFee:             GasUnits,
		TotalFeeUSD:          GasFeeUSD,
		FeePercentage:        FeePercentage,
	}
}

// Step builds the hop that forwards the output of last from sender to
// receiver on last's destination chain.
func (c *Client) Step(last model.RouteStep, sender, receiver string) model.RouteStep {
	return model.RouteStep{
		Protocol:        model.ProtocolNative,
		FromToken:       last.ToToken,
		ToToken:         last.ToToken,
		FromChainName:   last.ToChainName,
		ToChainName:     last.ToChainName,
		InputAmount:     last.OutputAmount,
		OutputAmount:    last.OutputAmount,
		Fee:             c.Estimate(last.OutputAmount),
		SenderAddress:   sender,
		ReceiverAddress: receiver,
	}
}

// BuildTransfer returns an unsigned native or ERC-20 transfer.
func (c *Client) BuildTransfer(_ context.Context, req providers.TransferBuildRequest) (model.TransactionRequest, error) {
	to := strings.TrimSpace(req.To)
	if !common.IsHexAddress(to) {
		return model.TransactionRequest{}, clierr.New(clierr.CodeInternal, "Invalid recipient address")
	}
	recipient := common.HexToAddress(to)

	if req.Token.IsZero() {
		wei, err := id.EtherToWei(req.Amount)
		if err != nil {
			return model.TransactionRequest{}, err
		}
		return model.TransactionRequest{
			ChainID: req.Chain.EVMChainID,
			To:      recipient.Hex(),
			Value:   wei.String(),
			Data:    "0x",
		}, nil
	}

	if req.Token.ChainID != 0 && req.Chain.EVMChainID != 0 && req.Token.ChainID != req.Chain.EVMChainID {
		return model.TransactionRequest{}, clierr.New(clierr.CodeUsage, "transfer token does not belong to the requested chain")
	}
	baseUnits, _, err := id.NormalizeAmount("", strings.TrimSpace(req.Amount), req.Token.Decimals)
	if err != nil {
		return model.TransactionRequest{}, err
	}
	amount, err := id.ParseBaseUnits(baseUnits)
	if err != nil {
		return model.TransactionRequest{}, err
	}
	data, err := erc20ABI.Pack("transfer", recipient, amount)
	if err != nil {
		return model.TransactionRequest{}, clierr.Wrap(clierr.CodeInternal, "pack transfer calldata", err)
	}
	return model.TransactionRequest{
		ChainID: req.Chain.EVMChainID,
		To:      common.HexToAddress(req.Token.Address).Hex(),
		Value:   "0",
		Data:    "0x" + common.Bytes2Hex(data),
	}, nil
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
