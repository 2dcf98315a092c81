package transfer

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"

	clierr "github.com/ggonzalez94/xroute/internal/errors"
	"github.com/ggonzalez94/xroute/internal/id"
	"github.com/ggonzalez94/xroute/internal/model"
	"github.com/ggonzalez94/xroute/internal/providers"
)

func TestStepForwardsLastOutput(t *testing.T) {
	last := model.RouteStep{
		Protocol:      model.ProtocolRouter,
		FromToken:     "USDC",
		ToToken:       "USDT",
		FromChainName: "BASE",
		ToChainName:   "POLYGON",
		InputAmount:   "1000000",
		OutputAmount:  "995000",
	}
	step := New().Step(last, "0xaaa", "0xbbb")
	if step.Protocol != model.ProtocolNative {
		t.Fatalf("unexpected protocol: %s", step.Protocol)
	}
	if step.FromToken != "USDT" || step.ToToken != "USDT" || step.FromChainName != "POLYGON" || step.ToChainName != "POLYGON" {
		t.Fatalf("expected same-chain step on destination, got %+v", step)
	}
	if step.InputAmount != "995000" || step.OutputAmount != "995000" || step.Fee.OutputAmount != "995000" {
		t.Fatalf("expected amount unchanged, got %+v", step)
	}
	if step.SenderAddress != "0xaaa" || step.ReceiverAddress != "0xbbb" {
		t.Fatalf("unexpected addresses: %+v", step)
	}
	fee := step.Fee
	if fee.GasFee != "21000" || fee.GasFeeUSD != "1" || fee.TotalFeeUSD != "1" || fee.FeePercentage != "0.1" || fee.LiquidityProviderFee != "0" {
		t.Fatalf("unexpected nominal fee: %+v", fee)
	}
}

func TestBuildNativeTransfer(t *testing.T) {
	chain, _ := id.ParseChain("polygon")
	tx, err := New().BuildTransfer(context.Background(), providers.TransferBuildRequest{
		Chain:  chain,
		To:     "0x00000000000000000000000000000000000000bb",
		Amount: "0.01",
	})
	if err != nil {
		t.Fatalf("BuildTransfer failed: %v", err)
	}
	if tx.Value != "10000000000000000" || tx.Data != "0x" || tx.ChainID != 137 {
		t.Fatalf("unexpected native transfer: %+v", tx)
	}
	if !strings.EqualFold(tx.To, "0x00000000000000000000000000000000000000bb") {
		t.Fatalf("unexpected recipient: %s", tx.To)
	}
}

func TestBuildTokenTransfer(t *testing.T) {
	chain, _ := id.ParseChain("base")
	usdc, _ := id.Lookup("BASE", "USDC")
	tx, err := New().BuildTransfer(context.Background(), providers.TransferBuildRequest{
		Chain:  chain,
		To:     "0x00000000000000000000000000000000000000bb",
		Amount: "1.5",
		Token:  usdc,
	})
	if err != nil {
		t.Fatalf("BuildTransfer failed: %v", err)
	}
	if tx.Value != "0" || !strings.EqualFold(tx.To, usdc.Address) {
		t.Fatalf("unexpected token transfer: %+v", tx)
	}
	selector := "0x" + hex.EncodeToString(erc20ABI.Methods["transfer"].ID)
	if !strings.HasPrefix(tx.Data, selector) {
		t.Fatalf("expected transfer selector, got %s", tx.Data)
	}
	// 1.5 USDC = 1500000 = 0x16e360 in the last word
	if !strings.HasSuffix(tx.Data, "16e360") {
		t.Fatalf("unexpected encoded amount: %s", tx.Data)
	}
}

func TestBuildTransferValidation(t *testing.T) {
	chain, _ := id.ParseChain("base")
	_, err := New().BuildTransfer(context.Background(), providers.TransferBuildRequest{Chain: chain, To: "nope", Amount: "1"})
	if err == nil || err.Error() != "Invalid recipient address" {
		t.Fatalf("expected invalid recipient error, got %v", err)
	}

	_, err = New().BuildTransfer(context.Background(), providers.TransferBuildRequest{
		Chain:  chain,
		To:     "0x00000000000000000000000000000000000000bb",
		Amount: "abc",
	})
	if !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error for bad amount, got %v", err)
	}

	polygonUSDC, _ := id.Lookup("POLYGON", "USDC")
	_, err = New().BuildTransfer(context.Background(), providers.TransferBuildRequest{
		Chain:  chain,
		To:     "0x00000000000000000000000000000000000000bb",
		Amount: "1",
		Token:  polygonUSDC,
	})
	if !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error for foreign token, got %v", err)
	}
}
