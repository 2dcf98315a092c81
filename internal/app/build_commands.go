package app

import (
	"context"
	"strings"

	clierr "github.com/ggonzalez94/xroute/internal/errors"
	"github.com/ggonzalez94/xroute/internal/id"
	"github.com/ggonzalez94/xroute/internal/providers"
	"github.com/spf13/cobra"
)

func (s *runtimeState) newBuildCommand() *cobra.Command {
	root := &cobra.Command{Use: "build", Short: "Unsigned transaction builders"}
	root.AddCommand(s.newBuildRouterCommand())
	root.AddCommand(s.newBuildUniswapCommand())
	root.AddCommand(s.newBuildTransferCommand())
	return root
}

func (s *runtimeState) newBuildRouterCommand() *cobra.Command {
	var args pairArgs
	cmd := &cobra.Command{
		Use:   "router",
		Short: "Fetch a Router Protocol quote with its transaction payload",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := args.quoteRequest()
			if err != nil {
				return err
			}
			data, status, err := s.callProvider(cmd.Context(), s.routerBuilder.Info().Name, func(ctx context.Context) (any, error) {
				return s.routerBuilder.BuildBridgeQuote(ctx, req)
			})
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaBypass(), status)
		},
	}
	args.register(cmd)
	return cmd
}

func (s *runtimeState) newBuildUniswapCommand() *cobra.Command {
	var (
		chainArg, tokenIn, tokenOut string
		amount, amountDecimal       string
		recipient                   string
		slippageBps, deadline       int64
	)
	cmd := &cobra.Command{
		Use:   "uniswap",
		Short: "Build approval and swap transactions for Uniswap V3",
		RunE: func(cmd *cobra.Command, _ []string) error {
			chain, err := id.ParseChain(chainArg)
			if err != nil {
				return err
			}
			in, err := id.Resolve(chain.Name, tokenIn)
			if err != nil {
				return err
			}
			out, err := id.Resolve(chain.Name, tokenOut)
			if err != nil {
				return err
			}
			base, _, err := id.NormalizeAmount(strings.TrimSpace(amount), strings.TrimSpace(amountDecimal), in.Decimals)
			if err != nil {
				return err
			}
			if slippageBps < 0 || slippageBps >= 10_000 {
				return clierr.New(clierr.CodeUsage, "--slippage-bps must be between 0 and 9999")
			}

			data, status, err := s.callProvider(cmd.Context(), s.swapBuilder.Info().Name, func(ctx context.Context) (any, error) {
				return s.swapBuilder.BuildSwap(ctx, providers.SwapBuildRequest{
					Chain:           chain,
					TokenIn:         in,
					TokenOut:        out,
					AmountBaseUnits: base,
					Recipient:       recipient,
					SlippageBps:     slippageBps,
					Deadline:        deadline,
				})
			})
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaBypass(), status)
		},
	}
	cmd.Flags().StringVar(&chainArg, "chain", "", "Chain name, alias, or id")
	cmd.Flags().StringVar(&tokenIn, "token-in", "", "Token to sell (symbol or address)")
	cmd.Flags().StringVar(&tokenOut, "token-out", "", "Token to buy (symbol or address)")
	cmd.Flags().StringVar(&amount, "amount", "", "Amount in base units")
	cmd.Flags().StringVar(&amountDecimal, "amount-decimal", "", "Amount in decimal units")
	cmd.Flags().StringVar(&recipient, "recipient", "", "Recipient of the output token")
	cmd.Flags().Int64Var(&slippageBps, "slippage-bps", 0, "Slippage tolerance in basis points (0 uses the builder default)")
	cmd.Flags().Int64Var(&deadline, "deadline", 0, "Unix deadline (0 uses now + 20m)")
	_ = cmd.MarkFlagRequired("chain")
	_ = cmd.MarkFlagRequired("token-in")
	_ = cmd.MarkFlagRequired("token-out")
	_ = cmd.MarkFlagRequired("recipient")
	return cmd
}

func (s *runtimeState) newBuildTransferCommand() *cobra.Command {
	var chainArg, to, amount, tokenArg string
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Build a native or ERC-20 transfer transaction",
		RunE: func(cmd *cobra.Command, _ []string) error {
			chain, err := id.ParseChain(chainArg)
			if err != nil {
				return err
			}
			var token id.TokenRef
			if strings.TrimSpace(tokenArg) != "" {
				if token, err = id.Resolve(chain.Name, tokenArg); err != nil {
					return err
				}
			}
			tx, err := s.transferBuilder.BuildTransfer(cmd.Context(), providers.TransferBuildRequest{
				Chain:  chain,
				To:     to,
				Amount: amount,
				Token:  token,
			})
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), tx, nil, cacheMetaBypass(), nil)
		},
	}
	cmd.Flags().StringVar(&chainArg, "chain", "", "Chain name, alias, or id")
	cmd.Flags().StringVar(&to, "to", "", "Recipient address")
	cmd.Flags().StringVar(&amount, "amount", "", "Decimal amount (0.01 = 0.01 ETH)")
	cmd.Flags().StringVar(&tokenArg, "token", "", "ERC-20 symbol or address (native asset when empty)")
	_ = cmd.MarkFlagRequired("chain")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}
