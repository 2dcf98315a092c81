package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	clierr "github.com/ggonzalez94/xroute/internal/errors"
	"github.com/ggonzalez94/xroute/internal/id"
	"github.com/ggonzalez94/xroute/internal/model"
	"github.com/ggonzalez94/xroute/internal/price"
	"github.com/ggonzalez94/xroute/internal/providers"
	"github.com/ggonzalez94/xroute/internal/route"
	"github.com/ggonzalez94/xroute/internal/schema"
	"github.com/ggonzalez94/xroute/internal/server"
	"github.com/ggonzalez94/xroute/internal/version"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command and endpoint schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := schema.Build(s.root, strings.Join(args, " "), s.newServer().Endpoints())
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "build schema", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaBypass(), nil)
		},
	}
	return cmd
}

func (s *runtimeState) newServer() *server.Server {
	// Two sequential legs plus the forward hop bound a route search.
	writeTimeout := 3*s.settings.Timeout + 5*time.Second
	deps := server.Deps{
		Router:         s.routerBuilder,
		Swap:           s.swapBuilder,
		Transfer:       s.transferBuilder,
		Gatherer:       s.registry,
		Logger:         s.logger,
		Tracer:         s.tracerProvider,
		EnableCommands: s.settings.EnableCommands,
	}
	if s.finder != nil {
		deps.Finder = s.finder
	}
	return server.New(server.Config{
		Addr:         s.settings.ListenAddr,
		WriteTimeout: writeTimeout,
	}, deps)
}

func (s *runtimeState) newServeCommand() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the route and transaction-builder HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(listen) != "" {
				s.settings.ListenAddr = listen
			}
			if s.settings.LogLevel != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := s.newServer().Run(ctx); err != nil {
				return clierr.Wrap(clierr.CodeUnavailable, "http server", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default :8080)")
	return cmd
}

// pairArgs are the flags shared by every command that moves one token to
// another, possibly across chains.
type pairArgs struct {
	fromToken, toToken    string
	fromChain, toChain    string
	amount, amountDecimal string
	sender, receiver      string
}

func (a *pairArgs) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.fromToken, "from-token", "", "Source token symbol or address")
	cmd.Flags().StringVar(&a.toToken, "to-token", "", "Destination token symbol or address")
	cmd.Flags().StringVar(&a.fromChain, "from-chain", "", "Source chain name, alias, or id")
	cmd.Flags().StringVar(&a.toChain, "to-chain", "", "Destination chain name, alias, or id")
	cmd.Flags().StringVar(&a.amount, "amount", "", "Amount in source-token base units")
	cmd.Flags().StringVar(&a.amountDecimal, "amount-decimal", "", "Amount in decimal source-token units")
	cmd.Flags().StringVar(&a.sender, "sender", "", "Sender address")
	cmd.Flags().StringVar(&a.receiver, "receiver", "", "Receiver address (defaults to sender)")
	_ = cmd.MarkFlagRequired("from-token")
	_ = cmd.MarkFlagRequired("to-token")
	_ = cmd.MarkFlagRequired("from-chain")
	_ = cmd.MarkFlagRequired("to-chain")
}

// baseAmount resolves the amount flags into base units of token.
func (a *pairArgs) baseAmount(token id.TokenRef) (string, error) {
	base, _, err := id.NormalizeAmount(strings.TrimSpace(a.amount), strings.TrimSpace(a.amountDecimal), token.Decimals)
	return base, err
}

func (a *pairArgs) receiverOrSender() string {
	if strings.TrimSpace(a.receiver) != "" {
		return a.receiver
	}
	return a.sender
}

// quoteRequest resolves both tokens against the registry.
func (a *pairArgs) quoteRequest() (providers.QuoteRequest, error) {
	from, err := id.Resolve(a.fromChain, a.fromToken)
	if err != nil {
		return providers.QuoteRequest{}, err
	}
	to, err := id.Resolve(a.toChain, a.toToken)
	if err != nil {
		return providers.QuoteRequest{}, err
	}
	base, err := a.baseAmount(from)
	if err != nil {
		return providers.QuoteRequest{}, err
	}
	return providers.QuoteRequest{
		FromToken:       from,
		ToToken:         to,
		AmountBaseUnits: base,
		Sender:          a.sender,
		Receiver:        a.receiverOrSender(),
	}, nil
}

func (s *runtimeState) newRouteCommand() *cobra.Command {
	root := &cobra.Command{Use: "route", Short: "Route search commands"}

	var args pairArgs
	var all bool
	findCmd := &cobra.Command{
		Use:   "find",
		Short: "Find the cheapest route between two tokens",
		RunE: func(cmd *cobra.Command, _ []string) error {
			amount := strings.TrimSpace(args.amount)
			if strings.TrimSpace(args.amountDecimal) != "" {
				// Only decimal input needs the registry before the search.
				from, err := id.Lookup(args.fromChain, args.fromToken)
				if err != nil {
					return err
				}
				if amount, err = args.baseAmount(from); err != nil {
					return err
				}
			} else if amount == "" {
				return clierr.New(clierr.CodeUsage, "amount is required")
			}

			q := route.Quote{
				FromToken:       args.fromToken,
				ToToken:         args.toToken,
				FromChainName:   args.fromChain,
				ToChainName:     args.toChain,
				InputAmount:     amount,
				SenderAddress:   args.sender,
				ReceiverAddress: args.receiverOrSender(),
			}
			result, err := s.finder.Find(cmd.Context(), q)
			if err != nil {
				return err
			}

			var warnings []string
			if lo.SomeBy(result.Routes, func(step model.RouteStep) bool { return step.Fee.Degraded }) {
				warnings = append(warnings, "on-chain swap quote unavailable; swap fees reported as zero")
			}
			s.captureCommandDiagnostics(warnings, nil)
			var data any = result.Routes
			if all {
				data = result.Evaluations
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, warnings, cacheMetaBypass(), nil)
		},
	}
	args.register(findCmd)
	findCmd.Flags().BoolVar(&all, "all", false, "Print every candidate evaluation, cheapest first")
	_ = findCmd.MarkFlagRequired("sender")

	root.AddCommand(findCmd)
	return root
}

func (s *runtimeState) newQuoteCommand() *cobra.Command {
	root := &cobra.Command{Use: "quote", Short: "Single-adapter quote commands"}

	bridgeQuote := func(use, short string, pick func() providers.BridgeQuoter) *cobra.Command {
		var args pairArgs
		cmd := &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, _ []string) error {
				req, err := args.quoteRequest()
				if err != nil {
					return err
				}
				provider := pick()
				data, status, err := s.callProvider(cmd.Context(), provider.Info().Name, func(ctx context.Context) (any, error) {
					return provider.QuoteBridge(ctx, req)
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
	root.AddCommand(bridgeQuote("bridge", "Quote the direct bridge (Router Protocol)", func() providers.BridgeQuoter { return s.directBridge }))
	root.AddCommand(bridgeQuote("aggregator", "Quote the bridge aggregator (LI.FI)", func() providers.BridgeQuoter { return s.aggregator }))

	var chainArg, fromArg, toArg, amount, amountDecimal string
	swapCmd := &cobra.Command{
		Use:   "swap",
		Short: "Quote a same-chain swap (Uniswap V3, 0.3% pool)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			args := pairArgs{fromToken: fromArg, toToken: toArg, fromChain: chainArg, toChain: chainArg, amount: amount, amountDecimal: amountDecimal}
			req, err := args.quoteRequest()
			if err != nil {
				return err
			}
			data, status, err := s.callProvider(cmd.Context(), s.swapQuoter.Info().Name, func(ctx context.Context) (any, error) {
				return s.swapQuoter.QuoteSwap(ctx, req)
			})
			if err != nil {
				return err
			}
			var warnings []string
			if fee, ok := data.(model.FeeEstimation); ok && fee.Degraded {
				warnings = append(warnings, "on-chain quote unavailable; fees reported as zero")
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, warnings, cacheMetaBypass(), status)
		},
	}
	swapCmd.Flags().StringVar(&chainArg, "chain", "", "Chain name, alias, or id")
	swapCmd.Flags().StringVar(&fromArg, "from-token", "", "Token to sell (symbol or address)")
	swapCmd.Flags().StringVar(&toArg, "to-token", "", "Token to buy (symbol or address)")
	swapCmd.Flags().StringVar(&amount, "amount", "", "Amount in base units")
	swapCmd.Flags().StringVar(&amountDecimal, "amount-decimal", "", "Amount in decimal units")
	_ = swapCmd.MarkFlagRequired("chain")
	_ = swapCmd.MarkFlagRequired("from-token")
	_ = swapCmd.MarkFlagRequired("to-token")
	root.AddCommand(swapCmd)

	return root
}

func (s *runtimeState) newProvidersCommand() *cobra.Command {
	root := &cobra.Command{Use: "providers", Short: "Provider commands"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List quote adapters and API key metadata (no keys required)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), s.providerInfos, nil, cacheMetaBypass(), nil)
		},
	}
	root.AddCommand(list)
	return root
}

func (s *runtimeState) newChainsCommand() *cobra.Command {
	root := &cobra.Command{Use: "chains", Short: "Chain registry"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List supported chains",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), id.Chains(), nil, cacheMetaBypass(), nil)
		},
	}
	root.AddCommand(list)
	return root
}

func (s *runtimeState) newTokensCommand() *cobra.Command {
	root := &cobra.Command{Use: "tokens", Short: "Token registry"}

	var listChain string
	list := &cobra.Command{
		Use:   "list",
		Short: "List registry tokens for a chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, err := id.Tokens(listChain)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), tokens, nil, cacheMetaBypass(), nil)
		},
	}
	list.Flags().StringVar(&listChain, "chain", "", "Chain name, alias, or id")
	_ = list.MarkFlagRequired("chain")

	var resolveChain, resolveToken string
	resolve := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a token symbol or address on a chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := id.Resolve(resolveChain, resolveToken)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), token, nil, cacheMetaBypass(), nil)
		},
	}
	resolve.Flags().StringVar(&resolveChain, "chain", "", "Chain name, alias, or id")
	resolve.Flags().StringVar(&resolveToken, "token", "", "Token symbol or address")
	_ = resolve.MarkFlagRequired("chain")
	_ = resolve.MarkFlagRequired("token")

	root.AddCommand(list)
	root.AddCommand(resolve)
	return root
}

func (s *runtimeState) newPriceCommand() *cobra.Command {
	root := &cobra.Command{Use: "price", Short: "Price oracle commands"}
	var symbol string
	get := &cobra.Command{
		Use:   "get",
		Short: "Get the USD price the oracle would use for a symbol",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout)
			defer cancel()
			quote := s.oracle.Quote(ctx, symbol)

			var warnings []string
			if quote.Source == price.SourceFallback || quote.Source == price.SourceDefault {
				warnings = append(warnings, fmt.Sprintf("no live price for %s; using %s value", quote.Symbol, quote.Source))
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), quote, warnings, priceCacheStatus(quote, s.runner.now()), nil)
		},
	}
	get.Flags().StringVar(&symbol, "symbol", "", "Token or chain symbol (ETH, USDC, MATIC, ...)")
	_ = get.MarkFlagRequired("symbol")
	root.AddCommand(get)
	return root
}

func priceCacheStatus(q price.Quote, now time.Time) model.CacheStatus {
	switch q.Source {
	case price.SourceCache:
		return model.CacheStatus{Status: "hit", AgeMS: now.Sub(q.FetchedAt).Milliseconds()}
	case price.SourceLive:
		return model.CacheStatus{Status: "write"}
	default:
		return model.CacheStatus{Status: "miss"}
	}
}
