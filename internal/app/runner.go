package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ggonzalez94/xroute/internal/cache"
	"github.com/ggonzalez94/xroute/internal/config"
	clierr "github.com/ggonzalez94/xroute/internal/errors"
	"github.com/ggonzalez94/xroute/internal/httpx"
	"github.com/ggonzalez94/xroute/internal/logging"
	"github.com/ggonzalez94/xroute/internal/metrics"
	"github.com/ggonzalez94/xroute/internal/model"
	"github.com/ggonzalez94/xroute/internal/out"
	"github.com/ggonzalez94/xroute/internal/policy"
	"github.com/ggonzalez94/xroute/internal/price"
	"github.com/ggonzalez94/xroute/internal/providers"
	"github.com/ggonzalez94/xroute/internal/providers/lifi"
	"github.com/ggonzalez94/xroute/internal/providers/routerprotocol"
	"github.com/ggonzalez94/xroute/internal/providers/transfer"
	"github.com/ggonzalez94/xroute/internal/providers/uniswap"
	"github.com/ggonzalez94/xroute/internal/route"
	"github.com/ggonzalez94/xroute/internal/telemetry"
	"github.com/ggonzalez94/xroute/internal/version"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const priceStoreRetention = 24 * time.Hour

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

// priceQuoter is the oracle surface the price command reads.
type priceQuoter interface {
	Quote(ctx context.Context, symbol string) price.Quote
}

type runtimeState struct {
	runner        *Runner
	flags         config.GlobalFlags
	settings      config.Settings
	root          *cobra.Command
	lastCommand   string
	lastWarnings  []string
	lastProviders []model.ProviderStatus

	logger         *zap.Logger
	registry       *prometheus.Registry
	metrics        *metrics.Collectors
	tracerProvider trace.TracerProvider
	shutdownTrace  telemetry.Shutdown
	priceStore     *cache.PriceStore

	// Populated once per process; tests preset them with fakes.
	providersReady  bool
	oracle          priceQuoter
	directBridge    providers.BridgeQuoter
	aggregator      providers.BridgeQuoter
	swapQuoter      providers.SwapQuoter
	routerBuilder   providers.BridgeQuoteBuilder
	swapBuilder     providers.SwapBuilder
	transferBuilder providers.TransferBuilder
	finder          *route.Finder
	providerInfos   []model.ProviderInfo
}

func (r *Runner) Run(args []string) int {
	return r.run(&runtimeState{runner: r}, args)
}

func (r *Runner) run(state *runtimeState, args []string) int {
	root := state.newRootCommand()
	state.root = root
	state.resetCommandDiagnostics()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.ExecuteContext(context.Background())
	err = normalizeRunError(err)
	if err != nil {
		state.renderError("", err, state.lastWarnings, state.lastProviders)
	}
	state.close()
	return clierr.ExitCode(err)
}

func (s *runtimeState) close() {
	if s.shutdownTrace != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = s.shutdownTrace(ctx)
		cancel()
	}
	if s.priceStore != nil {
		_ = s.priceStore.Close()
	}
	if s.logger != nil {
		_ = s.logger.Sync()
	}
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Cross-chain route finder and fee aggregator",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings

			path := trimRootPath(cmd.CommandPath())
			s.lastCommand = path
			// serve applies the allowlist per endpoint instead.
			if path != "serve" {
				if err := policy.CheckCommandAllowed(settings.EnableCommands, path); err != nil {
					return err
				}
			}
			return s.setup(cmd.Context(), path)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	cmd.PersistentFlags().StringVar(&s.flags.Select, "select", "", "Select fields from data (comma-separated, dotted paths allowed)")
	cmd.PersistentFlags().BoolVar(&s.flags.ResultsOnly, "results-only", false, "Output only data payload")
	cmd.PersistentFlags().StringVar(&s.flags.EnableCommands, "enable-commands", "", "Allowlist command paths (comma-separated)")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "Per-adapter request timeout")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries per price source request")
	cmd.PersistentFlags().BoolVar(&s.flags.NoCache, "no-cache", false, "Disable the persistent price cache")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&s.flags.EnvFile, "env-file", "", "Path to a .env file (default ./.env when present)")
	cmd.PersistentFlags().StringVar(&s.flags.LogLevel, "log-level", "", "Log level (debug|info|warn|error)")

	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(s.newServeCommand())
	cmd.AddCommand(s.newRouteCommand())
	cmd.AddCommand(s.newQuoteCommand())
	cmd.AddCommand(s.newBuildCommand())
	cmd.AddCommand(s.newProvidersCommand())
	cmd.AddCommand(s.newChainsCommand())
	cmd.AddCommand(s.newTokensCommand())
	cmd.AddCommand(s.newPriceCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// setup builds the ambient stack and the provider graph for the command at
// path. Everything except the price store is cheap and built eagerly.
func (s *runtimeState) setup(ctx context.Context, path string) error {
	if s.logger == nil {
		level := s.settings.LogLevel
		if level == "" {
			level = "error"
			if path == "serve" {
				level = "info"
			}
		}
		logger, err := logging.New(level, s.settings.LogFormat, s.runner.stderr)
		if err != nil {
			return clierr.Wrap(clierr.CodeUsage, "configure logging", err)
		}
		s.logger = logger
	}
	if s.metrics == nil {
		s.registry = prometheus.NewRegistry()
		s.metrics = metrics.New(s.registry)
	}
	if s.tracerProvider == nil {
		tp, shutdown, err := telemetry.Init(ctx, telemetry.Config{
			Endpoint: s.settings.OTLPEndpoint,
			Insecure: s.settings.OTLPInsecure,
		}, s.logger)
		if err != nil {
			return clierr.Wrap(clierr.CodeInternal, "configure tracing", err)
		}
		s.tracerProvider = tp
		s.shutdownTrace = shutdown
	}

	if s.settings.CacheEnabled && shouldOpenCache(path) && s.priceStore == nil && !s.providersReady {
		store, err := cache.Open(s.settings.CachePath, s.settings.CacheLockPath)
		if err != nil {
			return clierr.Wrap(clierr.CodeInternal, "open price cache", err)
		}
		if err := store.Prune(priceStoreRetention); err != nil {
			s.logger.Warn("prune price cache", zap.Error(err))
		}
		s.priceStore = store
	}

	if !s.providersReady {
		s.buildProviders()
	}
	return nil
}

func (s *runtimeState) buildProviders() {
	settings := s.settings
	userAgent := httpx.WithUserAgent(version.CLIName + "/" + version.CLIVersion)
	// Adapter failures stay terminal within one request only, so quote
	// clients never retry and carry no breaker state between requests.
	adapterHTTP := httpx.New(settings.Timeout, 0, userAgent)
	priceHTTP := httpx.New(settings.Timeout, settings.Retries, userAgent,
		httpx.WithBreaker(httpx.DefaultBreakerFailures, httpx.DefaultBreakerOpenFor),
		httpx.WithBreakerStateHook(func(host string, from, to gobreaker.State) {
			s.metrics.SetBreakerState(host, int(to))
			s.logger.Warn("circuit breaker state change",
				zap.String("host", host),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		}),
	)

	priceOpts := []price.Option{
		price.WithTTL(settings.PriceTTL),
		price.WithLogger(s.logger),
		price.WithMetrics(s.metrics),
	}
	if s.priceStore != nil {
		priceOpts = append(priceOpts, price.WithStore(s.priceStore))
	}
	source := price.NewCoinGecko(priceHTTP, settings.CoinGeckoAPIKey, settings.PriceRPS)
	oracle := price.NewOracle(source, priceOpts...)

	router := routerprotocol.New(adapterHTTP, oracle, settings.RouterPartnerID)
	aggregator := lifi.New(adapterHTTP, oracle, settings.LiFiAPIKey)
	swap := uniswap.New(oracle,
		uniswap.WithRPCURLs(settings.RPCURLsByChainID()),
		uniswap.WithLogger(s.logger),
	)
	forwarder := transfer.New()

	s.oracle = oracle
	s.directBridge = router
	s.aggregator = aggregator
	s.swapQuoter = swap
	s.routerBuilder = router
	s.swapBuilder = swap
	s.transferBuilder = forwarder
	s.finder = route.NewFinder(route.Adapters{
		Direct:     router,
		Aggregator: aggregator,
		Swap:       swap,
		Forwarder:  forwarder,
	},
		route.WithAdapterTimeout(settings.Timeout),
		route.WithLogger(s.logger),
		route.WithMetrics(s.metrics),
		route.WithTracerProvider(s.tracerProvider),
	)
	s.providerInfos = []model.ProviderInfo{
		router.Info(),
		aggregator.Info(),
		swap.Info(),
		forwarder.Info(),
	}
	s.providersReady = true
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string, cacheStatus model.CacheStatus, providers []model.ProviderStatus) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Error:    nil,
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Providers: providers,
			Cache:     cacheStatus,
		},
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) renderError(commandPath string, err error, warnings []string, providers []model.ProviderStatus) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := clierr.ExitCode(err)
	typ := clierr.CodeInternal.TypeName()
	message := err.Error()
	if cErr, ok := clierr.As(err); ok {
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
		typ = cErr.Code.TypeName()
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    code,
			Type:    typ,
			Message: message,
		},
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Providers: providers,
			Cache:     cacheMetaBypass(),
		},
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

// callProvider runs fn under the adapter timeout and records its status for
// the envelope.
func (s *runtimeState) callProvider(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (any, []model.ProviderStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, s.settings.Timeout)
	defer cancel()
	start := time.Now()
	data, err := fn(ctx)
	status := []model.ProviderStatus{{Name: name, Status: statusFromErr(err), LatencyMS: time.Since(start).Milliseconds()}}
	s.captureCommandDiagnostics(nil, status)
	return data, status, err
}

func newRequestID() string {
	return uuid.New().String()
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func statusFromErr(err error) string {
	if err == nil {
		return "ok"
	}
	if cErr, ok := clierr.As(err); ok {
		switch cErr.Code {
		case clierr.CodeAuth:
			return "auth_error"
		case clierr.CodeRateLimited:
			return "rate_limited"
		case clierr.CodeUnavailable:
			return "unavailable"
		default:
			return "error"
		}
	}
	return "error"
}

func cacheMetaBypass() model.CacheStatus {
	return model.CacheStatus{Status: "bypass", AgeMS: 0, Stale: false}
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// shouldOpenCache reports whether the command reads prices.
func shouldOpenCache(commandPath string) bool {
	switch normalizeCommandPath(commandPath) {
	case "serve", "route find", "quote bridge", "quote aggregator", "quote swap", "price get":
		return true
	default:
		return false
	}
}

func normalizeCommandPath(commandPath string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(commandPath))), " ")
}

func (s *runtimeState) resetCommandDiagnostics() {
	s.lastWarnings = nil
	s.lastProviders = nil
}

func (s *runtimeState) captureCommandDiagnostics(warnings []string, providers []model.ProviderStatus) {
	if len(warnings) == 0 {
		s.lastWarnings = nil
	} else {
		s.lastWarnings = append([]string(nil), warnings...)
	}
	if len(providers) == 0 {
		s.lastProviders = nil
	} else {
		s.lastProviders = append([]model.ProviderStatus(nil), providers...)
	}
}
