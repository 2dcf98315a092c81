package route

import (
	"context"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/xroute/internal/errors"
	"github.com/ggonzalez94/xroute/internal/id"
	"github.com/ggonzalez94/xroute/internal/metrics"
	"github.com/ggonzalez94/xroute/internal/model"
	"github.com/ggonzalez94/xroute/internal/providers"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultAdapterTimeout = 10 * time.Second

	tracerName = "github.com/ggonzalez94/xroute/internal/route"
)

// Forwarder builds the final same-chain hop to the receiver.
type Forwarder interface {
	Step(last model.RouteStep, sender, receiver string) model.RouteStep
}

type Adapters struct {
	Direct     providers.BridgeQuoter
	Aggregator providers.BridgeQuoter
	Swap       providers.SwapQuoter
	Forwarder  Forwarder
}

// Composer builds candidate routes. Adapter failures drop the candidate they
// belong to and never fail the composition.
type Composer struct {
	adapters Adapters
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *metrics.Collectors
	tracer   trace.Tracer
}

type Option func(*Composer)

func WithAdapterTimeout(d time.Duration) Option {
	return func(c *Composer) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Composer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Collectors) Option {
	return func(c *Composer) { c.metrics = m }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Composer) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

func NewComposer(adapters Adapters, opts ...Option) *Composer {
	c := &Composer{
		adapters: adapters,
		timeout:  DefaultAdapterTimeout,
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type candidate struct {
	name  string
	build func(ctx context.Context, q Quote) (model.Route, error)
}

// candidates lists route shapes in composition order; ties in cost resolve
// to the earlier entry.
func (c *Composer) candidates(q Quote) []candidate {
	all := []candidate{
		{name: "direct", build: c.singleHop(c.adapters.Direct, model.ProtocolRouter)},
		{name: "aggregator", build: c.singleHop(c.adapters.Aggregator, model.ProtocolLiFi)},
		{name: "aggregator+swap", build: c.bridgeThenSwap(c.adapters.Aggregator, model.ProtocolLiFi)},
		{name: "direct+swap", build: c.bridgeThenSwap(c.adapters.Direct, model.ProtocolRouter)},
	}
	sameToken := strings.EqualFold(q.FromToken, q.ToToken)
	return lo.Filter(all, func(cand candidate, _ int) bool {
		return !(sameToken && strings.HasSuffix(cand.name, "+swap"))
	})
}

// Compose evaluates every candidate concurrently. The result keeps
// composition order with failed candidates removed.
func (c *Composer) Compose(ctx context.Context, q Quote) ([]model.Route, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	q = q.normalized()

	cands := c.candidates(q)
	results := make([]model.Route, len(cands))
	g, gctx := errgroup.WithContext(ctx)
	for i, cand := range cands {
		i, cand := i, cand
		g.Go(func() error {
			results[i] = c.runCandidate(gctx, cand, q)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "route search cancelled", err)
	}

	return lo.Filter(results, func(r model.Route, _ int) bool { return len(r) > 0 }), nil
}

func (c *Composer) runCandidate(ctx context.Context, cand candidate, q Quote) model.Route {
	ctx, span := c.tracer.Start(ctx, "route.candidate", trace.WithAttributes(attribute.String("candidate", cand.name)))
	defer span.End()

	r, err := cand.build(ctx, q)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		fields := []zap.Field{zap.String("candidate", cand.name), zap.Error(err)}
		if typed, ok := clierr.As(err); ok {
			fields = append(fields, zap.Int("code", int(typed.Code)))
		}
		c.logger.Warn("route candidate dropped", fields...)
		return nil
	}
	if q.NeedsForward() && c.adapters.Forwarder != nil {
		r = append(r, c.adapters.Forwarder.Step(r[len(r)-1], q.SenderAddress, q.ReceiverAddress))
	}
	return r
}

func (c *Composer) singleHop(bridge providers.BridgeQuoter, protocol model.Protocol) func(context.Context, Quote) (model.Route, error) {
	return func(ctx context.Context, q Quote) (model.Route, error) {
		from, to, err := resolvePair(q.FromChainName, q.FromToken, q.ToChainName, q.ToToken)
		if err != nil {
			return nil, err
		}
		step, err := c.bridgeStep(ctx, bridge, protocol, from, to, q.InputAmount, q.SenderAddress)
		if err != nil {
			return nil, err
		}
		return model.Route{step}, nil
	}
}

// bridgeThenSwap bridges the source token unchanged to the destination chain
// and swaps it there. The swap input is exactly the bridge output.
func (c *Composer) bridgeThenSwap(bridge providers.BridgeQuoter, protocol model.Protocol) func(context.Context, Quote) (model.Route, error) {
	return func(ctx context.Context, q Quote) (model.Route, error) {
		from, mid, err := resolvePair(q.FromChainName, q.FromToken, q.ToChainName, q.FromToken)
		if err != nil {
			return nil, err
		}
		to, err := id.Lookup(q.ToChainName, q.ToToken)
		if err != nil {
			return nil, err
		}
		first, err := c.bridgeStep(ctx, bridge, protocol, from, mid, q.InputAmount, q.SenderAddress)
		if err != nil {
			return nil, err
		}
		second, err := c.swapStep(ctx, mid, to, first.OutputAmount, q.SenderAddress)
		if err != nil {
			return nil, err
		}
		return model.Route{first, second}, nil
	}
}

func (c *Composer) bridgeStep(ctx context.Context, bridge providers.BridgeQuoter, protocol model.Protocol, from, to id.TokenRef, amount, sender string) (model.RouteStep, error) {
	if bridge == nil {
		return model.RouteStep{}, clierr.New(clierr.CodeUnsupported, "bridge adapter not configured")
	}
	req := providers.QuoteRequest{FromToken: from, ToToken: to, AmountBaseUnits: amount, Sender: sender, Receiver: sender}
	fee, err := c.call(ctx, bridge.Info().Name, func(ctx context.Context) (model.FeeEstimation, error) {
		return bridge.QuoteBridge(ctx, req)
	})
	if err != nil {
		return model.RouteStep{}, err
	}
	return newStep(protocol, from, to, amount, fee, sender), nil
}

func (c *Composer) swapStep(ctx context.Context, from, to id.TokenRef, amount, sender string) (model.RouteStep, error) {
	if c.adapters.Swap == nil {
		return model.RouteStep{}, clierr.New(clierr.CodeUnsupported, "swap adapter not configured")
	}
	req := providers.QuoteRequest{FromToken: from, ToToken: to, AmountBaseUnits: amount, Sender: sender, Receiver: sender}
	fee, err := c.call(ctx, c.adapters.Swap.Info().Name, func(ctx context.Context) (model.FeeEstimation, error) {
		return c.adapters.Swap.QuoteSwap(ctx, req)
	})
	if err != nil {
		return model.RouteStep{}, err
	}
	return newStep(model.ProtocolUniswap, from, to, amount, fee, sender), nil
}

// call runs one adapter quote under its own timeout.
func (c *Composer) call(ctx context.Context, provider string, fn func(context.Context) (model.FeeEstimation, error)) (model.FeeEstimation, error) {
	ctx, span := c.tracer.Start(ctx, "adapter.quote", trace.WithAttributes(attribute.String("provider", provider)))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	fee, err := fn(ctx)
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
		span.SetStatus(codes.Error, err.Error())
	case fee.Degraded:
		outcome = "degraded"
	}
	c.metrics.ObserveAdapter(provider, outcome, time.Since(started))
	span.SetAttributes(attribute.String("outcome", outcome))
	return fee, err
}

// Intermediate legs deliver to the sender; the forward step, when present,
// moves funds to the receiver.
func newStep(protocol model.Protocol, from, to id.TokenRef, amount string, fee model.FeeEstimation, sender string) model.RouteStep {
	return model.RouteStep{
		Protocol:        protocol,
		FromToken:       from.Symbol,
		ToToken:         to.Symbol,
		FromChainName:   from.ChainName,
		ToChainName:     to.ChainName,
		InputAmount:     amount,
		OutputAmount:    fee.OutputAmount,
		Fee:             fee,
		SenderAddress:   sender,
		ReceiverAddress: sender,
	}
}

func resolvePair(fromChain, fromSymbol, toChain, toSymbol string) (id.TokenRef, id.TokenRef, error) {
	from, err := id.Lookup(fromChain, fromSymbol)
	if err != nil {
		return id.TokenRef{}, id.TokenRef{}, err
	}
	to, err := id.Lookup(toChain, toSymbol)
	if err != nil {
		return id.TokenRef{}, id.TokenRef{}, err
	}
	return from, to, nil
}
