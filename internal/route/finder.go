package route

import (
	"context"
	"time"

	clierr "github.com/ggonzalez94/xroute/internal/errors"
	"github.com/ggonzalez94/xroute/internal/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Finder runs a full route search: compose candidates, rank them, and report
// the comparison.
type Finder struct {
	composer *Composer
}

func NewFinder(adapters Adapters, opts ...Option) *Finder {
	return &Finder{composer: NewComposer(adapters, opts...)}
}

// Find returns the cheapest route for q together with the evaluation of every
// candidate. It fails with CodeUsage for malformed input and CodeNoRoute when
// no candidate survives.
func (f *Finder) Find(ctx context.Context, q Quote) (model.RouteResult, error) {
	c := f.composer
	ctx, span := c.tracer.Start(ctx, "route.find")
	defer span.End()
	span.SetAttributes(
		attribute.String("from", q.FromToken+"@"+q.FromChainName),
		attribute.String("to", q.ToToken+"@"+q.ToChainName),
	)

	started := time.Now()
	routes, err := c.Compose(ctx, q)
	if err != nil {
		c.metrics.ObserveRoute(outcomeOf(err), 0, time.Since(started))
		span.SetStatus(codes.Error, err.Error())
		return model.RouteResult{}, err
	}

	best, evals, err := SelectBest(routes)
	c.metrics.ObserveRoute(outcomeOf(err), len(routes), time.Since(started))
	span.SetAttributes(attribute.Int("candidates", len(routes)))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		c.logger.Info("no route found",
			zap.String("from", q.FromToken+"@"+q.FromChainName),
			zap.String("to", q.ToToken+"@"+q.ToChainName),
		)
		return model.RouteResult{}, err
	}

	for _, eval := range evals {
		c.logger.Debug("route candidate",
			zap.Int("rank", eval.Rank),
			zap.String("path", eval.Path),
			zap.String("total_fee_usd", eval.TotalFeeUSD),
			zap.String("output_amount", eval.OutputAmount),
			zap.Bool("degraded", eval.Degraded),
		)
	}
	c.logger.Info("route selected",
		zap.String("path", evals[0].Path),
		zap.String("total_fee_usd", evals[0].TotalFeeUSD),
		zap.Int("candidates", len(evals)),
	)
	return model.RouteResult{Routes: best, Evaluations: evals}, nil
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	typed, ok := clierr.As(err)
	if !ok {
		return "error"
	}
	return typed.Code.TypeName()
}
