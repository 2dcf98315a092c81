package route

import (
	"fmt"
	"sort"
	"strings"

	clierr "github.com/ggonzalez94/xroute/internal/errors"
	"github.com/ggonzalez94/xroute/internal/model"
	"github.com/ggonzalez94/xroute/internal/providers"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Cost sums every step's totalFeeUSD. Unparsable values count as zero;
// SelectBest never ranks such a route.
func Cost(r model.Route) decimal.Decimal {
	return lo.Reduce(r, func(sum decimal.Decimal, step model.RouteStep, _ int) decimal.Decimal {
		v, err := decimal.NewFromString(strings.TrimSpace(step.Fee.TotalFeeUSD))
		if err != nil {
			return sum
		}
		return sum.Add(v)
	}, decimal.Zero)
}

// Priced reports whether every step carries a parsable totalFeeUSD.
func Priced(r model.Route) bool {
	return lo.EveryBy(r, func(step model.RouteStep) bool {
		_, err := decimal.NewFromString(strings.TrimSpace(step.Fee.TotalFeeUSD))
		return err == nil
	})
}

// Describe renders a route as "SYM(CHAIN) -> SYM(CHAIN) via PROTOCOL" hops.
func Describe(r model.Route) string {
	hops := lo.Map(r, func(step model.RouteStep, _ int) string {
		return fmt.Sprintf("%s(%s) -> %s(%s) via %s", step.FromToken, step.FromChainName, step.ToToken, step.ToChainName, step.Protocol.DisplayName())
	})
	return strings.Join(hops, " then ")
}

// Evaluate scores every candidate without reordering them.
func Evaluate(routes []model.Route) []model.Evaluation {
	return lo.Map(routes, func(r model.Route, _ int) model.Evaluation {
		eval := model.Evaluation{
			Path:        Describe(r),
			TotalFeeUSD: providers.FormatUSD(Cost(r)),
			Degraded:    lo.SomeBy(r, func(step model.RouteStep) bool { return step.Fee.Degraded }),
			Protocols:   lo.Map(r, func(step model.RouteStep, _ int) model.Protocol { return step.Protocol }),
			Steps:       r,
		}
		if len(r) > 0 {
			eval.InputAmount = r[0].InputAmount
			eval.OutputAmount = r[len(r)-1].OutputAmount
		}
		return eval
	})
}

// SelectBest returns the cheapest route and the ranked evaluations of all
// candidates. Ties keep composition order. Routes with an unparsable fee are
// dropped like failed candidates.
func SelectBest(routes []model.Route) (model.Route, []model.Evaluation, error) {
	candidates := lo.Filter(routes, func(r model.Route, _ int) bool { return len(r) > 0 && Priced(r) })
	if len(candidates) == 0 {
		return nil, nil, clierr.New(clierr.CodeNoRoute, "No valid routes found")
	}

	costs := lo.Map(candidates, func(r model.Route, _ int) decimal.Decimal { return Cost(r) })
	evals := Evaluate(candidates)
	order := lo.Range(len(candidates))
	sort.SliceStable(order, func(i, j int) bool {
		return costs[order[i]].LessThan(costs[order[j]])
	})

	ranked := make([]model.Evaluation, 0, len(order))
	for rank, idx := range order {
		eval := evals[idx]
		eval.Rank = rank + 1
		ranked = append(ranked, eval)
	}
	return candidates[order[0]], ranked, nil
}
