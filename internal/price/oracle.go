package price

import (
	"context"
	"math/big"
	"time"

	"github.com/ggonzalez94/xroute/internal/id"
	"github.com/ggonzalez94/xroute/internal/metrics"
	"github.com/ggonzalez94/xroute/internal/registry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL = 60 * time.Second

	// A shared fetch outlives the caller that started it, so it carries its
	// own deadline.
	DefaultFetchTimeout = 10 * time.Second

	// Gas and native amounts are 18-decimal.
	nativeDecimals = 18
)

var defaultPrice = decimal.NewFromInt(1)

// Quote reports where a price came from.
type Quote struct {
	Symbol    string          `json:"symbol"`
	PriceUSD  decimal.Decimal `json:"price_usd"`
	Source    string          `json:"source"`
	FetchedAt time.Time       `json:"fetched_at"`
}

const (
	SourceCache    = "cache"
	SourceLive     = "live"
	SourceFallback = "fallback"
	SourceDefault  = "default"
)

// Oracle converts token and gas amounts to USD. Lookups never fail: a missing
// or unreachable price degrades to the reference asset and then to 1 USD.
type Oracle struct {
	source       Source
	store        Store
	ttl          time.Duration
	fetchTimeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Collectors
	flight  singleflight.Group
}

type Option func(*Oracle)

func WithStore(store Store) Option {
	return func(o *Oracle) {
		if store != nil {
			o.store = store
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(o *Oracle) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

func WithFetchTimeout(d time.Duration) Option {
	return func(o *Oracle) {
		if d > 0 {
			o.fetchTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Oracle) { o.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *Oracle) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Collectors) Option {
	return func(o *Oracle) { o.metrics = m }
}

func NewOracle(source Source, opts ...Option) *Oracle {
	o := &Oracle{
		source: source,
		store:  NewMemoryStore(),
		ttl:          DefaultTTL,
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Quote resolves the USD price of symbol, falling back when needed.
func (o *Oracle) Quote(ctx context.Context, symbol string) Quote {
	sym := normalizeSymbol(symbol)
	q, err := o.lookup(ctx, sym)
	if err == nil {
		return q
	}
	o.logger.Warn("price lookup failed, using fallback",
		zap.String("symbol", sym),
		zap.Error(err))
	o.metrics.ObservePrice("fallback")

	if sym != registry.ReferencePriceSymbol {
		if ref, refErr := o.lookup(ctx, registry.ReferencePriceSymbol); refErr == nil {
			return Quote{Symbol: sym, PriceUSD: ref.PriceUSD, Source: SourceFallback, FetchedAt: ref.FetchedAt}
		}
	}
	return Quote{Symbol: sym, PriceUSD: defaultPrice, Source: SourceDefault, FetchedAt: o.now()}
}

func (o *Oracle) PriceUSD(ctx context.Context, symbol string) decimal.Decimal {
	return o.Quote(ctx, symbol).PriceUSD
}

// GasToUSD converts an 18-decimal base-unit amount of symbol to USD.
func (o *Oracle) GasToUSD(ctx context.Context, amountBaseUnits string, symbol string) decimal.Decimal {
	return o.TokenAmountToUSD(ctx, amountBaseUnits, nativeDecimals, symbol)
}

// TokenAmountToUSD converts a base-unit amount at the given precision to USD.
func (o *Oracle) TokenAmountToUSD(ctx context.Context, amountBaseUnits string, decimals int, symbol string) decimal.Decimal {
	amount := id.ParseDecimalBaseUnits(amountBaseUnits, decimals)
	if amount.IsZero() {
		return decimal.Zero
	}
	return amount.Mul(o.PriceUSD(ctx, symbol))
}

// GasCostToUSD prices gasUnits × gasPriceWei of the chain's native asset.
func (o *Oracle) GasCostToUSD(ctx context.Context, gasUnits, gasPriceWei *big.Int, symbol string) decimal.Decimal {
	if gasUnits == nil || gasPriceWei == nil {
		return decimal.Zero
	}
	cost := new(big.Int).Mul(gasUnits, gasPriceWei)
	return o.GasToUSD(ctx, cost.String(), symbol)
}

func (o *Oracle) lookup(ctx context.Context, sym string) (Quote, error) {
	if price, fetchedAt, ok, err := o.store.Get(sym); err != nil {
		o.logger.Debug("price store read failed", zap.String("symbol", sym), zap.Error(err))
	} else if ok && o.now().Sub(fetchedAt) < o.ttl {
		o.metrics.ObservePrice("hit")
		return Quote{Symbol: sym, PriceUSD: price, Source: SourceCache, FetchedAt: fetchedAt}, nil
	}

	// Joiners share one fetch, so it must not inherit any single caller's
	// cancellation. Each caller still stops waiting on its own ctx.
	ch := o.flight.DoChan(sym, func() (interface{}, error) {
		o.metrics.ObservePrice("miss")
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.fetchTimeout)
		defer cancel()
		price, err := o.source.FetchUSD(fetchCtx, sym)
		if err != nil {
			return Quote{}, err
		}
		fetchedAt := o.now()
		if err := o.store.Set(sym, price, fetchedAt); err != nil {
			o.logger.Debug("price store write failed", zap.String("symbol", sym), zap.Error(err))
		}
		return Quote{Symbol: sym, PriceUSD: price, Source: SourceLive, FetchedAt: fetchedAt}, nil
	})
	select {
	case <-ctx.Done():
		return Quote{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Quote{}, res.Err
		}
		return res.Val.(Quote), nil
	}
}
