package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors groups the route engine's Prometheus series. A nil *Collectors
// is valid and records nothing.
type Collectors struct {
	adapterCalls   *prometheus.CounterVec
	adapterLatency *prometheus.HistogramVec
	priceLookups   *prometheus.CounterVec
	routeRequests  *prometheus.CounterVec
	routeDuration  prometheus.Histogram
	candidates     prometheus.Histogram
	breakerState   *prometheus.GaugeVec
}

// New builds the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		adapterCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xroute_adapter_calls_total",
				Help: "Quote adapter calls by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		adapterLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "xroute_adapter_call_duration_seconds",
				Help:    "Quote adapter call latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		priceLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xroute_price_lookups_total",
				Help: "Price oracle lookups by result (hit, miss, fallback)",
			},
			[]string{"result"},
		),
		routeRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xroute_route_requests_total",
				Help: "Route searches by outcome",
			},
			[]string{"outcome"},
		),
		routeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "xroute_route_search_duration_seconds",
				Help:    "End-to-end route search latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		candidates: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "xroute_route_candidates",
				Help:    "Viable candidate routes per search",
				Buckets: []float64{0, 1, 2, 3, 4},
			},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "xroute_circuit_breaker_state",
				Help: "Upstream circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"host"},
		),
	}
	reg.MustRegister(
		c.adapterCalls,
		c.adapterLatency,
		c.priceLookups,
		c.routeRequests,
		c.routeDuration,
		c.candidates,
		c.breakerState,
	)
	return c
}

func (c *Collectors) ObserveAdapter(provider, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.adapterCalls.WithLabelValues(provider, outcome).Inc()
	c.adapterLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

func (c *Collectors) ObservePrice(result string) {
	if c == nil {
		return
	}
	c.priceLookups.WithLabelValues(result).Inc()
}

func (c *Collectors) ObserveRoute(outcome string, candidates int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.routeRequests.WithLabelValues(outcome).Inc()
	c.routeDuration.Observe(elapsed.Seconds())
	c.candidates.Observe(float64(candidates))
}

// SetBreakerState takes gobreaker's numeric state.
func (c *Collectors) SetBreakerState(host string, state int) {
	if c == nil {
		return
	}
	c.breakerState.WithLabelValues(host).Set(float64(state))
}
