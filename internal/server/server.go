package server

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/ggonzalez94/xroute/internal/model"
	"github.com/ggonzalez94/xroute/internal/providers"
	"github.com/ggonzalez94/xroute/internal/route"
	"github.com/ggonzalez94/xroute/internal/schema"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	defaultShutdownTimeout = 15 * time.Second
	tracerName             = "github.com/ggonzalez94/xroute/internal/server"

	pathRequestRoute  = "/api/request-route"
	pathBuildRouter   = "/api/transactions/build/router"
	pathBuildUniswap  = "/api/transactions/build/uniswap"
	pathBuildTransfer = "/api/transactions/build/transfer"
)

// endpointCommands maps each gated route to the CLI command path whose
// --enable-commands entry allows it.
var endpointCommands = map[string]string{
	pathRequestRoute:  "route find",
	pathBuildRouter:   "build router",
	pathBuildUniswap:  "build uniswap",
	pathBuildTransfer: "build transfer",
}

// RouteFinder is the route search the HTTP surface fronts.
type RouteFinder interface {
	Find(ctx context.Context, q route.Quote) (model.RouteResult, error)
}

// Deps are the components behind each endpoint. A nil builder disables its
// endpoint.
type Deps struct {
	Finder   RouteFinder
	Router   providers.BridgeQuoteBuilder
	Swap     providers.SwapBuilder
	Transfer providers.TransferBuilder

	// Gatherer backs /metrics; nil hides the endpoint.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
	Tracer   trace.TracerProvider

	// EnableCommands applies the CLI allowlist to the matching endpoints.
	EnableCommands []string
}

type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	deps            Deps
	logger          *zap.Logger
	tracer          trace.Tracer
	engine          *gin.Engine
	http            *http.Server
	shutdownTimeout time.Duration
}

func New(cfg Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tp := deps.Tracer
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 45 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	s := &Server{
		deps:            deps,
		logger:          logger,
		tracer:          tp.Tracer(tracerName),
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	s.engine = s.routes()
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	engine := gin.New()
	engine.Use(requestID(), s.recovery(), s.tracing(), s.accessLog())

	engine.GET("/healthz", s.health)
	if s.deps.Gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	if s.deps.Finder != nil {
		engine.POST(pathRequestRoute, s.allow(pathRequestRoute), s.requestRoute)
	}
	if s.deps.Router != nil {
		engine.POST(pathBuildRouter, s.allow(pathBuildRouter), s.buildRouter)
	}
	if s.deps.Swap != nil {
		engine.POST(pathBuildUniswap, s.allow(pathBuildUniswap), s.buildUniswap)
	}
	if s.deps.Transfer != nil {
		engine.POST(pathBuildTransfer, s.allow(pathBuildTransfer), s.buildTransfer)
	}
	return engine
}

// Endpoints lists the registered routes in path order.
func (s *Server) Endpoints() []schema.EndpointSchema {
	routes := s.engine.Routes()
	out := make([]schema.EndpointSchema, 0, len(routes))
	for _, r := range routes {
		out = append(out, schema.EndpointSchema{Method: r.Method, Path: r.Path, Command: endpointCommands[r.Path]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
