package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	clierr "github.com/ggonzalez94/xroute/internal/errors"
	"github.com/ggonzalez94/xroute/internal/execution"
	"github.com/ggonzalez94/xroute/internal/metrics"
	"github.com/ggonzalez94/xroute/internal/model"
	"github.com/ggonzalez94/xroute/internal/providers"
	"github.com/ggonzalez94/xroute/internal/providers/transfer"
	"github.com/ggonzalez94/xroute/internal/route"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = "0x1111111111111111111111111111111111111111"
	bob   = "0x2222222222222222222222222222222222222222"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeFinder struct {
	got    route.Quote
	result model.RouteResult
	err    error
}

func (f *fakeFinder) Find(_ context.Context, q route.Quote) (model.RouteResult, error) {
	f.got = q
	return f.result, f.err
}

type fakeRouter struct {
	got     providers.QuoteRequest
	payload json.RawMessage
	err     error
}

func (f *fakeRouter) Info() model.ProviderInfo { return model.ProviderInfo{Name: "routerprotocol"} }

func (f *fakeRouter) BuildBridgeQuote(_ context.Context, req providers.QuoteRequest) (json.RawMessage, error) {
	f.got = req
	return f.payload, f.err
}

type fakeSwapBuilder struct {
	got providers.SwapBuildRequest
	err error
}

func (f *fakeSwapBuilder) Info() model.ProviderInfo { return model.ProviderInfo{Name: "uniswap"} }

func (f *fakeSwapBuilder) BuildSwap(_ context.Context, req providers.SwapBuildRequest) (execution.Action, error) {
	f.got = req
	if f.err != nil {
		return execution.Action{}, f.err
	}
	return execution.NewAction("act_test", "swap", req.Chain.CAIP2, execution.Constraints{SlippageBps: req.SlippageBps}), nil
}

type harness struct {
	finder *fakeFinder
	router *fakeRouter
	swap   *fakeSwapBuilder
	reg    *prometheus.Registry
	srv    *Server
}

func newHarness(t *testing.T, enable ...string) *harness {
	t.Helper()
	h := &harness{
		finder: &fakeFinder{},
		router: &fakeRouter{payload: json.RawMessage(`{"txn":{"to":"0xabc"}}`)},
		swap:   &fakeSwapBuilder{},
		reg:    prometheus.NewRegistry(),
	}
	metrics.New(h.reg)
	h.srv = New(Config{Addr: ":0"}, Deps{
		Finder:         h.finder,
		Router:         h.router,
		Swap:           h.swap,
		Transfer:       transfer.New(),
		Gatherer:       h.reg,
		EnableCommands: enable,
	})
	return h
}

type response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func (h *harness) post(t *testing.T, path string, body any) (int, response) {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)

	var out response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func routeBody() map[string]any {
	return map[string]any{
		"fromToken":       "USDC",
		"toToken":         "USDT",
		"fromChainName":   "BASE",
		"toChainName":     "POLYGON",
		"inputAmount":     "1000000",
		"userAddress":     alice,
		"receiverAddress": bob,
	}
}

func TestRequestRouteSuccess(t *testing.T) {
	h := newHarness(t)
	h.finder.result = model.RouteResult{Routes: model.Route{{
		Protocol:      model.ProtocolLiFi,
		FromToken:     "USDC",
		ToToken:       "USDT",
		FromChainName: "BASE",
		ToChainName:   "POLYGON",
		InputAmount:   "1000000",
		OutputAmount:  "990000",
	}}}

	code, out := h.post(t, "/api/request-route", routeBody())
	require.Equal(t, http.StatusOK, code)
	assert.True(t, out.Success)

	var data struct {
		Routes []model.RouteStep `json:"routes"`
	}
	require.NoError(t, json.Unmarshal(out.Data, &data))
	require.Len(t, data.Routes, 1)
	assert.Equal(t, model.ProtocolLiFi, data.Routes[0].Protocol)
	assert.Equal(t, alice, h.finder.got.SenderAddress)
	assert.Equal(t, bob, h.finder.got.ReceiverAddress)
}

func TestRequestRouteAcceptsSenderAlias(t *testing.T) {
	h := newHarness(t)
	body := routeBody()
	delete(body, "userAddress")
	body["senderAddress"] = alice

	code, _ := h.post(t, "/api/request-route", body)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, alice, h.finder.got.SenderAddress)
}

func TestRequestRouteMissingParameters(t *testing.T) {
	for _, field := range []string{"fromToken", "toChainName", "inputAmount", "userAddress", "receiverAddress"} {
		t.Run(field, func(t *testing.T) {
			h := newHarness(t)
			body := routeBody()
			delete(body, field)

			code, out := h.post(t, "/api/request-route", body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.False(t, out.Success)
			assert.Equal(t, "Missing required parameters", out.Error)
		})
	}
}

func TestRequestRouteErrorMapping(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"no route", clierr.New(clierr.CodeNoRoute, "nothing survived"), http.StatusNotFound, "No valid routes found"},
		{"invalid amount", clierr.Wrap(clierr.CodeUsage, "Invalid inputAmount", assert.AnError), http.StatusBadRequest, "Invalid inputAmount"},
		{"internal", clierr.New(clierr.CodeUnavailable, "route search cancelled"), http.StatusInternalServerError, "route search cancelled"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.finder.err = tc.err

			code, out := h.post(t, "/api/request-route", routeBody())
			assert.Equal(t, tc.status, code)
			assert.False(t, out.Success)
			assert.Equal(t, tc.message, out.Error)
		})
	}
}

func TestRequestRouteBlockedByPolicy(t *testing.T) {
	h := newHarness(t, "build")

	code, out := h.post(t, "/api/request-route", routeBody())
	assert.Equal(t, http.StatusForbidden, code)
	assert.False(t, out.Success)

	code, _ = h.post(t, "/api/transactions/build/transfer", map[string]any{"to": bob, "amount": "0.01", "chainId": 137})
	assert.Equal(t, http.StatusOK, code)
}

func TestBuildRouter(t *testing.T) {
	h := newHarness(t)
	body := map[string]any{
		"fromToken":       "USDC",
		"toToken":         "USDC",
		"fromChainName":   "polygon",
		"toChainName":     "base",
		"inputAmount":     "1000000",
		"userAddress":     alice,
		"receiverAddress": bob,
	}

	code, out := h.post(t, "/api/transactions/build/router", body)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, out.Success)
	assert.JSONEq(t, `{"txn":{"to":"0xabc"}}`, string(out.Data))
	assert.Equal(t, int64(137), h.router.got.FromToken.ChainID)
	assert.Equal(t, int64(8453), h.router.got.ToToken.ChainID)
	assert.Equal(t, alice, h.router.got.Sender)

	h.router.err = clierr.New(clierr.CodeUnavailable, "no quote data received from router protocol")
	code, out = h.post(t, "/api/transactions/build/router", body)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "no quote data received from router protocol", out.Error)

	body["toToken"] = "DOGE"
	code, out = h.post(t, "/api/transactions/build/router", body)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, out.Success)

	delete(body, "inputAmount")
	code, out = h.post(t, "/api/transactions/build/router", body)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Missing required parameters", out.Error)
}

func TestBuildUniswap(t *testing.T) {
	h := newHarness(t)
	body := map[string]any{
		"chainId":           8453,
		"tokenIn":           "USDC",
		"tokenOut":          "WETH",
		"amount":            "1000000",
		"recipient":         alice,
		"slippageTolerance": 0.5,
		"deadline":          1900000000,
	}

	code, out := h.post(t, "/api/transactions/build/uniswap", body)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, out.Success)
	assert.Equal(t, "BASE", h.swap.got.Chain.Name)
	assert.Equal(t, "USDC", h.swap.got.TokenIn.Symbol)
	assert.Equal(t, "WETH", h.swap.got.TokenOut.Symbol)
	assert.Equal(t, int64(50), h.swap.got.SlippageBps)
	assert.Equal(t, int64(1900000000), h.swap.got.Deadline)
	assert.Equal(t, "1000000", h.swap.got.AmountBaseUnits)

	delete(body, "chainId")
	body["chainName"] = "polygon"
	code, _ = h.post(t, "/api/transactions/build/uniswap", body)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(137), h.swap.got.Chain.EVMChainID)

	h.swap.err = clierr.New(clierr.CodeUnavailable, "uniswap quote unavailable for token pair")
	code, out = h.post(t, "/api/transactions/build/uniswap", body)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "uniswap quote unavailable for token pair", out.Error)

	delete(body, "chainName")
	code, out = h.post(t, "/api/transactions/build/uniswap", body)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Missing required parameters. Need chainId, tokenIn, tokenOut, amount, and recipient.", out.Error)
}

func TestBuildTransfer(t *testing.T) {
	h := newHarness(t)

	code, out := h.post(t, "/api/transactions/build/transfer", map[string]any{"to": bob, "amount": "0.01", "chainId": 137})
	require.Equal(t, http.StatusOK, code)
	var tx model.TransactionRequest
	require.NoError(t, json.Unmarshal(out.Data, &tx))
	assert.Equal(t, "10000000000000000", tx.Value)
	assert.Equal(t, "0x", tx.Data)
	assert.True(t, strings.EqualFold(bob, tx.To))

	code, out = h.post(t, "/api/transactions/build/transfer", map[string]any{"to": bob, "amount": "1.5", "chainId": "137", "token": "USDC"})
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(out.Data, &tx))
	assert.Equal(t, "0", tx.Value)
	assert.True(t, strings.HasPrefix(tx.Data, "0xa9059cbb"))

	code, out = h.post(t, "/api/transactions/build/transfer", map[string]any{"to": "not-an-address", "amount": "0.01", "chainId": 137})
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Invalid recipient address", out.Error)

	code, out = h.post(t, "/api/transactions/build/transfer", map[string]any{"to": bob, "amount": "0.01"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Missing required parameters. Need to, amount, and chainId.", out.Error)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)

	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "xroute_route_search_duration_seconds")
}

func TestSlippageBps(t *testing.T) {
	assert.Equal(t, int64(50), slippageBps("0.5"))
	assert.Equal(t, int64(100), slippageBps("1"))
	assert.Equal(t, int64(0), slippageBps(""))
	assert.Equal(t, int64(0), slippageBps("-1"))
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.srv.http.Addr = "127.0.0.1:0"
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.srv.Run(ctx) }()
	cancel()
	assert.NoError(t, <-done)
}

func TestEndpoints(t *testing.T) {
	h := newHarness(t)
	endpoints := h.srv.Endpoints()

	paths := make(map[string]string, len(endpoints))
	for _, e := range endpoints {
		paths[e.Method+" "+e.Path] = e.Command
	}
	assert.Equal(t, "route find", paths["POST /api/request-route"])
	assert.Equal(t, "build uniswap", paths["POST /api/transactions/build/uniswap"])
	assert.Contains(t, paths, "GET /healthz")
	assert.Contains(t, paths, "GET /metrics")
	assert.Len(t, endpoints, 6)
}
