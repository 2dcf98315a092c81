package app

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/xroute/internal/errors"
	"github.com/ggonzalez94/xroute/internal/model"
	"github.com/ggonzalez94/xroute/internal/price"
	"github.com/ggonzalez94/xroute/internal/providers"
	"github.com/ggonzalez94/xroute/internal/providers/transfer"
	"github.com/ggonzalez94/xroute/internal/route"
	"github.com/shopspring/decimal"
)

const testSender = "0x00000000000000000000000000000000000000Aa"

func isolate(t *testing.T) {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(tmp, "cache"))
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(tmp); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

type fakeBridge struct {
	name     string
	cut      int64
	totalUSD string
	err      error
	failTo   string

	mu      sync.Mutex
	lastReq providers.QuoteRequest
}

func (f *fakeBridge) Info() model.ProviderInfo { return model.ProviderInfo{Name: f.name} }

func (f *fakeBridge) QuoteBridge(_ context.Context, req providers.QuoteRequest) (model.FeeEstimation, error) {
	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()
	if f.err != nil {
		return model.FeeEstimation{}, f.err
	}
	if f.failTo != "" && req.ToToken.Symbol == f.failTo {
		return model.FeeEstimation{}, clierr.New(clierr.CodeUnsupported, "unsupported pair")
	}
	return haircut(req.AmountBaseUnits, f.cut, f.totalUSD), nil
}

type fakeSwap struct {
	degraded bool
}

func (f *fakeSwap) Info() model.ProviderInfo { return model.ProviderInfo{Name: "uniswap"} }

func (f *fakeSwap) QuoteSwap(_ context.Context, req providers.QuoteRequest) (model.FeeEstimation, error) {
	if f.degraded {
		return model.ZeroFeeEstimation(3000), nil
	}
	return haircut(req.AmountBaseUnits, 1_000, "0.10"), nil
}

func haircut(amount string, cut int64, totalUSD string) model.FeeEstimation {
	in, _ := new(big.Int).SetString(amount, 10)
	return model.FeeEstimation{
		OutputAmount:         new(big.Int).Sub(in, big.NewInt(cut)).String(),
		GasFee:               "0",
		GasFeeUSD:            totalUSD,
		LiquidityProviderFee: "0",
		TotalFee:             "0",
		TotalFeeUSD:          totalUSD,
		FeePercentage:        "0",
	}
}

type fakeOracle struct {
	quote price.Quote
}

func (f fakeOracle) Quote(context.Context, string) price.Quote { return f.quote }

type fakes struct {
	direct     *fakeBridge
	aggregator *fakeBridge
	swap       *fakeSwap
}

func newFakes() *fakes {
	return &fakes{
		direct:     &fakeBridge{name: "routerprotocol", cut: 10_000, totalUSD: "1.00"},
		aggregator: &fakeBridge{name: "lifi", cut: 5_000, totalUSD: "0.50"},
		swap:       &fakeSwap{},
	}
}

// state returns a runtime with the provider graph preset to the fakes.
func (f *fakes) state(r *Runner) *runtimeState {
	forwarder := transfer.New()
	return &runtimeState{
		runner:          r,
		providersReady:  true,
		directBridge:    f.direct,
		aggregator:      f.aggregator,
		swapQuoter:      f.swap,
		transferBuilder: forwarder,
		finder: route.NewFinder(route.Adapters{
			Direct:     f.direct,
			Aggregator: f.aggregator,
			Swap:       f.swap,
			Forwarder:  forwarder,
		}),
	}
}

func routeArgs(extra ...string) []string {
	args := []string{
		"route", "find",
		"--from-token", "USDC", "--from-chain", "base",
		"--to-token", "USDT", "--to-chain", "polygon",
		"--sender", testSender,
		"--no-cache",
	}
	return append(args, extra...)
}

func TestTrimRootPath(t *testing.T) {
	if got := trimRootPath("xroute route find"); got != "route find" {
		t.Fatalf("unexpected trim result: %s", got)
	}
	if got := trimRootPath("xroute"); got != "xroute" {
		t.Fatalf("unexpected trim result for root: %s", got)
	}
}

func TestRunnerProvidersList(t *testing.T) {
	isolate(t)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run([]string{"providers", "list", "--results-only"})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var out []map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("failed to parse output json: %v output=%s", err, stdout.String())
	}
	if len(out) != 4 {
		t.Fatalf("expected 4 providers, got %d: %s", len(out), stdout.String())
	}
	if out[0]["name"] != "routerprotocol" {
		t.Fatalf("expected direct bridge first, got %v", out[0]["name"])
	}
}

func TestRunnerErrorEnvelopeIgnoresResultsOnly(t *testing.T) {
	isolate(t)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run([]string{"chains", "list", "--enable-commands", "route find", "--results-only"})
	if code != int(clierr.CodeBlocked) {
		t.Fatalf("expected exit 16, got %d stderr=%s", code, stderr.String())
	}
	var env map[string]any
	if err := json.Unmarshal(stderr.Bytes(), &env); err != nil {
		t.Fatalf("failed to parse error envelope: %v output=%s", err, stderr.String())
	}
	if env["success"] != false {
		t.Fatalf("expected success=false, got %v", env["success"])
	}
	errBody, _ := env["error"].(map[string]any)
	if errBody["type"] != "command_blocked" {
		t.Fatalf("unexpected error type: %v", errBody["type"])
	}
	if stdout.Len() != 0 {
		t.Fatalf("expected empty stdout, got %s", stdout.String())
	}
}

func TestRunnerChainsList(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	if code := r.Run([]string{"chains", "list", "--select", "name,chain_id"}); code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var env struct {
		Success bool             `json:"success"`
		Data    []map[string]any `json:"data"`
		Meta    struct {
			Command string `json:"command"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &env); err != nil {
		t.Fatalf("failed to parse output json: %v output=%s", err, stdout.String())
	}
	if !env.Success || len(env.Data) == 0 {
		t.Fatalf("expected chains, got %s", stdout.String())
	}
	if env.Meta.Command != "chains list" {
		t.Fatalf("unexpected command path: %s", env.Meta.Command)
	}
}

func TestRunnerTokensResolve(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run([]string{"tokens", "resolve", "--chain", "base", "--token", "usdc", "--results-only"})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var token map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &token); err != nil {
		t.Fatalf("failed to parse output json: %v output=%s", err, stdout.String())
	}
	if token["symbol"] != "USDC" || token["decimals"] != float64(6) {
		t.Fatalf("unexpected token: %v", token)
	}
}

func TestRunnerTokensResolveUnknownChain(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run([]string{"tokens", "resolve", "--chain", "atlantis", "--token", "usdc"})
	if code != int(clierr.CodeUnsupported) {
		t.Fatalf("expected unsupported exit, got %d stderr=%s", code, stderr.String())
	}
}

func TestRunnerRouteFindReturnsCheapest(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	f := newFakes()
	code := r.run(f.state(r), routeArgs("--amount", "1000000", "--results-only"))
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var steps []model.RouteStep
	if err := json.Unmarshal(stdout.Bytes(), &steps); err != nil {
		t.Fatalf("failed to parse output json: %v output=%s", err, stdout.String())
	}
	if len(steps) != 1 || steps[0].Protocol != model.ProtocolLiFi {
		t.Fatalf("expected single aggregator step, got %+v", steps)
	}
	if steps[0].OutputAmount != "995000" {
		t.Fatalf("unexpected output amount: %s", steps[0].OutputAmount)
	}
}

func TestRunnerRouteFindAllEvaluations(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.run(newFakes().state(r), routeArgs("--amount", "1000000", "--all", "--results-only"))
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var evals []model.Evaluation
	if err := json.Unmarshal(stdout.Bytes(), &evals); err != nil {
		t.Fatalf("failed to parse output json: %v output=%s", err, stdout.String())
	}
	if len(evals) != 4 {
		t.Fatalf("expected 4 evaluations, got %d", len(evals))
	}
	if evals[0].TotalFeeUSD != "0.5" || evals[0].Rank != 1 {
		t.Fatalf("unexpected cheapest evaluation: %+v", evals[0])
	}
}

func TestRunnerRouteFindAmountDecimal(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	f := newFakes()
	code := r.run(f.state(r), routeArgs("--amount-decimal", "1.5"))
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	if got := f.direct.lastReq.AmountBaseUnits; got != "1500000" {
		t.Fatalf("expected 1.5 USDC in base units, got %s", got)
	}
}

func TestRunnerRouteFindWarnsOnDegradedSwap(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	f := newFakes()
	// only the bridge-then-swap path survives
	f.direct.failTo = "USDT"
	f.aggregator.err = clierr.New(clierr.CodeUnavailable, "down")
	f.swap.degraded = true
	code := r.run(f.state(r), routeArgs("--amount", "1000000"))
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var env model.Envelope
	if err := json.Unmarshal(stdout.Bytes(), &env); err != nil {
		t.Fatalf("failed to parse output json: %v output=%s", err, stdout.String())
	}
	if len(env.Warnings) != 1 {
		t.Fatalf("expected degraded warning, got %v", env.Warnings)
	}
}

func TestRunnerRouteFindNoRoute(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	f := newFakes()
	f.direct.err = clierr.New(clierr.CodeUnsupported, "unsupported pair")
	f.aggregator.err = clierr.New(clierr.CodeUnavailable, "down")
	code := r.run(f.state(r), routeArgs("--amount", "1000000"))
	if code != int(clierr.CodeNoRoute) {
		t.Fatalf("expected exit 17, got %d stderr=%s", code, stderr.String())
	}
	if stdout.Len() != 0 {
		t.Fatalf("expected empty stdout, got %s", stdout.String())
	}
}

func TestRunnerRouteFindRequiresAmount(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.run(newFakes().state(r), routeArgs())
	if code != int(clierr.CodeUsage) {
		t.Fatalf("expected usage exit, got %d stderr=%s", code, stderr.String())
	}
}

func TestRunnerQuoteBridgeRecordsProvider(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	f := newFakes()
	code := r.run(f.state(r), []string{
		"quote", "bridge",
		"--from-token", "USDC", "--from-chain", "base",
		"--to-token", "USDT", "--to-chain", "polygon",
		"--amount", "1000000", "--sender", testSender,
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var env model.Envelope
	if err := json.Unmarshal(stdout.Bytes(), &env); err != nil {
		t.Fatalf("failed to parse output json: %v output=%s", err, stdout.String())
	}
	if len(env.Meta.Providers) != 1 || env.Meta.Providers[0].Name != "routerprotocol" || env.Meta.Providers[0].Status != "ok" {
		t.Fatalf("unexpected provider status: %+v", env.Meta.Providers)
	}
	if f.direct.lastReq.Receiver != testSender {
		t.Fatalf("expected receiver to default to sender, got %q", f.direct.lastReq.Receiver)
	}
}

func TestRunnerQuoteBridgeFailureKeepsProviderStatus(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	f := newFakes()
	f.aggregator.err = clierr.New(clierr.CodeRateLimited, "slow down")
	code := r.run(f.state(r), []string{
		"quote", "aggregator",
		"--from-token", "USDC", "--from-chain", "base",
		"--to-token", "USDT", "--to-chain", "polygon",
		"--amount", "1000000",
	})
	if code != int(clierr.CodeRateLimited) {
		t.Fatalf("expected rate limited exit, got %d stderr=%s", code, stderr.String())
	}
	var env model.Envelope
	if err := json.Unmarshal(stderr.Bytes(), &env); err != nil {
		t.Fatalf("failed to parse error envelope: %v output=%s", err, stderr.String())
	}
	if len(env.Meta.Providers) != 1 || env.Meta.Providers[0].Status != "rate_limited" {
		t.Fatalf("unexpected provider status: %+v", env.Meta.Providers)
	}
}

func TestRunnerBuildTransferNative(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run([]string{
		"build", "transfer", "--chain", "ethereum",
		"--to", testSender, "--amount", "0.01", "--results-only", "--no-cache",
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var tx model.TransactionRequest
	if err := json.Unmarshal(stdout.Bytes(), &tx); err != nil {
		t.Fatalf("failed to parse output json: %v output=%s", err, stdout.String())
	}
	if tx.Value != "10000000000000000" || tx.Data != "0x" || tx.ChainID != 1 {
		t.Fatalf("unexpected transaction: %+v", tx)
	}
}

func TestRunnerPriceGetReportsCacheHit(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r.now = func() time.Time { return now }
	state := newFakes().state(r)
	state.oracle = fakeOracle{quote: price.Quote{
		Symbol:    "ETH",
		PriceUSD:  decimal.NewFromInt(3000),
		Source:    price.SourceCache,
		FetchedAt: now.Add(-5 * time.Second),
	}}
	code := r.run(state, []string{"price", "get", "--symbol", "eth"})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var env model.Envelope
	if err := json.Unmarshal(stdout.Bytes(), &env); err != nil {
		t.Fatalf("failed to parse output json: %v output=%s", err, stdout.String())
	}
	if env.Meta.Cache.Status != "hit" || env.Meta.Cache.AgeMS != 5000 {
		t.Fatalf("unexpected cache meta: %+v", env.Meta.Cache)
	}
}

func TestRunnerSchemaIncludesEndpoints(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.run(newFakes().state(r), []string{"schema", "--results-only"})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var out struct {
		Endpoints []map[string]any `json:"endpoints"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("failed to parse output json: %v output=%s", err, stdout.String())
	}
	// finder, transfer, health, metrics; router and swap builders are unset
	if len(out.Endpoints) != 4 {
		t.Fatalf("expected 4 endpoints, got %d: %s", len(out.Endpoints), stdout.String())
	}
}
