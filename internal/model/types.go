package model

import "time"

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string           `json:"request_id"`
	Timestamp time.Time        `json:"timestamp"`
	Command   string           `json:"command"`
	Providers []ProviderStatus `json:"providers,omitempty"`
	Cache     CacheStatus      `json:"cache"`
	Partial   bool             `json:"partial"`
}

type ProviderStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

type CacheStatus struct {
	Status string `json:"status"`
	AgeMS  int64  `json:"age_ms"`
	Stale  bool   `json:"stale"`
}

type ProviderInfo struct {
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	Protocol      Protocol `json:"protocol,omitempty"`
	RequiresKey   bool     `json:"requires_key"`
	Capabilities  []string `json:"capabilities"`
	KeyEnvVarName string   `json:"key_env_var,omitempty"`
}

// Protocol tags a route step with the backend that executes it.
type Protocol string

const (
	ProtocolRouter  Protocol = "ROUTER"
	ProtocolLiFi    Protocol = "LIFI"
	ProtocolUniswap Protocol = "UNISWAP"
	ProtocolNative  Protocol = "NATIVE"
)

// Kind is the adapter category behind a protocol.
func (p Protocol) Kind() string {
	switch p {
	case ProtocolRouter:
		return "direct-bridge"
	case ProtocolLiFi:
		return "aggregator-bridge"
	case ProtocolUniswap:
		return "on-chain-swap"
	case ProtocolNative:
		return "same-chain-transfer"
	default:
		return "unknown"
	}
}

// DisplayName is the label used in route path descriptions.
func (p Protocol) DisplayName() string {
	switch p {
	case ProtocolRouter:
		return "ROUTER_PROTOCOL"
	case ProtocolLiFi:
		return "LIFI"
	case ProtocolUniswap:
		return "UNISWAP"
	case ProtocolNative:
		return "NATIVE_TRANSFER"
	default:
		return "UNKNOWN"
	}
}

// FeeEstimation is the normalized quote returned by every adapter.
// OutputAmount is in destination-token base units. USD and percentage
// figures are decimal strings.
type FeeEstimation struct {
	OutputAmount         string `json:"outputAmount"`
	GasFee               string `json:"gasFee"`
	GasFeeUSD            string `json:"gasFeeUSD"`
	LiquidityProviderFee string `json:"liquidityProviderFee"`
	TotalFee             string `json:"totalFee"`
	TotalFeeUSD          string `json:"totalFeeUSD"`
	FeePercentage        string `json:"feePercentage"`
	PoolFee              int    `json:"poolFee,omitempty"`
	Degraded             bool   `json:"degraded,omitempty"`
}

// ZeroFeeEstimation is the best-effort value returned when an on-chain quote
// cannot be obtained.
func ZeroFeeEstimation(poolFee int) FeeEstimation {
	return FeeEstimation{
		OutputAmount:         "0",
		GasFee:               "0",
		GasFeeUSD:            "0",
		LiquidityProviderFee: "0",
		TotalFee:             "0",
		TotalFeeUSD:          "0",
		FeePercentage:        "0",
		PoolFee:              poolFee,
		Degraded:             true,
	}
}

// RouteStep is one executable hop. Chained steps satisfy
// steps[i].OutputAmount == steps[i+1].InputAmount.
type RouteStep struct {
	Protocol        Protocol      `json:"protocol"`
	FromToken       string        `json:"fromToken"`
	ToToken         string        `json:"toToken"`
	FromChainName   string        `json:"fromChainName"`
	ToChainName     string        `json:"toChainName"`
	InputAmount     string        `json:"inputAmount"`
	OutputAmount    string        `json:"outputAmount"`
	Fee             FeeEstimation `json:"fee"`
	SenderAddress   string        `json:"userAddress"`
	ReceiverAddress string        `json:"receiverAddress"`
}

// Route is a candidate path; never empty once composed.
type Route []RouteStep

// Evaluation is the selector's view of one candidate.
type Evaluation struct {
	Rank         int        `json:"rank"`
	Path         string     `json:"path"`
	TotalFeeUSD  string     `json:"totalFeeUSD"`
	InputAmount  string     `json:"inputAmount"`
	OutputAmount string     `json:"outputAmount"`
	Degraded     bool       `json:"degraded,omitempty"`
	Protocols    []Protocol `json:"protocols"`
	Steps        Route      `json:"steps"`
}

// RouteResult is the outcome of a route search.
type RouteResult struct {
	Routes      Route        `json:"routes"`
	Evaluations []Evaluation `json:"evaluations,omitempty"`
}

// TransactionRequest is an unsigned transaction ready for a wallet.
type TransactionRequest struct {
	ChainID int64  `json:"chainId,omitempty"`
	To      string `json:"to"`
	Value   string `json:"value"`
	Data    string `json:"data"`
}
