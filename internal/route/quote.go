package route

import (
	"strings"

	clierr "github.com/ggonzalez94/xroute/internal/errors"
	"github.com/ggonzalez94/xroute/internal/id"
)

// Quote is a route-finding request. Token and chain names are resolved per
// candidate so an unknown pair exhausts the search instead of failing the
// request.
type Quote struct {
	FromToken       string `json:"fromToken"`
	ToToken         string `json:"toToken"`
	FromChainName   string `json:"fromChainName"`
	ToChainName     string `json:"toChainName"`
	InputAmount     string `json:"inputAmount"`
	SenderAddress   string `json:"userAddress"`
	ReceiverAddress string `json:"receiverAddress"`
}

// Validate rejects malformed requests before any adapter runs.
func (q Quote) Validate() error {
	for _, v := range []string{q.FromToken, q.ToToken, q.FromChainName, q.ToChainName, q.InputAmount, q.SenderAddress, q.ReceiverAddress} {
		if strings.TrimSpace(v) == "" {
			return clierr.New(clierr.CodeUsage, "Missing required parameters")
		}
	}
	if _, err := id.ParseBaseUnits(q.InputAmount); err != nil {
		return clierr.Wrap(clierr.CodeUsage, "Invalid inputAmount", err)
	}
	return nil
}

// NeedsForward reports whether funds must hop from sender to receiver at the
// end of the route.
func (q Quote) NeedsForward() bool {
	return !strings.EqualFold(strings.TrimSpace(q.SenderAddress), strings.TrimSpace(q.ReceiverAddress))
}

func (q Quote) normalized() Quote {
	q.FromToken = strings.ToUpper(strings.TrimSpace(q.FromToken))
	q.ToToken = strings.ToUpper(strings.TrimSpace(q.ToToken))
	q.FromChainName = strings.TrimSpace(q.FromChainName)
	q.ToChainName = strings.TrimSpace(q.ToChainName)
	q.InputAmount = strings.TrimSpace(q.InputAmount)
	q.SenderAddress = strings.TrimSpace(q.SenderAddress)
	q.ReceiverAddress = strings.TrimSpace(q.ReceiverAddress)
	return q
}
