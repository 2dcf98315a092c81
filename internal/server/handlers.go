package server

import (
	"net/http"
	"strings"

	clierr "github.com/ggonzalez94/xroute/internal/errors"
	"github.com/ggonzalez94/xroute/internal/id"
	"github.com/ggonzalez94/xroute/internal/providers"
	"github.com/ggonzalez94/xroute/internal/route"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	msgMissingParams       = "Missing required parameters"
	msgMissingSwapParams   = "Missing required parameters. Need chainId, tokenIn, tokenOut, amount, and recipient."
	msgMissingTransferArgs = "Missing required parameters. Need to, amount, and chainId."
	msgNoRoute             = "No valid routes found"
)

type routeRequest struct {
	FromToken       string `json:"fromToken" binding:"required"`
	ToToken         string `json:"toToken" binding:"required"`
	FromChainName   string `json:"fromChainName" binding:"required"`
	ToChainName     string `json:"toChainName" binding:"required"`
	InputAmount     string `json:"inputAmount" binding:"required"`
	UserAddress     string `json:"userAddress" binding:"required_without=SenderAddress"`
	SenderAddress   string `json:"senderAddress" binding:"required_without=UserAddress"`
	ReceiverAddress string `json:"receiverAddress" binding:"required"`
}

func (r routeRequest) quote() route.Quote {
	sender := r.UserAddress
	if strings.TrimSpace(sender) == "" {
		sender = r.SenderAddress
	}
	return route.Quote{
		FromToken:       r.FromToken,
		ToToken:         r.ToToken,
		FromChainName:   r.FromChainName,
		ToChainName:     r.ToChainName,
		InputAmount:     r.InputAmount,
		SenderAddress:   sender,
		ReceiverAddress: r.ReceiverAddress,
	}
}

func (s *Server) requestRoute(c *gin.Context) {
	var req routeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, failure(msgMissingParams))
		return
	}

	result, err := s.deps.Finder.Find(c.Request.Context(), req.quote())
	if err != nil {
		status := clierr.HTTPStatus(err)
		switch {
		case status == http.StatusNotFound:
			c.JSON(status, failure(msgNoRoute))
		case status >= http.StatusInternalServerError:
			s.logger.Error("route search failed", zap.Error(err))
			c.JSON(status, failure(message(err)))
		default:
			c.JSON(status, failure(message(err)))
		}
		return
	}
	c.JSON(http.StatusOK, success(gin.H{"routes": result.Routes}))
}

type routerBuildRequest struct {
	FromToken       string `json:"fromToken" binding:"required"`
	ToToken         string `json:"toToken" binding:"required"`
	FromChainName   string `json:"fromChainName" binding:"required"`
	ToChainName     string `json:"toChainName" binding:"required"`
	InputAmount     string `json:"inputAmount" binding:"required"`
	UserAddress     string `json:"userAddress"`
	ReceiverAddress string `json:"receiverAddress"`
}

func (s *Server) buildRouter(c *gin.Context) {
	var req routerBuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, failure(msgMissingParams))
		return
	}

	from, err := id.Lookup(req.FromChainName, req.FromToken)
	if err != nil {
		c.JSON(http.StatusBadRequest, failure(message(err)))
		return
	}
	to, err := id.Lookup(req.ToChainName, req.ToToken)
	if err != nil {
		c.JSON(http.StatusBadRequest, failure(message(err)))
		return
	}

	payload, err := s.deps.Router.BuildBridgeQuote(c.Request.Context(), providers.QuoteRequest{
		FromToken:       from,
		ToToken:         to,
		AmountBaseUnits: strings.TrimSpace(req.InputAmount),
		Sender:          req.UserAddress,
		Receiver:        req.ReceiverAddress,
	})
	if err != nil {
		s.logger.Warn("router build failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, failure(message(err)))
		return
	}
	c.JSON(http.StatusOK, success(payload))
}

type uniswapBuildRequest struct {
	ChainID           providers.NumberString `json:"chainId" binding:"required_without=ChainName"`
	ChainName         string                 `json:"chainName" binding:"required_without=ChainID"`
	TokenIn           string                 `json:"tokenIn" binding:"required"`
	TokenOut          string                 `json:"tokenOut" binding:"required"`
	Amount            providers.NumberString `json:"amount" binding:"required"`
	Recipient         string                 `json:"recipient" binding:"required"`
	SlippageTolerance providers.NumberString `json:"slippageTolerance"`
	Deadline          providers.NumberString `json:"deadline"`
}

func (s *Server) buildUniswap(c *gin.Context) {
	var req uniswapBuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, failure(msgMissingSwapParams))
		return
	}

	chainInput := req.ChainID.String()
	if chainInput == "" {
		chainInput = req.ChainName
	}
	chain, err := id.ParseChain(chainInput)
	if err != nil {
		c.JSON(http.StatusBadRequest, failure(message(err)))
		return
	}
	tokenIn, err := id.Resolve(chain.Name, req.TokenIn)
	if err != nil {
		c.JSON(http.StatusBadRequest, failure(message(err)))
		return
	}
	tokenOut, err := id.Resolve(chain.Name, req.TokenOut)
	if err != nil {
		c.JSON(http.StatusBadRequest, failure(message(err)))
		return
	}

	action, err := s.deps.Swap.BuildSwap(c.Request.Context(), providers.SwapBuildRequest{
		Chain:           chain,
		TokenIn:         tokenIn,
		TokenOut:        tokenOut,
		AmountBaseUnits: req.Amount.String(),
		Recipient:       req.Recipient,
		SlippageBps:     slippageBps(req.SlippageTolerance),
		Deadline:        int64(req.Deadline.Int(0)),
	})
	if err != nil {
		s.logger.Warn("uniswap build failed", zap.Error(err))
		c.JSON(clierr.HTTPStatus(err), failure(message(err)))
		return
	}
	c.JSON(http.StatusOK, success(action))
}

type transferBuildRequest struct {
	To      string                 `json:"to" binding:"required"`
	Amount  providers.NumberString `json:"amount" binding:"required"`
	ChainID providers.NumberString `json:"chainId" binding:"required"`
	Token   string                 `json:"token"`
}

func (s *Server) buildTransfer(c *gin.Context) {
	var req transferBuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, failure(msgMissingTransferArgs))
		return
	}

	chain, err := id.ParseChain(req.ChainID.String())
	if err != nil {
		c.JSON(http.StatusBadRequest, failure(message(err)))
		return
	}
	var token id.TokenRef
	if strings.TrimSpace(req.Token) != "" {
		token, err = id.Resolve(chain.Name, req.Token)
		if err != nil {
			c.JSON(http.StatusBadRequest, failure(message(err)))
			return
		}
	}

	tx, err := s.deps.Transfer.BuildTransfer(c.Request.Context(), providers.TransferBuildRequest{
		Chain:  chain,
		To:     req.To,
		Amount: req.Amount.String(),
		Token:  token,
	})
	if err != nil {
		s.logger.Warn("transfer build failed", zap.Error(err))
		c.JSON(clierr.HTTPStatus(err), failure(message(err)))
		return
	}
	c.JSON(http.StatusOK, success(tx))
}

// slippageBps converts a percentage (0.5 = 0.5%) into basis points. Zero lets
// the builder apply its default.
func slippageBps(percent providers.NumberString) int64 {
	pct := percent.Decimal()
	if pct.Sign() <= 0 {
		return 0
	}
	return pct.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// message is the client-facing text of err without its wrapped cause.
func message(err error) string {
	if typed, ok := clierr.As(err); ok {
		return typed.Message
	}
	return err.Error()
}
