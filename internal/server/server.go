// Package server exposes the setup-facing HTTP API: nonce discovery for
// building authorizations, the activation relay, and wallet lookup for the
// setup page.
package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dmarzzo/defi-agent/internal/custody"
	agerr "github.com/dmarzzo/defi-agent/internal/errors"
	"github.com/dmarzzo/defi-agent/internal/operator"
	"github.com/dmarzzo/defi-agent/internal/relay"
	"github.com/dmarzzo/defi-agent/internal/version"
)

type Server struct {
	op       *operator.Operator
	relay    *relay.Relay
	custody  *custody.Client
	chainIDs []int64
	delegate string
	log      *zap.Logger
}

func New(op *operator.Operator, rel *relay.Relay, cust *custody.Client, chainIDs []int64, delegateContract string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{op: op, relay: rel, custody: cust, chainIDs: chainIDs, delegate: delegateContract, log: log}
}

func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", s.handleHealth)
	api := r.Group("/api")
	{
		api.GET("/nonces", s.handleNonces)
		api.POST("/setup", s.handleSetup)
		api.GET("/wallet/:userId", s.handleWallet)
	}
	return r
}

func (s *Server) Run(addr string) error {
	s.log.Info("http api listening", zap.String("addr", addr))
	return s.Router().Run(addr)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Version})
}

// handleNonces reports the wallet's nonce on every supported chain so the
// setup page can build one authorization per chain. Unconfigured chains
// report 0.
func (s *Server) handleNonces(c *gin.Context) {
	address := strings.TrimSpace(c.Query("address"))
	if !common.IsHexAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "valid address query parameter is required"})
		return
	}
	if len(s.chainIDs) == 0 {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "no chains configured"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 20*time.Second)
	defer cancel()
	nonces := s.op.Nonces(ctx, common.HexToAddress(address), s.chainIDs)
	c.JSON(http.StatusOK, gin.H{"nonces": nonces})
}

type setupRequest struct {
	WalletAddress  string                `json:"walletAddress"`
	Authorizations []relay.Authorization `json:"authorizations"`
}

func (s *Server) handleSetup(c *gin.Context) {
	var req setupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if !common.IsHexAddress(req.WalletAddress) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "walletAddress is required"})
		return
	}
	if len(req.Authorizations) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "authorizations are required"})
		return
	}
	if !s.op.Configured() {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "operator key not configured"})
		return
	}
	if !common.IsHexAddress(s.delegate) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delegate contract address not configured"})
		return
	}

	results := s.relay.Activate(c.Request.Context(), common.HexToAddress(req.WalletAddress), req.Authorizations)
	c.JSON(http.StatusOK, gin.H{
		"walletAddress": req.WalletAddress,
		"results":       results,
	})
}

// handleWallet resolves a platform user's custody wallets for the setup page.
// A user with no wallets gets nulls, not a 404: the page renders the
// onboarding path instead.
func (s *Server) handleWallet(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("userId"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}
	if s.custody == nil || !s.custody.Configured() {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "custody provider not configured"})
		return
	}

	rec, err := s.custody.ResolveByTelegramID(c.Request.Context(), userID)
	if err != nil {
		s.log.Warn("custody lookup failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(agerr.HTTPStatus(err), gin.H{"error": agerr.Message(err)})
		return
	}

	out := gin.H{
		"address":            nullable(rec.Address),
		"suiAddress":         nullable(rec.SuiAddress),
		"suiWalletId":        nullable(rec.SuiWalletID),
		"suiWalletPublicKey": nullable(rec.SuiWalletPublicKey),
		"isDelegated":        false,
	}
	if rec.HasEVM() {
		if cfg, ok := s.op.Registry().First(); ok {
			d, err := s.op.CheckDelegation(c.Request.Context(), cfg.ID, common.HexToAddress(rec.Address))
			if err != nil {
				s.log.Warn("delegation check failed", zap.String("address", rec.Address), zap.Error(err))
			} else {
				out["isDelegated"] = d.IsDelegated
			}
		}
	}
	c.JSON(http.StatusOK, out)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
