// Package server exposes the relay over HTTP: payment verification and
// settlement, offer issuance, cross-chain transfers, and wallet
// provisioning.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	arcrelay "github.com/kij-exe/ArcRelay"
	"github.com/kij-exe/ArcRelay/facilitator"
	"github.com/kij-exe/ArcRelay/gateway"
	"github.com/kij-exe/ArcRelay/wallets"
)

// Server routes relay requests to the facilitator and the transfer
// orchestrator.
type Server struct {
	facilitator *facilitator.Facilitator
	gateway     *gateway.Orchestrator
	wallets     wallets.Service

	verifyTimeout time.Duration
	settleTimeout time.Duration

	log    logrus.FieldLogger
	engine *gin.Engine
}

// Config wires a Server.
type Config struct {
	Facilitator *facilitator.Facilitator
	Gateway     *gateway.Orchestrator

	// Wallets backs the wallet-provisioning passthrough. Optional; the
	// route replies 503 when absent.
	Wallets wallets.Service

	// VerifyTimeoutSeconds bounds verification, which at most reads one
	// chain view (default 10).
	VerifyTimeoutSeconds int

	// SettleTimeoutSeconds bounds settlement, which waits for a terminal
	// transaction state (default 120).
	SettleTimeoutSeconds int

	Logger logrus.FieldLogger
}

// New builds the server and its routes.
func New(cfg Config) *Server {
	verifyTimeout := time.Duration(cfg.VerifyTimeoutSeconds) * time.Second
	if verifyTimeout == 0 {
		verifyTimeout = 10 * time.Second
	}
	settleTimeout := time.Duration(cfg.SettleTimeoutSeconds) * time.Second
	if settleTimeout == 0 {
		settleTimeout = 120 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	s := &Server{
		facilitator:   cfg.Facilitator,
		gateway:       cfg.Gateway,
		wallets:       cfg.Wallets,
		verifyTimeout: verifyTimeout,
		settleTimeout: settleTimeout,
		log:           logger.WithField("component", "server"),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(requestLogger(s.log), gin.Recovery())

	engine.POST("/verify", s.handleVerify)
	engine.POST("/settle", s.handleSettle)
	engine.POST("/offer", s.handleOffer)
	engine.GET("/supported", s.handleSupported)
	engine.POST("/transfer", s.handleTransfer)
	engine.POST("/wallets", s.handleCreateWallet)
	engine.GET("/health", s.handleHealth)

	s.engine = engine
	return s
}

// Router exposes the engine for tests and custom listeners.
func (s *Server) Router() *gin.Engine {
	return s.engine
}

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	s.log.WithField("addr", addr).Info("listening")
	return s.engine.Run(addr)
}

// handleVerify answers whether a payment would settle. Semantic failures
// come back as 200 {valid:false}; only malformed requests earn a 400.
func (s *Server) handleVerify(c *gin.Context) {
	var req arcrelay.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error: malformed request body"})
		return
	}
	if req.PaymentPayload == nil {
		payload, err := paymentFromHeader(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errorBody(err)})
			return
		}
		req.PaymentPayload = payload
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.verifyTimeout)
	defer cancel()

	result, err := s.facilitator.Verify(ctx, req, facilitator.PeekNonce)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleSettle executes a payment to a terminal state. Failed settlements
// are 200 {success:false}; the error status codes are reserved for
// malformed requests and infrastructure faults.
func (s *Server) handleSettle(c *gin.Context) {
	var req arcrelay.SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error: malformed request body"})
		return
	}
	if req.PaymentPayload.Scheme == "" {
		payload, err := paymentFromHeader(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errorBody(err)})
			return
		}
		if payload != nil {
			req.PaymentPayload = *payload
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.settleTimeout)
	defer cancel()

	result, err := s.facilitator.Settle(ctx, req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleOffer(c *gin.Context) {
	var req arcrelay.OfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error: malformed request body"})
		return
	}

	offer, err := s.facilitator.BuildOffer(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, offer)
}

func (s *Server) handleSupported(c *gin.Context) {
	c.JSON(http.StatusOK, s.facilitator.Supported())
}

// handleTransfer runs a cross-chain transfer to completion. No server
// timeout applies; the orchestrator's polling budgets bound the request.
func (s *Server) handleTransfer(c *gin.Context) {
	var req arcrelay.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error: malformed request body"})
		return
	}

	result, err := s.gateway.Transfer(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleCreateWallet(c *gin.Context) {
	var req struct {
		Blockchain string `json:"blockchain"`
		Name       string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error: malformed request body"})
		return
	}
	if req.Blockchain == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error: blockchain is required"})
		return
	}
	if s.wallets == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "wallet provisioning is not configured"})
		return
	}

	wallet, err := s.wallets.CreateWallet(c.Request.Context(), req.Blockchain, req.Name)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, wallet)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// fail writes a taxonomy-labeled error body. Validation and funding
// errors are the caller's to fix (400); everything else is a server-side
// fault (500). Unlabeled errors are logged in full and reported
// generically.
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch arcrelay.KindOf(err) {
	case arcrelay.KindValidation, arcrelay.KindOfferMismatch, arcrelay.KindInsufficientBalance:
		status = http.StatusBadRequest
	case "":
		s.log.WithError(err).WithField("path", c.Request.URL.Path).Error("request failed")
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	s.log.WithError(err).WithField("path", c.Request.URL.Path).Warn("request rejected")
	c.JSON(status, gin.H{"error": errorBody(err)})
}

// errorBody extracts the client-safe "label: message" text from an error
// chain, dropping any internal wrapping context.
func errorBody(err error) string {
	var labeled *arcrelay.Error
	if errors.As(err, &labeled) {
		return labeled.Error()
	}
	var insufficient *arcrelay.InsufficientBalanceError
	if errors.As(err, &insufficient) {
		return insufficient.Error()
	}
	return "internal error"
}

// paymentFromHeader decodes the X-PAYMENT (or X-TOKEN) request header.
// Both carry the same base64 payload; absence is not an error.
func paymentFromHeader(c *gin.Context) (*arcrelay.PaymentPayload, error) {
	header := c.GetHeader(arcrelay.HeaderPayment)
	if header == "" {
		header = c.GetHeader(arcrelay.HeaderToken)
	}
	if header == "" {
		return nil, nil
	}
	return arcrelay.DecodePaymentHeader(header)
}
