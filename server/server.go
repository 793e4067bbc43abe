// Package server exposes the facilitator over HTTP.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	facilitator "github.com/vitwit/x402-facilitator"
	"github.com/vitwit/x402-facilitator/logger"
	"github.com/vitwit/x402-facilitator/types"
)

// Server routes x402 facilitator requests: verification, settlement,
// capability discovery and health.
type Server struct {
	facilitator *facilitator.Facilitator
	log         logger.Logger
	engine      *gin.Engine

	// Demo resource payment terms, empty when the endpoint is disabled.
	resourcePayTo string
	resourceAsset string
}

type Option func(*Server)

// WithDemoResource enables GET /api/data, a paid test resource priced
// in the given asset and payable to the escrow account.
func WithDemoResource(payTo, asset string) Option {
	return func(s *Server) {
		s.resourcePayTo = payTo
		s.resourceAsset = asset
	}
}

func New(f *facilitator.Facilitator, log logger.Logger, opts ...Option) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		facilitator: f,
		log:         log,
		engine:      gin.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine.Use(gin.Recovery(), cors())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.POST("/verify", s.handleVerify)
	s.engine.GET("/verify", s.describeVerify)
	s.engine.POST("/settle", s.handleSettle)
	s.engine.GET("/settle", s.describeSettle)
	s.engine.GET("/supported", s.handleSupported)
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/api", s.handleAPIInfo)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if s.resourcePayTo != "" {
		s.engine.GET("/api/data", s.handleDemoResource)
	}
}

// Handler exposes the underlying http.Handler for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run blocks serving HTTP on the given address.
func (s *Server) Run(addr string) error {
	s.log.Info("facilitator listening", map[string]any{"addr": addr})
	return s.engine.Run(addr)
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

func (s *Server) handleVerify(c *gin.Context) {
	req, ok := s.bindRequest(c)
	if !ok {
		return
	}

	resp, err := s.facilitator.Verify(c.Request.Context(), req)
	if err != nil {
		s.log.Error("verify failed", map[string]any{"error": err.Error()})
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSettle(c *gin.Context) {
	req, ok := s.bindRequest(c)
	if !ok {
		return
	}

	result, err := s.facilitator.Settle(c.Request.Context(), req)
	if err != nil {
		s.log.Error("settle failed", map[string]any{"error": err.Error()})
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) bindRequest(c *gin.Context) (*types.VerifyRequest, bool) {
	var req types.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return nil, false
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return nil, false
	}
	return &req, true
}

func (s *Server) describeVerify(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"endpoint":    "/verify",
		"description": "POST to verify x402 payments",
		"body": gin.H{
			"paymentPayload":      "PaymentPayload",
			"paymentRequirements": "PaymentRequirements",
		},
	})
}

func (s *Server) describeSettle(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"endpoint":    "/settle",
		"description": "POST to settle x402 payments",
		"body": gin.H{
			"paymentPayload":      "PaymentPayload",
			"paymentRequirements": "PaymentRequirements",
		},
	})
}

func (s *Server) handleSupported(c *gin.Context) {
	c.JSON(http.StatusOK, s.facilitator.Supported())
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleAPIInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "x402 Facilitator",
		"version":     "1.0.0",
		"description": "A standalone x402 payment protocol facilitator",
		"endpoints": gin.H{
			"/health":    "Health check endpoint",
			"/supported": "GET - Returns supported payment kinds",
			"/verify":    "GET/POST - Verify x402 payment payloads",
			"/settle":    "GET/POST - Settle x402 payments",
			"/metrics":   "GET - Prometheus metrics",
		},
		"documentation": "https://x402.org",
	})
}
