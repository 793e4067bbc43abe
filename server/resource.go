package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vitwit/x402-facilitator/types"
)

// demoResourcePrice is 0.01 USDC in atomic units.
const demoResourcePrice = "10000"

func (s *Server) demoRequirements() types.PaymentRequirements {
	return types.PaymentRequirements{
		Scheme:            string(types.SchemeExact),
		Network:           types.NetworkBase.String(),
		MaxAmountRequired: demoResourcePrice,
		Resource:          "https://example.com/api/data",
		Description:       "Test API data access",
		MimeType:          "application/json",
		PayTo:             s.resourcePayTo,
		MaxTimeoutSeconds: 3600,
		Asset:             s.resourceAsset,
	}
}

// handleDemoResource walks the full x402 flow for one test resource:
// no X-PAYMENT header yields 402 with the payment terms, a payment
// header is verified and settled before the resource is served.
func (s *Server) handleDemoResource(c *gin.Context) {
	reqs := s.demoRequirements()

	header := c.GetHeader("X-PAYMENT")
	if header == "" {
		c.JSON(http.StatusPaymentRequired, gin.H{
			"x402Version": types.X402Version,
			"accepts":     []types.PaymentRequirements{reqs},
		})
		return
	}

	var payload types.PaymentPayload
	if err := json.Unmarshal([]byte(header), &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payment header", "details": err.Error()})
		return
	}

	req := &types.VerifyRequest{
		X402Version:         types.X402Version,
		PaymentPayload:      payload,
		PaymentRequirements: reqs,
	}

	verifyResult, err := s.facilitator.Verify(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payment header", "details": err.Error()})
		return
	}
	if !verifyResult.IsValid {
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":  "Payment verification failed",
			"reason": verifyResult.InvalidReason,
		})
		return
	}

	settleResult, err := s.facilitator.Settle(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Payment settlement failed", "details": err.Error()})
		return
	}
	if !settleResult.Success {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Payment settlement failed", "details": settleResult})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Payment verified and settled! Here's your data:",
		"data": gin.H{
			"timestamp":       time.Now().UTC().Format(time.RFC3339),
			"paymentVerified": true,
			"paymentSettled":  true,
			"transactionHash": settleResult.Transaction,
		},
	})
}
