package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/veritaslabs/oracle402/metrics"
	"github.com/veritaslabs/oracle402/x402"
	"github.com/veritaslabs/oracle402/x402/encoding"
)

// paymentContextKey is the gin context key holding the verified payment.
const paymentContextKey = "oracle402_payment"

// verifiedPayment is what a gated handler receives after the middleware has
// verified and settled the caller's payment.
type verifiedPayment struct {
	Proof       x402.PaymentProof
	Payer       string
	VerifyTxRef string
	SettleTxRef string
	Amount      uint64
}

// payment returns the verified payment stored by requirePayment.
func payment(c *gin.Context) verifiedPayment {
	v, _ := c.Get(paymentContextKey)
	p, _ := v.(verifiedPayment)
	return p
}

// requirePayment gates an operation behind the 402 exchange: no proof yields
// a 402 challenge naming the operation's bond; a proof is decoded, checked
// against the replay cache, verified and settled with the facilitator before
// the handler runs. Fails closed on every path.
func (s *Server) requirePayment(kind x402.OperationKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var requestID uint64
		if kind != x402.OpCreateRequest {
			id, err := strconv.ParseUint(c.Param("id"), 10, 64)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error": x402.ErrorBody{Code: "INVALID_REQUEST_ID", Message: "request id must be a positive integer"},
				})
				return
			}
			requestID = id
		}

		requirements, ok := s.buildRequirements(c, kind, requestID)
		if !ok {
			return
		}

		header := c.GetHeader(x402.HeaderName)
		if header == "" {
			metrics.PaymentChallenges.Inc()
			c.AbortWithStatusJSON(http.StatusPaymentRequired, x402.PaymentRequiredBody{
				Error: x402.ErrorBody{
					Code:    string(x402.ErrCodePaymentRequired),
					Message: "payment required: " + requirements.Description,
				},
				PaymentRequirements: requirements,
			})
			return
		}

		proof, err := encoding.DecodeProof(header)
		if err != nil {
			code := x402.ErrCodeMalformedHeader
			if errors.Is(err, x402.ErrUnsupportedVersion) {
				code = x402.ErrCodeVerificationFailed
			}
			s.rejectPayment(c, kind, code, "payment header could not be decoded")
			return
		}

		// The proof's signature is reserved in the replay cache before any
		// facilitator I/O, so a concurrent duplicate cannot settle twice.
		// The reservation is dropped again if verification or settlement
		// does not succeed.
		replayKey := proof.Signature
		if seen, _ := s.replay.ContainsOrAdd(replayKey, struct{}{}); seen {
			s.rejectPayment(c, kind, x402.ErrCodeVerificationFailed, "payment proof already used")
			return
		}

		scheme := requirements.Schemes[0]
		verifyResp, err := s.facilitator.Verify(c.Request.Context(), proof, scheme)
		if err != nil {
			s.replay.Remove(replayKey)
			s.facilitatorFailure(c, kind, err, "verification")
			return
		}
		if !verifyResp.IsValid {
			s.replay.Remove(replayKey)
			reason := verifyResp.InvalidReason
			if reason == "" {
				reason = "payment proof rejected"
			}
			s.rejectPayment(c, kind, x402.ErrCodeVerificationFailed, reason)
			return
		}

		settleResp, err := s.facilitator.Settle(c.Request.Context(), proof, scheme)
		if err != nil {
			s.replay.Remove(replayKey)
			s.facilitatorFailure(c, kind, err, "settlement")
			return
		}
		if !settleResp.Success {
			s.replay.Remove(replayKey)
			reason := settleResp.ErrorReason
			if reason == "" {
				reason = "payment settlement rejected"
			}
			s.rejectPayment(c, kind, x402.ErrCodeVerificationFailed, reason)
			return
		}

		metrics.Payments.WithLabelValues(string(kind), "settled").Inc()

		payer := verifyResp.Payer
		if payer == "" {
			payer = proof.Payload.From
		}
		amount, perr := strconv.ParseUint(proof.Payload.Amount, 10, 64)
		if perr != nil {
			s.log.WithFields(logrus.Fields{
				"operation": kind,
				"amount":    proof.Payload.Amount,
			}).Warn("settled payment declares a non-numeric amount, recording zero")
		}

		c.Set(paymentContextKey, verifiedPayment{
			Proof:       proof,
			Payer:       payer,
			VerifyTxRef: verifyResp.TxRef,
			SettleTxRef: settleResp.TxRef,
			Amount:      amount,
		})
		c.Next()
	}
}

// buildRequirements produces the challenge for an operation. Propose names
// the request's own bond amount; dispute mirrors the proposer's bond when
// that exceeds the configured minimum. Optional secondary lines come from
// query parameters.
func (s *Server) buildRequirements(c *gin.Context, kind x402.OperationKind, requestID uint64) (x402.PaymentRequirements, bool) {
	resource := c.Request.Method + " " + c.Request.URL.Path
	secondary := secondaryFromQuery(c, kind)
	customAmount := ""
	if kind == x402.OpCreateRequest {
		customAmount = c.Query("antispamAmount")
	}

	requirements, err := s.builder.Build(kind, resource, customAmount, requestID, secondary)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": x402.ErrorBody{Code: "INVALID_PAYMENT_PARAMS", Message: err.Error()},
		})
		return x402.PaymentRequirements{}, false
	}

	switch kind {
	case x402.OpProposeAnswer:
		req, gerr := s.engine.Get(requestID)
		if gerr != nil {
			s.writeError(c, gerr)
			return x402.PaymentRequirements{}, false
		}
		requirements.Schemes[0].Amount = strconv.FormatUint(req.BondAmount, 10)
	case x402.OpDisputeAnswer:
		req, gerr := s.engine.Get(requestID)
		if gerr != nil {
			s.writeError(c, gerr)
			return x402.PaymentRequirements{}, false
		}
		requirements.Schemes[0].Amount = s.builder.DisputeBond(strconv.FormatUint(req.BondAmount, 10))
	}
	return requirements, true
}

func secondaryFromQuery(c *gin.Context, kind x402.OperationKind) *x402.SecondaryLine {
	switch kind {
	case x402.OpProposeAnswer:
		if tip := c.Query("priorityTip"); tip != "" {
			return &x402.SecondaryLine{Kind: x402.SecondaryPriorityTip, Amount: tip}
		}
		if stake := c.Query("reputationStake"); stake != "" {
			return &x402.SecondaryLine{Kind: x402.SecondaryReputationStake, Amount: stake}
		}
	case x402.OpDisputeAnswer:
		if bounty := c.Query("resolutionBounty"); bounty != "" {
			return &x402.SecondaryLine{Kind: x402.SecondaryResolutionBounty, Amount: bounty}
		}
	}
	return nil
}

func (s *Server) rejectPayment(c *gin.Context, kind x402.OperationKind, code x402.ErrorCode, message string) {
	metrics.Payments.WithLabelValues(string(kind), "rejected").Inc()
	s.log.WithFields(logrus.Fields{"operation": kind, "code": code}).Warn(message)
	c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
		"error": x402.ErrorBody{Code: string(code), Message: message},
	})
}

// facilitatorFailure maps facilitator transport errors. Unavailability is the
// caller's cue to retry later; an explicit rejection is not.
func (s *Server) facilitatorFailure(c *gin.Context, kind x402.OperationKind, err error, stage string) {
	if errors.Is(err, x402.ErrFacilitatorUnavailable) {
		metrics.Payments.WithLabelValues(string(kind), "unavailable").Inc()
		s.log.WithError(err).Warnf("facilitator unreachable during %s", stage)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"error": x402.ErrorBody{
				Code:    string(x402.ErrCodeFacilitatorUnavailable),
				Message: "payment facilitator is unavailable, retry later",
			},
		})
		return
	}
	s.rejectPayment(c, kind, x402.ErrCodeVerificationFailed, "payment "+stage+" failed")
}
