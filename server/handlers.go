package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/veritaslabs/oracle402/metrics"
	"github.com/veritaslabs/oracle402/oracle"
	"github.com/veritaslabs/oracle402/paymentstore"
	"github.com/veritaslabs/oracle402/x402"
)

type createRequestBody struct {
	Creator                string `json:"creator" binding:"required"`
	Question               string `json:"question" binding:"required"`
	AnswerType             string `json:"answerType" binding:"required"`
	RewardAmount           uint64 `json:"rewardAmount" binding:"required"`
	BondAmount             uint64 `json:"bondAmount" binding:"required"`
	ExpiryTimestamp        int64  `json:"expiryTimestamp" binding:"required"`
	ChallengePeriodSeconds uint64 `json:"challengePeriodSeconds" binding:"required"`
	DataSource             string `json:"dataSource"`
	Metadata               string `json:"metadata"`
}

func (s *Server) handleCreateRequest(c *gin.Context) {
	var body createRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": x402.ErrorBody{Code: oracle.CodeMissingFields, Message: err.Error()},
		})
		return
	}

	pay := payment(c)
	res, err := s.engine.Create(c.Request.Context(), oracle.CreateParams{
		Creator:                body.Creator,
		Question:               body.Question,
		AnswerType:             oracle.AnswerType(body.AnswerType),
		RewardAmount:           body.RewardAmount,
		BondAmount:             body.BondAmount,
		ExpiryTimestamp:        time.Unix(body.ExpiryTimestamp, 0).UTC(),
		ChallengePeriodSeconds: body.ChallengePeriodSeconds,
		DataSource:             body.DataSource,
		Metadata:               body.Metadata,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	// Antispam bonds come back if nobody ever disputes the request.
	rec := s.recordPayment(c, res.Request.ID, paymentstore.TypeAntispam, pay, true)
	metrics.RequestsCreated.Inc()

	c.JSON(http.StatusCreated, gin.H{
		"requestId":     res.Request.ID,
		"request":       res.Request,
		"escrowAddress": res.EscrowAddress,
		"txRef":         res.TxRef,
		"paymentId":     rec.ID,
	})
}

type proposeBody struct {
	Proposer string `json:"proposer" binding:"required"`
	Answer   string `json:"answer" binding:"required"`
}

func (s *Server) handlePropose(c *gin.Context) {
	requestID, ok := s.pathRequestID(c)
	if !ok {
		return
	}
	var body proposeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": x402.ErrorBody{Code: oracle.CodeMissingFields, Message: err.Error()},
		})
		return
	}

	pay := payment(c)
	res, err := s.engine.Propose(c.Request.Context(), requestID, body.Proposer, body.Answer)
	if err != nil {
		s.writeError(c, err)
		return
	}

	rec := s.recordPayment(c, requestID, paymentstore.TypeBond, pay, false)
	s.recordSecondary(c, requestID, pay)
	metrics.Proposals.Inc()

	c.JSON(http.StatusCreated, gin.H{
		"requestId":        requestID,
		"proposalTime":     res.ProposalTime,
		"challengeEndTime": res.ChallengeEndTime,
		"bondTxRef":        res.BondTxRef,
		"paymentId":        rec.ID,
	})
}

type disputeBody struct {
	Disputer         string `json:"disputer" binding:"required"`
	CounterAnswer    string `json:"counterAnswer"`
	ResolutionBounty uint64 `json:"resolutionBounty"`
}

func (s *Server) handleDispute(c *gin.Context) {
	requestID, ok := s.pathRequestID(c)
	if !ok {
		return
	}
	var body disputeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": x402.ErrorBody{Code: oracle.CodeMissingFields, Message: err.Error()},
		})
		return
	}

	pay := payment(c)
	res, err := s.engine.Dispute(c.Request.Context(), oracle.DisputeParams{
		RequestID:        requestID,
		Disputer:         body.Disputer,
		CounterAnswer:    body.CounterAnswer,
		ResolutionBounty: body.ResolutionBounty,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	rec := s.recordPayment(c, requestID, paymentstore.TypeBond, pay, false)
	s.recordSecondary(c, requestID, pay)
	metrics.Disputes.Inc()

	c.JSON(http.StatusCreated, gin.H{
		"requestId":   requestID,
		"disputeTime": res.DisputeTime,
		"bondTxRef":   res.BondTxRef,
		"paymentId":   rec.ID,
	})
}

func (s *Server) handleResolveUndisputed(c *gin.Context) {
	requestID, ok := s.pathRequestID(c)
	if !ok {
		return
	}

	res, err := s.engine.ResolveUndisputed(c.Request.Context(), requestID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	refunded := s.refundAntispam(c, requestID)
	metrics.Resolutions.WithLabelValues("undisputed").Inc()

	c.JSON(http.StatusOK, gin.H{
		"request":          res.Request,
		"transfers":        res.Transfers,
		"antispamRefunded": refunded,
	})
}

type resolveDisputeBody struct {
	Winner string `json:"winner" binding:"required"`
}

func (s *Server) handleResolveDisputed(c *gin.Context) {
	requestID, ok := s.pathRequestID(c)
	if !ok {
		return
	}
	var body resolveDisputeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": x402.ErrorBody{Code: oracle.CodeMissingFields, Message: err.Error()},
		})
		return
	}

	res, err := s.engine.ResolveDisputed(c.Request.Context(), requestID, oracle.Party(body.Winner))
	if err != nil {
		s.writeError(c, err)
		return
	}

	s.settleBondRecords(c, res.Request)
	metrics.Resolutions.WithLabelValues("disputed").Inc()

	c.JSON(http.StatusOK, gin.H{
		"request":   res.Request,
		"transfers": res.Transfers,
		"winner":    res.Request.Winner,
	})
}

type cancelBody struct {
	Caller string `json:"caller" binding:"required"`
}

func (s *Server) handleCancel(c *gin.Context) {
	requestID, ok := s.pathRequestID(c)
	if !ok {
		return
	}
	var body cancelBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": x402.ErrorBody{Code: oracle.CodeMissingFields, Message: err.Error()},
		})
		return
	}

	res, err := s.engine.Cancel(c.Request.Context(), requestID, body.Caller)
	if err != nil {
		s.writeError(c, err)
		return
	}

	refunded := s.refundAntispam(c, requestID)
	metrics.Resolutions.WithLabelValues("cancelled").Inc()

	c.JSON(http.StatusOK, gin.H{
		"request":          res.Request,
		"transfers":        res.Transfers,
		"antispamRefunded": refunded,
	})
}

func (s *Server) handleGetRequest(c *gin.Context) {
	requestID, ok := s.pathRequestID(c)
	if !ok {
		return
	}
	req, err := s.engine.Get(requestID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (s *Server) handleListRequests(c *gin.Context) {
	status := oracle.Status(c.Query("status"))
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": x402.ErrorBody{Code: "INVALID_LIMIT", Message: "limit must be a non-negative integer"},
			})
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, gin.H{"requests": s.engine.List(status, limit)})
}

func (s *Server) handleListPayments(c *gin.Context) {
	requestID, ok := s.pathRequestID(c)
	if !ok {
		return
	}
	records, err := s.payments.ListByRequest(c.Request.Context(), requestID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": records})
}

func (s *Server) handleRate(c *gin.Context) {
	info := s.converter.GetRate(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"price":      info.Price.String(),
		"confidence": info.Confidence,
		"timestamp":  info.Timestamp,
		"source":     info.Source,
		"degraded":   info.Degraded(),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	facilitatorUp := true
	if err := s.facilitator.Health(c.Request.Context()); err != nil {
		facilitatorUp = false
	}

	status := http.StatusOK
	state := "ok"
	if !facilitatorUp {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"status":      state,
		"facilitator": facilitatorUp,
		"stats":       s.engine.Snapshot(),
	})
}

func (s *Server) pathRequestID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": x402.ErrorBody{Code: "INVALID_REQUEST_ID", Message: "request id must be a positive integer"},
		})
		return 0, false
	}
	return id, true
}

// recordPayment persists the settled payment as a verified record. Record
// failures never roll back the operation; they are logged and the operation's
// response still carries the record id when one was written.
func (s *Server) recordPayment(c *gin.Context, requestID uint64, typ paymentstore.Type, pay verifiedPayment, refundable bool) paymentstore.Record {
	rec := paymentstore.NewRecord(requestID, typ, pay.Amount, pay.Proof.Payload.Asset, pay.Payer, s.treasury, refundable)
	if rec.Asset == "" {
		rec.Asset = s.asset
	}
	if err := s.payments.Save(c.Request.Context(), rec); err != nil {
		s.log.WithError(err).WithField("requestId", requestID).Error("failed to save payment record")
		return rec
	}
	updated, err := s.payments.Advance(c.Request.Context(), rec.ID, paymentstore.StatusVerified, pay.SettleTxRef)
	if err != nil {
		s.log.WithError(err).WithField("paymentId", rec.ID).Error("failed to mark payment verified")
		return rec
	}
	return updated
}

// recordSecondary writes tip, stake or bounty records for the optional
// second payment line declared on the request.
func (s *Server) recordSecondary(c *gin.Context, requestID uint64, pay verifiedPayment) {
	for query, typ := range map[string]paymentstore.Type{
		"priorityTip":      paymentstore.TypeTip,
		"reputationStake":  paymentstore.TypeStake,
		"resolutionBounty": paymentstore.TypeBounty,
	} {
		raw := c.Query(query)
		if raw == "" {
			continue
		}
		amount, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || amount == 0 {
			continue
		}
		rec := paymentstore.NewRecord(requestID, typ, amount, s.asset, pay.Payer, s.treasury, false)
		if err := s.payments.Save(c.Request.Context(), rec); err != nil {
			s.log.WithError(err).Error("failed to save secondary payment record")
			continue
		}
		if _, err := s.payments.Advance(c.Request.Context(), rec.ID, paymentstore.StatusVerified, pay.SettleTxRef); err != nil {
			s.log.WithError(err).Error("failed to mark secondary payment verified")
		}
	}
}

// refundAntispam returns the creator's antispam bond through the facilitator
// once the request's outcome entitles them to it. Nothing-to-refund counts as
// done; a facilitator failure leaves the record verified for a later retry.
func (s *Server) refundAntispam(c *gin.Context, requestID uint64) bool {
	ctx := c.Request.Context()
	records, err := s.payments.ListByRequest(ctx, requestID)
	if err != nil {
		s.log.WithError(err).Error("failed to list payment records for refund")
		return false
	}

	for _, rec := range records {
		if rec.Type != paymentstore.TypeAntispam || !rec.Refundable || rec.Status != paymentstore.StatusVerified {
			continue
		}
		resp, err := s.facilitator.Refund(ctx, rec.LedgerTxRef)
		if err != nil {
			s.log.WithError(err).WithField("paymentId", rec.ID).Warn("antispam refund failed, will remain claimable")
			return false
		}
		if !resp.Refunded && !resp.NothingToRefund {
			s.log.WithField("paymentId", rec.ID).WithField("reason", resp.ErrorReason).Warn("facilitator declined antispam refund")
			return false
		}
		if _, err := s.payments.Advance(ctx, rec.ID, paymentstore.StatusRefunded, resp.TxRef); err != nil &&
			!errors.Is(err, paymentstore.ErrBadTransition) {
			s.log.WithError(err).WithField("paymentId", rec.ID).Error("failed to mark antispam refunded")
		}
		metrics.Payments.WithLabelValues("refund", "refunded").Inc()
		return true
	}
	return false
}

// settleBondRecords advances bond records after a disputed resolution: the
// loser's bond is slashed, the winner's marked refunded (returned via the
// escrow payout).
func (s *Server) settleBondRecords(c *gin.Context, req oracle.Request) {
	ctx := c.Request.Context()
	records, err := s.payments.ListByRequest(ctx, req.ID)
	if err != nil {
		s.log.WithError(err).Error("failed to list payment records after resolution")
		return
	}

	winnerAddr := req.Proposal.Proposer
	loserAddr := req.Dispute.Disputer
	if req.Winner == oracle.PartyDisputer {
		winnerAddr, loserAddr = loserAddr, winnerAddr
	}

	for _, rec := range records {
		if rec.Type != paymentstore.TypeBond || rec.Status != paymentstore.StatusVerified {
			continue
		}
		target := paymentstore.StatusRefunded
		if rec.Payer == loserAddr && rec.Payer != winnerAddr {
			target = paymentstore.StatusSlashed
		}
		if _, err := s.payments.Advance(ctx, rec.ID, target, ""); err != nil {
			s.log.WithError(err).WithField("paymentId", rec.ID).Error("failed to advance bond record")
		}
	}
}
