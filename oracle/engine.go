package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/veritaslabs/oracle402/ledger"
	"github.com/veritaslabs/oracle402/retry"
)

// EngineConfig tunes the lifecycle engine.
type EngineConfig struct {
	// Retry bounds replays of failed ledger calls. Zero value falls back to
	// retry.DefaultConfig.
	Retry retry.Config

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Engine owns all Request, Proposal and Dispute state. Each request carries
// its own mutex; transitions check the current status under that mutex and
// never read-then-write, so at most one proposal and one dispute can ever be
// accepted per request regardless of how calls race.
type Engine struct {
	ledger ledger.Ledger
	cfg    EngineConfig
	log    *logrus.Entry

	mu       sync.RWMutex
	requests map[uint64]*requestState
	nextID   uint64
}

// requestState wraps a request with its serialization point. inflight marks
// a transition that has passed its guards and is waiting on the ledger;
// competing transitions observe it and conflict instead of double-locking
// funds. pending holds the payout legs of a terminal request until every leg
// is confirmed released, so a retry after a partial payout failure can finish
// the job instead of stranding escrowed funds.
type requestState struct {
	mu       sync.Mutex
	inflight bool
	req      Request
	pending  []payoutLeg
}

// NewEngine creates an engine over the given escrow ledger.
func NewEngine(l ledger.Ledger, cfg EngineConfig) *Engine {
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Engine{
		ledger:   l,
		cfg:      cfg,
		log:      logrus.WithField("component", "oracle"),
		requests: make(map[uint64]*requestState),
	}
}

func (e *Engine) now() time.Time { return e.cfg.Clock() }

// lockFunds calls ledger.Lock with bounded retries on unavailability.
func (e *Engine) lockFunds(ctx context.Context, escrow string, amount uint64, nonce string) (string, error) {
	return retry.WithRetry(ctx, e.cfg.Retry, func(err error) bool {
		return errors.Is(err, ledger.ErrUnavailable)
	}, func() (string, error) {
		return e.ledger.Lock(ctx, escrow, amount, nonce)
	})
}

func (e *Engine) releaseFunds(ctx context.Context, escrow, recipient string, amount uint64, nonce string) (string, error) {
	return retry.WithRetry(ctx, e.cfg.Retry, func(err error) bool {
		return errors.Is(err, ledger.ErrUnavailable)
	}, func() (string, error) {
		return e.ledger.Release(ctx, escrow, recipient, amount, nonce)
	})
}

// CreateParams are the inputs to Create, already payment-authorized by the
// caller.
type CreateParams struct {
	Creator                string
	Question               string
	AnswerType             AnswerType
	RewardAmount           uint64
	BondAmount             uint64
	ExpiryTimestamp        time.Time
	ChallengePeriodSeconds uint64
	DataSource             string
	Metadata               string
}

// CreateResult is returned on successful request creation.
type CreateResult struct {
	Request       Request
	EscrowAddress string
	TxRef         string
}

// Create validates params, allocates the next request id, locks the reward
// and creator bond into the request escrow, and records the request as
// Created. Validation is rejected before any ledger I/O.
func (e *Engine) Create(ctx context.Context, p CreateParams) (CreateResult, error) {
	if err := validateCreate(p, e.now()); err != nil {
		return CreateResult{}, err
	}

	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.mu.Unlock()

	escrow, err := e.ledger.DeriveEscrowAddress(ledger.EscrowRequest, id)
	if err != nil {
		return CreateResult{}, ledgerError("derive", err)
	}

	total := p.RewardAmount + p.BondAmount
	txRef, err := e.lockFunds(ctx, escrow, total, fmt.Sprintf("req%d-create", id))
	if err != nil {
		return CreateResult{}, ledgerError("lock", err)
	}

	req := Request{
		ID:                     id,
		Creator:                p.Creator,
		Question:               p.Question,
		AnswerType:             p.AnswerType,
		RewardAmount:           p.RewardAmount,
		BondAmount:             p.BondAmount,
		ExpiryTimestamp:        p.ExpiryTimestamp,
		ChallengePeriodSeconds: p.ChallengePeriodSeconds,
		Status:                 StatusCreated,
		DataSource:             p.DataSource,
		Metadata:               p.Metadata,
		EscrowAddress:          escrow,
		CreatedAt:              e.now().UTC(),
	}

	e.mu.Lock()
	e.requests[id] = &requestState{req: req}
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"requestId": id,
		"creator":   p.Creator,
		"reward":    p.RewardAmount,
		"bond":      p.BondAmount,
	}).Info("request created")

	return CreateResult{Request: req, EscrowAddress: escrow, TxRef: txRef}, nil
}

func validateCreate(p CreateParams, now time.Time) *Error {
	if p.Creator == "" || p.Question == "" {
		return validationError(CodeMissingFields, "creator and question are required")
	}
	if len(p.Question) > MaxQuestionLen {
		return validationError(CodeQuestionTooLong, "question exceeds %d characters", MaxQuestionLen)
	}
	if !ValidAnswerType(p.AnswerType) {
		return validationError(CodeInvalidAnswerType, "answerType must be YesNo, MultipleChoice or Numeric")
	}
	if p.RewardAmount == 0 || p.BondAmount == 0 {
		return validationError(CodeInvalidAmount, "rewardAmount and bondAmount must be positive")
	}
	if _, carry := bits.Add64(p.RewardAmount, p.BondAmount, 0); carry != 0 {
		return validationError(CodeInvalidAmount, "rewardAmount plus bondAmount exceeds the maximum escrowable amount")
	}
	if p.ChallengePeriodSeconds < MinChallengePeriodSeconds || p.ChallengePeriodSeconds > MaxChallengePeriodSeconds {
		return validationError(CodeInvalidChallengePd,
			"challengePeriodSeconds must be between %d and %d", MinChallengePeriodSeconds, MaxChallengePeriodSeconds)
	}
	if !p.ExpiryTimestamp.After(now) {
		return validationError(CodeInvalidExpiry, "expiryTimestamp must be in the future")
	}
	return nil
}

// ProposeResult is returned on successful answer proposal.
type ProposeResult struct {
	Request          Request
	ProposalTime     time.Time
	ChallengeEndTime time.Time
	BondTxRef        string
	EscrowAddress    string
}

// Propose records the first answer for a request past its expiry. Exactly one
// proposal wins under concurrent submission; later callers get a conflict.
func (e *Engine) Propose(ctx context.Context, requestID uint64, proposer, answer string) (ProposeResult, error) {
	if proposer == "" || answer == "" {
		return ProposeResult{}, validationError(CodeMissingFields, "proposer and answer are required")
	}

	state, err := e.state(requestID)
	if err != nil {
		return ProposeResult{}, err
	}

	state.mu.Lock()
	req := state.req
	if verr := validateAnswer(req.AnswerType, answer); verr != nil {
		state.mu.Unlock()
		return ProposeResult{}, verr
	}
	if req.Status != StatusCreated || state.inflight {
		state.mu.Unlock()
		return ProposeResult{}, proposeConflict(req.Status)
	}
	now := e.now()
	if now.Before(req.ExpiryTimestamp) {
		state.mu.Unlock()
		return ProposeResult{}, conflictError(CodeRequestNotExpired,
			"request %d accepts proposals from %s", requestID, req.ExpiryTimestamp.UTC().Format(time.RFC3339))
	}
	state.inflight = true
	state.mu.Unlock()

	escrow, derr := e.ledger.DeriveEscrowAddress(ledger.EscrowProposal, requestID)
	var txRef string
	if derr == nil {
		txRef, derr = e.lockFunds(ctx, escrow, req.BondAmount, fmt.Sprintf("req%d-propose", requestID))
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	state.inflight = false
	if derr != nil {
		return ProposeResult{}, ledgerError("lock", derr)
	}

	proposalTime := e.now().UTC()
	challengeEnd := proposalTime.Add(time.Duration(req.ChallengePeriodSeconds) * time.Second)
	state.req.Proposal = &Proposal{
		Answer:           answer,
		Proposer:         proposer,
		BondAmount:       req.BondAmount,
		ProposalTime:     proposalTime,
		ChallengeEndTime: challengeEnd,
		BondTxRef:        txRef,
	}
	state.req.Status = StatusProposed

	e.log.WithFields(logrus.Fields{
		"requestId":      requestID,
		"proposer":       proposer,
		"challengeEndAt": challengeEnd.Format(time.RFC3339),
	}).Info("answer proposed")

	return ProposeResult{
		Request:          state.req,
		ProposalTime:     proposalTime,
		ChallengeEndTime: challengeEnd,
		BondTxRef:        txRef,
		EscrowAddress:    escrow,
	}, nil
}

func proposeConflict(status Status) *Error {
	if status == StatusCreated {
		return conflictError(CodeAlreadyProposed, "a proposal for this request is already in flight")
	}
	return conflictError(CodeAlreadyProposed, "request is %s, proposals are closed", status)
}

// DisputeParams are the inputs to Dispute.
type DisputeParams struct {
	RequestID        uint64
	Disputer         string
	CounterAnswer    string
	ResolutionBounty uint64
}

// DisputeResult is returned on successful dispute.
type DisputeResult struct {
	Request       Request
	DisputeTime   time.Time
	BondTxRef     string
	EscrowAddress string
}

// Dispute challenges a proposal inside its challenge window, escrowing a bond
// symmetric with the proposer's. At most one dispute per request.
func (e *Engine) Dispute(ctx context.Context, p DisputeParams) (DisputeResult, error) {
	if p.Disputer == "" {
		return DisputeResult{}, validationError(CodeMissingFields, "disputer is required")
	}
	if len(p.CounterAnswer) > MaxAnswerLen {
		return DisputeResult{}, validationError(CodeAnswerTooLong, "counterAnswer exceeds %d characters", MaxAnswerLen)
	}

	state, err := e.state(p.RequestID)
	if err != nil {
		return DisputeResult{}, err
	}

	state.mu.Lock()
	req := state.req
	if req.Status != StatusProposed || state.inflight {
		state.mu.Unlock()
		return DisputeResult{}, disputeConflict(req.Status)
	}
	if !e.now().Before(req.Proposal.ChallengeEndTime) {
		state.mu.Unlock()
		return DisputeResult{}, conflictError(CodeChallengeWindowClosed,
			"challenge window for request %d closed at %s",
			p.RequestID, req.Proposal.ChallengeEndTime.Format(time.RFC3339))
	}
	bond := req.Proposal.BondAmount
	state.inflight = true
	state.mu.Unlock()

	escrow, derr := e.ledger.DeriveEscrowAddress(ledger.EscrowDispute, p.RequestID)
	var txRef string
	if derr == nil {
		txRef, derr = e.lockFunds(ctx, escrow, bond, fmt.Sprintf("req%d-dispute", p.RequestID))
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	state.inflight = false
	if derr != nil {
		return DisputeResult{}, ledgerError("lock", derr)
	}

	disputeTime := e.now().UTC()
	state.req.Dispute = &Dispute{
		Disputer:         p.Disputer,
		CounterAnswer:    p.CounterAnswer,
		BondAmount:       bond,
		DisputeTime:      disputeTime,
		ResolutionBounty: p.ResolutionBounty,
		BondTxRef:        txRef,
	}
	state.req.Status = StatusDisputed

	e.log.WithFields(logrus.Fields{
		"requestId": p.RequestID,
		"disputer":  p.Disputer,
		"bond":      bond,
	}).Info("answer disputed")

	return DisputeResult{
		Request:       state.req,
		DisputeTime:   disputeTime,
		BondTxRef:     txRef,
		EscrowAddress: escrow,
	}, nil
}

func disputeConflict(status Status) *Error {
	switch status {
	case StatusProposed:
		return conflictError(CodeAlreadyDisputed, "a dispute for this request is already in flight")
	case StatusDisputed:
		return conflictError(CodeAlreadyDisputed, "request is already disputed")
	default:
		return conflictError(CodeInvalidStatus, "request is %s, disputes are closed", status)
	}
}

// PayoutResult describes the transfers performed by a resolution.
type PayoutResult struct {
	Request   Request
	Transfers []Transfer
}

// Transfer is one escrow release performed during resolution or cancel.
type Transfer struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
	TxRef  string `json:"txRef"`
}

// ResolveUndisputed settles a proposed request whose challenge window has
// elapsed with no dispute. The proposer receives the reward plus their bond
// back; the creator's bond returns to the creator. Payouts run after the
// status is durably Resolved, so a payout failure can never roll the state
// back; calling again on an already Resolved request replays any legs that
// did not complete.
func (e *Engine) ResolveUndisputed(ctx context.Context, requestID uint64) (PayoutResult, error) {
	state, err := e.state(requestID)
	if err != nil {
		return PayoutResult{}, err
	}
	proposalEscrow, derr := e.ledger.DeriveEscrowAddress(ledger.EscrowProposal, requestID)
	if derr != nil {
		return PayoutResult{}, ledgerError("derive", derr)
	}

	state.mu.Lock()
	req := state.req
	if req.Status == StatusResolved {
		return e.finishPayout(ctx, requestID, state)
	}
	if req.Status != StatusProposed || state.inflight {
		state.mu.Unlock()
		return PayoutResult{}, conflictError(CodeInvalidStatus, "request is %s, expected Proposed", req.Status)
	}
	if e.now().Before(req.Proposal.ChallengeEndTime) {
		state.mu.Unlock()
		return PayoutResult{}, conflictError(CodeChallengeWindowOpen,
			"challenge window for request %d is open until %s",
			requestID, req.Proposal.ChallengeEndTime.Format(time.RFC3339))
	}
	state.req.Status = StatusResolved
	state.req.ResolvedAnswer = req.Proposal.Answer
	state.req.Winner = PartyProposer
	state.pending = []payoutLeg{
		{req.EscrowAddress, req.Proposal.Proposer, req.RewardAmount, "resolve-reward"},
		{proposalEscrow, req.Proposal.Proposer, req.Proposal.BondAmount, "resolve-pbond"},
		{req.EscrowAddress, req.Creator, req.BondAmount, "resolve-cbond"},
	}

	out, perr := e.finishPayout(ctx, requestID, state)
	if perr != nil {
		return PayoutResult{}, perr
	}

	e.log.WithFields(logrus.Fields{
		"requestId": requestID,
		"answer":    out.Request.ResolvedAnswer,
	}).Info("request resolved undisputed")
	return out, nil
}

// ResolveDisputed settles a disputed request per an external arbitration
// decision. The winner receives the reward and both bonds; the loser's bond
// is slashed to the winner; the creator's bond returns to the creator.
func (e *Engine) ResolveDisputed(ctx context.Context, requestID uint64, winner Party) (PayoutResult, error) {
	if winner != PartyProposer && winner != PartyDisputer {
		return PayoutResult{}, validationError(CodeMissingFields, "winner must be proposer or disputer")
	}

	state, err := e.state(requestID)
	if err != nil {
		return PayoutResult{}, err
	}
	proposalEscrow, derr := e.ledger.DeriveEscrowAddress(ledger.EscrowProposal, requestID)
	if derr != nil {
		return PayoutResult{}, ledgerError("derive", derr)
	}
	disputeEscrow, derr := e.ledger.DeriveEscrowAddress(ledger.EscrowDispute, requestID)
	if derr != nil {
		return PayoutResult{}, ledgerError("derive", derr)
	}

	state.mu.Lock()
	req := state.req
	if req.Status == StatusResolved {
		// The committed decision stands; a retry only replays its payouts.
		return e.finishPayout(ctx, requestID, state)
	}
	if req.Status != StatusDisputed || state.inflight {
		state.mu.Unlock()
		return PayoutResult{}, conflictError(CodeInvalidStatus, "request is %s, expected Disputed", req.Status)
	}
	state.req.Status = StatusResolved
	state.req.Winner = winner
	if winner == PartyProposer {
		state.req.ResolvedAnswer = req.Proposal.Answer
	} else if req.Dispute.CounterAnswer != "" {
		state.req.ResolvedAnswer = req.Dispute.CounterAnswer
	}

	winnerAddr := req.Proposal.Proposer
	if winner == PartyDisputer {
		winnerAddr = req.Dispute.Disputer
	}
	state.pending = []payoutLeg{
		{req.EscrowAddress, winnerAddr, req.RewardAmount, "resolve-reward"},
		{proposalEscrow, winnerAddr, req.Proposal.BondAmount, "resolve-pbond"},
		{disputeEscrow, winnerAddr, req.Dispute.BondAmount, "resolve-dbond"},
		{req.EscrowAddress, req.Creator, req.BondAmount, "resolve-cbond"},
	}

	out, perr := e.finishPayout(ctx, requestID, state)
	if perr != nil {
		return PayoutResult{}, perr
	}

	e.log.WithFields(logrus.Fields{
		"requestId": requestID,
		"winner":    winner,
	}).Info("request resolved after dispute")
	return out, nil
}

// Cancel aborts a request that nobody has answered yet. Creator only. The
// escrowed reward and bond return to the creator; the antispam payment
// becomes refundable at the payment layer.
func (e *Engine) Cancel(ctx context.Context, requestID uint64, caller string) (PayoutResult, error) {
	if caller == "" {
		return PayoutResult{}, validationError(CodeMissingFields, "caller is required")
	}

	state, err := e.state(requestID)
	if err != nil {
		return PayoutResult{}, err
	}

	state.mu.Lock()
	req := state.req
	if caller != req.Creator {
		state.mu.Unlock()
		return PayoutResult{}, forbiddenError(CodeNotCreator, "only the creator may cancel request %d", requestID)
	}
	if req.Status == StatusCancelled {
		return e.finishPayout(ctx, requestID, state)
	}
	if req.Status != StatusCreated || state.inflight {
		state.mu.Unlock()
		return PayoutResult{}, conflictError(CodeInvalidStatus, "request is %s, only Created requests can be cancelled", req.Status)
	}
	state.req.Status = StatusCancelled
	state.pending = []payoutLeg{
		{req.EscrowAddress, req.Creator, req.RewardAmount + req.BondAmount, "cancel-refund"},
	}

	out, perr := e.finishPayout(ctx, requestID, state)
	if perr != nil {
		return PayoutResult{}, perr
	}

	e.log.WithField("requestId", requestID).Info("request cancelled")
	return out, nil
}

type payoutLeg struct {
	from   string
	to     string
	amount uint64
	tag    string
}

// finishPayout runs the pending payout legs of a terminal request. Called
// with state.mu held and releases it. The legs stay pending until every
// release is confirmed, and the per-leg nonces make replays idempotent, so
// a retry after a partial failure pays out exactly once.
func (e *Engine) finishPayout(ctx context.Context, requestID uint64, state *requestState) (PayoutResult, error) {
	if state.inflight {
		state.mu.Unlock()
		return PayoutResult{}, conflictError(CodeInvalidStatus, "a payout for request %d is already in flight", requestID)
	}
	if len(state.pending) == 0 {
		status := state.req.Status
		state.mu.Unlock()
		return PayoutResult{}, conflictError(CodeInvalidStatus, "request is already %s", status)
	}
	legs := append([]payoutLeg(nil), state.pending...)
	state.inflight = true
	state.mu.Unlock()

	transfers, perr := e.payout(ctx, requestID, legs)

	state.mu.Lock()
	state.inflight = false
	if perr == nil {
		state.pending = nil
	}
	result := state.req
	state.mu.Unlock()

	if perr != nil {
		return PayoutResult{}, perr
	}
	return PayoutResult{Request: result, Transfers: transfers}, nil
}

// payout executes releases in order with per-leg nonces so a retry after a
// partial failure resumes where it left off instead of paying twice.
func (e *Engine) payout(ctx context.Context, requestID uint64, legs []payoutLeg) ([]Transfer, error) {
	transfers := make([]Transfer, 0, len(legs))
	for _, leg := range legs {
		if leg.amount == 0 {
			continue
		}
		nonce := fmt.Sprintf("req%d-%s", requestID, leg.tag)
		txRef, err := e.releaseFunds(ctx, leg.from, leg.to, leg.amount, nonce)
		if err != nil {
			return transfers, ledgerError("release", err)
		}
		transfers = append(transfers, Transfer{From: leg.from, To: leg.to, Amount: leg.amount, TxRef: txRef})
	}
	return transfers, nil
}

// Get returns a point-in-time copy of a request.
func (e *Engine) Get(requestID uint64) (Request, error) {
	state, err := e.state(requestID)
	if err != nil {
		return Request{}, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.req, nil
}

// List returns requests, newest first, optionally filtered by status.
// A zero limit means no bound.
func (e *Engine) List(status Status, limit int) []Request {
	e.mu.RLock()
	states := make([]*requestState, 0, len(e.requests))
	for _, s := range e.requests {
		states = append(states, s)
	}
	e.mu.RUnlock()

	out := make([]Request, 0, len(states))
	for _, s := range states {
		s.mu.Lock()
		req := s.req
		s.mu.Unlock()
		if status != "" && req.Status != status {
			continue
		}
		out = append(out, req)
	}
	// Ids are allocation-ordered, so sorting by id descending is newest first.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].ID > out[j-1].ID; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Stats is a snapshot of engine-wide counters.
type Stats struct {
	RequestCount uint64            `json:"requestCount"`
	ByStatus     map[Status]uint64 `json:"byStatus"`
	LockedVolume uint64            `json:"lockedVolume"`
}

// Snapshot reports the id allocator position, per-status counts, and the
// volume still escrowed by non-terminal requests.
func (e *Engine) Snapshot() Stats {
	e.mu.RLock()
	count := e.nextID
	states := make([]*requestState, 0, len(e.requests))
	for _, s := range e.requests {
		states = append(states, s)
	}
	e.mu.RUnlock()

	stats := Stats{RequestCount: count, ByStatus: make(map[Status]uint64)}
	for _, s := range states {
		s.mu.Lock()
		req := s.req
		s.mu.Unlock()

		stats.ByStatus[req.Status]++
		if req.Status.Terminal() {
			continue
		}
		stats.LockedVolume += req.RewardAmount + req.BondAmount
		if req.Proposal != nil {
			stats.LockedVolume += req.Proposal.BondAmount
		}
		if req.Dispute != nil {
			stats.LockedVolume += req.Dispute.BondAmount
		}
	}
	return stats
}

func (e *Engine) state(requestID uint64) (*requestState, *Error) {
	e.mu.RLock()
	state, ok := e.requests[requestID]
	e.mu.RUnlock()
	if !ok {
		return nil, notFoundError(requestID)
	}
	return state, nil
}

// validateAnswer enforces per-type answer well-formedness.
func validateAnswer(t AnswerType, answer string) *Error {
	if len(answer) > MaxAnswerLen {
		return validationError(CodeAnswerTooLong, "answer exceeds %d characters", MaxAnswerLen)
	}
	switch t {
	case AnswerYesNo:
		if answer != "YES" && answer != "NO" {
			return validationError(CodeInvalidAnswer, "YesNo answers must be YES or NO")
		}
	case AnswerNumeric:
		if _, err := strconv.ParseFloat(strings.TrimSpace(answer), 64); err != nil {
			return validationError(CodeInvalidAnswer, "Numeric answers must parse as a number")
		}
	}
	return nil
}
