package oracle

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/veritaslabs/oracle402/ledger"
)

// testClock is a settable clock shared by a test and its engine.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEngine(t *testing.T) (*Engine, *ledger.MemoryLedger, *testClock) {
	t.Helper()
	clock := newTestClock()
	mem := ledger.NewMemoryLedger("treasury", 10_000_000_000)
	eng := NewEngine(mem, EngineConfig{Clock: clock.Now})
	return eng, mem, clock
}

func validCreateParams(clock *testClock) CreateParams {
	return CreateParams{
		Creator:                "creator-1",
		Question:               "Did it rain in Lisbon on 2026-02-28?",
		AnswerType:             AnswerYesNo,
		RewardAmount:           100_000_000,
		BondAmount:             50_000_000,
		ExpiryTimestamp:        clock.Now().Add(5 * time.Second),
		ChallengePeriodSeconds: 3600,
	}
}

func mustCreate(t *testing.T, eng *Engine, clock *testClock) CreateResult {
	t.Helper()
	res, err := eng.Create(context.Background(), validCreateParams(clock))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return res
}

func TestCreateValidation(t *testing.T) {
	eng, _, clock := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateParams)
		code   string
	}{
		{"missing creator", func(p *CreateParams) { p.Creator = "" }, CodeMissingFields},
		{"missing question", func(p *CreateParams) { p.Question = "" }, CodeMissingFields},
		{"question too long", func(p *CreateParams) {
			long := make([]byte, MaxQuestionLen+1)
			for i := range long {
				long[i] = 'q'
			}
			p.Question = string(long)
		}, CodeQuestionTooLong},
		{"bad answer type", func(p *CreateParams) { p.AnswerType = "Maybe" }, CodeInvalidAnswerType},
		{"zero reward", func(p *CreateParams) { p.RewardAmount = 0 }, CodeInvalidAmount},
		{"zero bond", func(p *CreateParams) { p.BondAmount = 0 }, CodeInvalidAmount},
		{"reward plus bond overflows", func(p *CreateParams) {
			p.RewardAmount = 1 << 63
			p.BondAmount = 1 << 63
		}, CodeInvalidAmount},
		{"challenge period too short", func(p *CreateParams) { p.ChallengePeriodSeconds = 3599 }, CodeInvalidChallengePd},
		{"challenge period too long", func(p *CreateParams) { p.ChallengePeriodSeconds = 604801 }, CodeInvalidChallengePd},
		{"expiry in the past", func(p *CreateParams) { p.ExpiryTimestamp = clock.Now().Add(-time.Second) }, CodeInvalidExpiry},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validCreateParams(clock)
			tc.mutate(&p)
			_, err := eng.Create(ctx, p)
			var oerr *Error
			if !errors.As(err, &oerr) {
				t.Fatalf("err = %v, want *Error", err)
			}
			if oerr.Code != tc.code {
				t.Errorf("code = %s, want %s", oerr.Code, tc.code)
			}
			if oerr.HTTPStatus != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", oerr.HTTPStatus)
			}
		})
	}
}

func TestCreateOverflowingAmountsLockNothing(t *testing.T) {
	eng, mem, clock := newTestEngine(t)
	ctx := context.Background()

	p := validCreateParams(clock)
	p.RewardAmount = 1 << 63
	p.BondAmount = 1 << 63
	_, err := eng.Create(ctx, p)
	var oerr *Error
	if !errors.As(err, &oerr) || oerr.Code != CodeInvalidAmount {
		t.Fatalf("err = %v, want INVALID_AMOUNT", err)
	}

	escrow, _ := mem.DeriveEscrowAddress(ledger.EscrowRequest, 1)
	if bal, _ := mem.Balance(ctx, escrow); bal != 0 {
		t.Errorf("escrow holds %d after rejected create", bal)
	}
	if got := eng.List("", 0); len(got) != 0 {
		t.Errorf("rejected create left %d requests behind", len(got))
	}
}

func TestCreateLocksRewardAndBond(t *testing.T) {
	eng, mem, clock := newTestEngine(t)
	res := mustCreate(t, eng, clock)

	if res.Request.Status != StatusCreated {
		t.Errorf("status = %s, want Created", res.Request.Status)
	}
	if res.Request.ID != 1 {
		t.Errorf("id = %d, want 1", res.Request.ID)
	}
	bal, _ := mem.Balance(context.Background(), res.EscrowAddress)
	if bal != 150_000_000 {
		t.Errorf("escrow balance = %d, want 150000000", bal)
	}
}

func TestRequestIDsStrictlyIncrease(t *testing.T) {
	eng, _, clock := newTestEngine(t)
	var prev uint64
	for i := 0; i < 5; i++ {
		res := mustCreate(t, eng, clock)
		if res.Request.ID <= prev {
			t.Fatalf("id %d not greater than previous %d", res.Request.ID, prev)
		}
		prev = res.Request.ID
	}
}

func TestProposeBeforeExpiryRejected(t *testing.T) {
	eng, _, clock := newTestEngine(t)
	res := mustCreate(t, eng, clock)

	_, err := eng.Propose(context.Background(), res.Request.ID, "proposer-1", "YES")
	var oerr *Error
	if !errors.As(err, &oerr) || oerr.Code != CodeRequestNotExpired {
		t.Fatalf("err = %v, want REQUEST_NOT_EXPIRED", err)
	}
}

func TestProposeAnswerValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("yesno rejects free text", func(t *testing.T) {
		eng, _, clock := newTestEngine(t)
		res := mustCreate(t, eng, clock)
		clock.Advance(10 * time.Second)
		_, err := eng.Propose(ctx, res.Request.ID, "p", "probably")
		var oerr *Error
		if !errors.As(err, &oerr) || oerr.Code != CodeInvalidAnswer {
			t.Fatalf("err = %v, want INVALID_ANSWER", err)
		}
	})

	t.Run("numeric rejects non-number", func(t *testing.T) {
		eng, _, clock := newTestEngine(t)
		p := validCreateParams(clock)
		p.AnswerType = AnswerNumeric
		res, err := eng.Create(ctx, p)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		clock.Advance(10 * time.Second)
		if _, err := eng.Propose(ctx, res.Request.ID, "p", "around forty"); err == nil {
			t.Fatal("expected INVALID_ANSWER")
		}
		if _, err := eng.Propose(ctx, res.Request.ID, "p", "41.5"); err != nil {
			t.Fatalf("numeric answer rejected: %v", err)
		}
	})

	t.Run("answer too long", func(t *testing.T) {
		eng, _, clock := newTestEngine(t)
		p := validCreateParams(clock)
		p.AnswerType = AnswerMultipleChoice
		res, err := eng.Create(ctx, p)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		clock.Advance(10 * time.Second)
		long := make([]byte, MaxAnswerLen+1)
		for i := range long {
			long[i] = 'a'
		}
		_, err = eng.Propose(ctx, res.Request.ID, "p", string(long))
		var oerr *Error
		if !errors.As(err, &oerr) || oerr.Code != CodeAnswerTooLong {
			t.Fatalf("err = %v, want ANSWER_TOO_LONG", err)
		}
	})
}

func TestProposeSetsChallengeWindow(t *testing.T) {
	eng, mem, clock := newTestEngine(t)
	res := mustCreate(t, eng, clock)
	clock.Advance(10 * time.Second)

	prop, err := eng.Propose(context.Background(), res.Request.ID, "proposer-1", "YES")
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	want := prop.ProposalTime.Add(3600 * time.Second)
	if !prop.ChallengeEndTime.Equal(want) {
		t.Errorf("challengeEndTime = %s, want %s", prop.ChallengeEndTime, want)
	}
	if prop.Request.Status != StatusProposed {
		t.Errorf("status = %s, want Proposed", prop.Request.Status)
	}
	bal, _ := mem.Balance(context.Background(), prop.EscrowAddress)
	if bal != 50_000_000 {
		t.Errorf("proposal escrow = %d, want 50000000", bal)
	}
}

func TestConcurrentProposeExactlyOneWins(t *testing.T) {
	eng, _, clock := newTestEngine(t)
	res := mustCreate(t, eng, clock)
	clock.Advance(10 * time.Second)

	const racers = 16
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = eng.Propose(context.Background(), res.Request.ID, "proposer", "YES")
		}(i)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		var oerr *Error
		if errors.As(err, &oerr) && oerr.HTTPStatus == http.StatusConflict {
			conflicts++
		}
	}
	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
	if conflicts != racers-1 {
		t.Errorf("conflicts = %d, want %d", conflicts, racers-1)
	}
}

func TestDisputeInsideWindowOnly(t *testing.T) {
	ctx := context.Background()
	eng, mem, clock := newTestEngine(t)
	res := mustCreate(t, eng, clock)
	clock.Advance(10 * time.Second)
	if _, err := eng.Propose(ctx, res.Request.ID, "proposer-1", "YES"); err != nil {
		t.Fatalf("propose: %v", err)
	}

	// Past the window: rejected, and no bond escrowed.
	clock.Advance(3601 * time.Second)
	_, err := eng.Dispute(ctx, DisputeParams{RequestID: res.Request.ID, Disputer: "disputer-1"})
	var oerr *Error
	if !errors.As(err, &oerr) || oerr.Code != CodeChallengeWindowClosed {
		t.Fatalf("err = %v, want CHALLENGE_WINDOW_CLOSED", err)
	}
	escrow, _ := mem.DeriveEscrowAddress(ledger.EscrowDispute, res.Request.ID)
	if bal, _ := mem.Balance(ctx, escrow); bal != 0 {
		t.Errorf("dispute escrow holds %d after rejected dispute", bal)
	}
}

func TestDisputeBondMirrorsProposerBond(t *testing.T) {
	ctx := context.Background()
	eng, mem, clock := newTestEngine(t)
	res := mustCreate(t, eng, clock)
	clock.Advance(10 * time.Second)
	if _, err := eng.Propose(ctx, res.Request.ID, "proposer-1", "NO"); err != nil {
		t.Fatalf("propose: %v", err)
	}

	clock.Advance(time.Minute)
	dis, err := eng.Dispute(ctx, DisputeParams{
		RequestID:     res.Request.ID,
		Disputer:      "disputer-1",
		CounterAnswer: "YES",
	})
	if err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if dis.Request.Status != StatusDisputed {
		t.Errorf("status = %s, want Disputed", dis.Request.Status)
	}
	if bal, _ := mem.Balance(ctx, dis.EscrowAddress); bal != 50_000_000 {
		t.Errorf("dispute escrow = %d, want 50000000", bal)
	}
}

func TestAtMostOneDispute(t *testing.T) {
	ctx := context.Background()
	eng, _, clock := newTestEngine(t)
	res := mustCreate(t, eng, clock)
	clock.Advance(10 * time.Second)
	if _, err := eng.Propose(ctx, res.Request.ID, "p", "YES"); err != nil {
		t.Fatalf("propose: %v", err)
	}
	clock.Advance(time.Minute)
	if _, err := eng.Dispute(ctx, DisputeParams{RequestID: res.Request.ID, Disputer: "d1"}); err != nil {
		t.Fatalf("first dispute: %v", err)
	}
	_, err := eng.Dispute(ctx, DisputeParams{RequestID: res.Request.ID, Disputer: "d2"})
	var oerr *Error
	if !errors.As(err, &oerr) || oerr.Code != CodeAlreadyDisputed {
		t.Fatalf("err = %v, want ALREADY_DISPUTED", err)
	}
}

func TestResolveUndisputedPaysProposer(t *testing.T) {
	ctx := context.Background()
	eng, mem, clock := newTestEngine(t)
	res := mustCreate(t, eng, clock)
	clock.Advance(10 * time.Second)
	if _, err := eng.Propose(ctx, res.Request.ID, "proposer-1", "YES"); err != nil {
		t.Fatalf("propose: %v", err)
	}

	// Still inside the window.
	_, err := eng.ResolveUndisputed(ctx, res.Request.ID)
	var oerr *Error
	if !errors.As(err, &oerr) || oerr.Code != CodeChallengeWindowOpen {
		t.Fatalf("err = %v, want CHALLENGE_WINDOW_OPEN", err)
	}

	clock.Advance(3601 * time.Second)
	out, err := eng.ResolveUndisputed(ctx, res.Request.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out.Request.Status != StatusResolved {
		t.Errorf("status = %s, want Resolved", out.Request.Status)
	}
	if out.Request.ResolvedAnswer != "YES" {
		t.Errorf("resolvedAnswer = %q, want YES", out.Request.ResolvedAnswer)
	}

	// Reward plus returned proposer bond, exactly.
	if bal, _ := mem.Balance(ctx, "proposer-1"); bal != 150_000_000 {
		t.Errorf("proposer balance = %d, want 150000000", bal)
	}
	// Creator bond comes home.
	if bal, _ := mem.Balance(ctx, "creator-1"); bal != 50_000_000 {
		t.Errorf("creator balance = %d, want 50000000", bal)
	}
	if bal, _ := mem.Balance(ctx, res.EscrowAddress); bal != 0 {
		t.Errorf("request escrow not drained: %d", bal)
	}
}

func TestResolveDisputedWinnerTakesBothBonds(t *testing.T) {
	ctx := context.Background()
	eng, mem, clock := newTestEngine(t)
	res := mustCreate(t, eng, clock)
	clock.Advance(10 * time.Second)
	if _, err := eng.Propose(ctx, res.Request.ID, "proposer-1", "NO"); err != nil {
		t.Fatalf("propose: %v", err)
	}
	clock.Advance(time.Minute)
	if _, err := eng.Dispute(ctx, DisputeParams{
		RequestID:     res.Request.ID,
		Disputer:      "disputer-1",
		CounterAnswer: "YES",
	}); err != nil {
		t.Fatalf("dispute: %v", err)
	}

	out, err := eng.ResolveDisputed(ctx, res.Request.ID, PartyDisputer)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out.Request.Winner != PartyDisputer {
		t.Errorf("winner = %s, want disputer", out.Request.Winner)
	}
	if out.Request.ResolvedAnswer != "YES" {
		t.Errorf("resolvedAnswer = %q, want counter-answer YES", out.Request.ResolvedAnswer)
	}

	// Reward + own bond back + slashed proposer bond.
	if bal, _ := mem.Balance(ctx, "disputer-1"); bal != 200_000_000 {
		t.Errorf("disputer balance = %d, want 200000000", bal)
	}
	if bal, _ := mem.Balance(ctx, "proposer-1"); bal != 0 {
		t.Errorf("slashed proposer balance = %d, want 0", bal)
	}
	if bal, _ := mem.Balance(ctx, "creator-1"); bal != 50_000_000 {
		t.Errorf("creator balance = %d, want 50000000", bal)
	}
}

func TestResolveDisputedRequiresDisputedStatus(t *testing.T) {
	ctx := context.Background()
	eng, _, clock := newTestEngine(t)
	res := mustCreate(t, eng, clock)

	_, err := eng.ResolveDisputed(ctx, res.Request.ID, PartyProposer)
	var oerr *Error
	if !errors.As(err, &oerr) || oerr.Code != CodeInvalidStatus {
		t.Fatalf("err = %v, want INVALID_STATUS", err)
	}
}

func TestCancelCreatorOnly(t *testing.T) {
	ctx := context.Background()
	eng, mem, clock := newTestEngine(t)
	res := mustCreate(t, eng, clock)

	_, err := eng.Cancel(ctx, res.Request.ID, "somebody-else")
	var oerr *Error
	if !errors.As(err, &oerr) || oerr.Code != CodeNotCreator {
		t.Fatalf("err = %v, want NOT_CREATOR", err)
	}
	if oerr.HTTPStatus != http.StatusForbidden {
		t.Errorf("status = %d, want 403", oerr.HTTPStatus)
	}

	out, err := eng.Cancel(ctx, res.Request.ID, "creator-1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if out.Request.Status != StatusCancelled {
		t.Errorf("status = %s, want Cancelled", out.Request.Status)
	}
	if bal, _ := mem.Balance(ctx, "creator-1"); bal != 150_000_000 {
		t.Errorf("creator refund = %d, want 150000000", bal)
	}

	// Terminal: no further transitions.
	clock.Advance(10 * time.Second)
	if _, err := eng.Propose(ctx, res.Request.ID, "p", "YES"); err == nil {
		t.Error("propose on cancelled request should fail")
	}
}

func TestCancelOnlyWhileCreated(t *testing.T) {
	ctx := context.Background()
	eng, _, clock := newTestEngine(t)
	res := mustCreate(t, eng, clock)
	clock.Advance(10 * time.Second)
	if _, err := eng.Propose(ctx, res.Request.ID, "p", "YES"); err != nil {
		t.Fatalf("propose: %v", err)
	}

	_, err := eng.Cancel(ctx, res.Request.ID, "creator-1")
	var oerr *Error
	if !errors.As(err, &oerr) || oerr.Code != CodeInvalidStatus {
		t.Fatalf("err = %v, want INVALID_STATUS", err)
	}
}

func TestGetAndListAndSnapshot(t *testing.T) {
	ctx := context.Background()
	eng, _, clock := newTestEngine(t)
	a := mustCreate(t, eng, clock)
	b := mustCreate(t, eng, clock)

	got, err := eng.Get(a.Request.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != a.Request.ID {
		t.Errorf("get returned request %d", got.ID)
	}
	if _, err := eng.Get(999); err == nil {
		t.Error("get of unknown id should fail")
	}

	all := eng.List("", 0)
	if len(all) != 2 {
		t.Fatalf("list = %d entries, want 2", len(all))
	}
	if all[0].ID != b.Request.ID {
		t.Errorf("first entry id = %d, want newest %d", all[0].ID, b.Request.ID)
	}

	clock.Advance(10 * time.Second)
	if _, err := eng.Propose(ctx, a.Request.ID, "p", "YES"); err != nil {
		t.Fatalf("propose: %v", err)
	}
	proposed := eng.List(StatusProposed, 0)
	if len(proposed) != 1 || proposed[0].ID != a.Request.ID {
		t.Errorf("status filter returned %d entries", len(proposed))
	}

	stats := eng.Snapshot()
	if stats.RequestCount != 2 {
		t.Errorf("requestCount = %d, want 2", stats.RequestCount)
	}
	// Two requests at 150M each plus one 50M proposal bond.
	if stats.LockedVolume != 350_000_000 {
		t.Errorf("lockedVolume = %d, want 350000000", stats.LockedVolume)
	}
	if stats.ByStatus[StatusProposed] != 1 || stats.ByStatus[StatusCreated] != 1 {
		t.Errorf("byStatus = %v", stats.ByStatus)
	}
}

// faultyLedger fails the first release whose nonce contains failNonce with a
// non-retryable error, then behaves like its memory ledger.
type faultyLedger struct {
	*ledger.MemoryLedger
	failNonce string
	mu        sync.Mutex
	failed    bool
}

func (f *faultyLedger) Release(ctx context.Context, escrow, recipient string, amount uint64, nonce string) (string, error) {
	f.mu.Lock()
	shouldFail := !f.failed && strings.Contains(nonce, f.failNonce)
	if shouldFail {
		f.failed = true
	}
	f.mu.Unlock()
	if shouldFail {
		return "", errors.New("rpc node rejected transaction")
	}
	return f.MemoryLedger.Release(ctx, escrow, recipient, amount, nonce)
}

func TestResolveRetryCompletesInterruptedPayout(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	mem := ledger.NewMemoryLedger("treasury", 10_000_000_000)
	lgr := &faultyLedger{MemoryLedger: mem, failNonce: "resolve-pbond"}
	eng := NewEngine(lgr, EngineConfig{Clock: clock.Now})

	res, err := eng.Create(ctx, validCreateParams(clock))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	clock.Advance(10 * time.Second)
	if _, err := eng.Propose(ctx, res.Request.ID, "proposer-1", "YES"); err != nil {
		t.Fatalf("propose: %v", err)
	}
	clock.Advance(3601 * time.Second)

	_, err = eng.ResolveUndisputed(ctx, res.Request.ID)
	var oerr *Error
	if !errors.As(err, &oerr) || oerr.Code != CodeLedgerError {
		t.Fatalf("first resolve err = %v, want LEDGER_ERROR", err)
	}
	got, gerr := eng.Get(res.Request.ID)
	if gerr != nil {
		t.Fatalf("get: %v", gerr)
	}
	if got.Status != StatusResolved {
		t.Fatalf("status after failed payout = %s, want Resolved", got.Status)
	}

	// The retry finishes the remaining legs; the leg that already released
	// is not paid a second time.
	out, err := eng.ResolveUndisputed(ctx, res.Request.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(out.Transfers) != 3 {
		t.Errorf("transfers = %d, want 3", len(out.Transfers))
	}
	if bal, _ := mem.Balance(ctx, "proposer-1"); bal != 150_000_000 {
		t.Errorf("proposer balance = %d, want 150000000", bal)
	}
	if bal, _ := mem.Balance(ctx, "creator-1"); bal != 50_000_000 {
		t.Errorf("creator balance = %d, want 50000000", bal)
	}
	proposalEscrow, _ := mem.DeriveEscrowAddress(ledger.EscrowProposal, res.Request.ID)
	if bal, _ := mem.Balance(ctx, proposalEscrow); bal != 0 {
		t.Errorf("proposal escrow still holds %d", bal)
	}
	if bal, _ := mem.Balance(ctx, res.EscrowAddress); bal != 0 {
		t.Errorf("request escrow still holds %d", bal)
	}

	// Fully settled now: a further call conflicts.
	_, err = eng.ResolveUndisputed(ctx, res.Request.ID)
	if !errors.As(err, &oerr) || oerr.Code != CodeInvalidStatus {
		t.Fatalf("settled retry err = %v, want INVALID_STATUS", err)
	}
}

func TestCancelRetryCompletesInterruptedRefund(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	mem := ledger.NewMemoryLedger("treasury", 10_000_000_000)
	lgr := &faultyLedger{MemoryLedger: mem, failNonce: "cancel-refund"}
	eng := NewEngine(lgr, EngineConfig{Clock: clock.Now})

	res, err := eng.Create(ctx, validCreateParams(clock))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := eng.Cancel(ctx, res.Request.ID, "creator-1"); err == nil {
		t.Fatal("expected ledger failure on first cancel")
	}
	got, _ := eng.Get(res.Request.ID)
	if got.Status != StatusCancelled {
		t.Fatalf("status = %s, want Cancelled", got.Status)
	}

	// Still creator-only, even for the refund retry.
	_, err = eng.Cancel(ctx, res.Request.ID, "stranger")
	var oerr *Error
	if !errors.As(err, &oerr) || oerr.Code != CodeNotCreator {
		t.Fatalf("stranger retry err = %v, want NOT_CREATOR", err)
	}

	if _, err := eng.Cancel(ctx, res.Request.ID, "creator-1"); err != nil {
		t.Fatalf("refund retry: %v", err)
	}
	if bal, _ := mem.Balance(ctx, "creator-1"); bal != 150_000_000 {
		t.Errorf("creator refund = %d, want 150000000", bal)
	}
}

func TestLedgerFailureSurfacesAsLedgerError(t *testing.T) {
	clock := newTestClock()
	// Treasury too small to cover the lock.
	mem := ledger.NewMemoryLedger("treasury", 1)
	eng := NewEngine(mem, EngineConfig{Clock: clock.Now})

	_, err := eng.Create(context.Background(), validCreateParams(clock))
	var oerr *Error
	if !errors.As(err, &oerr) || oerr.Code != CodeLedgerError {
		t.Fatalf("err = %v, want LEDGER_ERROR", err)
	}
	if oerr.HTTPStatus != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", oerr.HTTPStatus)
	}
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Error("underlying cause not preserved")
	}
}
