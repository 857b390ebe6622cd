package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/bettask/internal/dialogue"
	"github.com/punchamoorthee/bettask/internal/domain"
	"github.com/punchamoorthee/bettask/internal/engine"
	"github.com/punchamoorthee/bettask/internal/intent"
	"github.com/punchamoorthee/bettask/internal/ledger"
	"github.com/punchamoorthee/bettask/internal/reconcile"
	"github.com/punchamoorthee/bettask/internal/store"
)

const user = domain.UserID("919000000099")

// stubExtractor scripts the payment fact extraction.
type stubExtractor struct {
	facts *reconcile.DetectedFacts
	err   error
}

func (s *stubExtractor) ExtractPaymentFacts(_ context.Context, _ []byte, _ string, _ reconcile.Expectation) (*reconcile.DetectedFacts, error) {
	return s.facts, s.err
}

// stubVerifier scripts the completion proof verdict.
type stubVerifier struct {
	verified   bool
	confidence float64
	reason     string
	err        error
}

func (s *stubVerifier) VerifyCompletionProof(_ context.Context, _ []byte, _, _ string) (bool, float64, string, error) {
	return s.verified, s.confidence, s.reason, s.err
}

type fixture struct {
	eng *engine.Engine
	svc *ledger.Service
	mem *store.Memory
}

func newFixture(t *testing.T, extractor engine.FactExtractor, verifier engine.ProofVerifier) *fixture {
	t.Helper()
	mem := store.NewMemory()
	svc := ledger.NewService(mem, 0.10, nil)
	resolver := intent.NewResolver(nil, time.Second, nil)
	manager := dialogue.NewManager(dialogue.NewSessionStore(time.Hour), svc, nil)
	eng := engine.New(resolver, manager, svc, extractor, verifier, engine.Config{
		ExpectedPayee:      "devtalele0@okhdfcbank",
		PaymentWindowHours: 24,
		MinDeposit:         50,
		MaxDeposit:         50000,
	}, nil)
	return &fixture{eng: eng, svc: svc, mem: mem}
}

func (f *fixture) send(t *testing.T, text string) string {
	t.Helper()
	reply, err := f.eng.HandleMessage(context.Background(), user, text)
	require.NoError(t, err)
	return reply
}

func (f *fixture) fund(t *testing.T, amount int64) {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.EnsureUser(ctx, user)
	require.NoError(t, err)
	require.NoError(t, f.svc.Credit(ctx, user, amount, domain.TxDeposit, "seed"))
}

func TestHandleMessage_HelpAndBalance(t *testing.T) {
	f := newFixture(t, nil, nil)

	assert.Contains(t, f.send(t, "help"), "bet 100")
	assert.Contains(t, f.send(t, "balance"), "₹0")
}

func TestHandleMessage_CommitmentFlowEndToEnd(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.fund(t, 500)

	f.send(t, "bet 100 on going to the gym")
	f.send(t, "one-time")
	reply := f.send(t, "yes")
	assert.Contains(t, reply, "Locked in")

	assert.Contains(t, f.send(t, "balance"), "₹400")
	assert.Contains(t, f.send(t, "my challenges"), "going to the gym")
}

func TestHandleMessage_EscapeRedispatches(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.fund(t, 500)

	f.send(t, "bet 100 on going to the gym")
	// Mid-dialogue, "balance" tears the session down AND answers.
	assert.Contains(t, f.send(t, "balance"), "₹500")
	// The session is gone: a bare confirmation means nothing now.
	assert.Contains(t, f.send(t, "yes"), "help")
}

func TestHandleMessage_CancelCommitmentRefunds(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.fund(t, 500)

	f.send(t, "bet 100 on going to the gym")
	f.send(t, "one-time")
	f.send(t, "yes")

	reply := f.send(t, "cancel my challenge")
	assert.Contains(t, reply, "refunded")
	assert.Contains(t, f.send(t, "balance"), "₹500")
}

func TestHandleMessage_CancelAmongSeveralNeedsNumber(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.fund(t, 500)

	for _, goal := range []string{"first goal here", "second goal here"} {
		f.send(t, "bet 100 on "+goal)
		f.send(t, "one-time")
		f.send(t, "yes")
	}

	reply := f.send(t, "cancel my challenge")
	assert.Contains(t, reply, "Which one")

	reply = f.send(t, "cancel challenge 2")
	assert.Contains(t, reply, "refunded")
}

func TestHandleMessage_CompletionClaim(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.fund(t, 500)

	f.send(t, "bet 100 on going to the gym")
	f.send(t, "one-time")
	f.send(t, "yes")

	reply := f.send(t, "i completed my challenge")
	assert.Contains(t, reply, "photo")

	// Claiming again: the claim is parked, waiting on the proof.
	reply = f.send(t, "i completed my challenge")
	assert.Contains(t, reply, "waiting on your proof")
}

func TestProofFlow_VerifiedProofPaysOut(t *testing.T) {
	f := newFixture(t, nil, &stubVerifier{verified: true, confidence: 0.92})
	f.fund(t, 500)

	f.send(t, "bet 200 on going to the gym")
	f.send(t, "one-time")
	f.send(t, "yes")
	f.send(t, "i completed my challenge")

	reply, err := f.eng.HandleProofAssertion(context.Background(), user, engine.ProofAssertion{
		Media: []byte("jpg-bytes"), MimeType: "image/jpeg",
	})
	require.NoError(t, err)
	assert.Contains(t, reply, "₹220 paid out")

	// Stake plus the 10% bonus is back in the wallet.
	assert.Contains(t, f.send(t, "balance"), "₹520")

	pending, err := f.svc.PendingVerifications(context.Background(), user)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProofFlow_RejectedProofKeepsClaimOpen(t *testing.T) {
	f := newFixture(t, nil, &stubVerifier{reason: "no gym in sight"})
	f.fund(t, 500)

	f.send(t, "bet 200 on going to the gym")
	f.send(t, "one-time")
	f.send(t, "yes")
	f.send(t, "i completed my challenge")

	reply, err := f.eng.HandleProofAssertion(context.Background(), user, engine.ProofAssertion{
		Media: []byte("jpg-bytes"), MimeType: "image/jpeg",
	})
	require.NoError(t, err)
	assert.Contains(t, reply, "no gym in sight")

	// Nothing was paid and the claim survives for a better photo.
	assert.Contains(t, f.send(t, "balance"), "₹300")
	pending, err := f.svc.PendingVerifications(context.Background(), user)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestProofFlow_WithoutVerifierQueuesForReview(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.fund(t, 500)

	f.send(t, "bet 200 on going to the gym")
	f.send(t, "one-time")
	f.send(t, "yes")
	f.send(t, "i completed my challenge")

	reply, err := f.eng.HandleProofAssertion(context.Background(), user, engine.ProofAssertion{
		Media: []byte("jpg-bytes"), MimeType: "image/jpeg",
	})
	require.NoError(t, err)
	assert.Contains(t, reply, "queued for review")
	assert.Contains(t, f.send(t, "balance"), "₹300")
}

func TestProofFlow_ProofWithoutClaimParksSingleActive(t *testing.T) {
	f := newFixture(t, nil, &stubVerifier{verified: true, confidence: 0.85})
	f.fund(t, 500)

	f.send(t, "bet 100 on going to the gym")
	f.send(t, "one-time")
	f.send(t, "yes")

	// No "i'm done" message first; the photo alone settles it.
	reply, err := f.eng.HandleProofAssertion(context.Background(), user, engine.ProofAssertion{
		Media: []byte("jpg-bytes"), MimeType: "image/jpeg",
	})
	require.NoError(t, err)
	assert.Contains(t, reply, "₹110 paid out")
	assert.Contains(t, f.send(t, "balance"), "₹510")
}

func TestHandleMessage_WithdrawalFlow(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.fund(t, 500)

	reply := f.send(t, "withdraw 200")
	assert.Contains(t, reply, "₹200 withdrawal recorded")
	assert.Contains(t, reply, "₹300")

	// Overdraw names the available balance.
	reply = f.send(t, "withdraw 900")
	assert.Contains(t, reply, "₹300")
}

func TestHandleMessage_WithdrawAsksForAmount(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.fund(t, 500)

	reply := f.send(t, "cash out")
	assert.Contains(t, reply, "How much")

	reply = f.send(t, "150")
	assert.Contains(t, reply, "withdrawal recorded")
}

func TestDepositFlow_FullCredit(t *testing.T) {
	f := newFixture(t, &stubExtractor{facts: &reconcile.DetectedFacts{
		Amount:       500,
		Counterparty: "devtalele0@okhdfcbank",
		Status:       reconcile.StatusSuccess,
		WithinWindow: true,
	}}, nil)

	reply := f.send(t, "add funds")
	assert.Contains(t, reply, "₹50-₹50000")

	reply = f.send(t, "500")
	assert.Contains(t, reply, "devtalele0@okhdfcbank")

	reply, err := f.eng.HandlePaymentAssertion(context.Background(), user, engine.PaymentAssertion{
		Media: []byte("png-bytes"), MimeType: "image/png",
	})
	require.NoError(t, err)
	assert.Contains(t, reply, "₹500 added")

	assert.Contains(t, f.send(t, "balance"), "₹500")

	audits := f.mem.Audits()
	require.Len(t, audits, 1)
	assert.Equal(t, string(reconcile.CreditFull), audits[0].Decision)
}

func TestDepositFlow_RejectsOutOfRangeAmount(t *testing.T) {
	f := newFixture(t, nil, nil)

	f.send(t, "add funds")
	reply := f.send(t, "20")
	assert.Contains(t, reply, "between ₹50 and ₹50000")

	// The flow survives the re-prompt.
	reply = f.send(t, "100")
	assert.Contains(t, reply, "Pay ₹100")
}

func TestDepositFlow_NonNumericAmountReprompts(t *testing.T) {
	f := newFixture(t, nil, nil)

	f.send(t, "add funds")
	reply := f.send(t, "a whole lot")
	assert.Contains(t, reply, "I need a number between ₹50 and ₹50000")
	// Deposits have no stake semantics, so no talk of the user's balance.
	assert.NotContains(t, reply, "balance")

	reply = f.send(t, "500")
	assert.Contains(t, reply, "Pay ₹500")
}

func TestDepositFlow_PartialCreditOnOverpayment(t *testing.T) {
	f := newFixture(t, &stubExtractor{facts: &reconcile.DetectedFacts{
		Amount:       600,
		Counterparty: "devtalele0@okhdfcbank",
		Status:       reconcile.StatusSuccess,
		WithinWindow: true,
	}}, nil)

	f.send(t, "add funds")
	f.send(t, "500")

	reply, err := f.eng.HandlePaymentAssertion(context.Background(), user, engine.PaymentAssertion{
		Media: []byte("png-bytes"), MimeType: "image/png",
	})
	require.NoError(t, err)
	assert.Contains(t, reply, "₹600")
	assert.Contains(t, f.send(t, "balance"), "₹600")
}

func TestDepositFlow_FailedPaymentRejected(t *testing.T) {
	f := newFixture(t, &stubExtractor{facts: &reconcile.DetectedFacts{
		Amount:       500,
		Counterparty: "devtalele0@okhdfcbank",
		Status:       reconcile.StatusFailed,
		WithinWindow: true,
	}}, nil)

	f.send(t, "add funds")
	f.send(t, "500")

	reply, err := f.eng.HandlePaymentAssertion(context.Background(), user, engine.PaymentAssertion{
		Media: []byte("png-bytes"), MimeType: "image/png",
	})
	require.NoError(t, err)
	assert.Contains(t, reply, "nothing was credited")
	assert.Contains(t, f.send(t, "balance"), "₹0")

	// The rejected request is settled; a fresh assertion has nothing to match.
	reply, err = f.eng.HandlePaymentAssertion(context.Background(), user, engine.PaymentAssertion{
		Media: []byte("png-bytes"), MimeType: "image/png",
	})
	require.NoError(t, err)
	assert.Contains(t, reply, "add funds")
}

func TestDepositFlow_ExtractionFailureGoesToManualReview(t *testing.T) {
	f := newFixture(t, &stubExtractor{err: errors.New("model unavailable")}, nil)

	f.send(t, "add funds")
	f.send(t, "500")

	reply, err := f.eng.HandlePaymentAssertion(context.Background(), user, engine.PaymentAssertion{
		Media: []byte("png-bytes"), MimeType: "image/png",
	})
	require.NoError(t, err)
	assert.Contains(t, reply, "manual check")
	assert.Contains(t, f.send(t, "balance"), "₹0")

	audits := f.mem.Audits()
	require.Len(t, audits, 1)
	assert.Equal(t, string(reconcile.ManualReview), audits[0].Decision)
}

func TestPaymentAssertion_WithoutPendingDeposit(t *testing.T) {
	f := newFixture(t, nil, nil)

	reply, err := f.eng.HandlePaymentAssertion(context.Background(), user, engine.PaymentAssertion{
		Media: []byte("png-bytes"), MimeType: "image/png",
	})
	require.NoError(t, err)
	assert.Contains(t, reply, "add funds")
}

func TestHandleMessage_UnknownText(t *testing.T) {
	f := newFixture(t, nil, nil)
	assert.Contains(t, f.send(t, "xyzzy plugh"), "help")
}
