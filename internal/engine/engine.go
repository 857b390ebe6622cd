// Package engine is the conversational core: it turns inbound messages and
// payment assertions into ledger operations and user-facing replies. The
// engine is transport-agnostic; hosts own webhooks, queues, and auth.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/punchamoorthee/bettask/internal/dialogue"
	"github.com/punchamoorthee/bettask/internal/domain"
	"github.com/punchamoorthee/bettask/internal/intent"
	"github.com/punchamoorthee/bettask/internal/ledger"
	"github.com/punchamoorthee/bettask/internal/reconcile"
)

var (
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bettask_messages_total",
		Help: "Messages processed by routed intent",
	}, []string{"intent"})
	reconcileDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bettask_reconcile_decisions_total",
		Help: "Payment reconciliation outcomes by decision",
	}, []string{"decision"})
	proofVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bettask_proof_verdicts_total",
		Help: "Completion proof outcomes by verdict",
	}, []string{"verdict"})
)

// FactExtractor reads payment proof media into the strict facts schema. It
// may be absent (nil), in which case every assertion lands in manual review.
type FactExtractor interface {
	ExtractPaymentFacts(ctx context.Context, media []byte, mimeType string, exp reconcile.Expectation) (*reconcile.DetectedFacts, error)
}

// ProofVerifier judges completion proof media against the commitment's goal.
// Like the extractor it may be absent (nil); proofs then wait for a human.
type ProofVerifier interface {
	VerifyCompletionProof(ctx context.Context, media []byte, mimeType, goal string) (verified bool, confidence float64, reason string, err error)
}

// PaymentAssertion is an inbound claim of payment, usually a screenshot.
type PaymentAssertion struct {
	Media    []byte
	MimeType string
	Caption  string
}

// ProofAssertion is an inbound claim of completion, usually a photo.
type ProofAssertion struct {
	Media    []byte
	MimeType string
	Caption  string
}

// Config carries the engine's tunables; zero values get safe defaults.
type Config struct {
	ExpectedPayee      string
	PaymentWindowHours int
	MinDeposit         int64
	MaxDeposit         int64
}

func (c *Config) defaults() {
	if c.PaymentWindowHours <= 0 {
		c.PaymentWindowHours = 24
	}
	if c.MinDeposit <= 0 {
		c.MinDeposit = 50
	}
	if c.MaxDeposit <= 0 {
		c.MaxDeposit = 50000
	}
}

// miniFlow is a one-question follow-up outside the commitment dialogue:
// the amount for a deposit or a withdrawal.
type miniFlow string

const (
	flowDepositAmount  miniFlow = "deposit_amount"
	flowWithdrawAmount miniFlow = "withdraw_amount"
)

// Engine wires the resolver, dialogue manager, ledger and reconciler behind
// the two public entry points. Messages from the same user are strictly
// serialized; distinct users proceed in parallel.
type Engine struct {
	resolver  *intent.Resolver
	dialogue  *dialogue.Manager
	ledger    *ledger.Service
	extractor FactExtractor
	verifier  ProofVerifier
	cfg       Config
	log       *zap.Logger

	flows *expirable.LRU[domain.UserID, miniFlow]

	mu    sync.Mutex
	locks map[domain.UserID]*sync.Mutex
}

func New(resolver *intent.Resolver, dlg *dialogue.Manager, svc *ledger.Service, extractor FactExtractor, verifier ProofVerifier, cfg Config, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	cfg.defaults()
	return &Engine{
		resolver:  resolver,
		dialogue:  dlg,
		ledger:    svc,
		extractor: extractor,
		verifier:  verifier,
		cfg:       cfg,
		log:       log,
		flows:     expirable.NewLRU[domain.UserID, miniFlow](4096, nil, 10*time.Minute),
		locks:     make(map[domain.UserID]*sync.Mutex),
	}
}

// userLock returns the per-user mutex, creating it on first contact.
func (e *Engine) userLock(id domain.UserID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// HandleMessage processes one inbound text message and returns the reply.
// The error return covers infrastructure failures only; every user mistake
// comes back as actionable reply text.
func (e *Engine) HandleMessage(ctx context.Context, userID domain.UserID, text string) (string, error) {
	l := e.userLock(userID)
	l.Lock()
	defer l.Unlock()

	if _, err := e.ledger.EnsureUser(ctx, userID); err != nil {
		return "", err
	}

	res := e.resolver.Classify(ctx, text)
	messagesTotal.WithLabelValues(string(res.Intent)).Inc()
	e.log.Debug("message classified",
		zap.String("user_id", string(userID)),
		zap.String("intent", string(res.Intent)),
		zap.Float64("confidence", res.Confidence),
		zap.Int("tier", res.Tier))

	// An open commitment dialogue consumes the message first. Escape intents
	// tear it down and the same message falls through to normal routing.
	if e.dialogue.Active(userID) {
		turn, err := e.dialogue.Advance(ctx, userID, text, res)
		if err != nil {
			return "", err
		}
		if !turn.Escaped {
			return turn.Reply, nil
		}
	}

	// Same pattern for the one-question deposit/withdrawal follow-ups.
	if flow, ok := e.flows.Get(userID); ok {
		if res.Intent.IsEscape() {
			e.flows.Remove(userID)
		} else {
			return e.advanceMiniFlow(ctx, userID, flow, text)
		}
	}

	return e.route(ctx, userID, text, res)
}

func (e *Engine) route(ctx context.Context, userID domain.UserID, text string, res intent.Result) (string, error) {
	switch res.Intent {
	case intent.IntentHelp:
		return helpText, nil

	case intent.IntentCancel:
		return "Nothing was in progress - you're all set. Say \"help\" to see what I can do.", nil

	case intent.IntentBalance:
		balance, err := e.ledger.Balance(ctx, userID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Your balance is ₹%d.", balance), nil

	case intent.IntentHistory:
		txs, err := e.ledger.Transactions(ctx, userID, 10)
		if err != nil {
			return "", err
		}
		return formatHistory(txs), nil

	case intent.IntentListCommitments:
		active, err := e.ledger.ActiveCommitments(ctx, userID)
		if err != nil {
			return "", err
		}
		return formatCommitments(active), nil

	case intent.IntentCancelCommitment:
		return e.cancelCommitment(ctx, userID, res)

	case intent.IntentAddFunds:
		e.flows.Add(userID, flowDepositAmount)
		return fmt.Sprintf("How much do you want to add? (₹%d-₹%d)", e.cfg.MinDeposit, e.cfg.MaxDeposit), nil

	case intent.IntentWithdraw:
		if res.Slots.HasAmount {
			return e.withdraw(ctx, userID, res.Slots.Amount)
		}
		e.flows.Add(userID, flowWithdrawAmount)
		return "How much do you want to withdraw?", nil

	case intent.IntentCreateCommitment, intent.IntentStakeAmount, intent.IntentStakeAll:
		turn, err := e.dialogue.Start(ctx, userID, res)
		if err != nil {
			return "", err
		}
		return turn.Reply, nil

	case intent.IntentCompletionClaim:
		return e.claimCompletion(ctx, userID)

	case intent.IntentInfoRequest:
		return infoText, nil

	default:
		return unknownText, nil
	}
}

// advanceMiniFlow consumes the one expected answer of an open deposit or
// withdrawal follow-up.
func (e *Engine) advanceMiniFlow(ctx context.Context, userID domain.UserID, flow miniFlow, text string) (string, error) {
	switch flow {
	case flowDepositAmount:
		amount, ok := dialogue.ParseNumeric(text)
		if !ok {
			return fmt.Sprintf("I need a number between ₹%d and ₹%d. How much do you want to add?", e.cfg.MinDeposit, e.cfg.MaxDeposit), nil
		}
		if amount < e.cfg.MinDeposit || amount > e.cfg.MaxDeposit {
			return fmt.Sprintf("Deposits are between ₹%d and ₹%d. How much do you want to add?", e.cfg.MinDeposit, e.cfg.MaxDeposit), nil
		}
		e.flows.Remove(userID)
		d, err := e.ledger.OpenDeposit(ctx, userID, amount)
		if err != nil {
			return "", err
		}
		e.log.Info("deposit opened",
			zap.String("user_id", string(userID)),
			zap.String("deposit_id", d.ID),
			zap.Int64("amount", amount))
		return fmt.Sprintf("Pay ₹%d via UPI to %s, then send me the payment screenshot and I'll credit your wallet.",
			amount, e.cfg.ExpectedPayee), nil

	case flowWithdrawAmount:
		balance, err := e.ledger.Balance(ctx, userID)
		if err != nil {
			return "", err
		}
		amount, _, verr := dialogue.ParseAmount(text, balance)
		if verr != nil {
			return verr.Reason, nil
		}
		e.flows.Remove(userID)
		return e.withdraw(ctx, userID, amount)
	}
	e.flows.Remove(userID)
	return unknownText, nil
}

func (e *Engine) withdraw(ctx context.Context, userID domain.UserID, amount int64) (string, error) {
	if amount <= 0 {
		return "The withdrawal amount has to be positive. How much do you want to withdraw?", nil
	}
	err := e.ledger.Debit(ctx, userID, amount, domain.TxWithdrawal, "Withdrawal to registered UPI")
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		balance, berr := e.ledger.Balance(ctx, userID)
		if berr != nil {
			return "", berr
		}
		return fmt.Sprintf("You only have ₹%d available. Pick an amount up to that.", balance), nil
	}
	if err != nil {
		return "", err
	}
	balance, err := e.ledger.Balance(ctx, userID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("₹%d withdrawal recorded. It will reach your UPI account within 24 hours. New balance: ₹%d.", amount, balance), nil
}

// cancelCommitment resolves which active commitment to cancel. A number in
// the message selects from the active list (1-based, newest first); with a
// single active commitment no number is needed.
func (e *Engine) cancelCommitment(ctx context.Context, userID domain.UserID, res intent.Result) (string, error) {
	active, err := e.ledger.ActiveCommitments(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(active) == 0 {
		return "You have no active commitments to cancel.", nil
	}

	var target *domain.Commitment
	if res.Slots.HasAmount {
		idx := int(res.Slots.Amount)
		if idx < 1 || idx > len(active) {
			return fmt.Sprintf("There's no commitment number %d. %s", idx, formatCommitments(active)), nil
		}
		target = &active[idx-1]
	} else if len(active) == 1 {
		target = &active[0]
	} else {
		return "Which one? " + formatCommitments(active) + "\nReply e.g. \"cancel challenge 2\".", nil
	}

	_, credited, err := e.ledger.Transition(ctx, target.ID, domain.StatusCancelled)
	if errors.Is(err, ledger.ErrAlreadyResolved) {
		return "That commitment is already settled.", nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Cancelled \"%s\". ₹%d refunded to your wallet.", target.Goal, credited), nil
}

// claimCompletion moves the user's single active commitment to
// pending_verification; crediting happens only after a proof is verified.
func (e *Engine) claimCompletion(ctx context.Context, userID domain.UserID) (string, error) {
	active, err := e.ledger.ActiveCommitments(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(active) == 0 {
		pending, err := e.ledger.PendingVerifications(ctx, userID)
		if err != nil {
			return "", err
		}
		if len(pending) > 0 {
			return fmt.Sprintf("\"%s\" is waiting on your proof. Send me a photo and I'll verify it.", pending[0].Goal), nil
		}
		return "You have no active commitments. Say \"bet\" to start one!", nil
	}
	if len(active) > 1 {
		return "Which one did you complete? " + formatCommitments(active) + "\nSend your proof with the challenge number.", nil
	}

	c := &active[0]
	if _, _, err := e.ledger.Transition(ctx, c.ID, domain.StatusPendingVerification); err != nil {
		if errors.Is(err, ledger.ErrAlreadyResolved) {
			return "That commitment is already settled.", nil
		}
		return "", err
	}
	return fmt.Sprintf("Nice! Send me a photo proving you did \"%s\" and I'll pay out your stake plus the bonus.", c.Goal), nil
}

// HandleProofAssertion verifies a completion proof and settles the claimed
// commitment: a verified proof pays the stake plus bonus, a rejected one
// leaves the commitment awaiting a better photo until the deadline sweep
// forfeits it. A proof sent without a prior claim parks the user's single
// active commitment first.
func (e *Engine) HandleProofAssertion(ctx context.Context, userID domain.UserID, assertion ProofAssertion) (string, error) {
	l := e.userLock(userID)
	l.Lock()
	defer l.Unlock()

	if _, err := e.ledger.EnsureUser(ctx, userID); err != nil {
		return "", err
	}

	pending, err := e.ledger.PendingVerifications(ctx, userID)
	if err != nil {
		return "", err
	}
	var target *domain.Commitment
	if len(pending) > 0 {
		target = &pending[0]
	} else {
		active, err := e.ledger.ActiveCommitments(ctx, userID)
		if err != nil {
			return "", err
		}
		switch len(active) {
		case 0:
			return "I have nothing to verify - you have no open commitments. Say \"bet\" to start one!", nil
		case 1:
			if _, _, err := e.ledger.Transition(ctx, active[0].ID, domain.StatusPendingVerification); err != nil {
				return "", err
			}
			target = &active[0]
		default:
			return "Which one is this proof for? " + formatCommitments(active) + "\nTell me which one you completed first, then send the photo.", nil
		}
	}

	if e.verifier == nil || len(assertion.Media) == 0 {
		proofVerdicts.WithLabelValues("manual_review").Inc()
		return fmt.Sprintf("Got it - your proof for \"%s\" is queued for review. You'll be paid once it's checked.", target.Goal), nil
	}

	verified, confidence, reason, err := e.verifier.VerifyCompletionProof(ctx, assertion.Media, assertion.MimeType, target.Goal)
	if err != nil {
		e.log.Warn("proof verification failed", zap.Error(err))
		proofVerdicts.WithLabelValues("manual_review").Inc()
		return fmt.Sprintf("I couldn't verify that automatically, so \"%s\" is queued for review. You'll be paid once it's checked.", target.Goal), nil
	}
	e.log.Info("proof judged",
		zap.String("user_id", string(userID)),
		zap.String("commitment_id", target.ID),
		zap.Bool("verified", verified),
		zap.Float64("confidence", confidence))

	if !verified {
		proofVerdicts.WithLabelValues("rejected").Inc()
		if reason == "" {
			reason = "the photo doesn't show the goal being done"
		}
		return fmt.Sprintf("That proof didn't pass (%s). Send a clearer photo before the deadline or the stake is forfeited.", reason), nil
	}

	proofVerdicts.WithLabelValues("verified").Inc()
	_, credited, err := e.ledger.Transition(ctx, target.ID, domain.StatusCompleted)
	if errors.Is(err, ledger.ErrAlreadyResolved) {
		return "That commitment is already settled.", nil
	}
	if err != nil {
		return "", err
	}
	balance, err := e.ledger.Balance(ctx, userID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Verified! \"%s\" is complete. ₹%d paid out (stake plus bonus). New balance: ₹%d.", target.Goal, credited, balance), nil
}

// HandlePaymentAssertion reconciles a payment claim against the user's
// pending deposit and credits per the outcome. The decision is audited
// whatever it is.
func (e *Engine) HandlePaymentAssertion(ctx context.Context, userID domain.UserID, assertion PaymentAssertion) (string, error) {
	l := e.userLock(userID)
	l.Lock()
	defer l.Unlock()

	if _, err := e.ledger.EnsureUser(ctx, userID); err != nil {
		return "", err
	}

	pending, err := e.ledger.PendingDeposit(ctx, userID)
	if errors.Is(err, ledger.ErrDepositNotFound) {
		return "I wasn't expecting a payment from you. Say \"add funds\" first and I'll tell you how much to pay.", nil
	}
	if err != nil {
		return "", err
	}

	exp := reconcile.Expectation{
		Amount:       float64(pending.Amount),
		Counterparty: e.cfg.ExpectedPayee,
		WindowHours:  e.cfg.PaymentWindowHours,
	}

	var facts *reconcile.DetectedFacts
	if e.extractor != nil && len(assertion.Media) > 0 {
		facts, err = e.extractor.ExtractPaymentFacts(ctx, assertion.Media, assertion.MimeType, exp)
		if err != nil {
			e.log.Warn("fact extraction failed", zap.Error(err))
			facts = nil
		}
	}

	out := reconcile.Reconcile(exp, facts)
	reconcileDecisions.WithLabelValues(string(out.Decision)).Inc()

	audit := &domain.ReconcileAudit{
		UserID:         userID,
		DepositID:      pending.ID,
		ExpectedAmount: pending.Amount,
		Decision:       string(out.Decision),
		Concerns:       out.Concerns,
	}
	if facts != nil {
		audit.DetectedAmount = facts.Amount
	}
	if err := e.ledger.RecordAudit(ctx, audit); err != nil {
		return "", err
	}
	e.log.Info("payment reconciled",
		zap.String("user_id", string(userID)),
		zap.String("deposit_id", pending.ID),
		zap.String("decision", string(out.Decision)),
		zap.Strings("concerns", out.Concerns))

	switch out.Decision {
	case reconcile.CreditFull, reconcile.CreditPartial:
		credit := int64(math.Round(out.CreditAmount))
		if err := e.ledger.ApproveDeposit(ctx, pending.ID, credit); err != nil {
			return "", err
		}
		balance, err := e.ledger.Balance(ctx, userID)
		if err != nil {
			return "", err
		}
		if out.Decision == reconcile.CreditPartial {
			return fmt.Sprintf("Payment verified. I credited ₹%d (the amount you actually paid). New balance: ₹%d.", credit, balance), nil
		}
		return fmt.Sprintf("Payment verified! ₹%d added to your wallet. New balance: ₹%d.", credit, balance), nil

	case reconcile.Reject:
		if err := e.ledger.RejectDeposit(ctx, pending.ID); err != nil {
			return "", err
		}
		return "That payment doesn't look successful, so nothing was credited. " +
			"If the money left your account, retry once the transaction shows SUCCESS, or start over with \"add funds\".", nil

	default: // manual review keeps the deposit pending.
		reason := "I couldn't verify it automatically"
		if len(out.Concerns) > 0 {
			reason = strings.Join(out.Concerns, "; ")
		}
		return fmt.Sprintf("Thanks - your payment needs a manual check (%s). Your wallet will be credited once it's reviewed, usually within a few hours.", reason), nil
	}
}
