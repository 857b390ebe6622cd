package intent

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var tierHits = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bettask_intent_tier_total",
	Help: "Classification outcomes by resolver tier",
}, []string{"tier"})

// Classifier is the external NLU collaborator contract. It may be slow or
// unreliable; the resolver bounds every call with a timeout and treats any
// failure as a fall-through to the heuristic tier.
type Classifier interface {
	Classify(ctx context.Context, text string) (*RawClassification, error)
}

// RawClassification is the collaborator's loosely-typed answer before it is
// remapped onto the internal vocabulary.
type RawClassification struct {
	Intent     string
	Confidence float64
	Fields     map[string]string
}

// fieldSynonyms maps collaborator slot names onto internal ones.
var fieldSynonyms = map[string]string{
	"goal":             "goal",
	"title":            "goal",
	"challenge_text":   "goal",
	"description":      "goal",
	"amount":           "amount",
	"mentioned_amount": "amount",
	"bet_amount":       "amount",
	"stake":            "amount",
	"recurrence":       "recurrence",
	"frequency":        "recurrence",
	"task_type":        "recurrence",
}

// intentSynonyms maps collaborator intent names onto internal ones.
var intentSynonyms = map[string]Intent{
	"help":                         IntentHelp,
	"cancel_conversation":          IntentCancel,
	"get_balance":                  IntentBalance,
	"check_balance":                IntentBalance,
	"transaction_history":          IntentHistory,
	"list_challenges":              IntentListCommitments,
	"list_commitments":             IntentListCommitments,
	"cancel_challenge":             IntentCancelCommitment,
	"add_funds":                    IntentAddFunds,
	"withdraw_funds":               IntentWithdraw,
	"create_challenge_intent":      IntentCreateCommitment,
	"create_challenge_with_amount": IntentCreateCommitment,
	"create_commitment":            IntentCreateCommitment,
	"betting_intent":               IntentCreateCommitment,
	"bet_amount":                   IntentStakeAmount,
	"bet_amount_all":               IntentStakeAll,
	"submit_completion":            IntentCompletionClaim,
	"completion_or_verification":   IntentCompletionClaim,
	"information_request":          IntentInfoRequest,
	"general_chat":                 IntentUnknown,
	"unknown":                      IntentUnknown,
}

// Resolver classifies text through three tiers: deterministic rules, the
// external NLU collaborator, and a heuristic fallback. Classify never fails.
type Resolver struct {
	nlu      Classifier
	timeout  time.Duration
	attempts int
	log      *zap.Logger
}

// NewResolver builds a resolver. nlu may be nil, in which case Tier 2 is
// skipped entirely and low-confidence text goes straight to the heuristics.
func NewResolver(nlu Classifier, timeout time.Duration, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Resolver{nlu: nlu, timeout: timeout, attempts: 2, log: log}
}

// Classify resolves text to an intent, confidence, and slots.
func (r *Resolver) Classify(ctx context.Context, text string) Result {
	res := EvalRules(text)
	if res.Confidence >= 0.8 && res.Intent != IntentUnknown {
		tierHits.WithLabelValues("1").Inc()
		return res
	}

	if r.nlu != nil {
		if remapped, ok := r.classifyExternal(ctx, text); ok {
			tierHits.WithLabelValues("2").Inc()
			return remapped
		}
	}

	tierHits.WithLabelValues("3").Inc()
	return Fallback(text)
}

// classifyExternal runs the bounded, retried Tier 2 call. Classification is
// read-only, so a bounded retry with backoff is safe.
func (r *Resolver) classifyExternal(ctx context.Context, text string) (Result, bool) {
	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		raw, err := r.nlu.Classify(callCtx, text)
		cancel()
		if err == nil && raw != nil {
			if res, ok := remap(raw); ok {
				return res, true
			}
			lastErr = errUnmappable
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			r.log.Debug("nlu classify abandoned", zap.Error(ctx.Err()))
			return Result{}, false
		case <-time.After(time.Duration(200*(1<<attempt)) * time.Millisecond):
		}
	}
	r.log.Warn("nlu classify failed, falling back", zap.Error(lastErr))
	return Result{}, false
}

type unmappableError struct{}

func (unmappableError) Error() string { return "nlu result outside known vocabulary" }

var errUnmappable = unmappableError{}

// remap translates collaborator vocabulary onto the internal schema. Unknown
// intents and malformed fields are treated as a failed classification.
func remap(raw *RawClassification) (Result, bool) {
	mapped, ok := intentSynonyms[strings.ToLower(strings.TrimSpace(raw.Intent))]
	if !ok || mapped == IntentUnknown {
		return Result{}, false
	}

	res := Result{Intent: mapped, Confidence: clamp(raw.Confidence, 0, 1), Tier: 2}
	for key, val := range raw.Fields {
		switch fieldSynonyms[strings.ToLower(key)] {
		case "goal":
			if g := NormalizeGoal(val); g != "" {
				res.Slots.Goal = g
			}
		case "amount":
			if n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil && n > 0 {
				res.Slots.Amount = n
				res.Slots.HasAmount = true
			}
		case "recurrence":
			res.Slots.Recurrence = strings.ToLower(strings.TrimSpace(val))
		}
	}
	return res, true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
