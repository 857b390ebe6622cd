package dialogue

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/punchamoorthee/bettask/internal/domain"
	"github.com/punchamoorthee/bettask/internal/intent"
	"github.com/punchamoorthee/bettask/internal/ledger"
)

// Turn is the outcome of feeding one message into a session.
type Turn struct {
	Reply string
	// Done marks the session closed, whether committed or abandoned.
	Done bool
	// Escaped means an escape intent tore the session down; the caller must
	// redispatch the same message through normal routing.
	Escaped    bool
	Commitment *domain.Commitment
}

// Manager owns the slot-filling state machine. It never touches money except
// through the ledger service's atomic commit.
type Manager struct {
	sessions *SessionStore
	ledger   *ledger.Service
	log      *zap.Logger
}

func NewManager(sessions *SessionStore, svc *ledger.Service, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{sessions: sessions, ledger: svc, log: log}
}

// Active reports whether the user has an open session.
func (m *Manager) Active(id domain.UserID) bool {
	_, ok := m.sessions.Get(id)
	return ok
}

// Abandon discards the user's session, if any.
func (m *Manager) Abandon(id domain.UserID) {
	m.sessions.Delete(id)
}

// Start opens a session seeded with whatever slots the classification already
// extracted, and asks for the first missing one.
func (m *Manager) Start(ctx context.Context, userID domain.UserID, seed intent.Result) (Turn, error) {
	sess := &Session{
		UserID:    userID,
		Stage:     StageCollectingGoal,
		StartedAt: time.Now().UTC(),
	}
	if g := intent.NormalizeGoal(seed.Slots.Goal); g != "" {
		sess.Goal = g
	}
	if seed.Slots.HasAmount && seed.Slots.Amount > 0 {
		sess.Amount = seed.Slots.Amount
	}
	if seed.Intent == intent.IntentStakeAll {
		sess.StakeAll = true
	}
	if r, ok := parseRecurrence(seed.Slots.Recurrence); ok {
		sess.Recurrence = r
	}

	m.advanceStage(sess)
	if sess.Stage == StageConfirming {
		m.sessions.Put(sess)
		return m.confirmPrompt(ctx, sess)
	}
	m.sessions.Put(sess)
	return Turn{Reply: m.prompt(sess)}, nil
}

// Advance feeds one classified message into the open session. An escape
// intent tears the session down here and comes back with Escaped set; the
// caller then routes the same message as if no dialogue had been open.
func (m *Manager) Advance(ctx context.Context, userID domain.UserID, text string, res intent.Result) (Turn, error) {
	sess, ok := m.sessions.Get(userID)
	if !ok {
		return Turn{}, fmt.Errorf("no open session for %s", userID)
	}

	if res.Intent.IsEscape() {
		m.sessions.Delete(userID)
		return Turn{Done: true, Escaped: true}, nil
	}

	switch sess.Stage {
	case StageCollectingGoal:
		return m.collectGoal(ctx, sess, text)
	case StageCollectingAmount:
		return m.collectAmount(ctx, sess, text, res)
	case StageChoosingRecurrence:
		return m.chooseRecurrence(ctx, sess, text)
	case StageCollectingFrequency:
		return m.collectFrequency(ctx, sess, text)
	case StageConfirming:
		return m.confirm(ctx, sess, text)
	}
	// Unreachable unless a stage is added without a handler.
	m.sessions.Delete(userID)
	return Turn{Done: true, Reply: "Something went wrong with that conversation. Let's start over - what's your goal?"}, nil
}

func (m *Manager) collectGoal(ctx context.Context, sess *Session, text string) (Turn, error) {
	goal := intent.NormalizeGoal(text)
	if len(goal) <= 3 {
		return Turn{Reply: "I need a concrete goal to hold you to. What exactly will you do? (e.g. \"go to the gym\", \"read 20 pages\")"}, nil
	}
	sess.Goal = goal
	m.advanceStage(sess)
	m.sessions.Put(sess)
	if sess.Stage == StageConfirming {
		return m.confirmPrompt(ctx, sess)
	}
	return Turn{Reply: m.prompt(sess)}, nil
}

func (m *Manager) collectAmount(ctx context.Context, sess *Session, text string, res intent.Result) (Turn, error) {
	balance, err := m.ledger.Balance(ctx, sess.UserID)
	if err != nil {
		return Turn{}, err
	}

	amount, stakeAll, verr := ParseAmount(text, balance)
	if verr == nil && !stakeAll && res.Intent == intent.IntentStakeAll {
		stakeAll = true
	}
	if verr != nil {
		return Turn{Reply: verr.Reason}, nil
	}
	if stakeAll {
		if balance <= 0 {
			return Turn{Reply: "Your wallet is empty, so there's nothing to stake. Say \"add funds\" to top up first."}, nil
		}
		amount = balance
	}
	if amount > balance {
		return Turn{Reply: fmt.Sprintf("You can stake at most ₹%d (your current balance). How much do you want to put on the line?", balance)}, nil
	}

	sess.Amount = amount
	sess.StakeAll = stakeAll
	m.advanceStage(sess)
	m.sessions.Put(sess)
	if sess.Stage == StageConfirming {
		return m.confirmPrompt(ctx, sess)
	}
	return Turn{Reply: m.prompt(sess)}, nil
}

func (m *Manager) chooseRecurrence(ctx context.Context, sess *Session, text string) (Turn, error) {
	t := strings.ToLower(strings.TrimSpace(text))
	switch {
	case strings.Contains(t, "one") || t == "1" || strings.Contains(t, "once") || strings.Contains(t, "single"):
		sess.Recurrence = domain.RecurrenceOneTime
	case strings.Contains(t, "recur") || strings.Contains(t, "repeat") || t == "2" || strings.Contains(t, "regular"):
		sess.Stage = StageCollectingFrequency
		m.sessions.Put(sess)
		return Turn{Reply: "How often? daily, weekly, twice a week, or thrice a week?"}, nil
	default:
		if r, ok := parseRecurrence(t); ok {
			sess.Recurrence = r
		} else {
			return Turn{Reply: "Is this a one-time goal or a recurring one? Reply \"one-time\" or \"recurring\"."}, nil
		}
	}
	m.advanceStage(sess)
	m.sessions.Put(sess)
	return m.confirmPrompt(ctx, sess)
}

func (m *Manager) collectFrequency(ctx context.Context, sess *Session, text string) (Turn, error) {
	r, ok := parseRecurrence(text)
	if !ok || r == domain.RecurrenceOneTime {
		return Turn{Reply: "I didn't catch that. Reply daily, weekly, twice a week, or thrice a week."}, nil
	}
	sess.Recurrence = r
	m.advanceStage(sess)
	m.sessions.Put(sess)
	return m.confirmPrompt(ctx, sess)
}

func (m *Manager) confirm(ctx context.Context, sess *Session, text string) (Turn, error) {
	t := strings.ToLower(strings.TrimSpace(text))
	switch {
	case isAffirmative(t):
		return m.commit(ctx, sess)
	case strings.Contains(t, "goal"):
		sess.Stage = StageCollectingGoal
		sess.Goal = ""
		m.sessions.Put(sess)
		return Turn{Reply: "Sure - what's the goal instead?"}, nil
	case strings.Contains(t, "amount") || strings.Contains(t, "stake") || strings.Contains(t, "money"):
		sess.Stage = StageCollectingAmount
		sess.Amount = 0
		sess.StakeAll = false
		m.sessions.Put(sess)
		return Turn{Reply: "Okay - how much do you want to stake instead?"}, nil
	case strings.Contains(t, "frequen") || strings.Contains(t, "recur") || strings.Contains(t, "schedule"):
		sess.Stage = StageChoosingRecurrence
		sess.Recurrence = ""
		m.sessions.Put(sess)
		return Turn{Reply: "Okay - one-time or recurring?"}, nil
	case t == "no" || t == "n" || strings.Contains(t, "edit") || strings.Contains(t, "change"):
		return Turn{Reply: "What should I change - the goal, the amount, or the frequency?"}, nil
	default:
		return Turn{Reply: "Reply \"yes\" to lock it in, or tell me what to change (goal, amount, or frequency)."}, nil
	}
}

func (m *Manager) commit(ctx context.Context, sess *Session) (Turn, error) {
	if sess.StakeAll {
		// Re-read at commit time so "all" means the balance as of now.
		balance, err := m.ledger.Balance(ctx, sess.UserID)
		if err != nil {
			return Turn{}, err
		}
		sess.Amount = balance
	}

	deadline := deadlineFor(sess.Recurrence, time.Now().UTC())
	c, err := m.ledger.CreateCommitment(ctx, sess.UserID, sess.Goal, sess.Amount, sess.Recurrence, deadline)
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		balance, berr := m.ledger.Balance(ctx, sess.UserID)
		if berr != nil {
			balance = 0
		}
		sess.Stage = StageCollectingAmount
		sess.Amount = 0
		sess.StakeAll = false
		m.sessions.Put(sess)
		return Turn{Reply: fmt.Sprintf("Your balance changed - you only have ₹%d available now. How much do you want to stake?", balance)}, nil
	}
	if err != nil {
		return Turn{}, err
	}

	m.sessions.Delete(sess.UserID)
	m.log.Info("dialogue committed",
		zap.String("user_id", string(sess.UserID)),
		zap.String("commitment_id", c.ID))
	return Turn{
		Done:       true,
		Commitment: c,
		Reply: fmt.Sprintf("Locked in! ₹%d is riding on \"%s\" (%s). Complete it by %s and you get ₹%d back plus a bonus. Good luck!",
			c.Stake, c.Goal, recurrenceLabel(c.Recurrence), c.Deadline.Format("Mon, 2 Jan 3:04 PM"), c.Stake),
	}, nil
}

// advanceStage moves the session to the first stage whose slot is missing.
func (m *Manager) advanceStage(sess *Session) {
	switch {
	case sess.Goal == "":
		sess.Stage = StageCollectingGoal
	case sess.Amount <= 0 && !sess.StakeAll:
		sess.Stage = StageCollectingAmount
	case sess.Recurrence == "":
		sess.Stage = StageChoosingRecurrence
	default:
		sess.Stage = StageConfirming
	}
}

func (m *Manager) prompt(sess *Session) string {
	switch sess.Stage {
	case StageCollectingGoal:
		return "Let's set up your commitment. What's the goal?"
	case StageCollectingAmount:
		return fmt.Sprintf("Got it: \"%s\". How much are you staking? (a number in rupees, or \"all\")", sess.Goal)
	case StageChoosingRecurrence:
		return "Is this a one-time goal or recurring?"
	case StageCollectingFrequency:
		return "How often? daily, weekly, twice a week, or thrice a week?"
	}
	return ""
}

func (m *Manager) confirmPrompt(ctx context.Context, sess *Session) (Turn, error) {
	amount := sess.Amount
	if sess.StakeAll {
		balance, err := m.ledger.Balance(ctx, sess.UserID)
		if err != nil {
			return Turn{}, err
		}
		amount = balance
	}
	return Turn{Reply: fmt.Sprintf("Here's the deal: \"%s\", ₹%d at stake, %s. Say \"yes\" to lock it in, or tell me what to change.",
		sess.Goal, amount, recurrenceLabel(sess.Recurrence))}, nil
}

var currencyRe = regexp.MustCompile(`(?i)(₹|rs\.?|inr|rupees?)`)
var numberRe = regexp.MustCompile(`\d[\d,]*`)

// ParseAmount interprets free text as a stake amount against the available
// balance. "all" (and variants) stakes the whole balance. Violations come
// back as a *ValidationError naming the problem and the limit.
func ParseAmount(text string, balance int64) (int64, bool, *ValidationError) {
	t := strings.ToLower(strings.TrimSpace(text))
	t = currencyRe.ReplaceAllString(t, "")
	t = strings.TrimSpace(t)

	switch t {
	case "all", "everything", "all in", "full balance", "my entire balance":
		return 0, true, nil
	}

	raw := numberRe.FindString(t)
	if raw == "" {
		return 0, false, &ValidationError{Reason: "I need a number in rupees (e.g. \"100\" or \"₹250\"), or \"all\" to stake your whole balance."}
	}
	n, err := strconv.ParseInt(strings.ReplaceAll(raw, ",", ""), 10, 64)
	if err != nil || n <= 0 {
		return 0, false, &ValidationError{Reason: "The stake has to be a positive amount. How much do you want to put on the line?"}
	}
	if n > balance {
		return 0, false, &ValidationError{Reason: fmt.Sprintf("That's more than you have - your balance is ₹%d. Pick an amount up to ₹%d, or say \"add funds\".", balance, balance)}
	}
	return n, false, nil
}

// ParseNumeric pulls a bare positive rupee amount out of free text. Unlike
// ParseAmount it carries no balance or stake-all semantics; callers own
// their own range checks.
func ParseNumeric(text string) (int64, bool) {
	t := currencyRe.ReplaceAllString(strings.ToLower(text), "")
	raw := numberRe.FindString(t)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.ReplaceAll(raw, ",", ""), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func parseRecurrence(text string) (domain.Recurrence, bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	switch {
	case t == "":
		return "", false
	case strings.Contains(t, "thrice") || strings.Contains(t, "three times") || strings.Contains(t, "3 times") || strings.Contains(t, "3x"):
		return domain.RecurrenceThriceWeekly, true
	case strings.Contains(t, "twice") || strings.Contains(t, "two times") || strings.Contains(t, "2 times") || strings.Contains(t, "2x"):
		return domain.RecurrenceTwiceWeekly, true
	case strings.Contains(t, "daily") || strings.Contains(t, "every day") || strings.Contains(t, "everyday"):
		return domain.RecurrenceDaily, true
	case strings.Contains(t, "weekly") || strings.Contains(t, "every week") || strings.Contains(t, "once a week"):
		return domain.RecurrenceWeekly, true
	case strings.Contains(t, "one-time") || strings.Contains(t, "one time") || strings.Contains(t, "onetime"):
		return domain.RecurrenceOneTime, true
	}
	return "", false
}

func isAffirmative(t string) bool {
	switch t {
	case "yes", "y", "yep", "yeah", "yup", "sure", "ok", "okay", "confirm", "confirmed", "lock it in", "deal", "done":
		return true
	}
	return false
}

// deadlineFor derives the first deadline from the recurrence: daily goals end
// at midnight, weekly ones a week out, one-time goals get 24 hours.
func deadlineFor(r domain.Recurrence, now time.Time) time.Time {
	switch r {
	case domain.RecurrenceDaily:
		y, mo, d := now.Date()
		return time.Date(y, mo, d, 23, 59, 59, 0, now.Location())
	case domain.RecurrenceWeekly, domain.RecurrenceTwiceWeekly, domain.RecurrenceThriceWeekly:
		return now.Add(7 * 24 * time.Hour)
	default:
		return now.Add(24 * time.Hour)
	}
}

func recurrenceLabel(r domain.Recurrence) string {
	switch r {
	case domain.RecurrenceOneTime:
		return "one-time"
	case domain.RecurrenceDaily:
		return "daily"
	case domain.RecurrenceWeekly:
		return "weekly"
	case domain.RecurrenceTwiceWeekly:
		return "twice a week"
	case domain.RecurrenceThriceWeekly:
		return "thrice a week"
	}
	return string(r)
}
