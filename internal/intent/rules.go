package intent

import (
	"regexp"
	"strconv"
	"strings"
)

// rule is one row of the deterministic tier: a predicate over the lowercased
// message, the intent it yields, a fixed confidence, and an optional slot
// extractor. Rules are evaluated in table order; the first match wins.
type rule struct {
	name       string
	match      func(m string) bool
	intent     Intent
	confidence float64
	extract    func(m string, s *Slots)
}

var amountRe = regexp.MustCompile(`\d[\d,]*`)

// tier1Rules is ordered by priority: escape intents first, then explicit
// commands, then domain-keyword matches.
var tier1Rules = []rule{
	{
		name: "help",
		match: exactIn("help", "help me", "commands", "menu", "instructions",
			"what can you do", "?"),
		intent:     IntentHelp,
		confidence: 0.95,
	},
	{
		name: "cancel",
		match: exactIn("cancel", "stop", "exit", "quit", "abort", "nevermind",
			"never mind", "cancel conversation"),
		intent:     IntentCancel,
		confidence: 0.95,
	},
	{
		name: "balance",
		match: exactIn("balance", "wallet", "check balance", "my balance",
			"my wallet", "money", "funds", "check wallet", "account",
			"how much money"),
		intent:     IntentBalance,
		confidence: 0.95,
	},
	{
		name: "history",
		match: containsAny("history", "transactions", "transaction history",
			"payment history", "past transactions"),
		intent:     IntentHistory,
		confidence: 0.95,
	},
	{
		name: "cancel commitment",
		match: containsAny("cancel challenge", "cancel my challenge",
			"cancel commitment", "cancel my commitment", "cancel my bet",
			"cancel the challenge"),
		intent:     IntentCancelCommitment,
		confidence: 0.9,
		extract:    extractAmount, // the challenge number, when given
	},
	{
		name: "list commitments",
		match: containsAny("my challenges", "my commitments", "list challenges",
			"show challenges", "view challenges", "my bets", "my goals",
			"active challenges"),
		intent:     IntentListCommitments,
		confidence: 0.95,
	},
	{
		name: "add funds",
		match: containsAny("add funds", "deposit", "add money", "put money",
			"recharge", "top up"),
		intent:     IntentAddFunds,
		confidence: 0.95,
	},
	{
		name:       "withdraw",
		match:      containsAny("withdraw", "cash out"),
		intent:     IntentWithdraw,
		confidence: 0.9,
		extract:    extractAmount,
	},
	{
		name: "information request",
		match: containsAny("how to", "how do i", "how can i", "what is",
			"where to", "where do i", "explain", "tell me about"),
		intent:     IntentInfoRequest,
		confidence: 0.9,
	},
	{
		name: "completion claim",
		match: containsAny("i completed", "i finished", "i did", "submit proof",
			"submit my proof", "verify my", "verification"),
		intent:     IntentCompletionClaim,
		confidence: 0.9,
	},
	{
		name: "explicit create command",
		match: containsAny("create challenge", "new challenge", "make challenge",
			"start challenge", "create commitment", "new commitment",
			"create bet", "new bet", "make bet", "i want to bet",
			"i would like to bet", "i wanna bet", "let me bet", "can i bet"),
		intent:     IntentCreateCommitment,
		confidence: 0.95,
	},
	{
		name:       "bare bet",
		match:      exactIn("bet", "betting", "i bet", "lets bet", "let's bet"),
		intent:     IntentCreateCommitment,
		confidence: 0.9,
	},
	{
		name: "stake all",
		match: containsAny("bet all", "stake all", "all in", "bet everything",
			"bet my entire balance", "bet full balance"),
		intent:     IntentStakeAll,
		confidence: 0.95,
		extract:    extractGoalAfterOn,
	},
	{
		name: "stake with goal",
		match: func(m string) bool {
			return amountRe.MatchString(m) && containsAny("bet", "wager", "stake", "challenge")(m)
		},
		intent:     IntentCreateCommitment,
		confidence: 0.85,
		extract: func(m string, s *Slots) {
			extractAmount(m, s)
			s.Goal = StripStakePhrases(m)
		},
	},
	{
		name: "bare amount",
		match: func(m string) bool {
			return amountRe.MatchString(m) && len(m) < 10
		},
		intent:     IntentStakeAmount,
		confidence: 0.8,
		extract:    extractAmount,
	},
}

// EvalRules runs the Tier 1 table over text. Pure: same text, same result.
func EvalRules(text string) Result {
	m := strings.ToLower(strings.TrimSpace(text))
	for _, r := range tier1Rules {
		if r.match(m) {
			res := Result{Intent: r.intent, Confidence: r.confidence, Tier: 1}
			if r.extract != nil {
				r.extract(m, &res.Slots)
			}
			// A stake rule that found no usable goal stays an amount-only slot fill.
			if r.name == "stake with goal" && len(res.Slots.Goal) <= 3 {
				res.Intent = IntentStakeAmount
				res.Slots.Goal = ""
			}
			return res
		}
	}
	return Result{Intent: IntentUnknown, Confidence: 0.5, Tier: 1}
}

func exactIn(options ...string) func(string) bool {
	set := make(map[string]struct{}, len(options))
	for _, o := range options {
		set[o] = struct{}{}
	}
	return func(m string) bool {
		_, ok := set[m]
		return ok
	}
}

func containsAny(subs ...string) func(string) bool {
	return func(m string) bool {
		for _, s := range subs {
			if strings.Contains(m, s) {
				return true
			}
		}
		return false
	}
}

func extractAmount(m string, s *Slots) {
	raw := amountRe.FindString(m)
	if raw == "" {
		return
	}
	n, err := strconv.ParseInt(strings.ReplaceAll(raw, ",", ""), 10, 64)
	if err != nil {
		return
	}
	s.Amount = n
	s.HasAmount = true
}

func extractGoalAfterOn(m string, s *Slots) {
	if _, after, ok := strings.Cut(m, " on "); ok {
		if goal := strings.TrimSpace(after); len(goal) > 3 {
			s.Goal = goal
		}
	}
}

var stakeWordsRe = regexp.MustCompile(`(?i)\b(bet|betting|wager|stake|challenge|rs|inr|rupees)\b`)

var fillerPrefixRe = regexp.MustCompile(`(?i)^(i will|i want to|i would like to|i am going to|i'm going to|i plan to|i intend to|my goal is to|my goal is|please create a challenge|create challenge:|new challenge:)\s*`)

// StripStakePhrases removes amounts, currency markers, and staking keywords,
// leaving the goal text a message was wrapped around.
func StripStakePhrases(m string) string {
	out := amountRe.ReplaceAllString(m, "")
	out = strings.ReplaceAll(out, "₹", "")
	out = stakeWordsRe.ReplaceAllString(out, "")
	goal := NormalizeGoal(out)
	goal = strings.TrimSpace(strings.TrimPrefix(goal, "on "))
	return goal
}

// NormalizeGoal strips filler prefixes and tidies whitespace and dangling
// punctuation. An empty result means the text held no concrete goal.
func NormalizeGoal(text string) string {
	out := strings.TrimSpace(text)
	for {
		next := fillerPrefixRe.ReplaceAllString(out, "")
		next = strings.TrimSpace(next)
		if next == out {
			break
		}
		out = next
	}
	out = strings.Join(strings.Fields(out), " ")
	return strings.Trim(out, " ,.!-")
}
