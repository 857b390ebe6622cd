package intent

import (
	"strings"
)

// Commitment-flavored keywords for the heuristic tier. The union score is
// deliberately biased toward commitment creation: when in doubt between
// doing nothing and starting a goal, start the goal.
var commitmentKeywords = []string{
	"i will", "i want to", "i would like to", "i am going to", "i'm going to",
	"i plan to", "i intend to", "my goal", "goal", "gym", "workout", "exercise",
	"read", "study", "finish", "complete", "every day", "daily", "this week",
	"by friday", "by monday", "tomorrow", "today",
}

var moneyKeywords = []string{"₹", "rs", "rupees", "inr", "pay", "paid", "amount"}

// Fallback is the Tier 3 heuristic classifier. Pure function of the text;
// confidence is capped well below the deterministic tier to signal that the
// guess is generous rather than certain.
func Fallback(text string) Result {
	m := strings.ToLower(strings.TrimSpace(text))
	if m == "" {
		return Result{Intent: IntentUnknown, Confidence: 0.5, Tier: 3}
	}

	score := 0
	for _, kw := range commitmentKeywords {
		if strings.Contains(m, kw) {
			score++
		}
	}

	if score > 0 {
		res := Result{Intent: IntentCreateCommitment, Confidence: 0.6, Tier: 3}
		if score >= 2 {
			res.Confidence = 0.7
		}
		if goal := NormalizeGoal(m); goal != "" {
			res.Slots.Goal = goal
		}
		if amountRe.MatchString(m) {
			extractAmount(m, &res.Slots)
		}
		return res
	}

	if amountRe.MatchString(m) {
		res := Result{Intent: IntentStakeAmount, Confidence: 0.6, Tier: 3}
		extractAmount(m, &res.Slots)
		return res
	}

	for _, kw := range moneyKeywords {
		if strings.Contains(m, kw) {
			return Result{Intent: IntentBalance, Confidence: 0.6, Tier: 3}
		}
	}

	return Result{Intent: IntentUnknown, Confidence: 0.5, Tier: 3}
}
