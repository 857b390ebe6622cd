package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalRules_Table(t *testing.T) {
	tests := []struct {
		text   string
		intent Intent
	}{
		{"help", IntentHelp},
		{"?", IntentHelp},
		{"what can you do", IntentHelp},
		{"cancel", IntentCancel},
		{"nevermind", IntentCancel},
		{"balance", IntentBalance},
		{"my wallet", IntentBalance},
		{"show my transaction history", IntentHistory},
		{"cancel my challenge", IntentCancelCommitment},
		{"my challenges", IntentListCommitments},
		{"add funds", IntentAddFunds},
		{"i want to deposit money", IntentAddFunds},
		{"withdraw 200", IntentWithdraw},
		{"how do i play", IntentInfoRequest},
		{"i completed my goal", IntentCompletionClaim},
		{"create challenge", IntentCreateCommitment},
		{"i want to bet", IntentCreateCommitment},
		{"bet", IntentCreateCommitment},
		{"bet all on finishing my thesis", IntentStakeAll},
		{"bet 100 on going to the gym", IntentCreateCommitment},
		{"250", IntentStakeAmount},
		{"₹500", IntentStakeAmount},
		{"what a lovely afternoon", IntentUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.text, func(t *testing.T) {
			res := EvalRules(tc.text)
			assert.Equal(t, tc.intent, res.Intent)
			assert.Equal(t, 1, res.Tier)
		})
	}
}

func TestEvalRules_CancelRulesBeatStakeRules(t *testing.T) {
	// "cancel my bet" contains "bet" but the cancel-commitment rule sits
	// earlier in the table than the stake rules.
	res := EvalRules("cancel my bet")
	assert.Equal(t, IntentCancelCommitment, res.Intent)
}

func TestEvalRules_StakeWithGoalExtractsSlots(t *testing.T) {
	res := EvalRules("bet 100 on going to the gym every day")
	require.Equal(t, IntentCreateCommitment, res.Intent)
	assert.True(t, res.Slots.HasAmount)
	assert.Equal(t, int64(100), res.Slots.Amount)
	assert.Equal(t, "going to the gym every day", res.Slots.Goal)
}

func TestEvalRules_StakeWithoutUsableGoalDemotes(t *testing.T) {
	res := EvalRules("bet 100")
	require.Equal(t, IntentStakeAmount, res.Intent)
	assert.True(t, res.Slots.HasAmount)
	assert.Equal(t, int64(100), res.Slots.Amount)
	assert.Empty(t, res.Slots.Goal)
}

func TestEvalRules_CommaSeparatedAmount(t *testing.T) {
	res := EvalRules("1,500")
	require.Equal(t, IntentStakeAmount, res.Intent)
	assert.Equal(t, int64(1500), res.Slots.Amount)
}

func TestEvalRules_Deterministic(t *testing.T) {
	for i := 0; i < 50; i++ {
		res := EvalRules("bet 100 on reading 20 pages")
		assert.Equal(t, IntentCreateCommitment, res.Intent)
		assert.Equal(t, int64(100), res.Slots.Amount)
	}
}

func TestNormalizeGoal(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"i want to go to the gym", "go to the gym"},
		{"I will read 20 pages", "read 20 pages"},
		{"i want to i will go running", "go running"}, // stacked fillers
		{"  finish the report!  ", "finish the report"},
		{"my goal is to meditate daily", "meditate daily"},
		{"i want to", ""},
		{"", ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, NormalizeGoal(tc.in), "in %q", tc.in)
	}
}

func TestStripStakePhrases(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"bet 100 on going to the gym", "going to the gym"},
		{"stake ₹250 on reading", "reading"},
		{"i want to bet 50 rs on waking up early", "waking up early"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, StripStakePhrases(tc.in), "in %q", tc.in)
	}
}

func TestFallback(t *testing.T) {
	t.Run("commitment keywords bias toward creation", func(t *testing.T) {
		res := Fallback("i will hit the gym every day this month")
		require.Equal(t, IntentCreateCommitment, res.Intent)
		assert.Equal(t, 0.7, res.Confidence) // two keyword hits
		assert.Equal(t, 3, res.Tier)
	})

	t.Run("single keyword gets lower confidence", func(t *testing.T) {
		res := Fallback("thinking about the gym")
		require.Equal(t, IntentCreateCommitment, res.Intent)
		assert.Equal(t, 0.6, res.Confidence)
	})

	t.Run("bare number without keywords", func(t *testing.T) {
		res := Fallback("maybe something like 300 then")
		require.Equal(t, IntentStakeAmount, res.Intent)
		assert.Equal(t, int64(300), res.Slots.Amount)
	})

	t.Run("money words without commitment words", func(t *testing.T) {
		res := Fallback("where did my rupees go")
		assert.Equal(t, IntentBalance, res.Intent)
	})

	t.Run("nothing recognizable", func(t *testing.T) {
		res := Fallback("asdf qwerty")
		assert.Equal(t, IntentUnknown, res.Intent)
		assert.Equal(t, 0.5, res.Confidence)
	})

	t.Run("deterministic", func(t *testing.T) {
		first := Fallback("i plan to study for the exam")
		for i := 0; i < 20; i++ {
			assert.Equal(t, first, Fallback("i plan to study for the exam"))
		}
	})
}
