// Package intent classifies raw user text into an intent plus extracted
// slots using a tiered strategy: a deterministic rule table, an external
// NLU collaborator, and a generous heuristic fallback.
package intent

// Intent is the internal intent vocabulary.
type Intent string

const (
	IntentHelp             Intent = "help"
	IntentCancel           Intent = "cancel"
	IntentBalance          Intent = "get_balance"
	IntentHistory          Intent = "transaction_history"
	IntentListCommitments  Intent = "list_commitments"
	IntentCancelCommitment Intent = "cancel_commitment"
	IntentAddFunds         Intent = "add_funds"
	IntentWithdraw         Intent = "withdraw_funds"
	IntentCreateCommitment Intent = "create_commitment"
	IntentStakeAmount      Intent = "stake_amount"
	IntentStakeAll         Intent = "stake_all"
	IntentCompletionClaim  Intent = "completion_claim"
	IntentInfoRequest      Intent = "information_request"
	IntentUnknown          Intent = "unknown"
)

// IsEscape reports whether i interrupts an open dialogue session. Escape
// intents tear the session down and are redispatched through normal routing.
func (i Intent) IsEscape() bool {
	switch i {
	case IntentHelp, IntentCancel, IntentBalance, IntentHistory, IntentListCommitments:
		return true
	}
	return false
}

// Slots are the structured values pulled out of free text.
type Slots struct {
	Goal       string
	Amount     int64
	HasAmount  bool
	Recurrence string
}

// Result is a classification outcome. Classify never fails: the zero-value
// unknown intent with low confidence is the worst case.
type Result struct {
	Intent     Intent
	Confidence float64
	Slots      Slots
	Tier       int
}
