// Package reconcile decides whether an externally-asserted payment matches
// an expected deposit closely enough to credit a wallet. The decision
// function is pure: identical inputs always yield identical outcomes, and
// crediting is left entirely to the caller.
package reconcile

import (
	"fmt"
	"math"
	"strings"
)

// Status is the transaction state reported by the fact-extraction collaborator.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusPending Status = "PENDING"
	StatusUnknown Status = "UNKNOWN"
)

// NormalizeStatus maps collaborator vocabulary onto the internal Status set.
// Anything unrecognized is UNKNOWN; external output is never trusted blindly.
func NormalizeStatus(raw string) Status {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SUCCESS", "COMPLETED", "DONE":
		return StatusSuccess
	case "FAILED", "FAILURE", "DECLINED":
		return StatusFailed
	case "PENDING", "PROCESSING":
		return StatusPending
	default:
		return StatusUnknown
	}
}

// Expectation is what the wallet owner was asked to pay.
type Expectation struct {
	Amount       float64
	Counterparty string
	WindowHours  int
}

// DetectedFacts is the strict schema for extractor output. Missing fields
// default to zero values, which the decision table treats conservatively.
type DetectedFacts struct {
	Amount        float64
	Counterparty  string
	Status        Status
	WithinWindow  bool
	RawConfidence float64
}

// Decision is the reconciliation outcome class.
type Decision string

const (
	CreditFull    Decision = "credit_full"
	CreditPartial Decision = "credit_partial"
	ManualReview  Decision = "manual_review"
	Reject        Decision = "reject"
)

// Outcome carries the decision, the amount to credit when crediting is
// allowed, and the concerns that justify a review or rejection.
type Outcome struct {
	Decision     Decision
	CreditAmount float64
	Concerns     []string
}

// Reconcile applies the decision table to one payment assertion. When the
// extractor produced nothing usable (nil facts), the outcome is always
// manual review: missing data must neither approve nor reject silently.
func Reconcile(exp Expectation, facts *DetectedFacts) Outcome {
	if facts == nil {
		return Outcome{Decision: ManualReview, Concerns: []string{"extraction unavailable"}}
	}

	cpMatch := CounterpartyMatches(exp.Counterparty, facts.Counterparty)

	var out Outcome
	switch {
	case facts.Status == StatusSuccess && cpMatch && facts.WithinWindow:
		if facts.Amount >= 0.8*exp.Amount {
			if AmountMatches(exp.Amount, facts.Amount) {
				out = Outcome{Decision: CreditFull, CreditAmount: exp.Amount}
			} else {
				// Credit what was actually paid, above or below expectation.
				out = Outcome{Decision: CreditPartial, CreditAmount: facts.Amount}
			}
		} else {
			out = Outcome{
				Decision: ManualReview,
				Concerns: []string{fmt.Sprintf("amount too low: %.2f vs expected %.2f", facts.Amount, exp.Amount)},
			}
		}

	case facts.Status == StatusSuccess:
		var concerns []string
		if !cpMatch {
			concerns = append(concerns, fmt.Sprintf("counterparty mismatch: paid to %q instead of %q", facts.Counterparty, exp.Counterparty))
		}
		if !facts.WithinWindow {
			concerns = append(concerns, fmt.Sprintf("payment timestamp outside the %dh window", exp.WindowHours))
		}
		out = Outcome{Decision: ManualReview, Concerns: concerns}

	default:
		out = Outcome{
			Decision: Reject,
			Concerns: []string{fmt.Sprintf("transaction not successful: %s", facts.Status)},
		}
	}

	// Overpayment override: a successful payment to the right counterparty
	// for more than 110% of the expectation is always credited at the
	// detected amount, whatever the branch above decided.
	if facts.Status == StatusSuccess && cpMatch && facts.Amount > 1.1*exp.Amount {
		out.Decision = CreditPartial
		out.CreditAmount = facts.Amount
	}

	return out
}

// CounterpartyMatches compares payee identifiers: case-insensitive equality,
// substring containment either way, or equality after stripping the
// "@"-delimited suffix from both sides.
func CounterpartyMatches(expected, detected string) bool {
	a := strings.ToLower(strings.TrimSpace(expected))
	b := strings.ToLower(strings.TrimSpace(detected))
	if a == "" || b == "" {
		return false
	}
	if a == b || strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}
	return stripSuffix(a) == stripSuffix(b)
}

func stripSuffix(id string) string {
	if i := strings.Index(id, "@"); i >= 0 {
		return id[:i]
	}
	return id
}

// AmountMatches reports whether the detected amount is within the full-credit
// tolerance: an absolute difference of at most max(10, 5% of expected).
func AmountMatches(expected, detected float64) bool {
	tolerance := math.Max(10, 0.05*expected)
	return math.Abs(detected-expected) <= tolerance
}
