package ledger

import "errors"

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrCommitmentNotFound = errors.New("commitment not found")
	// ErrAlreadyResolved guards terminal commitments against a second credit:
	// re-invoking a terminal transition is a conflict, never a mutation.
	ErrAlreadyResolved   = errors.New("commitment already resolved")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDepositNotFound   = errors.New("no pending deposit request")
	ErrConflict          = errors.New("concurrent update conflict")
	// ErrConsistency marks a mutation that would break the balance/log
	// invariant. It is never swallowed: the mutation aborts and the error is
	// surfaced for operational reconciliation.
	ErrConsistency = errors.New("ledger consistency violation")
)
