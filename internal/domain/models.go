package domain

import (
	"time"
)

// UserID identifies a wallet owner. The host derives it from whatever
// identity the transport provides (phone number, chat id).
type UserID string

// User represents a wallet owner. Balance is a cached projection of the
// transaction log, never a second source of truth.
type User struct {
	ID        UserID    `json:"id"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

// CommitmentStatus is the lifecycle state of a commitment.
type CommitmentStatus string

const (
	StatusActive              CommitmentStatus = "active"
	StatusPendingVerification CommitmentStatus = "pending_verification"
	StatusCompleted           CommitmentStatus = "completed"
	StatusFailed              CommitmentStatus = "failed"
	StatusCancelled           CommitmentStatus = "cancelled"
)

// IsTerminal reports whether s admits no further transitions.
func (s CommitmentStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a permitted status change.
// Permitted: active -> {completed, failed, cancelled, pending_verification},
// pending_verification -> {completed, failed}.
func CanTransition(from, to CommitmentStatus) bool {
	switch from {
	case StatusActive:
		return to == StatusCompleted || to == StatusFailed ||
			to == StatusCancelled || to == StatusPendingVerification
	case StatusPendingVerification:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}

// Recurrence describes how often a commitment repeats.
type Recurrence string

const (
	RecurrenceOneTime      Recurrence = "one-time"
	RecurrenceDaily        Recurrence = "daily"
	RecurrenceWeekly       Recurrence = "weekly"
	RecurrenceTwiceWeekly  Recurrence = "twice_weekly"
	RecurrenceThriceWeekly Recurrence = "thrice_weekly"
)

// Commitment is a user's self-imposed goal backed by a locked stake.
// Rows are append-only: status changes, but commitments are never deleted.
type Commitment struct {
	ID         string           `json:"id"`
	UserID     UserID           `json:"user_id"`
	Goal       string           `json:"goal"`
	Stake      int64            `json:"stake"`
	Recurrence Recurrence       `json:"recurrence"`
	Deadline   time.Time        `json:"deadline"`
	Status     CommitmentStatus `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
}

// TransactionType classifies a ledger transaction.
type TransactionType string

const (
	TxDeposit    TransactionType = "deposit"
	TxWithdrawal TransactionType = "withdrawal"
	TxDeduction  TransactionType = "deduction"
	TxRefund     TransactionType = "refund"
	TxReward     TransactionType = "reward"
)

// LedgerTransaction is one immutable row of the balance log. The signed
// Amount is positive for credits and negative for debits; the log is the
// source of truth for every balance.
type LedgerTransaction struct {
	ID           int64           `json:"id"`
	UserID       UserID          `json:"user_id"`
	Amount       int64           `json:"amount"`
	Type         TransactionType `json:"type"`
	CommitmentID string          `json:"commitment_id,omitempty"`
	Description  string          `json:"description,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// DepositStatus is the lifecycle state of a deposit request.
type DepositStatus string

const (
	DepositPending  DepositStatus = "pending"
	DepositApproved DepositStatus = "approved"
	DepositRejected DepositStatus = "rejected"
)

// DepositRequest records an expected inbound payment awaiting proof.
type DepositRequest struct {
	ID        string        `json:"id"`
	UserID    UserID        `json:"user_id"`
	Amount    int64         `json:"amount"`
	Status    DepositStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// ReconcileAudit is the durable trace of one reconciliation decision.
// The payment assertion itself is ephemeral; only the decision is kept.
type ReconcileAudit struct {
	ID             int64     `json:"id"`
	UserID         UserID    `json:"user_id"`
	DepositID      string    `json:"deposit_id,omitempty"`
	ExpectedAmount int64     `json:"expected_amount"`
	DetectedAmount float64   `json:"detected_amount"`
	Decision       string    `json:"decision"`
	Concerns       []string  `json:"concerns,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
