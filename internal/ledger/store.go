package ledger

import (
	"context"
	"time"

	"github.com/punchamoorthee/bettask/internal/domain"
)

// ResolveFunc computes the ledger effect of a terminal transition. It runs
// inside the store's transaction, after the commitment row is locked and the
// transition validated, so the effect is applied exactly once. A zero credit
// means no row is written (forfeiture).
type ResolveFunc func(c *domain.Commitment) (credit int64, creditType domain.TransactionType, description string)

// Store is the durable persistence contract for balances, the transaction
// log, commitments, and deposit requests. Every mutating method is atomic:
// the balance change and its log row land together or not at all.
type Store interface {
	// EnsureUser returns the user, creating a zero-balance wallet on first contact.
	EnsureUser(ctx context.Context, id domain.UserID) (*domain.User, error)
	GetUser(ctx context.Context, id domain.UserID) (*domain.User, error)

	// ApplyCredit atomically increments the balance and appends a log row.
	ApplyCredit(ctx context.Context, userID domain.UserID, amount int64, t domain.TransactionType, commitmentID, desc string) (*domain.LedgerTransaction, error)
	// ApplyDebit atomically decrements the balance and appends a log row.
	// Fails with ErrInsufficientFunds when amount exceeds the balance; of two
	// concurrent debits racing for the same funds, exactly one wins.
	ApplyDebit(ctx context.Context, userID domain.UserID, amount int64, t domain.TransactionType, commitmentID, desc string) (*domain.LedgerTransaction, error)

	// StakeCommitment atomically inserts the commitment, debits the stake and
	// appends the deduction row. On ErrInsufficientFunds nothing is observable.
	StakeCommitment(ctx context.Context, c *domain.Commitment) error
	// ResolveCommitment locks the commitment, validates the transition, applies
	// the status change and the resolve effect in one transaction. Terminal
	// commitments yield ErrAlreadyResolved with no mutation.
	ResolveCommitment(ctx context.Context, id string, next domain.CommitmentStatus, effect ResolveFunc) (*domain.Commitment, error)
	GetCommitment(ctx context.Context, id string) (*domain.Commitment, error)
	ListCommitments(ctx context.Context, userID domain.UserID, status domain.CommitmentStatus, limit int) ([]domain.Commitment, error)
	// ListOverdue returns unresolved commitments (active or pending
	// verification) whose deadline is before now.
	ListOverdue(ctx context.Context, now time.Time) ([]domain.Commitment, error)

	ListTransactions(ctx context.Context, userID domain.UserID, limit int) ([]domain.LedgerTransaction, error)
	// SumTransactions folds the log into a balance; the audit ground truth.
	SumTransactions(ctx context.Context, userID domain.UserID) (int64, error)

	CreateDeposit(ctx context.Context, d *domain.DepositRequest) error
	LatestPendingDeposit(ctx context.Context, userID domain.UserID) (*domain.DepositRequest, error)
	// SettleDeposit marks the request and, for approvals, credits the wallet
	// in the same transaction.
	SettleDeposit(ctx context.Context, id string, status domain.DepositStatus, credit int64, desc string) error

	RecordAudit(ctx context.Context, a *domain.ReconcileAudit) error
}
