// Package ledger owns all money movement. Stakes are locked exactly once at
// commitment creation and released exactly once at a terminal transition;
// the transaction log is the source of truth for every balance.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/punchamoorthee/bettask/internal/domain"
)

type Service struct {
	store     Store
	bonusRate float64
	log       *zap.Logger
}

func NewService(store Store, bonusRate float64, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, bonusRate: bonusRate, log: log}
}

func (s *Service) EnsureUser(ctx context.Context, id domain.UserID) (*domain.User, error) {
	return s.store.EnsureUser(ctx, id)
}

func (s *Service) Balance(ctx context.Context, id domain.UserID) (int64, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return 0, err
	}
	return u.Balance, nil
}

// CreateCommitment stakes a new commitment: the commitment row, the balance
// debit and the deduction log row are applied in one atomic operation.
func (s *Service) CreateCommitment(ctx context.Context, userID domain.UserID, goal string, stake int64, recurrence domain.Recurrence, deadline time.Time) (*domain.Commitment, error) {
	if stake <= 0 {
		return nil, fmt.Errorf("stake must be positive, got %d", stake)
	}
	c := &domain.Commitment{
		ID:         uuid.NewString(),
		UserID:     userID,
		Goal:       goal,
		Stake:      stake,
		Recurrence: recurrence,
		Deadline:   deadline,
		Status:     domain.StatusActive,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.StakeCommitment(ctx, c); err != nil {
		return nil, err
	}
	s.log.Info("commitment staked",
		zap.String("commitment_id", c.ID),
		zap.String("user_id", string(userID)),
		zap.Int64("stake", stake))
	return c, nil
}

// Transition moves a commitment to next and applies the single ledger effect
// that transition carries: completed credits stake plus the completion bonus
// as a reward, cancelled refunds the stake, failed forfeits it. Ledger
// mutations are never retried here; callers handle failures explicitly.
func (s *Service) Transition(ctx context.Context, id string, next domain.CommitmentStatus) (*domain.Commitment, int64, error) {
	if !next.IsTerminal() && next != domain.StatusPendingVerification {
		return nil, 0, fmt.Errorf("%w: %s is not a valid target", ErrInvalidTransition, next)
	}

	var credited int64
	c, err := s.store.ResolveCommitment(ctx, id, next, func(c *domain.Commitment) (int64, domain.TransactionType, string) {
		switch next {
		case domain.StatusCompleted:
			credited = c.Stake + int64(math.Round(float64(c.Stake)*s.bonusRate))
			return credited, domain.TxReward, fmt.Sprintf("Reward for completed commitment: %s", c.Goal)
		case domain.StatusCancelled:
			credited = c.Stake
			return credited, domain.TxRefund, fmt.Sprintf("Refund for cancelled commitment: %s", c.Goal)
		default:
			// failed and pending_verification carry no ledger effect.
			return 0, "", ""
		}
	})
	if err != nil {
		return nil, 0, err
	}
	s.log.Info("commitment transitioned",
		zap.String("commitment_id", id),
		zap.String("status", string(next)),
		zap.Int64("credited", credited))
	return c, credited, nil
}

// ExpireOverdue fails every unresolved commitment whose deadline has passed,
// forfeiting the stakes. That covers active commitments and claims still
// parked in pending_verification, so an unverified claim cannot lock a stake
// forever. Already-resolved commitments are skipped, not errors.
func (s *Service) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	overdue, err := s.store.ListOverdue(ctx, now)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, c := range overdue {
		if _, _, err := s.Transition(ctx, c.ID, domain.StatusFailed); err != nil {
			if errors.Is(err, ErrAlreadyResolved) {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// Credit adds amount to the wallet with a log row of the given type.
func (s *Service) Credit(ctx context.Context, userID domain.UserID, amount int64, t domain.TransactionType, desc string) error {
	if amount <= 0 {
		return fmt.Errorf("%w: credit amount must be positive", ErrConsistency)
	}
	_, err := s.store.ApplyCredit(ctx, userID, amount, t, "", desc)
	return err
}

// Debit removes amount from the wallet with a log row of the given type.
func (s *Service) Debit(ctx context.Context, userID domain.UserID, amount int64, t domain.TransactionType, desc string) error {
	if amount <= 0 {
		return fmt.Errorf("%w: debit amount must be positive", ErrConsistency)
	}
	_, err := s.store.ApplyDebit(ctx, userID, amount, t, "", desc)
	return err
}

func (s *Service) Commitment(ctx context.Context, id string) (*domain.Commitment, error) {
	return s.store.GetCommitment(ctx, id)
}

func (s *Service) ActiveCommitments(ctx context.Context, userID domain.UserID) ([]domain.Commitment, error) {
	return s.store.ListCommitments(ctx, userID, domain.StatusActive, 50)
}

// PendingVerifications lists the user's commitments awaiting proof review.
func (s *Service) PendingVerifications(ctx context.Context, userID domain.UserID) ([]domain.Commitment, error) {
	return s.store.ListCommitments(ctx, userID, domain.StatusPendingVerification, 50)
}

func (s *Service) Transactions(ctx context.Context, userID domain.UserID, limit int) ([]domain.LedgerTransaction, error) {
	return s.store.ListTransactions(ctx, userID, limit)
}

// RecomputeBalance folds the transaction log and compares it against the
// cached balance, returning ErrConsistency on divergence.
func (s *Service) RecomputeBalance(ctx context.Context, userID domain.UserID) (int64, error) {
	sum, err := s.store.SumTransactions(ctx, userID)
	if err != nil {
		return 0, err
	}
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	if u.Balance != sum {
		return sum, fmt.Errorf("%w: cached balance %d, log sum %d", ErrConsistency, u.Balance, sum)
	}
	return sum, nil
}

// OpenDeposit records an expected inbound payment awaiting proof.
func (s *Service) OpenDeposit(ctx context.Context, userID domain.UserID, amount int64) (*domain.DepositRequest, error) {
	d := &domain.DepositRequest{
		ID:        uuid.NewString(),
		UserID:    userID,
		Amount:    amount,
		Status:    domain.DepositPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateDeposit(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) PendingDeposit(ctx context.Context, userID domain.UserID) (*domain.DepositRequest, error) {
	return s.store.LatestPendingDeposit(ctx, userID)
}

// ApproveDeposit settles the request and credits the wallet atomically.
func (s *Service) ApproveDeposit(ctx context.Context, id string, credit int64) error {
	if credit <= 0 {
		return fmt.Errorf("%w: deposit credit must be positive", ErrConsistency)
	}
	return s.store.SettleDeposit(ctx, id, domain.DepositApproved, credit, fmt.Sprintf("Deposit credit - request %s", id))
}

// RejectDeposit settles the request with no credit.
func (s *Service) RejectDeposit(ctx context.Context, id string) error {
	return s.store.SettleDeposit(ctx, id, domain.DepositRejected, 0, "")
}

func (s *Service) RecordAudit(ctx context.Context, a *domain.ReconcileAudit) error {
	return s.store.RecordAudit(ctx, a)
}
