package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/punchamoorthee/bettask/internal/domain"
	"github.com/punchamoorthee/bettask/internal/ledger"
)

// Memory is an in-process ledger.Store backed by maps under a single mutex.
// It carries the same atomicity guarantees as the Postgres store and is the
// substrate for tests and local development.
type Memory struct {
	mu           sync.Mutex
	users        map[domain.UserID]*domain.User
	commitments  map[string]*domain.Commitment
	transactions []domain.LedgerTransaction
	deposits     map[string]*domain.DepositRequest
	audits       []domain.ReconcileAudit
	nextTxID     int64
	nextAuditID  int64
}

func NewMemory() *Memory {
	return &Memory{
		users:       make(map[domain.UserID]*domain.User),
		commitments: make(map[string]*domain.Commitment),
		deposits:    make(map[string]*domain.DepositRequest),
	}
}

func (s *Memory) EnsureUser(_ context.Context, id domain.UserID) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	u := &domain.User{ID: id, Balance: 0, CreatedAt: time.Now().UTC()}
	s.users[id] = u
	cp := *u
	return &cp, nil
}

func (s *Memory) GetUser(_ context.Context, id domain.UserID) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ledger.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Memory) ApplyCredit(_ context.Context, userID domain.UserID, amount int64, t domain.TransactionType, commitmentID, desc string) (*domain.LedgerTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyDeltaLocked(userID, amount, t, commitmentID, desc)
}

func (s *Memory) ApplyDebit(_ context.Context, userID domain.UserID, amount int64, t domain.TransactionType, commitmentID, desc string) (*domain.LedgerTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyDeltaLocked(userID, -amount, t, commitmentID, desc)
}

func (s *Memory) applyDeltaLocked(userID domain.UserID, delta int64, t domain.TransactionType, commitmentID, desc string) (*domain.LedgerTransaction, error) {
	u, ok := s.users[userID]
	if !ok {
		return nil, ledger.ErrUserNotFound
	}
	if delta < 0 && u.Balance+delta < 0 {
		return nil, ledger.ErrInsufficientFunds
	}
	s.nextTxID++
	row := domain.LedgerTransaction{
		ID:           s.nextTxID,
		UserID:       userID,
		Amount:       delta,
		Type:         t,
		CommitmentID: commitmentID,
		Description:  desc,
		CreatedAt:    time.Now().UTC(),
	}
	s.transactions = append(s.transactions, row)
	u.Balance += delta
	cp := row
	return &cp, nil
}

func (s *Memory) StakeCommitment(_ context.Context, c *domain.Commitment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[c.UserID]
	if !ok {
		return ledger.ErrUserNotFound
	}
	if u.Balance < c.Stake {
		return ledger.ErrInsufficientFunds
	}
	cp := *c
	s.commitments[c.ID] = &cp
	if _, err := s.applyDeltaLocked(c.UserID, -c.Stake, domain.TxDeduction, c.ID,
		fmt.Sprintf("Stake locked: %s", c.Goal)); err != nil {
		delete(s.commitments, c.ID)
		return err
	}
	return nil
}

func (s *Memory) ResolveCommitment(_ context.Context, id string, next domain.CommitmentStatus, effect ledger.ResolveFunc) (*domain.Commitment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commitments[id]
	if !ok {
		return nil, ledger.ErrCommitmentNotFound
	}
	if c.Status.IsTerminal() {
		return nil, ledger.ErrAlreadyResolved
	}
	if !domain.CanTransition(c.Status, next) {
		return nil, fmt.Errorf("%w: %s -> %s", ledger.ErrInvalidTransition, c.Status, next)
	}

	snapshot := *c
	if credit, creditType, desc := effect(&snapshot); credit > 0 {
		if _, err := s.applyDeltaLocked(c.UserID, credit, creditType, c.ID, desc); err != nil {
			return nil, err
		}
	}
	c.Status = next
	cp := *c
	return &cp, nil
}

func (s *Memory) GetCommitment(_ context.Context, id string) (*domain.Commitment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commitments[id]
	if !ok {
		return nil, ledger.ErrCommitmentNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Memory) ListCommitments(_ context.Context, userID domain.UserID, status domain.CommitmentStatus, limit int) ([]domain.Commitment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Commitment
	for _, c := range s.commitments {
		if c.UserID != userID {
			continue
		}
		if status != "" && c.Status != status {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) ListOverdue(_ context.Context, now time.Time) ([]domain.Commitment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Commitment
	for _, c := range s.commitments {
		if c.Status != domain.StatusActive && c.Status != domain.StatusPendingVerification {
			continue
		}
		if c.Deadline.Before(now) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	return out, nil
}

func (s *Memory) ListTransactions(_ context.Context, userID domain.UserID, limit int) ([]domain.LedgerTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LedgerTransaction
	for i := len(s.transactions) - 1; i >= 0; i-- {
		if s.transactions[i].UserID != userID {
			continue
		}
		out = append(out, s.transactions[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Memory) SumTransactions(_ context.Context, userID domain.UserID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, t := range s.transactions {
		if t.UserID == userID {
			sum += t.Amount
		}
	}
	return sum, nil
}

func (s *Memory) CreateDeposit(_ context.Context, d *domain.DepositRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.deposits[d.ID] = &cp
	return nil
}

func (s *Memory) LatestPendingDeposit(_ context.Context, userID domain.UserID) (*domain.DepositRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *domain.DepositRequest
	for _, d := range s.deposits {
		if d.UserID != userID || d.Status != domain.DepositPending {
			continue
		}
		if latest == nil || d.CreatedAt.After(latest.CreatedAt) {
			latest = d
		}
	}
	if latest == nil {
		return nil, ledger.ErrDepositNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *Memory) SettleDeposit(_ context.Context, id string, status domain.DepositStatus, credit int64, desc string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deposits[id]
	if !ok {
		return ledger.ErrDepositNotFound
	}
	if d.Status != domain.DepositPending {
		return ledger.ErrConflict
	}
	if status == domain.DepositApproved && credit > 0 {
		if _, err := s.applyDeltaLocked(d.UserID, credit, domain.TxDeposit, "", desc); err != nil {
			return err
		}
	}
	d.Status = status
	return nil
}

func (s *Memory) RecordAudit(_ context.Context, a *domain.ReconcileAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAuditID++
	cp := *a
	cp.ID = s.nextAuditID
	cp.CreatedAt = time.Now().UTC()
	s.audits = append(s.audits, cp)
	return nil
}

// Audits returns a copy of the recorded reconciliation decisions.
func (s *Memory) Audits() []domain.ReconcileAudit {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ReconcileAudit, len(s.audits))
	copy(out, s.audits)
	return out
}
