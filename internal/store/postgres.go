package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/bettask/internal/domain"
	"github.com/punchamoorthee/bettask/internal/ledger"
)

// Postgres implements ledger.Store on a pgx pool. Every mutation runs inside
// a single transaction with the user row locked FOR UPDATE, so the balance
// change and its log row are applied together or not at all.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{db: pool}, nil
}

func (s *Postgres) Close() {
	s.db.Close()
}

func (s *Postgres) EnsureUser(ctx context.Context, id domain.UserID) (*domain.User, error) {
	var u domain.User
	err := s.db.QueryRow(ctx,
		`INSERT INTO users (id, balance) VALUES ($1, 0)
		 ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		 RETURNING id, balance, created_at`,
		id).Scan(&u.ID, &u.Balance, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return &u, nil
}

func (s *Postgres) GetUser(ctx context.Context, id domain.UserID) (*domain.User, error) {
	var u domain.User
	err := s.db.QueryRow(ctx,
		"SELECT id, balance, created_at FROM users WHERE id = $1", id).
		Scan(&u.ID, &u.Balance, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Postgres) ApplyCredit(ctx context.Context, userID domain.UserID, amount int64, t domain.TransactionType, commitmentID, desc string) (*domain.LedgerTransaction, error) {
	return s.applyDelta(ctx, userID, amount, t, commitmentID, desc)
}

func (s *Postgres) ApplyDebit(ctx context.Context, userID domain.UserID, amount int64, t domain.TransactionType, commitmentID, desc string) (*domain.LedgerTransaction, error) {
	return s.applyDelta(ctx, userID, -amount, t, commitmentID, desc)
}

// applyDelta is the one balance-mutation path: lock the user row, check
// funds for debits, update the cached balance and append the log row.
func (s *Postgres) applyDelta(ctx context.Context, userID domain.UserID, delta int64, t domain.TransactionType, commitmentID, desc string) (*domain.LedgerTransaction, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx, "SELECT balance FROM users WHERE id = $1 FOR UPDATE", userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock acquisition failed: %w", err)
	}

	if delta < 0 && balance+delta < 0 {
		return nil, ledger.ErrInsufficientFunds
	}

	row, err := insertTransaction(ctx, tx, userID, delta, t, commitmentID, desc)
	if err != nil {
		return nil, err
	}

	if _, err = tx.Exec(ctx, "UPDATE users SET balance = balance + $1 WHERE id = $2", delta, userID); err != nil {
		return nil, fmt.Errorf("balance update failed: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return row, nil
}

func insertTransaction(ctx context.Context, tx pgx.Tx, userID domain.UserID, amount int64, t domain.TransactionType, commitmentID, desc string) (*domain.LedgerTransaction, error) {
	row := &domain.LedgerTransaction{
		UserID:       userID,
		Amount:       amount,
		Type:         t,
		CommitmentID: commitmentID,
		Description:  desc,
	}
	err := tx.QueryRow(ctx,
		`INSERT INTO transactions (user_id, amount, type, commitment_id, description)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		 RETURNING id, created_at`,
		userID, amount, t, commitmentID, desc).Scan(&row.ID, &row.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("transaction insert failed: %w", err)
	}
	return row, nil
}

func (s *Postgres) StakeCommitment(ctx context.Context, c *domain.Commitment) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx, "SELECT balance FROM users WHERE id = $1 FOR UPDATE", c.UserID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("lock acquisition failed: %w", err)
	}

	if balance < c.Stake {
		return ledger.ErrInsufficientFunds
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO commitments (id, user_id, goal, stake, recurrence, deadline, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.UserID, c.Goal, c.Stake, c.Recurrence, c.Deadline, c.Status, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("commitment insert failed: %w", err)
	}

	if _, err = insertTransaction(ctx, tx, c.UserID, -c.Stake, domain.TxDeduction, c.ID,
		fmt.Sprintf("Stake locked: %s", c.Goal)); err != nil {
		return err
	}

	if _, err = tx.Exec(ctx, "UPDATE users SET balance = balance - $1 WHERE id = $2", c.Stake, c.UserID); err != nil {
		return fmt.Errorf("balance update failed: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

func (s *Postgres) ResolveCommitment(ctx context.Context, id string, next domain.CommitmentStatus, effect ledger.ResolveFunc) (*domain.Commitment, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var c domain.Commitment
	err = tx.QueryRow(ctx,
		`SELECT id, user_id, goal, stake, recurrence, deadline, status, created_at
		 FROM commitments WHERE id = $1 FOR UPDATE`, id).
		Scan(&c.ID, &c.UserID, &c.Goal, &c.Stake, &c.Recurrence, &c.Deadline, &c.Status, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrCommitmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("commitment lock failed: %w", err)
	}

	if c.Status.IsTerminal() {
		return nil, ledger.ErrAlreadyResolved
	}
	if !domain.CanTransition(c.Status, next) {
		return nil, fmt.Errorf("%w: %s -> %s", ledger.ErrInvalidTransition, c.Status, next)
	}

	if _, err = tx.Exec(ctx, "UPDATE commitments SET status = $1 WHERE id = $2", next, id); err != nil {
		return nil, fmt.Errorf("status update failed: %w", err)
	}

	if credit, creditType, desc := effect(&c); credit > 0 {
		if _, err = insertTransaction(ctx, tx, c.UserID, credit, creditType, c.ID, desc); err != nil {
			return nil, err
		}
		if _, err = tx.Exec(ctx, "UPDATE users SET balance = balance + $1 WHERE id = $2", credit, c.UserID); err != nil {
			return nil, fmt.Errorf("balance update failed: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	c.Status = next
	return &c, nil
}

func (s *Postgres) GetCommitment(ctx context.Context, id string) (*domain.Commitment, error) {
	var c domain.Commitment
	err := s.db.QueryRow(ctx,
		`SELECT id, user_id, goal, stake, recurrence, deadline, status, created_at
		 FROM commitments WHERE id = $1`, id).
		Scan(&c.ID, &c.UserID, &c.Goal, &c.Stake, &c.Recurrence, &c.Deadline, &c.Status, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrCommitmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Postgres) ListCommitments(ctx context.Context, userID domain.UserID, status domain.CommitmentStatus, limit int) ([]domain.Commitment, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, goal, stake, recurrence, deadline, status, created_at
		 FROM commitments
		 WHERE user_id = $1 AND ($2::text = '' OR status = $2)
		 ORDER BY created_at DESC LIMIT $3`,
		userID, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCommitments(rows)
}

func (s *Postgres) ListOverdue(ctx context.Context, now time.Time) ([]domain.Commitment, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, goal, stake, recurrence, deadline, status, created_at
		 FROM commitments WHERE status IN ($1, $2) AND deadline < $3`,
		domain.StatusActive, domain.StatusPendingVerification, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCommitments(rows)
}

func scanCommitments(rows pgx.Rows) ([]domain.Commitment, error) {
	var out []domain.Commitment
	for rows.Next() {
		var c domain.Commitment
		if err := rows.Scan(&c.ID, &c.UserID, &c.Goal, &c.Stake, &c.Recurrence, &c.Deadline, &c.Status, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Postgres) ListTransactions(ctx context.Context, userID domain.UserID, limit int) ([]domain.LedgerTransaction, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, amount, type, COALESCE(commitment_id, ''), description, created_at
		 FROM transactions WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LedgerTransaction
	for rows.Next() {
		var t domain.LedgerTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Type, &t.CommitmentID, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Postgres) SumTransactions(ctx context.Context, userID domain.UserID) (int64, error) {
	var sum int64
	err := s.db.QueryRow(ctx,
		"SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE user_id = $1", userID).Scan(&sum)
	return sum, err
}

func (s *Postgres) CreateDeposit(ctx context.Context, d *domain.DepositRequest) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO deposit_requests (id, user_id, amount, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		d.ID, d.UserID, d.Amount, d.Status, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("deposit insert failed: %w", err)
	}
	return nil
}

func (s *Postgres) LatestPendingDeposit(ctx context.Context, userID domain.UserID) (*domain.DepositRequest, error) {
	var d domain.DepositRequest
	err := s.db.QueryRow(ctx,
		`SELECT id, user_id, amount, status, created_at FROM deposit_requests
		 WHERE user_id = $1 AND status = $2
		 ORDER BY created_at DESC LIMIT 1`,
		userID, domain.DepositPending).
		Scan(&d.ID, &d.UserID, &d.Amount, &d.Status, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrDepositNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Postgres) SettleDeposit(ctx context.Context, id string, status domain.DepositStatus, credit int64, desc string) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var d domain.DepositRequest
	err = tx.QueryRow(ctx,
		`SELECT id, user_id, amount, status FROM deposit_requests WHERE id = $1 FOR UPDATE`, id).
		Scan(&d.ID, &d.UserID, &d.Amount, &d.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.ErrDepositNotFound
	}
	if err != nil {
		return fmt.Errorf("deposit lock failed: %w", err)
	}
	if d.Status != domain.DepositPending {
		return ledger.ErrConflict
	}

	if _, err = tx.Exec(ctx, "UPDATE deposit_requests SET status = $1 WHERE id = $2", status, id); err != nil {
		return fmt.Errorf("deposit update failed: %w", err)
	}

	if status == domain.DepositApproved && credit > 0 {
		if _, err = insertTransaction(ctx, tx, d.UserID, credit, domain.TxDeposit, "", desc); err != nil {
			return err
		}
		if _, err = tx.Exec(ctx, "UPDATE users SET balance = balance + $1 WHERE id = $2", credit, d.UserID); err != nil {
			return fmt.Errorf("balance update failed: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

func (s *Postgres) RecordAudit(ctx context.Context, a *domain.ReconcileAudit) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO reconcile_audits (user_id, deposit_id, expected_amount, detected_amount, decision, concerns)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6)`,
		a.UserID, a.DepositID, a.ExpectedAmount, a.DetectedAmount, a.Decision, a.Concerns)
	if err != nil {
		return fmt.Errorf("audit insert failed: %w", err)
	}
	return nil
}
