package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/bettask/internal/domain"
	"github.com/punchamoorthee/bettask/internal/ledger"
	"github.com/punchamoorthee/bettask/internal/store"
)

const user = domain.UserID("919000000001")

func newService(t *testing.T) *ledger.Service {
	t.Helper()
	svc := ledger.NewService(store.NewMemory(), 0.10, nil)
	_, err := svc.EnsureUser(context.Background(), user)
	require.NoError(t, err)
	return svc
}

func fund(t *testing.T, svc *ledger.Service, amount int64) {
	t.Helper()
	require.NoError(t, svc.Credit(context.Background(), user, amount, domain.TxDeposit, "test deposit"))
}

func TestCreateCommitment_DebitsStakeAtomically(t *testing.T) {
	svc := newService(t)
	fund(t, svc, 500)
	ctx := context.Background()

	c, err := svc.CreateCommitment(ctx, user, "go to the gym", 200, domain.RecurrenceOneTime, time.Now().Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, c.Status)

	balance, err := svc.Balance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(300), balance)

	txs, err := svc.Transactions(ctx, user, 10)
	require.NoError(t, err)
	require.NotEmpty(t, txs)
	assert.Equal(t, domain.TxDeduction, txs[0].Type)
	assert.Equal(t, int64(-200), txs[0].Amount)
	assert.Equal(t, c.ID, txs[0].CommitmentID)
}

func TestCreateCommitment_InsufficientFundsLeavesNothing(t *testing.T) {
	svc := newService(t)
	fund(t, svc, 100)
	ctx := context.Background()

	_, err := svc.CreateCommitment(ctx, user, "go to the gym", 200, domain.RecurrenceOneTime, time.Now().Add(24*time.Hour))
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	balance, err := svc.Balance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	active, err := svc.ActiveCommitments(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, active, "failed stake must not leave a commitment behind")
}

func TestTransition_CompletedPaysReward(t *testing.T) {
	svc := newService(t)
	fund(t, svc, 500)
	ctx := context.Background()

	c, err := svc.CreateCommitment(ctx, user, "read 20 pages", 200, domain.RecurrenceDaily, time.Now().Add(24*time.Hour))
	require.NoError(t, err)

	resolved, credited, err := svc.Transition(ctx, c.ID, domain.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, resolved.Status)
	assert.Equal(t, int64(220), credited) // stake + 10% bonus

	balance, err := svc.Balance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(520), balance)
}

func TestTransition_CancelledRoundTripsBalance(t *testing.T) {
	svc := newService(t)
	fund(t, svc, 500)
	ctx := context.Background()

	c, err := svc.CreateCommitment(ctx, user, "wake up early", 300, domain.RecurrenceOneTime, time.Now().Add(24*time.Hour))
	require.NoError(t, err)

	_, credited, err := svc.Transition(ctx, c.ID, domain.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, int64(300), credited)

	balance, err := svc.Balance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance, "create then cancel must restore the balance exactly")
}

func TestTransition_FailedForfeitsStake(t *testing.T) {
	svc := newService(t)
	fund(t, svc, 500)
	ctx := context.Background()

	c, err := svc.CreateCommitment(ctx, user, "no sugar", 150, domain.RecurrenceWeekly, time.Now().Add(24*time.Hour))
	require.NoError(t, err)

	_, credited, err := svc.Transition(ctx, c.ID, domain.StatusFailed)
	require.NoError(t, err)
	assert.Zero(t, credited)

	balance, err := svc.Balance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(350), balance)
}

func TestTransition_SecondResolutionIsConflict(t *testing.T) {
	svc := newService(t)
	fund(t, svc, 500)
	ctx := context.Background()

	c, err := svc.CreateCommitment(ctx, user, "meditate", 100, domain.RecurrenceDaily, time.Now().Add(24*time.Hour))
	require.NoError(t, err)

	_, _, err = svc.Transition(ctx, c.ID, domain.StatusCompleted)
	require.NoError(t, err)

	_, _, err = svc.Transition(ctx, c.ID, domain.StatusCompleted)
	require.ErrorIs(t, err, ledger.ErrAlreadyResolved)

	// No second credit happened.
	balance, err := svc.Balance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(510), balance)
}

func TestTransition_PendingVerificationThenCompleted(t *testing.T) {
	svc := newService(t)
	fund(t, svc, 500)
	ctx := context.Background()

	c, err := svc.CreateCommitment(ctx, user, "run 5k", 100, domain.RecurrenceOneTime, time.Now().Add(24*time.Hour))
	require.NoError(t, err)

	_, credited, err := svc.Transition(ctx, c.ID, domain.StatusPendingVerification)
	require.NoError(t, err)
	assert.Zero(t, credited, "claiming completion must not credit anything yet")

	_, credited, err = svc.Transition(ctx, c.ID, domain.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, int64(110), credited)
}

func TestTransition_PendingVerificationCannotBeCancelled(t *testing.T) {
	svc := newService(t)
	fund(t, svc, 500)
	ctx := context.Background()

	c, err := svc.CreateCommitment(ctx, user, "run 5k", 100, domain.RecurrenceOneTime, time.Now().Add(24*time.Hour))
	require.NoError(t, err)
	_, _, err = svc.Transition(ctx, c.ID, domain.StatusPendingVerification)
	require.NoError(t, err)

	_, _, err = svc.Transition(ctx, c.ID, domain.StatusCancelled)
	require.ErrorIs(t, err, ledger.ErrInvalidTransition)
}

func TestTransition_ActiveIsNotATarget(t *testing.T) {
	svc := newService(t)
	fund(t, svc, 500)
	ctx := context.Background()

	c, err := svc.CreateCommitment(ctx, user, "run 5k", 100, domain.RecurrenceOneTime, time.Now().Add(24*time.Hour))
	require.NoError(t, err)

	_, _, err = svc.Transition(ctx, c.ID, domain.StatusActive)
	require.ErrorIs(t, err, ledger.ErrInvalidTransition)
}

func TestExpireOverdue(t *testing.T) {
	svc := newService(t)
	fund(t, svc, 500)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	_, err := svc.CreateCommitment(ctx, user, "too late", 100, domain.RecurrenceOneTime, past)
	require.NoError(t, err)
	_, err = svc.CreateCommitment(ctx, user, "still fine", 100, domain.RecurrenceOneTime, time.Now().Add(time.Hour))
	require.NoError(t, err)

	n, err := svc.ExpireOverdue(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	active, err := svc.ActiveCommitments(ctx, user)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "still fine", active[0].Goal)

	// Idempotent: a second sweep finds nothing.
	n, err = svc.ExpireOverdue(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExpireOverdue_SweepsUnverifiedClaims(t *testing.T) {
	svc := newService(t)
	fund(t, svc, 500)
	ctx := context.Background()

	c, err := svc.CreateCommitment(ctx, user, "run 5k", 200, domain.RecurrenceOneTime, time.Now().Add(-48*time.Hour))
	require.NoError(t, err)
	_, _, err = svc.Transition(ctx, c.ID, domain.StatusPendingVerification)
	require.NoError(t, err)

	// A claim that never gets verified is forfeited once the deadline is
	// well past; the stake must not stay locked.
	n, err := svc.ExpireOverdue(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := svc.Commitment(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)

	balance, err := svc.Balance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(300), balance, "forfeiture credits nothing back")

	pending, err := svc.PendingVerifications(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestConcurrentDebits_ExactlyOneWins(t *testing.T) {
	svc := newService(t)
	fund(t, svc, 100)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.Debit(ctx, user, 100, domain.TxWithdrawal, "racing withdrawal")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
		}
	}
	assert.Equal(t, 1, wins, "exactly one of two racing debits may succeed")

	balance, err := svc.Balance(ctx, user)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestConcurrentResolutions_ExactlyOneCredits(t *testing.T) {
	svc := newService(t)
	fund(t, svc, 500)
	ctx := context.Background()

	c, err := svc.CreateCommitment(ctx, user, "race me", 100, domain.RecurrenceOneTime, time.Now().Add(time.Hour))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, results[i] = svc.Transition(ctx, c.ID, domain.StatusCompleted)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, ledger.ErrAlreadyResolved)
		}
	}
	assert.Equal(t, 1, wins)

	balance, err := svc.Balance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(510), balance)
}

func TestConcurrentStakes_ExactlyOneCommitmentCreated(t *testing.T) {
	svc := newService(t)
	fund(t, svc, 100)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.CreateCommitment(ctx, user, "racing stake", 100, domain.RecurrenceOneTime, time.Now().Add(time.Hour))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
		}
	}
	assert.Equal(t, 1, wins)

	// Exactly one deduction row exists.
	txs, err := svc.Transactions(ctx, user, 50)
	require.NoError(t, err)
	deductions := 0
	for _, tx := range txs {
		if tx.Type == domain.TxDeduction {
			deductions++
		}
	}
	assert.Equal(t, 1, deductions)
}

func TestBalanceInvariant_HoldsAcrossLifecycle(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.Credit(ctx, user, 1000, domain.TxDeposit, "deposit"))

	completed, err := svc.CreateCommitment(ctx, user, "goal one", 200, domain.RecurrenceOneTime, time.Now().Add(time.Hour))
	require.NoError(t, err)
	cancelled, err := svc.CreateCommitment(ctx, user, "goal two", 150, domain.RecurrenceOneTime, time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = svc.CreateCommitment(ctx, user, "goal three", 100, domain.RecurrenceOneTime, time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, reward, err := svc.Transition(ctx, completed.ID, domain.StatusCompleted)
	require.NoError(t, err)
	_, _, err = svc.Transition(ctx, cancelled.ID, domain.StatusCancelled)
	require.NoError(t, err)
	require.NoError(t, svc.Debit(ctx, user, 300, domain.TxWithdrawal, "withdrawal"))

	// 1000 deposited, 450 staked, 220 reward, 150 refund, 300 withdrawn.
	assert.Equal(t, int64(220), reward)
	balance, err := svc.Balance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(620), balance)

	// Locked stake accounts for the rest of the money that entered.
	active, err := svc.ActiveCommitments(ctx, user)
	require.NoError(t, err)
	var staked int64
	for _, c := range active {
		staked += c.Stake
	}
	assert.Equal(t, int64(100), staked)

	// And the cached balance agrees with the transaction log.
	_, err = svc.RecomputeBalance(ctx, user)
	require.NoError(t, err)
}

func TestRecomputeBalance_MatchesLog(t *testing.T) {
	svc := newService(t)
	fund(t, svc, 500)
	ctx := context.Background()

	c, err := svc.CreateCommitment(ctx, user, "audit me", 200, domain.RecurrenceOneTime, time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, _, err = svc.Transition(ctx, c.ID, domain.StatusCompleted)
	require.NoError(t, err)
	require.NoError(t, svc.Debit(ctx, user, 50, domain.TxWithdrawal, "partial withdrawal"))

	sum, err := svc.RecomputeBalance(ctx, user)
	require.NoError(t, err)

	balance, err := svc.Balance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, balance, sum)
}

func TestDepositLifecycle(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	d, err := svc.OpenDeposit(ctx, user, 500)
	require.NoError(t, err)

	pending, err := svc.PendingDeposit(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, d.ID, pending.ID)

	require.NoError(t, svc.ApproveDeposit(ctx, d.ID, 500))

	balance, err := svc.Balance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)

	// Settling twice is a conflict, not a second credit.
	err = svc.ApproveDeposit(ctx, d.ID, 500)
	require.ErrorIs(t, err, ledger.ErrConflict)

	_, err = svc.PendingDeposit(ctx, user)
	require.ErrorIs(t, err, ledger.ErrDepositNotFound)
}

func TestRejectDeposit_NoCredit(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	d, err := svc.OpenDeposit(ctx, user, 500)
	require.NoError(t, err)
	require.NoError(t, svc.RejectDeposit(ctx, d.ID))

	balance, err := svc.Balance(ctx, user)
	require.NoError(t, err)
	assert.Zero(t, balance)
}
