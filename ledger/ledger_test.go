package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mealrescue/points-engine/ledger"
	"github.com/mealrescue/points-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T) (*ledger.Service, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := ledger.NewService(store, ledger.ClockFunc(func() time.Time {
		return time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	}))
	return svc, store
}

// =============================================================================
// ACCOUNT TESTS
// =============================================================================

func TestCreateAccount_OpeningGrant(t *testing.T) {
	// GIVEN: A fresh store
	// WHEN: Creating a customer account with an opening grant
	// THEN: The balance equals the grant and the grant is a ledger row

	svc, _ := newTestLedger(t)
	ctx := context.Background()

	acc, err := svc.CreateAccount(ctx, "cust-1", ledger.KindCustomer, 100)
	require.NoError(t, err)
	assert.Equal(t, ledger.Points(100), acc.Balance)

	history, err := svc.History(ctx, "cust-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ledger.ReasonOpeningGrant, history[0].Reason)
	assert.Equal(t, ledger.Points(100), history[0].Delta)
}

func TestCreateAccount_DuplicateID_Rejected(t *testing.T) {
	// GIVEN: An existing account
	// WHEN: Creating another account with the same ID
	// THEN: ErrAccountExists

	svc, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "cust-1", ledger.KindCustomer, 0)
	require.NoError(t, err)

	_, err = svc.CreateAccount(ctx, "cust-1", ledger.KindCustomer, 0)
	assert.ErrorIs(t, err, ledger.ErrAccountExists)
}

func TestBalance_UnknownAccount(t *testing.T) {
	svc, _ := newTestLedger(t)

	_, err := svc.Balance(context.Background(), "nobody")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

// =============================================================================
// TRANSACTION TESTS
// =============================================================================

func TestApply_BalanceIsSumOfDeltas(t *testing.T) {
	// GIVEN: An account with an opening grant
	// WHEN: Applying a series of credits and debits
	// THEN: The materialized balance equals the sum of all deltas

	svc, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "cust-1", ledger.KindCustomer, 100)
	require.NoError(t, err)

	_, err = svc.Apply(ctx, "cust-1", -30, ledger.ReasonReservationPayment, "resv-1", nil)
	require.NoError(t, err)
	_, err = svc.Apply(ctx, "cust-1", 25, ledger.ReasonAchievementReward, "", nil)
	require.NoError(t, err)
	balance, err := svc.Apply(ctx, "cust-1", -10, ledger.ReasonPenaltyLift, "", nil)
	require.NoError(t, err)

	assert.Equal(t, ledger.Points(85), balance)

	history, err := svc.History(ctx, "cust-1")
	require.NoError(t, err)
	var sum ledger.Points
	for _, tx := range history {
		sum += tx.Delta
	}
	assert.Equal(t, balance, sum, "balance must equal the sum of transaction deltas")
}

func TestApply_Overspend_Rejected(t *testing.T) {
	// GIVEN: An account holding 40 points
	// WHEN: Debiting 55 points
	// THEN: InsufficientBalanceError reports the 15-point shortfall and
	//       the balance is untouched

	svc, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "cust-1", ledger.KindCustomer, 40)
	require.NoError(t, err)

	_, err = svc.Apply(ctx, "cust-1", -55, ledger.ReasonReservationPayment, "resv-1", nil)
	require.Error(t, err)

	var insufficient *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, ledger.Points(15), insufficient.Shortfall())
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	balance, err := svc.Balance(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.Points(40), balance)

	history, err := svc.History(ctx, "cust-1")
	require.NoError(t, err)
	assert.Len(t, history, 1, "rejected debit must not append a transaction")
}

func TestApply_ZeroDelta_Rejected(t *testing.T) {
	svc, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "cust-1", ledger.KindCustomer, 10)
	require.NoError(t, err)

	_, err = svc.Apply(ctx, "cust-1", 0, ledger.ReasonAdjustment, "", nil)
	assert.ErrorIs(t, err, ledger.ErrZeroDelta)
}

func TestHistory_NewestFirst(t *testing.T) {
	svc, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "cust-1", ledger.KindCustomer, 100)
	require.NoError(t, err)
	_, err = svc.Apply(ctx, "cust-1", -10, ledger.ReasonReservationPayment, "resv-1", nil)
	require.NoError(t, err)
	_, err = svc.Apply(ctx, "cust-1", -20, ledger.ReasonReservationPayment, "resv-2", nil)
	require.NoError(t, err)

	history, err := svc.History(ctx, "cust-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "resv-2", history[0].ReservationID)
	assert.Equal(t, "resv-1", history[1].ReservationID)
	assert.Equal(t, ledger.ReasonOpeningGrant, history[2].Reason)
}

func TestApply_ConcurrentSpends_NeverOverdraw(t *testing.T) {
	// GIVEN: An account holding exactly 50 points
	// WHEN: Ten goroutines each try to spend 10 points at once
	// THEN: Exactly five succeed and the final balance is zero

	svc, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "cust-1", ledger.KindCustomer, 50)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Apply(ctx, "cust-1", -10, ledger.ReasonReservationPayment, "", nil)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
		}
	}
	assert.Equal(t, 5, succeeded)

	balance, err := svc.Balance(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.Points(0), balance)
}
