package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mealrescue/points-engine/ledger"
	"github.com/mealrescue/points-engine/store/sqlite"
)

func newTestEscrow(t *testing.T) (*ledger.Manager, *ledger.Service) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := ledger.ClockFunc(func() time.Time {
		return time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	})
	return ledger.NewManager(store, clock), ledger.NewService(store, clock)
}

func TestOpenHold_DebitsCustomer(t *testing.T) {
	// GIVEN: A customer holding 100 points
	// WHEN: Opening a 30-point hold
	// THEN: The balance drops to 70 and the debit is a reservation payment

	escrow, svc := newTestEscrow(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "cust-1", ledger.KindCustomer, 100)
	require.NoError(t, err)

	holdID, err := escrow.OpenHold(ctx, "resv-1", "cust-1", 30)
	require.NoError(t, err)
	require.NotEmpty(t, holdID)

	balance, err := svc.Balance(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.Points(70), balance)

	hold, err := escrow.HoldForReservation(ctx, "resv-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.HoldOpen, hold.Status)
	assert.Equal(t, ledger.Points(30), hold.Points)
}

func TestOpenHold_NonPositivePoints_Rejected(t *testing.T) {
	// GIVEN: A funded customer
	// WHEN: Opening a hold for zero or negative points
	// THEN: A validation error; nothing is debited

	escrow, svc := newTestEscrow(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "cust-1", ledger.KindCustomer, 100)
	require.NoError(t, err)

	for _, points := range []ledger.Points{0, -10} {
		_, err := escrow.OpenHold(ctx, "resv-1", "cust-1", points)
		assert.ErrorIs(t, err, ledger.ErrInvalidInput)
	}

	balance, err := svc.Balance(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.Points(100), balance)
}

func TestOpenHold_SecondHoldSameReservation_Rejected(t *testing.T) {
	// GIVEN: A reservation that already has a hold
	// WHEN: Opening a second hold for the same reservation
	// THEN: ErrHoldExists and no second debit

	escrow, svc := newTestEscrow(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "cust-1", ledger.KindCustomer, 100)
	require.NoError(t, err)

	_, err = escrow.OpenHold(ctx, "resv-1", "cust-1", 30)
	require.NoError(t, err)

	_, err = escrow.OpenHold(ctx, "resv-1", "cust-1", 30)
	assert.ErrorIs(t, err, ledger.ErrHoldExists)

	balance, err := svc.Balance(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.Points(70), balance, "the failed hold must not debit")
}

func TestOpenHold_InsufficientBalance(t *testing.T) {
	escrow, svc := newTestEscrow(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "cust-1", ledger.KindCustomer, 20)
	require.NoError(t, err)

	_, err = escrow.OpenHold(ctx, "resv-1", "cust-1", 30)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

func TestReleaseHold_RefundsCustomer(t *testing.T) {
	// GIVEN: An open 30-point hold
	// WHEN: Releasing it
	// THEN: The customer is refunded in full

	escrow, svc := newTestEscrow(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "cust-1", ledger.KindCustomer, 100)
	require.NoError(t, err)
	holdID, err := escrow.OpenHold(ctx, "resv-1", "cust-1", 30)
	require.NoError(t, err)

	result, err := escrow.ReleaseHold(ctx, holdID)
	require.NoError(t, err)
	assert.False(t, result.AlreadyResolved)
	assert.Equal(t, ledger.HoldReleased, result.Hold.Status)

	balance, err := svc.Balance(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.Points(100), balance)
}

func TestCaptureHold_PaysPartner(t *testing.T) {
	// GIVEN: An open 30-point hold and a partner account
	// WHEN: Capturing the hold to the partner
	// THEN: The partner is credited and the customer keeps the debit

	escrow, svc := newTestEscrow(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "cust-1", ledger.KindCustomer, 100)
	require.NoError(t, err)
	_, err = svc.CreateAccount(ctx, "partner-1", ledger.KindPartner, 0)
	require.NoError(t, err)
	holdID, err := escrow.OpenHold(ctx, "resv-1", "cust-1", 30)
	require.NoError(t, err)

	result, err := escrow.CaptureHold(ctx, holdID, "partner-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.HoldCaptured, result.Hold.Status)

	customerBalance, err := svc.Balance(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.Points(70), customerBalance)

	partnerBalance, err := svc.Balance(ctx, "partner-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.Points(30), partnerBalance)
}

func TestResolveHold_Idempotent(t *testing.T) {
	// GIVEN: A hold already released
	// WHEN: Releasing or capturing it again
	// THEN: AlreadyResolved, no second refund, and no partner credit

	escrow, svc := newTestEscrow(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "cust-1", ledger.KindCustomer, 100)
	require.NoError(t, err)
	_, err = svc.CreateAccount(ctx, "partner-1", ledger.KindPartner, 0)
	require.NoError(t, err)
	holdID, err := escrow.OpenHold(ctx, "resv-1", "cust-1", 30)
	require.NoError(t, err)

	_, err = escrow.ReleaseHold(ctx, holdID)
	require.NoError(t, err)

	again, err := escrow.ReleaseHold(ctx, holdID)
	require.NoError(t, err)
	assert.True(t, again.AlreadyResolved)

	captured, err := escrow.CaptureHold(ctx, holdID, "partner-1")
	require.NoError(t, err)
	assert.True(t, captured.AlreadyResolved)
	assert.Equal(t, ledger.HoldReleased, captured.Hold.Status,
		"a resolved hold keeps its first outcome")

	customerBalance, err := svc.Balance(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.Points(100), customerBalance)

	partnerBalance, err := svc.Balance(ctx, "partner-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.Points(0), partnerBalance)
}
