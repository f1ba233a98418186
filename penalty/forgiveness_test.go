package penalty_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mealrescue/points-engine/ledger"
	"github.com/mealrescue/points-engine/penalty"
	"github.com/mealrescue/points-engine/store/sqlite"
)

func newTestWorkflow(t *testing.T) (*penalty.Workflow, *penalty.Engine, *testClock) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := &testClock{now: time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)}
	cal, err := ledger.NewCalendar("UTC", clock)
	require.NoError(t, err)

	return penalty.NewWorkflow(store, cal, 24*time.Hour), penalty.NewEngine(store, cal, nil), clock
}

func TestForgiveness_NothingToForgive(t *testing.T) {
	// GIVEN: A user with a clean record
	// WHEN: Requesting forgiveness
	// THEN: ErrNoPenalty

	workflow, _, _ := newTestWorkflow(t)

	_, err := workflow.Request(context.Background(), "cust-1", "partner-1", "", "sorry!")
	assert.ErrorIs(t, err, penalty.ErrNoPenalty)
}

func TestForgiveness_GrantReversesPenalty(t *testing.T) {
	// GIVEN: A user suspended after two no-shows
	// WHEN: The partner grants forgiveness
	// THEN: The count drops to 1 and the suspension is lifted

	workflow, engine, _ := newTestWorkflow(t)
	ctx := context.Background()

	_, err := engine.RecordNoShow(ctx, "cust-1")
	require.NoError(t, err)
	_, err = engine.RecordNoShow(ctx, "cust-1")
	require.NoError(t, err)

	fr, err := workflow.Request(ctx, "cust-1", "partner-1", "resv-1", "train was late")
	require.NoError(t, err)
	assert.Equal(t, penalty.RequestPending, fr.Status)

	fr, err = workflow.Resolve(ctx, fr.ID, true, "partner-1")
	require.NoError(t, err)
	assert.Equal(t, penalty.RequestGranted, fr.Status)
	assert.Equal(t, ledger.AccountID("partner-1"), fr.ResolvedBy)

	pen, err := engine.Get(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, 1, pen.NoShowCount)
	assert.Nil(t, pen.SuspendedUntil)

	suspended, _, err := engine.IsSuspended(ctx, "cust-1")
	require.NoError(t, err)
	assert.False(t, suspended)
}

func TestForgiveness_DenyLeavesPenalty(t *testing.T) {
	workflow, engine, _ := newTestWorkflow(t)
	ctx := context.Background()

	_, err := engine.RecordNoShow(ctx, "cust-1")
	require.NoError(t, err)

	fr, err := workflow.Request(ctx, "cust-1", "partner-1", "", "")
	require.NoError(t, err)

	fr, err = workflow.Resolve(ctx, fr.ID, false, "partner-1")
	require.NoError(t, err)
	assert.Equal(t, penalty.RequestDenied, fr.Status)

	pen, err := engine.Get(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, 1, pen.NoShowCount)
}

func TestForgiveness_OnePendingPerUser(t *testing.T) {
	// GIVEN: A user with a pending forgiveness request
	// WHEN: Opening a second request
	// THEN: ErrRequestPending; after resolution a new request is allowed

	workflow, engine, _ := newTestWorkflow(t)
	ctx := context.Background()

	_, err := engine.RecordNoShow(ctx, "cust-1")
	require.NoError(t, err)
	_, err = engine.RecordNoShow(ctx, "cust-1")
	require.NoError(t, err)

	fr, err := workflow.Request(ctx, "cust-1", "partner-1", "", "")
	require.NoError(t, err)

	_, err = workflow.Request(ctx, "cust-1", "partner-2", "", "")
	assert.ErrorIs(t, err, penalty.ErrRequestPending)

	_, err = workflow.Resolve(ctx, fr.ID, false, "partner-1")
	require.NoError(t, err)

	_, err = workflow.Request(ctx, "cust-1", "partner-2", "", "")
	assert.NoError(t, err)
}

func TestForgiveness_ResolveTwice(t *testing.T) {
	workflow, engine, _ := newTestWorkflow(t)
	ctx := context.Background()

	_, err := engine.RecordNoShow(ctx, "cust-1")
	require.NoError(t, err)
	fr, err := workflow.Request(ctx, "cust-1", "partner-1", "", "")
	require.NoError(t, err)

	_, err = workflow.Resolve(ctx, fr.ID, true, "partner-1")
	require.NoError(t, err)

	_, err = workflow.Resolve(ctx, fr.ID, false, "partner-1")
	assert.ErrorIs(t, err, penalty.ErrRequestResolved)
}

func TestForgiveness_AutoDenyExpired(t *testing.T) {
	// GIVEN: A pending request with a 24h response window
	// WHEN: The sweep runs 25 hours later
	// THEN: The request is denied and a later manual resolve fails

	workflow, engine, clock := newTestWorkflow(t)
	ctx := context.Background()

	_, err := engine.RecordNoShow(ctx, "cust-1")
	require.NoError(t, err)
	fr, err := workflow.Request(ctx, "cust-1", "partner-1", "", "")
	require.NoError(t, err)

	denied, err := workflow.AutoDenyExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, denied, "nothing to deny before the deadline")

	clock.now = clock.now.Add(25 * time.Hour)

	denied, err = workflow.AutoDenyExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, denied)

	got, err := workflow.Get(ctx, fr.ID)
	require.NoError(t, err)
	assert.Equal(t, penalty.RequestDenied, got.Status)

	_, err = workflow.Resolve(ctx, fr.ID, true, "partner-1")
	assert.ErrorIs(t, err, penalty.ErrRequestResolved)
}

func TestForgiveness_UnknownRequest(t *testing.T) {
	workflow, _, _ := newTestWorkflow(t)

	_, err := workflow.Get(context.Background(), "forgive-nope")
	assert.ErrorIs(t, err, penalty.ErrRequestNotFound)
}
