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

// =============================================================================
// TEST SETUP
// =============================================================================

// testClock is a movable time source shared by the engine and workflow.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func newTestEngine(t *testing.T) (*penalty.Engine, *testClock) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := &testClock{now: time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)}
	cal, err := ledger.NewCalendar("UTC", clock)
	require.NoError(t, err)

	return penalty.NewEngine(store, cal, nil), clock
}

// =============================================================================
// ESCALATION TABLE TESTS
// =============================================================================

func TestEscalation_Ladder(t *testing.T) {
	esc := penalty.DefaultEscalation()

	assert.Equal(t, time.Duration(0), esc.Suspension(1), "first offence is a warning")
	assert.Equal(t, 30*time.Minute, esc.Suspension(2))
	assert.Equal(t, 90*time.Minute, esc.Suspension(3))
	assert.Equal(t, 24*time.Hour, esc.Suspension(4))
	assert.Equal(t, 24*time.Hour, esc.Suspension(9), "counts past the table repeat the last entry")
	assert.Equal(t, time.Duration(0), esc.Suspension(0))
}

// =============================================================================
// NO-SHOW RECORDING TESTS
// =============================================================================

func TestRecordNoShow_FirstOffence_WarningOnly(t *testing.T) {
	// GIVEN: A user with no penalty history
	// WHEN: A partner reports one no-show
	// THEN: The count is 1 and the user is not suspended

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	pen, err := engine.RecordNoShow(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, 1, pen.NoShowCount)
	assert.Nil(t, pen.SuspendedUntil)

	suspended, _, err := engine.IsSuspended(ctx, "cust-1")
	require.NoError(t, err)
	assert.False(t, suspended)
}

func TestRecordNoShow_Escalates(t *testing.T) {
	// GIVEN: A user with one no-show on record
	// WHEN: A second no-show lands
	// THEN: A 30-minute suspension starts

	engine, clock := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.RecordNoShow(ctx, "cust-1")
	require.NoError(t, err)
	pen, err := engine.RecordNoShow(ctx, "cust-1")
	require.NoError(t, err)

	assert.Equal(t, 2, pen.NoShowCount)
	require.NotNil(t, pen.SuspendedUntil)
	assert.Equal(t, clock.now.Add(30*time.Minute), *pen.SuspendedUntil)

	suspended, until, err := engine.IsSuspended(ctx, "cust-1")
	require.NoError(t, err)
	assert.True(t, suspended)
	assert.Equal(t, *pen.SuspendedUntil, *until)
}

func TestIsSuspended_ExpiresWithTime(t *testing.T) {
	// GIVEN: A user suspended for 30 minutes
	// WHEN: 31 minutes pass
	// THEN: The suspension no longer blocks

	engine, clock := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.RecordNoShow(ctx, "cust-1")
	require.NoError(t, err)
	_, err = engine.RecordNoShow(ctx, "cust-1")
	require.NoError(t, err)

	clock.now = clock.now.Add(31 * time.Minute)

	suspended, _, err := engine.IsSuspended(ctx, "cust-1")
	require.NoError(t, err)
	assert.False(t, suspended)
}

func TestIsSuspended_NoHistory(t *testing.T) {
	engine, _ := newTestEngine(t)

	suspended, until, err := engine.IsSuspended(context.Background(), "cust-clean")
	require.NoError(t, err)
	assert.False(t, suspended)
	assert.Nil(t, until)
}

func TestGet_NoHistory(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Get(context.Background(), "cust-clean")
	assert.ErrorIs(t, err, penalty.ErrNoPenalty)
}
