package achievement_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mealrescue/points-engine/achievement"
	"github.com/mealrescue/points-engine/ledger"
	"github.com/mealrescue/points-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func newTestEngine(t *testing.T) (*achievement.Engine, *ledger.Service, *testClock) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := &testClock{now: time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)}
	cal, err := ledger.NewCalendar("UTC", clock)
	require.NoError(t, err)

	engine := achievement.NewEngine(store, cal)
	require.NoError(t, engine.Seed(context.Background()))

	return engine, ledger.NewService(store, clock), clock
}

func pickup(partnerID ledger.AccountID, category string, value float64) achievement.PickupEvent {
	return achievement.PickupEvent{
		PartnerID: partnerID,
		Category:  category,
		Value:     decimal.NewFromFloat(value),
	}
}

// =============================================================================
// UNLOCK TESTS
// =============================================================================

func TestRecordPickup_FirstRescueUnlocks(t *testing.T) {
	// GIVEN: A user with no pickups
	// WHEN: The first pickup lands
	// THEN: The first-rescue badge unlocks, exactly once

	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	unlocked, err := engine.RecordPickup(ctx, "cust-1", pickup("partner-1", "bakery", 10))
	require.NoError(t, err)
	assert.Contains(t, unlocked, "first-rescue")

	unlocked, err = engine.RecordPickup(ctx, "cust-1", pickup("partner-1", "bakery", 10))
	require.NoError(t, err)
	assert.NotContains(t, unlocked, "first-rescue", "a badge unlocks only once")
}

func TestRecordPickup_StatsAccumulate(t *testing.T) {
	// GIVEN: Pickups across two partners and two categories
	// WHEN: Reading the stats back
	// THEN: Counters, money saved and partner maxima all reflect the events

	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.RecordPickup(ctx, "cust-1", pickup("partner-1", "bakery", 12.50))
	require.NoError(t, err)
	_, err = engine.RecordPickup(ctx, "cust-1", pickup("partner-1", "produce", 7.25))
	require.NoError(t, err)
	_, err = engine.RecordPickup(ctx, "cust-1", pickup("partner-2", "bakery", 5.00))
	require.NoError(t, err)

	stats, err := engine.Stats(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.PickupCount)
	assert.True(t, stats.MoneySaved.Equal(decimal.NewFromFloat(24.75)), "got %s", stats.MoneySaved)
	assert.Equal(t, int64(2), stats.CategoryCount)
	assert.Equal(t, int64(2), stats.UniquePartners)
	assert.Equal(t, int64(2), stats.MaxPerPartner)
}

func TestRecordPickup_Streak(t *testing.T) {
	// GIVEN: One pickup per day for three days, then a gap
	// WHEN: Picking up again after the gap
	// THEN: The current streak resets to 1 but the best streak stays at 3

	engine, _, clock := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := engine.RecordPickup(ctx, "cust-1", pickup("partner-1", "bakery", 5))
		require.NoError(t, err)
		clock.now = clock.now.AddDate(0, 0, 1)
	}

	stats, err := engine.Stats(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.CurrentStreak)

	clock.now = clock.now.AddDate(0, 0, 2) // skip a day

	_, err = engine.RecordPickup(ctx, "cust-1", pickup("partner-1", "bakery", 5))
	require.NoError(t, err)

	stats, err = engine.Stats(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.CurrentStreak)
	assert.Equal(t, int64(3), stats.BestStreak)
}

func TestRecordPickup_ConcurrentEvaluations_UnlockOnce(t *testing.T) {
	// GIVEN: A user with no pickups
	// WHEN: Ten pickups land at once
	// THEN: Exactly one evaluation reports the first-rescue unlock

	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan []string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlocked, err := engine.RecordPickup(ctx, "cust-1", pickup("partner-1", "bakery", 5))
			assert.NoError(t, err)
			results <- unlocked
		}()
	}
	wg.Wait()
	close(results)

	firstRescue := 0
	for unlocked := range results {
		for _, id := range unlocked {
			if id == "first-rescue" {
				firstRescue++
			}
		}
	}
	assert.Equal(t, 1, firstRescue, "the unlock row is unique; one inserter wins")

	stats, err := engine.Stats(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), stats.PickupCount)
}

func TestRecordPickup_SameDayDoesNotExtendStreak(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.RecordPickup(ctx, "cust-1", pickup("partner-1", "bakery", 5))
	require.NoError(t, err)
	_, err = engine.RecordPickup(ctx, "cust-1", pickup("partner-1", "bakery", 5))
	require.NoError(t, err)

	stats, err := engine.Stats(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.CurrentStreak)
}

func TestRecordReferral_Unlocks(t *testing.T) {
	// GIVEN: A user with two credited referrals
	// WHEN: The third referral completes
	// THEN: The word-spreader badge unlocks

	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		unlocked, err := engine.RecordReferral(ctx, "cust-1")
		require.NoError(t, err)
		assert.Empty(t, unlocked)
	}

	unlocked, err := engine.RecordReferral(ctx, "cust-1")
	require.NoError(t, err)
	assert.Contains(t, unlocked, "word-spreader")
}

// =============================================================================
// CLAIM TESTS
// =============================================================================

func TestClaim_CreditsRewardOnce(t *testing.T) {
	// GIVEN: A user who unlocked first-rescue
	// WHEN: Claiming the reward twice
	// THEN: The reward is credited exactly once

	engine, svc, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "cust-1", ledger.KindCustomer, 0)
	require.NoError(t, err)
	_, err = engine.RecordPickup(ctx, "cust-1", pickup("partner-1", "bakery", 10))
	require.NoError(t, err)

	result, err := engine.Claim(ctx, "cust-1", "first-rescue")
	require.NoError(t, err)
	assert.False(t, result.AlreadyClaimed)
	assert.Equal(t, ledger.Points(25), result.Reward)
	assert.Equal(t, ledger.Points(25), result.NewBalance)

	again, err := engine.Claim(ctx, "cust-1", "first-rescue")
	require.NoError(t, err)
	assert.True(t, again.AlreadyClaimed)
	assert.Equal(t, ledger.Points(25), again.NewBalance, "no second credit")

	history, err := svc.History(ctx, "cust-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ledger.ReasonAchievementReward, history[0].Reason)
	assert.Equal(t, "first-rescue", history[0].Metadata["badge"])
}

func TestClaim_NotUnlocked(t *testing.T) {
	engine, svc, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "cust-1", ledger.KindCustomer, 0)
	require.NoError(t, err)

	_, err = engine.Claim(ctx, "cust-1", "first-rescue")
	assert.ErrorIs(t, err, achievement.ErrNotUnlocked)
}

func TestClaim_UnknownBadge(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.Claim(context.Background(), "cust-1", "no-such-badge")
	assert.ErrorIs(t, err, achievement.ErrDefinitionNotFound)
}

// =============================================================================
// PROGRESS TESTS
// =============================================================================

func TestProgressFor_ReflectsStanding(t *testing.T) {
	// GIVEN: A user with one pickup and a claimed first-rescue badge
	// WHEN: Listing progress
	// THEN: first-rescue shows unlocked+claimed, regular-rescuer shows 1/10

	engine, svc, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "cust-1", ledger.KindCustomer, 0)
	require.NoError(t, err)
	_, err = engine.RecordPickup(ctx, "cust-1", pickup("partner-1", "bakery", 10))
	require.NoError(t, err)
	_, err = engine.Claim(ctx, "cust-1", "first-rescue")
	require.NoError(t, err)

	progress, err := engine.ProgressFor(ctx, "cust-1")
	require.NoError(t, err)
	require.NotEmpty(t, progress)

	byID := make(map[string]achievement.Progress, len(progress))
	for _, p := range progress {
		byID[p.Definition.ID] = p
	}

	first := byID["first-rescue"]
	assert.True(t, first.Unlocked)
	assert.True(t, first.Claimed)
	assert.Equal(t, int64(1), first.Current)

	regular := byID["regular-rescuer"]
	assert.False(t, regular.Unlocked)
	assert.Equal(t, int64(1), regular.Current)
	assert.Equal(t, int64(10), regular.Definition.Threshold)
}
