/*
catalog.go - Built-in badge definitions

The catalog is seeded into the store at startup so deployments can add or
retune badges in the database without touching evaluation code.
*/
package achievement

// DefaultCatalog returns the standard badge set.
func DefaultCatalog() []Definition {
	return []Definition{
		{
			ID:          "first-rescue",
			Name:        "First Rescue",
			Description: "Complete your first pickup",
			Kind:        ReqReservationCount,
			Threshold:   1,
			Reward:      25,
		},
		{
			ID:          "regular-rescuer",
			Name:        "Regular Rescuer",
			Description: "Complete 10 pickups",
			Kind:        ReqReservationCount,
			Threshold:   10,
			Reward:      100,
		},
		{
			ID:          "rescue-veteran",
			Name:        "Rescue Veteran",
			Description: "Complete 50 pickups",
			Kind:        ReqReservationCount,
			Threshold:   50,
			Reward:      500,
		},
		{
			ID:          "thrifty-fifty",
			Name:        "Thrifty Fifty",
			Description: "Save 50 in original food value",
			Kind:        ReqMoneySaved,
			Threshold:   50,
			Reward:      75,
		},
		{
			ID:          "big-saver",
			Name:        "Big Saver",
			Description: "Save 500 in original food value",
			Kind:        ReqMoneySaved,
			Threshold:   500,
			Reward:      400,
		},
		{
			ID:          "taste-explorer",
			Name:        "Taste Explorer",
			Description: "Pick up offers from 5 different categories",
			Kind:        ReqCategoryCount,
			Threshold:   5,
			Reward:      150,
		},
		{
			ID:          "neighborhood-friend",
			Name:        "Neighborhood Friend",
			Description: "Pick up from 10 different partners",
			Kind:        ReqUniquePartners,
			Threshold:   10,
			Reward:      150,
		},
		{
			ID:          "loyal-customer",
			Name:        "Loyal Customer",
			Description: "Pick up 15 times from the same partner",
			Kind:        ReqPartnerLoyalty,
			Threshold:   15,
			Reward:      200,
		},
		{
			ID:          "week-streak",
			Name:        "Week Streak",
			Description: "Pick up on 7 consecutive days",
			Kind:        ReqStreak,
			Threshold:   7,
			Reward:      250,
		},
		{
			ID:          "word-spreader",
			Name:        "Word Spreader",
			Description: "Refer 3 friends who complete a pickup",
			Kind:        ReqReferrals,
			Threshold:   3,
			Reward:      300,
		},
	}
}
