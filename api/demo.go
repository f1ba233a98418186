/*
demo.go - Demo data seeder for testing and demonstrations

PURPOSE:
  Populates the engine with realistic accounts and offers so the API can
  be exercised without the surrounding catalog and auth services.

WHAT IT CREATES:
  - Two customer accounts with the opening grant
  - Two partner accounts (a bakery and a grocer)
  - A handful of offers with staggered pickup deadlines

  Seeding is idempotent: accounts that already exist are left alone and
  offers are upserted, so reloading the demo never duplicates data.

USAGE VIA API:
  POST /api/admin/demo

NOTE:
  Only use in development/demo environments; the response includes
  ready-to-use bearer tokens for every seeded account.

SEE ALSO:
  - handlers.go: CreateAccount (the production bootstrap path)
*/
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mealrescue/points-engine/ledger"
	"github.com/mealrescue/points-engine/reservation"
)

type demoAccount struct {
	ID   ledger.AccountID
	Kind ledger.AccountKind
}

var demoAccounts = []demoAccount{
	{ID: "cust-ada", Kind: ledger.KindCustomer},
	{ID: "cust-bo", Kind: ledger.KindCustomer},
	{ID: "partner-bakery", Kind: ledger.KindPartner},
	{ID: "partner-grocer", Kind: ledger.KindPartner},
}

// SeedDemo loads the demo accounts and offers and returns tokens for them.
func (h *Handler) SeedDemo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tokens := make(map[string]string, len(demoAccounts))
	for _, da := range demoAccounts {
		grant := ledger.Points(0)
		role := RolePartner
		if da.Kind == ledger.KindCustomer {
			grant = h.OpeningGrant
			role = RoleCustomer
		}
		if _, err := h.Ledger.CreateAccount(ctx, da.ID, da.Kind, grant); err != nil &&
			!errors.Is(err, ledger.ErrAccountExists) {
			h.writeDomainError(w, err)
			return
		}
		token, err := IssueToken(h.JWTSecret, da.ID, role, 24*time.Hour)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to issue token")
			return
		}
		tokens[string(da.ID)] = token
	}

	offers := demoOffers(h.Reservations.Calendar.Now())
	for _, offer := range offers {
		if err := h.Reservations.Store.UpsertOffer(ctx, offer); err != nil {
			h.writeDomainError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accounts": len(demoAccounts),
		"offers":   len(offers),
		"tokens":   tokens,
	})
}

func demoOffers(now time.Time) []reservation.Offer {
	return []reservation.Offer{
		{
			ID:             "offer-surprise-bag",
			PartnerID:      "partner-bakery",
			Title:          "End-of-day surprise bag",
			Category:       "bakery",
			PointsPrice:    20,
			OriginalValue:  decimal.NewFromFloat(12.50),
			Quantity:       5,
			PickupDeadline: now.Add(4 * time.Hour),
		},
		{
			ID:             "offer-bread-box",
			PartnerID:      "partner-bakery",
			Title:          "Day-old bread box",
			Category:       "bakery",
			PointsPrice:    10,
			OriginalValue:  decimal.NewFromFloat(6.00),
			Quantity:       10,
			PickupDeadline: now.Add(2 * time.Hour),
		},
		{
			ID:             "offer-veggie-crate",
			PartnerID:      "partner-grocer",
			Title:          "Imperfect veggie crate",
			Category:       "produce",
			PointsPrice:    15,
			OriginalValue:  decimal.NewFromFloat(9.75),
			Quantity:       8,
			PickupDeadline: now.Add(6 * time.Hour),
		},
		{
			ID:             "offer-dairy-bundle",
			PartnerID:      "partner-grocer",
			Title:          "Short-dated dairy bundle",
			Category:       "dairy",
			PointsPrice:    25,
			OriginalValue:  decimal.NewFromFloat(14.20),
			Quantity:       3,
			PickupDeadline: now.Add(3 * time.Hour),
		},
	}
}
