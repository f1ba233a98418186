/*
handlers_test.go - HTTP-level tests for the API surface

Exercises the full stack behind the router: JWT identity, role gates,
and the domain engines backed by an in-memory SQLite store.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mealrescue/points-engine/achievement"
	"github.com/mealrescue/points-engine/catalog"
	"github.com/mealrescue/points-engine/cooldown"
	"github.com/mealrescue/points-engine/ledger"
	"github.com/mealrescue/points-engine/penalty"
	"github.com/mealrescue/points-engine/reservation"
	"github.com/mealrescue/points-engine/store/sqlite"
)

const testSecret = "test-secret"

// =============================================================================
// TEST SETUP
// =============================================================================

type apiFixture struct {
	router  http.Handler
	handler *Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cal, err := ledger.NewCalendar("UTC", nil)
	require.NoError(t, err)

	ledgerSvc := ledger.NewService(store, cal.Clock)
	penalties := penalty.NewEngine(store, cal, nil)
	forgiveness := penalty.NewWorkflow(store, cal, 24*time.Hour)
	cooldowns := cooldown.NewGuard(store, cal)
	achievements := achievement.NewEngine(store, cal)
	require.NoError(t, achievements.Seed(context.Background()))

	source := catalog.NewStaticSource(catalog.Offer{
		ID:             "offer-1",
		PartnerID:      "partner-1",
		Title:          "Surprise bag",
		Category:       "bakery",
		PointsPrice:    20,
		OriginalValue:  decimal.NewFromFloat(12.50),
		Quantity:       5,
		PickupDeadline: time.Now().Add(4 * time.Hour),
	})

	reservations := reservation.NewService(store, source, penalties, cooldowns,
		achievements, cal, reservation.Rules{}, zap.NewNop())

	handler := &Handler{
		Ledger:       ledgerSvc,
		Escrow:       ledger.NewManager(store, cal.Clock),
		Reservations: reservations,
		Penalties:    penalties,
		Forgiveness:  forgiveness,
		Cooldowns:    cooldowns,
		Achievements: achievements,
		Metrics:      NewMetrics(prometheus.NewRegistry()),
		Log:          zap.NewNop(),
		JWTSecret:    testSecret,
		OpeningGrant: 100,
	}

	ctx := context.Background()
	_, err = ledgerSvc.CreateAccount(ctx, "cust-1", ledger.KindCustomer, 100)
	require.NoError(t, err)
	_, err = ledgerSvc.CreateAccount(ctx, "partner-1", ledger.KindPartner, 0)
	require.NoError(t, err)
	_, err = ledgerSvc.CreateAccount(ctx, "cust-poor", ledger.KindCustomer, 10)
	require.NoError(t, err)

	return &apiFixture{router: NewRouter(handler), handler: handler}
}

func token(t *testing.T, accountID ledger.AccountID, role Role) string {
	t.Helper()
	tok, err := IssueToken(testSecret, accountID, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *apiFixture) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// =============================================================================
// IDENTITY TESTS
// =============================================================================

func TestAPI_MissingToken_Unauthorized(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/balance", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_InvalidToken_Unauthorized(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/balance", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_WrongRole_Forbidden(t *testing.T) {
	// GIVEN: A partner token
	// WHEN: Calling a customer-only endpoint
	// THEN: 403

	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/balance", token(t, "partner-1", RolePartner), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

// =============================================================================
// RESERVATION FLOW TESTS
// =============================================================================

func TestAPI_ReserveAndPickupFlow(t *testing.T) {
	// GIVEN: A customer with the opening grant and a 20-point offer
	// WHEN: Reserving, then the partner confirming the pickup code
	// THEN: Balances move end to end and the first badge unlocks

	f := newAPIFixture(t)
	custToken := token(t, "cust-1", RoleCustomer)
	partnerToken := token(t, "partner-1", RolePartner)

	rec := f.do(t, http.MethodPost, "/api/reservations", custToken,
		CreateReservationRequest{OfferID: "offer-1", Quantity: 1})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res reservation.Reservation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, reservation.StatusActive, res.Status)
	require.NotEmpty(t, res.PickupCode)

	rec = f.do(t, http.MethodGet, "/api/balance", custToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var balance BalanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balance))
	assert.Equal(t, ledger.Points(80), balance.Balance)

	rec = f.do(t, http.MethodPost, "/api/pickup/confirm", partnerToken,
		ConfirmPickupRequest{Code: res.PickupCode})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var pickup PickupResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pickup))
	assert.True(t, pickup.Success)
	assert.Equal(t, reservation.StatusPickedUp, pickup.Reservation.Status)
	assert.Contains(t, pickup.Unlocked, "first-rescue")
}

func TestAPI_Reserve_InsufficientBalance(t *testing.T) {
	// GIVEN: A customer holding 10 points and a 20-point offer
	// WHEN: Reserving one unit
	// THEN: 402 with an actionable shortfall message

	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/reservations", token(t, "cust-poor", RoleCustomer),
		CreateReservationRequest{OfferID: "offer-1", Quantity: 1})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.False(t, errResp.Success)
	assert.Contains(t, errResp.Message, "you need 10 more points")
}

func TestAPI_Reserve_UnknownOffer(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/reservations", token(t, "cust-1", RoleCustomer),
		CreateReservationRequest{OfferID: "offer-nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_Reserve_NegativeQuantity_BadRequest(t *testing.T) {
	// GIVEN: A funded customer
	// WHEN: Reserving a negative quantity
	// THEN: 400, not a server error, and no points move

	f := newAPIFixture(t)
	custToken := token(t, "cust-1", RoleCustomer)

	rec := f.do(t, http.MethodPost, "/api/reservations", custToken,
		CreateReservationRequest{OfferID: "offer-1", Quantity: -1})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Contains(t, errResp.Message, "quantity")

	rec = f.do(t, http.MethodGet, "/api/balance", custToken, nil)
	var balance BalanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balance))
	assert.Equal(t, ledger.Points(100), balance.Balance)
}

func TestAPI_CancelRefunds(t *testing.T) {
	f := newAPIFixture(t)
	custToken := token(t, "cust-1", RoleCustomer)

	rec := f.do(t, http.MethodPost, "/api/reservations", custToken,
		CreateReservationRequest{OfferID: "offer-1", Quantity: 1})
	require.Equal(t, http.StatusCreated, rec.Code)
	var res reservation.Reservation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))

	rec = f.do(t, http.MethodPost, "/api/reservations/"+res.ID+"/cancel", custToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/balance", custToken, nil)
	var balance BalanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balance))
	assert.Equal(t, ledger.Points(100), balance.Balance)
}

func TestAPI_NoShow_Penalizes(t *testing.T) {
	// GIVEN: An active reservation
	// WHEN: The partner reports a no-show
	// THEN: The penalty endpoint shows the count

	f := newAPIFixture(t)
	custToken := token(t, "cust-1", RoleCustomer)
	partnerToken := token(t, "partner-1", RolePartner)

	rec := f.do(t, http.MethodPost, "/api/reservations", custToken,
		CreateReservationRequest{OfferID: "offer-1", Quantity: 1})
	require.Equal(t, http.StatusCreated, rec.Code)
	var res reservation.Reservation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))

	rec = f.do(t, http.MethodPost, "/api/reservations/"+res.ID+"/no-show", partnerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/penalty", custToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pen PenaltyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pen))
	assert.Equal(t, 1, pen.NoShowCount)
	assert.False(t, pen.Suspended)
}

// =============================================================================
// ADMIN TESTS
// =============================================================================

func TestAPI_CreateAccount_IssuesToken(t *testing.T) {
	// GIVEN: An admin token
	// WHEN: Registering a new customer
	// THEN: The account starts with the opening grant and the returned
	//       token works against customer endpoints

	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/admin/accounts", token(t, "admin-1", RoleAdmin),
		CreateAccountRequest{ID: "cust-new", Kind: "customer"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Account ledger.Account `json:"account"`
		Token   string         `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, ledger.Points(100), resp.Account.Balance)

	rec = f.do(t, http.MethodGet, "/api/balance", resp.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_CreateAccount_BadKind(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/admin/accounts", token(t, "admin-1", RoleAdmin),
		CreateAccountRequest{ID: "x", Kind: "robot"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_Sweep(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/admin/sweep", token(t, "admin-1", RoleAdmin), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var sweep SweepResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sweep))
	assert.Equal(t, 0, sweep.Expired)
	assert.Equal(t, 0, sweep.AutoDenied)
}

func TestAPI_SeedDemo(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/admin/demo", token(t, "admin-1", RoleAdmin), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Idempotent: reloading finds the accounts already there.
	rec = f.do(t, http.MethodPost, "/api/admin/demo", token(t, "admin-1", RoleAdmin), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_Health(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// =============================================================================
// ACHIEVEMENT ENDPOINT TESTS
// =============================================================================

func TestAPI_AchievementsAndClaim(t *testing.T) {
	// GIVEN: A customer who completed one pickup
	// WHEN: Listing achievements and claiming the unlocked badge twice
	// THEN: Progress shows the unlock; the second claim reports already_claimed

	f := newAPIFixture(t)
	custToken := token(t, "cust-1", RoleCustomer)
	partnerToken := token(t, "partner-1", RolePartner)

	rec := f.do(t, http.MethodPost, "/api/reservations", custToken,
		CreateReservationRequest{OfferID: "offer-1", Quantity: 1})
	require.Equal(t, http.StatusCreated, rec.Code)
	var res reservation.Reservation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))

	rec = f.do(t, http.MethodPost, "/api/pickup/confirm", partnerToken,
		ConfirmPickupRequest{Code: res.PickupCode})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/achievements", custToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var achResp AchievementsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &achResp))
	require.NotEmpty(t, achResp.Achievements)

	rec = f.do(t, http.MethodPost, "/api/achievements/first-rescue/claim", custToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var claim ClaimResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &claim))
	assert.False(t, claim.AlreadyClaimed)
	assert.Equal(t, ledger.Points(25), claim.RewardPoints)

	rec = f.do(t, http.MethodPost, "/api/achievements/first-rescue/claim", custToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &claim))
	assert.True(t, claim.AlreadyClaimed)
}
