/*
Package catalog fetches offer details from the partner offer service.

PURPOSE:
  The points engine does not own offer listings; it shadows them. When a
  reservation references an offer the engine has not seen, the catalog
  client fetches the offer's price, original value, category and quantity
  from the offer service, and the reservation layer caches it as a shadow
  row with its own claimed counter.

TRANSPORT:
  Plain JSON over HTTP with retry-on-transient built into the client.
  A 404 maps to ErrOfferNotFound; a 429 surfaces the service's Retry-After
  as TooManyRequestsError so the caller can back off instead of hammering.
*/
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/mealrescue/points-engine/ledger"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrOfferNotFound is returned when the offer service has no such offer.
	ErrOfferNotFound = errors.New("offer not found")
)

// TooManyRequestsError carries the offer service's back-off hint.
type TooManyRequestsError struct {
	RetryAfter time.Duration
}

func (e *TooManyRequestsError) Error() string {
	return fmt.Sprintf("offer service rate limited, retry after %s", e.RetryAfter)
}

// =============================================================================
// OFFER
// =============================================================================

// Offer is the subset of an offer listing the points engine needs.
type Offer struct {
	ID             string           `json:"id"`
	PartnerID      ledger.AccountID `json:"partner_id"`
	Title          string           `json:"title"`
	Category       string           `json:"category"`
	PointsPrice    ledger.Points    `json:"points_price"`
	OriginalValue  decimal.Decimal  `json:"original_value"`
	Quantity       int              `json:"quantity"`
	PickupDeadline time.Time        `json:"pickup_deadline"`
}

// Source resolves offer IDs to offer details.
type Source interface {
	GetOffer(ctx context.Context, offerID string) (*Offer, error)
}

// =============================================================================
// HTTP CLIENT
// =============================================================================

// Client talks to the offer service over HTTP.
type Client struct {
	rest *resty.Client
}

var _ Source = (*Client)(nil)

func NewClient(baseURL string) *Client {
	rest := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond)
	return &Client{rest: rest}
}

// GetOffer fetches one offer by ID.
func (c *Client) GetOffer(ctx context.Context, offerID string) (*Offer, error) {
	var offer Offer
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&offer).
		Get("/api/offers/" + offerID)
	if err != nil {
		return nil, fmt.Errorf("offer service request: %w", err)
	}
	switch resp.StatusCode() {
	case 200:
		return &offer, nil
	case 404:
		return nil, ErrOfferNotFound
	case 429:
		retryAfter := time.Minute
		if s := resp.Header().Get("Retry-After"); s != "" {
			if secs, convErr := strconv.Atoi(s); convErr == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, &TooManyRequestsError{RetryAfter: retryAfter}
	default:
		return nil, fmt.Errorf("offer service returned status %d", resp.StatusCode())
	}
}

// =============================================================================
// STATIC SOURCE
// =============================================================================

// StaticSource serves offers from memory. Used in tests and single-binary
// deployments without a separate offer service.
type StaticSource struct {
	Offers map[string]Offer
}

var _ Source = (*StaticSource)(nil)

func NewStaticSource(offers ...Offer) *StaticSource {
	m := make(map[string]Offer, len(offers))
	for _, o := range offers {
		m[o.ID] = o
	}
	return &StaticSource{Offers: m}
}

func (s *StaticSource) GetOffer(_ context.Context, offerID string) (*Offer, error) {
	o, ok := s.Offers[offerID]
	if !ok {
		return nil, ErrOfferNotFound
	}
	return &o, nil
}
