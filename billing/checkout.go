// Package billing hands paid-upgrade checkout off to Stripe. It is a thin
// call-through: one checkout session per request, no webhook handling.
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// Sentinel errors for checkout configuration and requests.
var (
	ErrMissingSecretKey = errors.New("missing Stripe secret key")
	ErrMissingPrices    = errors.New("missing Stripe price configuration")
	ErrMissingClientID  = errors.New("missing clientId")
	ErrCheckoutCreate   = errors.New("failed to create checkout session")
)

// Plan names an upgrade product.
type Plan string

// Supported plans. Unknown plans fall back to the lifetime purchase.
const (
	PlanProMonthly Plan = "pro_monthly"
	PlanLifetime   Plan = "lifetime"
	PlanDayPass    Plan = "daypass"
)

// Config holds Stripe credentials and price identifiers.
type Config struct {
	SecretKey       string
	PriceProMonthly string
	PriceLifetime   string
	PriceDayPass    string

	// AppOrigin is where Stripe redirects after checkout.
	AppOrigin string
}

// Validate checks that all required settings are present.
func (c Config) Validate() error {
	if c.SecretKey == "" {
		return ErrMissingSecretKey
	}
	if c.PriceProMonthly == "" || c.PriceLifetime == "" || c.PriceDayPass == "" {
		return ErrMissingPrices
	}
	return nil
}

// createFunc abstracts the Stripe API call for testing.
type createFunc func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)

// Client creates checkout sessions.
type Client struct {
	cfg    Config
	create createFunc
}

// New creates a checkout client. The configuration is validated lazily on
// first use so a service without billing configured still starts.
func New(cfg Config) *Client {
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)
	return &Client{cfg: cfg, create: api.CheckoutSessions.New}
}

// CreateCheckoutSession starts a Stripe Checkout session for the given plan
// and returns the hosted checkout URL. clientID is recorded as the session's
// client reference so a later fulfillment step can attribute the purchase.
func (c *Client) CreateCheckoutSession(ctx context.Context, plan Plan, clientID string) (string, error) {
	if err := c.cfg.Validate(); err != nil {
		return "", err
	}
	if clientID == "" {
		return "", ErrMissingClientID
	}

	mode, price := c.planParams(plan)
	origin := strings.TrimSuffix(c.cfg.AppOrigin, "/")

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(mode)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(price), Quantity: stripe.Int64(1)},
		},
		ClientReferenceID:   stripe.String(clientID),
		SuccessURL:          stripe.String(fmt.Sprintf("%s/upgrade?success=1&plan=%s", origin, plan)),
		CancelURL:           stripe.String(origin + "/upgrade?canceled=1"),
		AllowPromotionCodes: stripe.Bool(true),
	}
	params.Context = ctx

	sess, err := c.create(params)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCheckoutCreate, err)
	}
	return sess.URL, nil
}

// planParams maps a plan to its checkout mode and price.
func (c *Client) planParams(plan Plan) (stripe.CheckoutSessionMode, string) {
	switch plan {
	case PlanProMonthly:
		return stripe.CheckoutSessionModeSubscription, c.cfg.PriceProMonthly
	case PlanDayPass:
		return stripe.CheckoutSessionModePayment, c.cfg.PriceDayPass
	default:
		return stripe.CheckoutSessionModePayment, c.cfg.PriceLifetime
	}
}
