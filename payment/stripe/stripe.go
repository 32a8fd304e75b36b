// Package stripe implements payment.Gateway on Stripe Checkout.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/jmcleod/donorhub/internal/derrors"
	"github.com/jmcleod/donorhub/internal/metrics"
	"github.com/jmcleod/donorhub/payment"
)

// Config configures the gateway. BaseURL overrides the API endpoint.
type Config struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
	Timeout       time.Duration
}

// Gateway is a payment.Gateway backed by Stripe.
type Gateway struct {
	api           *client.API
	webhookSecret string
	metrics       *metrics.Metrics
}

var _ payment.Gateway = (*Gateway)(nil)

// New returns a Gateway for cfg.
func New(cfg Config, m *metrics.Metrics) (*Gateway, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe: secret key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	bc := &stripeapi.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripeapi.Int64(2),
	}
	if cfg.BaseURL != "" {
		bc.URL = stripeapi.String(cfg.BaseURL)
	}
	backends := &stripeapi.Backends{
		API:     stripeapi.GetBackendWithConfig(stripeapi.APIBackend, bc),
		Connect: stripeapi.GetBackendWithConfig(stripeapi.ConnectBackend, bc),
		Uploads: stripeapi.GetBackendWithConfig(stripeapi.UploadsBackend, bc),
	}
	return &Gateway{
		api:           client.New(cfg.SecretKey, backends),
		webhookSecret: cfg.WebhookSecret,
		metrics:       m,
	}, nil
}

// CreateCheckoutSession opens a hosted card payment session.
func (g *Gateway) CreateCheckoutSession(ctx context.Context, p payment.SessionParams) (*payment.Session, error) {
	params := &stripeapi.CheckoutSessionParams{
		Mode:               stripeapi.String(string(stripeapi.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripeapi.StringSlice([]string{"card"}),
		CustomerEmail:      stripeapi.String(p.CustomerEmail),
		SuccessURL:         stripeapi.String(p.SuccessURL),
		CancelURL:          stripeapi.String(p.CancelURL),
	}
	params.Context = ctx
	for _, it := range p.LineItems {
		params.LineItems = append(params.LineItems, &stripeapi.CheckoutSessionLineItemParams{
			PriceData: &stripeapi.CheckoutSessionLineItemPriceDataParams{
				Currency: stripeapi.String(p.Currency),
				ProductData: &stripeapi.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripeapi.String(it.Name),
				},
				UnitAmount: stripeapi.Int64(it.UnitAmount),
			},
			Quantity: stripeapi.Int64(it.Quantity),
		})
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	start := time.Now()
	cs, err := g.api.CheckoutSessions.New(params)
	g.metrics.ObserveExternal("stripe", start, err)
	if err != nil {
		return nil, apiError(err, "creating checkout session")
	}
	return toSession(cs), nil
}

// GetSession fetches a session with its payment intent expanded.
func (g *Gateway) GetSession(ctx context.Context, id string) (*payment.Session, error) {
	params := &stripeapi.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")

	start := time.Now()
	cs, err := g.api.CheckoutSessions.Get(id, params)
	g.metrics.ObserveExternal("stripe", start, err)
	if err != nil {
		return nil, apiError(err, "retrieving checkout session")
	}
	return toSession(cs), nil
}

// ParseWebhook verifies the Stripe-Signature header against the webhook
// secret before decoding anything.
func (g *Gateway) ParseWebhook(payload []byte, signature string) (*payment.Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeSignature, "webhook signature verification failed")
	}
	out := &payment.Event{ID: ev.ID, Type: string(ev.Type)}
	if out.Type == payment.EventCheckoutCompleted && ev.Data != nil {
		var cs stripeapi.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &cs); err != nil {
			return nil, derrors.Wrap(err, derrors.CodeValidation, "malformed checkout session in event")
		}
		out.Session = toSession(&cs)
	}
	return out, nil
}

func toSession(cs *stripeapi.CheckoutSession) *payment.Session {
	s := &payment.Session{
		ID:            cs.ID,
		URL:           cs.URL,
		AmountTotal:   cs.AmountTotal,
		Currency:      string(cs.Currency),
		CustomerEmail: cs.CustomerEmail,
		Metadata:      cs.Metadata,
	}
	if s.CustomerEmail == "" && cs.CustomerDetails != nil {
		s.CustomerEmail = cs.CustomerDetails.Email
	}
	if len(cs.PaymentMethodTypes) > 0 {
		s.PaymentMethod = cs.PaymentMethodTypes[0]
	}
	if pi := cs.PaymentIntent; pi != nil {
		s.PaymentIntentID = pi.ID
		s.PaymentAmount = pi.Amount
		s.PaymentCurrency = string(pi.Currency)
		if len(pi.PaymentMethodTypes) > 0 {
			s.PaymentMethod = pi.PaymentMethodTypes[0]
		}
	}
	return s
}

func apiError(err error, op string) error {
	var se *stripeapi.Error
	if errors.As(err, &se) && se.HTTPStatusCode == http.StatusNotFound {
		return derrors.NotFound("checkout session not found")
	}
	return derrors.ExternalService(fmt.Errorf("stripe: %s: %w", op, err), "payment gateway error")
}
