package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"

	"rentbridge.com/app/internal/modules/payments"
)

const StripeSignatureHeader = "Stripe-Signature"

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Timeout       time.Duration // per HTTP call to Stripe
	Tolerance     time.Duration // accepted webhook timestamp skew
	// BackendURL overrides the API endpoint (stripe-mock, tests).
	BackendURL string
}

// Stripe implements payments.Provider with hosted Checkout Sessions.
type Stripe struct {
	api           *client.API
	webhookSecret string
	tolerance     time.Duration
}

func NewStripe(cfg StripeConfig) *Stripe {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}

	bc := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(1),
	}
	if cfg.BackendURL != "" {
		bc.URL = stripe.String(cfg.BackendURL)
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, bc),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, bc),
	}

	return &Stripe{
		api:           client.New(cfg.SecretKey, backends),
		webhookSecret: cfg.WebhookSecret,
		tolerance:     tolerance,
	}
}

func (s *Stripe) Name() string { return "stripe" }

func (s *Stripe) CreateCheckoutSession(ctx context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	meta := map[string]string{
		payments.MetaPaymentID: req.PaymentID,
		payments.MetaLeaseID:   req.LeaseID,
		payments.MetaTenantID:  req.TenantID,
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.PaymentID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(req.Currency),
				UnitAmount: stripe.Int64(req.AmountMinor),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:        stripe.String("Rent payment"),
					Description: stripe.String(req.Description),
				},
			},
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Description: stripe.String(req.Description),
			Metadata:    meta,
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.Metadata = meta
	params.Context = ctx

	cs, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return payments.CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	return fromStripeSession(cs), nil
}

func (s *Stripe) GetCheckoutSession(ctx context.Context, sessionID string) (payments.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	cs, err := s.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return payments.CheckoutSession{}, fmt.Errorf("stripe: get checkout session: %w", err)
	}
	return fromStripeSession(cs), nil
}

// VerifyAndParseWebhook validates Stripe-Signature over the raw body before decoding it.
func (s *Stripe) VerifyAndParseWebhook(headers http.Header, body []byte) (payments.WebhookEvent, error) {
	sig := headers.Get(StripeSignatureHeader)
	if sig == "" {
		return payments.WebhookEvent{}, payments.ErrMissingSignature
	}
	if s.webhookSecret == "" {
		return payments.WebhookEvent{}, payments.ErrWebhookSecretUnset
	}
	if err := webhook.ValidatePayloadWithTolerance(body, sig, s.webhookSecret, s.tolerance); err != nil {
		return payments.WebhookEvent{}, fmt.Errorf("%w: %v", payments.ErrInvalidSignature, err)
	}

	var ev stripe.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return payments.WebhookEvent{}, fmt.Errorf("%w: %v", payments.ErrMalformedWebhook, err)
	}
	out := payments.WebhookEvent{EventID: ev.ID, Type: string(ev.Type)}
	if ev.Data == nil {
		return out, nil
	}

	switch out.Type {
	case payments.EventCheckoutCompleted, payments.EventCheckoutExpired:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &cs); err != nil {
			return payments.WebhookEvent{}, fmt.Errorf("%w: %v", payments.ErrMalformedWebhook, err)
		}
		sess := fromStripeSession(&cs)
		out.Session = &sess
	case payments.EventPaymentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return payments.WebhookEvent{}, fmt.Errorf("%w: %v", payments.ErrMalformedWebhook, err)
		}
		out.PaymentIntentID = pi.ID
		out.Metadata = pi.Metadata
	}
	return out, nil
}

func fromStripeSession(cs *stripe.CheckoutSession) payments.CheckoutSession {
	out := payments.CheckoutSession{
		ID:            cs.ID,
		URL:           cs.URL,
		Status:        string(cs.Status),
		PaymentStatus: string(cs.PaymentStatus),
		AmountTotal:   cs.AmountTotal,
		Currency:      string(cs.Currency),
		Metadata:      cs.Metadata,
	}
	if cs.PaymentIntent != nil {
		out.PaymentIntentID = cs.PaymentIntent.ID
	}
	if cs.ExpiresAt > 0 {
		t := time.Unix(cs.ExpiresAt, 0).UTC()
		out.ExpiresAt = &t
	}
	return out
}
