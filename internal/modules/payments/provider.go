package payments

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Metadata keys attached to every checkout session and payment intent.
// paymentId is the authoritative binding back to a Payment row.
const (
	MetaPaymentID = "paymentId"
	MetaLeaseID   = "leaseId"
	MetaTenantID  = "tenantId"
)

// Webhook event types the reconciler acts on.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventCheckoutExpired   = "checkout.session.expired"
	EventPaymentFailed     = "payment_intent.payment_failed"
)

// SessionPaymentPaid is the session payment_status that confirms funds.
const SessionPaymentPaid = "paid"

var (
	ErrMissingSignature    = errors.New("missing webhook signature")
	ErrWebhookSecretUnset  = errors.New("webhook signing secret not configured")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrMalformedWebhook    = errors.New("malformed webhook payload")
	ErrSessionNotAvailable = errors.New("checkout session not available")
)

type CheckoutSessionRequest struct {
	PaymentID     string
	LeaseID       string
	TenantID      string
	AmountMinor   int64
	Currency      string
	Description   string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
}

type CheckoutSession struct {
	ID              string            `json:"id"`
	URL             string            `json:"url,omitempty"`
	Status          string            `json:"status"`        // open|complete|expired
	PaymentStatus   string            `json:"paymentStatus"` // paid|unpaid|no_payment_required
	AmountTotal     int64             `json:"amountTotal"`
	Currency        string            `json:"currency,omitempty"`
	PaymentIntentID string            `json:"paymentIntentId,omitempty"`
	Metadata        map[string]string `json:"-"`
	ExpiresAt       *time.Time        `json:"expiresAt,omitempty"`
}

type WebhookEvent struct {
	EventID string
	Type    string

	// Set for checkout.session.* events.
	Session *CheckoutSession

	// Set for payment_intent.* events.
	PaymentIntentID string
	Metadata        map[string]string
}

type Provider interface {
	Name() string
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (CheckoutSession, error)

	// VerifyAndParseWebhook checks the signature over the exact body bytes, then parses.
	// Errors wrap ErrMissingSignature, ErrWebhookSecretUnset, ErrInvalidSignature or ErrMalformedWebhook.
	VerifyAndParseWebhook(headers http.Header, body []byte) (WebhookEvent, error)
}
