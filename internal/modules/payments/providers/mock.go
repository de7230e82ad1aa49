package providers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"rentbridge.com/app/internal/modules/payments"
)

const MockSignatureHeader = "X-Mock-Signature"

// Mock is an in-memory processor for local development. Sessions live in process memory;
// webhooks are the Stripe event shape signed with X-Mock-Signature (see cmd/tools/mockwebhook).
type Mock struct {
	baseURL   string
	secret    string
	tolerance time.Duration
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]payments.CheckoutSession
}

type MockConfig struct {
	BaseURL       string
	WebhookSecret string
	Tolerance     time.Duration
	Now           func() time.Time
}

func NewMock(cfg MockConfig) *Mock {
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	tol := cfg.Tolerance
	if tol <= 0 {
		tol = 5 * time.Minute
	}
	return &Mock{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		secret:    cfg.WebhookSecret,
		tolerance: tol,
		now:       now,
		sessions:  map[string]payments.CheckoutSession{},
	}
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) CreateCheckoutSession(ctx context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	if err := ctx.Err(); err != nil {
		return payments.CheckoutSession{}, err
	}
	if req.AmountMinor <= 0 {
		return payments.CheckoutSession{}, fmt.Errorf("mock: amount must be positive")
	}

	id := "cs_mock_" + randomHex(12)
	exp := m.now().Add(24 * time.Hour)
	s := payments.CheckoutSession{
		ID:            id,
		URL:           m.baseURL + "/mock-checkout/" + id,
		Status:        "open",
		PaymentStatus: "unpaid",
		AmountTotal:   req.AmountMinor,
		Currency:      req.Currency,
		Metadata: map[string]string{
			payments.MetaPaymentID: req.PaymentID,
			payments.MetaLeaseID:   req.LeaseID,
			payments.MetaTenantID:  req.TenantID,
		},
		ExpiresAt: &exp,
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	return s, nil
}

func (m *Mock) GetCheckoutSession(ctx context.Context, sessionID string) (payments.CheckoutSession, error) {
	if err := ctx.Err(); err != nil {
		return payments.CheckoutSession{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return payments.CheckoutSession{}, payments.ErrSessionNotAvailable
	}
	return s, nil
}

// mockEvent mirrors the subset of the Stripe event envelope the reconciler reads.
type mockEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID            string            `json:"id"`
			Status        string            `json:"status"`
			PaymentStatus string            `json:"payment_status"`
			AmountTotal   int64             `json:"amount_total"`
			Currency      string            `json:"currency"`
			PaymentIntent string            `json:"payment_intent"`
			Metadata      map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

func (m *Mock) VerifyAndParseWebhook(headers http.Header, body []byte) (payments.WebhookEvent, error) {
	sig := headers.Get(MockSignatureHeader)
	if sig == "" {
		return payments.WebhookEvent{}, payments.ErrMissingSignature
	}
	if m.secret == "" {
		return payments.WebhookEvent{}, payments.ErrWebhookSecretUnset
	}
	if err := verifySig(sig, m.secret, body, m.tolerance, m.now()); err != nil {
		return payments.WebhookEvent{}, fmt.Errorf("%w: %v", payments.ErrInvalidSignature, err)
	}

	var ev mockEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return payments.WebhookEvent{}, fmt.Errorf("%w: %v", payments.ErrMalformedWebhook, err)
	}
	if ev.ID == "" || ev.Type == "" {
		return payments.WebhookEvent{}, fmt.Errorf("%w: id and type required", payments.ErrMalformedWebhook)
	}

	obj := ev.Data.Object
	out := payments.WebhookEvent{EventID: ev.ID, Type: ev.Type}
	switch ev.Type {
	case payments.EventCheckoutCompleted, payments.EventCheckoutExpired:
		out.Session = &payments.CheckoutSession{
			ID:              obj.ID,
			Status:          obj.Status,
			PaymentStatus:   obj.PaymentStatus,
			AmountTotal:     obj.AmountTotal,
			Currency:        obj.Currency,
			PaymentIntentID: obj.PaymentIntent,
			Metadata:        obj.Metadata,
		}
		m.track(*out.Session)
	case payments.EventPaymentFailed:
		out.PaymentIntentID = obj.ID
		out.Metadata = obj.Metadata
	}
	return out, nil
}

// track keeps GetCheckoutSession consistent with delivered webhooks.
func (m *Mock) track(s payments.CheckoutSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[s.ID]
	if !ok {
		return
	}
	if s.Status != "" {
		cur.Status = s.Status
	}
	if s.PaymentStatus != "" {
		cur.PaymentStatus = s.PaymentStatus
	}
	if s.PaymentIntentID != "" {
		cur.PaymentIntentID = s.PaymentIntentID
	}
	m.sessions[s.ID] = cur
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
