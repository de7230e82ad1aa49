package payments

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"gorm.io/gorm"

	"rentbridge.com/app/internal/shared/apperr"
)

type CheckoutOptions struct {
	BaseURL  string
	Currency string
	Timeout  time.Duration
	Logger   *slog.Logger
}

// CheckoutService opens hosted checkout sessions for payments. It only attaches
// the session id; state advances on confirmed webhooks.
type CheckoutService struct {
	db       *gorm.DB
	payments *Service
	provider Provider
	baseURL  string
	currency string
	timeout  time.Duration
	logger   *slog.Logger
}

func NewCheckoutService(db *gorm.DB, svc *Service, p Provider, opts CheckoutOptions) *CheckoutService {
	c := &CheckoutService{
		db:       db,
		payments: svc,
		provider: p,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		currency: opts.Currency,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
	}
	if c.currency == "" {
		c.currency = "usd"
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

type CheckoutResult struct {
	PaymentID string `json:"paymentId"`
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// CreateSession opens a session for the outstanding amount. Provider errors,
// timeouts included, are returned to the caller.
func (c *CheckoutService) CreateSession(ctx context.Context, paymentID string) (CheckoutResult, error) {
	p, lease, err := c.payments.Parties(ctx, paymentID)
	if err != nil {
		return CheckoutResult{}, err
	}
	if p.PaymentStatus == StatusPaid {
		return CheckoutResult{}, ErrAlreadyPaid
	}
	amount := p.Outstanding()
	if !amount.IsPositive() {
		return CheckoutResult{}, ErrAlreadyPaid
	}

	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	sess, err := c.provider.CreateCheckoutSession(pctx, CheckoutSessionRequest{
		PaymentID:     p.ID,
		LeaseID:       lease.ID,
		TenantID:      lease.TenantID,
		AmountMinor:   ToMinor(amount),
		Currency:      c.currency,
		Description:   fmt.Sprintf("Rent for %s due %s", lease.Property.Address, p.DueDate.Format("2006-01-02")),
		CustomerEmail: lease.Tenant.Email,
		SuccessURL:    c.returnURL(p.ID, "success") + "&session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     c.returnURL(p.ID, "cancel"),
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "checkout session create failed", "payment_id", p.ID, "provider", c.provider.Name(), "err", err)
		return CheckoutResult{}, apperr.ExternalErr("Payment provider unavailable.", err)
	}

	err = c.db.WithContext(ctx).Model(&Payment{}).
		Where("id = ?", p.ID).
		Updates(map[string]any{"external_session_id": sess.ID, "updated_at": c.payments.now()}).Error
	if err != nil {
		return CheckoutResult{}, err
	}

	c.logger.InfoContext(ctx, "checkout session created", "payment_id", p.ID, "session_id", sess.ID, "amount_minor", ToMinor(amount))
	return CheckoutResult{PaymentID: p.ID, SessionID: sess.ID, URL: sess.URL}, nil
}

func (c *CheckoutService) returnURL(paymentID, outcome string) string {
	return c.baseURL + "/payments/" + url.PathEscape(paymentID) + "?checkout=" + outcome
}

type CheckoutStatusView struct {
	Payment Payment `json:"payment"`
	EscrowSummary
	CanPay  bool             `json:"canPay"`
	Session *CheckoutSession `json:"session"`
}

// CheckoutStatus reports the payment and, when available, the live session.
// The provider lookup is best effort: failures are logged and Session stays nil.
func (c *CheckoutService) CheckoutStatus(ctx context.Context, paymentID string) (CheckoutStatusView, error) {
	st, err := c.payments.Status(ctx, paymentID)
	if err != nil {
		return CheckoutStatusView{}, err
	}
	out := CheckoutStatusView{Payment: st.Payment, EscrowSummary: st.EscrowSummary, CanPay: st.CanPay}

	if sid := st.Payment.ExternalSessionID; sid != nil && *sid != "" {
		pctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		sess, err := c.provider.GetCheckoutSession(pctx, *sid)
		if err != nil {
			c.logger.WarnContext(ctx, "checkout session lookup failed", "payment_id", paymentID, "session_id", *sid, "err", err)
			return out, nil
		}
		out.Session = &sess
	}
	return out, nil
}
