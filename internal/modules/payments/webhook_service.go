package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"rentbridge.com/app/internal/database"
)

// WebhookService applies verified processor events to payments exactly once.
type WebhookService struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
	hold   time.Duration
}

func NewWebhookService(db *gorm.DB, svc *Service) *WebhookService {
	return &WebhookService{db: db, logger: svc.logger, now: svc.now, hold: svc.hold}
}

func (s *WebhookService) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// Handle records and applies one event in a single transaction. A nil return
// means processed or already processed (answer 2xx); any error must reach the
// processor as a 5xx so it redelivers.
func (s *WebhookService) Handle(ctx context.Context, providerName string, ev WebhookEvent, rawBody []byte) error {
	if ev.EventID == "" {
		return fmt.Errorf("%w: missing event id", ErrMalformedWebhook)
	}
	payload := rawBody
	if !json.Valid(payload) {
		payload = []byte("{}")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()

		pe := ProviderEvent{
			ID:          uuid.NewString(),
			Provider:    providerName,
			EventID:     ev.EventID,
			EventType:   ev.Type,
			PayloadJSON: datatypes.JSON(payload),
			ReceivedAt:  now,
		}

		// dedupe: unique(provider,event_id). A failed apply rolls this row back too.
		if err := tx.Create(&pe).Error; err != nil {
			if database.IsDuplicate(err) {
				s.logger.InfoContext(ctx, "webhook event deduplicated", "provider", providerName, "event_id", ev.EventID, "type", ev.Type)
				return nil
			}
			s.logger.ErrorContext(ctx, "failed to persist provider event", "provider", providerName, "event_id", ev.EventID, "err", err)
			return err
		}

		actor := "provider:" + providerName
		var applyErr error
		switch ev.Type {
		case EventCheckoutCompleted:
			applyErr = s.applyCheckoutCompleted(ctx, tx, ev, actor, now)
		case EventCheckoutExpired:
			applyErr = s.applyCheckoutExpired(ctx, tx, ev, actor, now)
		case EventPaymentFailed:
			applyErr = s.applyPaymentFailed(ctx, tx, ev, actor, now)
		default:
			s.logger.InfoContext(ctx, "webhook event ignored", "provider", providerName, "event_id", ev.EventID, "type", ev.Type)
		}
		if applyErr != nil {
			s.logger.ErrorContext(ctx, "webhook event apply failed", "provider", providerName, "event_id", ev.EventID, "type", ev.Type, "err", applyErr)
			return applyErr
		}

		if err := tx.Model(&ProviderEvent{}).
			Where("id = ?", pe.ID).
			Update("processed_at", now).Error; err != nil {
			return err
		}

		s.logger.InfoContext(ctx, "webhook event processed", "provider", providerName, "event_id", ev.EventID, "type", ev.Type)
		return nil
	})
}

func (s *WebhookService) applyCheckoutCompleted(ctx context.Context, tx *gorm.DB, ev WebhookEvent, actor string, now time.Time) error {
	sess := ev.Session
	if sess == nil {
		return fmt.Errorf("%w: missing session object", ErrMalformedWebhook)
	}
	// The event also fires for async methods that have not settled yet.
	if sess.PaymentStatus != SessionPaymentPaid {
		s.logger.InfoContext(ctx, "checkout completed without payment, waiting", "session_id", sess.ID, "payment_status", sess.PaymentStatus)
		return nil
	}

	paymentID, err := paymentRef(sess.Metadata)
	if err != nil {
		return err
	}

	p, err := lockPayment(tx, paymentID)
	if err != nil {
		return err
	}
	// Redelivery or a second session for the same payment: already applied.
	if p.PaymentStatus == StatusPaid {
		s.logger.InfoContext(ctx, "payment already paid, event is a no-op", "payment_id", p.ID, "session_id", sess.ID)
		return nil
	}

	ref := sess.ID
	if sess.PaymentIntentID != "" {
		ref = sess.PaymentIntentID
	}
	total, err := addReceipt(tx, p.ID, FromMinor(sess.AmountTotal), ReceiptCheckout, &ref, now)
	if err != nil {
		return err
	}

	out, err := settle(tx, p, total, &ref, now, s.hold, actor)
	if err != nil {
		return err
	}
	if out.PaymentStatus != StatusPaid {
		s.logger.WarnContext(ctx, "checkout total below amount due", "payment_id", p.ID, "total", total.String(), "amount_due", p.AmountDue.String())
	}
	return nil
}

func (s *WebhookService) applyCheckoutExpired(ctx context.Context, tx *gorm.DB, ev WebhookEvent, actor string, now time.Time) error {
	sess := ev.Session
	if sess == nil {
		return fmt.Errorf("%w: missing session object", ErrMalformedWebhook)
	}

	var p Payment
	var err error
	if id, rerr := paymentRef(sess.Metadata); rerr == nil {
		p, err = lockPayment(tx, id)
	} else {
		p, err = s.lockBySession(tx, sess.ID)
	}
	if errors.Is(err, ErrPaymentNotFound) {
		s.logger.WarnContext(ctx, "expired session matches no payment", "session_id", sess.ID)
		return nil
	}
	if err != nil {
		return err
	}

	// Only the session that expired is cleared; a newer one stays attached.
	if p.PaymentStatus != StatusPending || p.ExternalSessionID == nil || *p.ExternalSessionID != sess.ID {
		return nil
	}
	if err := updatePayment(tx, p.ID, map[string]any{"external_session_id": nil, "updated_at": now}); err != nil {
		return err
	}
	return appendEvent(tx, p.ID, "session_expired", state(p), state(p), actor, ptr("session="+sess.ID), now)
}

func (s *WebhookService) applyPaymentFailed(ctx context.Context, tx *gorm.DB, ev WebhookEvent, actor string, now time.Time) error {
	var p Payment
	var err error
	if id, rerr := paymentRef(ev.Metadata); rerr == nil {
		p, err = lockPayment(tx, id)
	} else if ev.PaymentIntentID != "" {
		p, err = s.lockByPaymentRef(tx, ev.PaymentIntentID)
	} else {
		s.logger.WarnContext(ctx, "payment failure event without reference", "event_id", ev.EventID)
		return nil
	}
	if errors.Is(err, ErrPaymentNotFound) {
		s.logger.WarnContext(ctx, "payment failure matches no payment", "event_id", ev.EventID, "payment_intent", ev.PaymentIntentID)
		return nil
	}
	if err != nil {
		return err
	}

	// Held or released funds are never reopened by a late failure event.
	// Every writer that marks a payment Paid also opens escrow, so this returns
	// for all rows the service produces and the event is only acknowledged.
	// That no-op is intended; the reset below only touches rows edited by hand.
	if p.EscrowStatus != EscrowNone || p.PaymentStatus == StatusPending {
		return nil
	}
	if err := updatePayment(tx, p.ID, map[string]any{"payment_status": StatusPending, "updated_at": now}); err != nil {
		return err
	}
	return appendEvent(tx, p.ID, "payment_failed", state(p), string(StatusPending)+"/"+string(p.EscrowStatus), actor, nil, now)
}

func (s *WebhookService) lockBySession(tx *gorm.DB, sessionID string) (Payment, error) {
	var ids []string
	err := tx.Model(&Payment{}).Where("external_session_id = ?", sessionID).Limit(1).Pluck("id", &ids).Error
	if err != nil {
		return Payment{}, err
	}
	if len(ids) == 0 {
		return Payment{}, ErrPaymentNotFound
	}
	return lockPayment(tx, ids[0])
}

func (s *WebhookService) lockByPaymentRef(tx *gorm.DB, ref string) (Payment, error) {
	var ids []string
	err := tx.Model(&Payment{}).Where("provider_payment_ref = ?", ref).Limit(1).Pluck("id", &ids).Error
	if err != nil {
		return Payment{}, err
	}
	if len(ids) == 0 {
		return Payment{}, ErrPaymentNotFound
	}
	return lockPayment(tx, ids[0])
}

// paymentRef extracts and validates metadata.paymentId.
func paymentRef(meta map[string]string) (string, error) {
	raw, ok := meta[MetaPaymentID]
	if !ok || raw == "" {
		return "", ErrMissingPaymentRef
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrBadPaymentRef, raw)
	}
	return id.String(), nil
}
