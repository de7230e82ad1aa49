package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repo is the payment record store. Writes go through Service and WebhookService only.
type Repo struct{ db *gorm.DB }

func NewRepo(db *gorm.DB) *Repo { return &Repo{db: db} }

func (r *Repo) Get(ctx context.Context, id string) (Payment, error) {
	return findPayment(r.db.WithContext(ctx), id, false)
}

func (r *Repo) GetByLease(ctx context.Context, leaseID string) (Payment, error) {
	var p Payment
	err := r.db.WithContext(ctx).First(&p, "lease_id = ?", leaseID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Payment{}, ErrPaymentNotFound
	}
	return p, err
}

func (r *Repo) Receipts(ctx context.Context, paymentID string) ([]PaymentReceipt, error) {
	var rs []PaymentReceipt
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Find(&rs).Error
	return rs, err
}

func (r *Repo) Events(ctx context.Context, paymentID string) ([]PaymentEvent, error) {
	var evs []PaymentEvent
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Find(&evs).Error
	return evs, err
}

// DueForRelease lists held payments whose release date is at or before now.
func (r *Repo) DueForRelease(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&Payment{}).
		Where("escrow_status = ? AND escrow_release_date <= ?", EscrowHeld, now).
		Order("escrow_release_date ASC").
		Pluck("id", &ids).Error
	return ids, err
}

func findPayment(db *gorm.DB, id string, lock bool) (Payment, error) {
	if lock {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var p Payment
	err := db.First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Payment{}, ErrPaymentNotFound
	}
	return p, err
}

func lockPayment(tx *gorm.DB, id string) (Payment, error) {
	return findPayment(tx, id, true)
}

func updatePayment(tx *gorm.DB, id string, upd map[string]any) error {
	return tx.Model(&Payment{}).Where("id = ?", id).Updates(upd).Error
}

// addReceipt appends a receipt and returns the new total paid.
func addReceipt(tx *gorm.DB, paymentID string, amount decimal.Decimal, source string, ref *string, now time.Time) (decimal.Decimal, error) {
	rc := PaymentReceipt{
		ID:          uuid.NewString(),
		PaymentID:   paymentID,
		Amount:      amount,
		Source:      source,
		ExternalRef: ref,
		CreatedAt:   now,
	}
	if err := tx.Create(&rc).Error; err != nil {
		return decimal.Zero, err
	}

	var rs []PaymentReceipt
	if err := tx.Where("payment_id = ?", paymentID).Find(&rs).Error; err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, r := range rs {
		total = total.Add(r.Amount)
	}
	return total, nil
}

func appendEvent(tx *gorm.DB, paymentID, action, from, to, actor string, note *string, now time.Time) error {
	return tx.Create(&PaymentEvent{
		ID:         uuid.NewString(),
		PaymentID:  paymentID,
		Action:     action,
		FromStatus: from,
		ToStatus:   to,
		Actor:      actor,
		Note:       note,
		CreatedAt:  now,
	}).Error
}

// state renders the pair of statuses for the audit trail.
func state(p Payment) string {
	return string(p.PaymentStatus) + "/" + string(p.EscrowStatus)
}

func ptr[T any](v T) *T { return &v }
