package payments

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"rentbridge.com/app/internal/database"
	"rentbridge.com/app/internal/modules/leases"
	"rentbridge.com/app/internal/shared/apperr"
)

const (
	DefaultHold = 72 * time.Hour
	// Payments default to falling due one year after the lease starts.
	defaultDueAfter = 365 * day
)

// Leases is the read-only lease directory the engine depends on.
type Leases interface {
	Get(ctx context.Context, id string) (leases.Lease, error)
}

// ReleaseNotice describes funds released to a landlord.
type ReleaseNotice struct {
	Payment Payment
	Lease   leases.Lease
}

// ReleaseNotifier delivers landlord notifications. Failures never undo a release.
type ReleaseNotifier interface {
	PaymentReleased(ctx context.Context, n ReleaseNotice) error
}

type Options struct {
	Hold     time.Duration
	Now      func() time.Time
	Logger   *slog.Logger
	Notifier ReleaseNotifier
}

type Service struct {
	db       *gorm.DB
	repo     *Repo
	leases   Leases
	notifier ReleaseNotifier
	logger   *slog.Logger
	now      func() time.Time
	hold     time.Duration
}

func NewService(db *gorm.DB, l Leases, opts Options) *Service {
	s := &Service{
		db:       db,
		repo:     NewRepo(db),
		leases:   l,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		now:      opts.Now,
		hold:     opts.Hold,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.hold <= 0 {
		s.hold = DefaultHold
	}
	return s
}

func (s *Service) Repo() *Repo { return s.repo }

type CreateInput struct {
	AmountDue *decimal.Decimal
	DueDate   *time.Time
}

// CreateForLease opens the payment obligation of an approved lease.
func (s *Service) CreateForLease(ctx context.Context, leaseID string, in CreateInput) (Payment, error) {
	if in.AmountDue != nil && !validAmount(*in.AmountDue) {
		return Payment{}, invalidAmount("amountDue")
	}

	lease, err := s.leases.Get(ctx, leaseID)
	if err != nil {
		if errors.Is(err, leases.ErrNotFound) {
			return Payment{}, ErrLeaseNotFound
		}
		return Payment{}, err
	}
	if !lease.IsApproved() {
		return Payment{}, ErrLeaseNotActive
	}
	if _, err := s.repo.GetByLease(ctx, leaseID); err == nil {
		return Payment{}, ErrPaymentExists
	} else if !errors.Is(err, ErrPaymentNotFound) {
		return Payment{}, err
	}

	now := s.now()
	p := Payment{
		ID:            uuid.NewString(),
		LeaseID:       lease.ID,
		AmountDue:     lease.Rent,
		DueDate:       lease.StartDate.Add(defaultDueAfter).UTC(),
		PaymentStatus: StatusPending,
		EscrowStatus:  EscrowNone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if in.AmountDue != nil {
		p.AmountDue = *in.AmountDue
	}
	if in.DueDate != nil {
		p.DueDate = in.DueDate.UTC()
	}
	if !validAmount(p.AmountDue) {
		return Payment{}, invalidAmount("amountDue")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The unique index on lease_id settles concurrent creations.
		if err := tx.Create(&p).Error; err != nil {
			if database.IsDuplicate(err) {
				return ErrPaymentExists
			}
			return err
		}
		return appendEvent(tx, p.ID, "created", "", state(p), "lease:"+lease.ID, nil, now)
	})
	if err != nil {
		return Payment{}, err
	}

	s.logger.InfoContext(ctx, "payment created", "payment_id", p.ID, "lease_id", lease.ID, "amount_due", p.AmountDue.String())
	return p, nil
}

type ProcessInput struct {
	AmountPaid        decimal.Decimal
	ProviderPaymentID *string
	Actor             string
}

// Process records a payment amount taken outside the hosted checkout.
// Amounts accumulate; the payment is Paid once the total covers amount_due.
func (s *Service) Process(ctx context.Context, paymentID string, in ProcessInput) (Payment, error) {
	if !validAmount(in.AmountPaid) {
		return Payment{}, invalidAmount("amountPaid")
	}
	actor := in.Actor
	if actor == "" {
		actor = "system"
	}

	var out Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := lockPayment(tx, paymentID)
		if err != nil {
			return err
		}
		// Reject rather than re-apply: a repeat after success must not double count.
		if p.PaymentStatus == StatusPaid {
			return ErrAlreadyPaid
		}

		now := s.now()
		total, err := addReceipt(tx, p.ID, in.AmountPaid, ReceiptDirect, in.ProviderPaymentID, now)
		if err != nil {
			return err
		}
		out, err = settle(tx, p, total, in.ProviderPaymentID, now, s.hold, actor)
		return err
	})
	if err != nil {
		return Payment{}, err
	}

	s.logger.InfoContext(ctx, "payment processed",
		"payment_id", out.ID,
		"amount_paid", out.Paid().String(),
		"status", out.PaymentStatus,
		"escrow", out.EscrowStatus,
	)
	return out, nil
}

// settle stores the new paid total. When it covers amount_due the payment
// becomes Paid and the escrow hold starts now.
func settle(tx *gorm.DB, p Payment, total decimal.Decimal, ref *string, now time.Time, hold time.Duration, actor string) (Payment, error) {
	from := state(p)
	upd := map[string]any{
		"amount_paid": decimal.NewNullDecimal(total),
		"updated_at":  now,
	}
	if ref != nil && *ref != "" {
		upd["provider_payment_ref"] = *ref
	}

	action := "partial_payment"
	if total.GreaterThanOrEqual(p.AmountDue) {
		release := now.Add(hold)
		upd["payment_status"] = StatusPaid
		upd["escrow_status"] = EscrowHeld
		upd["payment_date"] = now
		upd["escrow_release_date"] = release
		action = "paid"
	}
	if err := updatePayment(tx, p.ID, upd); err != nil {
		return Payment{}, err
	}

	p, err := findPayment(tx, p.ID, false)
	if err != nil {
		return Payment{}, err
	}
	return p, appendEvent(tx, p.ID, action, from, state(p), actor, ptr("total="+total.StringFixed(2)), now)
}

// ConfirmSatisfaction is the tenant's early release of held funds. It is irreversible.
func (s *Service) ConfirmSatisfaction(ctx context.Context, paymentID, tenantID string) (Payment, error) {
	p, lease, err := s.Parties(ctx, paymentID)
	if err != nil {
		return Payment{}, Forbid(err)
	}
	if tenantID == "" || lease.TenantID != tenantID {
		return Payment{}, ErrForbidden
	}

	released, ok, err := s.release(ctx, p.ID, ReleaseManual, "tenant:"+tenantID)
	if err != nil {
		return Payment{}, err
	}
	if !ok {
		return Payment{}, ErrNotInEscrow
	}
	s.notifyReleased(ctx, released, lease)
	return released, nil
}

// release moves one held payment to RELEASED inside its own transaction.
// ok is false when the payment is not (or no longer) eligible.
func (s *Service) release(ctx context.Context, paymentID, source, actor string) (Payment, bool, error) {
	var out Payment
	var ok bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := lockPayment(tx, paymentID)
		if err != nil {
			return err
		}
		if p.EscrowStatus != EscrowHeld {
			return nil
		}

		now := s.now()
		if source == ReleaseAuto && (p.EscrowReleaseDate == nil || p.EscrowReleaseDate.After(now)) {
			return nil
		}

		upd := map[string]any{
			"escrow_status":  EscrowReleased,
			"released_at":    now,
			"release_source": source,
			"updated_at":     now,
		}
		if source == ReleaseManual {
			// After an early release the date records the release moment.
			upd["escrow_release_date"] = now
		}
		if err := updatePayment(tx, p.ID, upd); err != nil {
			return err
		}
		if err := appendEvent(tx, p.ID, "released", state(p), string(StatusPaid)+"/"+string(EscrowReleased), actor, ptr("source="+source), now); err != nil {
			return err
		}

		out, err = findPayment(tx, p.ID, false)
		ok = err == nil
		return err
	})
	return out, ok, err
}

// ReleaseDue releases every held payment whose hold has elapsed. Each payment
// is its own unit of work; failures are logged and reported after the batch.
func (s *Service) ReleaseDue(ctx context.Context) (int, error) {
	ids, err := s.repo.DueForRelease(ctx, s.now())
	if err != nil {
		return 0, err
	}

	released := 0
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		p, ok, err := s.release(ctx, id, ReleaseAuto, "scheduler")
		if err != nil {
			s.logger.ErrorContext(ctx, "escrow auto-release failed", "payment_id", id, "err", err)
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		released++

		lease, err := s.leases.Get(ctx, p.LeaseID)
		if err != nil {
			s.logger.ErrorContext(ctx, "release notification skipped (lease lookup failed)", "payment_id", p.ID, "err", err)
			continue
		}
		s.notifyReleased(ctx, p, lease)
	}
	return released, errors.Join(errs...)
}

func (s *Service) notifyReleased(ctx context.Context, p Payment, lease leases.Lease) {
	s.logger.InfoContext(ctx, "escrow released", "payment_id", p.ID, "lease_id", p.LeaseID, "source", deref(p.ReleaseSource))
	if s.notifier == nil {
		return
	}
	if err := s.notifier.PaymentReleased(ctx, ReleaseNotice{Payment: p, Lease: lease}); err != nil {
		s.logger.ErrorContext(ctx, "landlord notification failed", "payment_id", p.ID, "err", err)
	}
}

type StatusView struct {
	Payment Payment `json:"payment"`
	EscrowSummary
	CanPay bool `json:"canPay"`
}

func (s *Service) Status(ctx context.Context, paymentID string) (StatusView, error) {
	p, err := s.repo.Get(ctx, paymentID)
	if err != nil {
		return StatusView{}, err
	}
	return s.statusOf(p), nil
}

func (s *Service) statusOf(p Payment) StatusView {
	return StatusView{
		Payment:       p,
		EscrowSummary: SummarizeEscrow(p.EscrowStatus, p.EscrowReleaseDate, s.now()),
		CanPay:        p.PaymentStatus == StatusPending,
	}
}

// Parties loads a payment together with its lease, for authorization checks.
func (s *Service) Parties(ctx context.Context, paymentID string) (Payment, leases.Lease, error) {
	p, err := s.repo.Get(ctx, paymentID)
	if err != nil {
		return Payment{}, leases.Lease{}, err
	}
	lease, err := s.leases.Get(ctx, p.LeaseID)
	if err != nil {
		if errors.Is(err, leases.ErrNotFound) {
			return Payment{}, leases.Lease{}, apperr.Wrap(err)
		}
		return Payment{}, leases.Lease{}, err
	}
	return p, lease, nil
}

type PartySummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type PropertySummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

type LeaseSummary struct {
	ID        string          `json:"id"`
	Rent      decimal.Decimal `json:"rent"`
	StartDate time.Time       `json:"startDate"`
	EndDate   time.Time       `json:"endDate"`
	Status    string          `json:"status"`
	Tenant    PartySummary    `json:"tenant"`
	Property  PropertySummary `json:"property"`
	Manager   PartySummary    `json:"manager"`
}

type Detail struct {
	StatusView
	Lease    LeaseSummary     `json:"lease"`
	Receipts []PaymentReceipt `json:"receipts"`
}

// Get returns a payment with lease, property and manager detail.
func (s *Service) Get(ctx context.Context, paymentID string) (Detail, error) {
	p, lease, err := s.Parties(ctx, paymentID)
	if err != nil {
		return Detail{}, err
	}
	return s.detailOf(ctx, p, lease)
}

func (s *Service) detailOf(ctx context.Context, p Payment, l leases.Lease) (Detail, error) {
	rs, err := s.repo.Receipts(ctx, p.ID)
	if err != nil {
		return Detail{}, err
	}
	return Detail{
		StatusView: s.statusOf(p),
		Lease: LeaseSummary{
			ID:        l.ID,
			Rent:      l.Rent,
			StartDate: l.StartDate,
			EndDate:   l.EndDate,
			Status:    l.Status,
			Tenant:    PartySummary{ID: l.Tenant.ID, Name: l.Tenant.Name, Email: l.Tenant.Email},
			Property:  PropertySummary{ID: l.Property.ID, Name: l.Property.Name, Address: l.Property.Address},
			Manager:   PartySummary{ID: l.Property.Manager.ID, Name: l.Property.Manager.Name, Email: l.Property.Manager.Email},
		},
		Receipts: rs,
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
