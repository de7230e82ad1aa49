package payments

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentbridge.com/app/internal/modules/leases"
	"rentbridge.com/app/internal/shared/apperr"
)

func TestCreateForLeaseDefaults(t *testing.T) {
	f := newFixture(t)

	p := f.create(t)
	assert.Equal(t, f.lease.ID, p.LeaseID)
	decEq(t, "1200", p.AmountDue)
	assert.True(t, p.DueDate.Equal(t0.Add(365*24*time.Hour)))
	assert.Equal(t, StatusPending, p.PaymentStatus)
	assert.Equal(t, EscrowNone, p.EscrowStatus)
	assert.False(t, p.AmountPaid.Valid)
	assert.Nil(t, p.EscrowReleaseDate)

	evs, err := f.svc.Repo().Events(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "created", evs[0].Action)
}

func TestCreateForLeaseOverrides(t *testing.T) {
	f := newFixture(t)
	amount := decimal.RequireFromString("950.50")
	due := t0.AddDate(0, 1, 0)

	p, err := f.svc.CreateForLease(context.Background(), f.lease.ID, CreateInput{AmountDue: &amount, DueDate: &due})
	require.NoError(t, err)
	decEq(t, "950.50", f.reload(t, p.ID).AmountDue)
	assert.True(t, f.reload(t, p.ID).DueDate.Equal(due))
}

func TestCreateForLeaseRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateForLease(ctx, "00000000-0000-0000-0000-000000000000", CreateInput{})
	assert.ErrorIs(t, err, ErrLeaseNotFound)
	assert.True(t, apperr.Is(err, apperr.NotFound))

	draft := seedLease(t, f.db, leases.StatusPending, decimal.NewFromInt(800))
	_, err = f.svc.CreateForLease(ctx, draft.ID, CreateInput{})
	assert.ErrorIs(t, err, ErrLeaseNotActive)
	assert.True(t, apperr.Is(err, apperr.Conflict))

	zero := decimal.Zero
	_, err = f.svc.CreateForLease(ctx, f.lease.ID, CreateInput{AmountDue: &zero})
	assert.True(t, apperr.Is(err, apperr.Invalid))

	subCent := decimal.RequireFromString("0.004")
	_, err = f.svc.CreateForLease(ctx, f.lease.ID, CreateInput{AmountDue: &subCent})
	require.True(t, apperr.Is(err, apperr.Invalid))
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Contains(t, ae.Fields, "amountDue")

	f.create(t)
	_, err = f.svc.CreateForLease(ctx, f.lease.ID, CreateInput{})
	assert.ErrorIs(t, err, ErrPaymentExists)
}

func TestCreateForLeaseConcurrentHasOneWinner(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CreateForLease(context.Background(), f.lease.ID, CreateInput{})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrPaymentExists)
	}
	assert.Equal(t, 1, ok)

	var n int64
	require.NoError(t, f.db.Model(&Payment{}).Where("lease_id = ?", f.lease.ID).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestProcessFullPaymentStartsEscrow(t *testing.T) {
	f := newFixture(t)
	p := f.create(t)
	ref := "pi_direct_1"

	out, err := f.svc.Process(context.Background(), p.ID, ProcessInput{AmountPaid: decimal.NewFromInt(1200), ProviderPaymentID: &ref})
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, out.PaymentStatus)
	assert.Equal(t, EscrowHeld, out.EscrowStatus)
	decEq(t, "1200", out.Paid())
	require.NotNil(t, out.PaymentDate)
	assert.True(t, out.PaymentDate.Equal(t0))
	require.NotNil(t, out.EscrowReleaseDate)
	assert.True(t, out.EscrowReleaseDate.Equal(t0.Add(DefaultHold)))
	require.NotNil(t, out.ProviderPaymentRef)
	assert.Equal(t, ref, *out.ProviderPaymentRef)
}

func TestProcessAccumulatesPartialAmounts(t *testing.T) {
	f := newFixture(t)
	p := f.create(t)
	ctx := context.Background()

	out, err := f.svc.Process(ctx, p.ID, ProcessInput{AmountPaid: decimal.NewFromInt(500)})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, out.PaymentStatus)
	assert.Equal(t, EscrowNone, out.EscrowStatus)
	decEq(t, "500", out.Paid())
	decEq(t, "700", out.Outstanding())

	f.clock.Advance(time.Hour)
	out, err = f.svc.Process(ctx, p.ID, ProcessInput{AmountPaid: decimal.NewFromInt(700)})
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, out.PaymentStatus)
	decEq(t, "1200", out.Paid())
	assert.True(t, out.EscrowReleaseDate.Equal(t0.Add(time.Hour+DefaultHold)))

	rs, err := f.svc.Repo().Receipts(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, rs, 2)
}

func TestProcessRejectsRepeatAndBadAmounts(t *testing.T) {
	f := newFixture(t)
	p := f.paid(t)
	ctx := context.Background()

	_, err := f.svc.Process(ctx, p.ID, ProcessInput{AmountPaid: decimal.NewFromInt(1200)})
	assert.ErrorIs(t, err, ErrAlreadyPaid)
	decEq(t, "1200", f.reload(t, p.ID).Paid())

	_, err = f.svc.Process(ctx, p.ID, ProcessInput{AmountPaid: decimal.NewFromInt(-5)})
	assert.True(t, apperr.Is(err, apperr.Invalid))

	_, err = f.svc.Process(ctx, "00000000-0000-0000-0000-000000000000", ProcessInput{AmountPaid: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestProcessRejectsSubCentAmount(t *testing.T) {
	f := newFixture(t)
	p := f.create(t)

	_, err := f.svc.Process(context.Background(), p.ID, ProcessInput{AmountPaid: decimal.RequireFromString("1199.996")})
	require.True(t, apperr.Is(err, apperr.Invalid))
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Contains(t, ae.Fields, "amountPaid")

	got := f.reload(t, p.ID)
	assert.Equal(t, StatusPending, got.PaymentStatus)
	assert.True(t, got.Paid().IsZero())
}

func TestConfirmSatisfactionReleasesEarly(t *testing.T) {
	f := newFixture(t)
	p := f.paid(t)
	f.clock.Advance(5 * time.Hour)

	out, err := f.svc.ConfirmSatisfaction(context.Background(), p.ID, f.lease.TenantID)
	require.NoError(t, err)
	assert.Equal(t, EscrowReleased, out.EscrowStatus)
	assert.Equal(t, StatusPaid, out.PaymentStatus)
	require.NotNil(t, out.ReleaseSource)
	assert.Equal(t, ReleaseManual, *out.ReleaseSource)
	assert.True(t, out.EscrowReleaseDate.Equal(t0.Add(5*time.Hour)))
	assert.True(t, out.ReleasedAt.Equal(t0.Add(5*time.Hour)))

	require.Equal(t, 1, f.notifier.count())
	assert.Equal(t, "landlord@example.com", f.notifier.notices[0].Lease.Property.Manager.Email)

	_, err = f.svc.ConfirmSatisfaction(context.Background(), p.ID, f.lease.TenantID)
	assert.ErrorIs(t, err, ErrNotInEscrow)
	assert.Equal(t, 1, f.notifier.count())
}

func TestConfirmSatisfactionGuards(t *testing.T) {
	f := newFixture(t)
	p := f.create(t)
	ctx := context.Background()

	_, err := f.svc.ConfirmSatisfaction(ctx, p.ID, f.lease.TenantID)
	assert.ErrorIs(t, err, ErrNotInEscrow)

	_, err = f.svc.ConfirmSatisfaction(ctx, "00000000-0000-0000-0000-000000000000", f.lease.TenantID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Process(ctx, p.ID, ProcessInput{AmountPaid: p.AmountDue})
	require.NoError(t, err)

	_, err = f.svc.ConfirmSatisfaction(ctx, p.ID, f.lease.Property.ManagerID)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, EscrowHeld, f.reload(t, p.ID).EscrowStatus)
}

func TestReleaseDueHonoursHold(t *testing.T) {
	f := newFixture(t)
	p := f.paid(t)
	ctx := context.Background()

	f.clock.Advance(DefaultHold - time.Second)
	n, err := f.svc.ReleaseDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, EscrowHeld, f.reload(t, p.ID).EscrowStatus)

	f.clock.Advance(time.Second)
	n, err = f.svc.ReleaseDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := f.reload(t, p.ID)
	assert.Equal(t, EscrowReleased, got.EscrowStatus)
	assert.Equal(t, ReleaseAuto, *got.ReleaseSource)
	assert.True(t, got.EscrowReleaseDate.Equal(t0.Add(DefaultHold)))
	assert.Equal(t, 1, f.notifier.count())

	n, err = f.svc.ReleaseDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, f.notifier.count())
}

func TestReleaseDueSkipsManualRelease(t *testing.T) {
	f := newFixture(t)
	p := f.paid(t)
	ctx := context.Background()

	_, err := f.svc.ConfirmSatisfaction(ctx, p.ID, f.lease.TenantID)
	require.NoError(t, err)

	f.clock.Advance(DefaultHold * 2)
	n, err := f.svc.ReleaseDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, ReleaseManual, *f.reload(t, p.ID).ReleaseSource)
}

func TestReleaseSurvivesNotifierFailure(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = assert.AnError
	p := f.paid(t)

	f.clock.Advance(DefaultHold)
	n, err := f.svc.ReleaseDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, EscrowReleased, f.reload(t, p.ID).EscrowStatus)
}

func TestStatusCountsDownDays(t *testing.T) {
	f := newFixture(t)
	p := f.paid(t)
	ctx := context.Background()

	st, err := f.svc.Status(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, st.DaysLeft)
	assert.True(t, st.CanRelease)
	assert.False(t, st.CanPay)

	f.clock.Advance(49 * time.Hour)
	st, err = f.svc.Status(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.DaysLeft)

	f.clock.Advance(30 * time.Hour)
	st, err = f.svc.Status(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, st.DaysLeft)
	assert.True(t, st.CanRelease)
}

func TestGetIncludesLeaseDetail(t *testing.T) {
	f := newFixture(t)
	p := f.paid(t)

	d, err := f.svc.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, d.Payment.ID)
	assert.Equal(t, "12 Elm St", d.Lease.Property.Address)
	assert.Equal(t, "tenant@example.com", d.Lease.Tenant.Email)
	assert.Equal(t, "landlord@example.com", d.Lease.Manager.Email)
	require.Len(t, d.Receipts, 1)
	assert.Equal(t, ReceiptDirect, d.Receipts[0].Source)

	_, err = f.svc.Get(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}
