package payments

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentbridge.com/app/internal/modules/leases"
)

func TestFullPaymentThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	short := f.create(t)
	out, err := f.svc.Process(ctx, short.ID, ProcessInput{AmountPaid: short.AmountDue.Sub(decimal.RequireFromString("0.01"))})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, out.PaymentStatus)
	assert.Equal(t, EscrowNone, out.EscrowStatus)

	other := seedLease(t, f.db, leases.StatusApproved, decimal.NewFromInt(1200))
	full, err := f.svc.CreateForLease(ctx, other.ID, CreateInput{})
	require.NoError(t, err)
	out, err = f.svc.Process(ctx, full.ID, ProcessInput{AmountPaid: full.AmountDue})
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, out.PaymentStatus)
	assert.Equal(t, EscrowHeld, out.EscrowStatus)
	assert.WithinDuration(t, f.clock.Now().Add(3*24*time.Hour), *out.EscrowReleaseDate, time.Second)
}

func TestSweepReleasesOnlyElapsed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 8; i++ {
		l := seedLease(t, f.db, leases.StatusApproved, decimal.NewFromInt(1000))
		p, err := f.svc.CreateForLease(ctx, l.ID, CreateInput{})
		require.NoError(t, err)
		_, err = f.svc.Process(ctx, p.ID, ProcessInput{AmountPaid: p.AmountDue})
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}
	// Five past due, three still held.
	for i, id := range ids {
		release := f.clock.Now().Add(-time.Duration(i+1) * time.Hour)
		if i >= 5 {
			release = f.clock.Now().Add(time.Duration(i) * time.Hour)
		}
		require.NoError(t, updatePayment(f.db, id, map[string]any{"escrow_release_date": release}))
	}

	n, err := f.svc.ReleaseDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	for i, id := range ids {
		want := EscrowReleased
		if i >= 5 {
			want = EscrowHeld
		}
		assert.Equal(t, want, f.reload(t, id).EscrowStatus, "payment %d", i)
	}

	n, err = f.svc.ReleaseDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 5, f.notifier.count())
}

func TestHappyPathThenEarlyRelease(t *testing.T) {
	f := newFixture(t)
	prov := newFakeProvider()
	co := newCheckout(f, prov, time.Second)
	wh := NewWebhookService(f.db, f.svc)
	ctx := context.Background()

	p := f.create(t)
	decEq(t, "1200", p.AmountDue)
	assert.True(t, p.DueDate.Equal(f.lease.StartDate.Add(365*24*time.Hour)))

	res, err := co.CreateSession(ctx, p.ID)
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	ev := WebhookEvent{
		EventID: "evt_happy",
		Type:    EventCheckoutCompleted,
		Session: &CheckoutSession{
			ID:            res.SessionID,
			Status:        "complete",
			PaymentStatus: SessionPaymentPaid,
			AmountTotal:   120000,
			Metadata:      prov.sessions[res.SessionID].Metadata,
		},
	}
	require.NoError(t, wh.Handle(ctx, prov.Name(), ev, nil))

	got := f.reload(t, p.ID)
	assert.Equal(t, StatusPaid, got.PaymentStatus)
	decEq(t, "1200", got.Paid())
	assert.Equal(t, EscrowHeld, got.EscrowStatus)
	assert.True(t, got.EscrowReleaseDate.Equal(f.clock.Now().Add(3*24*time.Hour)))
	assert.Equal(t, res.SessionID, *got.ProviderPaymentRef)

	out, err := f.svc.ConfirmSatisfaction(ctx, p.ID, f.lease.TenantID)
	require.NoError(t, err)
	assert.Equal(t, EscrowReleased, out.EscrowStatus)

	_, err = f.svc.ConfirmSatisfaction(ctx, p.ID, f.lease.TenantID)
	assert.ErrorIs(t, err, ErrNotInEscrow)
}

func TestReleasedIsTerminal(t *testing.T) {
	f := newFixture(t)
	wh := NewWebhookService(f.db, f.svc)
	ctx := context.Background()

	p := f.paid(t)
	_, err := f.svc.ConfirmSatisfaction(ctx, p.ID, f.lease.TenantID)
	require.NoError(t, err)
	before := f.reload(t, p.ID)

	f.clock.Advance(DefaultHold * 2)
	_, err = f.svc.Process(ctx, p.ID, ProcessInput{AmountPaid: decimal.NewFromInt(10)})
	assert.ErrorIs(t, err, ErrAlreadyPaid)
	require.NoError(t, wh.Handle(ctx, "fake", completedFor("evt_late", p, 120000), nil))
	require.NoError(t, wh.Handle(ctx, "fake", WebhookEvent{
		EventID: "evt_fail", Type: EventPaymentFailed, Metadata: map[string]string{MetaPaymentID: p.ID},
	}, nil))
	_, err = f.svc.ReleaseDue(ctx)
	require.NoError(t, err)

	after := f.reload(t, p.ID)
	assert.True(t, before.Paid().Equal(after.Paid()))
	assert.True(t, before.PaymentDate.Equal(*after.PaymentDate))
	assert.Equal(t, EscrowReleased, after.EscrowStatus)
	assert.Equal(t, ReleaseManual, *after.ReleaseSource)
}

func TestExpiredSessionThenNewSession(t *testing.T) {
	f := newFixture(t)
	prov := newFakeProvider()
	co := newCheckout(f, prov, time.Second)
	wh := NewWebhookService(f.db, f.svc)
	ctx := context.Background()

	p := f.create(t)
	first, err := co.CreateSession(ctx, p.ID)
	require.NoError(t, err)

	require.NoError(t, wh.Handle(ctx, prov.Name(), WebhookEvent{
		EventID: "evt_exp",
		Type:    EventCheckoutExpired,
		Session: &CheckoutSession{ID: first.SessionID, Status: "expired", Metadata: map[string]string{MetaPaymentID: p.ID}},
	}, nil))

	got := f.reload(t, p.ID)
	assert.Nil(t, got.ExternalSessionID)
	assert.Equal(t, StatusPending, got.PaymentStatus)

	second, err := co.CreateSession(ctx, p.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, second.SessionID, *f.reload(t, p.ID).ExternalSessionID)
}

func TestEscrowImpliesPaid(t *testing.T) {
	f := newFixture(t)
	wh := NewWebhookService(f.db, f.svc)
	ctx := context.Background()

	p := f.create(t)
	_, _ = f.svc.Process(ctx, p.ID, ProcessInput{AmountPaid: decimal.NewFromInt(100)})
	_ = wh.Handle(ctx, "fake", completedFor("evt_a", p, 30000), nil)
	_ = wh.Handle(ctx, "fake", completedFor("evt_b", p, 90000), nil)
	_ = wh.Handle(ctx, "fake", WebhookEvent{EventID: "evt_c", Type: EventPaymentFailed, Metadata: map[string]string{MetaPaymentID: p.ID}}, nil)

	var all []Payment
	require.NoError(t, f.db.Find(&all).Error)
	for _, p := range all {
		if p.EscrowStatus == EscrowHeld {
			assert.Equal(t, StatusPaid, p.PaymentStatus)
			assert.True(t, p.Paid().GreaterThanOrEqual(p.AmountDue))
			assert.NotNil(t, p.PaymentDate)
		}
	}
}
