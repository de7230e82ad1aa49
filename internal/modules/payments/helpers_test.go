package payments

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"rentbridge.com/app/internal/database"
	"rentbridge.com/app/internal/modules/leases"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&leases.User{}, &leases.Property{}, &leases.Lease{}))
	require.NoError(t, db.AutoMigrate(Models()...))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: t0} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	db       *gorm.DB
	clock    *clock
	svc      *Service
	notifier *recordingNotifier
	lease    leases.Lease
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	c := newClock()
	n := &recordingNotifier{}
	svc := NewService(db, leases.NewRepo(db), Options{Now: c.Now, Notifier: n})
	return &fixture{
		db:       db,
		clock:    c,
		svc:      svc,
		notifier: n,
		lease:    seedLease(t, db, leases.StatusApproved, decimal.NewFromInt(1200)),
	}
}

func seedLease(t *testing.T, db *gorm.DB, status string, rent decimal.Decimal) leases.Lease {
	t.Helper()
	tenant := leases.User{ID: uuid.NewString(), Email: "tenant@example.com", Name: "Tara Tenant", Role: "tenant"}
	manager := leases.User{ID: uuid.NewString(), Email: "landlord@example.com", Name: "Lou Landlord", Role: "manager"}
	prop := leases.Property{ID: uuid.NewString(), ManagerID: manager.ID, Name: "Elm Court", Address: "12 Elm St"}
	lease := leases.Lease{
		ID:         uuid.NewString(),
		TenantID:   tenant.ID,
		PropertyID: prop.ID,
		Rent:       rent,
		StartDate:  t0,
		EndDate:    t0.AddDate(1, 0, 0),
		Status:     status,
	}
	require.NoError(t, db.Create(&tenant).Error)
	require.NoError(t, db.Create(&manager).Error)
	require.NoError(t, db.Create(&prop).Error)
	require.NoError(t, db.Create(&lease).Error)

	lease.Tenant = tenant
	prop.Manager = manager
	lease.Property = prop
	return lease
}

func (f *fixture) create(t *testing.T) Payment {
	t.Helper()
	p, err := f.svc.CreateForLease(context.Background(), f.lease.ID, CreateInput{})
	require.NoError(t, err)
	return p
}

func (f *fixture) paid(t *testing.T) Payment {
	t.Helper()
	p := f.create(t)
	out, err := f.svc.Process(context.Background(), p.ID, ProcessInput{AmountPaid: p.AmountDue})
	require.NoError(t, err)
	return out
}

func (f *fixture) reload(t *testing.T, id string) Payment {
	t.Helper()
	p, err := f.svc.Repo().Get(context.Background(), id)
	require.NoError(t, err)
	return p
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []ReleaseNotice
	err     error
}

func (n *recordingNotifier) PaymentReleased(_ context.Context, rn ReleaseNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, rn)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}

type fakeProvider struct {
	mu        sync.Mutex
	requests  []CheckoutSessionRequest
	sessions  map[string]CheckoutSession
	createErr error
	getErr    error
	block     bool // wait for ctx cancellation on create
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{sessions: map[string]CheckoutSession{}}
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if f.block {
		<-ctx.Done()
		return CheckoutSession{}, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return CheckoutSession{}, f.createErr
	}
	f.requests = append(f.requests, req)
	id := fmt.Sprintf("cs_fake_%d", len(f.requests))
	s := CheckoutSession{
		ID:            id,
		URL:           "https://checkout.example/" + id,
		Status:        "open",
		PaymentStatus: "unpaid",
		AmountTotal:   req.AmountMinor,
		Currency:      req.Currency,
		Metadata:      map[string]string{MetaPaymentID: req.PaymentID, MetaLeaseID: req.LeaseID, MetaTenantID: req.TenantID},
	}
	f.sessions[id] = s
	return s, nil
}

func (f *fakeProvider) GetCheckoutSession(_ context.Context, id string) (CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return CheckoutSession{}, f.getErr
	}
	s, ok := f.sessions[id]
	if !ok {
		return CheckoutSession{}, ErrSessionNotAvailable
	}
	return s, nil
}

func (f *fakeProvider) VerifyAndParseWebhook(_ http.Header, _ []byte) (WebhookEvent, error) {
	return WebhookEvent{}, ErrInvalidSignature
}

func decEq(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got.String())
}
