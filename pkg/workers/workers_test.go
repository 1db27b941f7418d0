package workers

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maybeizen/fluxo-sub000/pkg/billing"
	"github.com/maybeizen/fluxo-sub000/pkg/notify"
	"github.com/maybeizen/fluxo-sub000/pkg/observability"
	"github.com/maybeizen/fluxo-sub000/pkg/scheduler"
)

var workerNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func dayKey(t time.Time) string {
	return startOfDay(t).Format("2006-01-02")
}

type fakeInvoiceEngine struct {
	mu sync.Mutex

	pendingByService map[string]bool
	expiredPending   []*billing.Invoice
	dueBuckets       map[string][]*billing.Invoice

	createErr map[string]error
	created   []*billing.CreateInvoiceRequest
	expired   []string
	reminded  []string
}

func (f *fakeInvoiceEngine) Create(ctx context.Context, req *billing.CreateInvoiceRequest) (*billing.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.ServiceID != nil {
		if err := f.createErr[*req.ServiceID]; err != nil {
			return nil, err
		}
	}
	f.created = append(f.created, req)
	return &billing.Invoice{ID: "inv-new", UserID: req.UserID}, nil
}

func (f *fakeInvoiceEngine) TransitionToExpired(ctx context.Context, inv *billing.Invoice) (*billing.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = append(f.expired, inv.ID)
	return inv, nil
}

func (f *fakeInvoiceEngine) FindExpiredPending(ctx context.Context) ([]*billing.Invoice, error) {
	return f.expiredPending, nil
}

func (f *fakeInvoiceEngine) FindPendingDueInBucket(ctx context.Context, day time.Time) ([]*billing.Invoice, error) {
	return f.dueBuckets[dayKey(day)], nil
}

func (f *fakeInvoiceEngine) MarkReminded(ctx context.Context, invoiceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reminded = append(f.reminded, invoiceID)
	return nil
}

func (f *fakeInvoiceEngine) HasPendingForService(ctx context.Context, serviceID string) (bool, error) {
	return f.pendingByService[serviceID], nil
}

type fakeServiceEngine struct {
	mu sync.Mutex

	dueBetween []*billing.Service
	overdue    []*billing.Service
	dueBuckets map[string][]*billing.Service

	suspendErr map[string]error
	suspended  map[string]string
	notified   []string

	betweenFrom, betweenTo time.Time
	overdueCutoff          time.Time
}

func (f *fakeServiceEngine) Suspend(ctx context.Context, svc *billing.Service, reason string) (*billing.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.suspendErr[svc.ID]; err != nil {
		return nil, err
	}
	if f.suspended == nil {
		f.suspended = make(map[string]string)
	}
	f.suspended[svc.ID] = reason
	return svc, nil
}

func (f *fakeServiceEngine) FindActiveDueBetween(ctx context.Context, from, to time.Time) ([]*billing.Service, error) {
	f.betweenFrom, f.betweenTo = from, to
	return f.dueBetween, nil
}

func (f *fakeServiceEngine) FindOverdueForSuspension(ctx context.Context, cutoff time.Time) ([]*billing.Service, error) {
	f.overdueCutoff = cutoff
	return f.overdue, nil
}

func (f *fakeServiceEngine) FindActiveDueInBucket(ctx context.Context, day time.Time) ([]*billing.Service, error) {
	return f.dueBuckets[dayKey(day)], nil
}

func (f *fakeServiceEngine) MarkNotified(ctx context.Context, serviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, serviceID)
	return nil
}

type fakeCouponEngine struct {
	deleted int64
	err     error
}

func (f *fakeCouponEngine) DeleteExpired(ctx context.Context) (int64, error) {
	return f.deleted, f.err
}

type fakeAccountDirectory struct {
	emails  map[string]string
	cutoff  time.Time
	deleted int64
}

func (f *fakeAccountDirectory) Email(ctx context.Context, id string) (string, error) {
	email, ok := f.emails[id]
	if !ok {
		return "", errors.New("account not found")
	}
	return email, nil
}

func (f *fakeAccountDirectory) DeleteUnverifiedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.deleted, nil
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []notify.Email
}

func (f *fakeMailer) Send(ctx context.Context, email notify.Email) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, email)
	return true
}

func (f *fakeMailer) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, e := range f.sent {
		out = append(out, e.To)
	}
	return out
}

type workerFixture struct {
	workers  *Workers
	invoices *fakeInvoiceEngine
	services *fakeServiceEngine
	coupons  *fakeCouponEngine
	accounts *fakeAccountDirectory
	mailer   *fakeMailer
}

func newWorkerFixture() *workerFixture {
	f := &workerFixture{
		invoices: &fakeInvoiceEngine{
			pendingByService: make(map[string]bool),
			dueBuckets:       make(map[string][]*billing.Invoice),
			createErr:        make(map[string]error),
		},
		services: &fakeServiceEngine{
			dueBuckets: make(map[string][]*billing.Service),
			suspendErr: make(map[string]error),
		},
		coupons:  &fakeCouponEngine{},
		accounts: &fakeAccountDirectory{emails: make(map[string]string)},
		mailer:   &fakeMailer{},
	}

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	f.workers = New(f.invoices, f.services, f.coupons, f.accounts, f.mailer,
		logger, observability.NewMetrics(nil), "usd")
	f.workers.now = func() time.Time { return workerNow }
	return f
}

func testService(id, owner string, due time.Time) *billing.Service {
	return &billing.Service{
		ID:                id,
		ServiceOwnerID:    owner,
		Name:              "web-" + id,
		Status:            billing.ServiceStatusActive,
		MonthlyPriceCents: 2500,
		DueDate:           due,
	}
}

func TestRunInvoiceCreation(t *testing.T) {
	f := newWorkerFixture()
	due := workerNow.Add(invoiceLookahead)
	f.services.dueBetween = []*billing.Service{
		testService("svc-1", "user-1", due),
		testService("svc-2", "user-2", due),
	}
	f.invoices.pendingByService["svc-2"] = true

	require.NoError(t, f.workers.RunInvoiceCreation(context.Background()))

	// the scan window is the whole day seven days out
	assert.Equal(t, startOfDay(workerNow.Add(invoiceLookahead)), f.services.betweenFrom)
	assert.Equal(t, startOfDay(workerNow.Add(invoiceLookahead)).Add(24*time.Hour), f.services.betweenTo)

	require.Len(t, f.invoices.created, 1)
	req := f.invoices.created[0]
	assert.Equal(t, "user-1", req.UserID)
	assert.Equal(t, "svc-1", *req.ServiceID)
	assert.Equal(t, int64(2500), req.AmountCents)
	assert.Equal(t, "usd", req.Currency)
	require.Len(t, req.Items, 1)
	assert.Equal(t, "Renewal - web-svc-1", req.Items[0].Name)
}

func TestRunInvoiceCreationRowIsolation(t *testing.T) {
	f := newWorkerFixture()
	due := workerNow.Add(invoiceLookahead)
	f.services.dueBetween = []*billing.Service{
		testService("svc-1", "user-1", due),
		testService("svc-2", "user-2", due),
		testService("svc-3", "user-3", due),
	}
	f.invoices.createErr["svc-2"] = errors.New("insert failed")

	err := f.workers.RunInvoiceCreation(context.Background())
	assert.EqualError(t, err, "1 of 3 rows failed")
	assert.Len(t, f.invoices.created, 2)
}

func TestRunInvoiceExpiry(t *testing.T) {
	f := newWorkerFixture()
	f.invoices.expiredPending = []*billing.Invoice{
		{ID: "inv-1", Status: billing.InvoiceStatusPending},
		{ID: "inv-2", Status: billing.InvoiceStatusPending},
	}

	require.NoError(t, f.workers.RunInvoiceExpiry(context.Background()))
	assert.ElementsMatch(t, []string{"inv-1", "inv-2"}, f.invoices.expired)
}

func TestRunInvoiceReminder(t *testing.T) {
	f := newWorkerFixture()
	f.invoices.dueBuckets[dayKey(workerNow.Add(7*24*time.Hour))] = []*billing.Invoice{
		{ID: "inv-1", UserID: "user-1", AmountCents: 2500, Currency: "usd", ExpiresAt: workerNow.Add(7 * 24 * time.Hour)},
	}
	f.invoices.dueBuckets[dayKey(workerNow.Add(24*time.Hour))] = []*billing.Invoice{
		{ID: "inv-2", UserID: "user-2", AmountCents: 999, Currency: "usd", ExpiresAt: workerNow.Add(24 * time.Hour)},
	}
	f.accounts.emails["user-1"] = "one@example.com"
	f.accounts.emails["user-2"] = "two@example.com"

	require.NoError(t, f.workers.RunInvoiceReminder(context.Background()))

	assert.ElementsMatch(t, []string{"one@example.com", "two@example.com"}, f.mailer.recipients())
	assert.ElementsMatch(t, []string{"inv-1", "inv-2"}, f.invoices.reminded)
}

func TestRunInvoiceReminderDiscountedAmount(t *testing.T) {
	f := newWorkerFixture()
	couponType := billing.CouponTypePercentage
	value := int64(10)
	f.invoices.dueBuckets[dayKey(workerNow.Add(3*24*time.Hour))] = []*billing.Invoice{
		{ID: "inv-1", UserID: "user-1", AmountCents: 2500, Currency: "usd",
			CouponType: &couponType, CouponValue: &value,
			ExpiresAt: workerNow.Add(3 * 24 * time.Hour)},
	}
	f.accounts.emails["user-1"] = "one@example.com"

	require.NoError(t, f.workers.RunInvoiceReminder(context.Background()))

	f.mailer.mu.Lock()
	defer f.mailer.mu.Unlock()
	require.Len(t, f.mailer.sent, 1)
	assert.Contains(t, f.mailer.sent[0].HTML, "22.50 usd")
	assert.NotContains(t, f.mailer.sent[0].HTML, "25.00")
}

func TestRunInvoiceReminderMissingAccount(t *testing.T) {
	f := newWorkerFixture()
	f.invoices.dueBuckets[dayKey(workerNow.Add(3*24*time.Hour))] = []*billing.Invoice{
		{ID: "inv-1", UserID: "user-gone", AmountCents: 2500, Currency: "usd"},
	}

	err := f.workers.RunInvoiceReminder(context.Background())
	assert.EqualError(t, err, "1 of 1 rows failed")
	assert.Empty(t, f.mailer.recipients())
	assert.Empty(t, f.invoices.reminded)
}

func TestRunServiceSuspension(t *testing.T) {
	f := newWorkerFixture()
	f.services.overdue = []*billing.Service{
		testService("svc-1", "user-1", workerNow.Add(-5*24*time.Hour)),
		testService("svc-2", "user-2", workerNow.Add(-6*24*time.Hour)),
	}

	require.NoError(t, f.workers.RunServiceSuspension(context.Background()))

	assert.Equal(t, startOfDay(workerNow.Add(-suspensionGrace)), f.services.overdueCutoff)
	assert.Equal(t, map[string]string{
		"svc-1": "payment overdue",
		"svc-2": "payment overdue",
	}, f.services.suspended)
}

func TestRunServiceSuspensionRowIsolation(t *testing.T) {
	f := newWorkerFixture()
	f.services.overdue = []*billing.Service{
		testService("svc-1", "user-1", workerNow.Add(-5*24*time.Hour)),
		testService("svc-2", "user-2", workerNow.Add(-5*24*time.Hour)),
	}
	f.services.suspendErr["svc-1"] = errors.New("update failed")

	err := f.workers.RunServiceSuspension(context.Background())
	assert.EqualError(t, err, "1 of 2 rows failed")
	assert.Equal(t, map[string]string{"svc-2": "payment overdue"}, f.services.suspended)
}

func TestRunServicePaymentWarning(t *testing.T) {
	f := newWorkerFixture()
	f.services.dueBuckets[dayKey(workerNow.Add(-24*time.Hour))] = []*billing.Service{
		testService("svc-1", "user-1", workerNow.Add(-24*time.Hour)),
	}
	f.services.dueBuckets[dayKey(workerNow.Add(-3*24*time.Hour))] = []*billing.Service{
		testService("svc-2", "user-2", workerNow.Add(-3*24*time.Hour)),
	}
	f.accounts.emails["user-1"] = "one@example.com"
	f.accounts.emails["user-2"] = "two@example.com"

	require.NoError(t, f.workers.RunServicePaymentWarning(context.Background()))

	assert.ElementsMatch(t, []string{"one@example.com", "two@example.com"}, f.mailer.recipients())
	assert.ElementsMatch(t, []string{"svc-1", "svc-2"}, f.services.notified)
}

func TestRunRenewalReminder(t *testing.T) {
	f := newWorkerFixture()
	f.services.dueBuckets[dayKey(workerNow.Add(7*24*time.Hour))] = []*billing.Service{
		testService("svc-1", "user-1", workerNow.Add(7*24*time.Hour)),
	}
	f.accounts.emails["user-1"] = "one@example.com"

	require.NoError(t, f.workers.RunRenewalReminder(context.Background()))

	assert.Equal(t, []string{"one@example.com"}, f.mailer.recipients())
	assert.Equal(t, []string{"svc-1"}, f.services.notified)
}

func TestRunCouponExpiry(t *testing.T) {
	f := newWorkerFixture()
	f.coupons.deleted = 3
	assert.NoError(t, f.workers.RunCouponExpiry(context.Background()))

	f.coupons.err = errors.New("delete failed")
	assert.Error(t, f.workers.RunCouponExpiry(context.Background()))
}

func TestRunUnverifiedCleanup(t *testing.T) {
	f := newWorkerFixture()
	f.accounts.deleted = 2

	require.NoError(t, f.workers.RunUnverifiedCleanup(context.Background()))
	assert.Equal(t, workerNow.Add(-unverifiedMaxAge), f.accounts.cutoff)
}

func TestRegisterAll(t *testing.T) {
	f := newWorkerFixture()
	s := scheduler.New(observability.NewLogger(observability.ErrorLevel, io.Discard), nil)

	require.NoError(t, f.workers.RegisterAll(s))
	assert.ElementsMatch(t, []string{
		"invoice-creation", "invoice-expiry", "invoice-reminder",
		"service-suspension", "service-payment-warning", "renewal-reminder",
		"coupon-expiry", "unverified-cleanup",
	}, s.Names())
}
