// Package workers holds the periodic jobs that advance billing state:
// invoice creation and expiry, service suspension, the reminder fleet, and
// retention cleanup. Each worker is a single scan-and-act pass; the
// scheduler's single-flight guard keeps ticks from overlapping.
package workers

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maybeizen/fluxo-sub000/pkg/billing"
	"github.com/maybeizen/fluxo-sub000/pkg/notify"
	"github.com/maybeizen/fluxo-sub000/pkg/observability"
	"github.com/maybeizen/fluxo-sub000/pkg/scheduler"
)

// Billing window constants. The suspension grace and look-ahead windows are
// day-bucketed: a service is invoiced 7 days before its due date and
// suspended 4 days after it.
const (
	invoiceLookahead = 7 * 24 * time.Hour
	suspensionGrace  = 4 * 24 * time.Hour
	unverifiedMaxAge = 7 * 24 * time.Hour
	rowConcurrency   = 4
	suspensionReason = "payment overdue"
)

// Reminder day offsets, relative to the due/expiry date
var (
	reminderOffsets = []time.Duration{7 * 24 * time.Hour, 3 * 24 * time.Hour, 24 * time.Hour}
	warningOffsets  = []time.Duration{-24 * time.Hour, -3 * 24 * time.Hour}
)

// InvoiceEngine is the slice of InvoiceLifecycle the workers drive
type InvoiceEngine interface {
	Create(ctx context.Context, req *billing.CreateInvoiceRequest) (*billing.Invoice, error)
	TransitionToExpired(ctx context.Context, inv *billing.Invoice) (*billing.Invoice, error)
	FindExpiredPending(ctx context.Context) ([]*billing.Invoice, error)
	FindPendingDueInBucket(ctx context.Context, day time.Time) ([]*billing.Invoice, error)
	MarkReminded(ctx context.Context, invoiceID string) error
	HasPendingForService(ctx context.Context, serviceID string) (bool, error)
}

// ServiceEngine is the slice of ServiceLifecycle the workers drive
type ServiceEngine interface {
	Suspend(ctx context.Context, svc *billing.Service, reason string) (*billing.Service, error)
	FindActiveDueBetween(ctx context.Context, from, to time.Time) ([]*billing.Service, error)
	FindOverdueForSuspension(ctx context.Context, cutoff time.Time) ([]*billing.Service, error)
	FindActiveDueInBucket(ctx context.Context, day time.Time) ([]*billing.Service, error)
	MarkNotified(ctx context.Context, serviceID string) error
}

// CouponEngine is the slice of the coupon ledger the workers drive
type CouponEngine interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// AccountDirectory resolves owners for notifications and handles retention
type AccountDirectory interface {
	Email(ctx context.Context, id string) (string, error)
	DeleteUnverifiedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Mailer sends fire-and-forget notifications
type Mailer interface {
	Send(ctx context.Context, email notify.Email) bool
}

// Workers wires the lifecycle engines to the scheduler
type Workers struct {
	invoices InvoiceEngine
	services ServiceEngine
	coupons  CouponEngine
	accounts AccountDirectory
	mailer   Mailer
	logger   *observability.Logger
	metrics  *observability.Metrics
	currency string
	now      func() time.Time
}

// New creates the worker fleet
func New(invoices InvoiceEngine, services ServiceEngine, coupons CouponEngine,
	accounts AccountDirectory, mailer Mailer, logger *observability.Logger,
	metrics *observability.Metrics, currency string) *Workers {
	if currency == "" {
		currency = "usd"
	}
	return &Workers{
		invoices: invoices,
		services: services,
		coupons:  coupons,
		accounts: accounts,
		mailer:   mailer,
		logger:   logger,
		metrics:  metrics,
		currency: currency,
		now:      time.Now,
	}
}

// RegisterAll registers every worker on the scheduler with its period
func (w *Workers) RegisterAll(s *scheduler.Scheduler) error {
	jobs := []struct {
		name     string
		schedule string
		handler  scheduler.Handler
	}{
		{"invoice-creation", "@every 2h", w.RunInvoiceCreation},
		{"invoice-expiry", "@every 5m", w.RunInvoiceExpiry},
		{"invoice-reminder", "@every 3h", w.RunInvoiceReminder},
		{"service-suspension", "@every 1m", w.RunServiceSuspension},
		{"service-payment-warning", "@every 3h", w.RunServicePaymentWarning},
		{"renewal-reminder", "@every 3h", w.RunRenewalReminder},
		{"coupon-expiry", "@every 5m", w.RunCouponExpiry},
		{"unverified-cleanup", "0 2 * * *", w.RunUnverifiedCleanup},
	}

	for _, j := range jobs {
		if err := s.Register(j.name, j.schedule, j.handler); err != nil {
			return err
		}
	}
	return nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// forEachRow processes rows independently with bounded concurrency. One
// row's failure is logged and counted but never aborts the remaining rows;
// the tick only reports an aggregate error.
func forEachRow[T any](ctx context.Context, w *Workers, worker string, rows []T, fn func(ctx context.Context, row T) error) error {
	var failures atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(rowConcurrency)
	for _, row := range rows {
		row := row
		g.Go(func() error {
			if err := fn(ctx, row); err != nil {
				failures.Add(1)
				w.logger.WithError(err).WithField("worker", worker).Error("row failed")
				if w.metrics != nil {
					w.metrics.WorkerRowsProcessed.WithLabelValues(worker, "failure").Inc()
				}
				return nil
			}
			if w.metrics != nil {
				w.metrics.WorkerRowsProcessed.WithLabelValues(worker, "success").Inc()
			}
			return nil
		})
	}
	g.Wait()

	if n := failures.Load(); n > 0 {
		return fmt.Errorf("%d of %d rows failed", n, len(rows))
	}
	return nil
}

// RunInvoiceCreation creates a pending renewal invoice for every active
// service due 7 days out, skipping services that already hold an unexpired
// pending invoice.
func (w *Workers) RunInvoiceCreation(ctx context.Context) error {
	bucketStart := startOfDay(w.now().Add(invoiceLookahead))
	bucketEnd := bucketStart.Add(24 * time.Hour)

	services, err := w.services.FindActiveDueBetween(ctx, bucketStart, bucketEnd)
	if err != nil {
		return err
	}

	return forEachRow(ctx, w, "invoice-creation", services, func(ctx context.Context, svc *billing.Service) error {
		exists, err := w.invoices.HasPendingForService(ctx, svc.ID)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}

		_, err = w.invoices.Create(ctx, &billing.CreateInvoiceRequest{
			UserID:    svc.ServiceOwnerID,
			ServiceID: &svc.ID,
			Items: []*billing.InvoiceItem{{
				Name:           fmt.Sprintf("Renewal - %s", svc.Name),
				Quantity:       1,
				UnitPriceCents: svc.MonthlyPriceCents,
				TotalCents:     svc.MonthlyPriceCents,
			}},
			AmountCents: svc.MonthlyPriceCents,
			Currency:    w.currency,
		})
		return err
	})
}

// RunInvoiceExpiry expires every pending invoice past its expiry. The
// transition's own guard keeps paid invoices untouched.
func (w *Workers) RunInvoiceExpiry(ctx context.Context) error {
	invoices, err := w.invoices.FindExpiredPending(ctx)
	if err != nil {
		return err
	}

	return forEachRow(ctx, w, "invoice-expiry", invoices, func(ctx context.Context, inv *billing.Invoice) error {
		_, err := w.invoices.TransitionToExpired(ctx, inv)
		return err
	})
}

// RunInvoiceReminder emails owners of pending invoices expiring 7, 3, and 1
// days out. Each invoice is stamped after sending so a restart inside the
// same day bucket does not resend.
func (w *Workers) RunInvoiceReminder(ctx context.Context) error {
	now := w.now()
	var all []*billing.Invoice
	for _, offset := range reminderOffsets {
		invoices, err := w.invoices.FindPendingDueInBucket(ctx, now.Add(offset))
		if err != nil {
			return err
		}
		all = append(all, invoices...)
	}

	return forEachRow(ctx, w, "invoice-reminder", all, func(ctx context.Context, inv *billing.Invoice) error {
		email, err := w.accounts.Email(ctx, inv.UserID)
		if err != nil {
			return err
		}
		w.mailer.Send(ctx, notify.InvoiceReminder(email, inv.ID,
			billing.MinorToMajor(inv.PayableCents()), inv.Currency, inv.ExpiresAt))
		return w.invoices.MarkReminded(ctx, inv.ID)
	})
}

// RunServiceSuspension suspends active services more than 4 days past due,
// day-truncated. The transition's guard makes a concurrent flip a no-op.
func (w *Workers) RunServiceSuspension(ctx context.Context) error {
	cutoff := startOfDay(w.now().Add(-suspensionGrace))

	services, err := w.services.FindOverdueForSuspension(ctx, cutoff)
	if err != nil {
		return err
	}

	return forEachRow(ctx, w, "service-suspension", services, func(ctx context.Context, svc *billing.Service) error {
		_, err := w.services.Suspend(ctx, svc, suspensionReason)
		return err
	})
}

// RunServicePaymentWarning emails owners of active services 1 and 3 days
// past due
func (w *Workers) RunServicePaymentWarning(ctx context.Context) error {
	now := w.now()
	var all []*billing.Service
	for _, offset := range warningOffsets {
		services, err := w.services.FindActiveDueInBucket(ctx, now.Add(offset))
		if err != nil {
			return err
		}
		all = append(all, services...)
	}

	return forEachRow(ctx, w, "service-payment-warning", all, func(ctx context.Context, svc *billing.Service) error {
		email, err := w.accounts.Email(ctx, svc.ServiceOwnerID)
		if err != nil {
			return err
		}
		w.mailer.Send(ctx, notify.PaymentWarning(email, svc.Name, svc.DueDate))
		return w.services.MarkNotified(ctx, svc.ID)
	})
}

// RunRenewalReminder emails owners of active services renewing 7, 3, and 1
// days out
func (w *Workers) RunRenewalReminder(ctx context.Context) error {
	now := w.now()
	var all []*billing.Service
	for _, offset := range reminderOffsets {
		services, err := w.services.FindActiveDueInBucket(ctx, now.Add(offset))
		if err != nil {
			return err
		}
		all = append(all, services...)
	}

	return forEachRow(ctx, w, "renewal-reminder", all, func(ctx context.Context, svc *billing.Service) error {
		email, err := w.accounts.Email(ctx, svc.ServiceOwnerID)
		if err != nil {
			return err
		}
		w.mailer.Send(ctx, notify.RenewalReminder(email, svc.Name, svc.DueDate,
			billing.MinorToMajor(svc.MonthlyPriceCents), w.currency))
		return w.services.MarkNotified(ctx, svc.ID)
	})
}

// RunCouponExpiry hard-deletes expired coupons
func (w *Workers) RunCouponExpiry(ctx context.Context) error {
	deleted, err := w.coupons.DeleteExpired(ctx)
	if err != nil {
		return err
	}
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("expired coupons removed")
	}
	return nil
}

// RunUnverifiedCleanup hard-deletes unverified accounts older than 7 days
func (w *Workers) RunUnverifiedCleanup(ctx context.Context) error {
	deleted, err := w.accounts.DeleteUnverifiedBefore(ctx, w.now().Add(-unverifiedMaxAge))
	if err != nil {
		return err
	}
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("unverified accounts removed")
	}
	return nil
}
