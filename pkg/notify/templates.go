package notify

import (
	"fmt"
	"time"
)

// InvoiceReminder builds the unpaid-invoice reminder email
func InvoiceReminder(to string, invoiceID string, amountMajor float64, currency string, expiresAt time.Time) Email {
	return Email{
		To:      to,
		Subject: "Your invoice is awaiting payment",
		HTML: fmt.Sprintf(
			`<p>You have an unpaid invoice of <strong>%.2f %s</strong>.</p>`+
				`<p>It expires on %s. Pay before then to avoid interruption.</p>`+
				`<p>Invoice reference: %s</p>`,
			amountMajor, currency, expiresAt.Format("January 2, 2006"), invoiceID),
	}
}

// PaymentWarning builds the overdue-service warning email
func PaymentWarning(to string, serviceName string, dueDate time.Time) Email {
	return Email{
		To:      to,
		Subject: fmt.Sprintf("Payment overdue for %s", serviceName),
		HTML: fmt.Sprintf(
			`<p>Payment for <strong>%s</strong> was due on %s.</p>`+
				`<p>The service will be suspended if payment is not received.</p>`,
			serviceName, dueDate.Format("January 2, 2006")),
	}
}

// RenewalReminder builds the upcoming-renewal reminder email
func RenewalReminder(to string, serviceName string, dueDate time.Time, amountMajor float64, currency string) Email {
	return Email{
		To:      to,
		Subject: fmt.Sprintf("Upcoming renewal for %s", serviceName),
		HTML: fmt.Sprintf(
			`<p><strong>%s</strong> renews on %s for %.2f %s.</p>`+
				`<p>Make sure your payment method is up to date.</p>`,
			serviceName, dueDate.Format("January 2, 2006"), amountMajor, currency),
	}
}
