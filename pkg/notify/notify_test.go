package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maybeizen/fluxo-sub000/pkg/observability"
)

type recordingSender struct {
	sent    []Email
	failFor map[string]error
}

func (r *recordingSender) Send(ctx context.Context, email Email) error {
	if err := r.failFor[email.To]; err != nil {
		return err
	}
	r.sent = append(r.sent, email)
	return nil
}

func newTestNotifier(sender Sender) *Notifier {
	n := NewNotifier(sender, observability.NewLogger(observability.ErrorLevel, io.Discard))
	n.bulkPause = time.Millisecond
	return n
}

func TestNotifierSend(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		sender := &recordingSender{}
		n := newTestNotifier(sender)

		ok := n.Send(context.Background(), Email{To: "user@example.com", Subject: "hi"})
		assert.True(t, ok)
		require.Len(t, sender.sent, 1)
		assert.Equal(t, "user@example.com", sender.sent[0].To)
	})

	t.Run("failure is absorbed", func(t *testing.T) {
		sender := &recordingSender{failFor: map[string]error{
			"down@example.com": errors.New("connection refused"),
		}}
		n := newTestNotifier(sender)

		ok := n.Send(context.Background(), Email{To: "down@example.com"})
		assert.False(t, ok)
		assert.Empty(t, sender.sent)
	})
}

func TestNotifierSendBulk(t *testing.T) {
	t.Run("counts successes across batches", func(t *testing.T) {
		sender := &recordingSender{failFor: map[string]error{
			"bad@example.com": errors.New("bounced"),
		}}
		n := newTestNotifier(sender)

		emails := make([]Email, 0, 75)
		for i := 0; i < 74; i++ {
			emails = append(emails, Email{To: fmt.Sprintf("user%d@example.com", i)})
		}
		emails = append(emails, Email{To: "bad@example.com"})

		sent := n.SendBulk(context.Background(), emails)
		assert.Equal(t, 74, sent)
		assert.Len(t, sender.sent, 74)
	})

	t.Run("stops at the batch pause when cancelled", func(t *testing.T) {
		sender := &recordingSender{}
		n := newTestNotifier(sender)
		n.bulkPause = time.Minute

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		emails := make([]Email, 60)
		for i := range emails {
			emails[i] = Email{To: fmt.Sprintf("user%d@example.com", i)}
		}

		sent := n.SendBulk(ctx, emails)
		assert.Equal(t, bulkBatchSize, sent)
	})

	t.Run("empty input", func(t *testing.T) {
		n := newTestNotifier(&recordingSender{})
		assert.Zero(t, n.SendBulk(context.Background(), nil))
	})
}

func TestLogSender(t *testing.T) {
	s := NewLogSender(observability.NewLogger(observability.DebugLevel, io.Discard))
	assert.NoError(t, s.Send(context.Background(), Email{To: "user@example.com", Subject: "hi"}))
}

func TestTemplates(t *testing.T) {
	due := time.Date(2026, 3, 17, 0, 0, 0, 0, time.UTC)

	t.Run("invoice reminder", func(t *testing.T) {
		email := InvoiceReminder("user@example.com", "inv-1", 25.00, "usd", due)
		assert.Equal(t, "user@example.com", email.To)
		assert.Contains(t, email.HTML, "25.00")
	})

	t.Run("payment warning", func(t *testing.T) {
		email := PaymentWarning("user@example.com", "web-1", due)
		assert.Contains(t, email.Subject, "web-1")
		assert.Contains(t, email.HTML, "suspended")
	})

	t.Run("renewal reminder", func(t *testing.T) {
		email := RenewalReminder("user@example.com", "web-1", due, 25.00, "usd")
		assert.Contains(t, email.Subject, "web-1")
		assert.Contains(t, email.HTML, "renews")
	})
}
