package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"

	"rentbridge.com/app/internal/mailer"
	"rentbridge.com/app/internal/modules/payments"
	"rentbridge.com/app/internal/storage"
)

// Notifier tells the landlord that escrowed rent was released and, when an
// archive is configured, stores a plain-text receipt for the release.
type Notifier struct {
	mail     mailer.Service
	archive  storage.Storage
	from     string
	fromName string
	logger   *slog.Logger
}

type Options struct {
	From     string
	FromName string
	// Archive is optional; nil skips receipt storage.
	Archive storage.Storage
	Logger  *slog.Logger
}

func New(m mailer.Service, opts Options) *Notifier {
	n := &Notifier{
		mail:     m,
		archive:  opts.Archive,
		from:     opts.From,
		fromName: opts.FromName,
		logger:   opts.Logger,
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	return n
}

var _ payments.ReleaseNotifier = (*Notifier)(nil)

func (n *Notifier) PaymentReleased(ctx context.Context, rn payments.ReleaseNotice) error {
	manager := rn.Lease.Property.Manager
	if manager.Email == "" {
		return errors.New("notify: landlord has no email address")
	}

	v := newReceipt(rn)
	if n.archive != nil {
		res, err := n.archive.Put(ctx, strings.NewReader(v.Text()), storage.PutInput{
			Key:         receiptKey(rn.Payment),
			ContentType: "text/plain; charset=utf-8",
			Size:        int64(len(v.Text())),
		})
		if err != nil {
			// The email still goes out without the receipt link.
			n.logger.ErrorContext(ctx, "receipt archive failed", "payment_id", rn.Payment.ID, "err", err)
		} else {
			v.ReceiptURL = res.URL
		}
	}

	if n.mail == nil {
		return nil
	}
	var html bytes.Buffer
	if err := releasedHTML.Execute(&html, v); err != nil {
		return fmt.Errorf("notify: render: %w", err)
	}
	err := n.mail.Send(ctx, mailer.Email{
		From:     n.from,
		FromName: n.fromName,
		To:       []string{manager.Email},
		Subject:  "Rent released for " + v.Address,
		TextBody: v.Text(),
		HTMLBody: html.String(),
		Headers:  map[string]string{"X-Payment-ID": rn.Payment.ID},
	})
	if err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	n.logger.InfoContext(ctx, "landlord notified", "payment_id", rn.Payment.ID, "to", manager.Email)
	return nil
}

type receipt struct {
	PaymentID  string
	LeaseID    string
	Landlord   string
	Tenant     string
	Address    string
	Amount     string
	PaidAt     string
	ReleasedAt string
	Source     string
	ReceiptURL string
}

func newReceipt(rn payments.ReleaseNotice) receipt {
	p, l := rn.Payment, rn.Lease
	r := receipt{
		PaymentID:  p.ID,
		LeaseID:    l.ID,
		Landlord:   displayName(l.Property.Manager.Name, l.Property.Manager.Email),
		Tenant:     displayName(l.Tenant.Name, l.Tenant.Email),
		Address:    l.Property.Address,
		Amount:     p.Paid().StringFixed(2),
		PaidAt:     formatTime(p.PaymentDate),
		ReleasedAt: formatTime(p.ReleasedAt),
	}
	if p.ReleaseSource != nil && *p.ReleaseSource == payments.ReleaseManual {
		r.Source = "confirmed by tenant"
	} else {
		r.Source = "hold period elapsed"
	}
	return r
}

func (r receipt) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", r.Landlord)
	fmt.Fprintf(&b, "Rent held in escrow for %s has been released to you (%s).\n\n", r.Address, r.Source)
	fmt.Fprintf(&b, "Payment:  %s\n", r.PaymentID)
	fmt.Fprintf(&b, "Lease:    %s\n", r.LeaseID)
	fmt.Fprintf(&b, "Tenant:   %s\n", r.Tenant)
	fmt.Fprintf(&b, "Amount:   %s\n", r.Amount)
	fmt.Fprintf(&b, "Paid:     %s\n", r.PaidAt)
	fmt.Fprintf(&b, "Released: %s\n", r.ReleasedAt)
	if r.ReceiptURL != "" {
		fmt.Fprintf(&b, "\nReceipt: %s\n", r.ReceiptURL)
	}
	return b.String()
}

// receiptKey is stable per payment, so a repeated notice overwrites the same object.
func receiptKey(p payments.Payment) string {
	at := p.UpdatedAt
	if p.ReleasedAt != nil {
		at = *p.ReleasedAt
	}
	return fmt.Sprintf("%s/%s.txt", at.UTC().Format("2006/01"), p.ID)
}

func displayName(name, email string) string {
	if name != "" {
		return name
	}
	return email
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04 UTC")
}

var releasedHTML = template.Must(template.New("released").Parse(`<html>
  <body style="font-family: sans-serif;">
    <h2>Rent released</h2>
    <p>Hello {{.Landlord}},</p>
    <p>Rent held in escrow for <strong>{{.Address}}</strong> has been released to you ({{.Source}}).</p>
    <table>
      <tr><td>Payment</td><td>{{.PaymentID}}</td></tr>
      <tr><td>Tenant</td><td>{{.Tenant}}</td></tr>
      <tr><td>Amount</td><td>{{.Amount}}</td></tr>
      <tr><td>Paid</td><td>{{.PaidAt}}</td></tr>
      <tr><td>Released</td><td>{{.ReleasedAt}}</td></tr>
    </table>
    {{if .ReceiptURL}}<p><a href="{{.ReceiptURL}}">Download receipt</a></p>{{end}}
  </body>
</html>
`))
