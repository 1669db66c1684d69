package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	jobmetrics "github.com/bizdesk/bizdesk/internal/jobs"
)

// ReceiptEmailJob renders and sends payment confirmations.
type ReceiptEmailJob struct {
	Mailer  Mailer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	printer *message.Printer
}

// NewReceiptEmailJob constructs the receipt e-mail handler. Amounts are
// formatted for the given locale; an empty tag means English.
func NewReceiptEmailJob(mailer Mailer, locale language.Tag, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReceiptEmailJob {
	if locale == language.Und {
		locale = language.English
	}
	return &ReceiptEmailJob{
		Mailer:  mailer,
		Logger:  logger,
		Metrics: metrics,
		printer: message.NewPrinter(locale),
	}
}

// Handle executes a TaskReceiptEmail task.
func (j *ReceiptEmailJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Mailer == nil {
		return errors.New("receipt email: handler not configured")
	}
	var payload ReceiptEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	logger := j.log().With(slog.String("receipt", payload.ReceiptNumber))
	if strings.TrimSpace(payload.ClientEmail) == "" {
		logger.Info("client has no e-mail address, skipping receipt")
		return nil
	}

	tracker := j.metrics().Track(TaskReceiptEmail)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if err := j.Mailer.Send(ctx, j.Render(payload)); err != nil {
		logger.Warn("send receipt email", slog.Any("error", err))
		return err
	}
	j.metrics().AddItems(TaskReceiptEmail, "sent", 1)
	logger.Info("receipt email sent")
	return nil
}

// Render builds the confirmation message for a payment.
func (j *ReceiptEmailJob) Render(p ReceiptEmailPayload) Message {
	pr := j.printer
	if pr == nil {
		pr = message.NewPrinter(language.English)
	}
	var b strings.Builder
	name := p.ClientName
	if name == "" {
		name = "customer"
	}
	b.WriteString(pr.Sprintf("Dear %s,\n\n", name))
	b.WriteString(pr.Sprintf("We received your payment of %s for invoice %s.\n", amount(pr, p.Amount), p.InvoiceNumber))
	b.WriteString(pr.Sprintf("Receipt number: %s\n", p.ReceiptNumber))
	if !p.PaymentDate.IsZero() {
		b.WriteString(pr.Sprintf("Payment date: %s\n", p.PaymentDate.Format("2 January 2006")))
	}
	if p.PaymentMethod != "" {
		b.WriteString(pr.Sprintf("Method: %s\n", p.PaymentMethod))
	}
	if p.BalanceDue.IsPositive() {
		b.WriteString(pr.Sprintf("Remaining balance: %s\n", amount(pr, p.BalanceDue)))
	} else {
		b.WriteString("The invoice is now paid in full.\n")
	}
	b.WriteString("\nThank you.\n")
	return Message{
		To:      p.ClientEmail,
		Subject: pr.Sprintf("Payment received for invoice %s", p.InvoiceNumber),
		Body:    b.String(),
	}
}

func amount(pr *message.Printer, d decimal.Decimal) string {
	return pr.Sprintf("%.2f", d.Round(2).InexactFloat64())
}

func (j *ReceiptEmailJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReceiptEmail))
	}
	return slog.Default().With(slog.String("job", TaskReceiptEmail))
}

func (j *ReceiptEmailJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
