package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueMail carries outbound e-mail so slow SMTP servers do not hold up
	// maintenance jobs.
	QueueMail = "mail"

	// TaskReceiptEmail sends a payment confirmation to the client.
	TaskReceiptEmail = "ledger:receipt_email"
	// TaskReconcileBalances recomputes client balances from invoices and receipts.
	TaskReconcileBalances = "ledger:reconcile_balances"
	// TaskSubscriptionRollForward advances overdue subscription payment dates.
	TaskSubscriptionRollForward = "subscriptions:roll_forward"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// ReceiptEmailPayload describes a committed payment to confirm by e-mail.
type ReceiptEmailPayload struct {
	ReceiptNumber string          `json:"receipt_number"`
	InvoiceNumber string          `json:"invoice_number"`
	ClientName    string          `json:"client_name"`
	ClientEmail   string          `json:"client_email"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceDue    decimal.Decimal `json:"balance_due"`
	PaymentDate   time.Time       `json:"payment_date"`
	PaymentMethod string          `json:"payment_method"`
}

// ReconcilePayload controls a reconciliation run.
type ReconcilePayload struct {
	Fix bool `json:"fix"`
}

// RollForwardPayload pins the roll-forward date; zero means "today".
type RollForwardPayload struct {
	AsOf time.Time `json:"as_of,omitempty"`
}

// NewReceiptEmailTask constructs the receipt e-mail task.
func NewReceiptEmailTask(payload ReceiptEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReceiptEmail, data, asynq.Queue(QueueMail), asynq.MaxRetry(5)), nil
}

// NewReconcileTask constructs a balance reconciliation task.
func NewReconcileTask(fix bool) (*asynq.Task, error) {
	data, err := json.Marshal(ReconcilePayload{Fix: fix})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcileBalances, data, asynq.Queue(QueueDefault)), nil
}

// NewRollForwardTask constructs a subscription roll-forward task.
func NewRollForwardTask(asOf time.Time) (*asynq.Task, error) {
	data, err := json.Marshal(RollForwardPayload{AsOf: asOf})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSubscriptionRollForward, data, asynq.Queue(QueueDefault)), nil
}

// TaskByName builds a maintenance task from its short name, as used by the
// admin CLI.
func TaskByName(name string, fix bool) (*asynq.Task, error) {
	switch name {
	case "reconcile", TaskReconcileBalances:
		return NewReconcileTask(fix)
	case "rollforward", "roll-forward", TaskSubscriptionRollForward:
		return NewRollForwardTask(time.Time{})
	case "cleanup", TaskIdempotencyCleanup:
		return NewIdempotencyCleanupTask(), nil
	default:
		return nil, fmt.Errorf("unknown job %q", name)
	}
}
