package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bizdesk/bizdesk/internal/numbering"
	"github.com/bizdesk/bizdesk/internal/shared"
)

// RecordPayment applies a payment to an invoice. The receipt, the invoice
// amounts and the client balances are written in one transaction while the
// invoice row is locked, so concurrent payments cannot overdraw the balance.
func (s *Service) RecordPayment(ctx context.Context, req RecordPaymentRequest, actor *shared.Identity) (*Receipt, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	req.PaymentMethod = strings.TrimSpace(req.PaymentMethod)
	if err := shared.Validate(req); err != nil {
		return nil, err
	}
	if err := validateMoney("amount", req.Amount, false); err != nil {
		return nil, err
	}

	var (
		receipt Receipt
		notice  ReceiptNotice
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, req.InvoiceID)
		if err != nil {
			return err
		}
		if inv.ClientID != req.ClientID {
			return ErrInvoiceClientMismatch
		}
		if !BalanceDue(inv.TotalAmount, inv.AmountPaid).IsPositive() {
			return ErrInvoicePaid
		}
		paid, balance, status, err := ApplyPayment(inv.TotalAmount, inv.AmountPaid, req.Amount)
		if err != nil {
			return err
		}
		client, err := tx.GetClientForUpdate(ctx, req.ClientID)
		if err != nil {
			return err
		}

		number, err := numbering.Allocate(ctx, tx, numbering.Receipt)
		if err != nil {
			return err
		}
		receipt = Receipt{
			ReceiptNumber: number,
			ClientID:      req.ClientID,
			InvoiceID:     inv.ID,
			InvoiceNumber: inv.InvoiceNumber,
			Amount:        req.Amount,
			PaymentDate:   dateOnly(req.PaymentDate),
			PaymentMethod: req.PaymentMethod,
			Notes:         req.Notes,
			CreatedAt:     s.now(),
		}
		if receipt.ID, err = tx.CreateReceipt(ctx, receipt); err != nil {
			return fmt.Errorf("create receipt: %w", err)
		}

		if err := tx.UpdateInvoicePayment(ctx, inv.ID, paid, balance, status); err != nil {
			return fmt.Errorf("update invoice: %w", err)
		}
		if err := tx.AdjustClientBalance(ctx, req.ClientID, req.Amount.Neg(), req.Amount); err != nil {
			return fmt.Errorf("update client balance: %w", err)
		}

		notice = ReceiptNotice{
			Receipt:       receipt,
			InvoiceNumber: inv.InvoiceNumber,
			BalanceDue:    balance,
			ClientName:    client.Name,
			ClientEmail:   client.Email,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}

	s.record(ctx, actor, "payment.recorded", "receipt", receipt.ID, map[string]any{
		"receipt_number": receipt.ReceiptNumber,
		"invoice_id":     receipt.InvoiceID,
		"client_id":      receipt.ClientID,
		"amount":         receipt.Amount.StringFixed(2),
	})
	if s.metrics != nil {
		s.metrics.PaymentRecorded(receipt.Amount)
	}
	if s.notifier != nil && notice.ClientEmail != "" {
		if err := s.notifier.ReceiptRecorded(ctx, notice); err != nil {
			s.logger.Error("notify receipt", slog.String("receipt", receipt.ReceiptNumber), slog.Any("error", err))
		}
	}
	s.invalidate(ctx)
	return &receipt, nil
}

// ApplyPayment returns the invoice amounts after a payment of amount, or an
// error when the payment is not positive or exceeds the balance due.
func ApplyPayment(total, paid, amount decimal.Decimal) (newPaid, newBalance decimal.Decimal, status InvoiceStatus, err error) {
	if !amount.IsPositive() {
		return paid, BalanceDue(total, paid), DeriveInvoiceStatus(total, paid), shared.FieldError("amount", "amount must be a positive number")
	}
	if amount.GreaterThan(BalanceDue(total, paid)) {
		return paid, BalanceDue(total, paid), DeriveInvoiceStatus(total, paid), ErrAmountExceedsBalance
	}
	newPaid = paid.Add(amount)
	return newPaid, BalanceDue(total, newPaid), DeriveInvoiceStatus(total, newPaid), nil
}
