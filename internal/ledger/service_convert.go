package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bizdesk/bizdesk/internal/numbering"
	"github.com/bizdesk/bizdesk/internal/shared"
)

// ConvertQuotation turns an Approved quotation into an unpaid invoice. The
// quotation row stays locked for the whole transaction and invoices carry a
// unique quotation_id, so a quotation converts at most once even when the
// request is submitted twice concurrently.
func (s *Service) ConvertQuotation(ctx context.Context, id int64, actor *shared.Identity) (*ConversionResult, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	var (
		result ConversionResult
		quo    *Quotation
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = ConversionResult{}
		q, err := tx.GetQuotationForUpdate(ctx, id)
		if err != nil {
			return err
		}
		quo = q
		if q.IsConverted || q.Status == QuotationConverted {
			return ErrAlreadyConverted
		}
		if q.Status != QuotationApproved {
			return ErrNotApproved
		}

		client, created, err := s.resolveClient(ctx, tx, q)
		if err != nil {
			return err
		}
		result.ClientID = client.ID
		result.ClientCreated = created

		number, err := numbering.Allocate(ctx, tx, numbering.Invoice)
		if err != nil {
			return err
		}
		issue, due := s.conversionDates(q)
		total := QuotationTotal(q)
		inv := Invoice{
			InvoiceNumber: number,
			ClientID:      client.ID,
			ClientName:    client.Name,
			QuotationID:   &q.ID,
			Description:   firstNonEmpty(q.Description, q.Title),
			IssueDate:     issue,
			DueDate:       due,
			TotalAmount:   total,
			AmountPaid:    decimal.Zero,
			UsesItems:     q.UsesItems && len(q.Items) > 0,
		}
		inv.withDerived()
		if inv.ID, err = tx.CreateInvoice(ctx, inv); err != nil {
			return fmt.Errorf("create invoice: %w", err)
		}
		for _, it := range q.Items {
			item := InvoiceItem{
				InvoiceID:   inv.ID,
				Position:    it.Position,
				Title:       it.Title,
				Description: it.Description,
				Price:       it.Price,
			}
			if item.ID, err = tx.InsertInvoiceItem(ctx, item); err != nil {
				return fmt.Errorf("copy quotation item %d: %w", it.Position, err)
			}
			inv.Items = append(inv.Items, item)
		}
		if err := tx.AdjustClientBalance(ctx, client.ID, total, decimal.Zero); err != nil {
			return fmt.Errorf("update client balance: %w", err)
		}
		if err := tx.MarkQuotationConverted(ctx, q.ID, inv.ID); err != nil {
			return err
		}
		result.Invoice = &inv
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("convert quotation %d: %w", id, err)
	}

	s.record(ctx, actor, "quotation.converted", "quotation", id, map[string]any{
		"quotation_number": quo.QuotationNumber,
		"invoice_id":       result.Invoice.ID,
		"invoice_number":   result.Invoice.InvoiceNumber,
		"client_id":        result.ClientID,
		"client_created":   result.ClientCreated,
	})
	if s.metrics != nil {
		s.metrics.QuotationConverted(result.ClientCreated)
		s.metrics.InvoiceCreated("quotation")
	}
	s.invalidate(ctx)
	if inv, err := s.repo.GetInvoice(ctx, result.Invoice.ID); err == nil {
		result.Invoice = inv
	}
	return &result, nil
}

// resolveClient picks the invoice client: the linked client, else a client
// whose name matches the prospect name exactly, else a new client built from
// the prospect snapshot with zero balances.
func (s *Service) resolveClient(ctx context.Context, tx TxRepository, q *Quotation) (*Client, bool, error) {
	if q.ClientID != nil {
		c, err := tx.GetClientForUpdate(ctx, *q.ClientID)
		return c, false, err
	}
	name := strings.TrimSpace(q.Prospect.Name)
	if name == "" {
		return nil, false, shared.FieldError("client_name", "Quotation has no client to invoice")
	}
	c, err := tx.FindClientByName(ctx, name)
	if err == nil {
		return c, false, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, false, err
	}
	client := Client{
		Name:           name,
		Email:          q.Prospect.Email,
		Phone:          q.Prospect.Phone,
		Address:        q.Prospect.Address,
		Notes:          q.Prospect.Notes,
		RegularBalance: decimal.Zero,
		PaidAmount:     decimal.Zero,
	}
	if client.ID, err = tx.CreateClient(ctx, client); err != nil {
		return nil, false, fmt.Errorf("create client: %w", err)
	}
	return &client, true, nil
}

// conversionDates prefers the quotation specific dates, then the legacy
// generic dates, then today and today plus the default window.
func (s *Service) conversionDates(q *Quotation) (issue, due time.Time) {
	today := s.today()
	issue = today
	switch {
	case q.QuotationIssueDate != nil:
		issue = dateOnly(*q.QuotationIssueDate)
	case q.IssueDate != nil:
		issue = dateOnly(*q.IssueDate)
	}
	due = today.Add(s.dueWindow)
	switch {
	case q.QuotationDueDate != nil:
		due = dateOnly(*q.QuotationDueDate)
	case q.DueDate != nil:
		due = dateOnly(*q.DueDate)
	}
	return issue, due
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
