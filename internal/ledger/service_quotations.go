package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bizdesk/bizdesk/internal/numbering"
	"github.com/bizdesk/bizdesk/internal/shared"
)

// CreateQuotation validates and stores a Draft quotation with its items. The
// quotation either references an existing client or embeds a prospect snapshot.
func (s *Service) CreateQuotation(ctx context.Context, req CreateQuotationRequest, actor *shared.Identity) (*Quotation, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	q, err := s.buildQuotation(req)
	if err != nil {
		return nil, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if q.ClientID != nil {
			client, err := tx.GetClientForUpdate(ctx, *q.ClientID)
			if err != nil {
				return err
			}
			q.Prospect = ProspectSnapshot{Name: client.Name, Email: client.Email, Phone: client.Phone, Address: client.Address}
		}
		number, err := numbering.Allocate(ctx, tx, numbering.Quotation)
		if err != nil {
			return err
		}
		q.QuotationNumber = number
		if q.ID, err = tx.CreateQuotation(ctx, *q); err != nil {
			return fmt.Errorf("insert quotation: %w", err)
		}
		for i, it := range req.Items {
			if _, err := tx.InsertQuotationItem(ctx, QuotationItem{
				QuotationID: q.ID,
				Position:    i + 1,
				Title:       strings.TrimSpace(it.Title),
				Description: it.Description,
				Price:       it.Price,
			}); err != nil {
				return fmt.Errorf("insert quotation item %d: %w", i+1, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create quotation: %w", err)
	}

	s.record(ctx, actor, "quotation.created", "quotation", q.ID, map[string]any{
		"quotation_number": q.QuotationNumber,
		"total_amount":     q.TotalAmount.StringFixed(2),
	})
	s.invalidate(ctx)
	return s.repo.GetQuotation(ctx, q.ID)
}

// buildQuotation applies the mode and item rules to a creation request.
func (s *Service) buildQuotation(req CreateQuotationRequest) (*Quotation, error) {
	req.ClientName = strings.TrimSpace(req.ClientName)
	req.ClientEmail = strings.TrimSpace(req.ClientEmail)
	if err := shared.Validate(req); err != nil {
		return nil, err
	}

	hasClient := req.ClientID != nil
	hasProspect := req.ClientName != "" || req.ClientEmail != "" || strings.TrimSpace(req.ClientPhone) != "" ||
		strings.TrimSpace(req.ClientAddress) != ""
	switch {
	case hasClient && hasProspect:
		return nil, shared.NewValidationError("Choose either an existing client or enter new client details, not both")
	case !hasClient && !hasProspect:
		return nil, shared.NewValidationError("Select an existing client or enter new client details")
	case hasClient && *req.ClientID <= 0:
		return nil, shared.FieldError("client_id", "Selected client is invalid")
	case !hasClient:
		verr := &shared.ValidationError{Fields: map[string]string{}}
		if req.ClientName == "" {
			verr.Fields["client_name"] = "Company name is required for a new client"
		}
		if req.ClientEmail == "" {
			verr.Fields["client_email"] = "Email is required for a new client"
		}
		if len(verr.Fields) > 0 {
			return nil, verr
		}
	}

	total := req.TotalAmount
	usesItems := len(req.Items) > 0
	if usesItems {
		var err error
		if total, err = validateItems(req.Items); err != nil {
			return nil, err
		}
	} else if err := validateMoney("total_amount", total, false); err != nil {
		return nil, shared.FieldError("total_amount", "Add at least one item or enter a total amount greater than zero")
	}

	var issue, due = req.QuotationIssueDate, req.QuotationDueDate
	if issue != nil {
		d := dateOnly(*issue)
		issue = &d
	}
	if due != nil {
		d := dateOnly(*due)
		due = &d
	}
	if issue != nil && due != nil && due.Before(*issue) {
		return nil, shared.FieldError("quotation_due_date", "Valid-until date cannot be before the issue date")
	}

	q := &Quotation{
		ClientID:           req.ClientID,
		Title:              strings.TrimSpace(req.Title),
		Description:        strings.TrimSpace(req.Description),
		TotalAmount:        total,
		UsesItems:          usesItems,
		Status:             QuotationDraft,
		QuotationIssueDate: issue,
		QuotationDueDate:   due,
	}
	if !hasClient {
		q.Prospect = ProspectSnapshot{
			Name:    req.ClientName,
			Email:   req.ClientEmail,
			Phone:   strings.TrimSpace(req.ClientPhone),
			Address: strings.TrimSpace(req.ClientAddress),
			Notes:   req.ClientNotes,
		}
	}
	return q, nil
}

// SendQuotation moves a Draft quotation to Sent.
func (s *Service) SendQuotation(ctx context.Context, id int64, actor *shared.Identity) (*Quotation, error) {
	return s.transition(ctx, id, QuotationSent, "", actor)
}

// ApproveQuotation moves a Sent quotation to Approved.
func (s *Service) ApproveQuotation(ctx context.Context, id int64, actor *shared.Identity) (*Quotation, error) {
	return s.transition(ctx, id, QuotationApproved, "", actor)
}

// RejectQuotation moves a Sent quotation to Rejected.
func (s *Service) RejectQuotation(ctx context.Context, id int64, req RejectQuotationRequest, actor *shared.Identity) (*Quotation, error) {
	if err := shared.Validate(req); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, QuotationRejected, strings.TrimSpace(req.Reason), actor)
}

func (s *Service) transition(ctx context.Context, id int64, to QuotationStatus, reason string, actor *shared.Identity) (*Quotation, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	var from QuotationStatus
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		q, err := tx.GetQuotationForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from = q.Status
		if q.IsConverted {
			return ErrAlreadyConverted
		}
		if !CanTransition(q.Status, to) {
			return transitionError(q.Status, to)
		}
		return tx.UpdateQuotationStatus(ctx, id, to, reason)
	})
	if err != nil {
		return nil, fmt.Errorf("quotation %d: %w", id, err)
	}
	s.record(ctx, actor, "quotation."+strings.ToLower(string(to)), "quotation", id, map[string]any{
		"from": string(from),
		"to":   string(to),
	})
	s.invalidate(ctx)
	return s.repo.GetQuotation(ctx, id)
}

// GetQuotation returns a quotation with its items.
func (s *Service) GetQuotation(ctx context.Context, id int64, actor *shared.Identity) (*Quotation, error) {
	if actor == nil {
		return nil, shared.ErrUnauthorized
	}
	q, err := s.repo.GetQuotation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && (q.ClientID == nil || !actor.CanSeeClient(*q.ClientID)) {
		return nil, ErrQuotationNotFound
	}
	return q, nil
}

// ListQuotations returns a page of quotations. Client callers only see their own.
func (s *Service) ListQuotations(ctx context.Context, filter QuotationFilter, actor *shared.Identity) ([]Quotation, int, error) {
	if actor == nil {
		return nil, 0, shared.ErrUnauthorized
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, 0, shared.FieldError("status", "unknown quotation status")
	}
	if !actor.IsAdmin() {
		filter.ClientID = actor.ClientID
	}
	return s.repo.ListQuotations(ctx, filter)
}

// QuotationTotal derives the quotation total from its items when it uses them.
func QuotationTotal(q *Quotation) decimal.Decimal {
	if !q.UsesItems || len(q.Items) == 0 {
		return q.TotalAmount
	}
	total := decimal.Zero
	for _, it := range q.Items {
		total = total.Add(it.Price)
	}
	return total
}
