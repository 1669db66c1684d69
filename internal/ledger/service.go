package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bizdesk/bizdesk/internal/numbering"
	"github.com/bizdesk/bizdesk/internal/platform/cache"
	"github.com/bizdesk/bizdesk/internal/shared"
)

const defaultDueWindow = 30 * 24 * time.Hour

// ReceiptNotice is handed to the Notifier after a payment commits.
type ReceiptNotice struct {
	Receipt       Receipt
	InvoiceNumber string
	BalanceDue    decimal.Decimal
	ClientName    string
	ClientEmail   string
}

// Notifier delivers payment confirmations, typically by enqueueing a job.
type Notifier interface {
	ReceiptRecorded(ctx context.Context, notice ReceiptNotice) error
}

// Metrics records ledger business counters.
type Metrics interface {
	PaymentRecorded(amount decimal.Decimal)
	InvoiceCreated(source string)
	QuotationConverted(clientCreated bool)
	BalanceDrift(clients int)
}

// Options carries the optional collaborators of Service.
type Options struct {
	Logger    *slog.Logger
	Audit     shared.AuditRecorder
	Notifier  Notifier
	Cache     *cache.Versioned
	Metrics   Metrics
	DueWindow time.Duration
	Now       func() time.Time
}

// Service provides the ledger business operations.
type Service struct {
	repo      Repository
	logger    *slog.Logger
	audit     shared.AuditRecorder
	notifier  Notifier
	cache     *cache.Versioned
	metrics   Metrics
	dueWindow time.Duration
	now       func() time.Time
}

// NewService constructs a ledger service.
func NewService(repo Repository, opts Options) *Service {
	s := &Service{
		repo:      repo,
		logger:    opts.Logger,
		audit:     opts.Audit,
		notifier:  opts.Notifier,
		cache:     opts.Cache,
		metrics:   opts.Metrics,
		dueWindow: opts.DueWindow,
		now:       opts.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.dueWindow <= 0 {
		s.dueWindow = defaultDueWindow
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Service) today() time.Time {
	return dateOnly(s.now())
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func requireAdmin(actor *shared.Identity) error {
	if actor == nil {
		return shared.ErrUnauthorized
	}
	if !actor.IsAdmin() {
		return shared.ErrAdminRequired
	}
	return nil
}

func actorID(actor *shared.Identity) string {
	if actor == nil {
		return ""
	}
	return actor.UserID
}

// record writes an audit entry. Failures are logged, the ledger write already committed.
func (s *Service) record(ctx context.Context, actor *shared.Identity, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID(actor),
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Error("audit record", slog.String("action", action), slog.Int64("id", id), slog.Any("error", err))
	}
}

// invalidate bumps the dashboard cache version after a committed write.
func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("bump dashboard cache", slog.Any("error", err))
	}
}

func validateMoney(field string, amount decimal.Decimal, allowZero bool) error {
	if amount.IsNegative() || (!allowZero && amount.IsZero()) {
		if allowZero {
			return shared.FieldError(field, fmt.Sprintf("%s must not be negative", field))
		}
		return shared.FieldError(field, fmt.Sprintf("%s must be a positive number", field))
	}
	if !amount.Equal(amount.Round(2)) {
		return shared.FieldError(field, fmt.Sprintf("%s must have at most two decimal places", field))
	}
	return nil
}

// validateItems checks priced lines and returns their total.
func validateItems(items []ItemInput) (decimal.Decimal, error) {
	verr := &shared.ValidationError{Fields: map[string]string{}}
	for i, it := range items {
		if strings.TrimSpace(it.Title) == "" {
			verr.Fields[fmt.Sprintf("items[%d].title", i)] = fmt.Sprintf("Item %d needs a title", i+1)
		}
		if err := validateMoney("price", it.Price, true); err != nil {
			verr.Fields[fmt.Sprintf("items[%d].price", i)] = fmt.Sprintf("Item %d price must be zero or more with at most two decimal places", i+1)
		}
	}
	if len(verr.Fields) > 0 {
		if len(verr.Fields) == 1 {
			for _, msg := range verr.Fields {
				verr.Message = msg
			}
		}
		return decimal.Zero, verr
	}
	return sumItems(items), nil
}

// ============================================================================
// CLIENT OPERATIONS
// ============================================================================

// CreateClient registers a client with zero balances.
func (s *Service) CreateClient(ctx context.Context, req CreateClientRequest, actor *shared.Identity) (*Client, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := shared.Validate(req); err != nil {
		return nil, err
	}
	client := Client{
		Name:           req.Name,
		Email:          strings.TrimSpace(req.Email),
		Phone:          req.Phone,
		Address:        req.Address,
		Notes:          req.Notes,
		RegularBalance: decimal.Zero,
		PaidAmount:     decimal.Zero,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateClient(ctx, client)
		client.ID = id
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	s.record(ctx, actor, "client.created", "client", client.ID, map[string]any{"name": client.Name})
	s.invalidate(ctx)
	return s.repo.GetClient(ctx, client.ID)
}

// UpdateClient edits client contact details.
func (s *Service) UpdateClient(ctx context.Context, id int64, req UpdateClientRequest, actor *shared.Identity) (*Client, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := shared.Validate(req); err != nil {
		return nil, err
	}
	updates := make(map[string]any)
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, shared.FieldError("name", "name is required")
		}
		updates["name"] = name
	}
	if req.Email != nil {
		updates["email"] = strings.TrimSpace(*req.Email)
	}
	if req.Phone != nil {
		updates["phone"] = *req.Phone
	}
	if req.Address != nil {
		updates["address"] = *req.Address
	}
	if req.Notes != nil {
		updates["notes"] = *req.Notes
	}
	if len(updates) == 0 {
		return s.repo.GetClient(ctx, id)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateClient(ctx, id, updates)
	})
	if err != nil {
		return nil, fmt.Errorf("update client: %w", err)
	}
	s.record(ctx, actor, "client.updated", "client", id, updates)
	return s.repo.GetClient(ctx, id)
}

// GetClient returns a client visible to the caller.
func (s *Service) GetClient(ctx context.Context, id int64, actor *shared.Identity) (*Client, error) {
	if actor == nil {
		return nil, shared.ErrUnauthorized
	}
	if !actor.CanSeeClient(id) {
		return nil, ErrClientNotFound
	}
	return s.repo.GetClient(ctx, id)
}

// ListClients returns a page of clients.
func (s *Service) ListClients(ctx context.Context, filter ClientFilter, actor *shared.Identity) ([]Client, int, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, 0, err
	}
	return s.repo.ListClients(ctx, filter)
}

// ============================================================================
// INVOICE OPERATIONS
// ============================================================================

// CreateInvoice issues an invoice directly and charges the client balance.
func (s *Service) CreateInvoice(ctx context.Context, req CreateInvoiceRequest, actor *shared.Identity) (*Invoice, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := shared.Validate(req); err != nil {
		return nil, err
	}
	total := req.TotalAmount
	usesItems := len(req.Items) > 0
	if usesItems {
		var err error
		if total, err = validateItems(req.Items); err != nil {
			return nil, err
		}
	} else if err := validateMoney("total_amount", total, false); err != nil {
		return nil, shared.FieldError("total_amount", "Provide line items or a positive total amount")
	}

	issue := s.today()
	if req.IssueDate != nil {
		issue = dateOnly(*req.IssueDate)
	}
	due := issue.Add(s.dueWindow)
	if req.DueDate != nil {
		due = dateOnly(*req.DueDate)
	}
	if due.Before(issue) {
		return nil, shared.FieldError("due_date", "Due date cannot be before the issue date")
	}

	inv := Invoice{
		ClientID:    req.ClientID,
		Description: strings.TrimSpace(req.Description),
		IssueDate:   issue,
		DueDate:     due,
		TotalAmount: total,
		AmountPaid:  decimal.Zero,
		UsesItems:   usesItems,
	}
	inv.withDerived()

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetClientForUpdate(ctx, req.ClientID); err != nil {
			return err
		}
		number, err := numbering.Allocate(ctx, tx, numbering.Invoice)
		if err != nil {
			return err
		}
		inv.InvoiceNumber = number
		if inv.ID, err = tx.CreateInvoice(ctx, inv); err != nil {
			return err
		}
		for i, it := range req.Items {
			if _, err := tx.InsertInvoiceItem(ctx, InvoiceItem{
				InvoiceID:   inv.ID,
				Position:    i + 1,
				Title:       strings.TrimSpace(it.Title),
				Description: it.Description,
				Price:       it.Price,
			}); err != nil {
				return fmt.Errorf("insert invoice item %d: %w", i+1, err)
			}
		}
		return tx.AdjustClientBalance(ctx, req.ClientID, total, decimal.Zero)
	})
	if err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	s.record(ctx, actor, "invoice.created", "invoice", inv.ID, map[string]any{
		"invoice_number": inv.InvoiceNumber,
		"client_id":      inv.ClientID,
		"total_amount":   total.StringFixed(2),
	})
	if s.metrics != nil {
		s.metrics.InvoiceCreated("direct")
	}
	s.invalidate(ctx)
	return s.repo.GetInvoice(ctx, inv.ID)
}

// GetInvoice returns an invoice with its items and receipts.
func (s *Service) GetInvoice(ctx context.Context, id int64, actor *shared.Identity) (*Invoice, error) {
	if actor == nil {
		return nil, shared.ErrUnauthorized
	}
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanSeeClient(inv.ClientID) {
		return nil, ErrInvoiceNotFound
	}
	return inv, nil
}

// ListInvoices returns a page of invoices. Client callers only see their own.
func (s *Service) ListInvoices(ctx context.Context, filter InvoiceFilter, actor *shared.Identity) ([]Invoice, int, error) {
	if actor == nil {
		return nil, 0, shared.ErrUnauthorized
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, 0, shared.FieldError("status", "unknown invoice status")
	}
	if !actor.IsAdmin() {
		filter.ClientID = actor.ClientID
	}
	return s.repo.ListInvoices(ctx, filter)
}

// ============================================================================
// RECEIPT READS
// ============================================================================

// GetReceipt returns a receipt visible to the caller.
func (s *Service) GetReceipt(ctx context.Context, id int64, actor *shared.Identity) (*Receipt, error) {
	if actor == nil {
		return nil, shared.ErrUnauthorized
	}
	rc, err := s.repo.GetReceipt(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanSeeClient(rc.ClientID) {
		return nil, ErrReceiptNotFound
	}
	return rc, nil
}

// ListReceipts returns a page of receipts. Client callers only see their own.
func (s *Service) ListReceipts(ctx context.Context, filter ReceiptFilter, actor *shared.Identity) ([]Receipt, int, error) {
	if actor == nil {
		return nil, 0, shared.ErrUnauthorized
	}
	if !actor.IsAdmin() {
		filter.ClientID = actor.ClientID
	}
	return s.repo.ListReceipts(ctx, filter)
}

// ============================================================================
// DASHBOARD
// ============================================================================

// Summary returns dashboard totals, served from the versioned cache when warm.
func (s *Service) Summary(ctx context.Context, actor *shared.Identity) (*Summary, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	key, err := s.cache.BuildKey(ctx, "summary")
	if err != nil {
		s.logger.Warn("dashboard cache key", slog.Any("error", err))
		return s.loadSummary(ctx)
	}
	var out Summary
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		return s.loadSummary(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("dashboard summary: %w", err)
	}
	return &out, nil
}

func (s *Service) loadSummary(ctx context.Context) (*Summary, error) {
	sum, err := s.repo.Summary(ctx)
	if err != nil {
		return nil, err
	}
	sum.GeneratedAt = s.now().UTC()
	return sum, nil
}
