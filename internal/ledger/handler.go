package ledger

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bizdesk/bizdesk/internal/platform/httpx"
	"github.com/bizdesk/bizdesk/internal/rbac"
	"github.com/bizdesk/bizdesk/internal/shared"
)

// IdempotencyHeader carries the client supplied key for retried POSTs.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes ledger endpoints as JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
	idem    shared.IdempotencyGuard
}

// NewHandler builds Handler instance. idem may be nil, in which case
// Idempotency-Key headers are ignored.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware, idem shared.IdempotencyGuard) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, idem: idem}
}

// ListResponse wraps a page of records.
type ListResponse[T any] struct {
	Data       []T               `json:"data"`
	Pagination shared.Pagination `json:"pagination"`
}

// MountRoutes registers ledger routes under /api.
func (h *Handler) MountRoutes(r chi.Router) {
	// Read routes, scoped per caller in the service
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAuthenticated())
		r.Get("/clients/{id}", h.getClient)
		r.Get("/invoices", h.listInvoices)
		r.Get("/invoices/{id}", h.getInvoice)
		r.Get("/receipts", h.listReceipts)
		r.Get("/receipts/{id}", h.getReceipt)
		r.Get("/quotations", h.listQuotations)
		r.Get("/quotations/{id}", h.getQuotation)
	})

	// Admin routes
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(shared.RoleAdmin))
		r.Get("/dashboard", h.dashboard)
		r.Get("/clients", h.listClients)
		r.Post("/clients", h.createClient)
		r.Patch("/clients/{id}", h.updateClient)
		r.Post("/invoices", h.createInvoice)
		r.Post("/payments", h.recordPayment)
		r.Post("/quotations", h.createQuotation)
		r.Post("/quotations/{id}/send", h.sendQuotation)
		r.Post("/quotations/{id}/approve", h.approveQuotation)
		r.Post("/quotations/{id}/reject", h.rejectQuotation)
		r.Post("/quotations/{id}/convert", h.convertQuotation)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if isClientError(err) {
		h.logger.Debug(msg, slog.String("path", r.URL.Path), slog.Any("error", err))
	} else {
		h.logger.Error(msg, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func isClientError(err error) bool {
	for _, kind := range []error{shared.ErrValidation, shared.ErrNotFound, shared.ErrConflict, shared.ErrForbidden, shared.ErrUnauthorized} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// idempotent runs fn once per Idempotency-Key. A failed fn releases the key so
// the client can retry.
func (h *Handler) idempotent(r *http.Request, scope string, fn func(ctx context.Context) error) error {
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key == "" || h.idem == nil {
		return fn(r.Context())
	}
	if len(key) > 200 {
		return shared.FieldError(IdempotencyHeader, "Idempotency-Key must be at most 200 characters")
	}
	if err := h.idem.CheckAndInsert(r.Context(), key, scope); err != nil {
		return err
	}
	if err := fn(r.Context()); err != nil {
		if derr := h.idem.Delete(r.Context(), key); derr != nil {
			h.logger.Warn("release idempotency key", slog.String("scope", scope), slog.Any("error", derr))
		}
		return err
	}
	return nil
}

// ============================================================================
// CLIENTS
// ============================================================================

func (h *Handler) listClients(w http.ResponseWriter, r *http.Request) {
	q := shared.ListQueryFromRequest(r)
	clients, total, err := h.service.ListClients(r.Context(), ClientFilter{
		Search: q.Search, SortBy: q.SortBy, SortDesc: q.SortDesc, Limit: q.Limit(), Offset: q.Offset(),
	}, shared.IdentityFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "list clients", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ListResponse[Client]{Data: clients, Pagination: shared.NewPagination(q.Page, q.PerPage, total)})
}

func (h *Handler) getClient(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	client, err := h.service.GetClient(r.Context(), id, shared.IdentityFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "get client", err)
		return
	}
	httpx.JSON(w, http.StatusOK, client)
}

func (h *Handler) createClient(w http.ResponseWriter, r *http.Request) {
	var req CreateClientRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	client, err := h.service.CreateClient(r.Context(), req, shared.IdentityFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "create client", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, client)
}

func (h *Handler) updateClient(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req UpdateClientRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	client, err := h.service.UpdateClient(r.Context(), id, req, shared.IdentityFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "update client", err)
		return
	}
	httpx.JSON(w, http.StatusOK, client)
}

// ============================================================================
// INVOICES AND RECEIPTS
// ============================================================================

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	q := shared.ListQueryFromRequest(r)
	clientID, err := httpx.OptionalInt64Query(r, "client_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := InvoiceFilter{
		ClientID: clientID, Search: q.Search, SortBy: q.SortBy, SortDesc: q.SortDesc, Limit: q.Limit(), Offset: q.Offset(),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := InvoiceStatus(raw)
		filter.Status = &status
	}
	invoices, total, err := h.service.ListInvoices(r.Context(), filter, shared.IdentityFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "list invoices", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ListResponse[Invoice]{Data: invoices, Pagination: shared.NewPagination(q.Page, q.PerPage, total)})
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.GetInvoice(r.Context(), id, shared.IdentityFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "get invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.CreateInvoice(r.Context(), req, shared.IdentityFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "create invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	var receipt *Receipt
	err := h.idempotent(r, "ledger.payment", func(ctx context.Context) error {
		var err error
		receipt, err = h.service.RecordPayment(ctx, req, shared.IdentityFromContext(ctx))
		return err
	})
	if err != nil {
		h.fail(w, r, "record payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, receipt)
}

func (h *Handler) listReceipts(w http.ResponseWriter, r *http.Request) {
	q := shared.ListQueryFromRequest(r)
	clientID, err := httpx.OptionalInt64Query(r, "client_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	invoiceID, err := httpx.OptionalInt64Query(r, "invoice_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	receipts, total, err := h.service.ListReceipts(r.Context(), ReceiptFilter{
		ClientID: clientID, InvoiceID: invoiceID, Search: q.Search, SortBy: q.SortBy, SortDesc: q.SortDesc,
		Limit: q.Limit(), Offset: q.Offset(),
	}, shared.IdentityFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "list receipts", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ListResponse[Receipt]{Data: receipts, Pagination: shared.NewPagination(q.Page, q.PerPage, total)})
}

func (h *Handler) getReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rc, err := h.service.GetReceipt(r.Context(), id, shared.IdentityFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "get receipt", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rc)
}

// ============================================================================
// QUOTATIONS
// ============================================================================

func (h *Handler) listQuotations(w http.ResponseWriter, r *http.Request) {
	q := shared.ListQueryFromRequest(r)
	clientID, err := httpx.OptionalInt64Query(r, "client_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := QuotationFilter{
		ClientID: clientID, Search: q.Search, SortBy: q.SortBy, SortDesc: q.SortDesc, Limit: q.Limit(), Offset: q.Offset(),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := QuotationStatus(raw)
		filter.Status = &status
	}
	quotations, total, err := h.service.ListQuotations(r.Context(), filter, shared.IdentityFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "list quotations", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ListResponse[Quotation]{Data: quotations, Pagination: shared.NewPagination(q.Page, q.PerPage, total)})
}

func (h *Handler) getQuotation(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	quo, err := h.service.GetQuotation(r.Context(), id, shared.IdentityFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "get quotation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, quo)
}

func (h *Handler) createQuotation(w http.ResponseWriter, r *http.Request) {
	var req CreateQuotationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	quo, err := h.service.CreateQuotation(r.Context(), req, shared.IdentityFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "create quotation", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, quo)
}

func (h *Handler) sendQuotation(w http.ResponseWriter, r *http.Request) {
	h.quotationTransition(w, r, "send quotation", func(ctx context.Context, id int64, actor *shared.Identity) (*Quotation, error) {
		return h.service.SendQuotation(ctx, id, actor)
	})
}

func (h *Handler) approveQuotation(w http.ResponseWriter, r *http.Request) {
	h.quotationTransition(w, r, "approve quotation", func(ctx context.Context, id int64, actor *shared.Identity) (*Quotation, error) {
		return h.service.ApproveQuotation(ctx, id, actor)
	})
}

func (h *Handler) rejectQuotation(w http.ResponseWriter, r *http.Request) {
	var req RejectQuotationRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	h.quotationTransition(w, r, "reject quotation", func(ctx context.Context, id int64, actor *shared.Identity) (*Quotation, error) {
		return h.service.RejectQuotation(ctx, id, req, actor)
	})
}

func (h *Handler) quotationTransition(w http.ResponseWriter, r *http.Request, msg string, fn func(context.Context, int64, *shared.Identity) (*Quotation, error)) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	quo, err := fn(r.Context(), id, shared.IdentityFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, msg, err)
		return
	}
	httpx.JSON(w, http.StatusOK, quo)
}

func (h *Handler) convertQuotation(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var result *ConversionResult
	err = h.idempotent(r, "ledger.convert", func(ctx context.Context) error {
		var err error
		result, err = h.service.ConvertQuotation(ctx, id, shared.IdentityFromContext(ctx))
		return err
	})
	if err != nil {
		h.fail(w, r, "convert quotation", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

// ============================================================================
// DASHBOARD
// ============================================================================

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	sum, err := h.service.Summary(r.Context(), shared.IdentityFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "dashboard summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sum)
}
