// Package ledger keeps clients, invoices, receipts and quotations consistent:
// receipts settle invoices and client balances, and approved quotations
// convert into invoices exactly once.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus enumerates payment states of an invoice.
type InvoiceStatus string

const (
	InvoiceUnpaid        InvoiceStatus = "unpaid"
	InvoicePartiallyPaid InvoiceStatus = "partially_paid"
	InvoicePaid          InvoiceStatus = "paid"
)

// QuotationStatus enumerates quotation lifecycle states.
type QuotationStatus string

const (
	QuotationDraft     QuotationStatus = "Draft"
	QuotationSent      QuotationStatus = "Sent"
	QuotationApproved  QuotationStatus = "Approved"
	QuotationRejected  QuotationStatus = "Rejected"
	QuotationConverted QuotationStatus = "Converted"
)

// Client is a customer of the business with denormalised running balances.
type Client struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	Email          string          `json:"email"`
	Phone          string          `json:"phone"`
	Address        string          `json:"address"`
	Notes          string          `json:"notes"`
	RegularBalance decimal.Decimal `json:"regular_balance"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Invoice is a bill issued to exactly one client.
type Invoice struct {
	ID            int64           `json:"id"`
	InvoiceNumber string          `json:"invoice_number"`
	ClientID      int64           `json:"client_id"`
	ClientName    string          `json:"client_name,omitempty"`
	QuotationID   *int64          `json:"quotation_id,omitempty"`
	Description   string          `json:"description"`
	IssueDate     time.Time       `json:"issue_date"`
	DueDate       time.Time       `json:"due_date"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	BalanceDue    decimal.Decimal `json:"balance_due"`
	Status        InvoiceStatus   `json:"status"`
	StatusLabel   string          `json:"status_label"`
	UsesItems     bool            `json:"uses_items"`
	Items         []InvoiceItem   `json:"items,omitempty"`
	Receipts      []Receipt       `json:"receipts,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// InvoiceItem is one priced line of an invoice.
type InvoiceItem struct {
	ID          int64           `json:"id"`
	InvoiceID   int64           `json:"invoice_id"`
	Position    int             `json:"position"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
}

// Receipt records money received against an invoice.
type Receipt struct {
	ID            int64           `json:"id"`
	ReceiptNumber string          `json:"receipt_number"`
	ClientID      int64           `json:"client_id"`
	InvoiceID     int64           `json:"invoice_id"`
	InvoiceNumber string          `json:"invoice_number,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentDate   time.Time       `json:"payment_date"`
	PaymentMethod string          `json:"payment_method"`
	Notes         string          `json:"notes"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ProspectSnapshot holds client details captured on a quotation for a
// prospect that is not yet a client.
type ProspectSnapshot struct {
	Name    string `json:"client_name"`
	Email   string `json:"client_email"`
	Phone   string `json:"client_phone"`
	Address string `json:"client_address"`
	Notes   string `json:"client_notes"`
}

// Quotation is a price offer that can be converted into an invoice once approved.
type Quotation struct {
	ID                   int64            `json:"id"`
	QuotationNumber      string           `json:"quotation_number"`
	ClientID             *int64           `json:"client_id,omitempty"`
	Prospect             ProspectSnapshot `json:"prospect"`
	Title                string           `json:"title"`
	Description          string           `json:"description"`
	TotalAmount          decimal.Decimal  `json:"total_amount"`
	UsesItems            bool             `json:"uses_items"`
	Status               QuotationStatus  `json:"status"`
	IsConverted          bool             `json:"is_converted"`
	ConvertedToInvoiceID *int64           `json:"converted_to_invoice_id,omitempty"`
	QuotationIssueDate   *time.Time       `json:"quotation_issue_date,omitempty"`
	QuotationDueDate     *time.Time       `json:"quotation_due_date,omitempty"`
	IssueDate            *time.Time       `json:"issue_date,omitempty"`
	DueDate              *time.Time       `json:"due_date,omitempty"`
	RejectionReason      string           `json:"rejection_reason,omitempty"`
	Items                []QuotationItem  `json:"items,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// QuotationItem is one priced line of a quotation.
type QuotationItem struct {
	ID          int64           `json:"id"`
	QuotationID int64           `json:"quotation_id"`
	Position    int             `json:"position"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
}

// ItemInput is a priced line supplied by callers of invoice and quotation creation.
type ItemInput struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
}

// CreateClientRequest is the payload for creating a client.
type CreateClientRequest struct {
	Name    string `json:"name" validate:"required,max=200"`
	Email   string `json:"email" validate:"omitempty,email,max=200"`
	Phone   string `json:"phone" validate:"max=50"`
	Address string `json:"address" validate:"max=500"`
	Notes   string `json:"notes" validate:"max=2000"`
}

// UpdateClientRequest is the payload for editing client contact details.
// Balances are maintained by the ledger and cannot be edited.
type UpdateClientRequest struct {
	Name    *string `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Email   *string `json:"email,omitempty" validate:"omitempty,email,max=200"`
	Phone   *string `json:"phone,omitempty" validate:"omitempty,max=50"`
	Address *string `json:"address,omitempty" validate:"omitempty,max=500"`
	Notes   *string `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

// CreateInvoiceRequest is the payload for issuing an invoice directly.
type CreateInvoiceRequest struct {
	ClientID    int64           `json:"client_id" validate:"required,gt=0"`
	Description string          `json:"description" validate:"max=2000"`
	IssueDate   *time.Time      `json:"issue_date,omitempty"`
	DueDate     *time.Time      `json:"due_date,omitempty"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Items       []ItemInput     `json:"items,omitempty"`
}

// RecordPaymentRequest is the payload for applying a payment to an invoice.
type RecordPaymentRequest struct {
	ClientID      int64           `json:"client_id" validate:"required,gt=0"`
	InvoiceID     int64           `json:"invoice_id" validate:"required,gt=0"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentDate   time.Time       `json:"payment_date" validate:"required"`
	PaymentMethod string          `json:"payment_method" validate:"required,max=50"`
	Notes         string          `json:"notes" validate:"max=2000"`
}

// CreateQuotationRequest is the payload for creating a quotation, either for an
// existing client (ClientID) or for a prospect (the client_* snapshot fields).
type CreateQuotationRequest struct {
	ClientID           *int64          `json:"client_id,omitempty"`
	ClientName         string          `json:"client_name" validate:"max=200"`
	ClientEmail        string          `json:"client_email" validate:"omitempty,email,max=200"`
	ClientPhone        string          `json:"client_phone" validate:"max=50"`
	ClientAddress      string          `json:"client_address" validate:"max=500"`
	ClientNotes        string          `json:"client_notes" validate:"max=2000"`
	Title              string          `json:"title" validate:"max=200"`
	Description        string          `json:"description" validate:"max=2000"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	Items              []ItemInput     `json:"items,omitempty"`
	QuotationIssueDate *time.Time      `json:"quotation_issue_date,omitempty"`
	QuotationDueDate   *time.Time      `json:"quotation_due_date,omitempty"`
}

// RejectQuotationRequest carries the optional reason for a rejection.
type RejectQuotationRequest struct {
	Reason string `json:"reason" validate:"max=2000"`
}

// ConversionResult is returned by a successful quotation conversion.
type ConversionResult struct {
	Invoice       *Invoice `json:"invoice"`
	ClientID      int64    `json:"client_id"`
	ClientCreated bool     `json:"client_created"`
}

// ClientFilter narrows client listings.
type ClientFilter struct {
	Search   string
	SortBy   string
	SortDesc bool
	Limit    int
	Offset   int
}

// InvoiceFilter narrows invoice listings.
type InvoiceFilter struct {
	ClientID *int64
	Status   *InvoiceStatus
	Search   string
	SortBy   string
	SortDesc bool
	Limit    int
	Offset   int
}

// ReceiptFilter narrows receipt listings.
type ReceiptFilter struct {
	ClientID  *int64
	InvoiceID *int64
	Search    string
	SortBy    string
	SortDesc  bool
	Limit     int
	Offset    int
}

// QuotationFilter narrows quotation listings.
type QuotationFilter struct {
	ClientID *int64
	Status   *QuotationStatus
	Search   string
	SortBy   string
	SortDesc bool
	Limit    int
	Offset   int
}

// BalanceDrift describes a client whose stored balances disagree with the
// balances derived from its invoices and receipts.
type BalanceDrift struct {
	ClientID               int64           `json:"client_id"`
	ClientName             string          `json:"client_name"`
	StoredRegularBalance   decimal.Decimal `json:"stored_regular_balance"`
	ExpectedRegularBalance decimal.Decimal `json:"expected_regular_balance"`
	StoredPaidAmount       decimal.Decimal `json:"stored_paid_amount"`
	ExpectedPaidAmount     decimal.Decimal `json:"expected_paid_amount"`
}

// BalanceSnapshot pairs stored and derived balances of a client.
type BalanceSnapshot = BalanceDrift

// ReconcileReport summarises a balance reconciliation run.
type ReconcileReport struct {
	ClientsChecked int            `json:"clients_checked"`
	Drifts         []BalanceDrift `json:"drifts"`
	Fixed          bool           `json:"fixed"`
}

// Summary aggregates dashboard figures.
type Summary struct {
	Outstanding        decimal.Decimal         `json:"outstanding"`
	Collected          decimal.Decimal         `json:"collected"`
	ClientCount        int                     `json:"client_count"`
	InvoicesByStatus   map[InvoiceStatus]int   `json:"invoices_by_status"`
	QuotationsByStatus map[QuotationStatus]int `json:"quotations_by_status"`
	OverdueInvoices    int                     `json:"overdue_invoices"`
	OpenTickets        int                     `json:"open_tickets"`
	GeneratedAt        time.Time               `json:"generated_at"`
}
