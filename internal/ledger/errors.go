package ledger

import "github.com/bizdesk/bizdesk/internal/shared"

var (
	ErrClientNotFound    = shared.NotFound("Client not found")
	ErrInvoiceNotFound   = shared.NotFound("Invoice not found")
	ErrReceiptNotFound   = shared.NotFound("Receipt not found")
	ErrQuotationNotFound = shared.NotFound("Quotation not found")

	ErrAlreadyConverted = shared.Conflict("Quotation has already been converted to an invoice")
	ErrNotApproved      = shared.Conflict("Quotation must be approved before conversion")
	ErrInvalidStatus    = shared.Conflict("Invalid quotation status transition")
	ErrInvoicePaid      = shared.Conflict("Invoice is already fully paid")

	ErrAmountExceedsBalance  = shared.FieldError("amount", "Payment amount exceeds the invoice balance due")
	ErrInvoiceClientMismatch = shared.FieldError("invoice_id", "Invoice does not belong to the selected client")
)
