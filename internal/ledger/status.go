package ledger

import "github.com/shopspring/decimal"

// BalanceDue is total minus paid.
func BalanceDue(total, paid decimal.Decimal) decimal.Decimal {
	return total.Sub(paid)
}

// DeriveInvoiceStatus computes the payment status from the invoice amounts:
// paid when nothing is due, partially paid when something was paid, else unpaid.
func DeriveInvoiceStatus(total, paid decimal.Decimal) InvoiceStatus {
	switch {
	case !BalanceDue(total, paid).IsPositive():
		return InvoicePaid
	case paid.IsPositive():
		return InvoicePartiallyPaid
	default:
		return InvoiceUnpaid
	}
}

// Label is the display text of the status.
func (s InvoiceStatus) Label() string {
	switch s {
	case InvoiceUnpaid:
		return "Unpaid"
	case InvoicePartiallyPaid:
		return "Partially Paid"
	case InvoicePaid:
		return "Paid"
	default:
		return string(s)
	}
}

// Valid reports whether s is a known invoice status.
func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceUnpaid, InvoicePartiallyPaid, InvoicePaid:
		return true
	}
	return false
}

// Valid reports whether s is a known quotation status.
func (s QuotationStatus) Valid() bool {
	switch s {
	case QuotationDraft, QuotationSent, QuotationApproved, QuotationRejected, QuotationConverted:
		return true
	}
	return false
}

// quotationTransitions lists the manual transitions. Conversion is handled by
// ConvertQuotation and is not reachable through a plain status change.
var quotationTransitions = map[QuotationStatus][]QuotationStatus{
	QuotationDraft: {QuotationSent},
	QuotationSent:  {QuotationApproved, QuotationRejected},
}

// CanTransition reports whether a quotation may move from one status to another.
func CanTransition(from, to QuotationStatus) bool {
	for _, next := range quotationTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func transitionError(from, to QuotationStatus) error {
	switch {
	case from == QuotationConverted:
		return ErrAlreadyConverted
	case from == QuotationRejected:
		return ErrInvalidStatus.WithMessage("Quotation was rejected and can no longer change")
	case to == QuotationSent:
		return ErrInvalidStatus.WithMessage("Only draft quotations can be sent (current status %s)", from)
	default:
		return ErrInvalidStatus.WithMessage("Only sent quotations can be %s (current status %s)", verb(to), from)
	}
}

func verb(s QuotationStatus) string {
	switch s {
	case QuotationApproved:
		return "approved"
	case QuotationRejected:
		return "rejected"
	default:
		return string(s)
	}
}

// withDerived fills the computed invoice fields.
func (inv *Invoice) withDerived() *Invoice {
	inv.BalanceDue = BalanceDue(inv.TotalAmount, inv.AmountPaid)
	inv.Status = DeriveInvoiceStatus(inv.TotalAmount, inv.AmountPaid)
	inv.StatusLabel = inv.Status.Label()
	return inv
}

func sumItems(items []ItemInput) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Price)
	}
	return total
}
