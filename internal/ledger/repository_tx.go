package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/bizdesk/bizdesk/internal/numbering"
	"github.com/bizdesk/bizdesk/internal/platform/db"
)

// ============================================================================
// DOCUMENT SEQUENCES
// ============================================================================

type numberColumn struct {
	table  string
	column string
	prefix string
}

var numberColumns = map[numbering.DocType]numberColumn{
	numbering.Invoice:   {table: "invoices", column: "invoice_number", prefix: "INV-"},
	numbering.Quotation: {table: "quotations", column: "quotation_number", prefix: "Q"},
	numbering.Receipt:   {table: "receipts", column: "receipt_number", prefix: "REC-"},
}

func (t *txRepo) IncrementSequence(ctx context.Context, docType numbering.DocType) (int64, bool, error) {
	var value int64
	err := t.db.QueryRow(ctx, `UPDATE document_sequences SET last_value = last_value + 1, updated_at = NOW()
WHERE doc_type = $1 RETURNING last_value`, string(docType)).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return value, true, nil
}

func (t *txRepo) LatestNumber(ctx context.Context, docType numbering.DocType) (string, error) {
	col, ok := numberColumns[docType]
	if !ok {
		return "", fmt.Errorf("no number column for %s", docType)
	}
	// The offset is a literal: a bind parameter in substring(... FROM $n) is
	// resolved as a regex pattern of type text.
	query := fmt.Sprintf(`SELECT %[1]s FROM %[2]s
WHERE %[1]s ~ $1
ORDER BY CAST(substring(%[1]s FROM %[3]d) AS BIGINT) DESC
LIMIT 1`, col.column, col.table, len(col.prefix)+1)
	var last string
	err := t.db.QueryRow(ctx, query, "^"+col.prefix+"[0-9]+$").Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return last, err
}

func (t *txRepo) SeedSequence(ctx context.Context, docType numbering.DocType, value int64) (int64, error) {
	var stored int64
	err := t.db.QueryRow(ctx, `INSERT INTO document_sequences (doc_type, last_value) VALUES ($1, $2)
ON CONFLICT (doc_type) DO UPDATE
SET last_value = GREATEST(document_sequences.last_value + 1, EXCLUDED.last_value), updated_at = NOW()
RETURNING last_value`, string(docType), value).Scan(&stored)
	return stored, err
}

// ============================================================================
// CLIENT OPERATIONS
// ============================================================================

var clientUpdatable = map[string]struct{}{
	"name": {}, "email": {}, "phone": {}, "address": {}, "notes": {},
}

func (t *txRepo) CreateClient(ctx context.Context, c Client) (int64, error) {
	var id int64
	err := t.db.QueryRow(ctx, `INSERT INTO clients (name, email, phone, address, notes, regular_balance, paid_amount)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		c.Name, c.Email, c.Phone, c.Address, c.Notes, c.RegularBalance, c.PaidAmount).Scan(&id)
	return id, err
}

func (t *txRepo) UpdateClient(ctx context.Context, id int64, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	sets := make([]string, 0, len(updates)+1)
	args := make([]any, 0, len(updates)+1)
	for col, val := range updates {
		if _, ok := clientUpdatable[col]; !ok {
			return fmt.Errorf("client column %q is not updatable", col)
		}
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, id)
	tag, err := t.db.Exec(ctx, fmt.Sprintf(`UPDATE clients SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args)), args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrClientNotFound
	}
	return nil
}

func (t *txRepo) GetClientForUpdate(ctx context.Context, id int64) (*Client, error) {
	return getClient(ctx, t.db, id, true)
}

func (t *txRepo) FindClientByName(ctx context.Context, name string) (*Client, error) {
	c, err := scanClient(t.db.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients c WHERE c.name = $1 ORDER BY c.id LIMIT 1 FOR UPDATE`, name))
	if err != nil {
		return nil, notFound(err, ErrClientNotFound)
	}
	return c, nil
}

func (t *txRepo) AdjustClientBalance(ctx context.Context, id int64, regularDelta, paidDelta decimal.Decimal) error {
	tag, err := t.db.Exec(ctx, `UPDATE clients
SET regular_balance = regular_balance + $2, paid_amount = paid_amount + $3, updated_at = NOW()
WHERE id = $1`, id, regularDelta, paidDelta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrClientNotFound
	}
	return nil
}

func (t *txRepo) SetClientBalance(ctx context.Context, id int64, regular, paid decimal.Decimal) error {
	tag, err := t.db.Exec(ctx, `UPDATE clients SET regular_balance = $2, paid_amount = $3, updated_at = NOW() WHERE id = $1`,
		id, regular, paid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrClientNotFound
	}
	return nil
}

func (t *txRepo) BalanceSnapshots(ctx context.Context) ([]BalanceSnapshot, error) {
	return balanceSnapshots(ctx, t.db, true)
}

// ============================================================================
// INVOICE AND RECEIPT OPERATIONS
// ============================================================================

func (t *txRepo) CreateInvoice(ctx context.Context, inv Invoice) (int64, error) {
	var id int64
	err := t.db.QueryRow(ctx, `INSERT INTO invoices (invoice_number, client_id, quotation_id, description, issue_date, due_date,
    total_amount, amount_paid, balance_due, status, uses_items)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`,
		inv.InvoiceNumber, inv.ClientID, inv.QuotationID, inv.Description, inv.IssueDate, inv.DueDate,
		inv.TotalAmount, inv.AmountPaid, inv.BalanceDue, string(inv.Status), inv.UsesItems).Scan(&id)
	if db.IsUniqueViolation(err, "invoices_quotation_id_key") {
		return 0, ErrAlreadyConverted
	}
	if db.IsForeignKeyViolation(err) {
		return 0, ErrClientNotFound
	}
	return id, err
}

func (t *txRepo) InsertInvoiceItem(ctx context.Context, it InvoiceItem) (int64, error) {
	var id int64
	err := t.db.QueryRow(ctx, `INSERT INTO invoice_items (invoice_id, position, title, description, price)
VALUES ($1, $2, $3, $4, $5) RETURNING id`, it.InvoiceID, it.Position, it.Title, it.Description, it.Price).Scan(&id)
	return id, err
}

func (t *txRepo) GetInvoiceForUpdate(ctx context.Context, id int64) (*Invoice, error) {
	return getInvoice(ctx, t.db, id, true)
}

func (t *txRepo) UpdateInvoicePayment(ctx context.Context, id int64, amountPaid, balanceDue decimal.Decimal, status InvoiceStatus) error {
	tag, err := t.db.Exec(ctx, `UPDATE invoices SET amount_paid = $2, balance_due = $3, status = $4, updated_at = NOW()
WHERE id = $1`, id, amountPaid, balanceDue, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

func (t *txRepo) CreateReceipt(ctx context.Context, rc Receipt) (int64, error) {
	var id int64
	err := t.db.QueryRow(ctx, `INSERT INTO receipts (receipt_number, client_id, invoice_id, amount, payment_date, payment_method, notes)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		rc.ReceiptNumber, rc.ClientID, rc.InvoiceID, rc.Amount, rc.PaymentDate, rc.PaymentMethod, rc.Notes).Scan(&id)
	return id, err
}

// ============================================================================
// QUOTATION OPERATIONS
// ============================================================================

func (t *txRepo) CreateQuotation(ctx context.Context, q Quotation) (int64, error) {
	var id int64
	err := t.db.QueryRow(ctx, `INSERT INTO quotations (quotation_number, client_id, client_name, client_email, client_phone,
    client_address, client_notes, title, description, total_amount, uses_items, status,
    quotation_issue_date, quotation_due_date, issue_date, due_date)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16) RETURNING id`,
		q.QuotationNumber, q.ClientID, q.Prospect.Name, q.Prospect.Email, q.Prospect.Phone, q.Prospect.Address,
		q.Prospect.Notes, q.Title, q.Description, q.TotalAmount, q.UsesItems, string(q.Status),
		q.QuotationIssueDate, q.QuotationDueDate, q.IssueDate, q.DueDate).Scan(&id)
	if db.IsForeignKeyViolation(err) {
		return 0, ErrClientNotFound
	}
	return id, err
}

func (t *txRepo) InsertQuotationItem(ctx context.Context, it QuotationItem) (int64, error) {
	var id int64
	err := t.db.QueryRow(ctx, `INSERT INTO quotation_items (quotation_id, position, title, description, price)
VALUES ($1, $2, $3, $4, $5) RETURNING id`, it.QuotationID, it.Position, it.Title, it.Description, it.Price).Scan(&id)
	return id, err
}

func (t *txRepo) GetQuotationForUpdate(ctx context.Context, id int64) (*Quotation, error) {
	return getQuotation(ctx, t.db, id, true)
}

func (t *txRepo) UpdateQuotationStatus(ctx context.Context, id int64, status QuotationStatus, reason string) error {
	tag, err := t.db.Exec(ctx, `UPDATE quotations SET status = $2, rejection_reason = $3, updated_at = NOW()
WHERE id = $1 AND is_converted = FALSE`, id, string(status), reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrQuotationNotFound
	}
	return nil
}

func (t *txRepo) MarkQuotationConverted(ctx context.Context, id, invoiceID int64) error {
	tag, err := t.db.Exec(ctx, `UPDATE quotations
SET status = 'Converted', is_converted = TRUE, converted_to_invoice_id = $2, updated_at = NOW()
WHERE id = $1 AND is_converted = FALSE`, id, invoiceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyConverted
	}
	return nil
}
