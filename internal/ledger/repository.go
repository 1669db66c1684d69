package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bizdesk/bizdesk/internal/numbering"
	"github.com/bizdesk/bizdesk/internal/platform/db"
)

// Repository is the persistence port used by Service.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetClient(ctx context.Context, id int64) (*Client, error)
	ListClients(ctx context.Context, filter ClientFilter) ([]Client, int, error)
	GetInvoice(ctx context.Context, id int64) (*Invoice, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, int, error)
	GetReceipt(ctx context.Context, id int64) (*Receipt, error)
	ListReceipts(ctx context.Context, filter ReceiptFilter) ([]Receipt, int, error)
	GetQuotation(ctx context.Context, id int64) (*Quotation, error)
	ListQuotations(ctx context.Context, filter QuotationFilter) ([]Quotation, int, error)
	BalanceSnapshots(ctx context.Context) ([]BalanceSnapshot, error)
	Summary(ctx context.Context) (*Summary, error)
}

// TxRepository exposes the operations that run inside a transaction. Reads
// suffixed ForUpdate take a row lock held until the transaction ends.
type TxRepository interface {
	numbering.Store

	// Client operations
	CreateClient(ctx context.Context, client Client) (int64, error)
	UpdateClient(ctx context.Context, id int64, updates map[string]any) error
	GetClientForUpdate(ctx context.Context, id int64) (*Client, error)
	FindClientByName(ctx context.Context, name string) (*Client, error)
	AdjustClientBalance(ctx context.Context, id int64, regularDelta, paidDelta decimal.Decimal) error
	SetClientBalance(ctx context.Context, id int64, regular, paid decimal.Decimal) error
	BalanceSnapshots(ctx context.Context) ([]BalanceSnapshot, error)

	// Invoice and receipt operations
	CreateInvoice(ctx context.Context, invoice Invoice) (int64, error)
	InsertInvoiceItem(ctx context.Context, item InvoiceItem) (int64, error)
	GetInvoiceForUpdate(ctx context.Context, id int64) (*Invoice, error)
	UpdateInvoicePayment(ctx context.Context, id int64, amountPaid, balanceDue decimal.Decimal, status InvoiceStatus) error
	CreateReceipt(ctx context.Context, receipt Receipt) (int64, error)

	// Quotation operations
	CreateQuotation(ctx context.Context, quotation Quotation) (int64, error)
	InsertQuotationItem(ctx context.Context, item QuotationItem) (int64, error)
	GetQuotationForUpdate(ctx context.Context, id int64) (*Quotation, error)
	UpdateQuotationStatus(ctx context.Context, id int64, status QuotationStatus, reason string) error
	MarkQuotationConverted(ctx context.Context, id, invoiceID int64) error
}

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgRepository struct {
	pool *pgxpool.Pool
	db   dbtx
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool, db: pool}
}

type txRepo struct {
	db dbtx
}

// WithTx wraps callback in a repeatable-read transaction, retried on serialization failures.
func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{db: tx})
	})
}

const clientColumns = `c.id, c.name, c.email, c.phone, c.address, c.notes, c.regular_balance, c.paid_amount, c.created_at, c.updated_at`

const invoiceColumns = `i.id, i.invoice_number, i.client_id, c.name, i.quotation_id, i.description, i.issue_date, i.due_date,
       i.total_amount, i.amount_paid, i.balance_due, i.status, i.uses_items, i.created_at, i.updated_at`

const receiptColumns = `r.id, r.receipt_number, r.client_id, r.invoice_id, i.invoice_number, r.amount, r.payment_date,
       r.payment_method, r.notes, r.created_at`

const quotationColumns = `q.id, q.quotation_number, q.client_id, q.client_name, q.client_email, q.client_phone, q.client_address,
       q.client_notes, q.title, q.description, q.total_amount, q.uses_items, q.status, q.is_converted,
       q.converted_to_invoice_id, q.quotation_issue_date, q.quotation_due_date, q.issue_date, q.due_date,
       q.rejection_reason, q.created_at, q.updated_at`

func scanClient(row pgx.Row) (*Client, error) {
	var c Client
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.Notes,
		&c.RegularBalance, &c.PaidAmount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.InvoiceNumber, &inv.ClientID, &inv.ClientName, &inv.QuotationID, &inv.Description,
		&inv.IssueDate, &inv.DueDate, &inv.TotalAmount, &inv.AmountPaid, &inv.BalanceDue, &inv.Status,
		&inv.UsesItems, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	inv.StatusLabel = inv.Status.Label()
	return &inv, nil
}

func scanReceipt(row pgx.Row) (*Receipt, error) {
	var rc Receipt
	err := row.Scan(&rc.ID, &rc.ReceiptNumber, &rc.ClientID, &rc.InvoiceID, &rc.InvoiceNumber, &rc.Amount,
		&rc.PaymentDate, &rc.PaymentMethod, &rc.Notes, &rc.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &rc, nil
}

func scanQuotation(row pgx.Row) (*Quotation, error) {
	var q Quotation
	err := row.Scan(&q.ID, &q.QuotationNumber, &q.ClientID, &q.Prospect.Name, &q.Prospect.Email, &q.Prospect.Phone,
		&q.Prospect.Address, &q.Prospect.Notes, &q.Title, &q.Description, &q.TotalAmount, &q.UsesItems, &q.Status,
		&q.IsConverted, &q.ConvertedToInvoiceID, &q.QuotationIssueDate, &q.QuotationDueDate, &q.IssueDate, &q.DueDate,
		&q.RejectionReason, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func notFound(err, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return err
}

// ============================================================================
// SHARED READS (pool or transaction)
// ============================================================================

func getClient(ctx context.Context, q dbtx, id int64, lock bool) (*Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients c WHERE c.id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	c, err := scanClient(q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, ErrClientNotFound)
	}
	return c, nil
}

func getInvoice(ctx context.Context, q dbtx, id int64, lock bool) (*Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices i JOIN clients c ON c.id = i.client_id WHERE i.id = $1`
	if lock {
		query += ` FOR UPDATE OF i`
	}
	inv, err := scanInvoice(q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, ErrInvoiceNotFound)
	}
	items, err := invoiceItems(ctx, q, id)
	if err != nil {
		return nil, err
	}
	inv.Items = items
	return inv, nil
}

func invoiceItems(ctx context.Context, q dbtx, invoiceID int64) ([]InvoiceItem, error) {
	rows, err := q.Query(ctx, `SELECT id, invoice_id, position, title, description, price
FROM invoice_items WHERE invoice_id = $1 ORDER BY position`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []InvoiceItem
	for rows.Next() {
		var it InvoiceItem
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.Position, &it.Title, &it.Description, &it.Price); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func getQuotation(ctx context.Context, q dbtx, id int64, lock bool) (*Quotation, error) {
	query := `SELECT ` + quotationColumns + ` FROM quotations q WHERE q.id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	quo, err := scanQuotation(q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, ErrQuotationNotFound)
	}
	rows, err := q.Query(ctx, `SELECT id, quotation_id, position, title, description, price
FROM quotation_items WHERE quotation_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it QuotationItem
		if err := rows.Scan(&it.ID, &it.QuotationID, &it.Position, &it.Title, &it.Description, &it.Price); err != nil {
			return nil, err
		}
		quo.Items = append(quo.Items, it)
	}
	return quo, rows.Err()
}

const balanceSnapshotQuery = `
SELECT c.id, c.name, c.regular_balance,
       COALESCE((SELECT SUM(i.balance_due) FROM invoices i WHERE i.client_id = c.id), 0),
       c.paid_amount,
       COALESCE((SELECT SUM(r.amount) FROM receipts r WHERE r.client_id = c.id), 0)
FROM clients c
ORDER BY c.id`

func balanceSnapshots(ctx context.Context, q dbtx, lock bool) ([]BalanceSnapshot, error) {
	query := balanceSnapshotQuery
	if lock {
		query += ` FOR UPDATE OF c`
	}
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BalanceSnapshot
	for rows.Next() {
		var s BalanceSnapshot
		if err := rows.Scan(&s.ClientID, &s.ClientName, &s.StoredRegularBalance, &s.ExpectedRegularBalance,
			&s.StoredPaidAmount, &s.ExpectedPaidAmount); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ============================================================================
// POOL READS
// ============================================================================

func (r *pgRepository) GetClient(ctx context.Context, id int64) (*Client, error) {
	return getClient(ctx, r.db, id, false)
}

func (r *pgRepository) ListClients(ctx context.Context, filter ClientFilter) ([]Client, int, error) {
	var w db.Where
	if filter.Search != "" {
		w.Search(filter.Search, "c.name", "c.email", "c.phone")
	}
	total, err := db.Count(ctx, r.db, `SELECT COUNT(*) FROM clients c`+w.Clause(), w.Args)
	if err != nil {
		return nil, 0, err
	}
	order := db.OrderBy(filter.SortBy, filter.SortDesc, map[string]string{
		"name":            "c.name",
		"email":           "c.email",
		"regular_balance": "c.regular_balance",
		"paid_amount":     "c.paid_amount",
		"created_at":      "c.created_at",
	}, "c.name")
	query := `SELECT ` + clientColumns + ` FROM clients c` + w.Clause() + order + w.Page(filter.Limit, filter.Offset)
	rows, err := r.db.Query(ctx, query, w.Args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

func (r *pgRepository) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	inv, err := getInvoice(ctx, r.db, id, false)
	if err != nil {
		return nil, err
	}
	receipts, _, err := r.ListReceipts(ctx, ReceiptFilter{InvoiceID: &id, SortBy: "payment_date", Limit: 1000})
	if err != nil {
		return nil, err
	}
	inv.Receipts = receipts
	return inv, nil
}

func (r *pgRepository) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, int, error) {
	var w db.Where
	if filter.ClientID != nil {
		w.Add("i.client_id = $%d", *filter.ClientID)
	}
	if filter.Status != nil {
		w.Add("i.status = $%d", string(*filter.Status))
	}
	if filter.Search != "" {
		w.Search(filter.Search, "i.invoice_number", "i.description", "c.name")
	}
	from := ` FROM invoices i JOIN clients c ON c.id = i.client_id`
	total, err := db.Count(ctx, r.db, `SELECT COUNT(*)`+from+w.Clause(), w.Args)
	if err != nil {
		return nil, 0, err
	}
	order := db.OrderBy(filter.SortBy, filter.SortDesc, map[string]string{
		"invoice_number": "i.invoice_number",
		"issue_date":     "i.issue_date",
		"due_date":       "i.due_date",
		"total_amount":   "i.total_amount",
		"balance_due":    "i.balance_due",
		"status":         "i.status",
		"client_name":    "c.name",
		"created_at":     "i.created_at",
	}, "i.id")
	query := `SELECT ` + invoiceColumns + from + w.Clause() + order + w.Page(filter.Limit, filter.Offset)
	rows, err := r.db.Query(ctx, query, w.Args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *inv)
	}
	return out, total, rows.Err()
}

func (r *pgRepository) GetReceipt(ctx context.Context, id int64) (*Receipt, error) {
	rc, err := scanReceipt(r.db.QueryRow(ctx, `SELECT `+receiptColumns+`
FROM receipts r JOIN invoices i ON i.id = r.invoice_id WHERE r.id = $1`, id))
	if err != nil {
		return nil, notFound(err, ErrReceiptNotFound)
	}
	return rc, nil
}

func (r *pgRepository) ListReceipts(ctx context.Context, filter ReceiptFilter) ([]Receipt, int, error) {
	var w db.Where
	if filter.ClientID != nil {
		w.Add("r.client_id = $%d", *filter.ClientID)
	}
	if filter.InvoiceID != nil {
		w.Add("r.invoice_id = $%d", *filter.InvoiceID)
	}
	if filter.Search != "" {
		w.Search(filter.Search, "r.receipt_number", "r.payment_method", "i.invoice_number")
	}
	from := ` FROM receipts r JOIN invoices i ON i.id = r.invoice_id`
	total, err := db.Count(ctx, r.db, `SELECT COUNT(*)`+from+w.Clause(), w.Args)
	if err != nil {
		return nil, 0, err
	}
	order := db.OrderBy(filter.SortBy, filter.SortDesc, map[string]string{
		"receipt_number": "r.receipt_number",
		"payment_date":   "r.payment_date",
		"amount":         "r.amount",
		"payment_method": "r.payment_method",
		"created_at":     "r.created_at",
	}, "r.id")
	query := `SELECT ` + receiptColumns + from + w.Clause() + order + w.Page(filter.Limit, filter.Offset)
	rows, err := r.db.Query(ctx, query, w.Args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Receipt
	for rows.Next() {
		rc, err := scanReceipt(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *rc)
	}
	return out, total, rows.Err()
}

func (r *pgRepository) GetQuotation(ctx context.Context, id int64) (*Quotation, error) {
	return getQuotation(ctx, r.db, id, false)
}

func (r *pgRepository) ListQuotations(ctx context.Context, filter QuotationFilter) ([]Quotation, int, error) {
	var w db.Where
	if filter.ClientID != nil {
		w.Add("q.client_id = $%d", *filter.ClientID)
	}
	if filter.Status != nil {
		w.Add("q.status = $%d", string(*filter.Status))
	}
	if filter.Search != "" {
		w.Search(filter.Search, "q.quotation_number", "q.title", "q.client_name")
	}
	total, err := db.Count(ctx, r.db, `SELECT COUNT(*) FROM quotations q`+w.Clause(), w.Args)
	if err != nil {
		return nil, 0, err
	}
	order := db.OrderBy(filter.SortBy, filter.SortDesc, map[string]string{
		"quotation_number": "q.quotation_number",
		"title":            "q.title",
		"client_name":      "q.client_name",
		"total_amount":     "q.total_amount",
		"status":           "q.status",
		"created_at":       "q.created_at",
	}, "q.id")
	query := `SELECT ` + quotationColumns + ` FROM quotations q` + w.Clause() + order + w.Page(filter.Limit, filter.Offset)
	rows, err := r.db.Query(ctx, query, w.Args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Quotation
	for rows.Next() {
		q, err := scanQuotation(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *q)
	}
	return out, total, rows.Err()
}

func (r *pgRepository) BalanceSnapshots(ctx context.Context) ([]BalanceSnapshot, error) {
	return balanceSnapshots(ctx, r.db, false)
}

func (r *pgRepository) Summary(ctx context.Context) (*Summary, error) {
	s := &Summary{
		InvoicesByStatus:   map[InvoiceStatus]int{},
		QuotationsByStatus: map[QuotationStatus]int{},
	}
	err := r.db.QueryRow(ctx, `
SELECT COALESCE((SELECT SUM(balance_due) FROM invoices), 0),
       COALESCE((SELECT SUM(amount) FROM receipts), 0),
       (SELECT COUNT(*) FROM clients),
       (SELECT COUNT(*) FROM invoices WHERE status <> 'paid' AND due_date < CURRENT_DATE),
       (SELECT COUNT(*) FROM tickets WHERE status IN ('open', 'in_progress'))`).
		Scan(&s.Outstanding, &s.Collected, &s.ClientCount, &s.OverdueInvoices, &s.OpenTickets)
	if err != nil {
		return nil, err
	}
	if err := groupCount(ctx, r.db, `SELECT status, COUNT(*) FROM invoices GROUP BY status`, func(k string, n int) {
		s.InvoicesByStatus[InvoiceStatus(k)] = n
	}); err != nil {
		return nil, err
	}
	if err := groupCount(ctx, r.db, `SELECT status, COUNT(*) FROM quotations GROUP BY status`, func(k string, n int) {
		s.QuotationsByStatus[QuotationStatus(k)] = n
	}); err != nil {
		return nil, err
	}
	return s, nil
}

func groupCount(ctx context.Context, q dbtx, query string, fn func(string, int)) error {
	rows, err := q.Query(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return err
		}
		fn(k, n)
	}
	return rows.Err()
}
