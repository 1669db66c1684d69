package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bizdesk/bizdesk/internal/numbering"
)

type memoryState struct {
	clients        map[int64]Client
	invoices       map[int64]Invoice
	invoiceItems   map[int64][]InvoiceItem
	receipts       map[int64]Receipt
	quotations     map[int64]Quotation
	quotationItems map[int64][]QuotationItem
	sequences      map[numbering.DocType]int64
	nextID         int64
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		clients:        make(map[int64]Client, len(s.clients)),
		invoices:       make(map[int64]Invoice, len(s.invoices)),
		invoiceItems:   make(map[int64][]InvoiceItem, len(s.invoiceItems)),
		receipts:       make(map[int64]Receipt, len(s.receipts)),
		quotations:     make(map[int64]Quotation, len(s.quotations)),
		quotationItems: make(map[int64][]QuotationItem, len(s.quotationItems)),
		sequences:      make(map[numbering.DocType]int64, len(s.sequences)),
		nextID:         s.nextID,
	}
	for k, v := range s.clients {
		out.clients[k] = v
	}
	for k, v := range s.invoices {
		out.invoices[k] = v
	}
	for k, v := range s.invoiceItems {
		out.invoiceItems[k] = append([]InvoiceItem(nil), v...)
	}
	for k, v := range s.receipts {
		out.receipts[k] = v
	}
	for k, v := range s.quotations {
		out.quotations[k] = v
	}
	for k, v := range s.quotationItems {
		out.quotationItems[k] = append([]QuotationItem(nil), v...)
	}
	for k, v := range s.sequences {
		out.sequences[k] = v
	}
	return out
}

// memoryLedgerRepo is an in-memory Repository. WithTx serialises callers and
// restores the previous state when the callback fails.
type memoryLedgerRepo struct {
	mu    sync.Mutex
	state memoryState
	fail  map[string]error
	txs   int
}

func newMemoryLedgerRepo() *memoryLedgerRepo {
	return &memoryLedgerRepo{
		state: memoryState{
			clients:        map[int64]Client{},
			invoices:       map[int64]Invoice{},
			invoiceItems:   map[int64][]InvoiceItem{},
			receipts:       map[int64]Receipt{},
			quotations:     map[int64]Quotation{},
			quotationItems: map[int64][]QuotationItem{},
			sequences:      map[numbering.DocType]int64{},
		},
		fail: map[string]error{},
	}
}

func (r *memoryLedgerRepo) id() int64 {
	r.state.nextID++
	return r.state.nextID
}

func (r *memoryLedgerRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs++
	saved := r.state.clone()
	if err := fn(ctx, &memoryTx{r}); err != nil {
		r.state = saved
		return err
	}
	return nil
}

func (r *memoryLedgerRepo) failure(op string) error {
	return r.fail[op]
}

// seeding helpers

func (r *memoryLedgerRepo) addClient(name string, regular, paid string) Client {
	c := Client{ID: r.id(), Name: name, Email: strings.ToLower(strings.ReplaceAll(name, " ", "")) + "@example.com",
		RegularBalance: decimal.RequireFromString(regular), PaidAmount: decimal.RequireFromString(paid)}
	r.state.clients[c.ID] = c
	return c
}

func (r *memoryLedgerRepo) addInvoice(clientID int64, number, total, paid string) Invoice {
	inv := Invoice{ID: r.id(), InvoiceNumber: number, ClientID: clientID,
		TotalAmount: decimal.RequireFromString(total), AmountPaid: decimal.RequireFromString(paid),
		IssueDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), DueDate: time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)}
	inv.withDerived()
	r.state.invoices[inv.ID] = inv
	return inv
}

func (r *memoryLedgerRepo) addQuotation(q Quotation, items ...QuotationItem) Quotation {
	q.ID = r.id()
	for i := range items {
		items[i].ID = r.id()
		items[i].QuotationID = q.ID
		items[i].Position = i + 1
	}
	r.state.quotations[q.ID] = q
	r.state.quotationItems[q.ID] = items
	return q
}

// memoryTx is the view handed to WithTx callbacks; the repo mutex is held.
type memoryTx struct {
	*memoryLedgerRepo
}

func (r *memoryLedgerRepo) locked() *memoryTx {
	r.mu.Lock()
	return &memoryTx{r}
}

func (r *memoryLedgerRepo) GetClient(ctx context.Context, id int64) (*Client, error) {
	defer r.mu.Unlock()
	return r.locked().GetClient(ctx, id)
}

func (r *memoryLedgerRepo) ListClients(ctx context.Context, f ClientFilter) ([]Client, int, error) {
	defer r.mu.Unlock()
	return r.locked().ListClients(ctx, f)
}

func (r *memoryLedgerRepo) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	defer r.mu.Unlock()
	return r.locked().GetInvoice(ctx, id)
}

func (r *memoryLedgerRepo) ListInvoices(ctx context.Context, f InvoiceFilter) ([]Invoice, int, error) {
	defer r.mu.Unlock()
	return r.locked().ListInvoices(ctx, f)
}

func (r *memoryLedgerRepo) GetReceipt(ctx context.Context, id int64) (*Receipt, error) {
	defer r.mu.Unlock()
	return r.locked().GetReceipt(ctx, id)
}

func (r *memoryLedgerRepo) ListReceipts(ctx context.Context, f ReceiptFilter) ([]Receipt, int, error) {
	defer r.mu.Unlock()
	return r.locked().ListReceipts(ctx, f)
}

func (r *memoryLedgerRepo) GetQuotation(ctx context.Context, id int64) (*Quotation, error) {
	defer r.mu.Unlock()
	return r.locked().GetQuotation(ctx, id)
}

func (r *memoryLedgerRepo) ListQuotations(ctx context.Context, f QuotationFilter) ([]Quotation, int, error) {
	defer r.mu.Unlock()
	return r.locked().ListQuotations(ctx, f)
}

func (r *memoryLedgerRepo) BalanceSnapshots(ctx context.Context) ([]BalanceSnapshot, error) {
	defer r.mu.Unlock()
	return r.locked().BalanceSnapshots(ctx)
}

func (r *memoryLedgerRepo) Summary(ctx context.Context) (*Summary, error) {
	defer r.mu.Unlock()
	return r.locked().Summary(ctx)
}

// tx view reads

func (r *memoryTx) GetClient(_ context.Context, id int64) (*Client, error) {
	c, ok := r.state.clients[id]
	if !ok {
		return nil, ErrClientNotFound
	}
	return &c, nil
}

func (r *memoryTx) ListClients(_ context.Context, filter ClientFilter) ([]Client, int, error) {
	var out []Client
	for _, c := range r.state.clients {
		if filter.Search == "" || strings.Contains(strings.ToLower(c.Name), strings.ToLower(filter.Search)) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (r *memoryTx) GetInvoice(_ context.Context, id int64) (*Invoice, error) {
	inv, ok := r.state.invoices[id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	inv.Items = append([]InvoiceItem(nil), r.state.invoiceItems[id]...)
	for _, rc := range r.state.receipts {
		if rc.InvoiceID == id {
			inv.Receipts = append(inv.Receipts, rc)
		}
	}
	return &inv, nil
}

func (r *memoryTx) ListInvoices(_ context.Context, filter InvoiceFilter) ([]Invoice, int, error) {
	var out []Invoice
	for _, inv := range r.state.invoices {
		if filter.ClientID != nil && inv.ClientID != *filter.ClientID {
			continue
		}
		if filter.Status != nil && inv.Status != *filter.Status {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (r *memoryTx) GetReceipt(_ context.Context, id int64) (*Receipt, error) {
	rc, ok := r.state.receipts[id]
	if !ok {
		return nil, ErrReceiptNotFound
	}
	return &rc, nil
}

func (r *memoryTx) ListReceipts(_ context.Context, filter ReceiptFilter) ([]Receipt, int, error) {
	var out []Receipt
	for _, rc := range r.state.receipts {
		if filter.ClientID != nil && rc.ClientID != *filter.ClientID {
			continue
		}
		if filter.InvoiceID != nil && rc.InvoiceID != *filter.InvoiceID {
			continue
		}
		out = append(out, rc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (r *memoryTx) GetQuotation(_ context.Context, id int64) (*Quotation, error) {
	q, ok := r.state.quotations[id]
	if !ok {
		return nil, ErrQuotationNotFound
	}
	q.Items = append([]QuotationItem(nil), r.state.quotationItems[id]...)
	return &q, nil
}

func (r *memoryTx) ListQuotations(_ context.Context, filter QuotationFilter) ([]Quotation, int, error) {
	var out []Quotation
	for _, q := range r.state.quotations {
		if filter.ClientID != nil && (q.ClientID == nil || *q.ClientID != *filter.ClientID) {
			continue
		}
		if filter.Status != nil && q.Status != *filter.Status {
			continue
		}
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (r *memoryTx) BalanceSnapshots(_ context.Context) ([]BalanceSnapshot, error) {
	var out []BalanceSnapshot
	for _, c := range r.state.clients {
		snap := BalanceSnapshot{ClientID: c.ID, ClientName: c.Name, StoredRegularBalance: c.RegularBalance,
			StoredPaidAmount: c.PaidAmount, ExpectedRegularBalance: decimal.Zero, ExpectedPaidAmount: decimal.Zero}
		for _, inv := range r.state.invoices {
			if inv.ClientID == c.ID {
				snap.ExpectedRegularBalance = snap.ExpectedRegularBalance.Add(inv.BalanceDue)
			}
		}
		for _, rc := range r.state.receipts {
			if rc.ClientID == c.ID {
				snap.ExpectedPaidAmount = snap.ExpectedPaidAmount.Add(rc.Amount)
			}
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}

func (r *memoryTx) Summary(_ context.Context) (*Summary, error) {
	s := &Summary{InvoicesByStatus: map[InvoiceStatus]int{}, QuotationsByStatus: map[QuotationStatus]int{}}
	for _, inv := range r.state.invoices {
		s.Outstanding = s.Outstanding.Add(inv.BalanceDue)
		s.InvoicesByStatus[inv.Status]++
	}
	for _, rc := range r.state.receipts {
		s.Collected = s.Collected.Add(rc.Amount)
	}
	for _, q := range r.state.quotations {
		s.QuotationsByStatus[q.Status]++
	}
	s.ClientCount = len(r.state.clients)
	return s, nil
}

// numbering.Store

func (r *memoryTx) IncrementSequence(_ context.Context, t numbering.DocType) (int64, bool, error) {
	v, ok := r.state.sequences[t]
	if !ok {
		return 0, false, nil
	}
	r.state.sequences[t] = v + 1
	return v + 1, true, nil
}

func (r *memoryTx) LatestNumber(_ context.Context, t numbering.DocType) (string, error) {
	var best string
	var bestN int64 = -1
	consider := func(s string) {
		if n, ok := numbering.Parse(t, s); ok && n > bestN {
			best, bestN = s, n
		}
	}
	switch t {
	case numbering.Invoice:
		for _, inv := range r.state.invoices {
			consider(inv.InvoiceNumber)
		}
	case numbering.Quotation:
		for _, q := range r.state.quotations {
			consider(q.QuotationNumber)
		}
	case numbering.Receipt:
		for _, rc := range r.state.receipts {
			consider(rc.ReceiptNumber)
		}
	}
	return best, nil
}

func (r *memoryTx) SeedSequence(_ context.Context, t numbering.DocType, value int64) (int64, error) {
	if v, ok := r.state.sequences[t]; ok && v+1 > value {
		value = v + 1
	}
	r.state.sequences[t] = value
	return value, nil
}

// TxRepository writes

func (r *memoryTx) CreateClient(_ context.Context, c Client) (int64, error) {
	if err := r.failure("CreateClient"); err != nil {
		return 0, err
	}
	c.ID = r.id()
	r.state.clients[c.ID] = c
	return c.ID, nil
}

func (r *memoryTx) UpdateClient(_ context.Context, id int64, updates map[string]any) error {
	c, ok := r.state.clients[id]
	if !ok {
		return ErrClientNotFound
	}
	for k, v := range updates {
		s, _ := v.(string)
		switch k {
		case "name":
			c.Name = s
		case "email":
			c.Email = s
		case "phone":
			c.Phone = s
		case "address":
			c.Address = s
		case "notes":
			c.Notes = s
		}
	}
	r.state.clients[id] = c
	return nil
}

func (r *memoryTx) GetClientForUpdate(ctx context.Context, id int64) (*Client, error) {
	return r.GetClient(ctx, id)
}

func (r *memoryTx) FindClientByName(_ context.Context, name string) (*Client, error) {
	var found *Client
	for _, c := range r.state.clients {
		if c.Name == name && (found == nil || c.ID < found.ID) {
			c := c
			found = &c
		}
	}
	if found == nil {
		return nil, ErrClientNotFound
	}
	return found, nil
}

func (r *memoryTx) AdjustClientBalance(_ context.Context, id int64, regularDelta, paidDelta decimal.Decimal) error {
	if err := r.failure("AdjustClientBalance"); err != nil {
		return err
	}
	c, ok := r.state.clients[id]
	if !ok {
		return ErrClientNotFound
	}
	c.RegularBalance = c.RegularBalance.Add(regularDelta)
	c.PaidAmount = c.PaidAmount.Add(paidDelta)
	r.state.clients[id] = c
	return nil
}

func (r *memoryTx) SetClientBalance(_ context.Context, id int64, regular, paid decimal.Decimal) error {
	c, ok := r.state.clients[id]
	if !ok {
		return ErrClientNotFound
	}
	c.RegularBalance, c.PaidAmount = regular, paid
	r.state.clients[id] = c
	return nil
}

func (r *memoryTx) CreateInvoice(_ context.Context, inv Invoice) (int64, error) {
	if inv.QuotationID != nil {
		for _, existing := range r.state.invoices {
			if existing.QuotationID != nil && *existing.QuotationID == *inv.QuotationID {
				return 0, ErrAlreadyConverted
			}
		}
	}
	inv.ID = r.id()
	inv.Items = nil
	r.state.invoices[inv.ID] = inv
	return inv.ID, nil
}

func (r *memoryTx) InsertInvoiceItem(_ context.Context, it InvoiceItem) (int64, error) {
	if err := r.failure("InsertInvoiceItem"); err != nil {
		return 0, err
	}
	it.ID = r.id()
	r.state.invoiceItems[it.InvoiceID] = append(r.state.invoiceItems[it.InvoiceID], it)
	return it.ID, nil
}

func (r *memoryTx) GetInvoiceForUpdate(ctx context.Context, id int64) (*Invoice, error) {
	return r.GetInvoice(ctx, id)
}

func (r *memoryTx) UpdateInvoicePayment(_ context.Context, id int64, amountPaid, balanceDue decimal.Decimal, status InvoiceStatus) error {
	if err := r.failure("UpdateInvoicePayment"); err != nil {
		return err
	}
	inv, ok := r.state.invoices[id]
	if !ok {
		return ErrInvoiceNotFound
	}
	inv.AmountPaid, inv.BalanceDue, inv.Status, inv.StatusLabel = amountPaid, balanceDue, status, status.Label()
	r.state.invoices[id] = inv
	return nil
}

func (r *memoryTx) CreateReceipt(_ context.Context, rc Receipt) (int64, error) {
	if err := r.failure("CreateReceipt"); err != nil {
		return 0, err
	}
	rc.ID = r.id()
	r.state.receipts[rc.ID] = rc
	return rc.ID, nil
}

func (r *memoryTx) CreateQuotation(_ context.Context, q Quotation) (int64, error) {
	q.ID = r.id()
	q.Items = nil
	r.state.quotations[q.ID] = q
	return q.ID, nil
}

func (r *memoryTx) InsertQuotationItem(_ context.Context, it QuotationItem) (int64, error) {
	if err := r.failure("InsertQuotationItem"); err != nil {
		return 0, err
	}
	it.ID = r.id()
	r.state.quotationItems[it.QuotationID] = append(r.state.quotationItems[it.QuotationID], it)
	return it.ID, nil
}

func (r *memoryTx) GetQuotationForUpdate(ctx context.Context, id int64) (*Quotation, error) {
	return r.GetQuotation(ctx, id)
}

func (r *memoryTx) UpdateQuotationStatus(_ context.Context, id int64, status QuotationStatus, reason string) error {
	q, ok := r.state.quotations[id]
	if !ok || q.IsConverted {
		return ErrQuotationNotFound
	}
	q.Status, q.RejectionReason = status, reason
	r.state.quotations[id] = q
	return nil
}

func (r *memoryTx) MarkQuotationConverted(_ context.Context, id, invoiceID int64) error {
	q, ok := r.state.quotations[id]
	if !ok || q.IsConverted {
		return ErrAlreadyConverted
	}
	q.Status, q.IsConverted, q.ConvertedToInvoiceID = QuotationConverted, true, &invoiceID
	r.state.quotations[id] = q
	return nil
}
