package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizdesk/bizdesk/internal/shared"
)

var fixedNow = time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC)

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

type recordingNotifier struct {
	notices []ReceiptNotice
	err     error
}

func (n *recordingNotifier) ReceiptRecorded(_ context.Context, notice ReceiptNotice) error {
	n.notices = append(n.notices, notice)
	return n.err
}

type countingMetrics struct {
	payments   int
	invoices   map[string]int
	conversion int
	drift      int
}

func (m *countingMetrics) PaymentRecorded(decimal.Decimal) { m.payments++ }
func (m *countingMetrics) InvoiceCreated(source string) {
	if m.invoices == nil {
		m.invoices = map[string]int{}
	}
	m.invoices[source]++
}
func (m *countingMetrics) QuotationConverted(bool) { m.conversion++ }
func (m *countingMetrics) BalanceDrift(n int)      { m.drift = n }

type fixture struct {
	repo     *memoryLedgerRepo
	svc      *Service
	audit    *recordingAudit
	notifier *recordingNotifier
	metrics  *countingMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     newMemoryLedgerRepo(),
		audit:    &recordingAudit{},
		notifier: &recordingNotifier{},
		metrics:  &countingMetrics{},
	}
	f.svc = NewService(f.repo, Options{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Audit:    f.audit,
		Notifier: f.notifier,
		Metrics:  f.metrics,
		Now:      func() time.Time { return fixedNow },
	})
	return f
}

func admin() *shared.Identity {
	return &shared.Identity{UserID: "admin-1", Role: shared.RoleAdmin}
}

func clientUser(id int64) *shared.Identity {
	return &shared.Identity{UserID: "client-user", Role: shared.RoleClient, ClientID: &id}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

// ============================================================================
// PAYMENTS
// ============================================================================

func TestRecordPaymentPartialThenFull(t *testing.T) {
	f := newFixture(t)
	client := f.repo.addClient("Globex", "1000", "0")
	inv := f.repo.addInvoice(client.ID, "INV-0001", "1000", "0")
	ctx := context.Background()

	first, err := f.svc.RecordPayment(ctx, RecordPaymentRequest{
		ClientID: client.ID, InvoiceID: inv.ID, Amount: dec("400"),
		PaymentDate: fixedNow, PaymentMethod: "bank transfer",
	}, admin())
	require.NoError(t, err)
	assert.Equal(t, "REC-001", first.ReceiptNumber)

	got, err := f.repo.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, InvoicePartiallyPaid, got.Status)
	assert.Equal(t, "Partially Paid", got.StatusLabel)
	assertDecimal(t, "400", got.AmountPaid)
	assertDecimal(t, "600", got.BalanceDue)

	c, err := f.repo.GetClient(ctx, client.ID)
	require.NoError(t, err)
	assertDecimal(t, "600", c.RegularBalance)
	assertDecimal(t, "400", c.PaidAmount)

	second, err := f.svc.RecordPayment(ctx, RecordPaymentRequest{
		ClientID: client.ID, InvoiceID: inv.ID, Amount: dec("600"),
		PaymentDate: fixedNow, PaymentMethod: "cash",
	}, admin())
	require.NoError(t, err)
	assert.Equal(t, "REC-002", second.ReceiptNumber)

	got, err = f.repo.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, InvoicePaid, got.Status)
	assertDecimal(t, "0", got.BalanceDue)
	assert.Len(t, got.Receipts, 2)

	c, err = f.repo.GetClient(ctx, client.ID)
	require.NoError(t, err)
	assertDecimal(t, "0", c.RegularBalance)
	assertDecimal(t, "1000", c.PaidAmount)

	assert.Equal(t, 2, f.metrics.payments)
	assert.Equal(t, []string{"payment.recorded", "payment.recorded"}, f.audit.actions())
	require.Len(t, f.notifier.notices, 2)
	assert.Equal(t, client.Email, f.notifier.notices[1].ClientEmail)
	assertDecimal(t, "0", f.notifier.notices[1].BalanceDue)
}

func TestRecordPaymentRejectsAmountAboveBalance(t *testing.T) {
	f := newFixture(t)
	client := f.repo.addClient("Globex", "1000", "0")
	inv := f.repo.addInvoice(client.ID, "INV-0001", "1000", "0")
	ctx := context.Background()

	_, err := f.svc.RecordPayment(ctx, RecordPaymentRequest{
		ClientID: client.ID, InvoiceID: inv.ID, Amount: dec("1200"),
		PaymentDate: fixedNow, PaymentMethod: "cash",
	}, admin())
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.ErrorIs(t, err, ErrAmountExceedsBalance)

	got, err := f.repo.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, InvoiceUnpaid, got.Status)
	assert.Empty(t, got.Receipts)
	c, err := f.repo.GetClient(ctx, client.ID)
	require.NoError(t, err)
	assertDecimal(t, "1000", c.RegularBalance)
	assert.Empty(t, f.notifier.notices)
	assert.Empty(t, f.audit.actions())
}

func TestRecordPaymentRollsBackWhenClientUpdateFails(t *testing.T) {
	f := newFixture(t)
	client := f.repo.addClient("Globex", "1000", "0")
	inv := f.repo.addInvoice(client.ID, "INV-0001", "1000", "0")
	f.repo.fail["AdjustClientBalance"] = errors.New("disk full")
	ctx := context.Background()

	_, err := f.svc.RecordPayment(ctx, RecordPaymentRequest{
		ClientID: client.ID, InvoiceID: inv.ID, Amount: dec("250"),
		PaymentDate: fixedNow, PaymentMethod: "cash",
	}, admin())
	require.Error(t, err)

	got, err := f.repo.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assertDecimal(t, "0", got.AmountPaid)
	assert.Empty(t, got.Receipts)

	// the number consumed by the failed attempt is released with the rollback
	delete(f.repo.fail, "AdjustClientBalance")
	rc, err := f.svc.RecordPayment(ctx, RecordPaymentRequest{
		ClientID: client.ID, InvoiceID: inv.ID, Amount: dec("250"),
		PaymentDate: fixedNow, PaymentMethod: "cash",
	}, admin())
	require.NoError(t, err)
	assert.Equal(t, "REC-001", rc.ReceiptNumber)
}

func TestRecordPaymentGuards(t *testing.T) {
	f := newFixture(t)
	client := f.repo.addClient("Globex", "0", "500")
	other := f.repo.addClient("Initech", "0", "0")
	paid := f.repo.addInvoice(client.ID, "INV-0001", "500", "500")
	open := f.repo.addInvoice(client.ID, "INV-0002", "300", "0")
	ctx := context.Background()

	base := RecordPaymentRequest{ClientID: client.ID, InvoiceID: open.ID, Amount: dec("10"), PaymentDate: fixedNow, PaymentMethod: "cash"}

	tests := []struct {
		name   string
		mutate func(*RecordPaymentRequest)
		actor  *shared.Identity
		want   error
	}{
		{"anonymous", nil, nil, shared.ErrUnauthorized},
		{"client role", nil, clientUser(client.ID), shared.ErrForbidden},
		{"fully paid invoice", func(r *RecordPaymentRequest) { r.InvoiceID = paid.ID }, admin(), ErrInvoicePaid},
		{"invoice of another client", func(r *RecordPaymentRequest) { r.ClientID = other.ID }, admin(), ErrInvoiceClientMismatch},
		{"unknown invoice", func(r *RecordPaymentRequest) { r.InvoiceID = 999 }, admin(), shared.ErrNotFound},
		{"zero amount", func(r *RecordPaymentRequest) { r.Amount = decimal.Zero }, admin(), shared.ErrValidation},
		{"negative amount", func(r *RecordPaymentRequest) { r.Amount = dec("-5") }, admin(), shared.ErrValidation},
		{"fractional cents", func(r *RecordPaymentRequest) { r.Amount = dec("1.005") }, admin(), shared.ErrValidation},
		{"missing method", func(r *RecordPaymentRequest) { r.PaymentMethod = "  " }, admin(), shared.ErrValidation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := base
			if tc.mutate != nil {
				tc.mutate(&req)
			}
			_, err := f.svc.RecordPayment(ctx, req, tc.actor)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Empty(t, f.notifier.notices)
}

func TestRecordPaymentNotifierFailureKeepsReceipt(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("queue down")
	client := f.repo.addClient("Globex", "100", "0")
	inv := f.repo.addInvoice(client.ID, "INV-0001", "100", "0")

	rc, err := f.svc.RecordPayment(context.Background(), RecordPaymentRequest{
		ClientID: client.ID, InvoiceID: inv.ID, Amount: dec("100"), PaymentDate: fixedNow, PaymentMethod: "cash",
	}, admin())
	require.NoError(t, err)
	assert.NotZero(t, rc.ID)
}

func TestApplyPayment(t *testing.T) {
	paid, balance, status, err := ApplyPayment(dec("1000"), dec("400"), dec("600"))
	require.NoError(t, err)
	assertDecimal(t, "1000", paid)
	assertDecimal(t, "0", balance)
	assert.Equal(t, InvoicePaid, status)

	_, _, _, err = ApplyPayment(dec("1000"), dec("400"), dec("600.01"))
	assert.ErrorIs(t, err, ErrAmountExceedsBalance)
}

// ============================================================================
// INVOICES AND NUMBERING
// ============================================================================

func TestCreateInvoiceContinuesExistingNumbers(t *testing.T) {
	f := newFixture(t)
	client := f.repo.addClient("Globex", "0", "0")
	f.repo.addInvoice(client.ID, "INV-0007", "0", "0")
	ctx := context.Background()

	inv, err := f.svc.CreateInvoice(ctx, CreateInvoiceRequest{
		ClientID: client.ID,
		Items: []ItemInput{
			{Title: "Design", Price: dec("150.50")},
			{Title: "Hosting", Price: dec("49.50")},
		},
	}, admin())
	require.NoError(t, err)
	assert.Equal(t, "INV-0008", inv.InvoiceNumber)
	assertDecimal(t, "200", inv.TotalAmount)
	assert.True(t, inv.UsesItems)
	require.Len(t, inv.Items, 2)
	assert.Equal(t, "Design", inv.Items[0].Title)
	assert.Equal(t, *day(2024, 3, 10), inv.IssueDate)
	assert.Equal(t, inv.IssueDate.Add(defaultDueWindow), inv.DueDate)

	next, err := f.svc.CreateInvoice(ctx, CreateInvoiceRequest{ClientID: client.ID, TotalAmount: dec("10")}, admin())
	require.NoError(t, err)
	assert.Equal(t, "INV-0009", next.InvoiceNumber)

	c, err := f.repo.GetClient(ctx, client.ID)
	require.NoError(t, err)
	assertDecimal(t, "210", c.RegularBalance)
	assert.Equal(t, 2, f.metrics.invoices["direct"])
}

func TestCreateInvoiceValidation(t *testing.T) {
	f := newFixture(t)
	client := f.repo.addClient("Globex", "0", "0")
	ctx := context.Background()

	_, err := f.svc.CreateInvoice(ctx, CreateInvoiceRequest{ClientID: client.ID}, admin())
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.CreateInvoice(ctx, CreateInvoiceRequest{
		ClientID: client.ID, TotalAmount: dec("10"), IssueDate: day(2024, 3, 10), DueDate: day(2024, 3, 1),
	}, admin())
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.CreateInvoice(ctx, CreateInvoiceRequest{ClientID: 404, TotalAmount: dec("10")}, admin())
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.svc.CreateInvoice(ctx, CreateInvoiceRequest{
		ClientID: client.ID, Items: []ItemInput{{Title: "", Price: dec("5")}},
	}, admin())
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "items[0].title")
}

func TestClientScoping(t *testing.T) {
	f := newFixture(t)
	mine := f.repo.addClient("Globex", "100", "0")
	theirs := f.repo.addClient("Initech", "100", "0")
	myInv := f.repo.addInvoice(mine.ID, "INV-0001", "100", "0")
	theirInv := f.repo.addInvoice(theirs.ID, "INV-0002", "100", "0")
	ctx := context.Background()
	caller := clientUser(mine.ID)

	got, err := f.svc.GetInvoice(ctx, myInv.ID, caller)
	require.NoError(t, err)
	assert.Equal(t, "INV-0001", got.InvoiceNumber)

	_, err = f.svc.GetInvoice(ctx, theirInv.ID, caller)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.svc.GetClient(ctx, theirs.ID, caller)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	list, total, err := f.svc.ListInvoices(ctx, InvoiceFilter{ClientID: &theirs.ID}, caller)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, myInv.ID, list[0].ID)

	_, _, err = f.svc.ListClients(ctx, ClientFilter{}, caller)
	assert.ErrorIs(t, err, shared.ErrForbidden)

	_, _, err = f.svc.ListInvoices(ctx, InvoiceFilter{}, nil)
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
}

// ============================================================================
// CLIENTS
// ============================================================================

func TestCreateAndUpdateClient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.svc.CreateClient(ctx, CreateClientRequest{Name: "  Umbrella  ", Email: "ops@umbrella.test"}, admin())
	require.NoError(t, err)
	assert.Equal(t, "Umbrella", c.Name)
	assertDecimal(t, "0", c.RegularBalance)

	_, err = f.svc.CreateClient(ctx, CreateClientRequest{Name: "x", Email: "not-an-email"}, admin())
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "email")

	phone := "555-0100"
	blank := " "
	updated, err := f.svc.UpdateClient(ctx, c.ID, UpdateClientRequest{Phone: &phone}, admin())
	require.NoError(t, err)
	assert.Equal(t, phone, updated.Phone)
	assert.Equal(t, "Umbrella", updated.Name)

	_, err = f.svc.UpdateClient(ctx, c.ID, UpdateClientRequest{Name: &blank}, admin())
	assert.ErrorIs(t, err, shared.ErrValidation)

	assert.Equal(t, []string{"client.created", "client.updated"}, f.audit.actions())
}

// ============================================================================
// QUOTATIONS
// ============================================================================

func TestCreateQuotationModes(t *testing.T) {
	f := newFixture(t)
	client := f.repo.addClient("Globex", "0", "0")
	ctx := context.Background()

	tests := []struct {
		name string
		req  CreateQuotationRequest
		ok   bool
	}{
		{"both client and prospect", CreateQuotationRequest{ClientID: &client.ID, ClientName: "Acme", ClientEmail: "a@acme.test", TotalAmount: dec("10")}, false},
		{"neither client nor prospect", CreateQuotationRequest{TotalAmount: dec("10")}, false},
		{"prospect without email", CreateQuotationRequest{ClientName: "Acme", TotalAmount: dec("10")}, false},
		{"no items and zero total", CreateQuotationRequest{ClientID: &client.ID}, false},
		{"due before issue", CreateQuotationRequest{ClientID: &client.ID, TotalAmount: dec("10"), QuotationIssueDate: day(2024, 3, 10), QuotationDueDate: day(2024, 3, 9)}, false},
		{"existing client", CreateQuotationRequest{ClientID: &client.ID, TotalAmount: dec("10")}, true},
		{"prospect", CreateQuotationRequest{ClientName: "Acme", ClientEmail: "a@acme.test", TotalAmount: dec("10")}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q, err := f.svc.CreateQuotation(ctx, tc.req, admin())
			if !tc.ok {
				assert.ErrorIs(t, err, shared.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, QuotationDraft, q.Status)
		})
	}
}

func TestCreateQuotationNumbersAndItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q1, err := f.svc.CreateQuotation(ctx, CreateQuotationRequest{
		ClientName: "Acme", ClientEmail: "a@acme.test",
		Items: []ItemInput{{Title: "Audit", Price: dec("300")}, {Title: "Report", Price: dec("200")}},
	}, admin())
	require.NoError(t, err)
	assert.Equal(t, "Q001", q1.QuotationNumber)
	assertDecimal(t, "500", q1.TotalAmount)
	require.Len(t, q1.Items, 2)
	assert.Equal(t, 2, q1.Items[1].Position)
	assert.Equal(t, "Acme", q1.Prospect.Name)

	q2, err := f.svc.CreateQuotation(ctx, CreateQuotationRequest{ClientName: "Acme", ClientEmail: "a@acme.test", TotalAmount: dec("1")}, admin())
	require.NoError(t, err)
	assert.Equal(t, "Q002", q2.QuotationNumber)
}

func TestQuotationTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.repo.addQuotation(Quotation{QuotationNumber: "Q001", Status: QuotationDraft, TotalAmount: dec("10"),
		Prospect: ProspectSnapshot{Name: "Acme"}})

	_, err := f.svc.ApproveQuotation(ctx, q.ID, admin())
	assert.ErrorIs(t, err, ErrInvalidStatus)

	sent, err := f.svc.SendQuotation(ctx, q.ID, admin())
	require.NoError(t, err)
	assert.Equal(t, QuotationSent, sent.Status)

	_, err = f.svc.SendQuotation(ctx, q.ID, admin())
	assert.ErrorIs(t, err, ErrInvalidStatus)

	rejected, err := f.svc.RejectQuotation(ctx, q.ID, RejectQuotationRequest{Reason: " over budget "}, admin())
	require.NoError(t, err)
	assert.Equal(t, QuotationRejected, rejected.Status)
	assert.Equal(t, "over budget", rejected.RejectionReason)

	_, err = f.svc.ApproveQuotation(ctx, q.ID, admin())
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = f.svc.SendQuotation(ctx, q.ID, clientUser(1))
	assert.ErrorIs(t, err, shared.ErrForbidden)

	assert.Equal(t, []string{"quotation.sent", "quotation.rejected"}, f.audit.actions())
}

// ============================================================================
// CONVERSION
// ============================================================================

func TestConvertQuotationRequiresApproval(t *testing.T) {
	for _, status := range []QuotationStatus{QuotationDraft, QuotationSent, QuotationRejected} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			q := f.repo.addQuotation(Quotation{QuotationNumber: "Q001", Status: status, TotalAmount: dec("500"),
				Prospect: ProspectSnapshot{Name: "Acme", Email: "a@acme.test"}})

			_, err := f.svc.ConvertQuotation(context.Background(), q.ID, admin())
			require.ErrorIs(t, err, ErrNotApproved)
			assert.Empty(t, f.repo.state.invoices)
			assert.Empty(t, f.repo.state.clients)
		})
	}
}

func TestConvertQuotationCreatesClientForProspect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.repo.addQuotation(Quotation{QuotationNumber: "Q001", Status: QuotationApproved, TotalAmount: dec("500"),
		Title: "Website", Prospect: ProspectSnapshot{Name: "Acme", Email: "a@acme.test", Phone: "555"}})

	res, err := f.svc.ConvertQuotation(ctx, q.ID, admin())
	require.NoError(t, err)
	assert.True(t, res.ClientCreated)
	assert.Equal(t, "INV-0001", res.Invoice.InvoiceNumber)
	assert.Equal(t, InvoiceUnpaid, res.Invoice.Status)
	assertDecimal(t, "500", res.Invoice.BalanceDue)
	assert.Equal(t, "Website", res.Invoice.Description)
	require.NotNil(t, res.Invoice.QuotationID)
	assert.Equal(t, q.ID, *res.Invoice.QuotationID)

	c, err := f.repo.GetClient(ctx, res.ClientID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", c.Name)
	assert.Equal(t, "a@acme.test", c.Email)
	assertDecimal(t, "500", c.RegularBalance)
	assertDecimal(t, "0", c.PaidAmount)

	stored, err := f.repo.GetQuotation(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, QuotationConverted, stored.Status)
	assert.True(t, stored.IsConverted)
	require.NotNil(t, stored.ConvertedToInvoiceID)
	assert.Equal(t, res.Invoice.ID, *stored.ConvertedToInvoiceID)

	_, err = f.svc.ConvertQuotation(ctx, q.ID, admin())
	assert.ErrorIs(t, err, ErrAlreadyConverted)
	assert.Len(t, f.repo.state.invoices, 1)
	assert.Equal(t, 1, f.metrics.conversion)
	assert.Equal(t, 1, f.metrics.invoices["quotation"])
}

func TestConvertQuotationReusesClientWithSameName(t *testing.T) {
	f := newFixture(t)
	existing := f.repo.addClient("Acme", "100", "0")
	q := f.repo.addQuotation(Quotation{QuotationNumber: "Q001", Status: QuotationApproved, TotalAmount: dec("250"),
		Prospect: ProspectSnapshot{Name: "Acme", Email: "new@acme.test"}})

	res, err := f.svc.ConvertQuotation(context.Background(), q.ID, admin())
	require.NoError(t, err)
	assert.False(t, res.ClientCreated)
	assert.Equal(t, existing.ID, res.ClientID)
	assert.Len(t, f.repo.state.clients, 1)
	assertDecimal(t, "350", f.repo.state.clients[existing.ID].RegularBalance)
}

func TestConvertQuotationCopiesItemsInOrder(t *testing.T) {
	f := newFixture(t)
	client := f.repo.addClient("Globex", "0", "0")
	q := f.repo.addQuotation(Quotation{QuotationNumber: "Q001", Status: QuotationApproved, ClientID: &client.ID,
		UsesItems: true, TotalAmount: dec("999")},
		QuotationItem{Title: "Discovery", Price: dec("100")},
		QuotationItem{Title: "Build", Price: dec("700")},
		QuotationItem{Title: "Launch", Price: dec("50.25")},
	)

	res, err := f.svc.ConvertQuotation(context.Background(), q.ID, admin())
	require.NoError(t, err)
	require.Len(t, res.Invoice.Items, 3)
	for i, title := range []string{"Discovery", "Build", "Launch"} {
		assert.Equal(t, title, res.Invoice.Items[i].Title)
		assert.Equal(t, i+1, res.Invoice.Items[i].Position)
	}
	assertDecimal(t, "850.25", res.Invoice.TotalAmount)
	assert.True(t, res.Invoice.UsesItems)
}

func TestConvertQuotationRollsBackOnItemFailure(t *testing.T) {
	f := newFixture(t)
	client := f.repo.addClient("Globex", "0", "0")
	q := f.repo.addQuotation(Quotation{QuotationNumber: "Q001", Status: QuotationApproved, ClientID: &client.ID, UsesItems: true},
		QuotationItem{Title: "Build", Price: dec("700")})
	f.repo.fail["InsertInvoiceItem"] = errors.New("constraint")

	_, err := f.svc.ConvertQuotation(context.Background(), q.ID, admin())
	require.Error(t, err)
	assert.Empty(t, f.repo.state.invoices)
	assert.Equal(t, QuotationApproved, f.repo.state.quotations[q.ID].Status)
	assertDecimal(t, "0", f.repo.state.clients[client.ID].RegularBalance)
}

func TestConvertQuotationDates(t *testing.T) {
	tests := []struct {
		name      string
		q         Quotation
		wantIssue time.Time
		wantDue   time.Time
	}{
		{
			name:      "quotation dates",
			q:         Quotation{QuotationIssueDate: day(2024, 2, 1), QuotationDueDate: day(2024, 2, 15), IssueDate: day(2023, 1, 1), DueDate: day(2023, 1, 2)},
			wantIssue: *day(2024, 2, 1),
			wantDue:   *day(2024, 2, 15),
		},
		{
			name:      "legacy dates",
			q:         Quotation{IssueDate: day(2023, 5, 1), DueDate: day(2023, 5, 31)},
			wantIssue: *day(2023, 5, 1),
			wantDue:   *day(2023, 5, 31),
		},
		{
			name:      "defaults",
			wantIssue: *day(2024, 3, 10),
			wantDue:   *day(2024, 4, 9),
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			q := tc.q
			q.QuotationNumber = "Q001"
			q.Status = QuotationApproved
			q.TotalAmount = dec("10")
			q.Prospect = ProspectSnapshot{Name: "Acme"}
			q = f.repo.addQuotation(q)

			res, err := f.svc.ConvertQuotation(context.Background(), q.ID, admin())
			require.NoError(t, err)
			assert.Equal(t, tc.wantIssue, res.Invoice.IssueDate)
			assert.Equal(t, tc.wantDue, res.Invoice.DueDate)
		})
	}
}

func TestConvertQuotationConcurrentRequestsConvertOnce(t *testing.T) {
	f := newFixture(t)
	q := f.repo.addQuotation(Quotation{QuotationNumber: "Q001", Status: QuotationApproved, TotalAmount: dec("500"),
		Prospect: ProspectSnapshot{Name: "Acme"}})

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ConvertQuotation(context.Background(), q.ID, admin())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrAlreadyConverted):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)
	assert.Len(t, f.repo.state.invoices, 1)
	assert.Len(t, f.repo.state.clients, 1)
}

func TestConvertQuotationRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	q := f.repo.addQuotation(Quotation{QuotationNumber: "Q001", Status: QuotationApproved, TotalAmount: dec("1"), Prospect: ProspectSnapshot{Name: "Acme"}})

	_, err := f.svc.ConvertQuotation(context.Background(), q.ID, nil)
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
	_, err = f.svc.ConvertQuotation(context.Background(), 12345, admin())
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

// ============================================================================
// RECONCILIATION AND DASHBOARD
// ============================================================================

func TestReconcileBalances(t *testing.T) {
	f := newFixture(t)
	ok := f.repo.addClient("Globex", "100", "0")
	drifted := f.repo.addClient("Initech", "999", "5")
	f.repo.addInvoice(ok.ID, "INV-0001", "100", "0")
	f.repo.addInvoice(drifted.ID, "INV-0002", "300", "0")
	ctx := context.Background()

	report, err := f.svc.ReconcileBalances(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, report.ClientsChecked)
	require.Len(t, report.Drifts, 1)
	assert.Equal(t, drifted.ID, report.Drifts[0].ClientID)
	assertDecimal(t, "300", report.Drifts[0].ExpectedRegularBalance)
	assertDecimal(t, "999", f.repo.state.clients[drifted.ID].RegularBalance)
	assert.Equal(t, 1, f.metrics.drift)

	report, err = f.svc.ReconcileBalances(ctx, true)
	require.NoError(t, err)
	assert.True(t, report.Fixed)
	assertDecimal(t, "300", f.repo.state.clients[drifted.ID].RegularBalance)
	assertDecimal(t, "0", f.repo.state.clients[drifted.ID].PaidAmount)

	report, err = f.svc.ReconcileBalances(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, report.Drifts)
}

func TestSummaryWithoutCache(t *testing.T) {
	f := newFixture(t)
	client := f.repo.addClient("Globex", "600", "400")
	f.repo.addInvoice(client.ID, "INV-0001", "1000", "400")

	sum, err := f.svc.Summary(context.Background(), admin())
	require.NoError(t, err)
	assertDecimal(t, "600", sum.Outstanding)
	assert.Equal(t, 1, sum.InvoicesByStatus[InvoicePartiallyPaid])
	assert.True(t, fixedNow.Equal(sum.GeneratedAt))

	_, err = f.svc.Summary(context.Background(), clientUser(client.ID))
	assert.ErrorIs(t, err, shared.ErrForbidden)
}
