//go:build integration

package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bizdesk/bizdesk/internal/platform/db"
	"github.com/bizdesk/bizdesk/internal/shared"
	"github.com/bizdesk/bizdesk/migrations"
)

func newPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("bizdesk_test"),
		tcpostgres.WithUsername("bizdesk"),
		tcpostgres.WithPassword("bizdesk"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	migrator, err := db.NewMigrator(migrations.FS, dsn, nil)
	require.NoError(t, err)
	require.NoError(t, migrator.Up())
	require.NoError(t, migrator.Close())

	pool, err := db.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgresLedgerFlow(t *testing.T) {
	pool := newPostgres(t)
	ctx := context.Background()
	svc := NewService(NewRepository(pool), Options{
		Audit: shared.NewAuditLogger(pool),
		Now:   func() time.Time { return fixedNow },
	})

	client, err := svc.CreateClient(ctx, CreateClientRequest{Name: "Acme", Email: "billing@acme.test"}, admin())
	require.NoError(t, err)

	inv, err := svc.CreateInvoice(ctx, CreateInvoiceRequest{
		ClientID: client.ID,
		Items: []ItemInput{
			{Title: "Design", Price: dec("300")},
			{Title: "Build", Price: dec("200")},
		},
	}, admin())
	require.NoError(t, err)
	assert.Equal(t, "INV-0001", inv.InvoiceNumber)
	assertDecimal(t, "500", inv.BalanceDue)

	_, err = svc.RecordPayment(ctx, RecordPaymentRequest{
		ClientID: client.ID, InvoiceID: inv.ID, Amount: dec("600"),
		PaymentDate: fixedNow, PaymentMethod: "cash",
	}, admin())
	require.ErrorIs(t, err, shared.ErrValidation)

	receipt, err := svc.RecordPayment(ctx, RecordPaymentRequest{
		ClientID: client.ID, InvoiceID: inv.ID, Amount: dec("200"),
		PaymentDate: fixedNow, PaymentMethod: "cash",
	}, admin())
	require.NoError(t, err)
	assert.Equal(t, "REC-001", receipt.ReceiptNumber)

	got, err := svc.GetInvoice(ctx, inv.ID, admin())
	require.NoError(t, err)
	assert.Equal(t, InvoicePartiallyPaid, got.Status)
	assertDecimal(t, "300", got.BalanceDue)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "Design", got.Items[0].Title)
	require.Len(t, got.Receipts, 1)

	stored, err := svc.GetClient(ctx, client.ID, admin())
	require.NoError(t, err)
	assertDecimal(t, "300", stored.RegularBalance)
	assertDecimal(t, "200", stored.PaidAmount)

	report, err := svc.ReconcileBalances(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ClientsChecked)
	assert.Empty(t, report.Drifts)

	_, err = pool.Exec(ctx, `UPDATE clients SET regular_balance = 999 WHERE id = $1`, client.ID)
	require.NoError(t, err)
	report, err = svc.ReconcileBalances(ctx, true)
	require.NoError(t, err)
	require.Len(t, report.Drifts, 1)
	stored, err = svc.GetClient(ctx, client.ID, admin())
	require.NoError(t, err)
	assertDecimal(t, "300", stored.RegularBalance)
}

func TestPostgresNumberingContinuesImportedInvoices(t *testing.T) {
	pool := newPostgres(t)
	ctx := context.Background()
	svc := NewService(NewRepository(pool), Options{Now: func() time.Time { return fixedNow }})

	client, err := svc.CreateClient(ctx, CreateClientRequest{Name: "Initech"}, admin())
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO invoices (invoice_number, client_id, issue_date, due_date, total_amount, balance_due)
VALUES ('INV-0041', $1, '2024-01-01', '2024-01-31', 10, 10), ('INV-0009', $1, '2024-01-01', '2024-01-31', 10, 10)`, client.ID)
	require.NoError(t, err)

	inv, err := svc.CreateInvoice(ctx, CreateInvoiceRequest{ClientID: client.ID, TotalAmount: dec("50")}, admin())
	require.NoError(t, err)
	assert.Equal(t, "INV-0042", inv.InvoiceNumber)

	q, err := svc.CreateQuotation(ctx, CreateQuotationRequest{ClientID: &client.ID, Title: "Support", TotalAmount: dec("20")}, admin())
	require.NoError(t, err)
	assert.Equal(t, "Q001", q.QuotationNumber)
}

func TestPostgresConcurrentPaymentsNeverOverpay(t *testing.T) {
	pool := newPostgres(t)
	ctx := context.Background()
	svc := NewService(NewRepository(pool), Options{Now: func() time.Time { return fixedNow }})

	client, err := svc.CreateClient(ctx, CreateClientRequest{Name: "Globex"}, admin())
	require.NoError(t, err)
	inv, err := svc.CreateInvoice(ctx, CreateInvoiceRequest{ClientID: client.ID, TotalAmount: dec("500")}, admin())
	require.NoError(t, err)

	const workers = 4
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RecordPayment(ctx, RecordPaymentRequest{
				ClientID: client.ID, InvoiceID: inv.ID, Amount: dec("300"),
				PaymentDate: fixedNow, PaymentMethod: "card",
			}, admin())
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, shared.ErrValidation) || errors.Is(err, shared.ErrConflict), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)

	got, err := svc.GetInvoice(ctx, inv.ID, admin())
	require.NoError(t, err)
	assertDecimal(t, "300", got.AmountPaid)
	assertDecimal(t, "200", got.BalanceDue)
}

func TestPostgresConvertQuotationOnce(t *testing.T) {
	pool := newPostgres(t)
	ctx := context.Background()
	svc := NewService(NewRepository(pool), Options{Now: func() time.Time { return fixedNow }})

	q, err := svc.CreateQuotation(ctx, CreateQuotationRequest{
		ClientName:  "Initech",
		ClientEmail: "ops@initech.test",
		Items:       []ItemInput{{Title: "Audit", Price: dec("750")}},
	}, admin())
	require.NoError(t, err)
	_, err = svc.SendQuotation(ctx, q.ID, admin())
	require.NoError(t, err)
	_, err = svc.ApproveQuotation(ctx, q.ID, admin())
	require.NoError(t, err)

	result, err := svc.ConvertQuotation(ctx, q.ID, admin())
	require.NoError(t, err)
	assert.True(t, result.ClientCreated)
	assertDecimal(t, "750", result.Invoice.TotalAmount)

	_, err = svc.ConvertQuotation(ctx, q.ID, admin())
	require.ErrorIs(t, err, ErrAlreadyConverted)

	client, err := svc.GetClient(ctx, result.ClientID, admin())
	require.NoError(t, err)
	assertDecimal(t, "750", client.RegularBalance)
}
