// Package cli implements the bizctl administration commands.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bizdesk/bizdesk/internal/app"
	"github.com/bizdesk/bizdesk/internal/ledger"
	"github.com/bizdesk/bizdesk/internal/shared"
)

// Migrations is the schema migration surface used by the migrate commands.
type Migrations interface {
	Up() error
	Down(n int) error
	Version() (uint, bool, error)
	Close() error
}

// Ledger is the ledger service surface used by reconcile and seed.
type Ledger interface {
	ReconcileBalances(ctx context.Context, fix bool) (*ledger.ReconcileReport, error)
	CreateClient(ctx context.Context, req ledger.CreateClientRequest, actor *shared.Identity) (*ledger.Client, error)
	CreateInvoice(ctx context.Context, req ledger.CreateInvoiceRequest, actor *shared.Identity) (*ledger.Invoice, error)
	RecordPayment(ctx context.Context, req ledger.RecordPaymentRequest, actor *shared.Identity) (*ledger.Receipt, error)
	CreateQuotation(ctx context.Context, req ledger.CreateQuotationRequest, actor *shared.Identity) (*ledger.Quotation, error)
	SendQuotation(ctx context.Context, id int64, actor *shared.Identity) (*ledger.Quotation, error)
}

// Deps lets commands build their collaborators lazily, after flags are parsed.
type Deps struct {
	Out        io.Writer
	Logger     *slog.Logger
	LoadConfig func() (*app.Config, error)
	Migrations func(cfg *app.Config) (Migrations, error)
	Queue      func(cfg *app.Config) (Queue, error)
	Ledger     func(ctx context.Context, cfg *app.Config) (Ledger, func(), error)
}

// NewRootCommand assembles the bizctl command tree.
func NewRootCommand(deps Deps) *cobra.Command {
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.LoadConfig == nil {
		deps.LoadConfig = app.LoadConfig
	}
	root := &cobra.Command{
		Use:           "bizctl",
		Short:         "Administration tool for the bizdesk ledger service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(deps.Out)
	root.AddCommand(
		newMigrateCommand(deps),
		newJobsCommand(deps),
		newReconcileCommand(deps),
		newSeedCommand(deps),
		newTokenCommand(deps),
	)
	return root
}
