package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/bizdesk/bizdesk/internal/ledger"
	"github.com/bizdesk/bizdesk/internal/shared"
)

// seedActor is recorded in audit logs for seeded rows.
var seedActor = &shared.Identity{UserID: "bizctl-seed", Role: shared.RoleAdmin}

func newSeedCommand(deps Deps) *cobra.Command {
	var clients int
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load demo clients, invoices, payments and quotations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if deps.Ledger == nil {
				return errors.New("ledger not configured")
			}
			if clients <= 0 || clients > 100 {
				return errors.New("--clients must be between 1 and 100")
			}
			cfg, err := deps.LoadConfig()
			if err != nil {
				return err
			}
			svc, closeFn, err := deps.Ledger(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx := cmd.Context()
			today := time.Now().UTC().Truncate(24 * time.Hour)
			for i := 1; i <= clients; i++ {
				client, err := svc.CreateClient(ctx, ledger.CreateClientRequest{
					Name:  fmt.Sprintf("Demo Client %d", i),
					Email: fmt.Sprintf("demo%d@example.com", i),
				}, seedActor)
				if err != nil {
					return fmt.Errorf("seed client %d: %w", i, err)
				}
				base := decimal.NewFromInt(int64(250 * i))
				inv, err := svc.CreateInvoice(ctx, ledger.CreateInvoiceRequest{
					ClientID:    client.ID,
					Description: "Monthly services",
					Items: []ledger.ItemInput{
						{Title: "Consulting", Price: base},
						{Title: "Support", Price: decimal.NewFromInt(100)},
					},
				}, seedActor)
				if err != nil {
					return fmt.Errorf("seed invoice for %s: %w", client.Name, err)
				}
				if i%2 == 1 {
					if _, err := svc.RecordPayment(ctx, ledger.RecordPaymentRequest{
						ClientID:      client.ID,
						InvoiceID:     inv.ID,
						Amount:        base,
						PaymentDate:   today,
						PaymentMethod: "bank transfer",
					}, seedActor); err != nil {
						return fmt.Errorf("seed payment for %s: %w", inv.InvoiceNumber, err)
					}
				}
				cmd.Printf("client %-16s invoice %s\n", client.Name, inv.InvoiceNumber)
			}

			q, err := svc.CreateQuotation(ctx, ledger.CreateQuotationRequest{
				ClientName:  "Prospect Ltd",
				ClientEmail: "hello@prospect.example.com",
				Title:       "Website rebuild",
				Items:       []ledger.ItemInput{{Title: "Discovery", Price: decimal.NewFromInt(1200)}},
			}, seedActor)
			if err != nil {
				return fmt.Errorf("seed quotation: %w", err)
			}
			if _, err := svc.SendQuotation(ctx, q.ID, seedActor); err != nil {
				return fmt.Errorf("send quotation %s: %w", q.QuotationNumber, err)
			}
			cmd.Printf("quotation %s sent to %s\n", q.QuotationNumber, q.Prospect.Name)
			return nil
		},
	}
	cmd.Flags().IntVar(&clients, "clients", 3, "number of demo clients")
	return cmd
}
