package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newReconcileCommand(deps Deps) *cobra.Command {
	var fix bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare stored client balances with invoices and receipts",
		Long: `Recomputes each client's regular balance from open invoice balances and
its paid amount from receipts, and lists every client whose stored figures
differ. With --fix the stored balances are rewritten in one transaction.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if deps.Ledger == nil {
				return errors.New("ledger not configured")
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

			report, err := svc.ReconcileBalances(cmd.Context(), fix)
			if err != nil {
				return err
			}
			cmd.Printf("checked %d clients, %d with drift\n", report.ClientsChecked, len(report.Drifts))
			if len(report.Drifts) == 0 {
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CLIENT\tNAME\tREGULAR\tEXPECTED\tPAID\tEXPECTED")
			for _, d := range report.Drifts {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", d.ClientID, d.ClientName,
					d.StoredRegularBalance.StringFixed(2), d.ExpectedRegularBalance.StringFixed(2),
					d.StoredPaidAmount.StringFixed(2), d.ExpectedPaidAmount.StringFixed(2))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if report.Fixed {
				cmd.Println("balances corrected")
			} else {
				cmd.Println("run with --fix to correct them")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "rewrite drifted balances")
	return cmd
}
