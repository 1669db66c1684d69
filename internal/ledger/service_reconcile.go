package ledger

import (
	"context"
	"fmt"
	"log/slog"
)

// ReconcileBalances compares every client's stored balances with the values
// derived from its invoices and receipts. With fix set, drifted balances are
// rewritten in the same transaction that read them.
func (s *Service) ReconcileBalances(ctx context.Context, fix bool) (*ReconcileReport, error) {
	report := &ReconcileReport{Fixed: fix}
	if !fix {
		snapshots, err := s.repo.BalanceSnapshots(ctx)
		if err != nil {
			return nil, fmt.Errorf("reconcile balances: %w", err)
		}
		report.ClientsChecked = len(snapshots)
		report.Drifts = drifts(snapshots)
		s.reportDrift(report)
		return report, nil
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		snapshots, err := tx.BalanceSnapshots(ctx)
		if err != nil {
			return err
		}
		report.ClientsChecked = len(snapshots)
		report.Drifts = drifts(snapshots)
		for _, d := range report.Drifts {
			if err := tx.SetClientBalance(ctx, d.ClientID, d.ExpectedRegularBalance, d.ExpectedPaidAmount); err != nil {
				return fmt.Errorf("client %d: %w", d.ClientID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile balances: %w", err)
	}
	s.reportDrift(report)
	if len(report.Drifts) > 0 {
		s.invalidate(ctx)
	}
	return report, nil
}

func (s *Service) reportDrift(report *ReconcileReport) {
	if s.metrics != nil {
		s.metrics.BalanceDrift(len(report.Drifts))
	}
	for _, d := range report.Drifts {
		s.logger.Warn("client balance drift",
			slog.Int64("client_id", d.ClientID),
			slog.String("stored_regular", d.StoredRegularBalance.StringFixed(2)),
			slog.String("expected_regular", d.ExpectedRegularBalance.StringFixed(2)),
			slog.String("stored_paid", d.StoredPaidAmount.StringFixed(2)),
			slog.String("expected_paid", d.ExpectedPaidAmount.StringFixed(2)),
			slog.Bool("fixed", report.Fixed))
	}
}

func drifts(snapshots []BalanceSnapshot) []BalanceDrift {
	out := make([]BalanceDrift, 0)
	for _, snap := range snapshots {
		if !snap.StoredRegularBalance.Equal(snap.ExpectedRegularBalance) || !snap.StoredPaidAmount.Equal(snap.ExpectedPaidAmount) {
			out = append(out, snap)
		}
	}
	return out
}
