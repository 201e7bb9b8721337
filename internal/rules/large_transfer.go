package rules

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stellarwatch/kestrel/internal/domain"
)

// LargeTransfer fires once per outgoing transfer from a watched account
// whose amount strictly exceeds the configured threshold. The transaction
// hash is part of the dedup tuple, so re-running never re-fires for the same
// transfer even across runs.
type LargeTransfer struct {
	cfg domain.LargeTransferConfig
}

// NewLargeTransfer creates the rule from its configuration.
func NewLargeTransfer(cfg domain.LargeTransferConfig) *LargeTransfer {
	return &LargeTransfer{cfg: cfg}
}

func (r *LargeTransfer) Name() string { return NameLargeTransfer }

// Evaluate scans outgoing transfers in the lookback window for every watched
// account.
func (r *LargeTransfer) Evaluate(ctx context.Context, data domain.DataPort, now time.Time) ([]*domain.EvidenceRecord, error) {
	watched, err := data.WatchedAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("large_transfer: watched accounts: %w", err)
	}

	threshold := decimal.NewFromFloat(r.cfg.Threshold)
	since := now.Add(-time.Duration(r.cfg.LookbackMinutes) * time.Minute)

	var results []*domain.EvidenceRecord
	for _, acct := range watched {
		transfers, err := data.TransfersByAccount(ctx, acct.Address, domain.DirectionOut, since)
		if err != nil {
			return nil, fmt.Errorf("large_transfer: transfers for %s: %w", acct.Address, err)
		}

		for _, t := range transfers {
			if !t.Amount.GreaterThan(threshold) {
				continue
			}

			results = append(results, &domain.EvidenceRecord{
				RuleName: r.Name(),
				Fired:    true,
				Severity: r.cfg.Severity,
				Kind:     domain.KindAlert,
				Account:  acct.Address,
				Asset:    t.Asset,
				Evidence: map[string]any{
					"account_address":  acct.Address,
					"amount":           t.Amount.String(),
					"threshold":        threshold.String(),
					"asset_code":       t.AssetCode(),
					"transaction_hash": t.TxHash,
					"ledger":           t.Ledger,
					"operation_id":     t.OpID,
					"to_account":       t.To,
					"timestamp":        t.CreatedAt.UTC().Format(time.RFC3339),
				},
				Message:        fmt.Sprintf("Large transfer of %s %s from watched account %s", t.Amount, t.AssetCode(), acct.Address),
				Discriminators: []string{t.TxHash},
			})

			slog.Warn("large transfer detected",
				"account", acct.Address,
				"amount", t.Amount.String(),
				"threshold", threshold.String(),
			)
		}
	}

	return results, nil
}
