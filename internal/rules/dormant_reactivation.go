package rules

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stellarwatch/kestrel/internal/domain"
)

// DormantReactivation fires when a watched account that has been inactive
// for more than the dormancy threshold moves more than the amount threshold.
// It produces a flag rather than an alert: dormant reactivation is an
// account-level risk marker, not a transient notification.
type DormantReactivation struct {
	cfg domain.DormantReactivationConfig
}

// NewDormantReactivation creates the rule from its configuration.
func NewDormantReactivation(cfg domain.DormantReactivationConfig) *DormantReactivation {
	return &DormantReactivation{cfg: cfg}
}

func (r *DormantReactivation) Name() string { return NameDormantReactivation }

// Evaluate looks at recent outgoing transfers and measures the gap to the
// account's last activity strictly before each one.
func (r *DormantReactivation) Evaluate(ctx context.Context, data domain.DataPort, now time.Time) ([]*domain.EvidenceRecord, error) {
	watched, err := data.WatchedAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("dormant_reactivation: watched accounts: %w", err)
	}

	threshold := decimal.NewFromFloat(r.cfg.Threshold)
	since := now.Add(-time.Duration(r.cfg.LookbackMinutes) * time.Minute)

	var results []*domain.EvidenceRecord
	for _, acct := range watched {
		transfers, err := data.TransfersByAccount(ctx, acct.Address, domain.DirectionOut, since)
		if err != nil {
			return nil, fmt.Errorf("dormant_reactivation: transfers for %s: %w", acct.Address, err)
		}

		for _, t := range transfers {
			if !t.Amount.GreaterThan(threshold) {
				continue
			}

			last, err := data.LastActivityBefore(ctx, acct.Address, t.CreatedAt)
			if err != nil {
				return nil, fmt.Errorf("dormant_reactivation: last activity for %s: %w", acct.Address, err)
			}
			if last == nil {
				// No prior activity at all: a first-ever transfer is not a
				// reactivation.
				continue
			}

			dormantDays := int(t.CreatedAt.Sub(*last).Hours() / 24)
			if dormantDays <= r.cfg.DormantDays {
				continue
			}

			results = append(results, &domain.EvidenceRecord{
				RuleName: r.Name(),
				Fired:    true,
				Severity: r.cfg.Severity,
				Kind:     domain.KindFlag,
				Account:  acct.Address,
				Asset:    t.Asset,
				Evidence: map[string]any{
					"account_address":       acct.Address,
					"dormant_days_actual":   dormantDays,
					"dormant_days_threshold": r.cfg.DormantDays,
					"last_activity":         last.UTC().Format(time.RFC3339),
					"reactivation_time":     t.CreatedAt.UTC().Format(time.RFC3339),
					"amount":                t.Amount.String(),
					"amount_threshold":      threshold.String(),
					"asset_code":            t.AssetCode(),
					"transaction_hash":      t.TxHash,
					"ledger":                t.Ledger,
				},
				Message:        fmt.Sprintf("Dormant account %s reactivated after %d days with transfer of %s %s", acct.Address, dormantDays, t.Amount, t.AssetCode()),
				Discriminators: []string{t.TxHash},
			})

			slog.Warn("dormant account reactivation detected",
				"account", acct.Address,
				"dormant_days", dormantDays,
				"amount", t.Amount.String(),
			)
		}
	}

	return results, nil
}
