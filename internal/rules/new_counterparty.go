package rules

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stellarwatch/kestrel/internal/domain"
)

// NewCounterparty fires when a watched account moves more than the threshold
// with a counterparty it has no prior history with. "First" is decided
// against the full historical transfer set, not the lookback window: a
// counterparty seen once, long ago, is not new.
type NewCounterparty struct {
	cfg domain.NewCounterpartyConfig
}

// NewNewCounterparty creates the rule from its configuration.
func NewNewCounterparty(cfg domain.NewCounterpartyConfig) *NewCounterparty {
	return &NewCounterparty{cfg: cfg}
}

func (r *NewCounterparty) Name() string { return NameNewCounterparty }

// Evaluate scans transfers in both directions within the lookback window and
// checks each counterparty against the account's full history. At most one
// record is produced per (counterparty, direction) pair per pass.
func (r *NewCounterparty) Evaluate(ctx context.Context, data domain.DataPort, now time.Time) ([]*domain.EvidenceRecord, error) {
	watched, err := data.WatchedAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("new_counterparty: watched accounts: %w", err)
	}

	threshold := decimal.NewFromFloat(r.cfg.Threshold)
	since := now.Add(-time.Duration(r.cfg.LookbackMinutes) * time.Minute)

	var results []*domain.EvidenceRecord
	for _, acct := range watched {
		transfers, err := data.TransfersByAccount(ctx, acct.Address, domain.DirectionAny, since)
		if err != nil {
			return nil, fmt.Errorf("new_counterparty: transfers for %s: %w", acct.Address, err)
		}

		seen := make(map[string]bool)
		for _, t := range transfers {
			if !t.Amount.GreaterThan(threshold) {
				continue
			}

			direction := domain.DirectionIn
			counterparty := t.From
			if t.From == acct.Address {
				direction = domain.DirectionOut
				counterparty = t.To
			}
			if counterparty == "" || counterparty == acct.Address {
				continue
			}

			pairKey := counterparty + "|" + string(direction)
			if seen[pairKey] {
				continue
			}

			first, err := data.FirstTransferBetween(ctx, acct.Address, counterparty)
			if err != nil {
				return nil, fmt.Errorf("new_counterparty: history for %s/%s: %w", acct.Address, counterparty, err)
			}
			// Any history strictly before this transfer means the
			// counterparty is not new.
			if first != nil && first.Before(t.CreatedAt) {
				continue
			}
			seen[pairKey] = true

			results = append(results, &domain.EvidenceRecord{
				RuleName: r.Name(),
				Fired:    true,
				Severity: r.cfg.Severity,
				Kind:     domain.KindAlert,
				Account:  acct.Address,
				Asset:    t.Asset,
				Evidence: map[string]any{
					"watched_account":      acct.Address,
					"counterparty_account": counterparty,
					"direction":            string(direction),
					"amount":               t.Amount.String(),
					"threshold":            threshold.String(),
					"asset_code":           t.AssetCode(),
					"transaction_hash":     t.TxHash,
					"first_seen":           t.CreatedAt.UTC().Format(time.RFC3339),
				},
				Message:        fmt.Sprintf("New counterparty %s with large %s transfer of %s %s", counterparty, direction, t.Amount, t.AssetCode()),
				Discriminators: []string{counterparty, string(direction)},
			})

			slog.Warn("new counterparty detected",
				"account", acct.Address,
				"counterparty", counterparty,
				"direction", string(direction),
				"amount", t.Amount.String(),
			)
		}
	}

	return results, nil
}
