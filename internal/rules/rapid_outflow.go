package rules

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stellarwatch/kestrel/internal/domain"
)

// RapidOutflow fires when a watched account makes at least the configured
// number of outgoing transfers within the sliding window ending now.
//
// The dedup tuple uses the window start truncated to the engine's evaluation
// interval, so overlapping windows across consecutive passes collapse into
// one finding while a genuinely new burst after the prior window re-fires.
// The bucket key can suppress a burst straddling a bucket boundary or fire
// twice for one spanning two buckets; that precision/recall trade-off is
// accepted.
type RapidOutflow struct {
	cfg      domain.RapidOutflowConfig
	interval time.Duration
}

// NewRapidOutflow creates the rule. interval is the engine's evaluation
// interval, used to bucket the dedup window start.
func NewRapidOutflow(cfg domain.RapidOutflowConfig, interval time.Duration) *RapidOutflow {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &RapidOutflow{cfg: cfg, interval: interval}
}

func (r *RapidOutflow) Name() string { return NameRapidOutflow }

// Evaluate counts outgoing transfers per watched account in the window and
// aggregates totals, distinct counterparties, and a per-asset breakdown.
func (r *RapidOutflow) Evaluate(ctx context.Context, data domain.DataPort, now time.Time) ([]*domain.EvidenceRecord, error) {
	watched, err := data.WatchedAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("rapid_outflow: watched accounts: %w", err)
	}

	window := time.Duration(r.cfg.WindowMinutes) * time.Minute
	windowStart := now.Add(-window)
	bucket := windowStart.Truncate(r.interval).UTC().Format(time.RFC3339)

	var results []*domain.EvidenceRecord
	for _, acct := range watched {
		transfers, err := data.TransfersByAccount(ctx, acct.Address, domain.DirectionOut, windowStart)
		if err != nil {
			return nil, fmt.Errorf("rapid_outflow: transfers for %s: %w", acct.Address, err)
		}

		if len(transfers) < r.cfg.Count {
			continue
		}

		total := decimal.Zero
		counterparties := make(map[string]bool)
		breakdown := make(map[string]map[string]any)
		for _, t := range transfers {
			total = total.Add(t.Amount)
			if t.To != "" {
				counterparties[t.To] = true
			}

			code := t.AssetCode()
			entry, ok := breakdown[code]
			if !ok {
				entry = map[string]any{"count": 0, "total_amount": decimal.Zero}
				breakdown[code] = entry
			}
			entry["count"] = entry["count"].(int) + 1
			entry["total_amount"] = entry["total_amount"].(decimal.Decimal).Add(t.Amount)
		}
		for _, entry := range breakdown {
			entry["total_amount"] = entry["total_amount"].(decimal.Decimal).String()
		}

		opsPerMinute := math.Round(float64(len(transfers))/float64(r.cfg.WindowMinutes)*100) / 100

		results = append(results, &domain.EvidenceRecord{
			RuleName: r.Name(),
			Fired:    true,
			Severity: r.cfg.Severity,
			Kind:     domain.KindAlert,
			Account:  acct.Address,
			Evidence: map[string]any{
				"account_address":       acct.Address,
				"operation_count":       len(transfers),
				"threshold":             r.cfg.Count,
				"time_window_minutes":   r.cfg.WindowMinutes,
				"total_amount":          total.String(),
				"unique_counterparties": len(counterparties),
				"asset_breakdown":       breakdown,
				"window_start":          windowStart.UTC().Format(time.RFC3339),
				"window_end":            now.UTC().Format(time.RFC3339),
				"operations_per_minute": opsPerMinute,
			},
			Message:        fmt.Sprintf("Rapid outflow burst detected: %d outgoing transfers in %d minutes from %s", len(transfers), r.cfg.WindowMinutes, acct.Address),
			Discriminators: []string{bucket},
		})

		slog.Warn("rapid outflow burst detected",
			"account", acct.Address,
			"operation_count", len(transfers),
			"window_minutes", r.cfg.WindowMinutes,
		)
	}

	return results, nil
}
