package rules

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stellarwatch/kestrel/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// AssetConcentration fires when the top-N holders of an asset control more
// than the configured percentage of its total supply. It iterates every
// known asset, independent of the watchlist.
//
// The dedup tuple includes the concentration percentage rounded to the
// nearest integer, so the alert re-fires only when concentration materially
// changes, not every pass at 85.01% versus 85.02%.
type AssetConcentration struct {
	cfg domain.AssetConcentrationConfig
}

// NewAssetConcentration creates the rule from its configuration.
func NewAssetConcentration(cfg domain.AssetConcentrationConfig) *AssetConcentration {
	return &AssetConcentration{cfg: cfg}
}

func (r *AssetConcentration) Name() string { return NameAssetConcentration }

// Evaluate ranks holders per asset and compares the top-N share against the
// threshold. A zero total supply never fires.
func (r *AssetConcentration) Evaluate(ctx context.Context, data domain.DataPort, now time.Time) ([]*domain.EvidenceRecord, error) {
	assets, err := data.Assets(ctx)
	if err != nil {
		return nil, fmt.Errorf("asset_concentration: assets: %w", err)
	}

	var results []*domain.EvidenceRecord
	for _, asset := range assets {
		supply, err := data.TotalSupply(ctx, asset.ID)
		if err != nil {
			return nil, fmt.Errorf("asset_concentration: supply for %s: %w", asset.ID, err)
		}
		if supply.IsZero() {
			continue
		}

		holders, err := data.TopHolders(ctx, asset.ID, r.cfg.TopN)
		if err != nil {
			return nil, fmt.Errorf("asset_concentration: holders for %s: %w", asset.ID, err)
		}
		if len(holders) == 0 {
			continue
		}

		topTotal := holders[0].Balance
		for _, h := range holders[1:] {
			topTotal = topTotal.Add(h.Balance)
		}

		pct, _ := topTotal.Div(supply).Mul(hundred).Float64()
		if pct <= r.cfg.Percent {
			continue
		}

		holderDetails := make([]map[string]any, 0, len(holders))
		for _, h := range holders {
			share, _ := h.Balance.Div(supply).Mul(hundred).Float64()
			holderDetails = append(holderDetails, map[string]any{
				"account_address": h.Account,
				"balance":         h.Balance.String(),
				"percentage":      math.Round(share*10000) / 10000,
			})
		}

		results = append(results, &domain.EvidenceRecord{
			RuleName: r.Name(),
			Fired:    true,
			Severity: r.cfg.Severity,
			Kind:     domain.KindAlert,
			Asset:    asset.ID,
			Evidence: map[string]any{
				"asset_code":            asset.Code,
				"asset_issuer":          asset.Issuer,
				"concentration_percent": math.Round(pct*100) / 100,
				"threshold_percent":     r.cfg.Percent,
				"total_supply":          supply.String(),
				"top_holders_total":     topTotal.String(),
				"holder_count":          len(holders),
				"top_holders":           holderDetails,
			},
			Message:        fmt.Sprintf("High asset concentration: top %d holders control %.2f%% of %s", len(holders), pct, asset.Code),
			Discriminators: []string{strconv.Itoa(int(math.Round(pct)))},
		})

		slog.Warn("asset concentration warning",
			"asset", asset.ID,
			"concentration_percent", pct,
		)
	}

	return results, nil
}
