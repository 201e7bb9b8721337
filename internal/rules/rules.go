// Package rules implements the detection rules evaluated by the engine.
//
// The rule set is closed and known at startup: Build constructs the enabled
// rules from configuration into a fixed list. Rules are read-only over the
// data port and independent of each other; no rule may rely on another
// rule's side effects within the same pass.
package rules

import (
	"context"
	"time"

	"github.com/stellarwatch/kestrel/internal/domain"
)

// Rule is a single unit of detection logic.
type Rule interface {
	// Name returns the rule's stable identifier, used as alert/flag type and
	// as the first component of the dedup key.
	Name() string

	// Evaluate scans the data port and returns evidence for every event the
	// rule fired on. Evaluate must not write through the port.
	Evaluate(ctx context.Context, data domain.DataPort, now time.Time) ([]*domain.EvidenceRecord, error)
}

// Rule identifiers.
const (
	NameLargeTransfer       = "large_transfer"
	NameNewCounterparty     = "new_counterparty"
	NameDormantReactivation = "dormant_reactivation"
	NameRapidOutflow        = "rapid_outflow"
	NameAssetConcentration  = "asset_concentration"
)

// Build returns the enabled rules for the given engine configuration, in a
// fixed registration order. The order carries no semantic weight.
func Build(cfg domain.EngineConfig) []Rule {
	var out []Rule
	r := cfg.Rules

	if r.LargeTransfer.Enabled {
		out = append(out, NewLargeTransfer(r.LargeTransfer))
	}
	if r.NewCounterparty.Enabled {
		out = append(out, NewNewCounterparty(r.NewCounterparty))
	}
	if r.DormantReactivation.Enabled {
		out = append(out, NewDormantReactivation(r.DormantReactivation))
	}
	if r.RapidOutflow.Enabled {
		out = append(out, NewRapidOutflow(r.RapidOutflow, cfg.Interval()))
	}
	if r.AssetConcentration.Enabled {
		out = append(out, NewAssetConcentration(r.AssetConcentration))
	}
	return out
}
