//go:build integration
// +build integration

// Package integration exercises the full detection pipeline against a real
// SQLite store:
//
//	seed ledger state → engine pass → persisted alerts/flags → dedup on rerun
//
// Run with: go test -tags=integration -v ./tests/integration/...
package integration

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stellarwatch/kestrel/internal/domain"
	"github.com/stellarwatch/kestrel/internal/engine"
	"github.com/stellarwatch/kestrel/internal/repository"
	"github.com/stellarwatch/kestrel/internal/rules"
)

type fixture struct {
	store *repository.Store
	cfg   domain.EngineConfig
	now   time.Time
}

func setup(t *testing.T) *fixture {
	t.Helper()

	store, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kestrel.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return &fixture{
		store: store,
		cfg:   domain.DefaultConfig().Engine,
		now:   time.Now().UTC().Truncate(time.Second),
	}
}

func (f *fixture) watch(t *testing.T, addresses ...string) {
	t.Helper()
	ctx := context.Background()

	id, err := f.store.CreateWatchlist(ctx, "integration", "")
	if err != nil {
		t.Fatalf("failed to create watchlist: %v", err)
	}
	for _, addr := range addresses {
		if err := f.store.UpsertAccount(ctx, &domain.Account{Address: addr, FirstSeen: f.now.AddDate(0, -3, 0)}); err != nil {
			t.Fatalf("failed to upsert account: %v", err)
		}
		if err := f.store.AddWatchlistMember(ctx, id, addr, "test"); err != nil {
			t.Fatalf("failed to add member: %v", err)
		}
	}
}

func (f *fixture) transfer(t *testing.T, opID, from, to string, amount float64, at time.Time) {
	t.Helper()
	err := f.store.SaveTransfer(context.Background(), &domain.Transfer{
		OpID:       opID,
		TxHash:     "tx-" + opID,
		Ledger:     1,
		From:       from,
		To:         to,
		Amount:     decimal.NewFromFloat(amount),
		CreatedAt:  at,
		Successful: true,
	})
	if err != nil {
		t.Fatalf("failed to save transfer %s: %v", opID, err)
	}
}

func TestLargeTransferEndToEnd(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.watch(t, "GWATCH")
	f.transfer(t, "big-1", "GWATCH", "GDEST", 25000, f.now.Add(-10*time.Minute))
	f.transfer(t, "small-1", "GWATCH", "GDEST", 50, f.now.Add(-15*time.Minute))

	eng := engine.New(f.cfg, f.store, f.store, nil)
	summary := eng.Run(ctx)

	if summary.AlertsCreated != 1 {
		t.Fatalf("expected 1 alert, got %d (summary: %s)", summary.AlertsCreated, summary)
	}

	alerts, err := f.store.ListAlerts(ctx, rules.NameLargeTransfer, 10)
	if err != nil {
		t.Fatalf("failed to list alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected 1 persisted alert, got %d", len(alerts))
	}

	alert := alerts[0]
	if alert.Account != "GWATCH" {
		t.Errorf("unexpected account: %s", alert.Account)
	}
	if alert.Severity != domain.SeverityMedium {
		t.Errorf("unexpected severity: %s", alert.Severity)
	}
	if alert.Payload["transaction_hash"] != "tx-big-1" {
		t.Errorf("unexpected evidence: %v", alert.Payload["transaction_hash"])
	}
	if alert.DedupKey == "" {
		t.Error("expected dedup key on persisted alert")
	}

	// Second pass over the same data creates nothing new.
	rerun := eng.Run(ctx)
	if rerun.AlertsCreated != 0 {
		t.Errorf("expected no alerts on rerun, got %d", rerun.AlertsCreated)
	}
	if rerun.DuplicatesSkipped != 1 {
		t.Errorf("expected 1 duplicate skipped on rerun, got %d", rerun.DuplicatesSkipped)
	}
}

func TestDormantReactivationEndToEnd(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.watch(t, "GDORM")
	// Old activity, then a 60 day gap before a large outflow.
	reactivation := f.now.Add(-5 * time.Minute)
	f.transfer(t, "old-1", "GDORM", "GPEER", 100, reactivation.AddDate(0, 0, -60))
	f.transfer(t, "wake-1", "GDORM", "GDEST", 5000, reactivation)

	eng := engine.New(f.cfg, f.store, f.store, nil)
	summary := eng.Run(ctx)

	if summary.FlagsCreated != 1 {
		t.Fatalf("expected 1 flag, got %d (summary: %s)", summary.FlagsCreated, summary)
	}

	flags, err := f.store.ListFlags(ctx, "GDORM", 10)
	if err != nil {
		t.Fatalf("failed to list flags: %v", err)
	}
	if len(flags) != 1 {
		t.Fatalf("expected 1 persisted flag, got %d", len(flags))
	}
	if flags[0].FlagType != rules.NameDormantReactivation {
		t.Errorf("unexpected flag type: %s", flags[0].FlagType)
	}

	// The flag raises the account's risk score by the high severity delta.
	acct, err := f.store.GetAccount(ctx, "GDORM")
	if err != nil {
		t.Fatalf("failed to get account: %v", err)
	}
	if acct.RiskScore != domain.SeverityHigh.RiskDelta() {
		t.Errorf("expected risk score %v, got %v", domain.SeverityHigh.RiskDelta(), acct.RiskScore)
	}

	// Rerun neither re-flags nor re-applies the delta.
	eng.Run(ctx)
	acct, _ = f.store.GetAccount(ctx, "GDORM")
	if acct.RiskScore != domain.SeverityHigh.RiskDelta() {
		t.Errorf("expected risk score unchanged after rerun, got %v", acct.RiskScore)
	}
}

func TestRapidOutflowEndToEnd(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.watch(t, "GBURST")
	for i := 0; i < 12; i++ {
		f.transfer(t, fmt.Sprintf("burst-%d", i), "GBURST", fmt.Sprintf("GDEST%d", i%4), 75, f.now.Add(-time.Duration(i+1)*time.Minute))
	}

	eng := engine.New(f.cfg, f.store, f.store, nil)
	summary := eng.Run(ctx)

	alerts, err := f.store.ListAlerts(ctx, rules.NameRapidOutflow, 10)
	if err != nil {
		t.Fatalf("failed to list alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected 1 rapid outflow alert, got %d (summary: %s)", len(alerts), summary)
	}
	if alerts[0].Payload["operation_count"] != float64(12) {
		t.Errorf("unexpected operation count: %v", alerts[0].Payload["operation_count"])
	}
}

func TestAssetConcentrationEndToEnd(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	asset := "HOARD:GISSUER"
	if err := f.store.UpsertAsset(ctx, &domain.Asset{ID: asset, Code: "HOARD", Issuer: "GISSUER"}); err != nil {
		t.Fatalf("failed to upsert asset: %v", err)
	}
	// Top holders control 90% of supply.
	balances := map[string]float64{
		"GWHALE1": 500, "GWHALE2": 400, "GMINNOW1": 50, "GMINNOW2": 50,
	}
	for account, balance := range balances {
		err := f.store.UpsertHolding(ctx, &domain.Holding{
			Account:    account,
			Asset:      asset,
			Balance:    decimal.NewFromFloat(balance),
			SnapshotAt: f.now,
		})
		if err != nil {
			t.Fatalf("failed to upsert holding: %v", err)
		}
	}

	eng := engine.New(f.cfg, f.store, f.store, nil)
	eng.Run(ctx)

	alerts, err := f.store.ListAlerts(ctx, rules.NameAssetConcentration, 10)
	if err != nil {
		t.Fatalf("failed to list alerts: %v", err)
	}
	// Default top_n is 10, so all four holders count: 100% concentration.
	if len(alerts) != 1 {
		t.Fatalf("expected 1 concentration alert, got %d", len(alerts))
	}
	if alerts[0].Asset != asset {
		t.Errorf("unexpected asset: %s", alerts[0].Asset)
	}
}

func TestDryRunLeavesStoreUntouched(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.watch(t, "GWATCH")
	// Fires both large_transfer and new_counterparty: no prior history with
	// GDEST exists.
	f.transfer(t, "big-1", "GWATCH", "GDEST", 25000, f.now.Add(-10*time.Minute))

	eng := engine.New(f.cfg, f.store, f.store, nil)
	preview := eng.RunMode(ctx, true)

	if preview.AlertsCreated != 2 {
		t.Fatalf("expected 2 would-be alerts counted, got %d", preview.AlertsCreated)
	}

	alerts, err := f.store.ListAlerts(ctx, "", 10)
	if err != nil {
		t.Fatalf("failed to list alerts: %v", err)
	}
	if len(alerts) != 0 {
		t.Fatalf("expected no persisted alerts after dry run, got %d", len(alerts))
	}

	// A real pass afterwards still fires: the dry run consumed nothing.
	real := eng.RunMode(ctx, false)
	if real.AlertsCreated != 2 {
		t.Errorf("expected 2 alerts after dry run preview, got %d", real.AlertsCreated)
	}
}

func TestMultipleRulesOnePass(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.watch(t, "GWATCH", "GDORM")
	// Large transfer for GWATCH.
	f.transfer(t, "big-1", "GWATCH", "GDEST", 25000, f.now.Add(-10*time.Minute))
	// Dormant reactivation for GDORM.
	reactivation := f.now.Add(-5 * time.Minute)
	f.transfer(t, "old-1", "GDORM", "GPEER", 100, reactivation.AddDate(0, 0, -90))
	f.transfer(t, "wake-1", "GDORM", "GDEST", 5000, reactivation)

	eng := engine.New(f.cfg, f.store, f.store, nil)
	summary := eng.Run(ctx)

	if summary.AlertsCreated < 1 {
		t.Errorf("expected at least 1 alert, got %d", summary.AlertsCreated)
	}
	if summary.FlagsCreated != 1 {
		t.Errorf("expected 1 flag, got %d", summary.FlagsCreated)
	}
	if summary.Failures != 0 {
		t.Errorf("expected no failures, got %d (summary: %s)", summary.Failures, summary)
	}
	if summary.RulesEvaluated != 5 {
		t.Errorf("expected all 5 rules evaluated, got %d", summary.RulesEvaluated)
	}
}
