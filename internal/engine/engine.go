// Package engine orchestrates rule evaluation, deduplication, and alert and
// flag creation.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/stellarwatch/kestrel/internal/domain"
	"github.com/stellarwatch/kestrel/internal/rules"
)

// Engine runs the enabled rule set over the ingested ledger state and turns
// fired evidence into deduplicated alerts and flags.
//
// A single Engine must not have overlapping runs against the same dedup
// window; Run serializes itself, and the Scheduler additionally skips ticks
// while a run is in flight.
type Engine struct {
	cfg   domain.EngineConfig
	data  domain.DataPort
	sink  domain.SinkPort
	dedup *DedupStore
	bus   domain.EventBus
	rules []rules.Rule

	maxWorkers int

	runMu sync.Mutex
}

// New creates an engine with the closed rule set built from cfg. The bus is
// optional; pass nil to disable event publication.
func New(cfg domain.EngineConfig, data domain.DataPort, sink domain.SinkPort, bus domain.EventBus) *Engine {
	return &Engine{
		cfg:        cfg,
		data:       data,
		sink:       sink,
		dedup:      NewDedupStore(sink),
		bus:        bus,
		rules:      rules.Build(cfg),
		maxWorkers: 5,
	}
}

// RulesCount returns the number of enabled rules.
func (e *Engine) RulesCount() int {
	return len(e.rules)
}

// DryRunConfigured reports whether the engine is configured to dry-run.
func (e *Engine) DryRunConfigured() bool {
	return e.cfg.DryRun
}

// Summary reports the outcome of one engine pass.
type Summary struct {
	RunID             string        `json:"runId"`
	Enabled           bool          `json:"enabled"`
	DryRun            bool          `json:"dryRun"`
	StartedAt         time.Time     `json:"startedAt"`
	DurationMs        int64         `json:"durationMs"`
	RulesEvaluated    int           `json:"rulesEvaluated"`
	RulesNotEvaluated int           `json:"rulesNotEvaluated"`
	TotalResults      int           `json:"totalResults"`
	FiredResults      int           `json:"firedResults"`
	AlertsCreated     int           `json:"alertsCreated"`
	FlagsCreated      int           `json:"flagsCreated"`
	DuplicatesSkipped int           `json:"duplicatesSkipped"`
	DedupErrors       int           `json:"dedupErrors"`
	Failures          int           `json:"failures"`
	RuleSummaries     []RuleSummary `json:"ruleSummaries"`
}

// RuleSummary reports one rule's outcome within a pass.
type RuleSummary struct {
	Rule      string `json:"rule"`
	Evaluated bool   `json:"evaluated"`
	Results   int    `json:"results"`
	Fired     int    `json:"fired"`
	Error     string `json:"error,omitempty"`
}

type ruleOutcome struct {
	name    string
	records []*domain.EvidenceRecord
	err     error
}

// Run executes one engine pass: evaluate all enabled rules, deduplicate the
// fired evidence, and persist alerts and flags (or log them in dry-run).
// Configuration is snapshotted at entry and immutable for the run.
func (e *Engine) Run(ctx context.Context) *Summary {
	return e.RunMode(ctx, e.cfg.DryRun)
}

// RunMode is Run with the dry-run decision made by the caller, for manual
// triggers that override the configured mode.
func (e *Engine) RunMode(ctx context.Context, dryRun bool) *Summary {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	cfg := e.cfg
	cfg.DryRun = dryRun
	now := time.Now().UTC()

	summary := &Summary{
		RunID:     uuid.New().String(),
		Enabled:   cfg.Enabled,
		DryRun:    cfg.DryRun,
		StartedAt: now,
	}

	if !cfg.Enabled {
		slog.Info("rule engine is disabled")
		return summary
	}

	slog.Info("starting rule engine pass",
		"run_id", summary.RunID,
		"dry_run", cfg.DryRun,
		"rules", len(e.rules),
	)

	runCtx := ctx
	if cfg.RunTimeoutSecs > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.RunTimeout())
		defer cancel()
	}

	// Rules are independent: evaluate them concurrently with read-only
	// queries against the data port.
	outcomes := make([]ruleOutcome, len(e.rules))
	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(e.maxWorkers)
	for i, rule := range e.rules {
		i, rule := i, rule
		g.Go(func() error {
			records, err := rule.Evaluate(gctx, e.data, now)
			outcomes[i] = ruleOutcome{name: rule.Name(), records: records, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var fired []*domain.EvidenceRecord
	for _, out := range outcomes {
		rs := RuleSummary{Rule: out.name}
		switch {
		case out.err == nil:
			summary.RulesEvaluated++
			rs.Evaluated = true
			rs.Results = len(out.records)
			summary.TotalResults += len(out.records)
			for _, rec := range out.records {
				if rec.Fired {
					rs.Fired++
					fired = append(fired, rec)
				}
			}
			summary.FiredResults += rs.Fired
		case errors.Is(out.err, context.DeadlineExceeded) || errors.Is(out.err, context.Canceled):
			// Aborted by the run timeout: visible as not evaluated, counted
			// toward neither fired results nor failures.
			summary.RulesNotEvaluated++
			rs.Error = "not evaluated: " + out.err.Error()
			slog.Warn("rule not evaluated", "rule", out.name, "error", out.err)
		default:
			summary.Failures++
			rs.Error = out.err.Error()
			slog.Error("rule evaluation failed", "rule", out.name, "error", out.err)
		}
		summary.RuleSummaries = append(summary.RuleSummaries, rs)
	}

	// Dedup-check-then-persist runs in a single writer section; the
	// serialized loop is what keeps same-key records from racing past the
	// existence check.
	since := now.Add(-cfg.DedupWindow())
	for _, rec := range fired {
		e.processRecord(ctx, cfg, rec, now, since, summary)
	}

	summary.DurationMs = time.Since(now).Milliseconds()
	e.publishSummary(ctx, summary)

	slog.Info("rule engine pass completed",
		"run_id", summary.RunID,
		"rules_evaluated", summary.RulesEvaluated,
		"fired_results", summary.FiredResults,
		"alerts_created", summary.AlertsCreated,
		"flags_created", summary.FlagsCreated,
		"duplicates_skipped", summary.DuplicatesSkipped,
		"failures", summary.Failures,
		"duration_ms", summary.DurationMs,
	)

	return summary
}

// processRecord deduplicates and persists a single fired evidence record.
func (e *Engine) processRecord(ctx context.Context, cfg domain.EngineConfig, rec *domain.EvidenceRecord, now, since time.Time, summary *Summary) {
	parts := append([]string{rec.Account, rec.Asset}, rec.Discriminators...)
	key := rules.DedupKey(rec.RuleName, parts...)

	exists, err := e.dedup.Exists(ctx, key, rec.Kind, since)
	if err != nil {
		// Conservative: assume duplicate rather than risk an alert storm
		// during a partial outage. Logged distinctly from a true duplicate.
		summary.DedupErrors++
		slog.Error("dedup check failed, suppressing record",
			"rule", rec.RuleName,
			"dedup_key", key,
			"error", err,
		)
		return
	}
	if exists {
		summary.DuplicatesSkipped++
		slog.Debug("skipping duplicate finding",
			"rule", rec.RuleName,
			"dedup_key", key,
		)
		return
	}

	if cfg.DryRun {
		// Counters move as if the record had been created; the record itself
		// goes to the log instead of storage.
		if rec.Kind == domain.KindFlag {
			summary.FlagsCreated++
		} else {
			summary.AlertsCreated++
		}
		slog.Info("[dry run] would create finding",
			"kind", string(rec.Kind),
			"rule", rec.RuleName,
			"severity", string(rec.Severity),
			"account", rec.Account,
			"asset", rec.Asset,
			"dedup_key", key,
			"evidence", rec.Evidence,
		)
		return
	}

	payload := make(map[string]any, len(rec.Evidence)+2)
	for k, v := range rec.Evidence {
		payload[k] = v
	}
	payload["dedup_key"] = key
	payload["rule_fired_at"] = now.Format(time.RFC3339)

	switch rec.Kind {
	case domain.KindFlag:
		flag := &domain.Flag{
			Account:  rec.Account,
			FlagType: rec.RuleName,
			Severity: rec.Severity,
			Reason:   rec.Message,
			DedupKey: key,
			Evidence: payload,
		}
		id, err := e.sink.CreateFlag(ctx, flag)
		if err != nil {
			slog.Error("failed to create flag", "rule", rec.RuleName, "account", rec.Account, "error", err)
			return
		}
		flag.ID = id
		summary.FlagsCreated++

		if delta := rec.Severity.RiskDelta(); delta > 0 && rec.Account != "" {
			if err := e.sink.ApplyRiskDelta(ctx, rec.Account, delta); err != nil {
				slog.Error("failed to apply risk delta", "account", rec.Account, "delta", delta, "error", err)
			}
		}

		slog.Info("flag created",
			"flag_id", id,
			"rule", rec.RuleName,
			"severity", string(rec.Severity),
			"account", rec.Account,
		)
		e.publish(ctx, domain.TopicFlagCreated, flag)

	default:
		alert := &domain.Alert{
			Account:   rec.Account,
			Asset:     rec.Asset,
			AlertType: rec.RuleName,
			Severity:  rec.Severity,
			DedupKey:  key,
			Payload:   payload,
		}
		id, err := e.sink.CreateAlert(ctx, alert)
		if err != nil {
			slog.Error("failed to create alert", "rule", rec.RuleName, "account", rec.Account, "error", err)
			return
		}
		alert.ID = id
		summary.AlertsCreated++

		slog.Info("alert created",
			"alert_id", id,
			"rule", rec.RuleName,
			"severity", string(rec.Severity),
			"account", rec.Account,
		)
		e.publish(ctx, domain.TopicAlertCreated, alert)
	}
}

func (e *Engine) publish(ctx context.Context, topic string, v any) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal event", "topic", topic, "error", err)
		return
	}
	if err := e.bus.Publish(ctx, topic, payload); err != nil {
		slog.Error("failed to publish event", "topic", topic, "error", err)
	}
}

func (e *Engine) publishSummary(ctx context.Context, summary *Summary) {
	e.publish(ctx, domain.TopicEngineSummary, summary)
}

// String implements fmt.Stringer for compact logging.
func (s *Summary) String() string {
	return fmt.Sprintf("run %s: evaluated=%d fired=%d alerts=%d flags=%d dupes=%d failures=%d",
		s.RunID, s.RulesEvaluated, s.FiredResults, s.AlertsCreated, s.FlagsCreated, s.DuplicatesSkipped, s.Failures)
}
