package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stellarwatch/kestrel/internal/domain"
)

// paymentsStream is the cursor key for the global payments feed.
const paymentsStream = "payments"

// Store is the persistence surface ingestion writes through.
type Store interface {
	WatchedAccounts(ctx context.Context) ([]*domain.Account, error)
	UpsertAccount(ctx context.Context, acct *domain.Account) error
	UpsertAsset(ctx context.Context, asset *domain.Asset) error
	UpsertHolding(ctx context.Context, h *domain.Holding) error
	SaveTransfer(ctx context.Context, t *domain.Transfer) error
	Cursor(ctx context.Context, stream string) (string, error)
	SetCursor(ctx context.Context, stream, cursor string) error
}

// Service pulls ledger activity from Horizon into the store. Each cycle
// refreshes watched account balances and advances through the payments
// stream from the saved cursor, so restarts resume where they left off.
type Service struct {
	cfg    domain.IngestConfig
	client *Client
	store  Store
	bus    domain.EventBus
}

// NewService creates an ingestion service. The bus is optional; pass nil to
// disable event publication.
func NewService(cfg domain.IngestConfig, client *Client, store Store, bus domain.EventBus) *Service {
	return &Service{
		cfg:    cfg,
		client: client,
		store:  store,
		bus:    bus,
	}
}

// CycleSummary reports the outcome of one ingestion cycle.
type CycleSummary struct {
	StartedAt         time.Time `json:"startedAt"`
	DurationMs        int64     `json:"durationMs"`
	AccountsRefreshed int       `json:"accountsRefreshed"`
	AccountsFailed    int       `json:"accountsFailed"`
	HoldingsUpdated   int       `json:"holdingsUpdated"`
	TransfersIngested int       `json:"transfersIngested"`
	Cursor            string    `json:"cursor"`
}

// Run polls Horizon on the configured interval until ctx is cancelled. It
// blocks; call it from a goroutine.
func (s *Service) Run(ctx context.Context) {
	slog.Info("ingestion started",
		"horizon_url", s.cfg.HorizonURL,
		"interval", s.cfg.Interval().String(),
	)

	ticker := time.NewTicker(s.cfg.Interval())
	defer ticker.Stop()

	for {
		if _, err := s.Cycle(ctx); err != nil {
			slog.Error("ingestion cycle failed", "error", err)
		}

		select {
		case <-ctx.Done():
			slog.Info("ingestion stopped")
			return
		case <-ticker.C:
		}
	}
}

// Cycle performs one ingestion pass: refresh watched accounts, then pull
// new payments. Per-account failures are logged and skipped; a payments
// failure aborts the cycle so the cursor is not advanced past a gap.
func (s *Service) Cycle(ctx context.Context) (*CycleSummary, error) {
	started := time.Now().UTC()
	summary := &CycleSummary{StartedAt: started}

	accounts, err := s.store.WatchedAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load watched accounts: %w", err)
	}

	for _, acct := range accounts {
		updated, err := s.refreshAccount(ctx, acct.Address)
		if err != nil {
			summary.AccountsFailed++
			slog.Error("failed to refresh account", "address", acct.Address, "error", err)
			continue
		}
		summary.AccountsRefreshed++
		summary.HoldingsUpdated += updated
	}

	ingested, cursor, err := s.ingestPayments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ingest payments: %w", err)
	}
	summary.TransfersIngested = ingested
	summary.Cursor = cursor

	summary.DurationMs = time.Since(started).Milliseconds()
	s.publishSummary(ctx, summary)

	slog.Info("ingestion cycle completed",
		"accounts_refreshed", summary.AccountsRefreshed,
		"accounts_failed", summary.AccountsFailed,
		"holdings_updated", summary.HoldingsUpdated,
		"transfers_ingested", summary.TransfersIngested,
		"duration_ms", summary.DurationMs,
	)

	return summary, nil
}

// refreshAccount fetches the account from Horizon and stores its balances.
// Returns the number of holdings written.
func (s *Service) refreshAccount(ctx context.Context, address string) (int, error) {
	record, err := s.client.Account(ctx, address)
	if errors.Is(err, ErrAccountNotFound) {
		// Unfunded or merged accounts stay in the store untouched.
		slog.Warn("watched account not on network", "address", address)
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	if err := s.store.UpsertAccount(ctx, &domain.Account{
		Address:  address,
		LastSeen: &now,
	}); err != nil {
		return 0, err
	}

	updated := 0
	for _, bal := range record.Balances {
		assetID := assetID(bal.AssetType, bal.AssetCode, bal.AssetIssuer)
		if assetID != "" {
			if err := s.store.UpsertAsset(ctx, &domain.Asset{
				ID:     assetID,
				Code:   bal.AssetCode,
				Issuer: bal.AssetIssuer,
			}); err != nil {
				return updated, err
			}
		}

		balance, err := decimal.NewFromString(bal.Balance)
		if err != nil {
			slog.Warn("skipping unparsable balance",
				"address", address,
				"asset", assetID,
				"balance", bal.Balance,
			)
			continue
		}

		holdingAsset := assetID
		if holdingAsset == "" {
			holdingAsset = domain.NativeAsset
		}
		if err := s.store.UpsertHolding(ctx, &domain.Holding{
			Account:    address,
			Asset:      holdingAsset,
			Balance:    balance,
			SnapshotAt: now,
		}); err != nil {
			return updated, err
		}
		updated++
	}

	return updated, nil
}

// ingestPayments walks the payments stream from the saved cursor and stores
// each record as a transfer. The cursor is saved only after a full page
// lands, so a crash replays at most one page of idempotent writes.
func (s *Service) ingestPayments(ctx context.Context) (int, string, error) {
	cursor, err := s.store.Cursor(ctx, paymentsStream)
	if err != nil {
		return 0, "", err
	}

	ingested := 0
	for {
		records, next, err := s.client.Payments(ctx, cursor, s.cfg.PageLimit)
		if err != nil {
			return ingested, cursor, err
		}
		if len(records) == 0 {
			return ingested, cursor, nil
		}

		for _, rec := range records {
			transfer, ok := toTransfer(rec)
			if !ok {
				continue
			}
			if err := s.store.SaveTransfer(ctx, transfer); err != nil {
				return ingested, cursor, err
			}
			ingested++
		}

		if err := s.store.SetCursor(ctx, paymentsStream, next); err != nil {
			return ingested, cursor, err
		}
		cursor = next

		if len(records) < s.cfg.PageLimit {
			return ingested, cursor, nil
		}
	}
}

// toTransfer maps a Horizon payment record to a transfer. Operation types
// without a monetary movement between two accounts are skipped.
func toTransfer(rec PaymentRecord) (*domain.Transfer, bool) {
	var from, to, amount string

	switch rec.Type {
	case "payment", "path_payment_strict_send", "path_payment_strict_receive":
		from, to, amount = rec.From, rec.To, rec.Amount
	case "create_account":
		from, to, amount = rec.Funder, rec.Account, rec.StartingBalance
	default:
		return nil, false
	}

	if from == "" || to == "" {
		return nil, false
	}

	value, err := decimal.NewFromString(amount)
	if err != nil {
		slog.Warn("skipping payment with unparsable amount", "op_id", rec.ID, "amount", amount)
		return nil, false
	}

	createdAt, err := time.Parse(time.RFC3339, rec.CreatedAt)
	if err != nil {
		slog.Warn("skipping payment with unparsable timestamp", "op_id", rec.ID, "created_at", rec.CreatedAt)
		return nil, false
	}

	return &domain.Transfer{
		OpID:       rec.ID,
		TxHash:     rec.TxHash,
		From:       from,
		To:         to,
		Asset:      assetID(rec.AssetType, rec.AssetCode, rec.AssetIssuer),
		Amount:     value,
		CreatedAt:  createdAt.UTC(),
		Successful: rec.Successful,
	}, true
}

// assetID builds the "CODE:ISSUER" identifier, or "" for the native asset.
func assetID(assetType, code, issuer string) string {
	if assetType == "native" || assetType == "" {
		return ""
	}
	return code + ":" + issuer
}

func (s *Service) publishSummary(ctx context.Context, summary *CycleSummary) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		slog.Error("failed to marshal ingest summary", "error", err)
		return
	}
	if err := s.bus.Publish(ctx, domain.TopicIngestCompleted, payload); err != nil {
		slog.Error("failed to publish ingest summary", "error", err)
	}
}
