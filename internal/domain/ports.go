package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// DataPort is the read-only query surface the rules consume. Implementations
// must be safe for concurrent use; rules never write through it.
type DataPort interface {
	// WatchedAccounts returns the union of all watchlist member accounts.
	WatchedAccounts(ctx context.Context) ([]*Account, error)

	// Assets returns every known non-native asset.
	Assets(ctx context.Context) ([]*Asset, error)

	// TransfersByAccount returns successful transfers involving the account
	// on the given side, created at or after since, newest first.
	TransfersByAccount(ctx context.Context, account string, dir Direction, since time.Time) ([]*Transfer, error)

	// FirstTransferBetween returns the timestamp of the earliest transfer in
	// either direction between the two accounts, or nil if none exists.
	FirstTransferBetween(ctx context.Context, a, b string) (*time.Time, error)

	// LastActivityBefore returns the timestamp of the account's most recent
	// transfer strictly before the given instant, or nil if none exists.
	LastActivityBefore(ctx context.Context, account string, before time.Time) (*time.Time, error)

	// TopHolders returns up to n holders of the asset ordered by balance
	// descending, ties broken by account address ascending.
	TopHolders(ctx context.Context, asset string, n int) ([]*Holding, error)

	// TotalSupply returns the sum of all current balances of the asset.
	TotalSupply(ctx context.Context, asset string) (decimal.Decimal, error)
}

// SinkPort is the write surface the engine uses to persist findings and
// apply risk-score side effects.
type SinkPort interface {
	CreateAlert(ctx context.Context, alert *Alert) (string, error)
	CreateFlag(ctx context.Context, flag *Flag) (string, error)

	// ApplyRiskDelta raises the account's risk score by delta, capped at 100.
	// The score is never decreased.
	ApplyRiskDelta(ctx context.Context, account string, delta float64) error

	// HasRecentAlert and HasRecentFlag report whether a record with the dedup
	// key was created at or after since.
	HasRecentAlert(ctx context.Context, dedupKey string, since time.Time) (bool, error)
	HasRecentFlag(ctx context.Context, dedupKey string, since time.Time) (bool, error)
}
