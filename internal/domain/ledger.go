// Package domain defines the core types and interfaces for Kestrel.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// NativeAsset is the asset identifier used for native-currency transfers.
// Transfers store an empty asset reference for native movements; evidence
// payloads render it as this code.
const NativeAsset = "XLM"

// Account is a ledger account known to the ingestion subsystem.
// The engine reads accounts and, on flag creation, raises RiskScore.
type Account struct {
	Address   string     `json:"address"`
	Label     string     `json:"label,omitempty"`
	RiskScore float64    `json:"riskScore"` // 0-100, never decreased by the engine
	FirstSeen time.Time  `json:"firstSeen"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
}

// Asset identifies a non-native asset by code and issuer.
type Asset struct {
	ID     string `json:"id"` // "CODE:ISSUER"
	Code   string `json:"code"`
	Issuer string `json:"issuer,omitempty"`
}

// Direction selects which side of a transfer an account is on.
type Direction string

const (
	DirectionOut Direction = "outgoing"
	DirectionIn  Direction = "incoming"
	DirectionAny Direction = "any"
)

// Transfer is a directed monetary movement between two accounts.
type Transfer struct {
	OpID       string          `json:"opId"`
	TxHash     string          `json:"txHash"`
	Ledger     int64           `json:"ledger"`
	From       string          `json:"from"`
	To         string          `json:"to"`
	Asset      string          `json:"asset,omitempty"` // empty = native
	Amount     decimal.Decimal `json:"amount"`
	CreatedAt  time.Time       `json:"createdAt"`
	Successful bool            `json:"successful"`
}

// AssetCode returns the display code for the transfer's asset.
func (t *Transfer) AssetCode() string {
	if t.Asset == "" {
		return NativeAsset
	}
	return t.Asset
}

// Holding is a balance snapshot for an (account, asset) pair.
type Holding struct {
	Account    string          `json:"account"`
	Asset      string          `json:"asset"`
	Balance    decimal.Decimal `json:"balance"`
	SnapshotAt time.Time       `json:"snapshotAt"`
}

// Watchlist is a named set of accounts under surveillance.
type Watchlist struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// WatchlistMember records one account's membership with a reason.
type WatchlistMember struct {
	WatchlistID string    `json:"watchlistId"`
	Account     string    `json:"account"`
	Reason      string    `json:"reason,omitempty"`
	AddedAt     time.Time `json:"addedAt"`
}
