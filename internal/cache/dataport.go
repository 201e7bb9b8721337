package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stellarwatch/kestrel/internal/domain"
)

// DataPort wraps a domain.DataPort and memoizes the queries that are hot
// during an engine pass. FirstTransferBetween is hit once per counterparty
// per rule pass and TotalSupply once per asset; both are stable enough to
// serve from cache for a few minutes. Everything else passes straight
// through, so rules always see fresh transfers.
type DataPort struct {
	domain.DataPort
	cache domain.Cache
	ttl   time.Duration
}

// NewDataPort creates a read-through decorator over the inner port.
func NewDataPort(inner domain.DataPort, c domain.Cache, ttl time.Duration) *DataPort {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &DataPort{DataPort: inner, cache: c, ttl: ttl}
}

type firstTransferEntry struct {
	Found bool      `json:"found"`
	At    time.Time `json:"at,omitempty"`
}

// FirstTransferBetween serves the earliest-transfer timestamp from cache
// when possible. Cache failures fall through to the inner port.
func (d *DataPort) FirstTransferBetween(ctx context.Context, a, b string) (*time.Time, error) {
	key := "first_transfer:" + a + ":" + b

	if raw, err := d.cache.Get(ctx, key); err == nil && raw != nil {
		var entry firstTransferEntry
		if err := json.Unmarshal(raw, &entry); err == nil {
			if !entry.Found {
				return nil, nil
			}
			at := entry.At
			return &at, nil
		}
	}

	ts, err := d.DataPort.FirstTransferBetween(ctx, a, b)
	if err != nil {
		return nil, err
	}

	entry := firstTransferEntry{Found: ts != nil}
	if ts != nil {
		entry.At = *ts
	}
	if raw, err := json.Marshal(entry); err == nil {
		if err := d.cache.Set(ctx, key, raw, d.ttl); err != nil {
			slog.Debug("cache set failed", "key", key, "error", err)
		}
	}

	return ts, nil
}

// TotalSupply serves the asset supply from cache when possible.
func (d *DataPort) TotalSupply(ctx context.Context, asset string) (decimal.Decimal, error) {
	key := "total_supply:" + asset

	if raw, err := d.cache.Get(ctx, key); err == nil && raw != nil {
		if supply, err := decimal.NewFromString(string(raw)); err == nil {
			return supply, nil
		}
	}

	supply, err := d.DataPort.TotalSupply(ctx, asset)
	if err != nil {
		return decimal.Zero, err
	}

	if err := d.cache.Set(ctx, key, []byte(supply.String()), d.ttl); err != nil {
		slog.Debug("cache set failed", "key", key, "error", err)
	}

	return supply, nil
}
