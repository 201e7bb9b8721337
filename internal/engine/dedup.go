package engine

import (
	"context"
	"time"

	"github.com/stellarwatch/kestrel/internal/domain"
)

// DedupStore answers "has an identical finding already been recorded within
// the window". It is an existence check against the sink's own persisted
// alerts and flags, keyed by the same digest that built the record's dedup
// key; no separate index structure is kept.
type DedupStore struct {
	sink domain.SinkPort
}

// NewDedupStore creates a dedup store over the sink.
func NewDedupStore(sink domain.SinkPort) *DedupStore {
	return &DedupStore{sink: sink}
}

// Exists reports whether a record of the given kind with the dedup key was
// created at or after since.
func (d *DedupStore) Exists(ctx context.Context, dedupKey string, kind domain.Kind, since time.Time) (bool, error) {
	if kind == domain.KindFlag {
		return d.sink.HasRecentFlag(ctx, dedupKey, since)
	}
	return d.sink.HasRecentAlert(ctx, dedupKey, since)
}
