package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stellarwatch/kestrel/internal/domain"
)

// UpsertAccount inserts an account or refreshes its label and last_seen.
// The stored risk score is never touched here; only ApplyRiskDelta moves it.
func (s *Store) UpsertAccount(ctx context.Context, acct *domain.Account) error {
	if acct.Address == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidInput)
	}

	firstSeen := acct.FirstSeen
	if firstSeen.IsZero() {
		firstSeen = time.Now().UTC()
	}

	query := `
		INSERT INTO accounts (address, label, risk_score, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			label = excluded.label,
			last_seen = excluded.last_seen
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		acct.Address, acct.Label, acct.RiskScore, firstSeen, acct.LastSeen,
	)
	return err
}

// UpsertAsset inserts an asset or refreshes its code and issuer.
func (s *Store) UpsertAsset(ctx context.Context, asset *domain.Asset) error {
	if asset.ID == "" {
		return fmt.Errorf("%w: asset id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO assets (id, code, issuer)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			issuer = excluded.issuer
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query), asset.ID, asset.Code, asset.Issuer)
	return err
}

// SaveTransfer stores a transfer. Re-ingesting an operation already stored is
// a no-op, which makes cursor replays safe.
func (s *Store) SaveTransfer(ctx context.Context, t *domain.Transfer) error {
	if t.OpID == "" {
		return fmt.Errorf("%w: op_id is required", ErrInvalidInput)
	}

	successful := 0
	if t.Successful {
		successful = 1
	}

	query := `
		INSERT INTO transfers (op_id, tx_hash, ledger, from_account, to_account, asset, amount, created_at, successful)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(op_id) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		t.OpID, t.TxHash, t.Ledger,
		t.From, t.To, t.Asset,
		t.Amount.String(), t.CreatedAt, successful,
	)
	return err
}

// UpsertHolding stores the latest balance snapshot for an (account, asset)
// pair, replacing any previous snapshot.
func (s *Store) UpsertHolding(ctx context.Context, h *domain.Holding) error {
	if h.Account == "" || h.Asset == "" {
		return fmt.Errorf("%w: account and asset are required", ErrInvalidInput)
	}

	snapshotAt := h.SnapshotAt
	if snapshotAt.IsZero() {
		snapshotAt = time.Now().UTC()
	}

	query := `
		INSERT INTO holdings (account, asset, balance, snapshot_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account, asset) DO UPDATE SET
			balance = excluded.balance,
			snapshot_at = excluded.snapshot_at
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		h.Account, h.Asset, h.Balance.String(), snapshotAt,
	)
	return err
}

// CreateWatchlist creates a named watchlist and returns its generated ID.
func (s *Store) CreateWatchlist(ctx context.Context, name, description string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidInput)
	}

	id := uuid.New().String()
	query := `INSERT INTO watchlists (id, name, description) VALUES (?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, s.rebind(query), id, name, description); err != nil {
		return "", err
	}
	return id, nil
}

// ListWatchlists returns all watchlists ordered by name.
func (s *Store) ListWatchlists(ctx context.Context) ([]*domain.Watchlist, error) {
	query := `SELECT id, name, description FROM watchlists ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lists []*domain.Watchlist
	for rows.Next() {
		var w domain.Watchlist
		var description sql.NullString
		if err := rows.Scan(&w.ID, &w.Name, &description); err != nil {
			return nil, err
		}
		w.Description = description.String
		lists = append(lists, &w)
	}

	return lists, rows.Err()
}

// AddWatchlistMember puts an account on a watchlist. Adding an existing
// member refreshes its reason.
func (s *Store) AddWatchlistMember(ctx context.Context, watchlistID, account, reason string) error {
	if watchlistID == "" || account == "" {
		return fmt.Errorf("%w: watchlist id and account are required", ErrInvalidInput)
	}

	query := `
		INSERT INTO watchlist_members (watchlist_id, account, reason, added_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(watchlist_id, account) DO UPDATE SET
			reason = excluded.reason
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query), watchlistID, account, reason, time.Now().UTC())
	return err
}

// RemoveWatchlistMember takes an account off a watchlist.
func (s *Store) RemoveWatchlistMember(ctx context.Context, watchlistID, account string) error {
	query := `DELETE FROM watchlist_members WHERE watchlist_id = ? AND account = ?`

	result, err := s.db.ExecContext(ctx, s.rebind(query), watchlistID, account)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// Cursor returns the saved ingestion cursor for a stream, or "" if the
// stream has never been ingested.
func (s *Store) Cursor(ctx context.Context, stream string) (string, error) {
	query := `SELECT cursor FROM ingestion_state WHERE stream = ?`

	var cursor string
	err := s.db.QueryRowContext(ctx, s.rebind(query), stream).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return cursor, nil
}

// SetCursor saves the ingestion cursor for a stream.
func (s *Store) SetCursor(ctx context.Context, stream, cursor string) error {
	if stream == "" {
		return fmt.Errorf("%w: stream is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO ingestion_state (stream, cursor, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(stream) DO UPDATE SET
			cursor = excluded.cursor,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query), stream, cursor, time.Now().UTC())
	return err
}
