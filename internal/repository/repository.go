// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stellarwatch/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Store implements domain.DataPort and domain.SinkPort using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type Store struct {
	db     *sql.DB
	driver string
}

// New creates a store based on configuration and runs migrations.
func New(cfg domain.RepositoryConfig) (*Store, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	store := &Store{
		db:     db,
		driver: cfg.Driver,
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// WatchedAccounts returns the union of all watchlist member accounts.
func (s *Store) WatchedAccounts(ctx context.Context) ([]*domain.Account, error) {
	query := `
		SELECT a.address, a.label, a.risk_score, a.first_seen, a.last_seen
		FROM accounts a
		WHERE a.address IN (SELECT DISTINCT account FROM watchlist_members)
		ORDER BY a.address
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}

	return accounts, rows.Err()
}

// GetAccount retrieves an account by address.
func (s *Store) GetAccount(ctx context.Context, address string) (*domain.Account, error) {
	if address == "" {
		return nil, fmt.Errorf("%w: address is required", ErrInvalidInput)
	}

	query := `
		SELECT address, label, risk_score, first_seen, last_seen
		FROM accounts
		WHERE address = ?
	`

	acct, err := scanAccount(s.db.QueryRowContext(ctx, s.rebind(query), address))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// Assets returns every known non-native asset.
func (s *Store) Assets(ctx context.Context) ([]*domain.Asset, error) {
	query := `SELECT id, code, issuer FROM assets ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []*domain.Asset
	for rows.Next() {
		var a domain.Asset
		var issuer sql.NullString
		if err := rows.Scan(&a.ID, &a.Code, &issuer); err != nil {
			return nil, err
		}
		a.Issuer = issuer.String
		assets = append(assets, &a)
	}

	return assets, rows.Err()
}

// TransfersByAccount returns successful transfers involving the account on the
// given side, created at or after since, newest first.
func (s *Store) TransfersByAccount(ctx context.Context, account string, dir domain.Direction, since time.Time) ([]*domain.Transfer, error) {
	if account == "" {
		return nil, fmt.Errorf("%w: account is required", ErrInvalidInput)
	}

	var where string
	args := []any{}
	switch dir {
	case domain.DirectionOut:
		where = `from_account = ?`
		args = append(args, account)
	case domain.DirectionIn:
		where = `to_account = ?`
		args = append(args, account)
	default:
		where = `(from_account = ? OR to_account = ?)`
		args = append(args, account, account)
	}
	args = append(args, since)

	query := `
		SELECT op_id, tx_hash, ledger, from_account, to_account, asset, amount, created_at, successful
		FROM transfers
		WHERE ` + where + `
		  AND created_at >= ?
		  AND successful = 1
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []*domain.Transfer
	for rows.Next() {
		var t domain.Transfer
		var amount string
		var successful int
		if err := rows.Scan(
			&t.OpID, &t.TxHash, &t.Ledger,
			&t.From, &t.To, &t.Asset,
			&amount, &t.CreatedAt, &successful,
		); err != nil {
			return nil, err
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("transfer %s: bad amount %q: %w", t.OpID, amount, err)
		}
		t.Successful = successful == 1
		transfers = append(transfers, &t)
	}

	return transfers, rows.Err()
}

// FirstTransferBetween returns the timestamp of the earliest transfer in
// either direction between the two accounts, or nil if none exists.
func (s *Store) FirstTransferBetween(ctx context.Context, a, b string) (*time.Time, error) {
	query := `
		SELECT created_at
		FROM transfers
		WHERE ((from_account = ? AND to_account = ?) OR (from_account = ? AND to_account = ?))
		  AND successful = 1
		ORDER BY created_at ASC
		LIMIT 1
	`

	var ts time.Time
	err := s.db.QueryRowContext(ctx, s.rebind(query), a, b, b, a).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

// LastActivityBefore returns the timestamp of the account's most recent
// transfer strictly before the given instant, or nil if none exists.
func (s *Store) LastActivityBefore(ctx context.Context, account string, before time.Time) (*time.Time, error) {
	query := `
		SELECT created_at
		FROM transfers
		WHERE (from_account = ? OR to_account = ?)
		  AND created_at < ?
		  AND successful = 1
		ORDER BY created_at DESC
		LIMIT 1
	`

	var ts time.Time
	err := s.db.QueryRowContext(ctx, s.rebind(query), account, account, before).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

// TopHolders returns up to n holders of the asset ordered by balance
// descending, ties broken by account address ascending. Ordering happens in
// Go with decimal comparison: on sqlite, high-precision balances keep the
// TEXT storage class and SQL ORDER BY ranks them above every numeric row.
func (s *Store) TopHolders(ctx context.Context, asset string, n int) ([]*domain.Holding, error) {
	if n <= 0 {
		return nil, nil
	}

	query := `
		SELECT account, asset, balance, snapshot_at
		FROM holdings
		WHERE asset = ?
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), asset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []*domain.Holding
	for rows.Next() {
		var h domain.Holding
		var balance string
		if err := rows.Scan(&h.Account, &h.Asset, &balance, &h.SnapshotAt); err != nil {
			return nil, err
		}
		if h.Balance, err = decimal.NewFromString(balance); err != nil {
			return nil, fmt.Errorf("holding %s/%s: bad balance %q: %w", h.Account, h.Asset, balance, err)
		}
		holdings = append(holdings, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(holdings, func(i, j int) bool {
		if c := holdings[i].Balance.Cmp(holdings[j].Balance); c != 0 {
			return c > 0
		}
		return holdings[i].Account < holdings[j].Account
	})
	if len(holdings) > n {
		holdings = holdings[:n]
	}
	return holdings, nil
}

// TotalSupply returns the sum of all current balances of the asset. Summed
// with decimal rather than SQL SUM, which coerces TEXT-stored balances
// through float64.
func (s *Store) TotalSupply(ctx context.Context, asset string) (decimal.Decimal, error) {
	query := `SELECT balance FROM holdings WHERE asset = ?`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), asset)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var balance string
		if err := rows.Scan(&balance); err != nil {
			return decimal.Zero, err
		}
		b, err := decimal.NewFromString(balance)
		if err != nil {
			return decimal.Zero, fmt.Errorf("asset %s: bad balance %q: %w", asset, balance, err)
		}
		total = total.Add(b)
	}
	return total, rows.Err()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var acct domain.Account
	var label sql.NullString
	var lastSeen sql.NullTime
	if err := row.Scan(&acct.Address, &label, &acct.RiskScore, &acct.FirstSeen, &lastSeen); err != nil {
		return nil, err
	}
	acct.Label = label.String
	if lastSeen.Valid {
		acct.LastSeen = &lastSeen.Time
	}
	return &acct, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
