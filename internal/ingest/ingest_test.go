package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stellarwatch/kestrel/internal/domain"
)

// memStore is an in-memory ingest.Store.
type memStore struct {
	watched   []*domain.Account
	accounts  map[string]*domain.Account
	assets    map[string]*domain.Asset
	holdings  map[string]*domain.Holding
	transfers map[string]*domain.Transfer
	cursors   map[string]string
}

func newMemStore(watched ...string) *memStore {
	s := &memStore{
		accounts:  make(map[string]*domain.Account),
		assets:    make(map[string]*domain.Asset),
		holdings:  make(map[string]*domain.Holding),
		transfers: make(map[string]*domain.Transfer),
		cursors:   make(map[string]string),
	}
	for _, addr := range watched {
		s.watched = append(s.watched, &domain.Account{Address: addr})
	}
	return s
}

func (s *memStore) WatchedAccounts(ctx context.Context) ([]*domain.Account, error) {
	return s.watched, nil
}

func (s *memStore) UpsertAccount(ctx context.Context, acct *domain.Account) error {
	s.accounts[acct.Address] = acct
	return nil
}

func (s *memStore) UpsertAsset(ctx context.Context, asset *domain.Asset) error {
	s.assets[asset.ID] = asset
	return nil
}

func (s *memStore) UpsertHolding(ctx context.Context, h *domain.Holding) error {
	s.holdings[h.Account+"|"+h.Asset] = h
	return nil
}

func (s *memStore) SaveTransfer(ctx context.Context, t *domain.Transfer) error {
	s.transfers[t.OpID] = t
	return nil
}

func (s *memStore) Cursor(ctx context.Context, stream string) (string, error) {
	return s.cursors[stream], nil
}

func (s *memStore) SetCursor(ctx context.Context, stream, cursor string) error {
	s.cursors[stream] = cursor
	return nil
}

func accountResponse(address string) map[string]any {
	return map[string]any{
		"id":       address,
		"sequence": "12345",
		"balances": []map[string]any{
			{"balance": "1500.5000000", "asset_type": "native"},
			{"balance": "200.0000000", "asset_type": "credit_alphanum4", "asset_code": "USDC", "asset_issuer": "GISSUER"},
		},
	}
}

func paymentsResponse(records ...map[string]any) map[string]any {
	return map[string]any{
		"_embedded": map[string]any{"records": records},
	}
}

func payment(id, token, from, to, amount string) map[string]any {
	return map[string]any{
		"id":                     id,
		"paging_token":           token,
		"type":                   "payment",
		"transaction_hash":       "tx-" + id,
		"transaction_successful": true,
		"created_at":             "2024-06-01T12:00:00Z",
		"from":                   from,
		"to":                     to,
		"amount":                 amount,
		"asset_type":             "native",
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestClient(t *testing.T) {
	ctx := context.Background()

	t.Run("Account", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/accounts/GACCT" {
				http.NotFound(w, r)
				return
			}
			writeJSON(w, accountResponse("GACCT"))
		}))
		defer server.Close()

		client := NewClient(server.URL)
		record, err := client.Account(ctx, "GACCT")
		if err != nil {
			t.Fatalf("Account failed: %v", err)
		}
		if record.ID != "GACCT" {
			t.Errorf("unexpected account id: %s", record.ID)
		}
		if len(record.Balances) != 2 {
			t.Errorf("expected 2 balances, got %d", len(record.Balances))
		}
	})

	t.Run("AccountNotFound", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}))
		defer server.Close()

		client := NewClient(server.URL)
		_, err := client.Account(ctx, "GNOSUCH")
		if !errors.Is(err, ErrAccountNotFound) {
			t.Errorf("expected ErrAccountNotFound, got %v", err)
		}
	})

	t.Run("RetriesOn5xx", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			writeJSON(w, accountResponse("GACCT"))
		}))
		defer server.Close()

		client := NewClient(server.URL)
		client.retryWait = time.Millisecond

		record, err := client.Account(ctx, "GACCT")
		if err != nil {
			t.Fatalf("expected retry to succeed, got %v", err)
		}
		if record.ID != "GACCT" {
			t.Errorf("unexpected account id: %s", record.ID)
		}
		if calls.Load() != 3 {
			t.Errorf("expected 3 attempts, got %d", calls.Load())
		}
	})

	t.Run("GivesUpAfterMaxAttempts", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		client := NewClient(server.URL)
		client.retryWait = time.Millisecond

		_, err := client.Account(ctx, "GACCT")
		if err == nil {
			t.Fatal("expected error after exhausting retries")
		}
		if calls.Load() != 3 {
			t.Errorf("expected 3 attempts, got %d", calls.Load())
		}
	})

	t.Run("ClientErrorNotRetried", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		client := NewClient(server.URL)
		client.retryWait = time.Millisecond

		_, err := client.Account(ctx, "GACCT")
		if err == nil {
			t.Fatal("expected error for 400 response")
		}
		if calls.Load() != 1 {
			t.Errorf("expected 1 attempt for client error, got %d", calls.Load())
		}
	})

	t.Run("PaymentsCursorAdvances", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("cursor") == "" {
				writeJSON(w, paymentsResponse(
					payment("1", "token-1", "GA", "GB", "100"),
					payment("2", "token-2", "GB", "GC", "200"),
				))
				return
			}
			writeJSON(w, paymentsResponse())
		}))
		defer server.Close()

		client := NewClient(server.URL)

		records, next, err := client.Payments(ctx, "", 10)
		if err != nil {
			t.Fatalf("Payments failed: %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("expected 2 records, got %d", len(records))
		}
		if next != "token-2" {
			t.Errorf("expected cursor token-2, got %s", next)
		}

		// Empty page keeps the cursor
		records, next, err = client.Payments(ctx, next, 10)
		if err != nil {
			t.Fatalf("Payments failed: %v", err)
		}
		if len(records) != 0 {
			t.Errorf("expected no records, got %d", len(records))
		}
		if next != "token-2" {
			t.Errorf("expected unchanged cursor, got %s", next)
		}
	})
}

func TestServiceCycle(t *testing.T) {
	ctx := context.Background()

	t.Run("RefreshesAccountsAndIngestsPayments", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.URL.Path == "/accounts/GWATCH":
				writeJSON(w, accountResponse("GWATCH"))
			case r.URL.Path == "/payments":
				if r.URL.Query().Get("cursor") != "" {
					writeJSON(w, paymentsResponse())
					return
				}
				writeJSON(w, paymentsResponse(
					payment("op-1", "t-1", "GWATCH", "GDEST", "500"),
				))
			default:
				http.NotFound(w, r)
			}
		}))
		defer server.Close()

		store := newMemStore("GWATCH")
		cfg := domain.IngestConfig{Enabled: true, HorizonURL: server.URL, PageLimit: 10, IntervalSecs: 60}
		svc := NewService(cfg, NewClient(server.URL), store, nil)

		summary, err := svc.Cycle(ctx)
		if err != nil {
			t.Fatalf("Cycle failed: %v", err)
		}

		if summary.AccountsRefreshed != 1 {
			t.Errorf("expected 1 account refreshed, got %d", summary.AccountsRefreshed)
		}
		if summary.HoldingsUpdated != 2 {
			t.Errorf("expected 2 holdings updated, got %d", summary.HoldingsUpdated)
		}
		if summary.TransfersIngested != 1 {
			t.Errorf("expected 1 transfer ingested, got %d", summary.TransfersIngested)
		}
		if summary.Cursor != "t-1" {
			t.Errorf("expected cursor t-1, got %s", summary.Cursor)
		}

		// Native and USDC holdings both land, the native one under XLM.
		if _, ok := store.holdings["GWATCH|"+domain.NativeAsset]; !ok {
			t.Error("expected native holding stored")
		}
		if _, ok := store.holdings["GWATCH|USDC:GISSUER"]; !ok {
			t.Error("expected USDC holding stored")
		}
		if _, ok := store.assets["USDC:GISSUER"]; !ok {
			t.Error("expected USDC asset stored")
		}
		if store.cursors[paymentsStream] != "t-1" {
			t.Errorf("expected saved cursor t-1, got %s", store.cursors[paymentsStream])
		}
	})

	t.Run("UnfundedAccountSkipped", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/payments" {
				writeJSON(w, paymentsResponse())
				return
			}
			http.NotFound(w, r)
		}))
		defer server.Close()

		store := newMemStore("GUNFUNDED")
		cfg := domain.IngestConfig{HorizonURL: server.URL, PageLimit: 10}
		svc := NewService(cfg, NewClient(server.URL), store, nil)

		summary, err := svc.Cycle(ctx)
		if err != nil {
			t.Fatalf("Cycle failed: %v", err)
		}
		// Not on the network is not a failure
		if summary.AccountsFailed != 0 {
			t.Errorf("expected no failed accounts, got %d", summary.AccountsFailed)
		}
		if summary.HoldingsUpdated != 0 {
			t.Errorf("expected no holdings, got %d", summary.HoldingsUpdated)
		}
	})

	t.Run("PaymentsFailureKeepsCursor", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		store := newMemStore()
		store.cursors[paymentsStream] = "saved-cursor"

		client := NewClient(server.URL)
		client.retryWait = time.Millisecond
		cfg := domain.IngestConfig{HorizonURL: server.URL, PageLimit: 10}
		svc := NewService(cfg, client, store, nil)

		_, err := svc.Cycle(ctx)
		if err == nil {
			t.Fatal("expected cycle to fail")
		}
		if store.cursors[paymentsStream] != "saved-cursor" {
			t.Errorf("expected cursor untouched, got %s", store.cursors[paymentsStream])
		}
	})

	t.Run("PaginatesUntilShortPage", func(t *testing.T) {
		var pages atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch pages.Add(1) {
			case 1:
				writeJSON(w, paymentsResponse(
					payment("op-1", "t-1", "GA", "GB", "10"),
					payment("op-2", "t-2", "GB", "GC", "20"),
				))
			default:
				writeJSON(w, paymentsResponse(
					payment("op-3", "t-3", "GC", "GD", "30"),
				))
			}
		}))
		defer server.Close()

		store := newMemStore()
		cfg := domain.IngestConfig{HorizonURL: server.URL, PageLimit: 2}
		svc := NewService(cfg, NewClient(server.URL), store, nil)

		summary, err := svc.Cycle(ctx)
		if err != nil {
			t.Fatalf("Cycle failed: %v", err)
		}
		if summary.TransfersIngested != 3 {
			t.Errorf("expected 3 transfers across pages, got %d", summary.TransfersIngested)
		}
		if summary.Cursor != "t-3" {
			t.Errorf("expected cursor t-3, got %s", summary.Cursor)
		}
	})
}

func TestToTransfer(t *testing.T) {
	t.Run("Payment", func(t *testing.T) {
		rec := PaymentRecord{
			ID:         "op-1",
			Type:       "payment",
			TxHash:     "tx-1",
			Successful: true,
			CreatedAt:  "2024-06-01T12:00:00Z",
			From:       "GA",
			To:         "GB",
			Amount:     "123.45",
			AssetType:  "credit_alphanum4",
			AssetCode:  "USDC",
			AssetIssuer: "GISSUER",
		}

		transfer, ok := toTransfer(rec)
		if !ok {
			t.Fatal("expected conversion to succeed")
		}
		if transfer.Asset != "USDC:GISSUER" {
			t.Errorf("unexpected asset: %s", transfer.Asset)
		}
		if transfer.Amount.String() != "123.45" {
			t.Errorf("unexpected amount: %s", transfer.Amount)
		}
	})

	t.Run("CreateAccount", func(t *testing.T) {
		rec := PaymentRecord{
			ID:              "op-2",
			Type:            "create_account",
			TxHash:          "tx-2",
			Successful:      true,
			CreatedAt:       "2024-06-01T12:00:00Z",
			Funder:          "GFUNDER",
			Account:         "GNEWBORN",
			StartingBalance: "100",
		}

		transfer, ok := toTransfer(rec)
		if !ok {
			t.Fatal("expected conversion to succeed")
		}
		if transfer.From != "GFUNDER" || transfer.To != "GNEWBORN" {
			t.Errorf("unexpected endpoints: %s -> %s", transfer.From, transfer.To)
		}
		if transfer.Asset != "" {
			t.Errorf("expected native asset, got %s", transfer.Asset)
		}
	})

	t.Run("UnsupportedTypeSkipped", func(t *testing.T) {
		rec := PaymentRecord{ID: "op-3", Type: "account_merge", CreatedAt: "2024-06-01T12:00:00Z"}
		if _, ok := toTransfer(rec); ok {
			t.Error("expected account_merge to be skipped")
		}
	})

	t.Run("BadAmountSkipped", func(t *testing.T) {
		rec := PaymentRecord{
			ID: "op-4", Type: "payment", From: "GA", To: "GB",
			Amount: "not-a-number", CreatedAt: "2024-06-01T12:00:00Z",
		}
		if _, ok := toTransfer(rec); ok {
			t.Error("expected unparsable amount to be skipped")
		}
	})
}

func TestAssetID(t *testing.T) {
	cases := []struct {
		assetType, code, issuer, want string
	}{
		{"native", "", "", ""},
		{"", "", "", ""},
		{"credit_alphanum4", "USDC", "GISSUER", "USDC:GISSUER"},
		{"credit_alphanum12", "LONGASSET", "GOTHER", "LONGASSET:GOTHER"},
	}

	for _, tc := range cases {
		if got := assetID(tc.assetType, tc.code, tc.issuer); got != tc.want {
			t.Errorf("assetID(%q, %q, %q) = %q, want %q", tc.assetType, tc.code, tc.issuer, got, tc.want)
		}
	}
}
