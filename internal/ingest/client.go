// Package ingest pulls ledger activity from a Stellar Horizon server into
// the local store.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrAccountNotFound is returned when Horizon has no record of an account.
var ErrAccountNotFound = errors.New("account not found")

// Client is a minimal Horizon REST client covering the endpoints Kestrel
// ingests from: account details and the payments stream.
type Client struct {
	baseURL string
	http    *http.Client

	maxAttempts int
	retryWait   time.Duration
}

// NewClient creates a Horizon client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:     baseURL,
		http:        &http.Client{Timeout: 30 * time.Second},
		maxAttempts: 3,
		retryWait:   2 * time.Second,
	}
}

// AccountRecord is the subset of a Horizon account response Kestrel uses.
type AccountRecord struct {
	ID       string          `json:"id"`
	Sequence string          `json:"sequence"`
	Balances []BalanceRecord `json:"balances"`
}

// BalanceRecord is one entry of an account's balances array.
type BalanceRecord struct {
	Balance     string `json:"balance"`
	AssetType   string `json:"asset_type"`
	AssetCode   string `json:"asset_code"`
	AssetIssuer string `json:"asset_issuer"`
}

// PaymentRecord is the subset of a Horizon payment operation Kestrel uses.
// Horizon folds several operation types into the payments stream; create_account
// operations carry funder/account/starting_balance instead of from/to/amount.
type PaymentRecord struct {
	ID          string `json:"id"`
	PagingToken string `json:"paging_token"`
	Type        string `json:"type"`
	TxHash      string `json:"transaction_hash"`
	Successful  bool   `json:"transaction_successful"`
	CreatedAt   string `json:"created_at"`

	From        string `json:"from"`
	To          string `json:"to"`
	Amount      string `json:"amount"`
	AssetType   string `json:"asset_type"`
	AssetCode   string `json:"asset_code"`
	AssetIssuer string `json:"asset_issuer"`

	Funder          string `json:"funder"`
	Account         string `json:"account"`
	StartingBalance string `json:"starting_balance"`
}

type paymentsPage struct {
	Embedded struct {
		Records []PaymentRecord `json:"records"`
	} `json:"_embedded"`
}

// Account fetches account details including current balances.
func (c *Client) Account(ctx context.Context, address string) (*AccountRecord, error) {
	var record AccountRecord
	err := c.getJSON(ctx, "/accounts/"+url.PathEscape(address), nil, &record)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Payments fetches a page of payment operations after the cursor in ascending
// order. It returns the records and the cursor to resume from; with no new
// records the input cursor comes back unchanged.
func (c *Client) Payments(ctx context.Context, cursor string, limit int) ([]PaymentRecord, string, error) {
	params := url.Values{}
	params.Set("order", "asc")
	params.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	var page paymentsPage
	if err := c.getJSON(ctx, "/payments", params, &page); err != nil {
		return nil, cursor, err
	}

	records := page.Embedded.Records
	next := cursor
	if len(records) > 0 {
		next = records[len(records)-1].PagingToken
	}
	return records, next, nil
}

// getJSON performs a GET with retry on transport errors and 5xx responses.
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var lastErr error
	wait := c.retryWait

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			slog.Warn("horizon request retry",
				"path", path,
				"attempt", attempt,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			wait *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			err := json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			if err != nil {
				return fmt.Errorf("horizon %s: decode response: %w", path, err)
			}
			return nil

		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return ErrAccountNotFound

		case resp.StatusCode >= 500:
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("horizon %s: status %d", path, resp.StatusCode)
			continue

		default:
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return fmt.Errorf("horizon %s: status %d", path, resp.StatusCode)
		}
	}

	return fmt.Errorf("horizon %s: giving up after %d attempts: %w", path, c.maxAttempts, lastErr)
}
