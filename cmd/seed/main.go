// Seed tool for loading synthetic ledger activity into a Kestrel database.
//
// Usage:
//
//	go run cmd/seed/main.go -config config.yaml -accounts 20 -transfers 500
//
// The generated data is shaped so that every detection rule has something
// to fire on: a handful of very large transfers, one freshly reactivated
// dormant account, one account with a burst of outflows, and one asset
// whose supply sits almost entirely with its top holders.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stellarwatch/kestrel/internal/domain"
	"github.com/stellarwatch/kestrel/internal/repository"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	accounts := flag.Int("accounts", 20, "number of accounts to create")
	transfers := flag.Int("transfers", 500, "number of background transfers")
	seed := flag.Int64("seed", 42, "PRNG seed for reproducible data")
	flag.Parse()

	cfg := domain.DefaultConfig()
	if *configPath != "" {
		loaded, err := domain.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	store, err := repository.New(cfg.Repository)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	rng := rand.New(rand.NewSource(*seed))
	now := time.Now().UTC()

	addresses := make([]string, *accounts)
	for i := range addresses {
		addresses[i] = fmt.Sprintf("GSEED%051d", i)
	}

	// All seeded accounts go on one watchlist so the engine scans them.
	watchlistID, err := store.CreateWatchlist(ctx, "seed-demo", "synthetic accounts for local testing")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create watchlist: %v\n", err)
		os.Exit(1)
	}

	for i, addr := range addresses {
		firstSeen := now.AddDate(0, 0, -90)
		if err := store.UpsertAccount(ctx, &domain.Account{
			Address:   addr,
			Label:     fmt.Sprintf("seed-%d", i),
			FirstSeen: firstSeen,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "failed to upsert account %s: %v\n", addr, err)
			os.Exit(1)
		}
		if err := store.AddWatchlistMember(ctx, watchlistID, addr, "seeded"); err != nil {
			fmt.Fprintf(os.Stderr, "failed to add watchlist member: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("created %d accounts on watchlist %s\n", len(addresses), watchlistID)

	opSeq := 0
	save := func(from, to string, amount float64, at time.Time) {
		opSeq++
		t := &domain.Transfer{
			OpID:       fmt.Sprintf("seed-op-%06d", opSeq),
			TxHash:     fmt.Sprintf("seedtx%058d", opSeq),
			Ledger:     int64(1000000 + opSeq),
			From:       from,
			To:         to,
			Amount:     decimal.NewFromFloat(amount),
			CreatedAt:  at,
			Successful: true,
		}
		if err := store.SaveTransfer(ctx, t); err != nil {
			fmt.Fprintf(os.Stderr, "failed to save transfer: %v\n", err)
			os.Exit(1)
		}
	}

	// Background noise: small transfers spread over the past week.
	for i := 0; i < *transfers; i++ {
		from := addresses[rng.Intn(len(addresses))]
		to := addresses[rng.Intn(len(addresses))]
		if from == to {
			continue
		}
		at := now.Add(-time.Duration(rng.Intn(7*24*60)) * time.Minute)
		save(from, to, 10+rng.Float64()*500, at)
	}
	fmt.Printf("created background transfers\n")

	// Large transfers inside the lookback window.
	threshold := cfg.Engine.Rules.LargeTransfer.Threshold
	save(addresses[0], addresses[1], threshold*2, now.Add(-10*time.Minute))
	save(addresses[2], addresses[3], threshold*5, now.Add(-20*time.Minute))

	// Dormant reactivation: old activity, long gap, then a fresh outflow.
	dormant := addresses[4]
	gap := cfg.Engine.Rules.DormantReactivation.DormantDays + 10
	save(dormant, addresses[5], 200, now.AddDate(0, 0, -gap))
	save(dormant, addresses[6], cfg.Engine.Rules.DormantReactivation.Threshold*3, now.Add(-5*time.Minute))

	// Rapid outflow: a burst well above the configured count.
	burster := addresses[7]
	for i := 0; i < cfg.Engine.Rules.RapidOutflow.Count+5; i++ {
		to := addresses[8+i%(len(addresses)-8)]
		save(burster, to, 50+rng.Float64()*100, now.Add(-time.Duration(i)*time.Minute))
	}
	fmt.Printf("created rule trigger scenarios\n")

	// Concentrated asset: top holders own nearly all of the supply.
	asset := &domain.Asset{
		ID:     "SEEDCOIN:" + addresses[0],
		Code:   "SEEDCOIN",
		Issuer: addresses[0],
	}
	if err := store.UpsertAsset(ctx, asset); err != nil {
		fmt.Fprintf(os.Stderr, "failed to upsert asset: %v\n", err)
		os.Exit(1)
	}
	for i, addr := range addresses {
		balance := 10.0
		if i < 3 {
			balance = 100000
		}
		if err := store.UpsertHolding(ctx, &domain.Holding{
			Account:    addr,
			Asset:      asset.ID,
			Balance:    decimal.NewFromFloat(balance),
			SnapshotAt: now,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "failed to upsert holding: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("created asset %s with concentrated holdings\n", asset.ID)

	fmt.Println("done; run the engine with POST /engine/run?dry_run=true to preview findings")
}
