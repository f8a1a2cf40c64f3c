package admin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/malbeclabs/bonds/api/collector"
	"github.com/malbeclabs/bonds/api/store"
	"github.com/malbeclabs/bonds/pipeline/pkg/onchain"
)

type SyncConfig struct {
	RPC       onchain.SolanaRPC
	ProgramID solana.PublicKey
	Config    solana.PublicKey
}

// NewRPC returns a JSON-RPC client for SyncConfig.
func NewRPC(url string) onchain.SolanaRPC {
	return solanarpc.New(url)
}

// Sync stores one on-chain snapshot without running the API.
func Sync(ctx context.Context, log *slog.Logger, pool *pgxpool.Pool, cfg SyncConfig) error {
	st, err := store.NewStore(store.StoreConfig{Logger: log, Pool: pool, Config: cfg.Config})
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	fetcher, err := onchain.NewFetcher(onchain.FetcherConfig{
		Logger:    log,
		RPC:       cfg.RPC,
		ProgramID: cfg.ProgramID,
		Config:    cfg.Config,
	})
	if err != nil {
		return fmt.Errorf("failed to create fetcher: %w", err)
	}
	coll, err := collector.New(collector.Config{
		Logger:          log,
		Fetcher:         fetcher,
		Store:           st,
		RefreshInterval: time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to create collector: %w", err)
	}
	return coll.Refresh(ctx)
}
