package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/joho/godotenv"
	"github.com/malbeclabs/bonds/api/collector"
	"github.com/malbeclabs/bonds/api/config"
	"github.com/malbeclabs/bonds/api/metrics"
	"github.com/malbeclabs/bonds/api/server"
	"github.com/malbeclabs/bonds/api/store"
	"github.com/malbeclabs/bonds/pipeline/pkg/onchain"
	"github.com/malbeclabs/bonds/program/pkg/state"
	"github.com/malbeclabs/bonds/utils/pkg/logger"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr      = "0.0.0.0:8080"
	defaultRefreshInterval = time.Minute
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "Enable verbose (debug) logging")
	envFileFlag := flag.String("env-file", ".env", "Optional dotenv file loaded before reading environment variables")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "Address to listen on for HTTP requests")
	rpcURLFlag := flag.String("rpc-url", "", "Solana JSON-RPC URL (or set SOLANA_RPC_URL env var)")
	configFlag := flag.String("config", "", "Bonds config account (or set BONDS_CONFIG env var)")
	programIDFlag := flag.String("program-id", "", "Bonds program id (default the mainnet deployment)")
	refreshIntervalFlag := flag.Duration("refresh-interval", defaultRefreshInterval, "Interval between on-chain snapshots")
	allowedOriginsFlag := flag.StringSlice("allowed-origins", nil, "CORS allowed origins (default any)")
	migrateFlag := flag.Bool("pg-migrate", false, "Apply pending Postgres migrations before starting")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", 30*time.Second, "Maximum time to wait for in-flight requests during graceful shutdown")
	flag.Parse()

	if err := godotenv.Load(*envFileFlag); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", *envFileFlag, err)
	}
	if *rpcURLFlag == "" {
		*rpcURLFlag = os.Getenv("SOLANA_RPC_URL")
	}
	if *configFlag == "" {
		*configFlag = os.Getenv("BONDS_CONFIG")
	}
	if os.Getenv("POSTGRES_RUN_MIGRATIONS") == "true" {
		*migrateFlag = true
	}

	log := logger.New(*verboseFlag)
	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	if *rpcURLFlag == "" {
		return errors.New("--rpc-url is required")
	}
	configAddr, err := solana.PublicKeyFromBase58(*configFlag)
	if err != nil {
		return fmt.Errorf("invalid --config: %w", err)
	}
	programID := state.ProgramID
	if *programIDFlag != "" {
		if programID, err = solana.PublicKeyFromBase58(*programIDFlag); err != nil {
			return fmt.Errorf("invalid --program-id: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pgCfg, err := config.PgConfigFromEnv()
	if err != nil {
		return err
	}
	if *migrateFlag {
		if err := config.MigrateUp(ctx, log, pgCfg.ConnString()); err != nil {
			return err
		}
	}
	pool, err := config.OpenPostgres(ctx, log, pgCfg.ConnString())
	if err != nil {
		return err
	}
	defer pool.Close()

	st, err := store.NewStore(store.StoreConfig{Logger: log, Pool: pool, Config: configAddr})
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}

	fetcher, err := onchain.NewFetcher(onchain.FetcherConfig{
		Logger:    log,
		RPC:       solanarpc.New(*rpcURLFlag),
		ProgramID: programID,
		Config:    configAddr,
	})
	if err != nil {
		return fmt.Errorf("failed to create fetcher: %w", err)
	}

	coll, err := collector.New(collector.Config{
		Logger:          log,
		Fetcher:         fetcher,
		Store:           st,
		RefreshInterval: *refreshIntervalFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create collector: %w", err)
	}

	srv, err := server.New(server.Config{
		Logger:          log,
		ListenAddr:      *listenAddrFlag,
		ShutdownTimeout: *shutdownTimeoutFlag,
		VersionInfo:     server.VersionInfo{Version: version, Commit: commit, Date: date},
		AllowedOrigins:  *allowedOriginsFlag,
		Store:           st,
		Collector:       coll,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	log.Info("bonds-api: starting", "version", version, "config", configAddr.String(), "program_id", programID.String())

	g, gctx := errgroup.WithContext(ctx)
	coll.Start(gctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	return g.Wait()
}
