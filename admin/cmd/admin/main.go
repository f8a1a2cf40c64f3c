package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"github.com/malbeclabs/bonds/admin/internal/admin"
	"github.com/malbeclabs/bonds/api/config"
	"github.com/malbeclabs/bonds/program/pkg/state"
	"github.com/malbeclabs/bonds/utils/pkg/logger"
	flag "github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	envFileFlag := flag.String("env-file", ".env", "Optional dotenv file loaded before reading environment variables")

	// Solana configuration
	rpcURLFlag := flag.String("rpc-url", "", "Solana JSON-RPC URL (or set SOLANA_RPC_URL env var)")
	configFlag := flag.String("config", "", "Bonds config account (or set BONDS_CONFIG env var)")
	programIDFlag := flag.String("program-id", "", "Bonds program id (default the mainnet deployment)")

	// Commands
	pgMigrateFlag := flag.Bool("pg-migrate", false, "Run PostgreSQL migrations using goose")
	pgMigrateDownFlag := flag.Bool("pg-migrate-down", false, "Roll back the last PostgreSQL migration")
	pgMigrateStatusFlag := flag.Bool("pg-migrate-status", false, "Show PostgreSQL migration status")
	resetDBFlag := flag.Bool("reset-db", false, "Delete collected bonds, settlements and sync state")
	syncOnceFlag := flag.Bool("sync-once", false, "Fetch one on-chain snapshot into PostgreSQL and exit")
	dryRunFlag := flag.Bool("dry-run", false, "Dry run mode - show what would be done without actually executing")
	yesFlag := flag.Bool("yes", false, "Skip confirmation prompt (use with caution)")

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

	log := logger.New(*verboseFlag)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pgCfg, err := config.PgConfigFromEnv()
	if err != nil {
		return err
	}

	switch {
	case *pgMigrateFlag:
		return admin.PgMigrateUp(ctx, log, pgCfg)
	case *pgMigrateDownFlag:
		return admin.PgMigrateDown(ctx, log, pgCfg)
	case *pgMigrateStatusFlag:
		return admin.PgMigrateStatus(ctx, log, pgCfg)
	case *resetDBFlag:
		pool, err := config.OpenPostgres(ctx, log, pgCfg.ConnString())
		if err != nil {
			return err
		}
		defer pool.Close()
		return admin.ResetDB(ctx, log, pool, admin.ResetDBConfig{
			Config:      *configFlag,
			DryRun:      *dryRunFlag,
			SkipConfirm: *yesFlag,
			In:          os.Stdin,
			Out:         os.Stdout,
		})
	case *syncOnceFlag:
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
		pool, err := config.OpenPostgres(ctx, log, pgCfg.ConnString())
		if err != nil {
			return err
		}
		defer pool.Close()
		return admin.Sync(ctx, log, pool, admin.SyncConfig{
			RPC:       admin.NewRPC(*rpcURLFlag),
			ProgramID: programID,
			Config:    configAddr,
		})
	default:
		flag.Usage()
		return nil
	}
}
