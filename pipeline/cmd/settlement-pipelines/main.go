package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/joho/godotenv"
	"github.com/malbeclabs/bonds/engine/pkg/artifacts"
	"github.com/malbeclabs/bonds/engine/pkg/settlement"
	"github.com/malbeclabs/bonds/pipeline/internal/cli"
	"github.com/malbeclabs/bonds/pipeline/pkg/notify"
	"github.com/malbeclabs/bonds/pipeline/pkg/onchain"
	"github.com/malbeclabs/bonds/pipeline/pkg/settlements"
	"github.com/malbeclabs/bonds/program/pkg/bonds"
	"github.com/malbeclabs/bonds/program/pkg/ledger"
	"github.com/malbeclabs/bonds/program/pkg/state"
	"github.com/malbeclabs/bonds/utils/pkg/logger"
	flag "github.com/spf13/pflag"
)

const usage = `usage: settlement-pipelines <command> [flags]

commands:
  verify    check the on-chain settlements of an epoch against its merkle tree collection
  simulate  replay init, fund, claim and close of a merkle tree collection on a copy of chain state
`

func main() {
	err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(int(cli.ExitCodeOf(err)))
}

type options struct {
	verbose     bool
	envFile     string
	rpcURL      string
	config      string
	programID   string
	merkleTrees string
	epoch       uint64
	s3Bucket    string
	s3Prefix    string
	s3Region    string
	s3Endpoint  string
	slackToken  string
	slackChan   string
	sentryDSN   string
	sentryEnv   string
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprint(os.Stderr, usage)
		return cli.Fatal(errors.New("missing command"))
	}
	command := args[0]
	if command != "verify" && command != "simulate" {
		fmt.Fprint(os.Stderr, usage)
		return cli.Fatal(fmt.Errorf("unknown command %q", command))
	}

	var opts options
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.BoolVar(&opts.verbose, "verbose", false, "enable verbose (debug) logging")
	fs.StringVar(&opts.envFile, "env-file", ".env", "optional dotenv file loaded before reading environment variables")
	fs.StringVar(&opts.rpcURL, "rpc-url", "", "Solana JSON-RPC URL (or set SOLANA_RPC_URL env var)")
	fs.StringVar(&opts.config, "config", "", "bonds config account (or set BONDS_CONFIG env var)")
	fs.StringVar(&opts.programID, "program-id", "", "bonds program id (default the mainnet deployment)")
	fs.StringVar(&opts.merkleTrees, "merkle-trees", "", "local merkle tree collection JSON written by settlement-engine")
	fs.Uint64Var(&opts.epoch, "epoch", 0, "settled epoch; selects the S3 prefix when --s3-prefix is not set")
	fs.StringVar(&opts.s3Bucket, "s3-bucket", "", "read the merkle tree collection from this S3 bucket (or set S3_BUCKET env var)")
	fs.StringVar(&opts.s3Prefix, "s3-prefix", "", "S3 key prefix of the collection")
	fs.StringVar(&opts.s3Region, "s3-region", "", "S3 region (or set AWS_REGION env var)")
	fs.StringVar(&opts.s3Endpoint, "s3-endpoint", "", "S3-compatible endpoint URL (or set S3_ENDPOINT env var)")
	fs.StringVar(&opts.slackToken, "slack-token", "", "post reports with this Slack bot token (or set SLACK_BOT_TOKEN env var)")
	fs.StringVar(&opts.slackChan, "slack-channel", "", "Slack channel for reports (or set SLACK_CHANNEL env var)")
	fs.StringVar(&opts.sentryDSN, "sentry-dsn", "", "report failures to Sentry (or set SENTRY_DSN env var)")
	fs.StringVar(&opts.sentryEnv, "sentry-environment", "", "Sentry environment (or set SENTRY_ENVIRONMENT env var)")
	if err := fs.Parse(args[1:]); err != nil {
		return cli.Fatal(err)
	}

	if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cli.Fatal(fmt.Errorf("failed to load %s: %w", opts.envFile, err))
	}
	for env, dst := range map[string]*string{
		"SOLANA_RPC_URL":     &opts.rpcURL,
		"BONDS_CONFIG":       &opts.config,
		"S3_BUCKET":          &opts.s3Bucket,
		"AWS_REGION":         &opts.s3Region,
		"S3_ENDPOINT":        &opts.s3Endpoint,
		"SLACK_BOT_TOKEN":    &opts.slackToken,
		"SLACK_CHANNEL":      &opts.slackChan,
		"SENTRY_DSN":         &opts.sentryDSN,
		"SENTRY_ENVIRONMENT": &opts.sentryEnv,
	} {
		if v := os.Getenv(env); v != "" && *dst == "" {
			*dst = v
		}
	}

	log := logger.New(opts.verbose)

	flush, err := cli.InitSentry(opts.sentryDSN, opts.sentryEnv)
	if err != nil {
		return err
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = execute(ctx, log, command, opts)
	cli.Capture(err)
	return err
}

func execute(ctx context.Context, log *slog.Logger, command string, opts options) error {
	if opts.rpcURL == "" {
		return cli.Fatal(errors.New("--rpc-url is required"))
	}
	config, err := solana.PublicKeyFromBase58(opts.config)
	if err != nil {
		return cli.Fatal(fmt.Errorf("invalid --config: %w", err))
	}
	programID := state.ProgramID
	if opts.programID != "" {
		if programID, err = solana.PublicKeyFromBase58(opts.programID); err != nil {
			return cli.Fatal(fmt.Errorf("invalid --program-id: %w", err))
		}
	}

	trees, err := loadMerkleTrees(ctx, log, opts)
	if err != nil {
		return cli.Fatal(err)
	}
	for _, tree := range trees.MerkleTrees {
		if err := tree.Verify(); err != nil {
			return cli.Fatal(fmt.Errorf("merkle tree of %s: %w", tree.VoteAccount, err))
		}
	}

	fetcher, err := onchain.NewFetcher(onchain.FetcherConfig{
		Logger:    log,
		RPC:       solanarpc.New(opts.rpcURL),
		ProgramID: programID,
		Config:    config,
	})
	if err != nil {
		return cli.Fatal(err)
	}
	snap, err := fetcher.Fetch(ctx)
	if err != nil {
		return cli.Retryable(err)
	}

	var reports []*settlements.Report
	var runErr error
	switch command {
	case "verify":
		var report *settlements.Report
		report, runErr = settlements.Verify(programID, snap, trees)
		if report != nil {
			reports = append(reports, report)
		}
	case "simulate":
		reports, runErr = simulate(ctx, log, programID, snap, trees)
	}

	if opts.slackToken != "" && opts.slackChan != "" {
		s, err := notify.NewSlack(notify.SlackConfig{Logger: log, Channel: opts.slackChan, Client: notify.NewSlackClient(opts.slackToken)})
		if err != nil {
			return err
		}
		if err := s.Notify(ctx, fmt.Sprintf("settlement %s for epoch %d", command, trees.Epoch), reports); err != nil {
			log.Error("settlement-pipelines: failed to notify", "error", err)
		}
	}
	return runErr
}

func simulate(ctx context.Context, log *slog.Logger, programID solana.PublicKey, snap *onchain.Snapshot, trees *settlement.MerkleTreeCollection) ([]*settlements.Report, error) {
	l, err := ledger.New(ledger.Config{Logger: log})
	if err != nil {
		return nil, cli.Fatal(err)
	}
	program, err := bonds.New(bonds.ProgramConfig{Logger: log, Ledger: l, ProgramID: programID})
	if err != nil {
		return nil, cli.Fatal(err)
	}
	if err := settlements.SeedLedger(l, program.ProgramID(), snap); err != nil {
		return nil, cli.Fatal(err)
	}
	payer := solana.NewWallet().PublicKey()
	l.Put(payer, &ledger.Account{Owner: solana.SystemProgramID, Lamports: 1_000_000 * 1_000_000_000})

	driver, err := settlements.NewDriver(settlements.DriverConfig{
		Logger:     log,
		Program:    program,
		Config:     snap.ConfigAddress,
		Operator:   snap.Config.OperatorAuthority,
		RentPayer:  payer,
		Recipients: settlements.NewLedgerRecipients(l, payer),
	})
	if err != nil {
		return nil, cli.Fatal(err)
	}
	return settlements.Simulate(ctx, driver, trees)
}

func loadMerkleTrees(ctx context.Context, log *slog.Logger, opts options) (*settlement.MerkleTreeCollection, error) {
	var store artifacts.Store
	name := artifacts.MerkleTreesFile
	switch {
	case opts.merkleTrees != "":
		local, err := artifacts.NewLocalStore(filepath.Dir(opts.merkleTrees))
		if err != nil {
			return nil, err
		}
		store, name = local, filepath.Base(opts.merkleTrees)
	case opts.s3Bucket != "":
		prefix := opts.s3Prefix
		if prefix == "" {
			if opts.epoch == 0 {
				return nil, errors.New("--epoch or --s3-prefix is required with --s3-bucket")
			}
			prefix = strconv.FormatUint(opts.epoch, 10)
		}
		client, err := artifacts.NewS3Client(ctx, opts.s3Region, opts.s3Endpoint)
		if err != nil {
			return nil, err
		}
		remote, err := artifacts.NewS3Store(artifacts.S3Config{Logger: log, Client: client, Bucket: opts.s3Bucket, Prefix: prefix})
		if err != nil {
			return nil, err
		}
		store = remote
	default:
		return nil, errors.New("--merkle-trees or --s3-bucket is required")
	}

	var trees settlement.MerkleTreeCollection
	if err := artifacts.GetJSON(ctx, store, name, &trees); err != nil {
		return nil, err
	}
	if opts.epoch != 0 && trees.Epoch != opts.epoch {
		return nil, fmt.Errorf("collection is for epoch %d, expected %d", trees.Epoch, opts.epoch)
	}
	log.Info("settlement-pipelines: loaded merkle trees", "epoch", trees.Epoch, "trees", len(trees.MerkleTrees))
	return &trees, nil
}
