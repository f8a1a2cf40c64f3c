package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/malbeclabs/bonds/engine/internal/engine"
	"github.com/malbeclabs/bonds/engine/pkg/artifacts"
	"github.com/malbeclabs/bonds/engine/pkg/settlement"
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
	envFileFlag := flag.String("env-file", ".env", "optional dotenv file loaded before reading environment variables")

	// Inputs
	validatorsFlag := flag.String("validators", "", "validator meta collection JSON of the settled epoch (or set VALIDATORS_PATH env var)")
	previousValidatorsFlag := flag.String("previous-validators", "", "validator meta collection JSON of the epoch before; enables commission increase detection (or set PREVIOUS_VALIDATORS_PATH env var)")
	stakesFlag := flag.String("stakes", "", "stake meta collection JSON of the settled epoch (or set STAKES_PATH env var)")
	policiesFlag := flag.String("policies", "", "settlement policy JSON file (or set POLICIES_PATH env var)")
	stakeAuthorityFilterFlag := flag.StringSlice("stake-authority-filter", nil, "only settle stake with these base58 stake authorities (default all)")

	// Outputs
	outputDirFlag := flag.String("output-dir", "output", "directory the collections are written to")
	s3BucketFlag := flag.String("s3-bucket", "", "also upload the collections to this S3 bucket (or set S3_BUCKET env var)")
	s3PrefixFlag := flag.String("s3-prefix", "", "S3 key prefix; defaults to the settled epoch")
	s3RegionFlag := flag.String("s3-region", "", "S3 region (or set AWS_REGION env var)")
	s3EndpointFlag := flag.String("s3-endpoint", "", "S3-compatible endpoint URL (or set S3_ENDPOINT env var)")

	flag.Parse()

	if err := godotenv.Load(*envFileFlag); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", *envFileFlag, err)
	}

	log := logger.New(*verboseFlag)

	if env := os.Getenv("VALIDATORS_PATH"); env != "" && *validatorsFlag == "" {
		*validatorsFlag = env
	}
	if env := os.Getenv("PREVIOUS_VALIDATORS_PATH"); env != "" && *previousValidatorsFlag == "" {
		*previousValidatorsFlag = env
	}
	if env := os.Getenv("STAKES_PATH"); env != "" && *stakesFlag == "" {
		*stakesFlag = env
	}
	if env := os.Getenv("POLICIES_PATH"); env != "" && *policiesFlag == "" {
		*policiesFlag = env
	}
	if env := os.Getenv("S3_BUCKET"); env != "" && *s3BucketFlag == "" {
		*s3BucketFlag = env
	}
	if env := os.Getenv("AWS_REGION"); env != "" && *s3RegionFlag == "" {
		*s3RegionFlag = env
	}
	if env := os.Getenv("S3_ENDPOINT"); env != "" && *s3EndpointFlag == "" {
		*s3EndpointFlag = env
	}

	authorities, err := engine.ParseAuthorities(*stakeAuthorityFilterFlag)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	local, err := artifacts.NewLocalStore(*outputDirFlag)
	if err != nil {
		return err
	}
	// The result is written locally first so the epoch is known when choosing the S3 prefix.
	res, err := engine.Run(ctx, engine.Config{
		Logger:                 log,
		ValidatorsPath:         *validatorsFlag,
		PreviousValidatorsPath: *previousValidatorsFlag,
		StakesPath:             *stakesFlag,
		PoliciesPath:           *policiesFlag,
		StakeAuthorityFilter:   settlement.NewStakeAuthorityFilter(authorities...),
		Store:                  local,
	})
	if err != nil {
		return err
	}

	if *s3BucketFlag == "" {
		return nil
	}
	client, err := artifacts.NewS3Client(ctx, *s3RegionFlag, *s3EndpointFlag)
	if err != nil {
		return err
	}
	prefix := *s3PrefixFlag
	if prefix == "" {
		prefix = strconv.FormatUint(res.MerkleTrees.Epoch, 10)
	}
	remote, err := artifacts.NewS3Store(artifacts.S3Config{Logger: log, Client: client, Bucket: *s3BucketFlag, Prefix: prefix})
	if err != nil {
		return err
	}
	for _, name := range []string{artifacts.ProtectedEventsFile, artifacts.SettlementsFile, artifacts.MerkleTreesFile} {
		data, err := local.Get(ctx, name)
		if err != nil {
			return err
		}
		if err := remote.Put(ctx, name, data); err != nil {
			return err
		}
	}
	return nil
}
